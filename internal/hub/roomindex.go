package hub

import (
	"sync"

	"yankcord/internal/models"
)

// RoomIndex holds the three reverse-indexed map families described in
// spec §4.3, all guarded by one RWMutex the way the teacher's Hub guards
// its voiceParticipants/userClients maps. The lock is held only for the
// map mutation itself, never across persistence or SFU I/O, and every
// read path snapshots into a fresh slice/map before releasing it, so
// broadcast enqueues always run unlocked. Fan-out, not index mutation,
// is the hot path here; the finer per-channel locking the spec sketches
// buys nothing at this write rate (see DESIGN.md C3).
type RoomIndex struct {
	mu sync.RWMutex

	subs       map[string]map[string]struct{} // channel_id -> connection_id set
	byConnSubs map[string]map[string]struct{} // connection_id -> channel_id set

	dmSubs   map[string]map[string]struct{} // thread_id -> connection_id set
	byConnDM map[string]map[string]struct{} // connection_id -> thread_id set

	voiceMembers map[string]map[string]*models.VoicePresence // channel_id -> username -> presence
	byConnVoice  map[string]string                           // connection_id -> channel_id

	producersByChannel map[string]map[string]*producerHandle // channel_id -> producer_id -> handle
	byConnProducers    map[string]map[string]struct{}        // connection_id -> producer_id set
}

// producerHandle is the Room Index's view of an SFU producer (spec §3.1):
// enough metadata to emit producer_closed/new_producer without calling
// back into the SFU engine.
type producerHandle struct {
	ProducerID string
	OwnerConn  string
	ChannelID  string
	Kind       models.ProducerKind
	Source     models.ProducerSource
	Username   string
}

func newRoomIndex() *RoomIndex {
	return &RoomIndex{
		subs:               make(map[string]map[string]struct{}),
		byConnSubs:         make(map[string]map[string]struct{}),
		dmSubs:             make(map[string]map[string]struct{}),
		byConnDM:           make(map[string]map[string]struct{}),
		voiceMembers:       make(map[string]map[string]*models.VoicePresence),
		byConnVoice:        make(map[string]string),
		producersByChannel: make(map[string]map[string]*producerHandle),
		byConnProducers:    make(map[string]map[string]struct{}),
	}
}

// --- channel subscriptions (C5) ---

func (ri *RoomIndex) subscribeChannel(connID, channelID string) {
	ri.mu.Lock()
	defer ri.mu.Unlock()
	if ri.subs[channelID] == nil {
		ri.subs[channelID] = make(map[string]struct{})
	}
	ri.subs[channelID][connID] = struct{}{}
	if ri.byConnSubs[connID] == nil {
		ri.byConnSubs[connID] = make(map[string]struct{})
	}
	ri.byConnSubs[connID][channelID] = struct{}{}
}

func (ri *RoomIndex) isSubscribed(connID, channelID string) bool {
	ri.mu.RLock()
	defer ri.mu.RUnlock()
	_, ok := ri.subs[channelID][connID]
	return ok
}

func (ri *RoomIndex) channelSubscribers(channelID string) []string {
	ri.mu.RLock()
	defer ri.mu.RUnlock()
	out := make([]string, 0, len(ri.subs[channelID]))
	for id := range ri.subs[channelID] {
		out = append(out, id)
	}
	return out
}

// --- DM subscriptions (C6) ---

func (ri *RoomIndex) subscribeThread(connID, threadID string) {
	ri.mu.Lock()
	defer ri.mu.Unlock()
	if ri.dmSubs[threadID] == nil {
		ri.dmSubs[threadID] = make(map[string]struct{})
	}
	ri.dmSubs[threadID][connID] = struct{}{}
	if ri.byConnDM[connID] == nil {
		ri.byConnDM[connID] = make(map[string]struct{})
	}
	ri.byConnDM[connID][threadID] = struct{}{}
}

func (ri *RoomIndex) isSubscribedThread(connID, threadID string) bool {
	ri.mu.RLock()
	defer ri.mu.RUnlock()
	_, ok := ri.dmSubs[threadID][connID]
	return ok
}

func (ri *RoomIndex) threadSubscribers(threadID string) []string {
	ri.mu.RLock()
	defer ri.mu.RUnlock()
	out := make([]string, 0, len(ri.dmSubs[threadID]))
	for id := range ri.dmSubs[threadID] {
		out = append(out, id)
	}
	return out
}

// --- voice membership (C7) ---

// joinVoice inserts membership iff the connection is not already in a
// voice channel. ok=false means "already in voice" (spec §3.2).
func (ri *RoomIndex) joinVoice(connID, channelID, username string) (ok bool) {
	ri.mu.Lock()
	defer ri.mu.Unlock()
	if _, already := ri.byConnVoice[connID]; already {
		return false
	}
	if ri.voiceMembers[channelID] == nil {
		ri.voiceMembers[channelID] = make(map[string]*models.VoicePresence)
	}
	ri.voiceMembers[channelID][username] = &models.VoicePresence{Username: username}
	ri.byConnVoice[connID] = channelID
	return true
}

func (ri *RoomIndex) voiceChannelOf(connID string) (string, bool) {
	ri.mu.RLock()
	defer ri.mu.RUnlock()
	ch, ok := ri.byConnVoice[connID]
	return ch, ok
}

func (ri *RoomIndex) leaveVoice(connID, username string) (channelID string, ok bool) {
	ri.mu.Lock()
	defer ri.mu.Unlock()
	ch, already := ri.byConnVoice[connID]
	if !already {
		return "", false
	}
	delete(ri.byConnVoice, connID)
	if members := ri.voiceMembers[ch]; members != nil {
		delete(members, username)
		if len(members) == 0 {
			delete(ri.voiceMembers, ch)
		}
	}
	return ch, true
}

func (ri *RoomIndex) voiceMembersSnapshot(channelID string) map[string]models.VoicePresence {
	ri.mu.RLock()
	defer ri.mu.RUnlock()
	out := make(map[string]models.VoicePresence, len(ri.voiceMembers[channelID]))
	for u, p := range ri.voiceMembers[channelID] {
		out[u] = *p
	}
	return out
}

func (ri *RoomIndex) allVoiceSnapshot() []VoiceChannelPresence {
	ri.mu.RLock()
	defer ri.mu.RUnlock()
	out := make([]VoiceChannelPresence, 0, len(ri.voiceMembers))
	for ch, members := range ri.voiceMembers {
		snap := make(map[string]models.VoicePresence, len(members))
		for u, p := range members {
			snap[u] = *p
		}
		out = append(out, VoiceChannelPresence{ChannelID: ch, Members: snap})
	}
	return out
}

func (ri *RoomIndex) setVoicePresence(channelID, username string, mutate func(*models.VoicePresence)) {
	ri.mu.Lock()
	defer ri.mu.Unlock()
	if members := ri.voiceMembers[channelID]; members != nil {
		if p, ok := members[username]; ok {
			mutate(p)
		}
	}
}

// voiceUsernamesInChannel returns the usernames currently in a voice
// channel's membership set; the caller resolves these to connection ids
// via the Registry to fan out voice-scoped events.
func (ri *RoomIndex) voiceUsernamesInChannel(channelID string) []string {
	ri.mu.RLock()
	defer ri.mu.RUnlock()
	members := ri.voiceMembers[channelID]
	out := make([]string, 0, len(members))
	for u := range members {
		out = append(out, u)
	}
	return out
}

// --- producers (C8) ---

func (ri *RoomIndex) addProducer(h *producerHandle) {
	ri.mu.Lock()
	defer ri.mu.Unlock()
	if ri.producersByChannel[h.ChannelID] == nil {
		ri.producersByChannel[h.ChannelID] = make(map[string]*producerHandle)
	}
	ri.producersByChannel[h.ChannelID][h.ProducerID] = h
	if ri.byConnProducers[h.OwnerConn] == nil {
		ri.byConnProducers[h.OwnerConn] = make(map[string]struct{})
	}
	ri.byConnProducers[h.OwnerConn][h.ProducerID] = struct{}{}
}

func (ri *RoomIndex) producer(channelID, producerID string) (*producerHandle, bool) {
	ri.mu.RLock()
	defer ri.mu.RUnlock()
	h, ok := ri.producersByChannel[channelID][producerID]
	return h, ok
}

// countProducers reports how many producers of a given source a
// connection already owns in a channel, to enforce the per-source limits
// of spec §3.2.
func (ri *RoomIndex) countProducers(connID, channelID string, source models.ProducerSource) int {
	ri.mu.RLock()
	defer ri.mu.RUnlock()
	n := 0
	for pid := range ri.byConnProducers[connID] {
		if h, ok := ri.producersByChannel[channelID][pid]; ok && h.Source == source {
			n++
		}
	}
	return n
}

func (ri *RoomIndex) channelProducers(channelID string) []*producerHandle {
	ri.mu.RLock()
	defer ri.mu.RUnlock()
	out := make([]*producerHandle, 0, len(ri.producersByChannel[channelID]))
	for _, h := range ri.producersByChannel[channelID] {
		out = append(out, h)
	}
	return out
}

func (ri *RoomIndex) removeProducer(channelID, producerID string) (*producerHandle, bool) {
	ri.mu.Lock()
	defer ri.mu.Unlock()
	h, ok := ri.producersByChannel[channelID][producerID]
	if !ok {
		return nil, false
	}
	delete(ri.producersByChannel[channelID], producerID)
	delete(ri.byConnProducers[h.OwnerConn], producerID)
	return h, true
}

// ownedProducers returns every producer handle owned by connID across all
// channels, for teardown (§4.10 step 2).
func (ri *RoomIndex) ownedProducers(connID string) []*producerHandle {
	ri.mu.RLock()
	defer ri.mu.RUnlock()
	ids := ri.byConnProducers[connID]
	out := make([]*producerHandle, 0, len(ids))
	for pid := range ids {
		for _, channelProducers := range ri.producersByChannel {
			if h, ok := channelProducers[pid]; ok {
				out = append(out, h)
				break
			}
		}
	}
	return out
}

// --- teardown ---

// removeConnection drops connID's channel and thread subscriptions and its
// byConnVoice/byConnProducers reverse-index entries (§3.2's cleanup
// invariant). Voice membership (keyed by username) and producer handles are
// not touched here; teardown removes them first via leaveVoice and
// removeProducer. Returns the set of channel ids the connection was
// subscribed to, and its thread subscriptions, for the caller to use when
// deciding whether to emit further events.
func (ri *RoomIndex) removeConnection(connID string) (channels []string, threads []string) {
	ri.mu.Lock()
	defer ri.mu.Unlock()

	for ch := range ri.byConnSubs[connID] {
		delete(ri.subs[ch], connID)
		if len(ri.subs[ch]) == 0 {
			delete(ri.subs, ch)
		}
		channels = append(channels, ch)
	}
	delete(ri.byConnSubs, connID)

	for th := range ri.byConnDM[connID] {
		delete(ri.dmSubs[th], connID)
		if len(ri.dmSubs[th]) == 0 {
			delete(ri.dmSubs, th)
		}
		threads = append(threads, th)
	}
	delete(ri.byConnDM, connID)

	delete(ri.byConnVoice, connID)
	delete(ri.byConnProducers, connID)
	return channels, threads
}
