package hub

import (
	"log/slog"
	"time"

	"yankcord/internal/constants"
)

// priority classifies a frame for the slow-consumer drop policy (§4.4).
type priority int

const (
	priorityNormal priority = iota
	priorityLow
)

// outboundEntry pairs an encoded frame with the priority it was enqueued
// under, so a full queue can locate and evict the oldest low-priority
// entry wherever it sits in the queue rather than only at the head.
type outboundEntry struct {
	raw []byte
	pri priority
}

// framePriority returns the priority of an outbound frame by its type.
// Voice-speaking and typing events are low-priority; everything else
// (chat, DM, presence, media signaling) is normal.
func framePriority(frameType string) priority {
	switch frameType {
	case TypeVoiceUserSpeaking, TypeTypingStart, TypeTypingStop, TypeDMTypingStart, TypeDMTypingStop:
		return priorityLow
	default:
		return priorityNormal
	}
}

// Fabric implements the Broadcast Fabric (C4): targeted, channel-scoped,
// user-scoped and global fan-out with the bounded-queue slow-consumer
// policy of spec §4.4. Grounded on the teacher's
// Hub.sendToClientLocked/BroadcastDispatchExcept (ws/hub.go), split out of
// the registry so dispatchers never hold a Registry lock while enqueuing.
type Fabric struct {
	registry *Registry
	log      *slog.Logger
}

func newFabric(r *Registry, log *slog.Logger) *Fabric {
	return &Fabric{registry: r, log: log}
}

// toConnection enqueues frame to a single connection, applying the
// slow-consumer policy on a full queue. It never blocks.
func (f *Fabric) toConnection(connID string, frameType string, frame any) {
	c, ok := f.registry.get(connID)
	if !ok {
		return
	}
	raw, err := encodeFrame(frame)
	if err != nil {
		f.log.Error("encode outbound frame failed", "component", "hub", "type", frameType, "err", err)
		return
	}
	f.enqueue(c, frameType, raw)
}

// toChannel enqueues frame to every connection subscribed to channelID,
// optionally excluding one connection (used for typing frames, spec
// Open Question 3).
func (f *Fabric) toChannel(ri *RoomIndex, channelID string, frameType string, frame any, exclude string) {
	raw, err := encodeFrame(frame)
	if err != nil {
		f.log.Error("encode outbound frame failed", "component", "hub", "type", frameType, "err", err)
		return
	}
	for _, connID := range ri.channelSubscribers(channelID) {
		if connID == exclude {
			continue
		}
		if c, ok := f.registry.get(connID); ok {
			f.enqueue(c, frameType, raw)
		}
	}
}

// toThread mirrors toChannel for DM threads.
func (f *Fabric) toThread(ri *RoomIndex, threadID string, frameType string, frame any, exclude string) {
	raw, err := encodeFrame(frame)
	if err != nil {
		f.log.Error("encode outbound frame failed", "component", "hub", "type", frameType, "err", err)
		return
	}
	for _, connID := range ri.threadSubscribers(threadID) {
		if connID == exclude {
			continue
		}
		if c, ok := f.registry.get(connID); ok {
			f.enqueue(c, frameType, raw)
		}
	}
}

// toVoiceMembers enqueues frame to every connection currently a voice
// member of channelID, resolved through usernames since voice membership
// is keyed by username in the Room Index.
func (f *Fabric) toVoiceMembers(ri *RoomIndex, channelID string, frameType string, frame any, excludeConn string) {
	raw, err := encodeFrame(frame)
	if err != nil {
		f.log.Error("encode outbound frame failed", "component", "hub", "type", frameType, "err", err)
		return
	}
	for _, username := range ri.voiceUsernamesInChannel(channelID) {
		c, ok := f.registry.byUser(username)
		if !ok || c.ID == excludeConn {
			continue
		}
		f.enqueue(c, frameType, raw)
	}
}

// toUsers enqueues frame to the live connections of the given usernames.
func (f *Fabric) toUsers(usernames []string, frameType string, frame any) {
	raw, err := encodeFrame(frame)
	if err != nil {
		f.log.Error("encode outbound frame failed", "component", "hub", "type", frameType, "err", err)
		return
	}
	for _, u := range usernames {
		if c, ok := f.registry.byUser(u); ok {
			f.enqueue(c, frameType, raw)
		}
	}
}

// global enqueues frame to every live, authenticated connection except
// excludeConn ("" excludes nobody). The exclusion exists for
// user_connected: the joiner already learns about itself from its
// presence_snapshot (spec §8 scenario 1).
func (f *Fabric) global(frameType string, frame any, excludeConn string) {
	raw, err := encodeFrame(frame)
	if err != nil {
		f.log.Error("encode outbound frame failed", "component", "hub", "type", frameType, "err", err)
		return
	}
	f.registry.mu.RLock()
	conns := make([]*Connection, 0, len(f.registry.connections))
	for _, c := range f.registry.connections {
		if c.State() == stateAuthenticated && c.ID != excludeConn {
			conns = append(conns, c)
		}
	}
	f.registry.mu.RUnlock()
	for _, c := range conns {
		f.enqueue(c, frameType, raw)
	}
}

// enqueue implements the non-blocking try-send plus slow-consumer policy
// (spec §4.4). On a full queue:
//  1. if the incoming frame is itself low-priority, it is dropped silently;
//  2. otherwise the queue is searched for the oldest low-priority entry
//     (typing/speaking) wherever it sits, which is evicted to make room for
//     the incoming frame;
//  3. if no low-priority entry exists to evict, the incoming frame is
//     dropped instead — the policy never authorizes evicting a normal-
//     priority frame to make room for another one.
//
// outboundMu serializes this whole function per connection: the drain/
// refill below isn't a single atomic channel op, so two enqueue calls
// racing on the same full queue could otherwise interleave and corrupt
// ordering.
func (f *Fabric) enqueue(c *Connection, frameType string, raw []byte) {
	entry := outboundEntry{raw: raw, pri: framePriority(frameType)}

	c.outboundMu.Lock()
	defer c.outboundMu.Unlock()
	if c.outboundClosed {
		return
	}

	select {
	case c.outbound <- entry:
		c.fullSince.Store(0)
		return
	default:
	}

	if entry.pri == priorityLow {
		c.dropCounter.Add(1)
		f.markFullIfNeeded(c)
		return
	}

	buffered := make([]outboundEntry, 0, constants.OutboundQueueCapacity)
drain:
	for {
		select {
		case e := <-c.outbound:
			buffered = append(buffered, e)
		default:
			break drain
		}
	}

	evictedIdx := -1
	for i, e := range buffered {
		if e.pri == priorityLow {
			evictedIdx = i
			break
		}
	}

	// Either branch leaves the queue at capacity (an eviction swaps one
	// entry for another, it is not drain progress), so the fullness clock
	// keeps running; only a successful send into free space above resets
	// it. A connection fed evictable lows between normal frames still
	// closes with 4003 after T_slow (spec §4.4 step 3).
	c.dropCounter.Add(1)
	f.markFullIfNeeded(c)
	if evictedIdx >= 0 {
		buffered = append(buffered[:evictedIdx], buffered[evictedIdx+1:]...)
		buffered = append(buffered, entry)
	}

	for _, e := range buffered {
		select {
		case c.outbound <- e:
		default:
			// Can't happen: buffered holds at most cap entries and we add
			// back at most the same count we drained.
		}
	}
}

func (f *Fabric) markFullIfNeeded(c *Connection) {
	if c.fullSince.Load() == 0 {
		c.fullSince.Store(time.Now().UnixNano())
	}
}
