package hub

import (
	"sync"
	"sync/atomic"
	"time"

	"yankcord/internal/constants"
	"yankcord/internal/models"
)

// connState is the per-connection lifecycle state machine (spec §3.3),
// grounded on the teacher's ws/client.go ClientState/atomic.Int32 pattern.
type connState int32

const (
	stateUnauthenticated connState = iota
	stateAuthenticated
	stateClosing
	stateClosed
)

// Connection is a live WebSocket session (spec §3.1). Mutable fields not
// covered by the atomic state are guarded by mu; identity is set-once
// under mu at attachIdentity time and read-only thereafter, so reads after
// authentication never need the lock.
type Connection struct {
	ID string

	state connState // atomic

	mu             sync.Mutex
	identity       *models.Identity
	createdAt      time.Time
	lastActivityAt time.Time

	teardownOnce sync.Once

	// outboundMu serializes enqueue against itself (not against writePump's
	// receives) so a full-queue drain-evict-refill cycle in Fabric.enqueue
	// can't interleave with a concurrent enqueue call on the same
	// connection, grounded on the teacher's sendToClientLocked naming its
	// own single-writer contract the same way. outboundClosed is flipped
	// under the same mutex at teardown so enqueue never sends on a closed
	// channel.
	outboundMu     sync.Mutex
	outboundClosed bool
	outbound       chan outboundEntry

	limiter *rateGuard

	// dropCounter and fullSince back the slow-consumer policy (§4.4).
	dropCounter    atomic.Int64
	fullSince      atomic.Int64 // unix nanos, 0 if not currently full
	internalErrs   []time.Time
	internalErrsMu sync.Mutex

	// pending tracks outstanding media_signal request_ids awaiting an
	// SFU reply (§4.8), so a dropped connection can discard them silently.
	pendingMu sync.Mutex
	pending   map[string]struct{}

	closeAsync func(code int, reason string)
}

func newConnection(id string, closeAsync func(code int, reason string)) *Connection {
	now := time.Now()
	return &Connection{
		ID:             id,
		state:          stateUnauthenticated,
		createdAt:      now,
		lastActivityAt: now,
		outbound:       make(chan outboundEntry, constants.OutboundQueueCapacity),
		limiter:        newRateGuard(),
		pending:        make(map[string]struct{}),
		closeAsync:     closeAsync,
	}
}

func (c *Connection) State() connState {
	return connState(atomic.LoadInt32((*int32)(&c.state)))
}

func (c *Connection) casState(from, to connState) bool {
	return atomic.CompareAndSwapInt32((*int32)(&c.state), int32(from), int32(to))
}

func (c *Connection) setState(s connState) {
	atomic.StoreInt32((*int32)(&c.state), int32(s))
}

// addPending records an outstanding media_signal request id (§4.8). The
// reader task serializes dispatch, so the set is small; it exists so
// teardown can release every outstanding id (§3.2) and so a reply for a
// request the connection no longer owns is discarded.
func (c *Connection) addPending(requestID string) {
	if requestID == "" {
		return
	}
	c.pendingMu.Lock()
	c.pending[requestID] = struct{}{}
	c.pendingMu.Unlock()
}

func (c *Connection) removePending(requestID string) {
	if requestID == "" {
		return
	}
	c.pendingMu.Lock()
	delete(c.pending, requestID)
	c.pendingMu.Unlock()
}

// clearPending discards every outstanding request id; any SFU reply still
// in flight for them is dropped silently (§5 cancellation rules).
func (c *Connection) clearPending() {
	c.pendingMu.Lock()
	c.pending = make(map[string]struct{})
	c.pendingMu.Unlock()
}

func (c *Connection) Identity() *models.Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity
}

func (c *Connection) touch() {
	c.mu.Lock()
	c.lastActivityAt = time.Now()
	c.mu.Unlock()
}

// Registry holds every live Connection, plus the reverse index needed to
// enforce "at most one connection per username" (spec §3.2). Grounded on
// the teacher's Hub.clients/userClients map pair (ws/hub.go).
type Registry struct {
	mu          sync.RWMutex
	connections map[string]*Connection
	byUsername  map[string]*Connection
}

func newRegistry() *Registry {
	return &Registry{
		connections: make(map[string]*Connection),
		byUsername:  make(map[string]*Connection),
	}
}

// register adds a freshly upgraded, unauthenticated connection.
func (r *Registry) register(c *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connections[c.ID] = c
}

// attachIdentity binds an authenticated identity to a connection,
// evicting any prior connection for the same username (spec §3.2). The
// evicted connection, if any, is returned so the caller can close it
// outside the lock.
func (r *Registry) attachIdentity(c *Connection, id models.Identity) (evicted *Connection) {
	r.mu.Lock()
	if prev, ok := r.byUsername[id.Username]; ok && prev.ID != c.ID {
		evicted = prev
	}
	r.byUsername[id.Username] = c
	r.mu.Unlock()

	c.mu.Lock()
	c.identity = &id
	c.mu.Unlock()
	c.casState(stateUnauthenticated, stateAuthenticated)
	return evicted
}

// get returns a live connection by id.
func (r *Registry) get(id string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.connections[id]
	return c, ok
}

// byUser returns the live connection for a username, if any.
func (r *Registry) byUser(username string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byUsername[username]
	return c, ok
}

// isLastForUsername reports whether no connection other than exclude is
// registered as username's live session; used to decide whether a
// disconnect is the last live session for its username (§4.10 teardown
// step 6).
func (r *Registry) isLastForUsername(username string, exclude string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byUsername[username]
	if !ok {
		return true
	}
	return c.ID == exclude
}

// snapshotUsers returns the PresenceUser list for presence_snapshot.
func (r *Registry) snapshotUsers() []PresenceUser {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]PresenceUser, 0, len(r.byUsername))
	for _, c := range r.byUsername {
		id := c.Identity()
		if id == nil {
			continue
		}
		out = append(out, PresenceUser{
			UserID:      id.UserID,
			Username:    id.Username,
			DisplayName: id.DisplayName,
			AvatarURL:   id.AvatarURL,
		})
	}
	return out
}

// drop removes a connection from both maps. Idempotent: removing the
// username mapping only if it still points at this connection, so a
// connection evicted-then-dropped doesn't clobber its successor.
func (r *Registry) drop(c *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.connections, c.ID)
	if id := c.Identity(); id != nil {
		if cur, ok := r.byUsername[id.Username]; ok && cur.ID == c.ID {
			delete(r.byUsername, id.Username)
		}
	}
}
