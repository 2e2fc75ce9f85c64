package hub

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"yankcord/internal/models"
	"yankcord/internal/persistence"
	"yankcord/internal/sfuengine"
)

// Hub is the process-wide aggregate described in spec §9: constructed
// once at startup, held behind the narrow Registry/RoomIndex/Fabric
// interfaces, and torn down on SIGTERM. Grounded on the teacher's Hub
// struct (ws/hub.go), generalized from a single-channel chat+voice room
// to many named text/voice channels and DM threads.
type Hub struct {
	registry  *Registry
	roomIndex *RoomIndex
	fabric    *Fabric

	persistence persistence.Service
	sfu         sfuengine.Engine
	sanitizer   *contentSanitizer

	log *slog.Logger
}

// New wires the hub aggregate. persistence and sfu are the two external
// boundaries of spec §6.2/§6.3; callers in cmd/yankcordd pass the
// sqlite/pion reference implementations, but any implementation of the
// two interfaces works.
func New(svc persistence.Service, sfu sfuengine.Engine, log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	registry := newRegistry()
	h := &Hub{
		registry:    registry,
		roomIndex:   newRoomIndex(),
		fabric:      newFabric(registry, log),
		persistence: svc,
		sfu:         sfu,
		sanitizer:   newContentSanitizer(),
		log:         log,
	}
	svc.SetTopologyListener(h.onTopologyChange)
	return h
}

// onTopologyChange implements SPEC_FULL §3's channel_created/
// channel_deleted push, grounded on the teacher's
// SetSignalingCallback/SetUpdateCallback push-callback convention. Channel
// topology is server-wide, so both events broadcast globally rather than
// to a channel's own (not-yet-existent, for creates) subscriber set.
func (h *Hub) onTopologyChange(ch models.Channel, deleted bool) {
	if deleted {
		h.fabric.global(TypeChannelDeleted, newChannelDeleted(ch), "")
		return
	}
	h.fabric.global(TypeChannelCreated, newChannelCreated(ch), "")
}

// NotifyDMThreadCreated pushes dm_thread_created to both members of a
// freshly created thread. Thread open/create itself is a REST operation
// (spec §4.6); the HTTP surface calls this after a successful
// GetOrCreateDMThread so both clients can show the new thread without
// polling.
func (h *Hub) NotifyDMThreadCreated(thread models.DmThread, memberUsernames []string) {
	h.fabric.toUsers(memberUsernames, TypeDMThreadCreated, newDMThreadCreated(thread))
}

// Shutdown closes every live connection with code 1001 (going away) and
// waits for the caller-supplied context to expire or all connections to
// drain, matching spec §9's "drain on SIGTERM" process lifecycle.
func (h *Hub) Shutdown(ctx context.Context) {
	h.registry.mu.RLock()
	conns := make([]*Connection, 0, len(h.registry.connections))
	for _, c := range h.registry.connections {
		conns = append(conns, c)
	}
	h.registry.mu.RUnlock()

	for _, c := range conns {
		c.closeAsync(1001, "server shutting down")
	}

	// Cleanup barrier: wait for every reader loop to unwind and drop its
	// connection, or give up when the shutdown context expires.
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		h.registry.mu.RLock()
		remaining := len(h.registry.connections)
		h.registry.mu.RUnlock()
		if remaining == 0 {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// translatePersistenceErr maps the persistence package's sentinel errors
// onto wire-stable hub error kinds (spec §7), the way the teacher's
// handlers switch on db.ErrNotFound/db.ErrDuplicate.
func translatePersistenceErr(err error) *Error {
	switch {
	case errors.Is(err, persistence.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, persistence.ErrForbidden):
		return ErrForbidden
	case errors.Is(err, persistence.ErrConflict):
		return errConflict(err.Error())
	case errors.Is(err, persistence.ErrInvalid):
		return ErrValidationFailed
	default:
		return ErrInternal
	}
}

// contentSanitizer wraps bluemonday the way the teacher's ws/client.go
// keeps one shared *bluemonday.Policy for every chat/DM body.
type contentSanitizer struct {
	policy *bluemonday.Policy
}

func newContentSanitizer() *contentSanitizer {
	return &contentSanitizer{policy: bluemonday.StrictPolicy()}
}

func (s *contentSanitizer) sanitizeText(in string) string {
	return s.policy.Sanitize(in)
}
