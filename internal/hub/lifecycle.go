package hub

import (
	"context"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"yankcord/internal/constants"
)

// authTimeout closes a connection that never completes the authenticate
// handshake within T_auth (spec §3.3, §4.10).
func (h *Hub) authTimeout(c *Connection, log *slog.Logger) {
	timer := time.NewTimer(constants.AuthTimeout)
	defer timer.Stop()
	<-timer.C
	if c.State() == stateUnauthenticated {
		log.Warn("auth timeout", "connection_id", c.ID)
		c.closeAsync(constants.CloseUnauthenticated, "auth_timeout")
		h.dropConnection(context.Background(), c, log)
	}
}

// heartbeat watches for sustained outbound-queue fullness (slow consumer,
// §4.4) independently of the ping/pong deadline enforced in readPump's
// SetPongHandler (which itself triggers a ReadMessage error and unwinds
// readPump on timeout).
func (h *Hub) heartbeat(ctx context.Context, ws *websocket.Conn, c *Connection, log *slog.Logger, done <-chan struct{}) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			since := c.fullSince.Load()
			if since == 0 {
				continue
			}
			if time.Since(time.Unix(0, since)) >= constants.SlowConsumerWindow {
				log.Warn("slow consumer closed", "connection_id", c.ID)
				c.closeAsync(constants.CloseSlowConsumer, "slow_consumer")
				h.dropConnection(ctx, c, log)
				return
			}
		}
	}
}

// handleAuthenticate is the first-frame-must-be-authenticate handshake
// (spec §4.10). On success it attaches identity, evicts any prior
// connection for the username, and emits the snapshot/presence sequence.
func (h *Hub) handleAuthenticate(ctx context.Context, c *Connection, raw []byte, log *slog.Logger) (closeCode int, ok bool) {
	if allowed, shouldClose := c.limiter.allow(categoryAuth); !allowed {
		h.fabric.toConnection(c.ID, TypeSignalError, newSignalError("", "", errRateLimited(string(categoryAuth))))
		if shouldClose {
			return constants.CloseRateAbuse, false
		}
		return 0, true
	}

	var in inAuthenticate
	if err := decodePayload(raw, &in); err != nil {
		h.fabric.toConnection(c.ID, TypeSignalError, newSignalError("", "", ErrValidationFailed))
		return constants.CloseProtocolError, false
	}

	dbCtx, cancel := context.WithTimeout(ctx, constants.PersistenceTimeout)
	identity, err := h.persistence.VerifyToken(dbCtx, in.Token)
	cancel()
	if err != nil {
		log.Warn("authentication failed", "connection_id", c.ID, "err", err)
		h.fabric.toConnection(c.ID, TypeSignalError, newSignalError("", "", ErrUnauthenticated))
		return constants.CloseUnauthenticated, false
	}

	evicted := h.registry.attachIdentity(c, identity)
	if evicted != nil {
		log.Info("evicting prior session", "username", identity.Username, "evicted_connection_id", evicted.ID)
		evicted.closeAsync(constants.CloseEvicted, "evicted")
		h.dropConnection(ctx, evicted, log)
	}

	h.fabric.toConnection(c.ID, TypePresenceSnapshot, newPresenceSnapshot(h.registry.snapshotUsers()))
	h.fabric.toConnection(c.ID, TypeVoicePresenceSnapshot, newVoicePresenceSnapshot(h.roomIndex.allVoiceSnapshot()))
	h.fabric.global(TypeUserConnected, newUserConnected(identity), c.ID)

	log.Info("authenticated", "connection_id", c.ID, "username", identity.Username)
	return 0, true
}

// teardown runs the ordered cleanup of spec §4.10 when a connection's
// reader loop returns for any reason. Idempotent: dropConnection and the
// per-resource release calls are all safe to call twice.
func (h *Hub) teardown(ctx context.Context, c *Connection, log *slog.Logger) {
	h.dropConnection(ctx, c, log)
}

// dropConnection runs the ordered teardown exactly once per connection
// (spec §4.10, §8 "idempotent teardown"), even if invoked concurrently
// from eviction, auth timeout, and the connection's own reader loop.
func (h *Hub) dropConnection(ctx context.Context, c *Connection, log *slog.Logger) {
	c.teardownOnce.Do(func() { h.doDropConnection(ctx, c, log) })
}

func (h *Hub) doDropConnection(ctx context.Context, c *Connection, log *slog.Logger) {
	c.setState(stateClosing)

	identity := c.Identity()

	// 1. voice membership.
	if identity != nil {
		if chID, ok := h.roomIndex.leaveVoice(c.ID, identity.Username); ok {
			h.fabric.toChannel(h.roomIndex, chID, TypeVoiceUserLeft, newVoiceUserLeft(chID, identity.Username), "")
			h.fabric.toVoiceMembers(h.roomIndex, chID, TypeVoiceUserLeft, newVoiceUserLeft(chID, identity.Username), "")
		}
	}

	// 2 & 3. producers/transports/consumers owned by this connection.
	if h.sfu != nil {
		for _, p := range h.roomIndex.ownedProducers(c.ID) {
			h.roomIndex.removeProducer(p.ChannelID, p.ProducerID)
			h.fabric.toVoiceMembers(h.roomIndex, p.ChannelID, TypeMediaSignal,
				newMediaSignal(p.ChannelID, "", map[string]any{
					"action":      ActionProducerClosed,
					"producer_id": p.ProducerID,
					"source":      p.Source,
					"username":    p.Username,
				}), "")
		}
		h.sfu.CloseConnection(c.ID)
	}

	// 4. subscriptions (channels + dm threads) are released implicitly by
	// removeConnection's map cleanup below.

	// Outstanding media_signal request ids are released here (§3.2); any
	// SFU reply still in flight for them is discarded silently.
	c.clearPending()

	// 5. remove from registry. The closed flag is flipped under outboundMu
	// so a concurrent broadcast can never send on the closed channel.
	h.roomIndex.removeConnection(c.ID)
	h.registry.drop(c)
	c.outboundMu.Lock()
	c.outboundClosed = true
	close(c.outbound)
	c.outboundMu.Unlock()

	// 6. last-live-session broadcast.
	if identity != nil && h.registry.isLastForUsername(identity.Username, c.ID) {
		h.fabric.global(TypeUserDisconnected, newUserDisconnected(identity.Username), "")
	}

	c.setState(stateClosed)
	log.Info("connection closed", "connection_id", c.ID)
}
