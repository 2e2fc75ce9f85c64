package hub

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"yankcord/internal/constants"
)

// Serve upgrades a socket into a registered Connection and runs its
// reader/writer pair until either closes (spec §4.2, §5 "two tasks").
// Grounded on the teacher's api/websocket.go ServeWS + ws/client.go
// ReadPump/WritePump split.
func (h *Hub) Serve(ctx context.Context, ws *websocket.Conn) {
	connID := uuid.NewString()
	c := newConnection(connID, func(code int, reason string) {
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
	})
	h.registry.register(c)

	log := h.log.With("component", "hub", "connection_id", connID)
	log.Info("connection opened")

	done := make(chan struct{})
	go h.writePump(ws, c, log)
	go h.authTimeout(c, log)
	go h.heartbeat(ctx, ws, c, log, done)

	h.readPump(ctx, ws, c, log)
	close(done)
	h.teardown(ctx, c, log)
	_ = ws.Close()
}

func (h *Hub) readPump(ctx context.Context, ws *websocket.Conn, c *Connection, log *slog.Logger) {
	ws.SetReadLimit(constants.MaxFrameBytes + 1024)
	_ = ws.SetReadDeadline(time.Now().Add(constants.PongTimeout))
	ws.SetPongHandler(func(string) error {
		c.touch()
		_ = ws.SetReadDeadline(time.Now().Add(constants.PongTimeout))
		return nil
	})

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			// A read-deadline expiry means the pong never came (§4.10).
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				c.closeAsync(constants.CloseHeartbeatTimeout, "heartbeat_timeout")
			}
			return
		}
		c.touch()
		if closeCode, ok := h.handleFrame(ctx, c, raw, log); !ok {
			c.closeAsync(closeCode, "")
			return
		}
		if c.State() == stateClosed {
			return
		}
	}
}

func (h *Hub) writePump(ws *websocket.Conn, c *Connection, log *slog.Logger) {
	ticker := time.NewTicker(constants.PingPeriod)
	defer ticker.Stop()
	for {
		select {
		case entry, ok := <-c.outbound:
			if !ok {
				return
			}
			_ = ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := ws.WriteMessage(websocket.TextMessage, entry.raw); err != nil {
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
		if c.State() == stateClosed {
			return
		}
	}
}

// handleFrame decodes and routes one inbound frame. ok=false means the
// connection must be closed with the returned code (protocol error,
// rate abuse, eviction, etc.); a handled frame (including one answered
// with signal_error) returns ok=true.
func (h *Hub) handleFrame(ctx context.Context, c *Connection, raw []byte, log *slog.Logger) (closeCode int, ok bool) {
	env, err := decodeFrame(raw)
	if err != nil {
		if herr, isHerr := err.(*Error); isHerr && herr.Kind == constants.ErrKindPayloadTooLarge {
			h.fabric.toConnection(c.ID, TypeSignalError, newSignalError("", "", herr))
			return 0, true
		}
		return constants.CloseProtocolError, false
	}

	if c.State() == stateUnauthenticated {
		if env.Type != TypeAuthenticate {
			h.fabric.toConnection(c.ID, TypeSignalError, newSignalError("", env.RequestID, ErrUnauthenticated))
			return constants.CloseUnauthenticated, false
		}
		return h.handleAuthenticate(ctx, c, raw, log)
	}

	switch env.Type {
	case TypeSubscribeChannel:
		h.handleSubscribeChannel(ctx, c, raw, log)
	case TypeSendMessage:
		h.handleSendMessage(ctx, c, raw, log)
	case TypeEditMessage:
		h.handleEditMessage(ctx, c, raw, log)
	case TypeDeleteMessage:
		h.handleDeleteMessage(ctx, c, raw, log)
	case TypeTypingStart:
		h.handleTyping(c, raw, true, log)
	case TypeTypingStop:
		h.handleTyping(c, raw, false, log)
	case TypeChannelRead:
		h.handleChannelRead(ctx, c, raw, log)

	case TypeSubscribeDM:
		h.handleSubscribeDM(ctx, c, raw, log)
	case TypeSendDMMessage:
		h.handleSendDMMessage(ctx, c, raw, log)
	case TypeEditDMMessage:
		h.handleEditDMMessage(ctx, c, raw, log)
	case TypeDeleteDMMessage:
		h.handleDeleteDMMessage(ctx, c, raw, log)
	case TypeTypingStartDM:
		h.handleDMTyping(c, raw, true, log)
	case TypeTypingStopDM:
		h.handleDMTyping(c, raw, false, log)
	case TypeDMRead:
		h.handleDMRead(ctx, c, raw, log)

	case TypeJoinVoice:
		h.handleJoinVoice(ctx, c, raw, log)
	case TypeLeaveVoice:
		h.handleLeaveVoice(ctx, c, log)
	case TypeVoiceActivity:
		h.handleVoiceActivity(c, raw, log)
	case TypeVoiceMuteState:
		h.handleVoiceMuteState(c, raw, log)

	case TypeMediaSignal:
		h.handleMediaSignal(ctx, c, raw, log)

	default:
		h.fabric.toConnection(c.ID, TypeSignalError, newSignalError(env.ChannelID, env.RequestID, ErrUnknownAction))
		if env.RequestID != "" {
			return 0, true
		}
		return constants.CloseProtocolError, false
	}

	if code, should := h.shouldCloseForInternalErrors(c); should {
		return code, false
	}
	return 0, true
}

// replyError is the single call site translating a hub.Error bound to a
// request_id into a signal_error frame (spec §7).
func (h *Hub) replyError(connID, channelID, requestID string, e *Error) {
	if e.Kind == constants.ErrKindInternal {
		h.recordInternalError(connID)
	}
	h.fabric.toConnection(connID, TypeSignalError, newSignalError(channelID, requestID, e))
}

func (h *Hub) recordInternalError(connID string) {
	c, ok := h.registry.get(connID)
	if !ok {
		return
	}
	c.internalErrsMu.Lock()
	defer c.internalErrsMu.Unlock()
	now := time.Now()
	cutoff := now.Add(-constants.InternalErrorWindow)
	kept := c.internalErrs[:0]
	for _, t := range c.internalErrs {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	c.internalErrs = append(kept, now)
}

func (h *Hub) shouldCloseForInternalErrors(c *Connection) (int, bool) {
	c.internalErrsMu.Lock()
	defer c.internalErrsMu.Unlock()
	if len(c.internalErrs) >= constants.InternalErrorBurstLimit {
		return constants.CloseEvicted, true
	}
	return 0, false
}
