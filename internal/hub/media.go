package hub

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"yankcord/internal/constants"
	"yankcord/internal/models"
	"yankcord/internal/sfuengine"
)

// handleMediaSignal implements the Media Signaling Router (C8, spec
// §4.8): every SFU control flow is multiplexed over one frame type,
// dispatched here by payload.action. Grounded on the teacher's SFU
// signaling callback plumbing (ws/hub.go HandleRtcOffer/Answer) and
// internal/sfu/errors.go's PeerError kind taxonomy, re-expressed over the
// transport/producer/consumer vocabulary instead of raw SDP exchange.
func (h *Hub) handleMediaSignal(ctx context.Context, c *Connection, raw []byte, log *slog.Logger) {
	identity := c.Identity()
	if allowed, shouldClose := c.limiter.allow(categoryMediaSignal); !allowed {
		h.replyError(c.ID, "", "", errRateLimited(string(categoryMediaSignal)))
		if shouldClose {
			c.closeAsync(constants.CloseRateAbuse, "rate_abuse")
		}
		return
	}

	var in inMediaSignal
	if err := decodePayload(raw, &in); err != nil {
		h.replyError(c.ID, "", "", ErrValidationFailed)
		return
	}
	if len(in.Payload) > constants.MaxMediaSignalPayload {
		h.replyError(c.ID, in.ChannelID, in.RequestID, errPayloadTooLarge("media_signal.payload too large"))
		return
	}

	var actionPeek mediaActionPeek
	if err := json.Unmarshal(in.Payload, &actionPeek); err != nil {
		h.replyError(c.ID, in.ChannelID, in.RequestID, ErrValidationFailed)
		return
	}

	if actionPeek.Action != ActionClientDiagnostic {
		chID, inVoice := h.roomIndex.voiceChannelOf(c.ID)
		if !inVoice || chID != in.ChannelID {
			h.replyError(c.ID, in.ChannelID, in.RequestID, ErrNotInVoice)
			return
		}
	}

	// The request id is outstanding until its reply is enqueued; teardown
	// releases any ids still pending when the connection drops (§3.2).
	c.addPending(in.RequestID)
	defer c.removePending(in.RequestID)

	reqCtx, cancel := context.WithTimeout(ctx, constants.RequestTimeout)
	defer cancel()

	switch actionPeek.Action {
	case ActionGetRouterRTPCapabilities:
		h.mediaGetRouterCaps(reqCtx, c, in, log)
	case ActionCreateWebRTCTransport:
		h.mediaCreateTransport(reqCtx, c, in, log)
	case ActionConnectWebRTCTransport:
		h.mediaConnectTransport(reqCtx, c, in, log)
	case ActionMediaProduce:
		h.mediaProduce(reqCtx, c, identity, in, log)
	case ActionMediaCloseProducer:
		h.mediaCloseProducer(reqCtx, c, identity, in, log)
	case ActionMediaConsume:
		h.mediaConsume(reqCtx, c, in, log)
	case ActionMediaResumeConsumer:
		h.mediaResumeConsumer(reqCtx, c, in, log)
	case ActionCreateNativeSenderSess:
		h.mediaCreateNativeSession(reqCtx, c, in, log)
	case ActionClientDiagnostic:
		h.mediaClientDiagnostic(c, in, log)
	default:
		h.replyError(c.ID, in.ChannelID, in.RequestID, ErrUnknownAction)
	}
}

func (h *Hub) mediaGetRouterCaps(ctx context.Context, c *Connection, in inMediaSignal, log *slog.Logger) {
	sfuCtx, cancelSFU := context.WithTimeout(ctx, constants.SFUTimeout)
	defer cancelSFU()
	caps, err := h.sfu.GetRouterRTPCapabilities(sfuCtx, in.ChannelID)
	if err != nil {
		h.replySFUErr(c.ID, in, err, log)
		return
	}
	h.fabric.toConnection(c.ID, TypeMediaSignal, newMediaSignal(in.ChannelID, in.RequestID, map[string]any{
		"action":           ActionRouterRTPCapabilities,
		"rtp_capabilities": caps,
	}))
}

func (h *Hub) mediaCreateTransport(ctx context.Context, c *Connection, in inMediaSignal, log *slog.Logger) {
	var p payloadCreateWebRTCTransport
	if err := decodePayload(in.Payload, &p); err != nil {
		h.replyError(c.ID, in.ChannelID, in.RequestID, ErrValidationFailed)
		return
	}
	direction := models.DirectionSend
	if p.Direction == string(models.DirectionRecv) {
		direction = models.DirectionRecv
	}
	sfuCtx, cancelSFU := context.WithTimeout(ctx, constants.SFUTimeout)
	defer cancelSFU()
	desc, err := h.sfu.CreateWebRTCTransport(sfuCtx, in.ChannelID, c.ID, direction)
	if err != nil {
		h.replySFUErr(c.ID, in, err, log)
		return
	}
	h.fabric.toConnection(c.ID, TypeMediaSignal, newMediaSignal(in.ChannelID, in.RequestID, map[string]any{
		"action":    ActionWebRTCTransportCreated,
		"transport": desc,
	}))

	// "on recv-transport creation, additionally emits a snapshot sequence
	// of new_producer frames for existing producers" (spec §4.8).
	if direction == models.DirectionRecv {
		for _, existing := range h.roomIndex.channelProducers(in.ChannelID) {
			if existing.OwnerConn == c.ID {
				continue
			}
			h.fabric.toConnection(c.ID, TypeMediaSignal, newMediaSignal(in.ChannelID, "", map[string]any{
				"action":       ActionNewProducer,
				"producer_id":  existing.ProducerID,
				"kind":         existing.Kind,
				"source":       existing.Source,
				"routing_mode": models.RoutingModeSFU,
				"username":     existing.Username,
			}))
		}
	}
}

func (h *Hub) mediaConnectTransport(ctx context.Context, c *Connection, in inMediaSignal, log *slog.Logger) {
	var p payloadConnectWebRTCTransport
	if err := decodePayload(in.Payload, &p); err != nil {
		h.replyError(c.ID, in.ChannelID, in.RequestID, ErrValidationFailed)
		return
	}
	sfuCtx, cancelSFU := context.WithTimeout(ctx, constants.SFUTimeout)
	defer cancelSFU()
	if err := h.sfu.ConnectWebRTCTransport(sfuCtx, in.ChannelID, p.TransportID, p.DTLSParameters); err != nil {
		h.replySFUErr(c.ID, in, err, log)
		return
	}
	h.fabric.toConnection(c.ID, TypeMediaSignal, newMediaSignal(in.ChannelID, in.RequestID, map[string]any{
		"action": ActionWebRTCTransportConnected,
	}))
}

func (h *Hub) mediaProduce(ctx context.Context, c *Connection, identity *models.Identity, in inMediaSignal, log *slog.Logger) {
	var p payloadMediaProduce
	if err := decodePayload(in.Payload, &p); err != nil {
		h.replyError(c.ID, in.ChannelID, in.RequestID, ErrValidationFailed)
		return
	}
	if p.RoutingMode != models.RoutingModeSFU {
		h.replyError(c.ID, in.ChannelID, in.RequestID, ErrValidationFailed)
		return
	}
	source := models.ProducerSource(p.Source)
	kind := models.ProducerKind(p.Kind)

	// Per-source limits (spec §3.2): at most one camera and one screen
	// producer per connection per channel; microphone unconstrained.
	if source == models.SourceCamera || source == models.SourceScreen {
		if h.roomIndex.countProducers(c.ID, in.ChannelID, source) > 0 {
			h.replyError(c.ID, in.ChannelID, in.RequestID, errConflict(string(source)+" already active"))
			return
		}
	}

	sfuCtx, cancelSFU := context.WithTimeout(ctx, constants.SFUTimeout)
	defer cancelSFU()
	// The engine resolves the send transport by connection id; the wire
	// protocol's media_produce carries no transport_id (§4.8).
	producerID, err := h.sfu.Produce(sfuCtx, in.ChannelID, c.ID, "", kind, p.RTPParameters, source)
	if err != nil {
		h.replySFUErr(c.ID, in, err, log)
		return
	}

	h.roomIndex.addProducer(&producerHandle{
		ProducerID: producerID,
		OwnerConn:  c.ID,
		ChannelID:  in.ChannelID,
		Kind:       kind,
		Source:     source,
		Username:   identity.Username,
	})

	h.fabric.toConnection(c.ID, TypeMediaSignal, newMediaSignal(in.ChannelID, in.RequestID, map[string]any{
		"action":      ActionMediaProduced,
		"producer_id": producerID,
	}))

	h.fabric.toVoiceMembers(h.roomIndex, in.ChannelID, TypeMediaSignal, newMediaSignal(in.ChannelID, "", map[string]any{
		"action":       ActionNewProducer,
		"producer_id":  producerID,
		"kind":         kind,
		"source":       source,
		"routing_mode": models.RoutingModeSFU,
		"username":     identity.Username,
	}), c.ID)
}

func (h *Hub) mediaCloseProducer(ctx context.Context, c *Connection, identity *models.Identity, in inMediaSignal, log *slog.Logger) {
	var p payloadMediaCloseProducer
	if err := decodePayload(in.Payload, &p); err != nil {
		h.replyError(c.ID, in.ChannelID, in.RequestID, ErrValidationFailed)
		return
	}
	handle, ok := h.roomIndex.producer(in.ChannelID, p.ProducerID)
	if !ok {
		// "media_close_producer for an already-closed producer returns
		// success" (spec §8 idempotence).
		h.fabric.toConnection(c.ID, TypeMediaSignal, newMediaSignal(in.ChannelID, in.RequestID, map[string]any{
			"action": ActionMediaProducerClosed,
		}))
		return
	}
	if handle.OwnerConn != c.ID {
		h.replyError(c.ID, in.ChannelID, in.RequestID, ErrForbidden)
		return
	}
	h.roomIndex.removeProducer(in.ChannelID, p.ProducerID)
	sfuCtx, cancelSFU := context.WithTimeout(ctx, constants.SFUTimeout)
	defer cancelSFU()
	if err := h.sfu.CloseProducer(sfuCtx, in.ChannelID, p.ProducerID); err != nil {
		log.Warn("sfu close_producer failed", "err", err)
	}

	h.fabric.toConnection(c.ID, TypeMediaSignal, newMediaSignal(in.ChannelID, in.RequestID, map[string]any{
		"action": ActionMediaProducerClosed,
	}))
	h.fabric.toVoiceMembers(h.roomIndex, in.ChannelID, TypeMediaSignal, newMediaSignal(in.ChannelID, "", map[string]any{
		"action":      ActionProducerClosed,
		"producer_id": p.ProducerID,
		"source":      handle.Source,
		"username":    identity.Username,
	}), c.ID)
}

func (h *Hub) mediaConsume(ctx context.Context, c *Connection, in inMediaSignal, log *slog.Logger) {
	var p payloadMediaConsume
	if err := decodePayload(in.Payload, &p); err != nil {
		h.replyError(c.ID, in.ChannelID, in.RequestID, ErrValidationFailed)
		return
	}
	if _, ok := h.roomIndex.producer(in.ChannelID, p.ProducerID); !ok {
		h.replyError(c.ID, in.ChannelID, in.RequestID, ErrNotFound)
		return
	}
	sfuCtx, cancelSFU := context.WithTimeout(ctx, constants.SFUTimeout)
	defer cancelSFU()
	desc, err := h.sfu.Consume(sfuCtx, in.ChannelID, c.ID, p.ProducerID, p.RTPCapabilities)
	if err != nil {
		h.replySFUErr(c.ID, in, err, log)
		return
	}
	h.fabric.toConnection(c.ID, TypeMediaSignal, newMediaSignal(in.ChannelID, in.RequestID, map[string]any{
		"action":   ActionMediaConsumerCreated,
		"consumer": desc,
	}))
}

func (h *Hub) mediaResumeConsumer(ctx context.Context, c *Connection, in inMediaSignal, log *slog.Logger) {
	var p payloadMediaResumeConsumer
	if err := decodePayload(in.Payload, &p); err != nil {
		h.replyError(c.ID, in.ChannelID, in.RequestID, ErrValidationFailed)
		return
	}
	sfuCtx, cancelSFU := context.WithTimeout(ctx, constants.SFUTimeout)
	defer cancelSFU()
	if err := h.sfu.ResumeConsumer(sfuCtx, in.ChannelID, p.ConsumerID); err != nil {
		h.replySFUErr(c.ID, in, err, log)
		return
	}
	h.fabric.toConnection(c.ID, TypeMediaSignal, newMediaSignal(in.ChannelID, in.RequestID, map[string]any{
		"action": ActionMediaConsumerResumed,
	}))
}

func (h *Hub) mediaCreateNativeSession(ctx context.Context, c *Connection, in inMediaSignal, log *slog.Logger) {
	var p payloadCreateNativeSenderSession
	if err := decodePayload(in.Payload, &p); err != nil {
		h.replyError(c.ID, in.ChannelID, in.RequestID, ErrValidationFailed)
		return
	}
	sfuCtx, cancelSFU := context.WithTimeout(ctx, constants.SFUTimeout)
	defer cancelSFU()
	sess, err := h.sfu.CreateNativeSenderSession(sfuCtx, in.ChannelID, c.ID, p.PreferredCodecs)
	if err != nil {
		h.replySFUErr(c.ID, in, err, log)
		return
	}
	identity := c.Identity()
	h.roomIndex.addProducer(&producerHandle{
		ProducerID: sess.ProducerID,
		OwnerConn:  c.ID,
		ChannelID:  in.ChannelID,
		Kind:       models.ProducerKindVideo,
		Source:     models.SourceScreen,
		Username:   identity.Username,
	})
	h.fabric.toConnection(c.ID, TypeMediaSignal, newMediaSignal(in.ChannelID, in.RequestID, map[string]any{
		"action":           ActionNativeSenderSessCreated,
		"producer_id":      sess.ProducerID,
		"rtp_target":       sess.RTPTarget,
		"payload_type":     sess.PayloadType,
		"ssrc":             sess.SSRC,
		"codec":            sess.Codec,
		"available_codecs": sess.AvailableCodecs,
	}))
}

// mediaClientDiagnostic is appended to the diagnostics log only (spec
// §4.8); it has no response.
func (h *Hub) mediaClientDiagnostic(c *Connection, in inMediaSignal, log *slog.Logger) {
	var p payloadClientDiagnostic
	if err := decodePayload(in.Payload, &p); err != nil {
		return
	}
	log.Info("client diagnostic", "connection_id", c.ID, "event", p.Event, "detail", p.Detail)
}

// replySFUErr maps an sfuengine.EngineError (fatal/transient/closed, per
// the teacher's PeerError taxonomy) onto a wire-stable error kind.
func (h *Hub) replySFUErr(connID string, in inMediaSignal, err error, log *slog.Logger) {
	var ee *sfuengine.EngineError
	if errors.As(err, &ee) {
		switch ee.Kind {
		case sfuengine.KindUnsupportedCodec:
			h.replyError(connID, in.ChannelID, in.RequestID, ErrUnsupportedCodec)
		case sfuengine.KindClosed:
			h.replyError(connID, in.ChannelID, in.RequestID, ErrNotFound)
		case sfuengine.KindTransient:
			h.replyError(connID, in.ChannelID, in.RequestID, ErrUpstream)
		default:
			log.Error("sfu fatal error", "err", err, "op", ee.Op)
			h.replyError(connID, in.ChannelID, in.RequestID, ErrInternal)
		}
		return
	}
	if errors.Is(err, context.DeadlineExceeded) {
		h.replyError(connID, in.ChannelID, in.RequestID, ErrTimeout)
		return
	}
	log.Error("sfu error", "err", err)
	h.replyError(connID, in.ChannelID, in.RequestID, ErrInternal)
}
