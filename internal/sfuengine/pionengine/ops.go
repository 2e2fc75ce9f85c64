package pionengine

import (
	"context"
	"encoding/json"

	"yankcord/internal/models"
	"yankcord/internal/sfuengine"
)

// GetRouterRTPCapabilities returns the static codec set every router in
// this engine negotiates, lazily creating the channel's router if this is
// the first call for it.
func (e *Engine) GetRouterRTPCapabilities(ctx context.Context, channelID string) (json.RawMessage, error) {
	r := e.getOrCreateRouter(channelID)
	return r.rtpCapabilities()
}

// CreateWebRTCTransport creates a send or recv Transport scoped to connID
// within channelID's router (spec §4.8). A connection holds at most one
// of each per channel; a repeat call for the same direction replaces the
// prior transport's router-side bookkeeping entry (the old transport is
// left to be reaped by CloseConnection rather than closed inline, since
// the wire protocol never intentionally recreates a live transport).
func (e *Engine) CreateWebRTCTransport(ctx context.Context, channelID, connID string, direction models.TransportDirection) (*sfuengine.TransportDescriptor, error) {
	r := e.getOrCreateRouter(channelID)
	t, desc, err := newTransport(ctx, e, channelID, connID, direction)
	if err != nil {
		return nil, err
	}
	r.addTransport(t)
	return desc, nil
}

// ConnectWebRTCTransport finishes a transport's DTLS/ICE handshake by
// applying the client's SDP answer (spec §4.8 connect_webrtc_transport).
func (e *Engine) ConnectWebRTCTransport(ctx context.Context, channelID, transportID string, dtlsParameters json.RawMessage) error {
	r, ok := e.getRouter(channelID)
	if !ok {
		return sfuengine.NewClosedError("connect_webrtc_transport")
	}
	t, ok := r.getTransport(transportID)
	if !ok {
		return sfuengine.NewClosedError("connect_webrtc_transport")
	}
	return t.connect(dtlsParameters)
}

// Produce claims the next remote track of kind that arrives on connID's
// send Transport and exposes it as a producer other connections can
// consume (spec §4.8 media_produce). transportID is unused: the hub
// tracks at most one send Transport per connection per channel, so the
// router resolves it directly by connID rather than requiring the wire
// protocol to resend an id it already implied by calling
// create_webrtc_transport with direction "send".
func (e *Engine) Produce(ctx context.Context, channelID, connID, transportID string, kind models.ProducerKind, rtpParameters json.RawMessage, source models.ProducerSource) (string, error) {
	r, ok := e.getRouter(channelID)
	if !ok {
		return "", sfuengine.NewClosedError("produce")
	}
	t, ok := r.sendTransportFor(connID)
	if !ok {
		return "", sfuengine.NewFatalError("produce", errNoSendTransport)
	}
	pt, err := t.claimPendingTrack(ctx, kind)
	if err != nil {
		return "", err
	}
	p, err := newProducer(channelID, connID, kind, source, t, pt)
	if err != nil {
		return "", sfuengine.NewFatalError("produce", err)
	}
	r.addProducer(p)
	return p.id, nil
}

// CloseProducer stops a producer's RTP forwarding goroutine and removes
// it from its router. Closing an unknown producer is a no-op: the hub
// already treats media_close_producer on an unknown id as success (spec
// §8 idempotence), so the engine mirrors that rather than erroring.
func (e *Engine) CloseProducer(ctx context.Context, channelID, producerID string) error {
	r, ok := e.getRouter(channelID)
	if !ok {
		return nil
	}
	p, ok := r.getProducer(producerID)
	if !ok {
		return nil
	}
	r.removeProducer(producerID)
	p.close()
	return nil
}

// Consume reserves one of connID's recv Transport's pre-negotiated
// sendonly slots for producerID's kind and returns a paused consumer
// descriptor (spec §4.8 media_consume; resumed by ResumeConsumer).
func (e *Engine) Consume(ctx context.Context, channelID, connID, producerID string, rtpCapabilities json.RawMessage) (*sfuengine.ConsumerDescriptor, error) {
	r, ok := e.getRouter(channelID)
	if !ok {
		return nil, sfuengine.NewClosedError("consume")
	}
	p, ok := r.getProducer(producerID)
	if !ok {
		return nil, sfuengine.NewClosedError("consume")
	}
	recv, ok := r.recvTransportFor(connID)
	if !ok {
		return nil, sfuengine.NewFatalError("consume", errNoRecvTransport)
	}
	slot, err := recv.reserveConsumerSlot(p.kind)
	if err != nil {
		return nil, err
	}
	c := newConsumer(connID, p, slot)
	r.addConsumer(c)

	params, err := json.Marshal(consumerRTPParameters{
		MimeType:    p.localTrack.Codec().MimeType,
		ClockRate:   p.localTrack.Codec().ClockRate,
		PayloadType: payloadTypeForKind(p.kind),
	})
	if err != nil {
		return nil, sfuengine.NewFatalError("consume", err)
	}

	return &sfuengine.ConsumerDescriptor{
		ConsumerID:    c.id,
		ProducerID:    producerID,
		Kind:          p.kind,
		RTPParameters: params,
	}, nil
}

// ResumeConsumer starts RTP flow for a previously-created consumer (spec
// §4.8 media_resume_consumer).
func (e *Engine) ResumeConsumer(ctx context.Context, channelID, consumerID string) error {
	r, ok := e.getRouter(channelID)
	if !ok {
		return sfuengine.NewClosedError("resume_consumer")
	}
	c, ok := r.getConsumer(consumerID)
	if !ok {
		return sfuengine.NewClosedError("resume_consumer")
	}
	return c.resume()
}

// CreateNativeSenderSession opens a PlainTransport-equivalent raw RTP
// ingest socket for a native (non-browser) screen-share publisher (spec
// §4.8 create_native_sender_session).
func (e *Engine) CreateNativeSenderSession(ctx context.Context, channelID, connID string, preferredCodecs []string) (*sfuengine.NativeSenderSession, error) {
	r := e.getOrCreateRouter(channelID)
	p, sess, err := e.createNativeSenderSession(channelID, connID, preferredCodecs)
	if err != nil {
		return nil, err
	}
	r.addProducer(p)
	return sess, nil
}

type consumerRTPParameters struct {
	MimeType    string `json:"mimeType"`
	ClockRate   uint32 `json:"clockRate"`
	PayloadType uint8  `json:"payloadType"`
}

func payloadTypeForKind(kind models.ProducerKind) uint8 {
	if kind == models.ProducerKindAudio {
		return 111
	}
	return 96
}
