package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"yankcord/internal/models"
	"yankcord/internal/sfuengine"
)

// fakeSFU is an in-memory stand-in for sfuengine.Engine: just enough
// transport/producer/consumer bookkeeping to drive the media_signal
// dispatcher scenarios spec §8 describes without a real pion/webrtc
// PeerConnection.
type fakeSFU struct {
	mu sync.Mutex

	nextID int

	configured map[string]models.OpusConfig
	transports map[string]fakeTransport // transportID -> transport
	producers  map[string]fakeProducer  // producerID -> producer
	consumers  map[string]fakeConsumer  // consumerID -> consumer

	closedConns []string

	// failNextConsume, when non-nil, is returned (and cleared) by the next
	// Consume call, letting tests exercise replySFUErr's kind mapping.
	failNextConsume *sfuengine.EngineError
}

type fakeTransport struct {
	channelID string
	connID    string
	direction models.TransportDirection
}

type fakeProducer struct {
	channelID string
	connID    string
	kind      models.ProducerKind
	closed    bool
}

type fakeConsumer struct {
	channelID  string
	connID     string
	producerID string
	kind       models.ProducerKind
	resumed    bool
}

func newFakeSFU() *fakeSFU {
	return &fakeSFU{
		configured: make(map[string]models.OpusConfig),
		transports: make(map[string]fakeTransport),
		producers:  make(map[string]fakeProducer),
		consumers:  make(map[string]fakeConsumer),
	}
}

func (f *fakeSFU) nextFakeID(prefix string) string {
	f.nextID++
	return fmt.Sprintf("%s_%d", prefix, f.nextID)
}

func (f *fakeSFU) GetRouterRTPCapabilities(ctx context.Context, channelID string) (json.RawMessage, error) {
	return json.Marshal(map[string]any{"codecs": []string{"audio/opus", "video/VP8"}})
}

func (f *fakeSFU) CreateWebRTCTransport(ctx context.Context, channelID, connID string, direction models.TransportDirection) (*sfuengine.TransportDescriptor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextFakeID("transport")
	f.transports[id] = fakeTransport{channelID: channelID, connID: connID, direction: direction}
	return &sfuengine.TransportDescriptor{
		TransportID:    id,
		ICEParameters:  json.RawMessage(`{"usernameFragment":"uf","password":"pw"}`),
		ICECandidates:  json.RawMessage(`[]`),
		DTLSParameters: json.RawMessage(`{"role":"server"}`),
	}, nil
}

func (f *fakeSFU) ConnectWebRTCTransport(ctx context.Context, channelID, transportID string, dtlsParameters json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.transports[transportID]; !ok {
		return sfuengine.NewClosedError("connect_webrtc_transport")
	}
	return nil
}

func (f *fakeSFU) Produce(ctx context.Context, channelID, connID, transportID string, kind models.ProducerKind, rtpParameters json.RawMessage, source models.ProducerSource) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextFakeID("producer")
	f.producers[id] = fakeProducer{channelID: channelID, connID: connID, kind: kind}
	return id, nil
}

func (f *fakeSFU) CloseProducer(ctx context.Context, channelID, producerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.producers[producerID]
	if !ok {
		return nil
	}
	p.closed = true
	f.producers[producerID] = p
	return nil
}

func (f *fakeSFU) Consume(ctx context.Context, channelID, connID, producerID string, rtpCapabilities json.RawMessage) (*sfuengine.ConsumerDescriptor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNextConsume != nil {
		err := f.failNextConsume
		f.failNextConsume = nil
		return nil, err
	}
	p, ok := f.producers[producerID]
	if !ok {
		return nil, sfuengine.NewClosedError("consume")
	}
	id := f.nextFakeID("consumer")
	f.consumers[id] = fakeConsumer{channelID: channelID, connID: connID, producerID: producerID, kind: p.kind}
	return &sfuengine.ConsumerDescriptor{
		ConsumerID:    id,
		ProducerID:    producerID,
		Kind:          p.kind,
		RTPParameters: json.RawMessage(`{"mimeType":"audio/opus","clockRate":48000}`),
	}, nil
}

func (f *fakeSFU) ResumeConsumer(ctx context.Context, channelID, consumerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.consumers[consumerID]
	if !ok {
		return sfuengine.NewClosedError("resume_consumer")
	}
	c.resumed = true
	f.consumers[consumerID] = c
	return nil
}

func (f *fakeSFU) CreateNativeSenderSession(ctx context.Context, channelID, connID string, preferredCodecs []string) (*sfuengine.NativeSenderSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextFakeID("producer")
	f.producers[id] = fakeProducer{channelID: channelID, connID: connID, kind: models.ProducerKindVideo}
	codec := "video/VP8"
	if len(preferredCodecs) > 0 {
		codec = preferredCodecs[0]
	}
	return &sfuengine.NativeSenderSession{
		ProducerID:      id,
		RTPTarget:       "127.0.0.1:40000",
		PayloadType:     96,
		SSRC:            12345,
		Codec:           codec,
		AvailableCodecs: []string{"video/VP8", "video/H264"},
	}, nil
}

func (f *fakeSFU) CloseConnection(connID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closedConns = append(f.closedConns, connID)
	for id, t := range f.transports {
		if t.connID == connID {
			delete(f.transports, id)
		}
	}
	for id, p := range f.producers {
		if p.connID == connID {
			p.closed = true
			f.producers[id] = p
		}
	}
}

func (f *fakeSFU) Configure(channelID string, cfg models.OpusConfig) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.configured[channelID] = cfg
}

func (f *fakeSFU) Close() error { return nil }
