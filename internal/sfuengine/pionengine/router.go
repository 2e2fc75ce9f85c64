package pionengine

import (
	"encoding/json"
	"sync"

	"yankcord/internal/models"
)

// router is the per-channel SFU scope: every transport, producer, and
// consumer belonging to a voice channel lives here, lazily created on
// first join (spec §6.3), matching the teacher's one-SFU-per-call
// convention generalized to one Router per channel.
type router struct {
	id     string
	engine *Engine

	mu         sync.Mutex
	opusConfig models.OpusConfig

	transports map[string]*transport // transportID -> transport
	sendByConn map[string]*transport // connID -> send transport
	recvByConn map[string]*transport // connID -> recv transport

	producers map[string]*producer // producerID -> producer
	consumers map[string]*consumer // consumerID -> consumer
}

func newRouter(id string, e *Engine) *router {
	return &router{
		id:         id,
		engine:     e,
		opusConfig: models.OpusConfig{Bitrate: 32000, DTX: false, FEC: true},
		transports: make(map[string]*transport),
		sendByConn: make(map[string]*transport),
		recvByConn: make(map[string]*transport),
		producers:  make(map[string]*producer),
		consumers:  make(map[string]*consumer),
	}
}

func (r *router) setOpusConfig(cfg models.OpusConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.opusConfig = cfg
}

func (r *router) getOpusConfig() models.OpusConfig {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.opusConfig
}

// rtpCapabilities is a static description of the codecs this router's
// PeerConnections are configured for (spec §4.8 get_router_rtp_capabilities).
type rtpCapability struct {
	Kind        string `json:"kind"`
	MimeType    string `json:"mimeType"`
	ClockRate   int    `json:"clockRate"`
	Channels    int    `json:"channels,omitempty"`
	PayloadType uint8  `json:"preferredPayloadType"`
}

func (r *router) rtpCapabilities() (json.RawMessage, error) {
	caps := []rtpCapability{
		{Kind: "audio", MimeType: "audio/opus", ClockRate: 48000, Channels: 2, PayloadType: 111},
		{Kind: "video", MimeType: "video/VP8", ClockRate: 90000, PayloadType: 96},
		{Kind: "video", MimeType: "video/H264", ClockRate: 90000, PayloadType: 102},
	}
	return json.Marshal(map[string]any{"codecs": caps})
}

func (r *router) addTransport(t *transport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transports[t.id] = t
	if t.direction == models.DirectionSend {
		r.sendByConn[t.connID] = t
	} else {
		r.recvByConn[t.connID] = t
	}
}

func (r *router) getTransport(transportID string) (*transport, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.transports[transportID]
	return t, ok
}

func (r *router) sendTransportFor(connID string) (*transport, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.sendByConn[connID]
	return t, ok
}

func (r *router) recvTransportFor(connID string) (*transport, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.recvByConn[connID]
	return t, ok
}

func (r *router) addProducer(p *producer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.producers[p.id] = p
}

func (r *router) getProducer(producerID string) (*producer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.producers[producerID]
	return p, ok
}

func (r *router) removeProducer(producerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.producers, producerID)
}

func (r *router) addConsumer(c *consumer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.consumers[c.id] = c
}

func (r *router) getConsumer(consumerID string) (*consumer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.consumers[consumerID]
	return c, ok
}

// closeConnection releases every transport (and everything carried on it)
// owned by connID. Called by Engine.CloseConnection across every channel.
func (r *router) closeConnection(connID string) {
	r.mu.Lock()
	send, hasSend := r.sendByConn[connID]
	recv, hasRecv := r.recvByConn[connID]
	delete(r.sendByConn, connID)
	delete(r.recvByConn, connID)

	var owned []*producer
	for id, p := range r.producers {
		if p.ownerConn == connID {
			owned = append(owned, p)
			delete(r.producers, id)
		}
	}
	for id, c := range r.consumers {
		if c.ownerConn == connID {
			delete(r.consumers, id)
		}
	}
	if hasSend {
		delete(r.transports, send.id)
	}
	if hasRecv {
		delete(r.transports, recv.id)
	}
	// Transports replaced by a repeat CreateWebRTCTransport are no longer
	// in sendByConn/recvByConn but still belong to connID.
	var replaced []*transport
	for id, t := range r.transports {
		if t.connID == connID {
			replaced = append(replaced, t)
			delete(r.transports, id)
		}
	}
	r.mu.Unlock()

	for _, p := range owned {
		p.close()
	}
	if hasSend {
		send.close()
	}
	if hasRecv {
		recv.close()
	}
	for _, t := range replaced {
		t.close()
	}
}

func (r *router) closeAll() {
	r.mu.Lock()
	transports := make([]*transport, 0, len(r.transports))
	for _, t := range r.transports {
		transports = append(transports, t)
	}
	producers := make([]*producer, 0, len(r.producers))
	for _, p := range r.producers {
		producers = append(producers, p)
	}
	r.transports = make(map[string]*transport)
	r.sendByConn = make(map[string]*transport)
	r.recvByConn = make(map[string]*transport)
	r.producers = make(map[string]*producer)
	r.consumers = make(map[string]*consumer)
	r.mu.Unlock()

	for _, p := range producers {
		p.close()
	}
	for _, t := range transports {
		t.close()
	}
}
