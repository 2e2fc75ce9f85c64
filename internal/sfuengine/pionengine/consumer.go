package pionengine

import (
	"sync"

	"github.com/pion/webrtc/v4"

	"yankcord/internal/models"
	"yankcord/internal/sfuengine"
)

// consumer binds one connection's recv Transport to one producer's track
// via a pre-negotiated sendonly transceiver slot. Consumers are created
// paused (no RTP flows until ResumeConsumer replaces the transceiver's
// outgoing track), matching mediasoup's resume-after-create semantics
// (spec §4.8).
type consumer struct {
	id          string
	ownerConn   string
	producerID  string
	kind        models.ProducerKind
	transceiver *webrtc.RTPTransceiver
	producer    *producer

	mu      sync.Mutex
	resumed bool
}

func newConsumer(ownerConn string, p *producer, tr *webrtc.RTPTransceiver) *consumer {
	return &consumer{
		id:          generateID("consumer"),
		ownerConn:   ownerConn,
		producerID:  p.id,
		kind:        p.kind,
		transceiver: tr,
		producer:    p,
	}
}

// resume starts RTP flow by attaching the producer's local track to the
// pre-negotiated sendonly transceiver. Idempotent: a second resume is a
// no-op, matching the spec's general idempotence stance on repeated
// signaling requests.
func (c *consumer) resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.resumed {
		return nil
	}
	if err := c.transceiver.Sender().ReplaceTrack(c.producer.localTrack); err != nil {
		return sfuengine.NewFatalError("resume_consumer", err)
	}
	c.resumed = true
	c.producer.requestKeyframe()
	return nil
}
