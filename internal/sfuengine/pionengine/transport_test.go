package pionengine

import (
	"context"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"yankcord/internal/models"
)

func newBareSendTransport() *transport {
	ctx, cancel := context.WithCancel(context.Background())
	return &transport{
		id:        "transport_1",
		direction: models.DirectionSend,
		ctx:       ctx,
		cancel:    cancel,
		pending: map[models.ProducerKind]chan *pendingTrack{
			models.ProducerKindAudio: make(chan *pendingTrack, 4),
			models.ProducerKindVideo: make(chan *pendingTrack, 4),
		},
	}
}

func TestTransportClaimPendingTrackReturnsQueuedTrack(t *testing.T) {
	tr := newBareSendTransport()
	want := &pendingTrack{}
	tr.pending[models.ProducerKindAudio] <- want

	got, err := tr.claimPendingTrack(context.Background(), models.ProducerKindAudio)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != want {
		t.Fatal("expected the queued pending track back")
	}
}

func TestTransportClaimPendingTrackTimesOutWithoutATrack(t *testing.T) {
	tr := newBareSendTransport()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if _, err := tr.claimPendingTrack(ctx, models.ProducerKindVideo); err == nil {
		t.Fatal("expected an error when no track arrives before the context deadline")
	}
}

func TestTransportClaimPendingTrackRejectsUnknownKind(t *testing.T) {
	tr := newBareSendTransport()
	delete(tr.pending, models.ProducerKindVideo)

	if _, err := tr.claimPendingTrack(context.Background(), models.ProducerKindVideo); err == nil {
		t.Fatal("expected an error for a kind the transport never negotiated")
	}
}

// recvTransceiverPair builds two real, unconnected RTPTransceivers purely
// as local bookkeeping objects (no ICE/DTLS is performed) to exercise
// reserveConsumerSlot's pool accounting.
func recvTransceiverPair(t *testing.T) []*webrtc.RTPTransceiver {
	t.Helper()
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		t.Fatalf("registering default codecs: %v", err)
	}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(m))
	pc, err := api.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		t.Fatalf("creating peer connection: %v", err)
	}
	t.Cleanup(func() { pc.Close() })

	var slots []*webrtc.RTPTransceiver
	for i := 0; i < 2; i++ {
		tr, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionSendonly})
		if err != nil {
			t.Fatalf("adding transceiver: %v", err)
		}
		slots = append(slots, tr)
	}
	return slots
}

func TestTransportReserveConsumerSlotExhaustsThenErrors(t *testing.T) {
	slots := recvTransceiverPair(t)
	tr := &transport{
		id:        "transport_recv",
		direction: models.DirectionRecv,
		recvSlots: map[models.ProducerKind][]*webrtc.RTPTransceiver{
			models.ProducerKindAudio: slots,
		},
	}

	first, err := tr.reserveConsumerSlot(models.ProducerKindAudio)
	if err != nil {
		t.Fatalf("unexpected error on first reservation: %v", err)
	}
	second, err := tr.reserveConsumerSlot(models.ProducerKindAudio)
	if err != nil {
		t.Fatalf("unexpected error on second reservation: %v", err)
	}
	if first == second {
		t.Fatal("expected two distinct transceivers to be handed out")
	}
	if _, err := tr.reserveConsumerSlot(models.ProducerKindAudio); err == nil {
		t.Fatal("expected an error once the pool is exhausted")
	}
}
