package pionengine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"yankcord/internal/constants"
	"yankcord/internal/models"
	"yankcord/internal/sfuengine"
)

// pendingTrack is a remote track that has arrived on a send Transport's
// PeerConnection (via OnTrack) but has not yet been claimed by a Produce
// call.
type pendingTrack struct {
	remote   *webrtc.TrackRemote
	receiver *webrtc.RTPReceiver
}

// transport wraps one webrtc.PeerConnection per (connection, direction)
// pair. The wire protocol negotiates a transport exactly once (there is no
// renegotiation frame), so every transceiver the transport will ever need
// is pre-added at creation time: a send Transport pre-negotiates one
// recvonly audio transceiver and two recvonly video transceivers (mic,
// plus camera/screen sharing the video slots); a recv Transport
// pre-negotiates constants.ConsumerSlotsPerKind sendonly transceivers per
// kind, matching the "a connection gets at most one send and one recv
// transport per voice channel" shape (spec §4.8). Grounded on the
// teacher's Peer (internal/sfu/peer.go): connection-state handling,
// RTP-forwarding goroutine shape, and WaitGroup-bounded Close all carry
// over, re-expressed over discrete transport/producer/consumer objects
// instead of one always-renegotiable PeerConnection per user.
type transport struct {
	id        string
	connID    string
	channelID string
	direction models.TransportDirection

	pc *webrtc.PeerConnection

	ctx    context.Context
	cancel context.CancelFunc

	// pending carries remote tracks that arrived on a send Transport
	// before Produce() claimed them, keyed by kind.
	pending map[models.ProducerKind]chan *pendingTrack

	mu        sync.Mutex
	closed    bool
	recvSlots map[models.ProducerKind][]*webrtc.RTPTransceiver
}

var producibleKinds = []struct {
	kind    models.ProducerKind
	rtpKind webrtc.RTPCodecType
}{
	{models.ProducerKindAudio, webrtc.RTPCodecTypeAudio},
	{models.ProducerKindVideo, webrtc.RTPCodecTypeVideo},
}

// newTransport creates a server-offered WebRTC transport scoped to one
// connection within one channel's router. ctx bounds how long ICE
// gathering is allowed to take before the create call fails transiently.
func newTransport(ctx context.Context, e *Engine, channelID, connID string, direction models.TransportDirection) (*transport, *sfuengine.TransportDescriptor, error) {
	pc, err := e.api.NewPeerConnection(webrtc.Configuration{ICEServers: e.iceServers(connID)})
	if err != nil {
		return nil, nil, sfuengine.NewFatalError("create_webrtc_transport", err)
	}

	tctx, cancel := context.WithCancel(context.Background())
	t := &transport{
		id:        generateID("transport"),
		connID:    connID,
		channelID: channelID,
		direction: direction,
		pc:        pc,
		ctx:       tctx,
		cancel:    cancel,
	}

	switch direction {
	case models.DirectionSend:
		t.pending = map[models.ProducerKind]chan *pendingTrack{
			models.ProducerKindAudio: make(chan *pendingTrack, constants.ConsumerSlotsPerKind),
			models.ProducerKindVideo: make(chan *pendingTrack, constants.ConsumerSlotsPerKind),
		}
		if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionRecvonly}); err != nil {
			pc.Close()
			return nil, nil, sfuengine.NewFatalError("create_webrtc_transport", err)
		}
		for i := 0; i < 2; i++ { // one slot for camera, one for screen share
			if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionRecvonly}); err != nil {
				pc.Close()
				return nil, nil, sfuengine.NewFatalError("create_webrtc_transport", err)
			}
		}
		pc.OnTrack(func(remote *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
			t.onTrack(remote, receiver)
		})
	case models.DirectionRecv:
		t.recvSlots = make(map[models.ProducerKind][]*webrtc.RTPTransceiver)
		for _, pk := range producibleKinds {
			for i := 0; i < constants.ConsumerSlotsPerKind; i++ {
				tr, err := pc.AddTransceiverFromKind(pk.rtpKind, webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionSendonly})
				if err != nil {
					pc.Close()
					return nil, nil, sfuengine.NewFatalError("create_webrtc_transport", err)
				}
				t.recvSlots[pk.kind] = append(t.recvSlots[pk.kind], tr)
			}
		}
	}

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		if state == webrtc.PeerConnectionStateFailed || state == webrtc.PeerConnectionStateClosed {
			t.close()
		}
	})

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		pc.Close()
		return nil, nil, sfuengine.NewFatalError("create_webrtc_transport", err)
	}
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		pc.Close()
		return nil, nil, sfuengine.NewFatalError("create_webrtc_transport", err)
	}
	select {
	case <-gatherComplete:
	case <-ctx.Done():
		pc.Close()
		return nil, nil, sfuengine.NewTransientError("create_webrtc_transport", ctx.Err())
	}

	local := pc.LocalDescription()
	sdpJSON, err := json.Marshal(local)
	if err != nil {
		pc.Close()
		return nil, nil, sfuengine.NewFatalError("create_webrtc_transport", err)
	}

	desc := &sfuengine.TransportDescriptor{
		TransportID: t.id,
		// ICEParameters carries the server's offer SDP opaquely; the hub
		// never inspects it, only relays it to the client, which answers
		// via ConnectWebRTCTransport's dtls_parameters field.
		ICEParameters:  sdpJSON,
		ICECandidates:  json.RawMessage(`[]`),
		DTLSParameters: json.RawMessage(`null`),
	}
	return t, desc, nil
}

// connect applies the client's SDP answer, carried opaquely inside
// dtlsParameters (spec §4.8 connect_webrtc_transport).
func (t *transport) connect(dtlsParameters json.RawMessage) error {
	var answer webrtc.SessionDescription
	if err := json.Unmarshal(dtlsParameters, &answer); err != nil {
		return sfuengine.NewFatalError("connect_webrtc_transport", err)
	}
	if answer.Type != webrtc.SDPTypeAnswer {
		return sfuengine.NewFatalError("connect_webrtc_transport", fmt.Errorf("expected sdp answer, got %s", answer.Type))
	}
	if err := t.pc.SetRemoteDescription(answer); err != nil {
		return sfuengine.NewFatalError("connect_webrtc_transport", err)
	}
	return nil
}

func (t *transport) onTrack(remote *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
	kind := models.ProducerKindAudio
	if remote.Kind() == webrtc.RTPCodecTypeVideo {
		kind = models.ProducerKindVideo
	}
	ch, ok := t.pending[kind]
	if !ok {
		return
	}
	select {
	case ch <- &pendingTrack{remote: remote, receiver: receiver}:
	default:
		// Produce() never claimed a prior track of this kind in time;
		// drop rather than block the pion callback goroutine.
	}
}

// claimPendingTrack blocks until a remote track of kind has arrived (or
// ctx expires, or the transport is closed).
func (t *transport) claimPendingTrack(ctx context.Context, kind models.ProducerKind) (*pendingTrack, error) {
	ch, ok := t.pending[kind]
	if !ok {
		return nil, sfuengine.NewFatalError("produce", fmt.Errorf("transport does not accept %s producers", kind))
	}
	select {
	case pt := <-ch:
		return pt, nil
	case <-ctx.Done():
		return nil, sfuengine.NewTransientError("produce", ctx.Err())
	case <-t.ctx.Done():
		return nil, sfuengine.NewClosedError("produce")
	}
}

// reserveConsumerSlot claims one of this recv Transport's pre-negotiated
// sendonly transceivers for kind. The slot is never returned to the pool:
// the wire protocol has no close_consumer operation, so a connection's
// consumer slots live for the lifetime of its recv Transport (spec §4.8).
func (t *transport) reserveConsumerSlot(kind models.ProducerKind) (*webrtc.RTPTransceiver, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	slots := t.recvSlots[kind]
	if len(slots) == 0 {
		return nil, sfuengine.NewFatalError("consume", fmt.Errorf("no free %s consumer slots", kind))
	}
	t.recvSlots[kind] = slots[1:]
	return slots[0], nil
}

func (t *transport) close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.mu.Unlock()

	t.cancel()
	_ = t.pc.Close()
}
