package pionengine

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"yankcord/internal/constants"
	"yankcord/internal/models"
)

// producer forwards RTP from one remote track into a local track that
// every consumer of this producer reads from, grounded on the teacher's
// Peer.forwardTrack goroutine (internal/sfu/peer.go), generalized from
// audio-only to both producer kinds.
type producer struct {
	id            string
	ownerConn     string
	channelID     string
	kind          models.ProducerKind
	source        models.ProducerSource
	transportKind models.TransportKind

	sendTransport *transport // nil for native (PlainTransport-equivalent) producers
	remote        *webrtc.TrackRemote
	udpConn       *net.UDPConn // set instead of remote for native RTP ingest
	localTrack    *webrtc.TrackLocalStaticRTP

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newProducer(channelID, connID string, kind models.ProducerKind, source models.ProducerSource, sendTransport *transport, pt *pendingTrack) (*producer, error) {
	localTrack, err := webrtc.NewTrackLocalStaticRTP(pt.remote.Codec().RTPCodecCapability, string(kind), connID)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &producer{
		id:            generateID("producer"),
		ownerConn:     connID,
		channelID:     channelID,
		kind:          kind,
		source:        source,
		transportKind: models.TransportKindWebRTC,
		sendTransport: sendTransport,
		remote:        pt.remote,
		localTrack:    localTrack,
		ctx:           ctx,
		cancel:        cancel,
	}
	p.wg.Add(1)
	go p.forward()
	return p, nil
}

func (p *producer) forward() {
	defer p.wg.Done()
	if p.transportKind == models.TransportKindPlain {
		p.forwardUDP()
		return
	}
	buf := make([]byte, constants.RTPPacketBufferBytes)
	for {
		select {
		case <-p.ctx.Done():
			return
		default:
		}
		n, _, err := p.remote.Read(buf)
		if err != nil {
			return
		}
		if _, err := p.localTrack.Write(buf[:n]); err != nil {
			return
		}
	}
}

// forwardUDP reads raw RTP packets off a native sender's PlainTransport-
// equivalent UDP socket and republishes them on the producer's local
// track, the native-ingest counterpart of forward(). Each datagram is
// parsed as an RTP packet so a malformed or stray datagram (this socket
// has no DTLS/SRTP to reject it for us) never reaches a consumer.
func (p *producer) forwardUDP() {
	buf := make([]byte, constants.RTPPacketBufferBytes)
	var pkt rtp.Packet
	for {
		select {
		case <-p.ctx.Done():
			return
		default:
		}
		_ = p.udpConn.SetReadDeadline(time.Now().Add(time.Second))
		n, _, err := p.udpConn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return
		}
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			continue
		}
		if _, err := p.localTrack.Write(buf[:n]); err != nil {
			return
		}
	}
}

// requestKeyframe sends a Picture Loss Indication back to the publishing
// client over the send Transport's own PeerConnection, prompting it to
// emit a fresh keyframe for a newly-resumed video consumer. Audio
// producers never need this.
func (p *producer) requestKeyframe() {
	if p.kind != models.ProducerKindVideo || p.sendTransport == nil {
		return
	}
	_ = p.sendTransport.pc.WriteRTCP([]rtcp.Packet{
		&rtcp.PictureLossIndication{MediaSSRC: uint32(p.remote.SSRC())},
	})
}

func (p *producer) close() {
	p.cancel()
	if p.udpConn != nil {
		_ = p.udpConn.Close()
	}
}
