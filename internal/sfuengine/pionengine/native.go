package pionengine

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"net"

	"github.com/pion/webrtc/v4"

	"yankcord/internal/models"
	"yankcord/internal/sfuengine"
)

// nativeCodec describes one of the fixed codecs a native (non-WebRTC)
// publisher may target, mirroring the payload types newMediaEngine
// registers.
var nativeCodecs = []struct {
	name        string
	payloadType uint8
	capability  webrtc.RTPCodecCapability
}{
	{"video/H264", 102, webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeH264, ClockRate: 90000}},
	{"video/VP8", 96, webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}},
}

func pickNativeCodec(preferred []string) (name string, payloadType uint8, capability webrtc.RTPCodecCapability) {
	for _, want := range preferred {
		for _, c := range nativeCodecs {
			if c.name == want {
				return c.name, c.payloadType, c.capability
			}
		}
	}
	c := nativeCodecs[0]
	return c.name, c.payloadType, c.capability
}

func availableNativeCodecNames() []string {
	out := make([]string, len(nativeCodecs))
	for i, c := range nativeCodecs {
		out[i] = c.name
	}
	return out
}

// listenNativeUDP opens the PlainTransport-equivalent UDP socket a native
// desktop publisher sends raw RTP to, picking a port inside the engine's
// configured ephemeral range the same way the ICE agent does.
func listenNativeUDP(listenIP string, minPort, maxPort uint16) (*net.UDPConn, int, error) {
	if listenIP == "" {
		listenIP = "0.0.0.0"
	}
	ip := net.ParseIP(listenIP)
	if minPort == 0 || maxPort == 0 || minPort > maxPort {
		conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: ip, Port: 0})
		if err != nil {
			return nil, 0, err
		}
		return conn, conn.LocalAddr().(*net.UDPAddr).Port, nil
	}
	for port := int(minPort); port <= int(maxPort); port++ {
		conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: ip, Port: port})
		if err == nil {
			return conn, port, nil
		}
	}
	return nil, 0, fmt.Errorf("no free UDP port in range [%d, %d]", minPort, maxPort)
}

func randomSSRC() uint32 {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0
	}
	return binary.BigEndian.Uint32(b[:])
}

// createNativeSenderSession opens a raw UDP listener that a native desktop
// publisher (no WebRTC stack) sends RTP packets to directly, and wraps it
// as a video/screen producer. There is no teacher equivalent of this
// code path (the teacher's screen share always rides a WebRTC
// PeerConnection, internal/sfu/screenshare.go); it is grounded on the
// same forward-and-republish shape as transport-backed producers, with
// net.ListenUDP standing in for the DTLS/SRTP-terminated PeerConnection
// since a native publisher has no ICE/DTLS stack to negotiate against.
func (e *Engine) createNativeSenderSession(channelID, connID string, preferredCodecs []string) (*producer, *sfuengine.NativeSenderSession, error) {
	codecName, payloadType, capability := pickNativeCodec(preferredCodecs)

	conn, port, err := listenNativeUDP(e.cfg.NativeRTPListenIP, e.cfg.MinPort, e.cfg.MaxPort)
	if err != nil {
		return nil, nil, sfuengine.NewTransientError("create_native_sender_session", err)
	}

	localTrack, err := webrtc.NewTrackLocalStaticRTP(capability, "video", connID)
	if err != nil {
		conn.Close()
		return nil, nil, sfuengine.NewFatalError("create_native_sender_session", err)
	}

	p := newNativeProducer(channelID, connID, conn, localTrack)

	announceIP := e.cfg.NativeRTPAnnouncedIP
	if announceIP == "" {
		announceIP = e.cfg.NativeRTPListenIP
	}
	if announceIP == "" {
		announceIP = "127.0.0.1"
	}

	sess := &sfuengine.NativeSenderSession{
		ProducerID:      p.id,
		RTPTarget:       fmt.Sprintf("%s:%d", announceIP, port),
		PayloadType:     payloadType,
		SSRC:            randomSSRC(),
		Codec:           codecName,
		AvailableCodecs: availableNativeCodecNames(),
	}
	return p, sess, nil
}

func newNativeProducer(channelID, connID string, conn *net.UDPConn, localTrack *webrtc.TrackLocalStaticRTP) *producer {
	ctx, cancel := context.WithCancel(context.Background())
	p := &producer{
		id:            generateID("producer"),
		ownerConn:     connID,
		channelID:     channelID,
		kind:          models.ProducerKindVideo,
		source:        models.SourceScreen,
		transportKind: models.TransportKindPlain,
		udpConn:       conn,
		localTrack:    localTrack,
		ctx:           ctx,
		cancel:        cancel,
	}
	p.wg.Add(1)
	go p.forward()
	return p
}
