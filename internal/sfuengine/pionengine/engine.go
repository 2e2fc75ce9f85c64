// Package pionengine is the pion/webrtc-backed reference implementation of
// sfuengine.Engine (SPEC_FULL §6.3). One Router per voice channel is
// created lazily on first join, mirroring the teacher's SFU type; each
// connection gets at most one send Transport and one recv Transport,
// each wrapping a *webrtc.PeerConnection. A channel's Opus tuning is
// recorded on its router by Configure but is not applied to any
// PeerConnection or producer. Camera/screen collision and error-kind mapping are
// grounded on internal/sfu/sfu.go and internal/sfu/errors.go.
package pionengine

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v4"

	"yankcord/internal/models"
)

// Config bundles the reference engine's startup parameters (SPEC_FULL §6.4
// Media section).
type Config struct {
	MinPort    uint16
	MaxPort    uint16
	STUNURL    string
	TURNHost   string
	TURNPort   int
	TURNSecret string

	// NativeRTPListenIP/NativeRTPAnnouncedIP configure the PlainTransport
	// equivalent UDP listeners opened by CreateNativeSenderSession.
	NativeRTPListenIP    string
	NativeRTPAnnouncedIP string
}

// Engine implements sfuengine.Engine.
type Engine struct {
	cfg Config
	log *slog.Logger

	settingEngine webrtc.SettingEngine
	mediaEngine   *webrtc.MediaEngine
	api           *webrtc.API

	mu      sync.RWMutex
	routers map[string]*router // channelID -> router
	closed  bool
}

func New(cfg Config, log *slog.Logger) (*Engine, error) {
	settingEngine := webrtc.SettingEngine{}
	if cfg.MinPort > 0 && cfg.MaxPort > 0 {
		if err := settingEngine.SetEphemeralUDPPortRange(cfg.MinPort, cfg.MaxPort); err != nil {
			return nil, fmt.Errorf("setting ephemeral UDP port range: %w", err)
		}
	}
	if cfg.NativeRTPAnnouncedIP != "" {
		settingEngine.SetNAT1To1IPs([]string{cfg.NativeRTPAnnouncedIP}, webrtc.ICECandidateTypeHost)
	}

	mediaEngine, err := newMediaEngine()
	if err != nil {
		return nil, fmt.Errorf("registering codecs: %w", err)
	}

	api := webrtc.NewAPI(
		webrtc.WithSettingEngine(settingEngine),
		webrtc.WithMediaEngine(mediaEngine),
	)

	return &Engine{
		cfg:           cfg,
		log:           log,
		settingEngine: settingEngine,
		mediaEngine:   mediaEngine,
		api:           api,
		routers:       make(map[string]*router),
	}, nil
}

// newMediaEngine registers Opus for voice and H264/VP8 for camera/screen
// video, grounded on the teacher's sfu.New codec registration (extended
// with H264 per spec §4.8's create_native_sender_session default).
func newMediaEngine() (*webrtc.MediaEngine, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:    webrtc.MimeTypeOpus,
			ClockRate:   48000,
			Channels:    2,
			SDPFmtpLine: "minptime=10;useinbandfec=1",
		},
		PayloadType: 111,
	}, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("registering opus: %w", err)
	}
	if err := m.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:  webrtc.MimeTypeVP8,
			ClockRate: 90000,
		},
		PayloadType: 96,
	}, webrtc.RTPCodecTypeVideo); err != nil {
		return nil, fmt.Errorf("registering vp8: %w", err)
	}
	if err := m.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:    webrtc.MimeTypeH264,
			ClockRate:   90000,
			SDPFmtpLine: "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f",
		},
		PayloadType: 102,
	}, webrtc.RTPCodecTypeVideo); err != nil {
		return nil, fmt.Errorf("registering h264: %w", err)
	}
	return m, nil
}

func (e *Engine) getOrCreateRouter(channelID string) *router {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.routers[channelID]
	if !ok {
		r = newRouter(channelID, e)
		e.routers[channelID] = r
	}
	return r
}

func (e *Engine) getRouter(channelID string) (*router, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, ok := e.routers[channelID]
	return r, ok
}

// Configure records a voice channel's opus tuning on its router. The
// stored values are not applied to transports or producers, existing or
// created later; the codecs registered in newMediaEngine are used as is.
func (e *Engine) Configure(channelID string, cfg models.OpusConfig) {
	r := e.getOrCreateRouter(channelID)
	r.setOpusConfig(cfg)
}

// CloseConnection releases every transport/producer/consumer owned by
// connID across all channels (spec §4.10 teardown steps 2-3).
func (e *Engine) CloseConnection(connID string) {
	e.mu.RLock()
	routers := make([]*router, 0, len(e.routers))
	for _, r := range e.routers {
		routers = append(routers, r)
	}
	e.mu.RUnlock()

	for _, r := range routers {
		r.closeConnection(connID)
	}
}

func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	routers := make([]*router, 0, len(e.routers))
	for _, r := range e.routers {
		routers = append(routers, r)
	}
	e.routers = make(map[string]*router)
	e.mu.Unlock()

	for _, r := range routers {
		r.closeAll()
	}
	return nil
}
