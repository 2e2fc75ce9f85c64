// Package sfuengine defines the boundary interface to the external SFU
// Engine (spec §6.3) and ships a pion/webrtc-backed reference
// implementation under sfuengine/pionengine. The hub's Media Signaling
// Router (C8) depends only on the Engine interface, re-expressed over the
// mediasoup-style transport/producer/consumer vocabulary of spec §4.8
// rather than the teacher's raw SDP offer/answer exchange.
package sfuengine

import (
	"context"
	"encoding/json"
	"errors"

	"yankcord/internal/models"
)

// ErrorKind categorizes an engine failure so the Media Signaling Router
// can translate it into a wire-stable error kind (spec §7) without
// inspecting engine-internal error types. Mirrors the teacher's
// internal/sfu/errors.go PeerError.Kind taxonomy.
type ErrorKind int

const (
	KindTransient ErrorKind = iota
	KindFatal
	KindClosed
	KindUnsupportedCodec
)

// EngineError carries enough context for the router to log structured
// fields (§7) and pick a wire error kind.
type EngineError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *EngineError) Error() string { return e.Op + ": " + e.Err.Error() }
func (e *EngineError) Unwrap() error { return e.Err }

func NewTransientError(op string, err error) *EngineError {
	return &EngineError{Kind: KindTransient, Op: op, Err: err}
}

func NewFatalError(op string, err error) *EngineError {
	return &EngineError{Kind: KindFatal, Op: op, Err: err}
}

func NewClosedError(op string) *EngineError {
	return &EngineError{Kind: KindClosed, Op: op, Err: errors.New("peer or channel closed")}
}

// TransportDescriptor is returned by CreateWebRTCTransport; ICE/DTLS
// parameters are passed through opaquely as JSON since the hub never
// inspects their contents, only relays them to the remote peer.
type TransportDescriptor struct {
	TransportID    string          `json:"transport_id"`
	ICEParameters  json.RawMessage `json:"ice_parameters"`
	ICECandidates  json.RawMessage `json:"ice_candidates"`
	DTLSParameters json.RawMessage `json:"dtls_parameters"`
}

// ConsumerDescriptor is returned by Consume.
type ConsumerDescriptor struct {
	ConsumerID    string              `json:"consumer_id"`
	ProducerID    string              `json:"producer_id"`
	Kind          models.ProducerKind `json:"kind"`
	RTPParameters json.RawMessage     `json:"rtp_parameters"`
}

// NativeSenderSession is returned by CreateNativeSenderSession: a
// PlainTransport-equivalent target a native publisher can send raw RTP to
// directly, without DTLS/ICE.
type NativeSenderSession struct {
	ProducerID      string   `json:"producer_id"`
	RTPTarget       string   `json:"rtp_target"`
	PayloadType     uint8    `json:"payload_type"`
	SSRC            uint32   `json:"ssrc"`
	Codec           string   `json:"codec"`
	AvailableCodecs []string `json:"available_codecs"`
}

// Engine is the channel-scoped SFU boundary (spec §6.3). Every operation
// is scoped to a voice channel id; routers are created lazily on first
// join per the teacher's SFU convention.
type Engine interface {
	GetRouterRTPCapabilities(ctx context.Context, channelID string) (json.RawMessage, error)
	CreateWebRTCTransport(ctx context.Context, channelID, connID string, direction models.TransportDirection) (*TransportDescriptor, error)
	ConnectWebRTCTransport(ctx context.Context, channelID, transportID string, dtlsParameters json.RawMessage) error
	Produce(ctx context.Context, channelID, connID, transportID string, kind models.ProducerKind, rtpParameters json.RawMessage, source models.ProducerSource) (producerID string, err error)
	CloseProducer(ctx context.Context, channelID, producerID string) error
	Consume(ctx context.Context, channelID, connID, producerID string, rtpCapabilities json.RawMessage) (*ConsumerDescriptor, error)
	ResumeConsumer(ctx context.Context, channelID, consumerID string) error
	CreateNativeSenderSession(ctx context.Context, channelID, connID string, preferredCodecs []string) (*NativeSenderSession, error)

	// CloseConnection releases every transport/producer/consumer owned by
	// connID across all channels (teardown, spec §4.10 steps 2-3).
	CloseConnection(connID string)

	// Configure applies a voice channel's opus tuning (bitrate/DTX/FEC)
	// to its router, read from Service.ListVoiceChannelCodecConfigs.
	Configure(channelID string, cfg models.OpusConfig)

	Close() error
}
