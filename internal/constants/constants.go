// Package constants holds wire-stable values shared across the hub,
// persistence reference service, and SFU reference engine.
package constants

import "time"

// Wire-stable error kinds (spec §7). These strings are part of the client
// contract and must never change meaning once shipped.
const (
	ErrKindUnauthenticated     = "unauthenticated"
	ErrKindForbidden           = "forbidden"
	ErrKindNotFound            = "not_found"
	ErrKindConflict            = "conflict"
	ErrKindPayloadTooLarge     = "payload_too_large"
	ErrKindRateLimited         = "rate_limited"
	ErrKindValidationFailed    = "validation_failed"
	ErrKindAlreadyInVoice      = "already_in_voice"
	ErrKindNotInVoice          = "not_in_voice"
	ErrKindUnknownAction       = "unknown_action"
	ErrKindUnsupportedCodec    = "unsupported_codec"
	ErrKindTimeout             = "timeout"
	ErrKindUpstreamUnavailable = "upstream_unavailable"
	ErrKindInternal            = "internal"
)

// Close codes (spec §6.1).
const (
	CloseUnauthenticated  = 4001
	CloseProtocolError    = 4002
	CloseSlowConsumer     = 4003
	CloseRateAbuse        = 4004
	CloseHeartbeatTimeout = 4005
	CloseEvicted          = 4006
)

// Size caps (spec §4.1).
const (
	MaxFrameBytes            = 64 * 1024
	MaxMediaSignalPayload    = 32 * 1024
	MaxTextContentBytes      = 4 * 1024
	MaxUsernameLen           = 32
	MaxChannelNameLen        = 64
	MaxProfileDescriptionLen = 280
	MaxProfileStatusLen      = 80
)

// Timing budgets (spec §3.3, §5).
const (
	AuthTimeout        = 10 * time.Second
	PingPeriod         = 15 * time.Second
	PongTimeout        = 20 * time.Second
	SlowConsumerWindow = 10 * time.Second
	PersistenceTimeout = 5 * time.Second
	SFUTimeout         = 5 * time.Second
	RequestTimeout     = 10 * time.Second
)

// Resource policy constants (spec §4.2, §5).
const (
	OutboundQueueCapacity   = 256
	InternalErrorBurstLimit = 3
	InternalErrorWindow     = 30 * time.Second
)

// IDRandomBytes is the amount of entropy behind generated entity IDs
// (e.g. "msg_<hex>"), matching the teacher's internal/db/ids.go scheme.
const IDRandomBytes = 16

// RTPPacketBufferBytes sizes the read buffers used when forwarding RTP/RTCP
// packets between tracks, matching the teacher's sfu/peer.go buffers.
const RTPPacketBufferBytes = 1500

// ConsumerSlotsPerKind bounds how many sendonly transceivers a recv
// Transport pre-negotiates per media kind (pionengine/transport.go), since
// the wire protocol has no renegotiation frame to add m-lines later.
const ConsumerSlotsPerKind = 16

// Rate bucket parameters (spec §4.9).
type BucketConfig struct {
	Capacity int
	Window   time.Duration
}

var (
	BucketAuth          = BucketConfig{Capacity: 5, Window: time.Minute}
	BucketChatSend      = BucketConfig{Capacity: 15, Window: 10 * time.Second}
	BucketTyping        = BucketConfig{Capacity: 30, Window: 10 * time.Second}
	BucketMediaSignal   = BucketConfig{Capacity: 80, Window: 5 * time.Second}
	BucketVoiceActivity = BucketConfig{Capacity: 40, Window: 5 * time.Second}
)

// RateCloseMultiplier: repeated violations at >= this multiple of a
// bucket's capacity within its window trigger a connection close (4004).
const RateCloseMultiplier = 3
