package models

// ProducerKind distinguishes audio from video producers (spec §3.1).
type ProducerKind string

const (
	ProducerKindAudio ProducerKind = "audio"
	ProducerKindVideo ProducerKind = "video"
)

// ProducerSource distinguishes the three video/audio origins the spec's
// per-source limits (§3.2) are enforced against.
type ProducerSource string

const (
	SourceMicrophone ProducerSource = "microphone"
	SourceCamera     ProducerSource = "camera"
	SourceScreen     ProducerSource = "screen"
)

// TransportDirection: a connection gets at most one send and one recv
// transport per voice channel (spec §4.8).
type TransportDirection string

const (
	DirectionSend TransportDirection = "send"
	DirectionRecv TransportDirection = "recv"
)

// TransportKind: webrtc (ICE/DTLS/SRTP) or plain (raw RTP/UDP, used for
// native-desktop screen-share ingest per spec's PlainTransport glossary
// entry).
type TransportKind string

const (
	TransportKindWebRTC TransportKind = "webrtc"
	TransportKindPlain  TransportKind = "plain"
)

// RoutingMode is carried on produce/close-producer requests; the spec
// requires it be exactly "sfu".
const RoutingModeSFU = "sfu"
