package models

// VoicePresence is one member's state within a voice channel (spec §3.1).
type VoicePresence struct {
	Username     string `json:"username"`
	MicMuted     bool   `json:"micMuted"`
	SpeakerMuted bool   `json:"speakerMuted"`
	Speaking     bool   `json:"speaking"`
}
