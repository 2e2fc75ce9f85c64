package hub

import (
	"encoding/json"
	"time"

	"yankcord/internal/models"
)

// Frame type discriminators (spec §6.1). snake_case on the wire, matching
// the teacher's ws/types.go Event*/Cmd* constant block.
const (
	// Client → server.
	TypeAuthenticate     = "authenticate"
	TypeSubscribeChannel = "subscribe_channel"
	TypeSendMessage      = "send_message"
	TypeEditMessage      = "edit_message"
	TypeDeleteMessage    = "delete_message"
	TypeTypingStart      = "typing_start"
	TypeTypingStop       = "typing_stop"
	TypeChannelRead      = "channel_read"
	TypeSubscribeDM      = "subscribe_dm"
	TypeSendDMMessage    = "send_dm_message"
	TypeEditDMMessage    = "edit_dm_message"
	TypeDeleteDMMessage  = "delete_dm_message"
	TypeTypingStartDM    = "typing_start_dm"
	TypeTypingStopDM     = "typing_stop_dm"
	TypeDMRead           = "dm_read"
	TypeJoinVoice        = "join_voice"
	TypeLeaveVoice       = "leave_voice"
	TypeVoiceActivity    = "voice_activity"
	TypeVoiceMuteState   = "voice_mute_state"
	TypeMediaSignal      = "media_signal"

	// Server → client.
	TypePresenceSnapshot      = "presence_snapshot"
	TypeVoicePresenceSnapshot = "voice_presence_snapshot"
	TypeUserConnected         = "user_connected"
	TypeUserDisconnected      = "user_disconnected"
	TypeNewMessage            = "new_message"
	TypeMessageEdited         = "message_edited"
	TypeMessageDeleted        = "message_deleted"
	TypeChannelCreated        = "channel_created"
	TypeChannelDeleted        = "channel_deleted"
	TypeChannelActivity       = "channel_activity"
	TypeChannelUnreadUpdated  = "channel_unread_updated"
	TypeVoiceUserJoined       = "voice_user_joined"
	TypeVoiceUserLeft         = "voice_user_left"
	TypeVoiceUserSpeaking     = "voice_user_speaking"
	TypeVoiceUserMuteState    = "voice_user_mute_state"
	TypeVoiceJoined           = "voice_joined"
	TypeNewDMMessage          = "new_dm_message"
	TypeDMMessageEdited       = "dm_message_edited"
	TypeDMMessageDeleted      = "dm_message_deleted"
	TypeDMTypingStart         = "dm_typing_start"
	TypeDMTypingStop          = "dm_typing_stop"
	TypeDMThreadCreated       = "dm_thread_created"
	TypeDMThreadUpdated       = "dm_thread_updated"
	TypeDMUnreadUpdated       = "dm_unread_updated"
	TypeSignalError           = "signal_error"
)

// Media signaling actions (spec §4.8), carried in media_signal.payload.action.
const (
	ActionGetRouterRTPCapabilities = "get_router_rtp_capabilities"
	ActionRouterRTPCapabilities    = "router_rtp_capabilities"
	ActionCreateWebRTCTransport    = "create_webrtc_transport"
	ActionWebRTCTransportCreated   = "webrtc_transport_created"
	ActionConnectWebRTCTransport   = "connect_webrtc_transport"
	ActionWebRTCTransportConnected = "webrtc_transport_connected"
	ActionMediaProduce             = "media_produce"
	ActionMediaProduced            = "media_produced"
	ActionMediaCloseProducer       = "media_close_producer"
	ActionMediaProducerClosed      = "media_producer_closed"
	ActionProducerClosed           = "producer_closed"
	ActionMediaConsume             = "media_consume"
	ActionMediaConsumerCreated     = "media_consumer_created"
	ActionMediaResumeConsumer      = "media_resume_consumer"
	ActionMediaConsumerResumed     = "media_consumer_resumed"
	ActionCreateNativeSenderSess   = "create_native_sender_session"
	ActionNativeSenderSessCreated  = "native_sender_session_created"
	ActionNewProducer              = "new_producer"
	ActionClientDiagnostic         = "client_diagnostic"
)

// envelope carries the field every frame shares. Embedded anonymously so
// json.Marshal promotes Type/RequestID/ChannelID alongside each payload's
// own fields into one flat object, matching the snake_case wire shape of
// §4.1 without a nested "data" wrapper.
type envelope struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id,omitempty"`
	ChannelID string `json:"channel_id,omitempty"`
}

// peekEnvelope is unmarshalled first from every inbound frame to read the
// discriminator and (if present) request_id/channel_id before the full
// payload-specific struct is decoded.
type peekEnvelope struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id,omitempty"`
	ChannelID string `json:"channel_id,omitempty"`
}

// --- Inbound payloads ---

type inAuthenticate struct {
	Token string `json:"token"`
}

type inSubscribeChannel struct {
	ChannelID string `json:"channel_id"`
}

type inSendMessage struct {
	ChannelID   string                     `json:"channel_id"`
	Content     string                     `json:"content"`
	Attachments []models.MessageAttachment `json:"attachments,omitempty"`
}

type inEditMessage struct {
	MessageID string `json:"message_id"`
	Content   string `json:"content"`
}

type inDeleteMessage struct {
	MessageID string `json:"message_id"`
}

type inTyping struct {
	ChannelID string `json:"channel_id"`
}

type inChannelRead struct {
	ChannelID         string `json:"channel_id"`
	LastReadMessageID string `json:"last_read_message_id"`
}

type inSubscribeDM struct {
	ThreadID string `json:"thread_id"`
}

type inSendDMMessage struct {
	ThreadID    string                     `json:"thread_id"`
	Content     string                     `json:"content"`
	Attachments []models.MessageAttachment `json:"attachments,omitempty"`
}

type inEditDMMessage struct {
	MessageID string `json:"message_id"`
	Content   string `json:"content"`
}

type inDeleteDMMessage struct {
	MessageID string `json:"message_id"`
}

type inDMTyping struct {
	ThreadID string `json:"thread_id"`
}

type inDMRead struct {
	ThreadID          string `json:"thread_id"`
	LastReadMessageID string `json:"last_read_message_id"`
}

type inJoinVoice struct {
	ChannelID string `json:"channel_id"`
}

type inVoiceActivity struct {
	ChannelID string `json:"channel_id"`
	Speaking  bool   `json:"speaking"`
}

type inVoiceMuteState struct {
	MicMuted     bool `json:"mic_muted"`
	SpeakerMuted bool `json:"speaker_muted"`
}

// inMediaSignal is the top-level media_signal envelope; Payload is decoded
// a second time against the action-specific struct once Action is known.
type inMediaSignal struct {
	ChannelID string          `json:"channel_id"`
	RequestID string          `json:"request_id"`
	Payload   json.RawMessage `json:"payload"`
}

type mediaActionPeek struct {
	Action string `json:"action"`
}

type payloadGetRouterRTPCapabilities struct {
	Action string `json:"action"`
}

type payloadCreateWebRTCTransport struct {
	Action    string `json:"action"`
	Direction string `json:"direction"`
}

type payloadConnectWebRTCTransport struct {
	Action         string          `json:"action"`
	TransportID    string          `json:"transport_id"`
	DTLSParameters json.RawMessage `json:"dtls_parameters"`
}

type payloadMediaProduce struct {
	Action        string          `json:"action"`
	Kind          string          `json:"kind"`
	RTPParameters json.RawMessage `json:"rtp_parameters"`
	Source        string          `json:"source"`
	RoutingMode   string          `json:"routing_mode"`
}

type payloadMediaCloseProducer struct {
	Action      string `json:"action"`
	ProducerID  string `json:"producer_id"`
	Source      string `json:"source"`
	RoutingMode string `json:"routing_mode"`
}

type payloadMediaConsume struct {
	Action          string          `json:"action"`
	ProducerID      string          `json:"producer_id"`
	RTPCapabilities json.RawMessage `json:"rtp_capabilities"`
}

type payloadMediaResumeConsumer struct {
	Action     string `json:"action"`
	ConsumerID string `json:"consumer_id"`
}

type payloadCreateNativeSenderSession struct {
	Action          string   `json:"action"`
	PreferredCodecs []string `json:"preferred_codecs,omitempty"`
}

type payloadClientDiagnostic struct {
	Action string `json:"action"`
	Event  string `json:"event"`
	Detail string `json:"detail,omitempty"`
}

// --- Outbound payloads ---

type PresenceUser struct {
	UserID      string  `json:"user_id"`
	Username    string  `json:"username"`
	DisplayName string  `json:"display_name"`
	AvatarURL   *string `json:"avatar_url,omitempty"`
}

type outPresenceSnapshot struct {
	envelope
	Users []PresenceUser `json:"users"`
}

func newPresenceSnapshot(users []PresenceUser) *outPresenceSnapshot {
	return &outPresenceSnapshot{envelope: envelope{Type: TypePresenceSnapshot}, Users: users}
}

type VoiceChannelPresence struct {
	ChannelID string                          `json:"channel_id"`
	Members   map[string]models.VoicePresence `json:"members"`
}

type outVoicePresenceSnapshot struct {
	envelope
	Channels []VoiceChannelPresence `json:"channels"`
}

func newVoicePresenceSnapshot(channels []VoiceChannelPresence) *outVoicePresenceSnapshot {
	return &outVoicePresenceSnapshot{envelope: envelope{Type: TypeVoicePresenceSnapshot}, Channels: channels}
}

type outUserConnected struct {
	envelope
	Username    string  `json:"username"`
	DisplayName string  `json:"display_name"`
	AvatarURL   *string `json:"avatar_url,omitempty"`
}

func newUserConnected(u models.Identity) *outUserConnected {
	return &outUserConnected{
		envelope:    envelope{Type: TypeUserConnected},
		Username:    u.Username,
		DisplayName: u.DisplayName,
		AvatarURL:   u.AvatarURL,
	}
}

type outUserDisconnected struct {
	envelope
	Username string `json:"username"`
}

func newUserDisconnected(username string) *outUserDisconnected {
	return &outUserDisconnected{envelope: envelope{Type: TypeUserDisconnected}, Username: username}
}

type outNewMessage struct {
	envelope
	ID                string                     `json:"id"`
	AuthorID          string                     `json:"author_id"`
	AuthorUsername    string                     `json:"author_username"`
	AuthorDisplayName string                     `json:"author_display_name"`
	Content           string                     `json:"content"`
	CreatedAt         time.Time                  `json:"created_at"`
	Attachments       []models.MessageAttachment `json:"attachments,omitempty"`
}

func newNewMessage(channelID string, msg *models.TextMessage, author models.Identity) *outNewMessage {
	return &outNewMessage{
		envelope:          envelope{Type: TypeNewMessage, ChannelID: channelID},
		ID:                msg.ID,
		AuthorID:          author.UserID,
		AuthorUsername:    author.Username,
		AuthorDisplayName: author.DisplayName,
		Content:           msg.Content,
		CreatedAt:         msg.CreatedAt,
		Attachments:       msg.Attachments,
	}
}

type outMessageEdited struct {
	envelope
	ID       string     `json:"id"`
	Content  string     `json:"content"`
	EditedAt *time.Time `json:"edited_at,omitempty"`
}

func newMessageEdited(channelID string, msg *models.TextMessage) *outMessageEdited {
	return &outMessageEdited{
		envelope: envelope{Type: TypeMessageEdited, ChannelID: channelID},
		ID:       msg.ID,
		Content:  msg.Content,
		EditedAt: msg.EditedAt,
	}
}

type outMessageDeleted struct {
	envelope
	ID string `json:"id"`
}

func newMessageDeleted(channelID, id string) *outMessageDeleted {
	return &outMessageDeleted{envelope: envelope{Type: TypeMessageDeleted, ChannelID: channelID}, ID: id}
}

type outChannelActivity struct {
	envelope
	LastMessageID string `json:"last_message_id"`
}

func newChannelActivity(channelID, lastMessageID string) *outChannelActivity {
	return &outChannelActivity{
		envelope:      envelope{Type: TypeChannelActivity, ChannelID: channelID},
		LastMessageID: lastMessageID,
	}
}

// outChannelUnreadUpdated is the text-channel twin of dm_unread_updated,
// sent only to the reader after a successful channel_read (spec §4.5).
type outChannelUnreadUpdated struct {
	envelope
	UnreadCount int `json:"unread_count"`
}

func newChannelUnreadUpdated(channelID string, count int) *outChannelUnreadUpdated {
	return &outChannelUnreadUpdated{
		envelope:    envelope{Type: TypeChannelUnreadUpdated, ChannelID: channelID},
		UnreadCount: count,
	}
}

type outChannelTopology struct {
	envelope
	Channel models.Channel `json:"channel"`
}

func newChannelCreated(ch models.Channel) *outChannelTopology {
	return &outChannelTopology{envelope: envelope{Type: TypeChannelCreated, ChannelID: ch.ID}, Channel: ch}
}

func newChannelDeleted(ch models.Channel) *outChannelTopology {
	return &outChannelTopology{envelope: envelope{Type: TypeChannelDeleted, ChannelID: ch.ID}, Channel: ch}
}

type outTyping struct {
	envelope
	Username string `json:"username"`
}

func newTypingStart(channelID, username string) *outTyping {
	return &outTyping{envelope: envelope{Type: TypeTypingStart, ChannelID: channelID}, Username: username}
}

func newTypingStop(channelID, username string) *outTyping {
	return &outTyping{envelope: envelope{Type: TypeTypingStop, ChannelID: channelID}, Username: username}
}

type outVoiceUserJoined struct {
	envelope
	Username     string `json:"username"`
	MicMuted     bool   `json:"mic_muted"`
	SpeakerMuted bool   `json:"speaker_muted"`
}

func newVoiceUserJoined(channelID, username string) *outVoiceUserJoined {
	return &outVoiceUserJoined{
		envelope: envelope{Type: TypeVoiceUserJoined, ChannelID: channelID},
		Username: username,
	}
}

type outVoiceUserLeft struct {
	envelope
	Username string `json:"username"`
}

func newVoiceUserLeft(channelID, username string) *outVoiceUserLeft {
	return &outVoiceUserLeft{envelope: envelope{Type: TypeVoiceUserLeft, ChannelID: channelID}, Username: username}
}

type outVoiceUserSpeaking struct {
	envelope
	Username string `json:"username"`
	Speaking bool   `json:"speaking"`
}

func newVoiceUserSpeaking(channelID, username string, speaking bool) *outVoiceUserSpeaking {
	return &outVoiceUserSpeaking{
		envelope: envelope{Type: TypeVoiceUserSpeaking, ChannelID: channelID},
		Username: username,
		Speaking: speaking,
	}
}

type outVoiceUserMuteState struct {
	envelope
	Username     string `json:"username"`
	MicMuted     bool   `json:"mic_muted"`
	SpeakerMuted bool   `json:"speaker_muted"`
}

func newVoiceUserMuteState(channelID, username string, mic, speaker bool) *outVoiceUserMuteState {
	return &outVoiceUserMuteState{
		envelope:     envelope{Type: TypeVoiceUserMuteState, ChannelID: channelID},
		Username:     username,
		MicMuted:     mic,
		SpeakerMuted: speaker,
	}
}

type outVoiceJoined struct {
	envelope
}

func newVoiceJoined(channelID string) *outVoiceJoined {
	return &outVoiceJoined{envelope: envelope{Type: TypeVoiceJoined, ChannelID: channelID}}
}

type outNewDMMessage struct {
	envelope
	ThreadID          string                     `json:"thread_id"`
	ID                string                     `json:"id"`
	AuthorID          string                     `json:"author_id"`
	AuthorUsername    string                     `json:"author_username"`
	AuthorDisplayName string                     `json:"author_display_name"`
	Content           string                     `json:"content"`
	CreatedAt         time.Time                  `json:"created_at"`
	Attachments       []models.MessageAttachment `json:"attachments,omitempty"`
}

func newNewDMMessage(msg *models.DmMessage, author models.Identity) *outNewDMMessage {
	return &outNewDMMessage{
		envelope:          envelope{Type: TypeNewDMMessage},
		ThreadID:          msg.ThreadID,
		ID:                msg.ID,
		AuthorID:          author.UserID,
		AuthorUsername:    author.Username,
		AuthorDisplayName: author.DisplayName,
		Content:           msg.Content,
		CreatedAt:         msg.CreatedAt,
		Attachments:       msg.Attachments,
	}
}

type outDMMessageEdited struct {
	envelope
	ThreadID string     `json:"thread_id"`
	ID       string     `json:"id"`
	Content  string     `json:"content"`
	EditedAt *time.Time `json:"edited_at,omitempty"`
}

func newDMMessageEdited(msg *models.DmMessage) *outDMMessageEdited {
	return &outDMMessageEdited{
		envelope: envelope{Type: TypeDMMessageEdited},
		ThreadID: msg.ThreadID,
		ID:       msg.ID,
		Content:  msg.Content,
		EditedAt: msg.EditedAt,
	}
}

type outDMMessageDeleted struct {
	envelope
	ThreadID string `json:"thread_id"`
	ID       string `json:"id"`
}

func newDMMessageDeleted(threadID, id string) *outDMMessageDeleted {
	return &outDMMessageDeleted{envelope: envelope{Type: TypeDMMessageDeleted}, ThreadID: threadID, ID: id}
}

type outDMTyping struct {
	envelope
	ThreadID string `json:"thread_id"`
	Username string `json:"username"`
}

func newDMTypingStart(threadID, username string) *outDMTyping {
	return &outDMTyping{envelope: envelope{Type: TypeDMTypingStart}, ThreadID: threadID, Username: username}
}

func newDMTypingStop(threadID, username string) *outDMTyping {
	return &outDMTyping{envelope: envelope{Type: TypeDMTypingStop}, ThreadID: threadID, Username: username}
}

type outDMThreadEvent struct {
	envelope
	Thread models.DmThread `json:"thread"`
}

func newDMThreadCreated(t models.DmThread) *outDMThreadEvent {
	return &outDMThreadEvent{envelope: envelope{Type: TypeDMThreadCreated}, Thread: t}
}

func newDMThreadUpdated(t models.DmThread) *outDMThreadEvent {
	return &outDMThreadEvent{envelope: envelope{Type: TypeDMThreadUpdated}, Thread: t}
}

type outDMUnreadUpdated struct {
	envelope
	ThreadID    string `json:"thread_id"`
	UnreadCount int    `json:"unread_count"`
}

func newDMUnreadUpdated(threadID string, count int) *outDMUnreadUpdated {
	return &outDMUnreadUpdated{envelope: envelope{Type: TypeDMUnreadUpdated}, ThreadID: threadID, UnreadCount: count}
}

// outMediaSignal wraps an arbitrary action payload the way media_signal
// frames do on the wire: channel_id/request_id at the envelope level,
// the action-specific body under "payload".
type outMediaSignal struct {
	envelope
	Payload any `json:"payload"`
}

func newMediaSignal(channelID, requestID string, payload any) *outMediaSignal {
	return &outMediaSignal{
		envelope: envelope{Type: TypeMediaSignal, ChannelID: channelID, RequestID: requestID},
		Payload:  payload,
	}
}

type outSignalError struct {
	envelope
	Kind       string `json:"kind"`
	Message    string `json:"message,omitempty"`
	RetryAfter int    `json:"retry_after,omitempty"`
}

func newSignalError(channelID, requestID string, e *Error) *outSignalError {
	return &outSignalError{
		envelope: envelope{Type: TypeSignalError, ChannelID: channelID, RequestID: requestID},
		Kind:     e.Kind,
		Message:  e.Message,
	}
}
