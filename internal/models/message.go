package models

import "time"

type Reaction struct {
	Emoji   string   `json:"emoji"`
	UserIDs []string `json:"userIds"`
}

type MessageAttachment struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	MimeType string `json:"mimeType"`
	Size     int64  `json:"size"`
	URL      string `json:"url"`
}

// TextMessage belongs to a Channel (spec §3.1).
type TextMessage struct {
	ID          string              `json:"id"`
	ChannelID   string              `json:"channelId"`
	AuthorID    string              `json:"authorId"`
	Content     string              `json:"content"`
	CreatedAt   time.Time           `json:"createdAt"`
	EditedAt    *time.Time          `json:"editedAt,omitempty"`
	Attachments []MessageAttachment `json:"attachments,omitempty"`
	Reactions   []Reaction          `json:"reactions,omitempty"`
}

// DmThread is a canonical-ordered pair of users (spec §3.1):
// UserAID < UserBID lexically, so (a, b) and (b, a) resolve to one thread.
type DmThread struct {
	ID      string `json:"id"`
	UserAID string `json:"userAId"`
	UserBID string `json:"userBId"`
}

// DmMessage mirrors TextMessage but is scoped to a thread.
type DmMessage struct {
	ID          string              `json:"id"`
	ThreadID    string              `json:"threadId"`
	AuthorID    string              `json:"authorId"`
	Content     string              `json:"content"`
	CreatedAt   time.Time           `json:"createdAt"`
	EditedAt    *time.Time          `json:"editedAt,omitempty"`
	Attachments []MessageAttachment `json:"attachments,omitempty"`
}

// ReadState tracks a user's last-seen pointer within a channel or DM
// thread (spec §3.1). Scope is either a channel ID or a thread ID; callers
// distinguish by which repository method they used.
type ReadState struct {
	UserID            string    `json:"userId"`
	ScopeID           string    `json:"scopeId"`
	LastReadMessageID string    `json:"lastReadMessageId"`
	UpdatedAt         time.Time `json:"updatedAt"`
}
