package hub

import (
	"context"
	"log/slog"

	"yankcord/internal/constants"
	"yankcord/internal/models"
)

// handleSubscribeChannel implements the subscribe_channel row of spec
// §4.5: the channel must exist and be text-kind.
func (h *Hub) handleSubscribeChannel(ctx context.Context, c *Connection, raw []byte, log *slog.Logger) {
	var in inSubscribeChannel
	if err := decodePayload(raw, &in); err != nil {
		h.replyError(c.ID, "", "", ErrValidationFailed)
		return
	}
	dbCtx, cancel := context.WithTimeout(ctx, constants.PersistenceTimeout)
	ch, err := h.persistence.GetChannel(dbCtx, in.ChannelID)
	cancel()
	if err != nil {
		h.replyError(c.ID, in.ChannelID, "", ErrNotFound)
		return
	}
	if ch.Kind != models.ChannelKindText {
		h.replyError(c.ID, in.ChannelID, "", ErrValidationFailed)
		return
	}
	h.roomIndex.subscribeChannel(c.ID, in.ChannelID)
}

// handleSendMessage: persist then broadcast (persistence happens-before
// broadcast, spec §5 ordering guarantee).
func (h *Hub) handleSendMessage(ctx context.Context, c *Connection, raw []byte, log *slog.Logger) {
	identity := c.Identity()
	if allowed, shouldClose := c.limiter.allow(categoryChatSend); !allowed {
		h.replyError(c.ID, "", "", errRateLimited(string(categoryChatSend)))
		if shouldClose {
			c.closeAsync(constants.CloseRateAbuse, "rate_abuse")
		}
		return
	}

	var in inSendMessage
	if err := decodePayload(raw, &in); err != nil {
		h.replyError(c.ID, in.ChannelID, "", ErrValidationFailed)
		return
	}
	if !h.roomIndex.isSubscribed(c.ID, in.ChannelID) {
		h.replyError(c.ID, in.ChannelID, "", ErrForbidden)
		return
	}
	if err := checkTextLen(in.Content, constants.MaxTextContentBytes); err != nil {
		h.replyError(c.ID, in.ChannelID, "", ErrValidationFailed)
		return
	}

	sanitized := h.sanitizer.sanitizeText(in.Content)

	dbCtx, cancel := context.WithTimeout(ctx, constants.PersistenceTimeout)
	msg, err := h.persistence.InsertMessage(dbCtx, in.ChannelID, identity.UserID, sanitized, in.Attachments)
	cancel()
	if err != nil {
		log.Error("insert message failed", "err", err)
		h.replyError(c.ID, in.ChannelID, "", ErrInternal)
		return
	}

	dbCtx2, cancel2 := context.WithTimeout(ctx, constants.PersistenceTimeout)
	_ = h.persistence.UpsertChannelRead(dbCtx2, identity.UserID, in.ChannelID, msg.ID)
	cancel2()

	h.fabric.toChannel(h.roomIndex, in.ChannelID, TypeNewMessage, newNewMessage(in.ChannelID, msg, *identity), "")

	// Open Question 2: fire channel_activity to every authenticated
	// connection that is NOT currently subscribed to this channel, so its
	// channel list can show an activity dot without a full fan-out.
	h.notifyChannelActivity(in.ChannelID, msg.ID)
}

// notifyChannelActivity implements the resolved Open Question 2 semantics
// (SPEC_FULL §9): text-channel-only, delivered to every authenticated,
// non-subscribed connection.
func (h *Hub) notifyChannelActivity(channelID, lastMessageID string) {
	subscribed := make(map[string]struct{})
	for _, id := range h.roomIndex.channelSubscribers(channelID) {
		subscribed[id] = struct{}{}
	}
	h.registry.mu.RLock()
	targets := make([]string, 0, len(h.registry.connections))
	for id, conn := range h.registry.connections {
		if conn.State() != stateAuthenticated {
			continue
		}
		if _, ok := subscribed[id]; ok {
			continue
		}
		targets = append(targets, id)
	}
	h.registry.mu.RUnlock()

	frame := newChannelActivity(channelID, lastMessageID)
	for _, id := range targets {
		h.fabric.toConnection(id, TypeChannelActivity, frame)
	}
}

func (h *Hub) handleEditMessage(ctx context.Context, c *Connection, raw []byte, log *slog.Logger) {
	identity := c.Identity()
	if allowed, shouldClose := c.limiter.allow(categoryChatSend); !allowed {
		h.replyError(c.ID, "", "", errRateLimited(string(categoryChatSend)))
		if shouldClose {
			c.closeAsync(constants.CloseRateAbuse, "rate_abuse")
		}
		return
	}
	var in inEditMessage
	if err := decodePayload(raw, &in); err != nil {
		h.replyError(c.ID, "", "", ErrValidationFailed)
		return
	}
	if err := checkTextLen(in.Content, constants.MaxTextContentBytes); err != nil {
		h.replyError(c.ID, "", "", ErrValidationFailed)
		return
	}
	sanitized := h.sanitizer.sanitizeText(in.Content)

	dbCtx, cancel := context.WithTimeout(ctx, constants.PersistenceTimeout)
	msg, err := h.persistence.UpdateMessage(dbCtx, in.MessageID, identity.UserID, sanitized)
	cancel()
	if err != nil {
		h.replyError(c.ID, "", "", translatePersistenceErr(err))
		return
	}
	h.fabric.toChannel(h.roomIndex, msg.ChannelID, TypeMessageEdited, newMessageEdited(msg.ChannelID, msg), "")
}

func (h *Hub) handleDeleteMessage(ctx context.Context, c *Connection, raw []byte, log *slog.Logger) {
	identity := c.Identity()
	var in inDeleteMessage
	if err := decodePayload(raw, &in); err != nil {
		h.replyError(c.ID, "", "", ErrValidationFailed)
		return
	}
	dbCtx, cancel := context.WithTimeout(ctx, constants.PersistenceTimeout)
	msg, err := h.persistence.DeleteMessage(dbCtx, in.MessageID, identity.UserID, identity.Role)
	cancel()
	if err != nil {
		h.replyError(c.ID, "", "", translatePersistenceErr(err))
		return
	}
	h.fabric.toChannel(h.roomIndex, msg.ChannelID, TypeMessageDeleted, newMessageDeleted(msg.ChannelID, msg.ID), "")
}

// handleTyping implements Open Question 3 (excluded sender) and the
// low-priority typing_start/typing_stop pair (spec §4.5).
func (h *Hub) handleTyping(c *Connection, raw []byte, start bool, log *slog.Logger) {
	identity := c.Identity()
	if allowed, shouldClose := c.limiter.allow(categoryTyping); !allowed {
		h.replyError(c.ID, "", "", errRateLimited(string(categoryTyping)))
		if shouldClose {
			c.closeAsync(constants.CloseRateAbuse, "rate_abuse")
		}
		return
	}
	var in inTyping
	if err := decodePayload(raw, &in); err != nil {
		return
	}
	if !h.roomIndex.isSubscribed(c.ID, in.ChannelID) {
		return
	}
	var frame any
	frameType := TypeTypingStop
	if start {
		frame = newTypingStart(in.ChannelID, identity.Username)
		frameType = TypeTypingStart
	} else {
		frame = newTypingStop(in.ChannelID, identity.Username)
	}
	h.fabric.toChannel(h.roomIndex, in.ChannelID, frameType, frame, c.ID)
}

func (h *Hub) handleChannelRead(ctx context.Context, c *Connection, raw []byte, log *slog.Logger) {
	identity := c.Identity()
	var in inChannelRead
	if err := decodePayload(raw, &in); err != nil {
		h.replyError(c.ID, in.ChannelID, "", ErrValidationFailed)
		return
	}
	if !h.roomIndex.isSubscribed(c.ID, in.ChannelID) {
		h.replyError(c.ID, in.ChannelID, "", ErrForbidden)
		return
	}
	dbCtx, cancel := context.WithTimeout(ctx, constants.PersistenceTimeout)
	err := h.persistence.UpsertChannelRead(dbCtx, identity.UserID, in.ChannelID, in.LastReadMessageID)
	cancel()
	if err != nil {
		h.replyError(c.ID, in.ChannelID, "", ErrInternal)
		return
	}
	// Only the reader learns its unread count dropped to zero (spec §4.5).
	h.fabric.toConnection(c.ID, TypeChannelUnreadUpdated, newChannelUnreadUpdated(in.ChannelID, 0))
}
