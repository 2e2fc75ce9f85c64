package hub

import (
	"context"
	"log/slog"

	"yankcord/internal/constants"
)

// handleSubscribeDM enforces thread membership (caller must be one of the
// two participants, spec §4.6) before subscribing.
func (h *Hub) handleSubscribeDM(ctx context.Context, c *Connection, raw []byte, log *slog.Logger) {
	identity := c.Identity()
	var in inSubscribeDM
	if err := decodePayload(raw, &in); err != nil {
		h.replyError(c.ID, "", "", ErrValidationFailed)
		return
	}
	dbCtx, cancel := context.WithTimeout(ctx, constants.PersistenceTimeout)
	thread, err := h.persistence.GetDMThread(dbCtx, in.ThreadID)
	cancel()
	if err != nil {
		h.replyError(c.ID, "", "", ErrNotFound)
		return
	}
	if thread.UserAID != identity.UserID && thread.UserBID != identity.UserID {
		h.replyError(c.ID, "", "", ErrForbidden)
		return
	}
	h.roomIndex.subscribeThread(c.ID, in.ThreadID)
}

func (h *Hub) handleSendDMMessage(ctx context.Context, c *Connection, raw []byte, log *slog.Logger) {
	identity := c.Identity()
	if allowed, shouldClose := c.limiter.allow(categoryChatSend); !allowed {
		h.replyError(c.ID, "", "", errRateLimited(string(categoryChatSend)))
		if shouldClose {
			c.closeAsync(constants.CloseRateAbuse, "rate_abuse")
		}
		return
	}
	var in inSendDMMessage
	if err := decodePayload(raw, &in); err != nil {
		h.replyError(c.ID, "", "", ErrValidationFailed)
		return
	}
	if err := checkTextLen(in.Content, constants.MaxTextContentBytes); err != nil {
		h.replyError(c.ID, "", "", ErrValidationFailed)
		return
	}

	dbCtx, cancel := context.WithTimeout(ctx, constants.PersistenceTimeout)
	thread, err := h.persistence.GetDMThread(dbCtx, in.ThreadID)
	cancel()
	if err != nil {
		h.replyError(c.ID, "", "", ErrNotFound)
		return
	}
	if thread.UserAID != identity.UserID && thread.UserBID != identity.UserID {
		h.replyError(c.ID, "", "", ErrForbidden)
		return
	}

	sanitized := h.sanitizer.sanitizeText(in.Content)

	dbCtx2, cancel2 := context.WithTimeout(ctx, constants.PersistenceTimeout)
	msg, err := h.persistence.InsertDMMessage(dbCtx2, in.ThreadID, identity.UserID, sanitized, in.Attachments)
	cancel2()
	if err != nil {
		log.Error("insert dm message failed", "err", err)
		h.replyError(c.ID, "", "", ErrInternal)
		return
	}

	dbCtx3, cancel3 := context.WithTimeout(ctx, constants.PersistenceTimeout)
	_ = h.persistence.UpsertDMReadState(dbCtx3, identity.UserID, in.ThreadID, msg.ID)
	cancel3()

	h.fabric.toThread(h.roomIndex, in.ThreadID, TypeNewDMMessage, newNewDMMessage(msg, *identity), "")

	recipient := thread.UserBID
	if identity.UserID == thread.UserBID {
		recipient = thread.UserAID
	}

	// dm_thread_updated reorders both members' thread lists, including a
	// member who hasn't subscribe_dm'd this thread yet, so it goes
	// directly to both usernames rather than through toThread's
	// subscriber-only fan-out (spec §4.6).
	recipients := []string{identity.Username}
	userCtx, cancelUser := context.WithTimeout(ctx, constants.PersistenceTimeout)
	recipientUser, err := h.persistence.GetUser(userCtx, recipient)
	cancelUser()
	if err == nil {
		recipients = append(recipients, recipientUser.Username)
	}
	h.fabric.toUsers(recipients, TypeDMThreadUpdated, newDMThreadUpdated(*thread))

	if err == nil {
		dbCtx4, cancel4 := context.WithTimeout(ctx, constants.PersistenceTimeout)
		unread, cerr := h.persistence.CountUnreadDM(dbCtx4, recipient, in.ThreadID)
		cancel4()
		if cerr == nil {
			h.fabric.toUsers([]string{recipientUser.Username}, TypeDMUnreadUpdated, newDMUnreadUpdated(in.ThreadID, unread))
		}
	}
}

func (h *Hub) handleEditDMMessage(ctx context.Context, c *Connection, raw []byte, log *slog.Logger) {
	identity := c.Identity()
	if allowed, shouldClose := c.limiter.allow(categoryChatSend); !allowed {
		h.replyError(c.ID, "", "", errRateLimited(string(categoryChatSend)))
		if shouldClose {
			c.closeAsync(constants.CloseRateAbuse, "rate_abuse")
		}
		return
	}
	var in inEditDMMessage
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
	msg, err := h.persistence.UpdateDMMessage(dbCtx, in.MessageID, identity.UserID, sanitized)
	cancel()
	if err != nil {
		h.replyError(c.ID, "", "", translatePersistenceErr(err))
		return
	}
	h.fabric.toThread(h.roomIndex, msg.ThreadID, TypeDMMessageEdited, newDMMessageEdited(msg), "")
}

func (h *Hub) handleDeleteDMMessage(ctx context.Context, c *Connection, raw []byte, log *slog.Logger) {
	identity := c.Identity()
	var in inDeleteDMMessage
	if err := decodePayload(raw, &in); err != nil {
		h.replyError(c.ID, "", "", ErrValidationFailed)
		return
	}
	dbCtx, cancel := context.WithTimeout(ctx, constants.PersistenceTimeout)
	msg, err := h.persistence.DeleteDMMessage(dbCtx, in.MessageID, identity.UserID)
	cancel()
	if err != nil {
		h.replyError(c.ID, "", "", translatePersistenceErr(err))
		return
	}
	h.fabric.toThread(h.roomIndex, msg.ThreadID, TypeDMMessageDeleted, newDMMessageDeleted(msg.ThreadID, msg.ID), "")
}

func (h *Hub) handleDMTyping(c *Connection, raw []byte, start bool, log *slog.Logger) {
	identity := c.Identity()
	if allowed, shouldClose := c.limiter.allow(categoryTyping); !allowed {
		h.replyError(c.ID, "", "", errRateLimited(string(categoryTyping)))
		if shouldClose {
			c.closeAsync(constants.CloseRateAbuse, "rate_abuse")
		}
		return
	}
	var in inDMTyping
	if err := decodePayload(raw, &in); err != nil {
		return
	}
	if !h.roomIndex.isSubscribedThread(c.ID, in.ThreadID) {
		return
	}
	var frame any
	frameType := TypeDMTypingStop
	if start {
		frame = newDMTypingStart(in.ThreadID, identity.Username)
		frameType = TypeDMTypingStart
	} else {
		frame = newDMTypingStop(in.ThreadID, identity.Username)
	}
	h.fabric.toThread(h.roomIndex, in.ThreadID, frameType, frame, c.ID)
}

func (h *Hub) handleDMRead(ctx context.Context, c *Connection, raw []byte, log *slog.Logger) {
	identity := c.Identity()
	var in inDMRead
	if err := decodePayload(raw, &in); err != nil {
		h.replyError(c.ID, "", "", ErrValidationFailed)
		return
	}
	if !h.roomIndex.isSubscribedThread(c.ID, in.ThreadID) {
		h.replyError(c.ID, "", "", ErrForbidden)
		return
	}
	dbCtx, cancel := context.WithTimeout(ctx, constants.PersistenceTimeout)
	err := h.persistence.UpsertDMReadState(dbCtx, identity.UserID, in.ThreadID, in.LastReadMessageID)
	cancel()
	if err != nil {
		h.replyError(c.ID, "", "", ErrInternal)
		return
	}
	h.fabric.toUsers([]string{identity.Username}, TypeDMUnreadUpdated, newDMUnreadUpdated(in.ThreadID, 0))
}
