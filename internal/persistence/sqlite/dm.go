package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"yankcord/internal/models"
	"yankcord/internal/persistence"
)

// canonicalPair orders two user ids lexically so (a, b) and (b, a) always
// resolve to the same dm_threads row (spec §3.1's DmThread ordering).
func canonicalPair(userAID, userBID string) (string, string) {
	if userAID <= userBID {
		return userAID, userBID
	}
	return userBID, userAID
}

// GetOrCreateDMThread implements persistence.Service.
func (s *Service) GetOrCreateDMThread(ctx context.Context, userAID, userBID string) (*models.DmThread, bool, error) {
	a, b := canonicalPair(userAID, userBID)

	thread, err := s.getDMThreadByMembers(ctx, a, b)
	if err == nil {
		return thread, false, nil
	}
	if !errors.Is(err, persistence.ErrNotFound) {
		return nil, false, err
	}

	id, err := generateID("dm")
	if err != nil {
		return nil, false, fmt.Errorf("generating dm thread id: %w", err)
	}
	now := time.Now()
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO dm_threads (id, user_a_id, user_b_id, created_at) VALUES (?, ?, ?, ?)`,
		id, a, b, now); err != nil {
		if isUniqueConstraintError(err) {
			// Lost a create race; the winner's row is now visible.
			thread, err := s.getDMThreadByMembers(ctx, a, b)
			return thread, false, err
		}
		return nil, false, fmt.Errorf("inserting dm thread: %w", err)
	}
	return &models.DmThread{ID: id, UserAID: a, UserBID: b}, true, nil
}

func (s *Service) getDMThreadByMembers(ctx context.Context, a, b string) (*models.DmThread, error) {
	var t models.DmThread
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_a_id, user_b_id FROM dm_threads WHERE user_a_id = ? AND user_b_id = ?`, a, b).
		Scan(&t.ID, &t.UserAID, &t.UserBID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying dm thread: %w", err)
	}
	return &t, nil
}

// GetDMThread implements persistence.Service.
func (s *Service) GetDMThread(ctx context.Context, threadID string) (*models.DmThread, error) {
	var t models.DmThread
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_a_id, user_b_id FROM dm_threads WHERE id = ?`, threadID).
		Scan(&t.ID, &t.UserAID, &t.UserBID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying dm thread: %w", err)
	}
	return &t, nil
}

// InsertDMMessage implements persistence.Service, mirroring InsertMessage's
// per-thread seq counter.
func (s *Service) InsertDMMessage(ctx context.Context, threadID, authorID, content string, attachments []models.MessageAttachment) (*models.DmMessage, error) {
	id, err := generateID("dmmsg")
	if err != nil {
		return nil, fmt.Errorf("generating dm message id: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM dm_messages WHERE thread_id = ?`, threadID).Scan(&seq); err != nil {
		return nil, fmt.Errorf("computing next seq: %w", err)
	}

	now := time.Now()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO dm_messages (id, seq, thread_id, author_id, content, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`, id, seq, threadID, authorID, content, now); err != nil {
		if isUniqueConstraintError(err) {
			return nil, persistence.ErrConflict
		}
		return nil, fmt.Errorf("inserting dm message: %w", err)
	}

	for i, a := range attachments {
		attID, err := generateID("dmatt")
		if err != nil {
			return nil, fmt.Errorf("generating attachment id: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO dm_message_attachments (id, dm_message_id, name, mime_type, size, url)
			VALUES (?, ?, ?, ?, ?, ?)`, attID, id, a.Name, a.MimeType, a.Size, a.URL); err != nil {
			return nil, fmt.Errorf("inserting dm attachment: %w", err)
		}
		attachments[i].ID = attID
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing dm message insert: %w", err)
	}

	return &models.DmMessage{
		ID:          id,
		ThreadID:    threadID,
		AuthorID:    authorID,
		Content:     content,
		CreatedAt:   now,
		Attachments: attachments,
	}, nil
}

// UpdateDMMessage implements persistence.Service.
func (s *Service) UpdateDMMessage(ctx context.Context, messageID, callerID, newContent string) (*models.DmMessage, error) {
	var authorID string
	if err := s.db.QueryRowContext(ctx, `SELECT author_id FROM dm_messages WHERE id = ? AND deleted_at IS NULL`, messageID).Scan(&authorID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrNotFound
		}
		return nil, fmt.Errorf("loading dm message author: %w", err)
	}
	if authorID != callerID {
		return nil, persistence.ErrForbidden
	}

	now := time.Now()
	res, err := s.db.ExecContext(ctx, `UPDATE dm_messages SET content = ?, edited_at = ? WHERE id = ? AND deleted_at IS NULL`, newContent, now, messageID)
	if err != nil {
		return nil, fmt.Errorf("updating dm message: %w", err)
	}
	if err := checkRowsAffected(res); err != nil {
		return nil, err
	}
	return s.getDMMessage(ctx, messageID)
}

// DeleteDMMessage implements persistence.Service. Unlike channel messages,
// DMs have no moderator carve-out (spec §4.6): only the author may delete.
func (s *Service) DeleteDMMessage(ctx context.Context, messageID, callerID string) (*models.DmMessage, error) {
	msg, err := s.getDMMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.AuthorID != callerID {
		return nil, persistence.ErrForbidden
	}

	res, err := s.db.ExecContext(ctx, `UPDATE dm_messages SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`, time.Now(), messageID)
	if err != nil {
		return nil, fmt.Errorf("deleting dm message: %w", err)
	}
	if err := checkRowsAffected(res); err != nil {
		return nil, err
	}
	return msg, nil
}

// UpsertDMReadState implements persistence.Service.
func (s *Service) UpsertDMReadState(ctx context.Context, userID, threadID, lastReadMessageID string) error {
	var seq int64
	if err := s.db.QueryRowContext(ctx, `SELECT seq FROM dm_messages WHERE id = ? AND thread_id = ?`, lastReadMessageID, threadID).Scan(&seq); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return persistence.ErrNotFound
		}
		return fmt.Errorf("resolving dm read message seq: %w", err)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO read_states (user_id, scope_id, last_read_message_id, last_read_seq, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (user_id, scope_id) DO UPDATE SET
			last_read_message_id = excluded.last_read_message_id,
			last_read_seq = excluded.last_read_seq,
			updated_at = excluded.updated_at
		WHERE excluded.last_read_seq >= read_states.last_read_seq`,
		userID, threadID, lastReadMessageID, seq, time.Now())
	if err != nil {
		return fmt.Errorf("upserting dm read state: %w", err)
	}
	return nil
}

// CountUnreadDM implements persistence.Service; the hub uses it to send a
// DM's recipient their dm_unread_updated count after send_dm_message
// (spec §4.6).
func (s *Service) CountUnreadDM(ctx context.Context, userID, threadID string) (int, error) {
	var lastSeq sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT last_read_seq FROM read_states WHERE user_id = ? AND scope_id = ?`, userID, threadID).Scan(&lastSeq)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("loading dm read state: %w", err)
	}

	var count int
	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM dm_messages
		WHERE thread_id = ? AND deleted_at IS NULL AND author_id != ? AND seq > ?`,
		threadID, userID, lastSeq.Int64).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting unread dm messages: %w", err)
	}
	return count, nil
}

func (s *Service) getDMMessage(ctx context.Context, messageID string) (*models.DmMessage, error) {
	var m models.DmMessage
	var edited sql.NullTime
	if err := s.db.QueryRowContext(ctx, `
		SELECT id, thread_id, author_id, content, created_at, edited_at
		FROM dm_messages WHERE id = ?`, messageID).Scan(&m.ID, &m.ThreadID, &m.AuthorID, &m.Content, &m.CreatedAt, &edited); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrNotFound
		}
		return nil, fmt.Errorf("loading dm message: %w", err)
	}
	m.EditedAt = nullTimeToPtr(edited)

	rows, err := s.db.QueryContext(ctx, `SELECT id, name, mime_type, size, url FROM dm_message_attachments WHERE dm_message_id = ?`, messageID)
	if err != nil {
		return nil, fmt.Errorf("loading dm attachments: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var a models.MessageAttachment
		if err := rows.Scan(&a.ID, &a.Name, &a.MimeType, &a.Size, &a.URL); err != nil {
			return nil, fmt.Errorf("scanning dm attachment: %w", err)
		}
		m.Attachments = append(m.Attachments, a)
	}
	return &m, rows.Err()
}
