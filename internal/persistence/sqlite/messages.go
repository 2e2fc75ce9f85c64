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

// InsertMessage implements persistence.Service. seq is assigned as
// max(seq)+1 within the channel inside the same transaction that inserts
// the row, giving callers a stable per-channel ordering column independent
// of created_at (clock skew/collisions), mirroring the teacher's
// transactional counter pattern in internal/db.
func (s *Service) InsertMessage(ctx context.Context, channelID, authorID, content string, attachments []models.MessageAttachment) (*models.TextMessage, error) {
	id, err := generateID("msg")
	if err != nil {
		return nil, fmt.Errorf("generating message id: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE channel_id = ?`, channelID).Scan(&seq); err != nil {
		return nil, fmt.Errorf("computing next seq: %w", err)
	}

	now := time.Now()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO messages (id, seq, channel_id, author_id, content, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`, id, seq, channelID, authorID, content, now); err != nil {
		if isUniqueConstraintError(err) {
			return nil, persistence.ErrConflict
		}
		return nil, fmt.Errorf("inserting message: %w", err)
	}

	for i, a := range attachments {
		attID, err := generateID("att")
		if err != nil {
			return nil, fmt.Errorf("generating attachment id: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO message_attachments (id, message_id, name, mime_type, size, url)
			VALUES (?, ?, ?, ?, ?, ?)`, attID, id, a.Name, a.MimeType, a.Size, a.URL); err != nil {
			return nil, fmt.Errorf("inserting attachment: %w", err)
		}
		attachments[i].ID = attID
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing message insert: %w", err)
	}

	return &models.TextMessage{
		ID:          id,
		ChannelID:   channelID,
		AuthorID:    authorID,
		Content:     content,
		CreatedAt:   now,
		Attachments: attachments,
	}, nil
}

// UpdateMessage implements persistence.Service. Only the original author may
// edit (spec §4.5); the hub relies on this check rather than duplicating it.
func (s *Service) UpdateMessage(ctx context.Context, messageID, callerID, newContent string) (*models.TextMessage, error) {
	var authorID string
	if err := s.db.QueryRowContext(ctx, `SELECT author_id FROM messages WHERE id = ? AND deleted_at IS NULL`, messageID).Scan(&authorID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrNotFound
		}
		return nil, fmt.Errorf("loading message author: %w", err)
	}
	if authorID != callerID {
		return nil, persistence.ErrForbidden
	}

	now := time.Now()
	res, err := s.db.ExecContext(ctx, `UPDATE messages SET content = ?, edited_at = ? WHERE id = ? AND deleted_at IS NULL`, newContent, now, messageID)
	if err != nil {
		return nil, fmt.Errorf("updating message: %w", err)
	}
	if err := checkRowsAffected(res); err != nil {
		return nil, err
	}

	return s.getMessage(ctx, messageID)
}

// DeleteMessage implements persistence.Service. The author may always
// delete their own message; admins/operators may delete anyone's
// (spec §4.5's moderation carve-out).
func (s *Service) DeleteMessage(ctx context.Context, messageID, callerID string, callerRole models.Role) (*models.TextMessage, error) {
	msg, err := s.getMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.AuthorID != callerID && callerRole != models.RoleAdmin && callerRole != models.RoleOperator {
		return nil, persistence.ErrForbidden
	}

	res, err := s.db.ExecContext(ctx, `UPDATE messages SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`, time.Now(), messageID)
	if err != nil {
		return nil, fmt.Errorf("deleting message: %w", err)
	}
	if err := checkRowsAffected(res); err != nil {
		return nil, err
	}
	return msg, nil
}

// UpsertChannelRead implements persistence.Service, advancing a user's read
// pointer using the target message's seq so unread counts can be computed
// with a single indexed range query.
func (s *Service) UpsertChannelRead(ctx context.Context, userID, channelID, lastReadMessageID string) error {
	var seq int64
	if err := s.db.QueryRowContext(ctx, `SELECT seq FROM messages WHERE id = ? AND channel_id = ?`, lastReadMessageID, channelID).Scan(&seq); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return persistence.ErrNotFound
		}
		return fmt.Errorf("resolving read message seq: %w", err)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO read_states (user_id, scope_id, last_read_message_id, last_read_seq, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (user_id, scope_id) DO UPDATE SET
			last_read_message_id = excluded.last_read_message_id,
			last_read_seq = excluded.last_read_seq,
			updated_at = excluded.updated_at
		WHERE excluded.last_read_seq >= read_states.last_read_seq`,
		userID, channelID, lastReadMessageID, seq, time.Now())
	if err != nil {
		return fmt.Errorf("upserting channel read state: %w", err)
	}
	return nil
}

func (s *Service) getMessage(ctx context.Context, messageID string) (*models.TextMessage, error) {
	var m models.TextMessage
	var edited sql.NullTime
	if err := s.db.QueryRowContext(ctx, `
		SELECT id, channel_id, author_id, content, created_at, edited_at
		FROM messages WHERE id = ?`, messageID).Scan(&m.ID, &m.ChannelID, &m.AuthorID, &m.Content, &m.CreatedAt, &edited); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrNotFound
		}
		return nil, fmt.Errorf("loading message: %w", err)
	}
	m.EditedAt = nullTimeToPtr(edited)

	rows, err := s.db.QueryContext(ctx, `SELECT id, name, mime_type, size, url FROM message_attachments WHERE message_id = ?`, messageID)
	if err != nil {
		return nil, fmt.Errorf("loading attachments: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var a models.MessageAttachment
		if err := rows.Scan(&a.ID, &a.Name, &a.MimeType, &a.Size, &a.URL); err != nil {
			return nil, fmt.Errorf("scanning attachment: %w", err)
		}
		m.Attachments = append(m.Attachments, a)
	}
	return &m, rows.Err()
}
