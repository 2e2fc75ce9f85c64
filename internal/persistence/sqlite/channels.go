package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"yankcord/internal/models"
	"yankcord/internal/persistence"
)

// GetChannel implements persistence.Service.
func (s *Service) GetChannel(ctx context.Context, channelID string) (*models.Channel, error) {
	ch, err := s.scanChannel(s.db.QueryRowContext(ctx, `
		SELECT id, kind, name, position, opus_bitrate, opus_dtx, opus_fec
		FROM channels WHERE id = ?`, channelID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrNotFound
		}
		return nil, fmt.Errorf("querying channel: %w", err)
	}
	return ch, nil
}

// ListChannels implements persistence.Service.
func (s *Service) ListChannels(ctx context.Context) ([]models.Channel, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, name, position, opus_bitrate, opus_dtx, opus_fec
		FROM channels ORDER BY position, id`)
	if err != nil {
		return nil, fmt.Errorf("listing channels: %w", err)
	}
	defer rows.Close()

	var out []models.Channel
	for rows.Next() {
		ch, err := s.scanChannel(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning channel: %w", err)
		}
		out = append(out, *ch)
	}
	return out, rows.Err()
}

// ListVoiceChannelCodecConfigs implements persistence.Service, feeding the
// SFU reference engine's per-channel Router configuration.
func (s *Service) ListVoiceChannelCodecConfigs(ctx context.Context) (map[string]models.OpusConfig, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, opus_bitrate, opus_dtx, opus_fec
		FROM channels WHERE kind = 'voice'`)
	if err != nil {
		return nil, fmt.Errorf("listing voice channel codec configs: %w", err)
	}
	defer rows.Close()

	out := make(map[string]models.OpusConfig)
	for rows.Next() {
		var id string
		var bitrate sql.NullInt64
		var dtx, fec sql.NullBool
		if err := rows.Scan(&id, &bitrate, &dtx, &fec); err != nil {
			return nil, fmt.Errorf("scanning voice channel codec config: %w", err)
		}
		cfg := models.OpusConfig{Bitrate: defaultOpusBitrate}
		if bitrate.Valid {
			cfg.Bitrate = int(bitrate.Int64)
		}
		cfg.DTX = dtx.Valid && dtx.Bool
		cfg.FEC = fec.Valid && fec.Bool
		out[id] = cfg
	}
	return out, rows.Err()
}

// defaultOpusBitrate is the fallback Opus bitrate (bps) for voice
// channels that were created without an explicit override.
const defaultOpusBitrate = 32000

// rowScanner abstracts *sql.Row and *sql.Rows so scanChannel serves both
// GetChannel (single row) and ListChannels (cursor).
type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Service) scanChannel(row rowScanner) (*models.Channel, error) {
	var ch models.Channel
	var bitrate sql.NullInt64
	var dtx, fec sql.NullBool
	if err := row.Scan(&ch.ID, &ch.Kind, &ch.Name, &ch.Position, &bitrate, &dtx, &fec); err != nil {
		return nil, err
	}
	if bitrate.Valid {
		b := int(bitrate.Int64)
		ch.OpusBitrate = &b
	}
	if dtx.Valid {
		ch.OpusDTX = &dtx.Bool
	}
	if fec.Valid {
		ch.OpusFEC = &fec.Bool
	}
	return &ch, nil
}
