// Package persistence defines the boundary interface to the external
// Persistence & Auth Service (spec §6.2) and ships a SQLite-backed
// reference implementation under persistence/sqlite so the binary runs
// standalone. The hub only ever depends on the Service interface.
package persistence

import (
	"context"
	"errors"

	"yankcord/internal/models"
)

// Sentinel errors, returned by every repository-style method below and
// translated by the hub into wire-stable error kinds (spec §7). Grounded
// on the teacher's internal/db sentinel-error convention
// (db.ErrNotFound/db.ErrDuplicate).
var (
	ErrNotFound  = errors.New("persistence: not found")
	ErrForbidden = errors.New("persistence: forbidden")
	ErrConflict  = errors.New("persistence: conflict")
	ErrInvalid   = errors.New("persistence: invalid token or credential")
)

// TopologyListener is the hook through which a Service implementation
// reports a channel created or deleted out of band (e.g. via a REST admin
// surface), so the hub can broadcast channel_created/channel_deleted
// without polling (SPEC_FULL §3, "Channel lifecycle events"). The SQLite
// reference implementation stores the listener but has no channel
// create/delete path, so it never calls it.
type TopologyListener func(ch models.Channel, deleted bool)

// Service is the hub's only dependency on durable storage and identity
// verification (spec §6.2), extended with the channel/DM operations the
// chat and DM dispatchers need (SPEC_FULL §6.2).
type Service interface {
	VerifyToken(ctx context.Context, token string) (models.Identity, error)
	// Login is the minimal REST bootstrap path (SPEC_FULL §2 C13): it is
	// not part of the hub's own wire protocol, which only ever calls
	// VerifyToken.
	Login(ctx context.Context, username, password string) (token string, identity models.Identity, err error)

	GetChannel(ctx context.Context, channelID string) (*models.Channel, error)
	ListChannels(ctx context.Context) ([]models.Channel, error)
	ListVoiceChannelCodecConfigs(ctx context.Context) (map[string]models.OpusConfig, error)
	SetTopologyListener(fn TopologyListener)

	InsertMessage(ctx context.Context, channelID, authorID, content string, attachments []models.MessageAttachment) (*models.TextMessage, error)
	UpdateMessage(ctx context.Context, messageID, callerID, newContent string) (*models.TextMessage, error)
	DeleteMessage(ctx context.Context, messageID, callerID string, callerRole models.Role) (*models.TextMessage, error)
	UpsertChannelRead(ctx context.Context, userID, channelID, lastReadMessageID string) error

	GetOrCreateDMThread(ctx context.Context, userAID, userBID string) (thread *models.DmThread, created bool, err error)
	GetDMThread(ctx context.Context, threadID string) (*models.DmThread, error)
	InsertDMMessage(ctx context.Context, threadID, authorID, content string, attachments []models.MessageAttachment) (*models.DmMessage, error)
	UpdateDMMessage(ctx context.Context, messageID, callerID, newContent string) (*models.DmMessage, error)
	DeleteDMMessage(ctx context.Context, messageID, callerID string) (*models.DmMessage, error)
	UpsertDMReadState(ctx context.Context, userID, threadID, lastReadMessageID string) error
	CountUnreadDM(ctx context.Context, userID, threadID string) (int, error)

	GetUser(ctx context.Context, userID string) (*models.User, error)

	// Ping reports whether the backing store is reachable; surfaced by the
	// REST health endpoint.
	Ping() error
	Close() error
}
