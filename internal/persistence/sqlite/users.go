package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"yankcord/internal/models"
	"yankcord/internal/persistence"
)

// claims mirrors the teacher's auth.Claims: a thin wrapper around
// RegisteredClaims carrying just enough identity to reconstruct
// models.Identity without a database round trip on every frame.
type claims struct {
	UserID      string      `json:"user_id"`
	Username    string      `json:"username"`
	DisplayName string      `json:"display_name"`
	Role        models.Role `json:"role"`
	jwt.RegisteredClaims
}

const accessTokenTTL = 24 * time.Hour

// issueToken mirrors the teacher's auth.JWTService.GenerateTokenPair,
// reduced to a single long-lived access token since refresh-token
// rotation is REST-surface scope, a spec Non-goal here.
func (s *Service) issueToken(u *models.User) (string, error) {
	now := time.Now()
	c := claims{
		UserID:      u.ID,
		Username:    u.Username,
		DisplayName: u.DisplayName,
		Role:        u.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(accessTokenTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return token.SignedString(s.jwtSecret)
}

// VerifyToken implements persistence.Service (spec §6.2).
func (s *Service) VerifyToken(ctx context.Context, tokenStr string) (models.Identity, error) {
	parsed, err := jwt.ParseWithClaims(tokenStr, &claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method")
		}
		return s.jwtSecret, nil
	})
	if err != nil || !parsed.Valid {
		return models.Identity{}, persistence.ErrInvalid
	}
	c, ok := parsed.Claims.(*claims)
	if !ok {
		return models.Identity{}, persistence.ErrInvalid
	}
	var avatarURL *string
	row := s.db.QueryRowContext(ctx, `SELECT avatar_url FROM users WHERE id = ?`, c.UserID)
	var av sql.NullString
	if err := row.Scan(&av); err == nil && av.Valid {
		avatarURL = &av.String
	}
	return models.Identity{
		UserID:      c.UserID,
		Username:    c.Username,
		DisplayName: c.DisplayName,
		AvatarURL:   avatarURL,
		Role:        c.Role,
	}, nil
}

// Login implements persistence.Service's REST bootstrap path.
func (s *Service) Login(ctx context.Context, username, password string) (string, models.Identity, error) {
	var u models.User
	var passwordHash string
	var av sql.NullString
	row := s.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, display_name, avatar_url, role
		FROM users WHERE username = ? COLLATE NOCASE`, username)
	if err := row.Scan(&u.ID, &u.Username, &passwordHash, &u.DisplayName, &av, &u.Role); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", models.Identity{}, persistence.ErrInvalid
		}
		return "", models.Identity{}, fmt.Errorf("querying user: %w", err)
	}
	if av.Valid {
		u.AvatarURL = &av.String
	}
	if err := bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(password)); err != nil {
		return "", models.Identity{}, persistence.ErrInvalid
	}
	token, err := s.issueToken(&u)
	if err != nil {
		return "", models.Identity{}, fmt.Errorf("issuing token: %w", err)
	}
	return token, models.Identity{
		UserID:      u.ID,
		Username:    u.Username,
		DisplayName: u.DisplayName,
		AvatarURL:   u.AvatarURL,
		Role:        u.Role,
	}, nil
}

// GetUser implements persistence.Service.
func (s *Service) GetUser(ctx context.Context, userID string) (*models.User, error) {
	var u models.User
	var av, desc, status sql.NullString
	var updatedAt sql.NullTime
	row := s.db.QueryRowContext(ctx, `
		SELECT id, username, display_name, avatar_url, role, description, status_text, created_at, updated_at
		FROM users WHERE id = ?`, userID)
	if err := row.Scan(&u.ID, &u.Username, &u.DisplayName, &av, &u.Role, &desc, &status, &u.CreatedAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrNotFound
		}
		return nil, fmt.Errorf("querying user: %w", err)
	}
	if av.Valid {
		u.AvatarURL = &av.String
	}
	u.Description = desc.String
	u.StatusText = status.String
	u.UpdatedAt = nullTimeToPtr(updatedAt)
	return &u, nil
}
