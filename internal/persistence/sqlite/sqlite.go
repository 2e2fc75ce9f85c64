// Package sqlite is the reference implementation of persistence.Service
// (SPEC_FULL §6.2): SQLite storage via mattn/go-sqlite3, schema migrated
// with pressly/goose/v3 embedded migrations, JWT issuance/verification
// with golang-jwt/jwt/v5, hand-written repository methods in the
// teacher's internal/db style (no ORM/sqlc).
package sqlite

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"

	"yankcord/internal/persistence"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Service implements persistence.Service. Grounded on the teacher's
// internal/db.DB (sqlite.go) + internal/auth.JWTService, merged into one
// type since the hub only ever sees the combined persistence.Service
// boundary.
type Service struct {
	db *sql.DB

	jwtSecret []byte

	mu       sync.RWMutex
	topology persistence.TopologyListener
}

// Config bundles the reference service's startup parameters.
type Config struct {
	DatabasePath string
	JWTSecret    string
}

func Open(cfg Config) (*Service, error) {
	dir := filepath.Dir(cfg.DatabasePath)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", cfg.DatabasePath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	s := &Service{db: db, jwtSecret: []byte(cfg.JWTSecret)}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

func (s *Service) migrate() error {
	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("setting goose dialect: %w", err)
	}
	if err := goose.Up(s.db, "migrations"); err != nil {
		return fmt.Errorf("applying goose migrations: %w", err)
	}
	return nil
}

func (s *Service) SetTopologyListener(fn persistence.TopologyListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.topology = fn
}

func (s *Service) Close() error {
	return s.db.Close()
}

// Ping satisfies the REST surface's HealthChecker interface.
func (s *Service) Ping() error {
	return s.db.Ping()
}
