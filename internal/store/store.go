// Package store persists tasks, clients, categories and task images in an
// embedded SQLite database. Every mutation is retried on transient
// busy/locked errors; reads are not retried.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmm-1987/agente/internal/logging"
	"github.com/jmm-1987/agente/internal/retry"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateClient is returned when a client's normalized name is taken.
	ErrDuplicateClient = errors.New("duplicate client")

	// ErrStoreBusy is returned when a write kept failing with busy/locked
	// errors until the retry policy gave up.
	ErrStoreBusy = errors.New("store busy")

	// ErrInvalidTransition is returned when a status change leaves a task
	// that is not open.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrCategoryInUse is returned when deleting a category tasks refer to.
	ErrCategoryInUse = errors.New("category in use")

	// ErrInvalidValue is returned for values outside a stored enum.
	ErrInvalidValue = errors.New("invalid value")
)

// Driver names accepted in Config.Driver.
const (
	DriverModernc = "sqlite"  // modernc.org/sqlite, pure Go
	DriverMattn   = "sqlite3" // github.com/mattn/go-sqlite3, cgo
)

// Config holds store settings.
type Config struct {
	Path         string        `yaml:"path"`
	Driver       string        `yaml:"driver"`
	BusyTimeout  time.Duration `yaml:"busy_timeout"`
	MaxOpenConns int           `yaml:"max_open_conns"`
	Retry        retry.Policy  `yaml:"retry"`
}

// DefaultConfig returns store defaults rooted at dataDir.
func DefaultConfig(dataDir string) Config {
	return Config{
		Path:        filepath.Join(dataDir, "agente.db"),
		Driver:      DriverModernc,
		BusyTimeout: 5 * time.Second,
		Retry:       retry.DefaultPolicy(),
	}
}

// BlobRemover deletes externally stored image blobs.
type BlobRemover interface {
	Remove(ctx context.Context, path string) error
}

// Store is the task repository.
type Store struct {
	db     *sql.DB
	cfg    Config
	blobs  BlobRemover
	log    *slog.Logger
	now    func() time.Time
	policy retry.Policy
}

// Open opens (creating if needed) the database at cfg.Path, verifies WAL
// mode and runs migrations. blobs may be nil when images are never copied
// locally.
func Open(cfg Config, blobs BlobRemover) (*Store, error) {
	if cfg.Driver == "" {
		cfg.Driver = DriverModernc
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dsn, err := buildDSN(cfg)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(cfg.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	if err := verifyWALMode(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	policy := cfg.Retry
	if policy.MaxAttempts < 1 {
		policy = retry.DefaultPolicy()
	}

	s := &Store{
		db:     db,
		cfg:    cfg,
		blobs:  blobs,
		log:    logging.WithComponent("store"),
		now:    time.Now,
		policy: policy,
	}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// buildDSN applies WAL, busy timeout and foreign keys on every pooled
// connection using each driver's DSN syntax.
func buildDSN(cfg Config) (string, error) {
	ms := cfg.BusyTimeout.Milliseconds()
	switch cfg.Driver {
	case DriverModernc:
		return fmt.Sprintf("%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", cfg.Path, ms), nil
	case DriverMattn:
		return fmt.Sprintf("%s?_busy_timeout=%d&_journal_mode=WAL&_foreign_keys=on", cfg.Path, ms), nil
	}
	return "", fmt.Errorf("unknown sqlite driver %q", cfg.Driver)
}

func verifyWALMode(db *sql.DB) error {
	var mode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		return fmt.Errorf("failed to read journal mode: %w", err)
	}
	if !strings.EqualFold(mode, "wal") {
		return fmt.Errorf("expected WAL journal mode, got %q", mode)
	}
	return nil
}

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS categories (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE,
			icon TEXT NOT NULL DEFAULT '',
			color TEXT NOT NULL DEFAULT '',
			display_name TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS clients (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE,
			normalized_name TEXT NOT NULL UNIQUE,
			aliases TEXT NOT NULL DEFAULT '[]',
			created_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS tasks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			owner_id INTEGER NOT NULL,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'open' CHECK (status IN ('open', 'completed', 'cancelled')),
			priority TEXT NOT NULL DEFAULT 'normal' CHECK (priority IN ('normal', 'urgent')),
			task_date DATETIME,
			client_id INTEGER REFERENCES clients(id) ON DELETE SET NULL,
			client_name_raw TEXT NOT NULL DEFAULT '',
			solution TEXT,
			ampliacion TEXT,
			category TEXT REFERENCES categories(name),
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS task_images (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			task_id INTEGER NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
			file_ref TEXT NOT NULL,
			storage_path TEXT,
			created_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_owner_status ON tasks(owner_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_client ON tasks(client_id)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_date ON tasks(task_date)`,
		`CREATE INDEX IF NOT EXISTS idx_task_images_task ON task_images(task_id)`,
		// Owner display name was added after the first release.
		`ALTER TABLE tasks ADD COLUMN owner_name TEXT NOT NULL DEFAULT ''`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			if strings.Contains(err.Error(), "duplicate column") {
				continue
			}
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	for _, c := range DefaultCategories {
		if _, err := s.db.Exec(
			`INSERT OR IGNORE INTO categories (name, icon, color, display_name) VALUES (?, ?, ?, ?)`,
			c.Name, c.Icon, c.Color, c.DisplayName,
		); err != nil {
			return fmt.Errorf("seed category %s: %w", c.Name, err)
		}
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.cfg.Path
}

// write runs a mutation under the retry policy. Exhaustion is reported as
// ErrStoreBusy; other errors pass through unchanged.
func (s *Store) write(ctx context.Context, op string, fn func() error) error {
	err := retry.Do(ctx, s.policy, isBusy, fn, func(attempt int, wait time.Duration, err error) {
		s.log.Debug("database busy, retrying",
			slog.String("op", op),
			slog.Int("attempt", attempt),
			slog.Duration("wait", wait),
			slog.Any("error", err))
	})
	if errors.Is(err, retry.ErrExhausted) {
		s.log.Warn("database busy, giving up",
			slog.String("op", op),
			slog.Int("attempts", s.policy.MaxAttempts),
			slog.Any("error", err))
		return fmt.Errorf("%s: %w: %w", op, ErrStoreBusy, err)
	}
	return err
}

// inTx runs fn in a transaction under the retry policy.
func (s *Store) inTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	return s.write(ctx, op, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if err := fn(tx); err != nil {
			_ = tx.Rollback()
			return err
		}
		return tx.Commit()
	})
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
