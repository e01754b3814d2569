// Package storage keeps the pairing event log in SQLite.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	// Pure-Go driver, no CGO needed for cross-compiling the desktop build.
	_ "modernc.org/sqlite"

	apperrors "github.com/wagoo/bridge/internal/errors"
)

// DefaultMaxEvents is how many pairing events are kept.
const DefaultMaxEvents = 1000

// SQLiteStore is the SQLite-backed event log. It is safe for concurrent use.
type SQLiteStore struct {
	db  *sql.DB
	mu  sync.RWMutex
	log zerolog.Logger
}

// NewSQLiteStore opens or creates the database at path, creating the
// parent directory if needed. Use ":memory:" in tests.
func NewSQLiteStore(path string, log zerolog.Logger) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, apperrors.Wrap(apperrors.CodeStorageOpenFailed, "create database directory", err)
		}
	}
	log.Debug().Str("path", path).Msg("opening database")

	// busy_timeout covers the CLI reading history while the host writes.
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorageOpenFailed, "open database", err)
	}
	// One connection: every ":memory:" connection is a separate database.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, apperrors.Wrap(apperrors.CodeStorageOpenFailed, "ping database", err)
	}

	store := &SQLiteStore{db: db, log: log}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, apperrors.Wrap(apperrors.CodeStorageOpenFailed, fmt.Sprintf("init schema at %s", path), err)
	}

	log.Debug().Int("schema", currentSchemaVersion).Msg("database ready")
	return store, nil
}

// Close releases the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
