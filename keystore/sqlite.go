package keystore

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore persists keys in a single-table sqlite database, repurposing
// the teacher's storage dependency (internal/store/store.go uses
// mattn/go-sqlite3 for vehicle-state history) from a time-series log to a
// small durable key/value table for auth-token persistence.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if absent) a sqlite database at path and
// ensures the backing table exists.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("keystore: open sqlite: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("keystore: enable WAL: %w", err)
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS ddp_keystore (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)
	`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("keystore: init schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// GetItem implements ddp.KeyStorage.
func (s *SQLiteStore) GetItem(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM ddp_keystore WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("keystore: get %q: %w", key, err)
	}
	return value, true, nil
}

// SetItem implements ddp.KeyStorage.
func (s *SQLiteStore) SetItem(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO ddp_keystore (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("keystore: set %q: %w", key, err)
	}
	return nil
}

// RemoveItem implements ddp.KeyStorage.
func (s *SQLiteStore) RemoveItem(key string) error {
	_, err := s.db.Exec(`DELETE FROM ddp_keystore WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("keystore: remove %q: %w", key, err)
	}
	return nil
}
