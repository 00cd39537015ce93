package store

import (
	"database/sql"
)

// Store wraps the SQLite handle with typed queries. All methods are
// safe for concurrent use; the single-connection pool serialises
// writes.
type Store struct {
	db *sql.DB
}

// New creates a Store on an opened, migrated database.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for lifecycle operations
// (WAL checkpoint on shutdown, Close).
func (s *Store) DB() *sql.DB {
	return s.db
}
