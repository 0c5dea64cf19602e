// Package pg provides the PostgreSQL-backed stores, speaking database/sql
// over the pgx stdlib driver.
package pg

import (
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Store owns the shared connection pool.
type Store struct {
	db *sql.DB
}

// OpenOption tunes the connection pool.
type OpenOption func(*sql.DB)

// WithPoolLimits overrides the default open/idle connection limits.
// Non-positive values keep the defaults.
func WithPoolLimits(maxOpen, maxIdle int) OpenOption {
	return func(db *sql.DB) {
		if maxOpen > 0 {
			db.SetMaxOpenConns(maxOpen)
		}
		if maxIdle > 0 {
			db.SetMaxIdleConns(maxIdle)
		}
	}
}

// Open connects to PostgreSQL and tunes the pool.
func Open(dsn string, opts ...OpenOption) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	for _, opt := range opts {
		opt(db)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }
