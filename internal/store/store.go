// Package store implements PostgreSQL persistence for newsletters and
// clients, plus the read-only analytics aggregations. Delivery rows and
// campaign events have their own owners (internal/queue, internal/events);
// this package holds the shared connection setup and schema.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "embed"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// Sentinel errors for the store layer.
var (
	ErrNewsletterNotFound = errors.New("newsletter not found")
	ErrClientNotFound     = errors.New("client not found")
)

//go:embed schema.sql
var schemaSQL string

// Store wraps the database handle. All methods are safe for concurrent use.
type Store struct {
	db *sql.DB
}

// New opens a PostgreSQL connection pool with the given settings.
func New(url string, maxOpen, maxIdle int, connMaxLifetime time.Duration) (*Store, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(connMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing handle (used by tests with sqlmock).
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

// DB exposes the underlying handle for components that own their own SQL.
func (s *Store) DB() *sql.DB { return s.db }

// Migrate applies the embedded schema. Idempotent: every statement uses
// IF NOT EXISTS.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close closes the connection pool.
func (s *Store) Close() error { return s.db.Close() }
