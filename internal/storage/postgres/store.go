// Package postgres provides the durable backends the core can optionally
// attach: chat-turn appends grouped by calendar day, per-user settings, and a
// pgvector-backed semantic index over past turns.
//
// Everything shares a single [pgxpool.Pool]. The database is optional — when
// no DSN is configured the in-memory rings and stores are authoritative and
// this package is never constructed.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/mentravox/mentravox/internal/history"
	"github.com/mentravox/mentravox/internal/settings"
)

// Compile-time interface checks.
var (
	_ history.Store  = (*HistoryStore)(nil)
	_ settings.Store = (*SettingsStore)(nil)
)

// querier is the subset of pgxpool.Pool the sub-stores need. Narrowing to an
// interface lets tests substitute a pgxmock pool.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store is the PostgreSQL-backed durable layer. Obtain the sub-stores via
// [Store.History], [Store.Settings] and [Store.TurnIndex]. All operations are
// safe for concurrent use.
type Store struct {
	pool      *pgxpool.Pool
	hist      *HistoryStore
	settings  *SettingsStore
	turnIndex *TurnIndex
}

// New connects to the database at dsn, registers pgvector types on every
// connection, and ensures the schema exists. embeddingDimensions must match
// the configured embeddings model; it only shapes the turn-index column and a
// zero value skips that table entirely.
func New(ctx context.Context, dsn string, embeddingDimensions int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}
	if embeddingDimensions > 0 {
		cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
			return pgxvec.RegisterTypes(ctx, conn)
		}
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	if err := Migrate(ctx, pool, embeddingDimensions); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}

	s := &Store{
		pool:     pool,
		hist:     &HistoryStore{db: pool},
		settings: &SettingsStore{db: pool},
	}
	if embeddingDimensions > 0 {
		s.turnIndex = &TurnIndex{db: pool}
	}
	return s, nil
}

// History returns the durable chat-turn append store.
func (s *Store) History() *HistoryStore { return s.hist }

// Settings returns the per-user settings store.
func (s *Store) Settings() *SettingsStore { return s.settings }

// TurnIndex returns the semantic turn index, or nil when the store was
// created without embedding dimensions.
func (s *Store) TurnIndex() *TurnIndex { return s.turnIndex }

// Ping probes the database. Used by the readiness endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}
