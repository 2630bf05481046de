// Package store provides snapshot persistence for conversation flows.
//
// This file implements a PostgreSQL-backed flow snapshot store.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	_ "github.com/lib/pq"

	"github.com/BTreeMap/ConvoFlow/internal/models"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

// LoadFlow returns the snapshot for userID.
func (s *PostgresStore) LoadFlow(ctx context.Context, userID string) (*models.ConversationFlow, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT snapshot FROM conversation_flows WHERE user_id = $1`, userID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		slog.Error("PostgresStore LoadFlow failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to load flow for %s: %w", userID, err)
	}
	return decodeFlow(userID, data)
}

// SaveFlow upserts flow; a stored snapshot with an equal or newer revision
// is left untouched.
func (s *PostgresStore) SaveFlow(ctx context.Context, flow *models.ConversationFlow) error {
	data, err := encodeFlow(flow)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO conversation_flows (user_id, session_id, current_state, revision, snapshot, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id) DO UPDATE SET
			session_id = EXCLUDED.session_id,
			current_state = EXCLUDED.current_state,
			revision = EXCLUDED.revision,
			snapshot = EXCLUDED.snapshot,
			updated_at = EXCLUDED.updated_at
		WHERE EXCLUDED.revision > conversation_flows.revision`,
		flow.UserID, flow.SessionID, string(flow.CurrentState), flow.Revision, string(data), flow.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore SaveFlow failed", "error", err, "userID", flow.UserID)
		return fmt.Errorf("failed to save flow for %s: %w", flow.UserID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		slog.Debug("PostgresStore SaveFlow skipped stale snapshot", "userID", flow.UserID, "revision", flow.Revision)
	}
	return nil
}

// DeleteFlow removes the snapshot for userID.
func (s *PostgresStore) DeleteFlow(ctx context.Context, userID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM conversation_flows WHERE user_id = $1`, userID)
	if err != nil {
		slog.Error("PostgresStore DeleteFlow failed", "error", err, "userID", userID)
		return fmt.Errorf("failed to delete flow for %s: %w", userID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListUsers returns every user with a snapshot, ordered by id.
func (s *PostgresStore) ListUsers(ctx context.Context) ([]string, error) {
	return listUsers(ctx, s.db, "PostgresStore")
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
