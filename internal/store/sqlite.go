// Package store provides snapshot persistence for conversation flows.
//
// This file implements an SQLite-backed flow snapshot store.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "embed"

	_ "github.com/mattn/go-sqlite3"

	"github.com/BTreeMap/ConvoFlow/internal/models"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		db.Close()
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

// LoadFlow returns the snapshot for userID.
func (s *SQLiteStore) LoadFlow(ctx context.Context, userID string) (*models.ConversationFlow, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT snapshot FROM conversation_flows WHERE user_id = ?`, userID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		slog.Error("SQLiteStore LoadFlow failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to load flow for %s: %w", userID, err)
	}
	return decodeFlow(userID, data)
}

// SaveFlow upserts flow; a stored snapshot with an equal or newer revision
// is left untouched.
func (s *SQLiteStore) SaveFlow(ctx context.Context, flow *models.ConversationFlow) error {
	data, err := encodeFlow(flow)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO conversation_flows (user_id, session_id, current_state, revision, snapshot, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			session_id = excluded.session_id,
			current_state = excluded.current_state,
			revision = excluded.revision,
			snapshot = excluded.snapshot,
			updated_at = excluded.updated_at
		WHERE excluded.revision > conversation_flows.revision`,
		flow.UserID, flow.SessionID, string(flow.CurrentState), flow.Revision, string(data), flow.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore SaveFlow failed", "error", err, "userID", flow.UserID)
		return fmt.Errorf("failed to save flow for %s: %w", flow.UserID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		slog.Debug("SQLiteStore SaveFlow skipped stale snapshot", "userID", flow.UserID, "revision", flow.Revision)
	}
	return nil
}

// DeleteFlow removes the snapshot for userID.
func (s *SQLiteStore) DeleteFlow(ctx context.Context, userID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM conversation_flows WHERE user_id = ?`, userID)
	if err != nil {
		slog.Error("SQLiteStore DeleteFlow failed", "error", err, "userID", userID)
		return fmt.Errorf("failed to delete flow for %s: %w", userID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListUsers returns every user with a snapshot, ordered by id.
func (s *SQLiteStore) ListUsers(ctx context.Context) ([]string, error) {
	return listUsers(ctx, s.db, "SQLiteStore")
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func listUsers(ctx context.Context, db *sql.DB, name string) ([]string, error) {
	rows, err := db.QueryContext(ctx, `SELECT user_id FROM conversation_flows ORDER BY user_id`)
	if err != nil {
		slog.Error(name+" ListUsers query failed", "error", err)
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan user row: %w", err)
		}
		users = append(users, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate user rows: %w", err)
	}
	return users, nil
}
