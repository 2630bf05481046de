// Package store provides snapshot persistence for conversation flows.
//
// It includes an in-memory store plus SQLite, PostgreSQL and Badger backed
// stores. Every backend keeps at most one snapshot per user and ignores
// saves whose revision is not newer than the stored one.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/BTreeMap/ConvoFlow/internal/models"
)

// ErrNotFound is returned when no snapshot exists for a user.
var ErrNotFound = errors.New("flow snapshot not found")

// FlowStore is implemented by every snapshot backend.
type FlowStore interface {
	LoadFlow(ctx context.Context, userID string) (*models.ConversationFlow, error)
	SaveFlow(ctx context.Context, flow *models.ConversationFlow) error
	DeleteFlow(ctx context.Context, userID string) error
	ListUsers(ctx context.Context) ([]string, error)
	Close() error
}

// Opts holds configuration options for the stores.
type Opts struct {
	DSN            string
	BadgerInMemory bool
}

// Option defines a configuration option for the stores.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithBadgerDir sets the Badger data directory. A "badger://" prefix is
// accepted and stripped.
func WithBadgerDir(dir string) Option {
	return func(o *Opts) { o.DSN = strings.TrimPrefix(dir, badgerScheme) }
}

// WithBadgerInMemory runs Badger without touching disk.
func WithBadgerInMemory() Option {
	return func(o *Opts) { o.BadgerInMemory = true }
}

const badgerScheme = "badger://"

// MemoryDSN explicitly selects the in-memory store.
const MemoryDSN = "memory://"

// DSN types reported by DetectDSNType.
const (
	DSNTypeMemory   = "memory"
	DSNTypeSQLite   = "sqlite"
	DSNTypePostgres = "postgres"
	DSNTypeBadger   = "badger"
)

// DetectDSNType classifies a DSN: empty or "memory://" selects the
// in-memory store, "badger://" a Badger directory, postgres URLs or
// key/value connection strings PostgreSQL, and anything else an SQLite
// file path.
func DetectDSNType(dsn string) string {
	switch {
	case dsn == "" || dsn == MemoryDSN:
		return DSNTypeMemory
	case strings.HasPrefix(dsn, badgerScheme):
		return DSNTypeBadger
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"),
		strings.Contains(dsn, "host=") || strings.Contains(dsn, "dbname="):
		return DSNTypePostgres
	default:
		return DSNTypeSQLite
	}
}

// Open returns the store selected by DetectDSNType(dsn).
func Open(dsn string) (FlowStore, error) {
	kind := DetectDSNType(dsn)
	slog.Debug("store.Open: selecting backend", "dsnType", kind)
	switch kind {
	case DSNTypeMemory:
		return NewInMemoryStore(), nil
	case DSNTypeBadger:
		return NewBadgerStore(WithBadgerDir(dsn))
	case DSNTypePostgres:
		return NewPostgresStore(WithPostgresDSN(dsn))
	default:
		return NewSQLiteStore(WithSQLiteDSN(dsn))
	}
}

func encodeFlow(flow *models.ConversationFlow) ([]byte, error) {
	if flow == nil || flow.UserID == "" {
		return nil, fmt.Errorf("snapshot must name a user")
	}
	data, err := json.Marshal(flow)
	if err != nil {
		return nil, fmt.Errorf("failed to encode flow for %s: %w", flow.UserID, err)
	}
	return data, nil
}

func decodeFlow(userID string, data []byte) (*models.ConversationFlow, error) {
	var flow models.ConversationFlow
	if err := json.Unmarshal(data, &flow); err != nil {
		return nil, fmt.Errorf("failed to decode flow for %s: %w", userID, err)
	}
	return &flow, nil
}

// InMemoryStore keeps encoded snapshots in a map. Snapshots are stored
// encoded so callers never share memory with the store.
type InMemoryStore struct {
	mu        sync.RWMutex
	snapshots map[string]memSnapshot
}

type memSnapshot struct {
	revision int64
	data     []byte
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{snapshots: make(map[string]memSnapshot)}
}

// LoadFlow returns the snapshot for userID.
func (s *InMemoryStore) LoadFlow(ctx context.Context, userID string) (*models.ConversationFlow, error) {
	s.mu.RLock()
	snap, ok := s.snapshots[userID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return decodeFlow(userID, snap.data)
}

// SaveFlow stores flow unless a snapshot with an equal or newer revision
// already exists.
func (s *InMemoryStore) SaveFlow(ctx context.Context, flow *models.ConversationFlow) error {
	data, err := encodeFlow(flow)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.snapshots[flow.UserID]; ok && cur.revision >= flow.Revision {
		slog.Debug("InMemoryStore SaveFlow skipped stale snapshot", "userID", flow.UserID, "revision", flow.Revision, "stored", cur.revision)
		return nil
	}
	s.snapshots[flow.UserID] = memSnapshot{revision: flow.Revision, data: data}
	return nil
}

// DeleteFlow removes the snapshot for userID.
func (s *InMemoryStore) DeleteFlow(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.snapshots[userID]; !ok {
		return ErrNotFound
	}
	delete(s.snapshots, userID)
	return nil
}

// ListUsers returns every user with a snapshot, in no particular order.
func (s *InMemoryStore) ListUsers(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	users := make([]string, 0, len(s.snapshots))
	for id := range s.snapshots {
		users = append(users, id)
	}
	return users, nil
}

// Close is a no-op.
func (s *InMemoryStore) Close() error { return nil }
