// Package store provides snapshot persistence for conversation flows.
//
// This file implements a Badger-backed flow snapshot store.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"

	"github.com/dgraph-io/badger/v4"

	"github.com/BTreeMap/ConvoFlow/internal/models"
)

// flowKeyPrefix namespaces snapshot keys.
const flowKeyPrefix = "flow/"

// BadgerStore keeps one snapshot per user in an embedded Badger database.
type BadgerStore struct {
	db *badger.DB
}

type badgerLogger struct{}

func (badgerLogger) Errorf(format string, args ...interface{}) {
	slog.Error(fmt.Sprintf("badger: "+format, args...))
}

func (badgerLogger) Warningf(format string, args ...interface{}) {
	slog.Warn(fmt.Sprintf("badger: "+format, args...))
}

func (badgerLogger) Infof(format string, args ...interface{}) {
	slog.Debug(fmt.Sprintf("badger: "+format, args...))
}

func (badgerLogger) Debugf(format string, args ...interface{}) {}

// NewBadgerStore opens (or creates) a Badger database in the configured
// directory, or in memory with WithBadgerInMemory.
func NewBadgerStore(opts ...Option) (*BadgerStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewBadgerStore invoked", "dir_set", cfg.DSN != "", "inMemory", cfg.BadgerInMemory)

	var bopts badger.Options
	if cfg.BadgerInMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.DSN == "" {
			slog.Error("BadgerStore directory not set")
			return nil, fmt.Errorf("badger directory not set")
		}
		if err := os.MkdirAll(cfg.DSN, DefaultDirPermissions); err != nil {
			slog.Error("Failed to create badger directory", "error", err, "dir", cfg.DSN)
			return nil, fmt.Errorf("failed to create badger directory: %w", err)
		}
		bopts = badger.DefaultOptions(cfg.DSN).WithSyncWrites(true)
	}
	bopts = bopts.WithNumVersionsToKeep(1).WithLogger(badgerLogger{})

	db, err := badger.Open(bopts)
	if err != nil {
		slog.Error("Failed to open badger database", "error", err)
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func flowKey(userID string) []byte {
	return []byte(flowKeyPrefix + userID)
}

// LoadFlow returns the snapshot for userID.
func (s *BadgerStore) LoadFlow(ctx context.Context, userID string) (*models.ConversationFlow, error) {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(flowKey(userID))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		slog.Error("BadgerStore LoadFlow failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to load flow for %s: %w", userID, err)
	}
	return decodeFlow(userID, data)
}

// SaveFlow stores flow unless a snapshot with an equal or newer revision
// already exists. The check and the write share one transaction.
func (s *BadgerStore) SaveFlow(ctx context.Context, flow *models.ConversationFlow) error {
	data, err := encodeFlow(flow)
	if err != nil {
		return err
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(flowKey(flow.UserID))
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
		case err != nil:
			return err
		default:
			var stored struct {
				Revision int64 `json:"revision"`
			}
			if err := item.Value(func(v []byte) error { return json.Unmarshal(v, &stored) }); err != nil {
				return err
			}
			if stored.Revision >= flow.Revision {
				slog.Debug("BadgerStore SaveFlow skipped stale snapshot", "userID", flow.UserID, "revision", flow.Revision, "stored", stored.Revision)
				return nil
			}
		}
		return txn.Set(flowKey(flow.UserID), data)
	})
	if err != nil {
		slog.Error("BadgerStore SaveFlow failed", "error", err, "userID", flow.UserID)
		return fmt.Errorf("failed to save flow for %s: %w", flow.UserID, err)
	}
	return nil
}

// DeleteFlow removes the snapshot for userID.
func (s *BadgerStore) DeleteFlow(ctx context.Context, userID string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(flowKey(userID)); err != nil {
			return err
		}
		return txn.Delete(flowKey(userID))
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	if err != nil {
		slog.Error("BadgerStore DeleteFlow failed", "error", err, "userID", userID)
		return fmt.Errorf("failed to delete flow for %s: %w", userID, err)
	}
	return nil
}

// ListUsers returns every user with a snapshot, ordered by id.
func (s *BadgerStore) ListUsers(ctx context.Context) ([]string, error) {
	var users []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(flowKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			users = append(users, string(it.Item().Key()[len(flowKeyPrefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	sort.Strings(users)
	return users, nil
}

// Close closes the database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}
