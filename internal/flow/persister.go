package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/ConvoFlow/internal/models"
	"github.com/BTreeMap/ConvoFlow/internal/store"
)

// FlowRepository persists flow snapshots. Implementations live in the store
// package. LoadFlow returns store.ErrNotFound for unknown users.
type FlowRepository interface {
	LoadFlow(ctx context.Context, userID string) (*models.ConversationFlow, error)
	SaveFlow(ctx context.Context, flow *models.ConversationFlow) error
	DeleteFlow(ctx context.Context, userID string) error
}

// Persister keeps a Store and a FlowRepository in step: snapshots are
// loaded on first contact and saved after every processed message.
// Persistence is best effort and never fails message processing.
type Persister struct {
	store *Store
	repo  FlowRepository
}

// NewPersister wires st to repo.
func NewPersister(st *Store, repo FlowRepository) *Persister {
	return &Persister{store: st, repo: repo}
}

// Store returns the underlying flow store.
func (p *Persister) Store() *Store {
	return p.store
}

// Process loads userID's snapshot if the store has none, processes the
// message, and saves the resulting snapshot.
func (p *Persister) Process(ctx context.Context, userID, message string, emo *models.EmotionData, raw map[string]any) (models.FlowUpdateResult, error) {
	if userID == "" {
		return models.FlowUpdateResult{}, ErrEmptyUserID
	}
	if !p.store.Has(userID) {
		p.load(ctx, userID)
	}

	res, err := p.store.Process(ctx, userID, message, emo, raw)
	if err != nil {
		return res, err
	}

	snap, ok := p.store.Export(userID)
	if !ok {
		return res, nil
	}
	if err := p.repo.SaveFlow(ctx, snap); err != nil {
		slog.Warn("Persister.Process: snapshot save failed", "userID", userID, "revision", snap.Revision, "error", err)
		return res, nil
	}
	res.Persisted = true
	return res, nil
}

func (p *Persister) load(ctx context.Context, userID string) {
	snap, err := p.repo.LoadFlow(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		slog.Debug("Persister.load: no snapshot", "userID", userID)
		return
	}
	if err != nil {
		slog.Warn("Persister.load: snapshot load failed, starting fresh", "userID", userID, "error", err)
		return
	}
	if _, err := p.store.Restore(snap); err != nil {
		slog.Warn("Persister.load: snapshot rejected, starting fresh", "userID", userID, "error", err)
	}
}

// Export returns userID's live flow, falling back to the stored snapshot.
func (p *Persister) Export(ctx context.Context, userID string) (*models.ConversationFlow, error) {
	if flow, ok := p.store.Export(userID); ok {
		return flow, nil
	}
	flow, err := p.repo.LoadFlow(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("export %s: %w", userID, err)
	}
	return flow, nil
}

// Reset replaces the live flow with a fresh one and deletes the snapshot.
func (p *Persister) Reset(ctx context.Context, userID string) error {
	if err := p.store.Reset(userID); err != nil {
		return err
	}
	if err := p.repo.DeleteFlow(ctx, userID); err != nil && !errors.Is(err, store.ErrNotFound) {
		slog.Error("Persister.Reset: snapshot delete failed", "userID", userID, "error", err)
		return fmt.Errorf("delete snapshot for %s: %w", userID, err)
	}
	return nil
}
