package state

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/boardforge/api/internal/model"
)

// MemoryStore is the default single-instance Store: a mutex-guarded map.
type MemoryStore struct {
	mu       sync.RWMutex
	jobs     map[string]*model.JobState
	notifier Notifier
}

// NewMemoryStore creates an in-memory store. The notifier may be nil in
// tests that do not observe state events.
func NewMemoryStore(n Notifier) *MemoryStore {
	return &MemoryStore{
		jobs:     make(map[string]*model.JobState),
		notifier: n,
	}
}

func (m *MemoryStore) Seed(ctx context.Context, st *model.JobState) error {
	m.mu.Lock()
	snap := st.Snapshot()
	if snap.BoardAssets == nil {
		snap.BoardAssets = make(map[string]*model.BoardAssetBucket)
	}
	m.jobs[st.GameID] = snap
	channel := snap.ProgressChannel
	out := snap.Snapshot()
	m.mu.Unlock()

	notify(m.notifier, channel, out)
	return nil
}

func (m *MemoryStore) UpdatePiece(ctx context.Context, gameID string, id model.AssetIdentifier, patch model.PiecePatch) error {
	m.mu.Lock()
	st, ok := m.jobs[gameID]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	applyPiecePatch(st, id, patch)
	channel := st.ProgressChannel
	out := st.Snapshot()
	m.mu.Unlock()

	notify(m.notifier, channel, out)
	return nil
}

func (m *MemoryStore) MarkJob(ctx context.Context, gameID string, patch model.JobPatch) error {
	m.mu.Lock()
	st, ok := m.jobs[gameID]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	applyJobPatch(st, patch)
	channel := st.ProgressChannel
	out := st.Snapshot()
	m.mu.Unlock()

	notify(m.notifier, channel, out)
	return nil
}

func (m *MemoryStore) MarkCancelled(ctx context.Context, gameID string) error {
	m.mu.Lock()
	st, ok := m.jobs[gameID]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	channel := st.ProgressChannel
	applyCancelled(st)
	out := st.Snapshot()
	m.mu.Unlock()

	notify(m.notifier, channel, out)
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, gameID string) (*model.JobState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st, ok := m.jobs[gameID]
	if !ok {
		return nil, ErrNotFound
	}
	return st.Snapshot(), nil
}

func (m *MemoryStore) Serialize(ctx context.Context, gameID string) ([]byte, error) {
	st, err := m.Get(ctx, gameID)
	if err != nil {
		return nil, err
	}
	return json.Marshal(st)
}
