package state

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/boardforge/api/internal/model"
)

const stateTTL = 7 * 24 * time.Hour

// RedisStore persists job state snapshots in redis so a restarted or
// second instance can serve resync queries. Writes are read-modify-write;
// the local mutex is enough because the pipeline is the single writer per
// game and jobs for one game never run on two instances at once.
type RedisStore struct {
	mu       sync.Mutex
	redis    *redis.Client
	notifier Notifier
}

// NewRedisStore creates a redis-backed store.
func NewRedisStore(client *redis.Client, n Notifier) *RedisStore {
	return &RedisStore{redis: client, notifier: n}
}

func stateKey(gameID string) string {
	return fmt.Sprintf("packjob:%s", gameID)
}

func (r *RedisStore) Seed(ctx context.Context, st *model.JobState) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := st.Snapshot()
	if snap.Pieces == nil {
		snap.Pieces = make(map[string]*model.PieceState)
	}
	if snap.BoardAssets == nil {
		snap.BoardAssets = make(map[string]*model.BoardAssetBucket)
	}
	if err := r.save(ctx, snap); err != nil {
		return err
	}
	notify(r.notifier, snap.ProgressChannel, snap)
	return nil
}

func (r *RedisStore) UpdatePiece(ctx context.Context, gameID string, id model.AssetIdentifier, patch model.PiecePatch) error {
	return r.mutate(ctx, gameID, func(st *model.JobState) string {
		applyPiecePatch(st, id, patch)
		return st.ProgressChannel
	})
}

func (r *RedisStore) MarkJob(ctx context.Context, gameID string, patch model.JobPatch) error {
	return r.mutate(ctx, gameID, func(st *model.JobState) string {
		applyJobPatch(st, patch)
		return st.ProgressChannel
	})
}

func (r *RedisStore) MarkCancelled(ctx context.Context, gameID string) error {
	return r.mutate(ctx, gameID, func(st *model.JobState) string {
		channel := st.ProgressChannel
		applyCancelled(st)
		return channel
	})
}

func (r *RedisStore) Get(ctx context.Context, gameID string) (*model.JobState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.load(ctx, gameID)
}

// Serialize returns the stored JSON as-is, skipping a decode round trip.
func (r *RedisStore) Serialize(ctx context.Context, gameID string) ([]byte, error) {
	data, err := r.redis.Get(ctx, stateKey(gameID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return data, nil
}

// mutate loads, applies and saves under the store mutex. The mutator
// returns the channel to notify on, captured before any field clearing.
func (r *RedisStore) mutate(ctx context.Context, gameID string, fn func(*model.JobState) string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, err := r.load(ctx, gameID)
	if err != nil {
		return err
	}
	channel := fn(st)
	if err := r.save(ctx, st); err != nil {
		return err
	}
	notify(r.notifier, channel, st)
	return nil
}

func (r *RedisStore) save(ctx context.Context, st *model.JobState) error {
	data, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return r.redis.Set(ctx, stateKey(st.GameID), data, stateTTL).Err()
}

func (r *RedisStore) load(ctx context.Context, gameID string) (*model.JobState, error) {
	data, err := r.redis.Get(ctx, stateKey(gameID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var st model.JobState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, err
	}
	if st.Pieces == nil {
		st.Pieces = make(map[string]*model.PieceState)
	}
	if st.BoardAssets == nil {
		st.BoardAssets = make(map[string]*model.BoardAssetBucket)
	}
	return &st, nil
}
