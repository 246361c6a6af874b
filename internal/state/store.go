package state

import (
	"context"
	"errors"
	"time"

	"github.com/boardforge/api/internal/model"
)

// ErrNotFound is returned when no job state exists for a game id.
var ErrNotFound = errors.New("job state not found")

// Notifier receives a state event after every mutation so reconnecting
// subscribers can resync from a full snapshot instead of replaying history.
// The progress hub satisfies this.
type Notifier interface {
	Publish(channel, kind, gameID string, payload interface{})
}

// Store is the authoritative, queryable snapshot of per-game job progress,
// independent of the transient progress stream. Implementations must make
// each mutation-plus-notify atomic with respect to readers.
type Store interface {
	// Seed installs a fresh job state, overwriting any previous snapshot.
	Seed(ctx context.Context, st *model.JobState) error

	// UpdatePiece applies a partial update to one piece and, when a URL is
	// set, to the board asset bucket it belongs to.
	UpdatePiece(ctx context.Context, gameID string, id model.AssetIdentifier, patch model.PiecePatch) error

	// MarkJob applies a partial update to job-level fields.
	MarkJob(ctx context.Context, gameID string, patch model.JobPatch) error

	// MarkCancelled moves every non-terminal piece to cancelled, clears the
	// active piece and progress channel, and deactivates the job.
	MarkCancelled(ctx context.Context, gameID string) error

	// Get returns a deep snapshot of the job state.
	Get(ctx context.Context, gameID string) (*model.JobState, error)

	// Serialize returns the job state as JSON, the shape clients resync
	// from over HTTP.
	Serialize(ctx context.Context, gameID string) ([]byte, error)
}

// GlobalBucket keys board assets for identifiers with no board scope.
const GlobalBucket = "global"

func bucketKey(id model.AssetIdentifier) string {
	if id.BoardID == "" {
		return GlobalBucket
	}
	return id.BoardID
}

// applyPiecePatch mutates one piece in place and bumps UpdatedAt. Pieces are
// never deleted during a job's life, only patched.
func applyPiecePatch(st *model.JobState, id model.AssetIdentifier, patch model.PiecePatch) {
	key := id.String()
	ps, ok := st.Pieces[key]
	if !ok {
		ps = &model.PieceState{
			ID:      key,
			Role:    id.Role,
			BoardID: id.BoardID,
			Variant: id.Variant,
			Status:  model.PieceStatusQueued,
		}
		st.Pieces[key] = ps
	}

	if patch.Status != "" {
		ps.Status = patch.Status
	}
	if patch.URL != nil {
		ps.URL = *patch.URL
		if ps.URL != "" {
			bk := bucketKey(id)
			bucket, ok := st.BoardAssets[bk]
			if !ok {
				bucket = &model.BoardAssetBucket{}
				st.BoardAssets[bk] = bucket
			}
			bucket.Set(id, ps.URL)
		}
	}
	if patch.Prompt != nil {
		ps.Prompt = *patch.Prompt
	}
	if patch.Reused != nil {
		ps.Reused = *patch.Reused
	}
	st.UpdatedAt = time.Now()
}

func applyJobPatch(st *model.JobState, patch model.JobPatch) {
	if patch.Active != nil {
		st.Active = *patch.Active
	}
	if patch.ActivePiece != nil {
		st.ActivePiece = *patch.ActivePiece
	}
	if patch.ProgressChannel != nil {
		st.ProgressChannel = *patch.ProgressChannel
	}
	st.UpdatedAt = time.Now()
}

func applyCancelled(st *model.JobState) {
	for _, ps := range st.Pieces {
		if !ps.Status.IsTerminal() {
			ps.Status = model.PieceStatusCancelled
		}
	}
	st.ActivePiece = ""
	st.ProgressChannel = ""
	st.Active = false
	st.UpdatedAt = time.Now()
}

// notify broadcasts a full snapshot as a state event on the job's channel.
// The channel is captured before the mutation so events still reach
// subscribers when a mutation clears it.
func notify(n Notifier, channel string, st *model.JobState) {
	if n == nil || channel == "" {
		return
	}
	n.Publish(channel, model.EventState, st.GameID, st.Snapshot())
}
