package model

import "time"

// PieceState tracks the progress of one asset inside a generation job.
// Created when the job is seeded and mutated only by the pipeline.
type PieceState struct {
	ID      string      `json:"id"`
	Role    string      `json:"role"`
	BoardID string      `json:"boardId,omitempty"`
	Variant string      `json:"variant,omitempty"`
	Status  PieceStatus `json:"status"`
	URL     string      `json:"url,omitempty"`
	Prompt  string      `json:"prompt,omitempty"`
	Reused  bool        `json:"reused,omitempty"`
}

// BoardAssetBucket is the externally-visible asset index for one board,
// filled in incrementally as pieces complete.
type BoardAssetBucket struct {
	BoardPreview string            `json:"boardPreview,omitempty"`
	Cover        string            `json:"cover,omitempty"`
	Background   string            `json:"background,omitempty"`
	TileLight    string            `json:"tileLight,omitempty"`
	TileDark     string            `json:"tileDark,omitempty"`
	Tokens       map[string]string `json:"tokens,omitempty"`
}

// Set records the URL for one completed asset under its bucket slot. Token
// URLs are keyed by variant; other piece roles by "<variant>-<role>".
func (b *BoardAssetBucket) Set(id AssetIdentifier, url string) {
	switch id.Role {
	case RoleBoard:
		b.BoardPreview = url
	case RoleCover:
		b.Cover = url
	case RoleBackground:
		b.Background = url
	case RoleTileLight:
		b.TileLight = url
	case RoleTileDark:
		b.TileDark = url
	case RoleToken:
		if b.Tokens == nil {
			b.Tokens = make(map[string]string)
		}
		b.Tokens[id.Variant] = url
	default:
		if b.Tokens == nil {
			b.Tokens = make(map[string]string)
		}
		b.Tokens[id.Variant+"-"+id.Role] = url
	}
}

// Clone returns a deep copy safe to hand to readers.
func (b *BoardAssetBucket) Clone() *BoardAssetBucket {
	if b == nil {
		return nil
	}
	out := *b
	if b.Tokens != nil {
		out.Tokens = make(map[string]string, len(b.Tokens))
		for k, v := range b.Tokens {
			out.Tokens[k] = v
		}
	}
	return &out
}

// CloneBoardAssets deep-copies a per-board bucket map.
func CloneBoardAssets(in map[string]*BoardAssetBucket) map[string]*BoardAssetBucket {
	if in == nil {
		return nil
	}
	out := make(map[string]*BoardAssetBucket, len(in))
	for k, v := range in {
		out[k] = v.Clone()
	}
	return out
}

// JobState is the authoritative snapshot of one game's generation job.
// Exactly one JobState exists per game id; a new job overwrites the
// previous snapshot.
type JobState struct {
	GameID          string                       `json:"gameId"`
	PackID          string                       `json:"packId"`
	RenderStyle     RenderStyle                  `json:"renderStyle"`
	ProgressChannel string                       `json:"progressChannel,omitempty"`
	Active          bool                         `json:"active"`
	Pieces          map[string]*PieceState       `json:"pieces"`
	BoardAssets     map[string]*BoardAssetBucket `json:"boardAssets"`
	ActivePiece     string                       `json:"activePiece,omitempty"`
	UpdatedAt       time.Time                    `json:"updatedAt"`
}

// Snapshot returns a deep, wire-safe copy of the state. Readers only ever
// see snapshots; the pipeline is the single owner of the live struct.
func (s *JobState) Snapshot() *JobState {
	if s == nil {
		return nil
	}
	out := *s
	out.Pieces = make(map[string]*PieceState, len(s.Pieces))
	for k, v := range s.Pieces {
		p := *v
		out.Pieces[k] = &p
	}
	out.BoardAssets = CloneBoardAssets(s.BoardAssets)
	return &out
}

// PiecePatch is a partial update applied to one PieceState. Nil fields are
// left unchanged.
type PiecePatch struct {
	Status PieceStatus
	URL    *string
	Prompt *string
	Reused *bool
}

// JobPatch is a partial update applied to job-level fields.
type JobPatch struct {
	Active          *bool
	ActivePiece     *string
	ProgressChannel *string
}

// PendingJob is the registry entry for an in-flight generation job. Its
// presence is the one-job-per-game exclusivity lock.
type PendingJob struct {
	GameID    string    `json:"gameId"`
	Channel   string    `json:"progressChannel"`
	PackID    string    `json:"packId"`
	StartedAt time.Time `json:"startedAt"`
}
