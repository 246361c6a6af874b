package model

import "time"

// BoardSpec describes one board to generate assets for.
type BoardSpec struct {
	ID     string `json:"id" validate:"required"`
	Theme  string `json:"theme,omitempty"`
	Prompt string `json:"prompt,omitempty"`
}

// PieceSpec describes one piece role and its variants. Global pieces are
// generated once for the pack rather than per board.
type PieceSpec struct {
	Role     string   `json:"role" validate:"required"`
	Variants []string `json:"variants,omitempty"`
	Prompt   string   `json:"prompt,omitempty"`
	Size     int      `json:"size,omitempty"`
	Global   bool     `json:"global,omitempty"`
}

// CreatePackRequest is the body of POST /api/packs.
type CreatePackRequest struct {
	GameID      string      `json:"gameId" validate:"required"`
	RenderStyle RenderStyle `json:"renderStyle" validate:"omitempty,oneof=vector photoreal"`
	ThemeColors []string    `json:"themeColors,omitempty"`

	// Prompt is the merged game-level prompt; Prompts holds per-identifier
	// overrides keyed by canonical identifier string.
	Prompt  string            `json:"prompt,omitempty"`
	Prompts map[string]string `json:"prompts,omitempty"`

	Boards []BoardSpec `json:"boards" validate:"required,min=1,dive"`
	Pieces []PieceSpec `json:"pieces,omitempty" validate:"dive"`

	// Target filters: when either is non-empty, only the matching subset is
	// regenerated and everything else is copied from the resume pack.
	TargetIDs      []string `json:"targetIds,omitempty"`
	TargetBoardIDs []string `json:"targetBoardIds,omitempty"`

	ResumePackID        string `json:"resumePackId,omitempty"`
	ReuseExistingPieces bool   `json:"reuseExistingPieces,omitempty"`

	// AwaitAdvance arms the advance gate: generation pauses after each piece
	// until the attached client signals, times out, or disconnects.
	AwaitAdvance bool `json:"awaitAdvance,omitempty"`

	// ProgressChannel lets the caller pick the channel token so it can
	// subscribe before the job starts. Generated when empty.
	ProgressChannel string `json:"progressChannel,omitempty"`
}

// Style returns the requested render style, defaulting to vector.
func (r *CreatePackRequest) Style() RenderStyle {
	if r.RenderStyle == "" {
		return RenderStyleVector
	}
	return r.RenderStyle
}

// CreatePackResponse is returned by POST /api/packs. Cancelled responses
// still carry the partial boardAssets produced before the cancellation.
type CreatePackResponse struct {
	PackID      string                       `json:"packId"`
	BaseURL     string                       `json:"baseUrl"`
	Channel     string                       `json:"progressChannel"`
	BoardAssets map[string]*BoardAssetBucket `json:"boardAssets"`
	Cancelled   bool                         `json:"cancelled,omitempty"`
}

// CancelJobRequest is the body of POST /api/packs/jobs/cancel.
type CancelJobRequest struct {
	GameID string `json:"gameId" validate:"required"`
}

// CancelJobResponse reports whether anything was actually cancelled.
type CancelJobResponse struct {
	Cancelled bool   `json:"cancelled"`
	GameID    string `json:"gameId"`
}

// AdvanceRequest is the body of POST /api/packs/jobs/advance.
type AdvanceRequest struct {
	Channel string `json:"progressChannel" validate:"required"`
	GameID  string `json:"gameId,omitempty"`
}

// JobStatusResponse is returned by GET /api/packs/jobs/status/:gameId.
type JobStatusResponse struct {
	GameID    string     `json:"gameId"`
	Active    bool       `json:"active"`
	Channel   string     `json:"progressChannel,omitempty"`
	PackID    string     `json:"packId,omitempty"`
	StartedAt *time.Time `json:"startedAt,omitempty"`
}

// DeletePacksResponse reports a bulk pack deletion.
type DeletePacksResponse struct {
	GameID  string   `json:"gameId"`
	Deleted []string `json:"deleted"`
}
