// Package renderer produces image data for one asset at a time, either via
// an external image generation backend or a deterministic procedural
// fallback.
package renderer

import (
	"context"

	"github.com/boardforge/api/internal/model"
)

// Request describes one asset to render.
type Request struct {
	GameID      string
	Role        string
	BoardID     string
	Variant     string
	Prompt      string
	ThemeColors []string
	Size        int
	Style       model.RenderStyle
}

// Result is the produced image. A nil Result with a nil error means the
// backend had no output for this request (soft failure, not an error).
type Result struct {
	Data   []byte
	Format string // "svg" or "png"
}

// Renderer generates one asset. Implementations must respect ctx.
type Renderer interface {
	Render(ctx context.Context, req *Request) (*Result, error)
	IsConfigured() bool
}

// Sizes holds canvas clamping bounds and per-role defaults.
type Sizes struct {
	Min   int
	Max   int
	Cover int
	Board int
	Token int
}

// DefaultSizes matches the packs config defaults.
func DefaultSizes() Sizes {
	return Sizes{Min: 64, Max: 2048, Cover: 1024, Board: 1024, Token: 512}
}

// For resolves the canvas size for a role: the requested size clamped to
// [Min, Max], or the role's default when unspecified. Covers and boards
// default larger than tokens.
func (s Sizes) For(role string, requested int) int {
	if requested <= 0 {
		switch {
		case role == model.RoleCover:
			return s.Cover
		case model.IsBoardLevelRole(role):
			return s.Board
		default:
			return s.Token
		}
	}
	if requested < s.Min {
		return s.Min
	}
	if requested > s.Max {
		return s.Max
	}
	return requested
}
