package model

// Render styles
type RenderStyle string

const (
	RenderStyleVector    RenderStyle = "vector"
	RenderStylePhotoreal RenderStyle = "photoreal"
)

var ValidRenderStyles = []RenderStyle{
	RenderStyleVector, RenderStylePhotoreal,
}

// Asset roles
const (
	RoleToken      = "token"
	RoleCover      = "cover"
	RoleBoard      = "board"
	RoleBackground = "background"
	RoleTileLight  = "tileLight"
	RoleTileDark   = "tileDark"
)

// boardLevelRoles are generated once per board, not once per variant.
var boardLevelRoles = map[string]bool{
	RoleBoard:      true,
	RoleCover:      true,
	RoleBackground: true,
	RoleTileLight:  true,
	RoleTileDark:   true,
}

// IsBoardLevelRole reports whether a role produces a single asset per board.
func IsBoardLevelRole(role string) bool {
	return boardLevelRoles[role]
}

// Piece status
type PieceStatus string

const (
	PieceStatusQueued    PieceStatus = "queued"
	PieceStatusLoading   PieceStatus = "loading"
	PieceStatusReady     PieceStatus = "ready"
	PieceStatusFallback  PieceStatus = "fallback"
	PieceStatusMissing   PieceStatus = "missing"
	PieceStatusError     PieceStatus = "error"
	PieceStatusCancelled PieceStatus = "cancelled"
)

// IsTerminal reports whether a piece has reached a final status.
func (s PieceStatus) IsTerminal() bool {
	switch s {
	case PieceStatusReady, PieceStatusFallback, PieceStatusMissing,
		PieceStatusError, PieceStatusCancelled:
		return true
	}
	return false
}

// DefaultVariant is the variant assumed when an identifier carries none.
const DefaultVariant = "main"
