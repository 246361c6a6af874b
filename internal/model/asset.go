package model

import (
	"fmt"
	"log"
	"strings"
)

// AssetIdentifier is the canonical (role, board, variant) key for one asset.
// BoardID is empty for global (non-board-scoped) assets.
type AssetIdentifier struct {
	Role       string `json:"role"`
	BoardID    string `json:"boardId,omitempty"`
	Variant    string `json:"variant"`
	BoardLevel bool   `json:"isBoardLevel"`
}

// DefaultAssetID is the identifier malformed input degrades to.
func DefaultAssetID() AssetIdentifier {
	return AssetIdentifier{Role: RoleToken, Variant: DefaultVariant}
}

// ParseAssetID converts a legacy string identifier into its structured form.
// Recognized shapes:
//
//	<role>-board-<n>            board-scoped, default variant
//	<role>-board-<n>-<variant>  board-scoped
//	<role>-<variant>            global
//	<role>                      global, default variant
//
// Unknown or short input degrades to a default identifier; never fails.
func ParseAssetID(text string) AssetIdentifier {
	s := strings.TrimSpace(text)
	if s == "" {
		return DefaultAssetID()
	}

	segs := strings.Split(s, "-")
	if len(segs) >= 3 && segs[1] == "board" {
		variant := strings.Join(segs[3:], "-")
		if variant == "" {
			variant = DefaultVariant
		}
		return AssetIdentifier{
			Role:       segs[0],
			BoardID:    "board-" + segs[2],
			Variant:    variant,
			BoardLevel: IsBoardLevelRole(segs[0]),
		}
	}

	if len(segs) >= 2 {
		return AssetIdentifier{
			Role:       segs[0],
			Variant:    strings.Join(segs[1:], "-"),
			BoardLevel: IsBoardLevelRole(segs[0]),
		}
	}

	return AssetIdentifier{
		Role:       s,
		Variant:    DefaultVariant,
		BoardLevel: IsBoardLevelRole(s),
	}
}

// String formats the identifier into its canonical string form, the inverse
// of ParseAssetID for every canonically-produced string.
func (id AssetIdentifier) String() string {
	variant := id.Variant
	if variant == "" {
		variant = DefaultVariant
	}

	if id.BoardID != "" {
		if id.BoardLevel || variant == DefaultVariant {
			return id.Role + "-" + id.BoardID
		}
		return id.Role + "-" + id.BoardID + "-" + variant
	}
	return id.Role + "-" + variant
}

// Validate checks the structural invariants of an identifier.
func (id AssetIdentifier) Validate() error {
	if id.Role == "" {
		return fmt.Errorf("asset identifier: role must be a non-empty string")
	}
	if id.Variant == "" {
		return fmt.Errorf("asset identifier: variant must be a non-empty string")
	}
	return nil
}

// NormalizeAssetID accepts either a legacy string or a structured identifier
// (typed, or decoded from JSON as a map) and returns a valid AssetIdentifier.
// Malformed input is logged and degrades to the default identifier.
func NormalizeAssetID(input interface{}) AssetIdentifier {
	switch v := input.(type) {
	case string:
		return ParseAssetID(v)
	case AssetIdentifier:
		if err := v.Validate(); err != nil {
			log.Printf("Malformed asset identifier %+v: %v", v, err)
			return DefaultAssetID()
		}
		return v
	case map[string]interface{}:
		id := AssetIdentifier{Variant: DefaultVariant}
		if role, ok := v["role"].(string); ok {
			id.Role = role
		}
		if boardID, ok := v["boardId"].(string); ok {
			id.BoardID = boardID
		}
		if variant, ok := v["variant"].(string); ok && variant != "" {
			id.Variant = variant
		}
		if bl, ok := v["isBoardLevel"].(bool); ok {
			id.BoardLevel = bl
		} else {
			id.BoardLevel = IsBoardLevelRole(id.Role)
		}
		if err := id.Validate(); err != nil {
			log.Printf("Malformed asset identifier %v: %v", v, err)
			return DefaultAssetID()
		}
		return id
	default:
		log.Printf("Unsupported asset identifier input %T, using default", input)
		return DefaultAssetID()
	}
}

// AssetID builds an identifier from its parts, inferring the board-level flag.
func AssetID(role, boardID, variant string) AssetIdentifier {
	if variant == "" {
		variant = DefaultVariant
	}
	return AssetIdentifier{
		Role:       role,
		BoardID:    boardID,
		Variant:    variant,
		BoardLevel: IsBoardLevelRole(role),
	}
}
