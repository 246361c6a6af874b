package renderer

import (
	"fmt"
	"strings"

	"github.com/boardforge/api/internal/model"
)

// genericPrompts are the last-resort prompt per role family.
var genericPrompts = map[string]string{
	model.RoleCover:      "a striking board game box cover illustration",
	model.RoleBoard:      "a top-down illustration of a themed game board",
	model.RoleBackground: "an atmospheric backdrop texture for a game board",
	model.RoleTileLight:  "a light-toned board tile texture",
	model.RoleTileDark:   "a dark-toned board tile texture",
}

// ResolvePrompt picks the prompt text for one asset. Precedence: the
// per-identifier override, then the piece/board prompt merged with the
// game-level prompt, then a generic role default.
func ResolvePrompt(req *model.CreatePackRequest, id model.AssetIdentifier, board *model.BoardSpec, piece *model.PieceSpec) string {
	if override, ok := req.Prompts[id.String()]; ok && override != "" {
		return override
	}

	var parts []string
	if piece != nil && piece.Prompt != "" {
		parts = append(parts, piece.Prompt)
	} else if board != nil && board.Prompt != "" {
		parts = append(parts, board.Prompt)
	}
	if req.Prompt != "" {
		parts = append(parts, req.Prompt)
	}
	if board != nil && board.Theme != "" {
		parts = append(parts, fmt.Sprintf("theme: %s", board.Theme))
	}
	if len(parts) > 0 {
		if !id.BoardLevel && id.Variant != model.DefaultVariant {
			parts = append(parts, fmt.Sprintf("variant %s", id.Variant))
		}
		return strings.Join(parts, ", ")
	}

	if generic, ok := genericPrompts[id.Role]; ok {
		return generic
	}
	return fmt.Sprintf("a game piece illustration of a %s", id.Role)
}

// trademarkTerms is a small scrub list of protected names the image backend
// rejects. The full list lives with the platform's moderation service; this
// covers the terms seen in practice.
var trademarkTerms = map[string]string{
	"monopoly":   "property trading game",
	"catan":      "settlement building game",
	"scrabble":   "word tile game",
	"pokemon":    "collectible creature",
	"disney":     "fairytale",
	"star wars":  "space opera",
	"lego":       "building brick",
	"warhammer":  "grimdark miniature battle",
	"pathfinder": "fantasy adventure",
}

// SanitizePrompt scrubs trademarked terms from a prompt before it reaches
// the renderer. Returns the cleaned prompt and the terms replaced, which
// the pipeline reports as a notice event.
func SanitizePrompt(prompt string) (string, []string) {
	cleaned := prompt
	var replaced []string
	lower := strings.ToLower(cleaned)
	for term, substitute := range trademarkTerms {
		if !strings.Contains(lower, term) {
			continue
		}
		replaced = append(replaced, term)
		// Case-insensitive replace, preserving surrounding text.
		var sb strings.Builder
		rest := cleaned
		for {
			idx := strings.Index(strings.ToLower(rest), term)
			if idx < 0 {
				sb.WriteString(rest)
				break
			}
			sb.WriteString(rest[:idx])
			sb.WriteString(substitute)
			rest = rest[idx+len(term):]
		}
		cleaned = sb.String()
		lower = strings.ToLower(cleaned)
	}
	return cleaned, replaced
}
