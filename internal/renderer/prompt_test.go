package renderer

import (
	"context"
	"strings"
	"testing"

	"github.com/boardforge/api/internal/model"
)

func TestResolvePromptPrecedence(t *testing.T) {
	board := &model.BoardSpec{ID: "board-1", Theme: "haunted forest", Prompt: "mossy stones"}
	piece := &model.PieceSpec{Role: "token", Prompt: "carved wooden pawn"}
	id := model.AssetID("token", "board-1", "red")

	req := &model.CreatePackRequest{
		GameID: "g1",
		Prompt: "dark fantasy palette",
		Prompts: map[string]string{
			"token-board-1-red": "exact override",
		},
	}

	if got := ResolvePrompt(req, id, board, piece); got != "exact override" {
		t.Errorf("override ignored, got %q", got)
	}

	delete(req.Prompts, "token-board-1-red")
	got := ResolvePrompt(req, id, board, piece)
	if !strings.Contains(got, "carved wooden pawn") {
		t.Errorf("piece prompt missing from %q", got)
	}
	if !strings.Contains(got, "dark fantasy palette") {
		t.Errorf("game prompt missing from %q", got)
	}
	if !strings.Contains(got, "haunted forest") {
		t.Errorf("board theme missing from %q", got)
	}
	if !strings.Contains(got, "variant red") {
		t.Errorf("variant hint missing from %q", got)
	}

	// Piece prompt takes priority over the board prompt.
	if strings.Contains(got, "mossy stones") {
		t.Errorf("board prompt should be shadowed by the piece prompt: %q", got)
	}
}

func TestResolvePromptFallsBackToGeneric(t *testing.T) {
	req := &model.CreatePackRequest{GameID: "g1"}

	got := ResolvePrompt(req, model.AssetID(model.RoleCover, "board-1", ""), &model.BoardSpec{ID: "board-1"}, nil)
	if got != genericPrompts[model.RoleCover] {
		t.Errorf("cover fallback = %q", got)
	}

	got = ResolvePrompt(req, model.AssetID("meeple", "", ""), nil, nil)
	if !strings.Contains(got, "meeple") {
		t.Errorf("unknown role fallback = %q", got)
	}
}

func TestSanitizePrompt(t *testing.T) {
	cleaned, replaced := SanitizePrompt("a Monopoly board in the style of Disney")
	if strings.Contains(strings.ToLower(cleaned), "monopoly") {
		t.Errorf("trademark survived: %q", cleaned)
	}
	if strings.Contains(strings.ToLower(cleaned), "disney") {
		t.Errorf("trademark survived: %q", cleaned)
	}
	if !strings.Contains(cleaned, "property trading game") || !strings.Contains(cleaned, "fairytale") {
		t.Errorf("substitutes missing: %q", cleaned)
	}
	if len(replaced) != 2 {
		t.Errorf("replaced = %v, want two terms", replaced)
	}

	cleaned, replaced = SanitizePrompt("a plain chess board")
	if cleaned != "a plain chess board" || replaced != nil {
		t.Errorf("clean prompt altered: %q, %v", cleaned, replaced)
	}
}

func TestProceduralIsDeterministic(t *testing.T) {
	p := NewProcedural()
	req := &Request{GameID: "g1", Role: model.RoleToken, BoardID: "board-1", Variant: "red", Size: 256}

	a, err := p.Render(context.Background(), req)
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	b, err := p.Render(context.Background(), req)
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if string(a.Data) != string(b.Data) {
		t.Error("same identity produced different bytes")
	}
	if a.Format != "svg" {
		t.Errorf("format = %q, want svg", a.Format)
	}

	other, err := p.Render(context.Background(), &Request{GameID: "g1", Role: model.RoleBoard, BoardID: "board-1", Size: 256})
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if string(a.Data) == string(other.Data) {
		t.Error("different roles produced identical bytes")
	}
}

func TestSizesFor(t *testing.T) {
	s := DefaultSizes()

	if got := s.For(model.RoleCover, 0); got != 1024 {
		t.Errorf("cover default = %d", got)
	}
	if got := s.For(model.RoleToken, 0); got != 512 {
		t.Errorf("token default = %d", got)
	}
	if got := s.For(model.RoleToken, 16); got != 64 {
		t.Errorf("under-min clamp = %d", got)
	}
	if got := s.For(model.RoleToken, 9999); got != 2048 {
		t.Errorf("over-max clamp = %d", got)
	}
	if got := s.For(model.RoleToken, 300); got != 300 {
		t.Errorf("in-range size altered to %d", got)
	}
}
