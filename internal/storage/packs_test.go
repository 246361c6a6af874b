package storage

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/boardforge/api/internal/model"
)

func newTestStore(t *testing.T) *PackStore {
	t.Helper()
	return NewPackStore(t.TempDir(), "https://cdn.example.com")
}

func TestCreatePackAndReadMeta(t *testing.T) {
	s := newTestStore(t)

	if err := s.CreatePack("pack-1", "g1", "user-1"); err != nil {
		t.Fatalf("CreatePack failed: %v", err)
	}

	meta, err := s.ReadMeta("pack-1")
	if err != nil {
		t.Fatalf("ReadMeta failed: %v", err)
	}
	if meta.PackID != "pack-1" || meta.GameID != "g1" || meta.Owner != "user-1" {
		t.Errorf("meta = %+v", meta)
	}
	if meta.CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}

	if _, err := s.ReadMeta("missing"); !errors.Is(err, ErrPackNotFound) {
		t.Errorf("ReadMeta of unknown pack = %v, want ErrPackNotFound", err)
	}
}

func TestPackDirRejectsTraversal(t *testing.T) {
	s := newTestStore(t)
	for _, id := range []string{"", "..", "a/b", `a\b`, "../escape"} {
		if err := s.CreatePack(id, "g1", ""); err == nil {
			t.Errorf("CreatePack accepted pack id %q", id)
		}
	}
}

func TestWriteAssetLayoutAndURL(t *testing.T) {
	s := newTestStore(t)
	if err := s.CreatePack("pack-1", "g1", ""); err != nil {
		t.Fatalf("CreatePack failed: %v", err)
	}

	url, err := s.WriteAsset("pack-1", model.AssetID(model.RoleTileLight, "board-1", ""), []byte("<svg/>"), "svg")
	if err != nil {
		t.Fatalf("WriteAsset failed: %v", err)
	}
	want := "https://cdn.example.com/packs/pack-1/board-1/tile-light.svg"
	if url != want {
		t.Errorf("url = %q, want %q", url, want)
	}
	if _, err := os.Stat(filepath.Join(s.Root(), "pack-1", "board-1", "tile-light.svg")); err != nil {
		t.Errorf("asset file missing: %v", err)
	}

	url, err = s.WriteAsset("pack-1", model.AssetID(model.RoleToken, "board-1", "red"), []byte("x"), "png")
	if err != nil {
		t.Fatalf("WriteAsset failed: %v", err)
	}
	if url != "https://cdn.example.com/packs/pack-1/board-1/pieces/token/red.png" {
		t.Errorf("piece url = %q", url)
	}

	url, err = s.WriteAsset("pack-1", model.AssetID(model.RoleToken, "", "red"), []byte("x"), "png")
	if err != nil {
		t.Fatalf("WriteAsset failed: %v", err)
	}
	if url != "https://cdn.example.com/packs/pack-1/global/pieces/token/red.png" {
		t.Errorf("global piece url = %q", url)
	}
}

func TestCopyAssetRewritesURL(t *testing.T) {
	s := newTestStore(t)
	for _, id := range []string{"old-pack", "new-pack"} {
		if err := s.CreatePack(id, "g1", ""); err != nil {
			t.Fatalf("CreatePack failed: %v", err)
		}
	}
	id := model.AssetID(model.RoleToken, "board-1", "red")
	if _, err := s.WriteAsset("old-pack", id, []byte("artwork"), "svg"); err != nil {
		t.Fatalf("WriteAsset failed: %v", err)
	}

	url, err := s.CopyAsset("old-pack", "new-pack", id)
	if err != nil {
		t.Fatalf("CopyAsset failed: %v", err)
	}
	if url != "https://cdn.example.com/packs/new-pack/board-1/pieces/token/red.svg" {
		t.Errorf("copied url = %q", url)
	}

	data, err := os.ReadFile(filepath.Join(s.Root(), "new-pack", "board-1", "pieces", "token", "red.svg"))
	if err != nil {
		t.Fatalf("copied file missing: %v", err)
	}
	if string(data) != "artwork" {
		t.Errorf("copied bytes = %q", data)
	}

	// Missing source reports ErrAssetNotFound so the caller can regenerate.
	if _, err := s.CopyAsset("old-pack", "new-pack", model.AssetID(model.RoleToken, "board-9", "x")); !errors.Is(err, ErrAssetNotFound) {
		t.Errorf("CopyAsset of missing source = %v, want ErrAssetNotFound", err)
	}
}

func TestFindAssetTriesExtensions(t *testing.T) {
	s := newTestStore(t)
	if err := s.CreatePack("pack-1", "g1", ""); err != nil {
		t.Fatalf("CreatePack failed: %v", err)
	}
	id := model.AssetID(model.RoleToken, "board-1", "main")
	if _, err := s.WriteAsset("pack-1", id, []byte("x"), "png"); err != nil {
		t.Fatalf("WriteAsset failed: %v", err)
	}

	rel, err := s.FindAsset("pack-1", id)
	if err != nil {
		t.Fatalf("FindAsset failed: %v", err)
	}
	if rel != "board-1/pieces/token/main.png" {
		t.Errorf("rel = %q", rel)
	}
}

func TestListPacksNewestFirstAndLatest(t *testing.T) {
	s := newTestStore(t)
	for i, id := range []string{"pack-a", "pack-b", "pack-c"} {
		game := "g1"
		if id == "pack-b" {
			game = "g2"
		}
		if err := s.CreatePack(id, game, ""); err != nil {
			t.Fatalf("CreatePack failed: %v", err)
		}
		// Sidecar timestamps need to differ; rewrite them explicitly
		// instead of sleeping.
		meta, _ := s.ReadMeta(id)
		meta.CreatedAt = time.Now().Add(time.Duration(i) * time.Minute)
		writeMetaFile(t, s, id, meta)
	}

	// A stray directory without a sidecar is skipped.
	if err := os.MkdirAll(filepath.Join(s.Root(), "not-a-pack"), 0o755); err != nil {
		t.Fatal(err)
	}

	metas, err := s.ListPacks()
	if err != nil {
		t.Fatalf("ListPacks failed: %v", err)
	}
	if len(metas) != 3 {
		t.Fatalf("ListPacks returned %d packs", len(metas))
	}
	if metas[0].PackID != "pack-c" || metas[2].PackID != "pack-a" {
		t.Errorf("order = %s %s %s", metas[0].PackID, metas[1].PackID, metas[2].PackID)
	}

	latest, ok := s.LatestPackID("g1")
	if !ok || latest != "pack-c" {
		t.Errorf("LatestPackID(g1) = %q %v", latest, ok)
	}
	if _, ok := s.LatestPackID("g9"); ok {
		t.Error("LatestPackID reported a pack for an unknown game")
	}
}

func TestDeletePacks(t *testing.T) {
	s := newTestStore(t)
	for _, id := range []string{"pack-a", "pack-b"} {
		if err := s.CreatePack(id, "g1", ""); err != nil {
			t.Fatalf("CreatePack failed: %v", err)
		}
	}
	if err := s.CreatePack("pack-other", "g2", ""); err != nil {
		t.Fatalf("CreatePack failed: %v", err)
	}

	if err := s.DeletePack("pack-a"); err != nil {
		t.Fatalf("DeletePack failed: %v", err)
	}
	if err := s.DeletePack("pack-a"); !errors.Is(err, ErrPackNotFound) {
		t.Errorf("repeat DeletePack = %v, want ErrPackNotFound", err)
	}

	deleted, err := s.DeletePacksForGame("g1")
	if err != nil {
		t.Fatalf("DeletePacksForGame failed: %v", err)
	}
	if len(deleted) != 1 || deleted[0] != "pack-b" {
		t.Errorf("deleted = %v", deleted)
	}
	if _, err := s.ReadMeta("pack-other"); err != nil {
		t.Error("other game's pack was deleted")
	}
}

func TestRewritePackURL(t *testing.T) {
	url := "https://cdn.example.com/packs/old/board-1/pieces/token/red.svg"
	got := RewritePackURL(url, "old", "new")
	if got != "https://cdn.example.com/packs/new/board-1/pieces/token/red.svg" {
		t.Errorf("rewritten = %q", got)
	}

	// URLs from other packs pass through untouched.
	if got := RewritePackURL(url, "other", "new"); got != url {
		t.Errorf("unrelated url changed: %q", got)
	}
}

func writeMetaFile(t *testing.T, s *PackStore, packID string, meta *PackMeta) {
	t.Helper()
	data, err := json.Marshal(meta)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(s.Root(), packID, metaFile), data, 0o644); err != nil {
		t.Fatal(err)
	}
}
