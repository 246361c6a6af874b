package retention

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/boardforge/api/internal/storage"
)

// fakeMirror records delete calls so retention's CDN cleanup is observable.
type fakeMirror struct {
	mu      sync.Mutex
	deleted []string
}

func (f *fakeMirror) Upload(ctx context.Context, key string, body io.Reader, contentType string) (string, error) {
	return "https://cdn.example.com/" + key, nil
}

func (f *fakeMirror) DeletePrefix(ctx context.Context, prefix string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, prefix)
	return nil
}

func (f *fakeMirror) GetPublicURL(key string) string { return "https://cdn.example.com/" + key }
func (f *fakeMirror) IsConfigured() bool             { return true }

func seedPacks(t *testing.T, s *storage.PackStore, gameID string, ids []string) {
	t.Helper()
	base := time.Now().Add(-time.Hour)
	for i, id := range ids {
		if err := s.CreatePack(id, gameID, ""); err != nil {
			t.Fatalf("CreatePack failed: %v", err)
		}
		meta := storage.PackMeta{
			PackID:    id,
			GameID:    gameID,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		data, err := json.Marshal(meta)
		if err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(s.Root(), id, "pack.json"), data, 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestCleanupKeepsLatest(t *testing.T) {
	s := storage.NewPackStore(t.TempDir(), "")
	m := New(s, nil)

	// Oldest to newest: p1..p4.
	seedPacks(t, s, "g1", []string{"p1", "p2", "p3", "p4"})
	seedPacks(t, s, "g2", []string{"other"})

	deleted := m.Cleanup(context.Background(), "g1", 2, nil)
	if len(deleted) != 2 {
		t.Fatalf("deleted = %v, want p2 and p1", deleted)
	}
	got := map[string]bool{deleted[0]: true, deleted[1]: true}
	if !got["p1"] || !got["p2"] {
		t.Errorf("deleted = %v, want the two oldest", deleted)
	}

	for _, id := range []string{"p3", "p4", "other"} {
		if _, err := s.ReadMeta(id); err != nil {
			t.Errorf("pack %s was deleted: %v", id, err)
		}
	}
	for _, id := range []string{"p1", "p2"} {
		if _, err := s.ReadMeta(id); !errors.Is(err, storage.ErrPackNotFound) {
			t.Errorf("pack %s still present", id)
		}
	}
}

func TestCleanupPreservesExplicitPacks(t *testing.T) {
	s := storage.NewPackStore(t.TempDir(), "")
	m := New(s, nil)
	seedPacks(t, s, "g1", []string{"p1", "p2", "p3", "p4"})

	deleted := m.Cleanup(context.Background(), "g1", 2, map[string]bool{"p1": true})
	if len(deleted) != 1 || deleted[0] != "p2" {
		t.Errorf("deleted = %v, want [p2]", deleted)
	}
	if _, err := s.ReadMeta("p1"); err != nil {
		t.Error("preserved pack was deleted")
	}
}

func TestCleanupDeletesMirroredObjects(t *testing.T) {
	s := storage.NewPackStore(t.TempDir(), "")
	mirror := &fakeMirror{}
	m := New(s, mirror)
	seedPacks(t, s, "g1", []string{"p1", "p2", "p3"})

	m.Cleanup(context.Background(), "g1", 2, nil)

	mirror.mu.Lock()
	defer mirror.mu.Unlock()
	if len(mirror.deleted) != 1 || mirror.deleted[0] != "packs/p1/" {
		t.Errorf("mirror deletions = %v", mirror.deleted)
	}
}

func TestCleanupNoopWhenUnderLimit(t *testing.T) {
	s := storage.NewPackStore(t.TempDir(), "")
	m := New(s, nil)
	seedPacks(t, s, "g1", []string{"p1", "p2"})

	if deleted := m.Cleanup(context.Background(), "g1", 2, nil); deleted != nil {
		t.Errorf("deleted = %v, want none", deleted)
	}
}
