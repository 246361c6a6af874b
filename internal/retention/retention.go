// Package retention retires superseded packs for a game, keeping the most
// recent few plus anything explicitly preserved.
package retention

import (
	"context"
	"log"

	"github.com/boardforge/api/internal/storage"
)

// DefaultKeepLatest is the number of most-recent packs kept per game.
const DefaultKeepLatest = 2

// Manager deletes old packs. Deletion is best-effort: one failed pack is
// logged and never blocks the others or the caller.
type Manager struct {
	packs  *storage.PackStore
	mirror storage.Mirror
}

// New creates a retention manager. mirror may be nil.
func New(packs *storage.PackStore, mirror storage.Mirror) *Manager {
	return &Manager{packs: packs, mirror: mirror}
}

// Cleanup removes every pack of the game beyond the keepLatest most recent
// ones, except ids listed in preserve. Pack ownership comes from sidecar
// metadata, never from directory names. Returns the ids it deleted.
func (m *Manager) Cleanup(ctx context.Context, gameID string, keepLatest int, preserve map[string]bool) []string {
	if keepLatest < 0 {
		keepLatest = DefaultKeepLatest
	}

	metas, err := m.packs.ListPacks()
	if err != nil {
		log.Printf("Pack cleanup for game %s: listing failed: %v", gameID, err)
		return nil
	}

	var deleted []string
	kept := 0
	// ListPacks returns newest first.
	for _, meta := range metas {
		if meta.GameID != gameID {
			continue
		}
		if kept < keepLatest {
			kept++
			continue
		}
		if preserve[meta.PackID] {
			continue
		}
		if err := m.packs.DeletePack(meta.PackID); err != nil {
			log.Printf("Pack cleanup for game %s: failed to delete %s: %v", gameID, meta.PackID, err)
			continue
		}
		if m.mirror != nil && m.mirror.IsConfigured() {
			if err := m.mirror.DeletePrefix(ctx, "packs/"+meta.PackID+"/"); err != nil {
				log.Printf("Pack cleanup for game %s: mirror delete %s: %v", gameID, meta.PackID, err)
			}
		}
		deleted = append(deleted, meta.PackID)
	}

	if len(deleted) > 0 {
		log.Printf("Pack cleanup for game %s: retired %d pack(s)", gameID, len(deleted))
	}
	return deleted
}
