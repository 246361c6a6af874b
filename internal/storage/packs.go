// Package storage owns the on-disk pack layout:
//
//	<root>/<packId>/pack.json                          sidecar metadata
//	<root>/<packId>/<boardId>/cover.<ext>              board-level assets
//	<root>/<packId>/<boardId>/pieces/<role>/<variant>.<ext>
//	<root>/<packId>/global/...                         non-board-scoped assets
//
// Each pack directory is exclusively owned by the job that created it, so
// file I/O needs no locking beyond directory-per-pack isolation.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/boardforge/api/internal/model"
)

// ErrAssetNotFound is returned when a reuse source file does not exist.
var ErrAssetNotFound = errors.New("asset not found in pack")

// ErrPackNotFound is returned for unknown pack ids.
var ErrPackNotFound = errors.New("pack not found")

const metaFile = "pack.json"

// assetExtensions are tried in order when locating an existing asset.
var assetExtensions = []string{"svg", "png", "jpg", "webp"}

// PackMeta is the sidecar record identifying a pack's owning game. The
// retention manager relies on it instead of parsing directory names.
type PackMeta struct {
	PackID    string    `json:"packId"`
	GameID    string    `json:"gameId"`
	Owner     string    `json:"owner,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// PackStore reads and writes pack directories under a single root.
type PackStore struct {
	root    string
	baseURL string
}

// NewPackStore creates a store rooted at dir. baseURL prefixes the public
// URLs returned for written assets and may be empty for relative URLs.
func NewPackStore(root, baseURL string) *PackStore {
	return &PackStore{root: root, baseURL: strings.TrimSuffix(baseURL, "/")}
}

// Root returns the packs root directory, used for static file serving.
func (s *PackStore) Root() string {
	return s.root
}

// CreatePack initializes a pack directory with its sidecar metadata.
func (s *PackStore) CreatePack(packID, gameID, owner string) error {
	dir, err := s.packDir(packID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create pack directory: %w", err)
	}
	meta := PackMeta{
		PackID:    packID,
		GameID:    gameID,
		Owner:     owner,
		CreatedAt: time.Now(),
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, metaFile), data, 0o644)
}

// ReadMeta loads a pack's sidecar metadata.
func (s *PackStore) ReadMeta(packID string) (*PackMeta, error) {
	dir, err := s.packDir(packID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, metaFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrPackNotFound
		}
		return nil, err
	}
	var meta PackMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("corrupt pack metadata for %s: %w", packID, err)
	}
	return &meta, nil
}

// ListPacks returns metadata for every pack under the root, newest first.
// Directories without a readable sidecar are skipped.
func (s *PackStore) ListPacks() ([]PackMeta, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var metas []PackMeta
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		meta, err := s.ReadMeta(e.Name())
		if err != nil {
			continue
		}
		metas = append(metas, *meta)
	}
	sort.Slice(metas, func(i, j int) bool {
		return metas[i].CreatedAt.After(metas[j].CreatedAt)
	})
	return metas, nil
}

// LatestPackID returns the most recently created pack for a game.
func (s *PackStore) LatestPackID(gameID string) (string, bool) {
	metas, err := s.ListPacks()
	if err != nil {
		return "", false
	}
	for _, m := range metas {
		if m.GameID == gameID {
			return m.PackID, true
		}
	}
	return "", false
}

// WriteAsset stores one rendered asset and returns its public URL.
func (s *PackStore) WriteAsset(packID string, id model.AssetIdentifier, data []byte, format string) (string, error) {
	rel := AssetRelPath(id, format)
	dir, err := s.packDir(packID)
	if err != nil {
		return "", err
	}
	full := filepath.Join(dir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("failed to create asset directory: %w", err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write asset: %w", err)
	}
	return s.URLFor(packID, rel), nil
}

// FindAsset locates an existing asset file for an identifier, trying known
// extensions in order. Returns the relative path within the pack.
func (s *PackStore) FindAsset(packID string, id model.AssetIdentifier) (string, error) {
	dir, err := s.packDir(packID)
	if err != nil {
		return "", err
	}
	for _, ext := range assetExtensions {
		rel := AssetRelPath(id, ext)
		if _, err := os.Stat(filepath.Join(dir, filepath.FromSlash(rel))); err == nil {
			return rel, nil
		}
	}
	return "", ErrAssetNotFound
}

// CopyAsset copies one asset byte-for-byte from a source pack into a
// destination pack, returning the asset's URL rewritten to the new pack id.
func (s *PackStore) CopyAsset(srcPackID, dstPackID string, id model.AssetIdentifier) (string, error) {
	rel, err := s.FindAsset(srcPackID, id)
	if err != nil {
		return "", err
	}
	srcDir, err := s.packDir(srcPackID)
	if err != nil {
		return "", err
	}
	dstDir, err := s.packDir(dstPackID)
	if err != nil {
		return "", err
	}

	data, err := os.ReadFile(filepath.Join(srcDir, filepath.FromSlash(rel)))
	if err != nil {
		return "", fmt.Errorf("failed to read reuse source: %w", err)
	}
	dst := filepath.Join(dstDir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to copy asset: %w", err)
	}
	return s.URLFor(dstPackID, rel), nil
}

// DeletePack removes one pack directory entirely.
func (s *PackStore) DeletePack(packID string) error {
	dir, err := s.packDir(packID)
	if err != nil {
		return err
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return ErrPackNotFound
	}
	return os.RemoveAll(dir)
}

// DeletePacksForGame removes every pack owned by a game, returning the ids
// that were deleted.
func (s *PackStore) DeletePacksForGame(gameID string) ([]string, error) {
	metas, err := s.ListPacks()
	if err != nil {
		return nil, err
	}
	var deleted []string
	for _, m := range metas {
		if m.GameID != gameID {
			continue
		}
		if err := s.DeletePack(m.PackID); err != nil {
			return deleted, err
		}
		deleted = append(deleted, m.PackID)
	}
	return deleted, nil
}

// URLFor builds the public URL for a relative asset path inside a pack.
func (s *PackStore) URLFor(packID, rel string) string {
	return fmt.Sprintf("%s/packs/%s/%s", s.baseURL, packID, rel)
}

// RewritePackURL rewrites an asset URL from one pack id to another, the
// reuse/resume URL rewriting contract.
func RewritePackURL(url, oldPackID, newPackID string) string {
	return strings.Replace(url, "/packs/"+oldPackID+"/", "/packs/"+newPackID+"/", 1)
}

// roleFileNames maps board-level roles to their fixed file names.
var roleFileNames = map[string]string{
	model.RoleBoard:      "board",
	model.RoleCover:      "cover",
	model.RoleBackground: "background",
	model.RoleTileLight:  "tile-light",
	model.RoleTileDark:   "tile-dark",
}

// AssetRelPath computes an asset's path relative to its pack directory.
func AssetRelPath(id model.AssetIdentifier, format string) string {
	scope := id.BoardID
	if scope == "" {
		scope = "global"
	}
	if name, ok := roleFileNames[id.Role]; ok && id.BoardLevel {
		return fmt.Sprintf("%s/%s.%s", scope, name, format)
	}
	variant := id.Variant
	if variant == "" {
		variant = model.DefaultVariant
	}
	return fmt.Sprintf("%s/pieces/%s/%s.%s", scope, id.Role, variant, format)
}

// packDir resolves and validates a pack directory path. Pack ids are
// opaque single path segments; anything else is rejected.
func (s *PackStore) packDir(packID string) (string, error) {
	if packID == "" || strings.ContainsAny(packID, `/\`) || packID == "." || packID == ".." {
		return "", fmt.Errorf("invalid pack id %q", packID)
	}
	return filepath.Join(s.root, packID), nil
}
