package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/boardforge/api/internal/config"
	"github.com/boardforge/api/internal/model"
	"github.com/boardforge/api/internal/progress"
	"github.com/boardforge/api/internal/registry"
	"github.com/boardforge/api/internal/renderer"
	"github.com/boardforge/api/internal/retention"
	"github.com/boardforge/api/internal/state"
	"github.com/boardforge/api/internal/storage"
)

const TaskTypeCleanup = "packs:cleanup"

var (
	// ErrRenderFailed is the fatal failure class: the render style strictly
	// requires the image backend and it hard-failed.
	ErrRenderFailed = errors.New("renderer failed")

	// ErrNotJobOwner is returned when an advance request's game id does not
	// own the progress channel it tries to signal.
	ErrNotJobOwner = errors.New("progress channel does not belong to this game")

	// ErrNotPackOwner is returned when a delete request's user does not
	// match the owner recorded in the pack sidecar.
	ErrNotPackOwner = errors.New("pack belongs to another user")
)

// PackService orchestrates pack generation jobs: one logical thread per
// job, multiple games running concurrently and independently.
type PackService struct {
	store       state.Store
	registry    *registry.Registry
	hub         *progress.Hub
	gate        *progress.Gate
	packs       *storage.PackStore
	mirror      storage.Mirror
	ai          renderer.Renderer
	fallback    renderer.Renderer
	sizes       renderer.Sizes
	retention   *retention.Manager
	asynqClient *asynq.Client
	keepLatest  int
}

// NewPackService wires the pipeline. mirror, ai and asynqClient may be nil;
// the service degrades to local disk, procedural rendering and in-process
// cleanup respectively.
func NewPackService(
	cfg *config.PacksConfig,
	store state.Store,
	reg *registry.Registry,
	hub *progress.Hub,
	gate *progress.Gate,
	packs *storage.PackStore,
	mirror storage.Mirror,
	ai renderer.Renderer,
	retMgr *retention.Manager,
	asynqClient *asynq.Client,
) *PackService {
	sizes := renderer.DefaultSizes()
	if cfg != nil {
		if cfg.MinSize > 0 {
			sizes.Min = cfg.MinSize
		}
		if cfg.MaxSize > 0 {
			sizes.Max = cfg.MaxSize
		}
		if cfg.CoverSize > 0 {
			sizes.Cover = cfg.CoverSize
		}
		if cfg.BoardSize > 0 {
			sizes.Board = cfg.BoardSize
		}
		if cfg.TokenSize > 0 {
			sizes.Token = cfg.TokenSize
		}
	}
	keep := retention.DefaultKeepLatest
	if cfg != nil && cfg.KeepLatest > 0 {
		keep = cfg.KeepLatest
	}
	return &PackService{
		store:       store,
		registry:    reg,
		hub:         hub,
		gate:        gate,
		packs:       packs,
		mirror:      mirror,
		ai:          ai,
		fallback:    renderer.NewProcedural(),
		sizes:       sizes,
		retention:   retMgr,
		asynqClient: asynqClient,
		keepLatest:  keep,
	}
}

// pieceJob is one unit of work in a generation job's ordered plan.
type pieceJob struct {
	id       model.AssetIdentifier
	board    *model.BoardSpec
	piece    *model.PieceSpec
	targeted bool
}

// boardLevelOrder fixes per-board generation order: cover first so its
// derived palette is available, board-level assets before piece assets.
var boardLevelOrder = []string{
	model.RoleCover,
	model.RoleBoard,
	model.RoleBackground,
	model.RoleTileLight,
	model.RoleTileDark,
}

// CreatePack runs one generation job to completion, cancellation or fatal
// failure. It blocks the caller; progress streams on the job's channel.
func (s *PackService) CreatePack(ctx context.Context, req *model.CreatePackRequest, owner string) (*model.CreatePackResponse, error) {
	channel := req.ProgressChannel
	if channel == "" {
		channel = uuid.New().String()
	}
	packID := uuid.New().String()

	// The job context is detached from the HTTP request: cancellation is an
	// explicit token fired by the cancel endpoint or the hub, never implied
	// by transport teardown.
	jobCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := s.registry.Register(req.GameID, channel, packID, cancel); err != nil {
		s.hub.Publish(channel, model.EventRejected, req.GameID, map[string]string{
			"reason": err.Error(),
		})
		return nil, err
	}
	s.hub.AttachCancel(channel, cancel)

	// Resolve the reuse source before the new pack directory exists, so
	// "latest pack" can never pick up the pack being created.
	resumePack := req.ResumePackID
	if resumePack == "" && (req.ReuseExistingPieces || len(req.TargetIDs) > 0 || len(req.TargetBoardIDs) > 0) {
		if latest, ok := s.packs.LatestPackID(req.GameID); ok {
			resumePack = latest
		}
	}

	if err := s.packs.CreatePack(packID, req.GameID, owner); err != nil {
		s.registry.Unregister(req.GameID)
		return nil, fmt.Errorf("failed to create pack: %w", err)
	}

	plan := s.resolveTargets(req)
	s.seed(jobCtx, req, packID, channel, plan)

	s.hub.Publish(channel, model.EventStart, req.GameID, model.StartPayload{
		PackID:     packID,
		Channel:    channel,
		PieceCount: len(plan),
	})

	for _, pj := range plan {
		if jobCtx.Err() != nil {
			return s.finishCancelled(req.GameID, packID, channel)
		}

		if err := s.runPiece(jobCtx, req, pj, packID, resumePack, channel); err != nil {
			if jobCtx.Err() != nil {
				return s.finishCancelled(req.GameID, packID, channel)
			}
			return nil, s.finishFailed(req.GameID, packID, channel, pj.id, err)
		}

		if req.AwaitAdvance {
			s.gate.Await(jobCtx, channel)
		}
	}

	if jobCtx.Err() != nil {
		return s.finishCancelled(req.GameID, packID, channel)
	}
	return s.finishComplete(ctx, req.GameID, packID, channel, resumePack)
}

// resolveTargets builds the ordered generation plan and marks which pieces
// the request actually targets. With no filters everything is targeted;
// with filters, non-targeted pieces are later copied from the resume pack.
func (s *PackService) resolveTargets(req *model.CreatePackRequest) []pieceJob {
	targetIDs := make(map[string]bool, len(req.TargetIDs))
	for _, raw := range req.TargetIDs {
		targetIDs[model.NormalizeAssetID(raw).String()] = true
	}
	targetBoards := make(map[string]bool, len(req.TargetBoardIDs))
	for _, b := range req.TargetBoardIDs {
		targetBoards[b] = true
	}
	filtered := len(targetIDs) > 0 || len(targetBoards) > 0

	targeted := func(id model.AssetIdentifier) bool {
		if !filtered {
			return true
		}
		return targetIDs[id.String()] || (id.BoardID != "" && targetBoards[id.BoardID])
	}

	var plan []pieceJob
	add := func(id model.AssetIdentifier, board *model.BoardSpec, piece *model.PieceSpec) {
		plan = append(plan, pieceJob{id: id, board: board, piece: piece, targeted: targeted(id)})
	}

	for i := range req.Boards {
		board := &req.Boards[i]
		for _, role := range boardLevelOrder {
			add(model.AssetID(role, board.ID, ""), board, nil)
		}
		for j := range req.Pieces {
			piece := &req.Pieces[j]
			if piece.Global {
				continue
			}
			for _, variant := range variantsOf(piece) {
				add(model.AssetID(piece.Role, board.ID, variant), board, piece)
			}
		}
	}
	for j := range req.Pieces {
		piece := &req.Pieces[j]
		if !piece.Global {
			continue
		}
		for _, variant := range variantsOf(piece) {
			add(model.AssetID(piece.Role, "", variant), nil, piece)
		}
	}
	return plan
}

func variantsOf(piece *model.PieceSpec) []string {
	if len(piece.Variants) == 0 {
		return []string{model.DefaultVariant}
	}
	return piece.Variants
}

// seed installs the initial JobState with one queued piece per plan entry.
func (s *PackService) seed(ctx context.Context, req *model.CreatePackRequest, packID, channel string, plan []pieceJob) {
	pieces := make(map[string]*model.PieceState, len(plan))
	for _, pj := range plan {
		key := pj.id.String()
		pieces[key] = &model.PieceState{
			ID:      key,
			Role:    pj.id.Role,
			BoardID: pj.id.BoardID,
			Variant: pj.id.Variant,
			Status:  model.PieceStatusQueued,
		}
	}
	st := &model.JobState{
		GameID:          req.GameID,
		PackID:          packID,
		RenderStyle:     req.Style(),
		ProgressChannel: channel,
		Active:          true,
		Pieces:          pieces,
		BoardAssets:     make(map[string]*model.BoardAssetBucket),
		UpdatedAt:       time.Now(),
	}
	if err := s.store.Seed(ctx, st); err != nil {
		log.Printf("Failed to seed job state for game %s: %v", req.GameID, err)
	}
}

// runPiece produces one asset: reuse-copy when the plan allows it,
// otherwise render with degradation. A returned error is fatal for the job.
func (s *PackService) runPiece(ctx context.Context, req *model.CreatePackRequest, pj pieceJob, packID, resumePack, channel string) error {
	key := pj.id.String()
	s.markActive(ctx, req.GameID, key)
	s.hub.Publish(channel, model.EventPieceStart, req.GameID, model.PiecePayload{
		ID:     key,
		Status: model.PieceStatusLoading,
	})

	// Reuse policy: explicitly targeted identifiers always regenerate.
	// Non-targeted pieces under a filter are preserved by copying; an
	// unfiltered request copies only when the caller opted into reuse.
	if !pj.targeted && resumePack != "" {
		if done, err := s.reusePiece(ctx, req.GameID, pj.id, packID, resumePack, channel); done || err != nil {
			return err
		}
		// Source art missing: forced regeneration.
	} else if pj.targeted && !s.isFiltered(req) && req.ReuseExistingPieces && resumePack != "" {
		if done, err := s.reusePiece(ctx, req.GameID, pj.id, packID, resumePack, channel); done || err != nil {
			return err
		}
	}

	return s.generatePiece(ctx, req, pj, packID, channel)
}

func (s *PackService) isFiltered(req *model.CreatePackRequest) bool {
	return len(req.TargetIDs) > 0 || len(req.TargetBoardIDs) > 0
}

// reusePiece copies the asset byte-for-byte from the resume pack, with its
// URL rewritten to the new pack. Returns done=false when no source exists.
func (s *PackService) reusePiece(ctx context.Context, gameID string, id model.AssetIdentifier, packID, resumePack, channel string) (bool, error) {
	url, err := s.packs.CopyAsset(resumePack, packID, id)
	if err != nil {
		if errors.Is(err, storage.ErrAssetNotFound) {
			return false, nil
		}
		log.Printf("Reuse copy of %s from pack %s failed: %v", id.String(), resumePack, err)
		return false, nil
	}

	reused := true
	if err := s.store.UpdatePiece(ctx, gameID, id, model.PiecePatch{
		Status: model.PieceStatusReady,
		URL:    &url,
		Reused: &reused,
	}); err != nil {
		log.Printf("Failed to record reused piece %s: %v", id.String(), err)
	}
	s.hub.Publish(channel, model.EventPiece, gameID, model.PiecePayload{
		ID:     id.String(),
		Status: model.PieceStatusReady,
		URL:    url,
		Reused: true,
	})
	return true, nil
}

// generatePiece invokes the renderer with the resolved, sanitized prompt
// and applies the degradation ladder: backend → procedural fallback →
// missing. A hard backend failure under photoreal is fatal.
func (s *PackService) generatePiece(ctx context.Context, req *model.CreatePackRequest, pj pieceJob, packID, channel string) error {
	key := pj.id.String()

	prompt := renderer.ResolvePrompt(req, pj.id, pj.board, pj.piece)
	prompt, replaced := renderer.SanitizePrompt(prompt)
	if len(replaced) > 0 {
		s.hub.Publish(channel, model.EventNotice, req.GameID, model.NoticePayload{
			PieceID:  key,
			Replaced: replaced,
			Message:  "prompt contained protected terms and was adjusted",
		})
	}

	if err := s.store.UpdatePiece(ctx, req.GameID, pj.id, model.PiecePatch{
		Status: model.PieceStatusLoading,
		Prompt: &prompt,
	}); err != nil {
		log.Printf("Failed to mark piece %s loading: %v", key, err)
	}

	var requestedSize int
	if pj.piece != nil {
		requestedSize = pj.piece.Size
	}
	rreq := &renderer.Request{
		GameID:      req.GameID,
		Role:        pj.id.Role,
		BoardID:     pj.id.BoardID,
		Variant:     pj.id.Variant,
		Prompt:      prompt,
		ThemeColors: req.ThemeColors,
		Size:        s.sizes.For(pj.id.Role, requestedSize),
		Style:       req.Style(),
	}

	var (
		res    *renderer.Result
		status = model.PieceStatusReady
	)

	if req.Style() == model.RenderStylePhotoreal {
		// Photoreal strictly requires the image backend: a hard failure
		// here aborts the whole job rather than degrading silently.
		if s.ai == nil || !s.ai.IsConfigured() {
			return fmt.Errorf("%w: image backend required for photoreal style but not configured", ErrRenderFailed)
		}
		var err error
		res, err = s.ai.Render(ctx, rreq)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: %v", ErrRenderFailed, err)
		}
		if res == nil {
			// Soft no-output: degrade to the procedural fallback.
			res, err = s.fallback.Render(ctx, rreq)
			if err != nil && ctx.Err() != nil {
				return ctx.Err()
			}
			if err != nil || res == nil {
				return s.markMissing(ctx, req.GameID, pj.id, channel)
			}
			status = model.PieceStatusFallback
		}
	} else {
		var err error
		res, err = s.fallback.Render(ctx, rreq)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: %v", ErrRenderFailed, err)
		}
		if res == nil {
			return s.markMissing(ctx, req.GameID, pj.id, channel)
		}
	}

	url, err := s.packs.WriteAsset(packID, pj.id, res.Data, res.Format)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRenderFailed, err)
	}
	url = s.mirrorAsset(ctx, packID, pj.id, res, url)

	if err := s.store.UpdatePiece(ctx, req.GameID, pj.id, model.PiecePatch{
		Status: status,
		URL:    &url,
	}); err != nil {
		log.Printf("Failed to record piece %s: %v", key, err)
	}
	s.hub.Publish(channel, model.EventPiece, req.GameID, model.PiecePayload{
		ID:     key,
		Status: status,
		URL:    url,
	})
	return nil
}

// mirrorAsset uploads the asset to the CDN mirror when one is configured.
// Mirror failures keep the local URL; the job never fails on mirroring.
func (s *PackService) mirrorAsset(ctx context.Context, packID string, id model.AssetIdentifier, res *renderer.Result, localURL string) string {
	if s.mirror == nil || !s.mirror.IsConfigured() {
		return localURL
	}
	rel := storage.AssetRelPath(id, res.Format)
	contentType := "image/png"
	if res.Format == "svg" {
		contentType = "image/svg+xml"
	}
	cdnURL, err := s.mirror.Upload(ctx, "packs/"+packID+"/"+rel, bytes.NewReader(res.Data), contentType)
	if err != nil {
		log.Printf("Mirror upload for %s failed: %v", id.String(), err)
		return localURL
	}
	return cdnURL
}

func (s *PackService) markMissing(ctx context.Context, gameID string, id model.AssetIdentifier, channel string) error {
	if err := s.store.UpdatePiece(ctx, gameID, id, model.PiecePatch{
		Status: model.PieceStatusMissing,
	}); err != nil {
		log.Printf("Failed to mark piece %s missing: %v", id.String(), err)
	}
	s.hub.Publish(channel, model.EventPieceError, gameID, model.PiecePayload{
		ID:     id.String(),
		Status: model.PieceStatusMissing,
	})
	// A missing piece is not an error; the job continues.
	return nil
}

func (s *PackService) markActive(ctx context.Context, gameID, pieceID string) {
	if err := s.store.MarkJob(ctx, gameID, model.JobPatch{ActivePiece: &pieceID}); err != nil {
		log.Printf("Failed to mark active piece %s: %v", pieceID, err)
	}
}

func (s *PackService) finishComplete(ctx context.Context, gameID, packID, channel, resumePack string) (*model.CreatePackResponse, error) {
	inactive := false
	noPiece := ""
	if err := s.store.MarkJob(ctx, gameID, model.JobPatch{Active: &inactive, ActivePiece: &noPiece}); err != nil {
		log.Printf("Failed to deactivate job state for game %s: %v", gameID, err)
	}

	var boardAssets map[string]*model.BoardAssetBucket
	if st, err := s.store.Get(ctx, gameID); err == nil {
		boardAssets = st.BoardAssets
	}

	baseURL := s.packs.URLFor(packID, "")
	s.hub.Publish(channel, model.EventComplete, gameID, model.CompletePayload{
		PackID:      packID,
		BaseURL:     baseURL,
		BoardAssets: boardAssets,
	})

	s.registry.Unregister(gameID)
	s.gate.Forget(channel)
	s.hub.Close(channel)

	// Retention runs after the response; its failure never surfaces here.
	s.scheduleCleanup(gameID, packID, resumePack)

	return &model.CreatePackResponse{
		PackID:      packID,
		BaseURL:     baseURL,
		Channel:     channel,
		BoardAssets: boardAssets,
	}, nil
}

// finishCancelled preserves all partial progress: files already written
// stay on disk for inspection or resume.
func (s *PackService) finishCancelled(gameID, packID, channel string) (*model.CreatePackResponse, error) {
	ctx := context.Background()
	if err := s.store.MarkCancelled(ctx, gameID); err != nil {
		log.Printf("Failed to mark job cancelled for game %s: %v", gameID, err)
	}

	var boardAssets map[string]*model.BoardAssetBucket
	if st, err := s.store.Get(ctx, gameID); err == nil {
		boardAssets = st.BoardAssets
	}

	s.hub.Publish(channel, model.EventCancelled, gameID, map[string]string{"packId": packID})
	s.registry.Unregister(gameID)
	s.gate.Forget(channel)
	s.hub.Close(channel)

	log.Printf("Pack generation for game %s cancelled, pack %s kept for resume", gameID, packID)
	return &model.CreatePackResponse{
		PackID:      packID,
		BaseURL:     s.packs.URLFor(packID, ""),
		Channel:     channel,
		BoardAssets: boardAssets,
		Cancelled:   true,
	}, nil
}

func (s *PackService) finishFailed(gameID, packID, channel string, id model.AssetIdentifier, cause error) error {
	ctx := context.Background()
	if err := s.store.UpdatePiece(ctx, gameID, id, model.PiecePatch{
		Status: model.PieceStatusError,
	}); err != nil {
		log.Printf("Failed to mark piece %s errored: %v", id.String(), err)
	}
	inactive := false
	noPiece := ""
	if err := s.store.MarkJob(ctx, gameID, model.JobPatch{Active: &inactive, ActivePiece: &noPiece}); err != nil {
		log.Printf("Failed to deactivate job state for game %s: %v", gameID, err)
	}

	s.hub.Publish(channel, model.EventPieceError, gameID, model.PiecePayload{
		ID:     id.String(),
		Status: model.PieceStatusError,
		Error:  cause.Error(),
	})
	s.hub.Publish(channel, model.EventError, gameID, map[string]string{
		"packId": packID,
		"error":  cause.Error(),
	})
	s.registry.Unregister(gameID)
	s.gate.Forget(channel)
	s.hub.Close(channel)

	log.Printf("Pack generation for game %s aborted on %s: %v", gameID, id.String(), cause)
	return cause
}

// CancelJob fires the cancellation handle of the game's pending job.
// Idempotent: reports false when nothing was active.
func (s *PackService) CancelJob(gameID string) *model.CancelJobResponse {
	return &model.CancelJobResponse{
		Cancelled: s.registry.Cancel(gameID),
		GameID:    gameID,
	}
}

// Advance signals the advance gate for a channel. When a game id is
// supplied it must own the channel.
func (s *PackService) Advance(channel, gameID string) (bool, error) {
	if gameID != "" {
		job, ok := s.registry.Get(gameID)
		if !ok || job.Channel != channel {
			return false, ErrNotJobOwner
		}
	}
	return s.gate.Signal(channel), nil
}

// JobStatus reports whether a generation job is active for a game.
func (s *PackService) JobStatus(gameID string) *model.JobStatusResponse {
	job, ok := s.registry.Get(gameID)
	if !ok {
		return &model.JobStatusResponse{GameID: gameID, Active: false}
	}
	started := job.StartedAt
	return &model.JobStatusResponse{
		GameID:    gameID,
		Active:    true,
		Channel:   job.Channel,
		PackID:    job.PackID,
		StartedAt: &started,
	}
}

// JobStateJSON returns the serialized snapshot served to resyncing clients.
func (s *PackService) JobStateJSON(ctx context.Context, gameID string) ([]byte, error) {
	return s.store.Serialize(ctx, gameID)
}

// DeletePack removes one pack and its mirrored objects. When the pack
// sidecar carries an owner and a requester is known, they must match.
func (s *PackService) DeletePack(ctx context.Context, packID, requester string) error {
	meta, err := s.packs.ReadMeta(packID)
	if err != nil {
		return err
	}
	if meta.Owner != "" && requester != "" && meta.Owner != requester {
		return ErrNotPackOwner
	}
	if err := s.packs.DeletePack(packID); err != nil {
		return err
	}
	if s.mirror != nil && s.mirror.IsConfigured() {
		if err := s.mirror.DeletePrefix(ctx, "packs/"+packID+"/"); err != nil {
			log.Printf("Mirror delete for pack %s failed: %v", packID, err)
		}
	}
	return nil
}

// DeletePacksForGame removes all packs belonging to a game.
func (s *PackService) DeletePacksForGame(ctx context.Context, gameID string) ([]string, error) {
	deleted, err := s.packs.DeletePacksForGame(gameID)
	if err != nil {
		return deleted, err
	}
	if s.mirror != nil && s.mirror.IsConfigured() {
		for _, packID := range deleted {
			if err := s.mirror.DeletePrefix(ctx, "packs/"+packID+"/"); err != nil {
				log.Printf("Mirror delete for pack %s failed: %v", packID, err)
			}
		}
	}
	return deleted, nil
}

// scheduleCleanup retires superseded packs asynchronously, via asynq when a
// client is configured and in-process otherwise. The new pack and the
// resume source are always preserved.
func (s *PackService) scheduleCleanup(gameID, packID, resumePack string) {
	preserve := []string{packID}
	if resumePack != "" {
		preserve = append(preserve, resumePack)
	}

	if s.asynqClient != nil {
		task, err := NewCleanupTask(gameID, s.keepLatest, preserve)
		if err == nil {
			_, err = s.asynqClient.Enqueue(task,
				asynq.Queue("maintenance"),
				asynq.MaxRetry(2),
			)
			if err == nil {
				return
			}
		}
		log.Printf("Failed to enqueue cleanup for game %s, running inline: %v", gameID, err)
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		s.retention.Cleanup(ctx, gameID, s.keepLatest, toSet(preserve))
	}()
}

func toSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}
