package service

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/boardforge/api/internal/model"
	"github.com/boardforge/api/internal/progress"
	"github.com/boardforge/api/internal/registry"
	"github.com/boardforge/api/internal/renderer"
	"github.com/boardforge/api/internal/retention"
	"github.com/boardforge/api/internal/state"
	"github.com/boardforge/api/internal/storage"
)

// stubRenderer stands in for the image backend. Each Render call is counted
// and delegated to onRender when set.
type stubRenderer struct {
	configured bool
	calls      int32
	onRender   func(ctx context.Context, n int32, req *renderer.Request) (*renderer.Result, error)
}

func (s *stubRenderer) IsConfigured() bool { return s.configured }

func (s *stubRenderer) Render(ctx context.Context, req *renderer.Request) (*renderer.Result, error) {
	n := atomic.AddInt32(&s.calls, 1)
	if s.onRender != nil {
		return s.onRender(ctx, n, req)
	}
	return &renderer.Result{Data: []byte("png-bytes"), Format: "png"}, nil
}

type fixture struct {
	svc   *PackService
	hub   *progress.Hub
	gate  *progress.Gate
	store state.Store
	packs *storage.PackStore
	reg   *registry.Registry
}

func newFixture(t *testing.T, ai renderer.Renderer) *fixture {
	t.Helper()
	hub := progress.NewHubWith(64, time.Hour)
	gate := progress.NewGate(hub, 50*time.Millisecond)
	store := state.NewMemoryStore(hub)
	packs := storage.NewPackStore(t.TempDir(), "")
	reg := registry.New()
	svc := NewPackService(nil, store, reg, hub, gate, packs, nil, ai, retention.New(packs, nil), nil)
	return &fixture{svc: svc, hub: hub, gate: gate, store: store, packs: packs, reg: reg}
}

func basicRequest(gameID string) *model.CreatePackRequest {
	return &model.CreatePackRequest{
		GameID: gameID,
		Boards: []model.BoardSpec{{ID: "board-1", Theme: "haunted forest"}},
		Pieces: []model.PieceSpec{
			{Role: model.RoleToken, Variants: []string{"red", "blue"}},
		},
	}
}

func TestCreatePackCompletes(t *testing.T) {
	f := newFixture(t, nil)
	req := basicRequest("g1")
	req.ProgressChannel = "ch1"

	sub := f.hub.Subscribe("ch1")
	defer sub.Close()

	resp, err := f.svc.CreatePack(context.Background(), req, "user-1")
	if err != nil {
		t.Fatalf("CreatePack failed: %v", err)
	}
	if resp.PackID == "" || resp.Channel != "ch1" || resp.Cancelled {
		t.Errorf("response = %+v", resp)
	}

	bucket := resp.BoardAssets["board-1"]
	if bucket == nil {
		t.Fatal("no bucket for board-1")
	}
	if bucket.Cover == "" || bucket.BoardPreview == "" || bucket.Background == "" ||
		bucket.TileLight == "" || bucket.TileDark == "" {
		t.Errorf("board-level assets incomplete: %+v", bucket)
	}
	if bucket.Tokens["red"] == "" || bucket.Tokens["blue"] == "" {
		t.Errorf("token variants incomplete: %v", bucket.Tokens)
	}
	if !strings.Contains(bucket.Cover, "/packs/"+resp.PackID+"/") {
		t.Errorf("cover url %q not under the new pack", bucket.Cover)
	}

	// Job state: every piece terminal, job inactive, lock released.
	st, err := f.store.Get(context.Background(), "g1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if st.Active {
		t.Error("job still active after completion")
	}
	if len(st.Pieces) != 7 {
		t.Errorf("piece count = %d, want 7", len(st.Pieces))
	}
	for key, ps := range st.Pieces {
		if ps.Status != model.PieceStatusReady {
			t.Errorf("piece %s status = %s", key, ps.Status)
		}
	}
	if _, ok := f.reg.Get("g1"); ok {
		t.Error("pending job still registered after completion")
	}

	// The stream carried start, per-piece events and the terminal pair.
	kinds := map[string]int{}
	for {
		ev, ok := <-sub.C
		if !ok {
			break
		}
		kinds[ev.Kind]++
	}
	if kinds[model.EventStart] != 1 || kinds[model.EventComplete] != 1 || kinds[model.EventClosed] != 1 {
		t.Errorf("terminal events = %v", kinds)
	}
	if kinds[model.EventPiece] != 7 || kinds[model.EventPieceStart] != 7 {
		t.Errorf("piece events = %v", kinds)
	}
}

func TestCreatePackRejectsSecondJob(t *testing.T) {
	f := newFixture(t, nil)
	if _, err := f.reg.Register("g1", "other", "other-pack", func() {}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	_, err := f.svc.CreatePack(context.Background(), basicRequest("g1"), "")
	if !errors.Is(err, registry.ErrJobActive) {
		t.Fatalf("CreatePack = %v, want ErrJobActive", err)
	}
}

func TestCancellationPreservesPartialOutput(t *testing.T) {
	f := newFixture(t, nil)
	ai := &stubRenderer{configured: true}
	ai.onRender = func(ctx context.Context, n int32, req *renderer.Request) (*renderer.Result, error) {
		if n == 3 {
			// Cancel mid-job, as the cancel endpoint would.
			f.svc.CancelJob("g1")
			return nil, ctx.Err()
		}
		return &renderer.Result{Data: []byte("png"), Format: "png"}, nil
	}
	f.svc.ai = ai

	req := basicRequest("g1")
	req.RenderStyle = model.RenderStylePhotoreal

	resp, err := f.svc.CreatePack(context.Background(), req, "")
	if err != nil {
		t.Fatalf("cancelled CreatePack returned error: %v", err)
	}
	if !resp.Cancelled {
		t.Fatal("response not flagged cancelled")
	}

	// The two finished pieces stay in the response and on disk.
	bucket := resp.BoardAssets["board-1"]
	if bucket == nil || bucket.Cover == "" || bucket.BoardPreview == "" {
		t.Errorf("partial assets missing: %+v", bucket)
	}
	if _, err := f.packs.FindAsset(resp.PackID, model.AssetID(model.RoleCover, "board-1", "")); err != nil {
		t.Errorf("finished asset removed from disk: %v", err)
	}
	if _, err := f.packs.ReadMeta(resp.PackID); err != nil {
		t.Errorf("cancelled pack directory removed: %v", err)
	}

	st, _ := f.store.Get(context.Background(), "g1")
	if st.Active {
		t.Error("job still active after cancellation")
	}
	if st.Pieces["cover-board-1"].Status != model.PieceStatusReady {
		t.Error("finished piece lost its terminal status")
	}
	cancelled := 0
	for _, ps := range st.Pieces {
		if ps.Status == model.PieceStatusCancelled {
			cancelled++
		}
	}
	if cancelled == 0 {
		t.Error("no pieces marked cancelled")
	}
	if _, ok := f.reg.Get("g1"); ok {
		t.Error("pending job still registered after cancellation")
	}
}

func TestReuseCopiesAndRewritesURLs(t *testing.T) {
	f := newFixture(t, nil)

	first, err := f.svc.CreatePack(context.Background(), basicRequest("g1"), "")
	if err != nil {
		t.Fatalf("first CreatePack failed: %v", err)
	}

	req := basicRequest("g1")
	req.ReuseExistingPieces = true
	second, err := f.svc.CreatePack(context.Background(), req, "")
	if err != nil {
		t.Fatalf("second CreatePack failed: %v", err)
	}
	if second.PackID == first.PackID {
		t.Fatal("reuse run did not get a fresh pack id")
	}

	bucket := second.BoardAssets["board-1"]
	if !strings.Contains(bucket.Cover, "/packs/"+second.PackID+"/") {
		t.Errorf("reused cover url %q still points at the old pack", bucket.Cover)
	}

	st, _ := f.store.Get(context.Background(), "g1")
	for key, ps := range st.Pieces {
		if !ps.Reused {
			t.Errorf("piece %s not marked reused", key)
		}
		if ps.Status != model.PieceStatusReady {
			t.Errorf("reused piece %s status = %s", key, ps.Status)
		}
	}
}

func TestTargetedRegeneration(t *testing.T) {
	f := newFixture(t, nil)

	if _, err := f.svc.CreatePack(context.Background(), basicRequest("g1"), ""); err != nil {
		t.Fatalf("first CreatePack failed: %v", err)
	}

	req := basicRequest("g1")
	// Add a variant that has no source in the previous pack.
	req.Pieces[0].Variants = []string{"red", "blue", "green"}
	req.TargetIDs = []string{"token-board-1-red"}

	if _, err := f.svc.CreatePack(context.Background(), req, ""); err != nil {
		t.Fatalf("targeted CreatePack failed: %v", err)
	}

	st, _ := f.store.Get(context.Background(), "g1")

	// Targeted piece regenerated, untouched siblings copied.
	if st.Pieces["token-board-1-red"].Reused {
		t.Error("targeted piece was reused instead of regenerated")
	}
	if !st.Pieces["token-board-1-blue"].Reused {
		t.Error("non-targeted piece was regenerated instead of reused")
	}
	if !st.Pieces["cover-board-1"].Reused {
		t.Error("non-targeted board asset was regenerated instead of reused")
	}

	// No source art exists for green: forced regeneration, not a failure.
	green := st.Pieces["token-board-1-green"]
	if green.Reused || green.Status != model.PieceStatusReady {
		t.Errorf("missing-source piece = %+v", green)
	}
}

func TestPhotorealRequiresBackend(t *testing.T) {
	f := newFixture(t, &stubRenderer{configured: false})

	req := basicRequest("g1")
	req.RenderStyle = model.RenderStylePhotoreal
	req.ProgressChannel = "ch1"
	sub := f.hub.Subscribe("ch1")
	defer sub.Close()

	_, err := f.svc.CreatePack(context.Background(), req, "")
	if !errors.Is(err, ErrRenderFailed) {
		t.Fatalf("CreatePack = %v, want ErrRenderFailed", err)
	}

	st, _ := f.store.Get(context.Background(), "g1")
	if st.Active {
		t.Error("job still active after failure")
	}
	if st.Pieces["cover-board-1"].Status != model.PieceStatusError {
		t.Errorf("failed piece status = %s", st.Pieces["cover-board-1"].Status)
	}
	if _, ok := f.reg.Get("g1"); ok {
		t.Error("pending job still registered after failure")
	}

	sawError := false
	for {
		ev, ok := <-sub.C
		if !ok {
			break
		}
		if ev.Kind == model.EventError {
			sawError = true
		}
	}
	if !sawError {
		t.Error("no error event on the progress channel")
	}
}

func TestSoftBackendFailureFallsBack(t *testing.T) {
	ai := &stubRenderer{configured: true}
	ai.onRender = func(ctx context.Context, n int32, req *renderer.Request) (*renderer.Result, error) {
		return nil, nil // backend had no output
	}
	f := newFixture(t, ai)

	req := basicRequest("g1")
	req.RenderStyle = model.RenderStylePhotoreal

	resp, err := f.svc.CreatePack(context.Background(), req, "")
	if err != nil {
		t.Fatalf("CreatePack failed: %v", err)
	}

	st, _ := f.store.Get(context.Background(), "g1")
	for key, ps := range st.Pieces {
		if ps.Status != model.PieceStatusFallback {
			t.Errorf("piece %s status = %s, want fallback", key, ps.Status)
		}
		if ps.URL == "" {
			t.Errorf("fallback piece %s has no url", key)
		}
	}
	if resp.BoardAssets["board-1"].Cover == "" {
		t.Error("fallback assets missing from the response")
	}
}

func TestAwaitAdvanceSkipsWithoutListeners(t *testing.T) {
	f := newFixture(t, nil)
	req := basicRequest("g1")
	req.AwaitAdvance = true

	start := time.Now()
	if _, err := f.svc.CreatePack(context.Background(), req, ""); err != nil {
		t.Fatalf("CreatePack failed: %v", err)
	}
	// Seven pieces with a 50ms gate timeout each would blow far past this bound
	// if the no-listener short circuit were broken.
	if elapsed := time.Since(start); elapsed > 200*time.Millisecond {
		t.Errorf("gated job with no listeners took %v", elapsed)
	}
}

func TestAdvanceChecksChannelOwnership(t *testing.T) {
	f := newFixture(t, nil)
	if _, err := f.reg.Register("g1", "ch1", "pack-1", func() {}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	if _, err := f.svc.Advance("ch1", "g2"); !errors.Is(err, ErrNotJobOwner) {
		t.Errorf("Advance for wrong game = %v, want ErrNotJobOwner", err)
	}
	if _, err := f.svc.Advance("other-channel", "g1"); !errors.Is(err, ErrNotJobOwner) {
		t.Errorf("Advance for wrong channel = %v, want ErrNotJobOwner", err)
	}
	if _, err := f.svc.Advance("ch1", "g1"); err != nil {
		t.Errorf("Advance by the owner failed: %v", err)
	}
	// Anonymous advance is allowed; the channel token is the capability.
	if _, err := f.svc.Advance("ch1", ""); err != nil {
		t.Errorf("anonymous Advance failed: %v", err)
	}
}

func TestCancelJobIdempotent(t *testing.T) {
	f := newFixture(t, nil)
	resp := f.svc.CancelJob("g1")
	if resp.Cancelled {
		t.Error("CancelJob with no active job reported a cancellation")
	}
}

func TestJobStatus(t *testing.T) {
	f := newFixture(t, nil)

	if st := f.svc.JobStatus("g1"); st.Active {
		t.Error("idle game reported active")
	}

	if _, err := f.reg.Register("g1", "ch1", "pack-1", func() {}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	st := f.svc.JobStatus("g1")
	if !st.Active || st.Channel != "ch1" || st.PackID != "pack-1" || st.StartedAt == nil {
		t.Errorf("status = %+v", st)
	}
}
