package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/hibiken/asynq"

	"github.com/boardforge/api/internal/retention"
	"github.com/boardforge/api/internal/service"
)

// CleanupWorker processes packs:cleanup tasks.
type CleanupWorker struct {
	retention *retention.Manager
}

// NewCleanupWorker creates a new cleanup worker.
func NewCleanupWorker(retMgr *retention.Manager) *CleanupWorker {
	return &CleanupWorker{retention: retMgr}
}

// ProcessTask retires superseded packs for one game. Deletion is
// best-effort inside the manager; only a malformed payload fails the task.
func (w *CleanupWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload service.CleanupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal cleanup payload: %w", err)
	}

	deleted := w.retention.Cleanup(ctx, payload.GameID, payload.KeepLatest, payload.PreserveSet())
	log.Printf("Cleanup task for game %s done, %d pack(s) removed", payload.GameID, len(deleted))
	return nil
}
