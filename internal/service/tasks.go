package service

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

// CleanupPayload is the packs:cleanup task body.
type CleanupPayload struct {
	GameID     string   `json:"gameId"`
	KeepLatest int      `json:"keepLatest"`
	Preserve   []string `json:"preserve,omitempty"`
}

// NewCleanupTask builds the asynq task that retires a game's old packs.
func NewCleanupTask(gameID string, keepLatest int, preserve []string) (*asynq.Task, error) {
	payload := CleanupPayload{
		GameID:     gameID,
		KeepLatest: keepLatest,
		Preserve:   preserve,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeCleanup, data), nil
}

// PreserveSet converts the preserve list into the lookup form the
// retention manager expects.
func (p *CleanupPayload) PreserveSet() map[string]bool {
	return toSet(p.Preserve)
}
