package model

// Progress event kinds
const (
	EventStart      = "start"
	EventPieceStart = "piece-start"
	EventPiece      = "piece"
	EventPieceError = "piece-error"
	EventNotice     = "notice"
	EventState      = "state"
	EventComplete   = "complete"
	EventCancelled  = "cancelled"
	EventError      = "error"
	EventRejected   = "rejected"

	// Transport-level kinds, not part of the job protocol.
	EventHeartbeat = "heartbeat"
	EventClosed    = "closed"
)

// ProgressEvent is one message on a job's progress channel. Transient:
// consumed by subscribers and folded into JobState where relevant.
type ProgressEvent struct {
	Channel string      `json:"channel"`
	Kind    string      `json:"kind"`
	GameID  string      `json:"gameId,omitempty"`
	Payload interface{} `json:"payload,omitempty"`
}

// PiecePayload is the payload of piece-start, piece and piece-error events.
type PiecePayload struct {
	ID     string      `json:"id"`
	Status PieceStatus `json:"status"`
	URL    string      `json:"url,omitempty"`
	Reused bool        `json:"reused,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// StartPayload is the payload of the start event.
type StartPayload struct {
	PackID     string `json:"packId"`
	Channel    string `json:"channel"`
	PieceCount int    `json:"pieceCount"`
}

// CompletePayload is the payload of the complete event.
type CompletePayload struct {
	PackID      string                       `json:"packId"`
	BaseURL     string                       `json:"baseUrl"`
	BoardAssets map[string]*BoardAssetBucket `json:"boardAssets"`
}

// NoticePayload reports prompt sanitizer substitutions.
type NoticePayload struct {
	PieceID  string   `json:"pieceId"`
	Replaced []string `json:"replaced"`
	Message  string   `json:"message"`
}
