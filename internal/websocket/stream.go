package websocket

import (
	"encoding/json"
	"log"
	"time"

	"github.com/gofiber/contrib/websocket"

	"github.com/boardforge/api/internal/model"
	"github.com/boardforge/api/internal/progress"
)

const pingInterval = 30 * time.Second

// Streamer bridges hub subscriptions onto WebSocket connections. A client
// connects with either a progress channel token or a game id; replayed
// events are delivered before any live ones.
type Streamer struct {
	hub  *progress.Hub
	gate *progress.Gate
}

// NewStreamer creates a streamer over the given hub and advance gate.
func NewStreamer(hub *progress.Hub, gate *progress.Gate) *Streamer {
	return &Streamer{hub: hub, gate: gate}
}

type clientMessage struct {
	Type    string `json:"type"`
	Channel string `json:"channel,omitempty"`
}

// HandleConnection streams a progress channel to a connected client until
// the client disconnects or the channel is closed.
func (s *Streamer) HandleConnection(c *websocket.Conn, channel string) {
	sub := s.hub.Subscribe(channel)
	defer sub.Close()

	s.serve(c, sub, channel)
}

// HandleGameConnection streams live events for every job of a game. Game
// rooms carry no replay buffer; only events published after the client
// attaches are delivered.
func (s *Streamer) HandleGameConnection(c *websocket.Conn, gameID string) {
	sub := s.hub.SubscribeGame(gameID)
	defer sub.Close()

	s.serve(c, sub, "")
}

func (s *Streamer) serve(c *websocket.Conn, sub *progress.Subscription, channel string) {
	// All writes funnel through the writer goroutine; the reader pushes
	// replies here instead of writing to the connection itself.
	send := make(chan []byte, 16)
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()

		for {
			select {
			case ev, ok := <-sub.C:
				if !ok {
					c.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
				data, err := json.Marshal(ev)
				if err != nil {
					log.Printf("Failed to marshal progress event: %v", err)
					continue
				}
				if err := c.WriteMessage(websocket.TextMessage, data); err != nil {
					return
				}

			case data := <-send:
				if err := c.WriteMessage(websocket.TextMessage, data); err != nil {
					return
				}

			case <-ticker.C:
				// Send ping for keep-alive
				if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	// Reader loop
	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		var msg clientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}

		switch msg.Type {
		case "ping":
			pong, _ := json.Marshal(model.ProgressEvent{Channel: channel, Kind: "pong"})
			select {
			case send <- pong:
			default:
			}

		case "advance":
			// Lets a spectating client release a job parked at the
			// advance gate without a separate HTTP round trip.
			target := msg.Channel
			if target == "" {
				target = channel
			}
			if target != "" && s.gate != nil {
				s.gate.Signal(target)
			}
		}
	}

	sub.Close()
	<-done
}
