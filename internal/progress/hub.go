package progress

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/boardforge/api/internal/model"
)

const (
	// DefaultReplayCapacity bounds the per-channel replay buffer.
	DefaultReplayCapacity = 200

	// DefaultHeartbeat is the idle interval after which a keep-alive event
	// is emitted on channels with live listeners.
	DefaultHeartbeat = 30 * time.Second

	subscriberBuffer = 64
)

// Subscription is one listener attached to a channel or a game room.
type Subscription struct {
	C <-chan model.ProgressEvent

	hub    *Hub
	ch     chan model.ProgressEvent
	name   string
	isRoom bool
}

// Close detaches the subscription from the hub. Safe to call more than once
// and safe to call after the hub evicted the listener.
func (s *Subscription) Close() {
	s.hub.drop(s)
}

type channelState struct {
	buffer      []model.ProgressEvent
	listeners   map[*Subscription]bool
	cancel      context.CancelFunc
	lastPublish time.Time
}

// Hub is a channel-keyed publish/subscribe relay with a bounded replay
// buffer per channel. It has no knowledge of pieces, boards or jobs.
//
// Events that carry a game id are additionally fanned out to a per-game
// room, so clients can subscribe either by channel token or by game id.
type Hub struct {
	mu        sync.Mutex
	channels  map[string]*channelState
	rooms     map[string]map[*Subscription]bool
	replayCap int
	heartbeat time.Duration
}

// NewHub creates a hub with the default replay capacity and heartbeat.
func NewHub() *Hub {
	return &Hub{
		channels:  make(map[string]*channelState),
		rooms:     make(map[string]map[*Subscription]bool),
		replayCap: DefaultReplayCapacity,
		heartbeat: DefaultHeartbeat,
	}
}

// NewHubWith creates a hub with explicit tuning, used by tests.
func NewHubWith(replayCap int, heartbeat time.Duration) *Hub {
	h := NewHub()
	if replayCap > 0 {
		h.replayCap = replayCap
	}
	if heartbeat > 0 {
		h.heartbeat = heartbeat
	}
	return h
}

// Run emits keep-alive heartbeats on idle channels until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			h.emitHeartbeats(now)
		}
	}
}

func (h *Hub) emitHeartbeats(now time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for name, cs := range h.channels {
		if len(cs.listeners) == 0 || now.Sub(cs.lastPublish) < h.heartbeat {
			continue
		}
		// Heartbeats keep the transport alive but are not replayed.
		ev := model.ProgressEvent{Channel: name, Kind: model.EventHeartbeat}
		h.fanOutLocked(cs, ev)
		cs.lastPublish = now
	}
}

// Publish appends the event to the channel's replay buffer (drop-oldest at
// capacity) and fans it out to every attached listener. A cancelled event
// also fires the channel's attached cancellation handle, if any.
func (h *Hub) Publish(channel, kind, gameID string, payload interface{}) {
	ev := model.ProgressEvent{
		Channel: channel,
		Kind:    kind,
		GameID:  gameID,
		Payload: payload,
	}

	var cancel context.CancelFunc

	h.mu.Lock()
	cs := h.channel(channel)
	cs.buffer = append(cs.buffer, ev)
	if len(cs.buffer) > h.replayCap {
		cs.buffer = cs.buffer[len(cs.buffer)-h.replayCap:]
	}
	cs.lastPublish = time.Now()
	h.fanOutLocked(cs, ev)
	if gameID != "" {
		for sub := range h.rooms[gameID] {
			if !h.sendLocked(sub, ev) {
				delete(h.rooms[gameID], sub)
				close(sub.ch)
			}
		}
	}
	if kind == model.EventCancelled {
		cancel = cs.cancel
	}
	h.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// Subscribe replays the channel's buffered backlog to a new listener, oldest
// first, then attaches it live.
func (h *Hub) Subscribe(channel string) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	cs := h.channel(channel)
	sub := &Subscription{
		hub:  h,
		ch:   make(chan model.ProgressEvent, h.replayCap+subscriberBuffer),
		name: channel,
	}
	sub.C = sub.ch
	for _, ev := range cs.buffer {
		sub.ch <- ev
	}
	cs.listeners[sub] = true
	return sub
}

// SubscribeGame attaches a live listener to a per-game room. Rooms carry no
// replay buffer; a reconnecting client resyncs from the state endpoint.
func (h *Hub) SubscribeGame(gameID string) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub := &Subscription{
		hub:    h,
		ch:     make(chan model.ProgressEvent, subscriberBuffer),
		name:   gameID,
		isRoom: true,
	}
	sub.C = sub.ch
	if h.rooms[gameID] == nil {
		h.rooms[gameID] = make(map[*Subscription]bool)
	}
	h.rooms[gameID][sub] = true
	return sub
}

// ListenerCount reports the number of live listeners on a channel. The
// advance gate uses this to short-circuit when nobody is attached.
func (h *Hub) ListenerCount(channel string) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	if cs, ok := h.channels[channel]; ok {
		return len(cs.listeners)
	}
	return 0
}

// AttachCancel associates a cancellation handle with a channel, fired when
// a cancelled event is published. Close forgets the handle without firing.
func (h *Hub) AttachCancel(channel string, cancel context.CancelFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.channel(channel).cancel = cancel
}

// Close emits a terminal event, detaches every listener and drops the
// channel state, forgetting any attached cancellation handle.
func (h *Hub) Close(channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	cs, ok := h.channels[channel]
	if !ok {
		return
	}
	ev := model.ProgressEvent{Channel: channel, Kind: model.EventClosed}
	for sub := range cs.listeners {
		h.sendLocked(sub, ev)
		delete(cs.listeners, sub)
		close(sub.ch)
	}
	delete(h.channels, channel)
}

func (h *Hub) channel(name string) *channelState {
	cs, ok := h.channels[name]
	if !ok {
		cs = &channelState{listeners: make(map[*Subscription]bool)}
		h.channels[name] = cs
	}
	return cs
}

func (h *Hub) fanOutLocked(cs *channelState, ev model.ProgressEvent) {
	for sub := range cs.listeners {
		if !h.sendLocked(sub, ev) {
			delete(cs.listeners, sub)
			close(sub.ch)
		}
	}
}

// sendLocked writes without blocking; a full listener is evicted by the
// caller rather than allowed to stall the pipeline.
func (h *Hub) sendLocked(sub *Subscription, ev model.ProgressEvent) bool {
	select {
	case sub.ch <- ev:
		return true
	default:
		log.Printf("Progress listener on %q too slow, evicting", sub.name)
		return false
	}
}

// drop removes a subscription from whichever side holds it.
func (h *Hub) drop(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if sub.isRoom {
		if room, ok := h.rooms[sub.name]; ok && room[sub] {
			delete(room, sub)
			close(sub.ch)
			if len(room) == 0 {
				delete(h.rooms, sub.name)
			}
		}
		return
	}
	if cs, ok := h.channels[sub.name]; ok && cs.listeners[sub] {
		delete(cs.listeners, sub)
		close(sub.ch)
	}
}
