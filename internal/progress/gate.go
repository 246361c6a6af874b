package progress

import (
	"context"
	"sync"
	"time"
)

// DefaultAdvanceTimeout bounds how long generation waits for an advance
// signal before continuing anyway.
const DefaultAdvanceTimeout = 30 * time.Second

type gateEntry struct {
	credits int
	waiters []chan struct{}
}

// Gate is the per-channel backpressure semaphore that lets an attached
// client pace generation one piece at a time. Signals arriving before the
// pipeline waits are banked as credits so an early advance is not lost.
type Gate struct {
	mu      sync.Mutex
	hub     *Hub
	entries map[string]*gateEntry
	timeout time.Duration
}

// NewGate creates a gate backed by the hub's live-listener counts.
func NewGate(hub *Hub, timeout time.Duration) *Gate {
	if timeout <= 0 {
		timeout = DefaultAdvanceTimeout
	}
	return &Gate{
		hub:     hub,
		entries: make(map[string]*gateEntry),
		timeout: timeout,
	}
}

// Signal wakes exactly one parked waiter, or banks a credit when none is
// parked. Returns true when a waiter was released immediately.
func (g *Gate) Signal(channel string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	e := g.entry(channel)
	if len(e.waiters) > 0 {
		w := e.waiters[0]
		e.waiters = e.waiters[1:]
		close(w)
		return true
	}
	e.credits++
	return false
}

// Await blocks until an advance signal arrives, the timeout elapses or ctx
// is cancelled. All three outcomes continue generation; the timeout is a
// safety valve, not a failure. When the channel has no live listeners the
// wait is skipped entirely so a disconnected client can never stall a job.
func (g *Gate) Await(ctx context.Context, channel string) {
	if g.hub != nil && g.hub.ListenerCount(channel) == 0 {
		return
	}

	g.mu.Lock()
	e := g.entry(channel)
	if e.credits > 0 {
		e.credits--
		g.mu.Unlock()
		return
	}
	w := make(chan struct{})
	e.waiters = append(e.waiters, w)
	g.mu.Unlock()

	timer := time.NewTimer(g.timeout)
	defer timer.Stop()

	select {
	case <-w:
	case <-timer.C:
		g.removeWaiter(channel, w)
	case <-ctx.Done():
		g.removeWaiter(channel, w)
	}
}

// Forget drops all gate state for a channel once its job is finished.
func (g *Gate) Forget(channel string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if e, ok := g.entries[channel]; ok {
		for _, w := range e.waiters {
			close(w)
		}
		delete(g.entries, channel)
	}
}

func (g *Gate) entry(channel string) *gateEntry {
	e, ok := g.entries[channel]
	if !ok {
		e = &gateEntry{}
		g.entries[channel] = e
	}
	return e
}

func (g *Gate) removeWaiter(channel string, w chan struct{}) {
	g.mu.Lock()
	defer g.mu.Unlock()

	e, ok := g.entries[channel]
	if !ok {
		return
	}
	for i, cand := range e.waiters {
		if cand == w {
			e.waiters = append(e.waiters[:i], e.waiters[i+1:]...)
			return
		}
	}
}
