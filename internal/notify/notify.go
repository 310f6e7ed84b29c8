// Package notify carries event lifecycle notifications to presentation and
// announcement layers.
package notify

import (
	"context"
	"sync"
	"time"

	"arenaserver/internal/arena"
)

type Notification struct {
	ArenaID int64          `json:"arena_id"`
	EventID int64          `json:"event_id"`
	Name    string         `json:"name"`
	From    arena.State    `json:"from"`
	To      arena.State    `json:"to"`
	Reason  string         `json:"reason,omitempty"`
	Outcome *arena.Outcome `json:"outcome,omitempty"`
	At      time.Time      `json:"at"`
}

// Notifier delivers notifications. Delivery failures are logged by the
// caller and never roll back the transition that produced them.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

type Nop struct{}

func (Nop) Notify(context.Context, Notification) error { return nil }

// Recorder keeps every notification in memory.
type Recorder struct {
	mu   sync.Mutex
	sent []Notification
}

func (r *Recorder) Notify(_ context.Context, n Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return nil
}

func (r *Recorder) Sent() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.sent...)
}

// States returns the target states notified for one event, in order.
func (r *Recorder) States(eventID int64) []arena.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []arena.State
	for _, n := range r.sent {
		if n.EventID == eventID {
			out = append(out, n.To)
		}
	}
	return out
}

// Fanout delivers to every notifier and returns the first error.
type Fanout []Notifier

func (f Fanout) Notify(ctx context.Context, n Notification) error {
	var first error
	for _, nt := range f {
		if err := nt.Notify(ctx, n); err != nil && first == nil {
			first = err
		}
	}
	return first
}
