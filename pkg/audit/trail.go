package audit

import (
	"context"
	"sync"
	"time"
)

// Trail retains events in memory so they can be queried by time range
// and exported as evidence packs. It implements Logger and is usually
// composed with the line logger via Multi.
type Trail struct {
	mu     sync.RWMutex
	events []Event
	clock  func() time.Time
}

// NewTrail creates an empty trail.
func NewTrail() *Trail {
	return &Trail{clock: time.Now}
}

// WithClock pins the event timestamp source. Tests use it to get
// reproducible trails.
func (t *Trail) WithClock(clock func() time.Time) *Trail {
	t.clock = clock
	return t
}

func (t *Trail) Record(ctx context.Context, eventType EventType, action, resource string, metadata map[string]interface{}) error {
	event := newEvent(ctx, t.clock(), eventType, action, resource, metadata)

	t.mu.Lock()
	t.events = append(t.events, event)
	t.mu.Unlock()
	return nil
}

// Query returns events within [start, end]. A zero bound is unbounded on
// that side. Events come back in record order.
func (t *Trail) Query(start, end time.Time) []Event {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []Event
	for _, e := range t.events {
		if !start.IsZero() && e.Timestamp.Before(start) {
			continue
		}
		if !end.IsZero() && e.Timestamp.After(end) {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Len returns the number of retained events.
func (t *Trail) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.events)
}
