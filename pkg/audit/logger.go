// Package audit records proposal, ownership, and treasury transitions
// as structured events, and packages evidence bundles for operators.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/statsgallery/sponsorship/pkg/auth"
)

// EventType partitions events by the subsystem that produced them.
type EventType string

const (
	EventAccess   EventType = "ACCESS"
	EventMutation EventType = "MUTATION"
	EventSystem   EventType = "SYSTEM"
)

// Event is one audit record. Events are append-only; nothing in the
// service rewrites or deletes them.
type Event struct {
	ID        string                 `json:"id"`
	ActorID   string                 `json:"actor_id"`
	Type      EventType              `json:"type"`
	Action    string                 `json:"action"`
	Resource  string                 `json:"resource"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// newEvent stamps a record with a fresh id, the acting account, and at.
func newEvent(ctx context.Context, at time.Time, eventType EventType, action, resource string, metadata map[string]interface{}) Event {
	return Event{
		ID:        uuid.New().String(),
		ActorID:   actorFrom(ctx),
		Type:      eventType,
		Action:    action,
		Resource:  resource,
		Timestamp: at.UTC(),
		Metadata:  metadata,
	}
}

// actorFrom resolves the acting account from the request principal,
// falling back to "system" for internally triggered events.
func actorFrom(ctx context.Context) string {
	if acct, err := auth.CallerAccount(ctx); err == nil {
		return acct.String()
	}
	return "system"
}

// Logger accepts events for durable recording.
type Logger interface {
	Record(ctx context.Context, eventType EventType, action, resource string, metadata map[string]interface{}) error
}

// lineLogger emits one prefixed JSON line per event, which Replay can
// parse back out of mixed process output.
type lineLogger struct {
	mu  sync.Mutex
	out io.Writer
}

// NewLogger returns a line logger on stdout.
func NewLogger() Logger {
	return NewLoggerWithWriter(os.Stdout)
}

// NewLoggerWithWriter returns a line logger on w.
func NewLoggerWithWriter(w io.Writer) Logger {
	if w == nil {
		w = os.Stdout
	}
	return &lineLogger{out: w}
}

func (l *lineLogger) Record(ctx context.Context, eventType EventType, action, resource string, metadata map[string]interface{}) error {
	payload, err := json.Marshal(newEvent(ctx, time.Now(), eventType, action, resource, metadata))
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	_, err = fmt.Fprintf(l.out, "%s%s\n", linePrefix, payload)
	return err
}

// Multi fans Record out to several loggers, stopping at the first error.
func Multi(loggers ...Logger) Logger {
	return multiLogger(loggers)
}

type multiLogger []Logger

func (m multiLogger) Record(ctx context.Context, eventType EventType, action, resource string, metadata map[string]interface{}) error {
	for _, l := range m {
		if err := l.Record(ctx, eventType, action, resource, metadata); err != nil {
			return err
		}
	}
	return nil
}
