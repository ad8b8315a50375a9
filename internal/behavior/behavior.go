// Package behavior records what students do in the app. Logging is
// fire-and-forget: events are queued and written by a background handler.
package behavior

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/abhisek/mathbuddy/internal/apperr"
	"github.com/abhisek/mathbuddy/internal/jobs"
	"github.com/abhisek/mathbuddy/internal/logger"
	"github.com/abhisek/mathbuddy/internal/store"
)

// Event types emitted by the server itself.
const (
	TypeSessionCreated   = "session_created"
	TypeAnswerSubmitted  = "answer_submitted"
	TypeSessionCompleted = "session_completed"
	TypeSessionAbandoned = "session_abandoned"
	TypeReportGenerated  = "report_generated"
)

// MaxBatch caps the number of client events accepted per Ingest call.
const MaxBatch = 100

var typePattern = regexp.MustCompile(`^[a-z0-9_.]{3,64}$`)

// Event is one behavior record.
type Event struct {
	Timestamp time.Time      `json:"timestamp"`
	OwnerID   string         `json:"owner_id"`
	SessionID string         `json:"session_id,omitempty"`
	Type      string         `json:"type"`
	Data      map[string]any `json:"data,omitempty"`
}

// ClientEvent is an event reported by the mobile client.
type ClientEvent struct {
	Type      string         `json:"type"`
	SessionID string         `json:"session_id,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// Recorder is the fire-and-forget logging surface services depend on.
type Recorder interface {
	Log(ctx context.Context, e Event)
}

// Discard drops every event.
var Discard Recorder = discard{}

type discard struct{}

func (discard) Log(context.Context, Event) {}

type Logger struct {
	jobs jobs.Dispatcher
	log  *logger.Logger
	now  func() time.Time
}

func NewLogger(d jobs.Dispatcher, log *logger.Logger) *Logger {
	return &Logger{jobs: d, log: log.With("service", "BehaviorLogger"), now: time.Now}
}

// Log queues e for persistence. Failures are logged and dropped.
func (l *Logger) Log(ctx context.Context, e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = l.now()
	}
	if err := l.jobs.Enqueue(ctx, jobs.TypeBehaviorLog, e); err != nil {
		l.log.Warn("dropping behavior event", "type", e.Type, "owner_id", e.OwnerID, "error", err)
	}
}

// Ingest validates a batch of client events and logs them. The whole batch
// is rejected if any event is invalid.
func (l *Logger) Ingest(ctx context.Context, owner string, events []ClientEvent) (int, error) {
	if owner == "" {
		return 0, apperr.Validation("owner is required")
	}
	if len(events) == 0 {
		return 0, apperr.Validation("no events")
	}
	if len(events) > MaxBatch {
		return 0, apperr.Validation("at most %d events per batch", MaxBatch)
	}
	for i, ce := range events {
		if !typePattern.MatchString(ce.Type) {
			return 0, apperr.Validation("event %d: invalid type %q", i, ce.Type)
		}
	}

	now := l.now()
	for _, ce := range events {
		l.Log(ctx, Event{
			Timestamp: now,
			OwnerID:   owner,
			SessionID: ce.SessionID,
			Type:      ce.Type,
			Data:      ce.Data,
		})
	}
	return len(events), nil
}

// Handler returns the jobs handler that writes queued events to repo.
func Handler(repo store.EventRepo) jobs.HandlerFunc {
	return func(ctx context.Context, payload []byte) error {
		var e Event
		if err := jobs.Decode(payload, &e); err != nil {
			return err
		}
		_, err := repo.AppendBehavior(ctx, store.BehaviorEvent{
			Timestamp: e.Timestamp,
			OwnerID:   e.OwnerID,
			SessionID: e.SessionID,
			Type:      e.Type,
			Payload:   e.Data,
		})
		if err != nil {
			return fmt.Errorf("append behavior event: %w", err)
		}
		return nil
	}
}
