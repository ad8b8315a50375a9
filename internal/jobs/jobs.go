// Package jobs runs best-effort background tasks. Callers enqueue and move
// on; handler failures are logged, never surfaced to the request that
// triggered them.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

const (
	TypeBehaviorLog    = "behavior:log"
	TypeStatsRecompute = "stats:recompute"
)

// ErrQueueFull is returned by Enqueue when the in-process buffer is full.
var ErrQueueFull = errors.New("task queue full")

// HandlerFunc processes one task payload.
type HandlerFunc func(ctx context.Context, payload []byte) error

// Dispatcher enqueues tasks.
type Dispatcher interface {
	Enqueue(ctx context.Context, taskType string, payload any) error
}

// Runner is a Dispatcher that also executes registered handlers until its
// context is cancelled.
type Runner interface {
	Dispatcher
	Handle(taskType string, h HandlerFunc)
	Run(ctx context.Context) error
}

// StatsPayload is the body of a stats:recompute task.
type StatsPayload struct {
	OwnerID string `json:"owner_id"`
}

// Decode unmarshals a task payload into v.
func Decode(payload []byte, v any) error {
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("decode task payload: %w", err)
	}
	return nil
}

func encode(payload any) ([]byte, error) {
	if b, ok := payload.([]byte); ok {
		return b, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode task payload: %w", err)
	}
	return b, nil
}
