package behavior

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abhisek/mathbuddy/internal/apperr"
	"github.com/abhisek/mathbuddy/internal/jobs"
	"github.com/abhisek/mathbuddy/internal/logger"
	"github.com/abhisek/mathbuddy/internal/store"
)

type failingDispatcher struct{ calls int }

func (f *failingDispatcher) Enqueue(context.Context, string, any) error {
	f.calls++
	return errors.New("redis down")
}

func setup(t *testing.T) (*Logger, *jobs.Pool, store.EventRepo) {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	pool := jobs.NewPool(1, 256, logger.Nop())
	repo := st.EventRepo()
	pool.Handle(jobs.TypeBehaviorLog, Handler(repo))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = pool.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return NewLogger(pool, logger.Nop()), pool, repo
}

func flush(t *testing.T, p *jobs.Pool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.Flush(ctx))
}

func TestLogPersistsEvent(t *testing.T) {
	l, pool, repo := setup(t)
	ctx := context.Background()

	l.Log(ctx, Event{OwnerID: "u1", SessionID: "s1", Type: TypeAnswerSubmitted, Data: map[string]any{"round": 2}})
	flush(t, pool)

	events, err := repo.QueryBehavior(ctx, store.QueryOpts{OwnerID: "u1"})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, TypeAnswerSubmitted, events[0].Type)
	assert.Equal(t, "s1", events[0].SessionID)
	assert.EqualValues(t, 2, events[0].Payload["round"])
	assert.False(t, events[0].Timestamp.IsZero())
}

func TestLogSwallowsEnqueueErrors(t *testing.T) {
	d := &failingDispatcher{}
	l := NewLogger(d, logger.Nop())
	l.Log(context.Background(), Event{OwnerID: "u1", Type: TypeSessionCreated})
	assert.Equal(t, 1, d.calls)
}

func TestIngest(t *testing.T) {
	l, pool, repo := setup(t)
	ctx := context.Background()

	n, err := l.Ingest(ctx, "u1", []ClientEvent{
		{Type: "photo.taken"},
		{Type: "hint_viewed", SessionID: "s1", Data: map[string]any{"hint": 1}},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	flush(t, pool)

	events, err := repo.QueryBehavior(ctx, store.QueryOpts{OwnerID: "u1"})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "photo.taken", events[0].Type)
	assert.Less(t, events[0].Sequence, events[1].Sequence)
}

func TestIngestValidation(t *testing.T) {
	l := NewLogger(&failingDispatcher{}, logger.Nop())
	ctx := context.Background()

	tooMany := make([]ClientEvent, MaxBatch+1)
	for i := range tooMany {
		tooMany[i] = ClientEvent{Type: "tap"}
	}

	tests := []struct {
		name   string
		owner  string
		events []ClientEvent
	}{
		{"missing owner", "", []ClientEvent{{Type: "tap"}}},
		{"empty batch", "u1", nil},
		{"too many", "u1", tooMany},
		{"uppercase", "u1", []ClientEvent{{Type: "Tap"}}},
		{"too short", "u1", []ClientEvent{{Type: "ab"}}},
		{"too long", "u1", []ClientEvent{{Type: strings.Repeat("a", 65)}}},
		{"spaces", "u1", []ClientEvent{{Type: "tap"}, {Type: "bad type"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.Ingest(ctx, tt.owner, tt.events)
			if !errors.Is(err, apperr.ErrValidation) {
				t.Fatalf("err = %v, want validation error", err)
			}
		})
	}
}
