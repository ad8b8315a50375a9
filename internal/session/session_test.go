package session

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abhisek/mathbuddy/internal/apperr"
	"github.com/abhisek/mathbuddy/internal/behavior"
	"github.com/abhisek/mathbuddy/internal/logger"
	"github.com/abhisek/mathbuddy/internal/store"
)

type recordingEvents struct{ events []behavior.Event }

func (r *recordingEvents) Log(_ context.Context, e behavior.Event) { r.events = append(r.events, e) }

func newTestService(t *testing.T) (*Service, *recordingEvents) {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	ev := &recordingEvents{}
	svc := NewService(st.SessionRepo(), st.HistoryRepo(), ev, 3, logger.Nop())
	return svc, ev
}

func sampleInput(id string) CreateInput {
	return CreateInput{
		ID:          id,
		ProblemText: "小明有5个苹果，吃了2个，还剩几个？",
		Analysis: store.ProblemAnalysis{
			QuestionText: "小明有5个苹果，吃了2个，还剩几个？",
			GradeLevel:   "一年级",
			Difficulty:   1,
			KeyNumbers:   []string{"5", "2"},
			KeyRelation:  "减法",
			FinalAnswer:  "3",
			Questions:    []string{"题目里有哪些数字？", "应该用什么方法？", "答案是多少？"},
		},
	}
}

func TestCreate(t *testing.T) {
	svc, ev := newTestService(t)
	ctx := context.Background()

	sess, err := svc.Create(ctx, "u1", sampleInput("s1"))
	require.NoError(t, err)
	assert.Equal(t, 1, sess.Round)
	assert.Equal(t, 3, sess.TotalRounds)
	assert.Equal(t, store.StatusActive, sess.Status)
	assert.Empty(t, sess.Turns)
	assert.Len(t, ev.events, 1)

	hist, err := svc.History(ctx, "u1", 0)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, "s1", hist[0].SessionID)
	assert.Nil(t, hist[0].Score)
}

func TestCreateGeneratesID(t *testing.T) {
	svc, _ := newTestService(t)
	sess, err := svc.Create(context.Background(), "u1", sampleInput(""))
	require.NoError(t, err)
	assert.NotEmpty(t, sess.ID)
}

func TestCreateIsIdempotentPerOwner(t *testing.T) {
	svc, ev := newTestService(t)
	ctx := context.Background()

	first, err := svc.Create(ctx, "u1", sampleInput("s1"))
	require.NoError(t, err)

	in := sampleInput("s1")
	in.ProblemText = "different text"
	second, err := svc.Create(ctx, "u1", in)
	require.NoError(t, err)
	assert.Equal(t, first.ProblemText, second.ProblemText)
	assert.Len(t, ev.events, 1, "duplicate create must not emit events")

	// Another owner's id looks the same as a missing session.
	_, err = svc.Create(ctx, "u2", sampleInput("s1"))
	assert.ErrorIs(t, err, apperr.ErrNotFoundOrForbidden)
	_, getErr := svc.Get(ctx, "s1", "u2")
	assert.Equal(t, apperr.PublicMessage(getErr), apperr.PublicMessage(err))
}

func TestCreateValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	placeholder := sampleInput("p")
	placeholder.Analysis.Placeholder = true

	tests := []struct {
		name  string
		owner string
		in    CreateInput
	}{
		{"missing owner", "", sampleInput("a")},
		{"blank problem", "u1", CreateInput{ID: "b", ProblemText: "   "}},
		{"bad id", "u1", CreateInput{ID: "has space", ProblemText: "1+1"}},
		{"placeholder analysis", "u1", placeholder},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(ctx, tt.owner, tt.in)
			assert.ErrorIs(t, err, apperr.ErrValidation)
		})
	}
}

func TestGetHidesForeignSessions(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.Create(ctx, "u1", sampleInput("s1"))
	require.NoError(t, err)

	_, err = svc.Get(ctx, "s1", "u2")
	assert.ErrorIs(t, err, apperr.ErrNotFoundOrForbidden)
	_, err = svc.Get(ctx, "missing", "u1")
	assert.ErrorIs(t, err, apperr.ErrNotFoundOrForbidden)
}

func TestAppendTurnDoesNotAdvance(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.Create(ctx, "u1", sampleInput("s1"))
	require.NoError(t, err)

	turn, err := svc.AppendTurn(ctx, "s1", "u1", store.Turn{Role: store.RoleAssistant, Text: "题目里有哪些数字？"})
	require.NoError(t, err)
	assert.Equal(t, 1, turn.Round)

	sess, err := svc.Get(ctx, "s1", "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, sess.Round)
	require.Len(t, sess.Turns, 1)

	_, err = svc.AppendTurn(ctx, "s1", "u1", store.Turn{Role: "system", Text: "x"})
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = svc.AppendTurn(ctx, "s1", "u2", store.Turn{Role: store.RoleUser, Text: "x"})
	assert.ErrorIs(t, err, apperr.ErrNotFoundOrForbidden)
}

func TestAdvanceRoundSaturates(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.Create(ctx, "u1", sampleInput("s1"))
	require.NoError(t, err)

	var rounds []int
	for i := 0; i < 5; i++ {
		r, err := svc.AdvanceRound(ctx, "s1", "u1")
		require.NoError(t, err)
		rounds = append(rounds, r)
	}
	assert.Equal(t, []int{2, 3, 4, 4, 4}, rounds)
}

func TestCompleteAndAbandonTransitions(t *testing.T) {
	svc, ev := newTestService(t)
	ctx := context.Background()
	for _, id := range []string{"c", "a"} {
		_, err := svc.Create(ctx, "u1", sampleInput(id))
		require.NoError(t, err)
	}

	done, err := svc.Complete(ctx, "c", "u1", "")
	require.NoError(t, err)
	assert.Equal(t, store.StatusCompleted, done.Status)
	assert.False(t, done.EndedAt.IsZero())

	again, err := svc.Complete(ctx, "c", "u1", "")
	require.NoError(t, err, "completing twice is a no-op")
	assert.Equal(t, done.EndedAt, again.EndedAt)

	_, err = svc.Abandon(ctx, "c", "u1", "bored")
	assert.ErrorIs(t, err, apperr.ErrValidation)

	ab, err := svc.Abandon(ctx, "a", "u1", "bored")
	require.NoError(t, err)
	assert.Equal(t, store.StatusAbandoned, ab.Status)
	assert.Equal(t, "bored", ab.CompletionReason)
	_, err = svc.Abandon(ctx, "a", "u1", "bored")
	require.NoError(t, err)
	_, err = svc.Complete(ctx, "a", "u1", "")
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = svc.AppendTurn(ctx, "a", "u1", store.Turn{Role: store.RoleUser, Text: "3"})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	var abandoned int
	for _, e := range ev.events {
		if e.Type == behavior.TypeSessionAbandoned {
			abandoned++
		}
	}
	assert.Equal(t, 1, abandoned)
}

func TestRecordTurns(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.Create(ctx, "u1", sampleInput("s1"))
	require.NoError(t, err)

	turns := func(answer string) []store.Turn {
		return []store.Turn{
			{Role: store.RoleUser, Text: answer},
			{Role: store.RoleAssistant, Text: "很好"},
		}
	}

	sess, err := svc.RecordTurns(ctx, "s1", "u1", 1, turns("5和2"), false)
	require.NoError(t, err)
	assert.Equal(t, 2, sess.Round)
	require.Len(t, sess.Turns, 2)
	assert.Equal(t, 1, sess.Turns[0].Round)

	_, err = svc.RecordTurns(ctx, "s1", "u1", 1, turns("retry"), false)
	var stale *apperr.StaleRoundError
	require.True(t, errors.As(err, &stale), "err = %v", err)
	assert.Equal(t, 1, stale.Expected)
	assert.Equal(t, 2, stale.Actual)

	unchanged, err := svc.Get(ctx, "s1", "u1")
	require.NoError(t, err)
	assert.Len(t, unchanged.Turns, 2)

	_, err = svc.RecordTurns(ctx, "s1", "u1", 2, turns("减法"), false)
	require.NoError(t, err)
	final, err := svc.RecordTurns(ctx, "s1", "u1", 3, turns("3个"), true)
	require.NoError(t, err)
	assert.Equal(t, store.StatusCompleted, final.Status)
	assert.Equal(t, 4, final.Round)
	assert.Len(t, final.UserTurns(), 3)

	hist, err := svc.History(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, store.StatusCompleted, hist[0].Status)
	assert.Equal(t, 3, hist[0].Rounds)

	_, err = svc.RecordTurns(ctx, "s1", "u2", 4, turns("x"), false)
	assert.ErrorIs(t, err, apperr.ErrNotFoundOrForbidden)
}

func TestList(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 12; i++ {
		at := base.Add(time.Duration(i) * time.Hour)
		svc.now = func() time.Time { return at }
		_, err := svc.Create(ctx, "u1", sampleInput(fmt.Sprintf("s%02d", i)))
		require.NoError(t, err)
	}
	_, err := svc.Create(ctx, "u2", sampleInput("other"))
	require.NoError(t, err)

	page, err := svc.List(ctx, "u1", ListQuery{})
	require.NoError(t, err)
	assert.Equal(t, 12, page.Total)
	assert.Len(t, page.Items, DefaultPageSize)
	assert.True(t, page.HasMore)
	assert.Equal(t, "s11", page.Items[0].ID)

	page2, err := svc.List(ctx, "u1", ListQuery{Page: 2})
	require.NoError(t, err)
	assert.Len(t, page2.Items, 2)
	assert.False(t, page2.HasMore)

	filtered, err := svc.List(ctx, "u1", ListQuery{From: base.Add(10 * time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, 2, filtered.Total)

	for _, q := range []ListQuery{{Page: -1}, {PageSize: 51}, {PageSize: -2}, {Status: "paused"}} {
		_, err := svc.List(ctx, "u1", q)
		assert.ErrorIs(t, err, apperr.ErrValidation, "%+v", q)
	}
}

func TestSweepStale(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	start := time.Now()
	svc.now = func() time.Time { return start }
	for _, id := range []string{"old1", "old2"} {
		_, err := svc.Create(ctx, "u1", sampleInput(id))
		require.NoError(t, err)
	}
	_, err := svc.Complete(ctx, "old2", "u1", "")
	require.NoError(t, err)

	later := start.Add(3 * time.Hour)
	svc.now = func() time.Time { return later }
	_, err = svc.Create(ctx, "u1", sampleInput("fresh"))
	require.NoError(t, err)

	n, err := svc.SweepStale(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	old, err := svc.Get(ctx, "old1", "u1")
	require.NoError(t, err)
	assert.Equal(t, store.StatusAbandoned, old.Status)
	assert.Equal(t, "timeout", old.CompletionReason)

	fresh, err := svc.Get(ctx, "fresh", "u1")
	require.NoError(t, err)
	assert.Equal(t, store.StatusActive, fresh.Status)

	_, err = svc.SweepStale(ctx, 0)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestLearningMinutes(t *testing.T) {
	start := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		sess store.Session
		want float64
	}{
		{"ended", store.Session{StartedAt: start, EndedAt: start.Add(7*time.Minute + 36*time.Second)}, 7.6},
		{"active uses updated", store.Session{StartedAt: start, UpdatedAt: start.Add(90 * time.Second)}, 1.5},
		{"clock skew", store.Session{StartedAt: start, EndedAt: start.Add(-time.Minute)}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := LearningMinutes(&tt.sess); got != tt.want {
				t.Errorf("LearningMinutes = %v, want %v", got, tt.want)
			}
		})
	}
}
