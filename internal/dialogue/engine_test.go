package dialogue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/abhisek/mathbuddy/internal/apperr"
	"github.com/abhisek/mathbuddy/internal/behavior"
	"github.com/abhisek/mathbuddy/internal/llm"
	"github.com/abhisek/mathbuddy/internal/logger"
	"github.com/abhisek/mathbuddy/internal/report"
	"github.com/abhisek/mathbuddy/internal/session"
	"github.com/abhisek/mathbuddy/internal/store"
)

const problem = "小明有5个苹果，吃了2个，还剩几个？"

type recordingEvents struct {
	mu     sync.Mutex
	events []behavior.Event
}

func (r *recordingEvents) Log(_ context.Context, e behavior.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingEvents) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

type fixture struct {
	engine   *Engine
	sessions *session.Service
	mock     *llm.MockProvider
	events   *recordingEvents
}

func newFixture(t *testing.T, responses ...llm.MockResponse) *fixture {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	mock := llm.NewMockProvider(responses...)
	events := &recordingEvents{}
	sessions := session.NewService(st.SessionRepo(), st.HistoryRepo(), nil, 3, logger.Nop())
	gen := report.NewGenerator(sessions, st.ReportRepo(), st.HistoryRepo(), nil, nil, nil, report.DefaultConfig(), logger.Nop())
	cfg := DefaultConfig()
	cfg.Timeout = 100 * time.Millisecond

	return &fixture{
		engine:   NewEngine(sessions, gen, mock, events, cfg, logger.Nop()),
		sessions: sessions,
		mock:     mock,
		events:   events,
	}
}

func (f *fixture) create(t *testing.T, id string) {
	t.Helper()
	_, err := f.sessions.Create(context.Background(), "u1", session.CreateInput{
		ID:          id,
		ProblemText: problem,
		Analysis: store.ProblemAnalysis{
			QuestionText: problem,
			KeyNumbers:   []string{"5", "2"},
			KeyRelation:  "减法",
			FinalAnswer:  "3个",
			Questions:    []string{"题目里有哪些数字？", "应该用加法还是减法？", "答案是多少？"},
		},
	})
	require.NoError(t, err)
}

func turnJSON(feedback, next string) llm.MockResponse {
	b, _ := json.Marshal(map[string]string{"feedback": feedback, "next_question": next})
	return llm.MockResponse{Content: b}
}

func TestThreeRoundsToCompletion(t *testing.T) {
	f := newFixture(t,
		turnJSON("对，题目里有5和2。", "吃掉苹果，数量会变多还是变少？"),
		turnJSON("没错，是减法。", "5减2等于几？"),
		turnJSON("完全正确！", ""),
	)
	f.create(t, "s1")
	ctx := context.Background()

	opening, err := f.engine.Open(ctx, "s1", "u1")
	require.NoError(t, err)
	assert.Equal(t, "题目里有哪些数字？", opening)

	prevRound := 1
	var last *Result
	for i, answer := range []string{"5和2", "变少，用减法", "5-2=3，还剩3个"} {
		res, err := f.engine.SubmitAnswer(ctx, "s1", "u1", answer, i+1)
		require.NoError(t, err)
		assert.Greater(t, res.Round, prevRound, "round must advance")
		assert.LessOrEqual(t, res.Round, 4)
		assert.Equal(t, SourceCollaborator, res.Source)
		prevRound = res.Round
		last = res
	}

	assert.True(t, last.Completed)
	assert.Equal(t, 4, last.Round)
	assert.Empty(t, last.NextQuestion)
	require.NotNil(t, last.Report)
	assert.GreaterOrEqual(t, last.Report.Score, 0)
	assert.LessOrEqual(t, last.Report.Score, 100)

	sess, err := f.sessions.Get(ctx, "s1", "u1")
	require.NoError(t, err)
	assert.Equal(t, store.StatusCompleted, sess.Status)
	assert.Len(t, sess.Turns, 7)
	assert.Len(t, sess.UserTurns(), 3)

	assert.Equal(t, []string{
		behavior.TypeAnswerSubmitted,
		behavior.TypeAnswerSubmitted,
		behavior.TypeAnswerSubmitted,
		behavior.TypeSessionCompleted,
	}, f.events.types())

	_, err = f.engine.SubmitAnswer(ctx, "s1", "u1", "再答一次", 4)
	assert.ErrorIs(t, err, apperr.ErrStaleRound)
}

func TestStaleRoundLeavesSessionUntouched(t *testing.T) {
	f := newFixture(t, turnJSON("好", "下一题"))
	f.create(t, "s1")
	ctx := context.Background()

	_, err := f.engine.SubmitAnswer(ctx, "s1", "u1", "5和2", 1)
	require.NoError(t, err)
	before, err := f.sessions.Get(ctx, "s1", "u1")
	require.NoError(t, err)

	_, err = f.engine.SubmitAnswer(ctx, "s1", "u1", "5和2", 1)
	var stale *apperr.StaleRoundError
	require.True(t, errors.As(err, &stale), "err = %v", err)
	assert.Equal(t, 1, stale.Expected)
	assert.Equal(t, 2, stale.Actual)

	after, err := f.sessions.Get(ctx, "s1", "u1")
	require.NoError(t, err)
	assert.Equal(t, before.Round, after.Round)
	assert.Len(t, after.Turns, len(before.Turns))
	assert.Equal(t, 1, f.mock.CallCount(), "stale answers must not reach the model")
}

func TestFallbackStillAdvances(t *testing.T) {
	tests := []struct {
		name string
		resp llm.MockResponse
	}{
		{"provider down", llm.MockResponse{Err: &llm.ErrProviderUnavailable{}}},
		{"schema violation", llm.MockResponse{Content: json.RawMessage(`{"feedback": 3}`)}},
		{"empty next question", turnJSON("好", "")},
		{"timeout", llm.MockResponse{Content: json.RawMessage(`{"feedback":"好","next_question":"?"}`), Delay: time.Second}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.resp)
			f.create(t, "s1")

			res, err := f.engine.SubmitAnswer(context.Background(), "s1", "u1", "5和2", 1)
			require.NoError(t, err)
			assert.Equal(t, SourceFallback, res.Source)
			assert.Equal(t, 2, res.Round)
			assert.Equal(t, fallbackFeedback[0], res.Feedback)
			assert.Equal(t, "应该用加法还是减法？", res.NextQuestion)
		})
	}
}

func TestCompletionWithoutModel(t *testing.T) {
	f := newFixture(t)
	f.engine.provider = nil
	f.create(t, "s1")
	ctx := context.Background()

	var res *Result
	var err error
	for round := 1; round <= 3; round++ {
		res, err = f.engine.SubmitAnswer(ctx, "s1", "u1", "我的想法", round)
		require.NoError(t, err)
	}
	assert.True(t, res.Completed)
	assert.True(t, strings.Contains(res.Feedback, "3轮"))
	require.NotNil(t, res.Report)
	assert.Equal(t, store.SourceFallback, res.Report.Source)
}

func TestSubmitAnswerValidation(t *testing.T) {
	f := newFixture(t)
	f.create(t, "s1")
	ctx := context.Background()

	_, err := f.engine.SubmitAnswer(ctx, "s1", "u1", "   ", 1)
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = f.engine.SubmitAnswer(ctx, "s1", "u1", strings.Repeat("长", MaxAnswerRunes+1), 1)
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = f.engine.SubmitAnswer(ctx, "s1", "u1", "3", 0)
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = f.engine.SubmitAnswer(ctx, "s1", "u2", "3", 1)
	assert.ErrorIs(t, err, apperr.ErrNotFoundOrForbidden)

	_, err = f.sessions.Abandon(ctx, "s1", "u1", "")
	require.NoError(t, err)
	_, err = f.engine.SubmitAnswer(ctx, "s1", "u1", "3", 1)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	assert.Equal(t, 0, f.mock.CallCount())
}

func TestOpenIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.create(t, "s1")
	ctx := context.Background()

	first, err := f.engine.Open(ctx, "s1", "u1")
	require.NoError(t, err)
	second, err := f.engine.Open(ctx, "s1", "u1")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	sess, err := f.sessions.Get(ctx, "s1", "u1")
	require.NoError(t, err)
	assert.Len(t, sess.Turns, 1)
}

func TestConcurrentOpenRecordsOneOpening(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		id := fmt.Sprintf("s%d", i)
		f.create(t, id)

		openings := make([]string, 4)
		var g errgroup.Group
		for j := range openings {
			g.Go(func() error {
				q, err := f.engine.Open(ctx, id, "u1")
				openings[j] = q
				return err
			})
		}
		require.NoError(t, g.Wait())

		sess, err := f.sessions.Get(ctx, id, "u1")
		require.NoError(t, err)
		require.Len(t, sess.Turns, 1, "session %s", id)
		assert.Equal(t, store.RoleAssistant, sess.Turns[0].Role)
		for _, q := range openings {
			assert.Equal(t, sess.Turns[0].Text, q)
		}
	}
}

func TestConcurrentDuplicateAnswersAdvanceOnce(t *testing.T) {
	f := newFixture(t, turnJSON("好", "下一题"), turnJSON("好", "下一题"))
	f.create(t, "s1")
	ctx := context.Background()

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = f.engine.SubmitAnswer(ctx, "s1", "u1", "5和2", 1)
		}()
	}
	wg.Wait()

	var ok, stale int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, apperr.ErrStaleRound):
			stale++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, stale)

	sess, err := f.sessions.Get(ctx, "s1", "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, sess.Round)
	assert.Len(t, sess.Turns, 2)
}

func TestQuestionFallsBackToTemplates(t *testing.T) {
	a := store.ProblemAnalysis{Questions: []string{"自定义问题", " "}}
	assert.Equal(t, "自定义问题", question(a, 1))
	assert.Equal(t, genericQuestions[1], question(a, 2))
	assert.Equal(t, genericQuestions[2], question(a, 3))
	assert.Equal(t, genericLaterQuestion, question(a, 4))
}
