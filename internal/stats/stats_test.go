package stats

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/abhisek/mathbuddy/internal/apperr"
	"github.com/abhisek/mathbuddy/internal/logger"
	"github.com/abhisek/mathbuddy/internal/store"
)

var cst = time.FixedZone("CST", 8*3600)

// day returns 10:00 local time n days before now.
func day(now time.Time, n int) time.Time {
	d := now.In(cst).AddDate(0, 0, -n)
	return time.Date(d.Year(), d.Month(), d.Day(), 10, 0, 0, 0, cst)
}

func sessionOn(id string, start time.Time, minutes int, status store.SessionStatus) store.Session {
	s := store.Session{
		ID:        id,
		OwnerID:   "u1",
		Status:    status,
		StartedAt: start,
		UpdatedAt: start.Add(time.Duration(minutes) * time.Minute),
	}
	if status == store.StatusCompleted {
		s.EndedAt = s.UpdatedAt
	}
	return s
}

func TestComputeEmpty(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, cst)
	got := Compute(nil, nil, now, cst)
	if got.TotalQuestions != 0 || got.CurrentStreak != 0 || got.LongestStreak != 0 || got.ActiveDays != 0 {
		t.Fatalf("Compute(nil) = %+v, want zero rollup", got)
	}
	if got.Achievement != "" {
		t.Errorf("Achievement = %q, want empty", got.Achievement)
	}
	if !got.ComputedAt.Equal(now) {
		t.Errorf("ComputedAt = %v, want %v", got.ComputedAt, now)
	}
}

func TestComputeTotals(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, cst)
	records := []store.Session{
		sessionOn("a", day(now, 0), 10, store.StatusCompleted),
		sessionOn("b", day(now, 0).Add(time.Hour), 5, store.StatusCompleted),
		sessionOn("c", day(now, 1), 3, store.StatusAbandoned),
	}
	scores := map[string]int{"a": 80, "b": 91, "other": 0}

	got := Compute(records, scores, now, cst)
	assert.Equal(t, 3, got.TotalQuestions)
	assert.Equal(t, 2, got.CompletedSessions)
	assert.Equal(t, 18.0, got.TotalLearningMinutes)
	assert.Equal(t, 85.5, got.AverageScore)
	assert.Equal(t, 2, got.ActiveDays)
	assert.Equal(t, 2, got.CurrentStreak)
	assert.Equal(t, 2, got.LongestStreak)
	assert.Equal(t, AchievementFirstStep, got.Achievement)
}

func TestStreaks(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, cst)
	tests := []struct {
		name        string
		daysAgo     []int
		wantCurrent int
		wantLongest int
	}{
		{"today only", []int{0}, 1, 1},
		{"yesterday keeps streak", []int{1, 2, 3}, 3, 3},
		{"two days ago breaks streak", []int{2, 3}, 0, 2},
		{"gap splits runs", []int{0, 1, 4, 5, 6, 7}, 2, 4},
		{"same day twice", []int{0, 0, 1}, 2, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var records []store.Session
			for i, n := range tt.daysAgo {
				records = append(records, sessionOn(string(rune('a'+i)), day(now, n), 1, store.StatusActive))
			}
			got := Compute(records, nil, now, cst)
			if got.CurrentStreak != tt.wantCurrent {
				t.Errorf("CurrentStreak = %d, want %d", got.CurrentStreak, tt.wantCurrent)
			}
			if got.LongestStreak != tt.wantLongest {
				t.Errorf("LongestStreak = %d, want %d", got.LongestStreak, tt.wantLongest)
			}
		})
	}
}

func TestStreakUsesLocalCalendar(t *testing.T) {
	// 23:30 UTC on the 9th is already the 10th in CST.
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, cst)
	late := time.Date(2026, 3, 9, 23, 30, 0, 0, time.UTC)
	records := []store.Session{sessionOn("a", late, 1, store.StatusActive)}

	got := Compute(records, nil, now, cst)
	assert.Equal(t, 1, got.CurrentStreak)

	got = Compute(records, nil, now, time.UTC)
	assert.Equal(t, 1, got.CurrentStreak, "yesterday in UTC still counts")
}

func TestAchievementOrder(t *testing.T) {
	tests := []struct {
		name  string
		stats store.UserStats
		want  string
	}{
		{"nothing", store.UserStats{}, ""},
		{"first question", store.UserStats{TotalQuestions: 1}, AchievementFirstStep},
		{"long streak", store.UserStats{TotalQuestions: 7, CurrentStreak: 7}, AchievementPersistent},
		{"perfect average beats streak", store.UserStats{TotalQuestions: 2, AverageScore: 100, CurrentStreak: 9}, AchievementPerfect},
		{"ten questions", store.UserStats{TotalQuestions: 10, AverageScore: 100}, AchievementSolver},
		{"an hour of learning wins", store.UserStats{TotalQuestions: 12, TotalLearningMinutes: 60}, AchievementDiligent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Achievement(tt.stats); got != tt.want {
				t.Errorf("Achievement() = %q, want %q", got, tt.want)
			}
		})
	}
}

type fixture struct {
	svc   *Service
	store *store.Store
	now   time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	now := time.Date(2026, 3, 10, 12, 0, 0, 0, cst)
	svc := NewService(st.SessionRepo(), st.ReportRepo(), st.StatsRepo(), st.UserRepo(), cst, logger.Nop())
	svc.now = func() time.Time { return now }
	return &fixture{svc: svc, store: st, now: now}
}

func (f *fixture) seed(t *testing.T, id string, start time.Time, score int) {
	t.Helper()
	ctx := context.Background()
	_, created, err := f.store.SessionRepo().Create(ctx, &store.Session{
		ID:          id,
		OwnerID:     "u1",
		ProblemText: "3+4=?",
		Round:       1,
		TotalRounds: 3,
		Status:      store.StatusActive,
		StartedAt:   start,
		UpdatedAt:   start.Add(20 * time.Minute),
	})
	require.NoError(t, err)
	require.True(t, created)
	if score < 0 {
		return
	}
	_, _, err = f.store.ReportRepo().CreateIfAbsent(ctx, &store.Report{
		SessionID:   id,
		OwnerID:     "u1",
		Score:       score,
		Source:      store.SourceFallback,
		GeneratedAt: start,
	})
	require.NoError(t, err)
}

func TestRecomputeStoresAndSyncsUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "s1", day(f.now, 0), 70)
	f.seed(t, "s2", day(f.now, 1), 90)
	f.seed(t, "s3", day(f.now, 2), -1)

	got, err := f.svc.Recompute(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.OwnerID)
	assert.Equal(t, 3, got.TotalQuestions)
	assert.Equal(t, 60.0, got.TotalLearningMinutes)
	assert.Equal(t, 80.0, got.AverageScore)
	assert.Equal(t, 3, got.CurrentStreak)
	assert.Equal(t, AchievementDiligent, got.Achievement)

	cached, err := f.store.StatsRepo().Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, got.TotalQuestions, cached.TotalQuestions)
	assert.Equal(t, got.Achievement, cached.Achievement)

	user, err := f.store.UserRepo().Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, AchievementDiligent, user.Achievement)
	assert.Equal(t, 1, user.SyncCount)

	_, err = f.svc.Recompute(ctx, "u1")
	require.NoError(t, err)
	user, err = f.store.UserRepo().Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, user.SyncCount)
}

func TestGetComputesOnFirstAccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "s1", day(f.now, 0), -1)

	got, err := f.svc.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.TotalQuestions)

	// Cached until the next recompute.
	f.seed(t, "s2", day(f.now, 0), -1)
	got, err = f.svc.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.TotalQuestions)

	_, err = f.svc.Get(ctx, "")
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestConcurrentRecomputeAgrees(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "s1", day(f.now, 0), 60)
	f.seed(t, "s2", day(f.now, 3), 100)

	results := make([]*store.UserStats, 6)
	var g errgroup.Group
	for i := range results {
		g.Go(func() error {
			s, err := f.svc.Recompute(context.Background(), "u1")
			results[i] = s
			return err
		})
	}
	require.NoError(t, g.Wait())
	for _, r := range results[1:] {
		assert.Equal(t, results[0], r)
	}
}

func TestHandlerRecomputes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "s1", day(f.now, 0), -1)

	payload, err := json.Marshal(map[string]string{"owner_id": "u1"})
	require.NoError(t, err)
	require.NoError(t, f.svc.Handler()(ctx, payload))

	cached, err := f.store.StatsRepo().Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, cached.TotalQuestions)

	assert.Error(t, f.svc.Handler()(ctx, []byte(`{}`)))
	assert.Error(t, f.svc.Handler()(ctx, []byte(`not json`)))
}
