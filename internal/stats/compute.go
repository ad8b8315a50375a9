// Package stats maintains the per-user learning rollup: totals, streaks and
// the achievement label shown on the profile.
package stats

import (
	"math"
	"sort"
	"time"

	"github.com/samber/lo"

	"github.com/abhisek/mathbuddy/internal/session"
	"github.com/abhisek/mathbuddy/internal/store"
)

// Achievement labels, checked in order; the first match wins.
const (
	AchievementDiligent   = "学习达人"
	AchievementSolver     = "解题能手"
	AchievementPerfect    = "满分之星"
	AchievementPersistent = "坚持之星"
	AchievementFirstStep  = "初露锋芒"
)

type achievementRule struct {
	label string
	match func(store.UserStats) bool
}

var achievementRules = []achievementRule{
	{AchievementDiligent, func(s store.UserStats) bool { return s.TotalLearningMinutes >= 60 }},
	{AchievementSolver, func(s store.UserStats) bool { return s.TotalQuestions >= 10 }},
	{AchievementPerfect, func(s store.UserStats) bool { return s.AverageScore >= 100 }},
	{AchievementPersistent, func(s store.UserStats) bool { return s.CurrentStreak >= 7 }},
	{AchievementFirstStep, func(s store.UserStats) bool { return s.TotalQuestions >= 1 }},
}

// Achievement returns the label of the first rule s satisfies, or "".
func Achievement(s store.UserStats) string {
	for _, r := range achievementRules {
		if r.match(s) {
			return r.label
		}
	}
	return ""
}

// Compute derives the rollup from an owner's sessions and report scores.
// Calendar days are taken in loc. It has no side effects.
func Compute(records []store.Session, scores map[string]int, now time.Time, loc *time.Location) store.UserStats {
	if loc == nil {
		loc = time.UTC
	}

	out := store.UserStats{TotalQuestions: len(records), ComputedAt: now}
	out.CompletedSessions = lo.CountBy(records, func(s store.Session) bool {
		return s.Status == store.StatusCompleted
	})
	out.TotalLearningMinutes = round1(lo.SumBy(records, func(s store.Session) float64 {
		return session.LearningMinutes(&s)
	}))

	// Only scores of the listed sessions count.
	owned := lo.FilterMap(records, func(s store.Session, _ int) (int, bool) {
		score, ok := scores[s.ID]
		return score, ok
	})
	if len(owned) > 0 {
		out.AverageScore = round1(float64(lo.Sum(owned)) / float64(len(owned)))
	}

	days := activeDays(records, loc)
	out.ActiveDays = len(days)
	out.CurrentStreak = currentStreak(days, now.In(loc))
	out.LongestStreak = longestStreak(days)
	out.Achievement = Achievement(out)
	return out
}

// activeDays returns the distinct calendar days with a session start,
// ascending, as midnight in loc.
func activeDays(records []store.Session, loc *time.Location) []time.Time {
	days := lo.Uniq(lo.Map(records, func(s store.Session, _ int) time.Time {
		return midnight(s.StartedAt.In(loc))
	}))
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })
	return days
}

// currentStreak counts consecutive days ending at the most recent active
// day, provided that day is today or yesterday.
func currentStreak(days []time.Time, now time.Time) int {
	if len(days) == 0 {
		return 0
	}
	today := midnight(now)
	last := days[len(days)-1]
	if !last.Equal(today) && !last.Equal(today.AddDate(0, 0, -1)) {
		return 0
	}
	streak := 1
	for i := len(days) - 1; i > 0; i-- {
		if !consecutive(days[i-1], days[i]) {
			break
		}
		streak++
	}
	return streak
}

func longestStreak(days []time.Time) int {
	longest, run := 0, 0
	for i, d := range days {
		if i > 0 && consecutive(days[i-1], d) {
			run++
		} else {
			run = 1
		}
		longest = max(longest, run)
	}
	return longest
}

// consecutive compares calendar dates so DST shifts do not break a run.
func consecutive(prev, next time.Time) bool {
	return prev.AddDate(0, 0, 1).Equal(next)
}

func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
