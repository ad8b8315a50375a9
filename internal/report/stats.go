package report

import (
	"math"
	"unicode/utf8"

	"github.com/abhisek/mathbuddy/internal/session"
	"github.com/abhisek/mathbuddy/internal/store"
)

// runesPerRound is the expected answer length growth per round: later
// answers are expected to be more developed.
const runesPerRound = 10

// ExpectedRunes is the answer length that earns full depth credit in round.
func ExpectedRunes(round int) int {
	if round < 1 {
		round = 1
	}
	return runesPerRound * round
}

// ComputeBasicStats derives the deterministic statistics of a session from
// its dialogue log.
func ComputeBasicStats(sess *store.Session) store.BasicStats {
	answers := sess.UserTurns()
	stats := store.BasicStats{
		LearningMinutes: session.LearningMinutes(sess),
		AnswerCount:     len(answers),
	}
	if len(answers) == 0 {
		return stats
	}

	total := sess.TotalRounds
	if total < 1 {
		total = 1
	}
	stats.ParticipationScore = round1(math.Min(100, float64(len(answers))/float64(total)*100))

	var runes, depth float64
	for _, t := range answers {
		n := float64(utf8.RuneCountInString(t.Text))
		runes += n
		depth += math.Min(100, n/float64(ExpectedRunes(t.Round))*100)
	}
	stats.AverageAnswerRunes = round1(runes / float64(len(answers)))
	stats.DepthScore = round1(depth / float64(len(answers)))
	return stats
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
