package report

import (
	"math"
	"time"

	"github.com/abhisek/mathbuddy/internal/store"
)

const (
	participationWeight = 0.4
	depthWeight         = 0.4
	timeWeight          = 0.2
)

// TimeEfficiency scores the session duration: full marks up to 10 minutes,
// then 5 points less per extra minute, never below 40.
func TimeEfficiency(minutes float64) float64 {
	if minutes <= 10 {
		return 100
	}
	return math.Max(40, 100-5*(minutes-10))
}

// FallbackScore blends participation, depth and time efficiency.
func FallbackScore(stats store.BasicStats) int {
	s := participationWeight*stats.ParticipationScore +
		depthWeight*stats.DepthScore +
		timeWeight*TimeEfficiency(stats.LearningMinutes)
	return clamp(int(math.Round(s)), 0, 100)
}

// Level maps a score to its qualitative label.
func Level(score int) string {
	switch {
	case score >= 90:
		return "优秀"
	case score >= 75:
		return "良好"
	case score >= 60:
		return "合格"
	default:
		return "继续加油"
	}
}

// Fallback builds a complete report from the statistics alone. It never
// fails.
func Fallback(sess *store.Session, stats store.BasicStats, now time.Time) *store.Report {
	score := FallbackScore(stats)
	return &store.Report{
		SessionID:    sess.ID,
		OwnerID:      sess.OwnerID,
		Score:        score,
		Level:        Level(score),
		Strengths:    strengths(stats),
		Improvements: improvements(stats),
		Thinking: store.ThinkingScores{
			Understanding: toFive(stats.ParticipationScore),
			Reasoning:     toFive(stats.DepthScore),
			Calculation:   toFive(float64(score)),
			Expression:    toFive((stats.DepthScore + stats.ParticipationScore) / 2),
		},
		KnowledgePoints: []store.KnowledgePoint{{Name: knowledgeName(sess.Analysis), Mastery: mastery(score)}},
		Suggestions:     suggestions(score),
		NextSteps:       []string{"再做一道同类型的题目，巩固今天的方法", "试着把解题思路讲给家人听"},
		Stats:           stats,
		Source:          store.SourceFallback,
		GeneratedAt:     now,
	}
}

func strengths(stats store.BasicStats) []string {
	var out []string
	if stats.ParticipationScore >= 100 {
		out = append(out, "坚持完成了每一轮思考")
	}
	if stats.DepthScore >= 70 {
		out = append(out, "回答完整，能说出自己的思路")
	}
	if TimeEfficiency(stats.LearningMinutes) >= 100 {
		out = append(out, "解题专注高效")
	}
	if len(out) == 0 {
		out = append(out, "愿意动脑思考，敢于表达自己的想法")
	}
	return out
}

func improvements(stats store.BasicStats) []string {
	var out []string
	if stats.ParticipationScore < 100 {
		out = append(out, "尝试回答每一个引导问题")
	}
	if stats.DepthScore < 70 {
		out = append(out, "回答时多说一说自己的理由")
	}
	if stats.LearningMinutes > 20 {
		out = append(out, "先理清题目信息再计算，可以更快找到方法")
	}
	if len(out) == 0 {
		out = append(out, "试着用另一种方法验证答案")
	}
	return out
}

func suggestions(score int) []string {
	switch {
	case score >= 90:
		return []string{"可以挑战难一点的题目", "尝试自己出一道类似的题"}
	case score >= 60:
		return []string{"做题前先圈出关键数字和问题", "算完后把答案代回题目检查"}
	default:
		return []string{"慢慢读题，把已知条件一条条列出来", "遇到困难时画图帮助理解"}
	}
}

func knowledgeName(a store.ProblemAnalysis) string {
	if a.KeyRelation != "" {
		return a.KeyRelation
	}
	return "应用题的理解与解答"
}

func mastery(score int) string {
	switch {
	case score >= 85:
		return "掌握"
	case score >= 60:
		return "基本掌握"
	default:
		return "需要巩固"
	}
}

// toFive maps a 0-100 score onto the 1-5 thinking scale.
func toFive(v float64) int {
	return clamp(1+int(math.Round(v/25)), 1, 5)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
