package dialogue

import (
	"fmt"
	"strings"

	"github.com/abhisek/mathbuddy/internal/store"
)

var fallbackFeedback = []string{
	"谢谢你的回答！你已经认真读了题目。",
	"想得不错！我们离答案越来越近了。",
	"很好，你一直在认真思考！",
}

const fallbackCompletion = "你完成了全部%d轮思考，真棒！我们来看看这次的学习报告吧。"

var genericQuestions = []string{
	"先读一读题目，题目告诉了我们哪些信息？要求的是什么？",
	"题目里的数量之间有什么关系？你打算用什么方法来算？",
	"请你算一算，并说说你是怎么检查答案的？",
}

const genericLaterQuestion = "还能用别的方法验证一下你的答案吗？"

// question returns the guiding question for round, preferring the
// analysis' own questions.
func question(a store.ProblemAnalysis, round int) string {
	if i := round - 1; i >= 0 && i < len(a.Questions) {
		if q := strings.TrimSpace(a.Questions[i]); q != "" {
			return q
		}
	}
	if i := round - 1; i >= 0 && i < len(genericQuestions) {
		return genericQuestions[i]
	}
	return genericLaterQuestion
}

// fallbackReply is the deterministic reply used when the model is
// unavailable or its output is unusable.
func fallbackReply(sess *store.Session, final bool) reply {
	if final {
		return reply{Feedback: fmt.Sprintf(fallbackCompletion, sess.TotalRounds), Source: SourceFallback}
	}
	i := sess.Round - 1
	if i < 0 {
		i = 0
	}
	return reply{
		Feedback:     fallbackFeedback[i%len(fallbackFeedback)],
		NextQuestion: question(sess.Analysis, sess.Round+1),
		Source:       SourceFallback,
	}
}
