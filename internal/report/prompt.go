package report

import (
	"fmt"
	"strings"

	"github.com/abhisek/mathbuddy/internal/store"
)

const reportSystemPrompt = `You evaluate how a primary-school child worked through a math word problem in a guided Socratic dialogue. Be warm, specific and honest. Write all text in the language of the problem.`

func buildReportMessage(sess *store.Session, stats store.BasicStats) string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("Problem: %s\n", sess.ProblemText))
	a := sess.Analysis
	if a.GradeLevel != "" {
		b.WriteString(fmt.Sprintf("Grade: %s\n", a.GradeLevel))
	}
	if a.Difficulty > 0 {
		b.WriteString(fmt.Sprintf("Difficulty: %d/5\n", a.Difficulty))
	}
	if a.KeyRelation != "" {
		b.WriteString(fmt.Sprintf("Key relation: %s\n", a.KeyRelation))
	}
	if a.FinalAnswer != "" {
		b.WriteString(fmt.Sprintf("Correct answer: %s\n", a.FinalAnswer))
	}

	b.WriteString("\nDialogue:\n")
	for _, t := range sess.Turns {
		b.WriteString(fmt.Sprintf("[round %d] %s: %s\n", t.Round, t.Role, t.Text))
	}

	b.WriteString("\nStatistics:\n")
	b.WriteString(fmt.Sprintf("- Learning time: %.1f minutes\n", stats.LearningMinutes))
	b.WriteString(fmt.Sprintf("- Answers: %d of %d rounds\n", stats.AnswerCount, sess.TotalRounds))
	b.WriteString(fmt.Sprintf("- Average answer length: %.1f characters\n", stats.AverageAnswerRunes))
	b.WriteString(fmt.Sprintf("- Participation score: %.1f/100\n", stats.ParticipationScore))
	b.WriteString(fmt.Sprintf("- Depth score: %.1f/100\n", stats.DepthScore))

	b.WriteString(`
Instructions:
1. score: overall performance from 0 to 100, consistent with the statistics.
2. thinking: rate understanding, reasoning, calculation and expression from 1 to 5.
3. knowledge_points: the concepts this problem exercises and how well each was mastered.
4. strengths, improvements, suggestions, next_steps: one or two short items each, addressed to the child.`)
	return b.String()
}
