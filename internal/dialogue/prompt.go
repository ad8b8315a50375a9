package dialogue

import (
	"fmt"
	"strings"

	"github.com/abhisek/mathbuddy/internal/store"
)

const dialogueSystemPrompt = `You are a patient Socratic math coach for primary-school children. Reply in the language of the problem. Never state the final answer; guide the child to find it with short, concrete questions.`

func buildTurnMessage(sess *store.Session, answer string, final bool) string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("Problem: %s\n", sess.ProblemText))
	a := sess.Analysis
	if a.GradeLevel != "" {
		b.WriteString(fmt.Sprintf("Grade: %s\n", a.GradeLevel))
	}
	if len(a.KeyNumbers) > 0 {
		b.WriteString(fmt.Sprintf("Key numbers: %s\n", strings.Join(a.KeyNumbers, ", ")))
	}
	if a.KeyRelation != "" {
		b.WriteString(fmt.Sprintf("Key relation: %s\n", a.KeyRelation))
	}
	if a.FinalAnswer != "" {
		b.WriteString(fmt.Sprintf("Correct answer (do not reveal): %s\n", a.FinalAnswer))
	}

	b.WriteString("\nDialogue so far:\n")
	if len(sess.Turns) == 0 {
		b.WriteString("None\n")
	}
	for _, t := range sess.Turns {
		b.WriteString(fmt.Sprintf("[round %d] %s: %s\n", t.Round, t.Role, t.Text))
	}

	b.WriteString(fmt.Sprintf("\nRound %d of %d. The student answered: %s\n", sess.Round, sess.TotalRounds, answer))

	b.WriteString(`
Instructions:
1. feedback: react to this answer in one or two sentences. Praise effort and point at one specific thing that is right or worth rechecking.`)
	if final {
		b.WriteString(`
2. next_question: this was the final round, return an empty string.`)
	} else {
		b.WriteString(`
2. next_question: ask one question that moves the student one step closer to the answer without giving it away.`)
	}
	return b.String()
}
