// Package dialogue drives the fixed-length Socratic dialogue of a session:
// each valid answer appends a user turn and an assistant turn and advances
// the round, and the last round completes the session and produces its
// report.
package dialogue

import (
	"context"
	"encoding/json"
	"strings"
	"unicode/utf8"

	"github.com/abhisek/mathbuddy/internal/apperr"
	"github.com/abhisek/mathbuddy/internal/behavior"
	"github.com/abhisek/mathbuddy/internal/llm"
	"github.com/abhisek/mathbuddy/internal/logger"
	"github.com/abhisek/mathbuddy/internal/session"
	"github.com/abhisek/mathbuddy/internal/store"
)

// Source records whether a reply came from the model or the templates.
type Source string

const (
	SourceCollaborator Source = "collaborator"
	SourceFallback     Source = "fallback"
)

// ReportGenerator produces the report of a completed session.
type ReportGenerator interface {
	GenerateOrGet(ctx context.Context, id, owner string) (*store.Report, error)
}

// Result is the outcome of one submitted answer.
type Result struct {
	Feedback     string        `json:"feedback"`
	NextQuestion string        `json:"next_question,omitempty"`
	Completed    bool          `json:"completed"`
	Round        int           `json:"round"`
	Source       Source        `json:"source"`
	Report       *store.Report `json:"report,omitempty"`
}

type reply struct {
	Feedback     string `json:"feedback"`
	NextQuestion string `json:"next_question"`
	Source       Source `json:"-"`
}

type Engine struct {
	sessions *session.Service
	reports  ReportGenerator
	provider llm.Provider
	events   behavior.Recorder
	cfg      Config
	log      *logger.Logger
}

// NewEngine creates a dialogue engine. provider may be nil, in which case
// every reply is templated.
func NewEngine(sessions *session.Service, reports ReportGenerator, provider llm.Provider, events behavior.Recorder, cfg Config, log *logger.Logger) *Engine {
	if events == nil {
		events = behavior.Discard
	}
	return &Engine{
		sessions: sessions,
		reports:  reports,
		provider: provider,
		events:   events,
		cfg:      cfg,
		log:      log.With("service", "DialogueEngine"),
	}
}

// Open appends the opening question of round 1 if the dialogue has not
// started and returns it. Calling it again returns the same question.
func (e *Engine) Open(ctx context.Context, id, owner string) (string, error) {
	sess, err := e.sessions.Get(ctx, id, owner)
	if err != nil {
		return "", err
	}
	for _, t := range sess.Turns {
		if t.Role == store.RoleAssistant {
			return t.Text, nil
		}
	}
	if sess.Status != store.StatusActive {
		return "", apperr.Validation("session is %s", sess.Status)
	}

	opening, err := e.sessions.AppendOpening(ctx, id, owner, store.Turn{Text: question(sess.Analysis, 1), Round: 1})
	if err != nil {
		return "", err
	}
	return opening.Text, nil
}

// SubmitAnswer records the student's answer for expectedRound and replies.
// A mismatched round returns *apperr.StaleRoundError without side effects.
// The round advances on every valid answer, whatever the model returns.
func (e *Engine) SubmitAnswer(ctx context.Context, id, owner, answer string, expectedRound int) (*Result, error) {
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return nil, apperr.Validation("answer is required")
	}
	if utf8.RuneCountInString(answer) > MaxAnswerRunes {
		return nil, apperr.Validation("answer is longer than %d characters", MaxAnswerRunes)
	}
	if expectedRound < 1 {
		return nil, apperr.Validation("expected_round must be at least 1")
	}

	sess, err := e.sessions.Get(ctx, id, owner)
	if err != nil {
		return nil, err
	}
	if sess.Status == store.StatusAbandoned {
		return nil, apperr.Validation("session is abandoned")
	}
	if sess.Round != expectedRound || sess.Status != store.StatusActive {
		return nil, &apperr.StaleRoundError{Expected: expectedRound, Actual: sess.Round}
	}

	final := sess.Round >= sess.TotalRounds
	r := e.continueDialogue(ctx, sess, answer, final)

	assistantText := r.Feedback
	if r.NextQuestion != "" {
		assistantText += "\n" + r.NextQuestion
	}
	turns := []store.Turn{
		{Role: store.RoleUser, Text: answer, Round: expectedRound},
		{Role: store.RoleAssistant, Text: assistantText, Round: expectedRound},
	}
	updated, err := e.sessions.RecordTurns(ctx, id, owner, expectedRound, turns, final)
	if err != nil {
		return nil, err
	}

	e.events.Log(ctx, behavior.Event{
		OwnerID:   owner,
		SessionID: id,
		Type:      behavior.TypeAnswerSubmitted,
		Data: map[string]any{
			"round":        expectedRound,
			"answer_runes": utf8.RuneCountInString(answer),
			"source":       string(r.Source),
		},
	})

	res := &Result{
		Feedback:     r.Feedback,
		NextQuestion: r.NextQuestion,
		Completed:    updated.Status == store.StatusCompleted,
		Round:        updated.Round,
		Source:       r.Source,
	}
	if !res.Completed {
		return res, nil
	}

	e.events.Log(ctx, behavior.Event{
		OwnerID:   owner,
		SessionID: id,
		Type:      behavior.TypeSessionCompleted,
		Data:      map[string]any{"rounds": sess.TotalRounds},
	})
	rep, err := e.reports.GenerateOrGet(ctx, id, owner)
	if err != nil {
		// The session is already completed; the client fetches the report
		// separately.
		e.log.Error("report generation failed after completion", "session_id", id, "owner_id", owner, "error", err)
		return res, nil
	}
	res.Report = rep
	return res, nil
}

// continueDialogue asks the model for feedback and the next question and
// falls back to templates on any failure or unusable output.
func (e *Engine) continueDialogue(ctx context.Context, sess *store.Session, answer string, final bool) reply {
	if e.provider == nil {
		return fallbackReply(sess, final)
	}

	ctx = llm.WithPurpose(ctx, "dialogue")
	if e.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()
	}

	req := llm.Request{
		System: dialogueSystemPrompt,
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: buildTurnMessage(sess, answer, final)},
		},
		Schema:      TurnSchema,
		MaxTokens:   e.cfg.MaxTokens,
		Temperature: e.cfg.Temperature,
	}

	resp, err := e.provider.Generate(ctx, req)
	if err != nil {
		e.log.Warn("dialogue collaborator failed, using template", "session_id", sess.ID, "round", sess.Round, "error", err)
		return fallbackReply(sess, final)
	}

	var out reply
	if err := json.Unmarshal(resp.Content, &out); err != nil {
		e.log.Warn("undecodable dialogue reply, using template", "session_id", sess.ID, "error", err)
		return fallbackReply(sess, final)
	}
	out.Feedback = strings.TrimSpace(out.Feedback)
	out.NextQuestion = strings.TrimSpace(out.NextQuestion)
	if !usable(out, final) {
		e.log.Warn("unusable dialogue reply, using template", "session_id", sess.ID, "round", sess.Round)
		return fallbackReply(sess, final)
	}
	if final {
		out.NextQuestion = ""
	}
	out.Source = SourceCollaborator
	return out
}

func usable(r reply, final bool) bool {
	if r.Feedback == "" || utf8.RuneCountInString(r.Feedback) > maxReplyRunes {
		return false
	}
	if final {
		return true
	}
	return r.NextQuestion != "" && utf8.RuneCountInString(r.NextQuestion) <= maxReplyRunes
}
