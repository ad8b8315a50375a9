// Package report produces the single, cached learning report of a completed
// session. The model writes the evaluation when it can; otherwise a
// deterministic report is built from the dialogue statistics.
package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/abhisek/mathbuddy/internal/apperr"
	"github.com/abhisek/mathbuddy/internal/behavior"
	"github.com/abhisek/mathbuddy/internal/jobs"
	"github.com/abhisek/mathbuddy/internal/llm"
	"github.com/abhisek/mathbuddy/internal/logger"
	"github.com/abhisek/mathbuddy/internal/session"
	"github.com/abhisek/mathbuddy/internal/store"
)

// SessionGetter loads an owned session.
type SessionGetter interface {
	Get(ctx context.Context, id, owner string) (*store.Session, error)
}

type Generator struct {
	sessions SessionGetter
	reports  store.ReportRepo
	history  store.HistoryRepo
	jobs     jobs.Dispatcher
	events   behavior.Recorder
	provider llm.Provider
	cfg      Config
	log      *logger.Logger
	now      func() time.Time
}

// NewGenerator creates a report generator. provider may be nil, in which
// case every report is the deterministic fallback.
func NewGenerator(sessions SessionGetter, reports store.ReportRepo, history store.HistoryRepo, dispatcher jobs.Dispatcher, events behavior.Recorder, provider llm.Provider, cfg Config, log *logger.Logger) *Generator {
	if events == nil {
		events = behavior.Discard
	}
	return &Generator{
		sessions: sessions,
		reports:  reports,
		history:  history,
		jobs:     dispatcher,
		events:   events,
		provider: provider,
		cfg:      cfg,
		log:      log.With("service", "ReportGenerator"),
		now:      time.Now,
	}
}

// GenerateOrGet returns the stored report of a session, creating it on the
// first call. Concurrent first calls converge on one stored report.
func (g *Generator) GenerateOrGet(ctx context.Context, id, owner string) (*store.Report, error) {
	existing, err := g.reports.Get(ctx, id, owner)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, apperr.Internal("get report", err)
	}

	sess, err := g.sessions.Get(ctx, id, owner)
	if err != nil {
		return nil, err
	}
	if sess.Status != store.StatusCompleted {
		return nil, apperr.NotReady(string(sess.Status))
	}

	stats := ComputeBasicStats(sess)
	rep := g.synthesize(ctx, sess, stats)

	stored, created, err := g.reports.CreateIfAbsent(ctx, rep)
	if err != nil {
		return nil, apperr.Internal("save report", err)
	}
	if created {
		g.afterCreate(ctx, sess, stored)
	}
	return stored, nil
}

// afterCreate runs the best-effort follow-ups of a new report. None of them
// can fail the request.
func (g *Generator) afterCreate(ctx context.Context, sess *store.Session, rep *store.Report) {
	err := g.history.SetScore(ctx, sess.OwnerID, sess.ID, rep.Score, g.now())
	if errors.Is(err, store.ErrNotFound) {
		entry := session.HistoryEntry(sess, g.now())
		entry.Score = &rep.Score
		err = g.history.Upsert(ctx, entry)
	}
	if err != nil {
		g.log.Warn("failed to record report score in history", "session_id", sess.ID, "owner_id", sess.OwnerID, "error", err)
	}

	if g.jobs != nil {
		if err := g.jobs.Enqueue(ctx, jobs.TypeStatsRecompute, jobs.StatsPayload{OwnerID: sess.OwnerID}); err != nil {
			g.log.Warn("failed to enqueue stats recompute", "owner_id", sess.OwnerID, "error", err)
		}
	}

	g.events.Log(ctx, behavior.Event{
		OwnerID:   sess.OwnerID,
		SessionID: sess.ID,
		Type:      behavior.TypeReportGenerated,
		Data:      map[string]any{"score": rep.Score, "source": string(rep.Source)},
	})
}

type synthesis struct {
	Score           int                    `json:"score"`
	Level           string                 `json:"level"`
	Strengths       []string               `json:"strengths"`
	Improvements    []string               `json:"improvements"`
	Thinking        store.ThinkingScores   `json:"thinking"`
	KnowledgePoints []store.KnowledgePoint `json:"knowledge_points"`
	Suggestions     []string               `json:"suggestions"`
	NextSteps       []string               `json:"next_steps"`
}

func (g *Generator) synthesize(ctx context.Context, sess *store.Session, stats store.BasicStats) *store.Report {
	if g.provider == nil {
		return Fallback(sess, stats, g.now())
	}

	ctx = llm.WithPurpose(ctx, "report")
	if g.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.cfg.Timeout)
		defer cancel()
	}

	req := llm.Request{
		System: reportSystemPrompt,
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: buildReportMessage(sess, stats)},
		},
		Schema:      ReportSchema,
		MaxTokens:   g.cfg.MaxTokens,
		Temperature: g.cfg.Temperature,
	}

	resp, err := g.provider.Generate(ctx, req)
	if err != nil {
		g.log.Warn("report collaborator failed, using fallback", "session_id", sess.ID, "error", err)
		return Fallback(sess, stats, g.now())
	}

	var out synthesis
	if err := json.Unmarshal(resp.Content, &out); err != nil {
		g.log.Warn("undecodable report, using fallback", "session_id", sess.ID, "error", err)
		return Fallback(sess, stats, g.now())
	}
	if err := out.validate(); err != nil {
		g.log.Warn("invalid report, using fallback", "session_id", sess.ID, "error", err)
		return Fallback(sess, stats, g.now())
	}

	return &store.Report{
		SessionID:       sess.ID,
		OwnerID:         sess.OwnerID,
		Score:           out.Score,
		Level:           strings.TrimSpace(out.Level),
		Strengths:       out.Strengths,
		Improvements:    out.Improvements,
		Thinking:        out.Thinking,
		KnowledgePoints: out.KnowledgePoints,
		Suggestions:     out.Suggestions,
		NextSteps:       out.NextSteps,
		Stats:           stats,
		Source:          store.SourceCollaborator,
		GeneratedAt:     g.now(),
	}
}

// validate re-checks ranges and required content after decoding.
func (s *synthesis) validate() error {
	if s.Score < 0 || s.Score > 100 {
		return fmt.Errorf("score %d out of range", s.Score)
	}
	if strings.TrimSpace(s.Level) == "" {
		return errors.New("missing level")
	}
	for name, v := range map[string]int{
		"understanding": s.Thinking.Understanding,
		"reasoning":     s.Thinking.Reasoning,
		"calculation":   s.Thinking.Calculation,
		"expression":    s.Thinking.Expression,
	} {
		if v < 1 || v > 5 {
			return fmt.Errorf("thinking.%s %d out of range", name, v)
		}
	}
	for name, list := range map[string][]string{
		"strengths":    s.Strengths,
		"improvements": s.Improvements,
		"suggestions":  s.Suggestions,
		"next_steps":   s.NextSteps,
	} {
		if len(nonEmpty(list)) == 0 {
			return fmt.Errorf("missing %s", name)
		}
	}
	if len(s.KnowledgePoints) == 0 {
		return errors.New("missing knowledge_points")
	}
	for _, kp := range s.KnowledgePoints {
		if strings.TrimSpace(kp.Name) == "" {
			return errors.New("knowledge point without name")
		}
	}
	return nil
}

func nonEmpty(list []string) []string {
	return lo.Filter(list, func(s string, _ int) bool { return strings.TrimSpace(s) != "" })
}
