// Package session owns the lifecycle of a problem-solving session: creation,
// dialogue turns, round advancement and the terminal transitions. It maps
// storage outcomes to the apperr taxonomy and keeps the learning history in
// step with every transition.
package session

import (
	"context"
	"errors"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/abhisek/mathbuddy/internal/apperr"
	"github.com/abhisek/mathbuddy/internal/behavior"
	"github.com/abhisek/mathbuddy/internal/logger"
	"github.com/abhisek/mathbuddy/internal/store"
)

// DefaultTotalRounds is the number of dialogue rounds per session.
const DefaultTotalRounds = 3

const (
	DefaultPageSize = 10
	MaxPageSize     = 50
)

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_.:-]{1,128}$`)

// CreateInput describes a new session.
type CreateInput struct {
	ID          string
	ProblemText string
	Analysis    store.ProblemAnalysis
	ImageRef    string
}

// ListQuery selects one page of a user's sessions.
type ListQuery struct {
	Page     int
	PageSize int
	Status   store.SessionStatus
	From     time.Time
	To       time.Time
}

// Page is one page of sessions, newest first.
type Page struct {
	Items    []store.Session `json:"items"`
	Page     int             `json:"page"`
	PageSize int             `json:"page_size"`
	Total    int             `json:"total"`
	HasMore  bool            `json:"has_more"`
}

type Service struct {
	sessions    store.SessionRepo
	history     store.HistoryRepo
	events      behavior.Recorder
	log         *logger.Logger
	totalRounds int
	now         func() time.Time
}

func NewService(sessions store.SessionRepo, history store.HistoryRepo, events behavior.Recorder, totalRounds int, log *logger.Logger) *Service {
	if totalRounds < 1 {
		totalRounds = DefaultTotalRounds
	}
	if events == nil {
		events = behavior.Discard
	}
	return &Service{
		sessions:    sessions,
		history:     history,
		events:      events,
		log:         log.With("service", "SessionService"),
		totalRounds: totalRounds,
		now:         time.Now,
	}
}

// TotalRounds returns the configured number of rounds for new sessions.
func (s *Service) TotalRounds() int {
	return s.totalRounds
}

// Create starts a session in round 1. Creating an id the caller already owns
// returns the existing session unchanged.
func (s *Service) Create(ctx context.Context, owner string, in CreateInput) (*store.Session, error) {
	if owner == "" {
		return nil, apperr.Validation("owner is required")
	}
	problem := strings.TrimSpace(in.ProblemText)
	if problem == "" {
		return nil, apperr.Validation("problem text is required")
	}
	if in.Analysis.Placeholder {
		return nil, apperr.Validation("the problem could not be recognized, please retake the photo")
	}
	id := strings.TrimSpace(in.ID)
	if id == "" {
		id = uuid.NewString()
	} else if !idPattern.MatchString(id) {
		return nil, apperr.Validation("invalid session id")
	}

	now := s.now()
	sess := &store.Session{
		ID:          id,
		OwnerID:     owner,
		ProblemText: problem,
		Analysis:    in.Analysis,
		ImageRef:    in.ImageRef,
		Round:       1,
		TotalRounds: s.totalRounds,
		Status:      store.StatusActive,
		StartedAt:   now,
		UpdatedAt:   now,
	}
	stored, created, err := s.sessions.Create(ctx, sess)
	if err != nil {
		return nil, apperr.Internal("create session", err)
	}
	if !created {
		if stored.OwnerID != owner {
			return nil, apperr.NotFound("session")
		}
		return stored, nil
	}

	s.syncHistory(ctx, stored)
	s.events.Log(ctx, behavior.Event{OwnerID: owner, SessionID: id, Type: behavior.TypeSessionCreated})
	return stored, nil
}

func (s *Service) Get(ctx context.Context, id, owner string) (*store.Session, error) {
	sess, err := s.sessions.Get(ctx, id, owner)
	if err != nil {
		return nil, mapErr("get session", err)
	}
	return sess, nil
}

// AppendTurn appends one turn without touching the round.
func (s *Service) AppendTurn(ctx context.Context, id, owner string, t store.Turn) (store.Turn, error) {
	if t.Role != store.RoleUser && t.Role != store.RoleAssistant {
		return store.Turn{}, apperr.Validation("invalid role %q", t.Role)
	}
	if strings.TrimSpace(t.Text) == "" {
		return store.Turn{}, apperr.Validation("turn text is required")
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = s.now()
	}
	saved, err := s.sessions.AppendTurn(ctx, id, owner, t)
	if errors.Is(err, store.ErrConflict) {
		return store.Turn{}, apperr.Validation("session is no longer active")
	}
	if err != nil {
		return store.Turn{}, mapErr("append turn", err)
	}
	return saved, nil
}

// AppendOpening stores t as the dialogue's opening question unless one is
// already recorded, and returns the recorded opening.
func (s *Service) AppendOpening(ctx context.Context, id, owner string, t store.Turn) (store.Turn, error) {
	if strings.TrimSpace(t.Text) == "" {
		return store.Turn{}, apperr.Validation("turn text is required")
	}
	t.Role = store.RoleAssistant
	if t.Round == 0 {
		t.Round = 1
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = s.now()
	}
	saved, err := s.sessions.AppendOpening(ctx, id, owner, t)
	if errors.Is(err, store.ErrConflict) {
		return store.Turn{}, apperr.Validation("session is no longer active")
	}
	if err != nil {
		return store.Turn{}, mapErr("append opening", err)
	}
	return saved, nil
}

// AdvanceRound increments the round of an active session, saturating at
// total+1.
func (s *Service) AdvanceRound(ctx context.Context, id, owner string) (int, error) {
	round, err := s.sessions.AdvanceRound(ctx, id, owner, s.now())
	if err != nil {
		return 0, mapErr("advance round", err)
	}
	return round, nil
}

// Complete marks the session completed. Completing twice succeeds.
func (s *Service) Complete(ctx context.Context, id, owner, reason string) (*store.Session, error) {
	return s.finish(ctx, id, owner, store.StatusCompleted, reason)
}

// Abandon marks the session abandoned. Abandoning twice succeeds.
func (s *Service) Abandon(ctx context.Context, id, owner, reason string) (*store.Session, error) {
	return s.finish(ctx, id, owner, store.StatusAbandoned, reason)
}

func (s *Service) finish(ctx context.Context, id, owner string, status store.SessionStatus, reason string) (*store.Session, error) {
	err := s.sessions.SetStatus(ctx, id, owner, status, reason, s.now())
	if err != nil && !errors.Is(err, store.ErrConflict) {
		return nil, mapErr("set session status", err)
	}
	sess, getErr := s.sessions.Get(ctx, id, owner)
	if getErr != nil {
		return nil, mapErr("get session", getErr)
	}
	if err != nil {
		if sess.Status == status {
			return sess, nil
		}
		return nil, apperr.Validation("session is already %s", sess.Status)
	}

	s.syncHistory(ctx, sess)
	if status == store.StatusAbandoned {
		s.events.Log(ctx, behavior.Event{OwnerID: owner, SessionID: id, Type: behavior.TypeSessionAbandoned,
			Data: map[string]any{"reason": reason, "round": sess.Round}})
	}
	return sess, nil
}

// RecordTurns atomically checks the round, appends turns and advances the
// round, completing the session when complete is set. A round mismatch
// returns a *apperr.StaleRoundError and changes nothing.
func (s *Service) RecordTurns(ctx context.Context, id, owner string, expectedRound int, turns []store.Turn, complete bool) (*store.Session, error) {
	now := s.now()
	for i := range turns {
		if turns[i].Round == 0 {
			turns[i].Round = expectedRound
		}
		if turns[i].CreatedAt.IsZero() {
			turns[i].CreatedAt = now
		}
	}
	commit := store.RoundCommit{
		ExpectedRound: expectedRound,
		Turns:         turns,
		Complete:      complete,
		At:            now,
	}
	if complete {
		commit.CompletionReason = "rounds_finished"
	}

	sess, err := s.sessions.CommitRound(ctx, id, owner, commit)
	if errors.Is(err, store.ErrConflict) {
		current, getErr := s.sessions.Get(ctx, id, owner)
		if getErr != nil {
			return nil, mapErr("get session", getErr)
		}
		if current.Status == store.StatusAbandoned {
			return nil, apperr.Validation("session is abandoned")
		}
		return nil, &apperr.StaleRoundError{Expected: expectedRound, Actual: current.Round}
	}
	if err != nil {
		return nil, mapErr("commit round", err)
	}

	s.syncHistory(ctx, sess)
	return sess, nil
}

// List returns one page of the owner's sessions, newest first.
func (s *Service) List(ctx context.Context, owner string, q ListQuery) (*Page, error) {
	if q.Page == 0 {
		q.Page = 1
	}
	if q.PageSize == 0 {
		q.PageSize = DefaultPageSize
	}
	if q.Page < 1 {
		return nil, apperr.Validation("page must be at least 1")
	}
	if q.PageSize < 1 || q.PageSize > MaxPageSize {
		return nil, apperr.Validation("page_size must be between 1 and %d", MaxPageSize)
	}
	if q.Status != "" && !q.Status.Valid() {
		return nil, apperr.Validation("unknown status %q", q.Status)
	}
	if !q.From.IsZero() && !q.To.IsZero() && q.To.Before(q.From) {
		return nil, apperr.Validation("to must not be before from")
	}

	items, total, err := s.sessions.List(ctx, owner, store.SessionFilter{
		Status: q.Status,
		From:   q.From,
		To:     q.To,
		Limit:  q.PageSize,
		Offset: (q.Page - 1) * q.PageSize,
	})
	if err != nil {
		return nil, apperr.Internal("list sessions", err)
	}
	if items == nil {
		items = []store.Session{}
	}
	return &Page{
		Items:    items,
		Page:     q.Page,
		PageSize: q.PageSize,
		Total:    total,
		HasMore:  q.Page*q.PageSize < total,
	}, nil
}

// History returns up to limit learning history entries, most recent first.
func (s *Service) History(ctx context.Context, owner string, limit int) ([]store.HistoryEntry, error) {
	if limit <= 0 || limit > store.HistoryCap {
		limit = store.HistoryCap
	}
	entries, err := s.history.List(ctx, owner, limit)
	if err != nil {
		return nil, apperr.Internal("list history", err)
	}
	if entries == nil {
		entries = []store.HistoryEntry{}
	}
	return entries, nil
}

// SweepStale abandons active sessions idle for longer than olderThan and
// returns how many were abandoned.
func (s *Service) SweepStale(ctx context.Context, olderThan time.Duration) (int, error) {
	if olderThan <= 0 {
		return 0, apperr.Validation("older-than must be positive")
	}
	stale, err := s.sessions.StaleActive(ctx, s.now().Add(-olderThan))
	if err != nil {
		return 0, apperr.Internal("find stale sessions", err)
	}

	n := 0
	for _, st := range stale {
		if _, err := s.Abandon(ctx, st.ID, st.OwnerID, "timeout"); err != nil {
			s.log.Warn("failed to abandon stale session", "session_id", st.ID, "error", err)
			continue
		}
		n++
	}
	if n > 0 {
		s.log.Info("abandoned stale sessions", "count", n, "older_than", olderThan.String())
	}
	return n, nil
}

// syncHistory mirrors the session into the learning history. History is a
// derived view, so failures are logged and not returned.
func (s *Service) syncHistory(ctx context.Context, sess *store.Session) {
	if err := s.history.Upsert(ctx, HistoryEntry(sess, s.now())); err != nil {
		s.log.Warn("failed to update learning history", "session_id", sess.ID, "owner_id", sess.OwnerID, "error", err)
	}
}

// HistoryEntry summarizes a session for the learning history. The score is
// left nil; it is filled in when the report is generated.
func HistoryEntry(sess *store.Session, now time.Time) store.HistoryEntry {
	rounds := sess.Round - 1
	if rounds > sess.TotalRounds {
		rounds = sess.TotalRounds
	}
	if rounds < 0 {
		rounds = 0
	}
	return store.HistoryEntry{
		OwnerID:         sess.OwnerID,
		SessionID:       sess.ID,
		ProblemText:     sess.ProblemText,
		Status:          sess.Status,
		Rounds:          rounds,
		LearningMinutes: LearningMinutes(sess),
		StartedAt:       sess.StartedAt,
		UpdatedAt:       now,
	}
}

// LearningMinutes is the session duration in minutes, rounded to one
// decimal. Unfinished sessions count up to their last update.
func LearningMinutes(sess *store.Session) float64 {
	end := sess.EndedAt
	if end.IsZero() {
		end = sess.UpdatedAt
	}
	if end.IsZero() || end.Before(sess.StartedAt) {
		return 0
	}
	return math.Round(end.Sub(sess.StartedAt).Minutes()*10) / 10
}

func mapErr(op string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return apperr.NotFound("session")
	}
	return apperr.Internal(op, err)
}
