package stats

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/abhisek/mathbuddy/internal/apperr"
	"github.com/abhisek/mathbuddy/internal/jobs"
	"github.com/abhisek/mathbuddy/internal/logger"
	"github.com/abhisek/mathbuddy/internal/store"
)

type Service struct {
	sessions store.SessionRepo
	reports  store.ReportRepo
	stats    store.StatsRepo
	users    store.UserRepo
	loc      *time.Location
	log      *logger.Logger
	now      func() time.Time
}

// NewService creates the stats aggregator. Calendar days are counted in loc;
// nil means UTC.
func NewService(sessions store.SessionRepo, reports store.ReportRepo, stats store.StatsRepo, users store.UserRepo, loc *time.Location, log *logger.Logger) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		sessions: sessions,
		reports:  reports,
		stats:    stats,
		users:    users,
		loc:      loc,
		log:      log.With("service", "StatsAggregator"),
		now:      time.Now,
	}
}

// Recompute rebuilds the owner's rollup from scratch, stores it and syncs
// the achievement label onto the user profile.
func (s *Service) Recompute(ctx context.Context, owner string) (*store.UserStats, error) {
	if owner == "" {
		return nil, apperr.Validation("owner is required")
	}

	records, err := s.sessions.ListAll(ctx, owner)
	if err != nil {
		return nil, apperr.Internal("list sessions", err)
	}
	scores, err := s.reports.Scores(ctx, owner)
	if err != nil {
		return nil, apperr.Internal("load scores", err)
	}

	now := s.now()
	out := Compute(records, scores, now, s.loc)
	out.OwnerID = owner
	if err := s.stats.Put(ctx, &out); err != nil {
		return nil, apperr.Internal("save stats", err)
	}
	if err := s.users.Sync(ctx, owner, out.Achievement, now); err != nil {
		return nil, apperr.Internal("sync user", err)
	}

	s.log.Debug("stats recomputed",
		"owner_id", owner,
		"questions", out.TotalQuestions,
		"current_streak", out.CurrentStreak,
		"achievement", out.Achievement)
	return &out, nil
}

// Get returns the cached rollup, computing it on first access.
func (s *Service) Get(ctx context.Context, owner string) (*store.UserStats, error) {
	if owner == "" {
		return nil, apperr.Validation("owner is required")
	}
	cached, err := s.stats.Get(ctx, owner)
	if err == nil {
		return cached, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, apperr.Internal("get stats", err)
	}
	return s.Recompute(ctx, owner)
}

// Handler processes stats:recompute tasks.
func (s *Service) Handler() jobs.HandlerFunc {
	return func(ctx context.Context, payload []byte) error {
		var p jobs.StatsPayload
		if err := jobs.Decode(payload, &p); err != nil {
			return err
		}
		if p.OwnerID == "" {
			return fmt.Errorf("stats task without owner")
		}
		_, err := s.Recompute(ctx, p.OwnerID)
		return err
	}
}
