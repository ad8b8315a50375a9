package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	entsql "entgo.io/ent/dialect/sql"
)

var historyColumns = []string{
	"owner_id", "session_id", "problem_text", "status", "score",
	"rounds", "learning_minutes", "started_at", "updated_at",
}

// historyRepo implements HistoryRepo: one row per (owner, session), capped
// at HistoryCap rows per owner by recency.
type historyRepo struct {
	store *Store
}

func (r *historyRepo) Upsert(ctx context.Context, e HistoryEntry) error {
	var score any
	if e.Score != nil {
		score = *e.Score
	}

	b := r.store.sqlb().Insert("learning_history").
		Columns(historyColumns...).
		Values(
			e.OwnerID, e.SessionID, e.ProblemText, string(e.Status), score,
			e.Rounds, e.LearningMinutes, toMillis(e.StartedAt), toMillis(e.UpdatedAt),
		).
		OnConflict(
			entsql.ConflictColumns("owner_id", "session_id"),
			entsql.ResolveWith(func(u *entsql.UpdateSet) {
				u.SetExcluded("problem_text")
				u.SetExcluded("status")
				u.SetExcluded("rounds")
				u.SetExcluded("learning_minutes")
				u.SetExcluded("updated_at")
				if e.Score != nil {
					u.SetExcluded("score")
				}
			}),
		)
	if _, err := exec(ctx, r.store.db, b); err != nil {
		return fmt.Errorf("upsert history entry: %w", err)
	}
	return r.evict(ctx, e.OwnerID)
}

func (r *historyRepo) SetScore(ctx context.Context, ownerID, sessionID string, score int, at time.Time) error {
	b := r.store.sqlb().Update("learning_history").
		Set("score", score).
		Set("updated_at", toMillis(at)).
		Where(entsql.And(
			entsql.EQ("owner_id", ownerID),
			entsql.EQ("session_id", sessionID),
		))
	res, err := exec(ctx, r.store.db, b)
	if err != nil {
		return fmt.Errorf("set history score: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *historyRepo) List(ctx context.Context, ownerID string, limit int) ([]HistoryEntry, error) {
	if limit <= 0 || limit > HistoryCap {
		limit = HistoryCap
	}
	sel := r.store.sqlb().Select(historyColumns...).
		From(r.store.sqlb().Table("learning_history")).
		Where(entsql.EQ("owner_id", ownerID)).
		OrderBy(entsql.Desc("updated_at"), entsql.Desc("session_id")).
		Limit(limit)
	rows, err := queryRows(ctx, r.store.db, sel)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	out := []HistoryEntry{}
	for rows.Next() {
		var (
			e                  HistoryEntry
			status             string
			score              sql.NullInt64
			started, updatedAt int64
		)
		err := rows.Scan(
			&e.OwnerID, &e.SessionID, &e.ProblemText, &status, &score,
			&e.Rounds, &e.LearningMinutes, &started, &updatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan history entry: %w", err)
		}
		e.Status = SessionStatus(status)
		if score.Valid {
			v := int(score.Int64)
			e.Score = &v
		}
		e.StartedAt = fromMillis(started)
		e.UpdatedAt = fromMillis(updatedAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

// evict deletes the owner's entries beyond HistoryCap, oldest first.
func (r *historyRepo) evict(ctx context.Context, ownerID string) error {
	sel := r.store.sqlb().Select("session_id").
		From(r.store.sqlb().Table("learning_history")).
		Where(entsql.EQ("owner_id", ownerID)).
		OrderBy(entsql.Desc("updated_at"), entsql.Desc("session_id"))
	rows, err := queryRows(ctx, r.store.db, sel)
	if err != nil {
		return fmt.Errorf("query history ids: %w", err)
	}
	var stale []any
	for i := 0; rows.Next(); i++ {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return fmt.Errorf("scan history id: %w", err)
		}
		if i >= HistoryCap {
			stale = append(stale, id)
		}
	}
	// Close before the delete: SQLite has a single connection.
	if err := rows.Close(); err != nil {
		return err
	}
	if len(stale) == 0 {
		return nil
	}

	del := r.store.sqlb().Delete("learning_history").
		Where(entsql.And(
			entsql.EQ("owner_id", ownerID),
			entsql.In("session_id", stale...),
		))
	if _, err := exec(ctx, r.store.db, del); err != nil {
		return fmt.Errorf("evict history: %w", err)
	}
	return nil
}
