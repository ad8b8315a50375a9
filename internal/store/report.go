package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	entsql "entgo.io/ent/dialect/sql"
)

// reportRepo implements ReportRepo. The full report is kept as a JSON
// document; score and source are duplicated into columns for aggregation.
type reportRepo struct {
	store *Store
}

func (r *reportRepo) CreateIfAbsent(ctx context.Context, rep *Report) (*Report, bool, error) {
	body, err := json.Marshal(rep)
	if err != nil {
		return nil, false, fmt.Errorf("encode report: %w", err)
	}

	b := r.store.sqlb().Insert("reports").
		Columns("session_id", "owner_id", "score", "source", "body", "generated_at").
		Values(rep.SessionID, rep.OwnerID, rep.Score, string(rep.Source), string(body), toMillis(rep.GeneratedAt)).
		OnConflict(entsql.ConflictColumns("session_id"), entsql.DoNothing())
	res, err := exec(ctx, r.store.db, b)
	if err != nil {
		return nil, false, fmt.Errorf("insert report: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("rows affected: %w", err)
	}

	stored, err := r.load(ctx, entsql.EQ("session_id", rep.SessionID))
	if err != nil {
		return nil, false, err
	}
	return stored, n == 1, nil
}

func (r *reportRepo) Get(ctx context.Context, sessionID, ownerID string) (*Report, error) {
	return r.load(ctx, entsql.And(
		entsql.EQ("session_id", sessionID),
		entsql.EQ("owner_id", ownerID),
	))
}

func (r *reportRepo) Scores(ctx context.Context, ownerID string) (map[string]int, error) {
	sel := r.store.sqlb().Select("session_id", "score").
		From(r.store.sqlb().Table("reports")).
		Where(entsql.EQ("owner_id", ownerID))
	rows, err := queryRows(ctx, r.store.db, sel)
	if err != nil {
		return nil, fmt.Errorf("query report scores: %w", err)
	}
	defer rows.Close()

	scores := make(map[string]int)
	for rows.Next() {
		var (
			id    string
			score int
		)
		if err := rows.Scan(&id, &score); err != nil {
			return nil, fmt.Errorf("scan report score: %w", err)
		}
		scores[id] = score
	}
	return scores, rows.Err()
}

func (r *reportRepo) load(ctx context.Context, where *entsql.Predicate) (*Report, error) {
	sel := r.store.sqlb().Select("body").
		From(r.store.sqlb().Table("reports")).
		Where(where)
	var body string
	if err := queryRow(ctx, r.store.db, sel).Scan(&body); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query report: %w", err)
	}
	var rep Report
	if err := json.Unmarshal([]byte(body), &rep); err != nil {
		return nil, fmt.Errorf("decode report: %w", err)
	}
	return &rep, nil
}
