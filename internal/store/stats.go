package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	entsql "entgo.io/ent/dialect/sql"
)

// statsRepo implements StatsRepo. Stats are a cache and are overwritten
// whole on every recompute.
type statsRepo struct {
	store *Store
}

func (r *statsRepo) Put(ctx context.Context, s *UserStats) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode stats: %w", err)
	}
	b := r.store.sqlb().Insert("user_stats").
		Columns("owner_id", "data", "computed_at").
		Values(s.OwnerID, string(data), toMillis(s.ComputedAt)).
		OnConflict(entsql.ConflictColumns("owner_id"), entsql.ResolveWithNewValues())
	if _, err := exec(ctx, r.store.db, b); err != nil {
		return fmt.Errorf("upsert stats: %w", err)
	}
	return nil
}

func (r *statsRepo) Get(ctx context.Context, ownerID string) (*UserStats, error) {
	sel := r.store.sqlb().Select("data").
		From(r.store.sqlb().Table("user_stats")).
		Where(entsql.EQ("owner_id", ownerID))
	var data string
	if err := queryRow(ctx, r.store.db, sel).Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query stats: %w", err)
	}
	var s UserStats
	if err := json.Unmarshal([]byte(data), &s); err != nil {
		return nil, fmt.Errorf("decode stats: %w", err)
	}
	s.OwnerID = ownerID
	return &s, nil
}
