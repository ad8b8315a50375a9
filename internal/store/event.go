package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	entsql "entgo.io/ent/dialect/sql"
)

// sequenceCounter hands out the global monotonic sequence shared by the
// behavior and LLM event tables, so events of both kinds can be ordered
// against each other.
//
// The mutex serializes within the process; the RETURNING clause makes the
// increment atomic at the database level. Callers must take a number before
// opening a transaction: SQLite runs on a single connection and a nested
// request would block forever.
type sequenceCounter struct {
	mu sync.Mutex
	db *sql.DB
}

func newSequenceCounter(db *sql.DB) (*sequenceCounter, error) {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS global_sequence (
		id       INTEGER PRIMARY KEY CHECK (id = 1),
		next_val BIGINT NOT NULL DEFAULT 1
	)`)
	if err != nil {
		return nil, fmt.Errorf("create sequence table: %w", err)
	}

	_, err = db.Exec(`INSERT INTO global_sequence (id, next_val) VALUES (1, 1) ON CONFLICT (id) DO NOTHING`)
	if err != nil {
		return nil, fmt.Errorf("seed sequence: %w", err)
	}

	return &sequenceCounter{db: db}, nil
}

// Next atomically returns the next sequence number and increments the counter.
func (sc *sequenceCounter) Next(ctx context.Context) (int64, error) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	var seq int64
	err := sc.db.QueryRowContext(ctx,
		`UPDATE global_sequence SET next_val = next_val + 1 WHERE id = 1 RETURNING next_val - 1`,
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("next sequence: %w", err)
	}
	return seq, nil
}

// eventRepo implements EventRepo over the behavior and LLM event tables.
type eventRepo struct {
	store *Store
	seq   *sequenceCounter
}

func (r *eventRepo) AppendBehavior(ctx context.Context, e BehaviorEvent) (int64, error) {
	seqNum, err := r.seq.Next(ctx)
	if err != nil {
		return 0, err
	}
	payload, err := marshalJSON(e.Payload, "{}")
	if err != nil {
		return 0, fmt.Errorf("encode payload: %w", err)
	}

	b := r.store.sqlb().Insert("behavior_events").
		Columns("sequence", "timestamp", "owner_id", "session_id", "type", "payload").
		Values(seqNum, toMillis(e.Timestamp), e.OwnerID, e.SessionID, e.Type, payload)
	if _, err := exec(ctx, r.store.db, b); err != nil {
		return 0, fmt.Errorf("save behavior event: %w", err)
	}
	return seqNum, nil
}

func (r *eventRepo) QueryBehavior(ctx context.Context, opts QueryOpts) ([]BehaviorEvent, error) {
	sel := r.store.sqlb().
		Select("sequence", "timestamp", "owner_id", "session_id", "type", "payload").
		From(r.store.sqlb().Table("behavior_events"))
	preds := eventPredicates(opts)
	if opts.OwnerID != "" {
		preds = append(preds, entsql.EQ("owner_id", opts.OwnerID))
	}
	if len(preds) > 0 {
		sel.Where(entsql.And(preds...))
	}
	sel.OrderBy("sequence")
	if opts.Limit > 0 {
		sel.Limit(opts.Limit)
	}

	rows, err := queryRows(ctx, r.store.db, sel)
	if err != nil {
		return nil, fmt.Errorf("query behavior events: %w", err)
	}
	defer rows.Close()

	var out []BehaviorEvent
	for rows.Next() {
		var (
			e       BehaviorEvent
			ts      int64
			payload string
		)
		if err := rows.Scan(&e.Sequence, &ts, &e.OwnerID, &e.SessionID, &e.Type, &payload); err != nil {
			return nil, fmt.Errorf("scan behavior event: %w", err)
		}
		e.Timestamp = fromMillis(ts)
		if err := unmarshalJSON(payload, &e.Payload); err != nil {
			return nil, fmt.Errorf("decode payload of event %d: %w", e.Sequence, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// eventPredicates translates the shared sequence and time window options.
func eventPredicates(opts QueryOpts) []*entsql.Predicate {
	var preds []*entsql.Predicate
	if opts.After > 0 {
		preds = append(preds, entsql.GT("sequence", opts.After))
	}
	if opts.Before > 0 {
		preds = append(preds, entsql.LT("sequence", opts.Before))
	}
	if !opts.From.IsZero() {
		preds = append(preds, entsql.GTE("timestamp", toMillis(opts.From)))
	}
	if !opts.To.IsZero() {
		preds = append(preds, entsql.LTE("timestamp", toMillis(opts.To)))
	}
	return preds
}
