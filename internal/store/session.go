package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"
)

var sessionColumns = []string{
	"id", "owner_id", "problem_text", "analysis", "image_ref",
	"round", "total_rounds", "status", "completion_reason",
	"started_at", "ended_at", "updated_at",
}

var turnColumns = []string{"id", "session_id", "sequence", "role", "text", "round", "created_at"}

// sessionRepo implements SessionRepo. Turns live in their own append-only
// table and are loaded in sequence order.
type sessionRepo struct {
	store *Store
}

func (r *sessionRepo) Create(ctx context.Context, s *Session) (*Session, bool, error) {
	analysis, err := marshalJSON(s.Analysis, "{}")
	if err != nil {
		return nil, false, fmt.Errorf("encode analysis: %w", err)
	}

	b := r.store.sqlb().Insert("sessions").
		Columns(sessionColumns...).
		Values(
			s.ID, s.OwnerID, s.ProblemText, analysis, s.ImageRef,
			s.Round, s.TotalRounds, string(s.Status), s.CompletionReason,
			toMillis(s.StartedAt), toMillis(s.EndedAt), toMillis(s.UpdatedAt),
		).
		OnConflict(entsql.ConflictColumns("id"), entsql.DoNothing())
	res, err := exec(ctx, r.store.db, b)
	if err != nil {
		return nil, false, fmt.Errorf("insert session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("rows affected: %w", err)
	}

	stored, err := r.load(ctx, r.store.db, entsql.EQ("id", s.ID))
	if err != nil {
		return nil, false, err
	}
	return stored, n == 1, nil
}

func (r *sessionRepo) Get(ctx context.Context, id, ownerID string) (*Session, error) {
	return r.load(ctx, r.store.db, ownedBy(id, ownerID))
}

func (r *sessionRepo) AppendTurn(ctx context.Context, id, ownerID string, t Turn) (Turn, error) {
	err := r.store.inTx(ctx, func(tx *sql.Tx) error {
		sess, err := r.loadRow(ctx, tx, ownedBy(id, ownerID))
		if err != nil {
			return err
		}
		if sess.Status != StatusActive {
			return fmt.Errorf("append turn to %s session: %w", sess.Status, ErrConflict)
		}
		if t.Round == 0 {
			t.Round = sess.Round
		}
		if t.CreatedAt.IsZero() {
			t.CreatedAt = time.Now()
		}
		turns := []Turn{t}
		if err := r.insertTurns(ctx, tx, id, turns); err != nil {
			return err
		}
		t = turns[0]
		_, err = exec(ctx, tx, r.store.sqlb().Update("sessions").
			Set("updated_at", toMillis(t.CreatedAt)).
			Where(entsql.EQ("id", id)))
		return err
	})
	return t, err
}

func (r *sessionRepo) AppendOpening(ctx context.Context, id, ownerID string, t Turn) (Turn, error) {
	err := r.store.inTx(ctx, func(tx *sql.Tx) error {
		sess, err := r.loadRow(ctx, tx, ownedBy(id, ownerID))
		if err != nil {
			return err
		}
		if existing, err := r.firstAssistantTurn(ctx, tx, id); err != nil || existing != nil {
			if existing != nil {
				t = *existing
			}
			return err
		}
		if sess.Status != StatusActive {
			return fmt.Errorf("open %s session: %w", sess.Status, ErrConflict)
		}
		if t.CreatedAt.IsZero() {
			t.CreatedAt = time.Now()
		}
		t.ID = openingTurnID(id)
		turns := []Turn{t}
		// A concurrent opener that committed first wins the id.
		if err := r.insertTurns(ctx, tx, id, turns, entsql.ConflictColumns("id"), entsql.DoNothing()); err != nil {
			return err
		}
		stored, err := r.firstAssistantTurn(ctx, tx, id)
		if err != nil {
			return err
		}
		if stored == nil {
			return fmt.Errorf("opening turn of session %s missing after insert", id)
		}
		t = *stored
		_, err = exec(ctx, tx, r.store.sqlb().Update("sessions").
			Set("updated_at", toMillis(t.CreatedAt)).
			Where(entsql.EQ("id", id)))
		return err
	})
	return t, err
}

// openingTurnID is stable per session so that racing openers collide on the
// primary key.
func openingTurnID(sessionID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("mathbuddy:session:"+sessionID+":opening")).String()
}

func (r *sessionRepo) firstAssistantTurn(ctx context.Context, q querier, sessionID string) (*Turn, error) {
	sel := r.store.sqlb().Select("id", "sequence", "role", "text", "round", "created_at").
		From(r.store.sqlb().Table("session_turns")).
		Where(entsql.And(
			entsql.EQ("session_id", sessionID),
			entsql.EQ("role", string(RoleAssistant)),
		)).
		OrderBy("sequence").
		Limit(1)
	turns, err := r.scanTurns(ctx, q, sel)
	if err != nil || len(turns) == 0 {
		return nil, err
	}
	return &turns[0], nil
}

func (r *sessionRepo) AdvanceRound(ctx context.Context, id, ownerID string, at time.Time) (int, error) {
	b := r.store.sqlb().Update("sessions").
		Add("round", 1).
		Set("updated_at", toMillis(at)).
		Where(entsql.And(
			ownedBy(id, ownerID),
			entsql.EQ("status", string(StatusActive)),
			entsql.ColumnsLTE("round", "total_rounds"),
		)).
		Returning("round")

	var round int
	err := queryRow(ctx, r.store.db, b).Scan(&round)
	if err == nil {
		return round, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("advance round: %w", err)
	}
	// At the cap, no longer active, or not ours.
	sess, err := r.loadRow(ctx, r.store.db, ownedBy(id, ownerID))
	if err != nil {
		return 0, err
	}
	return sess.Round, nil
}

func (r *sessionRepo) SetStatus(ctx context.Context, id, ownerID string, status SessionStatus, reason string, at time.Time) error {
	b := r.store.sqlb().Update("sessions").
		Set("status", string(status)).
		Set("completion_reason", reason).
		Set("updated_at", toMillis(at)).
		Where(entsql.And(ownedBy(id, ownerID), entsql.EQ("status", string(StatusActive))))
	if status == StatusCompleted {
		b.Set("ended_at", toMillis(at))
	}

	res, err := exec(ctx, r.store.db, b)
	if err != nil {
		return fmt.Errorf("set session status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}
	if _, err := r.loadRow(ctx, r.store.db, ownedBy(id, ownerID)); err != nil {
		return err
	}
	return ErrConflict
}

func (r *sessionRepo) CommitRound(ctx context.Context, id, ownerID string, c RoundCommit) (*Session, error) {
	err := r.store.inTx(ctx, func(tx *sql.Tx) error {
		b := r.store.sqlb().Update("sessions").
			Add("round", 1).
			Set("updated_at", toMillis(c.At)).
			Where(entsql.And(
				ownedBy(id, ownerID),
				entsql.EQ("round", c.ExpectedRound),
				entsql.EQ("status", string(StatusActive)),
			))
		if c.Complete {
			b.Set("status", string(StatusCompleted)).
				Set("ended_at", toMillis(c.At)).
				Set("completion_reason", c.CompletionReason)
		}
		res, err := exec(ctx, tx, b)
		if err != nil {
			return fmt.Errorf("compare-and-swap round: %w", err)
		}
		if n, _ := res.RowsAffected(); n != 1 {
			if _, err := r.loadRow(ctx, tx, ownedBy(id, ownerID)); err != nil {
				return err
			}
			return ErrConflict
		}
		return r.insertTurns(ctx, tx, id, c.Turns)
	})
	if err != nil {
		return nil, err
	}
	return r.Get(ctx, id, ownerID)
}

func (r *sessionRepo) List(ctx context.Context, ownerID string, f SessionFilter) ([]Session, int, error) {
	preds := []*entsql.Predicate{entsql.EQ("owner_id", ownerID)}
	if f.Status != "" {
		preds = append(preds, entsql.EQ("status", string(f.Status)))
	}
	if !f.From.IsZero() {
		preds = append(preds, entsql.GTE("started_at", toMillis(f.From)))
	}
	if !f.To.IsZero() {
		preds = append(preds, entsql.LTE("started_at", toMillis(f.To)))
	}

	count := r.store.sqlb().Select(entsql.Count("*")).
		From(r.store.sqlb().Table("sessions")).
		Where(entsql.And(preds...))
	var total int64
	if err := queryRow(ctx, r.store.db, count).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count sessions: %w", err)
	}

	sel := r.store.sqlb().Select(sessionColumns...).
		From(r.store.sqlb().Table("sessions")).
		Where(entsql.And(preds...)).
		OrderBy(entsql.Desc("started_at"), entsql.Desc("id"))
	if f.Limit > 0 {
		sel.Limit(f.Limit)
	}
	if f.Offset > 0 {
		sel.Offset(f.Offset)
	}
	out, err := r.queryRows(ctx, sel)
	if err != nil {
		return nil, 0, err
	}
	return out, int(total), nil
}

func (r *sessionRepo) ListAll(ctx context.Context, ownerID string) ([]Session, error) {
	sel := r.store.sqlb().Select(sessionColumns...).
		From(r.store.sqlb().Table("sessions")).
		Where(entsql.EQ("owner_id", ownerID)).
		OrderBy(entsql.Desc("started_at"))
	return r.queryRows(ctx, sel)
}

func (r *sessionRepo) StaleActive(ctx context.Context, cutoff time.Time) ([]Session, error) {
	sel := r.store.sqlb().Select(sessionColumns...).
		From(r.store.sqlb().Table("sessions")).
		Where(entsql.And(
			entsql.EQ("status", string(StatusActive)),
			entsql.LT("updated_at", toMillis(cutoff)),
		)).
		OrderBy("updated_at")
	return r.queryRows(ctx, sel)
}

func ownedBy(id, ownerID string) *entsql.Predicate {
	return entsql.And(entsql.EQ("id", id), entsql.EQ("owner_id", ownerID))
}

// load reads one session row plus its turns.
func (r *sessionRepo) load(ctx context.Context, q querier, where *entsql.Predicate) (*Session, error) {
	sess, err := r.loadRow(ctx, q, where)
	if err != nil {
		return nil, err
	}
	turns, err := r.loadTurns(ctx, q, sess.ID)
	if err != nil {
		return nil, err
	}
	sess.Turns = turns
	return sess, nil
}

func (r *sessionRepo) loadRow(ctx context.Context, q querier, where *entsql.Predicate) (*Session, error) {
	sel := r.store.sqlb().Select(sessionColumns...).
		From(r.store.sqlb().Table("sessions")).
		Where(where)
	sess, err := scanSession(queryRow(ctx, q, sel))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return sess, nil
}

func (r *sessionRepo) loadTurns(ctx context.Context, q querier, sessionID string) ([]Turn, error) {
	sel := r.store.sqlb().Select("id", "sequence", "role", "text", "round", "created_at").
		From(r.store.sqlb().Table("session_turns")).
		Where(entsql.EQ("session_id", sessionID)).
		OrderBy("sequence")
	return r.scanTurns(ctx, q, sel)
}

func (r *sessionRepo) scanTurns(ctx context.Context, q querier, sel *entsql.Selector) ([]Turn, error) {
	rows, err := queryRows(ctx, q, sel)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer rows.Close()

	turns := []Turn{}
	for rows.Next() {
		var (
			t    Turn
			role string
			at   int64
		)
		if err := rows.Scan(&t.ID, &t.Sequence, &role, &t.Text, &t.Round, &at); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		t.Role = Role(role)
		t.CreatedAt = fromMillis(at)
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// insertTurns assigns ids and per-session sequence numbers, then writes the
// turns in one statement. It fills the assigned fields back into turns.
// The (session_id, sequence) unique index rejects a racing writer that read
// the same last sequence.
func (r *sessionRepo) insertTurns(ctx context.Context, q querier, sessionID string, turns []Turn, conflict ...entsql.ConflictOption) error {
	if len(turns) == 0 {
		return nil
	}
	var last sql.NullInt64
	maxSel := r.store.sqlb().Select(entsql.Max("sequence")).
		From(r.store.sqlb().Table("session_turns")).
		Where(entsql.EQ("session_id", sessionID))
	if err := queryRow(ctx, q, maxSel).Scan(&last); err != nil {
		return fmt.Errorf("last turn sequence: %w", err)
	}

	b := r.store.sqlb().Insert("session_turns").Columns(turnColumns...)
	next := int(last.Int64)
	for i := range turns {
		next++
		t := &turns[i]
		if t.ID == "" {
			t.ID = uuid.NewString()
		}
		t.Sequence = next
		b.Values(t.ID, sessionID, t.Sequence, string(t.Role), t.Text, t.Round, toMillis(t.CreatedAt))
	}
	if len(conflict) > 0 {
		b.OnConflict(conflict...)
	}
	if _, err := exec(ctx, q, b); err != nil {
		return fmt.Errorf("insert turns: %w", err)
	}
	return nil
}

func (r *sessionRepo) queryRows(ctx context.Context, sel *entsql.Selector) ([]Session, error) {
	rows, err := queryRows(ctx, r.store.db, sel)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

func scanSession(row rowScanner) (*Session, error) {
	var (
		s                         Session
		analysis, status          string
		started, ended, updatedAt int64
	)
	err := row.Scan(
		&s.ID, &s.OwnerID, &s.ProblemText, &analysis, &s.ImageRef,
		&s.Round, &s.TotalRounds, &status, &s.CompletionReason,
		&started, &ended, &updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}
	if err := unmarshalJSON(analysis, &s.Analysis); err != nil {
		return nil, fmt.Errorf("decode analysis of session %s: %w", s.ID, err)
	}
	s.Status = SessionStatus(status)
	s.StartedAt = fromMillis(started)
	s.EndedAt = fromMillis(ended)
	s.UpdatedAt = fromMillis(updatedAt)
	return &s, nil
}
