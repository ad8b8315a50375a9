package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	entsql "entgo.io/ent/dialect/sql"
)

// userRepo implements UserRepo. Rows are created lazily by upsert and never
// deleted.
type userRepo struct {
	store *Store
}

func (r *userRepo) Sync(ctx context.Context, id, achievement string, at time.Time) error {
	b := r.store.sqlb().Insert("users").
		Columns("id", "achievement", "sync_count", "created_at", "updated_at").
		Values(id, achievement, 1, toMillis(at), toMillis(at)).
		OnConflict(
			entsql.ConflictColumns("id"),
			entsql.ResolveWith(func(u *entsql.UpdateSet) {
				u.SetExcluded("achievement")
				u.SetExcluded("updated_at")
				u.Add("sync_count", 1)
			}),
		)
	if _, err := exec(ctx, r.store.db, b); err != nil {
		return fmt.Errorf("sync user: %w", err)
	}
	return nil
}

func (r *userRepo) UpdateProfile(ctx context.Context, id string, p ProfilePatch, at time.Time) (*User, error) {
	err := r.store.inTx(ctx, func(tx *sql.Tx) error {
		ins := r.store.sqlb().Insert("users").
			Columns("id", "created_at", "updated_at").
			Values(id, toMillis(at), toMillis(at)).
			OnConflict(entsql.ConflictColumns("id"), entsql.DoNothing())
		if _, err := exec(ctx, tx, ins); err != nil {
			return fmt.Errorf("ensure user: %w", err)
		}

		upd := r.store.sqlb().Update("users").
			Set("updated_at", toMillis(at)).
			Where(entsql.EQ("id", id))
		if p.Nickname != nil {
			upd.Set("nickname", *p.Nickname)
		}
		if p.AvatarRef != nil {
			upd.Set("avatar_ref", *p.AvatarRef)
		}
		if p.Settings != nil {
			settings, err := marshalJSON(p.Settings, "{}")
			if err != nil {
				return fmt.Errorf("encode settings: %w", err)
			}
			upd.Set("settings", settings)
		}
		if _, err := exec(ctx, tx, upd); err != nil {
			return fmt.Errorf("update profile: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r.Get(ctx, id)
}

func (r *userRepo) Get(ctx context.Context, id string) (*User, error) {
	sel := r.store.sqlb().
		Select("id", "nickname", "avatar_ref", "settings", "achievement", "sync_count", "created_at", "updated_at").
		From(r.store.sqlb().Table("users")).
		Where(entsql.EQ("id", id))

	var (
		u                  User
		settings           string
		created, updatedAt int64
	)
	err := queryRow(ctx, r.store.db, sel).Scan(
		&u.ID, &u.Nickname, &u.AvatarRef, &settings, &u.Achievement, &u.SyncCount, &created, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}
	if err := unmarshalJSON(settings, &u.Settings); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}
	u.CreatedAt = fromMillis(created)
	u.UpdatedAt = fromMillis(updatedAt)
	return &u, nil
}
