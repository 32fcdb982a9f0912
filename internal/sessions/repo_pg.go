package sessions

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

type PGRepo struct {
	DB *sql.DB
}

func (r *PGRepo) Create(ctx context.Context, s Session) error {
	const query = `
INSERT INTO dashboard_sessions (id, user_id, email, access_token, refresh_token, token_expiry, pending_plan, created_at, last_seen_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())`
	_, err := r.DB.ExecContext(ctx, query,
		s.ID,
		s.UserID,
		s.Email,
		s.AccessToken,
		s.RefreshToken,
		nullableTime(s.TokenExpiry),
		nullableString(s.PendingPlan),
	)
	return err
}

func (r *PGRepo) Get(ctx context.Context, id string) (Session, error) {
	const query = `
SELECT id, user_id, email, access_token, refresh_token, token_expiry, pending_plan, created_at, last_seen_at
FROM dashboard_sessions
WHERE id = $1
LIMIT 1`
	var s Session
	var expiry sql.NullTime
	var plan sql.NullString
	err := r.DB.QueryRowContext(ctx, query, id).Scan(
		&s.ID,
		&s.UserID,
		&s.Email,
		&s.AccessToken,
		&s.RefreshToken,
		&expiry,
		&plan,
		&s.CreatedAt,
		&s.LastSeenAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, ErrNotFound
		}
		return Session{}, err
	}
	if expiry.Valid {
		s.TokenExpiry = expiry.Time
	}
	if plan.Valid {
		s.PendingPlan = plan.String
	}
	return s, nil
}

func (r *PGRepo) UpdateCredential(ctx context.Context, id, accessToken, refreshToken string, expiry time.Time) error {
	const query = `
UPDATE dashboard_sessions
SET access_token = $2, refresh_token = $3, token_expiry = $4
WHERE id = $1`
	return r.execOne(ctx, query, id, accessToken, refreshToken, nullableTime(expiry))
}

func (r *PGRepo) Touch(ctx context.Context, id string, at time.Time) error {
	const query = `UPDATE dashboard_sessions SET last_seen_at = $2 WHERE id = $1`
	return r.execOne(ctx, query, id, at)
}

func (r *PGRepo) ClearPendingPlan(ctx context.Context, id string) error {
	const query = `UPDATE dashboard_sessions SET pending_plan = NULL WHERE id = $1`
	return r.execOne(ctx, query, id)
}

func (r *PGRepo) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM dashboard_sessions WHERE id = $1`
	_, err := r.DB.ExecContext(ctx, query, id)
	return err
}

func (r *PGRepo) DeleteIdle(ctx context.Context, before time.Time) (int64, error) {
	const query = `DELETE FROM dashboard_sessions WHERE last_seen_at < $1`
	res, err := r.DB.ExecContext(ctx, query, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *PGRepo) execOne(ctx context.Context, query string, args ...any) error {
	res, err := r.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value time.Time) any {
	if value.IsZero() {
		return nil
	}
	return value
}
