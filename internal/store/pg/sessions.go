package pg

import (
	"context"
	"database/sql"
	"time"

	"parkrow.org/internal/auth"
)

type sessionStore struct {
	db *sql.DB
}

const sessionColumns = `id, principal_id, token_hash, coalesce(device_info, ''), coalesce(ip_address, ''),
	active, issued_at, expires_at, last_activity_at`

func (s *sessionStore) Create(ctx context.Context, sess *auth.Session) error {
	_, err := s.db.ExecContext(ctx, `
		insert into sessions (id, principal_id, token_hash, device_info, ip_address, active, issued_at, expires_at, last_activity_at)
		values ($1, $2, $3, nullif($4, ''), nullif($5, ''), $6, $7, $8, $9)
	`, sess.ID, sess.PrincipalID, sess.TokenHash, sess.DeviceInfo, sess.IPAddress, sess.Active, sess.IssuedAt, sess.ExpiresAt, sess.LastActivityAt)
	return mapErr(err)
}

func (s *sessionStore) FindActiveByTokenHash(ctx context.Context, tokenHash string) (*auth.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		select `+sessionColumns+`
		from sessions
		where token_hash = $1 and active
	`, tokenHash)
	return scanSession(row)
}

func (s *sessionStore) ListByPrincipal(ctx context.Context, principalID string) ([]auth.Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+sessionColumns+`
		from sessions
		where principal_id = $1
		order by issued_at desc
	`, principalID)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var result []auth.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *sess)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr(err)
	}
	return result, nil
}

func (s *sessionStore) Revoke(ctx context.Context, id string) error {
	// Revoking an unknown or already-revoked session is not an error.
	_, err := s.db.ExecContext(ctx, `
		update sessions set active = false
		where id = $1
	`, id)
	return mapErr(err)
}

func (s *sessionStore) Touch(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		update sessions set last_activity_at = $2
		where id = $1
	`, id, at)
	if err != nil {
		return mapErr(err)
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return mapErr(err)
	}
	if aff == 0 {
		return auth.ErrNotFound
	}
	return nil
}

func (s *sessionStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		delete from sessions
		where expires_at < $1
	`, now)
	if err != nil {
		return 0, mapErr(err)
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return 0, mapErr(err)
	}
	return aff, nil
}

func scanSession(row rowScanner) (*auth.Session, error) {
	var sess auth.Session
	err := row.Scan(&sess.ID, &sess.PrincipalID, &sess.TokenHash, &sess.DeviceInfo, &sess.IPAddress,
		&sess.Active, &sess.IssuedAt, &sess.ExpiresAt, &sess.LastActivityAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &sess, nil
}
