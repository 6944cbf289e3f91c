package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"parkrow.org/internal/auth"
)

type principalStore struct {
	db *sql.DB
}

const principalColumns = `id, username, email, first_name, last_name, password_hash, role,
	overrides, active, token_version, last_login_at, coalesce(last_login_ip, ''),
	created_at, updated_at`

func (s *principalStore) Create(ctx context.Context, p *auth.Principal) error {
	overrides, err := marshalOverrides(p.Overrides)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		insert into principals (id, username, email, first_name, last_name, password_hash, role, overrides, active, token_version)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, p.ID, p.Username, p.Email, p.FirstName, p.LastName, p.PasswordHash, string(p.Role), overrides, p.Active, p.TokenVersion)
	return mapErr(err)
}

func (s *principalStore) Find(ctx context.Context, id string) (*auth.Principal, error) {
	row := s.db.QueryRowContext(ctx, `
		select `+principalColumns+`
		from principals
		where id = $1
	`, id)
	return scanPrincipal(row)
}

func (s *principalStore) FindByUsername(ctx context.Context, username string) (*auth.Principal, error) {
	row := s.db.QueryRowContext(ctx, `
		select `+principalColumns+`
		from principals
		where lower(username) = lower($1)
	`, username)
	return scanPrincipal(row)
}

func (s *principalStore) List(ctx context.Context) ([]*auth.Principal, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+principalColumns+`
		from principals
		order by username
	`)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var result []*auth.Principal
	for rows.Next() {
		p, err := scanPrincipal(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr(err)
	}
	return result, nil
}

func (s *principalStore) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	return s.exec(ctx, `
		update principals set password_hash = $2, updated_at = now()
		where id = $1
	`, id, passwordHash)
}

func (s *principalStore) UpdateLastLogin(ctx context.Context, id string, at time.Time, ip string) error {
	return s.exec(ctx, `
		update principals set last_login_at = $2, last_login_ip = nullif($3, '')
		where id = $1
	`, id, at, ip)
}

func (s *principalStore) SetOverrides(ctx context.Context, id string, overrides auth.OverrideMap) error {
	raw, err := marshalOverrides(overrides)
	if err != nil {
		return err
	}
	return s.exec(ctx, `
		update principals set overrides = $2, updated_at = now()
		where id = $1
	`, id, raw)
}

func (s *principalStore) SetActive(ctx context.Context, id string, active bool) error {
	return s.exec(ctx, `
		update principals set active = $2, updated_at = now()
		where id = $1
	`, id, active)
}

func (s *principalStore) IncrementTokenVersion(ctx context.Context, id string) (int, error) {
	var version int
	err := s.db.QueryRowContext(ctx, `
		update principals set token_version = token_version + 1, updated_at = now()
		where id = $1
		returning token_version
	`, id).Scan(&version)
	if err != nil {
		return 0, mapErr(err)
	}
	return version, nil
}

func (s *principalStore) exec(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
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

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPrincipal(row rowScanner) (*auth.Principal, error) {
	var (
		p         auth.Principal
		role      string
		overrides []byte
		lastLogin sql.NullTime
	)
	err := row.Scan(&p.ID, &p.Username, &p.Email, &p.FirstName, &p.LastName, &p.PasswordHash, &role,
		&overrides, &p.Active, &p.TokenVersion, &lastLogin, &p.LastLoginIP,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	p.Role = auth.Role(role)
	if len(overrides) > 0 {
		if err := json.Unmarshal(overrides, &p.Overrides); err != nil {
			return nil, fmt.Errorf("decode overrides: %w", err)
		}
	}
	if lastLogin.Valid {
		t := lastLogin.Time
		p.LastLoginAt = &t
	}
	return &p, nil
}

// marshalOverrides keeps the column null when no override map is set, so the
// "absent" and "empty" states stay distinguishable.
func marshalOverrides(m auth.OverrideMap) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal overrides: %w", err)
	}
	return raw, nil
}
