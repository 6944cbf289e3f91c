package auth

import (
	"context"
	"time"
)

// Store describes persistence operations required by the auth subsystem.
type Store interface {
	Principals() PrincipalStore
	Sessions() SessionStore
	Activity() ActivityStore
}

// PrincipalStore manages administrative identities. Implementations return
// ErrNotFound for definitive misses and wrap connectivity failures with
// ErrUnavailable.
type PrincipalStore interface {
	Create(ctx context.Context, p *Principal) error
	Find(ctx context.Context, id string) (*Principal, error)
	FindByUsername(ctx context.Context, username string) (*Principal, error)
	List(ctx context.Context) ([]*Principal, error)
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	UpdateLastLogin(ctx context.Context, id string, at time.Time, ip string) error
	SetOverrides(ctx context.Context, id string, overrides OverrideMap) error
	SetActive(ctx context.Context, id string, active bool) error
	// IncrementTokenVersion atomically bumps the counter and returns the new
	// value. One increment invalidates every outstanding token at once.
	IncrementTokenVersion(ctx context.Context, id string) (int, error)
}

// SessionStore manages one row per login.
type SessionStore interface {
	Create(ctx context.Context, s *Session) error
	FindActiveByTokenHash(ctx context.Context, tokenHash string) (*Session, error)
	ListByPrincipal(ctx context.Context, principalID string) ([]Session, error)
	// Revoke sets active=false; calling it twice is not an error.
	Revoke(ctx context.Context, id string) error
	// Touch updates last-activity. Callers treat failures as best-effort.
	Touch(ctx context.Context, id string, at time.Time) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// ActivityStore appends and queries immutable audit records.
type ActivityStore interface {
	Append(ctx context.Context, rec *ActivityRecord) error
	List(ctx context.Context, filter ActivityFilter) ([]ActivityRecord, error)
	CountByAction(ctx context.Context, from, to time.Time) (map[string]int64, error)
	TopActors(ctx context.Context, from, to time.Time, limit int) ([]ActorCount, error)
}
