// Package memory implements auth.Store entirely in process. It backs the dev
// mode of cmd/api (no DSN configured) and the handler test suites.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"parkrow.org/internal/auth"
	"parkrow.org/internal/ids"
)

// Store is a mutex-guarded in-memory auth.Store.
type Store struct {
	mu         sync.RWMutex
	principals map[string]*auth.Principal
	sessions   map[string]*auth.Session
	activity   []auth.ActivityRecord

	// Unavailable makes every principal lookup fail with auth.ErrUnavailable,
	// simulating a datastore outage for break-glass tests.
	Unavailable bool
}

var _ auth.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		principals: make(map[string]*auth.Principal),
		sessions:   make(map[string]*auth.Session),
	}
}

func (s *Store) Principals() auth.PrincipalStore { return (*principalStore)(s) }
func (s *Store) Sessions() auth.SessionStore     { return (*sessionStore)(s) }
func (s *Store) Activity() auth.ActivityStore    { return (*activityStore)(s) }

// Principal store -----------------------------------------------------------

type principalStore Store

func (s *principalStore) Create(ctx context.Context, p *auth.Principal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Unavailable {
		return auth.ErrUnavailable
	}
	if p.ID == "" {
		p.ID = ids.Prefixed("adm")
	}
	for _, existing := range s.principals {
		if strings.EqualFold(existing.Username, p.Username) || strings.EqualFold(existing.Email, p.Email) {
			return auth.ErrConflict
		}
	}
	cp := clonePrincipal(p)
	s.principals[p.ID] = cp
	return nil
}

func (s *principalStore) Find(ctx context.Context, id string) (*auth.Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.Unavailable {
		return nil, auth.ErrUnavailable
	}
	p, ok := s.principals[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return clonePrincipal(p), nil
}

func (s *principalStore) FindByUsername(ctx context.Context, username string) (*auth.Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.Unavailable {
		return nil, auth.ErrUnavailable
	}
	for _, p := range s.principals {
		if strings.EqualFold(p.Username, username) {
			return clonePrincipal(p), nil
		}
	}
	return nil, auth.ErrNotFound
}

func (s *principalStore) List(ctx context.Context) ([]*auth.Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.Unavailable {
		return nil, auth.ErrUnavailable
	}
	out := make([]*auth.Principal, 0, len(s.principals))
	for _, p := range s.principals {
		out = append(out, clonePrincipal(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *principalStore) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	return s.update(id, func(p *auth.Principal) {
		p.PasswordHash = passwordHash
		p.UpdatedAt = time.Now().UTC()
	})
}

func (s *principalStore) UpdateLastLogin(ctx context.Context, id string, at time.Time, ip string) error {
	return s.update(id, func(p *auth.Principal) {
		t := at
		p.LastLoginAt = &t
		p.LastLoginIP = ip
	})
}

func (s *principalStore) SetOverrides(ctx context.Context, id string, overrides auth.OverrideMap) error {
	return s.update(id, func(p *auth.Principal) {
		p.Overrides = cloneOverrides(overrides)
		p.UpdatedAt = time.Now().UTC()
	})
}

func (s *principalStore) SetActive(ctx context.Context, id string, active bool) error {
	return s.update(id, func(p *auth.Principal) {
		p.Active = active
		p.UpdatedAt = time.Now().UTC()
	})
}

func (s *principalStore) IncrementTokenVersion(ctx context.Context, id string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Unavailable {
		return 0, auth.ErrUnavailable
	}
	p, ok := s.principals[id]
	if !ok {
		return 0, auth.ErrNotFound
	}
	p.TokenVersion++
	return p.TokenVersion, nil
}

func (s *principalStore) update(id string, fn func(*auth.Principal)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Unavailable {
		return auth.ErrUnavailable
	}
	p, ok := s.principals[id]
	if !ok {
		return auth.ErrNotFound
	}
	fn(p)
	return nil
}

// Session store -------------------------------------------------------------

type sessionStore Store

func (s *sessionStore) Create(ctx context.Context, sess *auth.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess.ID == "" {
		sess.ID = ids.Prefixed("ses")
	}
	cp := *sess
	s.sessions[sess.ID] = &cp
	return nil
}

func (s *sessionStore) FindActiveByTokenHash(ctx context.Context, tokenHash string) (*auth.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sess := range s.sessions {
		if sess.TokenHash == tokenHash && sess.Active {
			cp := *sess
			return &cp, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (s *sessionStore) ListByPrincipal(ctx context.Context, principalID string) ([]auth.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []auth.Session
	for _, sess := range s.sessions {
		if sess.PrincipalID == principalID {
			out = append(out, *sess)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IssuedAt.After(out[j].IssuedAt) })
	return out, nil
}

func (s *sessionStore) Revoke(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil
	}
	sess.Active = false
	return nil
}

func (s *sessionStore) Touch(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return auth.ErrNotFound
	}
	sess.LastActivityAt = at
	return nil
}

func (s *sessionStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, sess := range s.sessions {
		if sess.Expired(now) {
			delete(s.sessions, id)
			n++
		}
	}
	return n, nil
}

// Activity store ------------------------------------------------------------

type activityStore Store

func (s *activityStore) Append(ctx context.Context, rec *auth.ActivityRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.ID == "" {
		rec.ID = ids.Prefixed("act")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	s.activity = append(s.activity, *rec)
	return nil
}

func (s *activityStore) List(ctx context.Context, filter auth.ActivityFilter) ([]auth.ActivityRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	var out []auth.ActivityRecord
	for i := len(s.activity) - 1; i >= 0 && len(out) < limit; i-- {
		rec := s.activity[i]
		if !matches(rec, filter) {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *activityStore) CountByAction(ctx context.Context, from, to time.Time) (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[string]int64)
	for _, rec := range s.activity {
		if inRange(rec.CreatedAt, from, to) {
			counts[rec.Action]++
		}
	}
	return counts, nil
}

func (s *activityStore) TopActors(ctx context.Context, from, to time.Time, limit int) ([]auth.ActorCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[string]int64)
	for _, rec := range s.activity {
		if inRange(rec.CreatedAt, from, to) {
			counts[rec.PrincipalID]++
		}
	}
	out := make([]auth.ActorCount, 0, len(counts))
	for id, n := range counts {
		out = append(out, auth.ActorCount{PrincipalID: id, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].PrincipalID < out[j].PrincipalID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func matches(rec auth.ActivityRecord, filter auth.ActivityFilter) bool {
	if filter.PrincipalID != "" && rec.PrincipalID != filter.PrincipalID {
		return false
	}
	if filter.Action != "" && rec.Action != filter.Action {
		return false
	}
	return inRange(rec.CreatedAt, filter.From, filter.To)
}

func inRange(at, from, to time.Time) bool {
	if !from.IsZero() && at.Before(from) {
		return false
	}
	if !to.IsZero() && at.After(to) {
		return false
	}
	return true
}

func clonePrincipal(p *auth.Principal) *auth.Principal {
	cp := *p
	cp.Overrides = cloneOverrides(p.Overrides)
	if p.LastLoginAt != nil {
		t := *p.LastLoginAt
		cp.LastLoginAt = &t
	}
	return &cp
}

func cloneOverrides(m auth.OverrideMap) auth.OverrideMap {
	if m == nil {
		return nil
	}
	out := make(auth.OverrideMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
