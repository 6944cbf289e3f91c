package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"parkrow.org/internal/ids"
)

const (
	defaultAccessTTL  = 7 * 24 * time.Hour
	defaultRefreshTTL = 30 * 24 * time.Hour

	// BreakGlassID is the synthetic principal id used by the break-glass
	// account. It never exists in the datastore.
	BreakGlassID = "break-glass"
)

// dummyHash is compared against when the username does not exist, so that
// login latency does not reveal whether the failure was the username or the
// password.
var dummyHash, _ = HashPassword("parkrow-timing-equalizer")

// Recorder appends activity records fire-and-forget. A failure to record must
// never fail the action being described, so the interface returns nothing.
type Recorder interface {
	Record(ctx context.Context, rec *ActivityRecord)
}

// Device captures the client fingerprint persisted with each session.
type Device struct {
	IPAddress string
	UserAgent string
}

// LoginResult carries everything the HTTP layer needs to answer a successful
// login or refresh.
type LoginResult struct {
	Principal        *Principal
	Permissions      OverrideMap
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
	Session          *Session
	BreakGlass       bool
}

// BreakGlass is the explicitly configured availability fallback: a single
// account checked only when the datastore is unreachable. The digest comes
// from configuration, never from source.
type BreakGlass struct {
	Username     string
	PasswordHash string
}

// Service orchestrates credential verification, sessions and revocation.
type Service struct {
	store      Store
	signer     *Signer
	recorder   Recorder
	now        func() time.Time
	accessTTL  time.Duration
	refreshTTL time.Duration
	breakGlass *BreakGlass
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.accessTTL = ttl
		}
		return nil
	}
}

// WithRefreshTTL configures refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.refreshTTL = ttl
		}
		return nil
	}
}

// WithBreakGlass enables the break-glass account. Both values are required;
// the hash must be a bcrypt digest.
func WithBreakGlass(username, passwordHash string) ServiceOption {
	return func(s *Service) error {
		username = strings.TrimSpace(username)
		passwordHash = strings.TrimSpace(passwordHash)
		if username == "" || passwordHash == "" {
			return errors.New("auth: break-glass requires both username and password hash")
		}
		s.breakGlass = &BreakGlass{Username: username, PasswordHash: passwordHash}
		return nil
	}
}

// WithRecorder wires the best-effort activity recorder.
func WithRecorder(r Recorder) ServiceOption {
	return func(s *Service) error {
		s.recorder = r
		return nil
	}
}

// NewService constructs a Service.
func NewService(store Store, signer *Signer, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	if signer == nil {
		return nil, errors.New("auth: signer is required")
	}
	svc := &Service{
		store:      store,
		signer:     signer,
		now:        time.Now,
		accessTTL:  defaultAccessTTL,
		refreshTTL: defaultRefreshTTL,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	return svc, nil
}

// AccessTTL exposes the configured access token lifetime for cookie Max-Age.
func (s *Service) AccessTTL() time.Duration { return s.accessTTL }

// RefreshTTL exposes the configured refresh token lifetime for cookie Max-Age.
func (s *Service) RefreshTTL() time.Duration { return s.refreshTTL }

// HashToken computes the SHA-256 hash of a raw token for session storage.
// Raw tokens are never stored.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// Login verifies credentials and issues a fresh token pair plus a session.
// Every credential failure returns ErrUnauthenticated without distinguishing
// whether the username or the password was wrong.
func (s *Service) Login(ctx context.Context, username, password string, device Device) (*LoginResult, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, ErrUnauthenticated
	}

	principal, err := s.store.Principals().FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrUnavailable) {
			return s.tryBreakGlass(ctx, username, password, device)
		}
		// Burn a comparison so a missing username costs the same as a
		// wrong password.
		_ = VerifyPassword(dummyHash, password)
		return nil, ErrUnauthenticated
	}
	if !principal.Active {
		return nil, ErrUnauthenticated
	}
	if err := VerifyPassword(principal.PasswordHash, password); err != nil {
		return nil, ErrUnauthenticated
	}

	result, err := s.issue(ctx, principal, device)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	if err := s.store.Principals().UpdateLastLogin(ctx, principal.ID, now, device.IPAddress); err == nil {
		principal.LastLoginAt = &now
		principal.LastLoginIP = device.IPAddress
	}
	s.record(ctx, principal.ID, ActivityLogin, "", "", nil, device)
	return result, nil
}

// Refresh exchanges a valid refresh token for a new token pair and session.
func (s *Service) Refresh(ctx context.Context, rawRefresh string, device Device) (*LoginResult, error) {
	claims, err := s.signer.Verify(rawRefresh, TokenTypeRefresh)
	if err != nil {
		return nil, ErrUnauthenticated
	}
	principal, err := s.loadActive(ctx, claims.Subject, claims.TokenVersion)
	if err != nil {
		return nil, err
	}
	result, err := s.issue(ctx, principal, device)
	if err != nil {
		return nil, err
	}
	s.record(ctx, principal.ID, ActivityRefresh, "", "", nil, device)
	return result, nil
}

// Authenticate validates an access token against live principal state. It is
// the middleware core: verify signature/expiry, load the principal, check the
// active flag and compare token versions. The session touch is best-effort.
func (s *Service) Authenticate(ctx context.Context, rawAccess string) (Identity, error) {
	claims, err := s.signer.Verify(rawAccess, TokenTypeAccess)
	if err != nil {
		return Identity{}, ErrUnauthenticated
	}

	if claims.Subject == BreakGlassID {
		if s.breakGlass == nil || claims.TokenVersion != 0 {
			return Identity{}, ErrUnauthenticated
		}
		p := s.breakGlassPrincipal()
		return Identity{
			Principal:   p,
			Permissions: ResolvedPermissions(p.Role, nil),
			SessionHash: HashToken(rawAccess),
			BreakGlass:  true,
		}, nil
	}

	principal, err := s.loadActive(ctx, claims.Subject, claims.TokenVersion)
	if err != nil {
		return Identity{}, err
	}

	hash := HashToken(rawAccess)
	s.touchSession(ctx, hash)

	return Identity{
		Principal:   principal,
		Permissions: ResolvedPermissions(principal.Role, principal.Overrides),
		SessionHash: hash,
	}, nil
}

// Logout revokes the caller's credentials globally: the principal's token
// version is incremented, invalidating every outstanding token at once. The
// session row is additionally marked inactive for the audit trail, but token
// validity is decided solely by the version counter.
func (s *Service) Logout(ctx context.Context, identity Identity, device Device) error {
	if identity.Principal == nil {
		return ErrUnauthenticated
	}
	if identity.BreakGlass {
		// No datastore row to update; the token simply expires.
		return nil
	}
	if _, err := s.store.Principals().IncrementTokenVersion(ctx, identity.Principal.ID); err != nil {
		return err
	}
	if identity.SessionHash != "" {
		if sess, err := s.store.Sessions().FindActiveByTokenHash(ctx, identity.SessionHash); err == nil {
			_ = s.store.Sessions().Revoke(ctx, sess.ID)
		}
	}
	s.record(ctx, identity.Principal.ID, ActivityLogout, "", "", nil, device)
	return nil
}

// ChangePassword re-proves the current password before accepting a new one,
// then invalidates every outstanding token via a version bump.
func (s *Service) ChangePassword(ctx context.Context, principalID, current, next string, device Device) error {
	principal, err := s.store.Principals().Find(ctx, principalID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrUnauthenticated
		}
		return err
	}
	if err := VerifyPassword(principal.PasswordHash, current); err != nil {
		return ErrUnauthenticated
	}
	if len(next) < 8 {
		return fmt.Errorf("%w: password must be at least 8 characters", ErrInvalidInput)
	}
	hash, err := HashPassword(next)
	if err != nil {
		return err
	}
	if err := s.store.Principals().UpdatePassword(ctx, principalID, hash); err != nil {
		return err
	}
	if _, err := s.store.Principals().IncrementTokenVersion(ctx, principalID); err != nil {
		return err
	}
	s.record(ctx, principalID, ActivityPasswordChange, "", "", nil, device)
	return nil
}

// CreatePrincipalInput is the provisioning payload.
type CreatePrincipalInput struct {
	Username  string
	Email     string
	Password  string
	FirstName string
	LastName  string
	Role      Role
	Overrides OverrideMap
}

// CreatePrincipal provisions a new administrative identity.
func (s *Service) CreatePrincipal(ctx context.Context, in CreatePrincipalInput) (*Principal, error) {
	in.Username = strings.TrimSpace(strings.ToLower(in.Username))
	in.Email = strings.TrimSpace(strings.ToLower(in.Email))
	if in.Username == "" {
		return nil, fmt.Errorf("%w: username is required", ErrInvalidInput)
	}
	if in.Email == "" || !strings.Contains(in.Email, "@") {
		return nil, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	if len(in.Password) < 8 {
		return nil, fmt.Errorf("%w: password must be at least 8 characters", ErrInvalidInput)
	}
	if !ValidRole(in.Role) {
		return nil, fmt.Errorf("%w: unsupported role", ErrInvalidInput)
	}
	if err := validateOverrides(in.Overrides); err != nil {
		return nil, err
	}
	hash, err := HashPassword(in.Password)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	principal := &Principal{
		ID:           ids.Prefixed("adm"),
		Username:     in.Username,
		Email:        in.Email,
		FirstName:    strings.TrimSpace(in.FirstName),
		LastName:     strings.TrimSpace(in.LastName),
		PasswordHash: hash,
		Role:         in.Role,
		Overrides:    in.Overrides,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.Principals().Create(ctx, principal); err != nil {
		return nil, err
	}
	return principal, nil
}

// Principals lists every administrative identity.
func (s *Service) Principals(ctx context.Context) ([]*Principal, error) {
	return s.store.Principals().List(ctx)
}

// SetActive enables or disables a principal. Deactivation also bumps the
// token version so outstanding tokens die immediately rather than at the
// next middleware miss.
func (s *Service) SetActive(ctx context.Context, principalID string, active bool) error {
	if err := s.store.Principals().SetActive(ctx, principalID, active); err != nil {
		return err
	}
	if !active {
		if _, err := s.store.Principals().IncrementTokenVersion(ctx, principalID); err != nil {
			return err
		}
	}
	return nil
}

// SetOverrides replaces (or, with nil, clears) a principal's permission
// override map.
func (s *Service) SetOverrides(ctx context.Context, principalID string, overrides OverrideMap) error {
	if err := validateOverrides(overrides); err != nil {
		return err
	}
	return s.store.Principals().SetOverrides(ctx, principalID, overrides)
}

// Sessions lists every session row for a principal, newest first.
func (s *Service) Sessions(ctx context.Context, principalID string) ([]Session, error) {
	return s.store.Sessions().ListByPrincipal(ctx, principalID)
}

// RevokeSession terminates one session owned by the principal. Revoking an
// already-revoked session is not an error.
func (s *Service) RevokeSession(ctx context.Context, principalID, sessionID string, device Device) error {
	sessions, err := s.store.Sessions().ListByPrincipal(ctx, principalID)
	if err != nil {
		return err
	}
	for _, sess := range sessions {
		if sess.ID == sessionID {
			if err := s.store.Sessions().Revoke(ctx, sessionID); err != nil {
				return err
			}
			s.record(ctx, principalID, ActivitySessionRevoke, "session", sessionID, nil, device)
			return nil
		}
	}
	return ErrNotFound
}

func (s *Service) issue(ctx context.Context, principal *Principal, device Device) (*LoginResult, error) {
	access, accessExp, err := s.signer.IssueAccessToken(principal, s.accessTTL)
	if err != nil {
		return nil, err
	}
	refresh, refreshExp, err := s.signer.IssueRefreshToken(principal.ID, principal.TokenVersion, s.refreshTTL)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	session := &Session{
		ID:             ids.Prefixed("ses"),
		PrincipalID:    principal.ID,
		TokenHash:      HashToken(access),
		DeviceInfo:     device.UserAgent,
		IPAddress:      device.IPAddress,
		Active:         true,
		IssuedAt:       now,
		ExpiresAt:      accessExp,
		LastActivityAt: now,
	}
	if err := s.store.Sessions().Create(ctx, session); err != nil {
		return nil, err
	}

	return &LoginResult{
		Principal:        principal,
		Permissions:      ResolvedPermissions(principal.Role, principal.Overrides),
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refresh,
		RefreshExpiresAt: refreshExp,
		Session:          session,
	}, nil
}

func (s *Service) loadActive(ctx context.Context, principalID string, tokenVersion int) (*Principal, error) {
	principal, err := s.store.Principals().Find(ctx, principalID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrUnauthenticated
		}
		return nil, err
	}
	if !principal.Active {
		return nil, ErrUnauthenticated
	}
	if principal.TokenVersion != tokenVersion {
		return nil, ErrUnauthenticated
	}
	return principal, nil
}

func (s *Service) touchSession(ctx context.Context, tokenHash string) {
	sess, err := s.store.Sessions().FindActiveByTokenHash(ctx, tokenHash)
	if err != nil {
		return
	}
	_ = s.store.Sessions().Touch(ctx, sess.ID, s.now().UTC())
}

func (s *Service) tryBreakGlass(ctx context.Context, username, password string, device Device) (*LoginResult, error) {
	if s.breakGlass == nil || username != s.breakGlass.Username {
		return nil, ErrUnauthenticated
	}
	if err := VerifyPassword(s.breakGlass.PasswordHash, password); err != nil {
		return nil, ErrUnauthenticated
	}
	principal := s.breakGlassPrincipal()
	access, accessExp, err := s.signer.IssueAccessToken(principal, s.accessTTL)
	if err != nil {
		return nil, err
	}
	// No refresh token and no session row: the datastore is down, and the
	// account should not outlive the incident.
	s.record(ctx, BreakGlassID, ActivityBreakGlassLogin, "", "", nil, device)
	return &LoginResult{
		Principal:       principal,
		Permissions:     ResolvedPermissions(principal.Role, nil),
		AccessToken:     access,
		AccessExpiresAt: accessExp,
		BreakGlass:      true,
	}, nil
}

func (s *Service) breakGlassPrincipal() *Principal {
	return &Principal{
		ID:       BreakGlassID,
		Username: s.breakGlass.Username,
		Role:     RoleSuperAdmin,
		Active:   true,
	}
}

func (s *Service) record(ctx context.Context, principalID, action, targetType, targetID string, detail map[string]any, device Device) {
	if s.recorder == nil {
		return
	}
	s.recorder.Record(ctx, &ActivityRecord{
		PrincipalID: principalID,
		Action:      action,
		TargetType:  targetType,
		TargetID:    targetID,
		Detail:      detail,
		IPAddress:   device.IPAddress,
		UserAgent:   device.UserAgent,
	})
}

func validateOverrides(overrides OverrideMap) error {
	for module := range overrides {
		if !KnownModule(module) {
			return fmt.Errorf("%w: unknown module %s", ErrInvalidInput, module)
		}
	}
	return nil
}
