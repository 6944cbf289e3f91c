package auth_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"parkrow.org/internal/auth"
	"parkrow.org/internal/store/memory"
)

type captureRecorder struct {
	mu      sync.Mutex
	records []auth.ActivityRecord
}

func (c *captureRecorder) Record(ctx context.Context, rec *auth.ActivityRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, *rec)
}

func (c *captureRecorder) actions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.records))
	for _, rec := range c.records {
		out = append(out, rec.Action)
	}
	return out
}

type fixture struct {
	store    *memory.Store
	svc      *auth.Service
	recorder *captureRecorder
	clock    *time.Time
}

func newFixture(t *testing.T, opts ...auth.ServiceOption) *fixture {
	t.Helper()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := memory.New()
	recorder := &captureRecorder{}
	signer, err := auth.NewSigner("test-secret", "parkrow", func() time.Time { return now })
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	opts = append([]auth.ServiceOption{
		auth.WithClock(func() time.Time { return now }),
		auth.WithRecorder(recorder),
	}, opts...)
	svc, err := auth.NewService(store, signer, opts...)
	if err != nil {
		t.Fatalf("service: %v", err)
	}
	return &fixture{store: store, svc: svc, recorder: recorder, clock: &now}
}

func (f *fixture) seedPrincipal(t *testing.T, username, password string, role auth.Role) *auth.Principal {
	t.Helper()
	hash, err := auth.HashPasswordCost(password, 4)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	p := &auth.Principal{
		Username:     username,
		Email:        username + "@parkrow.org",
		PasswordHash: hash,
		Role:         role,
		Active:       true,
	}
	if err := f.store.Principals().Create(context.Background(), p); err != nil {
		t.Fatalf("seed principal: %v", err)
	}
	return p
}

func TestLoginIssuesTokensAndSession(t *testing.T) {
	f := newFixture(t)
	f.seedPrincipal(t, "jordan", "orchard-house-1921", auth.RoleAdmin)

	res, err := f.svc.Login(context.Background(), "jordan", "orchard-house-1921", auth.Device{IPAddress: "203.0.113.9", UserAgent: "cli"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if res.AccessToken == "" || res.RefreshToken == "" {
		t.Fatal("expected both tokens")
	}
	if res.Session == nil || !res.Session.Active {
		t.Fatal("expected an active session row")
	}
	if res.Session.TokenHash != auth.HashToken(res.AccessToken) {
		t.Fatal("session must store the access token hash")
	}
	if res.Principal.LastLoginAt == nil || res.Principal.LastLoginIP != "203.0.113.9" {
		t.Fatalf("last login not stamped: %+v", res.Principal)
	}
	if !res.Permissions[auth.ModuleProperties].Delete {
		t.Fatal("admin permission snapshot missing")
	}
	if got := f.recorder.actions(); len(got) != 1 || got[0] != auth.ActivityLogin {
		t.Fatalf("recorded actions = %v", got)
	}
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	f := newFixture(t)
	f.seedPrincipal(t, "jordan", "orchard-house-1921", auth.RoleAdmin)

	cases := []struct{ name, username, password string }{
		{"unknown username", "nobody", "orchard-house-1921"},
		{"wrong password", "jordan", "orchard-house-1922"},
		{"blank password", "jordan", ""},
		{"blank username", "", "orchard-house-1921"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Login(context.Background(), tc.username, tc.password, auth.Device{})
			if !errors.Is(err, auth.ErrUnauthenticated) {
				t.Fatalf("err = %v, want ErrUnauthenticated", err)
			}
		})
	}
	if got := f.recorder.actions(); len(got) != 0 {
		t.Fatalf("failed logins must not record activity, got %v", got)
	}
}

func TestLoginRejectsInactivePrincipal(t *testing.T) {
	f := newFixture(t)
	p := f.seedPrincipal(t, "jordan", "orchard-house-1921", auth.RoleAdmin)
	if err := f.store.Principals().SetActive(context.Background(), p.ID, false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	_, err := f.svc.Login(context.Background(), "jordan", "orchard-house-1921", auth.Device{})
	if !errors.Is(err, auth.ErrUnauthenticated) {
		t.Fatalf("err = %v, want ErrUnauthenticated", err)
	}
}

func TestAuthenticateResolvesIdentity(t *testing.T) {
	f := newFixture(t)
	f.seedPrincipal(t, "jordan", "orchard-house-1921", auth.RoleModerator)
	res, err := f.svc.Login(context.Background(), "jordan", "orchard-house-1921", auth.Device{})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	identity, err := f.svc.Authenticate(context.Background(), res.AccessToken)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if identity.Principal.Username != "jordan" {
		t.Fatalf("principal = %+v", identity.Principal)
	}
	if !identity.Can(auth.ModuleListings, auth.ActionWrite) {
		t.Fatal("moderator should write listings")
	}
	if identity.Can(auth.ModuleListings, auth.ActionDelete) {
		t.Fatal("moderator must not delete listings")
	}
	if identity.SessionHash != auth.HashToken(res.AccessToken) {
		t.Fatal("identity must carry the session hash")
	}
}

func TestLogoutInvalidatesEveryOutstandingToken(t *testing.T) {
	f := newFixture(t)
	f.seedPrincipal(t, "jordan", "orchard-house-1921", auth.RoleAdmin)

	first, err := f.svc.Login(context.Background(), "jordan", "orchard-house-1921", auth.Device{UserAgent: "laptop"})
	if err != nil {
		t.Fatalf("login 1: %v", err)
	}
	second, err := f.svc.Login(context.Background(), "jordan", "orchard-house-1921", auth.Device{UserAgent: "phone"})
	if err != nil {
		t.Fatalf("login 2: %v", err)
	}

	identity, err := f.svc.Authenticate(context.Background(), first.AccessToken)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if err := f.svc.Logout(context.Background(), identity, auth.Device{}); err != nil {
		t.Fatalf("logout: %v", err)
	}

	// The version bump kills the other device's tokens too, not just the
	// session that logged out.
	if _, err := f.svc.Authenticate(context.Background(), first.AccessToken); !errors.Is(err, auth.ErrUnauthenticated) {
		t.Fatalf("first token after logout: %v", err)
	}
	if _, err := f.svc.Authenticate(context.Background(), second.AccessToken); !errors.Is(err, auth.ErrUnauthenticated) {
		t.Fatalf("second token after logout: %v", err)
	}
	if _, err := f.svc.Refresh(context.Background(), second.RefreshToken, auth.Device{}); !errors.Is(err, auth.ErrUnauthenticated) {
		t.Fatalf("refresh after logout: %v", err)
	}
}

func TestRefreshIssuesNewSession(t *testing.T) {
	f := newFixture(t)
	f.seedPrincipal(t, "jordan", "orchard-house-1921", auth.RoleAdmin)
	res, err := f.svc.Login(context.Background(), "jordan", "orchard-house-1921", auth.Device{})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	refreshed, err := f.svc.Refresh(context.Background(), res.RefreshToken, auth.Device{UserAgent: "phone"})
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if refreshed.Session.ID == res.Session.ID {
		t.Fatal("refresh must create a new session row")
	}
	if _, err := f.svc.Authenticate(context.Background(), refreshed.AccessToken); err != nil {
		t.Fatalf("authenticate refreshed token: %v", err)
	}

	sessions, err := f.svc.Sessions(context.Background(), res.Principal.ID)
	if err != nil {
		t.Fatalf("sessions: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("sessions = %d, want 2", len(sessions))
	}
}

func TestRefreshRejectsAccessToken(t *testing.T) {
	f := newFixture(t)
	f.seedPrincipal(t, "jordan", "orchard-house-1921", auth.RoleAdmin)
	res, err := f.svc.Login(context.Background(), "jordan", "orchard-house-1921", auth.Device{})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, err := f.svc.Refresh(context.Background(), res.AccessToken, auth.Device{}); !errors.Is(err, auth.ErrUnauthenticated) {
		t.Fatalf("refresh with access token: %v", err)
	}
}

func TestChangePasswordInvalidatesTokens(t *testing.T) {
	f := newFixture(t)
	p := f.seedPrincipal(t, "jordan", "orchard-house-1921", auth.RoleAdmin)
	res, err := f.svc.Login(context.Background(), "jordan", "orchard-house-1921", auth.Device{})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	if err := f.svc.ChangePassword(context.Background(), p.ID, "wrong", "a-new-password", auth.Device{}); !errors.Is(err, auth.ErrUnauthenticated) {
		t.Fatalf("wrong current password: %v", err)
	}
	if err := f.svc.ChangePassword(context.Background(), p.ID, "orchard-house-1921", "short", auth.Device{}); !errors.Is(err, auth.ErrInvalidInput) {
		t.Fatalf("short new password: %v", err)
	}
	if err := f.svc.ChangePassword(context.Background(), p.ID, "orchard-house-1921", "a-new-password", auth.Device{}); err != nil {
		t.Fatalf("change password: %v", err)
	}

	if _, err := f.svc.Authenticate(context.Background(), res.AccessToken); !errors.Is(err, auth.ErrUnauthenticated) {
		t.Fatalf("old token after password change: %v", err)
	}
	if _, err := f.svc.Login(context.Background(), "jordan", "a-new-password", auth.Device{}); err != nil {
		t.Fatalf("login with new password: %v", err)
	}
}

func TestRevokeSessionIsOwnedAndIdempotent(t *testing.T) {
	f := newFixture(t)
	owner := f.seedPrincipal(t, "jordan", "orchard-house-1921", auth.RoleAdmin)
	other := f.seedPrincipal(t, "casey", "orchard-house-1921", auth.RoleAdmin)

	res, err := f.svc.Login(context.Background(), "jordan", "orchard-house-1921", auth.Device{})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	if err := f.svc.RevokeSession(context.Background(), other.ID, res.Session.ID, auth.Device{}); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("cross-principal revoke = %v, want ErrNotFound", err)
	}
	if err := f.svc.RevokeSession(context.Background(), owner.ID, res.Session.ID, auth.Device{}); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if err := f.svc.RevokeSession(context.Background(), owner.ID, res.Session.ID, auth.Device{}); err != nil {
		t.Fatalf("second revoke must be idempotent: %v", err)
	}
}

func TestCreatePrincipalValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.CreatePrincipal(ctx, auth.CreatePrincipalInput{Username: "", Email: "x@parkrow.org", Password: "long-enough", Role: auth.RoleViewer}); !errors.Is(err, auth.ErrInvalidInput) {
		t.Fatalf("blank username: %v", err)
	}
	if _, err := f.svc.CreatePrincipal(ctx, auth.CreatePrincipalInput{Username: "x", Email: "not-an-email", Password: "long-enough", Role: auth.RoleViewer}); !errors.Is(err, auth.ErrInvalidInput) {
		t.Fatalf("bad email: %v", err)
	}
	if _, err := f.svc.CreatePrincipal(ctx, auth.CreatePrincipalInput{Username: "x", Email: "x@parkrow.org", Password: "short", Role: auth.RoleViewer}); !errors.Is(err, auth.ErrInvalidInput) {
		t.Fatalf("short password: %v", err)
	}
	if _, err := f.svc.CreatePrincipal(ctx, auth.CreatePrincipalInput{Username: "x", Email: "x@parkrow.org", Password: "long-enough", Role: auth.Role("owner")}); !errors.Is(err, auth.ErrInvalidInput) {
		t.Fatalf("unknown role: %v", err)
	}
	if _, err := f.svc.CreatePrincipal(ctx, auth.CreatePrincipalInput{
		Username: "x", Email: "x@parkrow.org", Password: "long-enough", Role: auth.RoleViewer,
		Overrides: auth.OverrideMap{auth.Module("payroll"): {Read: true}},
	}); !errors.Is(err, auth.ErrInvalidInput) {
		t.Fatalf("unknown override module: %v", err)
	}

	created, err := f.svc.CreatePrincipal(ctx, auth.CreatePrincipalInput{
		Username: "  Morgan ", Email: "Morgan@ParkRow.org", Password: "long-enough", Role: auth.RoleModerator,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.Username != "morgan" || created.Email != "morgan@parkrow.org" {
		t.Fatalf("normalization failed: %+v", created)
	}
	if !created.Active || created.ID == "" {
		t.Fatalf("created = %+v", created)
	}

	if _, err := f.svc.CreatePrincipal(ctx, auth.CreatePrincipalInput{
		Username: "morgan", Email: "other@parkrow.org", Password: "long-enough", Role: auth.RoleViewer,
	}); !errors.Is(err, auth.ErrConflict) {
		t.Fatalf("duplicate username: %v", err)
	}
}

func TestSetOverridesTakesEffectOnNextAuthenticate(t *testing.T) {
	f := newFixture(t)
	p := f.seedPrincipal(t, "jordan", "orchard-house-1921", auth.RoleAdmin)
	res, err := f.svc.Login(context.Background(), "jordan", "orchard-house-1921", auth.Device{})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	overrides := auth.OverrideMap{auth.ModuleNewsletter: {Read: true}}
	if err := f.svc.SetOverrides(context.Background(), p.ID, overrides); err != nil {
		t.Fatalf("set overrides: %v", err)
	}

	// The token's embedded snapshot is stale; Authenticate resolves fresh
	// state from the store.
	identity, err := f.svc.Authenticate(context.Background(), res.AccessToken)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if identity.Can(auth.ModuleProperties, auth.ActionRead) {
		t.Fatal("override map must replace the admin defaults")
	}
	if !identity.Can(auth.ModuleNewsletter, auth.ActionRead) {
		t.Fatal("granted override missing")
	}
}

func TestDeactivationRevokesOutstandingTokens(t *testing.T) {
	f := newFixture(t)
	p := f.seedPrincipal(t, "jordan", "orchard-house-1921", auth.RoleAdmin)
	res, err := f.svc.Login(context.Background(), "jordan", "orchard-house-1921", auth.Device{})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	if err := f.svc.SetActive(context.Background(), p.ID, false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if _, err := f.svc.Authenticate(context.Background(), res.AccessToken); !errors.Is(err, auth.ErrUnauthenticated) {
		t.Fatalf("token after deactivation: %v", err)
	}
	if _, err := f.svc.Login(context.Background(), "jordan", "orchard-house-1921", auth.Device{}); !errors.Is(err, auth.ErrUnauthenticated) {
		t.Fatalf("login while inactive: %v", err)
	}

	// Reactivation restores login but not the revoked tokens.
	if err := f.svc.SetActive(context.Background(), p.ID, true); err != nil {
		t.Fatalf("reactivate: %v", err)
	}
	if _, err := f.svc.Authenticate(context.Background(), res.AccessToken); !errors.Is(err, auth.ErrUnauthenticated) {
		t.Fatalf("old token after reactivation: %v", err)
	}
	if _, err := f.svc.Login(context.Background(), "jordan", "orchard-house-1921", auth.Device{}); err != nil {
		t.Fatalf("login after reactivation: %v", err)
	}
}

func TestBreakGlassDisabledByDefault(t *testing.T) {
	f := newFixture(t)
	f.store.Unavailable = true
	_, err := f.svc.Login(context.Background(), "rescue", "whatever", auth.Device{})
	if !errors.Is(err, auth.ErrUnauthenticated) {
		t.Fatalf("err = %v, want ErrUnauthenticated", err)
	}
}

func TestBreakGlassOnlyWhenStoreIsDown(t *testing.T) {
	hash, err := auth.HashPasswordCost("incident-response", 4)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	f := newFixture(t, auth.WithBreakGlass("rescue", hash))

	// Store reachable: break-glass credentials are just an unknown username.
	if _, err := f.svc.Login(context.Background(), "rescue", "incident-response", auth.Device{}); !errors.Is(err, auth.ErrUnauthenticated) {
		t.Fatalf("break-glass with healthy store: %v", err)
	}

	f.store.Unavailable = true
	res, err := f.svc.Login(context.Background(), "rescue", "incident-response", auth.Device{IPAddress: "203.0.113.9"})
	if err != nil {
		t.Fatalf("break-glass login: %v", err)
	}
	if !res.BreakGlass {
		t.Fatal("result must be flagged break-glass")
	}
	if res.RefreshToken != "" || res.Session != nil {
		t.Fatal("break-glass must not issue a refresh token or session row")
	}
	if res.Principal.Role != auth.RoleSuperAdmin || res.Principal.ID != auth.BreakGlassID {
		t.Fatalf("principal = %+v", res.Principal)
	}

	identity, err := f.svc.Authenticate(context.Background(), res.AccessToken)
	if err != nil {
		t.Fatalf("authenticate break-glass token: %v", err)
	}
	if !identity.BreakGlass || !identity.Can(auth.ModuleSettings, auth.ActionDelete) {
		t.Fatalf("identity = %+v", identity)
	}
	if err := f.svc.Logout(context.Background(), identity, auth.Device{}); err != nil {
		t.Fatalf("break-glass logout must be a no-op: %v", err)
	}

	// Wrong password fails even during an outage.
	if _, err := f.svc.Login(context.Background(), "rescue", "wrong", auth.Device{}); !errors.Is(err, auth.ErrUnauthenticated) {
		t.Fatalf("break-glass wrong password: %v", err)
	}

	actions := f.recorder.actions()
	var sawBreakGlass bool
	for _, a := range actions {
		if a == auth.ActivityBreakGlassLogin {
			sawBreakGlass = true
		}
	}
	if !sawBreakGlass {
		t.Fatalf("recorded actions = %v, want BREAK_GLASS_LOGIN", actions)
	}
}
