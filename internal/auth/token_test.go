package auth

import (
	"strings"
	"testing"
	"time"
)

func testClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func testPrincipal() *Principal {
	return &Principal{
		ID:           "adm_01HTEST",
		Username:     "jordan",
		Email:        "jordan@parkrow.org",
		Role:         RoleAdmin,
		TokenVersion: 3,
		Active:       true,
	}
}

func TestAccessTokenRoundTrip(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	signer, err := NewSigner("test-secret", "parkrow", testClock(now))
	if err != nil {
		t.Fatalf("signer: %v", err)
	}

	token, exp, err := signer.IssueAccessToken(testPrincipal(), time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if want := now.Add(time.Hour); !exp.Equal(want) {
		t.Fatalf("exp = %v, want %v", exp, want)
	}

	claims, err := signer.Verify(token, TokenTypeAccess)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.Subject != "adm_01HTEST" || claims.Username != "jordan" {
		t.Fatalf("claims = %+v", claims)
	}
	if claims.Role != RoleAdmin || claims.TokenVersion != 3 {
		t.Fatalf("claims = %+v", claims)
	}
	if !claims.Permissions[ModuleProperties].Delete {
		t.Fatal("permission snapshot missing admin delete on properties")
	}
	if claims.ID == "" {
		t.Fatal("jti must be set")
	}
}

func TestRefreshTokenCarriesNoPermissions(t *testing.T) {
	signer, err := NewSigner("test-secret", "parkrow", nil)
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	token, _, err := signer.IssueRefreshToken("adm_01HTEST", 7, time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	claims, err := signer.Verify(token, TokenTypeRefresh)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.TokenVersion != 7 {
		t.Fatalf("token version = %d, want 7", claims.TokenVersion)
	}
	if len(claims.Permissions) != 0 || claims.Username != "" {
		t.Fatalf("refresh token leaked identity claims: %+v", claims)
	}
}

func TestVerifyRejectsTokenTypeConfusion(t *testing.T) {
	signer, err := NewSigner("test-secret", "parkrow", nil)
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	access, _, err := signer.IssueAccessToken(testPrincipal(), time.Hour)
	if err != nil {
		t.Fatalf("issue access: %v", err)
	}
	refresh, _, err := signer.IssueRefreshToken("adm_01HTEST", 0, time.Hour)
	if err != nil {
		t.Fatalf("issue refresh: %v", err)
	}
	if _, err := signer.Verify(access, TokenTypeRefresh); err == nil {
		t.Fatal("access token must not verify as refresh")
	}
	if _, err := signer.Verify(refresh, TokenTypeAccess); err == nil {
		t.Fatal("refresh token must not verify as access")
	}
}

func TestVerifyRejectsTamperedToken(t *testing.T) {
	signer, err := NewSigner("test-secret", "parkrow", nil)
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	token, _, err := signer.IssueAccessToken(testPrincipal(), time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		t.Fatalf("unexpected token shape: %q", token)
	}
	tampered := parts[0] + "." + parts[1] + ".AAAA" + parts[2][4:]
	if _, err := signer.Verify(tampered, TokenTypeAccess); err != ErrInvalidToken {
		t.Fatalf("verify tampered = %v, want ErrInvalidToken", err)
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	a, _ := NewSigner("secret-a", "parkrow", nil)
	b, _ := NewSigner("secret-b", "parkrow", nil)
	token, _, err := a.IssueAccessToken(testPrincipal(), time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := b.Verify(token, TokenTypeAccess); err != ErrInvalidToken {
		t.Fatalf("verify with wrong secret = %v, want ErrInvalidToken", err)
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	issuedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := issuedAt
	signer, err := NewSigner("test-secret", "parkrow", func() time.Time { return clock })
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	token, _, err := signer.IssueAccessToken(testPrincipal(), time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	clock = issuedAt.Add(30 * time.Second)
	if _, err := signer.Verify(token, TokenTypeAccess); err != nil {
		t.Fatalf("verify before expiry: %v", err)
	}

	clock = issuedAt.Add(2 * time.Minute)
	if _, err := signer.Verify(token, TokenTypeAccess); err != ErrInvalidToken {
		t.Fatalf("verify after expiry = %v, want ErrInvalidToken", err)
	}
}

func TestVerifyRejectsWrongIssuer(t *testing.T) {
	a, _ := NewSigner("test-secret", "parkrow", nil)
	b, _ := NewSigner("test-secret", "someone-else", nil)
	token, _, err := a.IssueAccessToken(testPrincipal(), time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := b.Verify(token, TokenTypeAccess); err != ErrInvalidToken {
		t.Fatalf("verify with wrong issuer = %v, want ErrInvalidToken", err)
	}
}

func TestNewSignerRequiresSecret(t *testing.T) {
	if _, err := NewSigner("   ", "parkrow", nil); err == nil {
		t.Fatal("expected error for empty secret")
	}
}
