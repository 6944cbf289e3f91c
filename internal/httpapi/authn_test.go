package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestTokenFromRequestPrefersCookie(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(&http.Cookie{Name: accessCookie, Value: "cookie-token"})
	r.Header.Set("Authorization", "Bearer header-token")
	if got := tokenFromRequest(r); got != "cookie-token" {
		t.Fatalf("token = %q, want cookie-token", got)
	}
}

func TestTokenFromRequestBearerFallback(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer header-token")
	if got := tokenFromRequest(r); got != "header-token" {
		t.Fatalf("token = %q, want header-token", got)
	}

	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	if got := tokenFromRequest(r); got != "" {
		t.Fatalf("token = %q, want empty for non-bearer scheme", got)
	}

	r = httptest.NewRequest(http.MethodGet, "/", nil)
	if got := tokenFromRequest(r); got != "" {
		t.Fatalf("token = %q, want empty without credentials", got)
	}
}

func TestIsPublicPath(t *testing.T) {
	for _, path := range []string{"/v1/admin/login", "/v1/admin/refresh", "/v1/admin/session", "/healthz", "/readyz", "/metrics", "/"} {
		if !isPublicPath(path) {
			t.Fatalf("%s should be public", path)
		}
	}
	for _, path := range []string{"/v1/admin/logout", "/v1/admin/activity", "/v1/admin/principals", "/v1/admin/sessions"} {
		if isPublicPath(path) {
			t.Fatalf("%s should require auth", path)
		}
	}
}
