package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"parkrow.org/internal/auth"
	"parkrow.org/internal/obs"
)

// Cookie names shared with the back-office frontend.
const (
	accessCookie  = "admin_token"
	refreshCookie = "admin_refresh_token"
)

var publicPaths = []string{
	"/v1/admin/login",
	"/v1/admin/refresh",
	"/v1/admin/session",
	"/metrics",
	"/healthz",
	"/readyz",
	"/v1/info",
	"/",
}

// withAuth authenticates the access cookie and threads the identity through
// the context. Public paths pass through, but still get an identity attached
// when the cookie is valid (the session introspection endpoint relies on it).
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		token := tokenFromRequest(r)
		public := isPublicPath(r.URL.Path)

		if token == "" {
			if public {
				next.ServeHTTP(w, r)
				return
			}
			obs.CountTokenRejection("missing")
			writeError(w, r, http.StatusUnauthorized, "unauthenticated")
			return
		}

		identity, err := a.auth.Authenticate(r.Context(), token)
		if err != nil {
			if public {
				next.ServeHTTP(w, r)
				return
			}
			switch {
			case errors.Is(err, auth.ErrUnauthenticated):
				obs.CountTokenRejection("invalid")
				writeError(w, r, http.StatusUnauthorized, "unauthenticated")
			case errors.Is(err, auth.ErrUnavailable):
				writeError(w, r, http.StatusServiceUnavailable, "datastore unavailable")
			default:
				writeError(w, r, http.StatusInternalServerError, "authentication error")
			}
			return
		}

		ctx := auth.ContextWithIdentity(r.Context(), identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireIdentity returns the identity or writes 401.
func (a *API) requireIdentity(w http.ResponseWriter, r *http.Request) (auth.Identity, bool) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "unauthenticated")
		return auth.Identity{}, false
	}
	return identity, true
}

// requireModule enforces a (module, action) permission and writes 401/403.
func (a *API) requireModule(w http.ResponseWriter, r *http.Request, module auth.Module, action auth.Action) (auth.Identity, bool) {
	identity, ok := a.requireIdentity(w, r)
	if !ok {
		return auth.Identity{}, false
	}
	if !identity.Can(module, action) {
		writeError(w, r, http.StatusForbidden, "forbidden")
		return auth.Identity{}, false
	}
	return identity, true
}

// tokenFromRequest prefers the access cookie and falls back to a bearer
// header for non-browser clients.
func tokenFromRequest(r *http.Request) string {
	if c, err := r.Cookie(accessCookie); err == nil {
		if token := strings.TrimSpace(c.Value); token != "" {
			return token
		}
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return ""
	}
	const bearer = "bearer "
	if !strings.HasPrefix(strings.ToLower(header), bearer) {
		return ""
	}
	return strings.TrimSpace(header[len(bearer):])
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}
