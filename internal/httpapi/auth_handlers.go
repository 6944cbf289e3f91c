package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"parkrow.org/internal/auth"
	"parkrow.org/internal/obs"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Success     bool             `json:"success"`
	Admin       *auth.Principal  `json:"admin,omitempty"`
	Permissions auth.OverrideMap `json:"permissions,omitempty"`
	Token       string           `json:"token,omitempty"`
	ExpiresAt   *time.Time       `json:"expiresAt,omitempty"`
	BreakGlass  bool             `json:"breakGlass,omitempty"`
	Message     string           `json:"message,omitempty"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	res, err := a.auth.Login(r.Context(), req.Username, req.Password, device(r))
	if err != nil {
		if errors.Is(err, auth.ErrUnauthenticated) {
			obs.CountLogin("failure")
			// One generic message for every credential failure.
			writeJSON(w, http.StatusUnauthorized, loginResponse{
				Success: false,
				Message: "invalid credentials",
			})
			return
		}
		obs.CountLogin("error")
		handleAuthError(w, r, err)
		return
	}

	if res.BreakGlass {
		obs.CountLogin("break_glass")
	} else {
		obs.CountLogin("success")
	}
	a.setAuthCookies(w, res)
	writeJSON(w, http.StatusOK, loginResponse{
		Success:     true,
		Admin:       res.Principal,
		Permissions: res.Permissions,
		Token:       res.AccessToken,
		ExpiresAt:   &res.AccessExpiresAt,
		BreakGlass:  res.BreakGlass,
	})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	identity, ok := a.requireIdentity(w, r)
	if !ok {
		return
	}
	if err := a.auth.Logout(r.Context(), identity, device(r)); err != nil {
		handleAuthError(w, r, err)
		return
	}
	a.clearAuthCookies(w)
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	raw := ""
	if c, err := r.Cookie(refreshCookie); err == nil {
		raw = strings.TrimSpace(c.Value)
	}
	if raw == "" {
		writeError(w, r, http.StatusUnauthorized, "unauthenticated")
		return
	}

	res, err := a.auth.Refresh(r.Context(), raw, device(r))
	if err != nil {
		a.clearAuthCookies(w)
		handleAuthError(w, r, err)
		return
	}
	a.setAuthCookies(w, res)
	writeJSON(w, http.StatusOK, loginResponse{
		Success:     true,
		Admin:       res.Principal,
		Permissions: res.Permissions,
		Token:       res.AccessToken,
		ExpiresAt:   &res.AccessExpiresAt,
	})
}

// handleSession is the introspection endpoint the frontend polls on load. It
// answers 200 with the principal for a live session and a 401 with
// requireAuth for everything else.
func (a *API) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]any{
			"requireAuth": true,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"admin":       identity.Principal,
		"permissions": identity.Permissions,
		"breakGlass":  identity.BreakGlass,
	})
}

func (a *API) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	identity, ok := a.requireIdentity(w, r)
	if !ok {
		return
	}
	sessions, err := a.auth.Sessions(r.Context(), identity.Principal.ID)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": sessions,
	})
}

func (a *API) handleSessionResource(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/v1/admin/sessions/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodDelete)
		return
	}
	identity, ok := a.requireIdentity(w, r)
	if !ok {
		return
	}
	if err := a.auth.RevokeSession(r.Context(), identity.Principal.ID, id, device(r)); err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

type passwordChangeRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

func (a *API) handlePasswordChange(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	identity, ok := a.requireIdentity(w, r)
	if !ok {
		return
	}
	if identity.BreakGlass {
		writeError(w, r, http.StatusForbidden, "forbidden")
		return
	}

	var req passwordChangeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.auth.ChangePassword(r.Context(), identity.Principal.ID, req.CurrentPassword, req.NewPassword, device(r)); err != nil {
		handleAuthError(w, r, err)
		return
	}
	// The version bump invalidated the current cookie pair as well.
	a.clearAuthCookies(w)
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// --- cookies ---

func (a *API) setAuthCookies(w http.ResponseWriter, res *auth.LoginResult) {
	http.SetCookie(w, &http.Cookie{
		Name:     accessCookie,
		Value:    res.AccessToken,
		Path:     "/",
		MaxAge:   int(time.Until(res.AccessExpiresAt).Seconds()),
		HttpOnly: true,
		Secure:   a.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	if res.RefreshToken == "" {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookie,
		Value:    res.RefreshToken,
		Path:     "/",
		MaxAge:   int(time.Until(res.RefreshExpiresAt).Seconds()),
		HttpOnly: true,
		Secure:   a.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (a *API) clearAuthCookies(w http.ResponseWriter) {
	for _, name := range []string{accessCookie, refreshCookie} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   a.cookieSecure,
			SameSite: http.SameSiteLaxMode,
		})
	}
}
