package httpapi

import (
	"net/http"
	"strings"

	"parkrow.org/internal/auth"
)

type createPrincipalRequest struct {
	Username  string           `json:"username"`
	Email     string           `json:"email"`
	Password  string           `json:"password"`
	FirstName string           `json:"firstName"`
	LastName  string           `json:"lastName"`
	Role      string           `json:"role"`
	Overrides auth.OverrideMap `json:"overrides,omitempty"`
}

func (a *API) handlePrincipals(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.listPrincipals(w, r)
	case http.MethodPost:
		a.createPrincipal(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) listPrincipals(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.requireModule(w, r, auth.ModuleAdmins, auth.ActionRead); !ok {
		return
	}
	principals, err := a.auth.Principals(r.Context())
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": principals,
	})
}

func (a *API) createPrincipal(w http.ResponseWriter, r *http.Request) {
	identity, ok := a.requireModule(w, r, auth.ModuleAdmins, auth.ActionWrite)
	if !ok {
		return
	}

	var req createPrincipalRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	principal, err := a.auth.CreatePrincipal(r.Context(), auth.CreatePrincipalInput{
		Username:  req.Username,
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Role:      auth.Role(req.Role),
		Overrides: req.Overrides,
	})
	if err != nil {
		handleAuthError(w, r, err)
		return
	}

	if a.recorder != nil {
		a.recorder.Record(r.Context(), &auth.ActivityRecord{
			PrincipalID: identity.Principal.ID,
			Action:      auth.ActivityCreate,
			TargetType:  "principal",
			TargetID:    principal.ID,
			Detail:      map[string]any{"username": principal.Username, "role": string(principal.Role)},
			IPAddress:   clientIP(r),
			UserAgent:   r.UserAgent(),
		})
	}
	writeJSON(w, http.StatusCreated, principal)
}

type setPermissionsRequest struct {
	Overrides auth.OverrideMap `json:"overrides"`
}

func (a *API) handlePrincipalResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/admin/principals/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	if strings.HasSuffix(path, "/permissions") {
		id := strings.TrimSuffix(strings.TrimSuffix(path, "/permissions"), "/")
		if id == "" {
			writeError(w, r, http.StatusNotFound, "principal not found")
			return
		}
		if r.Method != http.MethodPut {
			methodNotAllowed(w, r, http.MethodPut)
			return
		}
		a.setPermissions(w, r, id)
		return
	}

	if strings.HasSuffix(path, "/active") {
		id := strings.TrimSuffix(strings.TrimSuffix(path, "/active"), "/")
		if id == "" {
			writeError(w, r, http.StatusNotFound, "principal not found")
			return
		}
		if r.Method != http.MethodPut {
			methodNotAllowed(w, r, http.MethodPut)
			return
		}
		a.setActive(w, r, id)
		return
	}

	writeError(w, r, http.StatusNotFound, "resource not found")
}

type setActiveRequest struct {
	Active bool `json:"active"`
}

// setActive toggles a principal's active flag. Deactivation revokes every
// outstanding token for the target, so admins cannot keep a disabled
// colleague's session alive by accident.
func (a *API) setActive(w http.ResponseWriter, r *http.Request, id string) {
	identity, ok := a.requireModule(w, r, auth.ModuleAdmins, auth.ActionWrite)
	if !ok {
		return
	}
	if identity.Principal.ID == id {
		writeError(w, r, http.StatusBadRequest, "cannot change your own active flag")
		return
	}

	var req setActiveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.auth.SetActive(r.Context(), id, req.Active); err != nil {
		handleAuthError(w, r, err)
		return
	}

	if a.recorder != nil {
		a.recorder.Record(r.Context(), &auth.ActivityRecord{
			PrincipalID: identity.Principal.ID,
			Action:      auth.ActivityUpdate,
			TargetType:  "principal",
			TargetID:    id,
			Detail:      map[string]any{"active": req.Active},
			IPAddress:   clientIP(r),
			UserAgent:   r.UserAgent(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// setPermissions replaces a principal's override map. A null overrides field
// clears the map, restoring the role defaults.
func (a *API) setPermissions(w http.ResponseWriter, r *http.Request, id string) {
	identity, ok := a.requireModule(w, r, auth.ModuleAdmins, auth.ActionWrite)
	if !ok {
		return
	}

	var req setPermissionsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.auth.SetOverrides(r.Context(), id, req.Overrides); err != nil {
		handleAuthError(w, r, err)
		return
	}

	if a.recorder != nil {
		a.recorder.Record(r.Context(), &auth.ActivityRecord{
			PrincipalID: identity.Principal.ID,
			Action:      auth.ActivityPermissionsSet,
			TargetType:  "principal",
			TargetID:    id,
			IPAddress:   clientIP(r),
			UserAgent:   r.UserAgent(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}
