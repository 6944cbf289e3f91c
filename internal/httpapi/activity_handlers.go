package httpapi

import (
	"net/http"

	"parkrow.org/internal/auth"
)

func (a *API) handleActivity(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if _, ok := a.requireModule(w, r, auth.ModuleActivity, auth.ActionRead); !ok {
		return
	}

	q := r.URL.Query()
	limit, err := parsePositiveInt(q.Get("limit"), 50, 1, 200)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	from, err := parseTimeParam(q.Get("from"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "from must be RFC 3339")
		return
	}
	to, err := parseTimeParam(q.Get("to"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "to must be RFC 3339")
		return
	}

	records, err := a.activity.List(r.Context(), auth.ActivityFilter{
		PrincipalID: q.Get("principalId"),
		Action:      q.Get("action"),
		From:        from,
		To:          to,
		Limit:       limit,
	})
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": records,
	})
}

func (a *API) handleActivityStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if _, ok := a.requireModule(w, r, auth.ModuleActivity, auth.ActionRead); !ok {
		return
	}

	q := r.URL.Query()
	from, err := parseTimeParam(q.Get("from"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "from must be RFC 3339")
		return
	}
	to, err := parseTimeParam(q.Get("to"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "to must be RFC 3339")
		return
	}

	stats, err := a.activity.Stats(r.Context(), from, to)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
