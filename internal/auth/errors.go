package auth

import "errors"

var (
	// ErrUnauthenticated covers every credential failure: missing, malformed,
	// expired or revoked tokens and bad login credentials. Callers must not
	// distinguish the cause to the client.
	ErrUnauthenticated = errors.New("auth: unauthenticated")

	// ErrForbidden means the principal is authenticated but lacks permission.
	ErrForbidden = errors.New("auth: forbidden")

	ErrNotFound     = errors.New("auth: not found")
	ErrConflict     = errors.New("auth: already exists")
	ErrInvalidInput = errors.New("auth: invalid input")

	// ErrUnavailable marks datastore connectivity failures, as opposed to a
	// definitive "no such row". The break-glass path keys off this.
	ErrUnavailable = errors.New("auth: store unavailable")
)
