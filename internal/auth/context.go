package auth

import "context"

// Identity is the request-scoped result of authentication: the principal and
// its permissions resolved at verification time. It is threaded through the
// context by the middleware and read by handlers.
type Identity struct {
	Principal   *Principal
	Permissions OverrideMap
	SessionHash string
	BreakGlass  bool
}

// Can reports whether the identity may perform action on module.
func (id Identity) Can(module Module, action Action) bool {
	if id.Principal == nil {
		return false
	}
	return HasPermission(id.Principal.Role, id.Principal.Overrides, module, action)
}

type identityContextKey struct{}

// ContextWithIdentity attaches the authenticated identity to the context.
func ContextWithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, &identity)
}

// IdentityFromContext extracts the authenticated identity from the context.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	if ctx == nil {
		return Identity{}, false
	}
	v, ok := ctx.Value(identityContextKey{}).(*Identity)
	if !ok || v == nil || v.Principal == nil {
		return Identity{}, false
	}
	return *v, true
}

// PrincipalIDFromContext is a convenience accessor for audit enrichment.
func PrincipalIDFromContext(ctx context.Context) (string, bool) {
	identity, ok := IdentityFromContext(ctx)
	if !ok {
		return "", false
	}
	return identity.Principal.ID, true
}
