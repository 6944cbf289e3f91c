package auth

import "time"

// Role is an enumerated administrative tier. Tiers are compared only through
// the permission tables, never ordinally.
type Role string

const (
	RoleSuperAdmin Role = "superadmin"
	RoleAdmin      Role = "admin"
	RoleModerator  Role = "moderator"
	RoleViewer     Role = "viewer"
)

// ValidRole reports whether the role is one of the known tiers.
func ValidRole(r Role) bool {
	switch r {
	case RoleSuperAdmin, RoleAdmin, RoleModerator, RoleViewer:
		return true
	}
	return false
}

// Module names an administrative resource area subject to permission checks.
type Module string

const (
	ModuleProperties Module = "properties"
	ModuleListings   Module = "listings"
	ModuleUsers      Module = "users"
	ModuleMedia      Module = "media"
	ModuleNewsletter Module = "newsletter"
	ModuleAdmins     Module = "admins"
	ModuleActivity   Module = "activity"
	ModuleSettings   Module = "settings"
)

// Action is one of the three capabilities a module can grant.
type Action string

const (
	ActionRead   Action = "read"
	ActionWrite  Action = "write"
	ActionDelete Action = "delete"
)

// Capability is the tri-state permission set for one module.
type Capability struct {
	Read   bool `json:"read"`
	Write  bool `json:"write"`
	Delete bool `json:"delete"`
}

// Allows reports whether the capability grants the action.
func (c Capability) Allows(action Action) bool {
	switch action {
	case ActionRead:
		return c.Read
	case ActionWrite:
		return c.Write
	case ActionDelete:
		return c.Delete
	}
	return false
}

// Any reports whether at least one capability is granted.
func (c Capability) Any() bool {
	return c.Read || c.Write || c.Delete
}

// OverrideMap is a per-principal exception table. When present it fully
// replaces the role defaults: a module absent from the map is denied, it does
// not fall back to the role table.
type OverrideMap map[Module]Capability

// Principal is an administrative identity.
type Principal struct {
	ID           string      `json:"id"`
	Username     string      `json:"username"`
	Email        string      `json:"email"`
	FirstName    string      `json:"firstName"`
	LastName     string      `json:"lastName"`
	PasswordHash string      `json:"-"`
	Role         Role        `json:"role"`
	Overrides    OverrideMap `json:"overrides,omitempty"`
	Active       bool        `json:"active"`
	TokenVersion int         `json:"-"`
	LastLoginAt  *time.Time  `json:"lastLoginAt,omitempty"`
	LastLoginIP  string      `json:"-"`
	CreatedAt    time.Time   `json:"createdAt"`
	UpdatedAt    time.Time   `json:"updatedAt"`
}

// Session is one issued-credential lifetime for one principal on one device.
// The raw token is never stored, only its SHA-256 hash.
type Session struct {
	ID             string    `json:"id"`
	PrincipalID    string    `json:"principalId"`
	TokenHash      string    `json:"-"`
	DeviceInfo     string    `json:"deviceInfo,omitempty"`
	IPAddress      string    `json:"ipAddress,omitempty"`
	Active         bool      `json:"active"`
	IssuedAt       time.Time `json:"issuedAt"`
	ExpiresAt      time.Time `json:"expiresAt"`
	LastActivityAt time.Time `json:"lastActivityAt"`
}

// Expired reports whether the session passed its natural expiry.
func (s Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Activity action tags. The set is closed; free-form detail goes into the
// Detail payload, not the action.
const (
	ActivityLogin           = "LOGIN"
	ActivityLogout          = "LOGOUT"
	ActivityRefresh         = "TOKEN_REFRESH"
	ActivityPasswordChange  = "PASSWORD_CHANGE"
	ActivityCreate          = "CREATE"
	ActivityUpdate          = "UPDATE"
	ActivityDelete          = "DELETE"
	ActivityPermissionsSet  = "PERMISSIONS_SET"
	ActivitySessionRevoke   = "SESSION_REVOKE"
	ActivityBreakGlassLogin = "BREAK_GLASS_LOGIN"
)

// ActivityRecord is an immutable append-only audit fact.
type ActivityRecord struct {
	ID          string         `json:"id"`
	PrincipalID string         `json:"principalId"`
	Action      string         `json:"action"`
	TargetType  string         `json:"targetType,omitempty"`
	TargetID    string         `json:"targetId,omitempty"`
	Detail      map[string]any `json:"detail,omitempty"`
	IPAddress   string         `json:"ipAddress,omitempty"`
	UserAgent   string         `json:"userAgent,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
}

// ActivityFilter selects activity records for queries. Zero values mean
// "no constraint".
type ActivityFilter struct {
	PrincipalID string
	Action      string
	From        time.Time
	To          time.Time
	Limit       int
}

// ActorCount is one row of the top-actors aggregate.
type ActorCount struct {
	PrincipalID string `json:"principalId"`
	Count       int64  `json:"count"`
}
