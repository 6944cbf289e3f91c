package auth

// roleDefaults maps each role to its per-module capabilities. This table is
// the single source of truth for the authorization model; RoleSuperAdmin is
// absent on purpose because it bypasses every check.
var roleDefaults = map[Role]map[Module]Capability{
	RoleAdmin: {
		ModuleProperties: {Read: true, Write: true, Delete: true},
		ModuleListings:   {Read: true, Write: true, Delete: true},
		ModuleUsers:      {Read: true, Write: true, Delete: true},
		ModuleMedia:      {Read: true, Write: true, Delete: true},
		ModuleNewsletter: {Read: true, Write: true, Delete: false},
		ModuleAdmins:     {Read: true, Write: false, Delete: false},
		ModuleActivity:   {Read: true, Write: false, Delete: false},
		ModuleSettings:   {Read: true, Write: true, Delete: false},
	},
	RoleModerator: {
		ModuleProperties: {Read: true, Write: true, Delete: false},
		ModuleListings:   {Read: true, Write: true, Delete: false},
		ModuleUsers:      {Read: true, Write: false, Delete: false},
		ModuleMedia:      {Read: true, Write: true, Delete: false},
		ModuleNewsletter: {Read: true, Write: false, Delete: false},
	},
	RoleViewer: {
		ModuleProperties: {Read: true},
		ModuleListings:   {Read: true},
		ModuleMedia:      {Read: true},
	},
}

// HasPermission decides allow/deny for a (module, action) pair.
//
// RoleSuperAdmin short-circuits to allow before any lookup. When an override
// map is present it fully replaces the role defaults: a module missing from
// the map is a deny, never a fallback to the role table. Without an override
// map the fixed per-role defaults apply.
func HasPermission(role Role, overrides OverrideMap, module Module, action Action) bool {
	if role == RoleSuperAdmin {
		return true
	}
	if overrides != nil {
		return overrides[module].Allows(action)
	}
	return roleDefaults[role][module].Allows(action)
}

// CanAccessModule reports whether at least one of read/write/delete is
// permitted for the module under the same override-replacement rule.
func CanAccessModule(role Role, overrides OverrideMap, module Module) bool {
	if role == RoleSuperAdmin {
		return true
	}
	if overrides != nil {
		return overrides[module].Any()
	}
	return roleDefaults[role][module].Any()
}

// ResolvedPermissions returns the effective per-module capability table for a
// principal: the override map verbatim when present, otherwise a copy of the
// role defaults. For RoleSuperAdmin every known module is fully granted.
func ResolvedPermissions(role Role, overrides OverrideMap) OverrideMap {
	if role == RoleSuperAdmin {
		out := make(OverrideMap, len(allModules))
		for _, m := range allModules {
			out[m] = Capability{Read: true, Write: true, Delete: true}
		}
		return out
	}
	if overrides != nil {
		out := make(OverrideMap, len(overrides))
		for m, c := range overrides {
			out[m] = c
		}
		return out
	}
	defaults := roleDefaults[role]
	out := make(OverrideMap, len(defaults))
	for m, c := range defaults {
		out[m] = c
	}
	return out
}

var allModules = []Module{
	ModuleProperties, ModuleListings, ModuleUsers, ModuleMedia,
	ModuleNewsletter, ModuleAdmins, ModuleActivity, ModuleSettings,
}

// KnownModule reports whether the module name is part of the closed set.
func KnownModule(m Module) bool {
	for _, known := range allModules {
		if m == known {
			return true
		}
	}
	return false
}
