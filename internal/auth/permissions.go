package auth

import "slices"

// Permission names one API capability.
type Permission string

const (
	// PermChannelRead allows reading the mirror and host channels and
	// subscribing to channel events.
	PermChannelRead Permission = "channel:read"

	// PermChannelOperate allows sending commands to the device and forcing
	// a refresh.
	PermChannelOperate Permission = "channel:operate"
)

var rolePermissions = map[Role][]Permission{
	RoleViewer:   {PermChannelRead},
	RoleOperator: {PermChannelRead, PermChannelOperate},
}

// HasPermission reports whether role grants perm. Unknown roles grant
// nothing.
func HasPermission(role Role, perm Permission) bool {
	return slices.Contains(rolePermissions[role], perm)
}

// PermissionsForRole returns a copy of the permissions granted to role, or
// nil for an unknown role.
func PermissionsForRole(role Role) []Permission {
	return slices.Clone(rolePermissions[role])
}
