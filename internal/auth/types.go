package auth

import (
	"errors"
	"slices"
)

// Role represents an authorisation tier for API callers.
type Role string

const (
	// RoleViewer can read channels, state and metrics.
	RoleViewer Role = "viewer"

	// RoleOperator can also send commands to the purifier.
	RoleOperator Role = "operator"
)

// ValidRoles is the set of roles a token may carry.
var ValidRoles = []Role{RoleViewer, RoleOperator}

// IsValidRole reports whether r is one of ValidRoles.
func IsValidRole(r Role) bool {
	return slices.Contains(ValidRoles, r)
}

// Sentinel errors.
var (
	ErrTokenInvalid = errors.New("invalid token")
	ErrInvalidRole  = errors.New("invalid role")
	ErrForbidden    = errors.New("insufficient permissions")
)
