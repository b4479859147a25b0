package domain

import dErrors "concord/pkg/domain-errors"

// Role is a member's role within a federation.
// Invariant: the value must be one of the supported roles.
//
// Usage: construct via ParseRole at trust boundaries to enforce the
// allowlist; direct casting bypasses validation.
type Role string

// Supported roles. Guardians and stewards are the elevated roles eligible
// to approve decisions and manage permission configuration.
const (
	RoleGuardian  Role = "guardian"
	RoleSteward   Role = "steward"
	RoleAdult     Role = "adult"
	RoleOffspring Role = "offspring"
)

var validRoles = map[Role]bool{
	RoleGuardian:  true,
	RoleSteward:   true,
	RoleAdult:     true,
	RoleOffspring: true,
}

// ParseRole constructs a Role from external input.
//
// Errors: returns CodeInvalidInput when the value is empty or unsupported.
func ParseRole(s string) (Role, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "role cannot be empty")
	}
	r := Role(s)
	if !r.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid role")
	}
	return r, nil
}

// IsValid checks if the role is one of the supported enum values.
func (r Role) IsValid() bool {
	return validRoles[r]
}

// IsElevated reports whether the role may manage permission configuration
// and act as an approver on pending decisions.
func (r Role) IsElevated() bool {
	return r == RoleGuardian || r == RoleSteward
}

func (r Role) String() string { return string(r) }
