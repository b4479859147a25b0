package models

import (
	"time"

	id "concord/pkg/domain"
	dErrors "concord/pkg/domain-errors"
)

// RolePermission is the role-level default for one (federation, role,
// event type) key. Rows are never deleted, only superseded: a new write
// replaces the prior row for the same key and history lives in the audit
// log.
type RolePermission struct {
	ID               id.PermissionID
	FederationID     id.FederationID
	Role             id.Role
	EventType        id.EventType
	CanSign          bool
	RequiresApproval bool
	ApprovedByRoles  []id.Role
	MaxDailyCount    *int
	UpdatedBy        id.MemberID
	UpdatedAt        time.Time
}

// Validate checks the invariants a row must satisfy before it is written.
func (p *RolePermission) Validate() error {
	if p.FederationID.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "federation_id is required")
	}
	if !p.Role.IsValid() {
		return dErrors.New(dErrors.CodeValidation, "role is invalid")
	}
	if !p.EventType.IsValid() {
		return dErrors.New(dErrors.CodeValidation, "event_type is invalid")
	}
	if p.RequiresApproval && len(p.ApprovedByRoles) == 0 {
		return dErrors.New(dErrors.CodeValidation, "approved_by_roles is required when requires_approval is set")
	}
	seen := make(map[id.Role]bool, len(p.ApprovedByRoles))
	for _, role := range p.ApprovedByRoles {
		if !role.IsValid() {
			return dErrors.New(dErrors.CodeValidation, "approved_by_roles contains an invalid role")
		}
		if seen[role] {
			return dErrors.New(dErrors.CodeValidation, "approved_by_roles contains duplicates")
		}
		seen[role] = true
	}
	if p.MaxDailyCount != nil && *p.MaxDailyCount <= 0 {
		return dErrors.New(dErrors.CodeValidation, "max_daily_count must be positive")
	}
	return nil
}

// ApprovedBy reports whether the given role is in the configured approver
// set.
func (p *RolePermission) ApprovedBy(role id.Role) bool {
	for _, r := range p.ApprovedByRoles {
		if r == role {
			return true
		}
	}
	return false
}
