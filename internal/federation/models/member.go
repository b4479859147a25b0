package models

import (
	"time"

	id "concord/pkg/domain"
	dErrors "concord/pkg/domain-errors"
)

// Member is one participant in a federation's governance. Deactivation is a
// soft state change: deactivated members stop counting toward recovery
// quorums and lose approver eligibility, but their history remains.
type Member struct {
	ID            id.MemberID
	FederationID  id.FederationID
	Role          id.Role
	DisplayName   string
	Active        bool
	JoinedAt      time.Time
	DeactivatedAt *time.Time
}

// Validate checks the invariants a member must satisfy before creation.
func (m *Member) Validate() error {
	if m.FederationID.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "federation_id is required")
	}
	if m.ID.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "member_id is required")
	}
	if !m.Role.IsValid() {
		return dErrors.New(dErrors.CodeValidation, "role is invalid")
	}
	if m.DisplayName == "" {
		return dErrors.New(dErrors.CodeValidation, "display_name is required")
	}
	return nil
}

// EligibleApprover reports whether the member counts toward approval
// quorums right now.
func (m *Member) EligibleApprover() bool {
	return m.Active && m.Role.IsElevated()
}
