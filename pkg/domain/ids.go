package domain

import (
	"github.com/google/uuid"

	dErrors "concord/pkg/domain-errors"
)

// Typed IDs prevent cross-entity assignment at compile time. Construct via
// the Parse functions at trust boundaries; direct casting bypasses validation.
type (
	// FederationID identifies a federation (a governance group of members).
	FederationID uuid.UUID

	// MemberID identifies a member within a federation.
	MemberID uuid.UUID

	// DecisionID identifies a pending decision awaiting quorum.
	DecisionID uuid.UUID

	// PermissionID identifies a role permission row.
	PermissionID uuid.UUID

	// OverrideID identifies a member override.
	OverrideID uuid.UUID

	// DelegationID identifies a cross-federation delegation.
	DelegationID uuid.UUID

	// SessionID identifies a signing session created on quorum.
	SessionID uuid.UUID
)

func parseUUID(s, field string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.Newf(dErrors.CodeInvalidInput, "%s is required", field)
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.Newf(dErrors.CodeInvalidInput, "%s must be a valid UUID", field)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.Newf(dErrors.CodeInvalidInput, "%s must not be the nil UUID", field)
	}
	return u, nil
}

// ParseFederationID validates and returns a FederationID.
func ParseFederationID(s string) (FederationID, error) {
	u, err := parseUUID(s, "federation_id")
	return FederationID(u), err
}

// ParseMemberID validates and returns a MemberID.
func ParseMemberID(s string) (MemberID, error) {
	u, err := parseUUID(s, "member_id")
	return MemberID(u), err
}

// ParseDecisionID validates and returns a DecisionID.
func ParseDecisionID(s string) (DecisionID, error) {
	u, err := parseUUID(s, "decision_id")
	return DecisionID(u), err
}

// ParsePermissionID validates and returns a PermissionID.
func ParsePermissionID(s string) (PermissionID, error) {
	u, err := parseUUID(s, "permission_id")
	return PermissionID(u), err
}

// ParseOverrideID validates and returns an OverrideID.
func ParseOverrideID(s string) (OverrideID, error) {
	u, err := parseUUID(s, "override_id")
	return OverrideID(u), err
}

// ParseDelegationID validates and returns a DelegationID.
func ParseDelegationID(s string) (DelegationID, error) {
	u, err := parseUUID(s, "delegation_id")
	return DelegationID(u), err
}

// ParseSessionID validates and returns a SessionID.
func ParseSessionID(s string) (SessionID, error) {
	u, err := parseUUID(s, "session_id")
	return SessionID(u), err
}

func (id FederationID) String() string { return uuid.UUID(id).String() }
func (id MemberID) String() string     { return uuid.UUID(id).String() }
func (id DecisionID) String() string   { return uuid.UUID(id).String() }
func (id PermissionID) String() string { return uuid.UUID(id).String() }
func (id OverrideID) String() string   { return uuid.UUID(id).String() }
func (id DelegationID) String() string { return uuid.UUID(id).String() }
func (id SessionID) String() string    { return uuid.UUID(id).String() }

func (id FederationID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id MemberID) IsNil() bool     { return uuid.UUID(id) == uuid.Nil }
func (id DecisionID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }
func (id PermissionID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id OverrideID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }
func (id DelegationID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id SessionID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
