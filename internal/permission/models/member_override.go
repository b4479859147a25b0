package models

import (
	"time"

	id "concord/pkg/domain"
	dErrors "concord/pkg/domain-errors"
)

// MemberOverride grants or denies one member one event type, taking
// precedence over the role default while active. Revocation is a soft
// delete: revoked rows stay in the store for audit continuity.
type MemberOverride struct {
	ID            id.OverrideID
	FederationID  id.FederationID
	MemberID      id.MemberID
	EventType     id.EventType
	CanSign       bool
	MaxDailyCount *int
	ValidUntil    *time.Time
	GrantReason   string
	GrantedBy     id.MemberID
	CreatedAt     time.Time

	RevokedAt    *time.Time
	RevokedBy    *id.MemberID
	RevokeReason string
}

// Validate checks the invariants an override must satisfy before creation.
func (o *MemberOverride) Validate() error {
	if o.FederationID.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "federation_id is required")
	}
	if o.MemberID.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "member_id is required")
	}
	if !o.EventType.IsValid() {
		return dErrors.New(dErrors.CodeValidation, "event_type is invalid")
	}
	if o.GrantedBy.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "granted_by is required")
	}
	if o.MaxDailyCount != nil && *o.MaxDailyCount <= 0 {
		return dErrors.New(dErrors.CodeValidation, "max_daily_count must be positive")
	}
	if o.ValidUntil != nil && !o.CreatedAt.IsZero() && !o.ValidUntil.After(o.CreatedAt) {
		return dErrors.New(dErrors.CodeValidation, "valid_until must be after creation time")
	}
	return nil
}

// IsActive reports whether the override is neither revoked nor expired at
// the given instant. An inactive override is skipped entirely by the
// resolver; it never denies on its own.
func (o *MemberOverride) IsActive(now time.Time) bool {
	if o.RevokedAt != nil {
		return false
	}
	if o.ValidUntil != nil && !now.Before(*o.ValidUntil) {
		return false
	}
	return true
}

// Revoke marks the override revoked. Idempotent revocation is rejected so
// callers can distinguish a repeat call.
func (o *MemberOverride) Revoke(by id.MemberID, reason string, now time.Time) error {
	if o.RevokedAt != nil {
		return dErrors.New(dErrors.CodeConflict, "override is already revoked")
	}
	o.RevokedAt = &now
	o.RevokedBy = &by
	o.RevokeReason = reason
	return nil
}
