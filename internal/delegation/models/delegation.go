package models

import (
	"time"

	id "concord/pkg/domain"
	dErrors "concord/pkg/domain-errors"
)

// Delegation lets members of the target federation exercise the delegated
// event types against the source federation's resources, subject to its own
// expiry and daily usage cap. Created by the source federation's
// guardian/steward and independently revocable.
type Delegation struct {
	ID                  id.DelegationID
	SourceFederationID  id.FederationID
	TargetFederationID  id.FederationID
	DelegatedEventTypes []id.EventType
	TargetMemberID      *id.MemberID // nil: applies to any member of the target federation
	ValidUntil          *time.Time
	MaxDailyUses        *int
	UsageCount          int
	CreatedBy           id.MemberID
	CreatedAt           time.Time

	RevokedAt *time.Time
	RevokedBy *id.MemberID
}

// Validate checks the invariants a delegation must satisfy before creation.
func (d *Delegation) Validate() error {
	if d.SourceFederationID.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "source_federation_id is required")
	}
	if d.TargetFederationID.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "target_federation_id is required")
	}
	if d.SourceFederationID == d.TargetFederationID {
		return dErrors.New(dErrors.CodeValidation, "source and target federations must differ")
	}
	if len(d.DelegatedEventTypes) == 0 {
		return dErrors.New(dErrors.CodeValidation, "delegated_event_types is required")
	}
	for _, e := range d.DelegatedEventTypes {
		if !e.IsValid() {
			return dErrors.New(dErrors.CodeValidation, "delegated_event_types contains an invalid event type")
		}
	}
	if d.MaxDailyUses != nil && *d.MaxDailyUses <= 0 {
		return dErrors.New(dErrors.CodeValidation, "max_daily_uses must be positive")
	}
	if d.CreatedBy.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "created_by is required")
	}
	return nil
}

// IsActive reports whether the delegation is neither revoked nor expired.
func (d *Delegation) IsActive(now time.Time) bool {
	if d.RevokedAt != nil {
		return false
	}
	if d.ValidUntil != nil && !now.Before(*d.ValidUntil) {
		return false
	}
	return true
}

// Covers reports whether the delegation applies to the given member and
// event type.
func (d *Delegation) Covers(memberID id.MemberID, eventType id.EventType) bool {
	if d.TargetMemberID != nil && *d.TargetMemberID != memberID {
		return false
	}
	for _, e := range d.DelegatedEventTypes {
		if e == eventType {
			return true
		}
	}
	return false
}
