package models

import (
	"time"

	id "concord/pkg/domain"
	dErrors "concord/pkg/domain-errors"
)

// Kind selects which consensus flavor a pending decision drives.
type Kind string

const (
	KindSigning  Kind = "signing"
	KindRecovery Kind = "recovery"
)

// Status is the state machine's state. pending is the only non-terminal
// state; approved is a transient step the quorum winner moves through on
// its way to signed or failed.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusSigned   Status = "signed"
	StatusFailed   Status = "failed"
	StatusExpired  Status = "expired"
)

// Vote is one approver's recorded decision.
type Vote string

const (
	VoteApprove Vote = "approve"
	VoteReject  Vote = "reject"
	VoteAbstain Vote = "abstain"
)

// Approval is one approver action. Approvals are append-only; entries past
// quorum are kept for audit but do not affect state.
type Approval struct {
	ApproverID   id.MemberID `json:"approver_id"`
	ApproverRole id.Role     `json:"approver_role"`
	Decision     Vote        `json:"decision"`
	Reason       string      `json:"reason,omitempty"`
	Timestamp    time.Time   `json:"timestamp"`
}

// PendingDecision is the unit of consensus: one signing or recovery request
// accumulating approver actions until quorum, veto, or expiry.
//
// Version backs optimistic concurrency: every store write increments it and
// is conditional on the version read, so exactly one concurrent approval
// can be the quorum-reaching one.
type PendingDecision struct {
	ID              id.DecisionID
	Kind            Kind
	FederationID    id.FederationID
	SubjectMemberID id.MemberID
	SubjectRole     id.Role

	// Signing requests.
	EventType id.EventType

	// Recovery requests.
	RequestType id.RecoveryRequestType
	Urgency     id.Urgency
	Reason      string
	Description string

	RequiredApprovals int
	ApprovedByRoles   []id.Role // snapshot of eligible approver roles at creation
	Approvals         []Approval

	Status        Status
	SessionID     *id.SessionID
	FailureReason string

	CreatedBy id.MemberID
	CreatedAt time.Time
	ExpiresAt time.Time // zero: no expiry

	Version int
}

// ActionKey identifies the (subject, action) pair for duplicate-open
// detection: at most one pending decision may be open per key.
func (d *PendingDecision) ActionKey() string {
	if d.Kind == KindRecovery {
		return "recovery:" + d.RequestType.String()
	}
	return "signing:" + d.EventType.String()
}

// IsFinal reports whether the decision can no longer change.
func (d *PendingDecision) IsFinal() bool {
	switch d.Status {
	case StatusSigned, StatusRejected, StatusFailed, StatusExpired:
		return true
	}
	return false
}

// IsExpired reports whether a pending decision's deadline has passed.
// Expiry is evaluated lazily on access; there is no scheduler dependency.
func (d *PendingDecision) IsExpired(now time.Time) bool {
	return d.Status == StatusPending && !d.ExpiresAt.IsZero() && !now.Before(d.ExpiresAt)
}

// HasVoted reports whether the approver has already acted on this decision.
func (d *PendingDecision) HasVoted(approverID id.MemberID) bool {
	for _, a := range d.Approvals {
		if a.ApproverID == approverID {
			return true
		}
	}
	return false
}

// ApproveCount counts distinct approve votes. Approvals recorded after
// quorum never push the effective count past RequiredApprovals because the
// transition fires exactly when the count reaches the threshold.
func (d *PendingDecision) ApproveCount() int {
	count := 0
	for _, a := range d.Approvals {
		if a.Decision == VoteApprove {
			count++
		}
	}
	return count
}

// EligibleApprover reports whether the given role may act on this decision,
// from the eligibility snapshot taken at creation.
func (d *PendingDecision) EligibleApprover(role id.Role) bool {
	for _, r := range d.ApprovedByRoles {
		if r == role {
			return true
		}
	}
	return false
}

// RecordApproval appends a vote and reports whether it reached quorum.
// Callers must have already checked eligibility and duplicates.
func (d *PendingDecision) RecordApproval(a Approval) (quorum bool, err error) {
	if d.Status != StatusPending {
		return false, dErrors.New(dErrors.CodeConflict, "decision is already final")
	}
	d.Approvals = append(d.Approvals, a)
	if a.Decision == VoteApprove && d.ApproveCount() >= d.RequiredApprovals {
		d.Status = StatusApproved
		return true, nil
	}
	return false, nil
}

// Validate checks creation-time invariants.
func (d *PendingDecision) Validate() error {
	if d.FederationID.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "federation_id is required")
	}
	if d.SubjectMemberID.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "subject_member_id is required")
	}
	if d.RequiredApprovals < 0 {
		return dErrors.New(dErrors.CodeValidation, "required_approvals cannot be negative")
	}
	switch d.Kind {
	case KindSigning:
		if !d.EventType.IsValid() {
			return dErrors.New(dErrors.CodeValidation, "event_type is invalid")
		}
		// An immediately-allowed action records zero required approvals
		// and no snapshot; anything pending needs both.
		if d.RequiredApprovals > 0 && len(d.ApprovedByRoles) == 0 {
			return dErrors.New(dErrors.CodeValidation, "approved_by_roles snapshot is required")
		}
	case KindRecovery:
		if d.RequiredApprovals < 1 {
			return dErrors.New(dErrors.CodeValidation, "required_approvals must be at least 1")
		}
		if !d.RequestType.IsValid() {
			return dErrors.New(dErrors.CodeValidation, "request_type is invalid")
		}
		if d.Reason == "" {
			return dErrors.New(dErrors.CodeValidation, "reason is required")
		}
		if d.Description == "" {
			return dErrors.New(dErrors.CodeValidation, "description is required")
		}
		if d.ExpiresAt.IsZero() {
			return dErrors.New(dErrors.CodeValidation, "recovery decisions require an expiry")
		}
	default:
		return dErrors.New(dErrors.CodeValidation, "kind must be signing or recovery")
	}
	return nil
}
