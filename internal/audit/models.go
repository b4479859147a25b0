package audit

import (
	"time"

	"github.com/google/uuid"

	id "concord/pkg/domain"
)

// Action identifies what an audit entry records.
type Action string

const (
	// Permission resolution and configuration.
	ActionPermissionResolved       Action = "permission_resolved"
	ActionRolePermissionConfigured Action = "role_permission_configured"
	ActionOverrideGranted          Action = "override_granted"
	ActionOverrideRevoked          Action = "override_revoked"
	ActionTimeWindowSet            Action = "time_window_set"

	// Delegations.
	ActionDelegationCreated Action = "delegation_created"
	ActionDelegationRevoked Action = "delegation_revoked"
	ActionDelegationUsed    Action = "delegation_used"

	// Decision lifecycle.
	ActionDecisionCreated  Action = "decision_created"
	ActionApprovalRecorded Action = "approval_recorded"
	ActionDecisionApproved Action = "decision_approved"
	ActionDecisionRejected Action = "decision_rejected"
	ActionDecisionExpired  Action = "decision_expired"
	ActionSessionCreated   Action = "session_created"
	ActionRecoveryExecuted Action = "recovery_executed"
	ActionDownstreamFailed Action = "downstream_failed"

	// Federation roster.
	ActionMemberAdded       Action = "member_added"
	ActionMemberDeactivated Action = "member_deactivated"
)

// Entry is one append-only audit record. Entries are never updated or
// deleted; they are the source of truth for "why was this allowed/denied".
type Entry struct {
	ID           uuid.UUID
	DecisionID   *id.DecisionID // nil for entries not tied to a pending decision
	FederationID id.FederationID
	ActorID      id.MemberID
	ActorRole    id.Role
	Action       Action
	Decision     string // outcome: allowed, denied, requires_approval, approved, ...
	Reason       string
	Details      map[string]string
	RequestID    string
	Timestamp    time.Time
}

// Filter narrows List queries. Zero fields are ignored. EventType matches
// against the entry's event_type detail, set on resolution and decision
// entries.
type Filter struct {
	MemberID  id.MemberID
	EventType id.EventType
	Action    Action
	Decision  string
	From      time.Time
	To        time.Time
	Limit     int
	Offset    int
}

// DefaultPageSize bounds unpaginated List calls.
const DefaultPageSize = 100
