package service

import (
	"context"
	"time"

	"concord/internal/audit"
	"concord/internal/decision/models"
	fedmodels "concord/internal/federation/models"
	permmodels "concord/internal/permission/models"
	permsvc "concord/internal/permission/service"
	id "concord/pkg/domain"
)

// Store persists pending decisions with optimistic concurrency. Update must
// fail with sentinel.ErrConflict when the stored version no longer matches,
// so exactly one of any set of racing writers completes a transition.
type Store interface {
	CreateOrJoin(ctx context.Context, d *models.PendingDecision) (*models.PendingDecision, bool, error)
	Get(ctx context.Context, decisionID id.DecisionID) (*models.PendingDecision, error)
	Update(ctx context.Context, d *models.PendingDecision, expectedVersion int) error
	ListOpenExpired(ctx context.Context, now time.Time, limit int) ([]*models.PendingDecision, error)
	ListByFederation(ctx context.Context, federationID id.FederationID) ([]*models.PendingDecision, error)
}

// PermissionEngine classifies signing attempts and supplies the approver
// policy for eligibility checks.
type PermissionEngine interface {
	Resolve(ctx context.Context, input permsvc.ResolveInput) (permmodels.Resolution, error)
	ApproverPolicy(ctx context.Context, federationID id.FederationID, role id.Role, eventType id.EventType) (*permmodels.RolePermission, error)
}

// Roster answers membership questions against the current federation roster.
// Approver eligibility is always re-checked here so a role change or
// deactivation mid-flight takes effect on the next approval.
type Roster interface {
	GetMember(ctx context.Context, federationID id.FederationID, memberID id.MemberID) (*fedmodels.Member, error)
	EligibleApproverCount(ctx context.Context, federationID id.FederationID) (int, error)
}

// SessionCreator opens a downstream signing session once quorum is reached.
type SessionCreator interface {
	CreateSession(ctx context.Context, d *models.PendingDecision) (id.SessionID, error)
}

// RecoveryExecutor performs the downstream recovery action for an approved
// request. One method per request type keeps the dispatch switch exhaustive
// over the closed enum.
type RecoveryExecutor interface {
	ReconstructIdentityKey(ctx context.Context, d *models.PendingDecision) error
	RecoverECash(ctx context.Context, d *models.PendingDecision) error
	ReleaseEmergencyLiquidity(ctx context.Context, d *models.PendingDecision) error
	RestoreAccountAccess(ctx context.Context, d *models.PendingDecision) error
}

// AuditPublisher records decision lifecycle events.
type AuditPublisher interface {
	Emit(ctx context.Context, entry audit.Entry) error
}
