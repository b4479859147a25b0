package service

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"concord/internal/audit"
	"concord/internal/decision/models"
	permmodels "concord/internal/permission/models"
	permsvc "concord/internal/permission/service"
	id "concord/pkg/domain"
	dErrors "concord/pkg/domain-errors"
	"concord/pkg/requestcontext"
)

// recoveryTTL bounds how long a recovery request stays open. Signing
// decisions carry no deadline.
const recoveryTTL = 24 * time.Hour

// SigningInput starts a signing attempt for the subject's own action.
type SigningInput struct {
	FederationID    id.FederationID
	SubjectMemberID id.MemberID
	EventType       id.EventType
}

// CreateResult reports the decision and whether this call created it. A
// second attempt for the same (subject, action) while one is open joins the
// existing decision instead of opening another.
type CreateResult struct {
	Decision *models.PendingDecision
	Created  bool
}

// CreateSigning classifies a signing attempt and routes it. A denied
// attempt fails; an allowed attempt executes immediately and the returned
// decision is already signed; an attempt requiring approval opens (or
// joins) a pending decision.
func (s *Service) CreateSigning(ctx context.Context, input SigningInput) (*CreateResult, error) {
	ctx, span := s.tracer.Start(ctx, "decision.CreateSigning",
		trace.WithAttributes(
			attribute.String("federation_id", input.FederationID.String()),
			attribute.String("event_type", input.EventType.String()),
		))
	defer span.End()

	member, err := s.roster.GetMember(ctx, input.FederationID, input.SubjectMemberID)
	if err != nil {
		return nil, err
	}
	if !member.Active {
		return nil, dErrors.New(dErrors.CodeForbidden, "member is deactivated")
	}

	// The gating resolve consumes: the daily counter increments, cooldown
	// last-use is stamped, and the outcome lands in the audit log with its
	// winning layer. A retry that ends up joining an open decision is
	// still an attempt and counts against the cap.
	resolution, err := s.perms.Resolve(ctx, permsvc.ResolveInput{
		FederationID: input.FederationID,
		MemberID:     input.SubjectMemberID,
		Role:         member.Role,
		EventType:    input.EventType,
		Consume:      true,
	})
	if err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx)
	d := &models.PendingDecision{
		ID:              id.DecisionID(uuid.New()),
		Kind:            models.KindSigning,
		FederationID:    input.FederationID,
		SubjectMemberID: input.SubjectMemberID,
		SubjectRole:     member.Role,
		EventType:       input.EventType,
		CreatedBy:       input.SubjectMemberID,
		CreatedAt:       now,
	}

	switch resolution.Effect {
	case permmodels.EffectDenied:
		if resolution.CapExhausted {
			return nil, dErrors.New(dErrors.CodeQuotaExceeded, "daily signing cap reached for this event type")
		}
		return nil, dErrors.New(dErrors.CodeForbidden, "signing is denied for this member and event type")

	case permmodels.EffectAllowed:
		return s.createImmediate(ctx, d)

	case permmodels.EffectRequiresApproval:
		d.Status = models.StatusPending
		d.RequiredApprovals = len(resolution.ApprovedByRoles)
		d.ApprovedByRoles = append([]id.Role(nil), resolution.ApprovedByRoles...)
		return s.persist(ctx, d)

	default:
		return nil, dErrors.New(dErrors.CodeInternal, "unknown resolution effect")
	}
}

// createImmediate handles the no-approval-needed path: the gating resolve
// already consumed the usage, so the decision persists as approved and
// executes downstream right away.
func (s *Service) createImmediate(ctx context.Context, d *models.PendingDecision) (*CreateResult, error) {
	d.Status = models.StatusApproved
	result, err := s.persist(ctx, d)
	if err != nil {
		return nil, err
	}
	if !result.Created {
		return result, nil
	}
	if err := s.execute(ctx, result.Decision); err != nil {
		return result, err
	}
	return result, nil
}

// RecoveryInput starts a recovery request.
type RecoveryInput struct {
	FederationID    id.FederationID
	SubjectMemberID id.MemberID
	RequestType     id.RecoveryRequestType
	Urgency         id.Urgency
	Reason          string
	Description     string
	RequestedBy     id.MemberID
}

// CreateRecovery opens (or joins) a recovery decision. The quorum is fixed
// at creation to ceil(0.75 x active elevated members); later roster changes
// do not move in-flight thresholds. Recovery requests expire after 24
// hours.
func (s *Service) CreateRecovery(ctx context.Context, input RecoveryInput) (*CreateResult, error) {
	ctx, span := s.tracer.Start(ctx, "decision.CreateRecovery",
		trace.WithAttributes(
			attribute.String("federation_id", input.FederationID.String()),
			attribute.String("request_type", input.RequestType.String()),
		))
	defer span.End()

	requester, err := s.roster.GetMember(ctx, input.FederationID, input.RequestedBy)
	if err != nil {
		return nil, err
	}
	if !requester.Active {
		return nil, dErrors.New(dErrors.CodeForbidden, "requester is deactivated")
	}
	if _, err := s.roster.GetMember(ctx, input.FederationID, input.SubjectMemberID); err != nil {
		return nil, err
	}

	eligible, err := s.roster.EligibleApproverCount(ctx, input.FederationID)
	if err != nil {
		return nil, err
	}
	if eligible == 0 {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "federation has no eligible approvers")
	}

	now := requestcontext.Now(ctx)
	d := &models.PendingDecision{
		ID:                id.DecisionID(uuid.New()),
		Kind:              models.KindRecovery,
		FederationID:      input.FederationID,
		SubjectMemberID:   input.SubjectMemberID,
		SubjectRole:       requester.Role,
		RequestType:       input.RequestType,
		Urgency:           input.Urgency,
		Reason:            strings.TrimSpace(input.Reason),
		Description:       strings.TrimSpace(input.Description),
		RequiredApprovals: quorumOf(eligible),
		ApprovedByRoles:   []id.Role{id.RoleGuardian, id.RoleSteward},
		Status:            models.StatusPending,
		CreatedBy:         input.RequestedBy,
		CreatedAt:         now,
		ExpiresAt:         now.Add(recoveryTTL),
	}
	return s.persist(ctx, d)
}

// quorumOf computes ceil(0.75 x n) in integer arithmetic.
func quorumOf(n int) int {
	return (3*n + 3) / 4
}

func (s *Service) persist(ctx context.Context, d *models.PendingDecision) (*CreateResult, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}

	stored, created, err := s.store.CreateOrJoin(ctx, d)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create decision")
	}
	if !created {
		return &CreateResult{Decision: stored, Created: false}, nil
	}

	s.metrics.IncrementCreated(string(stored.Kind))
	entry := audit.Entry{
		FederationID: stored.FederationID,
		ActorID:      stored.CreatedBy,
		ActorRole:    stored.SubjectRole,
		Action:       audit.ActionDecisionCreated,
		Details: map[string]string{
			"kind":               string(stored.Kind),
			"action":             stored.ActionKey(),
			"required_approvals": strconv.Itoa(stored.RequiredApprovals),
		},
	}
	if stored.Kind == models.KindRecovery {
		entry.Reason = stored.Reason
		entry.Details["urgency"] = string(stored.Urgency)
	}
	s.emit(ctx, stored, entry)
	return &CreateResult{Decision: stored, Created: true}, nil
}
