package service

import (
	"context"
	"errors"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"concord/internal/audit"
	"concord/internal/decision/models"
	fedmodels "concord/internal/federation/models"
	id "concord/pkg/domain"
	dErrors "concord/pkg/domain-errors"
	"concord/pkg/platform/sentinel"
	"concord/pkg/requestcontext"
)

// maxVoteAttempts bounds the optimistic-concurrency retry loop. Each lost
// race re-reads the decision, so losing repeatedly means heavy contention
// on a single decision and the caller should just retry.
const maxVoteAttempts = 5

// Approve records one approval. Reaching quorum transitions the decision
// and performs the downstream action; approvals past quorum are recorded
// without changing state. A repeat vote by the same approver is a no-op
// that returns the current state.
//
// When the decision is already final the current state is returned along
// with a conflict error so callers can show the outcome.
func (s *Service) Approve(ctx context.Context, decisionID id.DecisionID, approverID id.MemberID) (*models.PendingDecision, error) {
	return s.vote(ctx, decisionID, approverID, models.VoteApprove, "")
}

// Reject records one rejection. Any single rejection by an eligible
// approver is a veto: the decision transitions to rejected immediately,
// regardless of how many approvals it already has.
func (s *Service) Reject(ctx context.Context, decisionID id.DecisionID, approverID id.MemberID, reason string) (*models.PendingDecision, error) {
	return s.vote(ctx, decisionID, approverID, models.VoteReject, strings.TrimSpace(reason))
}

func (s *Service) vote(ctx context.Context, decisionID id.DecisionID, approverID id.MemberID, vote models.Vote, reason string) (*models.PendingDecision, error) {
	ctx, span := s.tracer.Start(ctx, "decision.vote",
		trace.WithAttributes(
			attribute.String("decision_id", decisionID.String()),
			attribute.String("vote", string(vote)),
		))
	defer span.End()

	d, err := s.store.Get(ctx, decisionID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "decision not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load decision")
	}

	approver, err := s.roster.GetMember(ctx, d.FederationID, approverID)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeNotFound) {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "approver is not a member of this federation")
		}
		return nil, err
	}

	for attempt := 0; attempt < maxVoteAttempts; attempt++ {
		now := requestcontext.Now(ctx)

		if d.IsExpired(now) {
			s.markExpired(ctx, d)
			return d, dErrors.New(dErrors.CodeConflict, "decision has expired")
		}
		if d.HasVoted(approverID) {
			return d, nil
		}
		if d.Status != models.StatusPending {
			return d, dErrors.New(dErrors.CodeConflict, "decision is already final")
		}

		// Eligibility is re-checked against the current roster and the
		// current approver policy on every vote, so a role change or
		// deactivation mid-flight takes effect immediately.
		if err := s.checkEligibility(ctx, d, approver); err != nil {
			return nil, err
		}

		expected := d.Version
		quorum, err := d.RecordApproval(models.Approval{
			ApproverID:   approverID,
			ApproverRole: approver.Role,
			Decision:     vote,
			Reason:       reason,
			Timestamp:    now,
		})
		if err != nil {
			return d, err
		}
		if vote == models.VoteReject {
			d.Status = models.StatusRejected
		}

		if err := s.store.Update(ctx, d, expected); err != nil {
			switch {
			case errors.Is(err, sentinel.ErrConflict):
				// Lost the race; reload and re-evaluate from scratch.
				d, err = s.store.Get(ctx, decisionID)
				if err != nil {
					return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to reload decision")
				}
				continue
			case errors.Is(err, sentinel.ErrNotFound):
				return nil, dErrors.New(dErrors.CodeNotFound, "decision not found")
			default:
				return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to record vote")
			}
		}

		s.emit(ctx, d, audit.Entry{
			FederationID: d.FederationID,
			ActorID:      approverID,
			ActorRole:    approver.Role,
			Action:       audit.ActionApprovalRecorded,
			Decision:     string(vote),
			Reason:       reason,
		})

		switch {
		case vote == models.VoteReject:
			s.metrics.IncrementTransition(string(d.Kind), string(models.StatusRejected))
			s.emit(ctx, d, audit.Entry{
				FederationID: d.FederationID,
				ActorID:      approverID,
				ActorRole:    approver.Role,
				Action:       audit.ActionDecisionRejected,
				Decision:     string(models.StatusRejected),
				Reason:       reason,
			})
		case quorum:
			s.metrics.ObserveTimeToQuorum(string(d.Kind), timeSince(ctx, d.CreatedAt))
			s.emit(ctx, d, audit.Entry{
				FederationID: d.FederationID,
				ActorID:      approverID,
				ActorRole:    approver.Role,
				Action:       audit.ActionDecisionApproved,
				Decision:     string(models.StatusApproved),
			})
			if err := s.execute(ctx, d); err != nil {
				return d, err
			}
		}
		return d, nil
	}

	return d, dErrors.New(dErrors.CodeConflict, "decision is under heavy contention, retry")
}

func (s *Service) checkEligibility(ctx context.Context, d *models.PendingDecision, approver *fedmodels.Member) error {
	if !approver.Active {
		return dErrors.New(dErrors.CodeUnauthorized, "approver is deactivated")
	}

	switch d.Kind {
	case models.KindRecovery:
		if !approver.Role.IsElevated() {
			return dErrors.New(dErrors.CodeUnauthorized, "recovery approvals require a guardian or steward role")
		}
		return nil
	case models.KindSigning:
		policy, err := s.perms.ApproverPolicy(ctx, d.FederationID, d.SubjectRole, d.EventType)
		if err != nil {
			if dErrors.HasCode(err, dErrors.CodeNotFound) {
				// The rule was deleted mid-flight; the creation-time
				// snapshot still governs who may act.
				if !d.EligibleApprover(approver.Role) {
					return dErrors.New(dErrors.CodeUnauthorized, "approver role is not eligible for this decision")
				}
				return nil
			}
			return err
		}
		if !policy.ApprovedBy(approver.Role) {
			return dErrors.New(dErrors.CodeUnauthorized, "approver role is not eligible for this decision")
		}
		return nil
	default:
		return dErrors.New(dErrors.CodeInternal, "unknown decision kind")
	}
}
