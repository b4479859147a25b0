package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"concord/internal/audit"
	decmetrics "concord/internal/decision/metrics"
	"concord/internal/decision/models"
	id "concord/pkg/domain"
	dErrors "concord/pkg/domain-errors"
	"concord/pkg/platform/sentinel"
	"concord/pkg/requestcontext"
)

// Service is the approval threshold state machine. It creates pending
// decisions for actions that need multi-party consent, accumulates approver
// votes, and on quorum performs the downstream action exactly once.
//
// All state transitions go through version-guarded store writes: when
// several approvals race past the threshold, one writer serializes the
// pending-to-approved transition and only that writer dispatches downstream.
type Service struct {
	store    Store
	perms    PermissionEngine
	roster   Roster
	sessions SessionCreator
	recovery RecoveryExecutor
	auditP   AuditPublisher
	metrics  *decmetrics.Metrics
	logger   *slog.Logger
	tracer   trace.Tracer
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) { s.auditP = publisher }
}

func WithMetrics(m *decmetrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func New(store Store, perms PermissionEngine, roster Roster, sessions SessionCreator, recovery RecoveryExecutor, opts ...Option) (*Service, error) {
	switch {
	case store == nil:
		return nil, errors.New("decision store is required")
	case perms == nil:
		return nil, errors.New("permission engine is required")
	case roster == nil:
		return nil, errors.New("roster is required")
	case sessions == nil:
		return nil, errors.New("session creator is required")
	case recovery == nil:
		return nil, errors.New("recovery executor is required")
	}
	svc := &Service{
		store:    store,
		perms:    perms,
		roster:   roster,
		sessions: sessions,
		recovery: recovery,
		tracer:   otel.Tracer("concord/decision"),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Get returns one decision. Expiry is applied lazily: a pending decision
// past its deadline is transitioned to expired before it is returned.
func (s *Service) Get(ctx context.Context, decisionID id.DecisionID) (*models.PendingDecision, error) {
	d, err := s.store.Get(ctx, decisionID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "decision not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load decision")
	}
	return s.expireIfDue(ctx, d), nil
}

// ListByFederation returns all decisions for a federation.
func (s *Service) ListByFederation(ctx context.Context, federationID id.FederationID) ([]*models.PendingDecision, error) {
	ds, err := s.store.ListByFederation(ctx, federationID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list decisions")
	}
	for i, d := range ds {
		ds[i] = s.expireIfDue(ctx, d)
	}
	return ds, nil
}

// SweepExpired transitions pending decisions past their deadline to
// expired. It backs the periodic sweep; the same transition also happens
// lazily whenever an expired decision is read or voted on.
func (s *Service) SweepExpired(ctx context.Context, limit int) (int, error) {
	now := requestcontext.Now(ctx)
	due, err := s.store.ListOpenExpired(ctx, now, limit)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list expired decisions")
	}

	swept := 0
	for _, d := range due {
		if s.markExpired(ctx, d) {
			swept++
		}
	}
	return swept, nil
}

// expireIfDue applies lazy expiry and returns the freshest view of d.
func (s *Service) expireIfDue(ctx context.Context, d *models.PendingDecision) *models.PendingDecision {
	if !d.IsExpired(requestcontext.Now(ctx)) {
		return d
	}
	s.markExpired(ctx, d)
	return d
}

// markExpired moves a pending decision to expired. A lost version race
// means someone else already transitioned it; the caller's copy is refreshed
// either way.
func (s *Service) markExpired(ctx context.Context, d *models.PendingDecision) bool {
	expected := d.Version
	d.Status = models.StatusExpired
	err := s.store.Update(ctx, d, expected)
	if err != nil {
		if current, getErr := s.store.Get(ctx, d.ID); getErr == nil {
			*d = *current
		}
		if !errors.Is(err, sentinel.ErrConflict) && s.logger != nil {
			s.logger.ErrorContext(ctx, "failed to expire decision",
				"decision_id", d.ID,
				"error", err,
			)
		}
		return false
	}

	s.metrics.IncrementTransition(string(d.Kind), string(models.StatusExpired))
	s.emit(ctx, d, audit.Entry{
		FederationID: d.FederationID,
		ActorID:      d.SubjectMemberID,
		ActorRole:    d.SubjectRole,
		Action:       audit.ActionDecisionExpired,
		Decision:     string(models.StatusExpired),
	})
	return true
}

// execute performs the downstream action for a decision that just reached
// quorum. Only the writer that won the pending-to-approved transition calls
// this, so the downstream action fires at most once per decision.
func (s *Service) execute(ctx context.Context, d *models.PendingDecision) error {
	var execErr error
	switch d.Kind {
	case models.KindSigning:
		var sid id.SessionID
		sid, execErr = s.sessions.CreateSession(ctx, d)
		if execErr == nil {
			d.SessionID = &sid
		}
	case models.KindRecovery:
		execErr = s.dispatchRecovery(ctx, d)
	default:
		execErr = dErrors.New(dErrors.CodeInternal, "unknown decision kind")
	}

	expected := d.Version
	if execErr != nil {
		d.Status = models.StatusFailed
		d.FailureReason = execErr.Error()
	} else {
		d.Status = models.StatusSigned
	}

	if err := s.store.Update(ctx, d, expected); err != nil {
		// The approved-to-terminal write has no competing writers; a
		// failure here leaves the decision parked in approved and is
		// surfaced for the operator.
		if s.logger != nil {
			s.logger.ErrorContext(ctx, "failed to finalize decision",
				"decision_id", d.ID,
				"status", d.Status,
				"error", err,
			)
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to finalize decision")
	}

	s.metrics.IncrementTransition(string(d.Kind), string(d.Status))
	if execErr != nil {
		s.emit(ctx, d, audit.Entry{
			FederationID: d.FederationID,
			ActorID:      d.SubjectMemberID,
			ActorRole:    d.SubjectRole,
			Action:       audit.ActionDownstreamFailed,
			Decision:     string(models.StatusFailed),
			Reason:       d.FailureReason,
		})
		return dErrors.Wrap(execErr, dErrors.CodeDownstream, "downstream execution failed")
	}

	switch d.Kind {
	case models.KindSigning:
		entry := audit.Entry{
			FederationID: d.FederationID,
			ActorID:      d.SubjectMemberID,
			ActorRole:    d.SubjectRole,
			Action:       audit.ActionSessionCreated,
			Decision:     string(models.StatusSigned),
		}
		if d.SessionID != nil {
			entry.Details = map[string]string{"session_id": d.SessionID.String()}
		}
		s.emit(ctx, d, entry)
	case models.KindRecovery:
		s.emit(ctx, d, audit.Entry{
			FederationID: d.FederationID,
			ActorID:      d.SubjectMemberID,
			ActorRole:    d.SubjectRole,
			Action:       audit.ActionRecoveryExecuted,
			Decision:     string(models.StatusSigned),
			Details:      map[string]string{"request_type": d.RequestType.String()},
		})
	}
	return nil
}

func (s *Service) dispatchRecovery(ctx context.Context, d *models.PendingDecision) error {
	switch d.RequestType {
	case id.RecoveryIdentityKey:
		return s.recovery.ReconstructIdentityKey(ctx, d)
	case id.RecoveryECash:
		return s.recovery.RecoverECash(ctx, d)
	case id.RecoveryEmergencyLiquidity:
		return s.recovery.ReleaseEmergencyLiquidity(ctx, d)
	case id.RecoveryAccountRestoration:
		return s.recovery.RestoreAccountAccess(ctx, d)
	default:
		return dErrors.New(dErrors.CodeInternal, "unknown recovery request type")
	}
}

func (s *Service) emit(ctx context.Context, d *models.PendingDecision, entry audit.Entry) {
	if s.auditP == nil {
		return
	}
	did := d.ID
	entry.DecisionID = &did
	if err := s.auditP.Emit(ctx, entry); err != nil && s.logger != nil {
		s.logger.ErrorContext(ctx, "failed to emit decision audit entry",
			"decision_id", d.ID,
			"action", entry.Action,
			"error", err,
		)
	}
}

func timeSince(ctx context.Context, from time.Time) time.Duration {
	return requestcontext.Now(ctx).Sub(from)
}
