package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"concord/internal/audit"
	"concord/internal/federation/models"
	id "concord/pkg/domain"
	dErrors "concord/pkg/domain-errors"
	"concord/pkg/platform/sentinel"
	"concord/pkg/requestcontext"
)

// Store persists federation members.
type Store interface {
	Add(ctx context.Context, m *models.Member) error
	Get(ctx context.Context, federationID id.FederationID, memberID id.MemberID) (*models.Member, error)
	HomeFederation(ctx context.Context, memberID id.MemberID) (id.FederationID, error)
	ListByFederation(ctx context.Context, federationID id.FederationID) ([]*models.Member, error)
	CountEligibleApprovers(ctx context.Context, federationID id.FederationID) (int, error)
	Deactivate(ctx context.Context, memberID id.MemberID, mutate func(*models.Member) error) (*models.Member, error)
}

// AuditPublisher records roster changes.
type AuditPublisher interface {
	Emit(ctx context.Context, entry audit.Entry) error
}

// Service manages the federation member roster. The roster backs two core
// checks: the approver-eligibility re-check on every approval, and the
// eligible-approver snapshot taken when a recovery request is created.
type Service struct {
	store  Store
	auditP AuditPublisher
	logger *slog.Logger
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) { s.auditP = publisher }
}

func New(store Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("federation store is required")
	}
	svc := &Service{store: store}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

func (s *Service) AddMember(ctx context.Context, m *models.Member, addedBy id.MemberID, addedByRole id.Role) (*models.Member, error) {
	if !addedByRole.IsElevated() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "only guardians and stewards may add members")
	}
	m.DisplayName = strings.TrimSpace(m.DisplayName)
	m.Active = true
	m.JoinedAt = requestcontext.Now(ctx)
	if err := m.Validate(); err != nil {
		return nil, err
	}

	if err := s.store.Add(ctx, m); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.New(dErrors.CodeConflict, "member already exists")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to add member")
	}

	s.emit(ctx, audit.Entry{
		FederationID: m.FederationID,
		ActorID:      addedBy,
		ActorRole:    addedByRole,
		Action:       audit.ActionMemberAdded,
		Details: map[string]string{
			"member_id": m.ID.String(),
			"role":      m.Role.String(),
		},
	})
	return m, nil
}

func (s *Service) GetMember(ctx context.Context, federationID id.FederationID, memberID id.MemberID) (*models.Member, error) {
	m, err := s.store.Get(ctx, federationID, memberID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "member not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to get member")
	}
	return m, nil
}

func (s *Service) DeactivateMember(ctx context.Context, federationID id.FederationID, memberID id.MemberID, by id.MemberID, byRole id.Role) (*models.Member, error) {
	if !byRole.IsElevated() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "only guardians and stewards may deactivate members")
	}

	now := requestcontext.Now(ctx)
	m, err := s.store.Deactivate(ctx, memberID, func(m *models.Member) error {
		if m.FederationID != federationID {
			return sentinel.ErrNotFound
		}
		if !m.Active {
			return dErrors.New(dErrors.CodeConflict, "member is already deactivated")
		}
		m.Active = false
		m.DeactivatedAt = &now
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, sentinel.ErrNotFound):
			return nil, dErrors.New(dErrors.CodeNotFound, "member not found")
		case errors.Is(err, sentinel.ErrConflict):
			return nil, dErrors.New(dErrors.CodeConflict, "member is already deactivated")
		case dErrors.HasCode(err, dErrors.CodeConflict):
			return nil, err
		default:
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to deactivate member")
		}
	}

	s.emit(ctx, audit.Entry{
		FederationID: federationID,
		ActorID:      by,
		ActorRole:    byRole,
		Action:       audit.ActionMemberDeactivated,
		Details:      map[string]string{"member_id": memberID.String()},
	})
	return m, nil
}

// HomeFederation resolves the federation a member belongs to.
func (s *Service) HomeFederation(ctx context.Context, memberID id.MemberID) (id.FederationID, error) {
	fid, err := s.store.HomeFederation(ctx, memberID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return id.FederationID{}, dErrors.New(dErrors.CodeNotFound, "member not found")
		}
		return id.FederationID{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to resolve home federation")
	}
	return fid, nil
}

// EligibleApproverCount returns the number of active guardians and stewards
// in the federation. Recovery quorums snapshot this at creation; later
// roster changes do not retroactively change in-flight thresholds.
func (s *Service) EligibleApproverCount(ctx context.Context, federationID id.FederationID) (int, error) {
	count, err := s.store.CountEligibleApprovers(ctx, federationID)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to count eligible approvers")
	}
	return count, nil
}

func (s *Service) emit(ctx context.Context, entry audit.Entry) {
	if s.auditP == nil {
		return
	}
	if err := s.auditP.Emit(ctx, entry); err != nil && s.logger != nil {
		s.logger.ErrorContext(ctx, "failed to emit federation audit entry",
			"action", entry.Action,
			"error", err,
		)
	}
}
