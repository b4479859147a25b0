package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"concord/internal/audit"
	"concord/internal/delegation/models"
	id "concord/pkg/domain"
	dErrors "concord/pkg/domain-errors"
	"concord/pkg/platform/sentinel"
	"concord/pkg/requestcontext"
)

// Store persists delegations.
type Store interface {
	Create(ctx context.Context, d *models.Delegation) error
	GetByID(ctx context.Context, delegationID id.DelegationID) (*models.Delegation, error)
	FindBetween(ctx context.Context, sourceID, targetID id.FederationID) ([]*models.Delegation, error)
	Revoke(ctx context.Context, delegationID id.DelegationID, by id.MemberID, now time.Time) error
	IncrementUsage(ctx context.Context, delegationID id.DelegationID) error
}

// UsageStore counts per-day delegation uses. Days are UTC calendar days.
type UsageStore interface {
	DailyCount(ctx context.Context, key, day string) (int, error)
	IncrementDaily(ctx context.Context, key, day string) (int, error)
}

// AuditPublisher records delegation lifecycle and usage.
type AuditPublisher interface {
	Emit(ctx context.Context, entry audit.Entry) error
}

// Service manages cross-federation delegations and answers the resolution
// engine's delegation-layer checks.
type Service struct {
	store  Store
	usage  UsageStore
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

func New(store Store, usage UsageStore, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("delegation store is required")
	}
	if usage == nil {
		return nil, errors.New("usage store is required")
	}
	svc := &Service{store: store, usage: usage}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// CreateInput carries everything needed to create a delegation. CreatorRole
// must be elevated; the handler has already authenticated the creator.
type CreateInput struct {
	SourceFederationID  id.FederationID
	TargetFederationID  id.FederationID
	DelegatedEventTypes []id.EventType
	TargetMemberID      *id.MemberID
	ValidUntil          *time.Time
	MaxDailyUses        *int
	CreatedBy           id.MemberID
	CreatorRole         id.Role
}

func (s *Service) Create(ctx context.Context, input CreateInput) (*models.Delegation, error) {
	if !input.CreatorRole.IsElevated() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "only guardians and stewards may create delegations")
	}

	d := &models.Delegation{
		ID:                  id.DelegationID(uuid.New()),
		SourceFederationID:  input.SourceFederationID,
		TargetFederationID:  input.TargetFederationID,
		DelegatedEventTypes: input.DelegatedEventTypes,
		TargetMemberID:      input.TargetMemberID,
		ValidUntil:          input.ValidUntil,
		MaxDailyUses:        input.MaxDailyUses,
		CreatedBy:           input.CreatedBy,
		CreatedAt:           requestcontext.Now(ctx),
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}

	if err := s.store.Create(ctx, d); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create delegation")
	}

	s.emit(ctx, audit.Entry{
		FederationID: d.SourceFederationID,
		ActorID:      d.CreatedBy,
		ActorRole:    input.CreatorRole,
		Action:       audit.ActionDelegationCreated,
		Details: map[string]string{
			"delegation_id":     d.ID.String(),
			"target_federation": d.TargetFederationID.String(),
		},
	})
	return d, nil
}

func (s *Service) Get(ctx context.Context, delegationID id.DelegationID) (*models.Delegation, error) {
	d, err := s.store.GetByID(ctx, delegationID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "delegation not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to get delegation")
	}
	return d, nil
}

// Revoke marks a delegation revoked. Revocation is immediate: the resolver
// reads delegations from the store on every call, so no stale "allowed"
// decision can follow a successful revoke.
func (s *Service) Revoke(ctx context.Context, delegationID id.DelegationID, by id.MemberID, role id.Role) error {
	if !role.IsElevated() {
		return dErrors.New(dErrors.CodeUnauthorized, "only guardians and stewards may revoke delegations")
	}

	err := s.store.Revoke(ctx, delegationID, by, requestcontext.Now(ctx))
	if err != nil {
		switch {
		case errors.Is(err, sentinel.ErrNotFound):
			return dErrors.New(dErrors.CodeNotFound, "delegation not found")
		case errors.Is(err, sentinel.ErrConflict):
			return dErrors.New(dErrors.CodeConflict, "delegation is already revoked")
		default:
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to revoke delegation")
		}
	}

	d, getErr := s.store.GetByID(ctx, delegationID)
	federationID := id.FederationID{}
	if getErr == nil {
		federationID = d.SourceFederationID
	}
	s.emit(ctx, audit.Entry{
		FederationID: federationID,
		ActorID:      by,
		ActorRole:    role,
		Action:       audit.ActionDelegationRevoked,
		Details:      map[string]string{"delegation_id": delegationID.String()},
	})
	return nil
}

// Authorize answers the resolution engine's delegation layer: is there an
// active delegation from sourceID to the member's home federation covering
// eventType, with cap headroom for today? A delegation over its daily cap
// is skipped on both the consuming and informational paths, so the caller
// falls through to the role-default layer. When consume is set, the
// matching delegation's counter is incremented atomically.
func (s *Service) Authorize(ctx context.Context, sourceID, memberFederationID id.FederationID, memberID id.MemberID, eventType id.EventType, consume bool, now time.Time) (bool, error) {
	delegations, err := s.store.FindBetween(ctx, sourceID, memberFederationID)
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to look up delegations")
	}

	for _, d := range delegations {
		if !d.IsActive(now) || !d.Covers(memberID, eventType) {
			continue
		}
		if !consume {
			if d.MaxDailyUses != nil {
				count, err := s.usage.DailyCount(ctx, "delegation:"+d.ID.String(), utcDay(now))
				if err != nil {
					return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read delegation usage")
				}
				if count >= *d.MaxDailyUses {
					continue
				}
			}
			return true, nil
		}

		if d.MaxDailyUses != nil {
			count, err := s.usage.IncrementDaily(ctx, "delegation:"+d.ID.String(), utcDay(now))
			if err != nil {
				return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to count delegation usage")
			}
			if count > *d.MaxDailyUses {
				// Over the cap today; this delegation cannot serve the
				// resolution. Another matching delegation still can.
				continue
			}
		}

		if err := s.store.IncrementUsage(ctx, d.ID); err != nil {
			return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to record delegation usage")
		}
		s.emit(ctx, audit.Entry{
			FederationID: sourceID,
			ActorID:      memberID,
			Action:       audit.ActionDelegationUsed,
			Details: map[string]string{
				"delegation_id": d.ID.String(),
				"event_type":    eventType.String(),
			},
		})
		return true, nil
	}
	return false, nil
}

func (s *Service) emit(ctx context.Context, entry audit.Entry) {
	if s.auditP == nil {
		return
	}
	if err := s.auditP.Emit(ctx, entry); err != nil && s.logger != nil {
		s.logger.ErrorContext(ctx, "failed to emit delegation audit entry",
			"action", entry.Action,
			"error", err,
		)
	}
}

func utcDay(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
