package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"concord/internal/audit"
	permmetrics "concord/internal/permission/metrics"
	"concord/internal/permission/models"
	id "concord/pkg/domain"
	dErrors "concord/pkg/domain-errors"
	"concord/pkg/platform/sentinel"
	"concord/pkg/requestcontext"
)

// Service is the permission resolution engine. It computes the single
// effective decision for (federation, member, event type, now) by merging
// role defaults, member overrides, active time windows, and inbound
// delegations under a fixed precedence order.
//
// There is no process-local cache of authorization-affecting data: every
// resolution reads current rows from the stores, so a revocation is visible
// to the very next call.
type Service struct {
	rolePerms   RolePermissionStore
	overrides   OverrideStore
	windows     WindowStore
	usage       UsageStore
	delegations DelegationAuthorizer
	membership  Membership
	auditP      AuditPublisher
	metrics     *permmetrics.Metrics
	logger      *slog.Logger
	tracer      trace.Tracer
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) { s.auditP = publisher }
}

func WithMetrics(m *permmetrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func New(rolePerms RolePermissionStore, overrides OverrideStore, windows WindowStore, usage UsageStore, delegations DelegationAuthorizer, membership Membership, opts ...Option) (*Service, error) {
	switch {
	case rolePerms == nil:
		return nil, errors.New("role permission store is required")
	case overrides == nil:
		return nil, errors.New("override store is required")
	case windows == nil:
		return nil, errors.New("window store is required")
	case usage == nil:
		return nil, errors.New("usage store is required")
	case delegations == nil:
		return nil, errors.New("delegation authorizer is required")
	case membership == nil:
		return nil, errors.New("membership lookup is required")
	}
	svc := &Service{
		rolePerms:   rolePerms,
		overrides:   overrides,
		windows:     windows,
		usage:       usage,
		delegations: delegations,
		membership:  membership,
		tracer:      otel.Tracer("concord/permission"),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// ResolveInput identifies one prospective action.
type ResolveInput struct {
	FederationID id.FederationID
	MemberID     id.MemberID
	Role         id.Role
	EventType    id.EventType

	// Consume marks a resolution that gates an actual action: daily
	// counters are incremented, cooldown last-use is stamped, delegation
	// usage is recorded, and the outcome is written to the audit log.
	// Informational lookups leave Consume unset and mutate nothing.
	Consume bool
}

// Resolve computes the effective decision. Precedence, highest first:
// active member override, active inbound delegation, role permission,
// default deny. A layer whose time window is unsatisfied is skipped
// entirely, not treated as an error.
func (s *Service) Resolve(ctx context.Context, input ResolveInput) (models.Resolution, error) {
	ctx, span := s.tracer.Start(ctx, "permission.Resolve",
		trace.WithAttributes(
			attribute.String("federation_id", input.FederationID.String()),
			attribute.String("event_type", input.EventType.String()),
		))
	defer span.End()

	now := requestcontext.Now(ctx)

	resolution, err := s.resolve(ctx, input, now)
	if err != nil {
		return models.Resolution{}, err
	}

	s.metrics.IncrementResolution(string(resolution.Layer), string(resolution.Effect))
	if input.Consume {
		s.emitResolution(ctx, input, resolution)
	}
	return resolution, nil
}

func (s *Service) resolve(ctx context.Context, input ResolveInput, now time.Time) (models.Resolution, error) {
	// Layer 1: member override.
	resolution, matched, err := s.resolveOverride(ctx, input, now)
	if err != nil {
		return models.Resolution{}, err
	}
	if matched {
		return resolution, nil
	}

	// Layer 2: inbound delegation, only for members of another federation.
	resolution, matched, err = s.resolveDelegation(ctx, input, now)
	if err != nil {
		return models.Resolution{}, err
	}
	if matched {
		return resolution, nil
	}

	// Layer 3: role default.
	resolution, matched, err = s.resolveRolePermission(ctx, input, now)
	if err != nil {
		return models.Resolution{}, err
	}
	if matched {
		return resolution, nil
	}

	// Layer 4: nothing matched. Never allow by default.
	return models.Denied(), nil
}

func (s *Service) resolveOverride(ctx context.Context, input ResolveInput, now time.Time) (models.Resolution, bool, error) {
	o, err := s.overrides.FindCurrent(ctx, input.FederationID, input.MemberID, input.EventType)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return models.Resolution{}, false, nil
		}
		return models.Resolution{}, false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to look up override")
	}
	if !o.IsActive(now) {
		// Expired or revoked: the layer does not participate at all; the
		// role default still gets its say.
		return models.Resolution{}, false, nil
	}

	usageKey := "override:" + o.ID.String() + ":" + input.MemberID.String()
	ok, err := s.windowSatisfied(ctx, models.TargetMemberOverride, uuid.UUID(o.ID), usageKey, now)
	if err != nil {
		return models.Resolution{}, false, err
	}
	if !ok {
		return models.Resolution{}, false, nil
	}

	resolution := models.Resolution{
		CanSign:       o.CanSign,
		MaxDailyCount: o.MaxDailyCount,
		Layer:         models.LayerOverride,
	}
	if !o.CanSign {
		resolution.Effect = models.EffectDenied
		return resolution, true, nil
	}
	resolution.Effect = models.EffectAllowed

	return s.applyDailyCap(ctx, input, resolution, usageKey, now)
}

func (s *Service) resolveDelegation(ctx context.Context, input ResolveInput, now time.Time) (models.Resolution, bool, error) {
	home, err := s.membership.HomeFederation(ctx, input.MemberID)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeNotFound) || errors.Is(err, sentinel.ErrNotFound) {
			return models.Resolution{}, false, nil
		}
		return models.Resolution{}, false, err
	}
	if home == input.FederationID {
		return models.Resolution{}, false, nil
	}

	granted, err := s.delegations.Authorize(ctx, input.FederationID, home, input.MemberID, input.EventType, input.Consume, now)
	if err != nil {
		return models.Resolution{}, false, err
	}
	if !granted {
		return models.Resolution{}, false, nil
	}
	return models.Resolution{
		Effect:  models.EffectAllowed,
		CanSign: true,
		Layer:   models.LayerDelegation,
	}, true, nil
}

func (s *Service) resolveRolePermission(ctx context.Context, input ResolveInput, now time.Time) (models.Resolution, bool, error) {
	p, err := s.rolePerms.Get(ctx, input.FederationID, input.Role, input.EventType)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return models.Resolution{}, false, nil
		}
		return models.Resolution{}, false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to look up role permission")
	}

	usageKey := "roleperm:" + p.ID.String() + ":" + input.MemberID.String()
	ok, err := s.windowSatisfied(ctx, models.TargetRolePermission, uuid.UUID(p.ID), usageKey, now)
	if err != nil {
		return models.Resolution{}, false, err
	}
	if !ok {
		// Outside the window the rule is inert; with no later layer this
		// lands on default deny rather than the unmodified role default.
		return models.Resolution{}, false, nil
	}

	resolution := models.Resolution{
		CanSign:          p.CanSign,
		RequiresApproval: p.RequiresApproval,
		ApprovedByRoles:  p.ApprovedByRoles,
		MaxDailyCount:    p.MaxDailyCount,
		Layer:            models.LayerRole,
	}
	switch {
	case !p.CanSign:
		resolution.Effect = models.EffectDenied
		return resolution, true, nil
	case p.RequiresApproval:
		resolution.Effect = models.EffectRequiresApproval
	default:
		resolution.Effect = models.EffectAllowed
	}

	return s.applyDailyCap(ctx, input, resolution, usageKey, now)
}

// applyDailyCap enforces the winning layer's maxDailyCount and, for gating
// resolutions, consumes one use. Exceeding the cap downgrades the result to
// denied even though the underlying rule allows.
func (s *Service) applyDailyCap(ctx context.Context, input ResolveInput, resolution models.Resolution, usageKey string, now time.Time) (models.Resolution, bool, error) {
	day := utcDay(now)

	if resolution.MaxDailyCount != nil {
		count, err := s.usage.DailyCount(ctx, usageKey, day)
		if err != nil {
			return models.Resolution{}, false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read usage counter")
		}
		if count >= *resolution.MaxDailyCount {
			resolution.Effect = models.EffectDenied
			resolution.CanSign = false
			resolution.CapExhausted = true
			return resolution, true, nil
		}
	}

	if input.Consume {
		if _, err := s.usage.IncrementDaily(ctx, usageKey, day); err != nil {
			return models.Resolution{}, false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to count usage")
		}
		if err := s.usage.MarkUse(ctx, usageKey, now); err != nil {
			return models.Resolution{}, false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to stamp last use")
		}
	}
	return resolution, true, nil
}

func (s *Service) windowSatisfied(ctx context.Context, kind models.TargetKind, targetID uuid.UUID, usageKey string, now time.Time) (bool, error) {
	w, err := s.windows.GetByTarget(ctx, kind, targetID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return true, nil
		}
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to look up time window")
	}

	var lastUse *time.Time
	if w.Type == models.WindowCooldown {
		lastUse, err = s.usage.LastUse(ctx, usageKey)
		if err != nil {
			return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read last use")
		}
	}
	return w.Satisfied(now, lastUse)
}

// RequireManagePermissions gates configuration writes: the engine guards
// itself recursively. Only elevated roles hold the capability, and an
// explicit deny (override or windowed rule) on manage_permissions is
// honored; the default-deny layer alone does not block an elevated role,
// otherwise a fresh federation could never be configured.
func (s *Service) RequireManagePermissions(ctx context.Context, federationID id.FederationID, actorID id.MemberID, role id.Role) error {
	if !role.IsElevated() {
		return dErrors.New(dErrors.CodeUnauthorized, "manage_permissions requires a guardian or steward role")
	}
	resolution, err := s.Resolve(ctx, ResolveInput{
		FederationID: federationID,
		MemberID:     actorID,
		Role:         role,
		EventType:    id.EventTypeManagePermissions,
	})
	if err != nil {
		return err
	}
	if resolution.Effect == models.EffectDenied && resolution.Layer != models.LayerDefault {
		return dErrors.New(dErrors.CodeUnauthorized, "manage_permissions is denied for this member")
	}
	return nil
}

// ApproverPolicy returns the role permission row governing the subject's
// role and event type, used by the decision engine to fix quorum at
// creation and to re-check approver eligibility per approval.
func (s *Service) ApproverPolicy(ctx context.Context, federationID id.FederationID, role id.Role, eventType id.EventType) (*models.RolePermission, error) {
	p, err := s.rolePerms.Get(ctx, federationID, role, eventType)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "no role permission configured for this event type")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load role permission")
	}
	return p, nil
}

func (s *Service) emitResolution(ctx context.Context, input ResolveInput, resolution models.Resolution) {
	if s.auditP == nil {
		return
	}
	entry := audit.Entry{
		FederationID: input.FederationID,
		ActorID:      input.MemberID,
		ActorRole:    input.Role,
		Action:       audit.ActionPermissionResolved,
		Decision:     string(resolution.Effect),
		Details: map[string]string{
			"event_type":    input.EventType.String(),
			"winning_layer": string(resolution.Layer),
		},
	}
	if err := s.auditP.Emit(ctx, entry); err != nil && s.logger != nil {
		s.logger.ErrorContext(ctx, "failed to emit resolution audit entry",
			"federation_id", input.FederationID,
			"event_type", input.EventType,
			"error", err,
		)
	}
}

func utcDay(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
