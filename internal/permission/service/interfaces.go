package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"concord/internal/audit"
	"concord/internal/permission/models"
	id "concord/pkg/domain"
)

// RolePermissionStore persists role-level defaults, one row per
// (federation, role, event type), last-write-wins.
type RolePermissionStore interface {
	Upsert(ctx context.Context, p *models.RolePermission) error
	Get(ctx context.Context, federationID id.FederationID, role id.Role, eventType id.EventType) (*models.RolePermission, error)
	GetByID(ctx context.Context, permissionID id.PermissionID) (*models.RolePermission, error)
	ListByFederation(ctx context.Context, federationID id.FederationID) ([]*models.RolePermission, error)
}

// OverrideStore persists member overrides; revoked rows are retained.
type OverrideStore interface {
	Create(ctx context.Context, o *models.MemberOverride) error
	GetByID(ctx context.Context, overrideID id.OverrideID) (*models.MemberOverride, error)
	FindCurrent(ctx context.Context, federationID id.FederationID, memberID id.MemberID, eventType id.EventType) (*models.MemberOverride, error)
	Revoke(ctx context.Context, overrideID id.OverrideID, mutate func(*models.MemberOverride) error) (*models.MemberOverride, error)
}

// WindowStore persists time windows, at most one per target rule.
type WindowStore interface {
	Set(ctx context.Context, w *models.TimeWindow) error
	GetByTarget(ctx context.Context, kind models.TargetKind, targetID uuid.UUID) (*models.TimeWindow, error)
}

// UsageStore tracks same-day usage counters and last-use instants. Days are
// UTC calendar days.
type UsageStore interface {
	IncrementDaily(ctx context.Context, key, day string) (int, error)
	DailyCount(ctx context.Context, key, day string) (int, error)
	MarkUse(ctx context.Context, key string, at time.Time) error
	LastUse(ctx context.Context, key string) (*time.Time, error)
}

// DelegationAuthorizer answers the resolver's delegation layer. When
// consume is set the matching delegation's usage is recorded atomically; an
// over-cap delegation reports false so the resolver falls through.
type DelegationAuthorizer interface {
	Authorize(ctx context.Context, sourceID, memberFederationID id.FederationID, memberID id.MemberID, eventType id.EventType, consume bool, now time.Time) (bool, error)
}

// Membership resolves which federation a member belongs to.
type Membership interface {
	HomeFederation(ctx context.Context, memberID id.MemberID) (id.FederationID, error)
}

// AuditPublisher records gating resolutions and configuration writes.
type AuditPublisher interface {
	Emit(ctx context.Context, entry audit.Entry) error
}
