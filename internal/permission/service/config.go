package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"concord/internal/audit"
	"concord/internal/permission/models"
	id "concord/pkg/domain"
	dErrors "concord/pkg/domain-errors"
	"concord/pkg/platform/sentinel"
	"concord/pkg/requestcontext"
)

// Configuration write operations. Every write here is gated by
// RequireManagePermissions and recorded in the audit log; permission
// history is reconstructed from audit entries, not from the row stores.

// RolePermissionEntry is one row of a configureRolePermission batch.
type RolePermissionEntry struct {
	EventType        id.EventType
	CanSign          bool
	RequiresApproval bool
	ApprovedByRoles  []id.Role
	MaxDailyCount    *int
}

// EntryResult reports per-entry success or failure for a batch write.
type EntryResult struct {
	EventType id.EventType
	Err       error
}

// ConfigureRolePermissions upserts role defaults for one (federation,
// role). Entries are independent: one invalid entry does not abort the
// rest.
func (s *Service) ConfigureRolePermissions(ctx context.Context, federationID id.FederationID, role id.Role, entries []RolePermissionEntry, configuredBy id.MemberID, configuredByRole id.Role) ([]EntryResult, error) {
	if err := s.RequireManagePermissions(ctx, federationID, configuredBy, configuredByRole); err != nil {
		return nil, err
	}
	if !role.IsValid() {
		return nil, dErrors.New(dErrors.CodeValidation, "role is invalid")
	}
	if len(entries) == 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "at least one entry is required")
	}

	now := requestcontext.Now(ctx)
	results := make([]EntryResult, 0, len(entries))
	for _, entry := range entries {
		results = append(results, EntryResult{
			EventType: entry.EventType,
			Err:       s.upsertRolePermission(ctx, federationID, role, entry, configuredBy, configuredByRole, now),
		})
	}
	return results, nil
}

func (s *Service) upsertRolePermission(ctx context.Context, federationID id.FederationID, role id.Role, entry RolePermissionEntry, configuredBy id.MemberID, configuredByRole id.Role, now time.Time) error {
	p := &models.RolePermission{
		FederationID:     federationID,
		Role:             role,
		EventType:        entry.EventType,
		CanSign:          entry.CanSign,
		RequiresApproval: entry.RequiresApproval,
		ApprovedByRoles:  entry.ApprovedByRoles,
		MaxDailyCount:    entry.MaxDailyCount,
		UpdatedBy:        configuredBy,
		UpdatedAt:        now,
	}
	if err := p.Validate(); err != nil {
		return err
	}

	// Preserve the row ID across supersessions so attached time windows
	// keep pointing at the logical rule.
	if existing, err := s.rolePerms.Get(ctx, federationID, role, entry.EventType); err == nil {
		p.ID = existing.ID
	} else if errors.Is(err, sentinel.ErrNotFound) {
		p.ID = id.PermissionID(uuid.New())
	} else {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load existing role permission")
	}

	if err := s.rolePerms.Upsert(ctx, p); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to write role permission")
	}

	s.metrics.IncrementConfigWrite("role_permission")
	s.emitConfig(ctx, audit.Entry{
		FederationID: federationID,
		ActorID:      configuredBy,
		ActorRole:    configuredByRole,
		Action:       audit.ActionRolePermissionConfigured,
		Details: map[string]string{
			"role":              role.String(),
			"event_type":        entry.EventType.String(),
			"can_sign":          boolString(entry.CanSign),
			"requires_approval": boolString(entry.RequiresApproval),
		},
	})
	return nil
}

// OverrideInput carries a setMemberOverride request.
type OverrideInput struct {
	FederationID  id.FederationID
	MemberID      id.MemberID
	EventType     id.EventType
	CanSign       bool
	MaxDailyCount *int
	ValidUntil    *time.Time
	Reason        string
	GrantedBy     id.MemberID
	GrantedByRole id.Role
}

// SetOverride creates a member override taking precedence over the role
// default for that exact (member, event type) pair while active.
func (s *Service) SetOverride(ctx context.Context, input OverrideInput) (*models.MemberOverride, error) {
	if err := s.RequireManagePermissions(ctx, input.FederationID, input.GrantedBy, input.GrantedByRole); err != nil {
		return nil, err
	}

	o := &models.MemberOverride{
		ID:            id.OverrideID(uuid.New()),
		FederationID:  input.FederationID,
		MemberID:      input.MemberID,
		EventType:     input.EventType,
		CanSign:       input.CanSign,
		MaxDailyCount: input.MaxDailyCount,
		ValidUntil:    input.ValidUntil,
		GrantReason:   strings.TrimSpace(input.Reason),
		GrantedBy:     input.GrantedBy,
		CreatedAt:     requestcontext.Now(ctx),
	}
	if err := o.Validate(); err != nil {
		return nil, err
	}

	if err := s.overrides.Create(ctx, o); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create override")
	}

	s.metrics.IncrementConfigWrite("override")
	s.emitConfig(ctx, audit.Entry{
		FederationID: input.FederationID,
		ActorID:      input.GrantedBy,
		ActorRole:    input.GrantedByRole,
		Action:       audit.ActionOverrideGranted,
		Reason:       o.GrantReason,
		Details: map[string]string{
			"override_id": o.ID.String(),
			"member_id":   o.MemberID.String(),
			"event_type":  o.EventType.String(),
			"can_sign":    boolString(o.CanSign),
		},
	})
	return o, nil
}

// RevokeOverride soft-deletes an override. The row is retained for audit
// continuity; only revoked_at and its companions change.
func (s *Service) RevokeOverride(ctx context.Context, overrideID id.OverrideID, federationID id.FederationID, revokerID id.MemberID, revokerRole id.Role, reason string) error {
	if err := s.RequireManagePermissions(ctx, federationID, revokerID, revokerRole); err != nil {
		return err
	}

	now := requestcontext.Now(ctx)
	o, err := s.overrides.Revoke(ctx, overrideID, func(o *models.MemberOverride) error {
		if o.FederationID != federationID {
			return sentinel.ErrNotFound
		}
		return o.Revoke(revokerID, strings.TrimSpace(reason), now)
	})
	if err != nil {
		switch {
		case errors.Is(err, sentinel.ErrNotFound):
			return dErrors.New(dErrors.CodeNotFound, "override not found")
		case errors.Is(err, sentinel.ErrConflict), dErrors.HasCode(err, dErrors.CodeConflict):
			return dErrors.New(dErrors.CodeConflict, "override is already revoked")
		default:
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to revoke override")
		}
	}

	s.emitConfig(ctx, audit.Entry{
		FederationID: federationID,
		ActorID:      revokerID,
		ActorRole:    revokerRole,
		Action:       audit.ActionOverrideRevoked,
		Reason:       o.RevokeReason,
		Details: map[string]string{
			"override_id": o.ID.String(),
			"member_id":   o.MemberID.String(),
		},
	})
	return nil
}

// WindowInput carries a setTimeWindow request. Exactly one of the target
// kinds applies; the target must exist and belong to the federation.
type WindowInput struct {
	FederationID id.FederationID
	TargetKind   models.TargetKind
	TargetID     uuid.UUID
	Window       models.TimeWindow
	SetBy        id.MemberID
	SetByRole    id.Role
}

// SetTimeWindow attaches (or replaces) the time window on a role
// permission or member override.
func (s *Service) SetTimeWindow(ctx context.Context, input WindowInput) error {
	if err := s.RequireManagePermissions(ctx, input.FederationID, input.SetBy, input.SetByRole); err != nil {
		return err
	}

	w := input.Window
	w.ID = uuid.New()
	w.FederationID = input.FederationID
	w.TargetKind = input.TargetKind
	w.TargetID = input.TargetID
	w.CreatedBy = input.SetBy
	w.CreatedAt = requestcontext.Now(ctx)
	if err := w.Validate(); err != nil {
		return err
	}

	if err := s.verifyWindowTarget(ctx, input); err != nil {
		return err
	}

	if err := s.windows.Set(ctx, &w); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to set time window")
	}

	s.metrics.IncrementConfigWrite("window")
	s.emitConfig(ctx, audit.Entry{
		FederationID: input.FederationID,
		ActorID:      input.SetBy,
		ActorRole:    input.SetByRole,
		Action:       audit.ActionTimeWindowSet,
		Details: map[string]string{
			"target_kind": string(input.TargetKind),
			"target_id":   input.TargetID.String(),
			"window_type": string(w.Type),
		},
	})
	return nil
}

func (s *Service) verifyWindowTarget(ctx context.Context, input WindowInput) error {
	switch input.TargetKind {
	case models.TargetRolePermission:
		p, err := s.rolePerms.GetByID(ctx, id.PermissionID(input.TargetID))
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return dErrors.New(dErrors.CodeNotFound, "role permission not found")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load window target")
		}
		if p.FederationID != input.FederationID {
			return dErrors.New(dErrors.CodeNotFound, "role permission not found")
		}
	case models.TargetMemberOverride:
		o, err := s.overrides.GetByID(ctx, id.OverrideID(input.TargetID))
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return dErrors.New(dErrors.CodeNotFound, "override not found")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load window target")
		}
		if o.FederationID != input.FederationID {
			return dErrors.New(dErrors.CodeNotFound, "override not found")
		}
	default:
		return dErrors.New(dErrors.CodeValidation, "target_kind must be role_permission or member_override")
	}
	return nil
}

func (s *Service) emitConfig(ctx context.Context, entry audit.Entry) {
	if s.auditP == nil {
		return
	}
	if err := s.auditP.Emit(ctx, entry); err != nil && s.logger != nil {
		s.logger.ErrorContext(ctx, "failed to emit configuration audit entry",
			"action", entry.Action,
			"error", err,
		)
	}
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
