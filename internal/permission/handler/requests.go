package handler

import (
	"time"

	"github.com/google/uuid"

	"concord/internal/permission/models"
	permsvc "concord/internal/permission/service"
	id "concord/pkg/domain"
	dErrors "concord/pkg/domain-errors"
)

// Request DTOs decode raw JSON and parse their own fields during Validate,
// so handlers only ever see typed values.

type resolveRequest struct {
	MemberID  string `json:"member_id"`
	Role      string `json:"role"`
	EventType string `json:"event_type"`
	Consume   bool   `json:"consume"`

	memberID  id.MemberID
	role      id.Role
	eventType id.EventType
}

func (r *resolveRequest) Validate() error {
	var err error
	if r.memberID, err = id.ParseMemberID(r.MemberID); err != nil {
		return err
	}
	if r.role, err = id.ParseRole(r.Role); err != nil {
		return err
	}
	r.eventType, err = id.ParseEventType(r.EventType)
	return err
}

type rolePermissionEntry struct {
	EventType        string   `json:"event_type"`
	CanSign          bool     `json:"can_sign"`
	RequiresApproval bool     `json:"requires_approval"`
	ApprovedByRoles  []string `json:"approved_by_roles,omitempty"`
	MaxDailyCount    *int     `json:"max_daily_count,omitempty"`
}

type configureRolePermissionsRequest struct {
	Entries []rolePermissionEntry `json:"entries"`

	entries []permsvc.RolePermissionEntry
}

func (r *configureRolePermissionsRequest) Validate() error {
	if len(r.Entries) == 0 {
		return dErrors.New(dErrors.CodeValidation, "at least one entry is required")
	}
	r.entries = make([]permsvc.RolePermissionEntry, 0, len(r.Entries))
	for _, e := range r.Entries {
		eventType, err := id.ParseEventType(e.EventType)
		if err != nil {
			return err
		}
		roles := make([]id.Role, 0, len(e.ApprovedByRoles))
		for _, raw := range e.ApprovedByRoles {
			role, err := id.ParseRole(raw)
			if err != nil {
				return err
			}
			roles = append(roles, role)
		}
		r.entries = append(r.entries, permsvc.RolePermissionEntry{
			EventType:        eventType,
			CanSign:          e.CanSign,
			RequiresApproval: e.RequiresApproval,
			ApprovedByRoles:  roles,
			MaxDailyCount:    e.MaxDailyCount,
		})
	}
	return nil
}

type setOverrideRequest struct {
	MemberID      string     `json:"member_id"`
	EventType     string     `json:"event_type"`
	CanSign       bool       `json:"can_sign"`
	MaxDailyCount *int       `json:"max_daily_count,omitempty"`
	ValidUntil    *time.Time `json:"valid_until,omitempty"`
	Reason        string     `json:"reason"`

	memberID  id.MemberID
	eventType id.EventType
}

func (r *setOverrideRequest) Validate() error {
	var err error
	if r.memberID, err = id.ParseMemberID(r.MemberID); err != nil {
		return err
	}
	r.eventType, err = id.ParseEventType(r.EventType)
	return err
}

type revokeOverrideRequest struct {
	Reason string `json:"reason"`
}

type setWindowRequest struct {
	TargetKind string `json:"target_kind"`
	TargetID   string `json:"target_id"`

	WindowType      string     `json:"window_type"`
	Timezone        string     `json:"timezone,omitempty"`
	Days            []int      `json:"days,omitempty"`
	StartHour       int        `json:"start_hour,omitempty"`
	EndHour         int        `json:"end_hour,omitempty"`
	ElevationStart  *time.Time `json:"elevation_start,omitempty"`
	ElevationEnd    *time.Time `json:"elevation_end,omitempty"`
	CooldownMinutes int        `json:"cooldown_minutes,omitempty"`

	targetKind models.TargetKind
	targetID   uuid.UUID
	window     models.TimeWindow
}

func (r *setWindowRequest) Validate() error {
	switch models.TargetKind(r.TargetKind) {
	case models.TargetRolePermission, models.TargetMemberOverride:
		r.targetKind = models.TargetKind(r.TargetKind)
	default:
		return dErrors.New(dErrors.CodeValidation, "target_kind must be role_permission or member_override")
	}

	var err error
	if r.targetID, err = uuid.Parse(r.TargetID); err != nil {
		return dErrors.New(dErrors.CodeValidation, "target_id must be a valid UUID")
	}

	w := models.TimeWindow{Type: models.WindowType(r.WindowType)}
	switch w.Type {
	case models.WindowScheduled:
		w.Timezone = r.Timezone
		w.StartHour = r.StartHour
		w.EndHour = r.EndHour
		for _, d := range r.Days {
			if d < 0 || d > 6 {
				return dErrors.New(dErrors.CodeValidation, "days must be 0 (Sunday) through 6 (Saturday)")
			}
			w.Days = append(w.Days, time.Weekday(d))
		}
	case models.WindowTemporaryElevation:
		w.ElevationStart = r.ElevationStart
		w.ElevationEnd = r.ElevationEnd
	case models.WindowCooldown:
		w.CooldownMinutes = r.CooldownMinutes
	default:
		return dErrors.New(dErrors.CodeValidation, "window_type is invalid")
	}

	r.window = w
	return nil
}
