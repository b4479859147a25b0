package models

import (
	"time"

	"github.com/google/uuid"

	id "concord/pkg/domain"
	dErrors "concord/pkg/domain-errors"
)

// WindowType selects how a time window gates its target rule.
type WindowType string

const (
	// WindowScheduled restricts the rule to configured days of week and an
	// hour-of-day range in a named timezone.
	WindowScheduled WindowType = "scheduled"

	// WindowTemporaryElevation activates the rule only between an explicit
	// start and end instant.
	WindowTemporaryElevation WindowType = "temporary_elevation"

	// WindowCooldown forbids re-use of the rule for N minutes after its
	// last use.
	WindowCooldown WindowType = "cooldown"
)

// TargetKind identifies what a window is attached to. A window attaches to
// exactly one target, enforced at write time.
type TargetKind string

const (
	TargetRolePermission TargetKind = "role_permission"
	TargetMemberOverride TargetKind = "member_override"
)

// TimeWindow gates whether its target rule is currently active. When the
// window condition does not hold, the resolver skips the target layer
// entirely and falls through to the next layer.
type TimeWindow struct {
	ID           uuid.UUID
	FederationID id.FederationID
	TargetKind   TargetKind
	TargetID     uuid.UUID
	Type         WindowType

	// Scheduled fields.
	Days      []time.Weekday
	StartHour int
	EndHour   int
	Timezone  string

	// Temporary elevation fields.
	ElevationStart *time.Time
	ElevationEnd   *time.Time

	// Cooldown fields.
	CooldownMinutes int

	CreatedBy id.MemberID
	CreatedAt time.Time
}

// Validate checks the window's type-specific invariants before it is
// written.
func (w *TimeWindow) Validate() error {
	if w.FederationID.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "federation_id is required")
	}
	if w.TargetKind != TargetRolePermission && w.TargetKind != TargetMemberOverride {
		return dErrors.New(dErrors.CodeValidation, "target_kind must be role_permission or member_override")
	}
	if w.TargetID == uuid.Nil {
		return dErrors.New(dErrors.CodeValidation, "target_id is required")
	}

	switch w.Type {
	case WindowScheduled:
		if len(w.Days) == 0 {
			return dErrors.New(dErrors.CodeValidation, "scheduled window requires at least one day")
		}
		if w.StartHour < 0 || w.StartHour > 23 || w.EndHour < 0 || w.EndHour > 24 {
			return dErrors.New(dErrors.CodeValidation, "hours must be within 0-23 (start) and 0-24 (end)")
		}
		if w.StartHour == w.EndHour {
			return dErrors.New(dErrors.CodeValidation, "scheduled window must span at least one hour")
		}
		if _, err := time.LoadLocation(w.Timezone); err != nil {
			return dErrors.New(dErrors.CodeValidation, "timezone is not a valid IANA name")
		}
	case WindowTemporaryElevation:
		if w.ElevationStart == nil || w.ElevationEnd == nil {
			return dErrors.New(dErrors.CodeValidation, "temporary_elevation requires elevation_start and elevation_end")
		}
		if !w.ElevationEnd.After(*w.ElevationStart) {
			return dErrors.New(dErrors.CodeValidation, "elevation_end must be after elevation_start")
		}
	case WindowCooldown:
		if w.CooldownMinutes <= 0 {
			return dErrors.New(dErrors.CodeValidation, "cooldown_minutes must be positive")
		}
	default:
		return dErrors.New(dErrors.CodeValidation, "window_type must be scheduled, temporary_elevation, or cooldown")
	}
	return nil
}

// Satisfied reports whether the window condition holds at the given
// instant. lastUse is the target rule's most recent successful use and is
// only consulted for cooldown windows (nil means never used).
func (w *TimeWindow) Satisfied(now time.Time, lastUse *time.Time) (bool, error) {
	switch w.Type {
	case WindowScheduled:
		loc, err := time.LoadLocation(w.Timezone)
		if err != nil {
			return false, dErrors.Wrap(err, dErrors.CodeInternal, "stored timezone no longer loads")
		}
		local := now.In(loc)
		if !w.onDay(local.Weekday()) {
			return false, nil
		}
		hour := local.Hour()
		if w.StartHour < w.EndHour {
			return hour >= w.StartHour && hour < w.EndHour, nil
		}
		// Overnight span, e.g. 22-06.
		return hour >= w.StartHour || hour < w.EndHour, nil

	case WindowTemporaryElevation:
		return !now.Before(*w.ElevationStart) && now.Before(*w.ElevationEnd), nil

	case WindowCooldown:
		if lastUse == nil {
			return true, nil
		}
		return now.Sub(*lastUse) >= time.Duration(w.CooldownMinutes)*time.Minute, nil

	default:
		return false, dErrors.Newf(dErrors.CodeInternal, "unknown window type %q", w.Type)
	}
}

func (w *TimeWindow) onDay(day time.Weekday) bool {
	for _, d := range w.Days {
		if d == day {
			return true
		}
	}
	return false
}
