package models

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "concord/pkg/domain"
)

func scheduled(days []time.Weekday, start, end int, tz string) *TimeWindow {
	return &TimeWindow{
		ID:           uuid.New(),
		FederationID: id.FederationID(uuid.New()),
		TargetKind:   TargetRolePermission,
		TargetID:     uuid.New(),
		Type:         WindowScheduled,
		Days:         days,
		StartHour:    start,
		EndHour:      end,
		Timezone:     tz,
		CreatedBy:    id.MemberID(uuid.New()),
	}
}

func TestScheduledWindow_Satisfied(t *testing.T) {
	w := scheduled([]time.Weekday{time.Monday, time.Wednesday}, 9, 17, "UTC")

	monday := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	ok, err := w.Satisfied(monday, nil)
	require.NoError(t, err)
	assert.True(t, ok)

	// End hour is exclusive.
	ok, err = w.Satisfied(monday.Add(7*time.Hour), nil)
	require.NoError(t, err)
	assert.False(t, ok)

	// Tuesday is not a configured day.
	ok, err = w.Satisfied(monday.Add(24*time.Hour), nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestScheduledWindow_OvernightSpan(t *testing.T) {
	w := scheduled([]time.Weekday{time.Monday, time.Tuesday}, 22, 6, "UTC")

	mondayNight := time.Date(2026, 3, 2, 23, 0, 0, 0, time.UTC)
	tuesdayEarly := time.Date(2026, 3, 3, 5, 0, 0, 0, time.UTC)
	mondayNoon := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	ok, err := w.Satisfied(mondayNight, nil)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = w.Satisfied(tuesdayEarly, nil)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = w.Satisfied(mondayNoon, nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestScheduledWindow_TimezoneConversion(t *testing.T) {
	w := scheduled([]time.Weekday{time.Monday}, 9, 17, "America/New_York")

	// 13:00 UTC on a Monday is 08:00 or 09:00 in New York depending on
	// DST; early March is still EST, so this is 08:00 and outside.
	utcMorning := time.Date(2026, 3, 2, 13, 0, 0, 0, time.UTC)
	ok, err := w.Satisfied(utcMorning, nil)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = w.Satisfied(utcMorning.Add(time.Hour), nil)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestElevationWindow_Bounds(t *testing.T) {
	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	end := start.Add(2 * time.Hour)
	w := &TimeWindow{
		Type:           WindowTemporaryElevation,
		ElevationStart: &start,
		ElevationEnd:   &end,
	}

	ok, err := w.Satisfied(start.Add(-time.Second), nil)
	require.NoError(t, err)
	assert.False(t, ok)

	// Start is inclusive, end exclusive.
	ok, err = w.Satisfied(start, nil)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = w.Satisfied(end, nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCooldownWindow(t *testing.T) {
	w := &TimeWindow{Type: WindowCooldown, CooldownMinutes: 30}
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	// Never used: no cooldown in effect.
	ok, err := w.Satisfied(now, nil)
	require.NoError(t, err)
	assert.True(t, ok)

	lastUse := now.Add(-10 * time.Minute)
	ok, err = w.Satisfied(now, &lastUse)
	require.NoError(t, err)
	assert.False(t, ok)

	lastUse = now.Add(-30 * time.Minute)
	ok, err = w.Satisfied(now, &lastUse)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestTimeWindow_Validate(t *testing.T) {
	w := scheduled(nil, 9, 17, "UTC")
	assert.Error(t, w.Validate(), "scheduled window needs days")

	w = scheduled([]time.Weekday{time.Monday}, 9, 9, "UTC")
	assert.Error(t, w.Validate(), "zero-width span")

	w = scheduled([]time.Weekday{time.Monday}, 9, 17, "Not/AZone")
	assert.Error(t, w.Validate(), "bad timezone")

	w = scheduled([]time.Weekday{time.Monday}, 22, 6, "Europe/Berlin")
	assert.NoError(t, w.Validate(), "overnight spans are legal")

	cooldown := &TimeWindow{
		ID:           uuid.New(),
		FederationID: id.FederationID(uuid.New()),
		TargetKind:   TargetMemberOverride,
		TargetID:     uuid.New(),
		Type:         WindowCooldown,
	}
	assert.Error(t, cooldown.Validate(), "cooldown needs positive minutes")
	cooldown.CooldownMinutes = 15
	assert.NoError(t, cooldown.Validate())
}
