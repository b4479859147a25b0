package window

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"concord/internal/permission/models"
	id "concord/pkg/domain"
	"concord/pkg/platform/sentinel"
)

// Postgres persists time windows, one per target. The unique constraint on
// (target_kind, target_id) enforces the exactly-one-attachment invariant at
// write time.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

const windowColumns = `id, federation_id, target_kind, target_id, window_type, days, start_hour, end_hour, timezone, elevation_start, elevation_end, cooldown_minutes, created_by, created_at`

func (s *Postgres) Set(ctx context.Context, w *models.TimeWindow) error {
	query := `
		INSERT INTO time_windows (` + windowColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (target_kind, target_id) DO UPDATE SET
			window_type = EXCLUDED.window_type,
			days = EXCLUDED.days,
			start_hour = EXCLUDED.start_hour,
			end_hour = EXCLUDED.end_hour,
			timezone = EXCLUDED.timezone,
			elevation_start = EXCLUDED.elevation_start,
			elevation_end = EXCLUDED.elevation_end,
			cooldown_minutes = EXCLUDED.cooldown_minutes,
			created_by = EXCLUDED.created_by,
			created_at = EXCLUDED.created_at
	`
	_, err := s.db.ExecContext(ctx, query,
		w.ID,
		uuid.UUID(w.FederationID),
		string(w.TargetKind),
		w.TargetID,
		string(w.Type),
		encodeDays(w.Days),
		w.StartHour,
		w.EndHour,
		w.Timezone,
		w.ElevationStart,
		w.ElevationEnd,
		w.CooldownMinutes,
		uuid.UUID(w.CreatedBy),
		w.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("set time window: %w", err)
	}
	return nil
}

func (s *Postgres) GetByTarget(ctx context.Context, kind models.TargetKind, targetID uuid.UUID) (*models.TimeWindow, error) {
	query := `
		SELECT ` + windowColumns + `
		FROM time_windows
		WHERE target_kind = $1 AND target_id = $2
	`
	row := s.db.QueryRowContext(ctx, query, string(kind), targetID)

	var (
		w           models.TimeWindow
		fid         uuid.UUID
		targetKind  string
		windowType  string
		encodedDays string
		createdBy   uuid.UUID
	)
	err := row.Scan(&w.ID, &fid, &targetKind, &w.TargetID, &windowType, &encodedDays,
		&w.StartHour, &w.EndHour, &w.Timezone, &w.ElevationStart, &w.ElevationEnd,
		&w.CooldownMinutes, &createdBy, &w.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get time window: %w", err)
	}

	w.FederationID = id.FederationID(fid)
	w.TargetKind = models.TargetKind(targetKind)
	w.Type = models.WindowType(windowType)
	w.Days, err = decodeDays(encodedDays)
	if err != nil {
		return nil, fmt.Errorf("decode window days: %w", err)
	}
	w.CreatedBy = id.MemberID(createdBy)
	return &w, nil
}

func encodeDays(days []time.Weekday) string {
	parts := make([]string, len(days))
	for i, d := range days {
		parts[i] = strconv.Itoa(int(d))
	}
	return strings.Join(parts, ",")
}

func decodeDays(encoded string) ([]time.Weekday, error) {
	if encoded == "" {
		return nil, nil
	}
	parts := strings.Split(encoded, ",")
	days := make([]time.Weekday, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, err
		}
		days[i] = time.Weekday(n)
	}
	return days, nil
}
