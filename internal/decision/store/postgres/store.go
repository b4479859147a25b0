package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"concord/internal/decision/models"
	id "concord/pkg/domain"
	"concord/pkg/platform/sentinel"
)

// Store persists pending decisions in PostgreSQL.
//
// Concurrency relies on two things: a partial unique index on
// (federation_id, subject_member_id, action_key) WHERE status = 'pending'
// for create-or-join, and a version column guarding every UPDATE so exactly
// one racing writer wins each transition.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

const decisionColumns = `id, kind, federation_id, subject_member_id, subject_role, action_key,
	event_type, request_type, urgency, reason, description,
	required_approvals, approved_by_roles, approvals,
	status, session_id, failure_reason,
	created_by, created_at, expires_at, version`

func (s *Store) CreateOrJoin(ctx context.Context, d *models.PendingDecision) (*models.PendingDecision, bool, error) {
	approvals, err := json.Marshal(d.Approvals)
	if err != nil {
		return nil, false, fmt.Errorf("marshal approvals: %w", err)
	}

	query := `
		INSERT INTO pending_decisions (` + decisionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, 1)
		ON CONFLICT (federation_id, subject_member_id, action_key) WHERE status = 'pending'
		DO NOTHING
	`
	res, err := s.db.ExecContext(ctx, query,
		uuid.UUID(d.ID),
		string(d.Kind),
		uuid.UUID(d.FederationID),
		uuid.UUID(d.SubjectMemberID),
		d.SubjectRole.String(),
		d.ActionKey(),
		nullString(d.EventType.String()),
		nullString(d.RequestType.String()),
		nullString(string(d.Urgency)),
		d.Reason,
		d.Description,
		d.RequiredApprovals,
		encodeRoles(d.ApprovedByRoles),
		approvals,
		string(d.Status),
		nullSessionID(d.SessionID),
		d.FailureReason,
		uuid.UUID(d.CreatedBy),
		d.CreatedAt,
		nullTime(d.ExpiresAt),
	)
	if err != nil {
		return nil, false, fmt.Errorf("create decision: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("create decision: %w", err)
	}
	if rows == 1 {
		d.Version = 1
		return d, true, nil
	}

	existing, err := s.findOpen(ctx, d.FederationID, d.SubjectMemberID, d.ActionKey())
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (s *Store) Get(ctx context.Context, decisionID id.DecisionID) (*models.PendingDecision, error) {
	query := `SELECT ` + decisionColumns + ` FROM pending_decisions WHERE id = $1`
	return scanDecision(s.db.QueryRowContext(ctx, query, uuid.UUID(decisionID)))
}

// Update writes the full decision row conditional on the version it was
// read at. A zero-row update means a concurrent writer got there first.
func (s *Store) Update(ctx context.Context, d *models.PendingDecision, expectedVersion int) error {
	approvals, err := json.Marshal(d.Approvals)
	if err != nil {
		return fmt.Errorf("marshal approvals: %w", err)
	}

	query := `
		UPDATE pending_decisions
		SET approvals = $1, status = $2, session_id = $3, failure_reason = $4, version = version + 1
		WHERE id = $5 AND version = $6
	`
	res, err := s.db.ExecContext(ctx, query,
		approvals,
		string(d.Status),
		nullSessionID(d.SessionID),
		d.FailureReason,
		uuid.UUID(d.ID),
		expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("update decision: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update decision: %w", err)
	}
	if rows == 0 {
		// Distinguish a lost race from a missing row.
		if _, err := s.Get(ctx, d.ID); errors.Is(err, sentinel.ErrNotFound) {
			return sentinel.ErrNotFound
		}
		return sentinel.ErrConflict
	}
	d.Version = expectedVersion + 1
	return nil
}

func (s *Store) ListOpenExpired(ctx context.Context, now time.Time, limit int) ([]*models.PendingDecision, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT ` + decisionColumns + `
		FROM pending_decisions
		WHERE status = 'pending' AND expires_at IS NOT NULL AND expires_at <= $1
		ORDER BY expires_at ASC
		LIMIT $2
	`
	return s.queryDecisions(ctx, query, now, limit)
}

func (s *Store) ListByFederation(ctx context.Context, federationID id.FederationID) ([]*models.PendingDecision, error) {
	query := `
		SELECT ` + decisionColumns + `
		FROM pending_decisions
		WHERE federation_id = $1
		ORDER BY created_at ASC
	`
	return s.queryDecisions(ctx, query, uuid.UUID(federationID))
}

func (s *Store) findOpen(ctx context.Context, federationID id.FederationID, subjectID id.MemberID, actionKey string) (*models.PendingDecision, error) {
	query := `
		SELECT ` + decisionColumns + `
		FROM pending_decisions
		WHERE federation_id = $1 AND subject_member_id = $2 AND action_key = $3 AND status = 'pending'
	`
	return scanDecision(s.db.QueryRowContext(ctx, query, uuid.UUID(federationID), uuid.UUID(subjectID), actionKey))
}

func (s *Store) queryDecisions(ctx context.Context, query string, args ...any) ([]*models.PendingDecision, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query decisions: %w", err)
	}
	defer rows.Close()

	var out []*models.PendingDecision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate decisions: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDecision(row rowScanner) (*models.PendingDecision, error) {
	var (
		d            models.PendingDecision
		decisionID   uuid.UUID
		kind         string
		federationID uuid.UUID
		subjectID    uuid.UUID
		subjectRole  string
		actionKey    string
		eventType    sql.NullString
		requestType  sql.NullString
		urgency      sql.NullString
		roles        string
		approvals    []byte
		status       string
		sessionID    uuid.NullUUID
		createdBy    uuid.UUID
		expiresAt    sql.NullTime
	)
	err := row.Scan(
		&decisionID,
		&kind,
		&federationID,
		&subjectID,
		&subjectRole,
		&actionKey,
		&eventType,
		&requestType,
		&urgency,
		&d.Reason,
		&d.Description,
		&d.RequiredApprovals,
		&roles,
		&approvals,
		&status,
		&sessionID,
		&d.FailureReason,
		&createdBy,
		&d.CreatedAt,
		&expiresAt,
		&d.Version,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan decision: %w", err)
	}

	d.ID = id.DecisionID(decisionID)
	d.Kind = models.Kind(kind)
	d.FederationID = id.FederationID(federationID)
	d.SubjectMemberID = id.MemberID(subjectID)
	d.SubjectRole = id.Role(subjectRole)
	d.EventType = id.EventType(eventType.String)
	d.RequestType = id.RecoveryRequestType(requestType.String)
	d.Urgency = id.Urgency(urgency.String)
	d.ApprovedByRoles = decodeRoles(roles)
	d.Status = models.Status(status)
	d.CreatedBy = id.MemberID(createdBy)
	if sessionID.Valid {
		sid := id.SessionID(sessionID.UUID)
		d.SessionID = &sid
	}
	if expiresAt.Valid {
		d.ExpiresAt = expiresAt.Time
	}
	if len(approvals) > 0 {
		if err := json.Unmarshal(approvals, &d.Approvals); err != nil {
			return nil, fmt.Errorf("unmarshal approvals: %w", err)
		}
	}
	return &d, nil
}

func encodeRoles(roles []id.Role) string {
	parts := make([]string, len(roles))
	for i, r := range roles {
		parts[i] = r.String()
	}
	return strings.Join(parts, ",")
}

func decodeRoles(s string) []id.Role {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	roles := make([]id.Role, len(parts))
	for i, p := range parts {
		roles[i] = id.Role(p)
	}
	return roles
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

func nullSessionID(sid *id.SessionID) any {
	if sid == nil {
		return nil
	}
	return uuid.UUID(*sid)
}
