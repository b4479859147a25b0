package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"concord/internal/audit"
	id "concord/pkg/domain"
)

// Store persists audit entries in PostgreSQL. The audit_entries table is
// append-only: this store exposes no update or delete paths, and the table
// should carry no UPDATE/DELETE grants for the application role.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Append(ctx context.Context, entry audit.Entry) error {
	details, err := json.Marshal(entry.Details)
	if err != nil {
		return fmt.Errorf("marshal audit details: %w", err)
	}

	var decisionID any
	if entry.DecisionID != nil {
		decisionID = uuid.UUID(*entry.DecisionID)
	}

	query := `
		INSERT INTO audit_entries (id, decision_id, federation_id, actor_id, actor_role, action, decision, reason, details, request_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err = s.db.ExecContext(ctx, query,
		entry.ID,
		decisionID,
		uuid.UUID(entry.FederationID),
		uuid.UUID(entry.ActorID),
		entry.ActorRole.String(),
		string(entry.Action),
		entry.Decision,
		entry.Reason,
		details,
		entry.RequestID,
		entry.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

func (s *Store) List(ctx context.Context, federationID id.FederationID, filter audit.Filter) ([]audit.Entry, error) {
	var (
		conditions = []string{"federation_id = $1"}
		args       = []any{uuid.UUID(federationID)}
	)
	next := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if !filter.MemberID.IsNil() {
		conditions = append(conditions, "actor_id = "+next(uuid.UUID(filter.MemberID)))
	}
	if filter.EventType != "" {
		conditions = append(conditions, "details->>'event_type' = "+next(filter.EventType.String()))
	}
	if filter.Action != "" {
		conditions = append(conditions, "action = "+next(string(filter.Action)))
	}
	if filter.Decision != "" {
		conditions = append(conditions, "decision = "+next(filter.Decision))
	}
	if !filter.From.IsZero() {
		conditions = append(conditions, "created_at >= "+next(filter.From))
	}
	if !filter.To.IsZero() {
		conditions = append(conditions, "created_at <= "+next(filter.To))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = audit.DefaultPageSize
	}

	query := fmt.Sprintf(`
		SELECT id, decision_id, federation_id, actor_id, actor_role, action, decision, reason, details, request_id, created_at
		FROM audit_entries
		WHERE %s
		ORDER BY created_at ASC, id ASC
		LIMIT %s OFFSET %s
	`, strings.Join(conditions, " AND "), next(limit), next(filter.Offset))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []audit.Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}
	return entries, nil
}

func scanEntry(rows *sql.Rows) (audit.Entry, error) {
	var (
		entry        audit.Entry
		decisionID   uuid.NullUUID
		federationID uuid.UUID
		actorID      uuid.UUID
		actorRole    string
		action       string
		details      []byte
	)
	err := rows.Scan(
		&entry.ID,
		&decisionID,
		&federationID,
		&actorID,
		&actorRole,
		&action,
		&entry.Decision,
		&entry.Reason,
		&details,
		&entry.RequestID,
		&entry.Timestamp,
	)
	if err != nil {
		return audit.Entry{}, fmt.Errorf("scan audit entry: %w", err)
	}

	if decisionID.Valid {
		did := id.DecisionID(decisionID.UUID)
		entry.DecisionID = &did
	}
	entry.FederationID = id.FederationID(federationID)
	entry.ActorID = id.MemberID(actorID)
	entry.ActorRole = id.Role(actorRole)
	entry.Action = audit.Action(action)
	if len(details) > 0 {
		if err := json.Unmarshal(details, &entry.Details); err != nil {
			return audit.Entry{}, fmt.Errorf("unmarshal audit details: %w", err)
		}
	}
	return entry, nil
}
