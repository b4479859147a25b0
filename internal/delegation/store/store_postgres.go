package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"concord/internal/delegation/models"
	id "concord/pkg/domain"
	"concord/pkg/platform/sentinel"
)

// Postgres persists cross-federation delegations. Revocation is a
// conditional update so it is immediate and never double-applied; there is
// no caching layer, so the very next resolution observes it.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

const delegationColumns = `id, source_federation_id, target_federation_id, event_types, target_member_id, valid_until, max_daily_uses, usage_count, created_by, created_at, revoked_at, revoked_by`

func (s *Postgres) Create(ctx context.Context, d *models.Delegation) error {
	var targetMember any
	if d.TargetMemberID != nil {
		targetMember = uuid.UUID(*d.TargetMemberID)
	}
	query := `
		INSERT INTO delegations (` + delegationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NULL, NULL)
	`
	_, err := s.db.ExecContext(ctx, query,
		uuid.UUID(d.ID),
		uuid.UUID(d.SourceFederationID),
		uuid.UUID(d.TargetFederationID),
		encodeEventTypes(d.DelegatedEventTypes),
		targetMember,
		d.ValidUntil,
		d.MaxDailyUses,
		d.UsageCount,
		uuid.UUID(d.CreatedBy),
		d.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create delegation: %w", err)
	}
	return nil
}

func (s *Postgres) GetByID(ctx context.Context, delegationID id.DelegationID) (*models.Delegation, error) {
	query := `
		SELECT ` + delegationColumns + `
		FROM delegations
		WHERE id = $1
	`
	d, err := scanDelegation(s.db.QueryRowContext(ctx, query, uuid.UUID(delegationID)))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get delegation: %w", err)
	}
	return d, nil
}

func (s *Postgres) FindBetween(ctx context.Context, sourceID, targetID id.FederationID) ([]*models.Delegation, error) {
	query := `
		SELECT ` + delegationColumns + `
		FROM delegations
		WHERE source_federation_id = $1 AND target_federation_id = $2 AND revoked_at IS NULL
		ORDER BY created_at ASC
	`
	rows, err := s.db.QueryContext(ctx, query, uuid.UUID(sourceID), uuid.UUID(targetID))
	if err != nil {
		return nil, fmt.Errorf("find delegations: %w", err)
	}
	defer rows.Close()

	var out []*models.Delegation
	for rows.Next() {
		d, err := scanDelegation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan delegation: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Postgres) Revoke(ctx context.Context, delegationID id.DelegationID, by id.MemberID, now time.Time) error {
	query := `
		UPDATE delegations
		SET revoked_at = $2, revoked_by = $3
		WHERE id = $1 AND revoked_at IS NULL
	`
	result, err := s.db.ExecContext(ctx, query, uuid.UUID(delegationID), now, uuid.UUID(by))
	if err != nil {
		return fmt.Errorf("revoke delegation: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("revoke delegation rows affected: %w", err)
	}
	if rows == 0 {
		// Either absent or already revoked; disambiguate for the caller.
		if _, getErr := s.GetByID(ctx, delegationID); getErr != nil {
			return getErr
		}
		return sentinel.ErrConflict
	}
	return nil
}

func (s *Postgres) IncrementUsage(ctx context.Context, delegationID id.DelegationID) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE delegations SET usage_count = usage_count + 1 WHERE id = $1`,
		uuid.UUID(delegationID))
	if err != nil {
		return fmt.Errorf("increment delegation usage: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("increment delegation usage rows affected: %w", err)
	}
	if rows == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDelegation(row rowScanner) (*models.Delegation, error) {
	var (
		d            models.Delegation
		did          uuid.UUID
		sourceID     uuid.UUID
		targetID     uuid.UUID
		eventTypes   string
		targetMember uuid.NullUUID
		createdBy    uuid.UUID
		revokedBy    uuid.NullUUID
	)
	err := row.Scan(&did, &sourceID, &targetID, &eventTypes, &targetMember, &d.ValidUntil,
		&d.MaxDailyUses, &d.UsageCount, &createdBy, &d.CreatedAt, &d.RevokedAt, &revokedBy)
	if err != nil {
		return nil, err
	}
	d.ID = id.DelegationID(did)
	d.SourceFederationID = id.FederationID(sourceID)
	d.TargetFederationID = id.FederationID(targetID)
	d.DelegatedEventTypes = decodeEventTypes(eventTypes)
	if targetMember.Valid {
		m := id.MemberID(targetMember.UUID)
		d.TargetMemberID = &m
	}
	d.CreatedBy = id.MemberID(createdBy)
	if revokedBy.Valid {
		m := id.MemberID(revokedBy.UUID)
		d.RevokedBy = &m
	}
	return &d, nil
}

func encodeEventTypes(types []id.EventType) string {
	parts := make([]string, len(types))
	for i, t := range types {
		parts[i] = t.String()
	}
	return strings.Join(parts, ",")
}

func decodeEventTypes(encoded string) []id.EventType {
	if encoded == "" {
		return nil
	}
	parts := strings.Split(encoded, ",")
	types := make([]id.EventType, len(parts))
	for i, p := range parts {
		types[i] = id.EventType(p)
	}
	return types
}
