package override

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"concord/internal/permission/models"
	id "concord/pkg/domain"
	"concord/pkg/platform/sentinel"
)

// Postgres persists member overrides. Rows are never deleted; revocation is
// a conditional update guarded by revoked_at IS NULL.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

const overrideColumns = `id, federation_id, member_id, event_type, can_sign, max_daily_count, valid_until, grant_reason, granted_by, created_at, revoked_at, revoked_by, revoke_reason`

func (s *Postgres) Create(ctx context.Context, o *models.MemberOverride) error {
	query := `
		INSERT INTO member_overrides (` + overrideColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NULL, NULL, '')
	`
	_, err := s.db.ExecContext(ctx, query,
		uuid.UUID(o.ID),
		uuid.UUID(o.FederationID),
		uuid.UUID(o.MemberID),
		o.EventType.String(),
		o.CanSign,
		o.MaxDailyCount,
		o.ValidUntil,
		o.GrantReason,
		uuid.UUID(o.GrantedBy),
		o.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create member override: %w", err)
	}
	return nil
}

func (s *Postgres) GetByID(ctx context.Context, overrideID id.OverrideID) (*models.MemberOverride, error) {
	query := `
		SELECT ` + overrideColumns + `
		FROM member_overrides
		WHERE id = $1
	`
	o, err := scanOverride(s.db.QueryRowContext(ctx, query, uuid.UUID(overrideID)))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get member override: %w", err)
	}
	return o, nil
}

func (s *Postgres) FindCurrent(ctx context.Context, federationID id.FederationID, memberID id.MemberID, eventType id.EventType) (*models.MemberOverride, error) {
	query := `
		SELECT ` + overrideColumns + `
		FROM member_overrides
		WHERE federation_id = $1 AND member_id = $2 AND event_type = $3 AND revoked_at IS NULL
		ORDER BY created_at DESC
		LIMIT 1
	`
	o, err := scanOverride(s.db.QueryRowContext(ctx, query,
		uuid.UUID(federationID), uuid.UUID(memberID), eventType.String()))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find current override: %w", err)
	}
	return o, nil
}

// Revoke loads the row, applies the mutation, and writes back guarded by
// revoked_at IS NULL so a concurrent revoke loses with ErrConflict.
func (s *Postgres) Revoke(ctx context.Context, overrideID id.OverrideID, mutate func(*models.MemberOverride) error) (*models.MemberOverride, error) {
	o, err := s.GetByID(ctx, overrideID)
	if err != nil {
		return nil, err
	}
	if err := mutate(o); err != nil {
		return nil, err
	}

	query := `
		UPDATE member_overrides
		SET revoked_at = $2, revoked_by = $3, revoke_reason = $4
		WHERE id = $1 AND revoked_at IS NULL
	`
	var revokedBy any
	if o.RevokedBy != nil {
		revokedBy = uuid.UUID(*o.RevokedBy)
	}
	result, err := s.db.ExecContext(ctx, query, uuid.UUID(overrideID), o.RevokedAt, revokedBy, o.RevokeReason)
	if err != nil {
		return nil, fmt.Errorf("revoke member override: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("revoke member override rows affected: %w", err)
	}
	if rows == 0 {
		return nil, sentinel.ErrConflict
	}
	return o, nil
}

func scanOverride(row *sql.Row) (*models.MemberOverride, error) {
	var (
		o         models.MemberOverride
		oid       uuid.UUID
		fid       uuid.UUID
		mid       uuid.UUID
		eventType string
		grantedBy uuid.UUID
		revokedBy uuid.NullUUID
	)
	err := row.Scan(&oid, &fid, &mid, &eventType, &o.CanSign, &o.MaxDailyCount, &o.ValidUntil,
		&o.GrantReason, &grantedBy, &o.CreatedAt, &o.RevokedAt, &revokedBy, &o.RevokeReason)
	if err != nil {
		return nil, err
	}
	o.ID = id.OverrideID(oid)
	o.FederationID = id.FederationID(fid)
	o.MemberID = id.MemberID(mid)
	o.EventType = id.EventType(eventType)
	o.GrantedBy = id.MemberID(grantedBy)
	if revokedBy.Valid {
		rb := id.MemberID(revokedBy.UUID)
		o.RevokedBy = &rb
	}
	return &o, nil
}
