package roleperm

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"concord/internal/permission/models"
	id "concord/pkg/domain"
	"concord/pkg/platform/sentinel"
)

// Postgres persists role permissions. The table carries a unique constraint
// on (federation_id, role, event_type); Upsert relies on it for
// last-write-wins semantics.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

const rolePermColumns = `id, federation_id, role, event_type, can_sign, requires_approval, approved_by_roles, max_daily_count, updated_by, updated_at`

func (s *Postgres) Upsert(ctx context.Context, p *models.RolePermission) error {
	roles := make([]string, len(p.ApprovedByRoles))
	for i, r := range p.ApprovedByRoles {
		roles[i] = r.String()
	}
	query := `
		INSERT INTO role_permissions (` + rolePermColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (federation_id, role, event_type) DO UPDATE SET
			can_sign = EXCLUDED.can_sign,
			requires_approval = EXCLUDED.requires_approval,
			approved_by_roles = EXCLUDED.approved_by_roles,
			max_daily_count = EXCLUDED.max_daily_count,
			updated_by = EXCLUDED.updated_by,
			updated_at = EXCLUDED.updated_at
	`
	_, err := s.db.ExecContext(ctx, query,
		uuid.UUID(p.ID),
		uuid.UUID(p.FederationID),
		p.Role.String(),
		p.EventType.String(),
		p.CanSign,
		p.RequiresApproval,
		encodeRoles(p.ApprovedByRoles),
		p.MaxDailyCount,
		uuid.UUID(p.UpdatedBy),
		p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert role permission: %w", err)
	}
	return nil
}

func (s *Postgres) Get(ctx context.Context, federationID id.FederationID, role id.Role, eventType id.EventType) (*models.RolePermission, error) {
	query := `
		SELECT ` + rolePermColumns + `
		FROM role_permissions
		WHERE federation_id = $1 AND role = $2 AND event_type = $3
	`
	return s.queryRow(ctx, query, uuid.UUID(federationID), role.String(), eventType.String())
}

func (s *Postgres) GetByID(ctx context.Context, permissionID id.PermissionID) (*models.RolePermission, error) {
	query := `
		SELECT ` + rolePermColumns + `
		FROM role_permissions
		WHERE id = $1
	`
	return s.queryRow(ctx, query, uuid.UUID(permissionID))
}

func (s *Postgres) queryRow(ctx context.Context, query string, args ...any) (*models.RolePermission, error) {
	p, err := scanRolePermission(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get role permission: %w", err)
	}
	return p, nil
}

func (s *Postgres) ListByFederation(ctx context.Context, federationID id.FederationID) ([]*models.RolePermission, error) {
	query := `
		SELECT ` + rolePermColumns + `
		FROM role_permissions
		WHERE federation_id = $1
		ORDER BY role, event_type
	`
	rows, err := s.db.QueryContext(ctx, query, uuid.UUID(federationID))
	if err != nil {
		return nil, fmt.Errorf("list role permissions: %w", err)
	}
	defer rows.Close()

	var out []*models.RolePermission
	for rows.Next() {
		p, err := scanRolePermission(rows)
		if err != nil {
			return nil, fmt.Errorf("scan role permission: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRolePermission(row rowScanner) (*models.RolePermission, error) {
	var (
		p            models.RolePermission
		pid          uuid.UUID
		fid          uuid.UUID
		role         string
		eventType    string
		encodedRoles string
		updatedBy    uuid.UUID
	)
	err := row.Scan(&pid, &fid, &role, &eventType, &p.CanSign, &p.RequiresApproval, &encodedRoles, &p.MaxDailyCount, &updatedBy, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.ID = id.PermissionID(pid)
	p.FederationID = id.FederationID(fid)
	p.Role = id.Role(role)
	p.EventType = id.EventType(eventType)
	p.ApprovedByRoles = decodeRoles(encodedRoles)
	p.UpdatedBy = id.MemberID(updatedBy)
	return &p, nil
}
