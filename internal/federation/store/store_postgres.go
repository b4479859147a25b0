package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"concord/internal/federation/models"
	id "concord/pkg/domain"
	"concord/pkg/platform/sentinel"
)

// Postgres persists federation members.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

const memberColumns = `id, federation_id, role, display_name, active, joined_at, deactivated_at`

func (s *Postgres) Add(ctx context.Context, m *models.Member) error {
	query := `
		INSERT INTO federation_members (` + memberColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, NULL)
	`
	_, err := s.db.ExecContext(ctx, query,
		uuid.UUID(m.ID),
		uuid.UUID(m.FederationID),
		m.Role.String(),
		m.DisplayName,
		m.Active,
		m.JoinedAt,
	)
	if err != nil {
		return fmt.Errorf("add federation member: %w", err)
	}
	return nil
}

func (s *Postgres) Get(ctx context.Context, federationID id.FederationID, memberID id.MemberID) (*models.Member, error) {
	query := `
		SELECT ` + memberColumns + `
		FROM federation_members
		WHERE id = $1 AND federation_id = $2
	`
	m, err := scanMember(s.db.QueryRowContext(ctx, query, uuid.UUID(memberID), uuid.UUID(federationID)))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get federation member: %w", err)
	}
	return m, nil
}

func (s *Postgres) HomeFederation(ctx context.Context, memberID id.MemberID) (id.FederationID, error) {
	var fid uuid.UUID
	err := s.db.QueryRowContext(ctx,
		`SELECT federation_id FROM federation_members WHERE id = $1`,
		uuid.UUID(memberID)).Scan(&fid)
	if err != nil {
		if err == sql.ErrNoRows {
			return id.FederationID{}, sentinel.ErrNotFound
		}
		return id.FederationID{}, fmt.Errorf("get home federation: %w", err)
	}
	return id.FederationID(fid), nil
}

func (s *Postgres) ListByFederation(ctx context.Context, federationID id.FederationID) ([]*models.Member, error) {
	query := `
		SELECT ` + memberColumns + `
		FROM federation_members
		WHERE federation_id = $1
		ORDER BY joined_at ASC
	`
	rows, err := s.db.QueryContext(ctx, query, uuid.UUID(federationID))
	if err != nil {
		return nil, fmt.Errorf("list federation members: %w", err)
	}
	defer rows.Close()

	var out []*models.Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, fmt.Errorf("scan federation member: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Postgres) CountEligibleApprovers(ctx context.Context, federationID id.FederationID) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM federation_members
		WHERE federation_id = $1 AND active AND role IN ('guardian', 'steward')
	`, uuid.UUID(federationID)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count eligible approvers: %w", err)
	}
	return count, nil
}

// Deactivate loads, mutates, and writes back guarded by the active flag so
// a concurrent deactivation loses with ErrConflict.
func (s *Postgres) Deactivate(ctx context.Context, memberID id.MemberID, mutate func(*models.Member) error) (*models.Member, error) {
	m, err := scanMember(s.db.QueryRowContext(ctx,
		`SELECT `+memberColumns+` FROM federation_members WHERE id = $1`,
		uuid.UUID(memberID)))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get federation member: %w", err)
	}
	if err := mutate(m); err != nil {
		return nil, err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE federation_members
		SET active = FALSE, deactivated_at = $2
		WHERE id = $1 AND active
	`, uuid.UUID(memberID), m.DeactivatedAt)
	if err != nil {
		return nil, fmt.Errorf("deactivate federation member: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("deactivate member rows affected: %w", err)
	}
	if rows == 0 {
		return nil, sentinel.ErrConflict
	}
	return m, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMember(row rowScanner) (*models.Member, error) {
	var (
		m    models.Member
		mid  uuid.UUID
		fid  uuid.UUID
		role string
	)
	err := row.Scan(&mid, &fid, &role, &m.DisplayName, &m.Active, &m.JoinedAt, &m.DeactivatedAt)
	if err != nil {
		return nil, err
	}
	m.ID = id.MemberID(mid)
	m.FederationID = id.FederationID(fid)
	m.Role = id.Role(role)
	return &m, nil
}
