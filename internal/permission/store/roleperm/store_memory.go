package roleperm

import (
	"context"
	"sync"

	"concord/internal/permission/models"
	id "concord/pkg/domain"
	"concord/pkg/platform/sentinel"
)

type key struct {
	federation id.FederationID
	role       id.Role
	eventType  id.EventType
}

// InMemory stores role permissions keyed by (federation, role, event type).
// Upsert is last-write-wins per key, matching the durable store's ON
// CONFLICT behavior.
type InMemory struct {
	mu   sync.RWMutex
	rows map[key]*models.RolePermission
}

func NewInMemory() *InMemory {
	return &InMemory{rows: make(map[key]*models.RolePermission)}
}

func (s *InMemory) Upsert(_ context.Context, p *models.RolePermission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *p
	clone.ApprovedByRoles = append([]id.Role(nil), p.ApprovedByRoles...)
	s.rows[key{p.FederationID, p.Role, p.EventType}] = &clone
	return nil
}

func (s *InMemory) Get(_ context.Context, federationID id.FederationID, role id.Role, eventType id.EventType) (*models.RolePermission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.rows[key{federationID, role, eventType}]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	clone := *row
	clone.ApprovedByRoles = append([]id.Role(nil), row.ApprovedByRoles...)
	return &clone, nil
}

func (s *InMemory) GetByID(_ context.Context, permissionID id.PermissionID) (*models.RolePermission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, row := range s.rows {
		if row.ID == permissionID {
			clone := *row
			clone.ApprovedByRoles = append([]id.Role(nil), row.ApprovedByRoles...)
			return &clone, nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemory) ListByFederation(_ context.Context, federationID id.FederationID) ([]*models.RolePermission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.RolePermission
	for _, row := range s.rows {
		if row.FederationID == federationID {
			clone := *row
			clone.ApprovedByRoles = append([]id.Role(nil), row.ApprovedByRoles...)
			out = append(out, &clone)
		}
	}
	return out, nil
}
