package override

import (
	"context"
	"sync"

	"concord/internal/permission/models"
	id "concord/pkg/domain"
	"concord/pkg/platform/sentinel"
)

// InMemory keeps all overrides, including revoked ones, for audit
// continuity. FindCurrent returns the newest non-revoked override for a
// (member, event type) pair; expiry is the service's concern.
type InMemory struct {
	mu   sync.RWMutex
	rows map[id.OverrideID]*models.MemberOverride
}

func NewInMemory() *InMemory {
	return &InMemory{rows: make(map[id.OverrideID]*models.MemberOverride)}
}

func (s *InMemory) Create(_ context.Context, o *models.MemberOverride) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.rows[o.ID]; exists {
		return sentinel.ErrConflict
	}
	clone := *o
	s.rows[o.ID] = &clone
	return nil
}

func (s *InMemory) GetByID(_ context.Context, overrideID id.OverrideID) (*models.MemberOverride, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.rows[overrideID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	clone := *row
	return &clone, nil
}

func (s *InMemory) FindCurrent(_ context.Context, federationID id.FederationID, memberID id.MemberID, eventType id.EventType) (*models.MemberOverride, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var newest *models.MemberOverride
	for _, row := range s.rows {
		if row.FederationID != federationID || row.MemberID != memberID || row.EventType != eventType {
			continue
		}
		if row.RevokedAt != nil {
			continue
		}
		if newest == nil || row.CreatedAt.After(newest.CreatedAt) {
			newest = row
		}
	}
	if newest == nil {
		return nil, sentinel.ErrNotFound
	}
	clone := *newest
	return &clone, nil
}

// Revoke applies the mutation under the store lock so a concurrent revoke
// observes ErrConflict rather than silently double-writing.
func (s *InMemory) Revoke(_ context.Context, overrideID id.OverrideID, mutate func(*models.MemberOverride) error) (*models.MemberOverride, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[overrideID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if err := mutate(row); err != nil {
		return nil, err
	}
	clone := *row
	return &clone, nil
}
