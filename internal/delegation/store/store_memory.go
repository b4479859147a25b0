package store

import (
	"context"
	"sync"
	"time"

	"concord/internal/delegation/models"
	id "concord/pkg/domain"
	"concord/pkg/platform/sentinel"
)

// InMemory keeps all delegations, including revoked ones. FindBetween
// returns non-revoked delegations; expiry checks belong to the service.
type InMemory struct {
	mu   sync.Mutex
	rows map[id.DelegationID]*models.Delegation
}

func NewInMemory() *InMemory {
	return &InMemory{rows: make(map[id.DelegationID]*models.Delegation)}
}

func (s *InMemory) Create(_ context.Context, d *models.Delegation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.rows[d.ID]; exists {
		return sentinel.ErrConflict
	}
	clone := cloneDelegation(d)
	s.rows[d.ID] = clone
	return nil
}

func (s *InMemory) GetByID(_ context.Context, delegationID id.DelegationID) (*models.Delegation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[delegationID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return cloneDelegation(row), nil
}

func (s *InMemory) FindBetween(_ context.Context, sourceID, targetID id.FederationID) ([]*models.Delegation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Delegation
	for _, row := range s.rows {
		if row.SourceFederationID == sourceID && row.TargetFederationID == targetID && row.RevokedAt == nil {
			out = append(out, cloneDelegation(row))
		}
	}
	return out, nil
}

func (s *InMemory) Revoke(_ context.Context, delegationID id.DelegationID, by id.MemberID, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[delegationID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if row.RevokedAt != nil {
		return sentinel.ErrConflict
	}
	at := now
	row.RevokedAt = &at
	row.RevokedBy = &by
	return nil
}

func (s *InMemory) IncrementUsage(_ context.Context, delegationID id.DelegationID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[delegationID]
	if !ok {
		return sentinel.ErrNotFound
	}
	row.UsageCount++
	return nil
}

func cloneDelegation(d *models.Delegation) *models.Delegation {
	clone := *d
	clone.DelegatedEventTypes = append([]id.EventType(nil), d.DelegatedEventTypes...)
	return &clone
}
