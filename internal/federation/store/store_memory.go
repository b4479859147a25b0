package store

import (
	"context"
	"sync"

	"concord/internal/federation/models"
	id "concord/pkg/domain"
	"concord/pkg/platform/sentinel"
)

// InMemory keeps federation members for tests and single-node development.
type InMemory struct {
	mu   sync.RWMutex
	rows map[id.MemberID]*models.Member
}

func NewInMemory() *InMemory {
	return &InMemory{rows: make(map[id.MemberID]*models.Member)}
}

func (s *InMemory) Add(_ context.Context, m *models.Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.rows[m.ID]; exists {
		return sentinel.ErrConflict
	}
	clone := *m
	s.rows[m.ID] = &clone
	return nil
}

func (s *InMemory) Get(_ context.Context, federationID id.FederationID, memberID id.MemberID) (*models.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.rows[memberID]
	if !ok || row.FederationID != federationID {
		return nil, sentinel.ErrNotFound
	}
	clone := *row
	return &clone, nil
}

// HomeFederation resolves the federation a member belongs to, used by the
// resolver's delegation layer.
func (s *InMemory) HomeFederation(_ context.Context, memberID id.MemberID) (id.FederationID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.rows[memberID]
	if !ok {
		return id.FederationID{}, sentinel.ErrNotFound
	}
	return row.FederationID, nil
}

func (s *InMemory) ListByFederation(_ context.Context, federationID id.FederationID) ([]*models.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Member
	for _, row := range s.rows {
		if row.FederationID == federationID {
			clone := *row
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (s *InMemory) CountEligibleApprovers(_ context.Context, federationID id.FederationID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, row := range s.rows {
		if row.FederationID == federationID && row.EligibleApprover() {
			count++
		}
	}
	return count, nil
}

// Deactivate applies the mutation under the store lock.
func (s *InMemory) Deactivate(_ context.Context, memberID id.MemberID, mutate func(*models.Member) error) (*models.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[memberID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if err := mutate(row); err != nil {
		return nil, err
	}
	clone := *row
	return &clone, nil
}
