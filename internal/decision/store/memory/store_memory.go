package memory

import (
	"context"
	"sync"
	"time"

	"concord/internal/decision/models"
	id "concord/pkg/domain"
	"concord/pkg/platform/sentinel"
)

// Store is an in-memory decision store for tests and local development.
// Versioned writes give the same lost-update protection as the postgres
// store's conditional UPDATE.
type Store struct {
	mu        sync.RWMutex
	decisions map[id.DecisionID]*models.PendingDecision
}

func New() *Store {
	return &Store{decisions: make(map[id.DecisionID]*models.PendingDecision)}
}

// CreateOrJoin inserts the decision unless another open decision exists for
// the same (federation, subject, action); in that case the existing one is
// returned and created is false.
func (s *Store) CreateOrJoin(ctx context.Context, d *models.PendingDecision) (*models.PendingDecision, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.decisions {
		if existing.Status == models.StatusPending &&
			existing.FederationID == d.FederationID &&
			existing.SubjectMemberID == d.SubjectMemberID &&
			existing.ActionKey() == d.ActionKey() {
			return clone(existing), false, nil
		}
	}
	if _, ok := s.decisions[d.ID]; ok {
		return nil, false, sentinel.ErrConflict
	}
	d.Version = 1
	s.decisions[d.ID] = clone(d)
	return clone(d), true, nil
}

func (s *Store) Get(ctx context.Context, decisionID id.DecisionID) (*models.PendingDecision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.decisions[decisionID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return clone(d), nil
}

// Update persists d only if the stored version still equals expectedVersion.
// On success d's version is bumped; on a lost race ErrConflict is returned
// and the caller re-reads.
func (s *Store) Update(ctx context.Context, d *models.PendingDecision, expectedVersion int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.decisions[d.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if current.Version != expectedVersion {
		return sentinel.ErrConflict
	}
	d.Version = expectedVersion + 1
	s.decisions[d.ID] = clone(d)
	return nil
}

// ListOpenExpired returns pending decisions whose deadline has passed, for
// the background sweep.
func (s *Store) ListOpenExpired(ctx context.Context, now time.Time, limit int) ([]*models.PendingDecision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.PendingDecision
	for _, d := range s.decisions {
		if d.IsExpired(now) {
			out = append(out, clone(d))
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

// ListByFederation returns all decisions for a federation, newest first not
// guaranteed; callers sort as needed.
func (s *Store) ListByFederation(ctx context.Context, federationID id.FederationID) ([]*models.PendingDecision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.PendingDecision
	for _, d := range s.decisions {
		if d.FederationID == federationID {
			out = append(out, clone(d))
		}
	}
	return out, nil
}

func clone(d *models.PendingDecision) *models.PendingDecision {
	c := *d
	c.ApprovedByRoles = append([]id.Role(nil), d.ApprovedByRoles...)
	c.Approvals = append([]models.Approval(nil), d.Approvals...)
	if d.SessionID != nil {
		sid := *d.SessionID
		c.SessionID = &sid
	}
	return &c
}
