package memory

import (
	"context"
	"sort"
	"sync"

	"concord/internal/audit"
	id "concord/pkg/domain"
)

// Store is an in-memory append-only audit store for tests and single-node
// development.
type Store struct {
	mu      sync.RWMutex
	entries map[id.FederationID][]audit.Entry
}

func New() *Store {
	return &Store{entries: make(map[id.FederationID][]audit.Entry)}
}

func (s *Store) Append(_ context.Context, entry audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entry.FederationID] = append(s.entries[entry.FederationID], entry)
	return nil
}

func (s *Store) List(_ context.Context, federationID id.FederationID, filter audit.Filter) ([]audit.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []audit.Entry
	for _, entry := range s.entries[federationID] {
		if !matches(entry, filter) {
			continue
		}
		matched = append(matched, entry)
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Timestamp.Before(matched[j].Timestamp)
	})

	if filter.Offset >= len(matched) {
		return nil, nil
	}
	matched = matched[filter.Offset:]
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

func matches(entry audit.Entry, filter audit.Filter) bool {
	if !filter.MemberID.IsNil() && entry.ActorID != filter.MemberID {
		return false
	}
	if filter.EventType != "" && entry.Details["event_type"] != filter.EventType.String() {
		return false
	}
	if filter.Action != "" && entry.Action != filter.Action {
		return false
	}
	if filter.Decision != "" && entry.Decision != filter.Decision {
		return false
	}
	if !filter.From.IsZero() && entry.Timestamp.Before(filter.From) {
		return false
	}
	if !filter.To.IsZero() && entry.Timestamp.After(filter.To) {
		return false
	}
	return true
}
