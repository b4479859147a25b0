package usage

import (
	"context"
	"sync"
	"time"
)

// InMemory tracks daily usage counters and last-use timestamps. Counters
// are keyed by (scope key, UTC day) exactly like the Redis implementation
// so quota boundaries behave identically in tests.
type InMemory struct {
	mu       sync.Mutex
	counts   map[string]int
	lastUses map[string]time.Time
}

func NewInMemory() *InMemory {
	return &InMemory{
		counts:   make(map[string]int),
		lastUses: make(map[string]time.Time),
	}
}

func (s *InMemory) IncrementDaily(_ context.Context, key, day string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key + ":" + day
	s.counts[k]++
	return s.counts[k], nil
}

func (s *InMemory) DailyCount(_ context.Context, key, day string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[key+":"+day], nil
}

func (s *InMemory) MarkUse(_ context.Context, key string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastUses[key] = at
	return nil
}

func (s *InMemory) LastUse(_ context.Context, key string) (*time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.lastUses[key]
	if !ok {
		return nil, nil
	}
	return &at, nil
}
