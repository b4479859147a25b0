package window

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"concord/internal/permission/models"
	"concord/pkg/platform/sentinel"
)

type target struct {
	kind models.TargetKind
	id   uuid.UUID
}

// InMemory keeps at most one window per target, matching the durable
// store's unique constraint on (target_kind, target_id).
type InMemory struct {
	mu   sync.RWMutex
	rows map[target]*models.TimeWindow
}

func NewInMemory() *InMemory {
	return &InMemory{rows: make(map[target]*models.TimeWindow)}
}

func (s *InMemory) Set(_ context.Context, w *models.TimeWindow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *w
	clone.Days = append([]time.Weekday(nil), w.Days...)
	s.rows[target{w.TargetKind, w.TargetID}] = &clone
	return nil
}

func (s *InMemory) GetByTarget(_ context.Context, kind models.TargetKind, targetID uuid.UUID) (*models.TimeWindow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.rows[target{kind, targetID}]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	clone := *row
	return &clone, nil
}
