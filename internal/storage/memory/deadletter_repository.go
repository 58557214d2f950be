package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/invoicer/internal/domain"
)

type deadLettersInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.DeadLetter
	now   func() time.Time
}

// NewDeadLetters создаёт in-memory реализацию DeadLetterStore.
func NewDeadLetters() domain.DeadLetterStore {
	return &deadLettersInMemory{
		items: make(map[string]domain.DeadLetter),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (s *deadLettersInMemory) Record(_ context.Context, order domain.Order, cause error) (domain.DeadLetter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := s.items[order.OrderNumber].NextAttempt(order, cause, s.now())
	s.items[order.OrderNumber] = entry
	return entry, nil
}

func (s *deadLettersInMemory) Clear(_ context.Context, orderNumber string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, orderNumber)
	return nil
}

func (s *deadLettersInMemory) Get(_ context.Context, orderNumber string) (domain.DeadLetter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.items[orderNumber]
	if !ok {
		return domain.DeadLetter{}, domain.ErrDeadLetterNotFound
	}
	return entry, nil
}

func (s *deadLettersInMemory) List(_ context.Context) ([]domain.DeadLetter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.DeadLetter, 0, len(s.items))
	for _, entry := range s.items {
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderNumber < out[j].OrderNumber })
	return out, nil
}

var _ domain.DeadLetterStore = (*deadLettersInMemory)(nil)
