package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/vladislavdragonenkov/invoicer/internal/domain"
)

// ledgerInMemory — журнал обработанных заказов без персистентности.
type ledgerInMemory struct {
	mu  sync.RWMutex
	set domain.ProcessedSet
}

// NewLedger возвращает in-memory Ledger для dry-run запусков и тестов.
func NewLedger(ids ...string) domain.Ledger {
	return &ledgerInMemory{set: domain.NewProcessedSet(ids...)}
}

func (l *ledgerInMemory) Load(_ context.Context) (domain.ProcessedSet, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return domain.NewProcessedSet(l.set.IDs()...), nil
}

func (l *ledgerInMemory) Contains(id string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.set.Contains(strings.TrimSpace(id))
}

func (l *ledgerInMemory) Commit(_ context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.set.Add(id)
	return nil
}

// Len возвращает размер журнала.
func (l *ledgerInMemory) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.set.Len()
}

var _ domain.Ledger = (*ledgerInMemory)(nil)
