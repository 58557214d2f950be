package postgres

import (
	"context"
	"fmt"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/invoicer/internal/domain"
)

// Ledger — журнал обработанных заказов в таблице processed_orders.
// Contains отвечает по кешу, заполненному в Load и дополняемому в Commit.
// Схема создаётся миграциями, поэтому ошибка чтения возвращается вызывающему.
type Ledger struct {
	store  *Store
	logger *log.Entry

	mu    sync.RWMutex
	cache domain.ProcessedSet
}

// NewLedger создаёт PostgreSQL-реализацию Ledger.
func NewLedger(store *Store, logger *log.Entry) *Ledger {
	if logger == nil {
		logger = log.WithField("component", "postgres-ledger")
	}
	return &Ledger{store: store, logger: logger, cache: domain.NewProcessedSet()}
}

func (l *Ledger) Load(ctx context.Context) (domain.ProcessedSet, error) {
	queryCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := l.store.DB().QueryContext(queryCtx, `SELECT order_number FROM processed_orders`)
	if err != nil {
		// Пустой журнал при недоступной базе повторно напечатал бы всё окно.
		return domain.NewProcessedSet(), fmt.Errorf("query processed orders: %w", err)
	}
	defer rows.Close()

	set := domain.NewProcessedSet()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return domain.NewProcessedSet(), fmt.Errorf("scan processed order: %w", err)
		}
		set.Add(id)
	}
	if err := rows.Err(); err != nil {
		return domain.NewProcessedSet(), fmt.Errorf("iterate processed orders: %w", err)
	}

	l.replaceCache(set)
	l.logger.WithField("processed", set.Len()).Debug("ledger loaded")
	return domain.NewProcessedSet(set.IDs()...), nil
}

func (l *Ledger) Contains(id string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cache.Contains(strings.TrimSpace(id))
}

// Commit пишет номер синхронно; конфликт по ключу означает, что номер уже зафиксирован.
func (l *Ledger) Commit(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil
	}

	execCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := l.store.DB().ExecContext(execCtx, `
		INSERT INTO processed_orders (order_number, processed_at)
		VALUES ($1, NOW())
		ON CONFLICT (order_number) DO NOTHING
	`, id); err != nil {
		return fmt.Errorf("%w: insert processed order %s: %v", domain.ErrLedgerWrite, id, err)
	}

	l.mu.Lock()
	l.cache.Add(id)
	l.mu.Unlock()
	return nil
}

// Forget удаляет номер из журнала; используется операторскими утилитами.
func (l *Ledger) Forget(ctx context.Context, id string) (bool, error) {
	execCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := l.store.DB().ExecContext(execCtx, `DELETE FROM processed_orders WHERE order_number = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete processed order: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}

	l.mu.Lock()
	l.cache.Remove(id)
	l.mu.Unlock()
	return affected > 0, nil
}

// Len возвращает размер кеша.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cache.Len()
}

func (l *Ledger) replaceCache(set domain.ProcessedSet) {
	l.mu.Lock()
	l.cache = set
	l.mu.Unlock()
}

var _ domain.Ledger = (*Ledger)(nil)
