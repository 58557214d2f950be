// Package redis хранит журнал обработанных заказов в Redis-множестве.
package redis

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/invoicer/internal/domain"
)

const (
	// DefaultKey — ключ множества обработанных номеров.
	DefaultKey = "invoicer:processed_orders"
	opTimeout  = 3 * time.Second
)

// Options задаёт подключение к Redis.
type Options struct {
	Addr     string
	Password string
	DB       int
	Key      string
}

// NewClient создаёт клиента и проверяет соединение.
func NewClient(ctx context.Context, opts Options) (goredis.UniversalClient, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", opts.Addr, err)
	}
	return client, nil
}

// Ledger держит номера в множестве SADD/SMEMBERS и кеширует их для Contains.
type Ledger struct {
	client goredis.UniversalClient
	key    string
	logger *log.Entry

	mu    sync.RWMutex
	cache domain.ProcessedSet
}

// NewLedger создаёт Ledger поверх клиента; пустой key заменяется DefaultKey.
func NewLedger(client goredis.UniversalClient, key string, logger *log.Entry) *Ledger {
	if strings.TrimSpace(key) == "" {
		key = DefaultKey
	}
	if logger == nil {
		logger = log.WithField("component", "redis-ledger")
	}
	return &Ledger{client: client, key: key, logger: logger, cache: domain.NewProcessedSet()}
}

func (l *Ledger) Load(ctx context.Context) (domain.ProcessedSet, error) {
	queryCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	ids, err := l.client.SMembers(queryCtx, l.key).Result()
	if err != nil {
		return domain.NewProcessedSet(), fmt.Errorf("smembers %s: %w", l.key, err)
	}

	set := domain.NewProcessedSet(ids...)
	l.mu.Lock()
	l.cache = set
	l.mu.Unlock()

	l.logger.WithField("processed", set.Len()).Debug("ledger loaded")
	return domain.NewProcessedSet(set.IDs()...), nil
}

func (l *Ledger) Contains(id string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cache.Contains(strings.TrimSpace(id))
}

// Commit добавляет номер в множество; повторное добавление ничего не меняет.
func (l *Ledger) Commit(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil
	}

	execCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if err := l.client.SAdd(execCtx, l.key, id).Err(); err != nil {
		return fmt.Errorf("%w: sadd %s: %v", domain.ErrLedgerWrite, l.key, err)
	}

	l.mu.Lock()
	l.cache.Add(id)
	l.mu.Unlock()
	return nil
}

// Forget убирает номер из множества.
func (l *Ledger) Forget(ctx context.Context, id string) (bool, error) {
	execCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	removed, err := l.client.SRem(execCtx, l.key, id).Result()
	if err != nil {
		return false, fmt.Errorf("srem %s: %w", l.key, err)
	}

	l.mu.Lock()
	l.cache.Remove(id)
	l.mu.Unlock()
	return removed > 0, nil
}

// Len возвращает размер кеша.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cache.Len()
}

// Ping проверяет соединение; используется диагностикой.
func (l *Ledger) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

var _ domain.Ledger = (*Ledger)(nil)
