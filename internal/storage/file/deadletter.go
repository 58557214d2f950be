package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/invoicer/internal/domain"
)

// DeadLetters хранит заказы, которые не удалось отрендерить, в одном JSON-файле.
type DeadLetters struct {
	mu     sync.Mutex
	path   string
	now    func() time.Time
	logger *log.Entry
}

// NewDeadLetters создаёт хранилище dead-letter записей поверх файла path.
func NewDeadLetters(path string, logger *log.Entry) *DeadLetters {
	if logger == nil {
		logger = log.WithField("component", "file-dead-letters")
	}
	return &DeadLetters{
		path:   path,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger,
	}
}

// Record увеличивает счётчик неудач заказа и сохраняет снимок заказа.
func (d *DeadLetters) Record(_ context.Context, order domain.Order, cause error) (domain.DeadLetter, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	items := d.readLocked()
	entry := items[order.OrderNumber].NextAttempt(order, cause, d.now())
	items[order.OrderNumber] = entry

	if err := d.writeLocked(items); err != nil {
		return entry, err
	}
	return entry, nil
}

// Clear удаляет запись; отсутствие записи не ошибка.
func (d *DeadLetters) Clear(_ context.Context, orderNumber string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	items := d.readLocked()
	if _, ok := items[orderNumber]; !ok {
		return nil
	}
	delete(items, orderNumber)
	return d.writeLocked(items)
}

// Get возвращает запись или domain.ErrDeadLetterNotFound.
func (d *DeadLetters) Get(_ context.Context, orderNumber string) (domain.DeadLetter, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	entry, ok := d.readLocked()[orderNumber]
	if !ok {
		return domain.DeadLetter{}, domain.ErrDeadLetterNotFound
	}
	return entry, nil
}

// List возвращает записи, отсортированные по времени первой неудачи.
func (d *DeadLetters) List(_ context.Context) ([]domain.DeadLetter, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	items := d.readLocked()
	out := make([]domain.DeadLetter, 0, len(items))
	for _, entry := range items {
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FirstFailedAt.Equal(out[j].FirstFailedAt) {
			return out[i].OrderNumber < out[j].OrderNumber
		}
		return out[i].FirstFailedAt.Before(out[j].FirstFailedAt)
	})
	return out, nil
}

// readLocked читает файл; отсутствующий или повреждённый файл даёт пустой список.
func (d *DeadLetters) readLocked() map[string]domain.DeadLetter {
	items := make(map[string]domain.DeadLetter)

	data, err := os.ReadFile(d.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			d.logger.WithError(err).Warn("dead letter file unreadable, treating as empty")
		}
		return items
	}

	var list []domain.DeadLetter
	if err := json.Unmarshal(data, &list); err != nil {
		d.logger.WithError(err).Warn("dead letter file is corrupt, treating as empty")
		return items
	}
	for _, entry := range list {
		items[entry.OrderNumber] = entry
	}
	return items
}

func (d *DeadLetters) writeLocked(items map[string]domain.DeadLetter) error {
	list := make([]domain.DeadLetter, 0, len(items))
	for _, entry := range items {
		list = append(list, entry)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].OrderNumber < list[j].OrderNumber })

	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal dead letters: %w", err)
	}
	if err := writeFileAtomic(d.path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write dead letters: %w", err)
	}
	return nil
}

var _ domain.DeadLetterStore = (*DeadLetters)(nil)
