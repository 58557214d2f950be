// Package file содержит файловые реализации журналов: обработанные заказы,
// dead-letter список и журнал отчётов для дайджестов.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/invoicer/internal/domain"
)

// Ledger хранит обработанные номера заказов JSON-массивом строк.
// Файл целиком перезаписывается при каждом Commit; Load перечитывает его
// в начале каждого цикла.
type Ledger struct {
	mu     sync.RWMutex
	path   string
	set    domain.ProcessedSet
	logger *log.Entry
}

// NewLedger создаёт журнал поверх файла path. Файл читается в Load.
func NewLedger(path string, logger *log.Entry) *Ledger {
	if logger == nil {
		logger = log.WithField("component", "file-ledger")
	}
	return &Ledger{
		path:   path,
		set:    domain.NewProcessedSet(),
		logger: logger,
	}
}

// Path возвращает путь к файлу журнала.
func (l *Ledger) Path() string {
	return l.path
}

// Load читает множество с диска. Отсутствующий файл создаётся пустым,
// повреждённый сохраняется рядом с суффиксом .corrupt и заменяется пустым.
// Ошибка возвращается только если пустой файл не удалось записать.
func (l *Ledger) Load(_ context.Context) (domain.ProcessedSet, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ids, err := readLedgerFile(l.path)
	switch {
	case err == nil:
		l.set = domain.NewProcessedSet(ids...)
		return domain.NewProcessedSet(l.set.IDs()...), nil
	case errors.Is(err, fs.ErrNotExist):
		l.logger.WithField("path", l.path).Info("ledger file not found, starting with empty ledger")
	case errors.Is(err, domain.ErrLedgerCorrupt):
		l.logger.WithField("path", l.path).WithError(err).Warn("ledger file is corrupt, starting with empty ledger")
		if renameErr := os.Rename(l.path, l.path+".corrupt"); renameErr != nil {
			l.logger.WithError(renameErr).Warn("failed to keep corrupt ledger copy")
		}
	default:
		l.logger.WithField("path", l.path).WithError(err).Warn("ledger file unreadable, starting with empty ledger")
	}

	l.set = domain.NewProcessedSet()
	if err := l.flushLocked(); err != nil {
		return domain.NewProcessedSet(), err
	}
	return domain.NewProcessedSet(), nil
}

// Contains проверяет номер по загруженному множеству.
func (l *Ledger) Contains(id string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.set.Contains(id)
}

// Commit добавляет номер и синхронно перезаписывает файл. Перед записью
// множество объединяется с содержимым файла, поэтому номера, добавленные
// другим процессом (например, dead-letter утилитой), не теряются.
// Номер, который уже есть в файле, ничего не пишет.
func (l *Ledger) Commit(_ context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	onDisk := l.mergeDiskLocked()
	had := l.set.Contains(id)
	if onDisk.Contains(id) {
		l.set.Add(id)
		return nil
	}

	l.set.Add(id)
	if err := l.flushLocked(); err != nil {
		if !had {
			l.set.Remove(id)
		}
		return err
	}
	return nil
}

// Forget убирает номер из журнала; используется только операторскими утилитами.
func (l *Ledger) Forget(id string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.mergeDiskLocked()
	if !l.set.Contains(id) {
		return false, nil
	}
	l.set.Remove(id)
	if err := l.flushLocked(); err != nil {
		l.set.Add(id)
		return false, err
	}
	return true, nil
}

// Len возвращает количество зафиксированных номеров.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.set.Len()
}

func (l *Ledger) flushLocked() error {
	data, err := json.MarshalIndent(l.set.IDs(), "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshal: %v", domain.ErrLedgerWrite, err)
	}
	if err := writeFileAtomic(l.path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrLedgerWrite, l.path, err)
	}
	return nil
}

// mergeDiskLocked добавляет в множество номера из файла и возвращает то,
// что лежит на диске. Нечитаемый файл считается пустым: его разбирает Load.
func (l *Ledger) mergeDiskLocked() domain.ProcessedSet {
	ids, err := readLedgerFile(l.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			l.logger.WithField("path", l.path).WithError(err).Warn("ledger file unreadable before commit, rewriting from memory")
		}
		return domain.NewProcessedSet()
	}
	for _, id := range ids {
		l.set.Add(id)
	}
	return domain.NewProcessedSet(ids...)
}

func readLedgerFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrLedgerCorrupt, err)
	}
	return ids, nil
}

var _ domain.Ledger = (*Ledger)(nil)
