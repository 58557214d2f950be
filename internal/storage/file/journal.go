package file

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/invoicer/internal/domain"
)

const journalDayLayout = "2006-01-02"

// Journal пишет отчёт об обработанных заказах в JSON Lines, один файл на день (UTC).
// Дайджесты и очистка работают только с ним и никогда не трогают Ledger.
type Journal struct {
	mu     sync.Mutex
	dir    string
	logger *log.Entry
}

// NewJournal создаёт журнал в каталоге dir.
func NewJournal(dir string, logger *log.Entry) *Journal {
	if logger == nil {
		logger = log.WithField("component", "report-journal")
	}
	return &Journal{dir: dir, logger: logger}
}

// Dir возвращает каталог журнала.
func (j *Journal) Dir() string {
	return j.dir
}

// Append дописывает строку в файл дня entry.ProcessedAt.
func (j *Journal) Append(_ context.Context, entry domain.ReportEntry) error {
	if entry.ProcessedAt.IsZero() {
		entry.ProcessedAt = time.Now().UTC()
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal report entry: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if err := os.MkdirAll(j.dir, 0o755); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}
	f, err := os.OpenFile(j.fileFor(entry.ProcessedAt), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open report file: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		_ = f.Close()
		return fmt.Errorf("append report entry: %w", err)
	}
	return f.Close()
}

// Range возвращает записи с ProcessedAt в [from, to), упорядоченные по времени.
func (j *Journal) Range(_ context.Context, from, to time.Time) ([]domain.ReportEntry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	days, err := j.listDays()
	if err != nil {
		return nil, err
	}

	fromDay := from.UTC().Truncate(24 * time.Hour)
	var out []domain.ReportEntry
	for _, day := range days {
		if day.Before(fromDay) || !day.Before(to.UTC()) {
			continue
		}
		entries, err := j.readDay(day)
		if err != nil {
			return nil, err
		}
		for _, entry := range entries {
			if !entry.ProcessedAt.Before(from) && entry.ProcessedAt.Before(to) {
				out = append(out, entry)
			}
		}
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].ProcessedAt.Before(out[b].ProcessedAt) })
	return out, nil
}

// Prune удаляет файлы дней строго раньше before и возвращает их количество.
func (j *Journal) Prune(_ context.Context, before time.Time) (int, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	days, err := j.listDays()
	if err != nil {
		return 0, err
	}

	cutoff := before.UTC().Truncate(24 * time.Hour)
	removed := 0
	for _, day := range days {
		if !day.Before(cutoff) {
			continue
		}
		if err := os.Remove(j.fileFor(day)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return removed, fmt.Errorf("remove report file: %w", err)
		}
		removed++
	}
	return removed, nil
}

func (j *Journal) fileFor(t time.Time) string {
	return filepath.Join(j.dir, t.UTC().Format(journalDayLayout)+".jsonl")
}

func (j *Journal) listDays() ([]time.Time, error) {
	entries, err := os.ReadDir(j.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list report dir: %w", err)
	}

	days := make([]time.Time, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".jsonl") {
			continue
		}
		day, err := time.Parse(journalDayLayout, strings.TrimSuffix(name, ".jsonl"))
		if err != nil {
			continue
		}
		days = append(days, day)
	}
	sort.Slice(days, func(a, b int) bool { return days[a].Before(days[b]) })
	return days, nil
}

func (j *Journal) readDay(day time.Time) ([]domain.ReportEntry, error) {
	f, err := os.Open(j.fileFor(day))
	if err != nil {
		return nil, fmt.Errorf("open report file: %w", err)
	}
	defer f.Close()

	var out []domain.ReportEntry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var entry domain.ReportEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			j.logger.WithField("day", day.Format(journalDayLayout)).WithError(err).Warn("skipping malformed report line")
			continue
		}
		out = append(out, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read report file: %w", err)
	}
	return out, nil
}

var _ domain.ReportJournal = (*Journal)(nil)
