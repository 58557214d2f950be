package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/invoicer/internal/domain"
)

type journalInMemory struct {
	mu      sync.RWMutex
	entries []domain.ReportEntry
}

// NewJournal создаёт in-memory ReportJournal.
func NewJournal() domain.ReportJournal {
	return &journalInMemory{}
}

func (j *journalInMemory) Append(_ context.Context, entry domain.ReportEntry) error {
	if entry.ProcessedAt.IsZero() {
		entry.ProcessedAt = time.Now().UTC()
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, entry)
	return nil
}

func (j *journalInMemory) Range(_ context.Context, from, to time.Time) ([]domain.ReportEntry, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	var out []domain.ReportEntry
	for _, entry := range j.entries {
		if !entry.ProcessedAt.Before(from) && entry.ProcessedAt.Before(to) {
			out = append(out, entry)
		}
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].ProcessedAt.Before(out[b].ProcessedAt) })
	return out, nil
}

func (j *journalInMemory) Prune(_ context.Context, before time.Time) (int, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	kept := j.entries[:0]
	removed := 0
	for _, entry := range j.entries {
		if entry.ProcessedAt.Before(before) {
			removed++
			continue
		}
		kept = append(kept, entry)
	}
	j.entries = kept
	return removed, nil
}

var _ domain.ReportJournal = (*journalInMemory)(nil)
