package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/invoicer/internal/domain"
)

func TestJournal_AppendAndRange(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	journal := NewJournal(dir, nil)

	day1 := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	day2 := day1.Add(24 * time.Hour)

	entries := []domain.ReportEntry{
		{OrderNumber: "1001", Total: decimal.RequireFromString("10.50"), ProcessedAt: day1},
		{OrderNumber: "1002", Total: decimal.RequireFromString("3"), ProcessedAt: day1.Add(2 * time.Hour)},
		{OrderNumber: "1003", Total: decimal.RequireFromString("7"), ProcessedAt: day2},
	}
	for _, e := range entries {
		require.NoError(t, journal.Append(ctx, e))
	}

	_, err := os.Stat(filepath.Join(dir, "2026-03-02.jsonl"))
	require.NoError(t, err)

	got, err := journal.Range(ctx, day1, day1.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "1001", got[0].OrderNumber)
	require.True(t, got[0].Total.Equal(decimal.RequireFromString("10.5")))

	got, err = journal.Range(ctx, day1.Add(time.Hour), day2.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "1002", got[0].OrderNumber)
	require.Equal(t, "1003", got[1].OrderNumber)
}

func TestJournal_RangeEmptyDir(t *testing.T) {
	journal := NewJournal(filepath.Join(t.TempDir(), "missing"), nil)
	got, err := journal.Range(context.Background(), time.Time{}, time.Now())
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestJournal_SkipsMalformedLines(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	day := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	content := "{broken\n" + `{"orderNumber":"1001","total":"1","processedAt":"2026-03-02T09:00:00Z"}` + "\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "2026-03-02.jsonl"), []byte(content), 0o644))

	got, err := NewJournal(dir, nil).Range(ctx, day.Add(-time.Hour), day.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "1001", got[0].OrderNumber)
}

func TestJournal_Prune(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	journal := NewJournal(dir, nil)

	old := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	recent := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, journal.Append(ctx, domain.ReportEntry{OrderNumber: "1", ProcessedAt: old}))
	require.NoError(t, journal.Append(ctx, domain.ReportEntry{OrderNumber: "2", ProcessedAt: recent}))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("keep"), 0o644))

	removed, err := journal.Prune(ctx, recent.Add(-24*time.Hour))
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	_, err = os.Stat(filepath.Join(dir, "2026-01-01.jsonl"))
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dir, "notes.txt"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "2026-03-01.jsonl"))
	require.NoError(t, err)
}
