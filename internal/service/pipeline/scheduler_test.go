package pipeline

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/invoicer/internal/domain"
)

type countingRunner struct {
	calls atomic.Int32
	err   error
}

func (r *countingRunner) RunCycle(context.Context) (CycleReport, error) {
	r.calls.Add(1)
	return CycleReport{}, r.err
}

func TestScheduler_RunsImmediatelyAndOnInterval(t *testing.T) {
	t.Parallel()
	runner := &countingRunner{}
	s := NewScheduler(runner, WithInitialDelay(0), WithInterval(20*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return runner.calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func TestScheduler_StopsOnFatalError(t *testing.T) {
	t.Parallel()
	runner := &countingRunner{err: domain.ErrLedgerWrite}
	s := NewScheduler(runner, WithInitialDelay(0), WithInterval(time.Hour))

	err := s.Run(context.Background())
	require.ErrorIs(t, err, domain.ErrLedgerWrite)
	assert.Equal(t, int32(1), runner.calls.Load())
}

func TestScheduler_SkippedCycleIsNotFatal(t *testing.T) {
	t.Parallel()
	runner := &countingRunner{err: domain.ErrCycleInProgress}
	s := NewScheduler(runner, WithInitialDelay(0), WithInterval(10*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	require.NoError(t, s.Run(ctx))
	assert.GreaterOrEqual(t, runner.calls.Load(), int32(2))
}

func TestScheduler_Trigger(t *testing.T) {
	t.Parallel()
	runner := &countingRunner{}
	s := NewScheduler(runner, WithInitialDelay(time.Hour), WithInterval(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	s.Trigger()
	require.Eventually(t, func() bool { return runner.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func TestScheduler_ProcessorSkipsOverlap(t *testing.T) {
	t.Parallel()
	f := newFixture(t, order("1", "10"))
	f.source.block = make(chan struct{})

	s := NewScheduler(f.processor, WithInitialDelay(0), WithInterval(10*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(60 * time.Millisecond)
	close(f.source.block)
	require.Eventually(t, func() bool { return f.ledger.Contains("1") }, time.Second, 5*time.Millisecond)
	cancel()

	require.NoError(t, <-done)
	assert.Equal(t, 1, f.renderer.renderCalls("1"))
}

func TestNewScheduler_Defaults(t *testing.T) {
	t.Parallel()
	s := NewScheduler(&countingRunner{}, WithInterval(-1), WithInitialDelay(-time.Second))
	assert.Equal(t, defaultInterval, s.interval)
	assert.Zero(t, s.initialDelay)

	require.Error(t, NewScheduler(nil).Run(context.Background()))
}
