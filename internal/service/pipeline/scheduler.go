package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/invoicer/internal/domain"
)

const (
	defaultInterval     = 5 * time.Minute
	defaultInitialDelay = 5 * time.Second
)

// CycleRunner выполняет один цикл конвейера.
type CycleRunner interface {
	RunCycle(ctx context.Context) (CycleReport, error)
}

// SchedulerOptions задаёт параметры Scheduler.
type SchedulerOptions struct {
	Logger       *log.Entry
	Interval     time.Duration
	InitialDelay time.Duration
}

// SchedulerOption настраивает Scheduler.
type SchedulerOption func(*SchedulerOptions)

// WithSchedulerLogger задаёт logger.
func WithSchedulerLogger(logger *log.Entry) SchedulerOption {
	return func(opts *SchedulerOptions) {
		opts.Logger = logger
	}
}

// WithInterval задаёт период между циклами.
func WithInterval(interval time.Duration) SchedulerOption {
	return func(opts *SchedulerOptions) {
		opts.Interval = interval
	}
}

// WithInitialDelay задаёт задержку первого цикла после старта.
func WithInitialDelay(delay time.Duration) SchedulerOption {
	return func(opts *SchedulerOptions) {
		opts.InitialDelay = delay
	}
}

// Scheduler запускает циклы по таймеру. Цикл выполняется в отдельной горутине,
// а тик, пришедший во время активного цикла, пропускается.
type Scheduler struct {
	runner       CycleRunner
	logger       *log.Entry
	interval     time.Duration
	initialDelay time.Duration
	trigger      chan struct{}
}

// NewScheduler создаёт планировщик.
func NewScheduler(runner CycleRunner, options ...SchedulerOption) *Scheduler {
	opts := SchedulerOptions{
		Interval:     defaultInterval,
		InitialDelay: defaultInitialDelay,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "scheduler")
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}
	if opts.InitialDelay < 0 {
		opts.InitialDelay = 0
	}

	return &Scheduler{
		runner:       runner,
		logger:       logger,
		interval:     opts.Interval,
		initialDelay: opts.InitialDelay,
		trigger:      make(chan struct{}, 1),
	}
}

// Trigger запрашивает внеочередной цикл. Повторные запросы до его начала схлопываются.
func (s *Scheduler) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Run работает до отмены ctx или до фатальной ошибки цикла, которую и возвращает.
// Перед возвратом дожидается активного цикла.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.runner == nil {
		return errors.New("scheduler has no cycle runner")
	}

	var wg sync.WaitGroup
	defer wg.Wait()

	fatal := make(chan error, 1)
	start := func(reason string) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.runner.RunCycle(ctx)
			switch {
			case err == nil:
			case errors.Is(err, domain.ErrCycleInProgress):
				s.logger.WithField("trigger", reason).Info("previous cycle still running, trigger skipped")
			default:
				select {
				case fatal <- err:
				default:
				}
			}
		}()
	}

	s.logger.WithFields(log.Fields{
		"interval":      s.interval.String(),
		"initial_delay": s.initialDelay.String(),
	}).Info("scheduler started")

	first := time.NewTimer(s.initialDelay)
	defer first.Stop()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopping")
			return nil
		case err := <-fatal:
			s.logger.WithError(err).Error("scheduler stopped by fatal cycle error")
			return err
		case <-first.C:
			start("startup")
		case <-ticker.C:
			start("interval")
		case <-s.trigger:
			start("manual")
		}
	}
}
