// Package digest отправляет периодические сводки по журналу обработанных
// заказов и чистит устаревшие файлы. Журнал заказов (Ledger) не читается и не меняется.
package digest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/invoicer/internal/domain"
)

const (
	DefaultDailySpec   = "0 20 * * *"
	DefaultWeeklySpec  = "0 8 * * 1"
	DefaultCleanupSpec = "0 3 * * *"

	defaultRetention = 90 * 24 * time.Hour
)

// Mode — какие сводки отправлять.
type Mode string

const (
	ModeOff    Mode = "off"
	ModeDaily  Mode = "daily"
	ModeWeekly Mode = "weekly"
	ModeBoth   Mode = "both"
)

// ParseMode разбирает режим; пустая строка означает off.
func ParseMode(raw string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(raw))); m {
	case "":
		return ModeOff, nil
	case ModeOff, ModeDaily, ModeWeekly, ModeBoth:
		return m, nil
	default:
		return "", fmt.Errorf("unknown digest mode %q", raw)
	}
}

func (m Mode) daily() bool  { return m == ModeDaily || m == ModeBoth }
func (m Mode) weekly() bool { return m == ModeWeekly || m == ModeBoth }

// Sender доставляет готовую сводку.
type Sender interface {
	SendDigest(ctx context.Context, subject, body string) error
}

// Options задаёт параметры Service.
type Options struct {
	Logger      *log.Entry
	Mode        Mode
	DailySpec   string
	WeeklySpec  string
	CleanupSpec string
	Retention   time.Duration
	ArtifactDir string
	ShopName    string
	Location    *time.Location
	Now         func() time.Time
}

// Option настраивает Service.
type Option func(*Options)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithMode задаёт режим сводок.
func WithMode(mode Mode) Option {
	return func(opts *Options) {
		opts.Mode = mode
	}
}

// WithSchedules переопределяет cron-выражения; пустые значения оставляют умолчания.
func WithSchedules(daily, weekly, cleanup string) Option {
	return func(opts *Options) {
		if daily != "" {
			opts.DailySpec = daily
		}
		if weekly != "" {
			opts.WeeklySpec = weekly
		}
		if cleanup != "" {
			opts.CleanupSpec = cleanup
		}
	}
}

// WithRetention задаёт срок хранения журнала и PDF-файлов.
func WithRetention(retention time.Duration) Option {
	return func(opts *Options) {
		opts.Retention = retention
	}
}

// WithArtifactDir включает удаление старых счетов из каталога.
func WithArtifactDir(dir string) Option {
	return func(opts *Options) {
		opts.ArtifactDir = dir
	}
}

// WithShopName задаёт название магазина для темы письма.
func WithShopName(name string) Option {
	return func(opts *Options) {
		opts.ShopName = name
	}
}

// WithLocation задаёт часовой пояс расписания.
func WithLocation(loc *time.Location) Option {
	return func(opts *Options) {
		opts.Location = loc
	}
}

// WithClock подменяет часы.
func WithClock(now func() time.Time) Option {
	return func(opts *Options) {
		opts.Now = now
	}
}

// Service управляет cron-задачами сводок и очистки.
type Service struct {
	journal     domain.ReportJournal
	sender      Sender
	logger      *log.Entry
	mode        Mode
	retention   time.Duration
	artifactDir string
	shopName    string
	now         func() time.Time
	cron        *cron.Cron

	dailySpec, weeklySpec, cleanupSpec string
}

// NewService проверяет расписания и создаёт сервис. Задачи запускает Start.
func NewService(journal domain.ReportJournal, sender Sender, options ...Option) (*Service, error) {
	if journal == nil {
		return nil, errors.New("report journal is required")
	}

	opts := Options{
		Mode:        ModeOff,
		DailySpec:   DefaultDailySpec,
		WeeklySpec:  DefaultWeeklySpec,
		CleanupSpec: DefaultCleanupSpec,
		Retention:   defaultRetention,
		Location:    time.Local,
		Now:         time.Now,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "digest")
	}
	if opts.Retention <= 0 {
		opts.Retention = defaultRetention
	}
	if opts.Mode != ModeOff && sender == nil {
		return nil, fmt.Errorf("digest mode %s requires an email sender", opts.Mode)
	}

	for _, spec := range []string{opts.DailySpec, opts.WeeklySpec, opts.CleanupSpec} {
		if _, err := cron.ParseStandard(spec); err != nil {
			return nil, fmt.Errorf("invalid cron spec %q: %w", spec, err)
		}
	}

	cronLogger := cronLog{entry: logger}
	return &Service{
		journal:     journal,
		sender:      sender,
		logger:      logger,
		mode:        opts.Mode,
		retention:   opts.Retention,
		artifactDir: opts.ArtifactDir,
		shopName:    opts.ShopName,
		now:         opts.Now,
		cron: cron.New(
			cron.WithLocation(opts.Location),
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
		dailySpec:   opts.DailySpec,
		weeklySpec:  opts.WeeklySpec,
		cleanupSpec: opts.CleanupSpec,
	}, nil
}

// Start регистрирует задачи по режиму и запускает планировщик.
// Задачи получают ctx и прекращают работу после его отмены.
func (s *Service) Start(ctx context.Context) error {
	if s.mode.daily() {
		if _, err := s.cron.AddFunc(s.dailySpec, func() { s.runDigest(ctx, "daily", 24*time.Hour) }); err != nil {
			return fmt.Errorf("schedule daily digest: %w", err)
		}
	}
	if s.mode.weekly() {
		if _, err := s.cron.AddFunc(s.weeklySpec, func() { s.runDigest(ctx, "weekly", 7*24*time.Hour) }); err != nil {
			return fmt.Errorf("schedule weekly digest: %w", err)
		}
	}
	if _, err := s.cron.AddFunc(s.cleanupSpec, func() { s.runCleanup(ctx) }); err != nil {
		return fmt.Errorf("schedule cleanup: %w", err)
	}

	s.cron.Start()
	s.logger.WithFields(log.Fields{
		"mode":      s.mode,
		"jobs":      len(s.cron.Entries()),
		"retention": s.retention.String(),
	}).Info("digest scheduler started")
	return nil
}

// Stop останавливает планировщик и ждёт выполняющиеся задачи или отмену ctx.
func (s *Service) Stop(ctx context.Context) error {
	done := s.cron.Stop().Done()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Entries возвращает количество зарегистрированных задач.
func (s *Service) Entries() int {
	return len(s.cron.Entries())
}

func (s *Service) runDigest(ctx context.Context, kind string, period time.Duration) {
	if ctx.Err() != nil {
		return
	}
	if err := s.SendDigest(ctx, kind, period); err != nil {
		s.logger.WithError(err).WithField("digest", kind).Warn("digest failed")
	}
}

func (s *Service) runCleanup(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	res, err := s.Cleanup(ctx)
	if err != nil {
		s.logger.WithError(err).Warn("cleanup run failed")
		return
	}
	if res.JournalFiles > 0 || res.Artifacts > 0 {
		s.logger.WithFields(log.Fields{
			"journal_files": res.JournalFiles,
			"artifacts":     res.Artifacts,
		}).Info("cleanup completed")
	}
}

// SendDigest собирает сводку за период, заканчивающийся сейчас, и отправляет её.
func (s *Service) SendDigest(ctx context.Context, kind string, period time.Duration) error {
	if s.sender == nil {
		return errors.New("digest sender is not configured")
	}
	to := s.now()
	from := to.Add(-period)

	entries, err := s.journal.Range(ctx, from, to)
	if err != nil {
		return fmt.Errorf("read report journal: %w", err)
	}

	subject, body := Build(s.shopName, kind, from, to, entries)
	if err := s.sender.SendDigest(ctx, subject, body); err != nil {
		return fmt.Errorf("send %s digest: %w", kind, err)
	}
	s.logger.WithFields(log.Fields{
		"digest": kind,
		"orders": len(entries),
	}).Info("digest sent")
	return nil
}

// CleanupResult — сколько файлов удалено.
type CleanupResult struct {
	JournalFiles int
	Artifacts    int
}

// Cleanup удаляет дневные файлы журнала и PDF-счета старше срока хранения.
func (s *Service) Cleanup(ctx context.Context) (CleanupResult, error) {
	cutoff := s.now().Add(-s.retention)

	var res CleanupResult
	pruned, err := s.journal.Prune(ctx, cutoff)
	if err != nil {
		return res, fmt.Errorf("prune report journal: %w", err)
	}
	res.JournalFiles = pruned

	if s.artifactDir == "" {
		return res, nil
	}
	removed, err := removeOldArtifacts(ctx, s.artifactDir, cutoff)
	res.Artifacts = removed
	if err != nil {
		return res, fmt.Errorf("remove old invoices: %w", err)
	}
	return res, nil
}

func removeOldArtifacts(ctx context.Context, dir string, cutoff time.Time) (int, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".pdf") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, entry.Name())); err != nil && !errors.Is(err, os.ErrNotExist) {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// cronLog направляет внутренний лог cron в logrus.
type cronLog struct {
	entry *log.Entry
}

func (l cronLog) Info(msg string, keysAndValues ...interface{}) {
	l.entry.WithFields(kvFields(keysAndValues)).Debug(msg)
}

func (l cronLog) Error(err error, msg string, keysAndValues ...interface{}) {
	l.entry.WithError(err).WithFields(kvFields(keysAndValues)).Error(msg)
}

func kvFields(keysAndValues []interface{}) log.Fields {
	fields := make(log.Fields, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return fields
}
