// Package pipeline содержит цикл конвейера: выборка заказов, фильтрация по
// журналу и последовательная обработка каждого нового заказа.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/invoicer/internal/domain"
	"github.com/vladislavdragonenkov/invoicer/internal/metrics"
)

// State — состояние цикла.
type State string

const (
	StateIdle            State = "idle"
	StateFetching        State = "fetching"
	StateFiltering       State = "filtering"
	StateProcessingOrder State = "processing_order"
)

// OrderResult — итог обработки одного заказа.
type OrderResult struct {
	OrderNumber string `json:"orderNumber"`
	Outcome     string `json:"outcome"`
	Artifact    string `json:"artifact,omitempty"`
	Printed     bool   `json:"printed"`
	PrintFailed bool   `json:"printFailed,omitempty"`
	Error       string `json:"error,omitempty"`
}

// CycleReport — итог одного цикла.
type CycleReport struct {
	ID           string        `json:"id"`
	StartedAt    time.Time     `json:"startedAt"`
	FinishedAt   time.Time     `json:"finishedAt"`
	Fetched      int           `json:"fetched"`
	Duplicates   int           `json:"duplicates"`
	Invalid      int           `json:"invalid"`
	Processed    int           `json:"processed"`
	RenderFailed int           `json:"renderFailed"`
	PrintFailed  int           `json:"printFailed"`
	Panicked     int           `json:"panicked"`
	LedgerFailed int           `json:"ledgerFailed,omitempty"`
	FetchError   string        `json:"fetchError,omitempty"`
	Interrupted  bool          `json:"interrupted,omitempty"`
	Orders       []OrderResult `json:"orders,omitempty"`
}

// Duration возвращает длительность цикла.
func (r CycleReport) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

func (r *CycleReport) add(res OrderResult) {
	r.Orders = append(r.Orders, res)
	if res.PrintFailed {
		r.PrintFailed++
	}
	switch res.Outcome {
	case metrics.OrderProcessed:
		r.Processed++
	case metrics.OrderInvalid:
		r.Invalid++
	case metrics.OrderRenderFailed:
		r.RenderFailed++
	case metrics.OrderPanicked:
		r.Panicked++
	case metrics.OrderLedgerFailed:
		r.LedgerFailed++
	}
}

// quoter реализует рендерер, умеющий проверить заказ и посчитать итог без построения PDF.
type quoter interface {
	Quote(order domain.Order) (decimal.Decimal, error)
}

type switchable interface {
	Enabled() bool
}

type sizer interface {
	Len() int
}

// ProcessorOptions задаёт необязательные зависимости Processor.
type ProcessorOptions struct {
	Logger      *log.Entry
	Metrics     *metrics.PipelineMetrics
	DeadLetters domain.DeadLetterStore
	Journal     domain.ReportJournal
	Archiver    domain.ArtifactArchiver
	Now         func() time.Time
}

// Option настраивает Processor.
type Option func(*ProcessorOptions)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(opts *ProcessorOptions) {
		opts.Logger = logger
	}
}

// WithMetrics задаёт метрики конвейера.
func WithMetrics(m *metrics.PipelineMetrics) Option {
	return func(opts *ProcessorOptions) {
		opts.Metrics = m
	}
}

// WithDeadLetters включает учёт заказов, которые не удалось отрендерить.
func WithDeadLetters(store domain.DeadLetterStore) Option {
	return func(opts *ProcessorOptions) {
		opts.DeadLetters = store
	}
}

// WithJournal включает журнал для дайджестов.
func WithJournal(journal domain.ReportJournal) Option {
	return func(opts *ProcessorOptions) {
		opts.Journal = journal
	}
}

// WithArchiver включает копирование счетов во внешнее хранилище.
func WithArchiver(archiver domain.ArtifactArchiver) Option {
	return func(opts *ProcessorOptions) {
		opts.Archiver = archiver
	}
}

// WithClock подменяет часы.
func WithClock(now func() time.Time) Option {
	return func(opts *ProcessorOptions) {
		opts.Now = now
	}
}

// Processor выполняет циклы конвейера. Одновременно идёт не больше одного цикла.
type Processor struct {
	source      domain.OrderSource
	ledger      domain.Ledger
	renderer    domain.Renderer
	printer     domain.Printer
	notifier    domain.Notifier
	deadLetters domain.DeadLetterStore
	journal     domain.ReportJournal
	archiver    domain.ArtifactArchiver
	metrics     *metrics.PipelineMetrics
	logger      *log.Entry
	now         func() time.Time

	cycleMu sync.Mutex

	stateMu    sync.RWMutex
	state      State
	current    string
	lastReport *CycleReport
}

// NewProcessor создаёт Processor. Журнал перечитывается в начале каждого цикла.
func NewProcessor(
	source domain.OrderSource,
	ledger domain.Ledger,
	renderer domain.Renderer,
	printer domain.Printer,
	notifier domain.Notifier,
	options ...Option,
) (*Processor, error) {
	if source == nil || ledger == nil || renderer == nil {
		return nil, errors.New("order source, ledger and renderer are required")
	}

	opts := ProcessorOptions{Now: func() time.Time { return time.Now().UTC() }}
	for _, option := range options {
		option(&opts)
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "pipeline")
	}
	if printer == nil {
		printer = noopPrinter{}
	}
	if notifier == nil {
		notifier = noopNotifier{}
	}

	return &Processor{
		source:      source,
		ledger:      ledger,
		renderer:    renderer,
		printer:     printer,
		notifier:    notifier,
		deadLetters: opts.DeadLetters,
		journal:     opts.Journal,
		archiver:    opts.Archiver,
		metrics:     opts.Metrics,
		logger:      logger,
		now:         opts.Now,
		state:       StateIdle,
	}, nil
}

// State возвращает текущее состояние и номер обрабатываемого заказа.
func (p *Processor) State() (State, string) {
	p.stateMu.RLock()
	defer p.stateMu.RUnlock()
	return p.state, p.current
}

// LastReport возвращает итог последнего завершённого цикла.
func (p *Processor) LastReport() (CycleReport, bool) {
	p.stateMu.RLock()
	defer p.stateMu.RUnlock()
	if p.lastReport == nil {
		return CycleReport{}, false
	}
	return *p.lastReport, true
}

func (p *Processor) setState(state State, orderNumber string) {
	p.stateMu.Lock()
	p.state = state
	p.current = orderNumber
	p.stateMu.Unlock()
}

// RunCycle выполняет один цикл. Ошибка возвращается только если цикл был
// пропущен (domain.ErrCycleInProgress) или журнал не удалось записать.
func (p *Processor) RunCycle(ctx context.Context) (CycleReport, error) {
	if !p.cycleMu.TryLock() {
		p.metrics.RecordCycle(metrics.CycleSkipped, 0)
		return CycleReport{}, domain.ErrCycleInProgress
	}
	defer p.cycleMu.Unlock()

	report, logger := p.begin()
	defer p.end()

	if err := p.reloadLedger(ctx, logger); err != nil {
		return p.finish(report, logger, metrics.CycleFatal), err
	}

	p.setState(StateFetching, "")
	fetchStarted := time.Now()
	orders, err := p.source.FetchRecentOrders(ctx)
	p.metrics.RecordStepDuration("fetch", time.Since(fetchStarted))
	if err != nil {
		report.FetchError = err.Error()
		entry := logger.WithError(err)
		if domain.IsFatalFetch(err) {
			entry.Error("order fetch failed, check API configuration")
		} else {
			entry.Warn("order fetch failed, cycle is empty")
		}
		return p.finish(report, logger, metrics.CycleFetchFailed), nil
	}

	return p.processBatch(ctx, report, logger, orders)
}

// Replay прогоняет переданные заказы через тот же конвейер без выборки.
// Используется для повторной обработки dead-letter записей.
func (p *Processor) Replay(ctx context.Context, orders []domain.Order) (CycleReport, error) {
	if !p.cycleMu.TryLock() {
		return CycleReport{}, domain.ErrCycleInProgress
	}
	defer p.cycleMu.Unlock()

	report, logger := p.begin()
	defer p.end()

	if err := p.reloadLedger(ctx, logger); err != nil {
		return p.finish(report, logger, metrics.CycleFatal), err
	}

	logger.WithField("orders", len(orders)).Info("replaying orders")
	return p.processBatch(ctx, report, logger, orders)
}

// reloadLedger перечитывает журнал в начале цикла, чтобы увидеть номера,
// зафиксированные другими процессами. Фатальна только ошибка записи;
// при недоступном хранилище цикл идёт по уже загруженному множеству.
func (p *Processor) reloadLedger(ctx context.Context, logger *log.Entry) error {
	set, err := p.ledger.Load(ctx)
	if err != nil {
		if domain.IsLedgerWrite(err) {
			logger.WithError(err).Error("ledger reload failed, stopping")
			return err
		}
		logger.WithError(err).Warn("ledger reload failed, using cached set")
		return nil
	}
	logger.WithField("processed", set.Len()).Debug("ledger reloaded")
	return nil
}

func (p *Processor) begin() (CycleReport, *log.Entry) {
	report := CycleReport{ID: uuid.NewString(), StartedAt: p.now()}
	p.metrics.CycleStarted()
	return report, p.logger.WithField("cycle_id", report.ID)
}

func (p *Processor) end() {
	p.metrics.CycleFinished()
	p.setState(StateIdle, "")
}

func (p *Processor) processBatch(ctx context.Context, report CycleReport, logger *log.Entry, orders []domain.Order) (CycleReport, error) {
	report.Fetched = len(orders)

	p.setState(StateFiltering, "")
	pending := p.filter(orders, &report)
	if len(pending) == 0 {
		logger.WithFields(log.Fields{
			"fetched":    report.Fetched,
			"duplicates": report.Duplicates,
		}).Debug("no new orders")
		return p.finish(report, logger, metrics.CycleOK), nil
	}

	for _, order := range pending {
		if ctx.Err() != nil {
			report.Interrupted = true
			logger.Warn("cycle interrupted by shutdown")
			break
		}

		p.setState(StateProcessingOrder, order.OrderNumber)
		res, err := p.processOrder(ctx, logger.WithField("order_number", order.OrderNumber), order)
		report.add(res)
		p.metrics.RecordOrder(res.Outcome)

		if domain.IsLedgerWrite(err) {
			logger.WithError(err).Error("ledger write failed, stopping")
			return p.finish(report, logger, metrics.CycleFatal), err
		}
	}

	return p.finish(report, logger, metrics.CycleOK), nil
}

// filter отбрасывает уже обработанные заказы и повторы внутри выборки.
func (p *Processor) filter(orders []domain.Order, report *CycleReport) []domain.Order {
	seen := make(map[string]struct{}, len(orders))
	pending := make([]domain.Order, 0, len(orders))
	for _, order := range orders {
		if _, dup := seen[order.OrderNumber]; dup || p.ledger.Contains(order.OrderNumber) {
			report.Duplicates++
			p.metrics.RecordOrder(metrics.OrderDuplicate)
			continue
		}
		seen[order.OrderNumber] = struct{}{}
		pending = append(pending, order)
	}
	return pending
}

func (p *Processor) finish(report CycleReport, logger *log.Entry, result string) CycleReport {
	report.FinishedAt = p.now()
	p.metrics.RecordCycle(result, report.Duration())
	if s, ok := p.ledger.(sizer); ok {
		p.metrics.SetLedgerSize(s.Len())
	}
	p.refreshDeadLetters(logger)

	p.stateMu.Lock()
	p.lastReport = &report
	p.stateMu.Unlock()

	entry := logger.WithFields(log.Fields{
		"result":        result,
		"fetched":       report.Fetched,
		"duplicates":    report.Duplicates,
		"processed":     report.Processed,
		"render_failed": report.RenderFailed,
		"print_failed":  report.PrintFailed,
		"invalid":       report.Invalid,
		"duration":      report.Duration().String(),
	})
	if report.Processed > 0 || report.RenderFailed > 0 || report.Invalid > 0 {
		entry.Info("cycle finished")
	} else {
		entry.Debug("cycle finished")
	}
	return report
}

func (p *Processor) refreshDeadLetters(logger *log.Entry) {
	if p.deadLetters == nil {
		return
	}
	items, err := p.deadLetters.List(context.Background())
	if err != nil {
		logger.WithError(err).Warn("failed to list dead letters")
		return
	}
	p.metrics.SetDeadLetters(len(items))
}

// processOrder выполняет шаги для одного заказа. Паника внутри шагов
// превращается в ошибку этого заказа и не выходит за его пределы.
func (p *Processor) processOrder(ctx context.Context, logger *log.Entry, order domain.Order) (res OrderResult, err error) {
	res = OrderResult{OrderNumber: order.OrderNumber}
	committed := false
	defer func() {
		if r := recover(); r != nil {
			res.Error = fmt.Sprintf("panic: %v", r)
			if committed {
				// Номер уже в журнале, заказ считается обработанным.
				res.Outcome = metrics.OrderProcessed
				logger.WithField("panic", r).Error("post-commit step panicked")
				return
			}
			res.Outcome = metrics.OrderPanicked
			logger.WithField("panic", r).Error("order processing panicked")
		}
	}()

	total, cause := p.quote(order)
	if cause != nil {
		res.Outcome = metrics.OrderInvalid
		res.Error = cause.Error()
		logger.WithError(cause).Warn("order dropped by validation")
		p.recordDeadLetter(ctx, logger, order, cause)
		return res, nil
	}

	p.notifier.Dispatch(ctx, domain.NewEvent(domain.EventNewOrder, order))

	renderStarted := time.Now()
	path, renderErr := p.renderer.Render(ctx, order)
	p.metrics.RecordStepDuration("render", time.Since(renderStarted))
	if renderErr != nil {
		res.Outcome = metrics.OrderRenderFailed
		res.Error = renderErr.Error()
		logger.WithError(renderErr).Error("invoice render failed, order will be retried")
		p.recordDeadLetter(ctx, logger, order, renderErr)

		event := domain.NewEvent(domain.EventRenderFailed, order)
		event.Err = renderErr
		p.notifier.Dispatch(ctx, event)
		return res, nil
	}
	res.Artifact = path

	if p.archiver != nil {
		if archiveErr := p.archiver.Archive(ctx, order.OrderNumber, path); archiveErr != nil {
			logger.WithError(archiveErr).Warn("invoice archive failed")
		}
	}

	printStarted := time.Now()
	printErr := p.printer.Print(ctx, path)
	p.metrics.RecordStepDuration("print", time.Since(printStarted))
	if printErr != nil {
		res.PrintFailed = true
		res.Error = printErr.Error()
		logger.WithError(printErr).Warn("print failed, order still counts as processed")

		event := domain.NewEvent(domain.EventPrintFailed, order)
		event.ArtifactPath = path
		event.Err = printErr
		p.notifier.Dispatch(ctx, event)
	} else {
		res.Printed = p.printingEnabled()
	}

	// Фиксация не прерывается остановкой: счёт уже напечатан.
	if commitErr := p.ledger.Commit(context.WithoutCancel(ctx), order.OrderNumber); commitErr != nil {
		res.Outcome = metrics.OrderLedgerFailed
		res.Error = commitErr.Error()
		if !errors.Is(commitErr, domain.ErrLedgerWrite) {
			commitErr = fmt.Errorf("%w: %w", domain.ErrLedgerWrite, commitErr)
		}
		return res, commitErr
	}
	committed = true
	res.Outcome = metrics.OrderProcessed

	p.afterCommit(ctx, logger, order, res, total)

	logger.WithFields(log.Fields{
		"path":    path,
		"printed": res.Printed,
	}).Info("order processed")
	return res, nil
}

func (p *Processor) quote(order domain.Order) (decimal.Decimal, error) {
	if err := order.Validate(); err != nil {
		return decimal.Zero, err
	}
	if q, ok := p.renderer.(quoter); ok {
		return q.Quote(order)
	}
	return decimal.Zero, nil
}

func (p *Processor) printingEnabled() bool {
	if s, ok := p.printer.(switchable); ok {
		return s.Enabled()
	}
	return true
}

// afterCommit выполняет необязательные шаги после фиксации; их ошибки только логируются.
func (p *Processor) afterCommit(ctx context.Context, logger *log.Entry, order domain.Order, res OrderResult, total decimal.Decimal) {
	ctx = context.WithoutCancel(ctx)

	if p.deadLetters != nil {
		if err := p.deadLetters.Clear(ctx, order.OrderNumber); err != nil {
			logger.WithError(err).Warn("failed to clear dead letter")
		}
	}

	if p.journal != nil {
		entry := domain.ReportEntry{
			OrderNumber: order.OrderNumber,
			Customer:    order.Customer.DisplayName(),
			Total:       total,
			Currency:    order.Currency,
			Printed:     res.Printed,
			Artifact:    res.Artifact,
			ProcessedAt: p.now(),
		}
		if err := p.journal.Append(ctx, entry); err != nil {
			logger.WithError(err).Warn("failed to append report journal")
		}
	}

	event := domain.NewEvent(domain.EventInvoiceReady, order)
	event.ArtifactPath = res.Artifact
	p.notifier.Dispatch(ctx, event)
}

func (p *Processor) recordDeadLetter(ctx context.Context, logger *log.Entry, order domain.Order, cause error) {
	if p.deadLetters == nil {
		return
	}
	letter, err := p.deadLetters.Record(context.WithoutCancel(ctx), order, cause)
	if err != nil {
		logger.WithError(err).Warn("failed to record dead letter")
		return
	}
	logger.WithField("attempt", letter.Attempts).Debug("dead letter recorded")
}

type noopPrinter struct{}

func (noopPrinter) Print(context.Context, string) error { return nil }

type noopNotifier struct{}

func (noopNotifier) Dispatch(context.Context, domain.Event) {}
