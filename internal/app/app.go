package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/invoicer/internal/archive"
	"github.com/vladislavdragonenkov/invoicer/internal/commerce"
	healthcheck "github.com/vladislavdragonenkov/invoicer/internal/health"
	"github.com/vladislavdragonenkov/invoicer/internal/invoice"
	"github.com/vladislavdragonenkov/invoicer/internal/metrics"
	"github.com/vladislavdragonenkov/invoicer/internal/notify"
	"github.com/vladislavdragonenkov/invoicer/internal/printer"
	"github.com/vladislavdragonenkov/invoicer/internal/service/digest"
	"github.com/vladislavdragonenkov/invoicer/internal/service/pipeline"
	"github.com/vladislavdragonenkov/invoicer/internal/version"
)

const shutdownTimeout = 10 * time.Second

// Run собирает конвейер и работает до отмены ctx или фатальной ошибки цикла.
// При отмене возвращает ctx.Err() после завершения текущего шага.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := ensureDirs(cfg.OutputDir, cfg.DataDir); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	pipelineMetrics := metrics.NewPipelineMetrics()

	deps, err := initRuntimeDependencies(runCtx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := deps.Close(); err != nil {
			logger.WithError(err).Warn("failed to close storage")
		}
	}()

	source, err := newCommerceClient(cfg, logger, pipelineMetrics)
	if err != nil {
		return fmt.Errorf("init commerce client: %w", err)
	}
	renderer, _, err := newRenderer(cfg, logger)
	if err != nil {
		return fmt.Errorf("init renderer: %w", err)
	}
	dispatcher := newPrinter(cfg, logger, pipelineMetrics)
	archiver, err := newArchiver(runCtx, cfg, logger)
	if err != nil {
		return err
	}

	// Kafka необязательна: без брокеров канал событий не подключается.
	producer, _ := initKafkaProducer(cfg.KafkaBrokers, logger)
	defer closeKafka(producer, logger)

	channels := buildNotifiers(cfg, initEventPublisher(producer, cfg), logger, pipelineMetrics)
	defer channels.fanout.Wait()

	processor, err := newProcessor(deps, source, renderer, dispatcher, channels.fanout, archiver, logger, pipelineMetrics)
	if err != nil {
		return fmt.Errorf("init pipeline: %w", err)
	}
	scheduler := pipeline.NewScheduler(processor,
		pipeline.WithSchedulerLogger(logger.WithField("component", "scheduler")),
		pipeline.WithInterval(cfg.PollInterval),
		pipeline.WithInitialDelay(cfg.InitialDelay),
	)

	digests, err := newDigestService(cfg, deps, channels.email, logger)
	if err != nil {
		return fmt.Errorf("init digest service: %w", err)
	}
	if err := digests.Start(runCtx); err != nil {
		return fmt.Errorf("start digest service: %w", err)
	}
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer stopCancel()
		if err := digests.Stop(stopCtx); err != nil {
			logger.WithError(err).Warn("digest jobs did not finish in time")
		}
	}()

	healthHandler := newHealthHandler(deps, source, renderer, archiver, channels.email)
	routes := httpRoutes{Health: healthHandler}
	if cfg.DashboardEnabled {
		diag := newDiagnostics(cfg, source, dispatcher)
		routes.Status = healthcheck.StatusHandler(diag, version.GetVersion(), func() any {
			return pipelineStatus(processor)
		})
		routes.Trigger = scheduler.Trigger
	}
	metricsSrv := startMetricsServer(runCtx, cfg.MetricsAddr, logger, routes)
	defer shutdownHTTP(metricsSrv, logger)

	var grpcErr <-chan error
	if cfg.GRPCAddr != "" {
		grpcSrv, err := startGRPCServer(runCtx, cfg.GRPCAddr, logger, healthHandler)
		if err != nil {
			return err
		}
		defer grpcSrv.Stop(logger)
		grpcErr = grpcSrv.errCh
	}

	schedErr := make(chan error, 1)
	go func() {
		schedErr <- scheduler.Run(runCtx)
	}()

	logger.WithFields(log.Fields{
		"version":       version.GetVersion(),
		"ledger_driver": cfg.LedgerDriver,
		"poll_interval": cfg.PollInterval.String(),
		"auto_print":    cfg.AutoPrint,
		"digest_mode":   cfg.DigestMode,
	}).Info("invoicer started")

	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, дожидаемся текущего цикла")
		cancel()
		if err := <-schedErr; err != nil {
			return err
		}
		return ctx.Err()
	case err := <-schedErr:
		if err != nil {
			return fmt.Errorf("pipeline stopped: %w", err)
		}
		return nil
	case err := <-grpcErr:
		cancel()
		<-schedErr
		return fmt.Errorf("grpc server: %w", err)
	}
}

func newDigestService(cfg Config, deps *runtimeDependencies, email *notify.Email, logger *log.Entry) (*digest.Service, error) {
	var sender digest.Sender
	if email != nil {
		sender = email
	}
	return digest.NewService(deps.Journal, sender,
		digest.WithLogger(logger.WithField("component", "digest")),
		digest.WithMode(cfg.DigestMode),
		digest.WithSchedules(cfg.DigestDailyCron, cfg.DigestWeeklyCron, cfg.CleanupCron),
		digest.WithRetention(cfg.Retention),
		digest.WithArtifactDir(cfg.OutputDir),
		digest.WithShopName(cfg.Shop.Name),
	)
}

// newHealthHandler регистрирует проверки. Журнал и каталог счетов критичны,
// внешние сервисы только переводят статус в degraded.
func newHealthHandler(
	deps *runtimeDependencies,
	source *commerce.Client,
	renderer *invoice.Renderer,
	archiver *archive.S3Archiver,
	email *notify.Email,
) *healthcheck.Handler {
	h := healthcheck.NewHandler(version.GetVersion())
	if deps.LedgerPing != nil {
		h.RegisterChecker("ledger", healthcheck.NewChecker("ledger", deps.LedgerPing))
	}
	h.RegisterChecker("output_dir", healthcheck.NewChecker("output_dir", func(context.Context) error {
		return renderer.Ready()
	}))
	h.RegisterChecker("commerce_api", healthcheck.NewOptionalChecker("commerce_api", source.Ping))
	if archiver != nil {
		h.RegisterChecker("archive", healthcheck.NewOptionalChecker("archive", archiver.Ping))
	}
	if email != nil {
		h.RegisterChecker("smtp", healthcheck.NewOptionalChecker("smtp", func(context.Context) error {
			if state := email.BreakerState(); state == "open" {
				return errors.New("smtp circuit breaker is open")
			}
			return nil
		}))
	}
	return h
}

func newDiagnostics(cfg Config, source *commerce.Client, dispatcher *printer.Dispatcher) *healthcheck.Diagnostics {
	diag := &healthcheck.Diagnostics{
		API:         source.Ping,
		Directories: healthcheck.DirectoriesProbe(cfg.OutputDir, cfg.DataDir),
		Config: healthcheck.ConfigProbe(map[string]string{
			envAPIBaseURL: cfg.APIBaseURL,
			envAPIToken:   cfg.APIToken,
			envShopName:   cfg.Shop.Name,
		}),
		Timeout: 5 * time.Second,
	}
	if cfg.AutoPrint {
		diag.Printer = dispatcher.PrinterPresent
	}
	return diag
}

// pipelineView — состояние конвейера для /status.
type pipelineView struct {
	State        pipeline.State        `json:"state"`
	CurrentOrder string                `json:"currentOrder,omitempty"`
	LastCycle    *pipeline.CycleReport `json:"lastCycle,omitempty"`
}

func pipelineStatus(p *pipeline.Processor) pipelineView {
	state, current := p.State()
	view := pipelineView{State: state, CurrentOrder: current}
	if report, ok := p.LastReport(); ok {
		view.LastCycle = &report
	}
	return view
}

// httpRoutes — обработчики служебного HTTP-сервера. Пустой Status отключает
// /status и /trigger.
type httpRoutes struct {
	Health  *healthcheck.Handler
	Status  http.Handler
	Trigger func()
}

// startMetricsServer запускает HTTP-сервер метрик, проверок и статуса.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, routes httpRoutes) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)
	if routes.Health != nil {
		mux.Handle("/healthz", routes.Health)
		mux.HandleFunc("/readyz", routes.Health.ReadinessHandler)
	}
	if routes.Status != nil {
		mux.Handle("/status", routes.Status)
	}
	if routes.Trigger != nil {
		trigger := routes.Trigger
		mux.HandleFunc("/trigger", func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				w.Header().Set("Allow", http.MethodPost)
				http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
				return
			}
			trigger()
			w.WriteHeader(http.StatusAccepted)
		})
	}

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", addr)
		logger.Infof("health checks: %s/healthz, %s/livez, %s/readyz", addr, addr, addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, logger)
	}()

	return srv
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("metrics shutdown with error")
	}
}
