package app

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/invoicer/internal/archive"
	"github.com/vladislavdragonenkov/invoicer/internal/commerce"
	"github.com/vladislavdragonenkov/invoicer/internal/domain"
	"github.com/vladislavdragonenkov/invoicer/internal/invoice"
	"github.com/vladislavdragonenkov/invoicer/internal/metrics"
	"github.com/vladislavdragonenkov/invoicer/internal/notify"
	"github.com/vladislavdragonenkov/invoicer/internal/printer"
	"github.com/vladislavdragonenkov/invoicer/internal/service/pipeline"
)

// notifiers — собранный fan-out и почтовый канал, который нужен дайджестам.
type notifiers struct {
	fanout *notify.Fanout
	email  *notify.Email
}

// buildNotifiers подключает каналы по конфигурации. Звук и всплывающее окно
// не блокируют цикл, почта и kafka вызываются синхронно.
func buildNotifiers(cfg Config, publisher domain.EventPublisher, logger *log.Entry, m *metrics.PipelineMetrics) notifiers {
	fanout := notify.NewFanout(logger.WithField("component", "notify"), m)
	out := notifiers{fanout: fanout}

	if cfg.SoundEnabled {
		fanout.AddDetached(notify.NewSound(cfg.SoundCommand))
	}
	if cfg.DesktopEnabled {
		fanout.AddDetached(notify.NewDesktop(cfg.Shop.Name))
	}
	if cfg.EmailEnabled {
		out.email = notify.NewEmail(cfg.SMTP, notify.EmailOptions{
			OnInvoice:      cfg.EmailOnInvoice,
			OnPrintFailure: cfg.EmailOnPrintFailure,
			ShopName:       cfg.Shop.Name,
		})
		fanout.Add(out.email)
	}
	if publisher != nil {
		fanout.Add(notify.NewKafka(publisher))
	}

	logger.WithField("channels", fanout.Channels()).Info("notification channels configured")
	return out
}

// newCommerceClient создаёт клиент магазина с параметрами окна и ретраев.
func newCommerceClient(cfg Config, logger *log.Entry, m *metrics.PipelineMetrics) (*commerce.Client, error) {
	return commerce.NewClient(cfg.APIBaseURL, cfg.APIToken,
		commerce.WithLogger(logger.WithField("component", "commerce")),
		commerce.WithMetrics(m),
		commerce.WithLookback(cfg.Lookback),
		commerce.WithLimit(cfg.FetchLimit),
		commerce.WithMaxRetries(cfg.MaxRetries),
		commerce.WithRetryBaseDelay(cfg.RetryBaseDelay),
		commerce.WithRetryMaxDelay(cfg.RetryMaxDelay),
	)
}

// newRenderer создаёт рендерер поверх headless Chrome.
func newRenderer(cfg Config, logger *log.Entry) (*invoice.Renderer, *invoice.ChromeEngine, error) {
	engine := invoice.NewChromeEngine(cfg.ChromePath, cfg.ChromeNoSandbox, cfg.RenderTimeout)
	renderer, err := invoice.NewRenderer(cfg.OutputDir, cfg.Shop, engine,
		invoice.WithLogger(logger.WithField("component", "invoice-renderer")),
		invoice.WithTimeout(cfg.RenderTimeout),
	)
	if err != nil {
		return nil, nil, err
	}
	return renderer, engine, nil
}

// newPrinter создаёт диспетчер печати; при AutoPrint=false печать пропускается.
func newPrinter(cfg Config, logger *log.Entry, m *metrics.PipelineMetrics) *printer.Dispatcher {
	return printer.NewDispatcher(printer.Config{
		Enabled:     cfg.AutoPrint,
		PrinterName: cfg.PrinterName,
		Copies:      cfg.PrintCopies,
		Timeout:     cfg.PrintTimeout,
	}, printer.ExecRunner{}, logger.WithField("component", "printer"), m)
}

// newArchiver возвращает S3-архив или nil, если бакет не задан.
func newArchiver(ctx context.Context, cfg Config, logger *log.Entry) (*archive.S3Archiver, error) {
	if !cfg.ArchiveEnabled() {
		return nil, nil
	}
	archiver, err := archive.NewS3Archiver(ctx, archive.Config{
		Endpoint:        cfg.S3Endpoint,
		Region:          cfg.S3Region,
		AccessKeyID:     cfg.S3AccessKey,
		SecretAccessKey: cfg.S3SecretKey,
		Bucket:          cfg.S3Bucket,
		Prefix:          cfg.S3Prefix,
	}, logger.WithField("component", "archive"))
	if err != nil {
		return nil, fmt.Errorf("init s3 archive: %w", err)
	}
	return archiver, nil
}

// newProcessor собирает конвейер из готовых компонентов.
func newProcessor(
	deps *runtimeDependencies,
	source domain.OrderSource,
	renderer domain.Renderer,
	dispatcher domain.Printer,
	notifier domain.Notifier,
	archiver *archive.S3Archiver,
	logger *log.Entry,
	m *metrics.PipelineMetrics,
) (*pipeline.Processor, error) {
	options := []pipeline.Option{
		pipeline.WithLogger(logger.WithField("component", "pipeline")),
		pipeline.WithMetrics(m),
		pipeline.WithDeadLetters(deps.DeadLetters),
		pipeline.WithJournal(deps.Journal),
	}
	if archiver != nil {
		options = append(options, pipeline.WithArchiver(archiver))
	}
	return pipeline.NewProcessor(source, deps.Ledger, renderer, dispatcher, notifier, options...)
}
