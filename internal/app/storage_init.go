package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/invoicer/internal/domain"
	"github.com/vladislavdragonenkov/invoicer/internal/storage/file"
	"github.com/vladislavdragonenkov/invoicer/internal/storage/memory"
	"github.com/vladislavdragonenkov/invoicer/internal/storage/postgres"
	"github.com/vladislavdragonenkov/invoicer/internal/storage/redis"
)

// runtimeDependencies — хранилища, выбранные по LedgerDriver.
type runtimeDependencies struct {
	Ledger      domain.Ledger
	DeadLetters domain.DeadLetterStore
	Journal     domain.ReportJournal
	// LedgerPing проверяет доступность внешнего хранилища; nil для file и memory.
	LedgerPing func(ctx context.Context) error
	closeFn    func() error
}

// Close освобождает соединения хранилищ.
func (d *runtimeDependencies) Close() error {
	if d == nil || d.closeFn == nil {
		return nil
	}
	return d.closeFn()
}

// initRuntimeDependencies открывает хранилища и загружает журнал заказов.
// Журнал для дайджестов всегда файловый, кроме драйвера memory.
func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	if logger == nil {
		logger = log.WithField("component", "app")
	}

	var deps *runtimeDependencies
	switch cfg.LedgerDriver {
	case LedgerDriverMemory:
		deps = &runtimeDependencies{
			Ledger:      memory.NewLedger(),
			DeadLetters: memory.NewDeadLetters(),
			Journal:     memory.NewJournal(),
		}
	case LedgerDriverFile, "":
		if err := ensureDirs(cfg.DataDir); err != nil {
			return nil, err
		}
		deps = &runtimeDependencies{
			Ledger:      file.NewLedger(cfg.LedgerPath(), logger.WithField("store", "ledger")),
			DeadLetters: file.NewDeadLetters(cfg.DeadLetterPath(), logger.WithField("store", "dead-letters")),
			Journal:     file.NewJournal(cfg.ReportsDir(), logger.WithField("store", "journal")),
		}
	case LedgerDriverPostgres:
		pg, err := initPostgres(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		deps = pg
	case LedgerDriverRedis:
		rd, err := initRedis(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		deps = rd
	default:
		return nil, fmt.Errorf("unsupported ledger driver %q", cfg.LedgerDriver)
	}

	processed, err := deps.Ledger.Load(ctx)
	if err != nil {
		_ = deps.Close()
		return nil, fmt.Errorf("load ledger: %w", err)
	}
	logger.WithFields(log.Fields{
		"driver":    cfg.LedgerDriver,
		"processed": processed.Len(),
	}).Info("ledger loaded")
	return deps, nil
}

func initPostgres(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	if err := ensureDirs(cfg.DataDir); err != nil {
		return nil, err
	}
	store, err := postgres.Open(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if cfg.PostgresAutoMigrate {
		if err := store.MigrateUp(ctx, 0); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("apply migrations: %w", err)
		}
		logger.Info("postgres migrations applied")
	}
	return &runtimeDependencies{
		Ledger:      postgres.NewLedger(store, logger.WithField("store", "ledger")),
		DeadLetters: postgres.NewDeadLetters(store),
		Journal:     file.NewJournal(cfg.ReportsDir(), logger.WithField("store", "journal")),
		LedgerPing:  store.Ping,
		closeFn:     store.Close,
	}, nil
}

func initRedis(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	if err := ensureDirs(cfg.DataDir); err != nil {
		return nil, err
	}
	client, err := redis.NewClient(ctx, redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	ledger := redis.NewLedger(client, cfg.RedisKey, logger.WithField("store", "ledger"))
	return &runtimeDependencies{
		Ledger:      ledger,
		DeadLetters: file.NewDeadLetters(cfg.DeadLetterPath(), logger.WithField("store", "dead-letters")),
		Journal:     file.NewJournal(cfg.ReportsDir(), logger.WithField("store", "journal")),
		LedgerPing:  ledger.Ping,
		closeFn:     client.Close,
	}, nil
}

// ensureDirs создаёт каталоги, если их ещё нет.
func ensureDirs(dirs ...string) error {
	var errs []error
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			errs = append(errs, fmt.Errorf("create dir %s: %w", dir, err))
		}
	}
	return errors.Join(errs...)
}
