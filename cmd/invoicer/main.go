package main

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/invoicer/internal/app"
	"github.com/vladislavdragonenkov/invoicer/internal/version"
)

const (
	envLogFormat = "INVOICER_LOG_FORMAT"
	envLogLevel  = "INVOICER_LOG_LEVEL"
	envDotEnv    = "INVOICER_ENV_FILE"
)

// setupLogger настраивает формат и уровень логирования. Неизвестный уровень
// не прерывает запуск и возвращается как предупреждение.
func setupLogger(lookup app.EnvLookup) string {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	if format, _ := lookup(envLogFormat); strings.EqualFold(strings.TrimSpace(format), "json") {
		log.SetFormatter(&log.JSONFormatter{})
	}

	log.SetLevel(log.InfoLevel)
	raw, ok := lookup(envLogLevel)
	if !ok || strings.TrimSpace(raw) == "" {
		return ""
	}
	level, err := log.ParseLevel(strings.TrimSpace(raw))
	if err != nil {
		return envLogLevel + ": " + err.Error()
	}
	log.SetLevel(level)
	return ""
}

// loadDotEnv подгружает .env, не перетирая уже заданные переменные.
// Отсутствие файла не ошибка.
func loadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func main() {
	envFile, _ := os.LookupEnv(envDotEnv)
	dotEnvErr := loadDotEnv(envFile)

	if warning := setupLogger(os.LookupEnv); warning != "" {
		log.Warn(warning)
	}
	if dotEnvErr != nil {
		log.WithError(dotEnvErr).Fatal("не удалось прочитать .env")
	}

	cfg, warnings := app.LoadConfig(os.LookupEnv)
	for _, w := range warnings {
		log.Warn(w)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(log.Fields{
		"version":      version.GetVersion(),
		"commit":       version.GetCommit(),
		"metrics_addr": cfg.MetricsAddr,
		"output_dir":   cfg.OutputDir,
	}).Info("запускаем invoicer")

	if err := app.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("приложение завершилось с ошибкой")
	}

	log.Info("invoicer остановлен")
}
