// Package printer отправляет готовые счета на CUPS-принтер командой lp.
package printer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/invoicer/internal/domain"
	"github.com/vladislavdragonenkov/invoicer/internal/metrics"
)

const defaultPrintTimeout = 30 * time.Second

// Runner запускает внешнюю команду и возвращает её объединённый вывод.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner запускает команды через os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	return out.Bytes(), err
}

// Config — настройки печати.
type Config struct {
	Enabled     bool
	PrinterName string
	Copies      int
	Timeout     time.Duration
}

// Dispatcher печатает файлы. Ошибки печати не фатальны: вызывающий
// логирует их и продолжает обработку заказа.
type Dispatcher struct {
	cfg     Config
	runner  Runner
	logger  *log.Entry
	metrics *metrics.PipelineMetrics
}

// NewDispatcher создаёт диспетчер; nil runner означает ExecRunner.
func NewDispatcher(cfg Config, runner Runner, logger *log.Entry, m *metrics.PipelineMetrics) *Dispatcher {
	if runner == nil {
		runner = ExecRunner{}
	}
	if logger == nil {
		logger = log.WithField("component", "printer")
	}
	if cfg.Copies < 1 {
		cfg.Copies = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultPrintTimeout
	}
	cfg.PrinterName = strings.TrimSpace(cfg.PrinterName)
	return &Dispatcher{cfg: cfg, runner: runner, logger: logger, metrics: m}
}

// Enabled сообщает, включена ли печать.
func (d *Dispatcher) Enabled() bool {
	return d.cfg.Enabled
}

// Print отправляет файл на печать. При выключенной печати ничего не делает.
func (d *Dispatcher) Print(ctx context.Context, path string) error {
	if !d.cfg.Enabled {
		d.metrics.RecordPrint("disabled")
		return nil
	}

	info, err := os.Stat(path)
	switch {
	case err != nil:
		d.metrics.RecordPrint("failed")
		return fmt.Errorf("%w: artifact %s: %v", domain.ErrPrint, path, err)
	case info.IsDir() || info.Size() == 0:
		d.metrics.RecordPrint("failed")
		return fmt.Errorf("%w: artifact %s: %w", domain.ErrPrint, path, domain.ErrEmptyArtifact)
	}

	runCtx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	out, err := d.runner.Run(runCtx, "lp", d.printArgs(path)...)
	if err != nil {
		d.metrics.RecordPrint("failed")
		return fmt.Errorf("%w: lp: %v: %s", domain.ErrPrint, err, strings.TrimSpace(string(out)))
	}

	d.metrics.RecordPrint("ok")
	d.logger.WithFields(log.Fields{
		"path":    path,
		"printer": d.cfg.PrinterName,
		"copies":  d.cfg.Copies,
		"job":     strings.TrimSpace(string(out)),
	}).Info("invoice sent to printer")
	return nil
}

func (d *Dispatcher) printArgs(path string) []string {
	args := make([]string, 0, 5)
	if d.cfg.PrinterName != "" {
		args = append(args, "-d", d.cfg.PrinterName)
	}
	args = append(args, "-n", strconv.Itoa(d.cfg.Copies), path)
	return args
}

// PrinterPresent проверяет через lpstat, что принтер известен CUPS.
// Пустое имя означает принтер по умолчанию.
func (d *Dispatcher) PrinterPresent(ctx context.Context) error {
	runCtx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	args := []string{"-d"}
	if d.cfg.PrinterName != "" {
		args = []string{"-p", d.cfg.PrinterName}
	}
	out, err := d.runner.Run(runCtx, "lpstat", args...)
	if err != nil {
		return fmt.Errorf("lpstat: %v: %s", err, strings.TrimSpace(string(out)))
	}
	if d.cfg.PrinterName == "" && strings.Contains(string(out), "no system default") {
		return errors.New("no default printer configured")
	}
	return nil
}

var _ domain.Printer = (*Dispatcher)(nil)
