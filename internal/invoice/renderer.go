package invoice

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/invoicer/internal/domain"
)

const defaultRenderTimeout = 30 * time.Second

// Стадии, по которым классифицируется RenderError.
const (
	StageValidate = "validate"
	StageTemplate = "template"
	StageEngine   = "engine"
	StageWrite    = "write"
)

// RendererOptions задаёт параметры Renderer.
type RendererOptions struct {
	Logger  *log.Entry
	Timeout time.Duration
	Now     func() time.Time
}

// Option настраивает Renderer.
type Option func(*RendererOptions)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(opts *RendererOptions) {
		opts.Logger = logger
	}
}

// WithTimeout ограничивает время работы движка на один счёт.
func WithTimeout(timeout time.Duration) Option {
	return func(opts *RendererOptions) {
		opts.Timeout = timeout
	}
}

// WithClock подменяет часы для даты выставления счёта.
func WithClock(now func() time.Time) Option {
	return func(opts *RendererOptions) {
		opts.Now = now
	}
}

// Renderer пишет счёт по пути <outDir>/invoice-<номер>.pdf.
type Renderer struct {
	outDir  string
	shop    Shop
	engine  Engine
	tmpl    *template.Template
	timeout time.Duration
	now     func() time.Time
	logger  *log.Entry
}

// NewRenderer разбирает шаблон и проверяет реквизиты магазина.
func NewRenderer(outDir string, shop Shop, engine Engine, options ...Option) (*Renderer, error) {
	if strings.TrimSpace(outDir) == "" {
		return nil, errors.New("invoice output dir is required")
	}
	if engine == nil {
		return nil, errors.New("invoice engine is required")
	}
	if err := shop.Validate(); err != nil {
		return nil, fmt.Errorf("invalid shop config: %w", err)
	}

	opts := RendererOptions{
		Timeout: defaultRenderTimeout,
		Now:     func() time.Time { return time.Now().UTC() },
	}
	for _, option := range options {
		option(&opts)
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "invoice-renderer")
	}

	tmpl, err := parseTemplate()
	if err != nil {
		return nil, err
	}

	return &Renderer{
		outDir:  outDir,
		shop:    shop,
		engine:  engine,
		tmpl:    tmpl,
		timeout: opts.Timeout,
		now:     opts.Now,
		logger:  logger,
	}, nil
}

// PathFor возвращает детерминированный путь файла счёта.
func (r *Renderer) PathFor(orderNumber string) string {
	return filepath.Join(r.outDir, "invoice-"+SanitizeFileName(orderNumber)+".pdf")
}

// Render строит PDF. При любой ошибке частично записанный файл удаляется,
// а ошибка имеет тип *domain.RenderError.
func (r *Renderer) Render(ctx context.Context, order domain.Order) (string, error) {
	fail := func(stage string, err error) (string, error) {
		return "", &domain.RenderError{OrderNumber: order.OrderNumber, Stage: stage, Err: err}
	}

	inv, err := Project(order, r.shop, r.now())
	if err != nil {
		return fail(StageValidate, err)
	}

	html, err := executeTemplate(r.tmpl, inv)
	if err != nil {
		return fail(StageTemplate, err)
	}

	renderCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	pdf, err := r.engine.RenderPDF(renderCtx, html)
	if err != nil {
		return fail(StageEngine, err)
	}
	if len(pdf) == 0 {
		return fail(StageEngine, domain.ErrEmptyArtifact)
	}

	path := r.PathFor(order.OrderNumber)
	if err := r.write(path, pdf); err != nil {
		return fail(StageWrite, err)
	}

	r.logger.WithFields(log.Fields{
		"order_number": order.OrderNumber,
		"path":         path,
		"bytes":        len(pdf),
	}).Debug("invoice rendered")
	return path, nil
}

// Quote строит проекцию счёта без движка и возвращает итог к оплате.
// Ошибка оборачивает domain.ErrValidation.
func (r *Renderer) Quote(order domain.Order) (decimal.Decimal, error) {
	inv, err := Project(order, r.shop, r.now())
	if err != nil {
		return decimal.Zero, err
	}
	return inv.Totals.Gross, nil
}

// write кладёт байты во временный файл и переименовывает его в path.
func (r *Renderer) write(path string, pdf []byte) (err error) {
	if err := os.MkdirAll(r.outDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	tmp, err := os.CreateTemp(r.outDir, ".invoice-*.pdf.tmp")
	if err != nil {
		return fmt.Errorf("create temp artifact: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpName)
			_ = os.Remove(path)
		}
	}()

	if _, err = tmp.Write(pdf); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write artifact: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync artifact: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close artifact: %w", err)
	}
	if err = os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename artifact: %w", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat artifact: %w", err)
	}
	if info.Size() == 0 {
		return domain.ErrEmptyArtifact
	}
	return nil
}

// Ready проверяет, что шаблон разобран и каталог вывода доступен на запись.
func (r *Renderer) Ready() error {
	if r.tmpl == nil {
		return errors.New("invoice template is not loaded")
	}
	if err := os.MkdirAll(r.outDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	probe, err := os.CreateTemp(r.outDir, ".probe-*")
	if err != nil {
		return fmt.Errorf("output dir is not writable: %w", err)
	}
	name := probe.Name()
	_ = probe.Close()
	return os.Remove(name)
}

// OutDir возвращает каталог счетов.
func (r *Renderer) OutDir() string {
	return r.outDir
}

// SanitizeFileName кодирует номер заказа в безопасное имя файла.
// Латиница, цифры и '-' остаются как есть, любой другой байт (включая '_')
// записывается как _XX в hex. Кодирование обратимо, поэтому разные номера
// всегда дают разные файлы. Пустой номер даёт "_".
func SanitizeFileName(orderNumber string) string {
	const hexDigits = "0123456789ABCDEF"

	trimmed := strings.TrimSpace(orderNumber)
	if trimmed == "" {
		return "_"
	}
	var b strings.Builder
	for i := 0; i < len(trimmed); i++ {
		c := trimmed[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-':
			b.WriteByte(c)
		default:
			b.WriteByte('_')
			b.WriteByte(hexDigits[c>>4])
			b.WriteByte(hexDigits[c&0x0F])
		}
	}
	return b.String()
}

var _ domain.Renderer = (*Renderer)(nil)
