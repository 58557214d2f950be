package invoice

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// A4 в дюймах.
const (
	a4WidthInches  = 8.27
	a4HeightInches = 11.69
)

// Engine превращает HTML-документ в байты PDF.
type Engine interface {
	RenderPDF(ctx context.Context, html string) ([]byte, error)
}

// ChromeEngine печатает HTML в PDF через headless Chrome.
// Каждый вызов поднимает и закрывает отдельный процесс браузера.
type ChromeEngine struct {
	execPath  string
	noSandbox bool
	timeout   time.Duration
}

// NewChromeEngine создаёт движок; пустой execPath означает поиск Chrome в PATH.
func NewChromeEngine(execPath string, noSandbox bool, timeout time.Duration) *ChromeEngine {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ChromeEngine{
		execPath:  strings.TrimSpace(execPath),
		noSandbox: noSandbox,
		timeout:   timeout,
	}
}

// RenderPDF открывает about:blank, подставляет документ и печатает A4 с фоном.
func (e *ChromeEngine) RenderPDF(ctx context.Context, html string) ([]byte, error) {
	browserCtx, cancel := e.browser(ctx)
	defer cancel()

	var pdf []byte
	err := chromedp.Run(browserCtx,
		chromedp.Navigate("about:blank"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			tree, err := page.GetFrameTree().Do(ctx)
			if err != nil {
				return fmt.Errorf("get frame tree: %w", err)
			}
			return page.SetDocumentContent(tree.Frame.ID, html).Do(ctx)
		}),
		chromedp.ActionFunc(func(ctx context.Context) error {
			buf, _, err := page.PrintToPDF().
				WithPrintBackground(true).
				WithPreferCSSPageSize(true).
				WithPaperWidth(a4WidthInches).
				WithPaperHeight(a4HeightInches).
				Do(ctx)
			if err != nil {
				return fmt.Errorf("print to pdf: %w", err)
			}
			pdf = buf
			return nil
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("chrome render: %w", err)
	}
	return pdf, nil
}

// Ping проверяет, что браузер запускается.
func (e *ChromeEngine) Ping(ctx context.Context) error {
	browserCtx, cancel := e.browser(ctx)
	defer cancel()

	return chromedp.Run(browserCtx, chromedp.Navigate("about:blank"))
}

// browser поднимает отдельный процесс Chrome, ограниченный таймаутом движка.
func (e *ChromeEngine) browser(parent context.Context) (context.Context, context.CancelFunc) {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	if e.execPath != "" {
		opts = append(opts, chromedp.ExecPath(e.execPath))
	}
	if e.noSandbox {
		opts = append(opts, chromedp.NoSandbox)
	}

	timeoutCtx, cancelTimeout := context.WithTimeout(parent, e.timeout)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(timeoutCtx, opts...)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)

	return browserCtx, func() {
		cancelBrowser()
		cancelAlloc()
		cancelTimeout()
	}
}
