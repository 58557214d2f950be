// Package commerce реализует источник заказов поверх REST API торговой платформы.
package commerce

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/invoicer/internal/domain"
	"github.com/vladislavdragonenkov/invoicer/internal/metrics"
	"github.com/vladislavdragonenkov/invoicer/internal/version"
)

const (
	ordersPath = "/commerce/orders"

	defaultLookback       = 24 * time.Hour
	defaultLimit          = 100
	defaultMaxRetries     = 3
	defaultRetryBaseDelay = time.Second
	defaultRetryMaxDelay  = 30 * time.Second
	defaultRequestTimeout = 30 * time.Second
	maxErrorBodyBytes     = 4 << 10
)

// Options задаёт параметры клиента.
type Options struct {
	HTTPClient     *http.Client
	Logger         *log.Entry
	Metrics        *metrics.PipelineMetrics
	Lookback       time.Duration
	Limit          int
	MaxRetries     int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	Now            func() time.Time
	Sleep          func(ctx context.Context, d time.Duration) error
}

// Option настраивает Client.
type Option func(*Options)

// WithHTTPClient задаёт http-клиент (таймауты, транспорт).
func WithHTTPClient(client *http.Client) Option {
	return func(opts *Options) { opts.HTTPClient = client }
}

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) { opts.Logger = logger }
}

// WithMetrics задаёт метрики конвейера.
func WithMetrics(m *metrics.PipelineMetrics) Option {
	return func(opts *Options) { opts.Metrics = m }
}

// WithLookback задаёт ширину окна выборки.
func WithLookback(d time.Duration) Option {
	return func(opts *Options) { opts.Lookback = d }
}

// WithLimit задаёт максимальное число заказов в ответе.
func WithLimit(limit int) Option {
	return func(opts *Options) { opts.Limit = limit }
}

// WithMaxRetries задаёт число повторов после первой попытки.
func WithMaxRetries(n int) Option {
	return func(opts *Options) { opts.MaxRetries = n }
}

// WithRetryBaseDelay задаёт базовую задержку backoff.
func WithRetryBaseDelay(d time.Duration) Option {
	return func(opts *Options) { opts.RetryBaseDelay = d }
}

// WithRetryMaxDelay ограничивает задержку backoff сверху.
func WithRetryMaxDelay(d time.Duration) Option {
	return func(opts *Options) { opts.RetryMaxDelay = d }
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(opts *Options) { opts.Now = now }
}

// WithSleeper подменяет ожидание между попытками.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(opts *Options) { opts.Sleep = sleep }
}

// Client забирает заказы за последние Lookback часов.
type Client struct {
	baseURL        *url.URL
	token          string
	httpClient     *http.Client
	logger         *log.Entry
	metrics        *metrics.PipelineMetrics
	lookback       time.Duration
	limit          int
	maxRetries     int
	retryBaseDelay time.Duration
	retryMaxDelay  time.Duration
	now            func() time.Time
	sleep          func(ctx context.Context, d time.Duration) error
}

// NewClient создаёт клиента commerce API.
func NewClient(baseURL, token string, options ...Option) (*Client, error) {
	parsed, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("parse commerce base url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("commerce base url must be absolute: %q", baseURL)
	}

	opts := Options{
		Lookback:       defaultLookback,
		Limit:          defaultLimit,
		MaxRetries:     defaultMaxRetries,
		RetryBaseDelay: defaultRetryBaseDelay,
		RetryMaxDelay:  defaultRetryMaxDelay,
	}
	for _, option := range options {
		option(&opts)
	}

	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: defaultRequestTimeout}
	}
	if opts.Logger == nil {
		opts.Logger = log.WithField("component", "commerce-client")
	}
	if opts.Lookback <= 0 {
		opts.Lookback = defaultLookback
	}
	if opts.Limit <= 0 {
		opts.Limit = defaultLimit
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.RetryBaseDelay < 0 {
		opts.RetryBaseDelay = 0
	}
	if opts.RetryMaxDelay <= 0 {
		opts.RetryMaxDelay = defaultRetryMaxDelay
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepContext
	}

	return &Client{
		baseURL:        parsed,
		token:          token,
		httpClient:     opts.HTTPClient,
		logger:         opts.Logger,
		metrics:        opts.Metrics,
		lookback:       opts.Lookback,
		limit:          opts.Limit,
		maxRetries:     opts.MaxRetries,
		retryBaseDelay: opts.RetryBaseDelay,
		retryMaxDelay:  opts.RetryMaxDelay,
		now:            opts.Now,
		sleep:          opts.Sleep,
	}, nil
}

// FetchRecentOrders возвращает валидные заказы из окна [now-lookback, now].
//
// Временные ошибки повторяются maxRetries раз с экспоненциальной задержкой,
// ошибки 401/403/404 возвращаются сразу. В обоих случаях список заказов пуст,
// а ошибка имеет тип *domain.FetchError.
func (c *Client) FetchRecentOrders(ctx context.Context) ([]domain.Order, error) {
	until := c.now().UTC()
	since := until.Add(-c.lookback)

	var lastErr *domain.FetchError
	totalAttempts := c.maxRetries + 1
	for attempt := 0; attempt < totalAttempts; attempt++ {
		if attempt > 0 {
			delay := c.retryBackoff(attempt)
			c.logger.WithFields(log.Fields{
				"attempt":     attempt + 1,
				"delay":       delay,
				"status_code": lastErr.StatusCode,
			}).WithError(lastErr.Err).Warn("order fetch failed, retrying")

			if err := c.sleep(ctx, delay); err != nil {
				lastErr.Attempts = attempt
				return nil, lastErr
			}
		}

		raw, err := c.fetchOnce(ctx, since, until, c.limit)
		if err == nil {
			c.metrics.RecordFetchAttempt("ok")
			return c.decodeOrders(raw)
		}

		var fetchErr *domain.FetchError
		if !errors.As(err, &fetchErr) {
			fetchErr = &domain.FetchError{Transient: true, Err: err}
		}
		fetchErr.Attempts = attempt + 1
		lastErr = fetchErr

		if !fetchErr.Transient {
			c.metrics.RecordFetchAttempt("fatal")
			c.logger.WithFields(log.Fields{
				"status_code": fetchErr.StatusCode,
			}).WithError(fetchErr.Err).Error("order fetch failed with non-retryable error, check API credentials and URL")
			return nil, fetchErr
		}
		c.metrics.RecordFetchAttempt("retry")

		if ctx.Err() != nil {
			return nil, fetchErr
		}
	}

	c.metrics.RecordFetchAttempt("exhausted")
	c.logger.WithFields(log.Fields{
		"attempts":    lastErr.Attempts,
		"status_code": lastErr.StatusCode,
	}).WithError(lastErr.Err).Error("order fetch failed after all retry attempts")
	return nil, lastErr
}

// Ping делает один запрос без повторов; используется диагностикой.
func (c *Client) Ping(ctx context.Context) error {
	until := c.now().UTC()
	_, err := c.fetchOnce(ctx, until.Add(-time.Minute), until, 1)
	return err
}

func (c *Client) fetchOnce(ctx context.Context, since, until time.Time, limit int) ([]byte, error) {
	endpoint := *c.baseURL
	endpoint.Path = strings.TrimRight(endpoint.Path, "/") + ordersPath
	query := endpoint.Query()
	query.Set("modifiedAfter", since.Format(time.RFC3339))
	query.Set("modifiedBefore", until.Format(time.RFC3339))
	query.Set("limit", strconv.Itoa(limit))
	endpoint.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, &domain.FetchError{Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &domain.FetchError{Transient: isTransientNetErr(err), Err: fmt.Errorf("do request: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, &domain.FetchError{StatusCode: resp.StatusCode, Transient: true, Err: fmt.Errorf("read response: %w", err)}
		}
		return body, nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	return nil, &domain.FetchError{
		StatusCode: resp.StatusCode,
		Transient:  isTransientStatus(resp.StatusCode),
		Err:        fmt.Errorf("unexpected status %d: %s", resp.StatusCode, apiErrorMessage(body)),
	}
}

// retryBackoff возвращает base * 2^(attempt-1), не больше retryMaxDelay.
func (c *Client) retryBackoff(attempt int) time.Duration {
	if c.retryBaseDelay <= 0 {
		return 0
	}
	delay := c.retryBaseDelay
	for i := 1; i < attempt; i++ {
		if delay >= c.retryMaxDelay/2 {
			return c.retryMaxDelay
		}
		delay *= 2
	}
	if delay > c.retryMaxDelay {
		return c.retryMaxDelay
	}
	return delay
}

type ordersEnvelope struct {
	Result []json.RawMessage `json:"result"`
}

// decodeOrders принимает как {"result": [...]}, так и голый массив.
// Записи без номера или без позиций отбрасываются с предупреждением.
func (c *Client) decodeOrders(body []byte) ([]domain.Order, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, nil
	}

	var records []json.RawMessage
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return nil, &domain.FetchError{Transient: true, Attempts: 1, Err: fmt.Errorf("decode orders: %w", err)}
		}
	} else {
		var envelope ordersEnvelope
		if err := json.Unmarshal(trimmed, &envelope); err != nil {
			return nil, &domain.FetchError{Transient: true, Attempts: 1, Err: fmt.Errorf("decode orders: %w", err)}
		}
		records = envelope.Result
	}

	orders := make([]domain.Order, 0, len(records))
	for i, raw := range records {
		var order domain.Order
		if err := json.Unmarshal(raw, &order); err != nil {
			c.metrics.RecordOrder(metrics.OrderInvalid)
			c.logger.WithField("index", i).WithError(err).Warn("dropping undecodable order record")
			continue
		}
		order.OrderNumber = strings.TrimSpace(order.OrderNumber)
		if err := order.Validate(); err != nil {
			c.metrics.RecordOrder(metrics.OrderInvalid)
			c.logger.WithFields(log.Fields{
				"index":        i,
				"order_number": order.OrderNumber,
			}).WithError(err).Warn("dropping invalid order record")
			continue
		}
		orders = append(orders, order)
	}

	return orders, nil
}

func isTransientStatus(code int) bool {
	switch {
	case code >= 500:
		return true
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests:
		return true
	default:
		return false
	}
}

// isTransientNetErr: таймауты, DNS и обрывы соединения повторяем,
// а отмену контекста вызывающей стороной не повторяем.
func isTransientNetErr(err error) bool {
	return !errors.Is(err, context.Canceled)
}

// apiErrorMessage вытаскивает message из JSON-тела ошибки, если оно есть.
func apiErrorMessage(body []byte) string {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.Message != "" {
			return payload.Message
		}
		if payload.Error != "" {
			return payload.Error
		}
	}
	return strings.TrimSpace(string(body))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
