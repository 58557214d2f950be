package app

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/invoicer/internal/invoice"
	"github.com/vladislavdragonenkov/invoicer/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/invoicer/internal/notify"
	"github.com/vladislavdragonenkov/invoicer/internal/service/digest"
)

// Драйверы журнала обработанных заказов.
const (
	LedgerDriverFile     = "file"
	LedgerDriverPostgres = "postgres"
	LedgerDriverRedis    = "redis"
	LedgerDriverMemory   = "memory"
)

const (
	envMetricsAddr      = "INVOICER_METRICS_ADDR"
	envGRPCAddr         = "INVOICER_GRPC_ADDR"
	envDashboardEnabled = "INVOICER_DASHBOARD_ENABLED"

	envAPIBaseURL     = "INVOICER_API_BASE_URL"
	envAPIToken       = "INVOICER_API_TOKEN"
	envPollInterval   = "INVOICER_POLL_INTERVAL_MINUTES"
	envInitialDelay   = "INVOICER_INITIAL_DELAY"
	envLookback       = "INVOICER_LOOKBACK"
	envFetchLimit     = "INVOICER_FETCH_LIMIT"
	envMaxRetries     = "INVOICER_MAX_RETRIES"
	envRetryBaseDelay = "INVOICER_RETRY_BASE_DELAY"
	envRetryMaxDelay  = "INVOICER_RETRY_MAX_DELAY"

	envOutputDir = "INVOICER_OUTPUT_DIR"
	envDataDir   = "INVOICER_DATA_DIR"

	envLedgerDriver        = "INVOICER_LEDGER_DRIVER"
	envPostgresDSN         = "INVOICER_POSTGRES_DSN"
	envPostgresAutoMigrate = "INVOICER_POSTGRES_AUTO_MIGRATE"
	envRedisAddr           = "INVOICER_REDIS_ADDR"
	envRedisPassword       = "INVOICER_REDIS_PASSWORD"
	envRedisDB             = "INVOICER_REDIS_DB"
	envRedisKey            = "INVOICER_REDIS_KEY"

	envShopName      = "INVOICER_SHOP_NAME"
	envShopAddress   = "INVOICER_SHOP_ADDRESS"
	envShopTaxID     = "INVOICER_SHOP_TAX_ID"
	envShopEmail     = "INVOICER_SHOP_EMAIL"
	envShopPhone     = "INVOICER_SHOP_PHONE"
	envCurrency      = "INVOICER_CURRENCY"
	envTaxRate       = "INVOICER_TAX_RATE"
	envInvoiceFooter = "INVOICER_INVOICE_FOOTER"
	envInvoicePrefix = "INVOICER_INVOICE_PREFIX"

	envChromePath      = "INVOICER_CHROME_PATH"
	envChromeNoSandbox = "INVOICER_CHROME_NO_SANDBOX"
	envRenderTimeout   = "INVOICER_RENDER_TIMEOUT"

	envAutoPrint    = "INVOICER_AUTO_PRINT"
	envPrinterName  = "INVOICER_PRINTER_NAME"
	envPrintCopies  = "INVOICER_PRINT_COPIES"
	envPrintTimeout = "INVOICER_PRINT_TIMEOUT"

	envSoundEnabled   = "INVOICER_SOUND_ENABLED"
	envSoundCommand   = "INVOICER_SOUND_COMMAND"
	envDesktopEnabled = "INVOICER_DESKTOP_ENABLED"

	envEmailEnabled        = "INVOICER_EMAIL_ENABLED"
	envSMTPHost            = "INVOICER_SMTP_HOST"
	envSMTPPort            = "INVOICER_SMTP_PORT"
	envSMTPUser            = "INVOICER_SMTP_USER"
	envSMTPPassword        = "INVOICER_SMTP_PASSWORD"
	envSMTPFrom            = "INVOICER_SMTP_FROM"
	envSMTPFromName        = "INVOICER_SMTP_FROM_NAME"
	envEmailTo             = "INVOICER_EMAIL_TO"
	envEmailOnInvoice      = "INVOICER_EMAIL_ON_INVOICE"
	envEmailOnPrintFailure = "INVOICER_EMAIL_ON_PRINT_FAILURE"

	envDigestMode       = "INVOICER_DIGEST_MODE"
	envDigestDailyCron  = "INVOICER_DIGEST_DAILY_CRON"
	envDigestWeeklyCron = "INVOICER_DIGEST_WEEKLY_CRON"
	envCleanupCron      = "INVOICER_CLEANUP_CRON"
	envRetentionDays    = "INVOICER_RETENTION_DAYS"

	envKafkaBrokers  = "INVOICER_KAFKA_BROKERS"
	envKafkaTopic    = "INVOICER_KAFKA_TOPIC"
	envKafkaDLQTopic = "INVOICER_KAFKA_DLQ_TOPIC"

	envS3Endpoint  = "INVOICER_S3_ENDPOINT"
	envS3Region    = "INVOICER_S3_REGION"
	envS3AccessKey = "INVOICER_S3_ACCESS_KEY_ID"
	envS3SecretKey = "INVOICER_S3_SECRET_ACCESS_KEY"
	envS3Bucket    = "INVOICER_S3_BUCKET"
	envS3Prefix    = "INVOICER_S3_PREFIX"
)

// EnvLookup читает переменную окружения; совместим с os.LookupEnv.
type EnvLookup func(key string) (string, bool)

// Config — неизменяемый снимок настроек процесса. Строится один раз при старте.
type Config struct {
	MetricsAddr      string
	GRPCAddr         string
	DashboardEnabled bool

	APIBaseURL     string
	APIToken       string
	PollInterval   time.Duration
	InitialDelay   time.Duration
	Lookback       time.Duration
	FetchLimit     int
	MaxRetries     int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration

	OutputDir string
	DataDir   string

	LedgerDriver        string
	PostgresDSN         string
	PostgresAutoMigrate bool
	RedisAddr           string
	RedisPassword       string
	RedisDB             int
	RedisKey            string

	Shop invoice.Shop

	ChromePath      string
	ChromeNoSandbox bool
	RenderTimeout   time.Duration

	AutoPrint    bool
	PrinterName  string
	PrintCopies  int
	PrintTimeout time.Duration

	SoundEnabled   bool
	SoundCommand   string
	DesktopEnabled bool

	EmailEnabled        bool
	SMTP                notify.SMTPConfig
	EmailOnInvoice      bool
	EmailOnPrintFailure bool

	DigestMode       digest.Mode
	DigestDailyCron  string
	DigestWeeklyCron string
	CleanupCron      string
	Retention        time.Duration

	KafkaBrokers  []string
	KafkaTopic    string
	KafkaDLQTopic string

	S3Endpoint  string
	S3Region    string
	S3AccessKey string
	S3SecretKey string
	S3Bucket    string
	S3Prefix    string
}

// DefaultConfig возвращает значения по умолчанию. Адрес API и токен пустые.
func DefaultConfig() Config {
	return Config{
		MetricsAddr:      ":9090",
		DashboardEnabled: true,

		PollInterval:   5 * time.Minute,
		InitialDelay:   5 * time.Second,
		Lookback:       24 * time.Hour,
		FetchLimit:     100,
		MaxRetries:     3,
		RetryBaseDelay: time.Second,
		RetryMaxDelay:  30 * time.Second,

		OutputDir: "invoices",
		DataDir:   "data",

		LedgerDriver:        LedgerDriverFile,
		PostgresAutoMigrate: true,

		Shop: invoice.Shop{
			Currency:      "EUR",
			TaxRate:       decimal.Zero,
			InvoicePrefix: "INV-",
		},

		RenderTimeout: 30 * time.Second,

		PrintCopies:  1,
		PrintTimeout: 30 * time.Second,

		SoundEnabled:   true,
		DesktopEnabled: true,

		SMTP: notify.SMTPConfig{Port: 587},

		DigestMode:       digest.ModeOff,
		DigestDailyCron:  digest.DefaultDailySpec,
		DigestWeeklyCron: digest.DefaultWeeklySpec,
		CleanupCron:      digest.DefaultCleanupSpec,
		Retention:        90 * 24 * time.Hour,

		KafkaTopic:    kafka.TopicInvoiceEvents,
		KafkaDLQTopic: kafka.TopicDeadLetterQueue,
	}
}

// LedgerPath — файл журнала для драйвера file.
func (c Config) LedgerPath() string {
	return filepath.Join(c.DataDir, "processed_orders.json")
}

// DeadLetterPath — файл dead-letter списка для файловых драйверов.
func (c Config) DeadLetterPath() string {
	return filepath.Join(c.DataDir, "dead_letters.json")
}

// ReportsDir — каталог журнала для дайджестов.
func (c Config) ReportsDir() string {
	return filepath.Join(c.DataDir, "reports")
}

// ArchiveEnabled сообщает, что задан бакет для копий счетов.
func (c Config) ArchiveEnabled() bool {
	return c.S3Bucket != ""
}

// LoadConfig читает INVOICER_* переменные. Некорректное значение не прерывает
// загрузку: остаётся значение по умолчанию, а в warnings добавляется описание.
// Обязательные поля проверяет Validate.
func LoadConfig(lookup EnvLookup) (Config, []string) {
	cfg := DefaultConfig()
	r := envReader{lookup: lookup}

	r.str(envMetricsAddr, &cfg.MetricsAddr)
	r.str(envGRPCAddr, &cfg.GRPCAddr)
	r.boolean(envDashboardEnabled, &cfg.DashboardEnabled)

	r.str(envAPIBaseURL, &cfg.APIBaseURL)
	r.str(envAPIToken, &cfg.APIToken)
	var minutes int
	if r.integer(envPollInterval, &minutes, func(v int) bool { return v > 0 }, "must be > 0") {
		cfg.PollInterval = time.Duration(minutes) * time.Minute
	}
	r.duration(envInitialDelay, &cfg.InitialDelay, nonNegative, "must be >= 0")
	r.duration(envLookback, &cfg.Lookback, positive, "must be > 0")
	r.integer(envFetchLimit, &cfg.FetchLimit, func(v int) bool { return v > 0 }, "must be > 0")
	r.integer(envMaxRetries, &cfg.MaxRetries, func(v int) bool { return v >= 0 }, "must be >= 0")
	r.duration(envRetryBaseDelay, &cfg.RetryBaseDelay, nonNegative, "must be >= 0")
	r.duration(envRetryMaxDelay, &cfg.RetryMaxDelay, nonNegative, "must be >= 0")

	r.str(envOutputDir, &cfg.OutputDir)
	r.str(envDataDir, &cfg.DataDir)

	if r.str(envLedgerDriver, &cfg.LedgerDriver) {
		cfg.LedgerDriver = strings.ToLower(cfg.LedgerDriver)
	}
	r.str(envPostgresDSN, &cfg.PostgresDSN)
	r.boolean(envPostgresAutoMigrate, &cfg.PostgresAutoMigrate)
	r.str(envRedisAddr, &cfg.RedisAddr)
	r.str(envRedisPassword, &cfg.RedisPassword)
	r.integer(envRedisDB, &cfg.RedisDB, func(v int) bool { return v >= 0 }, "must be >= 0")
	r.str(envRedisKey, &cfg.RedisKey)

	r.str(envShopName, &cfg.Shop.Name)
	var address string
	if r.str(envShopAddress, &address) {
		cfg.Shop.AddressLines = splitList(address, "|")
	}
	r.str(envShopTaxID, &cfg.Shop.TaxID)
	r.str(envShopEmail, &cfg.Shop.Email)
	r.str(envShopPhone, &cfg.Shop.Phone)
	if r.str(envCurrency, &cfg.Shop.Currency) {
		cfg.Shop.Currency = strings.ToUpper(cfg.Shop.Currency)
	}
	r.decimal(envTaxRate, &cfg.Shop.TaxRate)
	r.str(envInvoiceFooter, &cfg.Shop.Footer)
	r.str(envInvoicePrefix, &cfg.Shop.InvoicePrefix)

	r.str(envChromePath, &cfg.ChromePath)
	r.boolean(envChromeNoSandbox, &cfg.ChromeNoSandbox)
	r.duration(envRenderTimeout, &cfg.RenderTimeout, positive, "must be > 0")

	r.boolean(envAutoPrint, &cfg.AutoPrint)
	r.str(envPrinterName, &cfg.PrinterName)
	r.integer(envPrintCopies, &cfg.PrintCopies, func(v int) bool { return v >= 1 }, "must be >= 1")
	r.duration(envPrintTimeout, &cfg.PrintTimeout, positive, "must be > 0")

	r.boolean(envSoundEnabled, &cfg.SoundEnabled)
	r.str(envSoundCommand, &cfg.SoundCommand)
	r.boolean(envDesktopEnabled, &cfg.DesktopEnabled)

	r.boolean(envEmailEnabled, &cfg.EmailEnabled)
	r.str(envSMTPHost, &cfg.SMTP.Host)
	r.integer(envSMTPPort, &cfg.SMTP.Port, func(v int) bool { return v > 0 && v < 65536 }, "must be a TCP port")
	r.str(envSMTPUser, &cfg.SMTP.User)
	r.str(envSMTPPassword, &cfg.SMTP.Password)
	r.str(envSMTPFrom, &cfg.SMTP.FromAddress)
	r.str(envSMTPFromName, &cfg.SMTP.FromName)
	var to string
	if r.str(envEmailTo, &to) {
		cfg.SMTP.To = splitList(to, ",")
	}
	r.boolean(envEmailOnInvoice, &cfg.EmailOnInvoice)
	r.boolean(envEmailOnPrintFailure, &cfg.EmailOnPrintFailure)

	var mode string
	if r.str(envDigestMode, &mode) {
		parsed, err := digest.ParseMode(mode)
		if err != nil {
			r.warn(envDigestMode, mode, err)
		} else {
			cfg.DigestMode = parsed
		}
	}
	r.str(envDigestDailyCron, &cfg.DigestDailyCron)
	r.str(envDigestWeeklyCron, &cfg.DigestWeeklyCron)
	r.str(envCleanupCron, &cfg.CleanupCron)
	var days int
	if r.integer(envRetentionDays, &days, func(v int) bool { return v > 0 }, "must be > 0") {
		cfg.Retention = time.Duration(days) * 24 * time.Hour
	}

	var brokers string
	if r.str(envKafkaBrokers, &brokers) {
		cfg.KafkaBrokers = kafka.ParseBrokers(brokers)
	}
	r.str(envKafkaTopic, &cfg.KafkaTopic)
	r.str(envKafkaDLQTopic, &cfg.KafkaDLQTopic)

	r.str(envS3Endpoint, &cfg.S3Endpoint)
	r.str(envS3Region, &cfg.S3Region)
	r.str(envS3AccessKey, &cfg.S3AccessKey)
	r.str(envS3SecretKey, &cfg.S3SecretKey)
	r.str(envS3Bucket, &cfg.S3Bucket)
	r.str(envS3Prefix, &cfg.S3Prefix)

	return cfg, r.warnings
}

// Validate проверяет обязательные поля и диапазоны. Ошибка фатальна для старта.
func (c Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.PollInterval < time.Minute || c.PollInterval > 1440*time.Minute {
		add("%s must be within 1..1440 minutes, got %s", envPollInterval, c.PollInterval)
	}
	if c.MaxRetries < 0 {
		add("%s must be >= 0", envMaxRetries)
	}
	if c.PrintCopies < 1 {
		add("%s must be >= 1", envPrintCopies)
	}
	if c.Shop.TaxRate.IsNegative() || c.Shop.TaxRate.GreaterThan(decimal.NewFromInt(1)) {
		add("%s must be within [0, 1], got %s", envTaxRate, c.Shop.TaxRate)
	}
	if strings.TrimSpace(c.Shop.Name) == "" {
		add("%s is required", envShopName)
	}

	if strings.TrimSpace(c.APIBaseURL) == "" {
		add("%s is required", envAPIBaseURL)
	} else if u, err := url.Parse(c.APIBaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		add("%s must be an absolute URL", envAPIBaseURL)
	}
	if strings.TrimSpace(c.APIToken) == "" {
		add("%s is required", envAPIToken)
	}
	if strings.TrimSpace(c.OutputDir) == "" {
		add("%s is required", envOutputDir)
	}
	if strings.TrimSpace(c.DataDir) == "" {
		add("%s is required", envDataDir)
	}

	switch c.LedgerDriver {
	case LedgerDriverFile, LedgerDriverMemory:
	case LedgerDriverPostgres:
		if c.PostgresDSN == "" {
			add("%s is required for the postgres ledger", envPostgresDSN)
		}
	case LedgerDriverRedis:
		if c.RedisAddr == "" {
			add("%s is required for the redis ledger", envRedisAddr)
		}
	default:
		add("unsupported %s %q", envLedgerDriver, c.LedgerDriver)
	}

	if c.EmailEnabled {
		if c.SMTP.Host == "" {
			add("%s is required when email is enabled", envSMTPHost)
		}
		if c.SMTP.FromAddress == "" {
			add("%s is required when email is enabled", envSMTPFrom)
		}
		if len(c.SMTP.To) == 0 {
			add("%s is required when email is enabled", envEmailTo)
		}
	}
	if c.DigestMode != digest.ModeOff && !c.EmailEnabled {
		add("%s=%s requires %s=true", envDigestMode, c.DigestMode, envEmailEnabled)
	}

	if c.S3Bucket == "" && (c.S3Endpoint != "" || c.S3Prefix != "") {
		add("%s is required when S3 archive settings are present", envS3Bucket)
	}

	return errors.Join(errs...)
}

type envReader struct {
	lookup   EnvLookup
	warnings []string
}

func (r *envReader) value(key string) (string, bool) {
	if r.lookup == nil {
		return "", false
	}
	raw, ok := r.lookup(key)
	if !ok {
		return "", false
	}
	raw = strings.TrimSpace(raw)
	return raw, raw != ""
}

func (r *envReader) warn(key, raw string, err error) {
	r.warnings = append(r.warnings, fmt.Sprintf("%s=%q ignored: %v", key, raw, err))
}

func (r *envReader) str(key string, dst *string) bool {
	raw, ok := r.value(key)
	if ok {
		*dst = raw
	}
	return ok
}

func (r *envReader) boolean(key string, dst *bool) bool {
	raw, ok := r.value(key)
	if !ok {
		return false
	}
	v, err := parseBool(raw)
	if err != nil {
		r.warn(key, raw, err)
		return false
	}
	*dst = v
	return true
}

func (r *envReader) integer(key string, dst *int, valid func(int) bool, rule string) bool {
	raw, ok := r.value(key)
	if !ok {
		return false
	}
	v, err := parseInt(raw, valid, rule)
	if err != nil {
		r.warn(key, raw, err)
		return false
	}
	*dst = v
	return true
}

func (r *envReader) duration(key string, dst *time.Duration, valid func(time.Duration) bool, rule string) bool {
	raw, ok := r.value(key)
	if !ok {
		return false
	}
	v, err := parseDuration(raw, valid, rule)
	if err != nil {
		r.warn(key, raw, err)
		return false
	}
	*dst = v
	return true
}

func (r *envReader) decimal(key string, dst *decimal.Decimal) bool {
	raw, ok := r.value(key)
	if !ok {
		return false
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		r.warn(key, raw, err)
		return false
	}
	*dst = v
	return true
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "y", "on":
		return true, nil
	case "0", "false", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid bool value %q", raw)
	}
}

func parseInt(raw string, valid func(int) bool, rule string) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q", raw)
	}
	if valid != nil && !valid(v) {
		return 0, errors.New(rule)
	}
	return v, nil
}

func parseDuration(raw string, valid func(time.Duration) bool, rule string) (time.Duration, error) {
	v, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", raw)
	}
	if valid != nil && !valid(v) {
		return 0, errors.New(rule)
	}
	return v, nil
}

func positive(v time.Duration) bool    { return v > 0 }
func nonNegative(v time.Duration) bool { return v >= 0 }

func splitList(raw, sep string) []string {
	parts := strings.Split(raw, sep)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
