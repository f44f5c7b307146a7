package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"trailing-return-alerts/internal/logging"
)

// Run modes.
const (
	ModeSeries   = "series"
	ModeSnapshot = "snapshot"
)

// Evaluation periods.
const (
	PeriodMonthly = "monthly"
	PeriodDaily   = "daily"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Source    SourceConfig    `mapstructure:"source"`
	Tickers   TickersConfig   `mapstructure:"tickers"`
	Evaluate  EvaluateConfig  `mapstructure:"evaluate"`
	Detector  DetectorConfig  `mapstructure:"detector"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN              string        `mapstructure:"dsn"`
	MaxOpenConns     int           `mapstructure:"max_open_conns"`
	MaxIdleConns     int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime  time.Duration `mapstructure:"conn_max_lifetime"`
	StatementTimeout time.Duration `mapstructure:"statement_timeout"`
}

// SchedulerConfig governs when runs are triggered by the serve command.
type SchedulerConfig struct {
	Cron         string        `mapstructure:"cron"`
	Timezone     string        `mapstructure:"timezone"`
	StartupDelay time.Duration `mapstructure:"startup_delay"`
	RunTimeout   time.Duration `mapstructure:"run_timeout"`
	RunOnStart   bool          `mapstructure:"run_on_start"`
}

// SourceConfig covers upstream market data access.
type SourceConfig struct {
	Mode               string        `mapstructure:"mode"`
	ChartBaseURL       string        `mapstructure:"chart_base_url"`
	PerformanceBaseURL string        `mapstructure:"performance_base_url"`
	RequestTimeout     time.Duration `mapstructure:"request_timeout"`
	UserAgent          string        `mapstructure:"user_agent"`
	RatePerSecond      float64       `mapstructure:"rate_per_second"`
	Burst              int           `mapstructure:"burst"`
	Concurrency        int           `mapstructure:"concurrency"`
	OverlapDays        int           `mapstructure:"overlap_days"`
	BootstrapDays      int           `mapstructure:"bootstrap_days"`
}

// TickersConfig locates the tracked-ticker document.
type TickersConfig struct {
	Path string `mapstructure:"path"`
}

// EvaluateConfig controls how the reference date for returns is chosen.
type EvaluateConfig struct {
	Period        string `mapstructure:"period"`
	LookbackYears int    `mapstructure:"lookback_years"`
}

// DetectorConfig tunes change detection. A zero tolerance means exact equality.
type DetectorConfig struct {
	TolerancePct float64 `mapstructure:"tolerance_pct"`
}

// NotifyConfig defines the email provider and recipient.
type NotifyConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	APIKey         string        `mapstructure:"api_key"`
	APISecret      string        `mapstructure:"api_secret"`
	BaseURL        string        `mapstructure:"base_url"`
	RecipientEmail string        `mapstructure:"recipient_email"`
	RecipientName  string        `mapstructure:"recipient_name"`
	SenderEmail    string        `mapstructure:"sender_email"`
	SenderName     string        `mapstructure:"sender_name"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	AttachChart    bool          `mapstructure:"attach_chart"`
}

// MetricsConfig sets the metrics listener used by the serve command.
type MetricsConfig struct {
	Listen string `mapstructure:"listen"`
}

// TracingConfig toggles span export.
type TracingConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// ArchiveConfig describes the optional S3 landing zone for raw batches.
type ArchiveConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	Prefix          string `mapstructure:"prefix"`
	Endpoint        string `mapstructure:"endpoint"`
	PathStyle       bool   `mapstructure:"path_style"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	Compression     string `mapstructure:"compression"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from .env, file, environment, and defaults.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("HOTPOTATO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindLegacyEnv(v); err != nil {
		return nil, err
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

// bindLegacyEnv accepts the bare variable names used by earlier deployments.
func bindLegacyEnv(v *viper.Viper) error {
	legacy := map[string]string{
		"notify.api_key":         "api_key",
		"notify.api_secret":      "api_secret",
		"notify.recipient_email": "contact_email",
		"notify.recipient_name":  "contact_name",
	}
	for key, env := range legacy {
		prefixed := "HOTPOTATO_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, env); err != nil {
			return fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "hotpotato")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.max_size_mb", 100)

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 5)
	v.SetDefault("database.max_idle_conns", 1)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.statement_timeout", "30s")

	v.SetDefault("scheduler.cron", "30 6 * * *")
	v.SetDefault("scheduler.timezone", "UTC")
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.run_timeout", "10m")
	v.SetDefault("scheduler.run_on_start", false)

	v.SetDefault("source.mode", ModeSeries)
	v.SetDefault("source.chart_base_url", "https://query1.finance.yahoo.com")
	v.SetDefault("source.performance_base_url", "https://finance.yahoo.com")
	v.SetDefault("source.request_timeout", "15s")
	v.SetDefault("source.user_agent", "Mozilla/5.0 (compatible; hotpotato/1.0)")
	v.SetDefault("source.rate_per_second", 2.0)
	v.SetDefault("source.burst", 2)
	v.SetDefault("source.concurrency", 4)
	v.SetDefault("source.overlap_days", 7)
	v.SetDefault("source.bootstrap_days", 400)

	v.SetDefault("tickers.path", "stocks.yaml")

	v.SetDefault("evaluate.period", PeriodMonthly)
	v.SetDefault("evaluate.lookback_years", 1)

	v.SetDefault("detector.tolerance_pct", 0.0)

	v.SetDefault("notify.enabled", false)
	v.SetDefault("notify.api_key", "")
	v.SetDefault("notify.api_secret", "")
	v.SetDefault("notify.base_url", "https://api.mailjet.com")
	v.SetDefault("notify.recipient_email", "")
	v.SetDefault("notify.recipient_name", "")
	v.SetDefault("notify.sender_email", "")
	v.SetDefault("notify.sender_name", "")
	v.SetDefault("notify.request_timeout", "15s")
	v.SetDefault("notify.attach_chart", false)

	v.SetDefault("metrics.listen", ":9102")

	v.SetDefault("tracing.enabled", false)

	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.bucket", "")
	v.SetDefault("archive.region", "")
	v.SetDefault("archive.prefix", "observations")
	v.SetDefault("archive.access_key_id", "")
	v.SetDefault("archive.secret_access_key", "")
	v.SetDefault("archive.compression", "snappy")

	v.SetDefault("export.max_data_points", 100000)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	switch c.Source.Mode {
	case ModeSeries, ModeSnapshot:
	default:
		return fmt.Errorf("source.mode must be %q or %q", ModeSeries, ModeSnapshot)
	}
	switch c.Evaluate.Period {
	case PeriodMonthly, PeriodDaily:
	default:
		return fmt.Errorf("evaluate.period must be %q or %q", PeriodMonthly, PeriodDaily)
	}
	if c.Evaluate.LookbackYears <= 0 {
		return fmt.Errorf("evaluate.lookback_years must be greater than zero")
	}
	if c.Tickers.Path == "" {
		return fmt.Errorf("tickers.path is required")
	}
	if c.Source.Concurrency <= 0 {
		return fmt.Errorf("source.concurrency must be greater than zero")
	}
	if c.Source.OverlapDays < 0 || c.Source.BootstrapDays <= 0 {
		return fmt.Errorf("source.overlap_days cannot be negative and source.bootstrap_days must be positive")
	}
	if c.Detector.TolerancePct < 0 {
		return fmt.Errorf("detector.tolerance_pct cannot be negative")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Notify.Enabled {
		if c.Notify.APIKey == "" || c.Notify.APISecret == "" {
			return fmt.Errorf("notify.api_key and notify.api_secret are required when notify.enabled")
		}
		if c.Notify.RecipientEmail == "" {
			return fmt.Errorf("notify.recipient_email is required when notify.enabled")
		}
	}
	if c.Archive.Enabled && (c.Archive.Bucket == "" || c.Archive.Region == "") {
		return fmt.Errorf("archive.bucket and archive.region are required when archive.enabled")
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
