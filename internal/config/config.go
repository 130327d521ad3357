package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
	Contest   ContestConfig   `yaml:"contest" mapstructure:"contest"`
	Validate  ValidateConfig  `yaml:"validate" mapstructure:"validate"`
	Reconcile ReconcileConfig `yaml:"reconcile" mapstructure:"reconcile"`
	SLA       SLAConfig       `yaml:"sla" mapstructure:"sla"`
	RNEC      RNECConfig      `yaml:"rnec" mapstructure:"rnec"`
	Push      PushConfig      `yaml:"push" mapstructure:"push"`
	Ingest    IngestConfig    `yaml:"ingest" mapstructure:"ingest"`
	Watch     WatchConfig     `yaml:"watch" mapstructure:"watch"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// ServerConfig configures the dashboard/API server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ContestConfig identifies the election cycle being operated.
type ContestConfig struct {
	ID string `yaml:"id" mapstructure:"id"`
}

// ValidateConfig holds validation rule thresholds.
type ValidateConfig struct {
	LowConfidence      float64 `yaml:"low_confidence" mapstructure:"low_confidence"`
	IncidentConfidence float64 `yaml:"incident_confidence" mapstructure:"incident_confidence"`
	E11Margin          int     `yaml:"e11_margin" mapstructure:"e11_margin"`
}

// ReconcileConfig holds cross-source discrepancy thresholds. The 5%/15%
// defaults are operational conventions, deliberately configurable.
type ReconcileConfig struct {
	DiscrepancyPct   float64 `yaml:"discrepancy_pct" mapstructure:"discrepancy_pct"`
	CriticalPct      float64 `yaml:"critical_pct" mapstructure:"critical_pct"`
	MismatchVotes    int     `yaml:"mismatch_votes" mapstructure:"mismatch_votes"`
}

// SLAConfig holds per-severity incident resolution windows.
type SLAConfig struct {
	P0 time.Duration `yaml:"p0" mapstructure:"p0"`
	P1 time.Duration `yaml:"p1" mapstructure:"p1"`
	P2 time.Duration `yaml:"p2" mapstructure:"p2"`
	P3 time.Duration `yaml:"p3" mapstructure:"p3"`
}

// RNECConfig configures the official results feed client.
type RNECConfig struct {
	BaseURL      string        `yaml:"base_url" mapstructure:"base_url"`
	RatePerSec   float64       `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	Burst        int           `yaml:"burst" mapstructure:"burst"`
	PollInterval time.Duration `yaml:"poll_interval" mapstructure:"poll_interval"`
	DelayAfter   time.Duration `yaml:"delay_after" mapstructure:"delay_after"`
}

// PushConfig configures the outbound push-notification webhook.
type PushConfig struct {
	WebhookURL string `yaml:"webhook_url" mapstructure:"webhook_url"`
}

// IngestConfig configures batch ingestion.
type IngestConfig struct {
	MaxConcurrent int `yaml:"max_concurrent" mapstructure:"max_concurrent"`
}

// WatchConfig configures the background SLA watch. Alerts go to the
// coordination channel webhook; an empty URL disables delivery.
type WatchConfig struct {
	WebhookURL    string        `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckInterval time.Duration `yaml:"check_interval" mapstructure:"check_interval"`
	WarnBefore    time.Duration `yaml:"warn_before" mapstructure:"warn_before"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("WARROOM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "warroom.db")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("contest.id", "2026-presidencial")
	v.SetDefault("validate.low_confidence", 0.70)
	v.SetDefault("validate.incident_confidence", 0.50)
	v.SetDefault("validate.e11_margin", 0)
	v.SetDefault("reconcile.discrepancy_pct", 0.05)
	v.SetDefault("reconcile.critical_pct", 0.15)
	v.SetDefault("reconcile.mismatch_votes", 1)
	v.SetDefault("sla.p0", "5m")
	v.SetDefault("sla.p1", "10m")
	v.SetDefault("sla.p2", "30m")
	v.SetDefault("sla.p3", "120m")
	v.SetDefault("rnec.base_url", "https://resultados.rnec.example")
	v.SetDefault("rnec.rate_per_sec", 5.0)
	v.SetDefault("rnec.burst", 10)
	v.SetDefault("rnec.poll_interval", "60s")
	v.SetDefault("rnec.delay_after", "45m")
	v.SetDefault("ingest.max_concurrent", 8)
	v.SetDefault("watch.webhook_url", "")
	v.SetDefault("watch.check_interval", "60s")
	v.SetDefault("watch.warn_before", "3m")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
