// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/fetchgate/internal/media"
)

// Storage backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendBadger   = "badger"
)

// Unknown-size policies.
const (
	UnknownSizeGate   = "gate"
	UnknownSizeInform = "inform"
)

const maxWorkerConcurrency = 4

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Admission AdmissionConfig `mapstructure:"admission"`
	Gate      GateConfig      `mapstructure:"gate"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Intake    IntakeConfig    `mapstructure:"intake"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Fetcher   FetcherConfig   `mapstructure:"fetcher"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// AdmissionConfig holds the tier thresholds and the administrator identity.
type AdmissionConfig struct {
	MaxFreeBytes      int64  `mapstructure:"max_free_bytes"`
	FreeTierInclusive bool   `mapstructure:"free_tier_inclusive"`
	UnknownSize       string `mapstructure:"unknown_size"`
	AdministratorID   string `mapstructure:"administrator_id"`
}

// GateConfig lists the social-proof steps shown to gated users.
type GateConfig struct {
	Steps []media.GateStep `mapstructure:"steps"`
}

// WorkerConfig governs the fetch queue and its workers.
type WorkerConfig struct {
	Concurrency           int `mapstructure:"concurrency"`
	QueueDepth            int `mapstructure:"queue_depth"`
	EnqueueTimeoutSeconds int `mapstructure:"enqueue_timeout_seconds"`
}

// IntakeConfig filters and throttles inbound messages.
type IntakeConfig struct {
	AllowedURLPatterns []string `mapstructure:"allowed_url_patterns"`
	RatePerMinute      float64  `mapstructure:"rate_per_minute"`
	Burst              int      `mapstructure:"burst"`
}

// StorageConfig selects the entitlement store backend.
type StorageConfig struct {
	Backend  string         `mapstructure:"backend"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Badger   BadgerConfig   `mapstructure:"badger"`
}

// PostgresConfig controls access to the relational database.
type PostgresConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// BadgerConfig points at the embedded database directory.
type BadgerConfig struct {
	Path string `mapstructure:"path"`
}

// FetcherConfig configures the yt-dlp media engine.
type FetcherConfig struct {
	Binary            string `mapstructure:"binary"`
	DownloadDir       string `mapstructure:"download_dir"`
	Format            string `mapstructure:"format"`
	MergeOutputFormat string `mapstructure:"merge_output_format"`
	GeoBypassCountry  string `mapstructure:"geo_bypass_country"`
}

// AuthConfig describes where the cookie bundle comes from.
type AuthConfig struct {
	CookieContent string `mapstructure:"cookie_content"`
	CookieFile    string `mapstructure:"cookie_file"`
}

// TelegramConfig holds the bot credentials and webhook wiring.
type TelegramConfig struct {
	BotToken      string `mapstructure:"bot_token"`
	APIBaseURL    string `mapstructure:"api_base_url"`
	WebhookURL    string `mapstructure:"webhook_url"`
	WebhookSecret string `mapstructure:"webhook_secret"`
}

// PubSubConfig holds metadata for outcome notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("FETCHGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindLegacyEnv(v); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", false)
	v.SetDefault("admission.max_free_bytes", 100*1024*1024)
	v.SetDefault("admission.free_tier_inclusive", true)
	v.SetDefault("admission.unknown_size", UnknownSizeGate)
	v.SetDefault("gate.steps", []map[string]string{
		{"label": "Subscribe to the channel"},
		{"label": "Share the bot with a friend"},
		{"label": "Rate the bot"},
	})
	v.SetDefault("worker.concurrency", 1)
	v.SetDefault("worker.queue_depth", 64)
	v.SetDefault("worker.enqueue_timeout_seconds", 5)
	v.SetDefault("intake.rate_per_minute", 6)
	v.SetDefault("intake.burst", 3)
	v.SetDefault("storage.backend", BackendMemory)
	v.SetDefault("storage.postgres.max_conns", 4)
	v.SetDefault("storage.badger.path", "data/entitlements")
	v.SetDefault("fetcher.binary", "yt-dlp")
	v.SetDefault("fetcher.download_dir", filepath.Join(os.TempDir(), "fetchgate_dl"))
	v.SetDefault("fetcher.format", "bestvideo+bestaudio/best")
	v.SetDefault("fetcher.merge_output_format", "mp4")
	v.SetDefault("telegram.api_base_url", "https://api.telegram.org")
}

// bindLegacyEnv keeps the environment names of earlier deployments working.
func bindLegacyEnv(v *viper.Viper) error {
	bindings := map[string][]string{
		"server.port":                {"FETCHGATE_SERVER_PORT", "PORT"},
		"telegram.bot_token":         {"FETCHGATE_TELEGRAM_BOT_TOKEN", "BOT_TOKEN"},
		"auth.cookie_file":           {"FETCHGATE_AUTH_COOKIE_FILE", "COOKIE_FILE"},
		"auth.cookie_content":        {"FETCHGATE_AUTH_COOKIE_CONTENT", "COOKIE_CONTENT"},
		"fetcher.geo_bypass_country": {"FETCHGATE_FETCHER_GEO_BYPASS_COUNTRY", "GEO_BYPASS_COUNTRY"},
	}
	for key, envs := range bindings {
		args := append([]string{key}, envs...)
		if err := v.BindEnv(args...); err != nil {
			return fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	return nil
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Admission.MaxFreeBytes <= 0 {
		return fmt.Errorf("admission.max_free_bytes must be > 0")
	}
	switch c.Admission.UnknownSize {
	case UnknownSizeGate, UnknownSizeInform:
	default:
		return fmt.Errorf("admission.unknown_size must be %q or %q", UnknownSizeGate, UnknownSizeInform)
	}
	if len(c.Gate.Steps) != media.GateSteps {
		return fmt.Errorf("gate.steps must list exactly %d steps", media.GateSteps)
	}
	if c.Worker.Concurrency <= 0 || c.Worker.Concurrency > maxWorkerConcurrency {
		return fmt.Errorf("worker.concurrency must be between 1 and %d", maxWorkerConcurrency)
	}
	if c.Worker.QueueDepth <= 0 {
		return fmt.Errorf("worker.queue_depth must be > 0")
	}
	if c.Worker.EnqueueTimeoutSeconds <= 0 {
		return fmt.Errorf("worker.enqueue_timeout_seconds must be > 0")
	}
	for _, pattern := range c.Intake.AllowedURLPatterns {
		if _, err := regexp.Compile(pattern); err != nil {
			return fmt.Errorf("intake.allowed_url_patterns: %w", err)
		}
	}
	switch c.Storage.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.Storage.Postgres.DSN == "" {
			return fmt.Errorf("storage.postgres.dsn must be set when backend is postgres")
		}
	case BackendBadger:
		if c.Storage.Badger.Path == "" {
			return fmt.Errorf("storage.badger.path must be set when backend is badger")
		}
	default:
		return fmt.Errorf("storage.backend %q is not supported", c.Storage.Backend)
	}
	if c.Fetcher.Binary == "" {
		return fmt.Errorf("fetcher.binary must be set")
	}
	if c.Fetcher.DownloadDir == "" {
		return fmt.Errorf("fetcher.download_dir must be set")
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	return nil
}

// EnqueueTimeout converts the enqueue budget into a duration.
func (c Config) EnqueueTimeout() time.Duration {
	return time.Duration(c.Worker.EnqueueTimeoutSeconds) * time.Second
}

// WebhookSecret returns the path secret guarding the webhook route.
func (c Config) WebhookSecret() string {
	if c.Telegram.WebhookSecret != "" {
		return c.Telegram.WebhookSecret
	}
	return c.Telegram.BotToken
}
