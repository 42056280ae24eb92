package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the send engine.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Postmark  PostmarkConfig  `yaml:"postmark"`
	Mailchimp MailchimpConfig `yaml:"mailchimp"`
	Export    ExportConfig    `yaml:"export"`
	Cron      CronConfig      `yaml:"cron"`
	Webhook   WebhookConfig   `yaml:"webhook"`
	Defaults  DefaultsConfig  `yaml:"defaults"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	Environment string `yaml:"environment"` // "development" or "production"
	CORSOrigins string `yaml:"cors_origins"`
}

// GetHost returns the bind host, defaulting to all interfaces.
func (s ServerConfig) GetHost() string {
	if s.Host == "" {
		return "0.0.0.0"
	}
	return s.Host
}

// IsProduction reports whether strict startup validation applies.
func (s ServerConfig) IsProduction() bool { return s.Environment == "production" }

// DatabaseConfig holds the PostgreSQL connection settings.
type DatabaseConfig struct {
	URL             string        `yaml:"url"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// RedisConfig holds the Redis connection used for cron locking and
// endpoint rate limiting. Optional: when Addr is empty those features
// degrade to single-instance behavior.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// PostmarkConfig holds the transactional batch provider credentials.
type PostmarkConfig struct {
	ServerToken string `yaml:"server_token"`
	BaseURL     string `yaml:"base_url"`
}

// MailchimpConfig holds the campaign API provider credentials.
type MailchimpConfig struct {
	APIKey     string `yaml:"api_key"`
	ServerPref string `yaml:"server_prefix"` // e.g. "us21"
	BaseURL    string `yaml:"base_url"`      // overrides server prefix when set
	ListID     string `yaml:"list_id"`
}

// ExportConfig holds the optional S3 destination for export-provider HTML.
type ExportConfig struct {
	S3Bucket  string `yaml:"s3_bucket"`
	S3Region  string `yaml:"s3_region"`
	KeyPrefix string `yaml:"key_prefix"`
}

// CronConfig holds dispatcher settings. Secret authenticates the HTTP
// trigger; Spec optionally enables the in-process ticker.
type CronConfig struct {
	Secret string `yaml:"secret"`
	Spec   string `yaml:"spec"` // cron expression, empty = external trigger only
}

// WebhookConfig holds the shared secret for provider event ingestion.
type WebhookConfig struct {
	Secret string `yaml:"secret"`
}

// DefaultsConfig holds engine-wide fallbacks.
type DefaultsConfig struct {
	Provider           string `yaml:"provider"`             // default delivery provider
	UnsubscribeBaseURL string `yaml:"unsubscribe_base_url"` // opt-out link host
}

// LoadFromEnv reads the YAML config file (when present) and applies
// environment overrides. A missing file is not an error in development:
// everything can be supplied through the environment.
func LoadFromEnv(path string) (*Config, error) {
	// .env is a developer convenience; ignore absence
	_ = godotenv.Load()

	cfg := &Config{}
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg.applyEnvOverrides()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Server.Port = p
		}
	}
	if v := os.Getenv("ENVIRONMENT"); v != "" {
		c.Server.Environment = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Database.URL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("POSTMARK_SERVER_TOKEN"); v != "" {
		c.Postmark.ServerToken = v
	}
	if v := os.Getenv("MAILCHIMP_API_KEY"); v != "" {
		c.Mailchimp.APIKey = v
	}
	if v := os.Getenv("CRON_SECRET"); v != "" {
		c.Cron.Secret = v
	}
	if v := os.Getenv("WEBHOOK_SECRET"); v != "" {
		c.Webhook.Secret = v
	}
	if v := os.Getenv("EXPORT_S3_BUCKET"); v != "" {
		c.Export.S3Bucket = v
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.Environment == "" {
		c.Server.Environment = "development"
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 25
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 5
	}
	if c.Database.ConnMaxLifetime == 0 {
		c.Database.ConnMaxLifetime = 5 * time.Minute
	}
	if c.Defaults.Provider == "" {
		c.Defaults.Provider = "postmark"
	}
}

// Validate fails fast on configuration that would otherwise degrade
// silently at send time. Production requires the shared secrets and the
// default provider's credentials up front.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("database.url is required (or set DATABASE_URL)")
	}
	if !c.Server.IsProduction() {
		return nil
	}
	if c.Cron.Secret == "" {
		return fmt.Errorf("cron.secret is required in production (or set CRON_SECRET)")
	}
	if c.Webhook.Secret == "" {
		return fmt.Errorf("webhook.secret is required in production (or set WEBHOOK_SECRET)")
	}
	if c.Defaults.Provider == "postmark" && c.Postmark.ServerToken == "" {
		return fmt.Errorf("postmark.server_token is required when postmark is the default provider")
	}
	if c.Defaults.Provider == "mailchimp" && c.Mailchimp.APIKey == "" {
		return fmt.Errorf("mailchimp.api_key is required when mailchimp is the default provider")
	}
	return nil
}
