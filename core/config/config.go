package config

import (
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultAPIURL is the public Telegram Bot API endpoint.
	DefaultAPIURL = "https://api.telegram.org"
	// DefaultReplyPrefix is prepended to the inbound text when echoing it back.
	DefaultReplyPrefix = "You said: "

	defaultSendTimeoutMS     = 5000
	defaultShutdownTimeoutMS = 10000
	defaultMaxBodyBytes      = 1 << 20
	defaultListen            = "0.0.0.0"
	defaultPort              = 5000
	defaultServiceName       = "tgrelay"
)

// DefaultAliases are the mount paths served when none are configured.
var DefaultAliases = []string{"/", "/api/index"}

// TelegramConfig holds Bot API credentials and outbound call settings.
type TelegramConfig struct {
	Token  string `yaml:"token" envconfig:"TELEGRAM_TOKEN"`
	APIURL string `yaml:"api_url" envconfig:"TELEGRAM_API_URL"`
	// SendTimeoutMS bounds a single outbound sendMessage call; 0 -> default
	SendTimeoutMS int `yaml:"send_timeout_ms" envconfig:"TELEGRAM_SEND_TIMEOUT_MS"`
}

// WebhookConfig specifies the inbound HTTP surface.
type WebhookConfig struct {
	Listen string `yaml:"listen" envconfig:"WEBHOOK_LISTEN"`
	Port   int    `yaml:"port" envconfig:"WEBHOOK_PORT"`
	// Aliases lists base paths the relay is mounted under. Each alias serves
	// the health check on GET <alias> and the webhook on POST <alias>/<token>.
	Aliases []string `yaml:"aliases" envconfig:"WEBHOOK_ALIASES"`
	// PublicURL is the externally reachable base used by "webhook set".
	PublicURL string `yaml:"public_url" envconfig:"WEBHOOK_URL"`
	// SecretToken, when set, must be echoed by Telegram in the
	// X-Telegram-Bot-Api-Secret-Token header.
	SecretToken       string `yaml:"secret_token" envconfig:"TELEGRAM_SECRET"`
	MaxBodyBytes      int64  `yaml:"max_body_bytes" envconfig:"WEBHOOK_MAX_BODY_BYTES"`
	ShutdownTimeoutMS int    `yaml:"shutdown_timeout_ms" envconfig:"WEBHOOK_SHUTDOWN_TIMEOUT_MS"`
}

// RelayConfig holds reply composition settings.
type RelayConfig struct {
	ReplyPrefix *string `yaml:"reply_prefix" envconfig:"RELAY_REPLY_PREFIX"`
}

// LoggingConfig defines logging related configuration.
type LoggingConfig struct {
	Level       string `yaml:"level" envconfig:"LOG_LEVEL"`
	Format      string `yaml:"format" envconfig:"LOG_FORMAT"`
	KeysOrder   string `yaml:"keys_order"`
	DebugSample string `yaml:"debug_sample"`
	Dir         string `yaml:"dir"`
	File        string `yaml:"file"`
	// Profile indicates environment profile such as "debug" or "prod".
	Profile string `yaml:"profile" envconfig:"LOG_PROFILE"`
}

// DatabaseConfig holds connection settings for the optional delivery journal.
// Leaving Host empty disables the journal.
type DatabaseConfig struct {
	Host           string `yaml:"host" envconfig:"DB_HOST"`
	Port           string `yaml:"port" envconfig:"DB_PORT"`
	User           string `yaml:"user" envconfig:"DB_USER"`
	Password       string `yaml:"password" envconfig:"DB_PASSWORD"`
	Name           string `yaml:"name" envconfig:"DB_NAME"`
	SSLMode        string `yaml:"sslmode" envconfig:"DB_SSLMODE"`
	MaxConnections int    `yaml:"max_connections" envconfig:"DB_MAX_CONNECTIONS"`
	MigrationsDir  string `yaml:"migrations_dir" envconfig:"DB_MIGRATIONS_DIR"`
}

// TracingConfig toggles OpenTelemetry spans for webhook handling.
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled" envconfig:"TRACING_ENABLED"`
	ServiceName string `yaml:"service_name" envconfig:"TRACING_SERVICE_NAME"`
}

// Config aggregates the relay configuration.
type Config struct {
	Telegram TelegramConfig `yaml:"telegram"`
	Webhook  WebhookConfig  `yaml:"webhook"`
	Relay    RelayConfig    `yaml:"relay"`
	Logging  LoggingConfig  `yaml:"logging"`
	Database DatabaseConfig `yaml:"database"`
	Tracing  TracingConfig  `yaml:"tracing"`
}

// Load reads configuration from a YAML file and environment variables.
// A missing file is not an error: the relay can run from env alone.
func Load(path string) (*Config, error) {
	var cfg Config

	if strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("failed to parse YAML config: %w", err)
			}
		case os.IsNotExist(err):
		default:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env: %w", err)
	}

	if err := Normalize(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize performs basic validation of required configuration fields and adjusts defaults.
func Normalize(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}

	cfg.Telegram.Token = strings.TrimSpace(cfg.Telegram.Token)
	if cfg.Telegram.Token == "" {
		return fmt.Errorf("telegram token is required")
	}
	if strings.ContainsAny(cfg.Telegram.Token, "/ ") {
		return fmt.Errorf("telegram token must not contain '/' or spaces")
	}
	cfg.Telegram.APIURL = strings.TrimRight(strings.TrimSpace(cfg.Telegram.APIURL), "/")
	if cfg.Telegram.APIURL == "" {
		cfg.Telegram.APIURL = DefaultAPIURL
	}
	if cfg.Telegram.SendTimeoutMS < 0 {
		return fmt.Errorf("telegram.send_timeout_ms must be >= 0")
	}
	if cfg.Telegram.SendTimeoutMS == 0 {
		cfg.Telegram.SendTimeoutMS = defaultSendTimeoutMS
	}

	if strings.TrimSpace(cfg.Webhook.Listen) == "" {
		cfg.Webhook.Listen = defaultListen
	}
	if cfg.Webhook.Port < 0 || cfg.Webhook.Port > 65535 {
		return fmt.Errorf("webhook.port must be within 1..65535")
	}
	if cfg.Webhook.Port == 0 {
		cfg.Webhook.Port = defaultPort
	}
	aliases, err := normalizeAliases(cfg.Webhook.Aliases)
	if err != nil {
		return err
	}
	cfg.Webhook.Aliases = aliases
	cfg.Webhook.PublicURL = strings.TrimRight(strings.TrimSpace(cfg.Webhook.PublicURL), "/")
	if cfg.Webhook.MaxBodyBytes < 0 {
		return fmt.Errorf("webhook.max_body_bytes must be >= 0")
	}
	if cfg.Webhook.MaxBodyBytes == 0 {
		cfg.Webhook.MaxBodyBytes = defaultMaxBodyBytes
	}
	if cfg.Webhook.ShutdownTimeoutMS <= 0 {
		cfg.Webhook.ShutdownTimeoutMS = defaultShutdownTimeoutMS
	}

	if cfg.Relay.ReplyPrefix == nil {
		prefix := DefaultReplyPrefix
		cfg.Relay.ReplyPrefix = &prefix
	}

	if cfg.JournalEnabled() {
		if cfg.Database.Port == "" {
			cfg.Database.Port = "5432"
		}
		if cfg.Database.SSLMode == "" {
			cfg.Database.SSLMode = "disable"
		}
		if cfg.Database.MaxConnections <= 0 {
			cfg.Database.MaxConnections = 4
		}
		if cfg.Database.MigrationsDir == "" {
			cfg.Database.MigrationsDir = "migrations"
		}
	}

	if strings.TrimSpace(cfg.Tracing.ServiceName) == "" {
		cfg.Tracing.ServiceName = defaultServiceName
	}
	return nil
}

// ReplyPrefix returns the configured prefix or the default one.
func (c *Config) ReplyPrefix() string {
	if c == nil || c.Relay.ReplyPrefix == nil {
		return DefaultReplyPrefix
	}
	return *c.Relay.ReplyPrefix
}

// ListenAddr returns the host:port pair the HTTP server binds to.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Webhook.Listen, c.Webhook.Port)
}

// JournalEnabled reports whether a delivery journal database is configured.
func (c *Config) JournalEnabled() bool {
	return c != nil && strings.TrimSpace(c.Database.Host) != ""
}

func normalizeAliases(raw []string) ([]string, error) {
	if len(raw) == 0 {
		return append([]string(nil), DefaultAliases...), nil
	}
	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, a := range raw {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if strings.ContainsAny(a, "{}*") {
			return nil, fmt.Errorf("invalid webhook alias %q; route patterns are not allowed", a)
		}
		a = path.Clean("/" + a)
		if _, dup := seen[a]; dup {
			continue
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	if len(out) == 0 {
		return append([]string(nil), DefaultAliases...), nil
	}
	return out, nil
}
