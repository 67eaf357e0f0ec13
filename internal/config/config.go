package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"relaybot/internal/trigger"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration for relaybot. Values come from Defaults,
// an optional YAML file, an optional dotenv file and the process environment,
// in increasing order of precedence.
type Config struct {
	Discord DiscordConfig `yaml:"discord"`
	Webhook WebhookConfig `yaml:"webhook"`
	Relay   RelayConfig   `yaml:"relay"`
	Health  HealthConfig  `yaml:"health"`
	Log     LogConfig     `yaml:"log"`
}

type DiscordConfig struct {
	Token string `yaml:"token" env:"DISCORD_TOKEN"`
}

type WebhookConfig struct {
	URL        string `yaml:"url" env:"WEBHOOK_URL"`
	Secret     string `yaml:"secret" env:"WEBHOOK_SECRET"`
	MaxRetries int    `yaml:"max_retries" env:"MAX_RETRIES"`
}

type RelayConfig struct {
	AllowedChannels []string      `yaml:"allowed_channels" env:"ALLOWED_CHANNEL_IDS" envSeparator:","`
	CommandPrefix   string        `yaml:"command_prefix" env:"COMMAND_PREFIX"`
	ChatTriggers    trigger.Set   `yaml:"chat_triggers" env:"CHAT_TRIGGERS"`
	ContextMessages int           `yaml:"context_messages" env:"CONTEXT_MESSAGES"` // capped at 20
	EnrichMembers   bool          `yaml:"enrich_members" env:"ENRICH_MEMBERS"`
	EnrichTimeout   time.Duration `yaml:"enrich_timeout" env:"ENRICH_TIMEOUT"`
}

type HealthConfig struct {
	Port    int  `yaml:"port" env:"HEALTH_PORT"`
	Metrics bool `yaml:"metrics" env:"METRICS_ENABLED"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL"`   // debug | info | warn | error
	Format string `yaml:"format" env:"LOG_FORMAT"` // text | json
}

// Load builds the configuration. path is an optional YAML file; environ
// overrides it. Pass Environ(envFile) for the process environment.
func Load(path string, environ map[string]string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Environment: environ}); err != nil {
		return nil, fmt.Errorf("cannot parse environment: %w", err)
	}
	cfg.Relay.AllowedChannels = compact(cfg.Relay.AllowedChannels)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// Environ returns the process environment merged over the variables in
// envFile. Variables already set in the process win, except that an empty
// process value does not hide a non-empty file value. A missing envFile is
// not an error.
func Environ(envFile string) (map[string]string, error) {
	vars := make(map[string]string)
	if envFile != "" {
		fileVars, err := godotenv.Read(envFile)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("cannot read env file %s: %w", envFile, err)
		default:
			for k, v := range fileVars {
				vars[k] = v
			}
		}
	}
	for _, kv := range os.Environ() {
		k, v, _ := strings.Cut(kv, "=")
		if v == "" && vars[k] != "" {
			continue
		}
		vars[k] = v
	}
	return vars, nil
}

// Validate checks that required values are present and the rest are in range.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.Discord.Token == "" {
		errs = append(errs, "DISCORD_TOKEN is required")
	}
	if cfg.Webhook.URL == "" {
		errs = append(errs, "WEBHOOK_URL is required")
	} else if u, err := url.Parse(cfg.Webhook.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, "WEBHOOK_URL must be an absolute http(s) URL")
	}
	if cfg.Webhook.Secret == "" {
		errs = append(errs, "WEBHOOK_SECRET is required")
	}
	if cfg.Webhook.MaxRetries < 0 {
		errs = append(errs, "MAX_RETRIES must be >= 0")
	}

	if cfg.Relay.CommandPrefix == "" {
		errs = append(errs, "COMMAND_PREFIX must not be empty")
	}
	if cfg.Relay.ContextMessages < 0 {
		errs = append(errs, "CONTEXT_MESSAGES must be >= 0")
	}
	if cfg.Relay.EnrichTimeout <= 0 {
		errs = append(errs, "ENRICH_TIMEOUT must be positive")
	}

	if cfg.Health.Port < 1 || cfg.Health.Port > 65535 {
		errs = append(errs, "HEALTH_PORT must be between 1 and 65535")
	}

	if _, err := ParseLevel(cfg.Log.Level); err != nil {
		errs = append(errs, err.Error())
	}
	switch cfg.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, "LOG_FORMAT must be one of: text, json")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ParseLevel maps a LOG_LEVEL value to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("LOG_LEVEL must be one of: debug, info, warn, error")
}

// Sanitize returns a copy of the config with secrets masked.
func Sanitize(cfg *Config) *Config {
	out := *cfg
	out.Relay.AllowedChannels = append([]string(nil), cfg.Relay.AllowedChannels...)
	out.Discord.Token = maskString(cfg.Discord.Token)
	out.Webhook.Secret = maskString(cfg.Webhook.Secret)
	return &out
}

// maskString shows first 4 and last 4 chars, masks the rest.
func maskString(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

func compact(ids []string) []string {
	out := ids[:0]
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
