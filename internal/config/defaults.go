package config

import (
	"time"

	"relaybot/internal/trigger"
)

func Defaults() *Config {
	return &Config{
		Webhook: WebhookConfig{
			MaxRetries: 3,
		},
		Relay: RelayConfig{
			CommandPrefix:   "!",
			ChatTriggers:    trigger.DefaultSet(),
			ContextMessages: 0,
			EnrichMembers:   true,
			EnrichTimeout:   5 * time.Second,
		},
		Health: HealthConfig{
			Port: 3000,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}
