package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all muze configuration. Defaults come from Default();
// environment variables with the MUZE_ prefix override individual fields
// (e.g. MUZE_SERVER_PORT, MUZE_LLM_PROVIDER).
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	LLM      LLMConfig
	Delivery DeliveryConfig
	Dispatch DispatchConfig
}

type ServerConfig struct {
	Bind string `envconfig:"SERVER_BIND"`
	Port int    `envconfig:"SERVER_PORT"`
}

type DatabaseConfig struct {
	Path string `envconfig:"DB_PATH"` // empty: resolved via store.DefaultDBPath()
}

type LLMConfig struct {
	Provider    string `envconfig:"LLM_PROVIDER"` // "gemini" or "ollama"
	Model       string `envconfig:"LLM_MODEL"`
	GeminiKey   string `envconfig:"GEMINI_API_KEY"`
	OllamaURL   string `envconfig:"OLLAMA_URL"`
	OllamaModel string `envconfig:"OLLAMA_MODEL"`
}

type DeliveryConfig struct {
	AccountSID string `envconfig:"TWILIO_ACCOUNT_SID"`
	AuthToken  string `envconfig:"TWILIO_AUTH_TOKEN"`
	FromNumber string `envconfig:"TWILIO_FROM_NUMBER"` // e.g. "whatsapp:+14155238886"
}

type DispatchConfig struct {
	StalenessDays    int           `envconfig:"STALENESS_DAYS"`    // days before an active loop decays
	LookaheadDays    int           `envconfig:"LOOKAHEAD_DAYS"`    // event scan window
	MaxPerCycle      int           `envconfig:"MAX_PER_CYCLE"`     // nudges per user per cycle
	DispatchInterval time.Duration `envconfig:"DISPATCH_INTERVAL"` // dispatch runner cadence
	SendInterval     time.Duration `envconfig:"SEND_INTERVAL"`     // approved-sender cadence
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Bind: "127.0.0.1",
			Port: 37710,
		},
		LLM: LLMConfig{
			Provider: "gemini",
			Model:    "gemini-2.0-flash-exp",
		},
		Dispatch: DispatchConfig{
			StalenessDays:    7,
			LookaheadDays:    2,
			MaxPerCycle:      3,
			DispatchInterval: time.Hour,
			SendInterval:     5 * time.Minute,
		},
	}
}

// Load builds the effective config: defaults overlaid with MUZE_*
// environment variables.
func Load() (Config, error) {
	cfg := Default()
	if err := envconfig.Process("muze", &cfg); err != nil {
		return cfg, fmt.Errorf("process env: %w", err)
	}
	return cfg, nil
}

// ListenAddr returns the bind:port address string.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Bind, c.Server.Port)
}
