package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds every tunable of the service. All values come from environment
// variables (uppercase key = env var name), with defaults suitable for local use.
type Config struct {
	Gateway  GatewayConfig  `mapstructure:",squash"`
	Database DatabaseConfig `mapstructure:",squash"`
	Log      LogConfig      `mapstructure:",squash"`
	Grok     GrokConfig     `mapstructure:",squash"`
	Ingest   IngestConfig   `mapstructure:",squash"`
	Worker   WorkerConfig   `mapstructure:",squash"`
}

// GatewayConfig configures the HTTP listener.
type GatewayConfig struct {
	Host string `mapstructure:"gateway_host"`
	Port int    `mapstructure:"gateway_port"`
	Mode string `mapstructure:"gateway_mode"` // local, production
}

// DatabaseConfig configures the store. The dialect is derived from the URL:
// postgres:// URLs use the postgres driver, anything else is treated as a
// sqlite DSN (used by tests and local runs).
type DatabaseConfig struct {
	URL string `mapstructure:"database_url"`
}

// Type returns the gorm dialect name for the configured URL.
func (d DatabaseConfig) Type() string {
	if strings.HasPrefix(d.URL, "postgres://") || strings.HasPrefix(d.URL, "postgresql://") {
		return "postgres"
	}
	return "sqlite"
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `mapstructure:"log_level"`
	Format string `mapstructure:"log_format"`
}

// GrokConfig configures the external analysis endpoint and its guard rails.
type GrokConfig struct {
	APIKey                 string  `mapstructure:"grok_api_key"`
	BaseURL                string  `mapstructure:"grok_base_url"`
	Model                  string  `mapstructure:"grok_model"`
	RPM                    int     `mapstructure:"grok_rpm"`
	TPM                    int     `mapstructure:"grok_tpm"` // 0 = unset; observed, not enforced
	TimeoutSeconds         float64 `mapstructure:"grok_timeout_seconds"`
	MaxRetries             int     `mapstructure:"grok_max_retries"`
	CircuitBreakerFailures int     `mapstructure:"grok_circuit_breaker_failures"`
	CircuitBreakerCooldown float64 `mapstructure:"grok_circuit_breaker_cooldown_seconds"`
}

// Timeout returns the request timeout as a duration.
func (g GrokConfig) Timeout() time.Duration {
	return time.Duration(g.TimeoutSeconds * float64(time.Second))
}

// Cooldown returns the breaker cooldown as a duration.
func (g GrokConfig) Cooldown() time.Duration {
	return time.Duration(g.CircuitBreakerCooldown * float64(time.Second))
}

// IngestConfig configures the ingest surface and the work queue.
type IngestConfig struct {
	RateLimitRPM         int `mapstructure:"rate_limit_rpm"`
	MaxQueueDepth        int `mapstructure:"max_queue_depth"`
	BulkMaxConversations int `mapstructure:"bulk_max_conversations"`
}

// WorkerConfig configures the analysis worker.
type WorkerConfig struct {
	PreFilterMinMessages   int     `mapstructure:"pre_filter_min_messages"`
	PreFilterMinTotalChars int     `mapstructure:"pre_filter_min_total_chars"`
	BatchMinSize           int     `mapstructure:"batch_min_size"`
	BatchMaxSize           int     `mapstructure:"batch_max_size"`
	PollIntervalSeconds    float64 `mapstructure:"worker_poll_interval_seconds"`
}

// PollInterval returns the queue poll interval as a duration.
func (w WorkerConfig) PollInterval() time.Duration {
	return time.Duration(w.PollIntervalSeconds * float64(time.Second))
}

// Load reads configuration from the environment with defaults.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)
	v.AutomaticEnv()

	// AutomaticEnv alone does not surface env vars through Unmarshal;
	// every key must be bound explicitly.
	for _, key := range v.AllKeys() {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("gateway_host", "0.0.0.0")
	v.SetDefault("gateway_port", 8000)
	v.SetDefault("gateway_mode", "local")

	v.SetDefault("database_url", "insights.db")

	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")

	v.SetDefault("grok_api_key", "")
	v.SetDefault("grok_base_url", "https://api.x.ai/v1")
	v.SetDefault("grok_model", "grok-4-latest")
	v.SetDefault("grok_rpm", 60)
	v.SetDefault("grok_tpm", 0)
	v.SetDefault("grok_timeout_seconds", 60.0)
	v.SetDefault("grok_max_retries", 3)
	v.SetDefault("grok_circuit_breaker_failures", 5)
	v.SetDefault("grok_circuit_breaker_cooldown_seconds", 60.0)

	v.SetDefault("rate_limit_rpm", 60)
	v.SetDefault("max_queue_depth", 10000)
	v.SetDefault("bulk_max_conversations", 500)

	v.SetDefault("pre_filter_min_messages", 2)
	v.SetDefault("pre_filter_min_total_chars", 50)
	v.SetDefault("batch_min_size", 1)
	v.SetDefault("batch_max_size", 10)
	v.SetDefault("worker_poll_interval_seconds", 1.0)
}
