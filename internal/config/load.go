package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. COLLECTOR_DATABASE_URL.
const EnvPrefix = "COLLECTOR"

var defaults = map[string]any{
	"server.port":             8080,
	"server.log_level":        "info",
	"server.log_format":       "json",
	"server.shutdown_timeout": "15s",

	"database.url":               "",
	"database.max_open_conns":    10,
	"database.max_idle_conns":    5,
	"database.conn_max_lifetime": "30m",

	"redis.addr":     "localhost:6379",
	"redis.password": "",
	"redis.db":       0,

	"task_store.backend":    "redis",
	"task_store.ttl":        "72h",
	"task_store.key_prefix": "collector:",

	"api.base_url":              "https://api.vk.com",
	"api.access_token":          "",
	"api.version":               "5.199",
	"api.timeout":               "10s",
	"api.requests_per_second":   3,
	"api.max_batch_size":        500,
	"api.retry.max_attempts":    4,
	"api.retry.base_delay":      "500ms",
	"api.retry.multiplier":      2.0,
	"api.retry.max_delay":       "10s",
	"api.breaker.failure_ratio": 0.6,
	"api.breaker.min_requests":  5,
	"api.breaker.cooldown":      "30s",
	"api.breaker.interval":      "1m",

	"collector.chunk_size":      100,
	"collector.concurrency":     2,
	"collector.max_identifiers": 100000,

	"queue.name":                 "collections",
	"queue.worker_count":         2,
	"queue.queue_size":           100,
	"queue.attempts":             3,
	"queue.backoff.type":         "exponential",
	"queue.backoff.delay":        "5s",
	"queue.stall_timeout":        "2m",
	"queue.stall_check_interval": "15s",
	"queue.max_stalled":          1,

	"repository.backend":           "postgres",
	"repository.upsert_chunk_size": 500,

	"janitor.interval":        "1h",
	"janitor.retention_hours": 168,
}

// Load reads configuration from defaults, an optional config file and
// environment variables, in increasing order of precedence. configFile may
// be empty. The result is validated before it is returned.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field constraints and the rules that span sections.
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.NeedsDatabase() && cfg.Database.URL == "" {
		return errors.New("invalid configuration: database.url is required when a postgres backend is selected")
	}
	if cfg.API.Retry.MaxDelay < cfg.API.Retry.BaseDelay {
		return errors.New("invalid configuration: api.retry.max_delay must not be below api.retry.base_delay")
	}
	return nil
}
