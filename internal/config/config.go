package config

import "time"

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server" validate:"required"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	TaskStore  TaskStoreConfig  `mapstructure:"task_store" validate:"required"`
	API        APIConfig        `mapstructure:"api" validate:"required"`
	Collector  CollectorConfig  `mapstructure:"collector" validate:"required"`
	Queue      QueueConfig      `mapstructure:"queue" validate:"required"`
	Repository RepositoryConfig `mapstructure:"repository" validate:"required"`
	Janitor    JanitorConfig    `mapstructure:"janitor" validate:"required"`
}

// ServerConfig contains HTTP server and logging settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel        string        `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
	LogFormat       string        `mapstructure:"log_format" validate:"required,oneof=json text"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

// DatabaseConfig contains Postgres settings. URL is required whenever a
// Postgres-backed store is selected.
type DatabaseConfig struct {
	URL             string        `mapstructure:"url" validate:"omitempty,url"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" validate:"gte=1"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" validate:"gte=0"`
}

// RedisConfig contains Redis settings for the default task store.
type RedisConfig struct {
	Addr     string `mapstructure:"addr" validate:"required,hostname_port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db" validate:"gte=0"`
}

// TaskStoreConfig selects and tunes the task-state backend.
type TaskStoreConfig struct {
	Backend   string        `mapstructure:"backend" validate:"required,oneof=redis postgres memory"`
	TTL       time.Duration `mapstructure:"ttl" validate:"gt=0"`
	KeyPrefix string        `mapstructure:"key_prefix" validate:"required"`
}

// APIConfig configures the external API client.
type APIConfig struct {
	BaseURL           string        `mapstructure:"base_url" validate:"required,url"`
	AccessToken       string        `mapstructure:"access_token"`
	Version           string        `mapstructure:"version" validate:"required"`
	Timeout           time.Duration `mapstructure:"timeout" validate:"gt=0"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second" validate:"gt=0"`
	MaxBatchSize      int           `mapstructure:"max_batch_size" validate:"gt=0,lte=500"`
	Retry             RetryConfig   `mapstructure:"retry"`
	Breaker           BreakerConfig `mapstructure:"breaker"`
}

// RetryConfig is the backoff policy for transient API failures.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts" validate:"gte=1"`
	BaseDelay   time.Duration `mapstructure:"base_delay" validate:"gt=0"`
	Multiplier  float64       `mapstructure:"multiplier" validate:"gte=1"`
	MaxDelay    time.Duration `mapstructure:"max_delay" validate:"gt=0"`
}

// BreakerConfig is the circuit breaker policy.
type BreakerConfig struct {
	FailureRatio float64       `mapstructure:"failure_ratio" validate:"gt=0,lte=1"`
	MinRequests  uint32        `mapstructure:"min_requests" validate:"gte=1"`
	Cooldown     time.Duration `mapstructure:"cooldown" validate:"gt=0"`
	Interval     time.Duration `mapstructure:"interval" validate:"gte=0"`
}

// CollectorConfig tunes how one job is split and executed.
type CollectorConfig struct {
	ChunkSize      int `mapstructure:"chunk_size" validate:"gt=0"`
	Concurrency    int `mapstructure:"concurrency" validate:"gt=0"`
	MaxIdentifiers int `mapstructure:"max_identifiers" validate:"gt=0"`
}

// QueueConfig configures the collection queue and its workers.
type QueueConfig struct {
	Name               string        `mapstructure:"name" validate:"required"`
	WorkerCount        int           `mapstructure:"worker_count" validate:"gt=0"`
	QueueSize          int           `mapstructure:"queue_size" validate:"gt=0"`
	Attempts           int           `mapstructure:"attempts" validate:"gte=1"`
	Backoff            BackoffConfig `mapstructure:"backoff"`
	StallTimeout       time.Duration `mapstructure:"stall_timeout" validate:"gt=0"`
	StallCheckInterval time.Duration `mapstructure:"stall_check_interval" validate:"gt=0"`
	MaxStalled         int           `mapstructure:"max_stalled" validate:"gte=0"`
}

// BackoffConfig is the delay between queue-level retries.
type BackoffConfig struct {
	Type  string        `mapstructure:"type" validate:"required,oneof=fixed exponential"`
	Delay time.Duration `mapstructure:"delay" validate:"gt=0"`
}

// RepositoryConfig selects and tunes the entity repository.
type RepositoryConfig struct {
	Backend         string `mapstructure:"backend" validate:"required,oneof=postgres memory"`
	UpsertChunkSize int    `mapstructure:"upsert_chunk_size" validate:"gt=0,lte=4681"`
}

// JanitorConfig controls periodic cleanup of old terminal jobs.
type JanitorConfig struct {
	Interval       time.Duration `mapstructure:"interval" validate:"gt=0"`
	RetentionHours int           `mapstructure:"retention_hours" validate:"gt=0"`
}

// Retention is RetentionHours as a duration.
func (j JanitorConfig) Retention() time.Duration {
	return time.Duration(j.RetentionHours) * time.Hour
}

// NeedsDatabase reports whether any selected backend is Postgres.
func (c *Config) NeedsDatabase() bool {
	return c.TaskStore.Backend == "postgres" || c.Repository.Backend == "postgres"
}
