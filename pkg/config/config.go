package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/newswire/pkg/observability"
	"github.com/platinummonkey/newswire/pkg/storage"
)

// DefaultAnalyticsSalt is used when no salt is configured. Hashes produced
// with it are only as strong as this value is secret, so deployments should
// always override it.
const DefaultAnalyticsSalt = "nn2-analytics-salt"

// Config holds all application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Storage       storage.Config      `yaml:"storage"`
	Analytics     AnalyticsConfig     `yaml:"analytics"`
	Ingest        IngestConfig        `yaml:"ingest"`
	Auth          AuthConfig          `yaml:"auth"`
	Retention     RetentionConfig     `yaml:"retention"`
	Jobs          JobsConfig          `yaml:"jobs"`
	Observability ObservabilityConfig `yaml:"observability"`

	// Source is the YAML overlay path, empty when none was loaded
	Source string `yaml:"-"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Environment     string        `yaml:"environment"` // "development" or "production"
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// Health/metrics server (separate port for k8s probes)
	HealthPort string `yaml:"health_port"`
}

// IsProduction reports whether cookies should be marked Secure
func (s ServerConfig) IsProduction() bool {
	return strings.EqualFold(s.Environment, "production")
}

// AnalyticsConfig controls hashing, day boundaries and lookup caches
type AnalyticsConfig struct {
	Salt          string `yaml:"salt"`
	SaltIsDefault bool   `yaml:"-"`

	// Timezone for dashboard day boundaries; empty means the process zone
	Timezone string         `yaml:"timezone"`
	Location *time.Location `yaml:"-"`

	DefaultWindowDays int `yaml:"default_window_days"`

	VisibilityCacheTTL  time.Duration `yaml:"visibility_cache_ttl"`
	VisibilityCacheSize int           `yaml:"visibility_cache_size"`

	// RedisDedup enables dedup markers when Redis is configured
	RedisDedup bool `yaml:"redis_dedup"`
}

// IngestConfig protects the public metrics endpoints
type IngestConfig struct {
	RateLimitPerMinute int `yaml:"rate_limit_per_minute"` // 0 disables
	RateLimitBurst     int `yaml:"rate_limit_burst"`
	// RateLimitFailClosed rejects ingest with 503 while the limiter backend is down
	RateLimitFailClosed bool     `yaml:"rate_limit_fail_closed"`
	MaxBodyBytes        int64    `yaml:"max_body_bytes"`
	CORSOrigins         []string `yaml:"cors_origins"`
}

// AuthConfig holds staff session settings
type AuthConfig struct {
	SessionTTL time.Duration `yaml:"session_ttl"`
}

// RetentionConfig controls the raw event purge job
type RetentionConfig struct {
	Enabled     bool `yaml:"enabled"`
	MaxAgeDays  int  `yaml:"max_age_days"`
	ArchiveToS3 bool `yaml:"archive_to_s3"`
}

// JobsConfig holds cron schedules for cmd/newswire-jobs
type JobsConfig struct {
	PromoteSchedule        string `yaml:"promote_schedule"`
	SessionCleanupSchedule string `yaml:"session_cleanup_schedule"`
	RetentionSchedule      string `yaml:"retention_schedule"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel     observability.LogLevel      `yaml:"-"`
	LogLevelName string                      `yaml:"log_level"`
	LogFile      observability.LogFileConfig `yaml:"log_file"`

	MetricsEnabled bool `yaml:"metrics_enabled"`

	OTelEnabled        bool    `yaml:"otel_enabled"`
	OTelEndpoint       string  `yaml:"otel_endpoint"`
	OTelServiceName    string  `yaml:"otel_service_name"`
	OTelServiceVersion string  `yaml:"otel_service_version"`
	OTelInsecure       bool    `yaml:"otel_insecure"`
	OTelSampleRatio    float64 `yaml:"otel_sample_ratio"`
}

// Default returns the built-in defaults
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Environment:     "development",
			Host:            "0.0.0.0",
			Port:            "8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			HealthPort:      "9090",
		},
		Storage: storage.DefaultConfig(),
		Analytics: AnalyticsConfig{
			DefaultWindowDays:   14,
			VisibilityCacheTTL:  30 * time.Second,
			VisibilityCacheSize: 4096,
			RedisDedup:          true,
		},
		Ingest: IngestConfig{
			RateLimitPerMinute: 120,
			RateLimitBurst:     30,
			MaxBodyBytes:       16 * 1024,
		},
		Auth: AuthConfig{
			SessionTTL: 14 * 24 * time.Hour,
		},
		Retention: RetentionConfig{
			MaxAgeDays: 400,
		},
		Jobs: JobsConfig{
			PromoteSchedule:        "@every 1m",
			SessionCleanupSchedule: "@hourly",
			RetentionSchedule:      "30 3 * * *",
		},
		Observability: ObservabilityConfig{
			LogLevelName:       "info",
			MetricsEnabled:     true,
			OTelEndpoint:       "localhost:4317",
			OTelServiceName:    "newswire",
			OTelServiceVersion: "dev",
			OTelInsecure:       true,
			OTelSampleRatio:    1,
		},
	}
}

// LoadConfig loads .env (when present), the optional YAML overlay named by
// NEWSWIRE_CONFIG_FILE and then environment variables, in increasing order of
// precedence, and validates the result.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	return Load(os.Getenv("NEWSWIRE_CONFIG_FILE"))
}

// Load builds configuration from defaults, the YAML file at path (skipped
// when empty) and the environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
		cfg.Source = path
	}

	cfg.applyEnv()

	if err := cfg.finalize(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	s := &c.Server
	s.Environment = getEnv("NEWSWIRE_ENV", s.Environment)
	s.Host = getEnv("NEWSWIRE_HOST", s.Host)
	s.Port = getEnv("NEWSWIRE_PORT", s.Port)
	s.HealthPort = getEnv("NEWSWIRE_HEALTH_PORT", s.HealthPort)
	s.ReadTimeout = getEnvDuration("NEWSWIRE_READ_TIMEOUT", s.ReadTimeout)
	s.WriteTimeout = getEnvDuration("NEWSWIRE_WRITE_TIMEOUT", s.WriteTimeout)
	s.IdleTimeout = getEnvDuration("NEWSWIRE_IDLE_TIMEOUT", s.IdleTimeout)
	s.ShutdownTimeout = getEnvDuration("NEWSWIRE_SHUTDOWN_TIMEOUT", s.ShutdownTimeout)

	st := &c.Storage
	st.Driver = getEnv("NEWSWIRE_DB_DRIVER", st.Driver)
	st.PostgresURL = getEnv("NEWSWIRE_POSTGRES_URL", getEnv("DATABASE_URL", st.PostgresURL))
	st.PostgresReplicaURLs = getEnv("NEWSWIRE_POSTGRES_REPLICA_URLS", st.PostgresReplicaURLs)
	st.PostgresMaxConns = getEnvInt("NEWSWIRE_POSTGRES_MAX_CONNS", st.PostgresMaxConns)
	st.PostgresMinConns = getEnvInt("NEWSWIRE_POSTGRES_MIN_CONNS", st.PostgresMinConns)
	st.PostgresTimeout = getEnvDuration("NEWSWIRE_POSTGRES_TIMEOUT", st.PostgresTimeout)
	st.SQLitePath = getEnv("NEWSWIRE_SQLITE_PATH", st.SQLitePath)
	st.S3Endpoint = getEnv("NEWSWIRE_S3_ENDPOINT", st.S3Endpoint)
	st.S3Region = getEnv("NEWSWIRE_S3_REGION", st.S3Region)
	st.S3Bucket = getEnv("NEWSWIRE_S3_BUCKET", st.S3Bucket)
	st.S3Prefix = getEnv("NEWSWIRE_S3_PREFIX", st.S3Prefix)
	st.S3AccessKey = getEnv("NEWSWIRE_S3_ACCESS_KEY", st.S3AccessKey)
	st.S3SecretKey = getEnv("NEWSWIRE_S3_SECRET_KEY", st.S3SecretKey)
	st.S3UsePathStyle = getEnvBool("NEWSWIRE_S3_USE_PATH_STYLE", st.S3UsePathStyle)
	st.RedisURL = getEnv("NEWSWIRE_REDIS_URL", st.RedisURL)
	st.RedisPassword = getEnv("NEWSWIRE_REDIS_PASSWORD", st.RedisPassword)
	st.RedisDB = getEnvInt("NEWSWIRE_REDIS_DB", st.RedisDB)
	st.RedisMaxRetries = getEnvInt("NEWSWIRE_REDIS_MAX_RETRIES", st.RedisMaxRetries)
	st.RedisPoolSize = getEnvInt("NEWSWIRE_REDIS_POOL_SIZE", st.RedisPoolSize)

	a := &c.Analytics
	a.Salt = getEnv("ANALYTICS_SALT", getEnv("NEWSWIRE_ANALYTICS_SALT", a.Salt))
	a.Timezone = getEnv("NEWSWIRE_ANALYTICS_TIMEZONE", a.Timezone)
	a.DefaultWindowDays = getEnvInt("NEWSWIRE_ANALYTICS_DEFAULT_DAYS", a.DefaultWindowDays)
	a.VisibilityCacheTTL = getEnvDuration("NEWSWIRE_VISIBILITY_CACHE_TTL", a.VisibilityCacheTTL)
	a.VisibilityCacheSize = getEnvInt("NEWSWIRE_VISIBILITY_CACHE_SIZE", a.VisibilityCacheSize)
	a.RedisDedup = getEnvBool("NEWSWIRE_REDIS_DEDUP", a.RedisDedup)

	in := &c.Ingest
	in.RateLimitPerMinute = getEnvInt("NEWSWIRE_INGEST_RATE_LIMIT", in.RateLimitPerMinute)
	in.RateLimitBurst = getEnvInt("NEWSWIRE_INGEST_BURST", in.RateLimitBurst)
	in.RateLimitFailClosed = getEnvBool("NEWSWIRE_RATE_LIMIT_FAIL_CLOSED", in.RateLimitFailClosed)
	in.MaxBodyBytes = getEnvInt64("NEWSWIRE_INGEST_MAX_BODY_BYTES", in.MaxBodyBytes)
	in.CORSOrigins = getEnvList("NEWSWIRE_CORS_ORIGINS", in.CORSOrigins)

	c.Auth.SessionTTL = getEnvDuration("NEWSWIRE_STAFF_SESSION_TTL", c.Auth.SessionTTL)

	r := &c.Retention
	r.Enabled = getEnvBool("NEWSWIRE_RETENTION_ENABLED", r.Enabled)
	r.MaxAgeDays = getEnvInt("NEWSWIRE_RETENTION_MAX_AGE_DAYS", r.MaxAgeDays)
	r.ArchiveToS3 = getEnvBool("NEWSWIRE_RETENTION_ARCHIVE_S3", r.ArchiveToS3)

	j := &c.Jobs
	j.PromoteSchedule = getEnv("NEWSWIRE_JOB_PROMOTE_SCHEDULE", j.PromoteSchedule)
	j.SessionCleanupSchedule = getEnv("NEWSWIRE_JOB_SESSION_CLEANUP_SCHEDULE", j.SessionCleanupSchedule)
	j.RetentionSchedule = getEnv("NEWSWIRE_JOB_RETENTION_SCHEDULE", j.RetentionSchedule)

	o := &c.Observability
	o.LogLevelName = getEnv("NEWSWIRE_LOG_LEVEL", o.LogLevelName)
	o.LogFile.Path = getEnv("NEWSWIRE_LOG_FILE", o.LogFile.Path)
	o.LogFile.MaxSizeMB = getEnvInt("NEWSWIRE_LOG_MAX_SIZE_MB", o.LogFile.MaxSizeMB)
	o.LogFile.MaxBackups = getEnvInt("NEWSWIRE_LOG_MAX_BACKUPS", o.LogFile.MaxBackups)
	o.LogFile.MaxAgeDays = getEnvInt("NEWSWIRE_LOG_MAX_AGE_DAYS", o.LogFile.MaxAgeDays)
	o.MetricsEnabled = getEnvBool("NEWSWIRE_METRICS_ENABLED", o.MetricsEnabled)
	o.OTelEnabled = getEnvBool("NEWSWIRE_OTEL_ENABLED", o.OTelEnabled)
	o.OTelEndpoint = getEnv("NEWSWIRE_OTEL_ENDPOINT", o.OTelEndpoint)
	o.OTelServiceName = getEnv("NEWSWIRE_OTEL_SERVICE_NAME", o.OTelServiceName)
	o.OTelServiceVersion = getEnv("NEWSWIRE_OTEL_SERVICE_VERSION", o.OTelServiceVersion)
	o.OTelInsecure = getEnvBool("NEWSWIRE_OTEL_INSECURE", o.OTelInsecure)
	o.OTelSampleRatio = getEnvFloat("NEWSWIRE_OTEL_SAMPLE_RATIO", o.OTelSampleRatio)
}

// finalize resolves derived fields and validates
func (c *Config) finalize() error {
	if c.Analytics.Salt == "" {
		c.Analytics.Salt = DefaultAnalyticsSalt
	}
	c.Analytics.SaltIsDefault = c.Analytics.Salt == DefaultAnalyticsSalt

	loc := time.Local
	if c.Analytics.Timezone != "" {
		var err error
		if loc, err = time.LoadLocation(c.Analytics.Timezone); err != nil {
			return fmt.Errorf("invalid analytics timezone %q: %w", c.Analytics.Timezone, err)
		}
	}
	c.Analytics.Location = loc

	c.Observability.LogLevel = observability.ParseLogLevel(c.Observability.LogLevelName)

	return c.Validate()
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	switch c.Storage.Driver {
	case storage.DriverPostgres:
		if c.Storage.PostgresURL == "" {
			return fmt.Errorf("postgres URL is required for the postgres driver")
		}
	case storage.DriverSQLite:
		if c.Storage.SQLitePath == "" {
			return fmt.Errorf("sqlite path is required for the sqlite3 driver")
		}
	default:
		return fmt.Errorf("invalid database driver: %s (must be postgres or sqlite3)", c.Storage.Driver)
	}

	if c.Analytics.DefaultWindowDays < 1 || c.Analytics.DefaultWindowDays > 365 {
		return fmt.Errorf("default analytics window must be between 1 and 365 days")
	}
	if c.Analytics.VisibilityCacheTTL < 0 {
		return fmt.Errorf("visibility cache TTL must not be negative")
	}
	if c.Analytics.VisibilityCacheTTL > 0 && c.Analytics.VisibilityCacheSize <= 0 {
		return fmt.Errorf("visibility cache size must be positive when the cache is enabled")
	}

	if err := c.Ingest.Validate(); err != nil {
		return err
	}

	if c.Auth.SessionTTL <= 0 {
		return fmt.Errorf("staff session TTL must be positive")
	}

	if c.Retention.Enabled {
		if c.Retention.MaxAgeDays < 1 {
			return fmt.Errorf("retention max age must be at least 1 day")
		}
		if c.Retention.ArchiveToS3 && !c.Storage.S3Enabled() {
			return fmt.Errorf("S3 bucket is required when retention archiving is enabled")
		}
	}

	for name, spec := range map[string]string{
		"promote":         c.Jobs.PromoteSchedule,
		"session cleanup": c.Jobs.SessionCleanupSchedule,
		"retention":       c.Jobs.RetentionSchedule,
	} {
		if _, err := cron.ParseStandard(spec); err != nil {
			return fmt.Errorf("invalid %s schedule %q: %w", name, spec, err)
		}
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// Validate checks the ingest limits
func (i IngestConfig) Validate() error {
	if i.RateLimitPerMinute < 0 {
		return fmt.Errorf("ingest rate limit must not be negative")
	}
	if i.RateLimitPerMinute > 0 && i.RateLimitBurst <= 0 {
		return fmt.Errorf("ingest burst must be positive when rate limiting is enabled")
	}
	if i.MaxBodyBytes <= 0 {
		return fmt.Errorf("ingest max body bytes must be positive")
	}
	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvList splits a comma-separated variable, dropping empty entries
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
