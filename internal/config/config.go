package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"bonus-planner-api/internal/planner"
)

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig     `json:"server" yaml:"server"`
	Database   DatabaseConfig   `json:"database" yaml:"database"`
	Security   SecurityConfig   `json:"security" yaml:"security"`
	RateLimit  RateLimitConfig  `json:"rate_limit" yaml:"rate_limit"`
	Log        LogConfig        `json:"log" yaml:"log"`
	Planner    PlannerConfig    `json:"planner" yaml:"planner"`
	Cache      CacheConfig      `json:"cache" yaml:"cache"`
	Tracing    TracingConfig    `json:"tracing" yaml:"tracing"`
	Extraction ExtractionConfig `json:"extraction" yaml:"extraction"`
	Schedule   ScheduleConfig   `json:"schedule" yaml:"schedule"`
	// Features overrides the default state of named feature flags.
	Features map[string]bool `json:"features" yaml:"features"`
}

// ServerConfig holds server-related configuration.
type ServerConfig struct {
	Port            string `json:"port" yaml:"port"`
	Host            string `json:"host" yaml:"host"`
	EnableTLS       bool   `json:"enable_tls" yaml:"enable_tls"`
	CertFile        string `json:"cert_file" yaml:"cert_file"`
	KeyFile         string `json:"key_file" yaml:"key_file"`
	ShutdownTimeout int    `json:"shutdown_timeout" yaml:"shutdown_timeout"` // seconds
}

// DatabaseConfig holds database-related configuration.
type DatabaseConfig struct {
	Path      string `json:"path" yaml:"path"`
	BackupDir string `json:"backup_dir" yaml:"backup_dir"`
}

// SecurityConfig holds security-related configuration.
type SecurityConfig struct {
	// Max request body size in bytes (default: 10MB)
	MaxRequestBodySize int64 `json:"max_request_body_size" yaml:"max_request_body_size"`
	// Allowed CORS origins (comma-separated)
	AllowedOrigins string `json:"allowed_origins" yaml:"allowed_origins"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
	Rate    int  `json:"rate" yaml:"rate"`
	Window  int  `json:"window" yaml:"window"` // in seconds
}

// LogConfig selects the zap level (debug, info, warn, error).
type LogConfig struct {
	Level string `json:"level" yaml:"level"`
}

// PlannerConfig bounds the plan search.
type PlannerConfig struct {
	MaxPermutedOffers        int   `json:"max_permuted_offers" yaml:"max_permuted_offers"`
	MaxDelayDays             int   `json:"max_delay_days" yaml:"max_delay_days"`
	DefaultDepositTimingDays int   `json:"default_deposit_timing_days" yaml:"default_deposit_timing_days"`
	DefaultDepositWindowDays int   `json:"default_deposit_window_days" yaml:"default_deposit_window_days"`
	MaxDepositTimingDays     int   `json:"max_deposit_timing_days" yaml:"max_deposit_timing_days"`
	DelayStep                int   `json:"delay_step" yaml:"delay_step"`
	DepositTimingStep        int   `json:"deposit_timing_step" yaml:"deposit_timing_step"`
	MaxCombinations          int   `json:"max_combinations" yaml:"max_combinations"`
	MaxEvaluations           int64 `json:"max_evaluations" yaml:"max_evaluations"`
	TimeoutSeconds           int   `json:"timeout_seconds" yaml:"timeout_seconds"`
	// MaxConcurrent caps simultaneous plan searches.
	MaxConcurrent int `json:"max_concurrent" yaml:"max_concurrent"`
}

// Options converts the section into planner options.
func (p PlannerConfig) Options() planner.Options {
	return planner.Options{
		MaxPermutedOffers:        p.MaxPermutedOffers,
		MaxDelayDays:             p.MaxDelayDays,
		DefaultMaxDelayDays:      p.MaxDelayDays,
		DefaultDepositTimingDays: p.DefaultDepositTimingDays,
		DefaultDepositWindowDays: p.DefaultDepositWindowDays,
		MaxDepositTimingDays:     p.MaxDepositTimingDays,
		DelayStep:                p.DelayStep,
		DepositTimingStep:        p.DepositTimingStep,
		MaxCombinations:          p.MaxCombinations,
		MaxEvaluations:           p.MaxEvaluations,
		Timeout:                  time.Duration(p.TimeoutSeconds) * time.Second,
	}
}

// CacheConfig selects the plan cache backend.
type CacheConfig struct {
	Backend    string `json:"backend" yaml:"backend"` // memory | redis
	Addr       string `json:"addr" yaml:"addr"`
	Password   string `json:"password" yaml:"password"`
	DB         int    `json:"db" yaml:"db"`
	Prefix     string `json:"prefix" yaml:"prefix"`
	TTLSeconds int    `json:"ttl_seconds" yaml:"ttl_seconds"`
}

// TTL returns the plan cache TTL.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `json:"enabled" yaml:"enabled"`
	Exporter    string `json:"exporter" yaml:"exporter"` // jaeger | otlp
	Endpoint    string `json:"endpoint" yaml:"endpoint"`
	ServiceName string `json:"service_name" yaml:"service_name"`
	Environment string `json:"environment" yaml:"environment"`
}

// ExtractionConfig points at the extraction collaborator. An empty BaseURL
// leaves URL offers in processing until a collaborator is configured.
type ExtractionConfig struct {
	BaseURL        string `json:"base_url" yaml:"base_url"`
	APIKey         string `json:"api_key" yaml:"api_key"`
	TimeoutSeconds int    `json:"timeout_seconds" yaml:"timeout_seconds"`
	MaxRetries     int    `json:"max_retries" yaml:"max_retries"`
	Concurrency    int    `json:"concurrency" yaml:"concurrency"`
}

// ScheduleConfig holds cron specs (with seconds field). Empty disables a job.
type ScheduleConfig struct {
	PendingSweep string `json:"pending_sweep" yaml:"pending_sweep"`
	Backup       string `json:"backup" yaml:"backup"`
}

// LoadConfig loads configuration from environment variables and/or config file.
// Environment variables take precedence over config file values.
func LoadConfig(configFile string) (*Config, error) {
	cfg := defaults()

	if configFile != "" {
		if err := loadFromFile(configFile, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	overrideFromEnv(cfg)

	return cfg, nil
}

func defaults() *Config {
	opts := planner.DefaultOptions()
	return &Config{
		Server: ServerConfig{
			Port:            "8080",
			ShutdownTimeout: 30,
		},
		Database: DatabaseConfig{
			Path:      "./bonus_planner.db",
			BackupDir: "./backups",
		},
		Security: SecurityConfig{
			MaxRequestBodySize: 10 << 20,
			AllowedOrigins:     "*",
		},
		RateLimit: RateLimitConfig{
			Enabled: true,
			Rate:    100,
			Window:  60,
		},
		Log: LogConfig{Level: "info"},
		Planner: PlannerConfig{
			MaxPermutedOffers:        opts.MaxPermutedOffers,
			MaxDelayDays:             opts.MaxDelayDays,
			DefaultDepositTimingDays: opts.DefaultDepositTimingDays,
			DefaultDepositWindowDays: opts.DefaultDepositWindowDays,
			MaxDepositTimingDays:     opts.MaxDepositTimingDays,
			DelayStep:                opts.DelayStep,
			DepositTimingStep:        opts.DepositTimingStep,
			MaxCombinations:          opts.MaxCombinations,
			TimeoutSeconds:           60,
			MaxConcurrent:            2,
		},
		Cache: CacheConfig{
			Backend:    "memory",
			Prefix:     "bonus-planner:",
			TTLSeconds: 3600,
		},
		Tracing: TracingConfig{
			Exporter:    "jaeger",
			ServiceName: "bonus-planner-api",
			Environment: "development",
		},
		Extraction: ExtractionConfig{
			TimeoutSeconds: 60,
			MaxRetries:     3,
			Concurrency:    4,
		},
		Schedule: ScheduleConfig{
			PendingSweep: "0 */5 * * * *",
			Backup:       "0 0 3 * * *",
		},
	}
}

// loadFromFile overlays a JSON or YAML file, chosen by extension.
func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, cfg)
	default:
		return json.Unmarshal(data, cfg)
	}
}

// overrideFromEnv overrides configuration with environment variables.
func overrideFromEnv(cfg *Config) {
	setString(&cfg.Server.Port, "SERVER_PORT")
	setString(&cfg.Server.Host, "SERVER_HOST")
	setBool(&cfg.Server.EnableTLS, "SERVER_ENABLE_TLS")
	setString(&cfg.Server.CertFile, "SERVER_CERT_FILE")
	setString(&cfg.Server.KeyFile, "SERVER_KEY_FILE")
	setInt(&cfg.Server.ShutdownTimeout, "SERVER_SHUTDOWN_TIMEOUT")

	setString(&cfg.Database.Path, "DATABASE_PATH")
	setString(&cfg.Database.BackupDir, "DATABASE_BACKUP_DIR")

	if v := os.Getenv("MAX_REQUEST_BODY_SIZE"); v != "" {
		if size, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Security.MaxRequestBodySize = size
		}
	}
	setString(&cfg.Security.AllowedOrigins, "ALLOWED_ORIGINS")

	setBool(&cfg.RateLimit.Enabled, "RATE_LIMIT_ENABLED")
	setInt(&cfg.RateLimit.Rate, "RATE_LIMIT_RATE")
	setInt(&cfg.RateLimit.Window, "RATE_LIMIT_WINDOW")

	setString(&cfg.Log.Level, "LOG_LEVEL")

	setInt(&cfg.Planner.MaxPermutedOffers, "PLANNER_MAX_PERMUTED_OFFERS")
	setInt(&cfg.Planner.MaxDelayDays, "PLANNER_MAX_DELAY_DAYS")
	setInt(&cfg.Planner.MaxDepositTimingDays, "PLANNER_MAX_DEPOSIT_TIMING_DAYS")
	setInt(&cfg.Planner.DelayStep, "PLANNER_DELAY_STEP")
	setInt(&cfg.Planner.DepositTimingStep, "PLANNER_DEPOSIT_TIMING_STEP")
	setInt(&cfg.Planner.MaxCombinations, "PLANNER_MAX_COMBINATIONS")
	if v := os.Getenv("PLANNER_MAX_EVALUATIONS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Planner.MaxEvaluations = n
		}
	}
	setInt(&cfg.Planner.TimeoutSeconds, "PLANNER_TIMEOUT_SECONDS")
	setInt(&cfg.Planner.MaxConcurrent, "PLANNER_MAX_CONCURRENT")

	setString(&cfg.Cache.Backend, "CACHE_BACKEND")
	setString(&cfg.Cache.Addr, "REDIS_ADDR")
	setString(&cfg.Cache.Password, "REDIS_PASSWORD")
	setInt(&cfg.Cache.DB, "REDIS_DB")
	setInt(&cfg.Cache.TTLSeconds, "CACHE_TTL_SECONDS")

	setBool(&cfg.Tracing.Enabled, "TRACING_ENABLED")
	setString(&cfg.Tracing.Exporter, "TRACING_EXPORTER")
	setString(&cfg.Tracing.Endpoint, "TRACING_ENDPOINT")
	setString(&cfg.Tracing.Environment, "ENVIRONMENT")

	setString(&cfg.Extraction.BaseURL, "EXTRACTION_BASE_URL")
	setString(&cfg.Extraction.APIKey, "EXTRACTION_API_KEY")
	setInt(&cfg.Extraction.TimeoutSeconds, "EXTRACTION_TIMEOUT_SECONDS")
	setInt(&cfg.Extraction.MaxRetries, "EXTRACTION_MAX_RETRIES")

	setString(&cfg.Schedule.PendingSweep, "SCHEDULE_PENDING_SWEEP")
	setString(&cfg.Schedule.Backup, "SCHEDULE_BACKUP")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = strings.ToLower(v) == "true" || v == "1"
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			*dst = i
		}
	}
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.EnableTLS && (c.Server.CertFile == "" || c.Server.KeyFile == "") {
		return fmt.Errorf("cert_file and key_file are required when TLS is enabled")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}
	if c.RateLimit.Enabled {
		if c.RateLimit.Rate <= 0 {
			return fmt.Errorf("rate limit rate must be positive")
		}
		if c.RateLimit.Window <= 0 {
			return fmt.Errorf("rate limit window must be positive")
		}
	}
	if c.Planner.MaxPermutedOffers < 0 || c.Planner.MaxDelayDays < 0 || c.Planner.MaxDepositTimingDays < 0 || c.Planner.MaxEvaluations < 0 {
		return fmt.Errorf("planner limits must not be negative")
	}
	switch c.Cache.Backend {
	case "memory":
	case "redis":
		if c.Cache.Addr == "" {
			return fmt.Errorf("cache addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown cache backend %q", c.Cache.Backend)
	}
	if c.Tracing.Enabled {
		if c.Tracing.Exporter != "jaeger" && c.Tracing.Exporter != "otlp" {
			return fmt.Errorf("unknown tracing exporter %q", c.Tracing.Exporter)
		}
		if c.Tracing.Endpoint == "" {
			return fmt.Errorf("tracing endpoint is required when tracing is enabled")
		}
	}

	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	for name, spec := range map[string]string{"pending_sweep": c.Schedule.PendingSweep, "backup": c.Schedule.Backup} {
		if spec == "" {
			continue
		}
		if _, err := parser.Parse(spec); err != nil {
			return fmt.Errorf("invalid %s schedule: %w", name, err)
		}
	}
	return nil
}
