package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"
)

// Config represents the application configuration
type Config struct {
	Environment string          `toml:"environment"` // "development" or "production"
	Server      ServerConfig    `toml:"server"`
	Storage     StorageConfig   `toml:"storage"`
	Cache       CacheConfig     `toml:"cache"`
	Portal      PortalConfig    `toml:"portal"`
	Bot         BotConfig       `toml:"bot"`
	Worker      WorkerConfig    `toml:"worker"`
	WebSocket   WebSocketConfig `toml:"websocket"`
	Scheduler   SchedulerConfig `toml:"scheduler"`
	Logging     LoggingConfig   `toml:"logging"`
}

type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

type StorageConfig struct {
	SQLite SQLiteConfig `toml:"sqlite"`
	Badger BadgerConfig `toml:"badger"`
}

// SQLiteConfig configures the session state store
type SQLiteConfig struct {
	Path          string `toml:"path"`            // Database file path
	BusyTimeoutMS int    `toml:"busy_timeout_ms"` // SQLite busy_timeout pragma
	WALMode       bool   `toml:"wal_mode"`        // Enable write-ahead logging
	CacheSizeMB   int    `toml:"cache_size_mb"`   // Page cache size
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete cache directory on startup
}

// CacheConfig selects the fast state cache backend
type CacheConfig struct {
	Type         string      `toml:"type"`           // "redis", "badger", "memory" or "none"
	EventLogSize int         `toml:"event_log_size"` // Events retained in the cache event log
	MetricsTTL   string      `toml:"metrics_ttl"`    // Lifetime of per-session metrics, e.g. "24h"
	TaskTTL      string      `toml:"task_ttl"`       // Lifetime of finished task records, e.g. "1h"
	Redis        RedisConfig `toml:"redis"`
}

type RedisConfig struct {
	Addr         string `toml:"addr"`
	Username     string `toml:"username"`
	Password     string `toml:"password"`
	DB           int    `toml:"db"`
	DialTimeout  string `toml:"dial_timeout"`
	ReadTimeout  string `toml:"read_timeout"`
	WriteTimeout string `toml:"write_timeout"`
}

// PortalConfig describes the remote job portal driven by the worker
type PortalConfig struct {
	BaseURL         string `toml:"base_url"`
	LoginPath       string `toml:"login_path"`
	JobsPath        string `toml:"jobs_path"`
	Username        string `toml:"username"`
	Password        string `toml:"password"`
	Headless        bool   `toml:"headless"`
	UserAgent       string `toml:"user_agent"`
	NavTimeout      string `toml:"nav_timeout"`       // Page navigation timeout
	LoginTimeout    string `toml:"login_timeout"`     // Wait for the post-login UI signal
	ElementTimeout  string `toml:"element_timeout"`   // Wait for individual elements
	SkipHealthCheck bool   `toml:"skip_health_check"` // Do not check the portal before start
}

// BotConfig holds fallback values for the bot configuration used when the
// configuration store has no active row or is unreachable from the worker
type BotConfig struct {
	CheckIntervalSeconds      float64  `toml:"check_interval_seconds"`
	QuickCheckIntervalSeconds float64  `toml:"quick_check_interval_seconds"`
	EnableQuickCheck          bool     `toml:"enable_quick_check"`
	ResultsReportSeconds      float64  `toml:"results_report_seconds"`
	RejectedReportSeconds     float64  `toml:"rejected_report_seconds"`
	EnableResultsReporting    bool     `toml:"enable_results_reporting"`
	EnableRejectedReporting   bool     `toml:"enable_rejected_reporting"`
	MaxAcceptPerRun           int      `toml:"max_accept_per_run"`
	JobTypeFilter             string   `toml:"job_type_filter"`
	ExcludeTypes              []string `toml:"exclude_types"`
	RequiredFields            []string `toml:"required_fields"`
}

// WorkerConfig controls the worker process and its supervision
type WorkerConfig struct {
	Executable           string `toml:"executable"`             // Worker binary, empty = this executable
	LockFile             string `toml:"lock_file"`              // Single-instance lock held by the worker
	CallbackURL          string `toml:"callback_url"`           // Controller base URL, empty = derived from [server]
	StopGracePeriod      string `toml:"stop_grace_period"`      // Wait after SIGTERM before SIGKILL
	LoginAttempts        int    `toml:"login_attempts"`         // Login retry budget
	LoginBackoff         string `toml:"login_backoff"`          // Wait between login attempts
	MaxConsecutiveErrors int    `toml:"max_consecutive_errors"` // Ceiling before the long cooldown
	ErrorBackoffCap      string `toml:"error_backoff_cap"`      // Upper bound for progressive backoff
	ErrorCooldown        string `toml:"error_cooldown"`         // Cooldown after the ceiling is reached
	ConfigRefresh        string `toml:"config_refresh"`         // How often the worker re-reads its configuration
	CallbackTimeout      string `toml:"callback_timeout"`       // Per-request timeout for controller callbacks
	ProgressEventsPerSec int    `toml:"progress_rate"`          // Progress callbacks per second
}

// WebSocketConfig contains configuration for the realtime push channel
type WebSocketConfig struct {
	BroadcastInterval string `toml:"broadcast_interval"` // Full status snapshot interval
	ProgressThrottle  string `toml:"progress_throttle"`  // Minimum gap between pushed progress updates, empty = no throttle
}

type SchedulerConfig struct {
	AnalyticsSchedule    string `toml:"analytics_schedule"`     // Cron schedule for analytics snapshots
	AnalyticsWindowHours int    `toml:"analytics_window_hours"` // Trailing window per snapshot
	CacheCleanupSchedule string `toml:"cache_cleanup_schedule"` // Cron schedule for cache maintenance
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Format string   `toml:"format"` // "json" or "text"
	Output []string `toml:"output"` // "stdout", "file"
	File   string   `toml:"file"`   // Log file name inside ./logs
}

// NewDefaultConfig creates a configuration with default values
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8000,
			Host: "localhost",
		},
		Storage: StorageConfig{
			SQLite: SQLiteConfig{
				Path:          "./data/atozbot.db",
				BusyTimeoutMS: 5000,
				WALMode:       true,
				CacheSizeMB:   16,
			},
			Badger: BadgerConfig{
				Path: "./data/cache",
			},
		},
		Cache: CacheConfig{
			Type:         "memory",
			EventLogSize: 1000,
			MetricsTTL:   "24h",
			TaskTTL:      "1h",
			Redis: RedisConfig{
				Addr:         "localhost:6379",
				DialTimeout:  "5s",
				ReadTimeout:  "3s",
				WriteTimeout: "3s",
			},
		},
		Portal: PortalConfig{
			BaseURL:        "https://interpreting.atoz-translations.co.uk",
			LoginPath:      "/login",
			JobsPath:       "/interpreter-jobs",
			Headless:       true,
			UserAgent:      "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36",
			NavTimeout:     "30s",
			LoginTimeout:   "10s",
			ElementTimeout: "5s",
		},
		Bot: BotConfig{
			CheckIntervalSeconds:      0.5,
			QuickCheckIntervalSeconds: 10,
			EnableQuickCheck:          false,
			ResultsReportSeconds:      5,
			RejectedReportSeconds:     43200,
			EnableResultsReporting:    true,
			EnableRejectedReporting:   true,
			MaxAcceptPerRun:           5,
			JobTypeFilter:             "Telephone interpreting",
			ExcludeTypes:              []string{"Face-to-Face", "Face to Face", "In-Person", "Onsite"},
			RequiredFields:            []string{"ref", "submitted", "appt_date", "appt_time", "duration", "language", "status"},
		},
		Worker: WorkerConfig{
			LockFile:             "./data/worker.lock",
			StopGracePeriod:      "10s",
			LoginAttempts:        3,
			LoginBackoff:         "3s",
			MaxConsecutiveErrors: 10,
			ErrorBackoffCap:      "30s",
			ErrorCooldown:        "30s",
			ConfigRefresh:        "30s",
			CallbackTimeout:      "5s",
			ProgressEventsPerSec: 5,
		},
		WebSocket: WebSocketConfig{
			BroadcastInterval: "5s",
			ProgressThrottle:  "200ms",
		},
		Scheduler: SchedulerConfig{
			AnalyticsSchedule:    "0 */4 * * *",
			AnalyticsWindowHours: 4,
			CacheCleanupSchedule: "@hourly",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: []string{"stdout", "file"},
			File:   "atozbot.log",
		},
	}
}

// LoadFromFiles loads configuration from multiple files with priority: default -> file1 -> file2 -> ... -> env
// CLI flags are applied separately via ApplyFlagOverrides.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		// Later files override earlier ones
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("ATOZBOT_ENV"); env != "" {
		config.Environment = env
	}

	// Server configuration
	if port := os.Getenv("ATOZBOT_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("ATOZBOT_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	// Storage configuration
	if path := os.Getenv("ATOZBOT_SQLITE_PATH"); path != "" {
		config.Storage.SQLite.Path = path
	}
	if path := os.Getenv("ATOZBOT_BADGER_PATH"); path != "" {
		config.Storage.Badger.Path = path
	}

	// Cache configuration
	if cacheType := os.Getenv("ATOZBOT_CACHE_TYPE"); cacheType != "" {
		config.Cache.Type = cacheType
	}
	if addr := os.Getenv("ATOZBOT_REDIS_ADDR"); addr != "" {
		config.Cache.Redis.Addr = addr
	}
	if password := os.Getenv("ATOZBOT_REDIS_PASSWORD"); password != "" {
		config.Cache.Redis.Password = password
	}
	if db := os.Getenv("ATOZBOT_REDIS_DB"); db != "" {
		if d, err := strconv.Atoi(db); err == nil {
			config.Cache.Redis.DB = d
		}
	}

	// Portal configuration. The short ATOZ_* names are accepted for existing deployments.
	if baseURL := firstEnv("ATOZBOT_PORTAL_BASE_URL", "ATOZ_BASE_URL"); baseURL != "" {
		config.Portal.BaseURL = strings.TrimRight(baseURL, "/")
	}
	if username := firstEnv("ATOZBOT_PORTAL_USERNAME", "ATOZ_USERNAME"); username != "" {
		config.Portal.Username = username
	}
	if password := firstEnv("ATOZBOT_PORTAL_PASSWORD", "ATOZ_PASSWORD"); password != "" {
		config.Portal.Password = password
	}
	if headless := firstEnv("ATOZBOT_PORTAL_HEADLESS", "HEADLESS"); headless != "" {
		if b, err := strconv.ParseBool(headless); err == nil {
			config.Portal.Headless = b
		}
	}

	// Bot fallback values
	if interval := firstEnv("ATOZBOT_BOT_CHECK_INTERVAL", "REFRESH_INTERVAL_SEC"); interval != "" {
		if f, err := strconv.ParseFloat(interval, 64); err == nil && f > 0 {
			config.Bot.CheckIntervalSeconds = f
		}
	}
	if interval := firstEnv("ATOZBOT_BOT_QUICK_CHECK_INTERVAL", "QUICK_CHECK_INTERVAL_SEC"); interval != "" {
		if f, err := strconv.ParseFloat(interval, 64); err == nil && f > 0 {
			config.Bot.QuickCheckIntervalSeconds = f
		}
	}
	if enabled := firstEnv("ATOZBOT_BOT_ENABLE_QUICK_CHECK", "ENABLE_QUICK_CHECK"); enabled != "" {
		if b, err := strconv.ParseBool(enabled); err == nil {
			config.Bot.EnableQuickCheck = b
		}
	}
	if maxAccept := firstEnv("ATOZBOT_BOT_MAX_ACCEPT", "MAX_ACCEPT_PER_RUN"); maxAccept != "" {
		if m, err := strconv.Atoi(maxAccept); err == nil && m > 0 {
			config.Bot.MaxAcceptPerRun = m
		}
	}
	if filter := firstEnv("ATOZBOT_BOT_JOB_TYPE_FILTER", "JOB_TYPE_FILTER"); filter != "" {
		config.Bot.JobTypeFilter = filter
	}
	if exclude := os.Getenv("ATOZBOT_BOT_EXCLUDE_TYPES"); exclude != "" {
		config.Bot.ExcludeTypes = splitList(exclude)
	}

	// Worker configuration
	if lockFile := os.Getenv("ATOZBOT_WORKER_LOCK_FILE"); lockFile != "" {
		config.Worker.LockFile = lockFile
	}
	if callbackURL := firstEnv("ATOZBOT_WORKER_CALLBACK_URL", "API_BASE_URL"); callbackURL != "" {
		config.Worker.CallbackURL = strings.TrimRight(callbackURL, "/")
	}
	if grace := os.Getenv("ATOZBOT_WORKER_STOP_GRACE"); grace != "" {
		config.Worker.StopGracePeriod = grace
	}

	// Logging configuration
	if level := os.Getenv("ATOZBOT_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("ATOZBOT_LOG_OUTPUT"); output != "" {
		config.Logging.Output = splitList(output)
	}
}

// ApplyFlagOverrides applies command-line flag overrides to config
func ApplyFlagOverrides(config *Config, port int, host string) {
	// Command-line flags have highest priority
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// Validate checks values that would otherwise fail late at runtime
func (c *Config) Validate() error {
	durations := map[string]string{
		"cache.metrics_ttl":            c.Cache.MetricsTTL,
		"cache.task_ttl":               c.Cache.TaskTTL,
		"portal.nav_timeout":           c.Portal.NavTimeout,
		"portal.login_timeout":         c.Portal.LoginTimeout,
		"portal.element_timeout":       c.Portal.ElementTimeout,
		"worker.stop_grace_period":     c.Worker.StopGracePeriod,
		"worker.login_backoff":         c.Worker.LoginBackoff,
		"worker.error_backoff_cap":     c.Worker.ErrorBackoffCap,
		"worker.error_cooldown":        c.Worker.ErrorCooldown,
		"worker.config_refresh":        c.Worker.ConfigRefresh,
		"worker.callback_timeout":      c.Worker.CallbackTimeout,
		"websocket.broadcast_interval": c.WebSocket.BroadcastInterval,
		"websocket.progress_throttle":  c.WebSocket.ProgressThrottle,
	}
	for key, value := range durations {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid duration for %s: %q: %w", key, value, err)
		}
	}

	switch strings.ToLower(c.Cache.Type) {
	case "", "none", "memory", "badger", "redis":
	default:
		return fmt.Errorf("invalid cache.type %q (expected redis, badger, memory or none)", c.Cache.Type)
	}

	for _, schedule := range []string{c.Scheduler.AnalyticsSchedule, c.Scheduler.CacheCleanupSchedule} {
		if err := ValidateSchedule(schedule); err != nil {
			return err
		}
	}

	return nil
}

// ValidateSchedule validates a cron schedule expression. Empty disables the job.
func ValidateSchedule(schedule string) error {
	if schedule == "" {
		return nil
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", schedule, err)
	}
	return nil
}

// CallbackBaseURL returns the URL the worker uses to reach the controller
func (c *Config) CallbackBaseURL() string {
	if c.Worker.CallbackURL != "" {
		return c.Worker.CallbackURL
	}
	host := c.Server.Host
	if host == "" || host == "0.0.0.0" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("http://%s:%d", host, c.Server.Port)
}

// IsProduction returns true when running in production mode
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

// Duration parses a duration string, returning fallback when empty or invalid
func Duration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

func firstEnv(names ...string) string {
	for _, name := range names {
		if v := os.Getenv(name); v != "" {
			return v
		}
	}
	return ""
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
