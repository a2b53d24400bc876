package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"ridesched/internal/retry"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Backup     BackupConfig     `yaml:"backup"`
	Logging    LoggingConfig    `yaml:"logging"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	API        APIConfig        `yaml:"api"`
	Retry      RetryConfig      `yaml:"retry"`
	Triggers   TriggersConfig   `yaml:"triggers"`
	Worker     WorkerConfig     `yaml:"worker"`
	Google     GoogleConfig     `yaml:"google"`
	Telegram   TelegramConfig   `yaml:"telegram"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Schedule      string `yaml:"schedule"`
	RetentionDays int    `yaml:"retention_days"`
	StoragePath   string `yaml:"storage_path"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	HTTP      APIHTTPConfig      `yaml:"http"`
	GRPC      APIGRPCConfig      `yaml:"grpc"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIHTTPConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type APIGRPCConfig struct {
	Enabled    bool `yaml:"enabled"`
	Port       int  `yaml:"port"`
	Reflection bool `yaml:"reflection"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

type APIClientKey struct {
	Key         string   `yaml:"key"`
	Name        string   `yaml:"name"`
	Email       string   `yaml:"email"`
	Permissions []string `yaml:"permissions"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// RetryConfig overrides the backoff tiers. Zero values keep the defaults,
// which must stay in place for queues persisted by earlier deployments.
type RetryConfig struct {
	FastInterval time.Duration `yaml:"fast_interval"`
	SlowInterval time.Duration `yaml:"slow_interval"`
	FastWindow   time.Duration `yaml:"fast_window"`
	MaxAge       time.Duration `yaml:"max_age"`
}

// Policy converts the section into a retry policy.
func (r RetryConfig) Policy() retry.Policy {
	return retry.Policy{
		FastInterval: r.FastInterval,
		SlowInterval: r.SlowInterval,
		FastWindow:   r.FastWindow,
		MaxAge:       r.MaxAge,
	}
}

type TriggersConfig struct {
	OwnerEmail             string `yaml:"owner_email"`
	DailyRetryCheck        string `yaml:"daily_retry_check"`
	DailyAnnouncementCheck string `yaml:"daily_announcement_check"`
	Timezone               string `yaml:"timezone"`
}

// Location resolves the timezone backstop schedules run in. An empty or
// unknown name yields UTC.
func (t TriggersConfig) Location() *time.Location {
	if t.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(t.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

type WorkerConfig struct {
	LockKey         string        `yaml:"lock_key"`
	LockTTL         time.Duration `yaml:"lock_ttl"`
	ExecuteTimeout  time.Duration `yaml:"execute_timeout"`
	DeadLetterKey   string        `yaml:"dead_letter_key"`
	FailoverRecheck time.Duration `yaml:"failover_recheck"`
	LockWait        time.Duration `yaml:"lock_wait"`
	BatchSize       int           `yaml:"batch_size"`
}

type GoogleConfig struct {
	CredentialsFile   string  `yaml:"credentials_file"`
	CalendarID        string  `yaml:"calendar_id"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

type TelegramConfig struct {
	BotToken     string  `yaml:"bot_token"`
	AlertChatIDs []int64 `yaml:"alert_chat_ids"`
}

func Load(configPath string) (*Config, error) {
	// .env is optional
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}

	if strings.TrimSpace(c.Triggers.OwnerEmail) == "" {
		return errors.New("triggers.owner_email is required")
	}

	if c.Triggers.Timezone != "" {
		if _, err := time.LoadLocation(c.Triggers.Timezone); err != nil {
			return fmt.Errorf("triggers.timezone: %w", err)
		}
	}

	if err := ValidateWorker(c.Worker); err != nil {
		return err
	}
	return ValidateRetry(c.Retry)
}

// ValidateWorker requires the lock to outlive a single execution, since the
// processor renews it between items.
func ValidateWorker(w WorkerConfig) error {
	if w.LockTTL > 0 && w.ExecuteTimeout > 0 && w.LockTTL <= w.ExecuteTimeout {
		return fmt.Errorf("worker.lock_ttl (%s) must be longer than worker.execute_timeout (%s)", w.LockTTL, w.ExecuteTimeout)
	}
	return nil
}

// ValidateRetry rejects negative durations and tier boundaries that would
// make the slow tier unreachable.
func ValidateRetry(r RetryConfig) error {
	for name, d := range map[string]time.Duration{
		"fast_interval": r.FastInterval,
		"slow_interval": r.SlowInterval,
		"fast_window":   r.FastWindow,
		"max_age":       r.MaxAge,
	} {
		if d < 0 {
			return fmt.Errorf("retry.%s must not be negative", name)
		}
	}
	if r.FastWindow > 0 && r.MaxAge > 0 && r.FastWindow >= r.MaxAge {
		return fmt.Errorf("retry.fast_window (%s) must be shorter than retry.max_age (%s)", r.FastWindow, r.MaxAge)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "ridesched"
	}
	if c.API.GRPC.Port == 0 {
		c.API.GRPC.Port = 8081
	}
	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if !c.API.HTTP.Enabled && c.API.Enabled {
		c.API.HTTP.Enabled = true
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}

	defaults := retry.DefaultPolicy()
	if c.Retry.FastInterval == 0 {
		c.Retry.FastInterval = defaults.FastInterval
	}
	if c.Retry.SlowInterval == 0 {
		c.Retry.SlowInterval = defaults.SlowInterval
	}
	if c.Retry.FastWindow == 0 {
		c.Retry.FastWindow = defaults.FastWindow
	}
	if c.Retry.MaxAge == 0 {
		c.Retry.MaxAge = defaults.MaxAge
	}

	if c.Triggers.DailyRetryCheck == "" {
		c.Triggers.DailyRetryCheck = "0 3 * * *"
	}
	if c.Triggers.DailyAnnouncementCheck == "" {
		c.Triggers.DailyAnnouncementCheck = "0 2 * * *"
	}

	if c.Backup.Schedule == "" {
		c.Backup.Schedule = "30 4 * * *"
	}
	if c.Backup.StoragePath == "" {
		c.Backup.StoragePath = "backups"
	}

	if c.Worker.LockKey == "" {
		c.Worker.LockKey = "ridesched:queue:lock"
	}
	if c.Worker.LockTTL == 0 {
		c.Worker.LockTTL = 5 * time.Minute
	}
	if c.Worker.ExecuteTimeout == 0 {
		c.Worker.ExecuteTimeout = 30 * time.Second
	}
	if c.Worker.DeadLetterKey == "" {
		c.Worker.DeadLetterKey = "ridesched:deadletter"
	}
	if c.Worker.FailoverRecheck == 0 {
		c.Worker.FailoverRecheck = time.Minute
	}
	if c.Worker.LockWait == 0 {
		c.Worker.LockWait = 10 * time.Second
	}
	if c.Worker.BatchSize == 0 {
		c.Worker.BatchSize = 25
	}

	if c.Google.RequestsPerSecond == 0 {
		c.Google.RequestsPerSecond = 5
	}
	if c.Google.CalendarID == "" {
		c.Google.CalendarID = "primary"
	}
}
