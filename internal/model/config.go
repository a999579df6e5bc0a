package model

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Store driver names.
const (
	StoreDriverSQLite = "sqlite"
	StoreDriverRedis  = "redis"
)

// StoreConfig selects and configures the task store backend.
type StoreConfig struct {
	// Driver is "sqlite" or "redis".
	Driver string `mapstructure:"driver" yaml:"driver"`

	// Path is the SQLite database file.
	Path string `mapstructure:"path" yaml:"path"`

	// RedisURL is a redis:// or rediss:// connection URL.
	RedisURL string `mapstructure:"redis_url" yaml:"redis_url"`

	// KeyPrefix namespaces all Redis keys.
	KeyPrefix string `mapstructure:"key_prefix" yaml:"key_prefix"`
}

// RecipientConfig is a fallback contact for tasks without an owner.
type RecipientConfig struct {
	Name  string `mapstructure:"name" yaml:"name"`
	Email string `mapstructure:"email" yaml:"email"`
	Phone string `mapstructure:"phone" yaml:"phone"`
}

// SchedulerConfig controls the reminder scan-and-dispatch loop.
type SchedulerConfig struct {
	// IntervalSec is the time between cycle starts.
	IntervalSec int `mapstructure:"interval_sec" yaml:"interval_sec"`

	// BatchSize caps the number of due tasks selected per cycle.
	BatchSize int `mapstructure:"batch_size" yaml:"batch_size"`

	// ClaimTTLSec is how long a dispatch claim is held before another
	// cycle may reclaim the task.
	ClaimTTLSec int `mapstructure:"claim_ttl_sec" yaml:"claim_ttl_sec"`

	// Concurrency is the number of tasks dispatched in parallel.
	Concurrency int `mapstructure:"concurrency" yaml:"concurrency"`

	// DispatchTimeoutSec bounds each channel send.
	DispatchTimeoutSec int `mapstructure:"dispatch_timeout_sec" yaml:"dispatch_timeout_sec"`

	DefaultRecipient RecipientConfig `mapstructure:"default_recipient" yaml:"default_recipient"`
}

// Interval returns IntervalSec as a duration.
func (c SchedulerConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSec) * time.Second
}

// ClaimTTL returns ClaimTTLSec as a duration.
func (c SchedulerConfig) ClaimTTL() time.Duration {
	return time.Duration(c.ClaimTTLSec) * time.Second
}

// DispatchTimeout returns DispatchTimeoutSec as a duration.
func (c SchedulerConfig) DispatchTimeout() time.Duration {
	return time.Duration(c.DispatchTimeoutSec) * time.Second
}

// ReportConfig controls the weekly productivity report.
type ReportConfig struct {
	// IntervalHours is the time between reports. Zero disables the job.
	IntervalHours int `mapstructure:"interval_hours" yaml:"interval_hours"`

	// WindowDays is how far back each report looks.
	WindowDays int `mapstructure:"window_days" yaml:"window_days"`
}

// WhatsAppConfig configures the Twilio WhatsApp channel.
type WhatsAppConfig struct {
	Enabled    bool   `mapstructure:"enabled" yaml:"enabled"`
	BaseURL    string `mapstructure:"base_url" yaml:"base_url"`
	AccountSID string `mapstructure:"account_sid" yaml:"account_sid"`

	// AuthToken is read from the keyring when empty.
	AuthToken string `mapstructure:"auth_token" yaml:"auth_token"`

	// From is the sender number, e.g. "whatsapp:+14155238886".
	From string `mapstructure:"from" yaml:"from"`
}

// EmailConfig configures the SMTP email channel.
type EmailConfig struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	Host     string `mapstructure:"host" yaml:"host"`
	Port     int    `mapstructure:"port" yaml:"port"`
	Username string `mapstructure:"username" yaml:"username"`

	// Password is read from the keyring when empty.
	Password string `mapstructure:"password" yaml:"password"`

	From string `mapstructure:"from" yaml:"from"`

	// ImplicitTLS dials TLS directly instead of upgrading with STARTTLS.
	ImplicitTLS bool `mapstructure:"implicit_tls" yaml:"implicit_tls"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	Store     StoreConfig     `mapstructure:"store" yaml:"store"`
	Scheduler SchedulerConfig `mapstructure:"scheduler" yaml:"scheduler"`
	Report    ReportConfig    `mapstructure:"report" yaml:"report"`
	WhatsApp  WhatsAppConfig  `mapstructure:"whatsapp" yaml:"whatsapp"`
	Email     EmailConfig     `mapstructure:"email" yaml:"email"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
}

// EnvPrefix is the prefix for environment variable overrides, e.g.
// TASKMASTER_STORE_DRIVER.
const EnvPrefix = "TASKMASTER"

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/taskmaster/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "taskmaster", "config.yaml")
}

// defaultDBPath returns ~/.local/share/taskmaster/taskmaster.db.
func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "taskmaster.db"
	}
	return filepath.Join(home, ".local", "share", "taskmaster", "taskmaster.db")
}

// defaults lists every key with its default value. Registering every key
// also lets AutomaticEnv resolve it during Unmarshal.
func defaults() map[string]any {
	return map[string]any{
		"store.driver":                      StoreDriverSQLite,
		"store.path":                        defaultDBPath(),
		"store.redis_url":                   "redis://localhost:6379/0",
		"store.key_prefix":                  "taskmaster",
		"scheduler.interval_sec":            60,
		"scheduler.batch_size":              500,
		"scheduler.claim_ttl_sec":           300,
		"scheduler.concurrency":             4,
		"scheduler.dispatch_timeout_sec":    30,
		"scheduler.default_recipient.name":  "",
		"scheduler.default_recipient.email": "",
		"scheduler.default_recipient.phone": "",
		"report.interval_hours":             24 * 7,
		"report.window_days":                7,
		"whatsapp.enabled":                  false,
		"whatsapp.base_url":                 "https://api.twilio.com",
		"whatsapp.account_sid":              "",
		"whatsapp.auth_token":               "",
		"whatsapp.from":                     "",
		"email.enabled":                     false,
		"email.host":                        "smtp.gmail.com",
		"email.port":                        587,
		"email.username":                    "",
		"email.password":                    "",
		"email.from":                        "",
		"email.implicit_tls":                false,
		"log.level":                         "info",
		"log.format":                        "text",
	}
}

// flagKeys maps command-line flag names to configuration keys.
var flagKeys = map[string]string{
	"log-level":    "log.level",
	"store-driver": "store.driver",
	"db":           "store.path",
	"redis-url":    "store.redis_url",
	"interval":     "scheduler.interval_sec",
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// A missing file is not an error; defaults, TASKMASTER_* environment
// variables and any flags from fs that appear in flagKeys still apply.
// fs may be nil.
func LoadConfig(path string, fs *pflag.FlagSet) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	for key, val := range defaults() {
		v.SetDefault(key, val)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if fs != nil {
		for name, key := range flagKeys {
			if f := fs.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("binding flag %s: %w", name, err)
				}
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var pathErr *os.PathError
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &pathErr) && !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := &AppConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config %s: %w", path, err)
	}

	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *AppConfig) Validate() error {
	switch c.Store.Driver {
	case StoreDriverSQLite:
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for the sqlite driver")
		}
	case StoreDriverRedis:
		if c.Store.RedisURL == "" {
			return fmt.Errorf("store.redis_url is required for the redis driver")
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}

	if c.Scheduler.IntervalSec <= 0 {
		return fmt.Errorf("scheduler.interval_sec must be positive")
	}
	if c.Scheduler.BatchSize <= 0 {
		return fmt.Errorf("scheduler.batch_size must be positive")
	}
	if c.Scheduler.ClaimTTLSec <= 0 {
		return fmt.Errorf("scheduler.claim_ttl_sec must be positive")
	}
	// Channels are tried one after another while the claim is held.
	if n := max(c.EnabledChannels(), 1); n*c.Scheduler.DispatchTimeoutSec >= c.Scheduler.ClaimTTLSec {
		return fmt.Errorf("scheduler.dispatch_timeout_sec times %d enabled channels must be shorter than scheduler.claim_ttl_sec", n)
	}
	if c.Scheduler.Concurrency <= 0 {
		c.Scheduler.Concurrency = 1
	}
	if c.Report.IntervalHours < 0 {
		return fmt.Errorf("report.interval_hours must not be negative")
	}
	if c.Report.WindowDays <= 0 {
		c.Report.WindowDays = 7
	}

	if c.WhatsApp.Enabled && (c.WhatsApp.AccountSID == "" || c.WhatsApp.From == "") {
		return fmt.Errorf("whatsapp.account_sid and whatsapp.from are required when whatsapp is enabled")
	}
	if c.Email.Enabled && (c.Email.Host == "" || c.Email.From == "") {
		return fmt.Errorf("email.host and email.from are required when email is enabled")
	}

	return nil
}

// EnabledChannels returns how many delivery channels are enabled.
func (c *AppConfig) EnabledChannels() int {
	n := 0
	if c.WhatsApp.Enabled {
		n++
	}
	if c.Email.Enabled {
		n++
	}
	return n
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("store", cfg.Store)
	v.Set("scheduler", cfg.Scheduler)
	v.Set("report", cfg.Report)
	v.Set("whatsapp", cfg.WhatsApp)
	v.Set("email", cfg.Email)
	v.Set("log", cfg.Log)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
