package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	apperrors "kimaid/internal/platform/errors"
)

const (
	DefaultConfigName = "config.yaml"
	envFileName       = ".env"
	envPrefix         = "KIMAID_"
)

type Config struct {
	Home       string         `yaml:"-"`
	ConfigFile string         `yaml:"-"`
	Kimai      KimaiConfig    `yaml:"kimai"`
	Schedule   ScheduleConfig `yaml:"schedule"`
	Retry      RetryConfig    `yaml:"retry"`
	Log        LogConfig      `yaml:"log"`
	Daemon     DaemonConfig   `yaml:"daemon"`
}

type KimaiConfig struct {
	BaseURL       string        `yaml:"base_url"`
	LoginPath     string        `yaml:"login_path"`
	ProcessorPath string        `yaml:"processor_path"`
	ProjectID     string        `yaml:"project_id"`
	ActivityID    string        `yaml:"activity_id"`
	Timeout       time.Duration `yaml:"timeout"`
}

// ScheduleConfig holds the defaults used until the user runs configure.
type ScheduleConfig struct {
	TriggerTime   string `yaml:"trigger_time"`
	EntryStart    string `yaml:"entry_start"`
	EntryDuration string `yaml:"entry_duration"`
}

type RetryConfig struct {
	Policy     string        `yaml:"policy"`
	Interval   time.Duration `yaml:"interval"`
	MaxBackoff time.Duration `yaml:"max_backoff"`
	MaxTries   int           `yaml:"max_tries"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type DaemonConfig struct {
	MetricsAddr   string        `yaml:"metrics_addr"`
	ResumeOnStart bool          `yaml:"resume_on_start"`
	ConnTimeout   time.Duration `yaml:"conn_timeout"`
	DialTimeout   time.Duration `yaml:"dial_timeout"`
}

const (
	RetryConstant    = "constant"
	RetryExponential = "exponential"
)

func Default(home string) Config {
	return Config{
		Home: home,
		Kimai: KimaiConfig{
			BaseURL:       "http://localhost/kimai",
			LoginPath:     "/index.php?a=checklogin",
			ProcessorPath: "/extensions/ki_timesheets/processor.php",
			ProjectID:     "18",
			ActivityID:    "52",
			Timeout:       30 * time.Second,
		},
		Schedule: ScheduleConfig{
			TriggerTime:   "10:00",
			EntryStart:    "00:00",
			EntryDuration: "07:24",
		},
		Retry: RetryConfig{
			Policy:     RetryConstant,
			Interval:   10 * time.Second,
			MaxBackoff: 5 * time.Minute,
			MaxTries:   5,
		},
		Log: LogConfig{Level: "info", Format: "json"},
		Daemon: DaemonConfig{
			ResumeOnStart: true,
			ConnTimeout:   2 * time.Minute,
			DialTimeout:   time.Minute,
		},
	}
}

// DefaultHome is $KIMAID_HOME or ~/.kimaid.
func DefaultHome() (string, error) {
	if home := strings.TrimSpace(os.Getenv(envPrefix + "HOME")); home != "" {
		return home, nil
	}
	userHome, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(userHome, ".kimaid"), nil
}

// Load layers defaults, the YAML file, <home>/.env and KIMAID_* variables.
// A missing config file is only an error when file was given explicitly.
func Load(home, file string) (Config, error) {
	if strings.TrimSpace(home) == "" {
		return Config{}, fmt.Errorf("%w: home directory is required", apperrors.ErrInvalidInput)
	}
	cfg := Default(home)

	explicit := file != ""
	if !explicit {
		file = filepath.Join(home, DefaultConfigName)
	}
	raw, err := os.ReadFile(file)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("decode config %s: %w", file, err)
		}
		cfg.ConfigFile = file
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return Config{}, fmt.Errorf("read config %s: %w", file, err)
	}

	// .env never overrides variables already set in the process environment.
	if err := godotenv.Load(filepath.Join(home, envFileName)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load %s: %w", envFileName, err)
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Kimai.BaseURL = getEnv("KIMAI_URL", c.Kimai.BaseURL)
	c.Kimai.ProjectID = getEnv("KIMAI_PROJECT_ID", c.Kimai.ProjectID)
	c.Kimai.ActivityID = getEnv("KIMAI_ACTIVITY_ID", c.Kimai.ActivityID)
	c.Kimai.Timeout = getEnvDuration("KIMAI_TIMEOUT", c.Kimai.Timeout)
	c.Retry.Policy = getEnv("RETRY_POLICY", c.Retry.Policy)
	c.Retry.Interval = getEnvDuration("RETRY_INTERVAL", c.Retry.Interval)
	c.Retry.MaxTries = getEnvInt("RETRY_MAX_TRIES", c.Retry.MaxTries)
	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("LOG_FORMAT", c.Log.Format)
	c.Daemon.MetricsAddr = getEnv("METRICS_ADDR", c.Daemon.MetricsAddr)
	c.Daemon.ResumeOnStart = getEnvBool("RESUME_ON_START", c.Daemon.ResumeOnStart)
}

func (c Config) Validate() error {
	if c.Home == "" {
		return fmt.Errorf("%w: home cannot be empty", apperrors.ErrInvalidInput)
	}
	u, err := url.Parse(c.Kimai.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: kimai.base_url %q is not an absolute URL", apperrors.ErrInvalidInput, c.Kimai.BaseURL)
	}
	if c.Kimai.Timeout <= 0 {
		return fmt.Errorf("%w: kimai.timeout must be > 0", apperrors.ErrInvalidInput)
	}
	switch c.Retry.Policy {
	case RetryConstant, RetryExponential:
	default:
		return fmt.Errorf("%w: retry.policy must be %q or %q", apperrors.ErrInvalidInput, RetryConstant, RetryExponential)
	}
	if c.Retry.Interval <= 0 {
		return fmt.Errorf("%w: retry.interval must be > 0", apperrors.ErrInvalidInput)
	}
	if c.Retry.MaxTries <= 0 {
		return fmt.Errorf("%w: retry.max_tries must be > 0", apperrors.ErrInvalidInput)
	}
	if c.Daemon.ConnTimeout <= 0 || c.Daemon.DialTimeout <= 0 {
		return fmt.Errorf("%w: daemon timeouts must be > 0", apperrors.ErrInvalidInput)
	}
	return nil
}

func (c Config) PrefsPath() string   { return filepath.Join(c.Home, "prefs.json") }
func (c Config) HistoryPath() string { return filepath.Join(c.Home, "history.db") }
func (c Config) DaemonDir() string   { return filepath.Join(c.Home, "daemon") }

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(envPrefix + key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(envPrefix + key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(envPrefix + key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(envPrefix + key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
