package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const envPrefix = "IGCOLLECTOR_"

// Config holds all configuration options for the collector
type Config struct {
	Platform  PlatformConfig  `yaml:"platform" json:"platform"`
	Pool      PoolConfig      `yaml:"pool" json:"pool"`
	Fetch     FetchConfig     `yaml:"fetch" json:"fetch"`
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`
	Database  DatabaseConfig  `yaml:"database" json:"database"`
	Server    ServerConfig    `yaml:"server" json:"server"`
	Vault     VaultConfig     `yaml:"vault" json:"vault"`
	Logging   LoggingConfig   `yaml:"logging" json:"logging"`
}

// PlatformConfig describes how clients talk to Instagram
type PlatformConfig struct {
	BaseURL   string        `yaml:"base_url" json:"base_url"`
	UserAgent string        `yaml:"user_agent" json:"user_agent"`
	Timeout   time.Duration `yaml:"timeout" json:"timeout"`
	Proxy     string        `yaml:"proxy" json:"proxy"`
	Locale    string        `yaml:"locale" json:"locale"`
	Country   string        `yaml:"country" json:"country"`
}

// PoolConfig holds session pool and login retry settings
type PoolConfig struct {
	// MaxAttempts caps the retry budget; 0 means one attempt per eligible session
	MaxAttempts       int           `yaml:"max_attempts" json:"max_attempts"`
	MaxDuration       time.Duration `yaml:"max_duration" json:"max_duration"`
	RetryDelay        time.Duration `yaml:"retry_delay" json:"retry_delay"`
	MaxRetryDelay     time.Duration `yaml:"max_retry_delay" json:"max_retry_delay"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier" json:"backoff_multiplier"`
	TempBlockWindow   time.Duration `yaml:"temp_block_window" json:"temp_block_window"`
	SweepSchedule     string        `yaml:"sweep_schedule" json:"sweep_schedule"`
}

// FetchConfig holds pagination and worker settings
type FetchConfig struct {
	PageSize        int           `yaml:"page_size" json:"page_size"`
	MaxPages        int           `yaml:"max_pages" json:"max_pages"`
	MaxDuration     time.Duration `yaml:"max_duration" json:"max_duration"`
	Workers         int           `yaml:"workers" json:"workers"`
	StopOnKnownPage bool          `yaml:"stop_on_known_page" json:"stop_on_known_page"`
	AmountPerTag    int           `yaml:"amount_per_tag" json:"amount_per_tag"`
}

// RateLimitConfig paces requests made by a single client
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute" json:"requests_per_minute"`
	BurstSize         int `yaml:"burst_size" json:"burst_size"`
}

// DatabaseConfig locates the SQLite database
type DatabaseConfig struct {
	Path        string        `yaml:"path" json:"path"`
	BusyTimeout time.Duration `yaml:"busy_timeout" json:"busy_timeout"`
}

// ServerConfig holds HTTP API settings
type ServerConfig struct {
	Addr            string        `yaml:"addr" json:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" json:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// VaultConfig controls how session secrets are sealed at rest
type VaultConfig struct {
	// Backend is one of env, keyring or file
	Backend string `yaml:"backend" json:"backend"`
	KeyFile string `yaml:"key_file" json:"key_file"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	File  string `yaml:"file" json:"file"`
}

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	dataDir := filepath.Join(home, ".local", "share", "igcollector")

	return &Config{
		Platform: PlatformConfig{
			BaseURL:   "https://i.instagram.com",
			UserAgent: "Instagram 269.0.0.18.75 Android (26/8.0.0; 480dpi; 1080x1920; OnePlus; 6T Dev; devitron; qcom; en_US; 314665256)",
			Timeout:   30 * time.Second,
			Locale:    "en_US",
			Country:   "US",
		},
		Pool: PoolConfig{
			MaxAttempts:       0,
			RetryDelay:        2 * time.Second,
			MaxRetryDelay:     30 * time.Second,
			BackoffMultiplier: 2.0,
			TempBlockWindow:   12 * time.Hour,
			SweepSchedule:     "@every 5m",
		},
		Fetch: FetchConfig{
			PageSize:        12,
			MaxPages:        0,
			MaxDuration:     10 * time.Minute,
			Workers:         2,
			StopOnKnownPage: true,
			AmountPerTag:    27,
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: 30,
			BurstSize:         3,
		},
		Database: DatabaseConfig{
			Path:        filepath.Join(dataDir, "igcollector.db"),
			BusyTimeout: 5 * time.Second,
		},
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    5 * time.Minute,
			ShutdownTimeout: 30 * time.Second,
		},
		Vault: VaultConfig{
			Backend: "file",
			KeyFile: filepath.Join(dataDir, "vault.key"),
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadFromEnv loads configuration from IGCOLLECTOR_* environment variables
func (c *Config) LoadFromEnv() error {
	var errs []error

	setString := func(name string, dst *string) {
		if v := os.Getenv(envPrefix + name); v != "" {
			*dst = v
		}
	}
	setInt := func(name string, dst *int) {
		if v := os.Getenv(envPrefix + name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, name, err))
				return
			}
			*dst = n
		}
	}
	setDuration := func(name string, dst *time.Duration) {
		if v := os.Getenv(envPrefix + name); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, name, err))
				return
			}
			*dst = d
		}
	}

	setString("BASE_URL", &c.Platform.BaseURL)
	setString("USER_AGENT", &c.Platform.UserAgent)
	setString("PROXY", &c.Platform.Proxy)
	setDuration("PLATFORM_TIMEOUT", &c.Platform.Timeout)

	setInt("MAX_ATTEMPTS", &c.Pool.MaxAttempts)
	setDuration("RETRY_DELAY", &c.Pool.RetryDelay)
	setDuration("TEMP_BLOCK_WINDOW", &c.Pool.TempBlockWindow)
	setString("SWEEP_SCHEDULE", &c.Pool.SweepSchedule)

	setInt("MAX_PAGES", &c.Fetch.MaxPages)
	setInt("WORKERS", &c.Fetch.Workers)
	setDuration("FETCH_TIMEOUT", &c.Fetch.MaxDuration)
	if v := os.Getenv(envPrefix + "STOP_ON_KNOWN_PAGE"); v != "" {
		c.Fetch.StopOnKnownPage = strings.EqualFold(v, "true")
	}

	setInt("REQUESTS_PER_MINUTE", &c.RateLimit.RequestsPerMinute)

	setString("DB_PATH", &c.Database.Path)
	setString("ADDR", &c.Server.Addr)
	setString("VAULT_BACKEND", &c.Vault.Backend)
	setString("VAULT_KEY_FILE", &c.Vault.KeyFile)
	setString("LOG_LEVEL", &c.Logging.Level)
	setString("LOG_FILE", &c.Logging.File)

	return errors.Join(errs...)
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(path string) error {
	if path == "" {
		path = c.findConfigFile()
		if path == "" {
			return nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// findConfigFile searches for config file in standard locations
func (c *Config) findConfigFile() string {
	home := os.Getenv("HOME")
	locations := []string{
		".igcollector.yaml",
		".igcollector.yml",
		filepath.Join(home, ".config", "igcollector", "config.yaml"),
		filepath.Join(home, ".config", "igcollector", "config.yml"),
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	return ""
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if c.Platform.BaseURL == "" {
		errs = append(errs, errors.New("platform base URL is required"))
	}
	if c.Platform.Timeout <= 0 {
		errs = append(errs, errors.New("platform timeout must be positive"))
	}

	if c.Pool.MaxAttempts < 0 {
		errs = append(errs, errors.New("max attempts cannot be negative"))
	}
	if c.Pool.RetryDelay < 0 {
		errs = append(errs, errors.New("retry delay cannot be negative"))
	}
	if c.Pool.TempBlockWindow <= 0 {
		errs = append(errs, errors.New("temp block window must be positive"))
	}

	if c.Fetch.Workers <= 0 {
		errs = append(errs, errors.New("fetch workers must be positive"))
	}
	if c.Fetch.Workers > 10 {
		errs = append(errs, errors.New("fetch workers should not exceed 10"))
	}
	if c.Fetch.MaxPages < 0 {
		errs = append(errs, errors.New("max pages cannot be negative"))
	}

	if c.RateLimit.RequestsPerMinute <= 0 {
		errs = append(errs, errors.New("requests per minute must be positive"))
	}
	if c.RateLimit.BurstSize <= 0 {
		errs = append(errs, errors.New("burst size must be positive"))
	}

	if c.Database.Path == "" {
		errs = append(errs, errors.New("database path is required"))
	}

	switch strings.ToLower(c.Vault.Backend) {
	case "env", "keyring", "file":
	default:
		errs = append(errs, fmt.Errorf("invalid vault backend %q", c.Vault.Backend))
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, errors.New("invalid log level"))
	}

	return errors.Join(errs...)
}

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// MergeCommandLineFlags merges command line flags into the configuration
func (c *Config) MergeCommandLineFlags(flags map[string]interface{}) {
	if v, ok := flags["db"].(string); ok && v != "" {
		c.Database.Path = v
	}
	if v, ok := flags["addr"].(string); ok && v != "" {
		c.Server.Addr = v
	}
	if v, ok := flags["workers"].(int); ok && v > 0 {
		c.Fetch.Workers = v
	}
	if v, ok := flags["max-pages"].(int); ok && v > 0 {
		c.Fetch.MaxPages = v
	}
	if v, ok := flags["proxy"].(string); ok && v != "" {
		c.Platform.Proxy = v
	}
	if v, ok := flags["log-level"].(string); ok && v != "" {
		c.Logging.Level = v
	}
}

// Load loads configuration from all sources with proper precedence
// Precedence order: Command line flags > Environment variables > .env file > Config file > Defaults
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(os.Getenv("HOME"), ".igcollector.env"))

	config := DefaultConfig()

	if err := config.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	if err := config.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	config.MergeCommandLineFlags(flags)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}
