package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	sedashttp "github.com/SatelliteApplicationsCatapult/sedas-go/internal/http"
	"github.com/SatelliteApplicationsCatapult/sedas-go/pkg/bulk"
	"github.com/SatelliteApplicationsCatapult/sedas-go/pkg/sedas"
)

// Config defines settings for the SeDAS client and the bulk downloader.
type Config struct {
	Username        string        `yaml:"username"`
	Password        string        `yaml:"password"`
	BaseURL         string        `yaml:"base_url"`
	OutputDir       string        `yaml:"output_dir"`
	Parallel        int           `yaml:"parallel"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	MonitorInterval time.Duration `yaml:"monitor_interval"`
	Retry           RetryConfig   `yaml:"retry"`
}

// RetryConfig defines transport retry behavior.
type RetryConfig struct {
	Attempts   int           `yaml:"attempts"`
	Backoff    time.Duration `yaml:"backoff"`
	MaxBackoff time.Duration `yaml:"max_backoff"`
}

// Default returns a Config with sensible defaults. Credentials have no
// default and must come from a file, the environment, or the caller.
func Default() Config {
	return Config{
		BaseURL:         sedas.DefaultBaseURL,
		OutputDir:       ".",
		Parallel:        2,
		PollInterval:    5 * time.Second,
		MonitorInterval: 5 * time.Second,
		Retry: RetryConfig{
			Attempts:   5,
			Backoff:    time.Second,
			MaxBackoff: 30 * time.Second,
		},
	}
}

// yamlConfig is used for YAML unmarshaling with string durations.
type yamlConfig struct {
	Username        string          `yaml:"username"`
	Password        string          `yaml:"password"`
	BaseURL         string          `yaml:"base_url"`
	OutputDir       string          `yaml:"output_dir"`
	Parallel        int             `yaml:"parallel"`
	PollInterval    string          `yaml:"poll_interval"`
	MonitorInterval string          `yaml:"monitor_interval"`
	Retry           yamlRetryConfig `yaml:"retry"`
}

type yamlRetryConfig struct {
	Attempts   int    `yaml:"attempts"`
	Backoff    string `yaml:"backoff"`
	MaxBackoff string `yaml:"max_backoff"`
}

// LoadFromFile loads configuration from a YAML file. Values present in the
// file are applied on top of Default.
func LoadFromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	var yc yamlConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}

	cfg := Default()

	if yc.Username != "" {
		cfg.Username = yc.Username
	}
	if yc.Password != "" {
		cfg.Password = yc.Password
	}
	if yc.BaseURL != "" {
		cfg.BaseURL = yc.BaseURL
	}
	if yc.OutputDir != "" {
		cfg.OutputDir = yc.OutputDir
	}
	if yc.Parallel != 0 {
		cfg.Parallel = yc.Parallel
	}
	if yc.PollInterval != "" {
		d, err := time.ParseDuration(yc.PollInterval)
		if err != nil {
			return Config{}, fmt.Errorf("parse poll_interval: %w", err)
		}
		cfg.PollInterval = d
	}
	if yc.MonitorInterval != "" {
		d, err := time.ParseDuration(yc.MonitorInterval)
		if err != nil {
			return Config{}, fmt.Errorf("parse monitor_interval: %w", err)
		}
		cfg.MonitorInterval = d
	}
	if yc.Retry.Attempts != 0 {
		cfg.Retry.Attempts = yc.Retry.Attempts
	}
	if yc.Retry.Backoff != "" {
		d, err := time.ParseDuration(yc.Retry.Backoff)
		if err != nil {
			return Config{}, fmt.Errorf("parse retry.backoff: %w", err)
		}
		cfg.Retry.Backoff = d
	}
	if yc.Retry.MaxBackoff != "" {
		d, err := time.ParseDuration(yc.Retry.MaxBackoff)
		if err != nil {
			return Config{}, fmt.Errorf("parse retry.max_backoff: %w", err)
		}
		cfg.Retry.MaxBackoff = d
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the SEDAS_ prefix.
func (c *Config) LoadFromEnv() error {
	if v := os.Getenv("SEDAS_USERNAME"); v != "" {
		c.Username = v
	}
	if v := os.Getenv("SEDAS_PASSWORD"); v != "" {
		c.Password = v
	}
	if v := os.Getenv("SEDAS_BASE_URL"); v != "" {
		c.BaseURL = v
	}
	if v := os.Getenv("SEDAS_OUTPUT_DIR"); v != "" {
		c.OutputDir = v
	}
	if v := os.Getenv("SEDAS_PARALLEL"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse SEDAS_PARALLEL: %w", err)
		}
		c.Parallel = n
	}
	if v := os.Getenv("SEDAS_POLL_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse SEDAS_POLL_INTERVAL: %w", err)
		}
		c.PollInterval = d
	}
	if v := os.Getenv("SEDAS_MONITOR_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse SEDAS_MONITOR_INTERVAL: %w", err)
		}
		c.MonitorInterval = d
	}
	if v := os.Getenv("SEDAS_RETRY_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse SEDAS_RETRY_ATTEMPTS: %w", err)
		}
		c.Retry.Attempts = n
	}
	if v := os.Getenv("SEDAS_RETRY_BACKOFF"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse SEDAS_RETRY_BACKOFF: %w", err)
		}
		c.Retry.Backoff = d
	}
	if v := os.Getenv("SEDAS_RETRY_MAX_BACKOFF"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse SEDAS_RETRY_MAX_BACKOFF: %w", err)
		}
		c.Retry.MaxBackoff = d
	}

	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Username == "" {
		return errors.New("config: username is required")
	}
	if c.Password == "" {
		return errors.New("config: password is required")
	}
	if c.BaseURL == "" {
		return errors.New("config: base_url is required")
	}
	if c.OutputDir == "" {
		return errors.New("config: output_dir is required")
	}
	if c.Parallel <= 0 {
		return errors.New("config: parallel must be positive")
	}
	if c.PollInterval <= 0 {
		return errors.New("config: poll_interval must be positive")
	}
	if c.MonitorInterval < 0 {
		return errors.New("config: monitor_interval must not be negative")
	}
	return nil
}

// Merge merges override values into c, returning a new Config.
// Zero values in override are ignored.
func (c Config) Merge(override Config) Config {
	if override.Username != "" {
		c.Username = override.Username
	}
	if override.Password != "" {
		c.Password = override.Password
	}
	if override.BaseURL != "" {
		c.BaseURL = override.BaseURL
	}
	if override.OutputDir != "" {
		c.OutputDir = override.OutputDir
	}
	if override.Parallel != 0 {
		c.Parallel = override.Parallel
	}
	if override.PollInterval != 0 {
		c.PollInterval = override.PollInterval
	}
	if override.MonitorInterval != 0 {
		c.MonitorInterval = override.MonitorInterval
	}
	if override.Retry.Attempts != 0 {
		c.Retry.Attempts = override.Retry.Attempts
	}
	if override.Retry.Backoff != 0 {
		c.Retry.Backoff = override.Retry.Backoff
	}
	if override.Retry.MaxBackoff != 0 {
		c.Retry.MaxBackoff = override.Retry.MaxBackoff
	}
	return c
}

// Client builds a sedas.Client from the configuration. Additional options
// are applied after the configured ones and take precedence.
func (c Config) Client(opts ...sedas.Option) (*sedas.Client, error) {
	httpOpts := sedashttp.DefaultOptions()
	httpOpts.RetryAttempts = c.Retry.Attempts
	httpOpts.RetryBackoff = c.Retry.Backoff
	httpOpts.RetryMaxBackoff = c.Retry.MaxBackoff

	base := []sedas.Option{sedas.WithHTTPOptions(httpOpts)}
	if c.BaseURL != "" {
		base = append(base, sedas.WithBaseURL(c.BaseURL))
	}
	return sedas.NewClient(c.Username, c.Password, append(base, opts...)...)
}

// Downloader builds a bulk.Downloader from the configuration, saving into
// the output directory. Additional options are applied after the configured
// ones and take precedence.
func (c Config) Downloader(client bulk.ArchiveClient, opts ...bulk.Option) (*bulk.Downloader, error) {
	base := []bulk.Option{
		bulk.WithWorkers(c.Parallel),
		bulk.WithPollInterval(c.PollInterval),
		bulk.WithMonitorInterval(c.MonitorInterval),
	}
	return bulk.New(client, c.OutputDir, append(base, opts...)...)
}
