package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Content providers
const (
	ProviderTemplate = "template"
	ProviderOpenAI   = "openai"
)

// Config represents the complete application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	Logging  LoggingConfig  `yaml:"logging"`
	App      AppConfig      `yaml:"app"`
	Auth     AuthConfig     `yaml:"auth"`
	Worker   WorkerConfig   `yaml:"worker"`
	Stages   StagesConfig   `yaml:"stages"`
	Content  ContentConfig  `yaml:"content"`
	Storage  StorageConfig  `yaml:"storage"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection configuration for the artifact store
type DatabaseConfig struct {
	URL             string        `yaml:"url"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// RedisConfig holds the queue broker connection configuration
type RedisConfig struct {
	URL         string        `yaml:"url"`
	Addr        string        `yaml:"addr"`
	Password    string        `yaml:"password"`
	DB          int           `yaml:"db"`
	Prefix      string        `yaml:"prefix"`
	PoolSize    int           `yaml:"pool_size"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// RabbitMQConfig holds the lifecycle event exchange configuration
type RabbitMQConfig struct {
	Enabled    bool             `yaml:"enabled"`
	URL        string           `yaml:"url"`
	Exchange   string           `yaml:"exchange"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryInterval time.Duration `yaml:"retry_interval"`
	Heartbeat     time.Duration `yaml:"heartbeat"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// IsProduction reports whether the app runs in production mode
func (a AppConfig) IsProduction() bool {
	return a.Environment == "production"
}

// AuthConfig holds the static API key protecting ingest and status routes
type AuthConfig struct {
	APIKey string `yaml:"api_key"`
	Header string `yaml:"header"`
}

// WorkerConfig holds settings shared by every stage worker
type WorkerConfig struct {
	PollInterval      time.Duration `yaml:"poll_interval"`
	LockDuration      time.Duration `yaml:"lock_duration"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	StalledInterval   time.Duration `yaml:"stalled_interval"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
	MetricsInterval   time.Duration `yaml:"metrics_interval"`
	// MaxStalled is how many lock expiries a job survives before it fails.
	MaxStalled int `yaml:"max_stalled"`
}

// BackoffConfig holds a retry delay policy
type BackoffConfig struct {
	Type  string        `yaml:"type"`
	Delay time.Duration `yaml:"delay"`
	Max   time.Duration `yaml:"max"`
}

// StageConfig holds the queue policy and worker sizing of one stage
type StageConfig struct {
	Concurrency   int           `yaml:"concurrency"`
	Attempts      int           `yaml:"attempts"`
	Backoff       BackoffConfig `yaml:"backoff"`
	KeepCompleted int           `yaml:"keep_completed"`
	KeepFailed    int           `yaml:"keep_failed"`
	Timeout       time.Duration `yaml:"timeout"`
}

// StagesConfig holds per-stage settings keyed by stage name
type StagesConfig struct {
	Content StageConfig `yaml:"content"`
	Render  StageConfig `yaml:"render"`
	Upload  StageConfig `yaml:"upload"`
}

// ByName returns the settings of the named stage
func (s StagesConfig) ByName(name string) (StageConfig, bool) {
	switch name {
	case "content":
		return s.Content, true
	case "render":
		return s.Render, true
	case "upload":
		return s.Upload, true
	}
	return StageConfig{}, false
}

// ContentConfig selects and configures the content generator
type ContentConfig struct {
	Provider      string        `yaml:"provider"`
	BaseURL       string        `yaml:"base_url"`
	APIKey        string        `yaml:"api_key"`
	Model         string        `yaml:"model"`
	MaxTokens     int           `yaml:"max_tokens"`
	RatePerMinute int           `yaml:"rate_per_minute"`
	Burst         int           `yaml:"burst"`
	Timeout       time.Duration `yaml:"timeout"`
}

// StorageConfig holds artifact storage settings
type StorageConfig struct {
	PublicBaseURL string `yaml:"public_base_url"`
}

// Load reads the configuration file, applies environment overrides and
// fills defaults. An empty path skips the file.
func Load(configPath string) (*Config, error) {
	var config Config

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := config.applyEnv(); err != nil {
		return nil, err
	}
	config.applyDefaults()

	return &config, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("REDIS_URL"); v != "" {
		c.Redis.URL = v
	}
	if v := os.Getenv("API_KEY"); v != "" {
		c.Auth.APIKey = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Database.URL = v
	}
	if v := os.Getenv("RABBITMQ_URL"); v != "" {
		c.RabbitMQ.URL = v
		c.RabbitMQ.Enabled = true
	}
	if v := os.Getenv("CONTENT_API_KEY"); v != "" {
		c.Content.APIKey = v
	}
	if v := os.Getenv("PUBLIC_BASE_URL"); v != "" {
		c.Storage.PublicBaseURL = v
	}
	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid PORT %q: %w", v, err)
		}
		c.Server.Port = port
	}
	return nil
}

func (c *Config) applyDefaults() {
	setDuration := func(d *time.Duration, def time.Duration) {
		if *d == 0 {
			*d = def
		}
	}
	setInt := func(i *int, def int) {
		if *i == 0 {
			*i = def
		}
	}
	setString := func(s *string, def string) {
		if *s == "" {
			*s = def
		}
	}

	setInt(&c.Server.Port, 3000)
	setDuration(&c.Server.ReadTimeout, 15*time.Second)
	setDuration(&c.Server.WriteTimeout, 30*time.Second)
	setDuration(&c.Server.IdleTimeout, 60*time.Second)
	setDuration(&c.Server.ShutdownTimeout, 30*time.Second)

	setString(&c.Database.SSLMode, "disable")
	setInt(&c.Database.Port, 5432)

	setString(&c.Redis.Prefix, "ebook")

	setString(&c.RabbitMQ.Exchange, "ebook.events")
	setInt(&c.RabbitMQ.Connection.RetryAttempts, 5)
	setDuration(&c.RabbitMQ.Connection.RetryInterval, 2*time.Second)
	setDuration(&c.RabbitMQ.Connection.Heartbeat, 10*time.Second)
	setInt(&c.RabbitMQ.Publish.RetryAttempts, 3)
	setDuration(&c.RabbitMQ.Publish.RetryInterval, 100*time.Millisecond)
	if c.RabbitMQ.Publish.BackoffMultiplier == 0 {
		c.RabbitMQ.Publish.BackoffMultiplier = 2.0
	}

	setString(&c.Logging.Level, "info")
	setString(&c.Logging.Format, "console")
	setString(&c.Logging.Output, "stdout")

	setString(&c.App.Name, "ebook-pipeline")
	setString(&c.App.Version, "dev")
	setString(&c.App.Environment, "development")

	setString(&c.Auth.Header, "x-api-key")

	setDuration(&c.Worker.PollInterval, 500*time.Millisecond)
	setDuration(&c.Worker.LockDuration, 30*time.Second)
	setDuration(&c.Worker.HeartbeatInterval, 10*time.Second)
	setDuration(&c.Worker.StalledInterval, 30*time.Second)
	setDuration(&c.Worker.ShutdownTimeout, 30*time.Second)
	setDuration(&c.Worker.MetricsInterval, time.Minute)
	setInt(&c.Worker.MaxStalled, 1)

	stageDefaults := []struct {
		stage       *StageConfig
		concurrency int
		timeout     time.Duration
	}{
		{&c.Stages.Content, 3, 5 * time.Minute},
		{&c.Stages.Render, 5, 2 * time.Minute},
		{&c.Stages.Upload, 8, time.Minute},
	}
	for _, d := range stageDefaults {
		setInt(&d.stage.Concurrency, d.concurrency)
		setInt(&d.stage.Attempts, 3)
		setString(&d.stage.Backoff.Type, "exponential")
		setDuration(&d.stage.Backoff.Delay, 2*time.Second)
		setDuration(&d.stage.Backoff.Max, 5*time.Minute)
		setInt(&d.stage.KeepCompleted, 5)
		setInt(&d.stage.KeepFailed, 3)
		setDuration(&d.stage.Timeout, d.timeout)
	}

	setString(&c.Content.Provider, ProviderTemplate)
	setString(&c.Content.Model, "gpt-4o-mini")
	setInt(&c.Content.MaxTokens, 4000)
	setInt(&c.Content.RatePerMinute, 20)
	setInt(&c.Content.Burst, 1)
	setDuration(&c.Content.Timeout, 2*time.Minute)

	setString(&c.Storage.PublicBaseURL, fmt.Sprintf("http://localhost:%d", c.Server.Port))
}

func validatePort(name string, port int) error {
	if port < MinPort || port > MaxPort {
		return fmt.Errorf("invalid %s port: %d (must be between %d and %d)", name, port, MinPort, MaxPort)
	}
	return nil
}

func (c *Config) validateShared() error {
	if c.Redis.URL == "" && c.Redis.Addr == "" {
		return errors.New("redis url or addr is required")
	}

	if c.Database.URL == "" {
		if c.Database.Host == "" {
			return errors.New("database url or host is required")
		}
		if err := validatePort("database", c.Database.Port); err != nil {
			return err
		}
		if c.Database.Database == "" {
			return errors.New("database name is required")
		}
	}

	if c.RabbitMQ.Enabled {
		if c.RabbitMQ.URL == "" {
			return errors.New("rabbitmq url is required when events are enabled")
		}
		if c.RabbitMQ.Exchange == "" {
			return errors.New("rabbitmq exchange is required when events are enabled")
		}
	}

	return nil
}

// ValidateAPIConfig checks the settings the API service depends on
func (c *Config) ValidateAPIConfig() error {
	if err := validatePort("server", c.Server.Port); err != nil {
		return err
	}

	if err := c.validateShared(); err != nil {
		return err
	}

	if c.Auth.APIKey == "" {
		return errors.New("auth api_key is required")
	}

	return nil
}

// ValidateWorkerConfig checks the settings the worker service depends on
func (c *Config) ValidateWorkerConfig() error {
	if err := c.validateShared(); err != nil {
		return err
	}

	if c.Worker.LockDuration <= 0 {
		return errors.New("worker lock_duration must be greater than 0")
	}

	if c.Worker.HeartbeatInterval <= 0 || c.Worker.HeartbeatInterval >= c.Worker.LockDuration {
		return errors.New("worker heartbeat_interval must be greater than 0 and shorter than lock_duration")
	}

	if c.Worker.PollInterval <= 0 {
		return errors.New("worker poll_interval must be greater than 0")
	}

	if c.Worker.ShutdownTimeout <= 0 {
		return errors.New("worker shutdown_timeout must be greater than 0")
	}

	if c.Worker.MetricsInterval <= 0 {
		return errors.New("worker metrics_interval must be greater than 0")
	}

	if c.Worker.MaxStalled < 1 {
		return errors.New("worker max_stalled must be at least 1")
	}

	for _, name := range []string{"content", "render", "upload"} {
		stage, _ := c.Stages.ByName(name)
		if stage.Concurrency <= 0 {
			return fmt.Errorf("stage %s concurrency must be greater than 0", name)
		}
		if stage.Attempts <= 0 {
			return fmt.Errorf("stage %s attempts must be greater than 0", name)
		}
		if stage.Timeout <= 0 {
			return fmt.Errorf("stage %s timeout must be greater than 0", name)
		}
		if stage.Backoff.Type != "fixed" && stage.Backoff.Type != "exponential" {
			return fmt.Errorf("stage %s backoff type %q is not supported", name, stage.Backoff.Type)
		}
	}

	switch c.Content.Provider {
	case ProviderTemplate:
	case ProviderOpenAI:
		if c.Content.BaseURL == "" || c.Content.APIKey == "" {
			return errors.New("content base_url and api_key are required for the openai provider")
		}
		if c.Content.RatePerMinute <= 0 {
			return errors.New("content rate_per_minute must be greater than 0")
		}
	default:
		return fmt.Errorf("unknown content provider %q", c.Content.Provider)
	}

	return nil
}
