package shared

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

//go:embed config.example.toml
var exampleConf []byte

// AccessTokenEnv names the environment variable that overrides [BackendConfig.AccessToken].
const AccessTokenEnv = "MURMUR_ACCESS_TOKEN"

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	Backend      BackendConfig      `toml:"backend"`
	Database     DatabaseConfig     `toml:"database"`
	Queue        QueueConfig        `toml:"queue"`
	Connectivity ConnectivityConfig `toml:"connectivity"`
	Server       ServerConfig       `toml:"server"`
	Log          LogConfig          `toml:"log"`
}

// BackendConfig describes the hosted backend the queue replays against.
type BackendConfig struct {
	URL         string   `toml:"url"`
	AnonKey     string   `toml:"anon_key"`
	AccessToken string   `toml:"access_token"`
	Timeout     Duration `toml:"timeout"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Path         string `toml:"path"`
	MaxOpenConns int    `toml:"max_open_conns"`
	MaxIdleConns int    `toml:"max_idle_conns"`
}

// QueueConfig holds the retry policy and cross-process settings for the offline queue.
type QueueConfig struct {
	MaxAttempts       int      `toml:"max_attempts"`
	InitialBackoff    Duration `toml:"initial_backoff"`
	MaxBackoff        Duration `toml:"max_backoff"`
	BackoffMultiplier float64  `toml:"backoff_multiplier"`
	RateLimit         float64  `toml:"rate_limit"`
	ConflictRetries   int      `toml:"conflict_retries"`
	WatchInterval     Duration `toml:"watch_interval"`
	ContinueOnFailure bool     `toml:"continue_on_failure"`
}

// ConnectivityConfig controls the backend health prober.
type ConnectivityConfig struct {
	ProbePath     string   `toml:"probe_path"`
	ProbeInterval Duration `toml:"probe_interval"`
	ProbeTimeout  Duration `toml:"probe_timeout"`
}

// ServerConfig contains local status server settings.
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level string `toml:"level"`
}

// Duration wraps [time.Duration] so it can be written as "2s" in TOML.
type Duration struct {
	time.Duration
}

// UnmarshalText implements [encoding.TextUnmarshaler].
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("%w: bad duration %q: %v", ErrInvalidConfig, text, err)
	}
	d.Duration = v
	return nil
}

// MarshalText implements [encoding.TextMarshaler].
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Addr returns the host:port listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
//
// Values missing from the file keep the embedded defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("%w: failed to parse config: %v", ErrInvalidConfig, err)
	}

	config.applyEnv()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	config.applyEnv()
	return &config
}

// LoadConfigOrDefault loads path when it exists and falls back to [DefaultConfig] otherwise.
func LoadConfigOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); err != nil {
		return DefaultConfig(), nil
	}
	return LoadConfig(path)
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// SaveConfig writes config to path as TOML, replacing any existing file.
func SaveConfig(path string, config *Config) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(config); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := os.WriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate reports configuration values the queue cannot run with.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("%w: database.path is empty", ErrInvalidConfig)
	}
	if c.Queue.MaxAttempts < 1 {
		return fmt.Errorf("%w: queue.max_attempts must be at least 1", ErrInvalidConfig)
	}
	if c.Queue.BackoffMultiplier < 1 {
		return fmt.Errorf("%w: queue.backoff_multiplier must be >= 1", ErrInvalidConfig)
	}
	if c.Queue.MaxBackoff.Duration < c.Queue.InitialBackoff.Duration {
		return fmt.Errorf("%w: queue.max_backoff is shorter than queue.initial_backoff", ErrInvalidConfig)
	}
	return nil
}

func (c *Config) applyEnv() {
	if token := os.Getenv(AccessTokenEnv); token != "" {
		c.Backend.AccessToken = token
	}
}
