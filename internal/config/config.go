package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultChunkSize is the largest single read performed per relay step
	DefaultChunkSize = 4096

	// DefaultBacklog is the accept backlog of the listening socket
	DefaultBacklog = 1024

	// DefaultPollTimeout bounds each wait on the readiness multiplexer
	DefaultPollTimeout = time.Second
)

// Config holds the runtime configuration of the relay
type Config struct {
	// ListenAddr is the local host:port to accept clients on
	ListenAddr string `yaml:"listen"`

	// RemoteAddr is the host:port every accepted client is forwarded to
	RemoteAddr string `yaml:"forward"`

	// AdminAddr enables the admin HTTP server when set (e.g. "127.0.0.1:9100")
	AdminAddr string `yaml:"admin"`

	// LogLevel controls logging verbosity (debug, info, warn, error)
	LogLevel string `yaml:"log_level"`

	// LogFormat selects console or json log output
	LogFormat LogFormat `yaml:"log_format"`

	// ChunkSize is the read size per relay step
	ChunkSize int `yaml:"chunk_size"`

	// HighWater is the pending-output limit per direction; reading stops once it is reached
	HighWater int `yaml:"high_water"`

	// Backlog is the listen backlog
	Backlog int `yaml:"backlog"`

	// PollTimeout bounds each multiplexer wait
	PollTimeout time.Duration `yaml:"poll_timeout"`
}

// Default returns a Config populated with default values
func Default() *Config {
	return &Config{
		LogLevel:    "info",
		LogFormat:   LogFormatConsole,
		ChunkSize:   DefaultChunkSize,
		HighWater:   DefaultChunkSize,
		Backlog:     DefaultBacklog,
		PollTimeout: DefaultPollTimeout,
	}
}

// Load creates a Config by reading from environment variables
// and applying defaults where values are not set
func Load() *Config {
	cfg := Default()
	cfg.HighWater = 0
	cfg.applyEnv()
	cfg.resolve()
	return cfg
}

// LoadFile reads a YAML configuration file on top of the defaults.
// Environment variables still take precedence over the file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	cfg.HighWater = 0
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.applyEnv()
	cfg.resolve()
	return cfg, nil
}

// resolve fills values derived from others. An unset high water follows the chunk size.
func (c *Config) resolve() {
	if c.HighWater == 0 {
		c.HighWater = c.ChunkSize
	}
}

func (c *Config) applyEnv() {
	c.ListenAddr = getEnvOrDefault("TCPRELAY_LISTEN", c.ListenAddr)
	c.RemoteAddr = getEnvOrDefault("TCPRELAY_FORWARD", c.RemoteAddr)
	c.AdminAddr = getEnvOrDefault("TCPRELAY_ADMIN", c.AdminAddr)
	c.LogLevel = getEnvOrDefault("TCPRELAY_LOG_LEVEL", c.LogLevel)
	c.LogFormat = LogFormat(getEnvOrDefault("TCPRELAY_LOG_FORMAT", string(c.LogFormat)))
	c.ChunkSize = getEnvIntOrDefault("TCPRELAY_CHUNK_SIZE", c.ChunkSize)
	c.HighWater = getEnvIntOrDefault("TCPRELAY_HIGH_WATER", c.HighWater)
	c.Backlog = getEnvIntOrDefault("TCPRELAY_BACKLOG", c.Backlog)
	c.PollTimeout = getEnvDurationOrDefault("TCPRELAY_POLL_TIMEOUT", c.PollTimeout)
}

// Validate checks that the configuration can start a relay.
// All problems are reported together.
func (c *Config) Validate() error {
	var missing []string
	if c.ListenAddr == "" {
		missing = append(missing, "listen address")
	}
	if c.RemoteAddr == "" {
		missing = append(missing, "forward address")
	}

	var err error
	if len(missing) > 0 {
		err = multierr.Append(err, fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", ")))
	}
	if c.ListenAddr != "" {
		err = multierr.Append(err, validateHostPort("listen", c.ListenAddr))
	}
	if c.RemoteAddr != "" {
		err = multierr.Append(err, validateHostPort("forward", c.RemoteAddr))
	}
	if c.ChunkSize <= 0 {
		err = multierr.Append(err, fmt.Errorf("chunk size must be positive, got %d", c.ChunkSize))
	}
	if c.HighWater < c.ChunkSize {
		err = multierr.Append(err, fmt.Errorf("high water (%d) must be at least the chunk size (%d)", c.HighWater, c.ChunkSize))
	}
	if c.Backlog <= 0 {
		err = multierr.Append(err, fmt.Errorf("backlog must be positive, got %d", c.Backlog))
	}
	if c.PollTimeout <= 0 {
		err = multierr.Append(err, fmt.Errorf("poll timeout must be positive, got %s", c.PollTimeout))
	}
	if !c.LogFormat.IsValid() {
		err = multierr.Append(err, fmt.Errorf("unsupported log format %q", c.LogFormat))
	}
	return err
}

func validateHostPort(name, addr string) error {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid %s address %q: %w", name, addr, err)
	}
	// named service ports such as "http" resolve like they do at listen time
	if _, err := net.LookupPort("tcp", port); err != nil {
		return fmt.Errorf("invalid %s port %q: %w", name, port, err)
	}
	return nil
}

// getEnvOrDefault retrieves an environment variable or returns a default value
func getEnvOrDefault(key, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultValue
}
