package core

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the process configuration for the orchestration service.
// Resolution order: defaults, then the YAML file named by MESH_CONFIG_FILE,
// then environment variables, then functional options. Validate() runs last.
type Config struct {
	Name string `yaml:"name"`
	Port int    `yaml:"port"`

	Logging    LoggingConfig    `yaml:"logging"`
	AI         AIConfig         `yaml:"ai"`
	Redis      RedisConfig      `yaml:"redis"`
	Simulation SimulationConfig `yaml:"simulation"`
	Bus        BusConfig        `yaml:"bus"`

	logger Logger
}

// LoggingConfig controls the ProductionLogger.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json or text
	Output string `yaml:"output"` // stdout or stderr
}

// AIConfig controls backend adapter selection.
type AIConfig struct {
	// MockMode forces the deterministic mock adapter for every backend.
	MockMode bool `yaml:"mock_mode"`
	// MockFailureRate in [0,1] makes the mock adapter fail that fraction
	// of calls; used to exercise breaker behavior in staging.
	MockFailureRate float64 `yaml:"mock_failure_rate"`
	// Timeout is loaded with the rest of the config (default 30s); nothing
	// passes it to the backend adapters.
	Timeout time.Duration `yaml:"timeout"`
}

// RedisConfig locates the memory graph store.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// SimulationConfig locates the external simulation service.
type SimulationConfig struct {
	HTTPURL string        `yaml:"http_url"`
	WSURL   string        `yaml:"ws_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// BusConfig controls the subscription bus.
type BusConfig struct {
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
}

// Option mutates a Config during NewConfig.
type Option func(*Config) error

// WithName sets the service name used in log records.
func WithName(name string) Option {
	return func(c *Config) error {
		c.Name = name
		return nil
	}
}

// WithPort sets the HTTP listen port.
func WithPort(port int) Option {
	return func(c *Config) error {
		c.Port = port
		return nil
	}
}

// WithLogger overrides the constructed logger.
func WithLogger(logger Logger) Option {
	return func(c *Config) error {
		c.logger = logger
		return nil
	}
}

// WithMockAI forces mock adapters regardless of environment keys.
func WithMockAI() Option {
	return func(c *Config) error {
		c.AI.MockMode = true
		return nil
	}
}

// WithRedisURL sets the memory graph address.
func WithRedisURL(url string) Option {
	return func(c *Config) error {
		c.Redis.URL = url
		return nil
	}
}

// WithSimulationEndpoints sets both wire endpoints of the simulation service.
func WithSimulationEndpoints(httpURL, wsURL string) Option {
	return func(c *Config) error {
		c.Simulation.HTTPURL = httpURL
		c.Simulation.WSURL = wsURL
		return nil
	}
}

// DefaultConfig returns the baseline configuration.
func DefaultConfig() *Config {
	return &Config{
		Name: "neural-mesh",
		Port: 8080,
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		AI: AIConfig{
			Timeout: 30 * time.Second,
		},
		Redis: RedisConfig{
			URL: "redis://localhost:6379",
		},
		Simulation: SimulationConfig{
			HTTPURL: "http://localhost:8090",
			WSURL:   "ws://localhost:8090/ws",
			Timeout: 5 * time.Second,
		},
		Bus: BusConfig{
			HeartbeatInterval: 30 * time.Second,
		},
	}
}

// NewConfig builds a Config from defaults, file, environment and options.
func NewConfig(opts ...Option) (*Config, error) {
	cfg := DefaultConfig()

	if path := os.Getenv("MESH_CONFIG_FILE"); path != "" {
		if err := cfg.loadFromFile(path); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := cfg.loadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load env config: %w", err)
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if cfg.logger == nil {
		cfg.logger = NewProductionLogger(cfg.Logging, cfg.Name)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Logger returns the configured logger, never nil after NewConfig.
func (c *Config) Logger() Logger {
	if c.logger == nil {
		return &NoOpLogger{}
	}
	return c.logger
}

func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path) // #nosec G304 - operator-supplied path
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, c)
}

func (c *Config) loadFromEnv() error {
	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: PORT=%q", ErrInvalidConfiguration, v)
		}
		c.Port = port
	}
	if v := os.Getenv("MESH_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("MESH_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv("MESH_MOCK_AI"); v != "" {
		mock, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: MESH_MOCK_AI=%q", ErrInvalidConfiguration, v)
		}
		c.AI.MockMode = mock
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		c.Redis.URL = v
	}
	if v := os.Getenv("SIMULATION_HTTP_URL"); v != "" {
		c.Simulation.HTTPURL = v
	}
	if v := os.Getenv("SIMULATION_WS_URL"); v != "" {
		c.Simulation.WSURL = v
	}
	return nil
}

// Validate checks the final configuration.
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("%w: service name is required", ErrInvalidConfiguration)
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidConfiguration, c.Port)
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("%w: log format %q", ErrInvalidConfiguration, c.Logging.Format)
	}
	if c.AI.MockFailureRate < 0 || c.AI.MockFailureRate > 1 {
		return fmt.Errorf("%w: mock failure rate %f out of range", ErrInvalidConfiguration, c.AI.MockFailureRate)
	}
	if c.Simulation.Timeout <= 0 {
		return fmt.Errorf("%w: simulation timeout must be positive", ErrInvalidConfiguration)
	}
	if c.Bus.HeartbeatInterval <= 0 {
		return fmt.Errorf("%w: bus heartbeat interval must be positive", ErrInvalidConfiguration)
	}
	return nil
}
