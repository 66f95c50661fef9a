package conduit

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dotindustries/conduit/capability"
	"github.com/dotindustries/conduit/internal/logging"
	"github.com/dotindustries/conduit/internal/metrics"
	"github.com/dotindustries/conduit/types"
)

const (
	// defaultReadChunkSize caps one capability recv poll. The host may
	// return fewer bytes, or none when nothing is buffered.
	defaultReadChunkSize = 64 * 1024

	// defaultMaxEmptyReads bounds consecutive empty polls before an
	// exchange fails with ErrReadTimeout. Effective timeout duration is a
	// function of the host's polling cadence, not wall-clock time.
	defaultMaxEmptyReads = 100
)

// ClientConfig holds the injected collaborators and tuning knobs shared by
// sessions, pools and clients. Connection parameters live in types.Config.
type ClientConfig struct {
	// Transport is the capability boundary used in sandbox mode.
	Transport capability.Transport

	// Logger receives structured log output. Defaults to a nop logger.
	Logger types.Logger

	// Metrics receives operational metrics. Defaults to a nop collector.
	Metrics types.MetricsCollector

	// ReadChunkSize caps a single capability recv poll.
	ReadChunkSize int

	// MaxEmptyReads bounds consecutive empty polls before a read times out.
	MaxEmptyReads int
}

// DefaultClientConfig returns a ClientConfig with sensible defaults.
//
// Returns:
//   - *ClientConfig: Configuration with nop logger/metrics and default
//     polling limits
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		Logger:        logging.NewNopLogger(),
		Metrics:       metrics.NewNopMetrics(),
		ReadChunkSize: defaultReadChunkSize,
		MaxEmptyReads: defaultMaxEmptyReads,
	}
}

// applyClientDefaults backfills zero fields so components never nil-check.
func applyClientDefaults(c *ClientConfig) {
	if c.Logger == nil {
		c.Logger = logging.NewNopLogger()
	}
	if c.Metrics == nil {
		c.Metrics = metrics.NewNopMetrics()
	}
	if c.ReadChunkSize <= 0 {
		c.ReadChunkSize = defaultReadChunkSize
	}
	if c.MaxEmptyReads <= 0 {
		c.MaxEmptyReads = defaultMaxEmptyReads
	}
}

// Option configures a ClientConfig.
type Option func(*ClientConfig)

// WithTransport sets the capability transport for sandbox mode.
//
// Parameters:
//   - t: The host-provided transport implementation
//
// Returns:
//   - Option: Configuration option
func WithTransport(t capability.Transport) Option {
	return func(c *ClientConfig) {
		c.Transport = t
	}
}

// WithLogger sets the structured logger.
//
// If not set, a no-op logger is used that discards all messages.
// The logger interface is compatible with zap.SugaredLogger.
//
// Parameters:
//   - logger: The logger implementation
//
// Returns:
//   - Option: Configuration option
func WithLogger(logger types.Logger) Option {
	return func(c *ClientConfig) {
		c.Logger = logger
	}
}

// WithMetrics sets the metrics collector.
//
// If not set, a no-op collector is used that discards all metrics.
//
// Parameters:
//   - collector: The metrics collector implementation
//
// Returns:
//   - Option: Configuration option
func WithMetrics(collector types.MetricsCollector) Option {
	return func(c *ClientConfig) {
		c.Metrics = collector
	}
}

// WithReadChunkSize sets the per-poll recv cap in bytes.
//
// Parameters:
//   - n: Maximum bytes requested per capability recv
//
// Returns:
//   - Option: Configuration option
func WithReadChunkSize(n int) Option {
	return func(c *ClientConfig) {
		c.ReadChunkSize = n
	}
}

// WithMaxEmptyReads sets the consecutive-empty-poll budget per exchange.
//
// Parameters:
//   - n: Number of empty polls tolerated before ErrReadTimeout
//
// Returns:
//   - Option: Configuration option
func WithMaxEmptyReads(n int) Option {
	return func(c *ClientConfig) {
		c.MaxEmptyReads = n
	}
}

// fileConfig is the YAML shape of a config file. IdleTimeout is a Go
// duration string ("30s", "5m").
type fileConfig struct {
	Host           string `yaml:"host"`
	Port           uint16 `yaml:"port"`
	Database       string `yaml:"database"`
	User           string `yaml:"user"`
	Password       string `yaml:"password"`
	MaxConnections int    `yaml:"max_connections"`
	IdleTimeout    string `yaml:"idle_timeout"`
	Mode           string `yaml:"mode"`
}

// ParseConfig parses YAML configuration data into a validated, defaulted
// types.Config.
//
// Parameters:
//   - data: Raw YAML bytes
//
// Returns:
//   - types.Config: The parsed configuration
//   - error: YAML, duration or validation errors
func ParseConfig(data []byte) (types.Config, error) {
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return types.Config{}, fmt.Errorf("conduit: parse config: %w", err)
	}

	cfg := types.Config{
		Host:           fc.Host,
		Port:           fc.Port,
		Database:       fc.Database,
		User:           fc.User,
		Password:       fc.Password,
		MaxConnections: fc.MaxConnections,
		Mode:           types.Mode(fc.Mode),
	}

	if fc.IdleTimeout != "" {
		d, err := time.ParseDuration(fc.IdleTimeout)
		if err != nil {
			return types.Config{}, fmt.Errorf("conduit: parse config idle_timeout: %w", err)
		}
		cfg.IdleTimeout = d
	}

	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return types.Config{}, err
	}

	return cfg, nil
}

// LoadConfigFile reads and parses a YAML config file.
//
// Parameters:
//   - path: Path to the YAML file
//
// Returns:
//   - types.Config: The parsed configuration
//   - error: File, YAML or validation errors
func LoadConfigFile(path string) (types.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return types.Config{}, fmt.Errorf("conduit: read config file: %w", err)
	}

	return ParseConfig(data)
}
