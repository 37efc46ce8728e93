package xordrive

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/edgedlt/xordrive/clock"
)

// Config holds the configuration for a node core.
// Use NewConfig with functional options to create a properly configured instance.
type Config struct {
	// Identity

	// Self is this node's peer identifier.
	// Required.
	Self PeerID

	// KeyPair is this node's BLS key pair, used for signing payment quotes
	// and spends it issues.
	KeyPair *BLSKeyPair

	// Collaborators

	// Network delivers fetch requests and queries to remote peers.
	// Required.
	Network NetworkClient

	// Logger for structured logging.
	// Defaults to a no-op logger if not provided.
	Logger *zap.Logger

	// Clock supplies the time for deadline bookkeeping.
	// Defaults to the system clock. Tests substitute a mock.
	Clock clock.Clock

	// Hooks provides callbacks for observability events.
	// All hooks are optional - nil hooks are ignored.
	Hooks *Hooks

	// Storage configuration

	// StorePath is the directory of the persistent record store.
	// Required.
	StorePath string

	// DagPath is the file the spend DAG is snapshotted to. Empty disables
	// snapshotting.
	DagPath string

	// RecordCacheCapacity is the size of the in-memory record cache.
	// Default: 1024
	RecordCacheCapacity int

	// Replication configuration

	// MaxParallelFetch is the ceiling on concurrent replication fetches.
	// Default: 20
	MaxParallelFetch int

	// PendingTimeout is how long a queued replication key stays eligible
	// before being discarded unfetched.
	// Default: 15m
	PendingTimeout time.Duration

	// FetchTimeout is how long an in-flight fetch may run before its
	// holder is declared unresponsive.
	// Default: 20s
	FetchTimeout time.Duration

	// Query configuration

	// DefaultQuorum is the quorum applied to get-record queries that do
	// not specify their own.
	// Default: QuorumMajority()
	DefaultQuorum Quorum

	// EventChannelCapacity is the buffer size of the network event channel.
	// Default: 64
	EventChannelCapacity int
}

// ConfigOption is a functional option for configuring a node core.
// Options are applied in order, so later options override earlier ones.
type ConfigOption func(*Config) error

// NewConfig creates a new Config with the given options.
// Required options: WithSelf, WithNetwork, WithStorePath.
//
// Returns an error if any option fails or if required options are missing.
func NewConfig(opts ...ConfigOption) (*Config, error) {
	fetcherDefaults := DefaultFetcherConfig()
	cfg := &Config{
		Logger:               zap.NewNop(),
		Clock:                clock.NewReal(),
		RecordCacheCapacity:  DefaultRecordCacheCapacity,
		MaxParallelFetch:     fetcherDefaults.MaxParallelFetch,
		PendingTimeout:       fetcherDefaults.PendingTimeout,
		FetchTimeout:         fetcherDefaults.FetchTimeout,
		DefaultQuorum:        QuorumMajority(),
		EventChannelCapacity: DefaultEventChannelCapacity,
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// validate checks that all required fields are set and values are valid.
func (c *Config) validate() error {
	if c.Self == "" {
		return fmt.Errorf("self peer id is required")
	}
	if c.Network == nil {
		return fmt.Errorf("network is required")
	}
	if c.StorePath == "" {
		return fmt.Errorf("store path is required")
	}
	if c.Logger == nil {
		return fmt.Errorf("logger is required")
	}
	if c.Clock == nil {
		return fmt.Errorf("clock is required")
	}

	if c.RecordCacheCapacity < 1 {
		return fmt.Errorf("record cache capacity must be at least 1, got %d", c.RecordCacheCapacity)
	}
	if c.MaxParallelFetch < 1 {
		return fmt.Errorf("max parallel fetch must be at least 1, got %d", c.MaxParallelFetch)
	}
	if c.PendingTimeout <= 0 {
		return fmt.Errorf("pending timeout must be positive, got %v", c.PendingTimeout)
	}
	if c.FetchTimeout <= 0 {
		return fmt.Errorf("fetch timeout must be positive, got %v", c.FetchTimeout)
	}
	if c.EventChannelCapacity < 1 {
		return fmt.Errorf("event channel capacity must be at least 1, got %d", c.EventChannelCapacity)
	}

	return nil
}

// ConfigWarning represents a warning about potentially suboptimal configuration.
type ConfigWarning struct {
	// Field is the name of the config field that triggered the warning.
	Field string
	// Message describes the potential issue.
	Message string
	// Suggestion provides a recommended action or value.
	Suggestion string
}

// String returns a human-readable warning message.
func (w ConfigWarning) String() string {
	return fmt.Sprintf("%s: %s (suggestion: %s)", w.Field, w.Message, w.Suggestion)
}

// Warnings returns warnings for suboptimal configuration choices.
func (c *Config) Warnings() []ConfigWarning {
	var warnings []ConfigWarning

	if c.MaxParallelFetch > 100 {
		warnings = append(warnings, ConfigWarning{
			Field:      "MaxParallelFetch",
			Message:    fmt.Sprintf("max parallel fetch %d may overwhelm holders during churn", c.MaxParallelFetch),
			Suggestion: "use MaxParallelFetch <= 50 unless bandwidth is abundant",
		})
	}
	if c.FetchTimeout < 5*time.Second {
		warnings = append(warnings, ConfigWarning{
			Field:      "FetchTimeout",
			Message:    fmt.Sprintf("fetch timeout %v is very short, slow holders will be declared failed", c.FetchTimeout),
			Suggestion: "use FetchTimeout >= 10s on real networks",
		})
	}
	if c.FetchTimeout >= c.PendingTimeout {
		warnings = append(warnings, ConfigWarning{
			Field:      "FetchTimeout/PendingTimeout",
			Message:    fmt.Sprintf("fetch timeout (%v) >= pending timeout (%v); keys may expire before their first attempt", c.FetchTimeout, c.PendingTimeout),
			Suggestion: "keep FetchTimeout well below PendingTimeout",
		})
	}
	if c.RecordCacheCapacity < 64 {
		warnings = append(warnings, ConfigWarning{
			Field:      "RecordCacheCapacity",
			Message:    fmt.Sprintf("record cache capacity %d is very small, most reads will hit disk", c.RecordCacheCapacity),
			Suggestion: "use RecordCacheCapacity >= 256 for typical workloads",
		})
	}
	if c.DagPath == "" {
		warnings = append(warnings, ConfigWarning{
			Field:      "DagPath",
			Message:    "no DAG snapshot path set; the spend DAG is lost on restart",
			Suggestion: "set DagPath to persist double-spend evidence across restarts",
		})
	}

	return warnings
}

// LogWarnings logs all configuration warnings.
func (c *Config) LogWarnings() {
	for _, w := range c.Warnings() {
		c.Logger.Warn("suboptimal configuration",
			zap.String("field", w.Field),
			zap.String("message", w.Message),
			zap.String("suggestion", w.Suggestion),
		)
	}
}

// WithSelf sets this node's peer identifier.
// This is a required option.
func WithSelf(self PeerID) ConfigOption {
	return func(c *Config) error {
		if self == "" {
			return fmt.Errorf("self peer id cannot be empty")
		}
		c.Self = self
		return nil
	}
}

// WithKeyPair sets this node's BLS key pair.
func WithKeyPair(kp *BLSKeyPair) ConfigOption {
	return func(c *Config) error {
		if kp == nil {
			return fmt.Errorf("key pair cannot be nil")
		}
		c.KeyPair = kp
		return nil
	}
}

// WithNetwork sets the network client for remote fetches and queries.
// This is a required option.
func WithNetwork(network NetworkClient) ConfigOption {
	return func(c *Config) error {
		if network == nil {
			return fmt.Errorf("network cannot be nil")
		}
		c.Network = network
		return nil
	}
}

// WithLogger sets the structured logger.
// If not provided, a no-op logger is used.
func WithLogger(logger *zap.Logger) ConfigOption {
	return func(c *Config) error {
		if logger == nil {
			return fmt.Errorf("logger cannot be nil")
		}
		c.Logger = logger
		return nil
	}
}

// WithClock sets the time source for deadline bookkeeping.
// If not provided, the system clock is used.
func WithClock(clk clock.Clock) ConfigOption {
	return func(c *Config) error {
		if clk == nil {
			return fmt.Errorf("clock cannot be nil")
		}
		c.Clock = clk
		return nil
	}
}

// WithHooks sets the observability hooks.
// All hooks are optional - nil hooks are ignored.
func WithHooks(hooks *Hooks) ConfigOption {
	return func(c *Config) error {
		c.Hooks = hooks
		return nil
	}
}

// WithStorePath sets the record store directory.
// This is a required option.
func WithStorePath(path string) ConfigOption {
	return func(c *Config) error {
		if path == "" {
			return fmt.Errorf("store path cannot be empty")
		}
		c.StorePath = path
		return nil
	}
}

// WithDagPath sets the spend DAG snapshot file.
func WithDagPath(path string) ConfigOption {
	return func(c *Config) error {
		c.DagPath = path
		return nil
	}
}

// WithRecordCacheCapacity sets the in-memory record cache size.
// Default: 1024
func WithRecordCacheCapacity(capacity int) ConfigOption {
	return func(c *Config) error {
		if capacity < 1 {
			return fmt.Errorf("record cache capacity must be at least 1, got %d", capacity)
		}
		c.RecordCacheCapacity = capacity
		return nil
	}
}

// WithMaxParallelFetch sets the ceiling on concurrent replication fetches.
// Default: 20
func WithMaxParallelFetch(max int) ConfigOption {
	return func(c *Config) error {
		if max < 1 {
			return fmt.Errorf("max parallel fetch must be at least 1, got %d", max)
		}
		c.MaxParallelFetch = max
		return nil
	}
}

// WithPendingTimeout sets how long queued replication keys stay eligible.
// Default: 15m
func WithPendingTimeout(timeout time.Duration) ConfigOption {
	return func(c *Config) error {
		if timeout <= 0 {
			return fmt.Errorf("pending timeout must be positive, got %v", timeout)
		}
		c.PendingTimeout = timeout
		return nil
	}
}

// WithFetchTimeout sets how long an in-flight fetch may run.
// Default: 20s
func WithFetchTimeout(timeout time.Duration) ConfigOption {
	return func(c *Config) error {
		if timeout <= 0 {
			return fmt.Errorf("fetch timeout must be positive, got %v", timeout)
		}
		c.FetchTimeout = timeout
		return nil
	}
}

// WithDefaultQuorum sets the quorum applied when queries do not specify one.
// Default: QuorumMajority()
func WithDefaultQuorum(q Quorum) ConfigOption {
	return func(c *Config) error {
		c.DefaultQuorum = q
		return nil
	}
}

// WithEventChannelCapacity sets the network event channel buffer size.
// Default: 64
func WithEventChannelCapacity(capacity int) ConfigOption {
	return func(c *Config) error {
		if capacity < 1 {
			return fmt.Errorf("event channel capacity must be at least 1, got %d", capacity)
		}
		c.EventChannelCapacity = capacity
		return nil
	}
}

// FetcherConfigFrom extracts the replication fetcher's view of the config.
func (c *Config) FetcherConfigFrom() FetcherConfig {
	return FetcherConfig{
		MaxParallelFetch: c.MaxParallelFetch,
		PendingTimeout:   c.PendingTimeout,
		FetchTimeout:     c.FetchTimeout,
	}
}

// LoadConfigOptions reads a config file with viper and translates it into
// options. File-derived options compose with programmatic ones; apply them
// first so code-level options win.
//
// Recognized keys: store_path, dag_path, record_cache_capacity,
// max_parallel_fetch, pending_timeout, fetch_timeout,
// event_channel_capacity.
func LoadConfigOptions(path string) ([]ConfigOption, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var opts []ConfigOption
	if v.IsSet("store_path") {
		opts = append(opts, WithStorePath(v.GetString("store_path")))
	}
	if v.IsSet("dag_path") {
		opts = append(opts, WithDagPath(v.GetString("dag_path")))
	}
	if v.IsSet("record_cache_capacity") {
		opts = append(opts, WithRecordCacheCapacity(v.GetInt("record_cache_capacity")))
	}
	if v.IsSet("max_parallel_fetch") {
		opts = append(opts, WithMaxParallelFetch(v.GetInt("max_parallel_fetch")))
	}
	if v.IsSet("pending_timeout") {
		opts = append(opts, WithPendingTimeout(v.GetDuration("pending_timeout")))
	}
	if v.IsSet("fetch_timeout") {
		opts = append(opts, WithFetchTimeout(v.GetDuration("fetch_timeout")))
	}
	if v.IsSet("event_channel_capacity") {
		opts = append(opts, WithEventChannelCapacity(v.GetInt("event_channel_capacity")))
	}
	return opts, nil
}
