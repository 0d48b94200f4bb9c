package chainz

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// ErrInvalidConfig is wrapped by every configuration validation failure.
var ErrInvalidConfig = errors.New("chainz: invalid config")

// DropPolicy selects which span is discarded when the export queue is full.
type DropPolicy int

// Drop policies.
const (
	DropNewest DropPolicy = iota
	DropOldest
)

func (p DropPolicy) String() string {
	if p == DropOldest {
		return "drop_oldest"
	}
	return "drop_newest"
}

// UnmarshalText decodes "drop_newest" or "drop_oldest".
func (p *DropPolicy) UnmarshalText(text []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(text))) {
	case "drop_newest", "newest", "":
		*p = DropNewest
	case "drop_oldest", "oldest":
		*p = DropOldest
	default:
		return fmt.Errorf("%w: unknown drop policy %q", ErrInvalidConfig, text)
	}
	return nil
}

// Config holds tracing configuration. Environment variable names are the
// envconfig tags under the prefix passed to LoadConfig.
type Config struct {
	ResourceAttributes   map[string]string `envconfig:"RESOURCE_ATTRIBUTES"`
	Endpoint             string            `envconfig:"ENDPOINT" default:"localhost:4317"`
	ServiceName          string            `envconfig:"SERVICE_NAME" default:"chainz"`
	BatchSize            int               `envconfig:"BATCH_SIZE" default:"512"`
	QueueCapacity        int               `envconfig:"QUEUE_CAPACITY" default:"2048"`
	MaxRetries           int               `envconfig:"MAX_RETRIES" default:"3"`
	BatchTimeout         time.Duration     `envconfig:"BATCH_TIMEOUT" default:"5s"`
	RetryInitialInterval time.Duration     `envconfig:"RETRY_INITIAL_INTERVAL" default:"100ms"`
	RetryMaxInterval     time.Duration     `envconfig:"RETRY_MAX_INTERVAL" default:"5s"`
	ExportTimeout        time.Duration     `envconfig:"EXPORT_TIMEOUT" default:"10s"`
	ShutdownTimeout      time.Duration     `envconfig:"SHUTDOWN_TIMEOUT" default:"5s"`
	MaxSpanLifetime      time.Duration     `envconfig:"MAX_SPAN_LIFETIME" default:"0s"`
	ReapInterval         time.Duration     `envconfig:"REAP_INTERVAL" default:"30s"`
	DropPolicy           DropPolicy        `envconfig:"DROP_POLICY" default:"drop_newest"`
}

// DefaultConfig returns the defaults documented on Config.
func DefaultConfig() Config {
	return Config{
		Endpoint:             "localhost:4317",
		ServiceName:          "chainz",
		BatchSize:            512,
		QueueCapacity:        2048,
		MaxRetries:           3,
		BatchTimeout:         5 * time.Second,
		RetryInitialInterval: 100 * time.Millisecond,
		RetryMaxInterval:     5 * time.Second,
		ExportTimeout:        10 * time.Second,
		ShutdownTimeout:      5 * time.Second,
		ReapInterval:         30 * time.Second,
		DropPolicy:           DropNewest,
	}
}

// LoadConfig reads configuration from environment variables with the given
// prefix and validates it.
func LoadConfig(prefix string) (Config, error) {
	var cfg Config
	if err := envconfig.Process(prefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to load tracing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
		}
	}

	check(c.ServiceName != "", "service name must be set")
	check(c.BatchSize > 0, "batch size must be > 0, got %d", c.BatchSize)
	check(c.QueueCapacity > 0, "queue capacity must be > 0, got %d", c.QueueCapacity)
	check(c.BatchSize <= c.QueueCapacity, "batch size %d exceeds queue capacity %d", c.BatchSize, c.QueueCapacity)
	check(c.BatchTimeout > 0, "batch timeout must be > 0, got %s", c.BatchTimeout)
	check(c.MaxRetries >= 0, "max retries must be >= 0, got %d", c.MaxRetries)
	check(c.RetryInitialInterval > 0, "retry initial interval must be > 0, got %s", c.RetryInitialInterval)
	check(c.RetryMaxInterval >= c.RetryInitialInterval, "retry max interval %s is below initial interval %s", c.RetryMaxInterval, c.RetryInitialInterval)
	check(c.ExportTimeout > 0, "export timeout must be > 0, got %s", c.ExportTimeout)
	check(c.ShutdownTimeout > 0, "shutdown timeout must be > 0, got %s", c.ShutdownTimeout)
	check(c.MaxSpanLifetime >= 0, "max span lifetime must be >= 0, got %s", c.MaxSpanLifetime)
	check(c.MaxSpanLifetime == 0 || c.ReapInterval > 0, "reap interval must be > 0 when max span lifetime is set")
	check(c.DropPolicy == DropNewest || c.DropPolicy == DropOldest, "unknown drop policy %d", int(c.DropPolicy))

	return errors.Join(errs...)
}

// Resource returns the resource attributes with service.name filled in.
func (c Config) Resource() map[string]string {
	res := make(map[string]string, len(c.ResourceAttributes)+1)
	for k, v := range c.ResourceAttributes {
		res[k] = v
	}
	if _, ok := res["service.name"]; !ok {
		res["service.name"] = c.ServiceName
	}
	return res
}

// ExporterConfig returns the exporter half of the configuration.
func (c Config) ExporterConfig() ExporterConfig {
	return ExporterConfig{
		Resource:             c.Resource(),
		BatchSize:            c.BatchSize,
		QueueCapacity:        c.QueueCapacity,
		MaxRetries:           c.MaxRetries,
		BatchTimeout:         c.BatchTimeout,
		RetryInitialInterval: c.RetryInitialInterval,
		RetryMaxInterval:     c.RetryMaxInterval,
		ExportTimeout:        c.ExportTimeout,
		DropPolicy:           c.DropPolicy,
	}
}
