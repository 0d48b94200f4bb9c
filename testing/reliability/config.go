// Package reliability checks that tracing never harms the traced service.
package reliability

import (
	"testing"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds configuration for reliability testing, read from
// CHAINZ_RELIABILITY_* variables.
type Config struct {
	Level         string        `envconfig:"LEVEL"`
	Duration      time.Duration `envconfig:"DURATION" default:"2s"`
	MaxGoroutines int           `envconfig:"MAX_GOROUTINES" default:"50"`
	SpansPerRound int           `envconfig:"SPANS_PER_ROUND" default:"200"`
}

// Stress reports whether the long-running variants are enabled.
func (c Config) Stress() bool {
	return c.Level == "stress"
}

func loadConfig(t *testing.T) Config {
	t.Helper()
	var cfg Config
	if err := envconfig.Process("CHAINZ_RELIABILITY", &cfg); err != nil {
		t.Fatalf("failed to load reliability config: %v", err)
	}
	return cfg
}
