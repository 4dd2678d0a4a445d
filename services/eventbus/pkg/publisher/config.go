package publisher

import (
	"fmt"
	"time"

	"github.com/YaganovValera/eventbus/services/eventbus/pkg/routing"
)

const (
	DefaultMaxBatchSize  = 256
	DefaultMaxBatchDelay = 100 * time.Millisecond
)

// RetryPolicy bounds delivery attempts of one chunk. The delay before
// attempt n+1 is min(Step*n, Max).
type RetryPolicy struct {
	MaxAttempts int
	Step        time.Duration
	Max         time.Duration
}

// DefaultRetryPolicy is 3 attempts with 200ms, 400ms between them.
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 3, Step: 200 * time.Millisecond, Max: time.Second}

// Config is the immutable configuration of one Publisher.
type Config struct {
	// Provider labels logs and metrics, e.g. "kafka".
	Provider      string
	MaxBatchSize  int
	MaxBatchDelay time.Duration
	Routing       *routing.Table
	// Filter is the record kind allow-list; nil allows every kind.
	Filter *routing.Filter
	Retry  RetryPolicy
}

func (c *Config) applyDefaults() {
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = DefaultMaxBatchSize
	}
	if c.MaxBatchDelay <= 0 {
		c.MaxBatchDelay = DefaultMaxBatchDelay
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = DefaultRetryPolicy.MaxAttempts
	}
	if c.Retry.Step <= 0 {
		c.Retry.Step = DefaultRetryPolicy.Step
	}
	if c.Retry.Max <= 0 {
		c.Retry.Max = DefaultRetryPolicy.Max
	}
}

func (c Config) validate() error {
	if c.Provider == "" {
		return fmt.Errorf("publisher: provider name is required")
	}
	if c.Routing == nil {
		return fmt.Errorf("publisher: routing table is required")
	}
	return nil
}
