package host

import (
	"time"

	"github.com/ardnew/softgmu/hfi"
	"github.com/ardnew/softgmu/pkg/metrics"
)

// Config configures a Host.
type Config struct {
	// ResponseTimeout bounds the wait for the response interrupt.
	ResponseTimeout time.Duration

	// PollInterval is how often the interrupt status is checked while
	// waiting.
	PollInterval time.Duration

	// Features are enabled one FEATURE_CTRL at a time during bootstrap.
	// Nil selects DefaultFeatures; an empty slice enables nothing.
	Features []hfi.Feature

	// BootLevel is the GPU perf level voted during bootstrap. Nil,
	// HighestLevel, or an index past the table selects the highest level.
	BootLevel *int

	// BootBandwidth is the bandwidth level voted during bootstrap.
	BootBandwidth uint32

	// NotifyOnStop sends PREPARE_SLUMBER before the queues are reset.
	NotifyOnStop bool

	// Legacy disables queue padding for firmware that predates it.
	Legacy bool

	// Metrics receives transaction and session metrics. Nil disables them.
	Metrics *metrics.Metrics
}

// DefaultConfig returns the default host configuration.
func DefaultConfig() Config {
	return Config{
		ResponseTimeout: DefaultResponseTimeout,
		PollInterval:    DefaultPollInterval,
		Features:        DefaultFeatures(),
	}
}

// DefaultFeatures returns the features enabled when Config.Features is nil.
func DefaultFeatures() []hfi.Feature {
	return []hfi.Feature{hfi.FeatureACD}
}

// Level returns a pointer to n for Config.BootLevel.
func Level(n int) *int {
	return &n
}

// withDefaults fills zero timing fields and a nil feature list.
func (c Config) withDefaults() Config {
	if c.ResponseTimeout <= 0 {
		c.ResponseTimeout = DefaultResponseTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.Features == nil {
		c.Features = DefaultFeatures()
	}
	return c
}
