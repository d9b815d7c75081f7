package repository

import (
	"time"

	"github.com/google/uuid"
)

type options struct {
	metricsUpdateInterval time.Duration
	newID                 func() string
}

func defaultOptions() options {
	return options{
		metricsUpdateInterval: 5 * time.Second,
		newID:                 uuid.NewString,
	}
}

// Option configures a store.
type Option func(*options)

// WithMetricsUpdateInterval sets the interval for background row-count metrics.
func WithMetricsUpdateInterval(interval time.Duration) Option {
	return func(o *options) {
		if interval > 0 {
			o.metricsUpdateInterval = interval
		}
	}
}

// WithIDGenerator replaces the UUID generator.
func WithIDGenerator(fn func() string) Option {
	return func(o *options) {
		if fn != nil {
			o.newID = fn
		}
	}
}
