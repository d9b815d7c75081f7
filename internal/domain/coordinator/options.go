package coordinator

import (
	"time"

	"github.com/okian/soccer-tracker/internal/domain/aggregator"
	"github.com/okian/soccer-tracker/pkg/logger"
)

const (
	defaultMaxAge = 23
	defaultTopN   = 5
)

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithCoalesceDelay sets how long signals are collected before a fetch is
// issued. Zero still coalesces signals raised before the flush goroutine runs.
func WithCoalesceDelay(d time.Duration) Option {
	return func(c *Coordinator) {
		if d >= 0 {
			c.delay = d
		}
	}
}

// WithFailurePolicy selects how failed facets treat their previous value.
func WithFailurePolicy(p aggregator.FailurePolicy) Option {
	return func(c *Coordinator) {
		if p != "" {
			c.policy = p
		}
	}
}

// WithDispatcher sets where fetch jobs are sent.
func WithDispatcher(d Dispatcher) Option {
	return func(c *Coordinator) {
		if d != nil {
			c.dispatcher = d
		}
	}
}

// WithRequestDefaults sets the forecast horizon and the insights cohort filters.
func WithRequestDefaults(horizonDays, maxAge, topN int) Option {
	return func(c *Coordinator) {
		if horizonDays > 0 {
			c.horizon = horizonDays
		}
		if maxAge > 0 {
			c.maxAge = maxAge
		}
		if topN > 0 {
			c.topN = topN
		}
	}
}

func WithLogger(l logger.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithClock overrides the time source used for UpdatedAt.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}
