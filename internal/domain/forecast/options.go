package forecast

import "time"

// Option configures an Engine.
type Option func(*Engine)

// WithLatencyRange makes every call wait a random duration in [min, max).
func WithLatencyRange(minLatency, maxLatency time.Duration) Option {
	return func(e *Engine) {
		if minLatency >= 0 && maxLatency >= minLatency {
			e.minLatency = minLatency
			e.maxLatency = maxLatency
		}
	}
}
