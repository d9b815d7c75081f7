package aggregator

import "github.com/okian/soccer-tracker/pkg/logger"

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithLogger sets the logger used for facet failures.
func WithLogger(l logger.Logger) Option {
	return func(a *Aggregator) {
		if l != nil {
			a.logger = l
		}
	}
}
