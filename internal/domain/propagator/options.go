package propagator

import (
	"github.com/okian/soccer-tracker/internal/domain/dedupe"
	"github.com/okian/soccer-tracker/pkg/logger"
)

// Option configures a Propagator.
type Option func(*Propagator)

// WithDeduper enables idempotency keys for AddOnce.
func WithDeduper(d dedupe.Deduper) Option {
	return func(p *Propagator) {
		p.dedupe = d
	}
}

func WithLogger(l logger.Logger) Option {
	return func(p *Propagator) {
		if l != nil {
			p.logger = l
		}
	}
}
