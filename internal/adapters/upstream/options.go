package upstream

import (
	"net/http"
	"time"

	"github.com/okian/soccer-tracker/pkg/logger"
)

const (
	defaultTimeout         = 10 * time.Second
	defaultMaxRetries      = 3
	defaultInitialInterval = 100 * time.Millisecond
	defaultMaxInterval     = 2 * time.Second
)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the transport. Its own timeout takes precedence.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithTimeout bounds each attempt of a call.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithMaxRetries sets how many times a retryable call is repeated. Zero disables retries.
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		if n >= 0 {
			c.maxRetries = uint64(n)
		}
	}
}

// WithBackoffIntervals sets the exponential backoff bounds between retries.
func WithBackoffIntervals(initial, maxInterval time.Duration) Option {
	return func(c *Client) {
		if initial > 0 && maxInterval >= initial {
			c.initialInterval = initial
			c.maxInterval = maxInterval
		}
	}
}

func WithLogger(l logger.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}
