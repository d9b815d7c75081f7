// Package upstream talks to the original soccer-tracker REST backend. A
// Client serves both as the persistence collaborator and as the analytics
// collaborator.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/okian/soccer-tracker/internal/domain/model"
	"github.com/okian/soccer-tracker/pkg/logger"
	"github.com/okian/soccer-tracker/pkg/metrics"
)

const maxErrorBody = 4 << 10

type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client is safe for concurrent use.
type Client struct {
	baseURL string
	http    httpDoer
	timeout time.Duration

	maxRetries      uint64
	initialInterval time.Duration
	maxInterval     time.Duration

	logger logger.Logger
}

// New builds a client for the backend rooted at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:         strings.TrimSuffix(baseURL, "/"),
		http:            &http.Client{},
		timeout:         defaultTimeout,
		maxRetries:      defaultMaxRetries,
		initialInterval: defaultInitialInterval,
		maxInterval:     defaultMaxInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logger.Get().Named("upstream")
	}
	return c
}

// Close is a no-op; it satisfies the store contract.
func (c *Client) Close() error { return nil }

// call describes one request. notFound replaces the generic not-found error.
type call struct {
	op       string
	method   string
	path     string
	body     any
	out      any
	retry    bool
	notFound error
}

func (c *Client) do(ctx context.Context, cl call) error {
	var payload []byte
	if cl.body != nil {
		var err error
		if payload, err = json.Marshal(cl.body); err != nil {
			return model.NewError(model.KindValidation, cl.op, fmt.Errorf("encode request: %w", err))
		}
	}

	attempt := func() error {
		return c.attempt(ctx, cl, payload)
	}

	var policy backoff.BackOff = &backoff.StopBackOff{}
	if cl.retry && c.maxRetries > 0 {
		exp := backoff.NewExponentialBackOff()
		exp.InitialInterval = c.initialInterval
		exp.MaxInterval = c.maxInterval
		exp.MaxElapsedTime = 0
		policy = backoff.WithMaxRetries(exp, c.maxRetries)
	}

	err := backoff.RetryNotify(attempt, backoff.WithContext(policy, ctx), func(err error, wait time.Duration) {
		metrics.RecordUpstreamRetry(cl.op)
		c.logger.Warn(ctx, "upstream call retrying",
			logger.String("op", cl.op), logger.Duration("wait", wait), logger.Error(err))
	})
	if err == nil {
		return nil
	}
	var me *model.Error
	if !errors.As(err, &me) {
		err = model.NewError(model.KindNetwork, cl.op, err)
	}
	metrics.RecordError("upstream", string(model.KindOf(err)))
	return err
}

// attempt performs one round trip. Failures that cannot improve on retry are
// marked permanent.
func (c *Client) attempt(ctx context.Context, cl call, payload []byte) error {
	actx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(actx, cl.method, c.baseURL+cl.path, body)
	if err != nil {
		return backoff.Permanent(model.NewError(model.KindValidation, cl.op, err))
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return backoff.Permanent(model.NewError(model.KindNetwork, cl.op, ctx.Err()))
		}
		return model.NewError(model.KindNetwork, cl.op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if cl.out == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(cl.out); err != nil {
			return backoff.Permanent(model.NewError(model.KindUpstream, cl.op, fmt.Errorf("decode response: %w", err)))
		}
		return nil
	}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var eb errorBody
	reason := strings.TrimSpace(string(raw))
	if json.Unmarshal(raw, &eb) == nil && eb.reason() != "" {
		reason = eb.reason()
	}
	if reason == "" {
		reason = http.StatusText(resp.StatusCode)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		if cl.notFound != nil {
			return backoff.Permanent(fmt.Errorf("%s: %s: %w", cl.op, reason, cl.notFound))
		}
		return backoff.Permanent(model.Errorf(model.KindNotFound, cl.op, "%s", reason))
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		return backoff.Permanent(model.Errorf(model.KindValidation, cl.op, "%s", reason))
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return model.Errorf(model.KindUpstream, cl.op, "status %d: %s", resp.StatusCode, reason)
	default:
		return backoff.Permanent(model.Errorf(model.KindUpstream, cl.op, "status %d: %s", resp.StatusCode, reason))
	}
}
