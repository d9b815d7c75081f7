// Package config defines service configuration and its defaults.
package config

import (
	"fmt"
	"runtime"
	"strings"
	"time"
)

// Backends for persistence and analytics.
const (
	PersistenceMemory = "memory"
	PersistenceSQLite = "sqlite"
	PersistenceHTTP   = "http"

	AnalyticsLocal = "local"
	AnalyticsHTTP  = "http"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// Persistence selects the store: memory, sqlite or http (the upstream backend).
	Persistence string `koanf:"persistence"`
	// StorePath is the SQLite file used by the sqlite backend.
	StorePath string `koanf:"store_path"`

	// Analytics selects the collaborator: local (in-process) or http.
	Analytics string `koanf:"analytics"`

	UpstreamURL       string `koanf:"upstream_url"`
	UpstreamTimeoutMS int    `koanf:"upstream_timeout_ms"`
	UpstreamRetries   int    `koanf:"upstream_retries"`

	// CoalesceDelayMS is how long stats-changed signals are gathered before a
	// fetch is issued. Zero flushes on the next scheduler turn.
	CoalesceDelayMS int `koanf:"coalesce_delay_ms"`

	// FacetFailurePolicy is clear or retain_stale.
	FacetFailurePolicy string `koanf:"facet_failure_policy"`

	HorizonDays    int `koanf:"horizon_days"`
	InsightsMaxAge int `koanf:"insights_max_age"`
	InsightsTopN   int `koanf:"insights_top_n"`

	// WorkerCount sets the number of analytics fetch workers.
	WorkerCount int `koanf:"worker_count"`
	// FetchQueueSize bounds the pending fetch jobs.
	FetchQueueSize int `koanf:"fetch_queue_size"`
	// FetchTimeoutMS bounds a single fetch fan-out.
	FetchTimeoutMS int `koanf:"fetch_timeout_ms"`

	// DedupeSize caps the remembered idempotency keys.
	DedupeSize int `koanf:"dedupe_size"`

	// SessionIdleTTLS evicts shared sessions unused for this many seconds.
	SessionIdleTTLS int `koanf:"session_idle_ttl_s"`
	// JanitorSchedule is a cron spec for the eviction sweep.
	JanitorSchedule string `koanf:"janitor_schedule"`

	// LocalLatencyMinMS and LocalLatencyMaxMS simulate remote latency for
	// the local analytics engine.
	LocalLatencyMinMS int `koanf:"local_latency_min_ms"`
	LocalLatencyMaxMS int `koanf:"local_latency_max_ms"`

	CORSOrigins []string `koanf:"cors_origins"`
}

// New returns a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:           "info",
		Addr:               ":9080",
		Persistence:        PersistenceMemory,
		StorePath:          "data/soccer.db",
		Analytics:          AnalyticsLocal,
		UpstreamURL:        "http://127.0.0.1:8000",
		UpstreamTimeoutMS:  5000,
		UpstreamRetries:    3,
		CoalesceDelayMS:    0,
		FacetFailurePolicy: "clear",
		HorizonDays:        180,
		InsightsMaxAge:     23,
		InsightsTopN:       5,
		WorkerCount:        runtime.NumCPU() * 4,
		FetchQueueSize:     1024,
		FetchTimeoutMS:     15000,
		DedupeSize:         10_000,
		SessionIdleTTLS:    300,
		JanitorSchedule:    "@every 1m",
		LocalLatencyMinMS:  0,
		LocalLatencyMaxMS:  0,
		CORSOrigins:        []string{"http://localhost:3000", "http://127.0.0.1:3000"},
	}
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Addr) == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.Persistence != PersistenceMemory && c.Persistence != PersistenceSQLite && c.Persistence != PersistenceHTTP:
		return fmt.Errorf("%w: unknown persistence %q", ErrInvalidConfig, c.Persistence)
	case c.Persistence == PersistenceSQLite && c.StorePath == "":
		return fmt.Errorf("%w: store_path is required for sqlite", ErrInvalidConfig)
	case c.Analytics != AnalyticsLocal && c.Analytics != AnalyticsHTTP:
		return fmt.Errorf("%w: unknown analytics %q", ErrInvalidConfig, c.Analytics)
	case (c.Persistence == PersistenceHTTP || c.Analytics == AnalyticsHTTP) && c.UpstreamURL == "":
		return fmt.Errorf("%w: upstream_url is required for http backends", ErrInvalidConfig)
	case c.FacetFailurePolicy != "" && c.FacetFailurePolicy != "clear" && c.FacetFailurePolicy != "retain_stale":
		return fmt.Errorf("%w: unknown facet_failure_policy %q", ErrInvalidConfig, c.FacetFailurePolicy)
	case c.CoalesceDelayMS < 0:
		return fmt.Errorf("%w: coalesce_delay_ms must be >= 0", ErrInvalidConfig)
	case c.HorizonDays <= 0:
		return fmt.Errorf("%w: horizon_days must be positive", ErrInvalidConfig)
	case c.InsightsTopN <= 0:
		return fmt.Errorf("%w: insights_top_n must be positive", ErrInvalidConfig)
	case c.InsightsMaxAge < 0:
		return fmt.Errorf("%w: insights_max_age must be >= 0", ErrInvalidConfig)
	case c.LocalLatencyMinMS < 0 || c.LocalLatencyMaxMS < c.LocalLatencyMinMS:
		return fmt.Errorf("%w: local latency range [%d, %d] is invalid", ErrInvalidConfig, c.LocalLatencyMinMS, c.LocalLatencyMaxMS)
	}
	return nil
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

func (c *Config) CoalesceDelay() time.Duration   { return ms(c.CoalesceDelayMS) }
func (c *Config) UpstreamTimeout() time.Duration { return ms(c.UpstreamTimeoutMS) }
func (c *Config) FetchTimeout() time.Duration    { return ms(c.FetchTimeoutMS) }
func (c *Config) SessionIdleTTL() time.Duration  { return time.Duration(c.SessionIdleTTLS) * time.Second }
