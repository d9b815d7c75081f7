// Package service wires the persistence and analytics collaborators, the
// fetch workers and the per-player sessions into the operations served by
// the HTTP API.
package service

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/okian/soccer-tracker/internal/adapters/mq/queue"
	"github.com/okian/soccer-tracker/internal/adapters/mq/worker"
	"github.com/okian/soccer-tracker/internal/adapters/repository"
	"github.com/okian/soccer-tracker/internal/adapters/upstream"
	"github.com/okian/soccer-tracker/internal/domain/aggregator"
	"github.com/okian/soccer-tracker/internal/domain/coordinator"
	"github.com/okian/soccer-tracker/internal/domain/dedupe"
	"github.com/okian/soccer-tracker/internal/domain/forecast"
	"github.com/okian/soccer-tracker/internal/domain/model"
	"github.com/okian/soccer-tracker/internal/domain/propagator"
	"github.com/okian/soccer-tracker/pkg/logger"
	"github.com/okian/soccer-tracker/pkg/metrics"
)

// Backend names accepted by WithPersistence and WithAnalytics.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendHTTP   = "http"
	BackendLocal  = "local"
)

// ErrNotStarted is returned by operations called before Start or after Stop.
var ErrNotStarted = errors.New("service not started")

// AnalyticsSource is the prediction, radar and insights collaborator.
type AnalyticsSource interface {
	aggregator.Predictor
	aggregator.RadarSource
	aggregator.InsightsSource
}

// Service implements the API dependencies for the analytics system.
type Service struct {
	mu sync.RWMutex

	// Core components
	store      repository.Store
	analytics  AnalyticsSource
	aggregator *aggregator.Aggregator
	deduper    dedupe.Deduper
	fetchQueue *queue.InMemoryQueue
	workerPool *worker.Pool
	hub        *Hub
	propagator *propagator.Propagator
	janitor    *cron.Cron

	// stopRun ends the context the workers run on, after they have drained.
	stopRun context.CancelFunc

	// Configuration
	persistence     string
	storePath       string
	analyticsKind   string
	upstreamURL     string
	upstreamTimeout time.Duration
	upstreamRetries int
	workerCount     int
	queueSize       int
	dedupeSize      int
	fetchTimeout    time.Duration
	coalesceDelay   time.Duration
	failurePolicy   aggregator.FailurePolicy
	horizonDays     int
	maxAge          int
	topN            int
	sessionIdleTTL  time.Duration
	janitorSchedule string
	latencyMin      time.Duration
	latencyMax      time.Duration

	// Injected collaborators take precedence over the backend names.
	injectedStore     repository.Store
	injectedAnalytics AnalyticsSource

	started bool
	logger  logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithWorkerCount sets the number of fetch workers.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the capacity of the fetch queue.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithDedupeSize sets how many idempotency keys are remembered.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.dedupeSize = size
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithPersistence selects memory, sqlite (stored at path) or http.
func WithPersistence(kind, path string) Option {
	return func(s *Service) {
		s.persistence = kind
		if path != "" {
			s.storePath = path
		}
	}
}

// WithAnalytics selects the local engine or the http backend.
func WithAnalytics(kind string) Option {
	return func(s *Service) {
		s.analyticsKind = kind
	}
}

// WithUpstream configures the REST backend used by the http backends.
func WithUpstream(baseURL string, timeout time.Duration, retries int) Option {
	return func(s *Service) {
		s.upstreamURL = baseURL
		if timeout > 0 {
			s.upstreamTimeout = timeout
		}
		if retries >= 0 {
			s.upstreamRetries = retries
		}
	}
}

// WithStore injects a persistence collaborator.
func WithStore(store repository.Store) Option {
	return func(s *Service) {
		s.injectedStore = store
	}
}

// WithAnalyticsSource injects an analytics collaborator.
func WithAnalyticsSource(src AnalyticsSource) Option {
	return func(s *Service) {
		s.injectedAnalytics = src
	}
}

// WithFetchTimeout bounds a single analytics fetch.
func WithFetchTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.fetchTimeout = d
		}
	}
}

// WithCoalesceDelay sets how long stats-changed signals are collected.
func WithCoalesceDelay(d time.Duration) Option {
	return func(s *Service) {
		if d >= 0 {
			s.coalesceDelay = d
		}
	}
}

// WithFailurePolicy sets what a failed facet does with its previous value.
func WithFailurePolicy(p aggregator.FailurePolicy) Option {
	return func(s *Service) {
		if p != "" {
			s.failurePolicy = p
		}
	}
}

// WithRequestDefaults sets the forecast horizon and insights cohort filters.
func WithRequestDefaults(horizonDays, maxAge, topN int) Option {
	return func(s *Service) {
		if horizonDays > 0 {
			s.horizonDays = horizonDays
		}
		if maxAge > 0 {
			s.maxAge = maxAge
		}
		if topN > 0 {
			s.topN = topN
		}
	}
}

// WithSessionJanitor sets how long shared sessions may sit idle and the cron
// schedule of the sweep.
func WithSessionJanitor(ttl time.Duration, schedule string) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.sessionIdleTTL = ttl
		}
		if schedule != "" {
			s.janitorSchedule = schedule
		}
	}
}

// WithLocalLatencyRange makes the local engine simulate service latency.
func WithLocalLatencyRange(minLatency, maxLatency time.Duration) Option {
	return func(s *Service) {
		if minLatency >= 0 && maxLatency >= minLatency {
			s.latencyMin = minLatency
			s.latencyMax = maxLatency
		}
	}
}

// New constructs a Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		persistence:     BackendMemory,
		storePath:       "data/soccer.db",
		analyticsKind:   BackendLocal,
		upstreamTimeout: 5 * time.Second,
		upstreamRetries: 3,
		workerCount:     runtime.NumCPU() * 4,
		queueSize:       1024,
		dedupeSize:      10000,
		fetchTimeout:    15 * time.Second,
		failurePolicy:   aggregator.ClearOnFailure,
		horizonDays:     model.DefaultHorizonDays,
		maxAge:          23,
		topN:            5,
		sessionIdleTTL:  5 * time.Minute,
		janitorSchedule: "@every 1m",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start builds and starts the service components.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}
	s.logger.Info(ctx, "starting analytics service...")

	store, err := s.openStore(ctx)
	if err != nil {
		return err
	}
	analytics, err := s.openAnalytics(store)
	if err != nil {
		_ = store.Close()
		return err
	}

	janitor := cron.New()
	hub := NewHub(store, s.newCoordinator, s.logger.Named("hub"))
	if _, err := janitor.AddFunc(s.janitorSchedule, func() { hub.EvictIdle(s.sessionIdleTTL) }); err != nil {
		_ = store.Close()
		return fmt.Errorf("janitor schedule %q: %w", s.janitorSchedule, err)
	}

	s.store = store
	s.analytics = analytics
	s.aggregator = aggregator.New(analytics, analytics, analytics, aggregator.WithLogger(s.logger.Named("aggregator")))
	s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.dedupeSize))
	s.fetchQueue = queue.NewInMemoryQueue(queue.WithCapacity(s.queueSize))
	s.workerPool = worker.NewPool(s.workerCount, s.fetchQueue, s.aggregator, worker.WithJobTimeout(s.fetchTimeout))
	// Workers outlive the caller's context so fetches issued while the
	// HTTP server drains still complete; Stop ends them.
	runCtx, stopRun := context.WithCancel(context.WithoutCancel(ctx))
	s.stopRun = stopRun
	s.workerPool.Start(runCtx)
	s.hub = hub
	s.propagator = propagator.New(store, hub,
		propagator.WithDeduper(s.deduper),
		propagator.WithLogger(s.logger.Named("propagator")),
	)
	s.janitor = janitor
	s.janitor.Start()

	s.started = true
	s.logger.Info(ctx, "analytics service started",
		logger.String("persistence", s.persistence),
		logger.String("analytics", s.analyticsKind),
		logger.Int("workers", s.workerPool.Size()),
		logger.Int("queueSize", s.queueSize),
		logger.Duration("coalesceDelay", s.coalesceDelay),
		logger.String("failurePolicy", string(s.failurePolicy)),
	)
	return nil
}

func (s *Service) openStore(ctx context.Context) (repository.Store, error) {
	if s.injectedStore != nil {
		return s.injectedStore, nil
	}
	switch s.persistence {
	case BackendMemory, "":
		return repository.NewMemoryStore(ctx), nil
	case BackendSQLite:
		store, err := repository.NewSQLiteStore(ctx, s.storePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return store, nil
	case BackendHTTP:
		return s.upstreamClient(), nil
	default:
		return nil, fmt.Errorf("unknown persistence %q", s.persistence)
	}
}

func (s *Service) openAnalytics(store repository.Store) (AnalyticsSource, error) {
	if s.injectedAnalytics != nil {
		return s.injectedAnalytics, nil
	}
	switch s.analyticsKind {
	case BackendLocal, "":
		return forecast.NewEngine(store, forecast.WithLatencyRange(s.latencyMin, s.latencyMax)), nil
	case BackendHTTP:
		if c, ok := store.(*upstream.Client); ok {
			return c, nil
		}
		return s.upstreamClient(), nil
	default:
		return nil, fmt.Errorf("unknown analytics %q", s.analyticsKind)
	}
}

func (s *Service) upstreamClient() *upstream.Client {
	return upstream.New(s.upstreamURL,
		upstream.WithTimeout(s.upstreamTimeout),
		upstream.WithMaxRetries(s.upstreamRetries),
		upstream.WithLogger(s.logger.Named("upstream")),
	)
}

func (s *Service) newCoordinator(playerID string) *coordinator.Coordinator {
	return coordinator.New(playerID,
		coordinator.WithDispatcher(s.fetchQueue),
		coordinator.WithCoalesceDelay(s.coalesceDelay),
		coordinator.WithFailurePolicy(s.failurePolicy),
		coordinator.WithRequestDefaults(s.horizonDays, s.maxAge, s.topN),
		coordinator.WithLogger(s.logger.Named("coordinator")),
	)
}

// Stop closes sessions, drains the fetch workers and closes the store.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	ctx := context.Background()
	s.logger.Info(ctx, "stopping analytics service...")

	<-s.janitor.Stop().Done()
	s.hub.Shutdown()
	if err := s.workerPool.Shutdown(ctx); err != nil {
		s.logger.Warn(ctx, "worker pool shutdown incomplete", logger.Error(err))
	}
	s.stopRun()
	if err := s.store.Close(); err != nil {
		s.logger.Warn(ctx, "store close failed", logger.Error(err))
	}
	if s.analytics != nil && any(s.analytics) != any(s.store) {
		if closer, ok := s.analytics.(interface{ Close() error }); ok {
			_ = closer.Close()
		}
	}

	s.started = false
	s.logger.Info(ctx, "analytics service stopped")
}

// running returns the live components or ErrNotStarted.
func (s *Service) running() (repository.Store, *Hub, *propagator.Propagator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return nil, nil, nil, ErrNotStarted
	}
	return s.store, s.hub, s.propagator, nil
}

func (s *Service) ListPlayers(ctx context.Context) ([]model.Player, error) {
	store, _, _, err := s.running()
	if err != nil {
		return nil, err
	}
	return store.ListPlayers(ctx)
}

func (s *Service) GetPlayer(ctx context.Context, id string) (model.Player, error) {
	store, _, _, err := s.running()
	if err != nil {
		return model.Player{}, err
	}
	return store.GetPlayer(ctx, id)
}

func (s *Service) CreatePlayer(ctx context.Context, f model.PlayerFields) (model.Player, error) {
	store, _, _, err := s.running()
	if err != nil {
		return model.Player{}, err
	}
	return store.CreatePlayer(ctx, f)
}

// UpdatePlayer stores f and refreshes the open views of the player, since
// team and age feed the radar and insights facets.
func (s *Service) UpdatePlayer(ctx context.Context, id string, f model.PlayerFields) (model.Player, error) {
	store, hub, _, err := s.running()
	if err != nil {
		return model.Player{}, err
	}
	p, err := store.UpdatePlayer(ctx, id, f)
	if err != nil {
		return model.Player{}, err
	}
	hub.Refresh(id)
	return p, nil
}

// DeletePlayer removes the player with its stats and drops its sessions.
func (s *Service) DeletePlayer(ctx context.Context, id string) error {
	store, hub, _, err := s.running()
	if err != nil {
		return err
	}
	if err := store.DeletePlayer(ctx, id); err != nil {
		return err
	}
	hub.Forget(id)
	return nil
}

func (s *Service) ListStats(ctx context.Context, playerID string) ([]model.StatRecord, error) {
	store, _, _, err := s.running()
	if err != nil {
		return nil, err
	}
	return store.ListStats(ctx, playerID)
}

// StatTrend returns the dated stats of a player ordered by match date.
func (s *Service) StatTrend(ctx context.Context, playerID string) ([]model.StatRecord, error) {
	records, err := s.ListStats(ctx, playerID)
	if err != nil {
		return nil, err
	}
	dated := model.DatedOnly(records)
	sort.SliceStable(dated, func(i, j int) bool { return dated[i].MatchDate.Before(dated[j].MatchDate.Time) })
	return dated, nil
}

// CreateStat adds one record. A non-empty key makes retries idempotent.
func (s *Service) CreateStat(ctx context.Context, key, playerID string, raw map[string]any) (model.StatRecord, error) {
	_, _, p, err := s.running()
	if err != nil {
		return model.StatRecord{}, err
	}
	return p.AddOnce(ctx, key, playerID, raw)
}

// CreateStats adds records in order, stopping at the first failure.
func (s *Service) CreateStats(ctx context.Context, playerID string, raws []map[string]any) ([]model.StatRecord, error) {
	_, _, p, err := s.running()
	if err != nil {
		return nil, err
	}
	return p.AddBatch(ctx, playerID, raws)
}

func (s *Service) UpdateStat(ctx context.Context, playerID, statID string, raw map[string]any) (model.StatRecord, error) {
	_, _, p, err := s.running()
	if err != nil {
		return model.StatRecord{}, err
	}
	return p.Update(ctx, playerID, statID, raw)
}

func (s *Service) DeleteStat(ctx context.Context, playerID, statID string) error {
	_, _, p, err := s.running()
	if err != nil {
		return err
	}
	return p.Remove(ctx, playerID, statID)
}

// Analytics returns the current view of a player. With wait it blocks until
// the view is idle or ctx ends.
func (s *Service) Analytics(ctx context.Context, playerID string, wait bool) (model.View, error) {
	_, hub, _, err := s.running()
	if err != nil {
		return model.View{}, err
	}
	sess, err := hub.Shared(ctx, playerID)
	if err != nil {
		return model.View{}, err
	}
	if !wait {
		return sess.View(), nil
	}
	return sess.Await(ctx)
}

// RefreshAnalytics forces a fetch for every open view of the player.
func (s *Service) RefreshAnalytics(ctx context.Context, playerID string) (model.View, error) {
	_, hub, _, err := s.running()
	if err != nil {
		return model.View{}, err
	}
	sess, err := hub.Shared(ctx, playerID)
	if err != nil {
		return model.View{}, err
	}
	hub.Refresh(playerID)
	return sess.View(), nil
}

// Insights fetches the cohort ranking without a selected player. Values
// below one fall back to the configured filters.
func (s *Service) Insights(ctx context.Context, maxAge, topN int) (model.Insights, error) {
	s.mu.RLock()
	agg, started := s.aggregator, s.started
	if maxAge < 1 {
		maxAge = s.maxAge
	}
	if topN < 1 {
		topN = s.topN
	}
	s.mu.RUnlock()
	if !started {
		return model.Insights{}, ErrNotStarted
	}
	return agg.Insights(ctx, maxAge, topN)
}

// OpenSession creates a private session for a streaming client.
func (s *Service) OpenSession() (*Session, error) {
	_, hub, _, err := s.running()
	if err != nil {
		return nil, err
	}
	return hub.Open(), nil
}

// EvictIdleSessions runs one janitor sweep.
func (s *Service) EvictIdleSessions() int {
	_, hub, _, err := s.running()
	if err != nil {
		return 0
	}
	return hub.EvictIdle(s.sessionIdleTTL)
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx := context.Background()
	stats := map[string]any{
		"started":       s.started,
		"persistence":   s.persistence,
		"analytics":     s.analyticsKind,
		"workerCount":   s.workerCount,
		"queueSize":     s.queueSize,
		"dedupeSize":    s.dedupeSize,
		"failurePolicy": string(s.failurePolicy),
	}

	if s.started {
		queueLen := s.fetchQueue.Len(ctx)
		stats["queueLength"] = queueLen
		stats["jobsProcessed"] = s.workerPool.Processed()
		stats["sessions"] = s.hub.Count()
		stats["trackedPlayers"] = s.hub.Players()
		stats["idempotencyKeys"] = s.deduper.Size()

		metrics.UpdateQueue(queueLen, s.fetchQueue.Capacity())
		metrics.UpdateWorkerCount(s.workerPool.Size())
		metrics.UpdateActiveSessions(s.hub.Count())
		metrics.UpdateTrackedPlayers(s.hub.Players())
	}
	return stats
}
