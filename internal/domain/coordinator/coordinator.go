// Package coordinator owns one player-detail scope: the canonical stats, the
// published analytics view and the generation bookkeeping that keeps late
// results from overwriting newer ones.
//
// Lifecycle per scope:
//
//	idle --signal--> pending --flush--> in_flight(g) --complete(g)--> idle
//
// A signal while in_flight moves back to pending. A completion is committed
// only if its generation is the latest issued and the scope is still
// in_flight; everything else is dropped silently.
package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okian/soccer-tracker/internal/domain/aggregator"
	"github.com/okian/soccer-tracker/internal/domain/model"
	"github.com/okian/soccer-tracker/pkg/logger"
	"github.com/okian/soccer-tracker/pkg/metrics"
)

// Dispatcher starts a fetch job. When Dispatch returns an error the job is
// treated as failed and Deliver must not be called.
type Dispatcher interface {
	Dispatch(job model.FetchJob) error
}

// DispatchFunc adapts a function to Dispatcher.
type DispatchFunc func(job model.FetchJob) error

func (f DispatchFunc) Dispatch(job model.FetchJob) error { return f(job) }

// FetchFunc computes one analytics result.
type FetchFunc func(ctx context.Context, req model.AnalyticsRequest) model.AnalyticsResult

// Async returns a Dispatcher that runs each job on its own goroutine.
func Async(fetch FetchFunc) Dispatcher {
	return DispatchFunc(func(job model.FetchJob) error {
		go job.Deliver(fetch(context.Background(), job.Request))
		return nil
	})
}

// Coordinator is safe for concurrent use.
type Coordinator struct {
	mu sync.Mutex

	playerID string
	stats    *model.StatCollection
	view     model.View
	state    model.State
	// latest is the newest generation issued; results tagged older are stale.
	latest uint64

	armed  bool
	timer  *time.Timer
	holds  int
	dirty  bool
	closed bool

	subs    map[int]chan model.View
	nextSub int

	delay      time.Duration
	policy     aggregator.FailurePolicy
	dispatcher Dispatcher
	horizon    int
	maxAge     int
	topN       int
	logger     logger.Logger
	now        func() time.Time
}

// New creates an idle coordinator for playerID with an empty collection.
// Call Load or Switch to seed statistics and trigger the first fetch.
func New(playerID string, opts ...Option) *Coordinator {
	c := &Coordinator{
		playerID: playerID,
		stats:    model.NewStatCollection(),
		view:     model.EmptyView(playerID),
		state:    model.StateIdle,
		subs:     make(map[int]chan model.View),
		policy:   aggregator.ClearOnFailure,
		horizon:  model.DefaultHorizonDays,
		maxAge:   defaultMaxAge,
		topN:     defaultTopN,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logger.Get().Named("coordinator")
	}
	if c.dispatcher == nil {
		c.dispatcher = DispatchFunc(func(job model.FetchJob) error {
			return model.Errorf(model.KindNetwork, "dispatch", "no analytics dispatcher configured")
		})
	}
	c.view.StatsDigest = c.stats.Digest()
	return c
}

// PlayerID returns the player currently in scope.
func (c *Coordinator) PlayerID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playerID
}

// View returns the current snapshot.
func (c *Coordinator) View() model.View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot()
}

// Stats returns the canonical records in insertion order.
func (c *Coordinator) Stats() []model.StatRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats.Records()
}

// State returns the lifecycle state.
func (c *Coordinator) State() model.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Load replaces the collection for the current player and forces a fetch.
func (c *Coordinator) Load(records []model.StatRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reset(c.playerID, records)
}

// Switch moves the scope to another player. Whatever was in flight for the
// previous player is invalidated and a fresh fetch is forced, even when
// playerID equals the current one.
func (c *Coordinator) Switch(playerID string, records []model.StatRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reset(playerID, records)
}

func (c *Coordinator) reset(playerID string, records []model.StatRecord) {
	if c.closed {
		return
	}
	c.playerID = playerID
	c.stats = model.NewStatCollection(records...)
	c.view = model.EmptyView(playerID)
	c.view.StatsDigest = c.stats.Digest()
	c.view.StatCount = c.stats.Len()
	// A result still in flight for the previous scope fails the state check
	// in complete, and the next flush moves latest past its generation.
	c.signal("switch")
}

// Apply folds a confirmed mutation into the collection. It reports whether
// the contents changed; only a change raises a stats-changed signal.
func (c *Coordinator) Apply(ch model.Change) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	if pid := ch.Record.PlayerID; pid != "" && pid != c.playerID {
		return false
	}
	if !c.stats.Apply(ch) {
		return false
	}
	c.signal(string(ch.Op))
	return true
}

// Refresh forces a recomputation for the current statistics.
func (c *Coordinator) Refresh() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.signal("refresh")
}

// Batch runs fn with flushing held back, so every signal raised inside fn
// collapses into a single fetch issued when fn returns.
func (c *Coordinator) Batch(fn func()) {
	c.mu.Lock()
	c.holds++
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.holds--
		if c.holds == 0 && c.dirty && !c.closed {
			c.dirty = false
			c.arm()
		}
	}()
	fn()
}

// signal records a stats change. Callers hold c.mu.
func (c *Coordinator) signal(reason string) {
	if c.state != model.StatePending {
		c.setState(model.StatePending)
	}
	if c.holds > 0 {
		c.dirty = true
		metrics.RecordChangeSignal("held")
		return
	}
	if c.armed {
		metrics.RecordChangeSignal("coalesced")
		return
	}
	c.logger.Debug(context.Background(), "stats changed",
		logger.String("player_id", c.playerID), logger.String("reason", reason))
	c.arm()
}

func (c *Coordinator) arm() {
	if c.armed {
		metrics.RecordChangeSignal("coalesced")
		return
	}
	c.armed = true
	metrics.RecordChangeSignal("armed")
	c.timer = time.AfterFunc(c.delay, c.flush)
}

// flush issues the fetch for everything signalled since the last flush.
func (c *Coordinator) flush() {
	c.mu.Lock()
	c.armed = false
	if c.closed || c.state != model.StatePending {
		c.mu.Unlock()
		return
	}

	c.latest++
	gen := c.latest
	playerID := c.playerID
	digest := c.stats.Digest()
	count := c.stats.Len()

	if count == 0 {
		view := model.EmptyView(playerID)
		view.Generation = gen
		view.StatsDigest = digest
		view.UpdatedAt = c.now()
		c.view = view
		c.state = model.StateIdle
		metrics.RecordAnalyticsFetch(metrics.FetchShortCircuit)
		c.publish()
		c.mu.Unlock()
		return
	}

	req := model.AnalyticsRequest{
		PlayerID:    playerID,
		Stats:       c.stats.Records(),
		HorizonDays: c.horizon,
		MaxAge:      c.maxAge,
		TopN:        c.topN,
		Selected:    playerID != "",
	}
	c.setState(model.StateInFlight)
	c.mu.Unlock()

	job := model.FetchJob{
		ID:         uuid.NewString(),
		PlayerID:   playerID,
		Generation: gen,
		Request:    req,
		EnqueuedAt: c.now(),
		Deliver: func(res model.AnalyticsResult) {
			c.complete(playerID, gen, digest, count, res)
		},
	}
	metrics.RecordAnalyticsFetch(metrics.FetchIssued)
	c.logger.Debug(context.Background(), "analytics fetch issued",
		logger.String("player_id", playerID), logger.Uint64("generation", gen), logger.Int("stats", count))

	if err := c.dispatcher.Dispatch(job); err != nil {
		metrics.RecordAnalyticsFetch(metrics.FetchDispatchFail)
		c.logger.Warn(context.Background(), "analytics dispatch failed",
			logger.String("player_id", playerID), logger.Uint64("generation", gen), logger.Error(err))
		c.complete(playerID, gen, digest, count, model.FailedResult(model.NewError(model.KindNetwork, "dispatch", err)))
	}
}

// complete commits res if it still belongs to the newest generation.
func (c *Coordinator) complete(playerID string, gen uint64, digest string, count int, res model.AnalyticsResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || playerID != c.playerID || gen != c.latest || c.state != model.StateInFlight {
		metrics.RecordAnalyticsFetch(metrics.FetchDiscarded)
		c.logger.Debug(context.Background(), "stale analytics result dropped",
			logger.String("player_id", playerID), logger.Uint64("generation", gen), logger.Uint64("latest", c.latest))
		return
	}
	next := aggregator.Merge(c.view, res, gen, c.policy)
	next.PlayerID = playerID
	next.StatsDigest = digest
	next.StatCount = count
	next.UpdatedAt = c.now()
	c.view = next
	c.state = model.StateIdle
	metrics.RecordAnalyticsFetch(metrics.FetchCommitted)
	c.publish()
}

func (c *Coordinator) setState(s model.State) {
	c.state = s
	c.publish()
}

func (c *Coordinator) snapshot() model.View {
	v := c.view
	v.State = c.state
	return v
}

// Subscribe delivers snapshots on every transition. The channel holds only
// the latest snapshot; slow readers skip intermediate ones. cancel releases it.
func (c *Coordinator) Subscribe() (<-chan model.View, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan model.View, 1)
	if c.closed {
		close(ch)
		return ch, func() {}
	}
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	ch <- c.snapshot()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if sub, ok := c.subs[id]; ok {
				delete(c.subs, id)
				close(sub)
			}
		})
	}
}

func (c *Coordinator) publish() {
	v := c.snapshot()
	for _, ch := range c.subs {
		select {
		case ch <- v:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- v:
		default:
		}
	}
}

// Close stops pending flushes, ignores further results and closes subscribers.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	for id, ch := range c.subs {
		delete(c.subs, id)
		close(ch)
	}
}
