package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"

	"github.com/okian/soccer-tracker/internal/domain/coordinator"
	"github.com/okian/soccer-tracker/internal/domain/model"
	"github.com/okian/soccer-tracker/pkg/logger"
	"github.com/okian/soccer-tracker/pkg/metrics"
)

const lockStripes = 64

// StatsLoader reads the canonical statistics of a player.
type StatsLoader interface {
	ListStats(ctx context.Context, playerID string) ([]model.StatRecord, error)
}

// Session is one player-detail scope. Shared sessions back REST reads;
// private sessions belong to a single websocket connection.
type Session struct {
	id       string
	shared   bool
	hub      *Hub
	coord    *coordinator.Coordinator
	lastUsed atomic.Int64

	// player is the hub registration key, guarded by the hub.
	player string
}

func (s *Session) ID() string { return s.id }

// PlayerID is the player whose analytics the session currently shows.
func (s *Session) PlayerID() string { return s.coord.PlayerID() }

func (s *Session) View() model.View { return s.coord.View() }

func (s *Session) Stats() []model.StatRecord { return s.coord.Stats() }

// Subscribe streams view snapshots, latest wins.
func (s *Session) Subscribe() (<-chan model.View, func()) { return s.coord.Subscribe() }

// Select points a private session at playerID; see Hub.Select.
func (s *Session) Select(ctx context.Context, playerID string) error {
	return s.hub.Select(ctx, s, playerID)
}

// Close releases a private session.
func (s *Session) Close() { s.hub.Close(s) }

func (s *Session) touch(now time.Time) { s.lastUsed.Store(now.UnixNano()) }

// Await blocks until the view is idle or ctx ends, returning the last view seen.
func (s *Session) Await(ctx context.Context) (model.View, error) {
	views, cancel := s.coord.Subscribe()
	defer cancel()
	last := s.coord.View()
	for {
		if last.State == model.StateIdle {
			return last, nil
		}
		select {
		case <-ctx.Done():
			return last, fmt.Errorf("await analytics: %w", ctx.Err())
		case v, ok := <-views:
			if !ok {
				return last, nil
			}
			last = v
		}
	}
}

// Hub routes confirmed stat changes to every session showing the affected
// player. Registration and change delivery for one player serialize on a
// striped lock, so a session switching to a player either reads a write from
// the store or receives it as a change, never neither.
type Hub struct {
	loader    StatsLoader
	newCoord  func(playerID string) *coordinator.Coordinator
	now       func() time.Time
	logger    logger.Logger
	stripes   [lockStripes]sync.Mutex
	mu        sync.Mutex
	byPlayer  map[string]map[*Session]struct{}
	shared    map[string]*Session
	private   map[*Session]struct{}
	closed    bool
	evictions atomic.Int64
}

// NewHub creates a hub. newCoord builds the coordinator of each new session.
func NewHub(loader StatsLoader, newCoord func(playerID string) *coordinator.Coordinator, l logger.Logger) *Hub {
	if l == nil {
		l = logger.Get().Named("hub")
	}
	return &Hub{
		loader:   loader,
		newCoord: newCoord,
		now:      time.Now,
		logger:   l,
		byPlayer: make(map[string]map[*Session]struct{}),
		shared:   make(map[string]*Session),
		private:  make(map[*Session]struct{}),
	}
}

func (h *Hub) stripe(playerID string) *sync.Mutex {
	return &h.stripes[xxhash.Sum64String(playerID)%lockStripes]
}

// Apply implements propagator.Notifier. The changes of one call reach each
// session inside a single batch and raise at most one fetch per session.
func (h *Hub) Apply(playerID string, changes ...model.Change) {
	lock := h.stripe(playerID)
	lock.Lock()
	defer lock.Unlock()

	for _, s := range h.sessionsOf(playerID) {
		s.coord.Batch(func() {
			for _, ch := range changes {
				s.coord.Apply(ch)
			}
		})
	}
}

// Refresh forces a new fetch in every session showing playerID.
func (h *Hub) Refresh(playerID string) {
	for _, s := range h.sessionsOf(playerID) {
		s.coord.Refresh()
	}
}

// Forget drops the shared session of a deleted player and empties the
// private sessions still showing it.
func (h *Hub) Forget(playerID string) {
	lock := h.stripe(playerID)
	lock.Lock()
	defer lock.Unlock()

	h.mu.Lock()
	shared, ok := h.shared[playerID]
	if ok {
		delete(h.shared, playerID)
		h.unregister(shared)
	}
	h.mu.Unlock()
	if ok {
		shared.coord.Close()
		metrics.UpdateActiveSessions(h.Count())
	}
	for _, s := range h.sessionsOf(playerID) {
		s.coord.Load(nil)
	}
}

func (h *Hub) sessionsOf(playerID string) []*Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.byPlayer[playerID]
	out := make([]*Session, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	return out
}

// Shared returns the REST session for playerID, creating and seeding it on
// first use.
func (h *Hub) Shared(ctx context.Context, playerID string) (*Session, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, model.Errorf(model.KindNetwork, "session", "service is stopping")
	}
	if s, ok := h.shared[playerID]; ok {
		s.touch(h.now())
		h.mu.Unlock()
		return s, nil
	}
	h.mu.Unlock()

	lock := h.stripe(playerID)
	lock.Lock()
	defer lock.Unlock()

	h.mu.Lock()
	if s, ok := h.shared[playerID]; ok {
		s.touch(h.now())
		h.mu.Unlock()
		return s, nil
	}
	h.mu.Unlock()

	records, err := h.loader.ListStats(ctx, playerID)
	if err != nil {
		return nil, err
	}
	s := h.newSession(playerID, true)
	h.mu.Lock()
	h.shared[playerID] = s
	h.register(s, playerID)
	n := len(h.shared) + len(h.private)
	h.mu.Unlock()

	s.coord.Load(records)
	metrics.UpdateActiveSessions(n)
	return s, nil
}

// Open creates a private session with no player selected.
func (h *Hub) Open() *Session {
	s := h.newSession("", false)
	h.mu.Lock()
	h.private[s] = struct{}{}
	n := len(h.shared) + len(h.private)
	h.mu.Unlock()
	metrics.UpdateActiveSessions(n)
	return s
}

// Select switches a private session to playerID. The previous player's
// in-flight fetch is invalidated and a fresh one is issued, also when
// playerID is the player already selected. On error the session is left
// without a player.
func (h *Hub) Select(ctx context.Context, s *Session, playerID string) error {
	h.detach(s)

	lock := h.stripe(playerID)
	lock.Lock()
	defer lock.Unlock()

	records, err := h.loader.ListStats(ctx, playerID)
	if err != nil {
		s.coord.Switch("", nil)
		return err
	}
	h.mu.Lock()
	h.register(s, playerID)
	h.mu.Unlock()
	s.touch(h.now())
	s.coord.Switch(playerID, records)
	return nil
}

// Close releases a private session.
func (h *Hub) Close(s *Session) {
	h.detach(s)
	h.mu.Lock()
	delete(h.private, s)
	n := len(h.shared) + len(h.private)
	h.mu.Unlock()
	s.coord.Close()
	metrics.UpdateActiveSessions(n)
}

func (h *Hub) detach(s *Session) {
	h.mu.Lock()
	prev := s.player
	h.mu.Unlock()
	if prev == "" {
		return
	}
	lock := h.stripe(prev)
	lock.Lock()
	defer lock.Unlock()
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unregister(s)
}

// register and unregister require h.mu.
func (h *Hub) register(s *Session, playerID string) {
	h.unregister(s)
	set, ok := h.byPlayer[playerID]
	if !ok {
		set = make(map[*Session]struct{})
		h.byPlayer[playerID] = set
	}
	set[s] = struct{}{}
	s.player = playerID
}

func (h *Hub) unregister(s *Session) {
	if s.player == "" {
		return
	}
	if set, ok := h.byPlayer[s.player]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(h.byPlayer, s.player)
		}
	}
	s.player = ""
}

func (h *Hub) newSession(playerID string, shared bool) *Session {
	s := &Session{id: uuid.NewString(), shared: shared, hub: h, coord: h.newCoord(playerID)}
	s.touch(h.now())
	return s
}

// EvictIdle closes shared sessions unused for longer than ttl. Private
// sessions live as long as their connection.
func (h *Hub) EvictIdle(ttl time.Duration) int {
	cutoff := h.now().Add(-ttl).UnixNano()
	var idle []*Session
	h.mu.Lock()
	for _, s := range h.shared {
		if s.lastUsed.Load() < cutoff {
			idle = append(idle, s)
		}
	}
	h.mu.Unlock()

	evicted := 0
	for _, s := range idle {
		playerID := s.coord.PlayerID()
		lock := h.stripe(playerID)
		lock.Lock()
		h.mu.Lock()
		current, ok := h.shared[playerID]
		if ok && current == s && s.lastUsed.Load() < cutoff {
			delete(h.shared, playerID)
			h.unregister(s)
			evicted++
		} else {
			ok = false
		}
		h.mu.Unlock()
		lock.Unlock()
		if ok {
			s.coord.Close()
		}
	}
	if evicted > 0 {
		h.evictions.Add(int64(evicted))
		metrics.RecordSessionsEvicted(evicted)
		metrics.UpdateActiveSessions(h.Count())
		h.logger.Debug(context.Background(), "idle sessions evicted", logger.Int("count", evicted))
	}
	return evicted
}

// Count is the number of open sessions.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.shared) + len(h.private)
}

// Players is the number of players with at least one session.
func (h *Hub) Players() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.byPlayer)
}

// Shutdown closes every session. Results still in flight are dropped.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	h.closed = true
	all := make([]*Session, 0, len(h.shared)+len(h.private))
	for _, s := range h.shared {
		all = append(all, s)
	}
	for s := range h.private {
		all = append(all, s)
	}
	h.shared = make(map[string]*Session)
	h.private = make(map[*Session]struct{})
	h.byPlayer = make(map[string]map[*Session]struct{})
	h.mu.Unlock()

	for _, s := range all {
		s.coord.Close()
	}
	metrics.UpdateActiveSessions(0)
}
