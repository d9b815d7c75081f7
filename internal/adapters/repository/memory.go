package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/okian/soccer-tracker/internal/domain/model"
)

const backendMemory = "memory"

// MemoryStore keeps everything in process. It is the default backend and
// the fixture used by tests.
type MemoryStore struct {
	mu      sync.RWMutex
	order   []string
	players map[string]model.Player
	stats   map[string][]model.StatRecord

	opts    options
	updater *metricsUpdater
}

// NewMemoryStore builds an empty store. The background metrics updater stops
// when ctx is done or Close is called.
func NewMemoryStore(ctx context.Context, opts ...Option) *MemoryStore {
	s := &MemoryStore{
		players: make(map[string]model.Player),
		stats:   make(map[string][]model.StatRecord),
		opts:    defaultOptions(),
	}
	for _, opt := range opts {
		opt(&s.opts)
	}
	s.updater = startMetricsUpdater(ctx, backendMemory, s.opts.metricsUpdateInterval, s.Counts)
	return s
}

// Close stops the metrics updater.
func (s *MemoryStore) Close() error {
	s.updater.Close()
	return nil
}

// Counts reports the number of stored players and stats.
func (s *MemoryStore) Counts(context.Context) (Counts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c := Counts{Players: len(s.players)}
	for _, rs := range s.stats {
		c.Stats += len(rs)
	}
	return c, nil
}

func (s *MemoryStore) ListPlayers(context.Context) ([]model.Player, error) {
	defer observe(backendMemory, "list_players", time.Now())
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Player, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.players[id])
	}
	return out, nil
}

func (s *MemoryStore) GetPlayer(_ context.Context, id string) (model.Player, error) {
	defer observe(backendMemory, "get_player", time.Now())
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.players[id]
	if !ok {
		return model.Player{}, fmt.Errorf("get player %s: %w", id, ErrPlayerNotFound)
	}
	return p, nil
}

func (s *MemoryStore) CreatePlayer(_ context.Context, f model.PlayerFields) (model.Player, error) {
	defer observe(backendMemory, "create_player", time.Now())
	if err := ValidatePlayer(f); err != nil {
		return model.Player{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p := f.WithID(s.opts.newID())
	s.players[p.ID] = p
	s.order = append(s.order, p.ID)
	return p, nil
}

func (s *MemoryStore) UpdatePlayer(_ context.Context, id string, f model.PlayerFields) (model.Player, error) {
	defer observe(backendMemory, "update_player", time.Now())
	if err := ValidatePlayer(f); err != nil {
		return model.Player{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.players[id]; !ok {
		return model.Player{}, fmt.Errorf("update player %s: %w", id, ErrPlayerNotFound)
	}
	p := f.WithID(id)
	s.players[id] = p
	return p, nil
}

func (s *MemoryStore) DeletePlayer(_ context.Context, id string) error {
	defer observe(backendMemory, "delete_player", time.Now())
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.players[id]; !ok {
		return fmt.Errorf("delete player %s: %w", id, ErrPlayerNotFound)
	}
	delete(s.players, id)
	delete(s.stats, id)
	for i, pid := range s.order {
		if pid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

func (s *MemoryStore) ListStats(_ context.Context, playerID string) ([]model.StatRecord, error) {
	defer observe(backendMemory, "list_stats", time.Now())
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.players[playerID]; !ok {
		return nil, fmt.Errorf("list stats %s: %w", playerID, ErrPlayerNotFound)
	}
	rs := s.stats[playerID]
	out := make([]model.StatRecord, len(rs))
	copy(out, rs)
	return out, nil
}

func (s *MemoryStore) GetStat(_ context.Context, playerID, statID string) (model.StatRecord, error) {
	defer observe(backendMemory, "get_stat", time.Now())
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := s.indexOf(playerID, statID)
	if i < 0 {
		return model.StatRecord{}, fmt.Errorf("get stat %s: %w", statID, ErrStatNotFound)
	}
	return s.stats[playerID][i], nil
}

func (s *MemoryStore) CreateStat(_ context.Context, playerID string, rec model.StatRecord) (model.StatRecord, error) {
	defer observe(backendMemory, "create_stat", time.Now())
	if err := ValidateStat(rec); err != nil {
		return model.StatRecord{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.players[playerID]; !ok {
		return model.StatRecord{}, fmt.Errorf("create stat: %w", ErrPlayerNotFound)
	}
	rec.ID = s.opts.newID()
	rec.PlayerID = playerID
	s.stats[playerID] = append(s.stats[playerID], rec)
	return rec, nil
}

func (s *MemoryStore) UpdateStat(_ context.Context, playerID, statID string, rec model.StatRecord) (model.StatRecord, error) {
	defer observe(backendMemory, "update_stat", time.Now())
	if err := ValidateStat(rec); err != nil {
		return model.StatRecord{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(playerID, statID)
	if i < 0 {
		return model.StatRecord{}, fmt.Errorf("update stat %s: %w", statID, ErrStatNotFound)
	}
	rec.ID = statID
	rec.PlayerID = playerID
	s.stats[playerID][i] = rec
	return rec, nil
}

func (s *MemoryStore) DeleteStat(_ context.Context, playerID, statID string) error {
	defer observe(backendMemory, "delete_stat", time.Now())
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(playerID, statID)
	if i < 0 {
		return fmt.Errorf("delete stat %s: %w", statID, ErrStatNotFound)
	}
	rs := s.stats[playerID]
	s.stats[playerID] = append(rs[:i], rs[i+1:]...)
	return nil
}

// indexOf locates statID within playerID's stats. Callers hold s.mu.
func (s *MemoryStore) indexOf(playerID, statID string) int {
	for i, r := range s.stats[playerID] {
		if r.ID == statID {
			return i
		}
	}
	return -1
}
