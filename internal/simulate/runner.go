package simulate

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/okian/soccer-tracker/internal/domain/model"
	"github.com/okian/soccer-tracker/pkg/logger"
)

const idempotencyHeader = "Idempotency-Key"

// tracker remembers the stat IDs believed to exist.
type tracker struct {
	mu  sync.Mutex
	ids []string
}

func (t *tracker) add(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ids = append(t.ids, id)
}

func (t *tracker) drop(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, v := range t.ids {
		if v == id {
			t.ids = append(t.ids[:i], t.ids[i+1:]...)
			return
		}
	}
}

func (t *tracker) pick() (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.ids) == 0 {
		return "", false
	}
	return t.ids[randomInt(len(t.ids))], true
}

type counters struct {
	creates, updates, deletes, replays, missed, failed atomic.Int64
}

// Run creates a player, fires the configured edit bursts and waits for the
// analytics view to converge on the final statistics.
func Run(ctx context.Context, config *Config) (*Stats, error) {
	stats := &Stats{StartTime: time.Now()}
	log := logger.Get().Named("simulate")

	log.Info(ctx, "starting stat burst",
		logger.String("baseURL", config.BaseURL),
		logger.Int("bursts", config.Bursts),
		logger.Int("opsPerBurst", config.OpsPerBurst),
		logger.Int("workers", config.Workers),
		logger.Duration("timeout", config.Timeout))

	client := newHTTPClient(config.BaseURL, config.Timeout)

	if err := checkServiceHealth(ctx, client); err != nil {
		return nil, fmt.Errorf("service health check failed: %w", err)
	}

	var player model.Player
	body := model.PlayerFields{Name: "Burst " + uuid.NewString()[:8], Age: 20, Position: "MF", Team: "Simulators"}
	status, err := client.do(ctx, http.MethodPost, "/players", body, &player)
	if err != nil {
		return nil, fmt.Errorf("create player: %w", err)
	}
	if status != http.StatusCreated {
		return nil, fmt.Errorf("create player: unexpected status %d", status)
	}
	stats.PlayerID = player.ID

	known := &tracker{}
	var c counters
	for b := 0; b < config.Bursts; b++ {
		if err := runBurst(ctx, client, config, player.ID, known, &c); err != nil {
			return nil, fmt.Errorf("burst %d: %w", b, err)
		}
		if config.Verbose {
			log.Info(ctx, "burst done", logger.Int("burst", b), logger.Int("creates", int(c.creates.Load())))
		}
	}
	lastEdit := time.Now()

	view, records, err := awaitConvergence(ctx, client, player.ID, config.SettleTimeout)
	stats.Settle = time.Since(lastEdit)
	stats.Creates = int(c.creates.Load())
	stats.Updates = int(c.updates.Load())
	stats.Deletes = int(c.deletes.Load())
	stats.Replays = int(c.replays.Load())
	stats.Missed = int(c.missed.Load())
	stats.Failed = int(c.failed.Load())
	stats.Records = len(records)
	stats.Generation = view.Generation
	stats.Digest = view.StatsDigest
	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)
	if err != nil {
		return stats, err
	}

	displayFinalStats(ctx, log, stats)
	return stats, nil
}

// runBurst fires one burst of edits concurrently.
func runBurst(ctx context.Context, client *httpClient, config *Config, playerID string, known *tracker, c *counters) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(config.Workers, 1))
	for i := 0; i < config.OpsPerBurst; i++ {
		_, have := known.pick()
		op := pickOp(have)
		g.Go(func() error {
			return edit(ctx, client, config, playerID, op, known, c)
		})
	}
	return g.Wait()
}

// edit performs one operation. Only transport failures abort the run; HTTP
// errors are counted.
func edit(ctx context.Context, client *httpClient, config *Config, playerID, op string, known *tracker, c *counters) error {
	base := "/players/" + playerID + "/stats"
	switch op {
	case opUpdate, opDelete:
		id, ok := known.pick()
		if !ok {
			return edit(ctx, client, config, playerID, opCreate, known, c)
		}
		method, want, counter := http.MethodPut, http.StatusOK, &c.updates
		var body any = randomStat()
		if op == opDelete {
			method, want, counter, body = http.MethodDelete, http.StatusNoContent, &c.deletes, nil
		}
		status, err := client.do(ctx, method, base+"/"+id, body, nil)
		if err != nil {
			return err
		}
		switch status {
		case want:
			counter.Add(1)
			if op == opDelete {
				known.drop(id)
			}
		case http.StatusNotFound:
			c.missed.Add(1)
		default:
			c.failed.Add(1)
		}
		return nil
	}

	key := uuid.NewString()
	raw := randomStat()
	var rec model.StatRecord
	status, err := client.do(ctx, http.MethodPost, base, raw, &rec, idempotencyHeader, key)
	if err != nil {
		return err
	}
	if status != http.StatusCreated {
		c.failed.Add(1)
		return nil
	}
	c.creates.Add(1)
	known.add(rec.ID)

	if getRandomFloat() < config.ReplayRatio {
		var again model.StatRecord
		status, err := client.do(ctx, http.MethodPost, base, raw, &again, idempotencyHeader, key)
		if err != nil {
			return err
		}
		if status == http.StatusCreated && again.ID == rec.ID {
			c.replays.Add(1)
		} else {
			c.failed.Add(1)
		}
	}
	return nil
}

// checkServiceHealth verifies the service is running.
func checkServiceHealth(ctx context.Context, client *httpClient) error {
	status, err := client.do(ctx, http.MethodGet, "/healthz", nil, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to service: %w", err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("service health check failed with status: %d", status)
	}
	return nil
}

func displayFinalStats(ctx context.Context, log logger.Logger, stats *Stats) {
	log.Info(ctx, "final statistics",
		logger.String("playerID", stats.PlayerID),
		logger.Int("creates", stats.Creates),
		logger.Int("updates", stats.Updates),
		logger.Int("deletes", stats.Deletes),
		logger.Int("replays", stats.Replays),
		logger.Int("missed", stats.Missed),
		logger.Int("failed", stats.Failed),
		logger.Int("records", stats.Records),
		logger.Uint64("generation", stats.Generation),
		logger.String("digest", stats.Digest),
		logger.Duration("settle", stats.Settle),
		logger.Duration("duration", stats.Duration))
}
