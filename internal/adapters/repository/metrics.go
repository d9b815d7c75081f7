package repository

import (
	"context"
	"sync"
	"time"

	"github.com/okian/soccer-tracker/pkg/metrics"
)

// metricsUpdater periodically publishes row counts for one backend.
type metricsUpdater struct {
	wg   sync.WaitGroup
	stop chan struct{}
	once sync.Once
}

func startMetricsUpdater(ctx context.Context, backend string, interval time.Duration, count func(context.Context) (Counts, error)) *metricsUpdater {
	u := &metricsUpdater{stop: make(chan struct{})}
	publish := func() {
		c, err := count(ctx)
		if err != nil {
			metrics.RecordError("repository", "count")
			return
		}
		metrics.UpdateRepositoryRecords(backend, "players", c.Players)
		metrics.UpdateRepositoryRecords(backend, "stats", c.Stats)
	}

	u.wg.Add(1)
	go func() {
		defer u.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-u.stop:
				return
			case <-ticker.C:
				publish()
			}
		}
	}()
	return u
}

func (u *metricsUpdater) Close() {
	u.once.Do(func() { close(u.stop) })
	u.wg.Wait()
}

func observe(backend, op string, start time.Time) {
	metrics.RecordRepositoryLatency(backend, op, float64(time.Since(start).Microseconds())/1000)
}
