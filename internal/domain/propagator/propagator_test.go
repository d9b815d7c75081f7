package propagator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/okian/soccer-tracker/internal/domain/coordinator"
	"github.com/okian/soccer-tracker/internal/domain/dedupe"
	"github.com/okian/soccer-tracker/internal/domain/model"
	"github.com/okian/soccer-tracker/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

type fakeStore struct {
	mu      sync.Mutex
	seq     int
	writes  int
	failErr error
	stats   map[string]model.StatRecord
}

func newFakeStore() *fakeStore { return &fakeStore{stats: map[string]model.StatRecord{}} }

func (s *fakeStore) CreateStat(_ context.Context, playerID string, rec model.StatRecord) (model.StatRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	if s.failErr != nil {
		return model.StatRecord{}, s.failErr
	}
	if rec.MinutesPlayed > 120 {
		return model.StatRecord{}, model.Errorf(model.KindValidation, "create stat", "minutes_played must be between 0 and 120")
	}
	s.seq++
	rec.ID = fmt.Sprintf("s%d", s.seq)
	rec.PlayerID = playerID
	s.stats[rec.ID] = rec
	return rec, nil
}

func (s *fakeStore) UpdateStat(_ context.Context, _, statID string, rec model.StatRecord) (model.StatRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	if _, ok := s.stats[statID]; !ok {
		return model.StatRecord{}, model.Errorf(model.KindNotFound, "update stat", "stat %s", statID)
	}
	s.stats[statID] = rec
	return rec, nil
}

func (s *fakeStore) DeleteStat(_ context.Context, _, statID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	if s.failErr != nil {
		return s.failErr
	}
	delete(s.stats, statID)
	return nil
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls [][]model.Change
}

func (n *recordingNotifier) Apply(_ string, changes ...model.Change) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, changes)
}

// scopeNotifier forwards into one coordinator, batching each call.
type scopeNotifier struct{ c *coordinator.Coordinator }

func (n scopeNotifier) Apply(_ string, changes ...model.Change) {
	n.c.Batch(func() {
		for _, ch := range changes {
			n.c.Apply(ch)
		}
	})
}

func TestPropagator(t *testing.T) {
	ctx := context.Background()

	Convey("Given a propagator over a fake store", t, func() {
		store := newFakeStore()
		notes := &recordingNotifier{}
		p := New(store, notes, WithLogger(logger.Nop()), WithDeduper(dedupe.NewInMemoryDeduper()))

		Convey("Add normalizes, persists and propagates the stored record", func() {
			rec, err := p.Add(ctx, "p1", map[string]any{"date": "2024-01-01", "goals": 1, "minutes": 90})
			So(err, ShouldBeNil)
			So(rec.ID, ShouldEqual, "s1")
			So(rec.MinutesPlayed, ShouldEqual, 90)
			So(len(notes.calls), ShouldEqual, 1)
			So(notes.calls[0][0].Op, ShouldEqual, model.ChangeAdded)
			So(notes.calls[0][0].Record.ID, ShouldEqual, "s1")
		})

		Convey("A rejected write surfaces the error and propagates nothing", func() {
			_, err := p.Add(ctx, "p1", map[string]any{"minutes": 150})
			So(errors.Is(err, model.ErrValidation), ShouldBeTrue)
			So(notes.calls, ShouldBeEmpty)
		})

		Convey("Update and Remove propagate their changes", func() {
			rec, _ := p.Add(ctx, "p1", map[string]any{"goals": 1})
			up, err := p.Update(ctx, "p1", rec.ID, map[string]any{"goals": 3})
			So(err, ShouldBeNil)
			So(up.Goals, ShouldEqual, 3)
			So(p.Remove(ctx, "p1", rec.ID), ShouldBeNil)

			So(len(notes.calls), ShouldEqual, 3)
			So(notes.calls[1][0].Op, ShouldEqual, model.ChangeUpdated)
			So(notes.calls[1][0].Record.ID, ShouldEqual, rec.ID)
			So(notes.calls[2][0].Op, ShouldEqual, model.ChangeRemoved)
		})

		Convey("Updating a missing stat is a not-found error", func() {
			_, err := p.Update(ctx, "p1", "ghost", map[string]any{"goals": 1})
			So(errors.Is(err, model.ErrNotFound), ShouldBeTrue)
			So(notes.calls, ShouldBeEmpty)
		})

		Convey("A transport failure on delete leaves state untouched", func() {
			store.failErr = model.Errorf(model.KindNetwork, "delete stat", "connection reset")
			err := p.Remove(ctx, "p1", "s1")
			So(model.KindOf(err), ShouldEqual, model.KindNetwork)
			So(notes.calls, ShouldBeEmpty)
		})

		Convey("AddBatch propagates the written prefix in one call", func() {
			recs, err := p.AddBatch(ctx, "p1", []map[string]any{{"goals": 1}, {"goals": 2}, {"minutes": 500}, {"goals": 4}})
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "record 2")
			So(len(recs), ShouldEqual, 2)
			So(len(notes.calls), ShouldEqual, 1)
			So(len(notes.calls[0]), ShouldEqual, 2)
		})

		Convey("AddOnce replays a repeated idempotency key", func() {
			first, err := p.AddOnce(ctx, "key-1", "p1", map[string]any{"goals": 1})
			So(err, ShouldBeNil)
			again, err := p.AddOnce(ctx, "key-1", "p1", map[string]any{"goals": 1})
			So(err, ShouldBeNil)
			So(again.ID, ShouldEqual, first.ID)
			So(store.writes, ShouldEqual, 1)
			So(len(notes.calls), ShouldEqual, 1)
		})

		Convey("AddOnce allows a retry after a failed write", func() {
			store.failErr = errors.New("boom")
			_, err := p.AddOnce(ctx, "key-2", "p1", map[string]any{"goals": 1})
			So(err, ShouldNotBeNil)
			store.failErr = nil
			rec, err := p.AddOnce(ctx, "key-2", "p1", map[string]any{"goals": 1})
			So(err, ShouldBeNil)
			So(rec.ID, ShouldNotBeEmpty)
		})
	})

	Convey("Given a propagator feeding a live coordinator", t, func() {
		store := newFakeStore()
		var (
			mu   sync.Mutex
			jobs []model.FetchJob
		)
		c := coordinator.New("p1",
			coordinator.WithLogger(logger.Nop()),
			coordinator.WithDispatcher(coordinator.DispatchFunc(func(job model.FetchJob) error {
				mu.Lock()
				jobs = append(jobs, job)
				mu.Unlock()
				return nil
			})))
		defer c.Close()
		p := New(store, scopeNotifier{c}, WithLogger(logger.Nop()))

		Convey("A failed write leaves the canonical collection unchanged", func() {
			_, err := p.Add(ctx, "p1", map[string]any{"minutes_played": 121})
			So(err, ShouldNotBeNil)
			So(c.Stats(), ShouldBeEmpty)
			So(c.State(), ShouldEqual, model.StateIdle)
		})

		Convey("Racing updates and deletes leave the scope equal to the store", func() {
			var ids []string
			for i := 0; i < 20; i++ {
				rec, err := p.Add(ctx, "p1", map[string]any{"date": "2024-01-01", "goals": i, "minutes": 90})
				So(err, ShouldBeNil)
				ids = append(ids, rec.ID)
			}
			var wg sync.WaitGroup
			for _, id := range ids {
				wg.Add(2)
				go func(id string) {
					defer wg.Done()
					_, _ = p.Update(ctx, "p1", id, map[string]any{"date": "2024-02-01", "goals": 9, "minutes": 60})
				}(id)
				go func(id string) {
					defer wg.Done()
					_ = p.Remove(ctx, "p1", id)
				}(id)
			}
			wg.Wait()

			store.mu.Lock()
			var stored []model.StatRecord
			for _, r := range store.stats {
				stored = append(stored, r)
			}
			store.mu.Unlock()
			So(model.DigestRecords(c.Stats()), ShouldEqual, model.DigestRecords(stored))
			So(c.Stats(), ShouldBeEmpty)
		})

		Convey("A batch of writes reaches the coordinator as one fetch", func() {
			_, err := p.AddBatch(ctx, "p1", []map[string]any{
				{"date": "2024-01-01", "goals": 1, "minutes": 90},
				{"date": "2024-01-08", "goals": 0, "minutes": 75},
			})
			So(err, ShouldBeNil)
			So(len(c.Stats()), ShouldEqual, 2)

			deadline := time.Now().Add(2 * time.Second)
			for {
				mu.Lock()
				n := len(jobs)
				mu.Unlock()
				if n > 0 || time.Now().After(deadline) {
					break
				}
				time.Sleep(5 * time.Millisecond)
			}
			time.Sleep(30 * time.Millisecond)
			mu.Lock()
			defer mu.Unlock()
			So(len(jobs), ShouldEqual, 1)
			So(len(jobs[0].Request.Stats), ShouldEqual, 2)
		})
	})
}
