package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/okian/soccer-tracker/internal/adapters/repository"
	service "github.com/okian/soccer-tracker/internal/app"
	"github.com/okian/soccer-tracker/internal/domain/aggregator"
	"github.com/okian/soccer-tracker/internal/domain/forecast"
	"github.com/okian/soccer-tracker/internal/domain/model"
	"github.com/okian/soccer-tracker/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	// Initialize logging for tests
	err := logger.Init()
	if err != nil {
		panic(err)
	}
}

// brokenRadar wraps the local analytics and fails every radar fetch.
type brokenRadar struct{ service.AnalyticsSource }

func (brokenRadar) Radar(context.Context, string) (model.RadarMetrics, error) {
	return nil, model.Errorf(model.KindUpstream, "radar", "model unavailable")
}

func startService(opts ...service.Option) (*service.Service, context.Context, func()) {
	svc := service.New(append([]service.Option{
		service.WithWorkerCount(2),
		service.WithQueueSize(64),
		service.WithLogger(logger.Nop()),
	}, opts...)...)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	So(svc.Start(ctx), ShouldBeNil)
	return svc, ctx, func() {
		svc.Stop()
		cancel()
	}
}

func TestService_Lifecycle(t *testing.T) {
	Convey("Given a new service", t, func() {
		svc := service.New(service.WithLogger(logger.Nop()))

		Convey("Operations before Start report ErrNotStarted", func() {
			_, err := svc.ListPlayers(context.Background())
			So(errors.Is(err, service.ErrNotStarted), ShouldBeTrue)
			_, err = svc.Insights(context.Background(), 0, 0)
			So(errors.Is(err, service.ErrNotStarted), ShouldBeTrue)
			So(svc.GetStats()["started"], ShouldEqual, false)
		})

		Convey("Start and Stop flip the started flag", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			So(svc.Start(ctx), ShouldBeNil)
			So(svc.Start(ctx), ShouldBeNil)
			stats := svc.GetStats()
			So(stats["started"], ShouldEqual, true)
			So(stats["sessions"], ShouldEqual, 0)

			svc.Stop()
			So(svc.GetStats()["started"], ShouldEqual, false)
			svc.Stop()
		})

		Convey("Fetches still complete after the start context ends", func() {
			startCtx, cancelStart := context.WithCancel(context.Background())
			So(svc.Start(startCtx), ShouldBeNil)
			defer svc.Stop()
			cancelStart()

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			player, err := svc.CreatePlayer(ctx, model.PlayerFields{Name: "Ana", Age: 20, Team: "Reds"})
			So(err, ShouldBeNil)
			_, err = svc.CreateStat(ctx, "", player.ID, map[string]any{"date": "2024-01-01", "goals": 1, "minutes": 90})
			So(err, ShouldBeNil)

			v, err := svc.Analytics(ctx, player.ID, true)
			So(err, ShouldBeNil)
			So(v.State, ShouldEqual, model.StateIdle)
			So(v.StatCount, ShouldEqual, 1)
			So(v.Injury.Status, ShouldEqual, model.FacetReady)
		})

		Convey("An unknown persistence backend fails to start", func() {
			bad := service.New(service.WithLogger(logger.Nop()), service.WithPersistence("redis", ""))
			So(bad.Start(context.Background()), ShouldNotBeNil)
		})

		Convey("A malformed janitor schedule fails to start", func() {
			bad := service.New(service.WithLogger(logger.Nop()), service.WithSessionJanitor(time.Minute, "every now and then"))
			So(bad.Start(context.Background()), ShouldNotBeNil)
		})
	})
}

func TestService_Analytics(t *testing.T) {
	Convey("Given a running service with the local engine", t, func() {
		svc, ctx, stop := startService()
		defer stop()

		player, err := svc.CreatePlayer(ctx, model.PlayerFields{Name: "Ana", Age: 19, Team: "Reds"})
		So(err, ShouldBeNil)

		Convey("A player without stats gets the empty view without a fetch", func() {
			v, err := svc.Analytics(ctx, player.ID, true)
			So(err, ShouldBeNil)
			So(v.State, ShouldEqual, model.StateIdle)
			So(v.Empty(), ShouldBeTrue)
			So(v.StatCount, ShouldEqual, 0)
		})

		Convey("Writes are reflected in the view that follows them", func() {
			_, err := svc.Analytics(ctx, player.ID, true)
			So(err, ShouldBeNil)

			_, err = svc.CreateStat(ctx, "", player.ID, map[string]any{"date": "2024-01-01", "goals": 1, "minutes": 90})
			So(err, ShouldBeNil)
			_, err = svc.CreateStats(ctx, player.ID, []map[string]any{
				{"match_date": "2024-01-08", "goals": 2, "minutes_played": 80},
				{"matchDate": "2024-01-15", "assists": 1, "minutes_played": 70},
			})
			So(err, ShouldBeNil)

			v, err := svc.Analytics(ctx, player.ID, true)
			So(err, ShouldBeNil)
			stats, err := svc.ListStats(ctx, player.ID)
			So(err, ShouldBeNil)

			So(v.StatCount, ShouldEqual, 3)
			So(v.StatsDigest, ShouldEqual, model.DigestRecords(stats))
			So(v.Injury.Status, ShouldEqual, model.FacetReady)
			So(v.Injury.Value.Risk.Valid(), ShouldBeTrue)
			So(v.Investment.Value.HorizonDays, ShouldEqual, 180)
			So(v.Radar.Status, ShouldEqual, model.FacetReady)
			So(v.Insights.Value.Comparison, ShouldNotBeNil)
		})

		Convey("A retried create with the same key writes once", func() {
			first, err := svc.CreateStat(ctx, "retry-1", player.ID, map[string]any{"goals": 1})
			So(err, ShouldBeNil)
			again, err := svc.CreateStat(ctx, "retry-1", player.ID, map[string]any{"goals": 1})
			So(err, ShouldBeNil)
			So(again.ID, ShouldEqual, first.ID)
			stats, _ := svc.ListStats(ctx, player.ID)
			So(len(stats), ShouldEqual, 1)
		})

		Convey("A rejected write is a validation error and changes nothing", func() {
			_, err := svc.CreateStat(ctx, "", player.ID, map[string]any{"minutes_played": 121})
			So(errors.Is(err, model.ErrValidation), ShouldBeTrue)
			stats, _ := svc.ListStats(ctx, player.ID)
			So(stats, ShouldBeEmpty)
		})

		Convey("The trend is date sorted without undated records", func() {
			for _, raw := range []map[string]any{{"date": "2024-02-01"}, {"goals": 5}, {"date": "2024-01-01"}} {
				_, err := svc.CreateStat(ctx, "", player.ID, raw)
				So(err, ShouldBeNil)
			}
			trend, err := svc.StatTrend(ctx, player.ID)
			So(err, ShouldBeNil)
			So(len(trend), ShouldEqual, 2)
			So(trend[0].MatchDate.String(), ShouldEqual, "2024-01-01")
		})

		Convey("Deleting the player makes its analytics not-found", func() {
			_, err := svc.Analytics(ctx, player.ID, false)
			So(err, ShouldBeNil)
			So(svc.DeletePlayer(ctx, player.ID), ShouldBeNil)
			_, err = svc.Analytics(ctx, player.ID, false)
			So(errors.Is(err, model.ErrNotFound), ShouldBeTrue)
		})

		Convey("Insights rank the cohort without a selection", func() {
			_, err := svc.CreateStat(ctx, "", player.ID, map[string]any{"date": "2024-01-01", "goals": 1, "minutes": 90})
			So(err, ShouldBeNil)
			ins, err := svc.Insights(ctx, 0, 0)
			So(err, ShouldBeNil)
			So(ins.Comparison, ShouldBeNil)
			So(len(ins.TopUndervalued), ShouldEqual, 1)
			So(ins.TopUndervalued[0].PlayerID, ShouldEqual, player.ID)
		})
	})
}

func TestService_Sessions(t *testing.T) {
	Convey("Given a private session on a running service", t, func() {
		svc, ctx, stop := startService()
		defer stop()

		a, _ := svc.CreatePlayer(ctx, model.PlayerFields{Name: "Ana", Age: 19, Team: "Reds"})
		b, _ := svc.CreatePlayer(ctx, model.PlayerFields{Name: "Ben", Age: 22, Team: "Reds"})
		_, err := svc.CreateStat(ctx, "", b.ID, map[string]any{"date": "2024-01-01", "goals": 2, "minutes": 90})
		So(err, ShouldBeNil)

		sess, err := svc.OpenSession()
		So(err, ShouldBeNil)
		defer sess.Close()

		Convey("Selecting a player shows that player's analytics", func() {
			So(sess.Select(ctx, b.ID), ShouldBeNil)
			v, err := sess.Await(ctx)
			So(err, ShouldBeNil)
			So(v.PlayerID, ShouldEqual, b.ID)
			So(v.StatCount, ShouldEqual, 1)
		})

		Convey("Writes to the selected player reach the session", func() {
			So(sess.Select(ctx, a.ID), ShouldBeNil)
			_, err := sess.Await(ctx)
			So(err, ShouldBeNil)

			rec, err := svc.CreateStat(ctx, "", a.ID, map[string]any{"date": "2024-01-02", "minutes": 60})
			So(err, ShouldBeNil)
			v, err := sess.Await(ctx)
			So(err, ShouldBeNil)
			So(v.StatCount, ShouldEqual, 1)
			So(sess.Stats()[0].ID, ShouldEqual, rec.ID)
		})

		Convey("Writes to another player leave the session alone", func() {
			So(sess.Select(ctx, a.ID), ShouldBeNil)
			before, _ := sess.Await(ctx)
			_, err := svc.CreateStat(ctx, "", b.ID, map[string]any{"goals": 1})
			So(err, ShouldBeNil)
			after, _ := sess.Await(ctx)
			So(after.Generation, ShouldEqual, before.Generation)
		})

		Convey("Selecting an unknown player fails with not-found", func() {
			err := sess.Select(ctx, "ghost")
			So(errors.Is(err, model.ErrNotFound), ShouldBeTrue)
		})

		Convey("Shared and private sessions are both counted", func() {
			_, err := svc.Analytics(ctx, a.ID, false)
			So(err, ShouldBeNil)
			So(svc.GetStats()["sessions"], ShouldEqual, 2)
		})
	})

	Convey("Given a service with a short idle limit", t, func() {
		svc, ctx, stop := startService(service.WithSessionJanitor(time.Millisecond, "@every 1h"))
		defer stop()
		p, _ := svc.CreatePlayer(ctx, model.PlayerFields{Name: "Cal", Age: 30})
		_, err := svc.Analytics(ctx, p.ID, true)
		So(err, ShouldBeNil)

		time.Sleep(5 * time.Millisecond)
		So(svc.EvictIdleSessions(), ShouldEqual, 1)
		So(svc.GetStats()["sessions"], ShouldEqual, 0)
	})
}

func TestService_FacetIsolation(t *testing.T) {
	Convey("Given analytics whose radar always fails", t, func() {
		store := repository.NewMemoryStore(context.Background())
		svc, ctx, stop := startService(
			service.WithStore(store),
			service.WithAnalyticsSource(brokenRadar{forecast.NewEngine(store)}),
			service.WithFailurePolicy(aggregator.ClearOnFailure),
		)
		defer stop()

		p, _ := svc.CreatePlayer(ctx, model.PlayerFields{Name: "Dee", Age: 20, Team: "Blues"})
		_, err := svc.CreateStat(ctx, "", p.ID, map[string]any{"date": "2024-01-01", "goals": 1, "minutes": 90})
		So(err, ShouldBeNil)

		Convey("Only the radar slot reports the failure", func() {
			v, err := svc.Analytics(ctx, p.ID, true)
			So(err, ShouldBeNil)
			So(v.Radar.Status, ShouldEqual, model.FacetUnavailable)
			So(v.Radar.Error.Kind, ShouldEqual, model.KindUpstream)
			So(v.Injury.Status, ShouldEqual, model.FacetReady)
			So(v.Investment.Status, ShouldEqual, model.FacetReady)
			So(v.Insights.Status, ShouldEqual, model.FacetReady)
		})
	})
}
