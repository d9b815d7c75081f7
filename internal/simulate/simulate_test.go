package simulate_test

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/okian/soccer-tracker/internal/adapters/http/api"
	service "github.com/okian/soccer-tracker/internal/app"
	"github.com/okian/soccer-tracker/internal/simulate"
	"github.com/okian/soccer-tracker/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
	_ = logger.SetLevelString("error")
}

func TestRun(t *testing.T) {
	Convey("Given a running service", t, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		svc := service.New(
			service.WithWorkerCount(4),
			service.WithQueueSize(256),
			service.WithLogger(logger.Nop()),
			service.WithLocalLatencyRange(time.Millisecond, 5*time.Millisecond),
		)
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop()

		srv := httptest.NewServer(api.NewServer(svc, svc, api.WithLogger(logger.Nop())).Routes())
		defer srv.Close()

		Convey("Concurrent edit bursts settle on the stored statistics", func() {
			stats, err := simulate.Run(ctx, &simulate.Config{
				BaseURL:       srv.URL,
				Bursts:        3,
				OpsPerBurst:   30,
				Workers:       8,
				Timeout:       5 * time.Second,
				SettleTimeout: 10 * time.Second,
				ReplayRatio:   0.3,
			})
			So(err, ShouldBeNil)
			So(stats.PlayerID, ShouldNotBeEmpty)
			So(stats.Failed, ShouldEqual, 0)
			So(stats.Creates, ShouldBeGreaterThan, 0)
			So(stats.Records, ShouldEqual, stats.Creates-stats.Deletes)
			So(stats.Digest, ShouldNotBeEmpty)
		})

		Convey("An unreachable service fails the health check", func() {
			_, err := simulate.Run(ctx, &simulate.Config{BaseURL: "http://127.0.0.1:1", Bursts: 1, OpsPerBurst: 1, Timeout: time.Second})
			So(err, ShouldNotBeNil)
		})
	})
}
