package simulate

import (
	"errors"
	"testing"
	"time"

	"github.com/okian/soccer-tracker/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func TestVerifyView(t *testing.T) {
	Convey("Given stored records", t, func() {
		records := []model.StatRecord{
			{ID: "a", PlayerID: "p", MatchDate: model.NewDate(2024, time.May, 1), Goals: 1},
			{ID: "b", PlayerID: "p", MatchDate: model.NewDate(2024, time.May, 8), Goals: 2},
		}
		view := model.EmptyView("p")
		view.StatsDigest = model.DigestRecords(records)
		view.StatCount = 2

		Convey("An idle view over the same records verifies", func() {
			So(verifyView(view, records), ShouldBeNil)
		})

		Convey("A view with a fetch outstanding is not settled", func() {
			view.State = model.StateInFlight
			So(errors.Is(verifyView(view, records), ErrNotSettled), ShouldBeTrue)
		})

		Convey("A view missing an edit is a mismatch", func() {
			records[1].Goals = 3
			So(errors.Is(verifyView(view, records), ErrDigestMismatch), ShouldBeTrue)
		})
	})

	Convey("Given generated edits", t, func() {
		Convey("Without records every op is a create", func() {
			for i := 0; i < 50; i++ {
				So(pickOp(false), ShouldEqual, opCreate)
			}
		})

		Convey("Random stats stay inside the accepted ranges", func() {
			for i := 0; i < 50; i++ {
				raw := randomStat()
				So(raw["minutes_played"], ShouldBeBetweenOrEqual, 10, 120)
				So(raw["goals"], ShouldBeBetweenOrEqual, 0, 3)
			}
		})
	})
}
