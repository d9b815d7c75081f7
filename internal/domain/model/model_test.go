package model_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/okian/soccer-tracker/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func rec(id string, day, goals int) model.StatRecord {
	return model.StatRecord{ID: id, PlayerID: "p1", MatchDate: model.NewDate(2024, time.January, day), Goals: goals, MinutesPlayed: 90}
}

func TestDate(t *testing.T) {
	Convey("Given calendar dates", t, func() {
		Convey("ParseDate accepts plain dates and timestamps", func() {
			d, ok := model.ParseDate("2024-01-01")
			So(ok, ShouldBeTrue)
			So(d.String(), ShouldEqual, "2024-01-01")

			d, ok = model.ParseDate("2024-03-05T18:30:00Z")
			So(ok, ShouldBeTrue)
			So(d.String(), ShouldEqual, "2024-03-05")
		})

		Convey("Garbage yields the null date", func() {
			d, ok := model.ParseDate("yesterday")
			So(ok, ShouldBeFalse)
			So(d.IsNull(), ShouldBeTrue)
		})

		Convey("JSON encodes null dates as null and tolerates bad input", func() {
			b, err := json.Marshal(model.StatRecord{ID: "s"})
			So(err, ShouldBeNil)
			So(string(b), ShouldContainSubstring, `"match_date":null`)

			var r model.StatRecord
			So(json.Unmarshal([]byte(`{"id":"s","match_date":"not a date"}`), &r), ShouldBeNil)
			So(r.MatchDate.IsNull(), ShouldBeTrue)

			So(json.Unmarshal([]byte(`{"match_date":"2024-01-02"}`), &r), ShouldBeNil)
			So(r.MatchDate.String(), ShouldEqual, "2024-01-02")
		})
	})
}

func TestStatCollection(t *testing.T) {
	Convey("Given a collection with two records", t, func() {
		c := model.NewStatCollection(rec("a", 3, 1), rec("b", 1, 0))

		Convey("Adding a new record appends it", func() {
			So(c.Apply(model.Change{Op: model.ChangeAdded, Record: rec("c", 2, 2)}), ShouldBeTrue)
			So(c.Len(), ShouldEqual, 3)
			So(c.Records()[2].ID, ShouldEqual, "c")
		})

		Convey("Re-applying an identical change reports no change", func() {
			So(c.Apply(model.Change{Op: model.ChangeAdded, Record: rec("a", 3, 1)}), ShouldBeFalse)
			So(c.Apply(model.Change{Op: model.ChangeRemoved, Record: model.StatRecord{ID: "zzz"}}), ShouldBeFalse)
		})

		Convey("Updating a field replaces in place", func() {
			So(c.Apply(model.Change{Op: model.ChangeUpdated, Record: rec("a", 3, 4)}), ShouldBeTrue)
			r, ok := c.Get("a")
			So(ok, ShouldBeTrue)
			So(r.Goals, ShouldEqual, 4)
			So(c.Records()[0].ID, ShouldEqual, "a")
		})

		Convey("Removing keeps order and index consistent", func() {
			c.Apply(model.Change{Op: model.ChangeAdded, Record: rec("c", 2, 2)})
			So(c.Apply(model.Change{Op: model.ChangeRemoved, Record: model.StatRecord{ID: "a"}}), ShouldBeTrue)
			So(c.Len(), ShouldEqual, 2)
			r, ok := c.Get("c")
			So(ok, ShouldBeTrue)
			So(r.Goals, ShouldEqual, 2)
		})

		Convey("ByDate sorts dated records and drops null dates", func() {
			c.Apply(model.Change{Op: model.ChangeAdded, Record: model.StatRecord{ID: "n", PlayerID: "p1"}})
			sorted := c.ByDate()
			So(len(sorted), ShouldEqual, 2)
			So(sorted[0].ID, ShouldEqual, "b")
			So(sorted[1].ID, ShouldEqual, "a")
		})

		Convey("Digest ignores order but tracks every field", func() {
			other := model.NewStatCollection(rec("b", 1, 0), rec("a", 3, 1))
			So(c.Digest(), ShouldEqual, other.Digest())

			clone := c.Clone()
			clone.Apply(model.Change{Op: model.ChangeUpdated, Record: rec("b", 1, 1)})
			So(clone.Digest(), ShouldNotEqual, c.Digest())
			So(c.Len(), ShouldEqual, 2)
		})
	})
}

func TestRiskAndForecast(t *testing.T) {
	Convey("Given probabilities around the thresholds", t, func() {
		So(model.RiskFromProbability(0.2), ShouldEqual, model.RiskLow)
		So(model.RiskFromProbability(0.3299), ShouldEqual, model.RiskLow)
		So(model.RiskFromProbability(0.33), ShouldEqual, model.RiskMedium)
		So(model.RiskFromProbability(0.6599), ShouldEqual, model.RiskMedium)
		So(model.RiskFromProbability(0.66), ShouldEqual, model.RiskHigh)
		So(model.RiskFromProbability(1), ShouldEqual, model.RiskHigh)
	})

	Convey("Given forecasts", t, func() {
		So(model.InvestmentForecast{PredictedPctChange: 0.05}.Display(), ShouldEqual, "+5.0%")
		So(model.InvestmentForecast{PredictedPctChange: -0.123}.Display(), ShouldEqual, "-12.3%")
		So(model.DirectionOf(0.05), ShouldEqual, model.DirectionUp)
		So(model.DirectionOf(-0.01), ShouldEqual, model.DirectionDown)
		So(model.DirectionOf(0), ShouldEqual, model.DirectionFlat)
	})
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestErrors(t *testing.T) {
	Convey("Given classified errors", t, func() {
		err := model.Errorf(model.KindNotFound, "get player", "player %q", "p9")

		Convey("They match their sentinel through wrapping", func() {
			wrapped := fmt.Errorf("load: %w", err)
			So(errors.Is(wrapped, model.ErrNotFound), ShouldBeTrue)
			So(errors.Is(wrapped, model.ErrValidation), ShouldBeFalse)
			So(model.KindOf(wrapped), ShouldEqual, model.KindNotFound)
			So(err.Error(), ShouldEqual, `get player: not-found: player "p9"`)
		})

		Convey("Transport failures classify as network", func() {
			So(model.KindOf(context.DeadlineExceeded), ShouldEqual, model.KindNetwork)
			So(model.KindOf(fmt.Errorf("dial: %w", timeoutErr{})), ShouldEqual, model.KindNetwork)
			So(model.KindOf(fmt.Errorf("x: %w", model.ErrValidation)), ShouldEqual, model.KindValidation)
			So(model.KindOf(errors.New("model exploded")), ShouldEqual, model.KindUpstream)
			So(model.KindOf(nil), ShouldEqual, model.ErrorKind(""))
		})

		Convey("AsFacetError keeps kind and reason", func() {
			fe := model.AsFacetError(err)
			So(fe.Kind, ShouldEqual, model.KindNotFound)
			So(fe.Reason, ShouldEqual, `player "p9"`)
			So(model.AsFacetError(nil), ShouldBeNil)
		})
	})
}
