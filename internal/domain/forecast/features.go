package forecast

import (
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/okian/soccer-tracker/internal/domain/model"
)

const (
	trendWindow = 8
	day         = 24 * time.Hour
)

// Features are workload figures measured back from the most recent match.
type Features struct {
	MinutesSum7  float64
	MinutesAvg28 float64
	GoalsPer90   float64
	Matches14    float64
	ACWR         float64
	MinutesSlope float64
}

// Map renders the features as reported attributions.
func (f Features) Map() map[string]float64 {
	return map[string]float64{
		"minutes_sum_7":  f.MinutesSum7,
		"minutes_avg_28": f.MinutesAvg28,
		"goals_per90_28": f.GoalsPer90,
		"matches_14":     f.Matches14,
		"acwr":           f.ACWR,
		"minutes_slope":  f.MinutesSlope,
	}
}

// chronological returns dated records sorted by match date.
func chronological(records []model.StatRecord) []model.StatRecord {
	out := model.DatedOnly(records)
	sort.SliceStable(out, func(i, j int) bool { return out[i].MatchDate.Before(out[j].MatchDate.Time) })
	return out
}

// Compute derives rolling features. Undated records are ignored.
func Compute(records []model.StatRecord) Features {
	rs := chronological(records)
	if len(rs) == 0 {
		return Features{}
	}
	last := rs[len(rs)-1].MatchDate.Time

	var (
		f         Features
		minutes28 []float64
		goals28   float64
		minSum28  float64
	)
	for _, r := range rs {
		age := last.Sub(r.MatchDate.Time)
		mins := float64(r.MinutesPlayed)
		if age <= 7*day {
			f.MinutesSum7 += mins
		}
		if age <= 14*day {
			f.Matches14++
		}
		if age <= 28*day {
			minutes28 = append(minutes28, mins)
			minSum28 += mins
			goals28 += float64(r.Goals)
		}
	}
	f.MinutesAvg28 = stat.Mean(minutes28, nil)
	if minSum28 > 0 {
		f.GoalsPer90 = goals28 / minSum28 * 90
	}
	chronic := f.MinutesAvg28
	if chronic <= 0 {
		chronic = 1e-6
	}
	f.ACWR = f.MinutesSum7 / chronic
	f.MinutesSlope = slope(tail(rs, trendWindow), func(r model.StatRecord) float64 { return float64(r.MinutesPlayed) })
	return f
}

func tail(rs []model.StatRecord, n int) []model.StatRecord {
	if len(rs) <= n {
		return rs
	}
	return rs[len(rs)-n:]
}

// slope fits a least-squares line over the sequence index.
func slope(rs []model.StatRecord, value func(model.StatRecord) float64) float64 {
	if len(rs) < 2 {
		return 0
	}
	xs := make([]float64, len(rs))
	ys := make([]float64, len(rs))
	for i, r := range rs {
		xs[i] = float64(i)
		ys[i] = value(r)
	}
	_, beta := stat.LinearRegression(xs, ys, nil, false)
	if math.IsNaN(beta) {
		return 0
	}
	return beta
}

// InjuryProbability is a logistic over workload ratio, match density and minutes trend.
func InjuryProbability(f Features) float64 {
	raw := -0.4*(1-f.ACWR) + 0.08*f.Matches14 + 0.05*f.MinutesSlope
	p := 1 / (1 + math.Exp(-raw))
	return math.Max(0, math.Min(1, p))
}

// Investment methods.
const (
	MethodPerformanceTrend = "performance_trend"
	MethodNoData           = "no_data"
)

// Investment maps the goals trend of the last matches onto a bounded change
// of roughly plus or minus 20%.
func Investment(records []model.StatRecord, horizonDays int) model.InvestmentForecast {
	if horizonDays <= 0 {
		horizonDays = model.DefaultHorizonDays
	}
	rs := tail(chronological(records), trendWindow)
	if len(rs) < 2 {
		return model.InvestmentForecast{HorizonDays: horizonDays, Method: MethodNoData}
	}
	goalsSlope := slope(rs, func(r model.StatRecord) float64 { return float64(r.Goals) })
	return model.InvestmentForecast{
		PredictedPctChange: math.Tanh(goalsSlope/4) * 0.2,
		HorizonDays:        horizonDays,
		Method:             MethodPerformanceTrend,
	}
}
