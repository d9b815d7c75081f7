package aggregator

import (
	"fmt"
	"strings"

	"github.com/okian/soccer-tracker/internal/domain/model"
)

// FailurePolicy decides what a failed facet does to the value it replaces.
type FailurePolicy string

const (
	// ClearOnFailure drops the previous value and marks the slot unavailable.
	ClearOnFailure FailurePolicy = "clear"
	// RetainStale keeps the previous value, labelled stale, next to the error.
	RetainStale FailurePolicy = "retain_stale"
)

// ParseFailurePolicy accepts "clear" and "retain_stale".
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch p := FailurePolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case ClearOnFailure, RetainStale:
		return p, nil
	case "":
		return ClearOnFailure, nil
	default:
		return "", fmt.Errorf("unknown facet failure policy %q", s)
	}
}

// Merge folds the outcomes of generation gen into prev and returns the new
// view. prev is not modified. Every facet slot is replaced as a whole.
func Merge(prev model.View, res model.AnalyticsResult, gen uint64, policy FailurePolicy) model.View {
	next := prev
	next.Generation = gen

	if err := res.Prediction.Err; err != nil {
		next.Injury = failed(prev.Injury, err, gen, policy)
		next.Investment = failed(prev.Investment, err, gen, policy)
	} else {
		next.Injury = model.Ready(injury(res.Prediction.Value.Injury), gen)
		next.Investment = model.Ready(investment(res.Prediction.Value.Investment), gen)
	}

	if err := res.Radar.Err; err != nil {
		next.Radar = failed(prev.Radar, err, gen, policy)
	} else {
		next.Radar = model.Ready(res.Radar.Value, gen)
	}

	if err := res.Insights.Err; err != nil {
		next.Insights = failed(prev.Insights, err, gen, policy)
	} else {
		next.Insights = model.Ready(res.Insights.Value, gen)
	}
	return next
}

func failed[T any](prev model.Facet[T], err error, gen uint64, policy FailurePolicy) model.Facet[T] {
	if policy == RetainStale && prev.Present() {
		return model.Facet[T]{
			Status:     model.FacetStale,
			Value:      prev.Value,
			Generation: prev.Generation,
			Error:      model.AsFacetError(err),
		}
	}
	return model.Unavailable[T](err, gen)
}

// injury derives the label when the source only reported a probability.
func injury(a model.InjuryAssessment) model.InjuryAssessment {
	if !a.Risk.Valid() {
		a.Risk = model.RiskFromProbability(a.Probability)
	}
	return a
}

func investment(f model.InvestmentForecast) model.InvestmentForecast {
	if f.HorizonDays <= 0 {
		f.HorizonDays = model.DefaultHorizonDays
	}
	f.Direction = model.DirectionOf(f.PredictedPctChange)
	return f
}
