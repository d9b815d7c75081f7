package model

import (
	"fmt"
	"time"
)

// Risk thresholds applied when a source reports only a probability.
const (
	RiskMediumThreshold = 0.33
	RiskHighThreshold   = 0.66
)

// DefaultHorizonDays is used when a request leaves the forecast horizon unset.
const DefaultHorizonDays = 180

// RiskLabel is the qualitative injury risk.
type RiskLabel string

const (
	RiskLow    RiskLabel = "low"
	RiskMedium RiskLabel = "medium"
	RiskHigh   RiskLabel = "high"
)

// RiskFromProbability maps p onto low (<0.33), medium (<0.66) or high.
func RiskFromProbability(p float64) RiskLabel {
	switch {
	case p < RiskMediumThreshold:
		return RiskLow
	case p < RiskHighThreshold:
		return RiskMedium
	default:
		return RiskHigh
	}
}

// Valid reports whether l is one of the known labels.
func (l RiskLabel) Valid() bool {
	return l == RiskLow || l == RiskMedium || l == RiskHigh
}

type InjuryAssessment struct {
	Risk        RiskLabel          `json:"risk"`
	Probability float64            `json:"probability"`
	Features    map[string]float64 `json:"features,omitempty"`
}

// Direction is the display-only sign of a forecast.
type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
	DirectionFlat Direction = "flat"
)

// DirectionOf classifies a signed change.
func DirectionOf(pct float64) Direction {
	switch {
	case pct > 0:
		return DirectionUp
	case pct < 0:
		return DirectionDown
	default:
		return DirectionFlat
	}
}

type InvestmentForecast struct {
	// PredictedPctChange is a fraction: 0.05 means +5%.
	PredictedPctChange float64   `json:"predicted_pct_change"`
	HorizonDays        int       `json:"horizon_days"`
	Method             string    `json:"method"`
	SlopePerDay        *float64  `json:"slope_per_day,omitempty"`
	Direction          Direction `json:"direction"`
}

// Display renders the change as a signed percentage, e.g. "+5.0%".
func (f InvestmentForecast) Display() string {
	return fmt.Sprintf("%+.1f%%", f.PredictedPctChange*100)
}

// Prediction is the combined answer of the prediction collaborator.
type Prediction struct {
	Injury     InjuryAssessment   `json:"injury"`
	Investment InvestmentForecast `json:"investment"`
}

// RadarMetric compares one attribute against the cohort.
type RadarMetric struct {
	Metric        string  `json:"metric"`
	Player        float64 `json:"player"`
	CohortAverage float64 `json:"cohort_average"`
}

type RadarMetrics []RadarMetric

type UndervaluedPlayer struct {
	PlayerID string  `json:"player_id"`
	Name     string  `json:"name"`
	Age      int     `json:"age"`
	Score    float64 `json:"undervaluation_score"`
}

type RiskComparison struct {
	PlayerRisk      float64 `json:"player_risk"`
	TeamAverageRisk float64 `json:"team_average_risk"`
}

// Insights is the cohort facet. Comparison is nil when no player is selected.
type Insights struct {
	TopUndervalued []UndervaluedPlayer `json:"top_undervalued"`
	Comparison     *RiskComparison     `json:"comparison,omitempty"`
}

// FacetStatus is the presence state of one view slot.
type FacetStatus string

const (
	FacetAbsent      FacetStatus = "absent"
	FacetReady       FacetStatus = "ready"
	FacetUnavailable FacetStatus = "unavailable"
	// FacetStale marks a last-known-good value kept after a failed refresh.
	FacetStale FacetStatus = "stale"
)

// Facet is one independently fetched slot of a view. Value is never mutated
// after it is stored.
type Facet[T any] struct {
	Status     FacetStatus `json:"status"`
	Value      *T          `json:"value,omitempty"`
	Generation uint64      `json:"generation,omitempty"`
	Error      *FacetError `json:"error,omitempty"`
}

func Ready[T any](v T, gen uint64) Facet[T] {
	return Facet[T]{Status: FacetReady, Value: &v, Generation: gen}
}

func Unavailable[T any](err error, gen uint64) Facet[T] {
	return Facet[T]{Status: FacetUnavailable, Generation: gen, Error: AsFacetError(err)}
}

// Present reports whether a value can be shown.
func (f Facet[T]) Present() bool {
	return f.Value != nil && (f.Status == FacetReady || f.Status == FacetStale)
}

// State is the coordinator lifecycle for one scope.
type State string

const (
	StateIdle     State = "idle"
	StatePending  State = "pending"
	StateInFlight State = "in_flight"
)

// View is the derived analytics snapshot published for one player.
type View struct {
	PlayerID    string    `json:"player_id"`
	Generation  uint64    `json:"generation"`
	State       State     `json:"state"`
	StatsDigest string    `json:"stats_digest"`
	StatCount   int       `json:"stat_count"`
	UpdatedAt   time.Time `json:"updated_at"`

	Injury     Facet[InjuryAssessment]   `json:"injury"`
	Investment Facet[InvestmentForecast] `json:"investment"`
	Radar      Facet[RadarMetrics]       `json:"radar"`
	Insights   Facet[Insights]           `json:"insights"`
}

// EmptyView is the view of a player without statistics.
func EmptyView(playerID string) View {
	return View{
		PlayerID:   playerID,
		State:      StateIdle,
		Injury:     Facet[InjuryAssessment]{Status: FacetAbsent},
		Investment: Facet[InvestmentForecast]{Status: FacetAbsent},
		Radar:      Facet[RadarMetrics]{Status: FacetAbsent},
		Insights:   Facet[Insights]{Status: FacetAbsent},
	}
}

// Empty reports whether no facet holds a value or an error.
func (v View) Empty() bool {
	return v.Injury.Status == FacetAbsent && v.Investment.Status == FacetAbsent &&
		v.Radar.Status == FacetAbsent && v.Insights.Status == FacetAbsent
}

// AnalyticsRequest is everything the aggregator needs for one generation.
type AnalyticsRequest struct {
	PlayerID    string
	Stats       []StatRecord
	HorizonDays int
	MaxAge      int
	TopN        int
	// Selected enables the risk-comparison part of the insights facet.
	Selected bool
}

// Outcome is a facet fetch result: a value or an error.
type Outcome[T any] struct {
	Value T
	Err   error
}

// AnalyticsResult carries every facet outcome of one fetch.
type AnalyticsResult struct {
	Prediction Outcome[Prediction]
	Radar      Outcome[RadarMetrics]
	Insights   Outcome[Insights]
}

// FailedResult reports err for every facet.
func FailedResult(err error) AnalyticsResult {
	return AnalyticsResult{
		Prediction: Outcome[Prediction]{Err: err},
		Radar:      Outcome[RadarMetrics]{Err: err},
		Insights:   Outcome[Insights]{Err: err},
	}
}

// FetchJob is a generation-tagged unit of work handed to the fetch workers.
type FetchJob struct {
	ID         string
	PlayerID   string
	Generation uint64
	Request    AnalyticsRequest
	EnqueuedAt time.Time
	// Deliver hands the result back to the issuing scope.
	Deliver func(AnalyticsResult)
}
