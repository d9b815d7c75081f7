// Package aggregator fans one analytics request out to the prediction, radar
// and insights collaborators and merges their outcomes into a view.
package aggregator

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/okian/soccer-tracker/internal/domain/model"
	"github.com/okian/soccer-tracker/pkg/logger"
	"github.com/okian/soccer-tracker/pkg/metrics"
)

// Facet names used in logs and metrics.
const (
	FacetPrediction = "prediction"
	FacetRadar      = "radar"
	FacetInsights   = "insights"
)

// Predictor produces the combined injury and investment prediction.
// stats is never empty.
type Predictor interface {
	Predict(ctx context.Context, playerID string, stats []model.StatRecord, horizonDays int) (model.Prediction, error)
}

// RadarSource compares a player against the cohort.
type RadarSource interface {
	Radar(ctx context.Context, playerID string) (model.RadarMetrics, error)
}

// InsightsSource provides cohort level rankings and comparisons.
type InsightsSource interface {
	TopUndervalued(ctx context.Context, maxAge, topN int) ([]model.UndervaluedPlayer, error)
	InjuryComparison(ctx context.Context, playerID string) (model.RiskComparison, error)
}

// Aggregator issues the facet fetches of one request concurrently.
type Aggregator struct {
	predictor Predictor
	radar     RadarSource
	insights  InsightsSource
	logger    logger.Logger
}

// New builds an Aggregator over the three collaborators.
func New(p Predictor, r RadarSource, i InsightsSource, opts ...Option) *Aggregator {
	a := &Aggregator{predictor: p, radar: r, insights: i}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = logger.Get().Named("aggregator")
	}
	return a
}

// Fetch runs every facet and waits for all of them. A facet failure is
// recorded in its outcome and never cancels the others.
func (a *Aggregator) Fetch(ctx context.Context, req model.AnalyticsRequest) model.AnalyticsResult {
	start := time.Now()
	if req.HorizonDays <= 0 {
		req.HorizonDays = model.DefaultHorizonDays
	}

	var (
		res model.AnalyticsResult
		g   errgroup.Group
	)
	g.Go(func() error {
		res.Prediction = a.predict(ctx, req)
		return nil
	})
	g.Go(func() error {
		res.Radar = a.fetchRadar(ctx, req)
		return nil
	})
	g.Go(func() error {
		res.Insights = a.fetchInsights(ctx, req)
		return nil
	})
	_ = g.Wait()

	metrics.RecordFetchLatency(float64(time.Since(start).Milliseconds()))
	return res
}

// Insights fetches the cohort ranking alone, as shown when no player is selected.
func (a *Aggregator) Insights(ctx context.Context, maxAge, topN int) (model.Insights, error) {
	out := a.fetchInsights(ctx, model.AnalyticsRequest{MaxAge: maxAge, TopN: topN})
	return out.Value, out.Err
}

func (a *Aggregator) predict(ctx context.Context, req model.AnalyticsRequest) (out model.Outcome[model.Prediction]) {
	defer a.observe(ctx, FacetPrediction, req.PlayerID, time.Now(), &out.Err)

	dated := model.DatedOnly(req.Stats)
	if len(dated) == 0 {
		out.Err = model.Errorf(model.KindValidation, "predict", "no statistics with a match date")
		return out
	}
	p, err := a.predictor.Predict(ctx, req.PlayerID, dated, req.HorizonDays)
	if err != nil {
		out.Err = err
		return out
	}
	if p.Investment.HorizonDays <= 0 {
		p.Investment.HorizonDays = req.HorizonDays
	}
	out.Value = p
	return out
}

func (a *Aggregator) fetchRadar(ctx context.Context, req model.AnalyticsRequest) (out model.Outcome[model.RadarMetrics]) {
	defer a.observe(ctx, FacetRadar, req.PlayerID, time.Now(), &out.Err)
	out.Value, out.Err = a.radar.Radar(ctx, req.PlayerID)
	return out
}

// fetchInsights is all-or-nothing: when a player is selected both the ranking
// and the comparison must succeed.
func (a *Aggregator) fetchInsights(ctx context.Context, req model.AnalyticsRequest) (out model.Outcome[model.Insights]) {
	defer a.observe(ctx, FacetInsights, req.PlayerID, time.Now(), &out.Err)

	var (
		top []model.UndervaluedPlayer
		cmp model.RiskComparison
		g   errgroup.Group
	)
	g.Go(func() error {
		var err error
		top, err = a.insights.TopUndervalued(ctx, req.MaxAge, req.TopN)
		return err
	})
	if req.Selected {
		g.Go(func() error {
			var err error
			cmp, err = a.insights.InjuryComparison(ctx, req.PlayerID)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		out.Err = err
		return out
	}
	if top == nil {
		top = []model.UndervaluedPlayer{}
	}
	out.Value = model.Insights{TopUndervalued: top}
	if req.Selected {
		out.Value.Comparison = &cmp
	}
	return out
}

func (a *Aggregator) observe(ctx context.Context, facet, playerID string, start time.Time, errp *error) {
	elapsed := time.Since(start)
	kind := "ok"
	if err := *errp; err != nil {
		kind = string(model.KindOf(err))
		a.logger.Warn(ctx, "facet fetch failed",
			logger.String("facet", facet),
			logger.String("player_id", playerID),
			logger.String("kind", kind),
			logger.Error(err))
	}
	metrics.RecordFacetResult(facet, kind, float64(elapsed.Milliseconds()))
}
