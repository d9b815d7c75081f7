package upstream

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/okian/soccer-tracker/internal/domain/model"
)

// Predict posts the dated stats to /predict. Retried: the endpoint is a pure
// function of its body.
func (c *Client) Predict(ctx context.Context, playerID string, stats []model.StatRecord, horizonDays int) (model.Prediction, error) {
	req := predictRequest{PlayerID: wireID(playerID), HorizonDays: horizonDays}
	for _, r := range model.DatedOnly(stats) {
		req.Stats = append(req.Stats, predictStat{
			MatchDate: r.MatchDate.String(), MinutesPlayed: r.MinutesPlayed, Goals: r.Goals,
			Assists: r.Assists, Touches: r.Touches, TacklesWon: r.TacklesWon,
		})
	}
	if len(req.Stats) == 0 {
		return model.Prediction{}, model.Errorf(model.KindValidation, "predict", "no stats provided")
	}

	var resp predictResponse
	if err := c.do(ctx, call{op: "predict", method: http.MethodPost, path: "/predict", body: req, out: &resp, retry: true}); err != nil {
		return model.Prediction{}, err
	}
	if resp.InjuryProbability == nil {
		return model.Prediction{}, model.Errorf(model.KindUpstream, "predict", "response carries no injury_probability")
	}

	p := model.Prediction{
		Injury:     model.InjuryAssessment{Probability: *resp.InjuryProbability, Features: resp.InjuryFeatures},
		Investment: model.InvestmentForecast{HorizonDays: horizonDays},
	}
	if d := resp.InvestmentDetails; d != nil {
		if d.PredictedPctChange != nil {
			p.Investment.PredictedPctChange = *d.PredictedPctChange
		}
		p.Investment.Method = d.Method
		p.Investment.SlopePerDay = d.SlopePerDay
		if d.HorizonDays > 0 {
			p.Investment.HorizonDays = d.HorizonDays
		}
	}
	return p, nil
}

func (c *Client) Radar(ctx context.Context, playerID string) (model.RadarMetrics, error) {
	var items []radarItem
	if err := c.do(ctx, call{op: "radar", method: http.MethodGet, path: playerPath(playerID) + "/radar", out: &items, retry: true}); err != nil {
		return nil, err
	}
	out := make(model.RadarMetrics, 0, len(items))
	for _, it := range items {
		out = append(out, model.RadarMetric{Metric: it.Metric, Player: it.Player, CohortAverage: it.TeamAvg})
	}
	return out, nil
}

func (c *Client) TopUndervalued(ctx context.Context, maxAge, topN int) ([]model.UndervaluedPlayer, error) {
	q := url.Values{}
	q.Set("max_age", strconv.Itoa(maxAge))
	q.Set("top_n", strconv.Itoa(topN))
	var items []undervaluedItem
	if err := c.do(ctx, call{op: "top undervalued", method: http.MethodGet, path: "/insights/top_undervalued?" + q.Encode(), out: &items, retry: true}); err != nil {
		return nil, err
	}
	out := make([]model.UndervaluedPlayer, 0, len(items))
	for _, it := range items {
		out = append(out, model.UndervaluedPlayer{PlayerID: string(it.ID), Name: it.Name, Age: it.Age, Score: it.UndervalueScore})
	}
	return out, nil
}

func (c *Client) InjuryComparison(ctx context.Context, playerID string) (model.RiskComparison, error) {
	var d comparisonDTO
	if err := c.do(ctx, call{op: "injury compare", method: http.MethodGet, path: "/insights/injury_compare/" + url.PathEscape(playerID), out: &d, retry: true}); err != nil {
		return model.RiskComparison{}, err
	}
	return model.RiskComparison{PlayerRisk: d.PlayerRisk, TeamAverageRisk: d.TeamAvg}, nil
}
