// Package forecast is the in-process analytics collaborator: heuristic injury
// and investment predictions, a scouting radar against the team average and
// cohort undervaluation rankings. It can simulate remote-service latency.
package forecast

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/okian/soccer-tracker/internal/domain/model"
)

const defaultRandomSeed = 42

// Reader is the read side of the persistence collaborator.
type Reader interface {
	ListPlayers(ctx context.Context) ([]model.Player, error)
	GetPlayer(ctx context.Context, id string) (model.Player, error)
	ListStats(ctx context.Context, playerID string) ([]model.StatRecord, error)
}

// Engine implements the prediction, radar and insights contracts over a Reader.
type Engine struct {
	reader Reader

	minLatency time.Duration
	maxLatency time.Duration
	mu         sync.Mutex
	rng        *rand.Rand
}

// NewEngine builds an engine. Without WithLatencyRange it answers immediately.
func NewEngine(reader Reader, opts ...Option) *Engine {
	e := &Engine{
		reader: reader,
		rng:    rand.New(rand.NewSource(defaultRandomSeed)), //nolint:gosec // reproducible latency jitter
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// wait simulates service latency, honoring ctx.
func (e *Engine) wait(ctx context.Context) error {
	if e.maxLatency <= 0 {
		return ctx.Err()
	}
	latency := e.minLatency
	if span := e.maxLatency - e.minLatency; span > 0 {
		e.mu.Lock()
		latency += time.Duration(e.rng.Int63n(int64(span)))
		e.mu.Unlock()
	}
	t := time.NewTimer(latency)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return model.NewError(model.KindNetwork, "forecast", ctx.Err())
	case <-t.C:
		return nil
	}
}

// Predict scores the supplied statistics; it does not read stored data.
func (e *Engine) Predict(ctx context.Context, playerID string, stats []model.StatRecord, horizonDays int) (model.Prediction, error) {
	if err := e.wait(ctx); err != nil {
		return model.Prediction{}, err
	}
	if len(model.DatedOnly(stats)) == 0 {
		return model.Prediction{}, model.Errorf(model.KindValidation, "predict", "no stats provided for player %s", playerID)
	}
	f := Compute(stats)
	return model.Prediction{
		Injury: model.InjuryAssessment{
			Probability: InjuryProbability(f),
			Features:    f.Map(),
		},
		Investment: Investment(stats, horizonDays),
	}, nil
}

// Radar averages goals, assists, touches and tackles won for the player and
// for every stat of the player's team.
func (e *Engine) Radar(ctx context.Context, playerID string) (model.RadarMetrics, error) {
	if err := e.wait(ctx); err != nil {
		return nil, err
	}
	player, err := e.reader.GetPlayer(ctx, playerID)
	if err != nil {
		return nil, fmt.Errorf("radar: %w", err)
	}
	own, err := e.reader.ListStats(ctx, playerID)
	if err != nil {
		return nil, fmt.Errorf("radar: %w", err)
	}
	if len(own) == 0 {
		return nil, model.Errorf(model.KindNotFound, "radar", "no stats for player %s", playerID)
	}
	team, err := e.teamStats(ctx, player.Team)
	if err != nil {
		return nil, err
	}

	mine, theirs := averages(own), averages(team)
	return model.RadarMetrics{
		{Metric: "Goals", Player: mine[0], CohortAverage: theirs[0]},
		{Metric: "Assists", Player: mine[1], CohortAverage: theirs[1]},
		{Metric: "Touches", Player: mine[2], CohortAverage: theirs[2]},
		{Metric: "Tackles Won", Player: mine[3], CohortAverage: theirs[3]},
	}, nil
}

func (e *Engine) teamStats(ctx context.Context, team string) ([]model.StatRecord, error) {
	players, err := e.reader.ListPlayers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list team: %w", err)
	}
	var out []model.StatRecord
	for _, p := range players {
		if p.Team != team {
			continue
		}
		rs, err := e.reader.ListStats(ctx, p.ID)
		if err != nil {
			return nil, fmt.Errorf("list team stats: %w", err)
		}
		out = append(out, rs...)
	}
	return out, nil
}

func averages(rs []model.StatRecord) [4]float64 {
	if len(rs) == 0 {
		return [4]float64{}
	}
	cols := [4][]float64{}
	for _, r := range rs {
		cols[0] = append(cols[0], float64(r.Goals))
		cols[1] = append(cols[1], float64(r.Assists))
		cols[2] = append(cols[2], float64(r.Touches))
		cols[3] = append(cols[3], float64(r.TacklesWon))
	}
	var out [4]float64
	for i := range cols {
		out[i] = stat.Mean(cols[i], nil)
	}
	return out
}

// TopUndervalued ranks players aged at most maxAge by output per 90 minutes
// weighted towards youth.
func (e *Engine) TopUndervalued(ctx context.Context, maxAge, topN int) ([]model.UndervaluedPlayer, error) {
	if err := e.wait(ctx); err != nil {
		return nil, err
	}
	players, err := e.reader.ListPlayers(ctx)
	if err != nil {
		return nil, fmt.Errorf("top undervalued: %w", err)
	}
	ranked := make([]model.UndervaluedPlayer, 0, len(players))
	for _, p := range players {
		if p.Age > maxAge {
			continue
		}
		rs, err := e.reader.ListStats(ctx, p.ID)
		if err != nil {
			return nil, fmt.Errorf("top undervalued: %w", err)
		}
		if len(rs) == 0 {
			continue
		}
		ranked = append(ranked, model.UndervaluedPlayer{
			PlayerID: p.ID, Name: p.Name, Age: p.Age,
			Score: UndervaluationScore(rs, p.Age, maxAge),
		})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })
	if topN > 0 && len(ranked) > topN {
		ranked = ranked[:topN]
	}
	return ranked, nil
}

// UndervaluationScore combines per-90 goal and assist output with defensive
// work, boosted by how far the player is below the age cap.
func UndervaluationScore(rs []model.StatRecord, age, maxAge int) float64 {
	var goals, assists, tackles, minutes float64
	for _, r := range rs {
		goals += float64(r.Goals)
		assists += float64(r.Assists)
		tackles += float64(r.TacklesWon)
		minutes += float64(r.MinutesPlayed)
	}
	if minutes <= 0 {
		return 0
	}
	per90 := (goals + 0.7*assists + 0.1*tackles) / minutes * 90
	youth := 1 + float64(maxAge-age)/10
	return per90 * youth
}

// InjuryComparison contrasts a player's injury probability with the mean of
// the teammates who have dated statistics.
func (e *Engine) InjuryComparison(ctx context.Context, playerID string) (model.RiskComparison, error) {
	if err := e.wait(ctx); err != nil {
		return model.RiskComparison{}, err
	}
	player, err := e.reader.GetPlayer(ctx, playerID)
	if err != nil {
		return model.RiskComparison{}, fmt.Errorf("injury compare: %w", err)
	}
	players, err := e.reader.ListPlayers(ctx)
	if err != nil {
		return model.RiskComparison{}, fmt.Errorf("injury compare: %w", err)
	}

	var (
		own  float64
		team []float64
	)
	for _, p := range players {
		if p.Team != player.Team {
			continue
		}
		rs, err := e.reader.ListStats(ctx, p.ID)
		if err != nil {
			return model.RiskComparison{}, fmt.Errorf("injury compare: %w", err)
		}
		if len(model.DatedOnly(rs)) == 0 {
			continue
		}
		prob := InjuryProbability(Compute(rs))
		if p.ID == playerID {
			own = prob
		}
		team = append(team, prob)
	}
	cmp := model.RiskComparison{PlayerRisk: own}
	if len(team) > 0 {
		cmp.TeamAverageRisk = stat.Mean(team, nil)
	}
	return cmp, nil
}
