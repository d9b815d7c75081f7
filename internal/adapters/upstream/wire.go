package upstream

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/okian/soccer-tracker/internal/domain/model"
)

// flexID accepts numeric or string identifiers; the backend uses integers.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexID(n.String())
	return nil
}

// wireID sends integer-looking identifiers as numbers.
func wireID(id string) any {
	if n, err := strconv.ParseInt(id, 10, 64); err == nil {
		return n
	}
	return id
}

type playerDTO struct {
	ID          flexID `json:"id,omitempty"`
	Name        string `json:"name"`
	Age         int    `json:"age"`
	Position    string `json:"position"`
	Nationality string `json:"nationality"`
	Team        string `json:"team"`
}

func playerFromDTO(d playerDTO) model.Player {
	return model.Player{ID: string(d.ID), Name: d.Name, Age: d.Age, Position: d.Position, Nationality: d.Nationality, Team: d.Team}
}

func playerToDTO(f model.PlayerFields) playerDTO {
	return playerDTO{Name: f.Name, Age: f.Age, Position: f.Position, Nationality: f.Nationality, Team: f.Team}
}

type statDTO struct {
	ID            flexID     `json:"id,omitempty"`
	PlayerID      flexID     `json:"player_id,omitempty"`
	MatchDate     model.Date `json:"match_date"`
	Goals         int        `json:"goals"`
	Assists       int        `json:"assists"`
	MinutesPlayed int        `json:"minutes_played"`
	Touches       int        `json:"touches"`
	TacklesWon    int        `json:"tackles_won"`
}

func statFromDTO(d statDTO) model.StatRecord {
	return model.StatRecord{
		ID: string(d.ID), PlayerID: string(d.PlayerID), MatchDate: d.MatchDate,
		Goals: d.Goals, Assists: d.Assists, MinutesPlayed: d.MinutesPlayed, Touches: d.Touches, TacklesWon: d.TacklesWon,
	}
}

func statToDTO(r model.StatRecord) statDTO {
	return statDTO{
		MatchDate: r.MatchDate, Goals: r.Goals, Assists: r.Assists,
		MinutesPlayed: r.MinutesPlayed, Touches: r.Touches, TacklesWon: r.TacklesWon,
	}
}

type predictStat struct {
	MatchDate     string `json:"match_date"`
	MinutesPlayed int    `json:"minutes_played"`
	Goals         int    `json:"goals"`
	Assists       int    `json:"assists"`
	Touches       int    `json:"touches"`
	TacklesWon    int    `json:"tackles_won"`
}

type predictRequest struct {
	PlayerID    any           `json:"player_id"`
	Stats       []predictStat `json:"stats"`
	HorizonDays int           `json:"horizon_days,omitempty"`
}

// predictResponse keeps only what the view needs. The service's own risk
// label uses different cut-offs and is ignored; the label is derived from
// the probability on merge.
type predictResponse struct {
	InjuryProbability *float64           `json:"injury_probability"`
	InjuryFeatures    map[string]float64 `json:"injury_features"`
	InvestmentDetails *struct {
		PredictedPctChange *float64 `json:"predicted_pct_change"`
		Method             string   `json:"method"`
		SlopePerDay        *float64 `json:"slope_per_day"`
		HorizonDays        int      `json:"horizon_days"`
	} `json:"investment_details"`
}

type radarItem struct {
	Metric  string  `json:"metric"`
	Player  float64 `json:"player"`
	TeamAvg float64 `json:"team_avg"`
}

type undervaluedItem struct {
	ID              flexID  `json:"id"`
	Name            string  `json:"name"`
	Age             int     `json:"age"`
	UndervalueScore float64 `json:"undervalue_score"`
}

// comparisonDTO fields missing from the payload read as zero.
type comparisonDTO struct {
	PlayerRisk float64 `json:"player_risk"`
	TeamAvg    float64 `json:"team_avg"`
}

// errorBody is the backend's error envelope. detail is a string for HTTP
// errors and a list of field errors for request validation failures.
type errorBody struct {
	Detail json.RawMessage `json:"detail"`
}

func (e errorBody) reason() string {
	if len(e.Detail) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(e.Detail, &s); err == nil {
		return s
	}
	var items []struct {
		Loc []any  `json:"loc"`
		Msg string `json:"msg"`
	}
	if err := json.Unmarshal(e.Detail, &items); err == nil && len(items) > 0 {
		parts := make([]string, 0, len(items))
		for _, it := range items {
			parts = append(parts, it.Msg)
		}
		return strings.Join(parts, "; ")
	}
	return string(e.Detail)
}
