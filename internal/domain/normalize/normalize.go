// Package normalize turns loosely shaped stat payloads into canonical records.
//
// Normalize never fails. For each field the canonical key is consulted first,
// then its aliases in order. A key whose value is nil or an empty string counts
// as absent and lookup moves on; a key holding anything else ends the lookup,
// and if that value cannot be read as a number the field is 0 (or a null date).
package normalize

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/okian/soccer-tracker/internal/domain/model"
)

// Lookup orders; the canonical name always comes first.
var (
	dateKeys     = []string{"match_date", "date", "matchDate"}
	minutesKeys  = []string{"minutes_played", "minutes", "minutesPlayed"}
	tacklesKeys  = []string{"tackles_won", "tackles", "tacklesWon"}
	goalsKeys    = []string{"goals"}
	assistsKeys  = []string{"assists"}
	touchesKeys  = []string{"touches"}
	idKeys       = []string{"id", "stat_id", "statId"}
	playerIDKeys = []string{"player_id", "playerId"}
)

// Normalize converts raw into a canonical record.
func Normalize(raw map[string]any) model.StatRecord {
	return model.StatRecord{
		ID:            text(raw, idKeys),
		PlayerID:      text(raw, playerIDKeys),
		MatchDate:     date(raw),
		Goals:         integer(raw, goalsKeys),
		Assists:       integer(raw, assistsKeys),
		MinutesPlayed: integer(raw, minutesKeys),
		Touches:       integer(raw, touchesKeys),
		TacklesWon:    integer(raw, tacklesKeys),
	}
}

// NormalizeAll normalizes each payload, keeping order.
func NormalizeAll(raws []map[string]any) []model.StatRecord {
	out := make([]model.StatRecord, len(raws))
	for i, raw := range raws {
		out[i] = Normalize(raw)
	}
	return out
}

// lookup returns the first present value among keys.
func lookup(raw map[string]any, keys []string) (any, bool) {
	for _, k := range keys {
		v, ok := raw[k]
		if !ok || v == nil {
			continue
		}
		if s, isStr := v.(string); isStr && strings.TrimSpace(s) == "" {
			continue
		}
		return v, true
	}
	return nil, false
}

func integer(raw map[string]any, keys []string) int {
	v, ok := lookup(raw, keys)
	if !ok {
		return 0
	}
	f, ok := number(v)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) || math.Abs(f) > math.MaxInt32 {
		return 0
	}
	return int(f)
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case uint32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

func date(raw map[string]any) model.Date {
	v, ok := lookup(raw, dateKeys)
	if !ok {
		return model.Date{}
	}
	switch d := v.(type) {
	case string:
		parsed, _ := model.ParseDate(d)
		return parsed
	case model.Date:
		return d
	case time.Time:
		if d.IsZero() {
			return model.Date{}
		}
		y, m, day := d.Date()
		return model.NewDate(y, m, day)
	}
	return model.Date{}
}

func text(raw map[string]any, keys []string) string {
	v, ok := lookup(raw, keys)
	if !ok {
		return ""
	}
	switch s := v.(type) {
	case string:
		return strings.TrimSpace(s)
	case json.Number:
		return s.String()
	}
	if f, ok := number(v); ok && f == math.Trunc(f) {
		return strconv.FormatInt(int64(f), 10)
	}
	return ""
}
