package repository

import (
	"strings"

	"github.com/okian/soccer-tracker/internal/domain/model"
)

// MaxMinutesPlayed bounds a single match including extra time.
const MaxMinutesPlayed = 120

// ValidatePlayer enforces the server-side player rules.
func ValidatePlayer(f model.PlayerFields) error {
	if strings.TrimSpace(f.Name) == "" {
		return model.Errorf(model.KindValidation, "validate player", "name is required")
	}
	if f.Age < 0 {
		return model.Errorf(model.KindValidation, "validate player", "age must be non-negative, got %d", f.Age)
	}
	return nil
}

// ValidateStat range-checks the numeric fields. The normalizer never clamps,
// so this is where out-of-range input is rejected.
func ValidateStat(rec model.StatRecord) error {
	fields := []struct {
		name  string
		value int
	}{
		{"goals", rec.Goals},
		{"assists", rec.Assists},
		{"minutes_played", rec.MinutesPlayed},
		{"touches", rec.Touches},
		{"tackles_won", rec.TacklesWon},
	}
	for _, f := range fields {
		if f.value < 0 {
			return model.Errorf(model.KindValidation, "validate stat", "%s must be non-negative, got %d", f.name, f.value)
		}
	}
	if rec.MinutesPlayed > MaxMinutesPlayed {
		return model.Errorf(model.KindValidation, "validate stat", "minutes_played must be between 0 and %d, got %d", MaxMinutesPlayed, rec.MinutesPlayed)
	}
	return nil
}
