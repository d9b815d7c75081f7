package simulate

import (
	"crypto/rand"
	"math/big"
	"time"
)

const randomFloatDivisor = 1000000

// Edit kinds.
const (
	opCreate = "create"
	opUpdate = "update"
	opDelete = "delete"
)

// Edit shares of a burst; creates take the rest.
const (
	updateShare = 0.25
	deleteShare = 0.15
)

var seasonStart = time.Date(2024, time.August, 1, 0, 0, 0, 0, time.UTC)

// getRandomFloat returns a random float64 in [0, 1) using crypto/rand.
func getRandomFloat() float64 {
	n, _ := rand.Int(rand.Reader, big.NewInt(randomFloatDivisor))
	return float64(n.Int64()) / float64(randomFloatDivisor)
}

func randomInt(maxExclusive int) int {
	if maxExclusive <= 0 {
		return 0
	}
	return int(getRandomFloat() * float64(maxExclusive))
}

// pickOp chooses the kind of the next edit. Without records to edit every
// op is a create.
func pickOp(haveRecords bool) string {
	if !haveRecords {
		return opCreate
	}
	switch r := getRandomFloat(); {
	case r < deleteShare:
		return opDelete
	case r < deleteShare+updateShare:
		return opUpdate
	default:
		return opCreate
	}
}

// randomStat builds a valid raw stat body within the accepted ranges.
func randomStat() map[string]any {
	minutes := 10 + randomInt(111)
	return map[string]any{
		"match_date":     seasonStart.AddDate(0, 0, randomInt(300)).Format(time.DateOnly),
		"goals":          randomInt(4),
		"assists":        randomInt(3),
		"minutes_played": minutes,
		"touches":        minutes/2 + randomInt(40),
		"tackles_won":    randomInt(6),
	}
}
