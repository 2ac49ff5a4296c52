package oddsmath

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidOdds is returned for American odds of 0, which have no meaning
var ErrInvalidOdds = errors.New("invalid American odds: cannot be 0")

// AmericanToImpliedProbability converts American odds to raw implied probability
// American +150 → 100/250 = 0.40
// American -150 → 150/250 = 0.60
func AmericanToImpliedProbability(american int) (float64, error) {
	if american == 0 {
		return 0, ErrInvalidOdds
	}

	odds := float64(american)
	if american >= 0 {
		return 100.0 / (odds + 100.0), nil
	}

	return -odds / (-odds + 100.0), nil
}

// AmericanPayout returns the profit per $1 staked at the given American odds
// American +150 → 1.50
// American -110 → 0.909
func AmericanPayout(american int) (float64, error) {
	if american == 0 {
		return 0, ErrInvalidOdds
	}

	if american >= 0 {
		return float64(american) / 100.0, nil
	}

	return 100.0 / math.Abs(float64(american)), nil
}

// ProbabilityToAmerican converts a fair probability to American odds
// 0.60 → -150, 0.40 → +150
func ProbabilityToAmerican(probability float64) (int, error) {
	if probability <= 0 || probability >= 1 {
		return 0, fmt.Errorf("invalid probability %.4f: must be between 0 and 1", probability)
	}

	decimal := 1.0 / probability
	if decimal >= 2.0 {
		return int(math.Round((decimal - 1.0) * 100.0)), nil
	}

	return int(math.Round(-100.0 / (decimal - 1.0))), nil
}
