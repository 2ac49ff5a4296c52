package oddsmath

import "math"

// MaxKellyFraction caps every stake recommendation at quarter Kelly
const MaxKellyFraction = 0.25

// ExpectedValue returns EV per $1 staked
// EV = p × payout - (1 - p)
func ExpectedValue(probability, payout float64) float64 {
	return probability*payout - (1.0 - probability)
}

// KellyFraction returns the bankroll fraction to stake, capped to [0, MaxKellyFraction]
// f* = (p × (b + 1) - 1) / b, where b is the net payout per $1
func KellyFraction(probability, payout float64) float64 {
	if payout <= 0 {
		return 0
	}

	kelly := (probability*(payout+1.0) - 1.0) / payout
	if math.IsNaN(kelly) {
		return 0
	}

	return clamp(kelly, 0, MaxKellyFraction)
}
