package fml

import (
	"math"

	"github.com/XavierBriggs/fortuna/services/fml-engine/pkg/models"
	"github.com/XavierBriggs/fortuna/services/fml-engine/pkg/oddsmath"
)

const (
	defaultBookWeight      = 1.0
	minConsensusConfidence = 0.1
	maxConsensusConfidence = 1.0
	disagreementPenalty    = 10.0
)

// BookProbability is one book's devigged view of a market
type BookProbability struct {
	Book   string
	Line   float64
	Result oddsmath.DevigResult
}

// Consensus is the weighted aggregate of several books
type Consensus struct {
	POver      float64 `json:"p_over"`
	PUnder     float64 `json:"p_under"`
	Confidence float64 `json:"confidence"`
	Variance   float64 `json:"variance"`
	BookCount  int     `json:"book_count"`
}

// CalculateConsensus combines devigged book probabilities into a weighted estimate
//
// Formula:
// 1. consensus = Σ(w_i × p_i) / Σw_i, books without a weight count as 1.0
// 2. variance = Σ(w_i × (p_i - consensus)²) / Σw_i over the over side
// 3. confidence = exp(-10 × variance), clamped to [0.1, 1.0]
//
// Books agreeing exactly give confidence 1.0; maximal disagreement hits the 0.1 floor.
func CalculateConsensus(probabilities []BookProbability, weights []models.BookWeight) (Consensus, error) {
	if len(probabilities) == 0 {
		return Consensus{}, ErrNoBookProbabilities
	}

	weightByBook := make(map[string]float64, len(weights))
	for _, w := range weights {
		weightByBook[NormalizeBookKey(w.Book)] = w.Weight
	}

	bookWeights := make([]float64, len(probabilities))
	var totalWeight, sumOver, sumUnder float64

	for i, bp := range probabilities {
		weight, ok := weightByBook[NormalizeBookKey(bp.Book)]
		if !ok {
			weight = defaultBookWeight
		}
		bookWeights[i] = weight

		totalWeight += weight
		sumOver += weight * bp.Result.POver
		sumUnder += weight * bp.Result.PUnder
	}

	if totalWeight == 0 {
		return Consensus{}, ErrZeroTotalWeight
	}

	consensusOver := sumOver / totalWeight
	consensusUnder := sumUnder / totalWeight

	var variance float64
	for i, bp := range probabilities {
		deviation := bp.Result.POver - consensusOver
		variance += bookWeights[i] * deviation * deviation
	}
	variance /= totalWeight

	confidence := math.Exp(-variance * disagreementPenalty)

	return Consensus{
		POver:      consensusOver,
		PUnder:     consensusUnder,
		Confidence: clamp(confidence, minConsensusConfidence, maxConsensusConfidence),
		Variance:   variance,
		BookCount:  len(probabilities),
	}, nil
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
