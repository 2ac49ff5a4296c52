package fml

import (
	"math"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/XavierBriggs/fortuna/services/fml-engine/pkg/models"
	"github.com/XavierBriggs/fortuna/services/fml-engine/pkg/oddsmath"
)

const (
	// DefaultBankroll sizes RecommendedStake when the caller gives none
	DefaultBankroll = 1000.0

	// EdgeNoiseFloor drops edges no larger than one percentage point
	EdgeNoiseFloor = 0.01

	// DefaultMinBestEdge is the GetBestEdges threshold when none is given
	DefaultMinBestEdge = 0.03

	bestEdgesLimit = 20
)

// CalculateEdges prices both sides of every book's quote against a reference curve.
//
// For each book:
// 1. Devig the book's own prices (multiplicative) → implied probability per side
// 2. Evaluate the curve at the book's line → fair probability per side
// 3. edge = fair - implied, EV per $1 = p × payout - (1 - p), fair American price
// 4. Kelly = (p × (payout + 1) - 1) / payout, capped to [0, 0.25]
//
// Entries with |edge| <= 0.01 are noise and are dropped. Books with
// unusable prices are skipped.
func CalculateEdges(books []models.BookLine, curve Evaluator, bankroll float64) []models.EdgeCalculation {
	if bankroll <= 0 {
		bankroll = DefaultBankroll
	}

	edges := make([]models.EdgeCalculation, 0, len(books)*2)

	for _, book := range books {
		implied, err := oddsmath.Devig(book.OverPrice, book.UnderPrice, oddsmath.VigMethodMultiplicative)
		if err != nil {
			continue
		}

		fairOver := curve.Evaluate(book.Line)
		sides := []struct {
			side    models.Side
			price   int
			fair    float64
			implied float64
		}{
			{models.SideOver, book.OverPrice, fairOver, implied.POver},
			{models.SideUnder, book.UnderPrice, 1 - fairOver, implied.PUnder},
		}

		for _, s := range sides {
			edge := s.fair - s.implied
			if math.Abs(edge) <= EdgeNoiseFloor {
				continue
			}

			payout, err := oddsmath.AmericanPayout(s.price)
			if err != nil {
				continue
			}

			kelly := oddsmath.KellyFraction(s.fair, payout)

			// Curve output is clamped to [0.01, 0.99], so this cannot fail
			fairPrice, _ := oddsmath.ProbabilityToAmerican(s.fair)

			edges = append(edges, models.EdgeCalculation{
				Book:               book.Book,
				Line:               book.Line,
				Side:               s.side,
				MarketPrice:        s.price,
				FairProbability:    s.fair,
				FairPrice:          fairPrice,
				ImpliedProbability: s.implied,
				Edge:               edge,
				ExpectedValue:      oddsmath.ExpectedValue(s.fair, payout),
				KellyFraction:      kelly,
				RecommendedStake:   stake(bankroll, kelly),
			})
		}
	}

	return edges
}

// stake rounds bankroll × kelly to cents
func stake(bankroll, kelly float64) float64 {
	return decimal.NewFromFloat(bankroll).
		Mul(decimal.NewFromFloat(kelly)).
		Round(2).
		InexactFloat64()
}

// RankEdges filters edges to |edge| >= minEdge and returns the 20 largest by |edge|
func RankEdges(edges []models.EdgeCalculation, minEdge float64) []models.EdgeCalculation {
	ranked := make([]models.EdgeCalculation, 0, len(edges))
	for _, e := range edges {
		if math.Abs(e.Edge) >= minEdge {
			ranked = append(ranked, e)
		}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return math.Abs(ranked[i].Edge) > math.Abs(ranked[j].Edge)
	})

	if len(ranked) > bestEdgesLimit {
		ranked = ranked[:bestEdgesLimit]
	}

	return ranked
}
