package contracts

import (
	"context"

	"github.com/XavierBriggs/fortuna/services/fml-engine/pkg/models"
)

// DistributionParams describes a player's outcome distribution for one market
type DistributionParams struct {
	Family string             `json:"family"` // e.g. "normal"
	Mean   float64            `json:"mean"`
	StdDev float64            `json:"std_dev"`
	Extra  map[string]float64 `json:"extra,omitempty"`
}

// DistributionModel defines the player-outcome model the engine samples
// to build the model curve
type DistributionModel interface {
	// PredictOutcome returns the outcome distribution for a player's market
	PredictOutcome(ctx context.Context, playerID, market string, features models.Features, sport string) (DistributionParams, error)

	// ProbabilityOver returns P(outcome > line) under params
	ProbabilityOver(line float64, params DistributionParams) float64
}

// BookWeightProvider supplies consensus weights per sportsbook
type BookWeightProvider interface {
	// GetBookWeights returns the current weight table
	GetBookWeights(ctx context.Context) ([]models.BookWeight, error)
}
