package fml

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/XavierBriggs/fortuna/services/fml-engine/pkg/contracts"
	"github.com/XavierBriggs/fortuna/services/fml-engine/pkg/models"
)

// ErrMissingProjection is returned when features carry no projected stat value
var ErrMissingProjection = errors.New("features missing projection")

const (
	familyNormal = "normal"

	// Spread of a stat line relative to its mean when the caller gives none
	defaultCoefficientOfVariation = 0.25
	minStdDev                     = 0.5

	leaguePace = 100.0
)

// NormalModel is a DistributionModel that treats a player's stat as normally
// distributed around the upstream projection. Minutes restrictions shrink the
// mean and pace scales it relative to a league-average 100 possessions.
type NormalModel struct{}

// NewNormalModel creates the default outcome model
func NewNormalModel() *NormalModel {
	return &NormalModel{}
}

// PredictOutcome implements contracts.DistributionModel
func (m *NormalModel) PredictOutcome(ctx context.Context, playerID, market string, features models.Features, sport string) (contracts.DistributionParams, error) {
	if features.Projection <= 0 {
		return contracts.DistributionParams{}, fmt.Errorf("player %s market %s: %w", playerID, market, ErrMissingProjection)
	}

	mean := features.Projection
	if features.Pace > 0 {
		mean *= features.Pace / leaguePace
	}
	if features.MinutesRestriction > 0 {
		mean *= 1 - clamp(features.MinutesRestriction, 0, 1)/2
	}

	stdDev := features.StdDev
	if stdDev <= 0 {
		stdDev = mean * defaultCoefficientOfVariation
	}

	return contracts.DistributionParams{
		Family: familyNormal,
		Mean:   mean,
		StdDev: math.Max(stdDev, minStdDev),
	}, nil
}

// ProbabilityOver implements contracts.DistributionModel
// P(X > line) = 1 - Φ((line - μ) / σ)
func (m *NormalModel) ProbabilityOver(line float64, params contracts.DistributionParams) float64 {
	if params.StdDev <= 0 {
		if line < params.Mean {
			return 1
		}
		return 0
	}

	z := (line - params.Mean) / params.StdDev
	return 1 - normalCDF(z)
}

// normalCDF calculates P(Z <= z) for the standard normal distribution
func normalCDF(z float64) float64 {
	return 0.5 * (1 + math.Erf(z/math.Sqrt2))
}

// BuildModelCurve samples the outcome model across the line range and fits it
// with the same monotonic builder used for market anchors
func BuildModelCurve(ctx context.Context, model contracts.DistributionModel, market models.PropMarket, lineRange models.LineRange) (*ProbabilityCurve, error) {
	params, err := model.PredictOutcome(ctx, market.PlayerID, market.Market, market.Features, market.Sport)
	if err != nil {
		return nil, fmt.Errorf("predict outcome: %w", err)
	}

	lines := GridLines(lineRange)
	points := make([]CurvePoint, len(lines))
	for i, line := range lines {
		points[i] = CurvePoint{Line: line, Probability: model.ProbabilityOver(line, params)}
	}

	return BuildProbabilityCurve(points, lineRange)
}
