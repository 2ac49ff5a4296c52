package fml

import (
	"github.com/XavierBriggs/fortuna/services/fml-engine/pkg/models"
)

// Blend weight bounds and adjustments
const (
	DefaultBlendAlpha = 0.3
	MinBlendAlpha     = 0.05
	MaxBlendAlpha     = 0.8

	injuryThreshold     = 0.5
	injuryAlphaBump     = 0.2
	minutesThreshold    = 0.4
	minutesAlphaBump    = 0.15
	lineSpreadThreshold = 2.0
	lineSpreadAlphaBump = 0.1
)

// AdaptiveAlpha returns the model weight for a market.
//
// The market is trusted less when player context is uncertain (likely
// injury, minutes restriction) or when books disagree on the line by
// more than two units. Result is clamped to [0.05, 0.8].
func AdaptiveAlpha(base float64, features models.Features, books []models.BookLine) float64 {
	alpha := base

	if features.InjuryProbability > injuryThreshold {
		alpha += injuryAlphaBump
	}
	if features.MinutesRestriction > minutesThreshold {
		alpha += minutesAlphaBump
	}
	if LineSpread(books) > lineSpreadThreshold {
		alpha += lineSpreadAlphaBump
	}

	return clamp(alpha, MinBlendAlpha, MaxBlendAlpha)
}

// LineSpread returns max - min of the quoted lines
func LineSpread(books []models.BookLine) float64 {
	if len(books) == 0 {
		return 0
	}

	lo, hi := books[0].Line, books[0].Line
	for _, b := range books[1:] {
		if b.Line < lo {
			lo = b.Line
		}
		if b.Line > hi {
			hi = b.Line
		}
	}

	return hi - lo
}

// BlendedCurve mixes a model curve into a market curve with weight Alpha
type BlendedCurve struct {
	Market Evaluator
	Model  Evaluator
	Alpha  float64
	data   models.CurveData
}

// BlendCurves combines market and model curves over the line range.
// A convex mix of two non-increasing curves is itself non-increasing.
func BlendCurves(market, model Evaluator, alpha float64, lineRange models.LineRange) *BlendedCurve {
	blended := &BlendedCurve{
		Market: market,
		Model:  model,
		Alpha:  alpha,
	}
	blended.data = Discretize(blended, lineRange)

	return blended
}

// Evaluate returns alpha × model + (1 - alpha) × market, clamped to [0.01, 0.99]
func (b *BlendedCurve) Evaluate(line float64) float64 {
	p := b.Alpha*b.Model.Evaluate(line) + (1-b.Alpha)*b.Market.Evaluate(line)
	return clamp(p, MinProbability, MaxProbability)
}

// Data returns the discretized grid of the blended curve
func (b *BlendedCurve) Data() models.CurveData {
	return b.data
}
