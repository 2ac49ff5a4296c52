package fml

import (
	"math"

	"github.com/XavierBriggs/fortuna/services/fml-engine/pkg/models"
)

const (
	bisectionTolerance     = 0.001
	bisectionMaxIterations = 50
	derivativeDelta        = 0.1
	minIntervalMargin      = 0.5

	// MethodBisection labels lines solved by SolveFairMarketLine
	MethodBisection = "bisection"
)

// SolveFairMarketLine finds the line where the curve crosses 50%.
//
// Bisection over [min, max]: when P(over) at the midpoint is still above
// one half the fair line is higher, otherwise it is lower. Stops once the
// bracket is narrower than 0.001 or after 50 halvings.
//
// Confidence comes from the slope at the solution (central difference,
// delta 0.1): steep curves pin the line down, flat ones do not.
func SolveFairMarketLine(curve Evaluator, lineRange models.LineRange) models.FairMarketLine {
	lo, hi := lineRange.Min, lineRange.Max

	for i := 0; i < bisectionMaxIterations && hi-lo >= bisectionTolerance; i++ {
		mid := (lo + hi) / 2
		if curve.Evaluate(mid) > 0.5 {
			lo = mid
		} else {
			hi = mid
		}
	}

	line := (lo + hi) / 2

	derivative := (curve.Evaluate(line+derivativeDelta) - curve.Evaluate(line-derivativeDelta)) / (2 * derivativeDelta)
	slope := math.Abs(derivative)

	confidence := math.Min(1, slope*10)

	var margin float64
	if slope == 0 {
		// Flat curve: the line could sit anywhere in the range
		margin = math.Max(minIntervalMargin, (lineRange.Max-lineRange.Min)/2)
	} else {
		margin = math.Max(minIntervalMargin, 2/slope)
	}

	return models.FairMarketLine{
		Line:       line,
		Confidence: confidence,
		ConfidenceInterval: models.ConfidenceInterval{
			Lower: line - margin,
			Upper: line + margin,
		},
		Method: MethodBisection,
	}
}
