package oddsmath

import (
	"errors"
	"fmt"
	"math"

	"github.com/sirupsen/logrus"
)

// VigMethod defines how to remove vig
type VigMethod string

const (
	VigMethodMultiplicative VigMethod = "multiplicative" // Proportional normalization
	VigMethodShin           VigMethod = "shin"           // Insider-trading model (Shin 1993)
)

// Shin solver bounds
const (
	shinInitialZ      = 0.01
	shinStep          = 0.001
	shinMinZ          = 0.0
	shinMaxZ          = 0.2
	shinMaxIterations = 100
	shinTolerance     = 1e-8
)

// ErrUnknownVigMethod is returned for a devig method other than multiplicative or shin
var ErrUnknownVigMethod = errors.New("unknown devig method")

var log logrus.FieldLogger = logrus.WithField("component", "oddsmath")

// SetLogger replaces the logger used for devig warnings
func SetLogger(logger logrus.FieldLogger) {
	log = logger
}

// DevigResult holds fair probabilities for a two-sided quote
type DevigResult struct {
	POver      float64   `json:"p_over"`
	PUnder     float64   `json:"p_under"`
	VigRemoved float64   `json:"vig_removed"`
	Method     VigMethod `json:"method"`
}

// ShinSolution is the outcome of the Shin fixed-point solve.
// Converged is false when no z in [0, 0.2] reproduces a coherent book
// within the iteration budget; the probabilities are then meaningless.
type ShinSolution struct {
	POver      float64
	PUnder     float64
	Z          float64
	Iterations int
	Converged  bool
}

// Devig converts a two-sided American quote to fair probabilities.
//
// Shin non-convergence is not an error: the quote is re-priced with the
// multiplicative method and the result reports that method instead.
// An error is returned only for invalid odds or an unknown method.
func Devig(overPrice, underPrice int, method VigMethod) (DevigResult, error) {
	rawOver, err := AmericanToImpliedProbability(overPrice)
	if err != nil {
		return DevigResult{}, fmt.Errorf("over price: %w", err)
	}
	rawUnder, err := AmericanToImpliedProbability(underPrice)
	if err != nil {
		return DevigResult{}, fmt.Errorf("under price: %w", err)
	}

	switch method {
	case VigMethodMultiplicative, "":
		return multiplicativeResult(rawOver, rawUnder), nil

	case VigMethodShin:
		solution := RemoveVigShin(rawOver, rawUnder)
		if !solution.Converged {
			log.WithFields(logrus.Fields{
				"over_price":  overPrice,
				"under_price": underPrice,
				"iterations":  solution.Iterations,
				"z":           solution.Z,
			}).Warn("shin devig did not converge, falling back to multiplicative")
			return multiplicativeResult(rawOver, rawUnder), nil
		}

		return DevigResult{
			POver:      solution.POver,
			PUnder:     solution.PUnder,
			VigRemoved: rawOver + rawUnder - 1.0,
			Method:     VigMethodShin,
		}, nil

	default:
		return DevigResult{}, fmt.Errorf("%w: %q", ErrUnknownVigMethod, method)
	}
}

func multiplicativeResult(rawOver, rawUnder float64) DevigResult {
	fairOver, fairUnder, vig := RemoveVigMultiplicative(rawOver, rawUnder)
	return DevigResult{
		POver:      fairOver,
		PUnder:     fairUnder,
		VigRemoved: vig,
		Method:     VigMethodMultiplicative,
	}
}

// RemoveVigMultiplicative removes vig from a two-way market by normalization
//
// Formula:
// 1. Overround: total = prob1 + prob2 (typically > 1.0)
// 2. fair1 = prob1 / total, fair2 = 1 - fair1
//
// Example:
// -110 / -110 → 52.38% / 52.38% → total 104.76% → 50% / 50%, vig 4.76%
func RemoveVigMultiplicative(prob1, prob2 float64) (fair1, fair2, vig float64) {
	total := prob1 + prob2
	fair1 = prob1 / total
	fair2 = 1.0 - fair1
	return fair1, fair2, total - 1.0
}

// RemoveVigShin removes vig using Shin's model.
//
// For an informed-money fraction z the fair probability of outcome i is
//
//	p_i = (sqrt(z² + 4(1-z)·π_i²/Σπ) - z) / (2(1-z))
//
// and z is the value making Σp_i = 1. Starting from z = 0.01 each iteration
// probes the residual at z+0.001 and takes a secant step, with z clamped to
// [0, 0.2].
func RemoveVigShin(rawOver, rawUnder float64) ShinSolution {
	total := rawOver + rawUnder
	z := shinInitialZ

	iterations := 0
	for iterations < shinMaxIterations {
		iterations++

		pOver, pUnder := shinProbabilities(rawOver, rawUnder, total, z)
		residual := pOver + pUnder - 1.0
		if math.Abs(residual) < shinTolerance {
			fairOver := pOver / (pOver + pUnder)
			return ShinSolution{
				POver:      fairOver,
				PUnder:     1.0 - fairOver,
				Z:          z,
				Iterations: iterations,
				Converged:  true,
			}
		}

		probeOver, probeUnder := shinProbabilities(rawOver, rawUnder, total, z+shinStep)
		slope := (probeOver + probeUnder - 1.0 - residual) / shinStep
		if slope >= 0 || math.IsNaN(slope) {
			break
		}

		next := clamp(z-residual/slope, shinMinZ, shinMaxZ)
		if next == z {
			// Pinned at a bound with the root outside it
			break
		}
		z = next
	}

	return ShinSolution{Z: z, Iterations: iterations}
}

func shinProbabilities(rawOver, rawUnder, total, z float64) (float64, float64) {
	return shinProbability(rawOver, total, z), shinProbability(rawUnder, total, z)
}

func shinProbability(raw, total, z float64) float64 {
	return (math.Sqrt(z*z+4.0*(1.0-z)*raw*raw/total) - z) / (2.0 * (1.0 - z))
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
