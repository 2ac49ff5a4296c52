package fml

import (
	"fmt"
	"math"
	"sort"

	"github.com/XavierBriggs/fortuna/services/fml-engine/pkg/models"
)

// Probabilities are kept off 0 and 1 so logits stay finite
const (
	MinProbability = 0.01
	MaxProbability = 0.99
)

// Evaluator is anything that maps a proposition line to P(over)
type Evaluator interface {
	Evaluate(line float64) float64
}

// CurvePoint is a sparse (line, P(over)) anchor
type CurvePoint struct {
	Line        float64
	Probability float64
}

type logitAnchor struct {
	line  float64
	logit float64
}

// ProbabilityCurve is a continuous, non-increasing P(over) function of the line
type ProbabilityCurve struct {
	anchors []logitAnchor
	data    models.CurveData
}

// BuildProbabilityCurve fits a monotonic curve through sparse anchors.
//
// Steps:
// 1. Sort anchors by line
// 2. Clamp each probability to [0.01, 0.99] and map it to logit space
// 3. Pool adjacent violators: any anchor whose logit is below its successor's
// is merged with it into their midpoint, stepping back one position to catch
// cascades, until logits are non-increasing in line
// 4. Collapse anchors sharing a line into one with their mean probability
// 5. Interpolate linearly in logit space between anchors
// 6. Materialize a grid over the range for inspection
func BuildProbabilityCurve(points []CurvePoint, lineRange models.LineRange) (*ProbabilityCurve, error) {
	if len(points) == 0 {
		return nil, ErrNoCurvePoints
	}
	if err := ValidateLineRange(lineRange); err != nil {
		return nil, err
	}

	sorted := make([]CurvePoint, len(points))
	copy(sorted, points)
	// Ties go highest probability first so shared lines are never pooled
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Line == sorted[j].Line {
			return sorted[i].Probability > sorted[j].Probability
		}
		return sorted[i].Line < sorted[j].Line
	})

	anchors := make([]logitAnchor, len(sorted))
	for i, p := range sorted {
		anchors[i] = logitAnchor{
			line:  p.Line,
			logit: logit(clamp(p.Probability, MinProbability, MaxProbability)),
		}
	}

	curve := &ProbabilityCurve{anchors: collapseEqualLines(poolAdjacentViolators(anchors))}
	curve.data = Discretize(curve, lineRange)

	return curve, nil
}

// poolAdjacentViolators enforces non-increasing logits. Each merge removes an
// anchor, so the loop runs at most O(n²) steps.
func poolAdjacentViolators(anchors []logitAnchor) []logitAnchor {
	i := 0
	for i < len(anchors)-1 {
		if anchors[i].logit >= anchors[i+1].logit {
			i++
			continue
		}

		merged := logitAnchor{
			line:  (anchors[i].line + anchors[i+1].line) / 2,
			logit: (anchors[i].logit + anchors[i+1].logit) / 2,
		}
		anchors[i] = merged
		anchors = append(anchors[:i+1], anchors[i+2:]...)

		if i > 0 {
			i--
		}
	}

	return anchors
}

// collapseEqualLines replaces each run of anchors at the same line with one
// anchor at their mean probability. Input is sorted with non-increasing
// logits, so the mean stays between its neighbours.
func collapseEqualLines(anchors []logitAnchor) []logitAnchor {
	collapsed := anchors[:0]

	for i := 0; i < len(anchors); {
		j := i
		sum := 0.0
		for j < len(anchors) && anchors[j].line == anchors[i].line {
			sum += sigmoid(anchors[j].logit)
			j++
		}

		anchor := anchors[i]
		if j-i > 1 {
			anchor.logit = logit(sum / float64(j-i))
		}
		collapsed = append(collapsed, anchor)
		i = j
	}

	return collapsed
}

// Evaluate returns P(over) at line, in [0.01, 0.99]
func (c *ProbabilityCurve) Evaluate(line float64) float64 {
	return clamp(sigmoid(c.logitAt(line)), MinProbability, MaxProbability)
}

func (c *ProbabilityCurve) logitAt(line float64) float64 {
	anchors := c.anchors
	first, last := anchors[0], anchors[len(anchors)-1]

	if line <= first.line {
		return first.logit
	}
	if line >= last.line {
		return last.logit
	}

	// First anchor at or beyond line; line is strictly inside the range
	// and anchor lines are unique
	hi := sort.Search(len(anchors), func(i int) bool {
		return anchors[i].line >= line
	})
	if anchors[hi].line == line {
		return anchors[hi].logit
	}

	a, b := anchors[hi-1], anchors[hi]
	t := (line - a.line) / (b.line - a.line)
	return a.logit + t*(b.logit-a.logit)
}

// Data returns the discretized grid of the curve
func (c *ProbabilityCurve) Data() models.CurveData {
	return c.data
}

// AnchorCount returns the number of monotonic anchors left after pooling
func (c *ProbabilityCurve) AnchorCount() int {
	return len(c.anchors)
}

// Discretize samples any evaluator over the line range
func Discretize(curve Evaluator, lineRange models.LineRange) models.CurveData {
	lines := GridLines(lineRange)
	probabilities := make([]float64, len(lines))
	for i, line := range lines {
		probabilities[i] = curve.Evaluate(line)
	}

	return models.CurveData{Lines: lines, Probabilities: probabilities}
}

// GridLines returns min, min+step, ... up to max inclusive
func GridLines(lineRange models.LineRange) []float64 {
	if ValidateLineRange(lineRange) != nil {
		return nil
	}

	// Index-based stepping avoids accumulating float error
	count := int(math.Floor((lineRange.Max-lineRange.Min)/lineRange.Step+1e-9)) + 1
	lines := make([]float64, count)
	for i := range lines {
		lines[i] = lineRange.Min + float64(i)*lineRange.Step
	}

	return lines
}

// ValidateLineRange checks that the range is non-empty and steps forward
func ValidateLineRange(lineRange models.LineRange) error {
	if lineRange.Step <= 0 || lineRange.Max < lineRange.Min ||
		math.IsNaN(lineRange.Min) || math.IsNaN(lineRange.Max) {
		return fmt.Errorf("%w: min=%g max=%g step=%g", ErrInvalidLineRange,
			lineRange.Min, lineRange.Max, lineRange.Step)
	}
	return nil
}

func logit(p float64) float64 {
	return math.Log(p / (1 - p))
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
