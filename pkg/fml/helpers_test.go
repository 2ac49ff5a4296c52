package fml_test

import (
	"math"

	"github.com/XavierBriggs/fortuna/services/fml-engine/pkg/fml"
	"github.com/XavierBriggs/fortuna/services/fml-engine/pkg/models"
	"github.com/XavierBriggs/fortuna/services/fml-engine/pkg/oddsmath"
)

// flatCurve returns the same P(over) at every line
type flatCurve float64

func (c flatCurve) Evaluate(float64) float64 { return float64(c) }

func approxEqual(a, b, tolerance float64) bool {
	return math.Abs(a-b) <= tolerance
}

func bookProb(book string, line, pOver float64) fml.BookProbability {
	return fml.BookProbability{
		Book: book,
		Line: line,
		Result: oddsmath.DevigResult{
			POver:  pOver,
			PUnder: 1 - pOver,
			Method: oddsmath.VigMethodMultiplicative,
		},
	}
}

func book(name string, line float64, over, under int) models.BookLine {
	return models.BookLine{Book: name, Line: line, OverPrice: over, UnderPrice: under}
}
