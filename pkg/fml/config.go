package fml

import (
	"fmt"
	"math"

	"github.com/XavierBriggs/fortuna/services/fml-engine/pkg/models"
	"github.com/XavierBriggs/fortuna/services/fml-engine/pkg/oddsmath"
)

// Config is an immutable engine configuration snapshot. The service never
// mutates a Config after publishing it; UpdateConfig builds a new one.
type Config struct {
	Version             int64               `json:"version"`
	BookWeights         []models.BookWeight `json:"book_weights"`
	BlendAlpha          float64             `json:"blend_alpha"`
	MinBooks            int                 `json:"min_books"`
	LineRange           models.LineRange    `json:"line_range"`
	ConfidenceThreshold float64             `json:"confidence_threshold"` // Reserved for gating low-confidence lines
	DevigMethod         oddsmath.VigMethod  `json:"devig_method"`
	Bankroll            float64             `json:"bankroll"`
}

// ConfigPatch is a partial update; nil fields keep their current value
type ConfigPatch struct {
	BookWeights         []models.BookWeight `json:"book_weights,omitempty"`
	BlendAlpha          *float64            `json:"blend_alpha,omitempty"`
	MinBooks            *int                `json:"min_books,omitempty"`
	LineRange           *models.LineRange   `json:"line_range,omitempty"`
	ConfidenceThreshold *float64            `json:"confidence_threshold,omitempty"`
	DevigMethod         *oddsmath.VigMethod `json:"devig_method,omitempty"`
	Bankroll            *float64            `json:"bankroll,omitempty"`
}

// DefaultBookWeights favours historically sharp books
func DefaultBookWeights() []models.BookWeight {
	return []models.BookWeight{
		{Book: "pinnacle", Weight: 2.0, Sharpness: 1.0, Liquidity: 0.9},
		{Book: "circa", Weight: 1.8, Sharpness: 0.95, Liquidity: 0.7},
		{Book: "bookmaker", Weight: 1.7, Sharpness: 0.9, Liquidity: 0.7},
		{Book: "betonline", Weight: 1.4, Sharpness: 0.75, Liquidity: 0.6},
		{Book: "draftkings", Weight: 1.2, Sharpness: 0.6, Liquidity: 1.0},
		{Book: "fanduel", Weight: 1.2, Sharpness: 0.6, Liquidity: 1.0},
		{Book: "betmgm", Weight: 1.0, Sharpness: 0.5, Liquidity: 0.8},
		{Book: "caesars", Weight: 1.0, Sharpness: 0.5, Liquidity: 0.8},
		{Book: "pointsbet", Weight: 1.0, Sharpness: 0.45, Liquidity: 0.5},
	}
}

// DefaultConfig returns the engine defaults
func DefaultConfig() Config {
	return Config{
		Version:             1,
		BookWeights:         DefaultBookWeights(),
		BlendAlpha:          DefaultBlendAlpha,
		MinBooks:            2,
		LineRange:           models.LineRange{Min: 0, Max: 50, Step: 0.25},
		ConfidenceThreshold: 0.1,
		DevigMethod:         oddsmath.VigMethodShin,
		Bankroll:            DefaultBankroll,
	}
}

// Apply returns a copy of c with the patch shallow-merged and the version bumped
func (c Config) Apply(patch ConfigPatch) Config {
	next := c
	next.Version = c.Version + 1

	if patch.BookWeights != nil {
		next.BookWeights = append([]models.BookWeight(nil), patch.BookWeights...)
	} else {
		next.BookWeights = append([]models.BookWeight(nil), c.BookWeights...)
	}
	if patch.BlendAlpha != nil {
		next.BlendAlpha = *patch.BlendAlpha
	}
	if patch.MinBooks != nil {
		next.MinBooks = *patch.MinBooks
	}
	if patch.LineRange != nil {
		next.LineRange = *patch.LineRange
	}
	if patch.ConfidenceThreshold != nil {
		next.ConfidenceThreshold = *patch.ConfidenceThreshold
	}
	if patch.DevigMethod != nil {
		next.DevigMethod = *patch.DevigMethod
	}
	if patch.Bankroll != nil {
		next.Bankroll = *patch.Bankroll
	}

	return next
}

// Validate checks that the snapshot is usable
func (c Config) Validate() error {
	if c.MinBooks < 1 {
		return fmt.Errorf("min_books must be at least 1, got %d", c.MinBooks)
	}
	if c.BlendAlpha < 0 || c.BlendAlpha > 1 {
		return fmt.Errorf("blend_alpha must be between 0 and 1, got %.2f", c.BlendAlpha)
	}
	if err := ValidateLineRange(c.LineRange); err != nil {
		return err
	}
	switch c.DevigMethod {
	case oddsmath.VigMethodMultiplicative, oddsmath.VigMethodShin:
	default:
		return fmt.Errorf("unknown devig method: %q", c.DevigMethod)
	}
	if c.Bankroll <= 0 {
		return fmt.Errorf("bankroll must be positive, got %.2f", c.Bankroll)
	}
	for _, w := range c.BookWeights {
		if w.Weight < 0 || math.IsNaN(w.Weight) || math.IsInf(w.Weight, 0) {
			return fmt.Errorf("book weight for %q must be a non-negative number, got %g", w.Book, w.Weight)
		}
	}
	return nil
}
