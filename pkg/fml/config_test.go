package fml_test

import (
	"math"
	"testing"

	"github.com/XavierBriggs/fortuna/services/fml-engine/pkg/fml"
	"github.com/XavierBriggs/fortuna/services/fml-engine/pkg/models"
	"github.com/XavierBriggs/fortuna/services/fml-engine/pkg/oddsmath"
)

func TestDefaultConfig(t *testing.T) {
	cfg := fml.DefaultConfig()

	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.BlendAlpha != 0.3 || cfg.MinBooks != 2 || cfg.DevigMethod != oddsmath.VigMethodShin {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.LineRange != (models.LineRange{Min: 0, Max: 50, Step: 0.25}) {
		t.Errorf("LineRange = %+v", cfg.LineRange)
	}
}

func TestConfig_Apply(t *testing.T) {
	base := fml.DefaultConfig()
	alpha := 0.5
	minBooks := 3

	next := base.Apply(fml.ConfigPatch{BlendAlpha: &alpha, MinBooks: &minBooks})

	if next.Version != base.Version+1 {
		t.Errorf("Version = %d, want %d", next.Version, base.Version+1)
	}
	if next.BlendAlpha != 0.5 || next.MinBooks != 3 {
		t.Errorf("patched fields not applied: %+v", next)
	}
	if next.LineRange != base.LineRange || next.DevigMethod != base.DevigMethod || next.Bankroll != base.Bankroll {
		t.Errorf("unpatched fields changed: %+v", next)
	}
	if base.BlendAlpha != 0.3 || base.Version != 1 {
		t.Errorf("original snapshot mutated: %+v", base)
	}

	// Weight tables must not alias between snapshots
	next.BookWeights[0].Weight = 99
	if base.BookWeights[0].Weight == 99 {
		t.Error("book weights alias the original snapshot")
	}
}

func TestConfig_ApplyReplacesBookWeights(t *testing.T) {
	weights := []models.BookWeight{{Book: "pinnacle", Weight: 3}}

	next := fml.DefaultConfig().Apply(fml.ConfigPatch{BookWeights: weights})

	if len(next.BookWeights) != 1 || next.BookWeights[0].Weight != 3 {
		t.Errorf("BookWeights = %+v, want replaced table", next.BookWeights)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*fml.Config)
	}{
		{name: "MinBooks zero", mutate: func(c *fml.Config) { c.MinBooks = 0 }},
		{name: "Alpha above one", mutate: func(c *fml.Config) { c.BlendAlpha = 1.5 }},
		{name: "Negative alpha", mutate: func(c *fml.Config) { c.BlendAlpha = -0.1 }},
		{name: "Zero step", mutate: func(c *fml.Config) { c.LineRange.Step = 0 }},
		{name: "Inverted range", mutate: func(c *fml.Config) { c.LineRange = models.LineRange{Min: 10, Max: 5, Step: 1} }},
		{name: "Unknown devig", mutate: func(c *fml.Config) { c.DevigMethod = "power" }},
		{name: "No bankroll", mutate: func(c *fml.Config) { c.Bankroll = 0 }},
		{name: "Negative book weight", mutate: func(c *fml.Config) { c.BookWeights[0].Weight = -1 }},
		{name: "NaN book weight", mutate: func(c *fml.Config) { c.BookWeights[1].Weight = math.NaN() }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := fml.DefaultConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestConfig_ValidateAcceptsZeroWeight(t *testing.T) {
	cfg := fml.DefaultConfig().Apply(fml.ConfigPatch{
		BookWeights: []models.BookWeight{{Book: "pinnacle", Weight: 0}, {Book: "fanduel", Weight: 2}},
	})

	if err := cfg.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
