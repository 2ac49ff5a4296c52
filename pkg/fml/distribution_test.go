package fml_test

import (
	"context"
	"errors"
	"testing"

	"github.com/XavierBriggs/fortuna/services/fml-engine/pkg/fml"
	"github.com/XavierBriggs/fortuna/services/fml-engine/pkg/models"
)

func TestNormalModel_PredictOutcome(t *testing.T) {
	model := fml.NewNormalModel()

	tests := []struct {
		name       string
		features   models.Features
		wantMean   float64
		wantStdDev float64
	}{
		{name: "Projection only", features: models.Features{Projection: 24}, wantMean: 24, wantStdDev: 6},
		{name: "Explicit std dev", features: models.Features{Projection: 24, StdDev: 4}, wantMean: 24, wantStdDev: 4},
		{name: "Fast pace", features: models.Features{Projection: 20, Pace: 110, StdDev: 5}, wantMean: 22, wantStdDev: 5},
		{name: "Minutes restriction", features: models.Features{Projection: 20, MinutesRestriction: 0.5, StdDev: 5}, wantMean: 15, wantStdDev: 5},
		{name: "Std dev floor", features: models.Features{Projection: 1}, wantMean: 1, wantStdDev: 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params, err := model.PredictOutcome(context.Background(), "player-1", "points", tt.features, "basketball_nba")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !approxEqual(params.Mean, tt.wantMean, 1e-9) {
				t.Errorf("Mean = %f, want %f", params.Mean, tt.wantMean)
			}
			if !approxEqual(params.StdDev, tt.wantStdDev, 1e-9) {
				t.Errorf("StdDev = %f, want %f", params.StdDev, tt.wantStdDev)
			}
		})
	}
}

func TestNormalModel_MissingProjection(t *testing.T) {
	_, err := fml.NewNormalModel().PredictOutcome(context.Background(), "player-1", "points", models.Features{}, "basketball_nba")
	if !errors.Is(err, fml.ErrMissingProjection) {
		t.Errorf("got %v, want ErrMissingProjection", err)
	}
}

func TestNormalModel_ProbabilityOver(t *testing.T) {
	model := fml.NewNormalModel()
	params, err := model.PredictOutcome(context.Background(), "player-1", "points", models.Features{Projection: 25, StdDev: 5}, "basketball_nba")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tests := []struct {
		line float64
		want float64
	}{
		{line: 25, want: 0.5},
		{line: 30, want: 0.158655},
		{line: 20, want: 0.841345},
	}

	for _, tt := range tests {
		if got := model.ProbabilityOver(tt.line, params); !approxEqual(got, tt.want, 1e-5) {
			t.Errorf("ProbabilityOver(%.1f) = %f, want %f", tt.line, got, tt.want)
		}
	}
}

func TestBuildModelCurve(t *testing.T) {
	market := models.PropMarket{PlayerID: "player-1", Market: "points", Features: models.Features{Projection: 15, StdDev: 4}}

	curve, err := fml.BuildModelCurve(context.Background(), fml.NewNormalModel(), market, testRange)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	assertNonIncreasing(t, curve.Data())
	if got := curve.Evaluate(15); !approxEqual(got, 0.5, 1e-9) {
		t.Errorf("Evaluate(15) = %f, want 0.5", got)
	}
}
