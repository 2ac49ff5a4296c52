package fml_test

import (
	"context"
	"errors"
	"io"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/XavierBriggs/fortuna/services/fml-engine/pkg/fml"
	"github.com/XavierBriggs/fortuna/services/fml-engine/pkg/models"
	"github.com/XavierBriggs/fortuna/services/fml-engine/pkg/oddsmath"
)

type recordingObserver struct {
	mu        sync.Mutex
	processed int
	failed    int
	fallbacks []string
}

func (o *recordingObserver) MarketProcessed(_, _ string, _ time.Duration, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.processed++
	if err != nil {
		o.failed++
	}
}

func (o *recordingObserver) DevigFallback(book string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.fallbacks = append(o.fallbacks, book)
}

func (o *recordingObserver) EdgesFound(string, string, []models.EdgeCalculation) {}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestService(t *testing.T, patch fml.ConfigPatch) (*fml.Service, *recordingObserver) {
	t.Helper()

	observer := &recordingObserver{}
	svc, err := fml.NewService(fml.NewNormalModel(), fml.DefaultConfig().Apply(patch), quietLogger(), observer)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc, observer
}

func ptr[T any](v T) *T { return &v }

func threeBookMarket() models.PropMarket {
	return models.PropMarket{
		PlayerID:   "player-1",
		PlayerName: "Test Player",
		Market:     "passing_yards",
		Sport:      "americanfootball_nfl",
		EventID:    "event-1",
		Books: []models.BookLine{
			book("book_a", 245, -122, 122),
			book("book_b", 250, -110, -110),
			book("book_c", 255, 122, -122),
		},
		Features: models.Features{Projection: 250, StdDev: 5},
	}
}

func TestProcessMarket_SingleBookFairPrice(t *testing.T) {
	svc, _ := newTestService(t, fml.ConfigPatch{
		MinBooks:  ptr(1),
		LineRange: &models.LineRange{Min: 200, Max: 300, Step: 0.25},
	})

	market := models.PropMarket{
		PlayerID: "player-1",
		Market:   "passing_yards",
		EventID:  "event-1",
		Books:    []models.BookLine{book("pinnacle", 250, -110, -110)},
		Features: models.Features{Projection: 250},
	}

	result, err := svc.ProcessMarket(context.Background(), market)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.FairMarketLine == nil {
		t.Fatal("FairMarketLine not set")
	}
	if !approxEqual(result.FairMarketLine.Line, 250, 0.01) {
		t.Errorf("fair line = %f, want ~250", result.FairMarketLine.Line)
	}
	if len(result.Edges) != 0 {
		t.Errorf("len(edges) = %d, want 0 at a fair price", len(result.Edges))
	}
	if !approxEqual(result.BlendAlpha, 0.3, 1e-9) {
		t.Errorf("BlendAlpha = %f, want 0.3", result.BlendAlpha)
	}
	if result.MarketCurve == nil || result.ModelCurve == nil || result.BlendedCurve == nil {
		t.Error("curves not attached to result")
	}
	if result.ProcessedAt == nil {
		t.Error("ProcessedAt not set")
	}
	if result.Confidence <= 0 || result.Confidence > 1 {
		t.Errorf("Confidence = %f, want (0, 1]", result.Confidence)
	}

	// Input is left untouched
	if market.FairMarketLine != nil || market.ProcessedAt != nil {
		t.Error("input market mutated")
	}
}

func TestProcessMarket_ThreeBooksAcrossLines(t *testing.T) {
	svc, _ := newTestService(t, fml.ConfigPatch{
		LineRange:   &models.LineRange{Min: 240, Max: 260, Step: 0.25},
		DevigMethod: ptr(oddsmath.VigMethodMultiplicative),
	})

	market := threeBookMarket()

	probs := make([]fml.BookProbability, 0, len(market.Books))
	for _, b := range market.Books {
		res, err := oddsmath.Devig(b.OverPrice, b.UnderPrice, oddsmath.VigMethodMultiplicative)
		if err != nil {
			t.Fatalf("devig %s: %v", b.Book, err)
		}
		probs = append(probs, fml.BookProbability{Book: b.Book, Line: b.Line, Result: res})
	}
	consensus, err := fml.CalculateConsensus(probs, svc.Config().BookWeights)
	if err != nil {
		t.Fatalf("consensus: %v", err)
	}
	if !approxEqual(consensus.POver, 0.5, 1e-9) {
		t.Errorf("consensus POver = %f, want 0.5", consensus.POver)
	}

	result, err := svc.ProcessMarket(context.Background(), market)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !approxEqual(result.FairMarketLine.Line, 250, 0.01) {
		t.Errorf("fair line = %f, want ~250", result.FairMarketLine.Line)
	}
	// Books spread over 10 points: base 0.3 plus the line-spread bump
	if !approxEqual(result.BlendAlpha, 0.4, 1e-9) {
		t.Errorf("BlendAlpha = %f, want 0.4", result.BlendAlpha)
	}

	assertNonIncreasing(t, *result.BlendedCurve)

	for _, e := range result.Edges {
		if math.Abs(e.Edge) <= fml.ProcessedEdgeFloor {
			t.Errorf("%s %s: |edge| %f not above %.2f", e.Book, e.Side, e.Edge, fml.ProcessedEdgeFloor)
		}
		if e.PlayerID != market.PlayerID || e.PlayerName != market.PlayerName || e.Market != market.Market {
			t.Errorf("edge missing market identity: %+v", e)
		}
	}
}

func TestProcessMarket_PureMarketSingleBook(t *testing.T) {
	svc, _ := newTestService(t, fml.ConfigPatch{
		BlendAlpha: ptr(0.0),
		MinBooks:   ptr(1),
		LineRange:  &models.LineRange{Min: 200, Max: 300, Step: 0.25},
	})

	market := models.PropMarket{
		PlayerID: "player-1",
		Market:   "passing_yards",
		Books:    []models.BookLine{book("pinnacle", 250, -110, -110)},
	}

	result, err := svc.ProcessMarket(context.Background(), market)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !approxEqual(result.FairMarketLine.Line, 250, 0.5) {
		t.Errorf("fair line = %f, want 250 ± 0.5", result.FairMarketLine.Line)
	}
	if result.BlendAlpha != 0 {
		t.Errorf("BlendAlpha = %f, want 0", result.BlendAlpha)
	}
	if result.ModelCurve != nil {
		t.Error("ModelCurve set for a pure market blend")
	}
	if len(result.Edges) != 0 {
		t.Errorf("edges = %+v, want none", result.Edges)
	}

	// Edge at the quoted line itself, before any noise filtering
	blended := *result.BlendedCurve
	for i, line := range blended.Lines {
		if line == 250 && !approxEqual(blended.Probabilities[i], 0.5, 1e-9) {
			t.Errorf("P(over 250) = %f, want 0.5", blended.Probabilities[i])
		}
	}
}

func TestProcessMarket_MissingProjectionUsesMarket(t *testing.T) {
	svc, _ := newTestService(t, fml.ConfigPatch{
		LineRange: &models.LineRange{Min: 240, Max: 260, Step: 0.25},
	})

	market := threeBookMarket()
	market.Features = models.Features{InjuryProbability: 0.9}

	result, err := svc.ProcessMarket(context.Background(), market)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.BlendAlpha != 0 {
		t.Errorf("BlendAlpha = %f, want 0 without a model", result.BlendAlpha)
	}
	if result.ModelCurve != nil {
		t.Error("ModelCurve set without a projection")
	}
	for i := range result.BlendedCurve.Lines {
		if result.BlendedCurve.Probabilities[i] != result.MarketCurve.Probabilities[i] {
			t.Fatalf("blended curve differs from market curve at %f", result.BlendedCurve.Lines[i])
		}
	}
}

func TestProcessMarket_ContextRaisesBlendWeight(t *testing.T) {
	tests := []struct {
		name     string
		base     float64
		features models.Features
		want     float64
	}{
		// Books span 10 points, so every case carries the +0.1 spread bump
		{name: "Likely injury", base: 0.3, features: models.Features{InjuryProbability: 0.9}, want: 0.6},
		{name: "Injury and minutes", base: 0.3, features: models.Features{InjuryProbability: 0.9, MinutesRestriction: 0.5}, want: 0.75},
		{name: "Capped", base: 0.7, features: models.Features{InjuryProbability: 0.9, MinutesRestriction: 0.5}, want: fml.MaxBlendAlpha},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := newTestService(t, fml.ConfigPatch{
				BlendAlpha: ptr(tt.base),
				LineRange:  &models.LineRange{Min: 200, Max: 300, Step: 0.5},
			})

			market := threeBookMarket()
			market.Features.InjuryProbability = tt.features.InjuryProbability
			market.Features.MinutesRestriction = tt.features.MinutesRestriction

			result, err := svc.ProcessMarket(context.Background(), market)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if !approxEqual(result.BlendAlpha, tt.want, 1e-9) {
				t.Errorf("BlendAlpha = %f, want %f", result.BlendAlpha, tt.want)
			}
			if result.BlendAlpha < 0.5 || result.BlendAlpha > fml.MaxBlendAlpha {
				t.Errorf("BlendAlpha = %f, want within [0.5, %.1f]", result.BlendAlpha, fml.MaxBlendAlpha)
			}
		})
	}
}

func TestProcessMarket_InsufficientBooks(t *testing.T) {
	svc, observer := newTestService(t, fml.ConfigPatch{})

	market := threeBookMarket()
	market.Books = market.Books[:1]

	_, err := svc.ProcessMarket(context.Background(), market)

	var insufficient *fml.InsufficientBooksError
	if !errors.As(err, &insufficient) {
		t.Fatalf("got %v, want InsufficientBooksError", err)
	}
	if insufficient.Have != 1 || insufficient.Need != 2 {
		t.Errorf("error = %+v, want have 1 need 2", insufficient)
	}
	if observer.failed != 1 {
		t.Errorf("observer failed = %d, want 1", observer.failed)
	}
}

func TestProcessMarket_ShinFallbackReported(t *testing.T) {
	svc, observer := newTestService(t, fml.ConfigPatch{
		MinBooks:  ptr(1),
		LineRange: &models.LineRange{Min: 240, Max: 260, Step: 0.25},
	})

	market := threeBookMarket()
	market.Books = []models.BookLine{book("pinnacle", 250, -1000, -1000)}

	if _, err := svc.ProcessMarket(context.Background(), market); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(observer.fallbacks) != 1 || observer.fallbacks[0] != "pinnacle" {
		t.Errorf("fallbacks = %v, want [pinnacle]", observer.fallbacks)
	}
}

func TestProcessMarkets_DropsFailures(t *testing.T) {
	svc, observer := newTestService(t, fml.ConfigPatch{
		LineRange: &models.LineRange{Min: 240, Max: 260, Step: 0.25},
	})

	valid := threeBookMarket()

	tooFewBooks := threeBookMarket()
	tooFewBooks.PlayerID = "player-2"
	tooFewBooks.Books = tooFewBooks.Books[:1]

	zeroPrice := threeBookMarket()
	zeroPrice.PlayerID = "player-3"
	zeroPrice.Books[1].OverPrice = 0

	secondValid := threeBookMarket()
	secondValid.PlayerID = "player-4"

	results := svc.ProcessMarkets(context.Background(), []models.PropMarket{valid, tooFewBooks, zeroPrice, secondValid})

	if len(results) != 2 {
		t.Fatalf("len(results) = %d, want 2", len(results))
	}
	if results[0].PlayerID != "player-1" || results[1].PlayerID != "player-4" {
		t.Errorf("results out of order: %s, %s", results[0].PlayerID, results[1].PlayerID)
	}
	if observer.processed != 4 || observer.failed != 2 {
		t.Errorf("observer processed/failed = %d/%d, want 4/2", observer.processed, observer.failed)
	}
}

func TestProcessMarkets_Empty(t *testing.T) {
	svc, _ := newTestService(t, fml.ConfigPatch{})

	if results := svc.ProcessMarkets(context.Background(), nil); len(results) != 0 {
		t.Errorf("len(results) = %d, want 0", len(results))
	}
}

func TestGetBestEdges(t *testing.T) {
	svc, _ := newTestService(t, fml.ConfigPatch{})

	markets := []models.PropMarket{
		{PlayerID: "player-1", Edges: []models.EdgeCalculation{
			{Book: "fanduel", Edge: 0.025},
			{Book: "draftkings", Edge: -0.08},
		}},
		{PlayerID: "player-2", Edges: []models.EdgeCalculation{
			{Book: "betmgm", Edge: 0.05},
			{Book: "caesars", Edge: 0.031},
		}},
		{PlayerID: "player-3"},
	}

	best := svc.GetBestEdges(markets, 0)

	wantBooks := []string{"draftkings", "betmgm", "caesars"}
	if len(best) != len(wantBooks) {
		t.Fatalf("len = %d, want %d", len(best), len(wantBooks))
	}
	for i, want := range wantBooks {
		if best[i].Book != want {
			t.Errorf("best[%d] = %s, want %s", i, best[i].Book, want)
		}
	}

	if got := svc.GetBestEdges(markets, 0.06); len(got) != 1 {
		t.Errorf("minEdge 0.06: len = %d, want 1", len(got))
	}
}

func TestUpdateConfig(t *testing.T) {
	svc, _ := newTestService(t, fml.ConfigPatch{})
	before := svc.Config()

	updated, err := svc.UpdateConfig(fml.ConfigPatch{BlendAlpha: ptr(0.45)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.BlendAlpha != 0.45 || updated.Version != before.Version+1 {
		t.Errorf("updated = %+v", updated)
	}
	if svc.Config().BlendAlpha != 0.45 {
		t.Errorf("service still on alpha %f", svc.Config().BlendAlpha)
	}
	if before.BlendAlpha != 0.3 {
		t.Error("earlier snapshot changed")
	}

	if _, err := svc.UpdateConfig(fml.ConfigPatch{MinBooks: ptr(0)}); err == nil {
		t.Error("expected error for min_books 0")
	}
	negative := []models.BookWeight{{Book: "pinnacle", Weight: -1}, {Book: "fanduel", Weight: 2}}
	if _, err := svc.UpdateConfig(fml.ConfigPatch{BookWeights: negative}); err == nil {
		t.Error("expected error for a negative book weight")
	}
	if svc.Config().Version != updated.Version {
		t.Errorf("rejected patch changed version to %d", svc.Config().Version)
	}
}

func TestUpdateConfig_Concurrent(t *testing.T) {
	svc, _ := newTestService(t, fml.ConfigPatch{})
	start := svc.Config().Version

	const writers = 25
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.UpdateConfig(fml.ConfigPatch{Bankroll: ptr(2500.0)}); err != nil {
				t.Errorf("UpdateConfig: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := svc.Config().Version; got != start+writers {
		t.Errorf("Version = %d, want %d", got, start+writers)
	}
}

func TestNewService_Validation(t *testing.T) {
	if _, err := fml.NewService(nil, fml.DefaultConfig(), quietLogger(), nil); err == nil {
		t.Error("expected error for nil model")
	}

	cfg := fml.DefaultConfig()
	cfg.MinBooks = 0
	if _, err := fml.NewService(fml.NewNormalModel(), cfg, quietLogger(), nil); err == nil {
		t.Error("expected error for invalid config")
	}
}
