package fml

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/XavierBriggs/fortuna/services/fml-engine/pkg/contracts"
	"github.com/XavierBriggs/fortuna/services/fml-engine/pkg/models"
	"github.com/XavierBriggs/fortuna/services/fml-engine/pkg/oddsmath"
)

// ProcessedEdgeFloor is the minimum |edge| kept on a processed market
const ProcessedEdgeFloor = 0.02

// Synthetic anchors used when every book quotes the same line
var (
	syntheticOffsets     = []float64{-2, -1, 0, 1, 2}
	syntheticMultipliers = []float64{1.3, 1.15, 1.0, 0.85, 0.7}
)

// Observer receives engine events for metrics
type Observer interface {
	MarketProcessed(sport, market string, duration time.Duration, err error)
	DevigFallback(book string)
	EdgesFound(sport, market string, edges []models.EdgeCalculation)
}

type noopObserver struct{}

func (noopObserver) MarketProcessed(string, string, time.Duration, error) {}
func (noopObserver) DevigFallback(string) {}
func (noopObserver) EdgesFound(string, string, []models.EdgeCalculation) {}

// Service orchestrates fair market line pricing for prop markets
type Service struct {
	config   atomic.Pointer[Config]
	model    contracts.DistributionModel
	logger   logrus.FieldLogger
	observer Observer
	workers  int
}

// NewService creates a new FML service. A nil observer disables metrics.
func NewService(model contracts.DistributionModel, config Config, logger logrus.FieldLogger, observer Observer) (*Service, error) {
	if model == nil {
		return nil, fmt.Errorf("distribution model is required")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if observer == nil {
		observer = noopObserver{}
	}

	s := &Service{
		model:    model,
		logger:   logger.WithField("component", "fml"),
		observer: observer,
		workers:  runtime.GOMAXPROCS(0),
	}
	s.config.Store(&config)

	return s, nil
}

// Config returns the current configuration snapshot
func (s *Service) Config() Config {
	return *s.config.Load()
}

// UpdateConfig shallow-merges patch into a new snapshot and publishes it.
// In-flight calls keep the snapshot they started with.
func (s *Service) UpdateConfig(patch ConfigPatch) (Config, error) {
	for {
		current := s.config.Load()
		next := current.Apply(patch)
		if err := next.Validate(); err != nil {
			return *current, fmt.Errorf("invalid config update: %w", err)
		}

		if s.config.CompareAndSwap(current, &next) {
			s.logger.WithFields(logrus.Fields{
				"version":     next.Version,
				"blend_alpha": next.BlendAlpha,
				"min_books":   next.MinBooks,
				"books":       len(next.BookWeights),
			}).Info("config updated")
			return next, nil
		}
	}
}

// ProcessMarket prices a single market with the current configuration
func (s *Service) ProcessMarket(ctx context.Context, market models.PropMarket) (*models.PropMarket, error) {
	return s.ProcessMarketWithConfig(ctx, s.Config(), market)
}

// ProcessMarketWithConfig prices a single market with an explicit snapshot.
//
// Pipeline:
// 1. Require at least MinBooks quotes
// 2. Market curve from devigged books and their weighted consensus
// 3. Model curve sampled from the distribution model, skipped when the base
// blend weight is 0 or the features carry no projection
// 4. Adaptive blend, fair line solve, edges against the blended curve
//
// Errors are returned as-is; nothing is retried.
func (s *Service) ProcessMarketWithConfig(ctx context.Context, cfg Config, market models.PropMarket) (*models.PropMarket, error) {
	start := time.Now()

	result, err := s.processMarket(ctx, cfg, market)
	s.observer.MarketProcessed(market.Sport, market.Market, time.Since(start), err)

	return result, err
}

func (s *Service) processMarket(ctx context.Context, cfg Config, market models.PropMarket) (*models.PropMarket, error) {
	if len(market.Books) < cfg.MinBooks {
		return nil, &InsufficientBooksError{Have: len(market.Books), Need: cfg.MinBooks}
	}

	marketCurve, consensus, err := s.buildMarketCurve(cfg, market.Books)
	if err != nil {
		return nil, fmt.Errorf("market curve: %w", err)
	}

	modelCurve, err := s.buildModelCurve(ctx, cfg, market)
	if err != nil {
		return nil, fmt.Errorf("model curve: %w", err)
	}

	// Without a model curve the market is priced on its own
	var model Evaluator = marketCurve
	alpha := 0.0
	if modelCurve != nil {
		model = modelCurve
		alpha = AdaptiveAlpha(cfg.BlendAlpha, market.Features, market.Books)
	}
	blended := BlendCurves(marketCurve, model, alpha, cfg.LineRange)

	fairLine := SolveFairMarketLine(blended, cfg.LineRange)

	edges := make([]models.EdgeCalculation, 0)
	for _, edge := range CalculateEdges(market.Books, blended, cfg.Bankroll) {
		if edge.Edge > ProcessedEdgeFloor || edge.Edge < -ProcessedEdgeFloor {
			edge.PlayerID = market.PlayerID
			edge.PlayerName = market.PlayerName
			edge.Market = market.Market
			edges = append(edges, edge)
		}
	}
	s.observer.EdgesFound(market.Sport, market.Market, edges)

	marketData := marketCurve.Data()
	blendedData := blended.Data()
	processedAt := time.Now().UTC()

	result := market
	result.FairMarketLine = &fairLine
	result.Confidence = fairLine.Confidence * consensus.Confidence
	result.Edges = edges
	result.MarketCurve = &marketData
	result.ModelCurve = nil
	if modelCurve != nil {
		modelData := modelCurve.Data()
		result.ModelCurve = &modelData
	}
	result.BlendedCurve = &blendedData
	result.BlendAlpha = alpha
	result.ProcessedAt = &processedAt

	return &result, nil
}

// buildModelCurve returns nil when the market should be priced without the
// model: a base blend weight of 0 or no projection in the features.
func (s *Service) buildModelCurve(ctx context.Context, cfg Config, market models.PropMarket) (*ProbabilityCurve, error) {
	if cfg.BlendAlpha == 0 {
		return nil, nil
	}

	curve, err := BuildModelCurve(ctx, s.model, market, cfg.LineRange)
	if errors.Is(err, ErrMissingProjection) {
		s.logger.WithField("market", market.Key()).Debug("no projection, pricing from market only")
		return nil, nil
	}
	return curve, err
}

// buildMarketCurve devigs every book and fits the market curve.
// When all books quote one line there is a single real anchor, so five
// synthetic anchors are spread around it from the consensus probability.
func (s *Service) buildMarketCurve(cfg Config, books []models.BookLine) (*ProbabilityCurve, Consensus, error) {
	probabilities := make([]BookProbability, 0, len(books))

	for _, book := range books {
		result, err := oddsmath.Devig(book.OverPrice, book.UnderPrice, cfg.DevigMethod)
		if err != nil {
			return nil, Consensus{}, fmt.Errorf("devig %s: %w", book.Book, err)
		}
		if result.Method != cfg.DevigMethod {
			s.observer.DevigFallback(book.Book)
		}

		probabilities = append(probabilities, BookProbability{
			Book:   book.Book,
			Line:   book.Line,
			Result: result,
		})
	}

	consensus, err := CalculateConsensus(probabilities, cfg.BookWeights)
	if err != nil {
		return nil, Consensus{}, err
	}

	var points []CurvePoint
	if sameLine(books) {
		line := books[0].Line
		points = make([]CurvePoint, len(syntheticOffsets))
		for i, offset := range syntheticOffsets {
			points[i] = CurvePoint{
				Line:        line + offset,
				Probability: clamp(consensus.POver*syntheticMultipliers[i], MinProbability, MaxProbability),
			}
		}
	} else {
		points = make([]CurvePoint, len(probabilities))
		for i, bp := range probabilities {
			points[i] = CurvePoint{Line: bp.Line, Probability: bp.Result.POver}
		}
	}

	curve, err := BuildProbabilityCurve(points, cfg.LineRange)
	if err != nil {
		return nil, Consensus{}, err
	}

	return curve, consensus, nil
}

func sameLine(books []models.BookLine) bool {
	for _, b := range books[1:] {
		if b.Line != books[0].Line {
			return false
		}
	}
	return true
}

// ProcessMarkets prices a batch concurrently against one config snapshot.
// Markets that fail are logged and left out of the result; input order is
// otherwise preserved.
func (s *Service) ProcessMarkets(ctx context.Context, markets []models.PropMarket) []models.PropMarket {
	cfg := s.Config()

	results := make([]*models.PropMarket, len(markets))
	sem := make(chan struct{}, s.workers)
	var wg sync.WaitGroup

	for i := range markets {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			result, err := s.ProcessMarketWithConfig(ctx, cfg, markets[i])
			if err != nil {
				s.logger.WithFields(logrus.Fields{
					"market": markets[i].Key(),
					"sport":  markets[i].Sport,
					"books":  len(markets[i].Books),
				}).WithError(err).Warn("market processing failed")
				return
			}
			results[i] = result
		}(i)
	}
	wg.Wait()

	processed := make([]models.PropMarket, 0, len(markets))
	for _, r := range results {
		if r != nil {
			processed = append(processed, *r)
		}
	}

	return processed
}

// GetBestEdges ranks edges across processed markets: |edge| >= minEdge,
// largest first, at most 20. A non-positive minEdge uses DefaultMinBestEdge.
func (s *Service) GetBestEdges(markets []models.PropMarket, minEdge float64) []models.EdgeCalculation {
	if minEdge <= 0 {
		minEdge = DefaultMinBestEdge
	}

	var all []models.EdgeCalculation
	for _, m := range markets {
		all = append(all, m.Edges...)
	}

	return RankEdges(all, minEdge)
}
