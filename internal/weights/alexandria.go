package weights

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/XavierBriggs/fortuna/services/fml-engine/pkg/contracts"
	"github.com/XavierBriggs/fortuna/services/fml-engine/pkg/fml"
	"github.com/XavierBriggs/fortuna/services/fml-engine/pkg/models"
)

// Weights by Alexandria book_type for books missing from the default table
var typeWeights = map[string]models.BookWeight{
	"sharp":        {Weight: 1.8, Sharpness: 0.9, Liquidity: 0.7},
	"market_maker": {Weight: 1.6, Sharpness: 0.85, Liquidity: 0.8},
	"regulated":    {Weight: 1.0, Sharpness: 0.5, Liquidity: 0.8},
	"offshore":     {Weight: 0.9, Sharpness: 0.4, Liquidity: 0.5},
	"exchange":     {Weight: 1.3, Sharpness: 0.7, Liquidity: 0.6},
}

var fallbackWeight = models.BookWeight{Weight: 1.0, Sharpness: 0.5, Liquidity: 0.5}

// AlexandriaProvider loads consensus book weights from the Alexandria books table
type AlexandriaProvider struct {
	db       *sql.DB
	sports   []string
	defaults map[string]models.BookWeight
}

// NewAlexandriaProvider creates a provider for books supporting any of sports.
// Books present in the default table keep their tuned weights.
func NewAlexandriaProvider(db *sql.DB, sports []string) *AlexandriaProvider {
	defaults := make(map[string]models.BookWeight)
	for _, w := range fml.DefaultBookWeights() {
		defaults[fml.NormalizeBookKey(w.Book)] = w
	}

	return &AlexandriaProvider{
		db:       db,
		sports:   sports,
		defaults: defaults,
	}
}

// GetBookWeights implements contracts.BookWeightProvider
func (p *AlexandriaProvider) GetBookWeights(ctx context.Context) ([]models.BookWeight, error) {
	query := `
		SELECT book_key, book_type
		FROM books
		WHERE active = true
		  AND supported_sports && $1
		ORDER BY book_key
	`

	rows, err := p.db.QueryContext(ctx, query, pq.Array(p.sports))
	if err != nil {
		return nil, fmt.Errorf("failed to query books: %w", err)
	}
	defer rows.Close()

	var weights []models.BookWeight
	for rows.Next() {
		var bookKey string
		var bookType sql.NullString

		if err := rows.Scan(&bookKey, &bookType); err != nil {
			return nil, fmt.Errorf("failed to scan book row: %w", err)
		}

		weights = append(weights, p.weightFor(bookKey, bookType.String))
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating book rows: %w", err)
	}

	if len(weights) == 0 {
		return nil, fmt.Errorf("no active books found for sports %v", p.sports)
	}

	return weights, nil
}

// weightFor prefers the tuned default, then the book_type table, then 1.0
func (p *AlexandriaProvider) weightFor(bookKey, bookType string) models.BookWeight {
	key := fml.NormalizeBookKey(bookKey)

	w, ok := p.defaults[key]
	if !ok {
		w, ok = typeWeights[fml.NormalizeBookKey(bookType)]
		if !ok {
			w = fallbackWeight
		}
	}
	w.Book = key

	return w
}

// ConfigUpdater is the part of the FML service the refresher needs
type ConfigUpdater interface {
	UpdateConfig(patch fml.ConfigPatch) (fml.Config, error)
}

// RefreshRecorder receives refresh outcomes for metrics
type RefreshRecorder interface {
	RecordBookWeightRefresh(err error)
	SetConfigVersion(version int64)
}

// Refresher periodically pushes provider weights into the engine config
type Refresher struct {
	provider contracts.BookWeightProvider
	updater  ConfigUpdater
	recorder RefreshRecorder
	logger   logrus.FieldLogger
	interval time.Duration
}

// NewRefresher creates a new refresher. A nil recorder disables metrics.
func NewRefresher(provider contracts.BookWeightProvider, updater ConfigUpdater, recorder RefreshRecorder, logger logrus.FieldLogger, interval time.Duration) *Refresher {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Refresher{
		provider: provider,
		updater:  updater,
		recorder: recorder,
		logger:   logger.WithField("component", "book_weights"),
		interval: interval,
	}
}

// Refresh loads weights once and publishes them as a new config snapshot.
// On failure the current weights stay in place.
func (r *Refresher) Refresh(ctx context.Context) error {
	weights, err := r.provider.GetBookWeights(ctx)
	if err == nil {
		var cfg fml.Config
		cfg, err = r.updater.UpdateConfig(fml.ConfigPatch{BookWeights: weights})
		if err == nil {
			r.logger.WithFields(logrus.Fields{
				"books":   len(weights),
				"version": cfg.Version,
			}).Info("book weights refreshed")
			if r.recorder != nil {
				r.recorder.SetConfigVersion(cfg.Version)
			}
		}
	}

	if r.recorder != nil {
		r.recorder.RecordBookWeightRefresh(err)
	}
	if err != nil {
		return fmt.Errorf("refresh book weights: %w", err)
	}
	return nil
}

// Run refreshes immediately and then on every interval until ctx is cancelled
func (r *Refresher) Run(ctx context.Context) {
	if err := r.Refresh(ctx); err != nil {
		r.logger.WithError(err).Warn("initial book weight refresh failed, keeping defaults")
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Refresh(ctx); err != nil {
				r.logger.WithError(err).Warn("book weight refresh failed")
			}
		}
	}
}
