package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/XavierBriggs/fortuna/services/fml-engine/pkg/fml"
	"github.com/XavierBriggs/fortuna/services/fml-engine/pkg/models"
	"github.com/XavierBriggs/fortuna/services/fml-engine/pkg/oddsmath"
)

const maxBatchMarkets = 500

// Recorder receives batch and config events for metrics
type Recorder interface {
	RecordBatch(source string, size int)
	SetConfigVersion(version int64)
}

type noopRecorder struct{}

func (noopRecorder) RecordBatch(string, int) {}
func (noopRecorder) SetConfigVersion(int64) {}

// Handler contains dependencies for HTTP handlers
type Handler struct {
	service     *fml.Service
	logger      logrus.FieldLogger
	recorder    Recorder
	minBestEdge float64
}

// NewHandler creates a new handler. A nil recorder disables metrics.
func NewHandler(service *fml.Service, logger logrus.FieldLogger, recorder Recorder, minBestEdge float64) *Handler {
	if recorder == nil {
		recorder = noopRecorder{}
	}
	if minBestEdge <= 0 {
		minBestEdge = fml.DefaultMinBestEdge
	}
	return &Handler{
		service:     service,
		logger:      logger.WithField("component", "http"),
		recorder:    recorder,
		minBestEdge: minBestEdge,
	}
}

// Routes registers the API on r
func (h *Handler) Routes(r chi.Router) {
	r.Get("/health", h.HealthCheck)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/markets/process", h.ProcessMarket)
		r.Post("/markets/batch", h.ProcessBatch)
		r.Post("/edges/best", h.BestEdges)
		r.Get("/config", h.GetConfig)
		r.Patch("/config", h.UpdateConfig)
		r.Post("/devig", h.Devig)
	})
}

// HealthCheck returns service health
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "healthy",
		"service":        "fml-engine",
		"config_version": h.service.Config().Version,
	})
}

// ProcessMarket prices a single prop market
func (h *Handler) ProcessMarket(w http.ResponseWriter, r *http.Request) {
	var market models.PropMarket
	if err := json.NewDecoder(r.Body).Decode(&market); err != nil {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid request: %v", err))
		return
	}

	result, err := h.service.ProcessMarket(r.Context(), market)
	if err != nil {
		h.respondEngineError(w, market, err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// BatchRequest is the body of batch and best-edge requests
type BatchRequest struct {
	Markets []models.PropMarket `json:"markets"`
	MinEdge float64             `json:"min_edge,omitempty"`
}

// BatchResponse reports a processed batch. Failed markets are omitted from Markets.
type BatchResponse struct {
	BatchID   string              `json:"batch_id"`
	Markets   []models.PropMarket `json:"markets"`
	Processed int                 `json:"processed"`
	Failed    int                 `json:"failed"`
}

// ProcessBatch prices many markets against one config snapshot
func (h *Handler) ProcessBatch(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeBatch(w, r)
	if !ok {
		return
	}

	batchID := uuid.NewString()
	results := h.service.ProcessMarkets(r.Context(), req.Markets)
	h.recorder.RecordBatch("http", len(req.Markets))

	h.logger.WithFields(logrus.Fields{
		"batch_id":  batchID,
		"markets":   len(req.Markets),
		"processed": len(results),
	}).Debug("batch processed")

	respondJSON(w, http.StatusOK, BatchResponse{
		BatchID:   batchID,
		Markets:   results,
		Processed: len(results),
		Failed:    len(req.Markets) - len(results),
	})
}

// BestEdgesResponse lists the strongest edges of a batch
type BestEdgesResponse struct {
	BatchID string                   `json:"batch_id"`
	MinEdge float64                  `json:"min_edge"`
	Edges   []models.EdgeCalculation `json:"edges"`
}

// BestEdges processes the markets and returns the top edges across them
func (h *Handler) BestEdges(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeBatch(w, r)
	if !ok {
		return
	}

	minEdge := req.MinEdge
	if minEdge <= 0 {
		minEdge = h.minBestEdge
	}

	results := h.service.ProcessMarkets(r.Context(), req.Markets)
	h.recorder.RecordBatch("http", len(req.Markets))

	respondJSON(w, http.StatusOK, BestEdgesResponse{
		BatchID: uuid.NewString(),
		MinEdge: minEdge,
		Edges:   h.service.GetBestEdges(results, minEdge),
	})
}

func (h *Handler) decodeBatch(w http.ResponseWriter, r *http.Request) (BatchRequest, bool) {
	var req BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid request: %v", err))
		return req, false
	}
	if len(req.Markets) == 0 {
		respondError(w, http.StatusBadRequest, "markets must not be empty")
		return req, false
	}
	if len(req.Markets) > maxBatchMarkets {
		respondError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("at most %d markets per batch", maxBatchMarkets))
		return req, false
	}
	if req.MinEdge < 0 || req.MinEdge >= 1 {
		respondError(w, http.StatusBadRequest, "min_edge must be between 0 and 1")
		return req, false
	}
	return req, true
}

// GetConfig returns the active config snapshot
func (h *Handler) GetConfig(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.service.Config())
}

// UpdateConfig applies a partial config update
func (h *Handler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	var patch fml.ConfigPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid request: %v", err))
		return
	}

	cfg, err := h.service.UpdateConfig(patch)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.recorder.SetConfigVersion(cfg.Version)

	respondJSON(w, http.StatusOK, cfg)
}

// DevigRequest is a two-sided quote to devig
type DevigRequest struct {
	OverPrice  int                `json:"over_price"`
	UnderPrice int                `json:"under_price"`
	Method     oddsmath.VigMethod `json:"method,omitempty"`
}

// Devig returns fair probabilities for a quote; method defaults to the engine's
func (h *Handler) Devig(w http.ResponseWriter, r *http.Request) {
	var req DevigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid request: %v", err))
		return
	}
	if req.Method == "" {
		req.Method = h.service.Config().DevigMethod
	}

	result, err := oddsmath.Devig(req.OverPrice, req.UnderPrice, req.Method)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// respondEngineError maps engine errors to status codes: bad input is 422,
// anything else is an internal failure
func (h *Handler) respondEngineError(w http.ResponseWriter, market models.PropMarket, err error) {
	var insufficient *fml.InsufficientBooksError

	switch {
	case errors.As(err, &insufficient),
		errors.Is(err, fml.ErrZeroTotalWeight),
		errors.Is(err, fml.ErrNoCurvePoints),
		errors.Is(err, oddsmath.ErrInvalidOdds),
		errors.Is(err, oddsmath.ErrUnknownVigMethod):
		respondError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		h.logger.WithField("market", market.Key()).WithError(err).Error("market processing failed")
		respondError(w, http.StatusInternalServerError, "market processing failed")
	}
}

// respondJSON writes a JSON response
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError writes an error response
func respondError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}
