package processor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/XavierBriggs/fortuna/services/fml-engine/internal/consumer"
	"github.com/XavierBriggs/fortuna/services/fml-engine/pkg/fml"
	"github.com/XavierBriggs/fortuna/services/fml-engine/pkg/models"
)

// MessageSource delivers pricing requests and accepts acknowledgements
type MessageSource interface {
	ConsumeStream(ctx context.Context, streamKey string) (<-chan consumer.Message, <-chan error)
	AckMessage(ctx context.Context, streamKey string, messageIDs ...string) error
}

// ResultSink receives priced markets and batch edges
type ResultSink interface {
	PublishResults(ctx context.Context, markets []models.PropMarket) error
	PublishEdges(ctx context.Context, batchID string, edges []models.EdgeCalculation) error
}

// Recorder receives batch and stream error events for metrics
type Recorder interface {
	RecordBatch(source string, size int)
	RecordStreamError(stage string)
}

type noopRecorder struct{}

func (noopRecorder) RecordBatch(string, int) {}
func (noopRecorder) RecordStreamError(string) {}

// Config controls batching
type Config struct {
	Sports        []string
	BatchSize     int
	FlushInterval time.Duration
	MinBestEdge   float64
}

// Processor batches stream requests through the FML service
type Processor struct {
	source   MessageSource
	sink     ResultSink
	service  *fml.Service
	recorder Recorder
	logger   logrus.FieldLogger
	config   Config

	processedCount atomic.Int64
	failedCount    atomic.Int64
	batchCount     atomic.Int64
}

// NewProcessor creates a new processor. A nil recorder disables metrics.
func NewProcessor(
	source MessageSource,
	sink ResultSink,
	service *fml.Service,
	recorder Recorder,
	logger logrus.FieldLogger,
	config Config,
) *Processor {
	if recorder == nil {
		recorder = noopRecorder{}
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 50
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = 500 * time.Millisecond
	}
	if config.MinBestEdge <= 0 {
		config.MinBestEdge = fml.DefaultMinBestEdge
	}

	return &Processor{
		source:   source,
		sink:     sink,
		service:  service,
		recorder: recorder,
		logger:   logger.WithField("component", "processor"),
		config:   config,
	}
}

// Start consumes every configured sport stream until ctx is cancelled
func (p *Processor) Start(ctx context.Context) error {
	if len(p.config.Sports) == 0 {
		return fmt.Errorf("no sports configured")
	}

	var wg sync.WaitGroup
	for _, sport := range p.config.Sports {
		wg.Add(1)
		go func(sport string) {
			defer wg.Done()
			p.processStream(ctx, consumer.RequestStreamKey(sport))
		}(sport)
	}

	wg.Wait()
	return nil
}

// processStream accumulates messages until the batch is full or the flush
// interval elapses. Unflushed messages at shutdown stay pending in the group.
func (p *Processor) processStream(ctx context.Context, streamKey string) {
	log := p.logger.WithField("stream", streamKey)
	log.Info("started processing stream")

	messageCh, errorCh := p.source.ConsumeStream(ctx, streamKey)

	ticker := time.NewTicker(p.config.FlushInterval)
	defer ticker.Stop()

	batch := make([]consumer.Message, 0, p.config.BatchSize)
	flush := func() {
		if len(batch) == 0 || ctx.Err() != nil {
			return
		}
		p.processBatch(ctx, streamKey, batch)
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			return

		case err, ok := <-errorCh:
			if !ok {
				errorCh = nil
				continue
			}
			p.handleStreamError(ctx, log, err)

		case msg, ok := <-messageCh:
			if !ok {
				flush()
				return
			}
			batch = append(batch, msg)
			if len(batch) >= p.config.BatchSize {
				flush()
			}

		case <-ticker.C:
			flush()
		}
	}
}

// handleStreamError logs the error; undecodable entries are acked so they
// are not redelivered
func (p *Processor) handleStreamError(ctx context.Context, log logrus.FieldLogger, err error) {
	var parseErr *consumer.ParseError
	if errors.As(err, &parseErr) {
		p.recorder.RecordStreamError("parse")
		log.WithError(err).Warn("dropping malformed message")
		if ackErr := p.source.AckMessage(ctx, parseErr.StreamKey, parseErr.ID); ackErr != nil {
			p.recorder.RecordStreamError("ack")
			log.WithError(ackErr).Error("failed to ack malformed message")
		}
		return
	}

	p.recorder.RecordStreamError("read")
	log.WithError(err).Error("stream error")
}

// processBatch prices a batch, publishes the results and its best edges,
// then acks. A failed publish leaves the batch unacked for redelivery.
func (p *Processor) processBatch(ctx context.Context, streamKey string, batch []consumer.Message) {
	batchID := uuid.NewString()
	start := time.Now()

	markets := make([]models.PropMarket, len(batch))
	ids := make([]string, len(batch))
	for i, msg := range batch {
		markets[i] = msg.Market
		ids[i] = msg.ID
	}

	results := p.service.ProcessMarkets(ctx, markets)
	p.recorder.RecordBatch("stream", len(markets))

	log := p.logger.WithFields(logrus.Fields{
		"stream":   streamKey,
		"batch_id": batchID,
		"markets":  len(markets),
	})

	if err := p.sink.PublishResults(ctx, results); err != nil {
		p.recorder.RecordStreamError("publish")
		log.WithError(err).Error("failed to publish results")
		return
	}

	edges := p.service.GetBestEdges(results, p.config.MinBestEdge)
	if err := p.sink.PublishEdges(ctx, batchID, edges); err != nil {
		p.recorder.RecordStreamError("publish")
		log.WithError(err).Error("failed to publish edges")
		return
	}

	if err := p.source.AckMessage(ctx, streamKey, ids...); err != nil {
		p.recorder.RecordStreamError("ack")
		log.WithError(err).Error("failed to ack batch")
	}

	p.processedCount.Add(int64(len(results)))
	p.failedCount.Add(int64(len(markets) - len(results)))
	p.batchCount.Add(1)

	log.WithFields(logrus.Fields{
		"processed":   len(results),
		"failed":      len(markets) - len(results),
		"best_edges":  len(edges),
		"duration_ms": time.Since(start).Milliseconds(),
	}).Info("batch processed")
}

// GetMetrics returns processed and failed market counts and the number of batches
func (p *Processor) GetMetrics() (processed, failed, batches int64) {
	return p.processedCount.Load(), p.failedCount.Load(), p.batchCount.Load()
}
