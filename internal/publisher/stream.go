package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/XavierBriggs/fortuna/services/fml-engine/pkg/models"
)

// EdgesStream carries the best edges of every processed batch across sports
const EdgesStream = "fml.edges"

// Streams are trimmed to roughly this many entries
const maxStreamLen = 10000

// ResultStreamKey returns the stream carrying priced markets for a sport
func ResultStreamKey(sport string) string {
	return "fml.results." + sport
}

// EdgeBatch is the payload published to EdgesStream
type EdgeBatch struct {
	BatchID     string                   `json:"batch_id"`
	Edges       []models.EdgeCalculation `json:"edges"`
	PublishedAt time.Time                `json:"published_at"`
}

// StreamPublisher publishes FML results to Redis Streams
type StreamPublisher struct {
	client *redis.Client
}

// NewStreamPublisher creates a new stream publisher
func NewStreamPublisher(client *redis.Client) *StreamPublisher {
	return &StreamPublisher{
		client: client,
	}
}

// PublishResults publishes priced markets in one pipeline round trip
func (p *StreamPublisher) PublishResults(ctx context.Context, markets []models.PropMarket) error {
	if len(markets) == 0 {
		return nil
	}

	_, err := p.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, market := range markets {
			args, err := resultArgs(market)
			if err != nil {
				return err
			}
			pipe.XAdd(ctx, args)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to publish %d results: %w", len(markets), err)
	}

	return nil
}

// PublishEdges publishes a batch's best edges to the global edges stream
func (p *StreamPublisher) PublishEdges(ctx context.Context, batchID string, edges []models.EdgeCalculation) error {
	if len(edges) == 0 {
		return nil
	}

	payload, err := json.Marshal(EdgeBatch{
		BatchID:     batchID,
		Edges:       edges,
		PublishedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal edges: %w", err)
	}

	err = p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: EdgesStream,
		MaxLen: maxStreamLen,
		Approx: true,
		Values: map[string]interface{}{
			"batch_id": batchID,
			"data":     string(payload),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to publish to stream %s: %w", EdgesStream, err)
	}

	return nil
}

func resultArgs(market models.PropMarket) (*redis.XAddArgs, error) {
	payload, err := json.Marshal(market)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal market %s: %w", market.Key(), err)
	}

	return &redis.XAddArgs{
		Stream: ResultStreamKey(market.Sport),
		MaxLen: maxStreamLen,
		Approx: true,
		Values: map[string]interface{}{
			"market_key": market.Key(),
			"data":       string(payload),
		},
	}, nil
}
