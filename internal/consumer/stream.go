package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/XavierBriggs/fortuna/services/fml-engine/pkg/models"
)

// RequestStreamKey returns the stream carrying pricing requests for a sport
func RequestStreamKey(sport string) string {
	return "fml.requests." + sport
}

// StreamConsumer consumes prop market pricing requests from Redis Streams
type StreamConsumer struct {
	client     *redis.Client
	consumerID string
	groupName  string
	count      int64
	block      time.Duration
}

// Message is a stream entry carrying one prop market
type Message struct {
	ID        string
	StreamKey string
	Market    models.PropMarket
}

// ParseError reports an entry that could not be decoded. It still has to be
// acknowledged or it stays pending forever.
type ParseError struct {
	ID        string
	StreamKey string
	Err       error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("error parsing message %s: %v", e.ID, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// NewStreamConsumer creates a new stream consumer reading up to count entries per call
func NewStreamConsumer(client *redis.Client, consumerID, groupName string, count int) *StreamConsumer {
	if count <= 0 {
		count = 10
	}
	return &StreamConsumer{
		client:     client,
		consumerID: consumerID,
		groupName:  groupName,
		count:      int64(count),
		block:      1 * time.Second,
	}
}

// ConsumeStream starts consuming from a stream and returns channels for messages and errors
func (c *StreamConsumer) ConsumeStream(ctx context.Context, streamKey string) (<-chan Message, <-chan error) {
	messageCh := make(chan Message, 100)
	errorCh := make(chan error, 10)

	// Create consumer group if it doesn't exist
	err := c.client.XGroupCreateMkStream(ctx, streamKey, c.groupName, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		errorCh <- fmt.Errorf("failed to create consumer group: %w", err)
		close(messageCh)
		close(errorCh)
		return messageCh, errorCh
	}

	go func() {
		defer close(messageCh)
		defer close(errorCh)

		for {
			if ctx.Err() != nil {
				return
			}

			streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
				Group:    c.groupName,
				Consumer: c.consumerID,
				Streams:  []string{streamKey, ">"},
				Count:    c.count,
				Block:    c.block,
			}).Result()

			if err != nil {
				if errors.Is(err, redis.Nil) {
					continue
				}
				if ctx.Err() != nil {
					return
				}
				c.sendError(ctx, errorCh, fmt.Errorf("error reading from stream: %w", err))

				select {
				case <-ctx.Done():
					return
				case <-time.After(1 * time.Second):
				}
				continue
			}

			for _, stream := range streams {
				for _, message := range stream.Messages {
					msg, err := parseMessage(streamKey, message)
					if err != nil {
						c.sendError(ctx, errorCh, &ParseError{ID: message.ID, StreamKey: streamKey, Err: err})
						continue
					}

					select {
					case messageCh <- msg:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()

	return messageCh, errorCh
}

func (c *StreamConsumer) sendError(ctx context.Context, errorCh chan<- error, err error) {
	select {
	case errorCh <- err:
	case <-ctx.Done():
	}
}

// parseMessage decodes the JSON market in the entry's "data" field
func parseMessage(streamKey string, xmsg redis.XMessage) (Message, error) {
	data, ok := xmsg.Values["data"].(string)
	if !ok {
		return Message{}, fmt.Errorf("missing 'data' field in message")
	}

	var market models.PropMarket
	if err := json.Unmarshal([]byte(data), &market); err != nil {
		return Message{}, fmt.Errorf("failed to parse market JSON: %w", err)
	}

	return Message{
		ID:        xmsg.ID,
		StreamKey: streamKey,
		Market:    market,
	}, nil
}

// AckMessage acknowledges processed messages
func (c *StreamConsumer) AckMessage(ctx context.Context, streamKey string, messageIDs ...string) error {
	if len(messageIDs) == 0 {
		return nil
	}
	return c.client.XAck(ctx, streamKey, c.groupName, messageIDs...).Err()
}
