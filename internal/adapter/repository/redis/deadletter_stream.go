package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/user/txn-stream-engine/internal/domain"
)

// DeadLetterStreamRepository is the archiver's consumer-group view of the
// dead-letter channel.
type DeadLetterStreamRepository struct {
	client   *redis.Client
	logger   *slog.Logger
	group    string
	consumer string
}

// NewDeadLetterStreamRepository creates the repository and ensures the
// archiver consumer group exists.
func NewDeadLetterStreamRepository(client *redis.Client, logger *slog.Logger, group, consumer string) (*DeadLetterStreamRepository, error) {
	repo := &DeadLetterStreamRepository{
		client:   client,
		logger:   logger.With("component", "deadletter_stream"),
		group:    group,
		consumer: consumer,
	}

	err := client.XGroupCreateMkStream(context.Background(), domain.ChannelDeadLetter, group, "0").Err()
	if err != nil && !isBusyGroupError(err) {
		return nil, fmt.Errorf("failed to create dead-letter consumer group: %w", err)
	}
	return repo, nil
}

// ReadBatch reads up to count dead-letter records for this consumer.
func (r *DeadLetterStreamRepository) ReadBatch(ctx context.Context, count int) ([]domain.DeadLetterRecord, error) {
	args := &redis.XReadGroupArgs{
		Group:    r.group,
		Consumer: r.consumer,
		Streams:  []string{domain.ChannelDeadLetter, ">"},
		Count:    int64(count),
		Block:    2 * time.Second,
	}

	streams, err := r.client.XReadGroup(ctx, args).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to XREADGROUP from %s: %w", domain.ChannelDeadLetter, err)
	}
	if len(streams) == 0 || len(streams[0].Messages) == 0 {
		return nil, nil
	}

	recs := make([]domain.DeadLetterRecord, 0, len(streams[0].Messages))
	for _, m := range streams[0].Messages {
		payload, ok := m.Values["payload"].(string)
		if !ok {
			r.logger.Warn("invalid dead-letter message format, skipping", "message_id", m.ID)
			continue
		}
		var rec domain.DeadLetterRecord
		if err := json.Unmarshal([]byte(payload), &rec); err != nil {
			r.logger.Warn("failed to unmarshal dead-letter record, skipping", "message_id", m.ID, "error", err)
			continue
		}
		rec.StreamMessageID = m.ID
		recs = append(recs, rec)
	}
	return recs, nil
}

// Acknowledge acks archived records in the dead-letter stream.
func (r *DeadLetterStreamRepository) Acknowledge(ctx context.Context, messageIDs ...string) error {
	if len(messageIDs) == 0 {
		return nil
	}
	if err := r.client.XAck(ctx, domain.ChannelDeadLetter, r.group, messageIDs...).Err(); err != nil {
		return fmt.Errorf("failed to XACK dead-letter messages: %w", err)
	}
	return nil
}
