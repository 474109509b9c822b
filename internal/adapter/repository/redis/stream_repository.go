package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/user/txn-stream-engine/internal/adapter/metrics"
	"github.com/user/txn-stream-engine/internal/domain"
)

// ErrRedisNotAvailable signals that Redis was unreachable at construction;
// the repository still works once connectivity returns.
var ErrRedisNotAvailable = errors.New("redis is not available")

// StreamRepository implements the engine's transport on Redis Streams: the
// inbound consumer-group read on the transactions stream, the per-channel
// XADD publisher, and the dead-letter sink with a local WAL fallback for
// Redis outages.
type StreamRepository struct {
	client      *redis.Client
	logger      *slog.Logger
	inputStream string
	group       string
	consumer    string
	wal         domain.DeadLetterWAL
	metrics     *metrics.EngineMetrics
	isAvailable atomic.Bool
}

// NewStreamRepository creates the repository and ensures the consumer group
// exists. The WAL is optional; pass nil to disable the dead-letter fallback.
func NewStreamRepository(
	client *redis.Client,
	logger *slog.Logger,
	inputStream, group, consumer string,
	wal domain.DeadLetterWAL,
	m *metrics.EngineMetrics,
) (*StreamRepository, error) {
	repo := &StreamRepository{
		client:      client,
		logger:      logger.With("component", "redis_repository"),
		inputStream: inputStream,
		group:       group,
		consumer:    consumer,
		wal:         wal,
		metrics:     m,
	}
	repo.isAvailable.Store(true)

	if err := repo.setupConsumerGroup(context.Background()); err != nil {
		repo.isAvailable.Store(false)
		repo.logger.Error("failed to setup consumer group, redis may be unavailable on startup", "error", err)
		return repo, ErrRedisNotAvailable
	}

	return repo, nil
}

func (r *StreamRepository) setupConsumerGroup(ctx context.Context) error {
	err := r.client.XGroupCreateMkStream(ctx, r.inputStream, r.group, "0").Err()
	if err != nil && !isBusyGroupError(err) {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}
	return nil
}

// ReadBatch reads up to count pending messages for this consumer, blocking
// briefly when the stream is empty.
func (r *StreamRepository) ReadBatch(ctx context.Context, count int) ([]domain.StreamMessage, error) {
	args := &redis.XReadGroupArgs{
		Group:    r.group,
		Consumer: r.consumer,
		Streams:  []string{r.inputStream, ">"},
		Count:    int64(count),
		Block:    2 * time.Second,
	}

	streams, err := r.client.XReadGroup(ctx, args).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to XREADGROUP from %s: %w", r.inputStream, err)
	}
	if len(streams) == 0 || len(streams[0].Messages) == 0 {
		return nil, nil
	}

	msgs := make([]domain.StreamMessage, 0, len(streams[0].Messages))
	for _, m := range streams[0].Messages {
		payload, ok := m.Values["payload"].(string)
		if !ok {
			r.logger.Warn("invalid message format in stream, skipping", "message_id", m.ID)
			continue
		}
		msgs = append(msgs, domain.StreamMessage{ID: m.ID, Payload: []byte(payload)})
	}
	return msgs, nil
}

// Acknowledge acks processed messages in the input stream.
func (r *StreamRepository) Acknowledge(ctx context.Context, messageIDs ...string) error {
	if len(messageIDs) == 0 {
		return nil
	}
	if err := r.client.XAck(ctx, r.inputStream, r.group, messageIDs...).Err(); err != nil {
		return fmt.Errorf("failed to XACK messages: %w", err)
	}
	return nil
}

// Publish writes a structured document to a named output channel stream.
func (r *StreamRepository) Publish(ctx context.Context, channel, key string, doc any) error {
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal document for channel %s: %w", channel, err)
	}

	values := map[string]interface{}{"payload": payload}
	if key != "" {
		values["key"] = key
	}

	if err := r.client.XAdd(ctx, &redis.XAddArgs{Stream: channel, Values: values}).Err(); err != nil {
		return fmt.Errorf("failed to XADD to %s: %w", channel, err)
	}
	return nil
}

// Capture writes a dead-letter record to the dead-letter stream, falling back
// to the WAL when Redis is unavailable.
func (r *StreamRepository) Capture(ctx context.Context, rec domain.DeadLetterRecord) error {
	if !r.isAvailable.Load() {
		return r.captureToWAL(ctx, rec)
	}

	err := r.captureToRedis(ctx, rec)
	if err != nil && isNetworkError(err) {
		if r.isAvailable.CompareAndSwap(true, false) {
			r.setWALActive(true)
			r.logger.Error("redis connection lost during dead-letter write", "error", err)
		}
		return r.captureToWAL(ctx, rec)
	}
	return err
}

func (r *StreamRepository) captureToRedis(ctx context.Context, rec domain.DeadLetterRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal dead-letter record: %w", err)
	}
	args := &redis.XAddArgs{
		Stream: domain.ChannelDeadLetter,
		Values: map[string]interface{}{"payload": payload},
	}
	if err := r.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("failed to XADD dead-letter record: %w", err)
	}
	return nil
}

func (r *StreamRepository) captureToWAL(ctx context.Context, rec domain.DeadLetterRecord) error {
	if r.wal == nil {
		return errors.New("redis is unavailable and no WAL is configured")
	}
	return r.wal.Write(ctx, rec)
}

// StartHealthCheck monitors Redis connectivity and replays the WAL once the
// connection recovers.
func (r *StreamRepository) StartHealthCheck(ctx context.Context, interval time.Duration) {
	if r.wal == nil {
		r.logger.Info("WAL is not configured, skipping health check/replayer")
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.logger.Info("starting redis health check and WAL replayer")

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("stopping redis health check")
			return
		case <-ticker.C:
			err := r.client.Ping(ctx).Err()
			if err != nil {
				if r.isAvailable.CompareAndSwap(true, false) {
					r.setWALActive(true)
					r.logger.Error("redis connection lost", "error", err)
				}
				continue
			}
			if r.isAvailable.CompareAndSwap(false, true) {
				r.logger.Info("redis connection recovered")
				if err := r.ReplayWAL(ctx); err != nil {
					r.logger.Error("failed to replay WAL after redis recovery", "error", err)
					r.isAvailable.Store(false)
					continue
				}
				r.setWALActive(false)
			}
		}
	}
}

// ReplayWAL replays buffered dead-letter records to Redis and truncates the
// WAL on success.
func (r *StreamRepository) ReplayWAL(ctx context.Context) error {
	if err := r.wal.Replay(ctx, func(rec domain.DeadLetterRecord) error {
		return r.captureToRedis(ctx, rec)
	}); err != nil {
		return fmt.Errorf("WAL replay failed: %w", err)
	}
	if err := r.wal.Truncate(ctx); err != nil {
		return fmt.Errorf("failed to truncate WAL after replay: %w", err)
	}
	r.logger.Info("WAL replay to redis completed")
	return nil
}

func (r *StreamRepository) setWALActive(active bool) {
	if r.metrics == nil {
		return
	}
	if active {
		r.metrics.WALActive.Set(1)
	} else {
		r.metrics.WALActive.Set(0)
	}
}

func isBusyGroupError(err error) bool {
	return err != nil && err.Error() == "BUSYGROUP Consumer Group name already exists"
}

func isNetworkError(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) || errors.Is(err, redis.ErrClosed) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
