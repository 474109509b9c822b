package usecase

import (
	"context"
	"log/slog"
	"time"

	"github.com/user/txn-stream-engine/internal/domain"
)

// ArchiveDeadLettersUseCase drains the dead-letter channel into the durable
// archive so failed records stay available for offline investigation.
type ArchiveDeadLettersUseCase struct {
	stream       domain.DeadLetterStream
	archive      domain.DeadLetterArchive
	logger       *slog.Logger
	batchSize    int
	retryCount   int
	retryBackoff time.Duration
}

// NewArchiveDeadLettersUseCase creates the use case.
func NewArchiveDeadLettersUseCase(
	stream domain.DeadLetterStream,
	archive domain.DeadLetterArchive,
	logger *slog.Logger,
	batchSize, retryCount int,
	retryBackoff time.Duration,
) *ArchiveDeadLettersUseCase {
	return &ArchiveDeadLettersUseCase{
		stream:       stream,
		archive:      archive,
		logger:       logger.With("component", "archiver"),
		batchSize:    batchSize,
		retryCount:   retryCount,
		retryBackoff: retryBackoff,
	}
}

// ProcessBatch reads one batch from the dead-letter stream, writes it to the
// archive with retries, and acknowledges on success. Records stay pending in
// the stream when the archive write fails, so nothing is lost to a flaky
// database.
func (uc *ArchiveDeadLettersUseCase) ProcessBatch(ctx context.Context) (int, error) {
	recs, err := uc.stream.ReadBatch(ctx, uc.batchSize)
	if err != nil {
		uc.logger.Error("failed to read dead-letter batch", "error", err)
		return 0, err
	}
	if len(recs) == 0 {
		return 0, nil
	}

	if err := uc.archiveWithRetry(ctx, recs); err != nil {
		uc.logger.Error("failed to archive dead-letter batch after retries", "error", err, "count", len(recs))
		return 0, err
	}

	ids := make([]string, len(recs))
	for i, rec := range recs {
		ids[i] = rec.StreamMessageID
	}
	if err := uc.stream.Acknowledge(ctx, ids...); err != nil {
		// Records are archived but not acked; the upsert absorbs the re-read.
		uc.logger.Error("failed to acknowledge archived records", "error", err)
		return 0, err
	}

	uc.logger.Debug("archived dead-letter batch", "count", len(recs))
	return len(recs), nil
}

func (uc *ArchiveDeadLettersUseCase) archiveWithRetry(ctx context.Context, recs []domain.DeadLetterRecord) error {
	var lastErr error
	for i := 0; i < uc.retryCount; i++ {
		err := uc.archive.ArchiveBatch(ctx, recs)
		if err == nil {
			return nil
		}
		lastErr = err
		uc.logger.Warn("archive write failed, retrying", "attempt", i+1, "error", err)
		select {
		case <-time.After(uc.retryBackoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}
