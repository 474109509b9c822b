package postgres

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/lib/pq"

	"github.com/user/txn-stream-engine/internal/domain"
)

// DeadLetterRepository archives dead-letter records into PostgreSQL for
// offline inspection and replay.
type DeadLetterRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewDeadLetterRepository creates a new PostgreSQL dead-letter archive.
func NewDeadLetterRepository(db *sql.DB, logger *slog.Logger) *DeadLetterRepository {
	return &DeadLetterRepository{db: db, logger: logger.With("component", "postgres_archive")}
}

// ArchiveBatch writes a batch of records using the COPY protocol, staging
// into a temp table and upserting on the stream message id so re-archiving a
// batch after a failed ack stays idempotent.
func (r *DeadLetterRepository) ArchiveBatch(ctx context.Context, recs []domain.DeadLetterRecord) error {
	if len(recs) == 0 {
		return nil
	}

	txn, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer txn.Rollback() // no-op after Commit

	const tempTable = "dead_letters_temp_import"
	_, err = txn.ExecContext(ctx, `CREATE TEMP TABLE `+tempTable+` (LIKE dead_letters INCLUDING DEFAULTS) ON COMMIT DROP;`)
	if err != nil {
		return err
	}

	stmt, err := txn.Prepare(pq.CopyIn(tempTable, "message_id", "original_message", "error_type", "error_details", "failed_at"))
	if err != nil {
		return err
	}

	for _, rec := range recs {
		if _, err = stmt.ExecContext(ctx, rec.StreamMessageID, rec.OriginalMessage, string(rec.ErrorType), rec.ErrorDetails, rec.Timestamp); err != nil {
			_ = stmt.Close()
			return err
		}
	}
	if err := stmt.Close(); err != nil {
		return err
	}

	_, err = txn.ExecContext(ctx, `
		INSERT INTO dead_letters (message_id, original_message, error_type, error_details, failed_at)
		SELECT message_id, original_message, error_type, error_details, failed_at FROM `+tempTable+`
		ON CONFLICT (message_id) DO NOTHING;
	`)
	if err != nil {
		return err
	}

	return txn.Commit()
}
