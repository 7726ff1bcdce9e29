package db

import (
	"context"

	"crewbook/internal/types"
)

// ProcessedQuoteRepository tracks quote IDs that have already produced a
// booking. Webhook deliveries are at-least-once, so the orchestrator marks a
// quote before scheduling it and skips any redelivery.
type ProcessedQuoteRepository struct {
	db DBTX
}

// NewProcessedQuoteRepository creates a new ProcessedQuoteRepository backed
// by the given database connection (pool or transaction).
func NewProcessedQuoteRepository(db DBTX) *ProcessedQuoteRepository {
	return &ProcessedQuoteRepository{db: db}
}

// MarkProcessed records the quote ID atomically. Returns true if this call
// claimed the quote, false if it was already processed. The INSERT ... ON
// CONFLICT DO NOTHING makes concurrent deliveries of the same webhook safe:
// exactly one wins.
func (r *ProcessedQuoteRepository) MarkProcessed(ctx context.Context, quoteID string) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`INSERT INTO processed_quotes (quote_id, processed_at)
		 VALUES ($1, NOW())
		 ON CONFLICT (quote_id) DO NOTHING`,
		quoteID,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to mark quote processed", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Unmark removes the processed record so a failed booking can be retried on
// the next webhook delivery.
func (r *ProcessedQuoteRepository) Unmark(ctx context.Context, quoteID string) error {
	_, err := r.db.Exec(ctx,
		`DELETE FROM processed_quotes WHERE quote_id = $1`,
		quoteID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to unmark quote", err)
	}
	return nil
}
