package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/arcadia-sis/arcadia-sis/internal/shared"
)

// idempotencyRetention is how long processed keys are kept before purging.
// Long enough for any legitimate client retry window.
const idempotencyRetention = 30 * 24 * time.Hour

// IdempotencyCleanupJob purges expired idempotency keys.
type IdempotencyCleanupJob struct {
	store  *shared.IdempotencyStore
	logger *slog.Logger
}

// NewIdempotencyCleanupJob constructs the job.
func NewIdempotencyCleanupJob(store *shared.IdempotencyStore, logger *slog.Logger) *IdempotencyCleanupJob {
	return &IdempotencyCleanupJob{store: store, logger: logger}
}

// Handle processes TaskIdempotencyCleanup tasks.
func (j *IdempotencyCleanupJob) Handle(ctx context.Context, _ *asynq.Task) error {
	if err := j.store.Cleanup(ctx, idempotencyRetention); err != nil {
		if j.logger != nil {
			j.logger.Error("idempotency cleanup failed", slog.Any("error", err))
		}
		return err
	}
	return nil
}
