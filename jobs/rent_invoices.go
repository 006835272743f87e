package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/arcadia-sis/arcadia-sis/internal/billing"
)

// RentInvoicesJob runs the monthly rent batch against the billing service.
type RentInvoicesJob struct {
	billing *billing.Service
	logger  *slog.Logger
}

// NewRentInvoicesJob constructs the job.
func NewRentInvoicesJob(billingService *billing.Service, logger *slog.Logger) *RentInvoicesJob {
	return &RentInvoicesJob{billing: billingService, logger: logger}
}

// Handle processes TaskRentInvoices tasks. The batch itself is resumable, so
// a retried task only fills the gaps of the previous run.
func (j *RentInvoicesJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload RentInvoicesPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	now := time.Now().UTC()
	year := payload.Year
	month := time.Month(payload.Month)
	if year == 0 {
		year = now.Year()
	}
	if payload.Month == 0 {
		month = now.Month()
	}

	result, err := j.billing.BatchGenerateRentInvoices(ctx, year, month)
	if err != nil {
		if j.logger != nil {
			j.logger.Error("rent invoice batch failed", slog.Any("error", err))
		}
		return err
	}
	if j.logger != nil {
		j.logger.Info("rent invoice batch finished",
			slog.Int("year", year),
			slog.Int("month", int(month)),
			slog.Int("created", result.Created),
			slog.Int("skipped", result.Skipped),
		)
	}
	return nil
}
