package jobs

import (
	"context"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PaymentRepairJob scans for invoices whose paid_amount fell behind the sum
// of their COMPLETED payments and re-folds the difference. The settlement
// path keeps both in step inside one transaction; this job is the safety net
// for rows touched by migrations or manual surgery.
type PaymentRepairJob struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPaymentRepairJob constructs the job.
func NewPaymentRepairJob(pool *pgxpool.Pool, logger *slog.Logger) *PaymentRepairJob {
	return &PaymentRepairJob{pool: pool, logger: logger}
}

// Handle processes TaskPaymentRepair tasks.
func (j *PaymentRepairJob) Handle(ctx context.Context, _ *asynq.Task) error {
	if j.pool == nil {
		return nil
	}
	tag, err := j.pool.Exec(ctx, `
		WITH settled AS (
			SELECT invoice_id, SUM(amount) AS total_paid
			FROM payments
			WHERE status = 'COMPLETED'
			GROUP BY invoice_id
		)
		UPDATE invoices i
		SET paid_amount = LEAST(s.total_paid, i.total_amount),
			status = CASE
				WHEN s.total_paid >= i.total_amount THEN 'PAID'
				WHEN s.total_paid > 0 THEN 'PARTIALLY_PAID'
				ELSE 'PENDING'
			END,
			updated_at = NOW()
		FROM settled s
		WHERE i.id = s.invoice_id AND i.paid_amount < s.total_paid`)
	if err != nil {
		if j.logger != nil {
			j.logger.Error("payment repair scan failed", slog.Any("error", err))
		}
		return err
	}
	if j.logger != nil && tag.RowsAffected() > 0 {
		j.logger.Warn("payment repair folded drifted invoices",
			slog.Int64("repaired", tag.RowsAffected()),
		)
	}
	return nil
}
