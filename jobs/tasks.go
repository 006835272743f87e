package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskRentInvoices generates the monthly rent invoice batch.
	TaskRentInvoices = "billing:rent_invoices"
	// TaskPaymentRepair re-folds settled payments whose invoice totals drifted.
	TaskPaymentRepair = "billing:payment_repair"
	// TaskIdempotencyCleanup purges expired idempotency keys.
	TaskIdempotencyCleanup = "maintenance:idempotency_cleanup"
)

// RentInvoicesPayload selects the billing month. A zero year or month means
// the month the task runs in.
type RentInvoicesPayload struct {
	Year  int `json:"year"`
	Month int `json:"month"`
}

// NewRentInvoicesTask constructs the monthly rent batch task.
func NewRentInvoicesTask(year int, month time.Month) (*asynq.Task, error) {
	data, err := json.Marshal(RentInvoicesPayload{Year: year, Month: int(month)})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskRentInvoices, data), nil
}

// NewPaymentRepairTask constructs the payment repair scan task.
func NewPaymentRepairTask() (*asynq.Task, error) {
	return asynq.NewTask(TaskPaymentRepair, nil), nil
}

// NewIdempotencyCleanupTask constructs the idempotency cleanup task.
func NewIdempotencyCleanupTask() (*asynq.Task, error) {
	return asynq.NewTask(TaskIdempotencyCleanup, nil), nil
}
