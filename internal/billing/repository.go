package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides PostgreSQL backed persistence for billing.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const invoiceColumns = `id, student_id, application_id, housing_application_id, reference,
	currency, total_amount, paid_amount, status, due_at, created_at, updated_at`

const paymentColumns = `id, invoice_id, amount, currency, method, billing_country,
	transaction_id, status, verified, metadata, paid_at, created_at, updated_at`

// CreateInvoice inserts the invoice row and its items in one transaction, so
// a failed item insert can never leave an orphaned invoice behind.
func (r *Repository) CreateInvoice(ctx context.Context, input CreateInvoiceInput, total float64) (*Invoice, error) {
	var inv *Invoice
	err := pgx.BeginTxFunc(ctx, r.pool, pgx.TxOptions{IsoLevel: pgx.RepeatableRead}, func(tx pgx.Tx) error {
		query := `
			INSERT INTO invoices (
				student_id, application_id, housing_application_id, reference,
				currency, total_amount, paid_amount, status, due_at, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, 0, 'PENDING', $7, NOW(), NOW())
			RETURNING ` + invoiceColumns

		row := tx.QueryRow(ctx, query,
			input.StudentID,
			uuidOrNull(input.ApplicationID),
			uuidOrNull(input.HousingApplicationID),
			input.Reference,
			input.Currency,
			total,
			input.DueAt,
		)
		created, err := scanInvoice(row)
		if err != nil {
			return err
		}

		for _, item := range input.Items {
			_, err := tx.Exec(ctx, `
				INSERT INTO invoice_items (invoice_id, description, category, amount, quantity, created_at)
				VALUES ($1, $2, $3, $4, $5, NOW())`,
				created.ID, item.Description, item.Category, item.Amount, item.Quantity,
			)
			if err != nil {
				return fmt.Errorf("insert invoice item: %w", err)
			}
		}

		inv = created
		return nil
	})
	if err != nil {
		return nil, err
	}
	return inv, nil
}

// GetInvoice retrieves an invoice by ID.
func (r *Repository) GetInvoice(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1`, id)
	inv, err := scanInvoice(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrInvoiceNotFound
	}
	return inv, err
}

// ListInvoices returns invoices with optional filtering plus the total
// match count before limit/offset, for pagination.
func (r *Repository) ListInvoices(ctx context.Context, req ListInvoicesRequest) ([]Invoice, int, error) {
	filter := ""
	args := []any{}
	argNum := 1

	if req.StudentID != uuid.Nil {
		filter += fmt.Sprintf(" AND student_id = $%d", argNum)
		args = append(args, req.StudentID)
		argNum++
	}
	if req.Status != "" {
		filter += fmt.Sprintf(" AND status = $%d", argNum)
		args = append(args, string(req.Status))
		argNum++
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM invoices WHERE 1=1`+filter, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE 1=1` + filter
	query += " ORDER BY created_at DESC"

	if req.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argNum)
		args = append(args, req.Limit)
		argNum++
	}
	if req.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argNum)
		args = append(args, req.Offset)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var invoices []Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, 0, err
		}
		invoices = append(invoices, *inv)
	}
	return invoices, total, rows.Err()
}

// ListInvoiceItems returns the items of an invoice in insertion order.
func (r *Repository) ListInvoiceItems(ctx context.Context, invoiceID uuid.UUID) ([]InvoiceItem, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, invoice_id, description, category, amount, quantity, created_at
		FROM invoice_items
		WHERE invoice_id = $1
		ORDER BY created_at, id`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []InvoiceItem
	for rows.Next() {
		var item InvoiceItem
		if err := rows.Scan(&item.ID, &item.InvoiceID, &item.Description, &item.Category, &item.Amount, &item.Quantity, &item.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// ListInvoicePayments returns payments recorded against an invoice.
func (r *Repository) ListInvoicePayments(ctx context.Context, invoiceID uuid.UUID) ([]Payment, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+paymentColumns+` FROM payments WHERE invoice_id = $1 ORDER BY created_at`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, *p)
	}
	return payments, rows.Err()
}

// HasInvoiceWithPrefix reports whether the student already holds an invoice
// whose reference starts with prefix. Used as the batch-rent idempotency key.
func (r *Repository) HasInvoiceWithPrefix(ctx context.Context, studentID uuid.UUID, prefix string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM invoices WHERE student_id = $1 AND reference LIKE $2 || '%')`,
		studentID, prefix,
	).Scan(&exists)
	return exists, err
}

// CreatePayment inserts a PENDING payment row.
func (r *Repository) CreatePayment(ctx context.Context, input CreatePaymentInput) (*Payment, error) {
	query := `
		INSERT INTO payments (
			invoice_id, amount, currency, method, billing_country,
			transaction_id, status, verified, metadata, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, 'PENDING', FALSE, '{}', NOW(), NOW())
		RETURNING ` + paymentColumns

	row := r.pool.QueryRow(ctx, query,
		input.InvoiceID, input.Amount, input.Currency, input.Method,
		input.BillingCountry, input.TransactionID,
	)
	return scanPayment(row)
}

// GetPayment retrieves a payment by ID.
func (r *Repository) GetPayment(ctx context.Context, id uuid.UUID) (*Payment, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id)
	p, err := scanPayment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPaymentNotFound
	}
	return p, err
}

// SettlePayment flips a PENDING payment to COMPLETED and folds its amount
// into the invoice with an atomic increment, all in one transaction. The
// guarded payment update is the at-most-once gate: a webhook retry racing an
// admin reconciliation settles exactly once.
func (r *Repository) SettlePayment(ctx context.Context, input SettlePaymentInput) (*SettlementOutcome, error) {
	var outcome *SettlementOutcome
	err := pgx.BeginTxFunc(ctx, r.pool, pgx.TxOptions{IsoLevel: pgx.RepeatableRead}, func(tx pgx.Tx) error {
		var row pgx.Row
		if input.TransactionID != "" {
			row = tx.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE transaction_id = $1 FOR UPDATE`, input.TransactionID)
		} else {
			row = tx.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1 FOR UPDATE`, input.PaymentID)
		}
		payment, err := scanPayment(row)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrPaymentNotFound
		}
		if err != nil {
			return err
		}

		if payment.Status == PaymentCompleted {
			inv, err := getInvoiceTx(ctx, tx, payment.InvoiceID)
			if err != nil {
				return err
			}
			outcome = &SettlementOutcome{
				Payment:          payment,
				Invoice:          inv,
				AlreadyCompleted: true,
				FullyPaid:        inv.Status == InvoicePaid,
			}
			return nil
		}

		metadata, err := json.Marshal(input.Metadata)
		if err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `
			UPDATE payments
			SET status = 'COMPLETED', verified = $2, metadata = metadata || $3,
				paid_at = $4, updated_at = NOW()
			WHERE id = $1 AND status = 'PENDING'`,
			payment.ID, input.Verified, metadata, input.Now,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return errors.New("billing: payment settled concurrently")
		}

		inv, fullyPaid, err := applyToInvoice(ctx, tx, payment.InvoiceID, payment.Amount)
		if err != nil {
			return err
		}
		if err := propagateSettlement(ctx, tx, inv, fullyPaid); err != nil {
			return err
		}

		settled := *payment
		settled.Status = PaymentCompleted
		settled.Verified = input.Verified
		paidAt := input.Now
		settled.PaidAt = &paidAt
		outcome = &SettlementOutcome{Payment: &settled, Invoice: inv, FullyPaid: fullyPaid}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return outcome, nil
}

// CreateSettledPayment inserts an already-COMPLETED payment and applies it,
// all in one transaction. Backs the fully-manual verification path.
func (r *Repository) CreateSettledPayment(ctx context.Context, input CreatePaymentInput, metadata map[string]any, now time.Time) (*SettlementOutcome, error) {
	var outcome *SettlementOutcome
	err := pgx.BeginTxFunc(ctx, r.pool, pgx.TxOptions{IsoLevel: pgx.RepeatableRead}, func(tx pgx.Tx) error {
		inv, err := getInvoiceForUpdate(ctx, tx, input.InvoiceID)
		if err != nil {
			return err
		}
		if input.Amount > inv.Outstanding() {
			return ErrOverpayment
		}

		metaJSON, err := json.Marshal(metadata)
		if err != nil {
			return err
		}
		row := tx.QueryRow(ctx, `
			INSERT INTO payments (
				invoice_id, amount, currency, method, billing_country,
				transaction_id, status, verified, metadata, paid_at, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, 'COMPLETED', TRUE, $7, $8, NOW(), NOW())
			RETURNING `+paymentColumns,
			input.InvoiceID, input.Amount, input.Currency, input.Method,
			input.BillingCountry, input.TransactionID, metaJSON, now,
		)
		payment, err := scanPayment(row)
		if err != nil {
			return err
		}

		updated, fullyPaid, err := applyToInvoice(ctx, tx, inv.ID, input.Amount)
		if err != nil {
			return err
		}
		if err := propagateSettlement(ctx, tx, updated, fullyPaid); err != nil {
			return err
		}

		outcome = &SettlementOutcome{Payment: payment, Invoice: updated, FullyPaid: fullyPaid}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return outcome, nil
}

// applyToInvoice increments paid_amount atomically and derives the status in
// the same statement, refusing any delta that would push paid past total.
func applyToInvoice(ctx context.Context, tx pgx.Tx, invoiceID uuid.UUID, amount float64) (*Invoice, bool, error) {
	row := tx.QueryRow(ctx, `
		UPDATE invoices
		SET paid_amount = paid_amount + $2,
			status = CASE
				WHEN paid_amount + $2 >= total_amount THEN 'PAID'
				WHEN paid_amount + $2 > 0 THEN 'PARTIALLY_PAID'
				ELSE 'PENDING'
			END,
			updated_at = NOW()
		WHERE id = $1 AND paid_amount + $2 <= total_amount
		RETURNING `+invoiceColumns, invoiceID, amount)

	inv, err := scanInvoice(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, ErrOverpayment
	}
	if err != nil {
		return nil, false, err
	}
	return inv, inv.Status == InvoicePaid, nil
}

// propagateSettlement flips dependent application rows once an invoice is
// settled. Updates are status-guarded so illegal transitions are no-ops.
func propagateSettlement(ctx context.Context, tx pgx.Tx, inv *Invoice, fullyPaid bool) error {
	if inv.HousingApplicationID != nil && fullyPaid {
		_, err := tx.Exec(ctx, `
			UPDATE housing_applications
			SET status = 'APPROVED', updated_at = NOW()
			WHERE id = $1 AND status = 'PENDING'`, *inv.HousingApplicationID)
		if err != nil {
			return fmt.Errorf("approve housing application: %w", err)
		}
	}
	if inv.ApplicationID != nil {
		var query string
		if fullyPaid {
			query = `UPDATE applications SET status = 'ENROLLED', updated_at = NOW()
				WHERE id = $1 AND status IN ('OFFER_ACCEPTED', 'PAYMENT_SUBMITTED')`
		} else {
			query = `UPDATE applications SET status = 'PAYMENT_SUBMITTED', updated_at = NOW()
				WHERE id = $1 AND status = 'OFFER_ACCEPTED'`
		}
		if _, err := tx.Exec(ctx, query, *inv.ApplicationID); err != nil {
			return fmt.Errorf("advance application: %w", err)
		}
	}
	return nil
}

func getInvoiceTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*Invoice, error) {
	row := tx.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1`, id)
	inv, err := scanInvoice(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrInvoiceNotFound
	}
	return inv, err
}

func getInvoiceForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*Invoice, error) {
	row := tx.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1 FOR UPDATE`, id)
	inv, err := scanInvoice(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrInvoiceNotFound
	}
	return inv, err
}

func scanInvoice(row pgx.Row) (*Invoice, error) {
	var inv Invoice
	var appID, housingAppID pgtype.UUID
	err := row.Scan(
		&inv.ID, &inv.StudentID, &appID, &housingAppID, &inv.Reference,
		&inv.Currency, &inv.Total, &inv.Paid, &inv.Status, &inv.DueAt,
		&inv.CreatedAt, &inv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if appID.Valid {
		id := uuid.UUID(appID.Bytes)
		inv.ApplicationID = &id
	}
	if housingAppID.Valid {
		id := uuid.UUID(housingAppID.Bytes)
		inv.HousingApplicationID = &id
	}
	return &inv, nil
}

func scanPayment(row pgx.Row) (*Payment, error) {
	var p Payment
	var metadata []byte
	var paidAt pgtype.Timestamptz
	err := row.Scan(
		&p.ID, &p.InvoiceID, &p.Amount, &p.Currency, &p.Method, &p.BillingCountry,
		&p.TransactionID, &p.Status, &p.Verified, &metadata, &paidAt,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &p.Metadata); err != nil {
			return nil, err
		}
	}
	if paidAt.Valid {
		t := paidAt.Time
		p.PaidAt = &t
	}
	return &p, nil
}

func uuidOrNull(id *uuid.UUID) pgtype.UUID {
	if id == nil {
		return pgtype.UUID{}
	}
	return pgtype.UUID{Bytes: *id, Valid: true}
}
