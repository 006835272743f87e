package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/arcadia-sis/arcadia-sis/internal/authz"
	"github.com/arcadia-sis/arcadia-sis/internal/notify"
	"github.com/arcadia-sis/arcadia-sis/internal/shared"
)

var (
	ErrInvoiceNotFound    = errors.New("billing: invoice not found")
	ErrPaymentNotFound    = errors.New("billing: payment not found")
	ErrOverpayment        = errors.New("billing: amount exceeds outstanding balance")
	ErrNothingOutstanding = errors.New("billing: invoice has no outstanding balance")
)

// Billing defaults. Rooms without a stored rate fall back to DefaultMonthlyRent.
const (
	DepositAmount      = 500.0
	DefaultMonthlyRent = 600.0
	DefaultCurrency    = "USD"

	housingDueDays = 7
)

// RepositoryPort defines data access methods for billing.
type RepositoryPort interface {
	CreateInvoice(ctx context.Context, input CreateInvoiceInput, total float64) (*Invoice, error)
	GetInvoice(ctx context.Context, id uuid.UUID) (*Invoice, error)
	ListInvoices(ctx context.Context, req ListInvoicesRequest) ([]Invoice, int, error)
	ListInvoiceItems(ctx context.Context, invoiceID uuid.UUID) ([]InvoiceItem, error)
	ListInvoicePayments(ctx context.Context, invoiceID uuid.UUID) ([]Payment, error)
	HasInvoiceWithPrefix(ctx context.Context, studentID uuid.UUID, prefix string) (bool, error)
	CreatePayment(ctx context.Context, input CreatePaymentInput) (*Payment, error)
	GetPayment(ctx context.Context, id uuid.UUID) (*Payment, error)
	SettlePayment(ctx context.Context, input SettlePaymentInput) (*SettlementOutcome, error)
	CreateSettledPayment(ctx context.Context, input CreatePaymentInput, metadata map[string]any, now time.Time) (*SettlementOutcome, error)
}

// AssignmentSource lists active housing assignments for rent invoicing.
// Implemented by the housing repository.
type AssignmentSource interface {
	ListRentCandidates(ctx context.Context) ([]RentCandidate, error)
}

// IdempotencyChecker guards manually keyed operations against replays.
type IdempotencyChecker interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// Service handles invoicing and payment reconciliation.
type Service struct {
	repo        RepositoryPort
	assignments AssignmentSource
	notifier    notify.Dispatcher
	audit       *shared.AuditLogger
	idempotency IdempotencyChecker
	logger      *slog.Logger
	baseURL     string
	clock       func() time.Time
}

// ServiceConfig collects Service dependencies.
type ServiceConfig struct {
	Repo        RepositoryPort
	Assignments AssignmentSource
	Notifier    notify.Dispatcher
	Audit       *shared.AuditLogger
	Idempotency IdempotencyChecker
	Logger      *slog.Logger
	BaseURL     string
}

// NewService builds a Service instance.
func NewService(cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:        cfg.Repo,
		assignments: cfg.Assignments,
		notifier:    cfg.Notifier,
		audit:       cfg.Audit,
		idempotency: cfg.Idempotency,
		logger:      logger,
		baseURL:     cfg.BaseURL,
		clock:       func() time.Time { return time.Now().UTC() },
	}
}

// CreateInvoice creates an invoice and its items in one transaction.
func (s *Service) CreateInvoice(ctx context.Context, input CreateInvoiceInput) (*Invoice, error) {
	if input.StudentID == uuid.Nil {
		return nil, errors.New("student ID required")
	}
	if len(input.Items) == 0 {
		return nil, errors.New("at least one invoice item required")
	}
	var total float64
	for _, item := range input.Items {
		if item.Amount <= 0 {
			return nil, errors.New("item amount must be positive")
		}
		if item.Quantity <= 0 {
			return nil, errors.New("item quantity must be positive")
		}
		total += item.Amount * float64(item.Quantity)
	}
	now := s.clock()
	if input.Reference == "" {
		input.Reference = NewInvoiceReference(now.Year())
	}
	if input.Currency == "" {
		input.Currency = DefaultCurrency
	}
	if input.DueAt.IsZero() {
		input.DueAt = now.AddDate(0, 0, housingDueDays)
	}
	inv, err := s.repo.CreateInvoice(ctx, input, total)
	if err != nil {
		return nil, fmt.Errorf("create invoice: %w", err)
	}
	return inv, nil
}

// GenerateHousingInvoice creates a housing invoice with the conventional
// item categories and a 7-day due date.
func (s *Service) GenerateHousingInvoice(ctx context.Context, studentID, housingApplicationID uuid.UUID, items []InvoiceItemInput) (*Invoice, error) {
	for i := range items {
		if items[i].Category == "" {
			items[i].Category = ItemHousingDeposit
		}
	}
	return s.CreateInvoice(ctx, CreateInvoiceInput{
		StudentID:            studentID,
		HousingApplicationID: &housingApplicationID,
		DueAt:                s.clock().AddDate(0, 0, housingDueDays),
		Items:                items,
	})
}

// GenerateDepositInvoice bills the standard housing deposit.
func (s *Service) GenerateDepositInvoice(ctx context.Context, studentID, housingApplicationID uuid.UUID) (*Invoice, error) {
	return s.GenerateHousingInvoice(ctx, studentID, housingApplicationID, []InvoiceItemInput{
		{Description: "Housing deposit", Category: ItemHousingDeposit, Amount: DepositAmount, Quantity: 1},
	})
}

// BatchGenerateRentInvoices creates one monthly-rent invoice per active
// assignment. Students already invoiced for the month are skipped, keyed by
// the RENT-<year>-<month> reference prefix. The run is resumable: a repeat
// for the same month only fills the gaps.
func (s *Service) BatchGenerateRentInvoices(ctx context.Context, year int, month time.Month) (BatchRentResult, error) {
	if s.assignments == nil {
		return BatchRentResult{}, errors.New("assignment source not configured")
	}
	candidates, err := s.assignments.ListRentCandidates(ctx)
	if err != nil {
		return BatchRentResult{}, fmt.Errorf("list rent candidates: %w", err)
	}

	prefix := RentReferencePrefix(year, month)
	var result BatchRentResult
	for _, cand := range candidates {
		exists, err := s.repo.HasInvoiceWithPrefix(ctx, cand.StudentID, prefix)
		if err != nil {
			return result, fmt.Errorf("check rent invoice: %w", err)
		}
		if exists {
			result.Skipped++
			continue
		}
		rate := cand.MonthlyRate
		if rate <= 0 {
			rate = DefaultMonthlyRent
		}
		housingAppID := cand.HousingApplicationID
		_, err = s.CreateInvoice(ctx, CreateInvoiceInput{
			StudentID:            cand.StudentID,
			HousingApplicationID: &housingAppID,
			Reference:            NewRentReference(year, month),
			DueAt:                s.clock().AddDate(0, 0, housingDueDays),
			Items: []InvoiceItemInput{{
				Description: fmt.Sprintf("Monthly rent %s %d-%02d", cand.RoomLabel, year, month),
				Category:    ItemMonthlyRent,
				Amount:      rate,
				Quantity:    1,
			}},
		})
		if err != nil {
			s.logger.Error("rent invoice failed",
				slog.String("student_id", cand.StudentID.String()),
				slog.Any("error", err),
			)
			continue
		}
		result.Created++
	}
	return result, nil
}

// GetInvoiceDetails returns an invoice with its items and payments.
func (s *Service) GetInvoiceDetails(ctx context.Context, id uuid.UUID) (*InvoiceDetails, error) {
	inv, err := s.repo.GetInvoice(ctx, id)
	if err != nil {
		return nil, err
	}
	items, err := s.repo.ListInvoiceItems(ctx, id)
	if err != nil {
		return nil, err
	}
	payments, err := s.repo.ListInvoicePayments(ctx, id)
	if err != nil {
		return nil, err
	}
	return &InvoiceDetails{Invoice: *inv, Items: items, Payments: payments}, nil
}

// ListInvoices returns invoices matching the filter and the total match
// count before limit/offset.
func (s *Service) ListInvoices(ctx context.Context, req ListInvoicesRequest) ([]Invoice, int, error) {
	return s.repo.ListInvoices(ctx, req)
}

// InitiatePayment creates a PENDING payment targeting the full outstanding
// balance and returns the gateway hand-off. The payment URL points back into
// our own verification route; no real gateway protocol is involved.
func (s *Service) InitiatePayment(ctx context.Context, invoiceID uuid.UUID, method, country string) (*PaymentIntent, error) {
	inv, err := s.repo.GetInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	outstanding := inv.Outstanding()
	if outstanding <= 0 {
		return nil, ErrNothingOutstanding
	}

	now := s.clock()
	txnID := NewGatewayTransactionID(now)
	payment, err := s.repo.CreatePayment(ctx, CreatePaymentInput{
		InvoiceID:      inv.ID,
		Amount:         outstanding,
		Currency:       inv.Currency,
		Method:         method,
		BillingCountry: country,
		TransactionID:  txnID,
	})
	if err != nil {
		return nil, fmt.Errorf("create payment: %w", err)
	}

	return &PaymentIntent{
		PaymentID:     payment.ID,
		TransactionID: txnID,
		PaymentURL:    fmt.Sprintf("%s/billing/payments/verify?transaction_id=%s", s.baseURL, txnID),
		Amount:        outstanding,
	}, nil
}

// VerifyPayment is the gateway-callback path. Re-verifying a COMPLETED
// transaction returns the settled state without re-applying effects.
func (s *Service) VerifyPayment(ctx context.Context, transactionID string) (*SettlementOutcome, error) {
	if transactionID == "" {
		return nil, errors.New("transaction ID required")
	}
	outcome, err := s.repo.SettlePayment(ctx, SettlePaymentInput{
		TransactionID: transactionID,
		Now:           s.clock(),
	})
	if err != nil {
		return nil, err
	}
	if !outcome.AlreadyCompleted {
		s.dispatchPaymentReceived(ctx, outcome)
	}
	return outcome, nil
}

// ReconcilePayment is the admin path over the same settlement. It stamps the
// verified flag and who reconciled when.
func (s *Service) ReconcilePayment(ctx context.Context, paymentID uuid.UUID, actor authz.Actor) (*SettlementOutcome, error) {
	now := s.clock()
	outcome, err := s.repo.SettlePayment(ctx, SettlePaymentInput{
		PaymentID: paymentID,
		Verified:  true,
		Metadata: map[string]any{
			"reconciled_by": actor.UserID.String(),
			"reconciled_at": now.Format(time.RFC3339),
		},
		Now: now,
	})
	if err != nil {
		return nil, err
	}
	if !outcome.AlreadyCompleted {
		s.recordAudit(ctx, actor, "payment.reconcile", "payment", paymentID.String(), map[string]any{
			"invoice_id": outcome.Invoice.ID.String(),
			"amount":     outcome.Payment.Amount,
		})
		s.dispatchPaymentReceived(ctx, outcome)
	}
	return outcome, nil
}

// RecordManualPayment inserts an already-COMPLETED payment and applies it in
// the same transaction. The manual reference doubles as idempotency key, so
// a resubmitted form cannot double-book the amount.
func (s *Service) RecordManualPayment(ctx context.Context, invoiceID uuid.UUID, amount float64, method, reference string, actor authz.Actor) (*SettlementOutcome, error) {
	if amount <= 0 {
		return nil, errors.New("amount must be positive")
	}
	if reference == "" {
		return nil, errors.New("manual reference required")
	}
	if s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, reference, "billing.manual"); err != nil {
			return nil, err
		}
	}

	inv, err := s.repo.GetInvoice(ctx, invoiceID)
	if err != nil {
		s.releaseKey(ctx, reference)
		return nil, err
	}
	if amount > inv.Outstanding() {
		s.releaseKey(ctx, reference)
		return nil, ErrOverpayment
	}

	now := s.clock()
	outcome, err := s.repo.CreateSettledPayment(ctx, CreatePaymentInput{
		InvoiceID:     inv.ID,
		Amount:        amount,
		Currency:      inv.Currency,
		Method:        method,
		TransactionID: NewManualTransactionID(now),
	}, map[string]any{
		"verified_by":      actor.UserID.String(),
		"manual_reference": reference,
	}, now)
	if err != nil {
		s.releaseKey(ctx, reference)
		return nil, err
	}

	s.recordAudit(ctx, actor, "payment.manual", "invoice", inv.ID.String(), map[string]any{
		"amount":    amount,
		"reference": reference,
	})
	s.dispatchPaymentReceived(ctx, outcome)
	return outcome, nil
}

// RecordTuitionPayment is the manual settlement path for tuition invoices.
// Full settlement enrolls the owning application; a partial amount parks it
// in PAYMENT_SUBMITTED pending further verification.
func (s *Service) RecordTuitionPayment(ctx context.Context, invoiceID uuid.UUID, amount float64, method, reference string, actor authz.Actor) (*SettlementOutcome, error) {
	inv, err := s.repo.GetInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if inv.ApplicationID == nil {
		return nil, errors.New("invoice is not linked to an admission application")
	}
	return s.RecordManualPayment(ctx, invoiceID, amount, method, reference, actor)
}

func (s *Service) dispatchPaymentReceived(ctx context.Context, outcome *SettlementOutcome) {
	if s.notifier == nil || outcome == nil || outcome.Invoice == nil {
		return
	}
	ev := notify.Event{
		Type: notify.EventPaymentReceived,
		Data: map[string]any{
			"invoice_id": outcome.Invoice.ID.String(),
			"reference":  outcome.Invoice.Reference,
			"amount":     outcome.Payment.Amount,
			"currency":   outcome.Invoice.Currency,
			"fully_paid": outcome.FullyPaid,
		},
	}
	if outcome.Invoice.ApplicationID != nil {
		ev.ApplicationID = outcome.Invoice.ApplicationID.String()
	}
	// The financial state change has committed; delivery failure is logged
	// and never surfaced to the caller.
	if err := s.notifier.Dispatch(ctx, ev); err != nil {
		s.logger.Error("payment notification failed",
			slog.String("invoice_id", outcome.Invoice.ID.String()),
			slog.Any("error", err),
		)
	}
}

func (s *Service) recordAudit(ctx context.Context, actor authz.Actor, action, entity, entityID string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actor.UserID,
		Action:   action,
		Entity:   entity,
		EntityID: entityID,
		Meta:     meta,
	}); err != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}

func (s *Service) releaseKey(ctx context.Context, key string) {
	if s.idempotency == nil {
		return
	}
	if err := s.idempotency.Delete(ctx, key); err != nil {
		s.logger.Warn("idempotency key release failed", slog.Any("error", err))
	}
}
