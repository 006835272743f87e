package billing

import (
	"time"

	"github.com/google/uuid"
)

// InvoiceItemInput describes one charge line at invoice creation.
type InvoiceItemInput struct {
	Description string
	Category    string
	Amount      float64
	Quantity    int
}

// CreateInvoiceInput carries everything needed to create an invoice with its
// items. Reference is generated when empty.
type CreateInvoiceInput struct {
	StudentID            uuid.UUID
	ApplicationID        *uuid.UUID
	HousingApplicationID *uuid.UUID
	Reference            string
	Currency             string
	DueAt                time.Time
	Items                []InvoiceItemInput
}

// CreatePaymentInput creates a PENDING payment row.
type CreatePaymentInput struct {
	InvoiceID      uuid.UUID
	Amount         float64
	Currency       string
	Method         string
	BillingCountry string
	TransactionID  string
}

// SettlePaymentInput transitions a payment to COMPLETED and folds its amount
// into the owning invoice. Exactly one of TransactionID or PaymentID selects
// the payment.
type SettlePaymentInput struct {
	TransactionID string
	PaymentID     uuid.UUID
	Verified      bool
	Metadata      map[string]any
	Now           time.Time
}

// SettlementOutcome reports the state after a settlement attempt.
type SettlementOutcome struct {
	Payment          *Payment
	Invoice          *Invoice
	AlreadyCompleted bool
	FullyPaid        bool
}

// PaymentIntent is returned by InitiatePayment; PaymentURL points back into
// the verification route (gateway stand-in).
type PaymentIntent struct {
	PaymentID     uuid.UUID
	TransactionID string
	PaymentURL    string
	Amount        float64
}

// ListInvoicesRequest filters invoice listings.
type ListInvoicesRequest struct {
	StudentID uuid.UUID
	Status    InvoiceStatus
	Limit     int
	Offset    int
}

// InvoiceDetails bundles an invoice with its items and payments.
type InvoiceDetails struct {
	Invoice  Invoice
	Items    []InvoiceItem
	Payments []Payment
}

// RentCandidate is an active housing assignment eligible for monthly-rent
// invoicing.
type RentCandidate struct {
	StudentID            uuid.UUID
	HousingApplicationID uuid.UUID
	AssignmentID         uuid.UUID
	RoomLabel            string
	MonthlyRate          float64
}

// BatchRentResult summarises one batch invoicing run.
type BatchRentResult struct {
	Created int
	Skipped int
}
