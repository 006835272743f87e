package billing

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
)

// InvoiceStatus enumerates invoice payment states.
type InvoiceStatus string

const (
	InvoicePending       InvoiceStatus = "PENDING"
	InvoicePartiallyPaid InvoiceStatus = "PARTIALLY_PAID"
	InvoicePaid          InvoiceStatus = "PAID"
)

// PaymentStatus enumerates payment states.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "PENDING"
	PaymentCompleted PaymentStatus = "COMPLETED"
)

// Item categories used on invoice lines.
const (
	ItemHousingDeposit = "HOUSING_DEPOSIT"
	ItemMonthlyRent    = "MONTHLY_RENT"
	ItemTuition        = "TUITION"
	ItemApplicationFee = "APPLICATION_FEE"
)

// Invoice aggregates charge line items for a student. An invoice may link to
// an admission application, a housing application, or neither.
type Invoice struct {
	ID                   uuid.UUID
	StudentID            uuid.UUID
	ApplicationID        *uuid.UUID
	HousingApplicationID *uuid.UUID
	Reference            string
	Currency             string
	Total                float64
	Paid                 float64
	Status               InvoiceStatus
	DueAt                time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Outstanding returns the unpaid balance.
func (i Invoice) Outstanding() float64 {
	return i.Total - i.Paid
}

// InvoiceItem is an immutable charge line belonging to one invoice.
type InvoiceItem struct {
	ID          uuid.UUID
	InvoiceID   uuid.UUID
	Description string
	Category    string
	Amount      float64
	Quantity    int
	CreatedAt   time.Time
}

// Payment records money moved against an invoice. Once COMPLETED a payment
// is immutable except for metadata annotation.
type Payment struct {
	ID             uuid.UUID
	InvoiceID      uuid.UUID
	Amount         float64
	Currency       string
	Method         string
	BillingCountry string
	TransactionID  string
	Status         PaymentStatus
	Verified       bool
	Metadata       map[string]any
	PaidAt         *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// DeriveInvoiceStatus maps a (paid, total) pair onto the invoice status.
// PAID iff paid equals total, PARTIALLY_PAID iff 0 < paid < total.
func DeriveInvoiceStatus(paid, total float64) InvoiceStatus {
	switch {
	case total > 0 && paid >= total:
		return InvoicePaid
	case paid > 0:
		return InvoicePartiallyPaid
	default:
		return InvoicePending
	}
}

// NewInvoiceReference returns a code in the form INV-<year>-<4 digits>.
// Uniqueness is enforced by the invoices.reference constraint, not here.
func NewInvoiceReference(year int) string {
	return fmt.Sprintf("INV-%d-%04d", year, randomDigits(10000))
}

// RentReferencePrefix returns the idempotency prefix for a billing month,
// RENT-<year>-<2-digit-month>.
func RentReferencePrefix(year int, month time.Month) string {
	return fmt.Sprintf("RENT-%d-%02d", year, month)
}

// NewRentReference returns a monthly-rent reference carrying the
// RentReferencePrefix for its billing month.
func NewRentReference(year int, month time.Month) string {
	return fmt.Sprintf("%s-%04d", RentReferencePrefix(year, month), randomDigits(10000))
}

// NewGatewayTransactionID fabricates a gateway correlation id in the form
// PGW-<epoch_ms>-<rand>.
func NewGatewayTransactionID(now time.Time) string {
	return fmt.Sprintf("PGW-%d-%04d", now.UnixMilli(), randomDigits(10000))
}

// NewManualTransactionID fabricates a transaction id for manually recorded
// payments, TXN-<epoch_ms>.
func NewManualTransactionID(now time.Time) string {
	return fmt.Sprintf("TXN-%d", now.UnixMilli())
}

func randomDigits(max int64) int64 {
	n, err := rand.Int(rand.Reader, big.NewInt(max))
	if err != nil {
		return time.Now().UnixNano() % max
	}
	return n.Int64()
}
