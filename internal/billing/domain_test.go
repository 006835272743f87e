package billing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDeriveInvoiceStatus(t *testing.T) {
	require.Equal(t, InvoicePending, DeriveInvoiceStatus(0, 500))
	require.Equal(t, InvoicePartiallyPaid, DeriveInvoiceStatus(100, 500))
	require.Equal(t, InvoicePaid, DeriveInvoiceStatus(500, 500))
	require.Equal(t, InvoicePending, DeriveInvoiceStatus(0, 0))
}

func TestReferenceFormats(t *testing.T) {
	require.Regexp(t, `^INV-2026-\d{4}$`, NewInvoiceReference(2026))
	require.Equal(t, "RENT-2026-09", RentReferencePrefix(2026, time.September))
	require.Regexp(t, `^RENT-2027-01-\d{4}$`, NewRentReference(2027, time.January))

	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	require.Regexp(t, `^PGW-\d+-\d{4}$`, NewGatewayTransactionID(now))
	require.Equal(t, "TXN-"+"1788264000000", NewManualTransactionID(now))
}

func TestOutstanding(t *testing.T) {
	inv := Invoice{Total: 1000, Paid: 250}
	require.Equal(t, 750.0, inv.Outstanding())
}
