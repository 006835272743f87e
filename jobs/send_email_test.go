package jobs

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arcadia-sis/arcadia-sis/internal/notify"
)

func TestFormatAmount(t *testing.T) {
	// Unknown codes fall back to a plain code-prefixed figure.
	require.Equal(t, "ZZZ 750.00", formatAmount("ZZZ", 750))
	// Empty code defaults to USD and renders something non-empty.
	require.NotEmpty(t, formatAmount("", 750))
	require.NotEqual(t, formatAmount("", 750), formatAmount("", 0))
}

func TestComposePaymentReceived(t *testing.T) {
	job := &EmailJob{from: "no-reply@arcadia.edu"}

	subject, body := job.compose(notify.Event{
		Type: notify.EventPaymentReceived,
		Data: map[string]any{
			"reference":  "INV-2026-0042",
			"amount":     750.0,
			"currency":   "USD",
			"fully_paid": true,
		},
	})
	require.Equal(t, "Payment received for INV-2026-0042", subject)
	require.Contains(t, body, "settled in full")

	_, body = job.compose(notify.Event{
		Type: notify.EventPaymentReceived,
		Data: map[string]any{
			"reference":  "INV-2026-0042",
			"amount":     100.0,
			"currency":   "USD",
			"fully_paid": false,
		},
	})
	require.Contains(t, body, "balance remains outstanding")
}

func TestComposeOfferResponse(t *testing.T) {
	job := &EmailJob{}

	subject, _ := job.compose(notify.Event{
		Type: notify.EventOfferResponse,
		Data: map[string]any{"decision": "ACCEPTED"},
	})
	require.Equal(t, "Offer accepted", subject)

	subject, _ = job.compose(notify.Event{
		Type: notify.EventOfferResponse,
		Data: map[string]any{"decision": "DECLINED"},
	})
	require.Equal(t, "Offer declined", subject)
}

func TestComposeHousingApproved(t *testing.T) {
	job := &EmailJob{}
	subject, _ := job.compose(notify.Event{Type: notify.EventHousingApproved})
	require.Equal(t, "Housing application approved", subject)
}
