package admissions

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to ApplicationStatus
		want     bool
	}{
		{StatusSubmitted, StatusUnderReview, true},
		{StatusSubmitted, StatusAdmitted, true},
		{StatusSubmitted, StatusRejected, true},
		{StatusUnderReview, StatusAdmitted, true},
		{StatusUnderReview, StatusRejected, true},
		{StatusAdmitted, StatusOfferAccepted, true},
		{StatusAdmitted, StatusOfferDeclined, true},
		{StatusOfferAccepted, StatusPaymentSubmitted, true},
		{StatusOfferAccepted, StatusEnrolled, true},
		{StatusPaymentSubmitted, StatusEnrolled, true},

		{StatusSubmitted, StatusEnrolled, false},
		{StatusUnderReview, StatusOfferAccepted, false},
		{StatusRejected, StatusUnderReview, false},
		{StatusOfferDeclined, StatusOfferAccepted, false},
		{StatusEnrolled, StatusSubmitted, false},
		{StatusPaymentSubmitted, StatusOfferDeclined, false},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}
