package fees

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTuitionKnownCombination(t *testing.T) {
	require.Equal(t, 4600.0, Tuition(DegreeBachelor, FieldComputing))
	require.Equal(t, 7400.0, Tuition(DegreeMaster, FieldHealth))
}

func TestTuitionFallsBackToDefault(t *testing.T) {
	require.Equal(t, defaultTuition, Tuition(DegreeDoctorate, FieldHumanities))
	require.Equal(t, defaultTuition, Tuition("UNKNOWN", "UNKNOWN"))
}

func TestDiscountedFee(t *testing.T) {
	require.Equal(t, 750.0, DiscountedFee(1000))
	require.Equal(t, 7500.0, DiscountedFee(10000))
	require.Equal(t, 0.0, DiscountedFee(0))
}

func TestEarlyPaymentInclusiveDeadline(t *testing.T) {
	deadline := time.Date(2026, 9, 30, 0, 0, 0, 0, time.UTC)

	require.True(t, EarlyPayment(deadline.AddDate(0, 0, -1), deadline))
	require.True(t, EarlyPayment(deadline, deadline))
	require.False(t, EarlyPayment(deadline.Add(time.Second), deadline))
}

func TestParseProgramYears(t *testing.T) {
	cases := map[string]int{
		"3 Years":  3,
		"2 years":  2,
		"1 Year":   1,
		"4":        4,
		"":         1,
		"Years":    1,
		"  2 Years": 2,
		"0 Years":  1,
	}
	for input, want := range cases {
		require.Equal(t, want, ParseProgramYears(input), "input %q", input)
	}
}

func TestPayableYears(t *testing.T) {
	require.Equal(t, 1, PayableYears(false, 3))
	require.Equal(t, 3, PayableYears(true, 3))
	require.Equal(t, 1, PayableYears(true, 0))
}

func TestQuoteSingleYearEarly(t *testing.T) {
	// 10000 - 25% = 7500
	require.Equal(t, 7500.0, Quote(10000, 1, true))
}

func TestQuoteMultiYearDiscountsFirstYearOnly(t *testing.T) {
	// 7500 + 2*10000 = 27500
	require.Equal(t, 27500.0, Quote(10000, 3, true))
}

func TestQuoteLateNoDiscount(t *testing.T) {
	require.Equal(t, 10000.0, Quote(10000, 1, false))
	require.Equal(t, 30000.0, Quote(10000, 3, false))
}
