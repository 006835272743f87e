// Package fees computes tuition amounts and early-payment discounts.
// All functions are pure; persistence and currency live in billing.
package fees

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// DiscountPercent is the early-payment discount applied to the first
// programme year when full payment arrives on or before the offer deadline.
const DiscountPercent = 25.0

// DegreeLevel enumerates award levels carried by academic programmes.
type DegreeLevel string

const (
	DegreeCertificate  DegreeLevel = "CERTIFICATE"
	DegreeDiploma      DegreeLevel = "DIPLOMA"
	DegreeBachelor     DegreeLevel = "BACHELOR"
	DegreePostgraduate DegreeLevel = "POSTGRADUATE"
	DegreeMaster       DegreeLevel = "MASTER"
	DegreeDoctorate    DegreeLevel = "DOCTORATE"
)

// Field groups programmes into broad subject areas for pricing.
type Field string

const (
	FieldBusiness   Field = "BUSINESS"
	FieldComputing  Field = "COMPUTING"
	FieldEducation  Field = "EDUCATION"
	FieldHealth     Field = "HEALTH"
	FieldHumanities Field = "HUMANITIES"
	FieldLaw        Field = "LAW"
	FieldScience    Field = "SCIENCE"
)

type rateKey struct {
	level DegreeLevel
	field Field
}

// defaultTuition applies when a level/field combination has no published
// rate. Unknown programmes are priced, never rejected.
const defaultTuition = 4500.0

var tuitionTable = map[rateKey]float64{
	{DegreeCertificate, FieldBusiness}:   1800,
	{DegreeCertificate, FieldComputing}:  2000,
	{DegreeDiploma, FieldBusiness}:       2600,
	{DegreeDiploma, FieldComputing}:      2800,
	{DegreeDiploma, FieldEducation}:      2400,
	{DegreeDiploma, FieldHealth}:         3200,
	{DegreeBachelor, FieldBusiness}:      4200,
	{DegreeBachelor, FieldComputing}:     4600,
	{DegreeBachelor, FieldEducation}:     3800,
	{DegreeBachelor, FieldHealth}:        5400,
	{DegreeBachelor, FieldHumanities}:    3600,
	{DegreeBachelor, FieldLaw}:           5000,
	{DegreeBachelor, FieldScience}:       4400,
	{DegreePostgraduate, FieldBusiness}:  5200,
	{DegreePostgraduate, FieldEducation}: 4600,
	{DegreeMaster, FieldBusiness}:        6200,
	{DegreeMaster, FieldComputing}:       6800,
	{DegreeMaster, FieldHealth}:          7400,
	{DegreeMaster, FieldLaw}:             7000,
	{DegreeMaster, FieldScience}:         6400,
	{DegreeDoctorate, FieldBusiness}:     8800,
	{DegreeDoctorate, FieldScience}:      9200,
}

// Tuition returns the annual tuition for a degree level and subject area.
// It is total: combinations without a published rate fall back to the
// default rate.
func Tuition(level DegreeLevel, field Field) float64 {
	if fee, ok := tuitionTable[rateKey{level, field}]; ok {
		return fee
	}
	return defaultTuition
}

// DiscountedFee returns the fee after applying the early-payment discount,
// rounded to the nearest whole unit.
func DiscountedFee(base float64) float64 {
	return math.Round(base * (1 - DiscountPercent/100))
}

// EarlyPayment reports whether now falls within the early-payment window.
// The deadline day itself still qualifies.
func EarlyPayment(now, deadline time.Time) bool {
	return !now.After(deadline)
}

// ParseProgramYears extracts the duration in years from a free-text
// programme duration such as "3 Years", "2 years" or "1". Unparsable input
// yields one year.
func ParseProgramYears(duration string) int {
	fields := strings.Fields(strings.TrimSpace(duration))
	if len(fields) == 0 {
		return 1
	}
	years, err := strconv.Atoi(fields[0])
	if err != nil || years < 1 {
		return 1
	}
	return years
}

// PayableYears returns the number of years the payer settles now: either a
// single year or the full programme duration.
func PayableYears(payFullProgram bool, programYears int) int {
	if programYears < 1 {
		programYears = 1
	}
	if payFullProgram {
		return programYears
	}
	return 1
}

// Quote prices an enrollment. The early-payment discount applies to the
// first year only; subsequent years are charged at the full annual rate.
func Quote(baseFee float64, years int, early bool) float64 {
	if years < 1 {
		years = 1
	}
	firstYear := baseFee
	if early {
		firstYear = DiscountedFee(baseFee)
	}
	return firstYear + baseFee*float64(years-1)
}
