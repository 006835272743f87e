package admissions

import (
	"time"

	"github.com/google/uuid"

	"github.com/arcadia-sis/arcadia-sis/internal/fees"
)

// ApplicationStatus enumerates admission application states.
type ApplicationStatus string

const (
	StatusSubmitted        ApplicationStatus = "SUBMITTED"
	StatusUnderReview      ApplicationStatus = "UNDER_REVIEW"
	StatusAdmitted         ApplicationStatus = "ADMITTED"
	StatusRejected         ApplicationStatus = "REJECTED"
	StatusOfferAccepted    ApplicationStatus = "OFFER_ACCEPTED"
	StatusOfferDeclined    ApplicationStatus = "OFFER_DECLINED"
	StatusPaymentSubmitted ApplicationStatus = "PAYMENT_SUBMITTED"
	StatusEnrolled         ApplicationStatus = "ENROLLED"
)

// legalTransitions is the table of allowed application status moves. Any
// write outside this table is rejected; ENROLLED, OFFER_DECLINED and
// REJECTED are terminal.
var legalTransitions = map[ApplicationStatus][]ApplicationStatus{
	StatusSubmitted:        {StatusUnderReview, StatusAdmitted, StatusRejected},
	StatusUnderReview:      {StatusAdmitted, StatusRejected},
	StatusAdmitted:         {StatusOfferAccepted, StatusOfferDeclined},
	StatusOfferAccepted:    {StatusPaymentSubmitted, StatusEnrolled},
	StatusPaymentSubmitted: {StatusEnrolled},
}

// CanTransition reports whether from -> to is a legal application move.
func CanTransition(from, to ApplicationStatus) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// OfferStatus enumerates admission offer states.
type OfferStatus string

const (
	OfferPending  OfferStatus = "PENDING"
	OfferAccepted OfferStatus = "ACCEPTED"
	OfferDeclined OfferStatus = "DECLINED"
)

// OfferAction is a student's response to a pending offer.
type OfferAction string

const (
	ActionAccept  OfferAction = "ACCEPT"
	ActionDecline OfferAction = "DECLINE"
)

// Application is an admission application.
type Application struct {
	ID              uuid.UUID
	StudentID       uuid.UUID
	Program         string
	DegreeLevel     fees.DegreeLevel
	Field           fees.Field
	ProgramDuration string
	Status          ApplicationStatus
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// AdmissionOffer carries the base (undiscounted) tuition and the payment
// deadline that drives the early-payment discount.
type AdmissionOffer struct {
	ID              uuid.UUID
	ApplicationID   uuid.UUID
	TuitionFee      float64
	Currency        string
	PaymentDeadline time.Time
	Status          OfferStatus
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// EnrollmentQuote prices an offer for a chosen payment span.
type EnrollmentQuote struct {
	OfferID      uuid.UUID
	BaseFee      float64
	Years        int
	EarlyPayment bool
	Total        float64
}
