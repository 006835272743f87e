package admissions

import (
	"time"

	"github.com/google/uuid"

	"github.com/arcadia-sis/arcadia-sis/internal/fees"
)

// CreateApplicationInput carries data for a new application.
type CreateApplicationInput struct {
	StudentID       uuid.UUID
	Program         string
	DegreeLevel     fees.DegreeLevel
	Field           fees.Field
	ProgramDuration string
}

// CreateOfferInput carries data for a new admission offer.
type CreateOfferInput struct {
	ApplicationID   uuid.UUID
	TuitionFee      float64
	Currency        string
	PaymentDeadline time.Time
}

// ListApplicationsRequest filters the application list.
type ListApplicationsRequest struct {
	StudentID uuid.UUID
	Status    ApplicationStatus
	Limit     int
	Offset    int
}
