package housing

import (
	"time"

	"github.com/google/uuid"
)

// ApplicationStatus enumerates housing application states.
type ApplicationStatus string

const (
	ApplicationPending  ApplicationStatus = "PENDING"
	ApplicationApproved ApplicationStatus = "APPROVED"
	ApplicationRejected ApplicationStatus = "REJECTED"
)

// RoomStatus enumerates room availability states.
type RoomStatus string

const (
	RoomAvailable   RoomStatus = "AVAILABLE"
	RoomOccupied    RoomStatus = "OCCUPIED"
	RoomMaintenance RoomStatus = "MAINTENANCE"
)

// AssignmentStatus enumerates room assignment states.
type AssignmentStatus string

const (
	AssignmentActive AssignmentStatus = "ASSIGNED"
	AssignmentEnded  AssignmentStatus = "ENDED"
)

// Building is a residence hall.
type Building struct {
	ID        uuid.UUID
	Name      string
	Address   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Room belongs to one building. MonthlyRate of zero means the campus default
// rate applies at invoicing time.
type Room struct {
	ID          uuid.UUID
	BuildingID  uuid.UUID
	Label       string
	Capacity    int
	MonthlyRate float64
	Status      RoomStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Application is a student's request for campus housing in a semester. At
// most one non-rejected application per student and semester exists.
type Application struct {
	ID        uuid.UUID
	StudentID uuid.UUID
	Semester  string
	Status    ApplicationStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Assignment places an approved application into a room.
type Assignment struct {
	ID            uuid.UUID
	ApplicationID uuid.UUID
	RoomID        uuid.UUID
	Status        AssignmentStatus
	StartedAt     time.Time
	EndedAt       *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
