package housing

import "github.com/google/uuid"

// CreateBuildingInput carries data for a new building.
type CreateBuildingInput struct {
	Name    string
	Address string
}

// CreateRoomInput carries data for a new room.
type CreateRoomInput struct {
	BuildingID  uuid.UUID
	Label       string
	Capacity    int
	MonthlyRate float64
}

// SubmitApplicationInput carries data for a new housing application.
type SubmitApplicationInput struct {
	StudentID uuid.UUID
	Semester  string
}

// ListApplicationsRequest filters the housing application list.
type ListApplicationsRequest struct {
	StudentID uuid.UUID
	Semester  string
	Status    ApplicationStatus
	Limit     int
	Offset    int
}

// ListRoomsRequest filters the room list.
type ListRoomsRequest struct {
	BuildingID uuid.UUID
	Status     RoomStatus
}

// ApplicationDetails bundles an application with its assignment and room,
// when allocated.
type ApplicationDetails struct {
	Application Application
	Assignment  *Assignment
	Room        *Room
}

// CascadeResult reports what a full application delete removed.
type CascadeResult struct {
	Payments    int64
	Items       int64
	Invoices    int64
	Assignments int64
	AuditRows   int64
	RoomsFreed  int64
}
