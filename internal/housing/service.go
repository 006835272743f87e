package housing

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/arcadia-sis/arcadia-sis/internal/authz"
	"github.com/arcadia-sis/arcadia-sis/internal/billing"
	"github.com/arcadia-sis/arcadia-sis/internal/notify"
	"github.com/arcadia-sis/arcadia-sis/internal/shared"
)

var (
	ErrBuildingNotFound     = errors.New("housing: building not found")
	ErrRoomNotFound         = errors.New("housing: room not found")
	ErrApplicationNotFound  = errors.New("housing: application not found")
	ErrAssignmentNotFound   = errors.New("housing: assignment not found")
	ErrDuplicateApplication = errors.New("housing: student already has an open application for this semester")
	ErrRoomUnavailable      = errors.New("housing: room is not available")
	ErrNotApproved          = errors.New("housing: application is not approved")
	ErrNotPending           = errors.New("housing: application is not pending")
)

// RepositoryPort defines data access methods for housing.
type RepositoryPort interface {
	CreateBuilding(ctx context.Context, input CreateBuildingInput) (*Building, error)
	ListBuildings(ctx context.Context) ([]Building, error)
	CreateRoom(ctx context.Context, input CreateRoomInput) (*Room, error)
	GetRoom(ctx context.Context, id uuid.UUID) (*Room, error)
	ListRooms(ctx context.Context, req ListRoomsRequest) ([]Room, error)
	SetRoomStatus(ctx context.Context, id uuid.UUID, status RoomStatus) error

	CreateApplication(ctx context.Context, input SubmitApplicationInput) (*Application, error)
	GetApplication(ctx context.Context, id uuid.UUID) (*Application, error)
	ListApplications(ctx context.Context, req ListApplicationsRequest) ([]Application, int, error)
	HasOpenApplication(ctx context.Context, studentID uuid.UUID, semester string) (bool, error)
	UpdateApplicationStatus(ctx context.Context, id uuid.UUID, from, to ApplicationStatus) error

	AllocateRoom(ctx context.Context, applicationID, roomID uuid.UUID, startedAt time.Time) (*Assignment, error)
	GetActiveAssignment(ctx context.Context, applicationID uuid.UUID) (*Assignment, error)
	EndAssignment(ctx context.Context, assignmentID uuid.UUID, endedAt time.Time) (*Assignment, error)
	DeleteApplicationCascade(ctx context.Context, applicationID uuid.UUID) (*CascadeResult, error)
}

// DepositBiller is the slice of the billing service housing needs to raise
// deposit invoices on submission.
type DepositBiller interface {
	GenerateDepositInvoice(ctx context.Context, studentID, housingApplicationID uuid.UUID) (*billing.Invoice, error)
}

// Service handles housing workflows.
type Service struct {
	repo     RepositoryPort
	biller   DepositBiller
	notifier notify.Dispatcher
	audit    *shared.AuditLogger
	logger   *slog.Logger
	clock    func() time.Time
}

// ServiceConfig collects Service dependencies.
type ServiceConfig struct {
	Repo     RepositoryPort
	Biller   DepositBiller
	Notifier notify.Dispatcher
	Audit    *shared.AuditLogger
	Logger   *slog.Logger
}

// NewService builds a Service instance.
func NewService(cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:     cfg.Repo,
		biller:   cfg.Biller,
		notifier: cfg.Notifier,
		audit:    cfg.Audit,
		logger:   logger,
		clock:    func() time.Time { return time.Now().UTC() },
	}
}

// CreateBuilding registers a residence hall.
func (s *Service) CreateBuilding(ctx context.Context, input CreateBuildingInput) (*Building, error) {
	if input.Name == "" {
		return nil, errors.New("building name required")
	}
	return s.repo.CreateBuilding(ctx, input)
}

// ListBuildings returns all residence halls.
func (s *Service) ListBuildings(ctx context.Context) ([]Building, error) {
	return s.repo.ListBuildings(ctx)
}

// CreateRoom registers a room in a building.
func (s *Service) CreateRoom(ctx context.Context, input CreateRoomInput) (*Room, error) {
	if input.Label == "" {
		return nil, errors.New("room label required")
	}
	if input.Capacity < 1 {
		input.Capacity = 1
	}
	return s.repo.CreateRoom(ctx, input)
}

// ListRooms returns rooms with optional filtering.
func (s *Service) ListRooms(ctx context.Context, req ListRoomsRequest) ([]Room, error) {
	return s.repo.ListRooms(ctx, req)
}

// SetRoomMaintenance takes a room out of circulation or returns it.
func (s *Service) SetRoomMaintenance(ctx context.Context, roomID uuid.UUID, under bool) error {
	room, err := s.repo.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if room.Status == RoomOccupied {
		return ErrRoomUnavailable
	}
	status := RoomAvailable
	if under {
		status = RoomMaintenance
	}
	return s.repo.SetRoomStatus(ctx, roomID, status)
}

// SubmitApplication files a housing application and bills the deposit. The
// application stands even when invoicing fails; the missing invoice is
// recovered by staff raising it manually.
func (s *Service) SubmitApplication(ctx context.Context, input SubmitApplicationInput) (*Application, error) {
	if input.StudentID == uuid.Nil {
		return nil, errors.New("student ID required")
	}
	if input.Semester == "" {
		return nil, errors.New("semester required")
	}
	open, err := s.repo.HasOpenApplication(ctx, input.StudentID, input.Semester)
	if err != nil {
		return nil, err
	}
	if open {
		return nil, ErrDuplicateApplication
	}

	app, err := s.repo.CreateApplication(ctx, input)
	if err != nil {
		return nil, err
	}

	if s.biller != nil {
		if _, err := s.biller.GenerateDepositInvoice(ctx, app.StudentID, app.ID); err != nil {
			s.logger.Error("deposit invoice failed",
				slog.String("housing_application_id", app.ID.String()),
				slog.Any("error", err),
			)
		}
	}
	return app, nil
}

// GetApplicationDetails returns an application with its active assignment and
// room, when allocated.
func (s *Service) GetApplicationDetails(ctx context.Context, id uuid.UUID) (*ApplicationDetails, error) {
	app, err := s.repo.GetApplication(ctx, id)
	if err != nil {
		return nil, err
	}
	details := &ApplicationDetails{Application: *app}

	assignment, err := s.repo.GetActiveAssignment(ctx, id)
	if errors.Is(err, ErrAssignmentNotFound) {
		return details, nil
	}
	if err != nil {
		return nil, err
	}
	details.Assignment = assignment

	room, err := s.repo.GetRoom(ctx, assignment.RoomID)
	if err != nil {
		return nil, err
	}
	details.Room = room
	return details, nil
}

// ListApplications returns housing applications matching the filter and the
// total match count before limit/offset.
func (s *Service) ListApplications(ctx context.Context, req ListApplicationsRequest) ([]Application, int, error) {
	return s.repo.ListApplications(ctx, req)
}

// ApproveApplication approves a pending application without waiting for the
// deposit. The normal path approves automatically on deposit settlement; this
// is the staff override.
func (s *Service) ApproveApplication(ctx context.Context, id uuid.UUID, actor authz.Actor) error {
	if err := s.repo.UpdateApplicationStatus(ctx, id, ApplicationPending, ApplicationApproved); err != nil {
		return err
	}
	s.recordAudit(ctx, actor, "housing.approve", id, nil)
	s.dispatch(ctx, notify.Event{
		Type: notify.EventHousingApproved,
		Data: map[string]any{"housing_application_id": id.String()},
	})
	return nil
}

// RejectApplication rejects a pending application.
func (s *Service) RejectApplication(ctx context.Context, id uuid.UUID, actor authz.Actor) error {
	if err := s.repo.UpdateApplicationStatus(ctx, id, ApplicationPending, ApplicationRejected); err != nil {
		return err
	}
	s.recordAudit(ctx, actor, "housing.reject", id, nil)
	return nil
}

// AllocateRoom places an approved application into an available room. The
// assignment insert and the room flip happen in one transaction.
func (s *Service) AllocateRoom(ctx context.Context, applicationID, roomID uuid.UUID, actor authz.Actor) (*Assignment, error) {
	app, err := s.repo.GetApplication(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	if app.Status != ApplicationApproved {
		return nil, ErrNotApproved
	}

	assignment, err := s.repo.AllocateRoom(ctx, applicationID, roomID, s.clock())
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, actor, "housing.allocate", applicationID, map[string]any{
		"room_id": roomID.String(),
	})
	return assignment, nil
}

// EndAssignment closes an active assignment and frees its room.
func (s *Service) EndAssignment(ctx context.Context, assignmentID uuid.UUID, actor authz.Actor) (*Assignment, error) {
	assignment, err := s.repo.EndAssignment(ctx, assignmentID, s.clock())
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, actor, "housing.end_assignment", assignment.ApplicationID, map[string]any{
		"room_id": assignment.RoomID.String(),
	})
	return assignment, nil
}

// DeleteApplication removes an application and everything hanging off it:
// payments, invoice items, invoices, assignments, and finally the application
// row, freeing any occupied room. One transaction, so a failure midway leaves
// everything in place.
func (s *Service) DeleteApplication(ctx context.Context, id uuid.UUID, actor authz.Actor) (*CascadeResult, error) {
	result, err := s.repo.DeleteApplicationCascade(ctx, id)
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, actor, "housing.delete", id, map[string]any{
		"invoices_removed":    result.Invoices,
		"payments_removed":    result.Payments,
		"assignments_removed": result.Assignments,
	})
	return result, nil
}

func (s *Service) dispatch(ctx context.Context, ev notify.Event) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Dispatch(ctx, ev); err != nil {
		s.logger.Error("notification failed", slog.String("type", ev.Type), slog.Any("error", err))
	}
}

func (s *Service) recordAudit(ctx context.Context, actor authz.Actor, action string, entityID uuid.UUID, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actor.UserID,
		Action:   action,
		Entity:   "housing",
		EntityID: entityID.String(),
		Meta:     meta,
	}); err != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}
