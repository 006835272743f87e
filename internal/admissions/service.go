package admissions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/arcadia-sis/arcadia-sis/internal/authz"
	"github.com/arcadia-sis/arcadia-sis/internal/billing"
	"github.com/arcadia-sis/arcadia-sis/internal/fees"
	"github.com/arcadia-sis/arcadia-sis/internal/notify"
	"github.com/arcadia-sis/arcadia-sis/internal/shared"
)

var (
	ErrApplicationNotFound = errors.New("admissions: application not found")
	ErrOfferNotFound       = errors.New("admissions: offer not found")
	ErrOfferNotPending     = errors.New("admissions: offer is no longer pending")
	ErrInvalidTransition   = errors.New("admissions: invalid status transition")
)

// RepositoryPort defines data access methods for admissions.
type RepositoryPort interface {
	CreateApplication(ctx context.Context, input CreateApplicationInput) (*Application, error)
	GetApplication(ctx context.Context, id uuid.UUID) (*Application, error)
	ListApplications(ctx context.Context, req ListApplicationsRequest) ([]Application, int, error)
	UpdateApplicationStatus(ctx context.Context, id uuid.UUID, from []ApplicationStatus, to ApplicationStatus) error
	CreateOffer(ctx context.Context, input CreateOfferInput) (*AdmissionOffer, error)
	GetOffer(ctx context.Context, id uuid.UUID) (*AdmissionOffer, error)
	GetPendingOfferForApplication(ctx context.Context, applicationID uuid.UUID) (*AdmissionOffer, error)
	RespondToOffer(ctx context.Context, offerID uuid.UUID, offerStatus OfferStatus, applicationStatus ApplicationStatus) (*AdmissionOffer, error)
}

// InvoiceCreator is the slice of the billing service admissions needs to
// raise tuition invoices.
type InvoiceCreator interface {
	CreateInvoice(ctx context.Context, input billing.CreateInvoiceInput) (*billing.Invoice, error)
}

// Service handles admission workflows.
type Service struct {
	repo     RepositoryPort
	invoices InvoiceCreator
	notifier notify.Dispatcher
	audit    *shared.AuditLogger
	logger   *slog.Logger
	clock    func() time.Time
}

// ServiceConfig collects Service dependencies.
type ServiceConfig struct {
	Repo     RepositoryPort
	Invoices InvoiceCreator
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
		invoices: cfg.Invoices,
		notifier: cfg.Notifier,
		audit:    cfg.Audit,
		logger:   logger,
		clock:    func() time.Time { return time.Now().UTC() },
	}
}

// SubmitApplication records a new application in SUBMITTED.
func (s *Service) SubmitApplication(ctx context.Context, input CreateApplicationInput) (*Application, error) {
	if input.StudentID == uuid.Nil {
		return nil, errors.New("student ID required")
	}
	if input.Program == "" {
		return nil, errors.New("program required")
	}
	return s.repo.CreateApplication(ctx, input)
}

// GetApplication returns one application.
func (s *Service) GetApplication(ctx context.Context, id uuid.UUID) (*Application, error) {
	return s.repo.GetApplication(ctx, id)
}

// ListApplications returns applications matching the filter and the total
// match count before limit/offset.
func (s *Service) ListApplications(ctx context.Context, req ListApplicationsRequest) ([]Application, int, error) {
	return s.repo.ListApplications(ctx, req)
}

// ReviewApplication moves a submitted application into review.
func (s *Service) ReviewApplication(ctx context.Context, id uuid.UUID, actor authz.Actor) error {
	return s.transition(ctx, id, StatusUnderReview, actor)
}

// AdmitApplication admits an application.
func (s *Service) AdmitApplication(ctx context.Context, id uuid.UUID, actor authz.Actor) error {
	return s.transition(ctx, id, StatusAdmitted, actor)
}

// RejectApplication rejects an application.
func (s *Service) RejectApplication(ctx context.Context, id uuid.UUID, actor authz.Actor) error {
	return s.transition(ctx, id, StatusRejected, actor)
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, to ApplicationStatus, actor authz.Actor) error {
	app, err := s.repo.GetApplication(ctx, id)
	if err != nil {
		return err
	}
	if !CanTransition(app.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, app.Status, to)
	}
	if err := s.repo.UpdateApplicationStatus(ctx, id, []ApplicationStatus{app.Status}, to); err != nil {
		return err
	}
	s.recordAudit(ctx, actor, "application."+string(to), app.ID, map[string]any{"from": string(app.Status)})
	return nil
}

// CreateOffer issues an admission offer against an ADMITTED application. The
// tuition fee comes from the published rate table for the programme.
func (s *Service) CreateOffer(ctx context.Context, applicationID uuid.UUID, deadline time.Time, actor authz.Actor) (*AdmissionOffer, error) {
	app, err := s.repo.GetApplication(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	if app.Status != StatusAdmitted {
		return nil, fmt.Errorf("%w: offer requires ADMITTED application", ErrInvalidTransition)
	}
	offer, err := s.repo.CreateOffer(ctx, CreateOfferInput{
		ApplicationID:   app.ID,
		TuitionFee:      fees.Tuition(app.DegreeLevel, app.Field),
		Currency:        billing.DefaultCurrency,
		PaymentDeadline: deadline,
	})
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, actor, "offer.create", offer.ID, map[string]any{
		"application_id": app.ID.String(),
		"tuition_fee":    offer.TuitionFee,
	})
	return offer, nil
}

// RespondToOffer applies a student's decision to a PENDING offer and mirrors
// it onto the application. Responding to a non-pending offer fails; a
// decline is absorbing.
func (s *Service) RespondToOffer(ctx context.Context, offerID uuid.UUID, action OfferAction, actor authz.Actor) (*AdmissionOffer, error) {
	var offerStatus OfferStatus
	var appStatus ApplicationStatus
	switch action {
	case ActionAccept:
		offerStatus, appStatus = OfferAccepted, StatusOfferAccepted
	case ActionDecline:
		offerStatus, appStatus = OfferDeclined, StatusOfferDeclined
	default:
		return nil, fmt.Errorf("unknown offer action %q", action)
	}

	offer, err := s.repo.RespondToOffer(ctx, offerID, offerStatus, appStatus)
	if err != nil {
		return nil, err
	}

	s.recordAudit(ctx, actor, "offer."+string(offerStatus), offer.ID, map[string]any{
		"application_id": offer.ApplicationID.String(),
	})
	s.dispatch(ctx, notify.Event{
		Type:          notify.EventOfferResponse,
		ApplicationID: offer.ApplicationID.String(),
		Data:          map[string]any{"decision": string(offerStatus)},
	})
	return offer, nil
}

// AcceptOffer accepts the pending offer of an application (letter-page path).
func (s *Service) AcceptOffer(ctx context.Context, applicationID uuid.UUID, actor authz.Actor) (*AdmissionOffer, error) {
	return s.respondByApplication(ctx, applicationID, ActionAccept, actor)
}

// DeclineOffer declines the pending offer of an application. There is no way
// back: the application lands in its terminal OFFER_DECLINED state.
func (s *Service) DeclineOffer(ctx context.Context, applicationID uuid.UUID, actor authz.Actor) (*AdmissionOffer, error) {
	return s.respondByApplication(ctx, applicationID, ActionDecline, actor)
}

func (s *Service) respondByApplication(ctx context.Context, applicationID uuid.UUID, action OfferAction, actor authz.Actor) (*AdmissionOffer, error) {
	offer, err := s.repo.GetPendingOfferForApplication(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	return s.RespondToOffer(ctx, offer.ID, action, actor)
}

// QuoteEnrollment prices an offer for the chosen payment span. The discount
// applies to the first year only, and only inside the early-payment window.
func (s *Service) QuoteEnrollment(ctx context.Context, offerID uuid.UUID, payFullProgram bool) (*EnrollmentQuote, error) {
	offer, err := s.repo.GetOffer(ctx, offerID)
	if err != nil {
		return nil, err
	}
	app, err := s.repo.GetApplication(ctx, offer.ApplicationID)
	if err != nil {
		return nil, err
	}

	years := fees.PayableYears(payFullProgram, fees.ParseProgramYears(app.ProgramDuration))
	early := fees.EarlyPayment(s.clock(), offer.PaymentDeadline)
	return &EnrollmentQuote{
		OfferID:      offer.ID,
		BaseFee:      offer.TuitionFee,
		Years:        years,
		EarlyPayment: early,
		Total:        fees.Quote(offer.TuitionFee, years, early),
	}, nil
}

// CreateTuitionInvoice raises the tuition invoice for an accepted offer,
// priced by QuoteEnrollment and due at the offer deadline.
func (s *Service) CreateTuitionInvoice(ctx context.Context, offerID uuid.UUID, payFullProgram bool, actor authz.Actor) (*billing.Invoice, error) {
	if s.invoices == nil {
		return nil, errors.New("invoice creator not configured")
	}
	offer, err := s.repo.GetOffer(ctx, offerID)
	if err != nil {
		return nil, err
	}
	if offer.Status != OfferAccepted {
		return nil, fmt.Errorf("%w: tuition invoice requires an accepted offer", ErrInvalidTransition)
	}
	app, err := s.repo.GetApplication(ctx, offer.ApplicationID)
	if err != nil {
		return nil, err
	}
	quote, err := s.QuoteEnrollment(ctx, offerID, payFullProgram)
	if err != nil {
		return nil, err
	}

	appID := app.ID
	description := fmt.Sprintf("Tuition %s (%d year(s))", app.Program, quote.Years)
	inv, err := s.invoices.CreateInvoice(ctx, billing.CreateInvoiceInput{
		StudentID:     app.StudentID,
		ApplicationID: &appID,
		Currency:      offer.Currency,
		DueAt:         offer.PaymentDeadline,
		Items: []billing.InvoiceItemInput{{
			Description: description,
			Category:    billing.ItemTuition,
			Amount:      quote.Total,
			Quantity:    1,
		}},
	})
	if err != nil {
		return nil, fmt.Errorf("create tuition invoice: %w", err)
	}
	s.recordAudit(ctx, actor, "invoice.tuition", inv.ID, map[string]any{
		"offer_id": offer.ID.String(),
		"total":    inv.Total,
	})
	return inv, nil
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
		Entity:   "admissions",
		EntityID: entityID.String(),
		Meta:     meta,
	}); err != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}
