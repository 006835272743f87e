package admissions

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/arcadia-sis/arcadia-sis/internal/authz"
	"github.com/arcadia-sis/arcadia-sis/internal/billing"
	"github.com/arcadia-sis/arcadia-sis/internal/fees"
	"github.com/arcadia-sis/arcadia-sis/internal/notify"
)

type memoryRepo struct {
	applications map[uuid.UUID]*Application
	offers       map[uuid.UUID]*AdmissionOffer
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		applications: make(map[uuid.UUID]*Application),
		offers:       make(map[uuid.UUID]*AdmissionOffer),
	}
}

func (m *memoryRepo) CreateApplication(_ context.Context, input CreateApplicationInput) (*Application, error) {
	app := &Application{
		ID:              uuid.New(),
		StudentID:       input.StudentID,
		Program:         input.Program,
		DegreeLevel:     input.DegreeLevel,
		Field:           input.Field,
		ProgramDuration: input.ProgramDuration,
		Status:          StatusSubmitted,
	}
	m.applications[app.ID] = app
	return app, nil
}

func (m *memoryRepo) GetApplication(_ context.Context, id uuid.UUID) (*Application, error) {
	app, ok := m.applications[id]
	if !ok {
		return nil, ErrApplicationNotFound
	}
	copied := *app
	return &copied, nil
}

func (m *memoryRepo) ListApplications(_ context.Context, req ListApplicationsRequest) ([]Application, int, error) {
	var out []Application
	for _, app := range m.applications {
		if req.StudentID != uuid.Nil && app.StudentID != req.StudentID {
			continue
		}
		if req.Status != "" && app.Status != req.Status {
			continue
		}
		out = append(out, *app)
	}
	total := len(out)
	if req.Offset > 0 {
		if req.Offset >= len(out) {
			out = nil
		} else {
			out = out[req.Offset:]
		}
	}
	if req.Limit > 0 && len(out) > req.Limit {
		out = out[:req.Limit]
	}
	return out, total, nil
}

func (m *memoryRepo) UpdateApplicationStatus(_ context.Context, id uuid.UUID, from []ApplicationStatus, to ApplicationStatus) error {
	app, ok := m.applications[id]
	if !ok {
		return ErrApplicationNotFound
	}
	for _, f := range from {
		if app.Status == f {
			app.Status = to
			return nil
		}
	}
	return fmt.Errorf("%w: application %s no longer in expected status", ErrInvalidTransition, id)
}

func (m *memoryRepo) CreateOffer(_ context.Context, input CreateOfferInput) (*AdmissionOffer, error) {
	offer := &AdmissionOffer{
		ID:              uuid.New(),
		ApplicationID:   input.ApplicationID,
		TuitionFee:      input.TuitionFee,
		Currency:        input.Currency,
		PaymentDeadline: input.PaymentDeadline,
		Status:          OfferPending,
	}
	m.offers[offer.ID] = offer
	return offer, nil
}

func (m *memoryRepo) GetOffer(_ context.Context, id uuid.UUID) (*AdmissionOffer, error) {
	offer, ok := m.offers[id]
	if !ok {
		return nil, ErrOfferNotFound
	}
	copied := *offer
	return &copied, nil
}

func (m *memoryRepo) GetPendingOfferForApplication(_ context.Context, applicationID uuid.UUID) (*AdmissionOffer, error) {
	for _, offer := range m.offers {
		if offer.ApplicationID == applicationID && offer.Status == OfferPending {
			copied := *offer
			return &copied, nil
		}
	}
	return nil, ErrOfferNotFound
}

func (m *memoryRepo) RespondToOffer(_ context.Context, offerID uuid.UUID, offerStatus OfferStatus, applicationStatus ApplicationStatus) (*AdmissionOffer, error) {
	offer, ok := m.offers[offerID]
	if !ok {
		return nil, ErrOfferNotFound
	}
	if offer.Status != OfferPending {
		return nil, ErrOfferNotPending
	}
	app, ok := m.applications[offer.ApplicationID]
	if !ok {
		return nil, ErrApplicationNotFound
	}
	if app.Status != StatusAdmitted {
		return nil, fmt.Errorf("%w: application %s not in ADMITTED", ErrInvalidTransition, app.ID)
	}
	offer.Status = offerStatus
	app.Status = applicationStatus
	copied := *offer
	return &copied, nil
}

type captureDispatcher struct {
	events []notify.Event
}

func (c *captureDispatcher) Dispatch(_ context.Context, ev notify.Event) error {
	c.events = append(c.events, ev)
	return nil
}

type captureInvoices struct {
	inputs []billing.CreateInvoiceInput
}

func (c *captureInvoices) CreateInvoice(_ context.Context, input billing.CreateInvoiceInput) (*billing.Invoice, error) {
	c.inputs = append(c.inputs, input)
	total := 0.0
	for _, item := range input.Items {
		total += item.Amount * float64(item.Quantity)
	}
	return &billing.Invoice{
		ID:            uuid.New(),
		StudentID:     input.StudentID,
		ApplicationID: input.ApplicationID,
		Currency:      input.Currency,
		Total:         total,
		Status:        billing.InvoicePending,
		DueAt:         input.DueAt,
	}, nil
}

var testNow = time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) (*Service, *memoryRepo, *captureDispatcher, *captureInvoices) {
	t.Helper()
	repo := newMemoryRepo()
	dispatcher := &captureDispatcher{}
	invoices := &captureInvoices{}
	svc := NewService(ServiceConfig{
		Repo:     repo,
		Invoices: invoices,
		Notifier: dispatcher,
	})
	svc.clock = func() time.Time { return testNow }
	return svc, repo, dispatcher, invoices
}

func staff() authz.Actor {
	return authz.Actor{UserID: uuid.New(), Role: authz.RoleRegistrar}
}

func submitTestApplication(t *testing.T, svc *Service, duration string) *Application {
	t.Helper()
	app, err := svc.SubmitApplication(context.Background(), CreateApplicationInput{
		StudentID:       uuid.New(),
		Program:         "BSc Computing",
		DegreeLevel:     fees.DegreeBachelor,
		Field:           fees.FieldComputing,
		ProgramDuration: duration,
	})
	require.NoError(t, err)
	return app
}

func TestApplicationLifecycle(t *testing.T) {
	svc, repo, _, _ := newTestService(t)
	ctx := context.Background()
	actor := staff()

	app := submitTestApplication(t, svc, "3 Years")
	require.Equal(t, StatusSubmitted, app.Status)

	require.NoError(t, svc.ReviewApplication(ctx, app.ID, actor))
	require.NoError(t, svc.AdmitApplication(ctx, app.ID, actor))
	require.Equal(t, StatusAdmitted, repo.applications[app.ID].Status)

	// Admitting twice is an illegal move.
	err := svc.AdmitApplication(ctx, app.ID, actor)
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestRejectFromReview(t *testing.T) {
	svc, repo, _, _ := newTestService(t)
	ctx := context.Background()
	actor := staff()

	app := submitTestApplication(t, svc, "1 Year")
	require.NoError(t, svc.ReviewApplication(ctx, app.ID, actor))
	require.NoError(t, svc.RejectApplication(ctx, app.ID, actor))
	require.Equal(t, StatusRejected, repo.applications[app.ID].Status)

	// Rejection is terminal.
	require.ErrorIs(t, svc.ReviewApplication(ctx, app.ID, actor), ErrInvalidTransition)
}

func TestCreateOfferRequiresAdmitted(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()
	actor := staff()

	app := submitTestApplication(t, svc, "3 Years")
	_, err := svc.CreateOffer(ctx, app.ID, testNow.AddDate(0, 1, 0), actor)
	require.ErrorIs(t, err, ErrInvalidTransition)

	require.NoError(t, svc.AdmitApplication(ctx, app.ID, actor))
	offer, err := svc.CreateOffer(ctx, app.ID, testNow.AddDate(0, 1, 0), actor)
	require.NoError(t, err)
	require.Equal(t, OfferPending, offer.Status)
	require.Equal(t, 4600.0, offer.TuitionFee)
	require.Equal(t, billing.DefaultCurrency, offer.Currency)
}

func TestAcceptOffer(t *testing.T) {
	svc, repo, dispatcher, _ := newTestService(t)
	ctx := context.Background()
	actor := staff()

	app := submitTestApplication(t, svc, "3 Years")
	require.NoError(t, svc.AdmitApplication(ctx, app.ID, actor))
	offer, err := svc.CreateOffer(ctx, app.ID, testNow.AddDate(0, 1, 0), actor)
	require.NoError(t, err)

	accepted, err := svc.AcceptOffer(ctx, app.ID, authz.Actor{UserID: uuid.New(), StudentID: app.StudentID, Role: authz.RoleStudent})
	require.NoError(t, err)
	require.Equal(t, OfferAccepted, accepted.Status)
	require.Equal(t, StatusOfferAccepted, repo.applications[app.ID].Status)

	require.Len(t, dispatcher.events, 1)
	require.Equal(t, notify.EventOfferResponse, dispatcher.events[0].Type)

	// Second response hits the at-most-once gate.
	_, err = svc.RespondToOffer(ctx, offer.ID, ActionDecline, actor)
	require.ErrorIs(t, err, ErrOfferNotPending)
}

func TestDeclineOfferIsTerminal(t *testing.T) {
	svc, repo, _, _ := newTestService(t)
	ctx := context.Background()
	actor := staff()

	app := submitTestApplication(t, svc, "2 Years")
	require.NoError(t, svc.AdmitApplication(ctx, app.ID, actor))
	_, err := svc.CreateOffer(ctx, app.ID, testNow.AddDate(0, 1, 0), actor)
	require.NoError(t, err)

	declined, err := svc.DeclineOffer(ctx, app.ID, actor)
	require.NoError(t, err)
	require.Equal(t, OfferDeclined, declined.Status)
	require.Equal(t, StatusOfferDeclined, repo.applications[app.ID].Status)

	_, err = svc.AcceptOffer(ctx, app.ID, actor)
	require.ErrorIs(t, err, ErrOfferNotFound)
}

func TestQuoteEnrollment(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()
	actor := staff()

	app := submitTestApplication(t, svc, "3 Years")
	require.NoError(t, svc.AdmitApplication(ctx, app.ID, actor))
	offer, err := svc.CreateOffer(ctx, app.ID, testNow.AddDate(0, 0, 14), actor)
	require.NoError(t, err)

	// Inside the window, single year: discounted first year only.
	quote, err := svc.QuoteEnrollment(ctx, offer.ID, false)
	require.NoError(t, err)
	require.True(t, quote.EarlyPayment)
	require.Equal(t, 1, quote.Years)
	require.Equal(t, 3450.0, quote.Total)

	// Full programme: discount still covers the first year only.
	quote, err = svc.QuoteEnrollment(ctx, offer.ID, true)
	require.NoError(t, err)
	require.Equal(t, 3, quote.Years)
	require.Equal(t, 3450.0+4600.0*2, quote.Total)
}

func TestQuoteAfterDeadline(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()
	actor := staff()

	app := submitTestApplication(t, svc, "3 Years")
	require.NoError(t, svc.AdmitApplication(ctx, app.ID, actor))
	offer, err := svc.CreateOffer(ctx, app.ID, testNow.AddDate(0, 0, -1), actor)
	require.NoError(t, err)

	quote, err := svc.QuoteEnrollment(ctx, offer.ID, false)
	require.NoError(t, err)
	require.False(t, quote.EarlyPayment)
	require.Equal(t, 4600.0, quote.Total)
}

func TestCreateTuitionInvoice(t *testing.T) {
	svc, _, _, invoices := newTestService(t)
	ctx := context.Background()
	actor := staff()

	app := submitTestApplication(t, svc, "3 Years")
	require.NoError(t, svc.AdmitApplication(ctx, app.ID, actor))
	offer, err := svc.CreateOffer(ctx, app.ID, testNow.AddDate(0, 0, 14), actor)
	require.NoError(t, err)

	// Before acceptance the invoice is refused.
	_, err = svc.CreateTuitionInvoice(ctx, offer.ID, true, actor)
	require.ErrorIs(t, err, ErrInvalidTransition)

	_, err = svc.AcceptOffer(ctx, app.ID, actor)
	require.NoError(t, err)

	inv, err := svc.CreateTuitionInvoice(ctx, offer.ID, true, actor)
	require.NoError(t, err)
	require.Equal(t, app.StudentID, inv.StudentID)
	require.NotNil(t, inv.ApplicationID)
	require.Equal(t, app.ID, *inv.ApplicationID)
	require.Equal(t, 3450.0+4600.0*2, inv.Total)

	require.Len(t, invoices.inputs, 1)
	input := invoices.inputs[0]
	require.Len(t, input.Items, 1)
	require.Equal(t, billing.ItemTuition, input.Items[0].Category)
	require.Equal(t, offer.PaymentDeadline, input.DueAt)
}
