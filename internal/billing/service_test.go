package billing

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/arcadia-sis/arcadia-sis/internal/authz"
	"github.com/arcadia-sis/arcadia-sis/internal/notify"
	"github.com/arcadia-sis/arcadia-sis/internal/shared"
)

type memoryRepo struct {
	invoices      map[uuid.UUID]*Invoice
	items         map[uuid.UUID][]InvoiceItem
	payments      map[uuid.UUID]*Payment
	byTransaction map[string]uuid.UUID
	housingStatus map[uuid.UUID]string
	appStatus     map[uuid.UUID]string
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		invoices:      make(map[uuid.UUID]*Invoice),
		items:         make(map[uuid.UUID][]InvoiceItem),
		payments:      make(map[uuid.UUID]*Payment),
		byTransaction: make(map[string]uuid.UUID),
		housingStatus: make(map[uuid.UUID]string),
		appStatus:     make(map[uuid.UUID]string),
	}
}

func (r *memoryRepo) CreateInvoice(ctx context.Context, input CreateInvoiceInput, total float64) (*Invoice, error) {
	now := time.Now()
	inv := &Invoice{
		ID:                   uuid.New(),
		StudentID:            input.StudentID,
		ApplicationID:        input.ApplicationID,
		HousingApplicationID: input.HousingApplicationID,
		Reference:            input.Reference,
		Currency:             input.Currency,
		Total:                total,
		Paid:                 0,
		Status:               InvoicePending,
		DueAt:                input.DueAt,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	r.invoices[inv.ID] = inv
	for _, item := range input.Items {
		r.items[inv.ID] = append(r.items[inv.ID], InvoiceItem{
			ID:          uuid.New(),
			InvoiceID:   inv.ID,
			Description: item.Description,
			Category:    item.Category,
			Amount:      item.Amount,
			Quantity:    item.Quantity,
			CreatedAt:   now,
		})
	}
	return inv, nil
}

func (r *memoryRepo) GetInvoice(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	inv, ok := r.invoices[id]
	if !ok {
		return nil, ErrInvoiceNotFound
	}
	copied := *inv
	return &copied, nil
}

func (r *memoryRepo) ListInvoices(ctx context.Context, req ListInvoicesRequest) ([]Invoice, int, error) {
	var out []Invoice
	for _, inv := range r.invoices {
		if req.StudentID != uuid.Nil && inv.StudentID != req.StudentID {
			continue
		}
		if req.Status != "" && inv.Status != req.Status {
			continue
		}
		out = append(out, *inv)
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

func (r *memoryRepo) ListInvoiceItems(ctx context.Context, invoiceID uuid.UUID) ([]InvoiceItem, error) {
	return r.items[invoiceID], nil
}

func (r *memoryRepo) ListInvoicePayments(ctx context.Context, invoiceID uuid.UUID) ([]Payment, error) {
	var out []Payment
	for _, p := range r.payments {
		if p.InvoiceID == invoiceID {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (r *memoryRepo) HasInvoiceWithPrefix(ctx context.Context, studentID uuid.UUID, prefix string) (bool, error) {
	for _, inv := range r.invoices {
		if inv.StudentID == studentID && len(inv.Reference) >= len(prefix) && inv.Reference[:len(prefix)] == prefix {
			return true, nil
		}
	}
	return false, nil
}

func (r *memoryRepo) CreatePayment(ctx context.Context, input CreatePaymentInput) (*Payment, error) {
	now := time.Now()
	p := &Payment{
		ID:             uuid.New(),
		InvoiceID:      input.InvoiceID,
		Amount:         input.Amount,
		Currency:       input.Currency,
		Method:         input.Method,
		BillingCountry: input.BillingCountry,
		TransactionID:  input.TransactionID,
		Status:         PaymentPending,
		Metadata:       map[string]any{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	r.payments[p.ID] = p
	r.byTransaction[p.TransactionID] = p.ID
	return p, nil
}

func (r *memoryRepo) GetPayment(ctx context.Context, id uuid.UUID) (*Payment, error) {
	p, ok := r.payments[id]
	if !ok {
		return nil, ErrPaymentNotFound
	}
	copied := *p
	return &copied, nil
}

func (r *memoryRepo) SettlePayment(ctx context.Context, input SettlePaymentInput) (*SettlementOutcome, error) {
	var payment *Payment
	if input.TransactionID != "" {
		id, ok := r.byTransaction[input.TransactionID]
		if !ok {
			return nil, ErrPaymentNotFound
		}
		payment = r.payments[id]
	} else {
		p, ok := r.payments[input.PaymentID]
		if !ok {
			return nil, ErrPaymentNotFound
		}
		payment = p
	}

	inv := r.invoices[payment.InvoiceID]
	if payment.Status == PaymentCompleted {
		copied := *inv
		settled := *payment
		return &SettlementOutcome{
			Payment:          &settled,
			Invoice:          &copied,
			AlreadyCompleted: true,
			FullyPaid:        inv.Status == InvoicePaid,
		}, nil
	}

	if payment.Amount > inv.Total-inv.Paid {
		return nil, ErrOverpayment
	}

	payment.Status = PaymentCompleted
	payment.Verified = input.Verified
	paidAt := input.Now
	payment.PaidAt = &paidAt
	for k, v := range input.Metadata {
		payment.Metadata[k] = v
	}

	inv.Paid += payment.Amount
	inv.Status = DeriveInvoiceStatus(inv.Paid, inv.Total)
	fullyPaid := inv.Status == InvoicePaid
	r.propagate(inv, fullyPaid)

	copied := *inv
	settled := *payment
	return &SettlementOutcome{Payment: &settled, Invoice: &copied, FullyPaid: fullyPaid}, nil
}

func (r *memoryRepo) CreateSettledPayment(ctx context.Context, input CreatePaymentInput, metadata map[string]any, now time.Time) (*SettlementOutcome, error) {
	inv := r.invoices[input.InvoiceID]
	if inv == nil {
		return nil, ErrInvoiceNotFound
	}
	if input.Amount > inv.Total-inv.Paid {
		return nil, ErrOverpayment
	}
	p := &Payment{
		ID:            uuid.New(),
		InvoiceID:     input.InvoiceID,
		Amount:        input.Amount,
		Currency:      input.Currency,
		Method:        input.Method,
		TransactionID: input.TransactionID,
		Status:        PaymentCompleted,
		Verified:      true,
		Metadata:      metadata,
		PaidAt:        &now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	r.payments[p.ID] = p
	r.byTransaction[p.TransactionID] = p.ID

	inv.Paid += input.Amount
	inv.Status = DeriveInvoiceStatus(inv.Paid, inv.Total)
	fullyPaid := inv.Status == InvoicePaid
	r.propagate(inv, fullyPaid)

	copied := *inv
	return &SettlementOutcome{Payment: p, Invoice: &copied, FullyPaid: fullyPaid}, nil
}

func (r *memoryRepo) propagate(inv *Invoice, fullyPaid bool) {
	if inv.HousingApplicationID != nil && fullyPaid {
		if r.housingStatus[*inv.HousingApplicationID] == "PENDING" {
			r.housingStatus[*inv.HousingApplicationID] = "APPROVED"
		}
	}
	if inv.ApplicationID != nil {
		current := r.appStatus[*inv.ApplicationID]
		if fullyPaid && (current == "OFFER_ACCEPTED" || current == "PAYMENT_SUBMITTED") {
			r.appStatus[*inv.ApplicationID] = "ENROLLED"
		} else if !fullyPaid && current == "OFFER_ACCEPTED" {
			r.appStatus[*inv.ApplicationID] = "PAYMENT_SUBMITTED"
		}
	}
}

type captureDispatcher struct {
	events []notify.Event
}

func (d *captureDispatcher) Dispatch(ctx context.Context, ev notify.Event) error {
	d.events = append(d.events, ev)
	return nil
}

type memoryIdempotency struct {
	keys map[string]struct{}
}

func (m *memoryIdempotency) CheckAndInsert(ctx context.Context, key, module string) error {
	if m.keys == nil {
		m.keys = make(map[string]struct{})
	}
	if _, ok := m.keys[key]; ok {
		return shared.ErrIdempotencyConflict
	}
	m.keys[key] = struct{}{}
	return nil
}

func (m *memoryIdempotency) Delete(ctx context.Context, key string) error {
	delete(m.keys, key)
	return nil
}

type staticAssignments struct {
	candidates []RentCandidate
}

func (s staticAssignments) ListRentCandidates(ctx context.Context) ([]RentCandidate, error) {
	return s.candidates, nil
}

func newTestService(repo RepositoryPort, assignments AssignmentSource, dispatcher notify.Dispatcher, idem IdempotencyChecker) *Service {
	svc := NewService(ServiceConfig{
		Repo:        repo,
		Assignments: assignments,
		Notifier:    dispatcher,
		Idempotency: idem,
		BaseURL:     "https://portal.arcadia.test",
	})
	svc.clock = func() time.Time { return time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC) }
	return svc
}

func adminActor() authz.Actor {
	return authz.Actor{UserID: uuid.New(), Role: authz.RoleAdmin}
}

func TestCreateInvoiceComputesTotal(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo()
	svc := newTestService(repo, nil, nil, nil)

	inv, err := svc.CreateInvoice(ctx, CreateInvoiceInput{
		StudentID: uuid.New(),
		Items: []InvoiceItemInput{
			{Description: "Housing deposit", Category: ItemHousingDeposit, Amount: 500, Quantity: 1},
		},
	})
	require.NoError(t, err)
	require.Equal(t, 500.0, inv.Total)
	require.Equal(t, InvoicePending, inv.Status)
	require.Regexp(t, `^INV-2026-\d{4}$`, inv.Reference)

	items := repo.items[inv.ID]
	require.Len(t, items, 1)
	require.Equal(t, 500.0, items[0].Amount*float64(items[0].Quantity))
}

func TestListInvoicesReportsTotalAcrossPages(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo()
	svc := newTestService(repo, nil, nil, nil)

	studentID := uuid.New()
	for i := 0; i < 3; i++ {
		_, err := svc.CreateInvoice(ctx, CreateInvoiceInput{
			StudentID: studentID,
			Items: []InvoiceItemInput{
				{Description: "Monthly rent", Category: ItemMonthlyRent, Amount: 600, Quantity: 1},
			},
		})
		require.NoError(t, err)
	}

	page, total, err := svc.ListInvoices(ctx, ListInvoicesRequest{StudentID: studentID, Limit: 2})
	require.NoError(t, err)
	require.Equal(t, 3, total)
	require.Len(t, page, 2)

	rest, total, err := svc.ListInvoices(ctx, ListInvoicesRequest{StudentID: studentID, Limit: 2, Offset: 2})
	require.NoError(t, err)
	require.Equal(t, 3, total)
	require.Len(t, rest, 1)
}

func TestCreateInvoiceRejectsEmptyItems(t *testing.T) {
	svc := newTestService(newMemoryRepo(), nil, nil, nil)

	_, err := svc.CreateInvoice(context.Background(), CreateInvoiceInput{StudentID: uuid.New()})
	require.Error(t, err)
	require.Contains(t, err.Error(), "at least one invoice item")
}

func TestInitiatePaymentTargetsOutstandingBalance(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo()
	svc := newTestService(repo, nil, nil, nil)

	inv, err := svc.CreateInvoice(ctx, CreateInvoiceInput{
		StudentID: uuid.New(),
		Items:     []InvoiceItemInput{{Description: "Tuition", Category: ItemTuition, Amount: 7500, Quantity: 1}},
	})
	require.NoError(t, err)

	intent, err := svc.InitiatePayment(ctx, inv.ID, "card", "US")
	require.NoError(t, err)
	require.Equal(t, 7500.0, intent.Amount)
	require.Regexp(t, `^PGW-\d+-\d{4}$`, intent.TransactionID)
	require.Contains(t, intent.PaymentURL, "transaction_id="+intent.TransactionID)
}

func TestInitiatePaymentRejectsSettledInvoice(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo()
	svc := newTestService(repo, nil, nil, nil)

	inv, _ := svc.CreateInvoice(ctx, CreateInvoiceInput{
		StudentID: uuid.New(),
		Items:     []InvoiceItemInput{{Description: "Deposit", Category: ItemHousingDeposit, Amount: 500, Quantity: 1}},
	})
	intent, _ := svc.InitiatePayment(ctx, inv.ID, "card", "US")
	_, err := svc.VerifyPayment(ctx, intent.TransactionID)
	require.NoError(t, err)

	_, err = svc.InitiatePayment(ctx, inv.ID, "card", "US")
	require.ErrorIs(t, err, ErrNothingOutstanding)
}

func TestVerifyPaymentSettlesInvoiceAndNotifies(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo()
	dispatcher := &captureDispatcher{}
	svc := newTestService(repo, nil, dispatcher, nil)

	housingAppID := uuid.New()
	repo.housingStatus[housingAppID] = "PENDING"

	inv, err := svc.GenerateDepositInvoice(ctx, uuid.New(), housingAppID)
	require.NoError(t, err)

	intent, err := svc.InitiatePayment(ctx, inv.ID, "card", "DE")
	require.NoError(t, err)

	outcome, err := svc.VerifyPayment(ctx, intent.TransactionID)
	require.NoError(t, err)
	require.False(t, outcome.AlreadyCompleted)
	require.True(t, outcome.FullyPaid)
	require.Equal(t, InvoicePaid, outcome.Invoice.Status)
	require.Equal(t, 500.0, outcome.Invoice.Paid)
	require.Equal(t, "APPROVED", repo.housingStatus[housingAppID])

	require.Len(t, dispatcher.events, 1)
	require.Equal(t, notify.EventPaymentReceived, dispatcher.events[0].Type)
}

func TestVerifyPaymentIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo()
	dispatcher := &captureDispatcher{}
	svc := newTestService(repo, nil, dispatcher, nil)

	inv, _ := svc.CreateInvoice(ctx, CreateInvoiceInput{
		StudentID: uuid.New(),
		Items:     []InvoiceItemInput{{Description: "Deposit", Category: ItemHousingDeposit, Amount: 500, Quantity: 1}},
	})
	intent, _ := svc.InitiatePayment(ctx, inv.ID, "card", "US")

	first, err := svc.VerifyPayment(ctx, intent.TransactionID)
	require.NoError(t, err)
	second, err := svc.VerifyPayment(ctx, intent.TransactionID)
	require.NoError(t, err)

	require.True(t, second.AlreadyCompleted)
	require.Equal(t, first.Invoice.Paid, second.Invoice.Paid)
	require.Equal(t, InvoicePaid, second.Invoice.Status)
	// Only the first verification dispatches a notification.
	require.Len(t, dispatcher.events, 1)
}

func TestReconcilePaymentStampsMetadata(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo()
	svc := newTestService(repo, nil, nil, nil)
	actor := adminActor()

	inv, _ := svc.CreateInvoice(ctx, CreateInvoiceInput{
		StudentID: uuid.New(),
		Items:     []InvoiceItemInput{{Description: "Rent", Category: ItemMonthlyRent, Amount: 600, Quantity: 1}},
	})
	intent, _ := svc.InitiatePayment(ctx, inv.ID, "transfer", "US")

	outcome, err := svc.ReconcilePayment(ctx, intent.PaymentID, actor)
	require.NoError(t, err)
	require.True(t, outcome.Payment.Verified)
	require.Equal(t, actor.UserID.String(), outcome.Payment.Metadata["reconciled_by"])
	require.Equal(t, InvoicePaid, outcome.Invoice.Status)
}

func TestRecordManualPaymentPartialThenFull(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo()
	svc := newTestService(repo, nil, nil, &memoryIdempotency{})
	actor := adminActor()

	appID := uuid.New()
	repo.appStatus[appID] = "OFFER_ACCEPTED"

	inv, _ := svc.CreateInvoice(ctx, CreateInvoiceInput{
		StudentID:     uuid.New(),
		ApplicationID: &appID,
		Items:         []InvoiceItemInput{{Description: "Tuition", Category: ItemTuition, Amount: 10000, Quantity: 1}},
	})

	partial, err := svc.RecordManualPayment(ctx, inv.ID, 4000, "transfer", "BANK-REF-1", actor)
	require.NoError(t, err)
	require.False(t, partial.FullyPaid)
	require.Equal(t, InvoicePartiallyPaid, partial.Invoice.Status)
	require.Equal(t, "PAYMENT_SUBMITTED", repo.appStatus[appID])

	full, err := svc.RecordManualPayment(ctx, inv.ID, 6000, "transfer", "BANK-REF-2", actor)
	require.NoError(t, err)
	require.True(t, full.FullyPaid)
	require.Equal(t, InvoicePaid, full.Invoice.Status)
	require.Equal(t, "ENROLLED", repo.appStatus[appID])
	require.Regexp(t, `^TXN-\d+$`, full.Payment.TransactionID)
}

func TestRecordManualPaymentRejectsOverpayment(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo()
	idem := &memoryIdempotency{}
	svc := newTestService(repo, nil, nil, idem)

	inv, _ := svc.CreateInvoice(ctx, CreateInvoiceInput{
		StudentID: uuid.New(),
		Items:     []InvoiceItemInput{{Description: "Deposit", Category: ItemHousingDeposit, Amount: 500, Quantity: 1}},
	})

	_, err := svc.RecordManualPayment(ctx, inv.ID, 600, "cash", "BANK-REF-3", adminActor())
	require.ErrorIs(t, err, ErrOverpayment)
	// Rejection releases the key so the corrected amount can reuse it.
	_, err = svc.RecordManualPayment(ctx, inv.ID, 500, "cash", "BANK-REF-3", adminActor())
	require.NoError(t, err)
}

func TestRecordManualPaymentDuplicateReference(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo()
	svc := newTestService(repo, nil, nil, &memoryIdempotency{})
	actor := adminActor()

	inv, _ := svc.CreateInvoice(ctx, CreateInvoiceInput{
		StudentID: uuid.New(),
		Items:     []InvoiceItemInput{{Description: "Rent", Category: ItemMonthlyRent, Amount: 600, Quantity: 1}},
	})

	_, err := svc.RecordManualPayment(ctx, inv.ID, 300, "cash", "SLIP-9", actor)
	require.NoError(t, err)
	_, err = svc.RecordManualPayment(ctx, inv.ID, 300, "cash", "SLIP-9", actor)
	require.ErrorIs(t, err, shared.ErrIdempotencyConflict)

	inv2, err := repo.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	require.Equal(t, 300.0, inv2.Paid)
}

func TestRecordTuitionPaymentRequiresApplicationLink(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo()
	svc := newTestService(repo, nil, nil, &memoryIdempotency{})

	inv, _ := svc.CreateInvoice(ctx, CreateInvoiceInput{
		StudentID: uuid.New(),
		Items:     []InvoiceItemInput{{Description: "Rent", Category: ItemMonthlyRent, Amount: 600, Quantity: 1}},
	})

	_, err := svc.RecordTuitionPayment(ctx, inv.ID, 600, "cash", "SLIP-10", adminActor())
	require.Error(t, err)
	require.Contains(t, err.Error(), "not linked to an admission application")
}

func TestBatchGenerateRentInvoicesIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo()

	studentA := uuid.New()
	studentB := uuid.New()
	assignments := staticAssignments{candidates: []RentCandidate{
		{StudentID: studentA, HousingApplicationID: uuid.New(), AssignmentID: uuid.New(), RoomLabel: "A-101", MonthlyRate: 650},
		{StudentID: studentB, HousingApplicationID: uuid.New(), AssignmentID: uuid.New(), RoomLabel: "B-204"},
	}}
	svc := newTestService(repo, assignments, nil, nil)

	first, err := svc.BatchGenerateRentInvoices(ctx, 2026, time.September)
	require.NoError(t, err)
	require.Equal(t, 2, first.Created)
	require.Equal(t, 0, first.Skipped)

	second, err := svc.BatchGenerateRentInvoices(ctx, 2026, time.September)
	require.NoError(t, err)
	require.Equal(t, 0, second.Created)
	require.Equal(t, 2, second.Skipped)

	invoices, total, err := svc.ListInvoices(ctx, ListInvoicesRequest{})
	require.NoError(t, err)
	require.Equal(t, 2, total)
	require.Len(t, invoices, 2)

	var sawDefaultRate bool
	for _, inv := range invoices {
		require.Regexp(t, `^RENT-2026-09-\d{4}$`, inv.Reference)
		if inv.StudentID == studentB {
			require.Equal(t, DefaultMonthlyRent, inv.Total)
			sawDefaultRate = true
		}
	}
	require.True(t, sawDefaultRate)
}

func TestPaidNeverExceedsTotal(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo()
	svc := newTestService(repo, nil, nil, &memoryIdempotency{})
	actor := adminActor()

	inv, _ := svc.CreateInvoice(ctx, CreateInvoiceInput{
		StudentID: uuid.New(),
		Items:     []InvoiceItemInput{{Description: "Tuition", Category: ItemTuition, Amount: 1000, Quantity: 1}},
	})

	_, err := svc.RecordManualPayment(ctx, inv.ID, 700, "cash", "R1", actor)
	require.NoError(t, err)
	_, err = svc.RecordManualPayment(ctx, inv.ID, 400, "cash", "R2", actor)
	require.ErrorIs(t, err, ErrOverpayment)

	current, err := repo.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	require.LessOrEqual(t, current.Paid, current.Total)
	require.Equal(t, DeriveInvoiceStatus(current.Paid, current.Total), current.Status)
}
