package billing

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/arcadia-sis/arcadia-sis/internal/authz"
	"github.com/arcadia-sis/arcadia-sis/internal/platform/httpx"
	"github.com/arcadia-sis/arcadia-sis/internal/shared"
)

// Handler wires HTTP endpoints for billing.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
	authz    authz.Middleware
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, mw authz.Middleware) *Handler {
	return &Handler{
		logger:   logger,
		service:  service,
		validate: validator.New(),
		authz:    mw,
	}
}

// MountRoutes registers billing routes.
func (h *Handler) MountRoutes(r chi.Router) {
	// Gateway callback; the transaction id is the only credential, matching
	// the stubbed gateway round-trip.
	r.Get("/payments/verify", h.verifyPayment)
	r.Post("/payments/verify", h.verifyPayment)

	r.Group(func(r chi.Router) {
		r.Use(h.authz.RequireAuthenticated)
		r.Get("/invoices", h.listInvoices)
		r.Get("/invoices/{id}", h.getInvoice)
		r.Post("/invoices/{id}/pay", h.initiatePayment)
	})

	r.Group(func(r chi.Router) {
		r.Use(h.authz.RequireRole(authz.RoleAdmin, authz.RoleRegistrar))
		r.Post("/invoices", h.createInvoice)
		r.Post("/invoices/{id}/manual-payment", h.recordManualPayment)
		r.Post("/invoices/{id}/tuition-payment", h.recordTuitionPayment)
		r.Post("/payments/{id}/reconcile", h.reconcilePayment)
		r.Post("/rent-invoices/run", h.runRentInvoices)
	})
}

type invoiceItemRequest struct {
	Description string  `json:"description" validate:"required"`
	Category    string  `json:"category" validate:"required"`
	Amount      float64 `json:"amount" validate:"gt=0"`
	Quantity    int     `json:"quantity" validate:"gt=0"`
}

type createInvoiceRequest struct {
	StudentID            string               `json:"student_id" validate:"required,uuid"`
	ApplicationID        string               `json:"application_id" validate:"omitempty,uuid"`
	HousingApplicationID string               `json:"housing_application_id" validate:"omitempty,uuid"`
	Currency             string               `json:"currency" validate:"omitempty,len=3"`
	DueAt                *time.Time           `json:"due_at"`
	Items                []invoiceItemRequest `json:"items" validate:"required,min=1,dive"`
}

func (h *Handler) createInvoice(w http.ResponseWriter, r *http.Request) {
	var req createInvoiceRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	input := CreateInvoiceInput{
		StudentID: uuid.MustParse(req.StudentID),
		Currency:  req.Currency,
	}
	if req.ApplicationID != "" {
		id := uuid.MustParse(req.ApplicationID)
		input.ApplicationID = &id
	}
	if req.HousingApplicationID != "" {
		id := uuid.MustParse(req.HousingApplicationID)
		input.HousingApplicationID = &id
	}
	if req.DueAt != nil {
		input.DueAt = *req.DueAt
	}
	for _, item := range req.Items {
		input.Items = append(input.Items, InvoiceItemInput{
			Description: item.Description,
			Category:    item.Category,
			Amount:      item.Amount,
			Quantity:    item.Quantity,
		})
	}

	inv, err := h.service.CreateInvoice(r.Context(), input)
	if err != nil {
		h.respondError(w, "create invoice", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, inv)
}

func (h *Handler) listInvoices(w http.ResponseWriter, r *http.Request) {
	actor, _ := authz.ActorFromContext(r.Context())

	page, perPage := pageParams(r)
	req := ListInvoicesRequest{Limit: perPage, Offset: (page - 1) * perPage}
	if actor.IsStaff() {
		if raw := r.URL.Query().Get("student_id"); raw != "" {
			id, err := uuid.Parse(raw)
			if err != nil {
				httpx.Problem(w, http.StatusBadRequest, "Invalid Filter", "student_id must be a UUID")
				return
			}
			req.StudentID = id
		}
	} else {
		// Students only ever see their own invoices.
		req.StudentID = actor.StudentID
	}
	if status := r.URL.Query().Get("status"); status != "" {
		req.Status = InvoiceStatus(status)
	}

	invoices, total, err := h.service.ListInvoices(r.Context(), req)
	if err != nil {
		h.respondError(w, "list invoices", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"invoices":   invoices,
		"pagination": shared.NewPagination(page, perPage, total),
	})
}

// pageParams reads page/per_page query parameters with sane defaults.
func pageParams(r *http.Request) (page, perPage int) {
	page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	if page <= 0 {
		page = 1
	}
	perPage, _ = strconv.Atoi(r.URL.Query().Get("per_page"))
	if perPage <= 0 || perPage > 100 {
		perPage = 50
	}
	return page, perPage
}

func (h *Handler) getInvoice(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "invoice id must be a UUID")
		return
	}
	details, err := h.service.GetInvoiceDetails(r.Context(), id)
	if err != nil {
		h.respondError(w, "get invoice", err)
		return
	}
	actor, _ := authz.ActorFromContext(r.Context())
	if !actor.IsStaff() && details.Invoice.StudentID != actor.StudentID {
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "")
		return
	}
	httpx.JSON(w, http.StatusOK, details)
}

type initiatePaymentRequest struct {
	Method         string `json:"method" validate:"required"`
	BillingCountry string `json:"billing_country" validate:"omitempty,len=2"`
}

func (h *Handler) initiatePayment(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "invoice id must be a UUID")
		return
	}
	var req initiatePaymentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	intent, err := h.service.InitiatePayment(r.Context(), id, req.Method, req.BillingCountry)
	if err != nil {
		h.respondError(w, "initiate payment", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, intent)
}

func (h *Handler) verifyPayment(w http.ResponseWriter, r *http.Request) {
	txnID := r.URL.Query().Get("transaction_id")
	if txnID == "" {
		httpx.Problem(w, http.StatusBadRequest, "Missing Parameter", "transaction_id is required")
		return
	}
	outcome, err := h.service.VerifyPayment(r.Context(), txnID)
	if err != nil {
		h.respondError(w, "verify payment", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"invoice":           outcome.Invoice,
		"payment":           outcome.Payment,
		"already_completed": outcome.AlreadyCompleted,
		"fully_paid":        outcome.FullyPaid,
	})
}

func (h *Handler) reconcilePayment(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "payment id must be a UUID")
		return
	}
	actor, _ := authz.ActorFromContext(r.Context())

	outcome, err := h.service.ReconcilePayment(r.Context(), id, actor)
	if err != nil {
		h.respondError(w, "reconcile payment", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"invoice":           outcome.Invoice,
		"payment":           outcome.Payment,
		"already_completed": outcome.AlreadyCompleted,
	})
}

type manualPaymentRequest struct {
	Amount    float64 `json:"amount" validate:"gt=0"`
	Method    string  `json:"method" validate:"required"`
	Reference string  `json:"reference" validate:"required"`
}

func (h *Handler) recordManualPayment(w http.ResponseWriter, r *http.Request) {
	h.handleManual(w, r, h.service.RecordManualPayment)
}

func (h *Handler) recordTuitionPayment(w http.ResponseWriter, r *http.Request) {
	h.handleManual(w, r, h.service.RecordTuitionPayment)
}

type manualFunc func(ctx context.Context, invoiceID uuid.UUID, amount float64, method, reference string, actor authz.Actor) (*SettlementOutcome, error)

func (h *Handler) handleManual(w http.ResponseWriter, r *http.Request, fn manualFunc) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "invoice id must be a UUID")
		return
	}
	var req manualPaymentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	actor, _ := authz.ActorFromContext(r.Context())

	outcome, err := fn(r.Context(), id, req.Amount, req.Method, req.Reference, actor)
	if err != nil {
		h.respondError(w, "manual payment", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{
		"invoice":    outcome.Invoice,
		"payment":    outcome.Payment,
		"fully_paid": outcome.FullyPaid,
	})
}

type runRentInvoicesRequest struct {
	Year  int `json:"year" validate:"gte=2000"`
	Month int `json:"month" validate:"gte=1,lte=12"`
}

func (h *Handler) runRentInvoices(w http.ResponseWriter, r *http.Request) {
	var req runRentInvoicesRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	result, err := h.service.BatchGenerateRentInvoices(r.Context(), req.Year, time.Month(req.Month))
	if err != nil {
		h.respondError(w, "rent invoices", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrInvoiceNotFound), errors.Is(err, ErrPaymentNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrOverpayment), errors.Is(err, ErrNothingOutstanding):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, shared.ErrIdempotencyConflict):
		httpx.Problem(w, http.StatusConflict, "Duplicate", err.Error())
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
