package admissions

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
	"github.com/arcadia-sis/arcadia-sis/internal/fees"
	"github.com/arcadia-sis/arcadia-sis/internal/platform/httpx"
	"github.com/arcadia-sis/arcadia-sis/internal/shared"
)

// Handler wires HTTP endpoints for admissions.
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

// MountRoutes registers admissions routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.authz.RequireAuthenticated)
		r.Post("/applications", h.submitApplication)
		r.Get("/applications", h.listApplications)
		r.Get("/applications/{id}", h.getApplication)
		r.Post("/applications/{id}/offer-response", h.respondToOffer)
		r.Get("/offers/{id}/quote", h.quoteEnrollment)
		r.Post("/offers/{id}/tuition-invoice", h.createTuitionInvoice)
	})

	r.Group(func(r chi.Router) {
		r.Use(h.authz.RequireRole(authz.RoleAdmin, authz.RoleRegistrar))
		r.Post("/applications/{id}/review", h.reviewApplication)
		r.Post("/applications/{id}/admit", h.admitApplication)
		r.Post("/applications/{id}/reject", h.rejectApplication)
		r.Post("/applications/{id}/offer", h.createOffer)
	})
}

type submitApplicationRequest struct {
	Program         string `json:"program" validate:"required"`
	DegreeLevel     string `json:"degree_level" validate:"required"`
	Field           string `json:"field" validate:"required"`
	ProgramDuration string `json:"program_duration" validate:"required"`
}

func (h *Handler) submitApplication(w http.ResponseWriter, r *http.Request) {
	var req submitApplicationRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	actor, _ := authz.ActorFromContext(r.Context())
	if actor.StudentID == uuid.Nil {
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "only students can apply")
		return
	}

	app, err := h.service.SubmitApplication(r.Context(), CreateApplicationInput{
		StudentID:       actor.StudentID,
		Program:         req.Program,
		DegreeLevel:     fees.DegreeLevel(req.DegreeLevel),
		Field:           fees.Field(req.Field),
		ProgramDuration: req.ProgramDuration,
	})
	if err != nil {
		h.respondError(w, "submit application", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, app)
}

func (h *Handler) listApplications(w http.ResponseWriter, r *http.Request) {
	actor, _ := authz.ActorFromContext(r.Context())

	page, perPage := pageParams(r)
	req := ListApplicationsRequest{Limit: perPage, Offset: (page - 1) * perPage}
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
		req.StudentID = actor.StudentID
	}
	if status := r.URL.Query().Get("status"); status != "" {
		req.Status = ApplicationStatus(status)
	}

	apps, total, err := h.service.ListApplications(r.Context(), req)
	if err != nil {
		h.respondError(w, "list applications", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"applications": apps,
		"pagination":   shared.NewPagination(page, perPage, total),
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

func (h *Handler) getApplication(w http.ResponseWriter, r *http.Request) {
	app, ok := h.loadOwnedApplication(w, r)
	if !ok {
		return
	}
	httpx.JSON(w, http.StatusOK, app)
}

func (h *Handler) reviewApplication(w http.ResponseWriter, r *http.Request) {
	h.staffTransition(w, r, h.service.ReviewApplication)
}

func (h *Handler) admitApplication(w http.ResponseWriter, r *http.Request) {
	h.staffTransition(w, r, h.service.AdmitApplication)
}

func (h *Handler) rejectApplication(w http.ResponseWriter, r *http.Request) {
	h.staffTransition(w, r, h.service.RejectApplication)
}

func (h *Handler) staffTransition(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, id uuid.UUID, actor authz.Actor) error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "application id must be a UUID")
		return
	}
	actor, _ := authz.ActorFromContext(r.Context())
	if err := fn(r.Context(), id, actor); err != nil {
		h.respondError(w, "transition application", err)
		return
	}
	app, err := h.service.GetApplication(r.Context(), id)
	if err != nil {
		h.respondError(w, "load application", err)
		return
	}
	httpx.JSON(w, http.StatusOK, app)
}

type createOfferRequest struct {
	PaymentDeadline time.Time `json:"payment_deadline" validate:"required"`
}

func (h *Handler) createOffer(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "application id must be a UUID")
		return
	}
	var req createOfferRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	actor, _ := authz.ActorFromContext(r.Context())

	offer, err := h.service.CreateOffer(r.Context(), id, req.PaymentDeadline, actor)
	if err != nil {
		h.respondError(w, "create offer", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, offer)
}

type offerResponseRequest struct {
	Action string `json:"action" validate:"required,oneof=ACCEPT DECLINE"`
}

func (h *Handler) respondToOffer(w http.ResponseWriter, r *http.Request) {
	app, ok := h.loadOwnedApplication(w, r)
	if !ok {
		return
	}
	var req offerResponseRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	actor, _ := authz.ActorFromContext(r.Context())

	offer, err := h.service.respondByApplication(r.Context(), app.ID, OfferAction(req.Action), actor)
	if err != nil {
		h.respondError(w, "respond to offer", err)
		return
	}
	httpx.JSON(w, http.StatusOK, offer)
}

func (h *Handler) quoteEnrollment(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "offer id must be a UUID")
		return
	}
	payFull := r.URL.Query().Get("pay_full_program") == "true"

	quote, err := h.service.QuoteEnrollment(r.Context(), id, payFull)
	if err != nil {
		h.respondError(w, "quote enrollment", err)
		return
	}
	httpx.JSON(w, http.StatusOK, quote)
}

type tuitionInvoiceRequest struct {
	PayFullProgram bool `json:"pay_full_program"`
}

func (h *Handler) createTuitionInvoice(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "offer id must be a UUID")
		return
	}
	var req tuitionInvoiceRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	actor, _ := authz.ActorFromContext(r.Context())

	inv, err := h.service.CreateTuitionInvoice(r.Context(), id, req.PayFullProgram, actor)
	if err != nil {
		h.respondError(w, "create tuition invoice", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, inv)
}

// loadOwnedApplication parses the path ID and enforces that students only
// touch their own applications.
func (h *Handler) loadOwnedApplication(w http.ResponseWriter, r *http.Request) (*Application, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "application id must be a UUID")
		return nil, false
	}
	app, err := h.service.GetApplication(r.Context(), id)
	if err != nil {
		h.respondError(w, "get application", err)
		return nil, false
	}
	actor, _ := authz.ActorFromContext(r.Context())
	if !actor.IsStaff() && app.StudentID != actor.StudentID {
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "")
		return nil, false
	}
	return app, true
}

func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrApplicationNotFound), errors.Is(err, ErrOfferNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrOfferNotPending), errors.Is(err, ErrInvalidTransition):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
