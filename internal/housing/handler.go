package housing

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/arcadia-sis/arcadia-sis/internal/authz"
	"github.com/arcadia-sis/arcadia-sis/internal/platform/httpx"
	"github.com/arcadia-sis/arcadia-sis/internal/shared"
)

// Handler wires HTTP endpoints for housing.
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

// MountRoutes registers housing routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.authz.RequireAuthenticated)
		r.Get("/buildings", h.listBuildings)
		r.Get("/rooms", h.listRooms)
		r.Post("/applications", h.submitApplication)
		r.Get("/applications", h.listApplications)
		r.Get("/applications/{id}", h.getApplication)
	})

	r.Group(func(r chi.Router) {
		r.Use(h.authz.RequireRole(authz.RoleAdmin, authz.RoleRegistrar))
		r.Post("/buildings", h.createBuilding)
		r.Post("/rooms", h.createRoom)
		r.Post("/rooms/{id}/maintenance", h.setRoomMaintenance)
		r.Post("/applications/{id}/approve", h.approveApplication)
		r.Post("/applications/{id}/reject", h.rejectApplication)
		r.Post("/applications/{id}/allocate", h.allocateRoom)
		r.Delete("/applications/{id}", h.deleteApplication)
		r.Post("/assignments/{id}/end", h.endAssignment)
	})
}

type createBuildingRequest struct {
	Name    string `json:"name" validate:"required"`
	Address string `json:"address"`
}

func (h *Handler) createBuilding(w http.ResponseWriter, r *http.Request) {
	var req createBuildingRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	building, err := h.service.CreateBuilding(r.Context(), CreateBuildingInput{
		Name:    req.Name,
		Address: req.Address,
	})
	if err != nil {
		h.respondError(w, "create building", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, building)
}

func (h *Handler) listBuildings(w http.ResponseWriter, r *http.Request) {
	buildings, err := h.service.ListBuildings(r.Context())
	if err != nil {
		h.respondError(w, "list buildings", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"buildings": buildings})
}

type createRoomRequest struct {
	BuildingID  string  `json:"building_id" validate:"required,uuid"`
	Label       string  `json:"label" validate:"required"`
	Capacity    int     `json:"capacity" validate:"gte=1"`
	MonthlyRate float64 `json:"monthly_rate" validate:"gte=0"`
}

func (h *Handler) createRoom(w http.ResponseWriter, r *http.Request) {
	var req createRoomRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	room, err := h.service.CreateRoom(r.Context(), CreateRoomInput{
		BuildingID:  uuid.MustParse(req.BuildingID),
		Label:       req.Label,
		Capacity:    req.Capacity,
		MonthlyRate: req.MonthlyRate,
	})
	if err != nil {
		h.respondError(w, "create room", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, room)
}

func (h *Handler) listRooms(w http.ResponseWriter, r *http.Request) {
	req := ListRoomsRequest{}
	if raw := r.URL.Query().Get("building_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Filter", "building_id must be a UUID")
			return
		}
		req.BuildingID = id
	}
	if status := r.URL.Query().Get("status"); status != "" {
		req.Status = RoomStatus(status)
	}
	rooms, err := h.service.ListRooms(r.Context(), req)
	if err != nil {
		h.respondError(w, "list rooms", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"rooms": rooms})
}

type maintenanceRequest struct {
	UnderMaintenance bool `json:"under_maintenance"`
}

func (h *Handler) setRoomMaintenance(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "room id must be a UUID")
		return
	}
	var req maintenanceRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.service.SetRoomMaintenance(r.Context(), id, req.UnderMaintenance); err != nil {
		h.respondError(w, "set room maintenance", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"ok": true})
}

type submitApplicationRequest struct {
	Semester string `json:"semester" validate:"required"`
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
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "only students can apply for housing")
		return
	}

	app, err := h.service.SubmitApplication(r.Context(), SubmitApplicationInput{
		StudentID: actor.StudentID,
		Semester:  req.Semester,
	})
	if err != nil {
		h.respondError(w, "submit housing application", err)
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
	if semester := r.URL.Query().Get("semester"); semester != "" {
		req.Semester = semester
	}
	if status := r.URL.Query().Get("status"); status != "" {
		req.Status = ApplicationStatus(status)
	}

	apps, total, err := h.service.ListApplications(r.Context(), req)
	if err != nil {
		h.respondError(w, "list housing applications", err)
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
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "application id must be a UUID")
		return
	}
	details, err := h.service.GetApplicationDetails(r.Context(), id)
	if err != nil {
		h.respondError(w, "get housing application", err)
		return
	}
	actor, _ := authz.ActorFromContext(r.Context())
	if !actor.IsStaff() && details.Application.StudentID != actor.StudentID {
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "")
		return
	}
	httpx.JSON(w, http.StatusOK, details)
}

func (h *Handler) approveApplication(w http.ResponseWriter, r *http.Request) {
	h.staffAction(w, r, h.service.ApproveApplication)
}

func (h *Handler) rejectApplication(w http.ResponseWriter, r *http.Request) {
	h.staffAction(w, r, h.service.RejectApplication)
}

func (h *Handler) staffAction(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, id uuid.UUID, actor authz.Actor) error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "application id must be a UUID")
		return
	}
	actor, _ := authz.ActorFromContext(r.Context())
	if err := fn(r.Context(), id, actor); err != nil {
		h.respondError(w, "housing application action", err)
		return
	}
	app, err := h.service.GetApplicationDetails(r.Context(), id)
	if err != nil {
		h.respondError(w, "load housing application", err)
		return
	}
	httpx.JSON(w, http.StatusOK, app)
}

type allocateRoomRequest struct {
	RoomID string `json:"room_id" validate:"required,uuid"`
}

func (h *Handler) allocateRoom(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "application id must be a UUID")
		return
	}
	var req allocateRoomRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	actor, _ := authz.ActorFromContext(r.Context())

	assignment, err := h.service.AllocateRoom(r.Context(), id, uuid.MustParse(req.RoomID), actor)
	if err != nil {
		h.respondError(w, "allocate room", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, assignment)
}

func (h *Handler) endAssignment(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "assignment id must be a UUID")
		return
	}
	actor, _ := authz.ActorFromContext(r.Context())

	assignment, err := h.service.EndAssignment(r.Context(), id, actor)
	if err != nil {
		h.respondError(w, "end assignment", err)
		return
	}
	httpx.JSON(w, http.StatusOK, assignment)
}

func (h *Handler) deleteApplication(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "application id must be a UUID")
		return
	}
	actor, _ := authz.ActorFromContext(r.Context())

	result, err := h.service.DeleteApplication(r.Context(), id, actor)
	if err != nil {
		h.respondError(w, "delete housing application", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrApplicationNotFound), errors.Is(err, ErrRoomNotFound),
		errors.Is(err, ErrBuildingNotFound), errors.Is(err, ErrAssignmentNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrDuplicateApplication), errors.Is(err, ErrRoomUnavailable),
		errors.Is(err, ErrNotApproved), errors.Is(err, ErrNotPending):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
