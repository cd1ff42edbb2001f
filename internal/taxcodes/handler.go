package taxcodes

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/crestline-dms/crestline/internal/platform/httpx"
)

// Handler exposes tax code endpoints.
type Handler struct {
	service  *Service
	logger   *slog.Logger
	validate *validator.Validate
}

// NewHandler constructs the handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{service: service, logger: logger, validate: validator.New()}
}

// MountRoutes attaches tax code routes to the router group.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.Create)
	r.Get("/", h.List)
	r.Get("/active", h.ListActiveOn)
	r.Get("/code/{code}", h.GetByCode)
	r.Get("/{id}", h.Get)
	r.Put("/{id}", h.Update)
	r.Post("/{id}/activate", h.Activate)
	r.Post("/{id}/deactivate", h.Deactivate)
}

type createTaxCodeRequest struct {
	Code           string          `json:"code" validate:"required"`
	Name           string          `json:"name" validate:"required"`
	Description    string          `json:"description,omitempty"`
	Rate           decimal.Decimal `json:"rate"`
	EffectiveDate  string          `json:"effective_date" validate:"required,datetime=2006-01-02"`
	ExpirationDate string          `json:"expiration_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
}

type updateTaxCodeRequest struct {
	Name        string `json:"name" validate:"required"`
	Description string `json:"description,omitempty"`
}

type deactivateTaxCodeRequest struct {
	ExpirationDate string `json:"expiration_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req createTaxCodeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	effective, _ := time.Parse("2006-01-02", req.EffectiveDate)
	var expiration *time.Time
	if req.ExpirationDate != "" {
		parsed, _ := time.Parse("2006-01-02", req.ExpirationDate)
		expiration = &parsed
	}
	tc, err := h.service.Create(r.Context(), CreateInput{
		Code:           req.Code,
		Name:           req.Name,
		Description:    req.Description,
		Rate:           req.Rate,
		EffectiveDate:  effective,
		ExpirationDate: expiration,
	})
	if err != nil {
		h.logger.Warn("create tax code", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, tc)
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req updateTaxCodeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	tc, err := h.service.Update(r.Context(), id, UpdateInput{Name: req.Name, Description: req.Description})
	if err != nil {
		h.logger.Warn("update tax code", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, tc)
}

func (h *Handler) Activate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	tc, err := h.service.Activate(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, tc)
}

func (h *Handler) Deactivate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req deactivateTaxCodeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	var expiration *time.Time
	if req.ExpirationDate != "" {
		parsed, _ := time.Parse("2006-01-02", req.ExpirationDate)
		expiration = &parsed
	}
	tc, err := h.service.Deactivate(r.Context(), id, expiration)
	if err != nil {
		h.logger.Warn("deactivate tax code", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, tc)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	tc, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, tc)
}

func (h *Handler) GetByCode(w http.ResponseWriter, r *http.Request) {
	date, ok := queryDate(w, r)
	if !ok {
		return
	}
	tc, err := h.service.GetByCode(r.Context(), chi.URLParam(r, "code"), date)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, tc)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	includeInactive := r.URL.Query().Get("include_inactive") == "true"
	list, err := h.service.List(r.Context(), includeInactive)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if list == nil {
		list = []TaxCode{}
	}
	httpx.JSON(w, http.StatusOK, list)
}

func (h *Handler) ListActiveOn(w http.ResponseWriter, r *http.Request) {
	date, ok := queryDate(w, r)
	if !ok {
		return
	}
	list, err := h.service.ListActiveOn(r.Context(), date)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if list == nil {
		list = []TaxCode{}
	}
	httpx.JSON(w, http.StatusOK, list)
}

func queryDate(w http.ResponseWriter, r *http.Request) (time.Time, bool) {
	raw := r.URL.Query().Get("date")
	if raw == "" {
		return time.Time{}, true
	}
	date, err := time.Parse("2006-01-02", raw)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "date must be YYYY-MM-DD")
		return time.Time{}, false
	}
	return date, true
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid id")
		return uuid.Nil, false
	}
	return id, true
}
