package periods

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/crestline-dms/crestline/internal/platform/httpx"
)

// Handler exposes fiscal calendar endpoints.
type Handler struct {
	service  *Service
	logger   *slog.Logger
	validate *validator.Validate
}

// NewHandler constructs the handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{service: service, logger: logger, validate: validator.New()}
}

// MountRoutes attaches period routes to the router group.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.Create)
	r.Post("/generate", h.Generate)
	r.Get("/current", h.Current)
	r.Get("/year/{year}", h.ListByYear)
	r.Get("/{id}", h.Get)
	r.Post("/{id}/close", h.Close)
	r.Post("/{id}/reopen", h.Reopen)
}

type createPeriodRequest struct {
	FiscalYear   int    `json:"fiscal_year" validate:"required"`
	PeriodNumber int    `json:"period_number" validate:"required,min=1,max=12"`
	StartDate    string `json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate      string `json:"end_date" validate:"required,datetime=2006-01-02"`
}

type generateRequest struct {
	FiscalYear  int `json:"fiscal_year" validate:"required"`
	StartMonth  int `json:"start_month" validate:"omitempty,min=1,max=12"`
	PeriodCount int `json:"period_count" validate:"omitempty,min=1,max=12"`
}

type closeRequest struct {
	ClosedBy  string `json:"closed_by" validate:"required"`
	CloseDate string `json:"close_date" validate:"omitempty,datetime=2006-01-02"`
}

type reopenRequest struct {
	ReopenedBy string `json:"reopened_by" validate:"required"`
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req createPeriodRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	start, _ := time.Parse("2006-01-02", req.StartDate)
	end, _ := time.Parse("2006-01-02", req.EndDate)
	period, err := h.service.Create(r.Context(), CreateInput{
		FiscalYear:   req.FiscalYear,
		PeriodNumber: req.PeriodNumber,
		StartDate:    start,
		EndDate:      end,
	})
	if err != nil {
		h.logger.Warn("create period", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, period)
}

func (h *Handler) Generate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	if req.StartMonth == 0 {
		req.StartMonth = 1
	}
	if req.PeriodCount == 0 {
		req.PeriodCount = 12
	}
	generated, err := h.service.GenerateYear(r.Context(), GenerateInput{
		FiscalYear:  req.FiscalYear,
		StartMonth:  req.StartMonth,
		PeriodCount: req.PeriodCount,
	})
	if err != nil {
		h.logger.Warn("generate periods", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, generated)
}

func (h *Handler) Current(w http.ResponseWriter, r *http.Request) {
	date := time.Now().UTC()
	if raw := r.URL.Query().Get("date"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "date must be YYYY-MM-DD")
			return
		}
		date = parsed
	}
	period, err := h.service.Current(r.Context(), date)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, period)
}

func (h *Handler) ListByYear(w http.ResponseWriter, r *http.Request) {
	year, err := strconv.Atoi(chi.URLParam(r, "year"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid fiscal year")
		return
	}
	list, err := h.service.ListByYear(r.Context(), year)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, list)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	period, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, period)
}

func (h *Handler) Close(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req closeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	var closeDate time.Time
	if req.CloseDate != "" {
		closeDate, _ = time.Parse("2006-01-02", req.CloseDate)
	}
	period, err := h.service.Close(r.Context(), id, req.ClosedBy, closeDate)
	if err != nil {
		h.logger.Warn("close period", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, period)
}

func (h *Handler) Reopen(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req reopenRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	period, err := h.service.Reopen(r.Context(), id, req.ReopenedBy)
	if err != nil {
		h.logger.Warn("reopen period", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, period)
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid id")
		return uuid.Nil, false
	}
	return id, true
}
