package budgets

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/crestline-dms/crestline/internal/platform/httpx"
)

// Handler exposes budget endpoints.
type Handler struct {
	service  *Service
	logger   *slog.Logger
	validate *validator.Validate
}

// NewHandler constructs the handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{service: service, logger: logger, validate: validator.New()}
}

// MountRoutes attaches budget routes to the router group.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.Create)
	r.Get("/year/{year}", h.ListByYear)
	r.Get("/{id}", h.Get)
	r.Put("/{id}", h.Update)
	r.Delete("/{id}", h.Delete)
	r.Post("/{id}/approve", h.Approve)
}

type budgetLineRequest struct {
	AccountID     string          `json:"account_id" validate:"required,uuid"`
	PeriodNumber  *int            `json:"period_number,omitempty" validate:"omitempty,min=1,max=12"`
	PlannedAmount decimal.Decimal `json:"planned_amount"`
	Notes         string          `json:"notes,omitempty"`
}

type createBudgetRequest struct {
	FiscalYear  int                 `json:"fiscal_year" validate:"required"`
	Name        string              `json:"name" validate:"required"`
	Description string              `json:"description,omitempty"`
	Lines       []budgetLineRequest `json:"lines" validate:"dive"`
}

type updateBudgetRequest struct {
	Name        string              `json:"name" validate:"required"`
	Description string              `json:"description,omitempty"`
	Lines       []budgetLineRequest `json:"lines" validate:"dive"`
}

type approveBudgetRequest struct {
	ApprovedBy   string `json:"approved_by" validate:"required"`
	ApprovalDate string `json:"approval_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req createBudgetRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	lines, ok := buildLineInputs(w, req.Lines)
	if !ok {
		return
	}
	budget, err := h.service.Create(r.Context(), CreateInput{
		FiscalYear:  req.FiscalYear,
		Name:        req.Name,
		Description: req.Description,
		Lines:       lines,
	})
	if err != nil {
		h.logger.Warn("create budget", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, budget)
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req updateBudgetRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	lines, ok := buildLineInputs(w, req.Lines)
	if !ok {
		return
	}
	budget, err := h.service.Update(r.Context(), id, UpdateInput{
		Name:        req.Name,
		Description: req.Description,
		Lines:       lines,
	})
	if err != nil {
		h.logger.Warn("update budget", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, budget)
}

func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req approveBudgetRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	var approvalDate time.Time
	if req.ApprovalDate != "" {
		approvalDate, _ = time.Parse("2006-01-02", req.ApprovalDate)
	}
	budget, err := h.service.Approve(r.Context(), id, approvalDate, req.ApprovedBy)
	if err != nil {
		h.logger.Warn("approve budget", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, budget)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), id); err != nil {
		h.logger.Warn("delete budget", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	budget, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, budget)
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
	if list == nil {
		list = []Budget{}
	}
	httpx.JSON(w, http.StatusOK, list)
}

func buildLineInputs(w http.ResponseWriter, reqs []budgetLineRequest) ([]LineInput, bool) {
	lines := make([]LineInput, 0, len(reqs))
	for _, lr := range reqs {
		accountID, err := uuid.Parse(lr.AccountID)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid account_id")
			return nil, false
		}
		lines = append(lines, LineInput{
			AccountID:     accountID,
			PeriodNumber:  lr.PeriodNumber,
			PlannedAmount: lr.PlannedAmount,
			Notes:         lr.Notes,
		})
	}
	return lines, true
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid id")
		return uuid.Nil, false
	}
	return id, true
}
