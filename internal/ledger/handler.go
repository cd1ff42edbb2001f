package ledger

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
	"github.com/crestline-dms/crestline/internal/shared"
)

// Handler exposes journal entry endpoints.
type Handler struct {
	service     *Service
	idempotency *shared.IdempotencyStore
	logger      *slog.Logger
	validate    *validator.Validate
}

// NewHandler constructs the handler. The idempotency store may be nil,
// which disables Idempotency-Key handling.
func NewHandler(logger *slog.Logger, service *Service, idempotency *shared.IdempotencyStore) *Handler {
	return &Handler{service: service, idempotency: idempotency, logger: logger, validate: validator.New()}
}

// MountRoutes attaches journal routes to the router group.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.Create)
	r.Get("/", h.List)
	r.Get("/number/{number}", h.GetByNumber)
	r.Get("/{id}", h.Get)
	r.Put("/{id}", h.Update)
	r.Post("/{id}/lines", h.AddLines)
	r.Delete("/{id}", h.Delete)
	r.Post("/{id}/post", h.Post)
	r.Post("/{id}/reverse", h.Reverse)
}

type lineRequest struct {
	AccountID    string          `json:"account_id" validate:"required,uuid"`
	Debit        decimal.Decimal `json:"debit"`
	Credit       decimal.Decimal `json:"credit"`
	Description  string          `json:"description,omitempty"`
	DepartmentID string          `json:"department_id,omitempty" validate:"omitempty,uuid"`
	CostCenterID string          `json:"cost_center_id,omitempty" validate:"omitempty,uuid"`
}

type createEntryRequest struct {
	EntryDate   string        `json:"entry_date" validate:"required,datetime=2006-01-02"`
	Description string        `json:"description" validate:"required"`
	Reference   string        `json:"reference,omitempty"`
	CreatedBy   string        `json:"created_by" validate:"required"`
	Lines       []lineRequest `json:"lines" validate:"dive"`
}

type updateEntryRequest struct {
	EntryDate   string        `json:"entry_date" validate:"required,datetime=2006-01-02"`
	Description string        `json:"description" validate:"required"`
	Reference   string        `json:"reference,omitempty"`
	Lines       []lineRequest `json:"lines" validate:"dive"`
}

type addLinesRequest struct {
	Lines []lineRequest `json:"lines" validate:"required,min=1,dive"`
}

type postEntryRequest struct {
	PostedBy    string `json:"posted_by" validate:"required"`
	PostingDate string `json:"posting_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
}

type reverseEntryRequest struct {
	ReversedBy   string `json:"reversed_by" validate:"required"`
	ReversalDate string `json:"reversal_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	Description  string `json:"description,omitempty"`
}

type entryListResponse struct {
	Entries    []JournalEntry    `json:"entries"`
	Pagination shared.Pagination `json:"pagination"`
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req createEntryRequest
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
	entryDate, _ := time.Parse("2006-01-02", req.EntryDate)

	key := r.Header.Get("Idempotency-Key")
	if key != "" && h.idempotency != nil {
		if err := h.idempotency.CheckAndInsert(r.Context(), key, "journal"); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}

	entry, err := h.service.CreateEntry(r.Context(), CreateInput{
		EntryDate:   entryDate,
		Description: req.Description,
		Reference:   req.Reference,
		CreatedBy:   req.CreatedBy,
		Lines:       lines,
	})
	if err != nil {
		if key != "" && h.idempotency != nil {
			if delErr := h.idempotency.Delete(r.Context(), key); delErr != nil {
				h.logger.Warn("release idempotency key", slog.Any("error", delErr))
			}
		}
		h.logger.Warn("create journal entry", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, entry)
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := pathEntryID(w, r)
	if !ok {
		return
	}
	var req updateEntryRequest
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
	entryDate, _ := time.Parse("2006-01-02", req.EntryDate)
	entry, err := h.service.UpdateDraft(r.Context(), id, UpdateInput{
		EntryDate:   entryDate,
		Description: req.Description,
		Reference:   req.Reference,
		Lines:       lines,
	})
	if err != nil {
		h.logger.Warn("update journal entry", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entry)
}

func (h *Handler) AddLines(w http.ResponseWriter, r *http.Request) {
	id, ok := pathEntryID(w, r)
	if !ok {
		return
	}
	var req addLinesRequest
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
	entry, err := h.service.AddLines(r.Context(), id, lines)
	if err != nil {
		h.logger.Warn("add journal lines", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entry)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathEntryID(w, r)
	if !ok {
		return
	}
	if err := h.service.DeleteDraft(r.Context(), id); err != nil {
		h.logger.Warn("delete journal entry", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Post(w http.ResponseWriter, r *http.Request) {
	id, ok := pathEntryID(w, r)
	if !ok {
		return
	}
	var req postEntryRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	var postingDate time.Time
	if req.PostingDate != "" {
		postingDate, _ = time.Parse("2006-01-02", req.PostingDate)
	}
	entry, err := h.service.PostEntry(r.Context(), id, postingDate, req.PostedBy)
	if err != nil {
		h.logger.Warn("post journal entry", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entry)
}

func (h *Handler) Reverse(w http.ResponseWriter, r *http.Request) {
	id, ok := pathEntryID(w, r)
	if !ok {
		return
	}
	var req reverseEntryRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	var reversalDate time.Time
	if req.ReversalDate != "" {
		reversalDate, _ = time.Parse("2006-01-02", req.ReversalDate)
	}
	entry, err := h.service.ReverseEntry(r.Context(), id, reversalDate, req.Description, req.ReversedBy)
	if err != nil {
		h.logger.Warn("reverse journal entry", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, entry)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathEntryID(w, r)
	if !ok {
		return
	}
	entry, err := h.service.GetEntry(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entry)
}

func (h *Handler) GetByNumber(w http.ResponseWriter, r *http.Request) {
	entry, err := h.service.GetEntryByNumber(r.Context(), chi.URLParam(r, "number"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entry)
}

// List dispatches on query parameters: period_id, from/to, or reference.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page := atoiDefault(q.Get("page"), 1)
	perPage := atoiDefault(q.Get("per_page"), shared.DefaultPerPage)

	switch {
	case q.Get("period_id") != "":
		periodID, err := uuid.Parse(q.Get("period_id"))
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid period_id")
			return
		}
		entries, pagination, err := h.service.ListByPeriod(r.Context(), periodID, page, perPage)
		h.respondList(w, entries, pagination, err)
	case q.Get("from") != "" || q.Get("to") != "":
		from, err := time.Parse("2006-01-02", q.Get("from"))
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "from must be YYYY-MM-DD")
			return
		}
		to, err := time.Parse("2006-01-02", q.Get("to"))
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "to must be YYYY-MM-DD")
			return
		}
		entries, pagination, err := h.service.ListByDateRange(r.Context(), from, to, page, perPage)
		h.respondList(w, entries, pagination, err)
	case q.Get("reference") != "":
		entries, pagination, err := h.service.ListByReference(r.Context(), q.Get("reference"), page, perPage)
		h.respondList(w, entries, pagination, err)
	default:
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "one of period_id, from/to, or reference is required")
	}
}

func (h *Handler) respondList(w http.ResponseWriter, entries []JournalEntry, pagination shared.Pagination, err error) {
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if entries == nil {
		entries = []JournalEntry{}
	}
	httpx.JSON(w, http.StatusOK, entryListResponse{Entries: entries, Pagination: pagination})
}

func buildLineInputs(w http.ResponseWriter, reqs []lineRequest) ([]LineInput, bool) {
	lines := make([]LineInput, 0, len(reqs))
	for _, lr := range reqs {
		accountID, err := uuid.Parse(lr.AccountID)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid account_id")
			return nil, false
		}
		line := LineInput{
			AccountID:   accountID,
			Debit:       lr.Debit,
			Credit:      lr.Credit,
			Description: lr.Description,
		}
		if lr.DepartmentID != "" {
			id, err := uuid.Parse(lr.DepartmentID)
			if err != nil {
				httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid department_id")
				return nil, false
			}
			line.DepartmentID = &id
		}
		if lr.CostCenterID != "" {
			id, err := uuid.Parse(lr.CostCenterID)
			if err != nil {
				httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid cost_center_id")
				return nil, false
			}
			line.CostCenterID = &id
		}
		lines = append(lines, line)
	}
	return lines, true
}

func pathEntryID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid id")
		return uuid.Nil, false
	}
	return id, true
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
