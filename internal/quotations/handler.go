package quotations

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Handler serves the quotation JSON API.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	approvals *shared.ApprovalRecorder
	validate  *validator.Validate
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, service *Service, approvals *shared.ApprovalRecorder) *Handler {
	return &Handler{
		logger:    logger,
		service:   service,
		approvals: approvals,
		validate:  validator.New(),
	}
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateQuotationRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Fail(w, http.StatusBadRequest, "BAD_JSON", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Fail(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}

	quotation, err := h.service.Create(r.Context(), req, shared.ActorFromContext(r.Context()).Email)
	if err != nil {
		h.logger.Error("create quotation", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusCreated, quotation)
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req UpdateQuotationRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Fail(w, http.StatusBadRequest, "BAD_JSON", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Fail(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}

	quotation, err := h.service.Update(r.Context(), id, req, shared.ActorFromContext(r.Context()).Email)
	if err != nil {
		h.logger.Error("update quotation", slog.Int64("id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, quotation)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	quotation, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, quotation)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	req := ListQuotationsRequest{Limit: 50}
	if v := r.URL.Query().Get("status"); v != "" {
		status := QuotationStatus(v)
		req.Status = &status
	}
	if v := r.URL.Query().Get("customer_id"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			req.CustomerID = &id
		}
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			req.Limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			req.Offset = n
		}
	}

	quotations, total, err := h.service.List(r.Context(), req)
	if err != nil {
		h.logger.Error("list quotations", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, map[string]any{"items": quotations, "total": total})
}

func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.Submit)
}

func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.Approve)
}

func (h *Handler) Reject(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var body struct {
		Reason string `json:"reason"`
	}
	_ = httpx.DecodeJSON(r, &body)

	quotation, err := h.service.Reject(r.Context(), id, shared.ActorFromContext(r.Context()).Email, body.Reason)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, quotation)
}

func (h *Handler) Send(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.Send)
}

func (h *Handler) Accept(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.Accept)
}

func (h *Handler) Approvals(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	logs, err := h.approvals.List(r.Context(), approvalModule, id)
	if err != nil {
		h.logger.Error("list approvals", slog.Int64("id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, logs)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, id int64, actor string) (*Quotation, error)) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	quotation, err := fn(r.Context(), id, shared.ActorFromContext(r.Context()).Email)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, quotation)
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Fail(w, http.StatusBadRequest, "BAD_ID", "invalid quotation id")
		return 0, false
	}
	return id, true
}
