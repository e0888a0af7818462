package proformas

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Handler serves the proforma invoice JSON API.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{
		logger:   logger,
		service:  service,
		validate: validator.New(),
	}
}

func (h *Handler) CreateFromQuotation(w http.ResponseWriter, r *http.Request) {
	quotationID, err := strconv.ParseInt(chi.URLParam(r, "quotationId"), 10, 64)
	if err != nil || quotationID <= 0 {
		httpx.Fail(w, http.StatusBadRequest, "BAD_ID", "invalid quotation id")
		return
	}
	var req CreatePIRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Fail(w, http.StatusBadRequest, "BAD_JSON", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Fail(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}

	pi, err := h.service.CreateFromQuotation(r.Context(), quotationID, req, shared.ActorFromContext(r.Context()).Email)
	if err != nil {
		h.logger.Error("create pi", slog.Int64("quotation_id", quotationID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusCreated, pi)
}

func (h *Handler) CreateRevision(w http.ResponseWriter, r *http.Request) {
	parentID, err := strconv.ParseInt(chi.URLParam(r, "parentPiId"), 10, 64)
	if err != nil || parentID <= 0 {
		httpx.Fail(w, http.StatusBadRequest, "BAD_ID", "invalid parent pi id")
		return
	}
	var req CreateRevisionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Fail(w, http.StatusBadRequest, "BAD_JSON", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Fail(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}

	pi, err := h.service.CreateRevision(r.Context(), parentID, req, shared.ActorFromContext(r.Context()).Email)
	if err != nil {
		h.logger.Error("create revision", slog.Int64("parent_pi_id", parentID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusCreated, pi)
}

func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	pi, err := h.service.Submit(r.Context(), id, shared.ActorFromContext(r.Context()).Email)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, pi)
}

func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	pi, err := h.service.Approve(r.Context(), id, shared.ActorFromContext(r.Context()).Email)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, pi)
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

	pi, err := h.service.Reject(r.Context(), id, shared.ActorFromContext(r.Context()).Email, body.Reason)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, pi)
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req UpdatePIRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Fail(w, http.StatusBadRequest, "BAD_JSON", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Fail(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}

	pi, err := h.service.Update(r.Context(), id, req, shared.ActorFromContext(r.Context()).Email)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, pi)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	pi, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, pi)
}

func (h *Handler) EffectiveLines(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	lines, err := h.service.EffectiveLines(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, lines)
}

func (h *Handler) ListByQuotation(w http.ResponseWriter, r *http.Request) {
	quotationID, err := strconv.ParseInt(chi.URLParam(r, "quotationId"), 10, 64)
	if err != nil || quotationID <= 0 {
		httpx.Fail(w, http.StatusBadRequest, "BAD_ID", "invalid quotation id")
		return
	}
	pis, err := h.service.ListByQuotation(r.Context(), quotationID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, pis)
}

func (h *Handler) Active(w http.ResponseWriter, r *http.Request) {
	quotationID, err := strconv.ParseInt(chi.URLParam(r, "quotationId"), 10, 64)
	if err != nil || quotationID <= 0 {
		httpx.Fail(w, http.StatusBadRequest, "BAD_ID", "invalid quotation id")
		return
	}
	pi, err := h.service.GetActivePI(r.Context(), quotationID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, pi)
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Fail(w, http.StatusBadRequest, "BAD_ID", "invalid pi id")
		return 0, false
	}
	return id, true
}
