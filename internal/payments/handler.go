package payments

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-erp/meridian-erp/internal/credit"
	"github.com/meridian-erp/meridian-erp/internal/money"
	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Handler serves the payment ledger JSON API.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	credit   *credit.Service
	validate *validator.Validate
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, service *Service, credit *credit.Service) *Handler {
	return &Handler{
		logger:   logger,
		service:  service,
		credit:   credit,
		validate: validator.New(),
	}
}

func (h *Handler) Record(w http.ResponseWriter, r *http.Request) {
	var req RecordInstallmentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Fail(w, http.StatusBadRequest, "BAD_JSON", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Fail(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}

	installment, err := h.service.RecordInstallment(r.Context(), req, shared.ActorFromContext(r.Context()).Email)
	if err != nil {
		h.logger.Error("record installment", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusCreated, installment)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	installment, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, installment)
}

func (h *Handler) ListByQuotation(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "quotationId")
	if !ok {
		return
	}
	installments, err := h.service.ListByQuotation(r.Context(), id)
	if err != nil {
		h.logger.Error("list installments", slog.Int64("quotation_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, installments)
}

func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "quotationId")
	if !ok {
		return
	}
	summary, err := h.service.Summary(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, summary)
}

func (h *Handler) UpdateApproval(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	var req UpdateApprovalStatusRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Fail(w, http.StatusBadRequest, "BAD_JSON", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Fail(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}

	installment, err := h.service.UpdateApprovalStatus(r.Context(), id, req, shared.ActorFromContext(r.Context()).Email)
	if err != nil {
		h.logger.Error("update installment approval", slog.Int64("id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, installment)
}

func (h *Handler) CreditAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "customerId")
	if !ok {
		return
	}
	account, err := h.credit.GetByCustomer(r.Context(), id)
	if err != nil {
		h.logger.Error("read credit account", slog.Int64("customer_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, account)
}

// AdjustCredit applies a manual balance adjustment, positive or negative.
func (h *Handler) AdjustCredit(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "customerId")
	if !ok {
		return
	}
	var req AdjustCreditRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Fail(w, http.StatusBadRequest, "BAD_JSON", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Fail(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}

	account, err := h.credit.Adjust(r.Context(), id, money.FromFloat(req.Amount))
	if err != nil {
		h.logger.Error("adjust credit account", slog.Int64("customer_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, account)
}

// NotImplemented answers endpoints that are reserved but not yet built.
func (h *Handler) NotImplemented(w http.ResponseWriter, _ *http.Request) {
	httpx.Fail(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "this operation is not implemented yet")
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, param string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	if err != nil || id <= 0 {
		httpx.Fail(w, http.StatusBadRequest, "BAD_ID", "invalid "+param)
		return 0, false
	}
	return id, true
}
