package httpx

import (
	"errors"
	"net/http"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// RespondError maps domain errors to HTTP responses with a stable error code.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		Fail(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, shared.ErrValidation):
		Fail(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
	case errors.Is(err, shared.ErrImmutableDocument):
		Fail(w, http.StatusConflict, "IMMUTABLE_DOCUMENT", err.Error())
	case errors.Is(err, shared.ErrInvalidState):
		Fail(w, http.StatusUnprocessableEntity, "INVALID_STATE", err.Error())
	case errors.Is(err, shared.ErrConflict):
		Fail(w, http.StatusConflict, "CONFLICT", err.Error())
	default:
		Fail(w, http.StatusInternalServerError, "INTERNAL_ERROR", "unexpected failure")
	}
}
