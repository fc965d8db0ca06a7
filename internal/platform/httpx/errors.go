package httpx

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/opsdeck/opsdeck/internal/authz"
	"github.com/opsdeck/opsdeck/internal/shared"
)

// StatusCoder lets domain error types pick their own HTTP status.
type StatusCoder interface {
	error
	HTTPStatus() int
}

// RespondError maps domain errors to RFC7807 responses.
func RespondError(w http.ResponseWriter, err error) {
	var authzErr *authz.Error
	var coder StatusCoder
	var fieldErrs validator.ValidationErrors
	switch {
	case errors.As(err, &authzErr):
		Problem(w, http.StatusForbidden, "Forbidden", authzErr.Error())
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, shared.ErrConflict):
		Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, shared.ErrInvalidCredentials):
		Problem(w, http.StatusUnauthorized, "Unauthorized", err.Error())
	case errors.As(err, &coder):
		Problem(w, coder.HTTPStatus(), http.StatusText(coder.HTTPStatus()), coder.Error())
	case errors.As(err, &fieldErrs):
		Problem(w, http.StatusBadRequest, "Validation Failed", fieldErrs.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
