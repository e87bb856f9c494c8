// Package httpx provides HTTP response utilities.
package httpx

import (
	"context"
	"errors"
	"net/http"

	"github.com/odyssey-erp/odyssey-pos/internal/pos"
)

// RespondError maps domain errors to HTTP responses using RFC7807.
// Server and validation messages are passed through verbatim so the
// register UI can show them.
func RespondError(w http.ResponseWriter, err error) {
	var verr *pos.ValidationError
	switch {
	case errors.As(err, &verr):
		problem := ProblemDetail{Title: "Validation Failed", Status: http.StatusBadRequest, Detail: verr.Message}
		if verr.Field != "" {
			problem.Errors = map[string]string{verr.Field: verr.Message}
		}
		WriteProblem(w, problem)
	case errors.Is(err, pos.ErrValidation):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, pos.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, pos.ErrConflict):
		Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, pos.ErrNoCashRegister),
		errors.Is(err, pos.ErrNoSession),
		errors.Is(err, pos.ErrSessionOpen),
		errors.Is(err, pos.ErrSessionClosed),
		errors.Is(err, pos.ErrSubmissionInFlight),
		errors.Is(err, pos.ErrSessionClosing):
		Problem(w, http.StatusConflict, "Precondition Failed", err.Error())
	case errors.Is(err, pos.ErrServer):
		Problem(w, http.StatusBadGateway, "Upstream Error", err.Error())
	case errors.Is(err, pos.ErrNetwork):
		Problem(w, http.StatusServiceUnavailable, "Upstream Unreachable", err.Error())
	case errors.Is(err, pos.ErrPollAbandoned):
		Problem(w, http.StatusAccepted, "Still Processing", err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		Problem(w, http.StatusGatewayTimeout, "Timeout", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
