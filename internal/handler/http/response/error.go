package response

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/cmlabs-hris/attendance-dashboard/internal/domain/dashboard"
	"github.com/cmlabs-hris/attendance-dashboard/internal/pkg/backend"
	"github.com/cmlabs-hris/attendance-dashboard/internal/pkg/storage"
	"github.com/cmlabs-hris/attendance-dashboard/internal/pkg/validator"
)

// HandleError maps domain errors to HTTP responses
func HandleError(w http.ResponseWriter, err error) {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) {
		ValidationError(w, validationErrs.ToMap())
		return
	}

	var apiErr *backend.APIError
	var urlErr *url.Error

	switch {
	// Input errors
	case errors.Is(err, dashboard.ErrInvalidExportFormat):
		ValidationError(w, map[string]string{"format": err.Error()})
	case errors.Is(err, dashboard.ErrInvalidDate):
		ValidationError(w, map[string]string{"date": err.Error()})

	// Control errors
	case errors.Is(err, dashboard.ErrInvalidTransition):
		Conflict(w, err.Error())
	case errors.Is(err, dashboard.ErrRefreshSuperseded):
		Conflict(w, "Refresh superseded by a newer request")
	case errors.Is(err, dashboard.ErrRefreshInFlight):
		Conflict(w, "Refresh already in flight")
	case errors.Is(err, dashboard.ErrUnmounted):
		ServiceUnavailable(w, "Dashboard is shutting down")

	// Backend errors
	case errors.As(err, &apiErr):
		BadGateway(w, apiErr.Error())
	case errors.Is(err, backend.ErrDecode):
		BadGateway(w, "Backend returned a malformed response")
	case errors.As(err, &urlErr):
		BadGateway(w, "Backend unreachable")

	// Storage errors
	case errors.Is(err, storage.ErrNotFound):
		NotFound(w, "Export not found")
	case errors.Is(err, storage.ErrInvalidPath):
		BadRequest(w, "Invalid export path", nil)

	default:
		InternalServerError(w, "An unexpected error occurred")
	}
}
