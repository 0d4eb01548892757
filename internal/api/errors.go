package api

import (
	"errors"
	"net/http"

	"github.com/ignite/investor-outreach/internal/domain"
	"github.com/ignite/investor-outreach/internal/pkg/httputil"
	"github.com/ignite/investor-outreach/internal/service/enrollment"
	"github.com/ignite/investor-outreach/internal/service/sequence"
)

// respondError maps service errors to responses. Anything unrecognised is
// logged and reported as a generic 500.
func respondError(w http.ResponseWriter, err error) {
	var verrs domain.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		httputil.ValidationFailed(w, verrs)
	case errors.Is(err, sequence.ErrNotFound):
		httputil.NotFound(w, "sequence not found")
	case errors.Is(err, sequence.ErrStepNotFound):
		httputil.NotFound(w, "step not found")
	case errors.Is(err, enrollment.ErrInvestorNotFound):
		httputil.NotFound(w, "investor not found")
	case errors.Is(err, enrollment.ErrNotFound):
		httputil.NotFound(w, "enrollment not found")
	case errors.Is(err, sequence.ErrInvalidTransition):
		httputil.Conflict(w, err.Error())
	default:
		httputil.InternalError(w, err)
	}
}

// decodeAndValidate decodes the body into req and validates it. It writes
// the error response and returns false on failure.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, req any) bool {
	if !httputil.Decode(w, r, req) {
		return false
	}
	if err := validateRequest(req); err != nil {
		respondError(w, err)
		return false
	}
	return true
}
