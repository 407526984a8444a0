package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"billing-gateway/internal/domain"
)

// StatusFor maps a domain error to the HTTP status returned to the caller.
func StatusFor(err error) int {
	var (
		verification *domain.VerificationError
		reconcile    *domain.ReconciliationError
		unknown      *domain.UnknownGatewayError
		unsupported  *domain.UnsupportedOperationError
		unavailable  *domain.GatewayUnavailableError
		configErr    *domain.ConfigurationError
	)
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &verification), errors.Is(err, domain.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrAdminRequired):
		return http.StatusForbidden
	case errors.As(err, &unknown), errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &unsupported), errors.Is(err, domain.ErrLockNotAcquired), errors.Is(err, domain.ErrGatewayDisabled):
		return http.StatusConflict
	case errors.As(err, &reconcile):
		return http.StatusUnprocessableEntity
	case errors.As(err, &unavailable):
		return http.StatusServiceUnavailable
	case errors.As(err, &configErr):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

type errorBody struct {
	Error   string `json:"error"`
	TraceID string `json:"trace_id,omitempty"`
}

// publicSentinels may be shown to any caller verbatim.
var publicSentinels = []error{
	domain.ErrNotFound,
	domain.ErrInvalidArgument,
	domain.ErrAdminRequired,
	domain.ErrLockNotAcquired,
	domain.ErrGatewayDisabled,
}

// PublicText is what an unauthenticated caller may read about err: the bare
// sentinel text for lookup and input errors, the generic payment message for
// everything else.
func PublicText(err error) string {
	for _, s := range publicSentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return domain.PublicMessage(err)
}

// WriteError renders err as JSON for public routes. The status follows
// StatusFor; the body never carries adapter or signature details.
func WriteError(w http.ResponseWriter, err error, traceID string) {
	WriteJSON(w, StatusFor(err), errorBody{Error: PublicText(err), TraceID: traceID})
}

func WriteJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func itoa(n int) string { return strconv.Itoa(n) }
