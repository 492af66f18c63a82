package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
)

// Error kinds surfaced to API clients. Every failure path returns a
// structured body of the shape {error, details}.
const (
	errInvalidInput       = "invalid_input"
	errUnauthorised       = "unauthorised"
	errNotFound           = "not_found"
	errSignalFiltered     = "signal_filtered"
	errIterationLimit     = "iteration_limit"
	errProviderError      = "provider_error"
	errSessionUnavailable = "session_unavailable"
	errLimitReached       = "limit_reached"
	errNotRunning         = "not_running"
	errRateLimited        = "rate_limited"
	errInternal           = "internal_error"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, kind, details string) {
	writeJSON(w, status, map[string]string{
		"error":   kind,
		"details": details,
	})
}

// recoverMiddleware converts handler panics into internal_error responses
// with a correlation id, so a single bad request cannot take the process
// down.
func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				id := uuid.NewString()
				s.logger.Error("gateway.panic",
					"correlation_id", id,
					"path", r.URL.Path,
					"panic", rec)
				writeError(w, http.StatusInternalServerError, errInternal,
					"correlation_id: "+id)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
