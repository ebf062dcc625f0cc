// Package handler contains the HTTP handlers for the session betting API.
// Handlers declare the service surface they need locally, so the package
// never depends on concrete service implementations.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/alanyoungcy/betchannel/internal/domain"
)

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError maps the ledger's sentinel errors to HTTP statuses and
// writes the response. Unknown errors fall through to fallbackStatus with
// fallbackMsg so internals never leak to clients.
func writeDomainError(w http.ResponseWriter, err error, fallbackStatus int, fallbackMsg string) {
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		writeError(w, http.StatusBadRequest, "invalid request")
	case errors.Is(err, domain.ErrSessionNotFound), errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, domain.ErrSessionNotOpen):
		writeError(w, http.StatusConflict, "session is not open")
	case errors.Is(err, domain.ErrInsufficientBalance):
		writeError(w, http.StatusBadRequest, "insufficient session balance")
	case errors.Is(err, domain.ErrMarketUnresolved):
		writeError(w, http.StatusConflict, "market is not resolved yet")
	case errors.Is(err, domain.ErrMarketCancelled):
		writeError(w, http.StatusConflict, "market was cancelled")
	default:
		writeError(w, fallbackStatus, fallbackMsg)
	}
}

// decodeJSON decodes the request body into v, rejecting unknown fields.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// pathParam extracts a named path parameter from the request using Go 1.22+
// built-in routing (http.Request.PathValue).
func pathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}
