// Package handler implements the REST endpoints over the position ledger.
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/perpbot/internal/domain"
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

// decodeJSON reads the request body into v. An empty body leaves v as is.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

var statusBySentinel = []struct {
	err    error
	status int
}{
	{domain.ErrInvalidLeverage, http.StatusBadRequest},
	{domain.ErrInvalidPair, http.StatusBadRequest},
	{domain.ErrInvalidSize, http.StatusBadRequest},
	{domain.ErrInvalidSide, http.StatusBadRequest},
	{domain.ErrInvalidPlan, http.StatusBadRequest},
	{domain.ErrInvalidMode, http.StatusBadRequest},
	{domain.ErrOrderExpired, http.StatusBadRequest},
	{domain.ErrPositionNotFound, http.StatusNotFound},
	{domain.ErrNotFound, http.StatusNotFound},
	{domain.ErrProtectionDisabled, http.StatusConflict},
	{domain.ErrDuplicateOrder, http.StatusConflict},
	{domain.ErrInsufficientBalance, http.StatusUnprocessableEntity},
	{domain.ErrRateLimited, http.StatusTooManyRequests},
	{domain.ErrExecutionFailure, http.StatusBadGateway},
	{domain.ErrPriceUnavailable, http.StatusServiceUnavailable},
	{domain.ErrLockHeld, http.StatusServiceUnavailable},
}

// statusFor maps a service error to its HTTP status.
func statusFor(err error) int {
	for _, s := range statusBySentinel {
		if errors.Is(err, s.err) {
			return s.status
		}
	}
	return http.StatusInternalServerError
}

// writeServiceError maps err to a status and writes it. Server-side
// failures are logged and their detail hidden from the client.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError && status != http.StatusBadGateway && status != http.StatusServiceUnavailable {
		logger.ErrorContext(r.Context(), "handler: "+op+" failed", slog.String("error", err.Error()))
		writeError(w, status, op+" failed")
		return
	}
	writeError(w, status, err.Error())
}

// accountParam returns the {account} path value.
func accountParam(r *http.Request) string {
	return r.PathValue("account")
}

// queryFloat parses a float query parameter, returning def when absent.
func queryFloat(r *http.Request, name string, def float64) (float64, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	return strconv.ParseFloat(v, 64)
}
