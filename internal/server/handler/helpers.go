package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/foldmarkets/settld/internal/domain"
)

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain 500.
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

// writeDomainError maps a settlement error to the HTTP status it implies and
// sends the sentinel's message. Unknown errors get a generic 500.
func writeDomainError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	msg := "internal server error"

	for _, m := range errStatus {
		if errors.Is(err, m.sentinel) {
			status = m.status
			msg = m.sentinel.Error()
			break
		}
	}

	writeError(w, status, msg)
}

// errStatus is the one place the sentinel-to-status mapping lives. Order
// matters only in that more specific sentinels come first.
var errStatus = []struct {
	sentinel error
	status   int
}{
	{domain.ErrNotFound, http.StatusNotFound},
	{domain.ErrNotOwner, http.StatusForbidden},
	{domain.ErrInvalidOrder, http.StatusBadRequest},
	{domain.ErrInsufficientBalance, http.StatusUnprocessableEntity},
	{domain.ErrMarketClosed, http.StatusConflict},
	{domain.ErrInsufficientLiquidity, http.StatusUnprocessableEntity},
	{domain.ErrContention, http.StatusServiceUnavailable},
	{domain.ErrTimeout, http.StatusGatewayTimeout},
	{domain.ErrRateLimited, http.StatusTooManyRequests},
}

// parseListOpts extracts standard pagination parameters from the query
// string. Defaults: limit=50 (max 500), offset=0.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	return domain.ListOpts{
		Limit:  limit,
		Offset: offset,
	}
}

// pathParam extracts a named path parameter from the request using Go 1.22+
// built-in routing (http.Request.PathValue).
func pathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}
