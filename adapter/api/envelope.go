// Package api is the HTTP surface: request envelopes, bearer auth with
// tier gating, and handlers for every /v1 endpoint.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	shared "github.com/ramxx/tminus/internal/shared/domain"
)

// envelope is the uniform response shape.
type envelope struct {
	OK        bool   `json:"ok"`
	Data      any    `json:"data,omitempty"`
	Meta      any    `json:"meta,omitempty"`
	Error     string `json:"error,omitempty"`
	ErrorCode string `json:"error_code,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, envelope{OK: true, Data: data})
}

func writeDataMeta(w http.ResponseWriter, status int, data, meta any) {
	writeJSON(w, status, envelope{OK: true, Data: data, Meta: meta})
}

// writeError maps the error taxonomy to HTTP statuses.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	kind := shared.KindOf(err)
	status := statusForKind(kind)

	message := err.Error()
	if kind == shared.KindInternal {
		// Internal details stay in the logs.
		logger.Error("request failed", "error", err)
		message = "internal error"
	}

	writeJSON(w, status, envelope{
		OK:        false,
		Error:     message,
		ErrorCode: shared.CodeOf(err),
	})
}

func statusForKind(kind shared.Kind) int {
	switch kind {
	case shared.KindInvalidArgument:
		return http.StatusBadRequest
	case shared.KindAuthRequired:
		return http.StatusUnauthorized
	case shared.KindForbidden:
		return http.StatusForbidden
	case shared.KindNotFound:
		return http.StatusNotFound
	case shared.KindConflict:
		return http.StatusConflict
	case shared.KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return shared.Wrap(shared.KindInvalidArgument, "malformed_body", err)
	}
	return nil
}
