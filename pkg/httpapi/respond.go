// Package httpapi holds the JSON response helpers and router setup shared by
// the services' HTTP surfaces.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/fjod/commerce-pipeline/pkg/peer"
)

const MaxRequestBodySize = 1 << 20 // 1MB

type ErrorResponse struct {
	Error   string          `json:"error"`
	Code    string          `json:"code,omitempty"`
	Details json.RawMessage `json:"details,omitempty"`
}

func RespondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func RespondError(w http.ResponseWriter, status int, code, message string) {
	RespondJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

// RespondUpstream relays a peer failure: the upstream status and body when the
// peer answered, 502 when it did not.
func RespondUpstream(w http.ResponseWriter, ue *peer.UpstreamError) {
	code := ue.Service + "_unavailable"
	if ue.Status != 0 {
		code = ue.Service + "_error"
	}
	resp := ErrorResponse{Error: ue.Message(), Code: code}
	if len(ue.Body) > 0 && json.Valid(ue.Body) {
		resp.Details = ue.Body
	}
	RespondJSON(w, ue.HTTPStatus(), resp)
}

// RespondInternal logs err and answers with a generic 500.
func RespondInternal(w http.ResponseWriter, r *http.Request, log *slog.Logger, err error) {
	log.ErrorContext(r.Context(), "request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	RespondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
}

// RespondIfUpstream answers with the relayed upstream failure when err carries one.
func RespondIfUpstream(w http.ResponseWriter, err error) bool {
	var ue *peer.UpstreamError
	if errors.As(err, &ue) {
		RespondUpstream(w, ue)
		return true
	}
	return false
}

// DecodeJSON reads a size-limited JSON body into v.
func DecodeJSON(r *http.Request, v any) error {
	body := io.LimitReader(r.Body, MaxRequestBodySize)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}
