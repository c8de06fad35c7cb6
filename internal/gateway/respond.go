// ABOUTME: JSON response and error writing helpers for gateway handlers
// ABOUTME: Every failure becomes a JSON envelope with a machine-readable code

package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/2389/passkey-gateway/internal/apperr"
)

// errorResponse is the uniform failure envelope. No endpoint ever returns
// a bare 5xx without a body.
type errorResponse struct {
	Status  string `json:"status"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

// writeJSON writes v with the given status code.
func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Debug("failed to encode response", "error", err)
	}
}

// writeError classifies err, logs the full detail server-side, and writes
// the sanitized client-visible envelope.
func (g *Gateway) writeError(w http.ResponseWriter, err error) {
	ae := apperr.From(err)

	switch ae.Kind {
	case apperr.Internal, apperr.HTTPClient:
		// Detail (engine stderr, file paths, wrapped causes) stays in logs.
		g.logger.Error("request failed", "kind", ae.Kind.String(), "error", ae)
	default:
		g.logger.Info("request rejected", "kind", ae.Kind.String(), "reason", ae.Msg)
	}

	g.writeJSON(w, ae.Kind.HTTPStatus(), errorResponse{
		Status:  StatusError,
		Error:   ae.Kind.String(),
		Message: ae.ClientMessage(),
	})
}
