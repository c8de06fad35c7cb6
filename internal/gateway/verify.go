// ABOUTME: Relay endpoint forwarding bearer-authenticated calls over the PQC channel
// ABOUTME: Collects handshake facts and normalizes the backend reply into one envelope

package gateway

import (
	"net/http"

	"github.com/2389/passkey-gateway/internal/relay"
)

// handleVerify handles GET|POST /api/auth/verify. The caller's bearer token
// (when present) is forwarded to the backend; the response is normalized
// against the gateway's own authentication verdict.
func (g *Gateway) handleVerify(w http.ResponseWriter, r *http.Request) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		g.logger.Info("forwarding request without authorization header")
	} else {
		g.logger.Info("forwarding request with authorization header")
	}

	host, port := g.cfg.ProxyHostPort()

	// Handshake facts are best-effort: a refused diagnostic handshake
	// still yields a document describing the failure.
	tlsInfo := relay.CollectInfoFor(r.Context(), g.tlsEngine, host, port)

	resp, err := g.relay.Get(r.Context(), host, port, g.cfg.Proxy.Path, authHeader)
	if err != nil {
		g.logger.Error("proxy connection failed", "host", host, "port", port, "error", err)
		g.writeJSON(w, http.StatusOK, RelayFailure(err, tlsInfo))
		return
	}

	g.writeJSON(w, http.StatusOK, Normalize(authHeader, resp, tlsInfo))
}
