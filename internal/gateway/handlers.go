// ABOUTME: HTTP handlers for the passkey registration and login ceremonies
// ABOUTME: Parses credential payloads and delegates to the ceremony engine

package gateway

import (
	"bytes"
	"encoding/json"
	"net/http"

	"github.com/go-webauthn/webauthn/protocol"

	"github.com/2389/passkey-gateway/internal/apperr"
)

// registerRequest is the JSON request body for POST /auth/register and
// POST /auth/login.
type registerRequest struct {
	Username string `json:"username"`
}

// registerResponse is the JSON response for POST /auth/register.
type registerResponse struct {
	PublicKey *protocol.CredentialCreation `json:"public_key"`
	UserID    string                       `json:"user_id"`
}

// finishRequest is the JSON request body for the two verify endpoints. The
// credential payload is kept raw and parsed by the WebAuthn protocol layer.
type finishRequest struct {
	Username   string          `json:"username"`
	Credential json.RawMessage `json:"credential"`
}

// loginResponse is the JSON response for POST /auth/login.
type loginResponse struct {
	PublicKey *protocol.CredentialAssertion `json:"public_key"`
}

// finishLoginResponse is the JSON response for POST /auth/verify-login.
type finishLoginResponse struct {
	Token string `json:"token"`
}

// handleRegister handles POST /auth/register.
func (g *Gateway) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.writeError(w, apperr.Wrap(apperr.Authentication, "invalid request body", err))
		return
	}

	options, userID, err := g.ceremonies.BeginRegistration(req.Username)
	if err != nil {
		g.writeError(w, err)
		return
	}

	g.writeJSON(w, http.StatusOK, registerResponse{
		PublicKey: options,
		UserID:    userID,
	})
}

// handleVerifyRegister handles POST /auth/verify-register.
func (g *Gateway) handleVerifyRegister(w http.ResponseWriter, r *http.Request) {
	var req finishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.writeError(w, apperr.Wrap(apperr.Authentication, "invalid request body", err))
		return
	}

	parsed, err := protocol.ParseCredentialCreationResponseBody(bytes.NewReader(req.Credential))
	if err != nil {
		g.writeError(w, apperr.Wrap(apperr.WebAuthn, "invalid credential payload", err))
		return
	}

	if err := g.ceremonies.FinishRegistration(req.Username, parsed); err != nil {
		g.writeError(w, err)
		return
	}

	g.writeJSON(w, http.StatusOK, map[string]string{
		"status":  StatusSuccess,
		"message": "Registration successful",
	})
}

// handleLogin handles POST /auth/login.
func (g *Gateway) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.writeError(w, apperr.Wrap(apperr.Authentication, "invalid request body", err))
		return
	}

	options, err := g.ceremonies.BeginLogin(req.Username)
	if err != nil {
		g.writeError(w, err)
		return
	}

	g.writeJSON(w, http.StatusOK, loginResponse{PublicKey: options})
}

// handleVerifyLogin handles POST /auth/verify-login.
func (g *Gateway) handleVerifyLogin(w http.ResponseWriter, r *http.Request) {
	var req finishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.writeError(w, apperr.Wrap(apperr.Authentication, "invalid request body", err))
		return
	}

	parsed, err := protocol.ParseCredentialRequestResponseBody(bytes.NewReader(req.Credential))
	if err != nil {
		g.writeError(w, apperr.Wrap(apperr.WebAuthn, "invalid credential payload", err))
		return
	}

	token, err := g.ceremonies.FinishLogin(req.Username, parsed)
	if err != nil {
		g.writeError(w, err)
		return
	}

	g.writeJSON(w, http.StatusOK, finishLoginResponse{Token: token})
}
