// ABOUTME: HTTP-level tests for the ceremony endpoints and the relay endpoint
// ABOUTME: Uses a fake handshake engine; WebAuthn options come from the real library

package gateway

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/passkey-gateway/internal/ceremony"
	"github.com/2389/passkey-gateway/internal/config"
	"github.com/2389/passkey-gateway/internal/identity"
	"github.com/2389/passkey-gateway/internal/relay"
	"github.com/2389/passkey-gateway/internal/token"
)

// fakeRelayEngine answers diagnostic and payload handshakes from canned
// transcripts, keyed by the verbosity flag.
type fakeRelayEngine struct {
	briefOut *relay.Output
	quietOut *relay.Output
}

func (f *fakeRelayEngine) Negotiate(_ context.Context, _ string, _ int, extraArgs []string, _ []byte) (*relay.Output, error) {
	if len(extraArgs) > 0 && extraArgs[0] == "-brief" {
		return f.briefOut, nil
	}
	return f.quietOut, nil
}

func (f *fakeRelayEngine) Version(context.Context) string { return "OpenSSL 3.5.0 8 Apr 2025" }

func (f *fakeRelayEngine) CertPaths() (string, string) {
	return "certs/hybrid-client/client.crt", "certs/hybrid-ca/ca.crt"
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{HTTPAddr: "localhost:3000"},
		Auth: config.AuthConfig{
			JWTSecret: "gateway-handler-test-secret-32by",
			Issuer:    "passkey-gateway",
			Audiences: []string{"quantum-safe-proxy"},
		},
		WebAuthn: config.WebAuthnConfig{
			RPID:          "localhost",
			RPDisplayName: "Passkey Gateway",
			RPOrigin:      "http://localhost:3000",
		},
		Proxy:    config.ProxyConfig{URL: "https://localhost:8443", Path: "/api"},
		Ceremony: config.CeremonyConfig{PendingTTL: time.Minute},
	}
}

func testGateway(t *testing.T, engine relay.Engine) *Gateway {
	t.Helper()

	cfg := testConfig()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	issuer, err := token.New([]byte(cfg.Auth.JWTSecret), cfg.Auth.Issuer, cfg.Auth.Audiences)
	require.NoError(t, err)

	wa, err := webauthn.New(&webauthn.Config{
		RPDisplayName: cfg.WebAuthn.RPDisplayName,
		RPID:          cfg.WebAuthn.RPID,
		RPOrigins:     []string{cfg.WebAuthn.RPOrigin},
	})
	require.NoError(t, err)

	ceremonies := ceremony.New(wa, identity.NewMemoryStore(), issuer, cfg.Ceremony.PendingTTL, logger)
	t.Cleanup(ceremonies.Close)

	return &Gateway{
		cfg:        cfg,
		logger:     logger,
		ceremonies: ceremonies,
		relay:      relay.NewClient(engine, logger),
		tlsEngine:  engine,
	}
}

func doJSON(t *testing.T, handler http.Handler, method, path, body string, header http.Header) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	var decoded map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	}
	return rec, decoded
}

func TestHandleRegister_Success(t *testing.T) {
	g := testGateway(t, &fakeRelayEngine{})
	h := g.Handler()

	rec, body := doJSON(t, h, http.MethodPost, "/auth/register", `{"username":"alice"}`, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.NotNil(t, body["public_key"], "challenge options must be present")

	userID, _ := body["user_id"].(string)
	_, err := uuid.Parse(userID)
	assert.NoError(t, err)
}

func TestHandleRegister_DuplicateUsername(t *testing.T) {
	g := testGateway(t, &fakeRelayEngine{})
	h := g.Handler()

	rec, _ := doJSON(t, h, http.MethodPost, "/auth/register", `{"username":"alice"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, body := doJSON(t, h, http.MethodPost, "/auth/register", `{"username":"alice"}`, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "error", body["status"])
	assert.Equal(t, "authentication", body["error"])
	assert.Equal(t, "Username already exists", body["message"])
}

func TestHandleRegister_EmptyUsername(t *testing.T) {
	g := testGateway(t, &fakeRelayEngine{})

	rec, body := doJSON(t, g.Handler(), http.MethodPost, "/auth/register", `{"username":"  "}`, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Username cannot be empty", body["message"])
}

func TestHandleRegister_MalformedBody(t *testing.T) {
	g := testGateway(t, &fakeRelayEngine{})

	rec, body := doJSON(t, g.Handler(), http.MethodPost, "/auth/register", `{nope`, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid request body", body["message"])
}

func TestHandleVerifyRegister_InvalidCredential(t *testing.T) {
	g := testGateway(t, &fakeRelayEngine{})
	h := g.Handler()

	rec, _ := doJSON(t, h, http.MethodPost, "/auth/register", `{"username":"alice"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, body := doJSON(t, h, http.MethodPost, "/auth/verify-register",
		`{"username":"alice","credential":{"id":"nope"}}`, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "webauthn", body["error"])
}

func TestHandleLogin_UnknownUser(t *testing.T) {
	g := testGateway(t, &fakeRelayEngine{})

	rec, body := doJSON(t, g.Handler(), http.MethodPost, "/auth/login", `{"username":"nobody"}`, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "User not found", body["message"])
}

func TestHandleLogin_NoCredentials(t *testing.T) {
	g := testGateway(t, &fakeRelayEngine{})
	h := g.Handler()

	rec, _ := doJSON(t, h, http.MethodPost, "/auth/register", `{"username":"alice"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, body := doJSON(t, h, http.MethodPost, "/auth/login", `{"username":"alice"}`, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "No credentials found for user", body["message"])
}

func TestHandleVerify_NormalizesBackendClaims(t *testing.T) {
	engine := &fakeRelayEngine{
		briefOut: &relay.Output{
			Stderr: "Protocol version: TLSv1.3\nCiphersuite: TLS_AES_256_GCM_SHA384\nNegotiated TLS1.3 group: X25519MLKEM768\nSignature type: mldsa87\n",
			OK:     true,
		},
		quietOut: &relay.Output{
			Stdout: "HTTP/1.1 200 OK\r\nContent-Type: application/json\r\n\r\n" +
				`{"status":"success","authenticated":true,"user_info":{"username":"mallory"}}`,
			OK: true,
		},
	}
	g := testGateway(t, engine)

	// No Authorization header: the backend's authenticated claim must be
	// forced to false and its user_info dropped.
	rec, body := doJSON(t, g.Handler(), http.MethodGet, "/api/auth/verify", "", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "success", body["status"])

	backend := body["backend_response"].(map[string]any)
	assert.Equal(t, false, backend["authenticated"])
	assert.Nil(t, backend["user_info"])

	tlsInfo := body["tls_info"].(map[string]any)
	assert.Equal(t, "Successful", tlsInfo["connection"])
	assert.Equal(t, "TLSv1.3", tlsInfo["protocol"])
	assert.Equal(t, "X25519MLKEM768", tlsInfo["key_exchange"])

	proxyInfo := body["proxy_info"].(map[string]any)
	assert.Equal(t, "HTTP/1.1 200 OK", proxyInfo["status_line"])
	assert.Equal(t, float64(200), proxyInfo["status_code"])
}

func TestHandleVerify_BearerCallerKeepsUserInfo(t *testing.T) {
	engine := &fakeRelayEngine{
		briefOut: &relay.Output{Stderr: "connect:errno=111\n", OK: false},
		quietOut: &relay.Output{
			Stdout: "HTTP/1.1 200 OK\r\n\r\n" +
				`{"status":"success","authenticated":false,"user_info":{"username":"alice"}}`,
			OK: true,
		},
	}
	g := testGateway(t, engine)

	header := http.Header{}
	header.Set("Authorization", "Bearer tok-123")
	rec, body := doJSON(t, g.Handler(), http.MethodGet, "/api/auth/verify", "", header)

	require.Equal(t, http.StatusOK, rec.Code)
	backend := body["backend_response"].(map[string]any)
	assert.Equal(t, true, backend["authenticated"])
	assert.NotNil(t, backend["user_info"])
}

func TestHandleVerify_RelayFailureEnvelope(t *testing.T) {
	engine := &fakeRelayEngine{
		briefOut: &relay.Output{Stderr: "connect:errno=111\n", OK: false},
		quietOut: &relay.Output{Stderr: "connect:errno=111\n", OK: false},
	}
	g := testGateway(t, engine)

	// Transport failure still answers 200 with a structured envelope.
	rec, body := doJSON(t, g.Handler(), http.MethodGet, "/api/auth/verify", "", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "error", body["status"])

	backend := body["backend_response"].(map[string]any)
	assert.Equal(t, "Proxy error: internal server error", backend["message"])

	proxyInfo := body["proxy_info"].(map[string]any)
	assert.Equal(t, "Error", proxyInfo["status_line"])

	tlsInfo := body["tls_info"].(map[string]any)
	assert.Equal(t, "Error: connect:errno=111", tlsInfo["connection"])
}

func TestHandleHealth(t *testing.T) {
	g := testGateway(t, &fakeRelayEngine{})

	rec, body := doJSON(t, g.Handler(), http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
}

func TestCORSPreflight(t *testing.T) {
	g := testGateway(t, &fakeRelayEngine{})

	req := httptest.NewRequest(http.MethodOptions, "/auth/register", nil)
	rec := httptest.NewRecorder()
	g.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "GET, POST, OPTIONS", rec.Header().Get("Access-Control-Allow-Methods"))
	assert.Equal(t, "Authorization, Content-Type", rec.Header().Get("Access-Control-Allow-Headers"))
}

func TestSecurityHeaders_ProductionOnly(t *testing.T) {
	g := testGateway(t, &fakeRelayEngine{})

	rec, _ := doJSON(t, g.Handler(), http.MethodGet, "/health", "", nil)
	assert.Empty(t, rec.Header().Get("Strict-Transport-Security"))

	g.cfg.Server.Production = true
	rec, _ = doJSON(t, g.Handler(), http.MethodGet, "/health", "", nil)
	assert.Equal(t, "max-age=31536000; includeSubDomains",
		rec.Header().Get("Strict-Transport-Security"))
}
