// ABOUTME: Gateway wiring: ceremony engine, token issuer, relay client, HTTP server
// ABOUTME: Owns route registration, middleware, and graceful shutdown

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/2389/passkey-gateway/internal/ceremony"
	"github.com/2389/passkey-gateway/internal/config"
	"github.com/2389/passkey-gateway/internal/identity"
	"github.com/2389/passkey-gateway/internal/relay"
	"github.com/2389/passkey-gateway/internal/token"
)

// shutdownTimeout bounds graceful drain on SIGINT/SIGTERM.
const shutdownTimeout = 10 * time.Second

// Gateway is the assembled authentication gateway.
type Gateway struct {
	cfg        *config.Config
	logger     *slog.Logger
	ceremonies *ceremony.Engine
	relay      *relay.Client
	tlsEngine  relay.Engine
}

// New builds a Gateway from configuration. The process refuses to start on
// a missing or undersized signing secret.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	issuer, err := token.New([]byte(cfg.Auth.JWTSecret), cfg.Auth.Issuer, cfg.Auth.Audiences)
	if err != nil {
		return nil, fmt.Errorf("creating token issuer: %w", err)
	}

	wa, err := webauthn.New(&webauthn.Config{
		RPDisplayName: cfg.WebAuthn.RPDisplayName,
		RPID:          cfg.WebAuthn.RPID,
		RPOrigins:     []string{cfg.WebAuthn.RPOrigin},
	})
	if err != nil {
		return nil, fmt.Errorf("configuring webauthn: %w", err)
	}

	users := identity.NewMemoryStore()
	engine := ceremony.New(wa, users, issuer, cfg.Ceremony.PendingTTL, logger)

	tlsEngine := relay.NewOpenSSLEngine(
		cfg.TLS.OpenSSLPath,
		cfg.TLS.ClientCert,
		cfg.TLS.ClientKey,
		cfg.TLS.CACert,
	)

	return &Gateway{
		cfg:        cfg,
		logger:     logger,
		ceremonies: engine,
		relay:      relay.NewClient(tlsEngine, logger),
		tlsEngine:  tlsEngine,
	}, nil
}

// Handler returns the fully assembled HTTP handler.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /auth/register", g.handleRegister)
	mux.HandleFunc("POST /auth/verify-register", g.handleVerifyRegister)
	mux.HandleFunc("POST /auth/login", g.handleLogin)
	mux.HandleFunc("POST /auth/verify-login", g.handleVerifyLogin)

	mux.HandleFunc("GET /api/auth/verify", g.handleVerify)
	mux.HandleFunc("POST /api/auth/verify", g.handleVerify)

	mux.HandleFunc("GET /health", g.handleHealth)

	return g.withSecurityHeaders(g.withCORS(mux))
}

// Run starts the HTTP server and blocks until ctx is cancelled or the
// server fails.
func (g *Gateway) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              g.cfg.Server.HTTPAddr,
		Handler:           g.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	g.logger.Info("shutting down")
	g.ceremonies.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// handleHealth handles GET /health.
func (g *Gateway) handleHealth(w http.ResponseWriter, _ *http.Request) {
	g.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// withCORS restricts cross-origin access to the configured RP origin.
func (g *Gateway) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", g.cfg.WebAuthn.RPOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		w.Header().Set("Access-Control-Allow-Credentials", "true")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withSecurityHeaders adds the transport-security header in production.
func (g *Gateway) withSecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.cfg.Server.Production {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		next.ServeHTTP(w, r)
	})
}
