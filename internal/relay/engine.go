// ABOUTME: Handshake engine adapter shelling out to a PQC-capable OpenSSL
// ABOUTME: Negotiates mTLS with a hybrid key-exchange group and returns raw transcripts

package relay

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/2389/passkey-gateway/internal/apperr"
)

// KeyExchangeGroup is the post-quantum hybrid group requested on every
// handshake. Mainstream TLS stacks do not negotiate it yet, which is why
// the handshake runs in an external engine.
const KeyExchangeGroup = "X25519MLKEM768"

// opensslSearchPaths is the documented search order for an OpenSSL 3.5+
// binary, ending with the bare command name.
var opensslSearchPaths = []string{
	"/usr/local/Cellar/openssl@3.5/3.5.0/bin/openssl",
	"/usr/local/opt/openssl@3.5/bin/openssl",
	"/opt/openssl35/bin/openssl",
	"openssl35",
	"openssl",
}

// Output is the raw result of one engine invocation.
type Output struct {
	Stdout string
	Stderr string
	OK     bool // process exited zero
}

// Engine establishes a mutually authenticated, PQC-capable TLS session and
// returns whatever transcript and payload response it produced. The error
// return covers spawn and pipe failures only; a failed handshake comes back
// as Output.OK == false with the engine's own diagnostics.
type Engine interface {
	// Negotiate connects to host:port, optionally writing payload after
	// the handshake. extraArgs tune transcript verbosity.
	Negotiate(ctx context.Context, host string, port int, extraArgs []string, payload []byte) (*Output, error)

	// Version reports the engine's version string.
	Version(ctx context.Context) string

	// CertPaths reports the client certificate and CA bundle in use.
	CertPaths() (clientCert, caCert string)
}

// OpenSSLEngine runs `openssl s_client` as the handshake engine.
type OpenSSLEngine struct {
	binPath    string
	clientCert string
	clientKey  string
	caCert     string
}

// NewOpenSSLEngine creates an engine using the given binary and certificate
// material. An empty binPath triggers the documented search order.
func NewOpenSSLEngine(binPath, clientCert, clientKey, caCert string) *OpenSSLEngine {
	if binPath == "" {
		binPath = FindOpenSSL()
	}
	return &OpenSSLEngine{
		binPath:    binPath,
		clientCert: clientCert,
		clientKey:  clientKey,
		caCert:     caCert,
	}
}

// FindOpenSSL locates an OpenSSL binary. OPENSSL_PATH wins; otherwise the
// first path that answers `version` is used, falling back to "openssl".
func FindOpenSSL() string {
	if p := os.Getenv("OPENSSL_PATH"); p != "" {
		return p
	}
	for _, p := range opensslSearchPaths {
		if err := exec.Command(p, "version").Run(); err == nil {
			return p
		}
	}
	return "openssl"
}

func (e *OpenSSLEngine) Negotiate(ctx context.Context, host string, port int, extraArgs []string, payload []byte) (*Output, error) {
	args := []string{
		"s_client",
		"-connect", fmt.Sprintf("%s:%d", host, port),
		"-cert", e.clientCert,
		"-key", e.clientKey,
		"-CAfile", e.caCert,
		"-tls1_3",
		"-groups", KeyExchangeGroup,
	}
	args = append(args, extraArgs...)

	cmd := exec.CommandContext(ctx, e.binPath, args...)
	if len(payload) > 0 {
		cmd.Stdin = bytes.NewReader(payload)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	out := &Output{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
		OK:     err == nil,
	}

	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			// Spawn failure: no transcript exists at all.
			return nil, apperr.Wrap(apperr.Internal, "failed to spawn handshake engine", err)
		}
	}
	return out, nil
}

func (e *OpenSSLEngine) Version(ctx context.Context) string {
	out, err := exec.CommandContext(ctx, e.binPath, "version").Output()
	if err != nil {
		return "Unknown"
	}
	return strings.TrimSpace(string(out))
}

func (e *OpenSSLEngine) CertPaths() (string, string) {
	return e.clientCert, e.caCert
}
