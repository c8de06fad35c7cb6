// ABOUTME: Relay client building HTTP/1.1 requests carried over the handshake engine
// ABOUTME: Parses raw transcripts into a normalized status line, code, and JSON body

package relay

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/2389/passkey-gateway/internal/apperr"
)

// Status is the parsed HTTP status of a relayed response.
type Status struct {
	Code int    `json:"status_code"`
	Line string `json:"status_line"`
}

// IsError reports whether the status code is 4xx or 5xx.
func (s Status) IsError() bool { return s.Code >= 400 }

// ParseStatusLine extracts the numeric code from an HTTP/1.1 status line,
// defaulting to 200 when the line is malformed.
func ParseStatusLine(line string) Status {
	parts := strings.Fields(line)
	code := 200
	if len(parts) >= 2 {
		if n, err := strconv.Atoi(parts[1]); err == nil {
			code = n
		}
	}
	return Status{Code: code, Line: line}
}

// Response is a normalized backend reply.
type Response struct {
	Status Status
	Body   string
}

// Client forwards bearer-authenticated GET requests through the handshake
// engine to the backend.
type Client struct {
	engine Engine
	logger *slog.Logger
}

// NewClient creates a relay client on top of the given engine.
func NewClient(engine Engine, logger *slog.Logger) *Client {
	return &Client{engine: engine, logger: logger}
}

// Get sends a minimal HTTP/1.1 GET over the PQC channel. authHeader is the
// caller's Authorization value, forwarded verbatim when non-empty.
func (c *Client) Get(ctx context.Context, host string, port int, path, authHeader string) (*Response, error) {
	payload := buildRequest(host, path, authHeader)

	out, err := c.engine.Negotiate(ctx, host, port, []string{"-quiet"}, payload)
	if err != nil {
		return nil, err
	}
	if !out.OK {
		c.logger.Error("tls connection failed", "host", host, "port", port,
			"stderr", strings.TrimSpace(out.Stderr))
		return nil, apperr.New(apperr.Internal, "TLS connection failed")
	}

	headers, rawBody, found := strings.Cut(out.Stdout, "\r\n\r\n")
	if !found {
		return nil, apperr.New(apperr.Internal, "invalid HTTP response from backend")
	}

	statusLine, _, _ := strings.Cut(headers, "\r\n")
	if strings.TrimSpace(statusLine) == "" {
		statusLine = "HTTP/1.1 200 OK"
	}

	return &Response{
		Status: ParseStatusLine(statusLine),
		Body:   ExtractJSON(rawBody),
	}, nil
}

// buildRequest assembles the raw HTTP/1.1 request written after the
// handshake. Connection: close makes the engine exit once the backend
// finishes writing.
func buildRequest(host, path, authHeader string) []byte {
	var b strings.Builder
	b.Grow(256)
	fmt.Fprintf(&b, "GET %s HTTP/1.1\r\nHost: %s\r\n", path, host)
	if authHeader != "" {
		fmt.Fprintf(&b, "Authorization: %s\r\n", authHeader)
	}
	b.WriteString("X-Content-Type-Options: nosniff\r\nX-Frame-Options: DENY\r\n")
	b.WriteString("X-XSS-Protection: 1; mode=block\r\nConnection: close\r\n\r\n")
	return []byte(b.String())
}

// ExtractJSON carves the JSON document out of a raw response body: the
// slice from the first '{' through the last '}'. When no balanced braces
// exist, blank lines and chunked-transfer size markers (pure hex digits and
// whitespace) are filtered out instead.
func ExtractJSON(raw string) string {
	if start := strings.IndexByte(raw, '{'); start >= 0 {
		rest := raw[start:]
		if end := strings.LastIndexByte(rest, '}'); end >= 0 {
			return rest[:end+1]
		}
	}

	var kept []string
	for _, line := range strings.Split(raw, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || isHexLine(trimmed) {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

// isHexLine reports whether the line contains only hex digits and
// whitespace, the shape of a chunked-transfer-encoding size marker.
func isHexLine(s string) bool {
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		case r >= 'A' && r <= 'F':
		case r == ' ' || r == '\t' || r == '\r':
		default:
			return false
		}
	}
	return true
}
