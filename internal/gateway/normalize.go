// ABOUTME: Response normalizer reconciling backend JSON with the gateway's own auth verdict
// ABOUTME: Assembles the externally visible envelope for the relay endpoint

package gateway

import (
	"encoding/json"
	"strings"

	"github.com/2389/passkey-gateway/internal/apperr"
	"github.com/2389/passkey-gateway/internal/relay"
)

// Envelope status values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
	StatusWarning = "warning"
)

// bearerPrefix is the only accepted Authorization scheme.
const bearerPrefix = "Bearer "

// Envelope is the externally visible response of the relay endpoint.
type Envelope struct {
	Status          string     `json:"status"`
	BackendResponse any        `json:"backend_response"`
	ProxyInfo       ProxyInfo  `json:"proxy_info"`
	TLSInfo         relay.Info `json:"tls_info"`
}

// ProxyInfo carries the backend's HTTP status metadata.
type ProxyInfo struct {
	StatusLine string `json:"status_line"`
	StatusCode int    `json:"status_code,omitempty"`
	Error      string `json:"error,omitempty"`
}

// IsAuthenticated computes the gateway's local verdict from the presented
// Authorization header. A non-empty value not matching the bearer scheme is
// not authenticated, independent of anything the backend claims.
func IsAuthenticated(authHeader string) bool {
	return authHeader != "" && strings.HasPrefix(authHeader, bearerPrefix)
}

// BackendDocument is a typed view over the backend's loosely-typed JSON
// body. Only the fields this gateway reads or writes go through named
// accessors; the rest passes through untouched.
type BackendDocument struct {
	fields map[string]any
}

// ParseBackendDocument decodes a backend body into a document view. Only
// JSON objects are accepted; arrays and scalars count as unparseable here
// since the contract fields cannot exist on them.
func ParseBackendDocument(body string) (*BackendDocument, error) {
	var fields map[string]any
	if err := json.Unmarshal([]byte(body), &fields); err != nil {
		return nil, err
	}
	return &BackendDocument{fields: fields}, nil
}

// Status returns the backend's self-reported status field, or "".
func (d *BackendDocument) Status() string {
	s, _ := d.fields["status"].(string)
	return s
}

// SetAuthenticated force-overwrites the backend's authenticated field with
// the gateway's verdict. Defense against a backend asserting authentication
// the gateway did not grant.
func (d *BackendDocument) SetAuthenticated(verdict bool) {
	d.fields["authenticated"] = verdict
}

// ClearUserInfo nulls out any user_info the backend attached.
func (d *BackendDocument) ClearUserInfo() {
	if _, ok := d.fields["user_info"]; ok {
		d.fields["user_info"] = nil
	}
}

// MarshalJSON renders the document with its normalized fields.
func (d *BackendDocument) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.fields)
}

// Normalize folds the relayed response, the caller's auth state, and the
// collected handshake facts into one envelope.
func Normalize(authHeader string, resp *relay.Response, tlsInfo relay.Info) Envelope {
	proxyInfo := ProxyInfo{
		StatusLine: resp.Status.Line,
		StatusCode: resp.Status.Code,
	}

	doc, err := ParseBackendDocument(resp.Body)
	if err != nil {
		status := StatusWarning
		if resp.Status.IsError() {
			status = StatusError
		}
		return Envelope{
			Status: status,
			BackendResponse: map[string]any{
				"raw_response": resp.Body,
				"parse_error":  "Failed to parse response as JSON",
			},
			ProxyInfo: proxyInfo,
			TLSInfo:   tlsInfo,
		}
	}

	// Envelope status reflects the pre-normalization backend body.
	status := StatusSuccess
	if doc.Status() == StatusError || resp.Status.IsError() {
		status = StatusError
	}

	verdict := IsAuthenticated(authHeader)
	doc.SetAuthenticated(verdict)
	if !verdict {
		doc.ClearUserInfo()
	}

	return Envelope{
		Status:          status,
		BackendResponse: doc,
		ProxyInfo:       proxyInfo,
		TLSInfo:         tlsInfo,
	}
}

// RelayFailure builds the envelope for a failed relay call. The failure
// description is embedded sanitized; handshake metadata is included even
// when empty.
func RelayFailure(err error, tlsInfo relay.Info) Envelope {
	msg := apperr.From(err).ClientMessage()
	return Envelope{
		Status: StatusError,
		BackendResponse: map[string]any{
			"message": "Proxy error: " + msg,
		},
		ProxyInfo: ProxyInfo{
			StatusLine: "Error",
			Error:      msg,
		},
		TLSInfo: tlsInfo,
	}
}
