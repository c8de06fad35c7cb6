// ABOUTME: Error taxonomy shared by the ceremony, token, and relay layers
// ABOUTME: Maps each error kind to an HTTP status and a client-safe message

package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a gateway failure. The kind decides the HTTP status and
// whether the detail may be echoed back to the client.
type Kind int

const (
	// Authentication covers bad, expired, or mismatched credential state.
	// User-facing: the message describes a user-correctable condition.
	Authentication Kind = iota

	// WebAuthn covers ceremony-library rejections (origin, challenge,
	// attestation, signature). The library message is returned sanitized.
	WebAuthn

	// Jwt covers token signing and verification failures.
	Jwt

	// HTTPClient covers relay transport failures. Detail is logged,
	// never returned.
	HTTPClient

	// Internal covers everything else, including handshake engine spawn
	// failures. Detail is logged, never returned.
	Internal
)

// String returns the machine-readable error code for the kind.
func (k Kind) String() string {
	switch k {
	case Authentication:
		return "authentication"
	case WebAuthn:
		return "webauthn"
	case Jwt:
		return "jwt"
	case HTTPClient:
		return "http_client"
	default:
		return "internal"
	}
}

// HTTPStatus returns the HTTP status code for the kind.
func (k Kind) HTTPStatus() int {
	switch k {
	case Authentication, Jwt:
		return http.StatusUnauthorized
	case WebAuthn:
		return http.StatusBadRequest
	case HTTPClient:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Error is a classified gateway error. Msg is what the client may see for
// user-facing kinds; Err carries the wrapped cause for logs.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// ClientMessage returns the message safe to include in a response body.
// Internal and HTTPClient detail stays server-side.
func (e *Error) ClientMessage() string {
	switch e.Kind {
	case HTTPClient:
		return "could not reach backend"
	case Internal:
		return "internal server error"
	default:
		return e.Msg
	}
}

// New creates a classified error with a message.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Newf creates a classified error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap creates a classified error around a cause.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// From extracts the *Error from err, or classifies it as Internal.
func From(err error) *Error {
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return &Error{Kind: Internal, Msg: "internal server error", Err: err}
}
