// ABOUTME: Lenient extraction of structured handshake facts from engine transcripts
// ABOUTME: Missing facts degrade to a sentinel value, never to an error

package relay

import (
	"context"
	"strings"
)

// UnknownFact is the sentinel reported when no label pattern matches.
const UnknownFact = "unknown"

// Facts holds the handshake properties scraped from a transcript. The
// engine's output format varies by verbosity flag, so every field is
// best-effort.
type Facts struct {
	Protocol      string
	Cipher        string
	KeyExchange   string
	SignatureType string
}

// Info is the externally visible tls_info document.
type Info struct {
	Connection     string    `json:"connection"`
	Protocol       string    `json:"protocol"`
	Cipher         string    `json:"cipher"`
	KeyExchange    string    `json:"key_exchange"`
	SignatureType  string    `json:"signature_type"`
	PQCEnabled     bool      `json:"pqc_enabled"`
	Certificates   CertPaths `json:"certificates"`
	OpenSSLVersion string    `json:"openssl_version"`
}

// CertPaths names the certificate material used for the session.
type CertPaths struct {
	Client string `json:"client"`
	CA     string `json:"ca"`
}

// ExtractFacts scans a transcript line-by-line for known label patterns.
// For each fact the substring after the first colon of the first matching
// line is taken; cipher values embedded mid-line are truncated to start at
// the TLS_ prefix token.
func ExtractFacts(transcript string) Facts {
	return Facts{
		Protocol:      extractValue(transcript, []string{"Protocol version:", "Protocol:"}),
		Cipher:        normalizeCipher(extractValue(transcript, []string{"Ciphersuite:", "Cipher is", "Cipher:"})),
		KeyExchange:   extractValue(transcript, []string{"Negotiated TLS1.3 group:", "Server Temp Key:"}),
		SignatureType: extractValue(transcript, []string{"Signature type:"}),
	}
}

// extractValue tries each pattern in order against every transcript line,
// returning the trimmed text after the first colon of the first hit.
func extractValue(transcript string, patterns []string) string {
	for _, pattern := range patterns {
		for _, line := range strings.Split(transcript, "\n") {
			if !strings.Contains(line, pattern) {
				continue
			}
			_, rest, found := strings.Cut(line, ":")
			if !found {
				continue
			}
			if value := strings.TrimSpace(rest); value != "" {
				return value
			}
		}
	}
	return UnknownFact
}

// normalizeCipher strips any prose before an embedded cipher suite name.
func normalizeCipher(cipher string) string {
	if cipher == UnknownFact {
		return cipher
	}
	if pos := strings.Index(cipher, "TLS_"); pos > 0 {
		return strings.TrimSpace(cipher[pos:])
	}
	return cipher
}

// CollectInfo performs a diagnostic handshake and assembles the tls_info
// document. Extraction never fails the request: a refused connection still
// yields a document describing the failure.
func CollectInfo(ctx context.Context, engine Engine) Info {
	clientCert, caCert := engine.CertPaths()
	info := Info{
		Connection:    "Error: handshake engine unavailable",
		Protocol:      UnknownFact,
		Cipher:        UnknownFact,
		KeyExchange:   UnknownFact,
		SignatureType: UnknownFact,
		PQCEnabled:    true,
		Certificates: CertPaths{
			Client: clientCert,
			CA:     caCert,
		},
		OpenSSLVersion: engine.Version(ctx),
	}
	return info
}

// CollectInfoFor performs the handshake against host:port using the
// `-brief` transcript format and fills in the negotiated facts.
func CollectInfoFor(ctx context.Context, engine Engine, host string, port int) Info {
	info := CollectInfo(ctx, engine)

	out, err := engine.Negotiate(ctx, host, port, []string{"-brief"}, nil)
	if err != nil {
		return info
	}

	if out.OK {
		info.Connection = "Successful"
	} else {
		info.Connection = "Error: " + strings.TrimSpace(out.Stderr)
	}

	// -brief writes the negotiation summary to stderr; older engines use
	// stdout. Scan both.
	facts := ExtractFacts(out.Stdout + "\n" + out.Stderr)
	info.Protocol = facts.Protocol
	info.Cipher = facts.Cipher
	info.KeyExchange = facts.KeyExchange
	info.SignatureType = facts.SignatureType
	return info
}
