// Package relay carries authenticated calls to the backend over a
// post-quantum mTLS channel driven by an external OpenSSL binary, and
// extracts handshake facts from its transcripts.
package relay
