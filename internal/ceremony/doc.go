// Package ceremony drives the two-phase WebAuthn registration and login
// flows and gates bearer-token issuance on their outcome.
//
// # Flows
//
// Both ceremonies follow the same shape:
//
//  1. Begin: allocate or look up the user, ask the WebAuthn capability for
//     challenge options, park the session in a PendingStore.
//  2. Finish: consume the pending session (exactly once, success or failure),
//     verify the authenticator's response, apply side effects.
//
// Registration's side effect is a new credential bound to the user. Login's
// side effects are the credential counter update and a signed token.
//
// # Pending state
//
// PendingStore holds in-flight sessions keyed by user id. Entries are
// single-use and expire after a configurable TTL; a second Begin for the same
// user overwrites the first, and the stale challenge simply fails
// verification later.
//
// # Login hardening
//
// FinishLogin enforces, in order: signature verification, an explicit
// equality check between the assertion's user handle and the server's user
// id, and best-effort counter bookkeeping. A handle mismatch is always
// reported as an authentication failure, even when verification also failed,
// because it indicates a possible credential substitution attack.
package ceremony
