// ABOUTME: WebAuthn ceremony engine driving registration and login flows
// ABOUTME: Gates token issuance on verification, user-handle binding, and counter bookkeeping

package ceremony

import (
	"encoding/hex"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/2389/passkey-gateway/internal/apperr"
	"github.com/2389/passkey-gateway/internal/identity"
	"github.com/2389/passkey-gateway/internal/token"
)

// Verifier is the WebAuthn capability the engine delegates cryptographic
// work to. *webauthn.WebAuthn satisfies it; tests inject fakes.
type Verifier interface {
	BeginRegistration(user webauthn.User, opts ...webauthn.RegistrationOption) (*protocol.CredentialCreation, *webauthn.SessionData, error)
	CreateCredential(user webauthn.User, session webauthn.SessionData, response *protocol.ParsedCredentialCreationData) (*webauthn.Credential, error)
	BeginLogin(user webauthn.User, opts ...webauthn.LoginOption) (*protocol.CredentialAssertion, *webauthn.SessionData, error)
	ValidateLogin(user webauthn.User, session webauthn.SessionData, response *protocol.ParsedCredentialAssertionData) (*webauthn.Credential, error)
}

// Engine drives the two-phase WebAuthn ceremonies. Per user and ceremony
// kind the state machine is NONE -> PENDING (start) -> NONE (finish, on
// success or failure); completion is represented only by its side effects.
type Engine struct {
	webauthn      Verifier
	users         identity.Store
	registrations *PendingStore[webauthn.SessionData]
	logins        *PendingStore[webauthn.SessionData]
	tokens        *token.Issuer
	logger        *slog.Logger
}

// New creates a ceremony engine. pendingTTL bounds how long an abandoned
// start can be finished.
func New(verifier Verifier, users identity.Store, tokens *token.Issuer, pendingTTL time.Duration, logger *slog.Logger) *Engine {
	return &Engine{
		webauthn:      verifier,
		users:         users,
		registrations: NewPendingStore[webauthn.SessionData](pendingTTL),
		logins:        NewPendingStore[webauthn.SessionData](pendingTTL),
		tokens:        tokens,
		logger:        logger,
	}
}

// Close releases the pending-store sweep goroutines.
func (e *Engine) Close() {
	e.registrations.Close()
	e.logins.Close()
}

// BeginRegistration allocates a new user and returns the credential
// creation options plus the new user id.
func (e *Engine) BeginRegistration(username string) (*protocol.CredentialCreation, string, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, "", apperr.New(apperr.Authentication, "Username cannot be empty")
	}

	user, err := e.users.Create(username)
	if err != nil {
		if errors.Is(err, identity.ErrNameTaken) {
			return nil, "", apperr.New(apperr.Authentication, "Username already exists")
		}
		return nil, "", apperr.Wrap(apperr.Internal, "creating user", err)
	}

	// Exclude credentials the user already owns. Always empty here since
	// the id is fresh, but kept for symmetry with re-registration flows.
	var opts []webauthn.RegistrationOption
	if exclusions := credentialDescriptors(user.Credentials); len(exclusions) > 0 {
		opts = append(opts, webauthn.WithExclusions(exclusions))
	}

	options, session, err := e.webauthn.BeginRegistration(user, opts...)
	if err != nil {
		return nil, "", apperr.Wrap(apperr.WebAuthn, "failed to create registration challenge", err)
	}

	e.registrations.Put(user.ID, *session)
	e.logger.Info("registration started", "user_id", user.ID, "username", username)

	return options, user.ID, nil
}

// FinishRegistration verifies the authenticator's creation response and
// binds the resulting credential to the user. The pending entry is consumed
// exactly once: success and failure both remove it.
func (e *Engine) FinishRegistration(username string, response *protocol.ParsedCredentialCreationData) error {
	user, err := e.lookupUser(username)
	if err != nil {
		return err
	}

	session, ok := e.registrations.Take(user.ID)
	if !ok {
		return apperr.New(apperr.Authentication, "Registration session expired")
	}

	cred, err := e.webauthn.CreateCredential(user, session, response)
	if err != nil {
		return apperr.Wrap(apperr.WebAuthn, "registration verification failed", err)
	}

	if err := e.users.AddCredential(user.ID, *cred); err != nil {
		return apperr.Wrap(apperr.Internal, "storing credential", err)
	}

	e.logger.Info("registration complete", "user_id", user.ID, "username", username)
	return nil
}

// BeginLogin returns assertion options constrained to the user's exact
// credential set. The server-side allow-list prevents authenticating with
// an unrelated credential even under a forged username.
func (e *Engine) BeginLogin(username string) (*protocol.CredentialAssertion, error) {
	user, err := e.lookupUser(username)
	if err != nil {
		return nil, err
	}

	if len(user.Credentials) == 0 {
		return nil, apperr.New(apperr.Authentication, "No credentials found for user")
	}

	options, session, err := e.webauthn.BeginLogin(user)
	if err != nil {
		return nil, apperr.Wrap(apperr.WebAuthn, "failed to create authentication challenge", err)
	}

	e.logins.Put(user.ID, *session)
	e.logger.Info("login started", "user_id", user.ID, "username", username)

	return options, nil
}

// FinishLogin verifies the assertion and issues a bearer token. Order
// matters: signature verification, then the user-handle binding check, then
// best-effort counter bookkeeping; only after all three does the issuer run.
func (e *Engine) FinishLogin(username string, response *protocol.ParsedCredentialAssertionData) (string, error) {
	user, err := e.lookupUser(username)
	if err != nil {
		return "", err
	}

	session, ok := e.logins.Take(user.ID)
	if !ok {
		return "", apperr.New(apperr.Authentication, "Authentication session expired")
	}

	result, verifyErr := e.webauthn.ValidateLogin(user, session, response)

	// A handle mismatch is always a hard failure, even when the signature
	// verified: it signals a possible credential substitution attack.
	if err := e.verifyUserHandle(response.Response.UserHandle, user.ID); err != nil {
		return "", err
	}
	if verifyErr != nil {
		return "", apperr.Wrap(apperr.WebAuthn, "authentication verification failed", verifyErr)
	}

	if result.Authenticator.CloneWarning {
		e.logger.Warn("credential counter regression, possible cloned authenticator",
			"user_id", user.ID, "credential_id", credentialIDString(result.ID))
	}

	// Counter update is bookkeeping, not a gate. A miss weakens replay
	// detection for that credential but must not fail the request.
	if err := e.users.UpdateCredential(user.ID, *result); err != nil {
		e.logger.Error("could not update credential counter",
			"user_id", user.ID, "credential_id", credentialIDString(result.ID), "error", err)
	}

	tok, err := e.tokens.Issue(user.ID, user.Name)
	if err != nil {
		return "", apperr.Wrap(apperr.Internal, "failed to sign token", err)
	}

	e.logger.Info("login complete", "user_id", user.ID, "username", username)
	return tok, nil
}

// lookupUser trims and resolves a username, mapping the failure modes the
// finish operations share.
func (e *Engine) lookupUser(username string) (*identity.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, apperr.New(apperr.Authentication, "Username cannot be empty")
	}

	user, err := e.users.ByName(username)
	if err != nil {
		if errors.Is(err, identity.ErrUserNotFound) {
			return nil, apperr.New(apperr.Authentication, "User not found")
		}
		return nil, apperr.Wrap(apperr.Internal, "looking up user", err)
	}
	return user, nil
}

// verifyUserHandle checks that the handle embedded in the assertion equals
// the server's own identifier for the user. An absent handle is tolerated
// but logged; authenticators may omit it for allow-list flows.
func (e *Engine) verifyUserHandle(handle []byte, userID string) error {
	if len(handle) == 0 {
		e.logger.Warn("no user handle in authentication response")
		return nil
	}
	if string(handle) != userID {
		return apperr.New(apperr.Authentication,
			"User handle mismatch - possible credential substitution attack")
	}
	return nil
}

// credentialDescriptors converts stored credentials to exclusion descriptors.
func credentialDescriptors(creds []webauthn.Credential) []protocol.CredentialDescriptor {
	descriptors := make([]protocol.CredentialDescriptor, 0, len(creds))
	for _, c := range creds {
		descriptors = append(descriptors, c.Descriptor())
	}
	return descriptors
}

// credentialIDString renders a credential id for log output.
func credentialIDString(id []byte) string {
	return hex.EncodeToString(id)
}
