// ABOUTME: In-memory registry of users and their bound passkey credentials
// ABOUTME: All mutations happen inside the store's lock; callers receive copies

package identity

import (
	"bytes"
	"errors"
	"sync"

	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/google/uuid"
)

// Store errors
var (
	ErrNameTaken          = errors.New("username already exists")
	ErrUserNotFound       = errors.New("user not found")
	ErrCredentialNotFound = errors.New("credential not found")
)

// User is a registered account. The ID doubles as the WebAuthn user handle,
// so it must be stable and unique for the lifetime of the account.
type User struct {
	ID          string
	Name        string
	Credentials []webauthn.Credential
}

// WebAuthnID implements webauthn.User.
func (u *User) WebAuthnID() []byte { return []byte(u.ID) }

// WebAuthnName implements webauthn.User.
func (u *User) WebAuthnName() string { return u.Name }

// WebAuthnDisplayName implements webauthn.User.
func (u *User) WebAuthnDisplayName() string { return u.Name }

// WebAuthnIcon implements webauthn.User. Icons are deprecated by the
// WebAuthn spec and unused here.
func (u *User) WebAuthnIcon() string { return "" }

// WebAuthnCredentials implements webauthn.User.
func (u *User) WebAuthnCredentials() []webauthn.Credential { return u.Credentials }

// clone returns a deep-enough copy for use outside the store lock. The
// credential slice is copied; credential byte slices are shared but treated
// as read-only by all callers.
func (u *User) clone() *User {
	creds := make([]webauthn.Credential, len(u.Credentials))
	copy(creds, u.Credentials)
	return &User{ID: u.ID, Name: u.Name, Credentials: creds}
}

// Store is the user registry consumed by the ceremony engine. Implementations
// must be safe for concurrent use.
type Store interface {
	// Create reserves the username and returns the new user. Fails with
	// ErrNameTaken if the name is already bound, even credential-less.
	Create(name string) (*User, error)

	// ByName returns a copy of the user with the given name.
	ByName(name string) (*User, error)

	// ByID returns a copy of the user with the given id.
	ByID(id string) (*User, error)

	// AddCredential appends a credential to the user's list.
	AddCredential(userID string, cred webauthn.Credential) error

	// UpdateCredential replaces the stored credential with the same ID,
	// advancing its signature counter. Fails with ErrCredentialNotFound
	// when no credential matches.
	UpdateCredential(userID string, cred webauthn.Credential) error
}

// MemoryStore is the in-memory Store used by the gateway. Users are never
// deleted in this design.
type MemoryStore struct {
	mu     sync.Mutex
	users  map[string]*User // keyed by user id
	byName map[string]string
}

// NewMemoryStore creates an empty user registry.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:  make(map[string]*User),
		byName: make(map[string]string),
	}
}

func (s *MemoryStore) Create(name string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byName[name]; exists {
		return nil, ErrNameTaken
	}

	user := &User{
		ID:   uuid.New().String(),
		Name: name,
	}
	s.users[user.ID] = user
	s.byName[name] = user.ID
	return user.clone(), nil
}

func (s *MemoryStore) ByName(name string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byName[name]
	if !ok {
		return nil, ErrUserNotFound
	}
	return s.users[id].clone(), nil
}

func (s *MemoryStore) ByID(id string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	return user.clone(), nil
}

func (s *MemoryStore) AddCredential(userID string, cred webauthn.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	user.Credentials = append(user.Credentials, cred)
	return nil
}

func (s *MemoryStore) UpdateCredential(userID string, cred webauthn.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	for i := range user.Credentials {
		if bytes.Equal(user.Credentials[i].ID, cred.ID) {
			user.Credentials[i] = cred
			return nil
		}
	}
	return ErrCredentialNotFound
}
