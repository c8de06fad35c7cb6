// ABOUTME: JWT issuing and verification for ceremony-gated bearer tokens
// ABOUTME: Uses HS256 signing with audience-scoped, 24h claims

package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenTTL is the fixed lifetime of every issued token.
const TokenTTL = 24 * time.Hour

// MinSecretLength is the minimum signing secret length in bytes.
const MinSecretLength = 32

// Token errors
var (
	ErrInvalidToken   = errors.New("invalid token")
	ErrExpiredToken   = errors.New("token expired")
	ErrMissingClaim   = errors.New("missing required claim")
	ErrSecretTooShort = errors.New("signing secret too short")
)

// Claims is the token payload. Every field is fixed at issue time; tokens
// are never stored server-side.
type Claims struct {
	Name string `json:"name"`
	jwt.RegisteredClaims
}

// Issuer mints and verifies HS256 bearer tokens. The secret, issuer string,
// and audience list are process-wide configuration, not ceremony inputs.
type Issuer struct {
	secret    []byte
	issuer    string
	audiences []string
}

// New creates an Issuer. The audience list must enumerate every downstream
// service the gateway fronts.
func New(secret []byte, issuer string, audiences []string) (*Issuer, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("%w: need at least %d bytes, got %d",
			ErrSecretTooShort, MinSecretLength, len(secret))
	}
	if len(audiences) == 0 {
		return nil, errors.New("at least one audience is required")
	}
	return &Issuer{secret: secret, issuer: issuer, audiences: audiences}, nil
}

// Issue creates a signed token for the given user. Expiry is always
// issued-at plus TokenTTL.
func (i *Issuer) Issue(userID, name string) (string, error) {
	now := time.Now()
	claims := Claims{
		Name: name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    i.issuer,
			Audience:  jwt.ClaimStrings(i.audiences),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(TokenTTL)),
		},
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tok.SignedString(i.secret)
}

// Verify validates a token string and returns its claims. Downstream
// middleware uses this to authenticate relayed calls locally.
func (i *Issuer) Verify(tokenString string) (*Claims, error) {
	var claims Claims
	tok, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (interface{}, error) {
		// Only HS256 tokens are ever issued
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return i.secret, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if !tok.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: sub", ErrMissingClaim)
	}

	return &claims, nil
}
