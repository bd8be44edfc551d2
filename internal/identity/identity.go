// Package identity describes the signed-in user and verifies the bearer
// tokens that carry it.
package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Identity is supplied by the identity provider. Only ID is used to
// partition data; the other fields are informational.
type Identity struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName,omitempty"`
	IsAnonymous bool   `json:"isAnonymous"`
}

// Anonymous returns a fresh anonymous identity.
func Anonymous() Identity {
	return Identity{ID: "anon-" + uuid.NewString(), IsAnonymous: true}
}

// Claims is the JWT payload carrying an identity.
type Claims struct {
	Name      string `json:"name,omitempty"`
	Anonymous bool   `json:"anon,omitempty"`
	jwt.RegisteredClaims
}

var errNoSecret = errors.New("signing secret is empty")

// Verifier issues and verifies HS256 identity tokens. A verifier with an
// empty secret refuses to issue or accept any token.
type Verifier struct {
	secret []byte
	ttl    time.Duration
}

// NewVerifier creates a token verifier for the given shared secret.
func NewVerifier(secret string, ttl time.Duration) *Verifier {
	return &Verifier{secret: []byte(secret), ttl: ttl}
}

// Issue signs a token for id.
func (v *Verifier) Issue(id Identity) (string, error) {
	if len(v.secret) == 0 {
		return "", errNoSecret
	}
	if id.ID == "" {
		return "", fmt.Errorf("identity id is required")
	}
	now := time.Now()
	claims := &Claims{
		Name:      id.DisplayName,
		Anonymous: id.IsAnonymous,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.ID,
			Issuer:    "study-tracker",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(v.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// Verify parses a token and returns the identity it carries.
func (v *Verifier) Verify(token string) (Identity, error) {
	if len(v.secret) == 0 {
		return Identity{}, errNoSecret
	}
	if token == "" {
		return Identity{}, errors.New("token is empty")
	}
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return Identity{}, fmt.Errorf("parse token: %w", err)
	}
	if !parsed.Valid {
		return Identity{}, errors.New("token is invalid")
	}
	if claims.Subject == "" {
		return Identity{}, errors.New("token has no subject")
	}
	return Identity{
		ID:          claims.Subject,
		DisplayName: claims.Name,
		IsAnonymous: claims.Anonymous,
	}, nil
}
