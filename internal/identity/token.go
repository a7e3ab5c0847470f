package identity

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrRevoked         = fmt.Errorf("%w: token revoked", ErrUnauthenticated)
)

// Claims mirrors the access tokens issued by the identity provider:
// sub is the user id, email the handle, jti the token id used for
// revocation.
type Claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// Verifier issues and validates HS256 access tokens. Tokens of a user can
// be revoked before they expire.
type Verifier struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time

	mu      sync.Mutex
	issued  map[string]map[string]time.Time // user id -> token id -> expiry
	revoked map[string]time.Time            // token id -> expiry
}

func NewVerifier(secret, issuer string, ttl time.Duration) *Verifier {
	return &Verifier{
		secret:  []byte(secret),
		issuer:  issuer,
		ttl:     ttl,
		now:     time.Now,
		issued:  make(map[string]map[string]time.Time),
		revoked: make(map[string]time.Time),
	}
}

// Issue signs a token for id.
func (v *Verifier) Issue(id Identity) (string, error) {
	now := v.now()
	exp := now.Add(v.ttl)
	claims := Claims{
		Email: id.Handle,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   id.UserID,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	v.mu.Lock()
	tokens := v.issued[id.UserID]
	if tokens == nil {
		tokens = make(map[string]time.Time)
		v.issued[id.UserID] = tokens
	}
	for jti, until := range tokens {
		if !until.After(now) {
			delete(tokens, jti)
		}
	}
	tokens[claims.ID] = exp
	v.mu.Unlock()
	return token, nil
}

// Revoke invalidates every token issued so far for userID and returns how
// many were still live. Tokens issued afterwards are unaffected.
func (v *Verifier) Revoke(userID string) int {
	now := v.now()

	v.mu.Lock()
	defer v.mu.Unlock()
	for jti, until := range v.revoked {
		if !until.After(now) {
			delete(v.revoked, jti)
		}
	}

	n := 0
	for jti, until := range v.issued[userID] {
		if until.After(now) {
			v.revoked[jti] = until
			n++
		}
	}
	delete(v.issued, userID)
	return n
}

// Verify parses raw and returns the Identity it carries.
func (v *Verifier) Verify(raw string) (Identity, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims,
		func(*jwt.Token) (any, error) { return v.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(v.issuer),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}

	id := Identity{UserID: claims.Subject, Handle: claims.Email}
	if !id.Valid() {
		return Identity{}, fmt.Errorf("%w: token has no subject", ErrUnauthenticated)
	}
	if claims.ID == "" {
		return Identity{}, fmt.Errorf("%w: token has no id", ErrUnauthenticated)
	}

	v.mu.Lock()
	_, revoked := v.revoked[claims.ID]
	v.mu.Unlock()
	if revoked {
		return Identity{}, ErrRevoked
	}
	return id, nil
}
