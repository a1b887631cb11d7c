package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/mitchellh/mapstructure"
)

// ErrInvalidToken is returned for tokens that fail signature or claim checks.
// Resolvers treat it as "no session" rather than as a call failure.
var ErrInvalidToken = errors.New("invalid session token")

// tokenClaims mirrors the claims issued for a session.
type tokenClaims struct {
	User      `mapstructure:",squash"`
	ExpiresAt int64 `mapstructure:"exp"`
}

// TokenVerifier issues and verifies HS256 signed session tokens.
type TokenVerifier struct {
	secret []byte
	now    func() time.Time
}

// NewTokenVerifier creates a verifier for the given shared secret.
func NewTokenVerifier(secret []byte) *TokenVerifier {
	return &TokenVerifier{secret: secret, now: time.Now}
}

// Issue signs a token for user that expires after ttl.
func (v *TokenVerifier) Issue(user User, ttl time.Duration) (string, error) {
	now := v.now()
	claims := jwt.MapClaims{
		"sub": user.ID,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	for key, val := range map[string]string{
		"name":    user.Name,
		"email":   user.Email,
		"picture": user.Image,
		"address": user.Address,
	} {
		if val != "" {
			claims[key] = val
		}
	}
	if user.AddressSet {
		claims["address"] = user.Address
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// Verify parses token and returns the session it encodes.
// Only HS256 is accepted; expired tokens fail with ErrInvalidToken.
func (v *TokenVerifier) Verify(token string) (*Session, error) {
	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return nil, ErrInvalidToken
	}

	var tc tokenClaims
	if err := mapstructure.Decode(map[string]interface{}(claims), &tc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	_, tc.User.AddressSet = claims["address"]
	s := &Session{User: &tc.User}
	if tc.ExpiresAt > 0 {
		s.Expires = time.Unix(tc.ExpiresAt, 0)
	}
	return s, nil
}

// LookupSession implements the token lookup used by session resolvers.
func (v *TokenVerifier) LookupSession(_ context.Context, token string) (*Session, error) {
	return v.Verify(token)
}
