package session

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const addr = "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"

func TestClassify(t *testing.T) {
	kind, candidate := Classify(nil)
	assert.Equal(t, KindNone, kind)
	assert.Empty(t, candidate)

	kind, _ = Classify(&Session{})
	assert.Equal(t, KindNoAddress, kind)

	kind, _ = Classify(&Session{User: &User{ID: "1"}})
	assert.Equal(t, KindNoAddress, kind)

	kind, candidate = Classify(&Session{User: &User{Address: addr}})
	assert.Equal(t, KindAddress, kind)
	assert.Equal(t, addr, candidate)
	assert.Equal(t, "address", kind.String())
}

func TestExpired(t *testing.T) {
	now := time.Now()
	var nilSession *Session
	assert.False(t, nilSession.Expired(now))
	assert.False(t, (&Session{}).Expired(now))
	assert.True(t, (&Session{Expires: now.Add(-time.Second)}).Expired(now))
	assert.False(t, (&Session{Expires: now.Add(time.Minute)}).Expired(now))
}

func TestTokenRoundTrip(t *testing.T) {
	v := NewTokenVerifier([]byte("secret"))
	token, err := v.Issue(User{ID: "42", Name: "alice", Address: addr}, time.Hour)
	require.NoError(t, err)

	s, err := v.LookupSession(context.Background(), token)
	require.NoError(t, err)
	require.NotNil(t, s.User)
	assert.Equal(t, "42", s.User.ID)
	assert.Equal(t, "alice", s.User.Name)
	assert.Equal(t, addr, s.User.Address)
	assert.WithinDuration(t, time.Now().Add(time.Hour), s.Expires, 5*time.Second)
}

func TestTokenKeepsEmptyAddressClaim(t *testing.T) {
	v := NewTokenVerifier([]byte("secret"))
	token, err := v.Issue(User{ID: "1", AddressSet: true}, time.Hour)
	require.NoError(t, err)
	s, err := v.Verify(token)
	require.NoError(t, err)
	assert.True(t, s.User.AddressSet)
	assert.Empty(t, s.User.Address)

	token, err = v.Issue(User{ID: "1"}, time.Hour)
	require.NoError(t, err)
	s, err = v.Verify(token)
	require.NoError(t, err)
	assert.False(t, s.User.AddressSet)
}

func TestTokenRejectsWrongSecret(t *testing.T) {
	token, err := NewTokenVerifier([]byte("a")).Issue(User{ID: "1"}, time.Hour)
	require.NoError(t, err)

	_, err = NewTokenVerifier([]byte("b")).Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenRejectsExpired(t *testing.T) {
	v := NewTokenVerifier([]byte("secret"))
	v.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	token, err := v.Issue(User{ID: "1"}, time.Hour)
	require.NoError(t, err)

	_, err = NewTokenVerifier([]byte("secret")).Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenRejectsOtherAlgorithms(t *testing.T) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.MapClaims{"sub": "1"}).SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = NewTokenVerifier([]byte("secret")).Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = NewTokenVerifier([]byte("secret")).Verify("garbage")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
