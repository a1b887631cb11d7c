package rpcctx

import (
	"context"
	"errors"
	"testing"
	"time"

	"authz-rpc/session"
	"authz-rpc/store"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const addr = "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"

type markerKey struct{}

func testLogger() log.Logger {
	return log.NewLogger(log.DiscardHandler())
}

type countingResolver struct {
	calls int
	sess  *session.Session
	err   error
}

func (r *countingResolver) ResolveSession(context.Context, *Request, *Response) (*session.Session, error) {
	r.calls++
	return r.sess, r.err
}

func TestBuildPopulatesContext(t *testing.T) {
	sess := &session.Session{User: &session.User{Address: addr}}
	resolver := &countingResolver{sess: sess}
	st := store.New(nil, store.DriverPostgres)
	b := NewBuilder(st, resolver)

	req := &Request{Procedure: "Account.Profile", Log: testLogger()}
	resp := &Response{}
	ctx := context.WithValue(context.Background(), markerKey{}, "marker")

	rc, err := b.Build(ctx, req, resp)
	require.NoError(t, err)
	assert.Equal(t, 1, resolver.calls)
	assert.Same(t, req, rc.Request())
	assert.Same(t, resp, rc.Response())
	assert.Same(t, sess, rc.Session())
	assert.Same(t, st, rc.Store())
	assert.Equal(t, req.Log, rc.Logger())
	assert.Equal(t, "marker", rc.Context().Value(markerKey{}))
}

func TestBuildMissingLoggerSkipsResolver(t *testing.T) {
	resolver := &countingResolver{}
	b := NewBuilder(nil, resolver)

	_, err := b.Build(context.Background(), &Request{Procedure: "Health.Ping"}, &Response{})
	assert.ErrorIs(t, err, ErrMissingRequestLogger)

	_, err = b.Build(context.Background(), nil, &Response{})
	assert.ErrorIs(t, err, ErrMissingRequestLogger)
	assert.Zero(t, resolver.calls)
}

func TestBuildPropagatesResolverError(t *testing.T) {
	boom := errors.New("identity provider unavailable")
	b := NewBuilder(nil, &countingResolver{err: boom})

	rc, err := b.Build(context.Background(), &Request{Log: testLogger()}, &Response{})
	assert.Nil(t, rc)
	assert.Same(t, boom, err)
}

func TestBuildWithCustomLoggerOf(t *testing.T) {
	l := testLogger()
	b := NewBuilder(nil, nil, WithLoggerOf(func(*Request) log.Logger { return l }))

	rc, err := b.Build(context.Background(), &Request{}, &Response{})
	require.NoError(t, err)
	assert.Equal(t, l, rc.Logger())
	assert.Nil(t, rc.Session())
}

func TestWithCopiesLeaveOriginalUntouched(t *testing.T) {
	rc := NewInnerContext(InnerOptions{Logger: testLogger()})
	sess := &session.Session{}
	other := testLogger().New("k", "v")

	derived := rc.WithSession(sess).WithLogger(other)
	assert.Nil(t, rc.Session())
	assert.Same(t, sess, derived.Session())
	assert.Equal(t, other, derived.Logger())
	assert.NotNil(t, rc.Context())
}

type fakeLookup struct {
	token string
	err   error
}

func (f *fakeLookup) LookupSession(_ context.Context, token string) (*session.Session, error) {
	f.token = token
	if f.err != nil {
		return nil, f.err
	}
	return &session.Session{User: &session.User{ID: token}}, nil
}

func TestTokenSessionResolver(t *testing.T) {
	lookup := &fakeLookup{}
	r := TokenSessionResolver(lookup)
	ctx := context.Background()

	sess, err := r.ResolveSession(ctx, &Request{Log: testLogger()}, nil)
	require.NoError(t, err)
	assert.Nil(t, sess)
	assert.Empty(t, lookup.token)

	req := &Request{Log: testLogger(), Metadata: map[string]string{
		AuthorizationKey: "Bearer abc",
		SessionCookieKey: "cookie",
	}}
	sess, err = r.ResolveSession(ctx, req, nil)
	require.NoError(t, err)
	assert.Equal(t, "abc", sess.User.ID)

	req.Metadata[AuthorizationKey] = "Basic xyz"
	sess, err = r.ResolveSession(ctx, req, nil)
	require.NoError(t, err)
	assert.Equal(t, "cookie", sess.User.ID)
}

func TestTokenSessionResolverErrors(t *testing.T) {
	req := &Request{Log: testLogger(), Metadata: map[string]string{SessionCookieKey: "t"}}

	sess, err := TokenSessionResolver(&fakeLookup{err: session.ErrInvalidToken}).ResolveSession(context.Background(), req, nil)
	require.NoError(t, err)
	assert.Nil(t, sess)

	boom := errors.New("db down")
	_, err = TokenSessionResolver(&fakeLookup{err: boom}).ResolveSession(context.Background(), req, nil)
	assert.ErrorIs(t, err, boom)
}

func TestTokenSessionResolverWithoutRequestLogger(t *testing.T) {
	req := &Request{Metadata: map[string]string{AuthorizationKey: "Bearer forged"}}
	r := TokenSessionResolver(session.NewTokenVerifier([]byte("secret")))

	var (
		sess *session.Session
		err  error
	)
	require.NotPanics(t, func() {
		sess, err = r.ResolveSession(context.Background(), req, nil)
	})
	require.NoError(t, err)
	assert.Nil(t, sess)
}

func TestTokenSessionResolverWithVerifier(t *testing.T) {
	v := session.NewTokenVerifier([]byte("secret"))
	token, err := v.Issue(session.User{ID: "1", Address: addr}, time.Minute)
	require.NoError(t, err)

	req := &Request{Log: testLogger(), Metadata: map[string]string{AuthorizationKey: "Bearer " + token}}
	sess, err := TokenSessionResolver(v).ResolveSession(context.Background(), req, nil)
	require.NoError(t, err)
	assert.Equal(t, addr, sess.User.Address)
}
