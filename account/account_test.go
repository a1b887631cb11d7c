package account

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"authz-rpc/message"
	"authz-rpc/procedure"
	"authz-rpc/rpcctx"
	"authz-rpc/rpcerr"
	"authz-rpc/server"
	"authz-rpc/session"
	"authz-rpc/store"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validAddr = "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"

var accountQuery = regexp.QuoteMeta("FROM accounts WHERE address = $1")

type harness struct {
	svr      *server.Server
	verifier *session.TokenVerifier
	mock     sqlmock.Sqlmock
}

func newHarness(t *testing.T, withStore bool, opts ...procedure.Option) *harness {
	t.Helper()
	h := &harness{verifier: session.NewTokenVerifier([]byte("account-secret"))}
	var st *store.Store
	if withStore {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		t.Cleanup(func() { db.Close() })
		st, h.mock = store.New(db, store.DriverPostgres), mock
	}
	builder := rpcctx.NewBuilder(st, rpcctx.TokenSessionResolver(h.verifier))
	h.svr = server.NewServer(builder, server.WithLogger(log.NewLogger(log.DiscardHandler())))
	require.NoError(t, Register(h.svr, procedure.NewClassifier(opts...)))
	return h
}

func (h *harness) call(t *testing.T, method string, user *session.User, reply any) *message.RPCMessage {
	t.Helper()
	msg := &message.RPCMessage{ServiceMethod: method, Payload: []byte("{}")}
	if user != nil {
		token, err := h.verifier.Issue(*user, time.Hour)
		require.NoError(t, err)
		msg.Metadata = map[string]string{rpcctx.AuthorizationKey: "Bearer " + token}
	}
	resp := h.svr.Dispatch(context.Background(), msg)
	if !resp.Failed() && reply != nil {
		require.NoError(t, json.Unmarshal(resp.Payload, reply))
	}
	return resp
}

func TestPing(t *testing.T) {
	h := newHarness(t, false)

	var reply PingReply
	resp := h.call(t, "Health.Ping", nil, &reply)
	require.False(t, resp.Failed(), resp.Error)
	assert.Equal(t, "ok", reply.Status)
	assert.False(t, reply.Authenticated)

	resp = h.call(t, "Health.Ping", &session.User{ID: "1"}, &reply)
	require.False(t, resp.Failed(), resp.Error)
	assert.True(t, reply.Authenticated)
}

func TestProfileWithoutStore(t *testing.T) {
	h := newHarness(t, false)

	var reply Profile
	resp := h.call(t, "Account.Profile", &session.User{ID: "1", Name: "alice", Address: validAddr}, &reply)
	require.False(t, resp.Failed(), resp.Error)
	assert.Equal(t, validAddr, reply.Address)
	assert.Equal(t, "alice", reply.Name)
	assert.Nil(t, reply.CreatedAt)
}

func TestProfileMergesStoredAccount(t *testing.T) {
	h := newHarness(t, true)
	created := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	h.mock.ExpectQuery(accountQuery).
		WithArgs(validAddr).
		WillReturnRows(sqlmock.NewRows([]string{"address", "user_id", "created_at"}).
			AddRow(validAddr, "42", created))

	var reply Profile
	resp := h.call(t, "Account.Profile", &session.User{ID: "1", Address: strings.ToLower(validAddr)}, &reply)
	require.False(t, resp.Failed(), resp.Error)
	assert.Equal(t, "42", reply.UserID)
	require.NotNil(t, reply.CreatedAt)
	assert.True(t, created.Equal(*reply.CreatedAt))
	assert.NoError(t, h.mock.ExpectationsWereMet())
}

func TestProfileMissingAccountRow(t *testing.T) {
	h := newHarness(t, true)
	h.mock.ExpectQuery(accountQuery).
		WithArgs(validAddr).
		WillReturnRows(sqlmock.NewRows([]string{"address", "user_id", "created_at"}))

	var reply Profile
	resp := h.call(t, "Account.Profile", &session.User{ID: "1", Address: validAddr}, &reply)
	require.False(t, resp.Failed(), resp.Error)
	assert.Equal(t, "1", reply.UserID)
}

func TestProfileStoreFailure(t *testing.T) {
	h := newHarness(t, true)
	h.mock.ExpectQuery(accountQuery).WillReturnError(errors.New("connection reset"))

	resp := h.call(t, "Account.Profile", &session.User{ID: "1", Address: validAddr}, nil)
	assert.Equal(t, string(rpcerr.InternalServerError), resp.ErrorKind)
}

func TestProfileRejectsInvalidSessions(t *testing.T) {
	tests := []struct {
		name    string
		user    *session.User
		message string
	}{
		{"anonymous", nil, "Invalid address: null"},
		{"no address", &session.User{ID: "1"}, "Invalid address: null"},
		{"malformed", &session.User{ID: "1", Address: "0xzz"}, `Invalid address: "0xzz"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// No query is expected: an invalid address never reaches the store.
			h := newHarness(t, true)
			resp := h.call(t, "Account.Profile", tt.user, nil)
			assert.Equal(t, string(rpcerr.BadRequest), resp.ErrorKind)
			assert.Equal(t, tt.message, resp.Error)
			assert.NoError(t, h.mock.ExpectationsWereMet())
		})
	}
}

func TestProfileCheckBeforeExecute(t *testing.T) {
	h := newHarness(t, true, procedure.WithCheckBeforeExecute(true))
	resp := h.call(t, "Account.Profile", &session.User{ID: "1", Address: "0xzz"}, nil)
	assert.Equal(t, string(rpcerr.BadRequest), resp.ErrorKind)
}
