package message

import (
	"testing"
)

func TestReplyAndFail(t *testing.T) {
	req := &RPCMessage{
		ServiceMethod: "Account.Profile",
		Metadata:      map[string]string{"authorization": "Bearer t"},
		Payload:       []byte(`{}`),
	}

	ok := req.Reply([]byte(`{"name":"alice"}`))
	if ok.Failed() {
		t.Fatal("reply should not be failed")
	}
	if ok.ServiceMethod != req.ServiceMethod || ok.Metadata != nil {
		t.Fatalf("unexpected reply: %+v", ok)
	}

	bad := req.Fail("BAD_REQUEST", "Invalid address: null")
	if !bad.Failed() {
		t.Fatal("fail should be failed")
	}
	if bad.ErrorKind != "BAD_REQUEST" || bad.Error != "Invalid address: null" || bad.Payload != nil {
		t.Fatalf("unexpected failure: %+v", bad)
	}
}
