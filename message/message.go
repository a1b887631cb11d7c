// Package message defines the RPC message structure exchanged between client and server.
//
// RPCMessage is the "envelope" for every RPC call. It gets serialized by the codec layer
// and wrapped in a protocol frame for transmission over TCP.
package message

// RPCMessage carries the data for a single RPC request or response.
//
//   - On request:  ServiceMethod is set, Metadata carries credentials such as the
//     session token, Payload contains the serialized args.
//   - On response: Payload contains the serialized reply; ErrorKind and Error are
//     non-empty if the call failed.
type RPCMessage struct {
	ServiceMethod string            `json:"serviceMethod"`       // Format: "ServiceName.MethodName", e.g., "Account.Profile"
	Metadata      map[string]string `json:"metadata,omitempty"`  // Lower-case keys, e.g., "authorization"
	ErrorKind     string            `json:"errorKind,omitempty"` // Stable error kind, see package rpcerr
	Error         string            `json:"error,omitempty"`     // Human readable error message
	Payload       []byte            `json:"payload,omitempty"`   // Serialized args (request) or reply (response) as JSON bytes
}

// Failed reports whether the message is an error response.
func (m *RPCMessage) Failed() bool {
	return m.ErrorKind != "" || m.Error != ""
}

// Reply builds a successful response for m.
func (m *RPCMessage) Reply(payload []byte) *RPCMessage {
	return &RPCMessage{ServiceMethod: m.ServiceMethod, Payload: payload}
}

// Fail builds an error response for m.
func (m *RPCMessage) Fail(kind, msg string) *RPCMessage {
	return &RPCMessage{ServiceMethod: m.ServiceMethod, ErrorKind: kind, Error: msg}
}
