// Copyright 2026 The Warren Authors
// SPDX-License-Identifier: Apache-2.0

package acp

import "encoding/json"

// defaultProtocolVersion is the protocol version the proxy reports
// when the editor's initialize request does not name one. When the
// editor requests a version, the proxy echoes it: version negotiation
// is the editor's and agents' concern, not the proxy's.
const defaultProtocolVersion = "2025-01-01"

// JSON-RPC 2.0 error codes used by the proxy. The -32000 range below
// the standard codes is reserved for implementation-defined errors.
const (
	codeMethodNotFound  = -32601
	codeSessionNotFound = -32001
	codeSessionFailed   = -32000
)

// message is one JSON-RPC 2.0 envelope, on either side of the proxy.
// All payload fields stay raw: the proxy routes and rewrites, it does
// not interpret agent semantics.
//
// Requests carry ID and Method; notifications carry Method only;
// responses carry ID and exactly one of Result or Error. An envelope
// with neither ID nor Method is invalid and is discarded on receipt.
type message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

// rpcError is a JSON-RPC 2.0 error object.
type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// isNotification reports whether the message has no ID and therefore
// must never receive a reply.
func (m *message) isNotification() bool {
	return len(m.ID) == 0
}

// isValid reports whether the envelope is a routable JSON-RPC message:
// it must carry a method (request or notification) or an id (response).
func (m *message) isValid() bool {
	return m.Method != "" || len(m.ID) > 0
}

// isResponse reports whether the message is a reply to an earlier
// request: it carries an id but no method.
func (m *message) isResponse() bool {
	return m.Method == "" && len(m.ID) > 0
}

// resultMessage builds a success response. result must marshal
// cleanly; the types the proxy responds with are all its own, so a
// marshal failure is a programming error and panics.
func resultMessage(id json.RawMessage, result any) message {
	encoded, err := json.Marshal(result)
	if err != nil {
		panic("acp: marshaling response result: " + err.Error())
	}
	return message{JSONRPC: "2.0", ID: id, Result: encoded}
}

// errorMessage builds an error response.
func errorMessage(id json.RawMessage, code int, text string) message {
	return message{JSONRPC: "2.0", ID: id, Error: &rpcError{Code: code, Message: text}}
}
