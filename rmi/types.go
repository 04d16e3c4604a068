package rmi

import "encoding/json"

// request is a request message.
// Args are positional and each must be JSON-serializable.
type request struct {
	ID     string
	Method string
	Args   []any
}

// inboundRequest is a request message as decoded by the server, with the arguments left encoded until the handler binds them.
type inboundRequest struct {
	ID     string
	Method string
	Args   Args
}

// response is a response message.
// Exactly one response is sent per request. At most one of Result and Error is set;
// a nil Result with a nil Error is a successful call with no return value.
type response struct {
	ID     string
	Result json.RawMessage `json:",omitempty"`
	Error  *wireError      `json:",omitempty"`
}

type wireError struct {
	Code    string
	Message string
}

// Error codes carried in response messages.
const (
	CodeInvalidArgument = "invalid_argument"
	CodeUnknownMethod   = "unknown_method"
	CodeInternal        = "internal"
)
