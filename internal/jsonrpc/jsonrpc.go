// ABOUTME: JSON-RPC 2.0 envelope types and the request decoder shared by every binding.
// ABOUTME: Maps malformed envelopes and unknown methods onto the standard error codes.

package jsonrpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Version is the only protocol version accepted on inbound envelopes.
const Version = "2.0"

// Recognized methods.
const (
	MethodToolsList = "tools/list"
	MethodToolsCall = "tools/call"
)

// Standard JSON-RPC error codes
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Request represents a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response represents a JSON-RPC 2.0 response. Exactly one of Result and Error is set.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error represents a JSON-RPC 2.0 error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// NewError creates an error object with the given code and message.
func NewError(code int, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Errorf creates an error object with a formatted message.
func Errorf(code int, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CallParams are the params for tools/call.
type CallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// Decode parses a request envelope. Bytes that are not JSON at all produce a parse
// error; the returned request is nil in that case and the caller must answer with a
// null id. Every other failure returns the partially decoded request so the response
// can echo its id.
func Decode(data []byte) (*Request, *Error) {
	if !json.Valid(data) {
		return nil, NewError(CodeParseError, "invalid JSON")
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil || fields == nil {
		return &Request{}, NewError(CodeInvalidRequest, "request must be a JSON object")
	}

	req := &Request{ID: fields["id"], Params: fields["params"]}
	if raw, ok := fields["jsonrpc"]; ok {
		_ = json.Unmarshal(raw, &req.JSONRPC)
	}
	if req.JSONRPC != Version {
		return req, NewError(CodeInvalidRequest, "invalid JSON-RPC version")
	}

	if raw, ok := fields["method"]; ok {
		if err := json.Unmarshal(raw, &req.Method); err != nil {
			return req, NewError(CodeInvalidRequest, "method must be a string")
		}
	}

	switch req.Method {
	case MethodToolsList, MethodToolsCall:
		return req, nil
	case "":
		return req, NewError(CodeInvalidRequest, "method is required")
	default:
		return req, Errorf(CodeMethodNotFound, "method not found: %s", req.Method)
	}
}

// CallParams decodes the params of a tools/call request. Missing arguments decode to
// an empty map so validators always see an object.
func (r *Request) CallParams() (CallParams, *Error) {
	var params CallParams
	if len(r.Params) > 0 && !bytes.Equal(r.Params, []byte("null")) {
		if err := json.Unmarshal(r.Params, &params); err != nil {
			return params, NewError(CodeInvalidParams, "invalid params")
		}
	}
	if params.Arguments == nil {
		params.Arguments = map[string]any{}
	}
	return params, nil
}

// HasID reports whether the request carries a non-null id.
func (r *Request) HasID() bool {
	return len(r.ID) > 0 && !bytes.Equal(r.ID, []byte("null"))
}

// IDKey renders an id as a plain string usable inside cache keys. String ids are
// unquoted, numeric ids keep their literal form, null or missing ids yield "".
func IDKey(id json.RawMessage) string {
	if len(id) == 0 || bytes.Equal(id, []byte("null")) {
		return ""
	}
	if id[0] == '"' {
		if s, err := strconv.Unquote(string(id)); err == nil {
			return s
		}
	}
	return string(id)
}

// StringID encodes a string as a JSON id.
func StringID(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}

// NewRequest builds a request envelope, marshaling params.
func NewRequest(id json.RawMessage, method string, params any) (*Request, error) {
	req := &Request{JSONRPC: Version, ID: id, Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshaling params: %w", err)
		}
		req.Params = raw
	}
	return req, nil
}

// Result builds a success response, marshaling result. A marshal failure turns into
// an internal error response so callers always get something encodable.
func Result(id json.RawMessage, result any) *Response {
	raw, err := json.Marshal(result)
	if err != nil {
		return Failure(id, NewError(CodeInternalError, "failed to encode result"))
	}
	return &Response{JSONRPC: Version, ID: id, Result: raw}
}

// Failure builds an error response.
func Failure(id json.RawMessage, rpcErr *Error) *Response {
	return &Response{JSONRPC: Version, ID: id, Error: rpcErr}
}
