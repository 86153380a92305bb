// ABOUTME: Binding-independent request handling: decode, tools/list, and tools/call.
// ABOUTME: Maps registry and validation failures onto JSON-RPC error codes.

package mcp

import (
	"context"
	"errors"

	"github.com/2389/market-gateway/internal/jsonrpc"
	"github.com/2389/market-gateway/internal/tools"
)

// toolCall is a tools/call request whose arguments passed validation.
type toolCall struct {
	name string
	args map[string]any
}

// decode parses body. On failure the returned response is the terminal error envelope.
func (s *Server) decode(body []byte) (*jsonrpc.Request, *jsonrpc.Response) {
	req, rpcErr := jsonrpc.Decode(body)
	if rpcErr != nil {
		var id []byte
		if req != nil {
			id = req.ID
		}
		s.logger.Debug("rejected request", "code", rpcErr.Code, "error", rpcErr.Message)
		return req, jsonrpc.Failure(id, rpcErr)
	}
	return req, nil
}

func (s *Server) listTools(req *jsonrpc.Request) *jsonrpc.Response {
	descriptors := s.registry.Descriptors()
	s.logger.Debug("tools/list", "count", len(descriptors))
	return jsonrpc.Result(req.ID, ListToolsResult{Tools: descriptors})
}

// prepareCall decodes and validates tools/call params. A non-nil response is a
// protocol error to send instead of executing.
func (s *Server) prepareCall(req *jsonrpc.Request) (toolCall, *jsonrpc.Response) {
	params, rpcErr := req.CallParams()
	if rpcErr != nil {
		return toolCall{}, jsonrpc.Failure(req.ID, rpcErr)
	}
	if params.Name == "" {
		return toolCall{}, jsonrpc.Failure(req.ID, jsonrpc.NewError(jsonrpc.CodeInvalidParams, "tool name is required"))
	}

	args, err := s.registry.Validate(params.Name, params.Arguments)
	if err != nil {
		return toolCall{}, jsonrpc.Failure(req.ID, validationError(params.Name, err))
	}
	return toolCall{name: params.Name, args: args}, nil
}

// callTool executes a validated call. Tool failures arrive as error results, so the
// only protocol error left is a tool that vanished between validation and execution.
func (s *Server) callTool(ctx context.Context, req *jsonrpc.Request, call toolCall) *jsonrpc.Response {
	s.logger.Debug("tools/call", "tool_name", call.name, "request_id", jsonrpc.IDKey(req.ID))

	result, err := s.executor.Execute(ctx, call.name, call.args)
	if err != nil {
		return jsonrpc.Failure(req.ID, validationError(call.name, err))
	}

	s.logger.Debug("tools/call complete",
		"tool_name", call.name,
		"request_id", jsonrpc.IDKey(req.ID),
		"is_error", result.IsError,
	)
	return jsonrpc.Result(req.ID, result)
}

func validationError(name string, err error) *jsonrpc.Error {
	var schemaErr *tools.SchemaError
	switch {
	case errors.Is(err, tools.ErrToolNotFound):
		return jsonrpc.Errorf(jsonrpc.CodeMethodNotFound, "tool not found: %s", name)
	case errors.As(err, &schemaErr):
		return jsonrpc.NewError(jsonrpc.CodeInvalidParams, schemaErr.Error())
	default:
		return jsonrpc.NewError(jsonrpc.CodeInternalError, "tool execution failed")
	}
}
