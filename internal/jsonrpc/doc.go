// Package jsonrpc implements the JSON-RPC 2.0 envelope used by every gateway binding.
//
// Decode validates the protocol version and method before any tool logic runs:
//
//	req, rpcErr := jsonrpc.Decode(body)
//	if rpcErr != nil {
//	    resp := jsonrpc.Failure(idOf(req), rpcErr)
//	}
//
// Only two methods are recognized, tools/list and tools/call.
package jsonrpc
