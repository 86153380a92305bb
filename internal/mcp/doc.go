// Package mcp serves the tool registry over JSON-RPC 2.0 on HTTP.
//
// # Endpoints
//
//   - POST /mcp - synchronous binding, one application/json envelope per request
//   - POST /mcp/stream - streaming binding, a short text/event-stream per request
//   - OPTIONS /mcp/stream - CORS preflight
//   - GET /mcp/sessions/{id}/{tools|result} - envelopes cached by the streaming binding
//
// Both bindings accept two methods, tools/list and tools/call:
//
//	{"jsonrpc":"2.0","id":1,"method":"tools/call",
//	 "params":{"name":"get-financial-analysis","arguments":{"symbol":"AAPL"}}}
//
// # Streaming
//
// Every streaming request produces the same shape of output: a connected notice, a
// processing notice naming the tool for tools/call, and exactly one JSON-RPC
// envelope, after which the response is closed:
//
//	data: {"type":"connected"}
//
//	data: {"type":"processing","tool":"echo"}
//
//	data: {"jsonrpc":"2.0","id":1,"result":{"content":[{"type":"text","text":"Echo: hi"}]}}
//
// A request that fails to decode skips straight to the error envelope. Faults after
// the connected notice become a -32603 envelope so clients never see a silent close.
//
// # Errors
//
// Protocol errors use the JSON-RPC error member. Tool failures do not: they come back
// as a normal result with isError set and the failure described in the text.
package mcp
