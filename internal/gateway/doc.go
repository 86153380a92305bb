// Package gateway orchestrates the market-gateway server components.
//
// # Overview
//
// New builds one tool registry from the finance service and hands the same
// executor to every binding. Nothing is global; tests assemble a Gateway with
// options and drive Handler directly.
//
// # Routes
//
//	POST    /mcp                          synchronous JSON-RPC binding
//	POST    /mcp/stream, OPTIONS          streaming (SSE) binding
//	GET     /mcp/sessions/{id}/{kind}     cached envelopes (tools or result)
//	POST    /api/chat                     agent loop token stream (503 without a provider)
//	GET     /webhook, POST /webhook       WhatsApp bridge, when bridge.enabled
//	GET     /health, /health/ready
//	GET     /metrics                      when metrics.enabled
//
// # Lifecycle
//
// Run listens on server.http_addr, or on a tsnet node when tailscale is enabled,
// plus server.grpc_addr for the gRPC health service when set. Cancelling the
// context triggers Shutdown: HTTP drains first, then gRPC, then in-flight bridge
// messages, and finally the session cache closes.
package gateway
