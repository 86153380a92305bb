// Package config handles configuration loading for market-gateway.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from MARKET_GATEWAY_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/market-gateway/gateway.yaml
//  3. ~/.config/market-gateway/gateway.yaml
//
// `market-gateway init` writes an annotated starting point (see Example).
//
// # Environment Variable Expansion
//
// Values can reference environment variables with ${VAR_NAME}; unset variables
// expand to the empty string:
//
//	agent:
//	  api_key: "${OPENAI_API_KEY}"
//
// # Duration Parsing
//
// Durations use time.ParseDuration syntax:
//
//	cache:
//	  ttl: "1h"
//	agent:
//	  timeout: "2m"
//
// # Sections
//
//   - server: http_addr, optional grpc_addr for the gRPC health service
//   - tailscale: serve the HTTP surface on a tailnet via tsnet
//   - market: seed of the simulated market data
//   - cache: session result cache backend (memory, sqlite, redis) and TTL;
//     leaving backend empty disables caching
//   - agent: OpenAI-compatible provider for the dispatch loop and /api/chat
//   - bridge: WhatsApp webhook credentials and reply budget
//   - logging, metrics
package config
