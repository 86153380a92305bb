// Package bridge lets a messaging channel drive the tool catalog with free text.
//
// Text is matched against ordered rules; the first match picks exactly one tool
// and its arguments, and anything unmatched goes to the chat tool. The call runs
// through an Invoker: InProcess hits the executor directly, Remote sends a real
// tools/call envelope to a gateway over HTTP. Replies are flattened from markdown
// to plain text and capped before delivery.
//
// Webhook implements the WhatsApp Cloud API verification handshake and inbound
// delivery. The Matrix channel lives in cmd/market-bridge and reuses Bridge.
package bridge
