// ABOUTME: Model provider contract used by the dispatch loop.

package agent

import (
	"context"
	"errors"
)

// ErrProviderUnavailable indicates the provider could not be reached or answered badly.
var ErrProviderUnavailable = errors.New("model provider unavailable")

// Completion is one model turn: text, proposed tool calls, or both.
type Completion struct {
	Content   string
	ToolCalls []ToolCall
}

// DeltaFunc receives text fragments as the model produces them.
type DeltaFunc func(text string)

// Provider completes a conversation given the tools the model may call.
// Implementations call onDelta for every text fragment before returning; onDelta may be nil.
type Provider interface {
	Complete(ctx context.Context, turns []Turn, functions []Function, onDelta DeltaFunc) (Completion, error)
}
