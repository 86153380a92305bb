// ABOUTME: Tests for the dispatch loop using a scripted provider and a real tool executor.
// ABOUTME: Covers ordering under concurrency, failure turns, exclusions, and the step ceiling.

package agent

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/2389/market-gateway/internal/tools"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
	)
}

// scriptedProvider answers each step from a script and records what it was sent.
type scriptedProvider struct {
	mu        sync.Mutex
	script    func(step int, turns []Turn) (Completion, error)
	seen      [][]Turn
	functions []Function
}

func (p *scriptedProvider) Complete(_ context.Context, turns []Turn, functions []Function, onDelta DeltaFunc) (Completion, error) {
	p.mu.Lock()
	p.seen = append(p.seen, turns)
	p.functions = functions
	step := len(p.seen)
	p.mu.Unlock()

	c, err := p.script(step, turns)
	if err == nil && c.Content != "" && onDelta != nil {
		onDelta(c.Content)
	}
	return c, err
}

func (p *scriptedProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.seen)
}

func setupExecutor(t *testing.T) *tools.Executor {
	t.Helper()
	registry := tools.NewRegistry(slog.Default())
	registry.MustRegister(
		tools.Tool{
			Descriptor: tools.Descriptor{
				Name:        "slow-echo",
				Description: "Echo after a delay",
				InputSchema: json.RawMessage(`{"type":"object","properties":{"message":{"type":"string"},"delayMs":{"type":"number","default":0}},"required":["message"]}`),
			},
			Handler: func(ctx context.Context, args map[string]any) (tools.Result, error) {
				delay := time.Duration(args["delayMs"].(float64)) * time.Millisecond
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					return tools.Result{}, ctx.Err()
				}
				return tools.TextResult("Echo: " + args["message"].(string)), nil
			},
		},
		tools.Tool{
			Descriptor: tools.Descriptor{
				Name:        "broken",
				Description: "Always fails",
				InputSchema: json.RawMessage(`{"type":"object"}`),
			},
			Handler: func(context.Context, map[string]any) (tools.Result, error) {
				return tools.Result{}, errors.New("feed offline")
			},
		},
		tools.Tool{
			Descriptor: tools.Descriptor{
				Name:        "chat",
				Description: "Conversation",
				InputSchema: json.RawMessage(`{"type":"object"}`),
			},
			Handler: func(context.Context, map[string]any) (tools.Result, error) {
				return tools.TextResult("should never run from the loop"), nil
			},
		},
	)
	return tools.NewExecutor(registry, slog.Default())
}

func newLoop(t *testing.T, p Provider, maxSteps int) *Loop {
	t.Helper()
	loop, err := New(Config{
		Provider:     p,
		Executor:     setupExecutor(t),
		MaxSteps:     maxSteps,
		MaxParallel:  4,
		SystemPrompt: "You are a market assistant.",
		Exclude:      []string{"chat"},
		Logger:       slog.Default(),
	})
	require.NoError(t, err)
	return loop
}

func TestNewValidation(t *testing.T) {
	_, err := New(Config{Executor: setupExecutor(t)})
	assert.Error(t, err)

	_, err = New(Config{Provider: &scriptedProvider{}})
	assert.Error(t, err)

	loop, err := New(Config{Provider: &scriptedProvider{}, Executor: setupExecutor(t)})
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxSteps, loop.MaxSteps())
}

func TestRunDirectAnswer(t *testing.T) {
	p := &scriptedProvider{script: func(int, []Turn) (Completion, error) {
		return Completion{Content: "Markets are open."}, nil
	}}
	loop := newLoop(t, p, 5)

	var deltas []string
	result, err := loop.Run(context.Background(), "are markets open?", func(s string) { deltas = append(deltas, s) })
	require.NoError(t, err)
	assert.Equal(t, "Markets are open.", result.Answer)
	assert.Equal(t, 1, result.Steps)
	assert.Empty(t, result.ToolCalls)
	assert.Equal(t, []string{"Markets are open."}, deltas)

	require.Len(t, p.seen, 1)
	assert.Equal(t, RoleSystem, p.seen[0][0].Role)
	assert.Equal(t, RoleUser, p.seen[0][1].Role)
	assert.Equal(t, "are markets open?", p.seen[0][1].Content)
}

func TestRunCatalogExcludesChat(t *testing.T) {
	p := &scriptedProvider{script: func(int, []Turn) (Completion, error) {
		return Completion{Content: "ok"}, nil
	}}
	loop := newLoop(t, p, 5)
	_, err := loop.Run(context.Background(), "hi", nil)
	require.NoError(t, err)

	var names []string
	for _, fn := range p.functions {
		names = append(names, fn.Name)
	}
	assert.Equal(t, []string{"slow-echo", "broken"}, names)
	assert.Contains(t, string(p.functions[0].Parameters), `"message"`)
}

func TestRunPreservesProposalOrder(t *testing.T) {
	p := &scriptedProvider{script: func(step int, _ []Turn) (Completion, error) {
		if step == 1 {
			return Completion{ToolCalls: []ToolCall{
				{ID: "a", Name: "slow-echo", Arguments: `{"message":"first","delayMs":60}`},
				{ID: "b", Name: "slow-echo", Arguments: `{"message":"second","delayMs":0}`},
				{ID: "c", Name: "slow-echo", Arguments: `{"message":"third","delayMs":20}`},
			}}, nil
		}
		return Completion{Content: "done"}, nil
	}}
	loop := newLoop(t, p, 5)

	result, err := loop.Run(context.Background(), "echo three things", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Steps)

	require.Len(t, p.seen, 2)
	turns := p.seen[1]
	// system, user, assistant with calls, then three tool turns
	require.Len(t, turns, 6)
	assert.Equal(t, RoleAssistant, turns[2].Role)
	assert.Len(t, turns[2].ToolCalls, 3)

	want := []struct{ id, content string }{
		{"a", "Echo: first"},
		{"b", "Echo: second"},
		{"c", "Echo: third"},
	}
	for i, w := range want {
		turn := turns[3+i]
		assert.Equal(t, RoleTool, turn.Role)
		assert.Equal(t, w.id, turn.ToolCallID)
		assert.Equal(t, w.content, turn.Content)
	}

	require.Len(t, result.ToolCalls, 3)
	assert.Equal(t, "a", result.ToolCalls[0].Call.ID)
	assert.Equal(t, 1, result.ToolCalls[0].Step)
}

func TestRunRunsCallsConcurrently(t *testing.T) {
	p := &scriptedProvider{script: func(step int, _ []Turn) (Completion, error) {
		if step == 1 {
			var calls []ToolCall
			for i := 0; i < 4; i++ {
				calls = append(calls, ToolCall{Name: "slow-echo", Arguments: `{"message":"x","delayMs":100}`})
			}
			return Completion{ToolCalls: calls}, nil
		}
		return Completion{Content: "done"}, nil
	}}
	loop := newLoop(t, p, 5)

	start := time.Now()
	_, err := loop.Run(context.Background(), "go", nil)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 350*time.Millisecond)
}

func TestRunFailuresBecomeToolTurns(t *testing.T) {
	p := &scriptedProvider{script: func(step int, _ []Turn) (Completion, error) {
		if step == 1 {
			return Completion{ToolCalls: []ToolCall{
				{ID: "1", Name: "no-such-tool", Arguments: `{}`},
				{ID: "2", Name: "slow-echo", Arguments: `{"delayMs":0}`},
				{ID: "3", Name: "broken", Arguments: `{}`},
				{ID: "4", Name: "slow-echo", Arguments: `not json`},
				{ID: "5", Name: "chat", Arguments: `{}`},
			}}, nil
		}
		return Completion{Content: "recovered"}, nil
	}}
	loop := newLoop(t, p, 5)

	result, err := loop.Run(context.Background(), "try things", nil)
	require.NoError(t, err)
	assert.Equal(t, "recovered", result.Answer)

	require.Len(t, result.ToolCalls, 5)
	for _, rec := range result.ToolCalls {
		assert.True(t, rec.IsError, "call %s should fail", rec.Call.ID)
	}
	assert.Contains(t, result.ToolCalls[0].Output, "unknown tool")
	assert.Contains(t, result.ToolCalls[1].Output, "invalid arguments")
	assert.Contains(t, result.ToolCalls[2].Output, "feed offline")
	assert.Contains(t, result.ToolCalls[3].Output, "not a JSON object")
	assert.Contains(t, result.ToolCalls[4].Output, "not available")
}

func TestRunStepCeiling(t *testing.T) {
	var n atomic.Int32
	p := &scriptedProvider{script: func(int, []Turn) (Completion, error) {
		n.Add(1)
		return Completion{
			Content:   "still working",
			ToolCalls: []ToolCall{{Name: "slow-echo", Arguments: `{"message":"again"}`}},
		}, nil
	}}
	loop := newLoop(t, p, 3)

	result, err := loop.Run(context.Background(), "loop forever", nil)
	assert.True(t, errors.Is(err, ErrStepCeiling))
	require.NotNil(t, result)
	assert.Equal(t, 3, result.Steps)
	assert.Equal(t, int32(3), n.Load())
	assert.Len(t, result.ToolCalls, 3)
	assert.Equal(t, "still working\n\nstill working\n\nstill working", result.Answer)
}

func TestRunDefaultCeilingIsFifteen(t *testing.T) {
	p := &scriptedProvider{script: func(int, []Turn) (Completion, error) {
		return Completion{ToolCalls: []ToolCall{{Name: "slow-echo", Arguments: `{"message":"x"}`}}}, nil
	}}
	loop := newLoop(t, p, 0)

	_, err := loop.Run(context.Background(), "spin", nil)
	assert.True(t, errors.Is(err, ErrStepCeiling))
	assert.Equal(t, 15, p.calls())
}

func TestRunProviderError(t *testing.T) {
	p := &scriptedProvider{script: func(int, []Turn) (Completion, error) {
		return Completion{}, ErrProviderUnavailable
	}}
	loop := newLoop(t, p, 5)

	_, err := loop.Run(context.Background(), "hi", nil)
	assert.True(t, errors.Is(err, ErrProviderUnavailable))
}

func TestRunCancelledContext(t *testing.T) {
	p := &scriptedProvider{script: func(int, []Turn) (Completion, error) {
		return Completion{Content: "unreachable"}, nil
	}}
	loop := newLoop(t, p, 5)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := loop.Run(ctx, "hi", nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, p.calls())
}

func TestChat(t *testing.T) {
	t.Run("returns the answer", func(t *testing.T) {
		p := &scriptedProvider{script: func(int, []Turn) (Completion, error) {
			return Completion{Content: "hello"}, nil
		}}
		reply, err := newLoop(t, p, 5).Chat(context.Background(), "hi")
		require.NoError(t, err)
		assert.Equal(t, "hello", reply)
	})

	t.Run("ceiling without text yields a notice", func(t *testing.T) {
		p := &scriptedProvider{script: func(int, []Turn) (Completion, error) {
			return Completion{ToolCalls: []ToolCall{{Name: "slow-echo", Arguments: `{"message":"x"}`}}}, nil
		}}
		reply, err := newLoop(t, p, 2).Chat(context.Background(), "hi")
		require.NoError(t, err)
		assert.Contains(t, reply, "2 steps")
	})

	t.Run("provider failure is an error", func(t *testing.T) {
		p := &scriptedProvider{script: func(int, []Turn) (Completion, error) {
			return Completion{}, ErrProviderUnavailable
		}}
		_, err := newLoop(t, p, 2).Chat(context.Background(), "hi")
		assert.Error(t, err)
	})
}

func TestAssignIDs(t *testing.T) {
	out := assignIDs([]ToolCall{{ID: "keep"}, {}})
	assert.Equal(t, "keep", out[0].ID)
	assert.NotEmpty(t, out[1].ID)
}

func TestToolCallJSON(t *testing.T) {
	data, err := json.Marshal(ToolCall{ID: "c1", Name: "echo", Arguments: `{"message":"x"}`})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"c1","type":"function","function":{"name":"echo","arguments":"{\"message\":\"x\"}"}}`, string(data))

	var back ToolCall
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, "echo", back.Name)
}
