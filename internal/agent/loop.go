// ABOUTME: Bounded multi-step tool-calling loop between a model provider and the tool executor.
// ABOUTME: Proposed calls in one step run concurrently; results are appended in proposal order.

package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/2389/market-gateway/internal/tools"
)

// DefaultMaxSteps bounds the number of model turns per run.
const DefaultMaxSteps = 15

// DefaultMaxParallel bounds concurrent tool executions within one step.
const DefaultMaxParallel = 4

// ErrStepCeiling is returned with a partial Result when the step budget runs out
// before the model produces a final answer.
var ErrStepCeiling = errors.New("step ceiling reached")

// Recorder observes loop runs.
type Recorder interface {
	ObserveLoop(steps int, outcome string, elapsed time.Duration)
}

// Loop outcomes reported to the Recorder.
const (
	OutcomeAnswered = "answered"
	OutcomeCeiling  = "ceiling"
	OutcomeFailed   = "failed"
)

// Config configures a Loop.
type Config struct {
	Provider     Provider
	Executor     *tools.Executor
	MaxSteps     int
	MaxParallel  int
	SystemPrompt string
	Exclude      []string // tools never offered to the model
	Recorder     Recorder
	Logger       *slog.Logger
}

// CallRecord logs one executed tool call.
type CallRecord struct {
	Step    int
	Call    ToolCall
	Output  string
	IsError bool
}

// Result is the outcome of a run.
type Result struct {
	Answer    string
	Steps     int
	ToolCalls []CallRecord
}

// Loop runs the dispatch cycle. It is safe for concurrent use; each Run owns its
// own conversation.
type Loop struct {
	provider     Provider
	executor     *tools.Executor
	registry     *tools.Registry
	maxSteps     int
	maxParallel  int
	systemPrompt string
	exclude      map[string]bool
	recorder     Recorder
	logger       *slog.Logger
}

// New creates a Loop.
func New(cfg Config) (*Loop, error) {
	if cfg.Provider == nil {
		return nil, errors.New("provider is required")
	}
	if cfg.Executor == nil {
		return nil, errors.New("executor is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxSteps := cfg.MaxSteps
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}
	maxParallel := cfg.MaxParallel
	if maxParallel <= 0 {
		maxParallel = DefaultMaxParallel
	}

	exclude := make(map[string]bool, len(cfg.Exclude))
	for _, name := range cfg.Exclude {
		exclude[name] = true
	}

	return &Loop{
		provider:     cfg.Provider,
		executor:     cfg.Executor,
		registry:     cfg.Executor.Registry(),
		maxSteps:     maxSteps,
		maxParallel:  maxParallel,
		systemPrompt: cfg.SystemPrompt,
		exclude:      exclude,
		recorder:     cfg.Recorder,
		logger:       logger.With("component", "agent"),
	}, nil
}

// MaxSteps returns the step ceiling.
func (l *Loop) MaxSteps() int {
	return l.maxSteps
}

// functions translates the registry catalog into provider function definitions.
func (l *Loop) functions() []Function {
	descriptors := l.registry.Descriptors()
	out := make([]Function, 0, len(descriptors))
	for _, d := range descriptors {
		if l.exclude[d.Name] {
			continue
		}
		out = append(out, Function{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  d.InputSchema,
		})
	}
	return out
}

// Run answers message, calling tools as the model requests. Text deltas go to
// onDelta as they arrive; tool turns never do. When the step ceiling is reached the
// partial Result is returned together with ErrStepCeiling.
func (l *Loop) Run(ctx context.Context, message string, onDelta DeltaFunc) (*Result, error) {
	start := time.Now()
	conv := NewConversation(l.systemPrompt, message)
	functions := l.functions()
	result := &Result{}
	var partial []string

	l.logger.Debug("loop started", "max_steps", l.maxSteps, "tools", len(functions))

	for step := 1; step <= l.maxSteps; step++ {
		if err := ctx.Err(); err != nil {
			l.finish(result, OutcomeFailed, start)
			return result, err
		}

		completion, err := l.provider.Complete(ctx, conv.Turns(), functions, onDelta)
		result.Steps = step
		if err != nil {
			l.finish(result, OutcomeFailed, start)
			return result, fmt.Errorf("step %d: %w", step, err)
		}

		if len(completion.ToolCalls) == 0 {
			conv.Append(Turn{Role: RoleAssistant, Content: completion.Content})
			result.Answer = completion.Content
			l.finish(result, OutcomeAnswered, start)
			return result, nil
		}

		if completion.Content != "" {
			partial = append(partial, completion.Content)
		}

		calls := assignIDs(completion.ToolCalls)
		conv.Append(Turn{Role: RoleAssistant, Content: completion.Content, ToolCalls: calls})

		for _, rec := range l.executeAll(ctx, step, calls) {
			conv.Append(Turn{Role: RoleTool, Content: rec.Output, ToolCallID: rec.Call.ID})
			result.ToolCalls = append(result.ToolCalls, rec)
		}
	}

	result.Answer = strings.Join(partial, "\n\n")
	l.logger.Warn("step ceiling reached", "max_steps", l.maxSteps, "tool_calls", len(result.ToolCalls))
	l.finish(result, OutcomeCeiling, start)
	return result, ErrStepCeiling
}

// Chat adapts Run to a single reply string. A ceiling hit still yields the partial answer.
func (l *Loop) Chat(ctx context.Context, message string) (string, error) {
	result, err := l.Run(ctx, message, nil)
	if err != nil && !errors.Is(err, ErrStepCeiling) {
		return "", err
	}
	if result.Answer == "" && errors.Is(err, ErrStepCeiling) {
		return fmt.Sprintf("I couldn't finish that within %d steps. Try a narrower question.", l.maxSteps), nil
	}
	return result.Answer, nil
}

// executeAll runs calls concurrently, bounded by maxParallel, and returns records in
// the order the calls were proposed.
func (l *Loop) executeAll(ctx context.Context, step int, calls []ToolCall) []CallRecord {
	records := make([]CallRecord, len(calls))

	var g errgroup.Group
	g.SetLimit(l.maxParallel)
	for i, call := range calls {
		g.Go(func() error {
			output, isError := l.execute(ctx, call)
			records[i] = CallRecord{Step: step, Call: call, Output: output, IsError: isError}
			return nil
		})
	}
	_ = g.Wait()

	return records
}

// execute validates and runs one call. Every failure becomes tool-turn text.
func (l *Loop) execute(ctx context.Context, call ToolCall) (string, bool) {
	if l.exclude[call.Name] {
		return fmt.Sprintf("error: tool %s is not available", call.Name), true
	}

	args, err := l.registry.ValidateJSON(call.Name, call.Arguments)
	if err != nil {
		var schemaErr *tools.SchemaError
		switch {
		case errors.Is(err, tools.ErrToolNotFound):
			return fmt.Sprintf("error: unknown tool %s", call.Name), true
		case errors.As(err, &schemaErr):
			return "error: " + schemaErr.Error(), true
		default:
			return "error: " + err.Error(), true
		}
	}

	res, err := l.executor.Execute(ctx, call.Name, args)
	if err != nil {
		return "error: " + err.Error(), true
	}
	return res.Text(), res.IsError
}

func (l *Loop) finish(result *Result, outcome string, start time.Time) {
	elapsed := time.Since(start)
	if l.recorder != nil {
		l.recorder.ObserveLoop(result.Steps, outcome, elapsed)
	}
	l.logger.Debug("loop finished",
		"outcome", outcome,
		"steps", result.Steps,
		"tool_calls", len(result.ToolCalls),
		"duration_ms", elapsed.Milliseconds(),
	)
}

// assignIDs fills missing call ids so tool turns can reference their call.
func assignIDs(calls []ToolCall) []ToolCall {
	out := make([]ToolCall, len(calls))
	for i, c := range calls {
		if c.ID == "" {
			c.ID = "call_" + uuid.NewString()
		}
		out[i] = c
	}
	return out
}
