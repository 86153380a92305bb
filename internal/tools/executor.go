// ABOUTME: Executes registered tools and folds backend failures into error results.
// ABOUTME: Errors and panics from handlers never escape as protocol errors.

package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"
)

// Recorder observes completed tool executions.
type Recorder interface {
	ObserveToolCall(tool string, isError bool, elapsed time.Duration)
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithRecorder attaches a Recorder to the executor.
func WithRecorder(rec Recorder) ExecutorOption {
	return func(e *Executor) {
		e.recorder = rec
	}
}

// Executor dispatches validated calls to tool handlers.
type Executor struct {
	registry *Registry
	recorder Recorder
	logger   *slog.Logger
}

// NewExecutor creates an Executor over registry.
func NewExecutor(registry *Registry, logger *slog.Logger, opts ...ExecutorOption) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Executor{
		registry: registry,
		logger:   logger.With("component", "executor"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Registry returns the registry backing this executor.
func (e *Executor) Registry() *Registry {
	return e.registry
}

// Execute runs the named tool with already normalized arguments. The only error it
// returns is ErrToolNotFound; handler failures come back as a Result with IsError set.
func (e *Executor) Execute(ctx context.Context, name string, args map[string]any) (Result, error) {
	tool, ok := e.registry.Lookup(name)
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}

	start := time.Now()
	result := e.run(ctx, tool, args)
	elapsed := time.Since(start)

	if e.recorder != nil {
		e.recorder.ObserveToolCall(name, result.IsError, elapsed)
	}
	e.logger.Debug("tool executed",
		"tool_name", name,
		"is_error", result.IsError,
		"duration_ms", elapsed.Milliseconds(),
	)
	return result, nil
}

// Call validates raw arguments and executes the tool. Returns ErrToolNotFound or a
// *SchemaError before anything runs.
func (e *Executor) Call(ctx context.Context, name string, args map[string]any) (Result, error) {
	normalized, err := e.registry.Validate(name, args)
	if err != nil {
		return Result{}, err
	}
	return e.Execute(ctx, name, normalized)
}

func (e *Executor) run(ctx context.Context, tool Tool, args map[string]any) (result Result) {
	name := tool.Descriptor.Name
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("tool handler panicked",
				"tool_name", name,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			result = ErrorResult(name, fmt.Errorf("internal failure: %v", r))
		}
	}()

	res, err := tool.Handler(ctx, args)
	if err != nil {
		e.logger.Warn("tool handler failed", "tool_name", name, "error", err)
		return ErrorResult(name, err)
	}
	if res.Content == nil {
		res.Content = []Content{}
	}
	return res
}

// ErrorResult describes a failed execution as an error result.
func ErrorResult(name string, err error) Result {
	var text string
	switch {
	case errors.Is(err, context.Canceled):
		text = fmt.Sprintf("Error executing %s: request cancelled", name)
	case errors.Is(err, context.DeadlineExceeded):
		text = fmt.Sprintf("Error executing %s: timed out", name)
	default:
		text = fmt.Sprintf("Error executing %s: %v", name, err)
	}
	res := TextResult(text)
	res.IsError = true
	return res
}
