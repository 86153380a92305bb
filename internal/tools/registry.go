// ABOUTME: Static registry of tool descriptors and their in-process handlers.
// ABOUTME: Compiles each input schema once at registration and rejects duplicate names.

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
)

// ErrToolNotFound indicates the requested tool is not registered.
var ErrToolNotFound = errors.New("tool not found")

// ErrDuplicateTool indicates a tool with the same name is already registered.
var ErrDuplicateTool = errors.New("tool already registered")

// ErrInvalidSchema indicates a tool's input schema could not be compiled.
var ErrInvalidSchema = errors.New("invalid input schema")

// Descriptor is the public description of a tool as served by tools/list.
type Descriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// Content is a single entry of a tool result.
type Content struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Result is the uniform tool output envelope. The gateway never inspects Text.
type Result struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
}

// TextResult wraps a single text entry.
func TextResult(text string) Result {
	return Result{Content: []Content{{Type: "text", Text: text}}}
}

// Text concatenates all text entries of the result.
func (r Result) Text() string {
	if len(r.Content) == 1 {
		return r.Content[0].Text
	}
	var out string
	for i, c := range r.Content {
		if i > 0 {
			out += "\n"
		}
		out += c.Text
	}
	return out
}

// Handler executes a tool with validated, default-filled arguments.
type Handler func(ctx context.Context, args map[string]any) (Result, error)

// Tool pairs a descriptor with its handler.
type Tool struct {
	Descriptor Descriptor
	Handler    Handler
}

type entry struct {
	tool   Tool
	schema *jsonschema.Resolved
}

// Registry holds the tool catalog for the process lifetime.
// Tools are listed in registration order.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	order   []string
	logger  *slog.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		entries: make(map[string]*entry),
		logger:  logger,
	}
}

// Register adds a tool. Returns ErrDuplicateTool if the name is taken and
// ErrInvalidSchema if the input schema does not compile.
func (r *Registry) Register(tool Tool) error {
	name := tool.Descriptor.Name
	if name == "" {
		return fmt.Errorf("%w: empty tool name", ErrInvalidSchema)
	}
	if tool.Handler == nil {
		return fmt.Errorf("tool '%s' has no handler", name)
	}

	resolved, err := compileSchema(tool.Descriptor.InputSchema)
	if err != nil {
		return fmt.Errorf("%w: tool '%s': %v", ErrInvalidSchema, name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, name)
	}

	r.entries[name] = &entry{tool: tool, schema: resolved}
	r.order = append(r.order, name)

	r.logger.Debug("tool registered", "tool_name", name, "total_tools", len(r.order))
	return nil
}

// MustRegister registers tools and panics on the first failure. A duplicate name
// at startup is a programming error, not an operational one.
func (r *Registry) MustRegister(tools ...Tool) {
	for _, tool := range tools {
		if err := r.Register(tool); err != nil {
			panic(err)
		}
	}
}

// Lookup returns the tool registered under name.
func (r *Registry) Lookup(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[name]
	if !ok {
		return Tool{}, false
	}
	return e.tool, true
}

// Has reports whether a tool is registered under name.
func (r *Registry) Has(name string) bool {
	_, ok := r.Lookup(name)
	return ok
}

// Descriptors returns all descriptors in registration order.
func (r *Registry) Descriptors() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Descriptor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.entries[name].tool.Descriptor)
	}
	return out
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

func (r *Registry) schemaFor(name string) (*jsonschema.Resolved, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[name]
	if !ok {
		return nil, false
	}
	return e.schema, true
}

// compileSchema resolves a raw JSON Schema document. An empty schema accepts any object.
func compileSchema(raw json.RawMessage) (*jsonschema.Resolved, error) {
	if len(raw) == 0 {
		raw = json.RawMessage(`{"type":"object"}`)
	}
	var s jsonschema.Schema
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	return s.Resolve(&jsonschema.ResolveOptions{ValidateDefaults: true})
}
