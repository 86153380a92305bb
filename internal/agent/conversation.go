// ABOUTME: Conversation turns and tool call types exchanged with model providers.
// ABOUTME: Tool calls serialize to the nested function-calling wire shape.

package agent

import "encoding/json"

// Role identifies the sender of a turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is a tool invocation proposed by the model.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string // raw JSON object text
}

type wireFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type wireToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function wireFunction `json:"function"`
}

// MarshalJSON encodes the call as {id, type:"function", function:{name, arguments}}.
func (tc ToolCall) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireToolCall{
		ID:       tc.ID,
		Type:     "function",
		Function: wireFunction{Name: tc.Name, Arguments: tc.Arguments},
	})
}

// UnmarshalJSON decodes the nested function-calling shape.
func (tc *ToolCall) UnmarshalJSON(data []byte) error {
	var w wireToolCall
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	tc.ID = w.ID
	tc.Name = w.Function.Name
	tc.Arguments = w.Function.Arguments
	return nil
}

// Turn is one entry of a conversation.
type Turn struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// Conversation is the ordered turn history of one loop invocation. It only grows.
type Conversation struct {
	turns []Turn
}

// NewConversation starts a conversation with an optional system prompt and the user's message.
func NewConversation(systemPrompt, userMessage string) *Conversation {
	c := &Conversation{}
	if systemPrompt != "" {
		c.Append(Turn{Role: RoleSystem, Content: systemPrompt})
	}
	c.Append(Turn{Role: RoleUser, Content: userMessage})
	return c
}

// Append adds a turn.
func (c *Conversation) Append(t Turn) {
	c.turns = append(c.turns, t)
}

// Turns returns a copy of the history so providers cannot mutate it.
func (c *Conversation) Turns() []Turn {
	out := make([]Turn, len(c.turns))
	copy(out, c.turns)
	return out
}

// Len returns the number of turns.
func (c *Conversation) Len() int {
	return len(c.turns)
}

// Function is a tool advertised to the model.
type Function struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}
