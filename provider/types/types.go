// Package types holds the wire-neutral shapes shared by the LLM providers.
package types

import "encoding/json"

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

type Message struct {
	Role       Role
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string
	Name       string
}

// Tool declares a callable function. Parameters is a JSON schema object.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
}

type ToolCall struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

type Request struct {
	System      string
	Messages    []Message
	Tools       []Tool
	Temperature *float64
	MaxTokens   int
}

type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

type Response struct {
	Content   string
	ToolCalls []ToolCall
	Usage     Usage
}

// Chunk is one streamed completion segment.
type Chunk struct {
	ID      string
	Content string
}
