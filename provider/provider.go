package provider

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/fupingyezi/mini-DeepResearch/config"
	"github.com/fupingyezi/mini-DeepResearch/provider/gemini"
	openai_provider "github.com/fupingyezi/mini-DeepResearch/provider/openai"
	"github.com/fupingyezi/mini-DeepResearch/provider/types"
)

// Aliases so callers only import this package.
type (
	Role     = types.Role
	Message  = types.Message
	Tool     = types.Tool
	ToolCall = types.ToolCall
	Request  = types.Request
	Response = types.Response
	Usage    = types.Usage
	Chunk    = types.Chunk
)

const (
	RoleSystem    = types.RoleSystem
	RoleUser      = types.RoleUser
	RoleAssistant = types.RoleAssistant
	RoleTool      = types.RoleTool
)

// Client names an LLM backend.
type Client string

const (
	OpenAI Client = "openai"
	Gemini Client = "gemini"
)

// ErrUnsupportedProvider is returned for an unknown llm.provider value.
var ErrUnsupportedProvider = errors.New("unsupported LLM provider")

// Provider is the gateway contract the research nodes need: a prompt with
// optional tool declarations in, a completion out.
type Provider interface {
	Invoke(ctx context.Context, req Request) (Response, error)
	Stream(ctx context.Context, req Request, fn func(Chunk) error) error
}

// NewProvider builds the configured LLM client.
func NewProvider(cfg config.LLMConfig) (Provider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("llm.api_key not set")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	switch Client(cfg.Provider) {
	case OpenAI, "":
		return openai_provider.NewOpenAIClient(cfg.BaseURL, cfg.APIKey, cfg.Model, cfg.Temperature, cfg.MaxTokens, timeout), nil
	case Gemini:
		return gemini.New(context.Background(), cfg.APIKey, cfg.Model, cfg.Temperature, cfg.MaxTokens)
	default:
		return nil, ErrUnsupportedProvider
	}
}

// ToolArgument decodes a string argument from a tool call.
func ToolArgument(call ToolCall, name string) string {
	var args map[string]any
	if err := json.Unmarshal(call.Arguments, &args); err != nil {
		return ""
	}
	if v, ok := args[name].(string); ok {
		return v
	}
	return ""
}
