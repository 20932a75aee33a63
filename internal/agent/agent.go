// Package agent implements the conversational agents behind the chat and
// search endpoints: a plain chat model and a ReAct loop over the web
// search tool.
package agent

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/fupingyezi/mini-DeepResearch/internal/circuitbreaker"
	"github.com/fupingyezi/mini-DeepResearch/internal/research"
	"github.com/fupingyezi/mini-DeepResearch/provider"
)

// ErrEmptyConversation is returned when no message is given.
var ErrEmptyConversation = errors.New("messages are required")

const defaultToolRounds = 3

// Agent answers a conversation. With a Searcher it may call the search tool
// before answering.
type Agent struct {
	LLM     provider.Provider
	Search  research.Searcher
	Breaker *circuitbreaker.Breaker
	Logger  *zap.Logger
	// MaxToolRounds bounds model turns that may request the tool.
	MaxToolRounds int
}

// NewChat returns the plain chat agent.
func NewChat(llm provider.Provider, breaker *circuitbreaker.Breaker, logger *zap.Logger) *Agent {
	return &Agent{LLM: llm, Breaker: breaker, Logger: logger}
}

// NewSearch returns the agent that can search the web.
func NewSearch(llm provider.Provider, search research.Searcher, breaker *circuitbreaker.Breaker, logger *zap.Logger) *Agent {
	return &Agent{LLM: llm, Search: search, Breaker: breaker, Logger: logger, MaxToolRounds: defaultToolRounds}
}

func (a *Agent) logger() *zap.Logger {
	if a.Logger == nil {
		return zap.NewNop()
	}
	return a.Logger
}

func (a *Agent) system() string {
	if a.Search != nil {
		return searchSystemPrompt
	}
	return chatSystemPrompt
}

func (a *Agent) invoke(ctx context.Context, req provider.Request) (provider.Response, error) {
	return circuitbreaker.Do(ctx, a.Breaker, func(ctx context.Context) (provider.Response, error) {
		return a.LLM.Invoke(ctx, req)
	})
}

// Invoke runs the agent to completion and returns msgs followed by every
// message the agent produced: tool calls, tool results and the answer.
func (a *Agent) Invoke(ctx context.Context, msgs []provider.Message) ([]provider.Message, error) {
	if len(msgs) == 0 {
		return nil, ErrEmptyConversation
	}
	conv, final, err := a.resolveTools(ctx, msgs)
	if err != nil {
		return nil, err
	}
	if final == nil {
		resp, err := a.invoke(ctx, provider.Request{System: a.system(), Messages: conv})
		if err != nil {
			return nil, err
		}
		final = &resp
	}
	return append(conv, provider.Message{Role: provider.RoleAssistant, Content: final.Content}), nil
}

// Stream runs the agent and streams the final answer through fn.
func (a *Agent) Stream(ctx context.Context, msgs []provider.Message, fn func(provider.Chunk) error) error {
	if len(msgs) == 0 {
		return ErrEmptyConversation
	}
	conv, final, err := a.resolveTools(ctx, msgs)
	if err != nil {
		return err
	}
	if final != nil {
		// the model already answered while deciding on tools
		if final.Content == "" {
			return nil
		}
		return fn(provider.Chunk{Content: final.Content})
	}
	// a failed write to our own caller is not an upstream failure
	sink := func(ch provider.Chunk) error {
		return circuitbreaker.CallerFault(fn(ch))
	}
	return a.Breaker.Execute(ctx, func(ctx context.Context) error {
		return a.LLM.Stream(ctx, provider.Request{System: a.system(), Messages: conv}, sink)
	})
}

// resolveTools lets the model call the search tool for up to MaxToolRounds
// turns. It returns the extended conversation and, when the model answered
// without calling a tool, that answer. A nil answer means the caller must
// ask for the final answer without tools.
func (a *Agent) resolveTools(ctx context.Context, msgs []provider.Message) ([]provider.Message, *provider.Response, error) {
	conv := append([]provider.Message(nil), msgs...)
	if a.Search == nil {
		return conv, nil, nil
	}
	rounds := a.MaxToolRounds
	if rounds <= 0 {
		rounds = defaultToolRounds
	}
	for i := 0; i < rounds; i++ {
		resp, err := a.invoke(ctx, provider.Request{
			System:   a.system(),
			Messages: conv,
			Tools:    []provider.Tool{research.SearchTool},
		})
		if err != nil {
			return nil, nil, err
		}
		if len(resp.ToolCalls) == 0 {
			return conv, &resp, nil
		}
		conv = append(conv, provider.Message{Role: provider.RoleAssistant, Content: resp.Content, ToolCalls: resp.ToolCalls})
		for _, call := range resp.ToolCalls {
			out, err := a.runTool(ctx, call)
			if err != nil {
				return nil, nil, err
			}
			conv = append(conv, provider.Message{Role: provider.RoleTool, Content: out, ToolCallID: call.ID, Name: call.Name})
		}
	}
	return conv, nil, nil
}

func (a *Agent) runTool(ctx context.Context, call provider.ToolCall) (string, error) {
	if call.Name != research.SearchToolName {
		a.logger().Warn("model called unknown tool", zap.String("tool", call.Name))
		return fmt.Sprintf("unknown tool %q", call.Name), nil
	}
	question := provider.ToolArgument(call, "question")
	if question == "" {
		return "", fmt.Errorf("search tool called without a question")
	}
	a.logger().Debug("search tool call", zap.String("question", question))
	return a.Search.Search(ctx, question)
}
