// Package gemini adapts the Google GenAI SDK to the provider contract.
package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/fupingyezi/mini-DeepResearch/provider/types"
)

const defaultModel = "gemini-2.0-flash"

type client struct {
	client      *genai.Client
	model       string
	temperature float64
	maxTokens   int
}

// New creates a Gemini API client.
func New(ctx context.Context, apiKey, model string, temperature float64, maxTokens int) (*client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if model == "" {
		model = defaultModel
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &client{client: c, model: model, temperature: temperature, maxTokens: maxTokens}, nil
}

func (c *client) Invoke(ctx context.Context, req types.Request) (types.Response, error) {
	contents, err := toContents(req.Messages)
	if err != nil {
		return types.Response{}, err
	}
	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, c.config(req))
	if err != nil {
		return types.Response{}, fmt.Errorf("gemini generate failed: %w", err)
	}
	return fromResponse(resp)
}

func (c *client) Stream(ctx context.Context, req types.Request, fn func(types.Chunk) error) error {
	contents, err := toContents(req.Messages)
	if err != nil {
		return err
	}
	for resp, err := range c.client.Models.GenerateContentStream(ctx, c.model, contents, c.config(req)) {
		if err != nil {
			return fmt.Errorf("gemini stream failed: %w", err)
		}
		out, err := fromResponse(resp)
		if err != nil {
			return err
		}
		if out.Content == "" {
			continue
		}
		if err := fn(types.Chunk{ID: resp.ResponseID, Content: out.Content}); err != nil {
			return err
		}
	}
	return nil
}

func (c *client) config(req types.Request) *genai.GenerateContentConfig {
	temperature := c.temperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}
	maxTokens := c.maxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}
	cfg := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(float32(temperature)),
		MaxOutputTokens: int32(maxTokens),
	}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if len(req.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(req.Tools))
		for _, t := range req.Tools {
			decls = append(decls, &genai.FunctionDeclaration{
				Name:                 t.Name,
				Description:          t.Description,
				ParametersJsonSchema: t.Parameters,
			})
		}
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}
	return cfg
}

// toContents maps chat messages onto Gemini turns. Assistant turns become
// model turns and tool results are sent back as function responses.
func toContents(msgs []types.Message) ([]*genai.Content, error) {
	out := make([]*genai.Content, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case types.RoleSystem:
			// carried by SystemInstruction
			continue
		case types.RoleAssistant:
			content := &genai.Content{Role: string(genai.RoleModel)}
			if m.Content != "" {
				content.Parts = append(content.Parts, &genai.Part{Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				args := map[string]any{}
				if len(tc.Arguments) > 0 {
					if err := json.Unmarshal(tc.Arguments, &args); err != nil {
						return nil, fmt.Errorf("tool call %s arguments: %w", tc.Name, err)
					}
				}
				content.Parts = append(content.Parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{ID: tc.ID, Name: tc.Name, Args: args},
				})
			}
			out = append(out, content)
		case types.RoleTool:
			out = append(out, &genai.Content{
				Role: string(genai.RoleUser),
				Parts: []*genai.Part{{
					FunctionResponse: &genai.FunctionResponse{
						ID:       m.ToolCallID,
						Name:     m.Name,
						Response: map[string]any{"output": m.Content},
					},
				}},
			})
		default:
			out = append(out, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}
	return out, nil
}

func fromResponse(resp *genai.GenerateContentResponse) (types.Response, error) {
	var out types.Response
	if resp == nil {
		return out, fmt.Errorf("empty gemini response")
	}
	if resp.UsageMetadata != nil {
		out.Usage = types.Usage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return out, nil
	}
	var sb strings.Builder
	for i, p := range resp.Candidates[0].Content.Parts {
		if p == nil {
			continue
		}
		if p.Text != "" && !p.Thought {
			sb.WriteString(p.Text)
		}
		if p.FunctionCall != nil {
			args, err := json.Marshal(p.FunctionCall.Args)
			if err != nil {
				return out, fmt.Errorf("encode function call args: %w", err)
			}
			id := p.FunctionCall.ID
			if id == "" {
				id = fmt.Sprintf("call_%d", i)
			}
			out.ToolCalls = append(out.ToolCalls, types.ToolCall{ID: id, Name: p.FunctionCall.Name, Arguments: args})
		}
	}
	out.Content = sb.String()
	return out, nil
}
