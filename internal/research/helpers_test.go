package research

import (
	"context"
	"strings"
	"sync"

	"github.com/fupingyezi/mini-DeepResearch/provider"
)

type fakeLLM struct {
	mu      sync.Mutex
	calls   []provider.Request
	respond func(req provider.Request) (provider.Response, error)
}

func (f *fakeLLM) Invoke(ctx context.Context, req provider.Request) (provider.Response, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return provider.Response{}, err
	}
	return f.respond(req)
}

func (f *fakeLLM) Stream(ctx context.Context, req provider.Request, fn func(provider.Chunk) error) error {
	resp, err := f.Invoke(ctx, req)
	if err != nil {
		return err
	}
	return fn(provider.Chunk{Content: resp.Content})
}

func (f *fakeLLM) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func reply(content string) func(provider.Request) (provider.Response, error) {
	return func(provider.Request) (provider.Response, error) {
		return provider.Response{Content: content}, nil
	}
}

type fakeSearcher struct {
	questions []string
	out       string
	err       error
}

func (f *fakeSearcher) Search(ctx context.Context, question string) (string, error) {
	f.questions = append(f.questions, question)
	return f.out, f.err
}

// hummingbirdLLM answers each research prompt the way a cooperative model
// would for "蜂鸟的最高时速".
func hummingbirdLLM() *fakeLLM {
	return &fakeLLM{respond: func(req provider.Request) (provider.Response, error) {
		switch {
		case strings.Contains(req.System, "需求分析师"):
			return provider.Response{Content: `{"researchTarget":"蜂鸟飞行速度","simpleAnalysis":"需要查找蜂鸟最高飞行速度的权威数据。"}`}, nil
		case strings.Contains(req.System, "科研项目规划专家"):
			return provider.Response{Content: "```json\n{\"task\":[{\"id\":\"step_1\",\"description\":\"查找蜂鸟的最高飞行时速\",\"needSearch\":true}]}\n```"}, nil
		case strings.Contains(req.System, "信息分析师") && len(req.Tools) > 0:
			return provider.Response{ToolCalls: []provider.ToolCall{{
				ID: "call_1", Name: SearchToolName, Arguments: []byte(`{"question":"蜂鸟最高时速"}`),
			}}}, nil
		case strings.Contains(req.System, "信息分析师"):
			return provider.Response{Content: "蜂鸟俯冲时最高时速约 90 公里。"}, nil
		case strings.Contains(req.System, "研究报告撰写专家"):
			return provider.Response{Content: "# 蜂鸟的最高时速\n\n安氏蜂鸟求偶俯冲时可达约 90 公里/小时。"}, nil
		}
		return provider.Response{Content: ""}, nil
	}}
}

func hummingbirdSearcher() *fakeSearcher {
	return &fakeSearcher{out: FormatSearchResults([]SearchResult{{
		Title:         "Anna's hummingbird dive",
		SourceURL:     "https://example.org/hummingbird",
		Content:       "Courtship dives reach 27 m/s.",
		RelativeScore: 0.92,
	}})}
}
