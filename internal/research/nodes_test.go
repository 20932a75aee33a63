package research

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fupingyezi/mini-DeepResearch/internal/circuitbreaker"
	"github.com/fupingyezi/mini-DeepResearch/provider"
)

func TestParseDecomposition(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantIDs []string
		ok      bool
	}{
		{"fenced", "```json\n{\"task\":[{\"id\":\"a\",\"description\":\"d1\",\"needSearch\":true}]}\n```", []string{"a"}, true},
		{"bare", `{"task":[{"id":"a","description":"d1"},{"id":"b","description":"d2"}]}`, []string{"a", "b"}, true},
		{"embedded", `以下是任务：{"task":[{"id":1,"description":"d1"}]} 完毕`, []string{"1"}, true},
		{"missing and duplicate ids", `{"task":[{"description":"d1"},{"id":"step_1","description":"d2"}]}`, []string{"step_1", "step_2"}, true},
		{"tasks key", `{"tasks":[{"id":"x","description":"d"}]}`, []string{"x"}, true},
		{"not json", "抱歉，我无法完成", nil, false},
		{"empty list", `{"task":[]}`, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tasks, ok := parseDecomposition(tt.content, 7)
			assert.Equal(t, tt.ok, ok)
			var ids []string
			for _, task := range tasks {
				ids = append(ids, task.ID)
				assert.Equal(t, StatusPending, task.Status)
			}
			assert.Equal(t, tt.wantIDs, ids)
		})
	}
}

func TestParseDecompositionTruncates(t *testing.T) {
	var b strings.Builder
	b.WriteString(`{"task":[`)
	for i := 0; i < 10; i++ {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(`{"description":"d"}`)
	}
	b.WriteString(`]}`)
	tasks, ok := parseDecomposition(b.String(), 7)
	require.True(t, ok)
	assert.Len(t, tasks, 7)
	assert.Equal(t, "step_7", tasks[6].ID)
}

func TestTaskDecomposerParseFailureIncrementsAttempts(t *testing.T) {
	llm := &fakeLLM{respond: reply("no json here")}
	node := TaskDecomposer(Deps{LLM: llm}, Options{}.normalize())

	p, err := node(context.Background(), NewState("q"))
	require.NoError(t, err)
	assert.Empty(t, p.Tasks)
	require.NotNil(t, p.DecomposeAttempts)
	assert.Equal(t, 1, *p.DecomposeAttempts)
}

func TestTaskDecomposerExhausted(t *testing.T) {
	llm := &fakeLLM{respond: reply("no json here")}
	node := TaskDecomposer(Deps{LLM: llm}, Options{MaxDecomposeAttempts: 2}.normalize())

	s := NewState("q")
	s.DecomposeAttempts = 2
	_, err := node(context.Background(), s)
	assert.ErrorIs(t, err, ErrDecomposeExhausted)
	assert.Zero(t, llm.callCount())
}

func TestTaskDecomposerBreakerFailsFast(t *testing.T) {
	llm := &fakeLLM{respond: func(provider.Request) (provider.Response, error) {
		return provider.Response{}, errors.New("502 bad gateway")
	}}
	breaker := circuitbreaker.New("llm", circuitbreaker.Config{FailureThreshold: 1}, nil)
	node := TaskDecomposer(Deps{LLM: llm, Breaker: breaker}, Options{}.normalize())

	_, err := node(context.Background(), NewState("q"))
	require.Error(t, err)
	_, err = node(context.Background(), NewState("q"))
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitBreakerOpen)
	assert.Equal(t, 1, llm.callCount())
}

func TestTaskHandlerReactSearchesOnce(t *testing.T) {
	llm := hummingbirdLLM()
	search := hummingbirdSearcher()
	node := TaskHandler(Deps{LLM: llm, Search: search}, Options{Topology: TopologyReact}.normalize())

	s := NewState("蜂鸟的最高时速")
	s.Tasks = []Task{{ID: "step_1", Description: "查找蜂鸟的最高飞行时速", NeedSearch: true, Status: StatusPending}}
	p, err := node(context.Background(), s)
	require.NoError(t, err)

	assert.Equal(t, []string{"蜂鸟最高时速"}, search.questions)
	require.Equal(t, 2, llm.callCount())
	second := llm.calls[1]
	assert.Empty(t, second.Tools, "follow-up call must not offer the tool again")
	require.Len(t, second.Messages, 3)
	assert.Equal(t, provider.RoleTool, second.Messages[2].Role)
	assert.Equal(t, "call_1", second.Messages[2].ToolCallID)

	out := Merge(s, p)
	assert.Equal(t, StatusProcessed, out.Tasks[0].Status)
	assert.Equal(t, "蜂鸟俯冲时最高时速约 90 公里。", out.Tasks[0].Result)
	require.Len(t, out.Tasks[0].SearchResult, 1)
	assert.Equal(t, 0.92, out.Tasks[0].SearchResult[0].RelativeScore)
}

func TestTaskHandlerOneTaskPerVisit(t *testing.T) {
	llm := &fakeLLM{respond: reply("推导完成")}
	node := TaskHandler(Deps{LLM: llm}, Options{}.normalize())

	s := NewState("q")
	s.Tasks = []Task{
		{ID: "1", Status: StatusProcessed},
		{ID: "2", Status: StatusPending},
		{ID: "3", Status: StatusPending},
	}
	p, err := node(context.Background(), s)
	require.NoError(t, err)
	require.Len(t, p.Tasks, 1)
	assert.Equal(t, "2", p.Tasks[0].ID)
	assert.Empty(t, llm.calls[0].Tools)
}

func TestTaskHandlerToolErrorPropagates(t *testing.T) {
	boom := errors.New("tavily 500")
	llm := hummingbirdLLM()
	node := TaskHandler(Deps{LLM: llm, Search: &fakeSearcher{err: boom}}, Options{}.normalize())

	s := NewState("q")
	s.Tasks = []Task{{ID: "1", Description: "x", NeedSearch: true, Status: StatusPending}}
	_, err := node(context.Background(), s)
	assert.ErrorIs(t, err, boom)
}

func TestTaskHandlerNothingToDo(t *testing.T) {
	llm := &fakeLLM{respond: reply("x")}
	p, err := TaskHandler(Deps{LLM: llm}, Options{}.normalize())(context.Background(), State{Tasks: []Task{{ID: "1", Status: StatusProcessed}}})
	require.NoError(t, err)
	assert.True(t, p.Empty())
	assert.Zero(t, llm.callCount())
}

func TestSearchAgentMarksSearched(t *testing.T) {
	llm := &fakeLLM{respond: func(provider.Request) (provider.Response, error) {
		return provider.Response{ToolCalls: []provider.ToolCall{{ID: "c", Name: SearchToolName, Arguments: []byte(`{"question":"refined"}`)}}}, nil
	}}
	search := hummingbirdSearcher()
	s := State{Tasks: []Task{
		{ID: "1", Status: StatusPending},
		{ID: "2", Description: "raw", NeedSearch: true, Status: StatusPending},
	}}
	p, err := SearchAgent(Deps{LLM: llm, Search: search})(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, []string{"refined"}, search.questions)
	out := Merge(s, p)
	assert.Equal(t, StatusSearched, out.Tasks[1].Status)
	assert.Len(t, out.Tasks[1].SearchResult, 1)
	assert.Equal(t, StatusPending, out.Tasks[0].Status)
}

func TestSearchAgentFallsBackToDescription(t *testing.T) {
	search := hummingbirdSearcher()
	s := State{Tasks: []Task{{ID: "1", Description: "raw question", NeedSearch: true, Status: StatusPending}}}
	_, err := SearchAgent(Deps{LLM: &fakeLLM{respond: reply("I'll search")}, Search: search})(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, []string{"raw question"}, search.questions)
}

func TestSimpleAnalyse(t *testing.T) {
	p, err := SimpleAnalyse(Deps{LLM: hummingbirdLLM()})(context.Background(), NewState("蜂鸟的最高时速"))
	require.NoError(t, err)
	assert.Equal(t, "蜂鸟飞行速度", *p.ResearchTarget)
	assert.NotEmpty(t, *p.SimpleAnalysis)

	for _, bad := range []string{
		"随便聊聊",
		`{"researchTarget":"蜂鸟飞行速度","simpleAnalysis":""}`,
		`{"researchTarget":" ","simpleAnalysis":"需要查找蜂鸟最高飞行速度。"}`,
	} {
		_, err = SimpleAnalyse(Deps{LLM: &fakeLLM{respond: reply(bad)}})(context.Background(), NewState("q"))
		assert.ErrorIs(t, err, ErrMalformedAnalysis, bad)
	}
}

func TestReportGeneratorGuard(t *testing.T) {
	llm := &fakeLLM{respond: reply("report")}
	node := ReportGenerator(Deps{LLM: llm})

	p, err := node(context.Background(), State{Tasks: []Task{{ID: "1", Status: StatusPending}}})
	require.NoError(t, err)
	require.NotNil(t, p.Summary)
	assert.Equal(t, "", *p.Summary)
	assert.Zero(t, llm.callCount())

	p, err = node(context.Background(), State{Input: "q", Tasks: []Task{
		{ID: "1", Status: StatusProcessed, Result: "first"},
		{ID: "2", Status: StatusProcessed, Result: "second"},
	}})
	require.NoError(t, err)
	assert.Equal(t, "report", *p.Summary)
	assert.Equal(t, "汇总信息：first\n\nsecond", llm.calls[0].Messages[0].Content)
	assert.Contains(t, llm.calls[0].System, "$$")
}
