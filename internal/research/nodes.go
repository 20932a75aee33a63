package research

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/fupingyezi/mini-DeepResearch/internal/circuitbreaker"
	"github.com/fupingyezi/mini-DeepResearch/internal/graph"
	"github.com/fupingyezi/mini-DeepResearch/internal/metrics"
	"github.com/fupingyezi/mini-DeepResearch/provider"
)

var (
	// ErrMalformedAnalysis is returned when the opening analysis reply is not
	// the expected JSON object. The run aborts.
	ErrMalformedAnalysis = errors.New("malformed analysis reply")
	// ErrDecomposeExhausted is returned once the decomposer has failed to
	// produce a usable task list too many times.
	ErrDecomposeExhausted = errors.New("task decomposition attempts exhausted")
	// ErrNoSearcher is returned when a node needs retrieval but none is wired.
	ErrNoSearcher = errors.New("no searcher configured")
)

// SearchToolName is the name of the retrieval tool offered to the model.
const SearchToolName = "search_web_tool"

// SearchTool is the declaration of the retrieval tool.
var SearchTool = provider.Tool{
	Name:        SearchToolName,
	Description: "执行网络搜索",
	Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"question": map[string]any{"type": "string"},
		},
		"required": []string{"question"},
	},
}

// Searcher runs a web search and returns the formatted result blocks.
type Searcher interface {
	Search(ctx context.Context, question string) (string, error)
}

// Deps are the collaborators shared by the nodes.
type Deps struct {
	LLM     provider.Provider
	Search  Searcher
	Logger  *zap.Logger
	Breaker *circuitbreaker.Breaker
}

func (d Deps) logger() *zap.Logger {
	if d.Logger == nil {
		return zap.NewNop()
	}
	return d.Logger
}

func (d Deps) invoke(ctx context.Context, req provider.Request) (provider.Response, error) {
	return circuitbreaker.Do(ctx, d.Breaker, func(ctx context.Context) (provider.Response, error) {
		return d.LLM.Invoke(ctx, req)
	})
}

// SimpleAnalyse extracts the research target and a short analysis.
func SimpleAnalyse(d Deps) graph.Node[State, Patch] {
	return func(ctx context.Context, s State) (Patch, error) {
		resp, err := d.invoke(ctx, provider.Request{
			System:   simpleAnalysePrompt(),
			Messages: []provider.Message{{Role: provider.RoleUser, Content: s.Input}},
		})
		if err != nil {
			return Patch{}, fmt.Errorf("analyse: %w", err)
		}
		var out struct {
			ResearchTarget string `json:"researchTarget"`
			SimpleAnalysis string `json:"simpleAnalysis"`
		}
		if !decodeModelJSON(resp.Content, &out) ||
			strings.TrimSpace(out.ResearchTarget) == "" || strings.TrimSpace(out.SimpleAnalysis) == "" {
			d.logger().Warn("analysis reply unparseable", zap.String("content", resp.Content))
			return Patch{}, ErrMalformedAnalysis
		}
		return Patch{
			ResearchTarget: ptr(strings.TrimSpace(out.ResearchTarget)),
			SimpleAnalysis: ptr(strings.TrimSpace(out.SimpleAnalysis)),
			Messages:       []Message{{Role: "assistant", Content: strings.TrimSpace(out.SimpleAnalysis)}},
		}, nil
	}
}

// flexID accepts string or numeric ids from the model.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexID(strings.TrimSpace(s))
		return nil
	}
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexID(n.String())
	return nil
}

type decomposition struct {
	Task  []decomposedTask `json:"task"`
	Tasks []decomposedTask `json:"tasks"`
}

type decomposedTask struct {
	ID          flexID `json:"id"`
	Description string `json:"description"`
	NeedSearch  bool   `json:"needSearch"`
}

// parseDecomposition turns a decomposer reply into pending tasks. Entries
// past maxTasks are dropped; missing or duplicate ids become step_<n>.
func parseDecomposition(content string, maxTasks int) ([]Task, bool) {
	var d decomposition
	if !decodeModelJSON(content, &d) {
		return nil, false
	}
	entries := d.Task
	if len(entries) == 0 {
		entries = d.Tasks
	}
	seen := map[string]bool{}
	tasks := make([]Task, 0, len(entries))
	for _, e := range entries {
		if len(tasks) == maxTasks {
			break
		}
		desc := strings.TrimSpace(e.Description)
		if desc == "" {
			continue
		}
		id := string(e.ID)
		for n := len(tasks) + 1; id == "" || seen[id]; n++ {
			id = "step_" + strconv.Itoa(n)
		}
		seen[id] = true
		tasks = append(tasks, Task{ID: id, Description: desc, NeedSearch: e.NeedSearch, Status: StatusPending})
	}
	return tasks, len(tasks) > 0
}

// TaskDecomposer plans the task ledger.
func TaskDecomposer(d Deps, o Options) graph.Node[State, Patch] {
	return func(ctx context.Context, s State) (Patch, error) {
		if s.DecomposeAttempts >= o.MaxDecomposeAttempts {
			return Patch{}, fmt.Errorf("%w: %d attempts", ErrDecomposeExhausted, s.DecomposeAttempts)
		}
		resp, err := d.invoke(ctx, provider.Request{
			System:   decomposerPrompt(s.Input, o.MaxTasks),
			Messages: []provider.Message{{Role: provider.RoleUser, Content: s.Input}},
		})
		if err != nil {
			return Patch{}, fmt.Errorf("decompose: %w", err)
		}
		attempts := s.DecomposeAttempts + 1
		tasks, ok := parseDecomposition(resp.Content, o.MaxTasks)
		if !ok {
			metrics.DecomposerParseFailures.Inc()
			d.logger().Warn("decomposer reply unparseable",
				zap.Int("attempt", attempts),
				zap.String("content", resp.Content))
			return Patch{DecomposeAttempts: ptr(attempts)}, nil
		}
		updates := make([]TaskUpdate, 0, len(tasks))
		for _, t := range tasks {
			updates = append(updates, FullUpdate(t))
		}
		d.logger().Info("tasks planned", zap.Int("count", len(tasks)))
		return Patch{Tasks: updates, DecomposeAttempts: ptr(attempts)}, nil
	}
}

func nextToHandle(tasks []Task) (Task, bool) {
	for _, t := range tasks {
		if t.Status == StatusPending || t.Status == StatusSearched {
			return t, true
		}
	}
	return Task{}, false
}

// TaskHandler completes one task per visit. With the search tool bound the
// model may run at most one search before answering.
func TaskHandler(d Deps, o Options) graph.Node[State, Patch] {
	withTool := o.Topology == TopologyReact && d.Search != nil
	return func(ctx context.Context, s State) (Patch, error) {
		t, ok := nextToHandle(s.Tasks)
		if !ok {
			return Patch{}, nil
		}
		useTool := withTool && t.Status == StatusPending
		req := provider.Request{
			System:   taskHandlerPrompt(s.Input, useTool),
			Messages: []provider.Message{{Role: provider.RoleUser, Content: taskHandlerInput(t)}},
		}
		if useTool {
			req.Tools = []provider.Tool{SearchTool}
		}
		resp, err := d.invoke(ctx, req)
		if err != nil {
			return Patch{}, fmt.Errorf("handle task %s: %w", t.ID, err)
		}

		var found []SearchResult
		searched := false
		if useTool && len(resp.ToolCalls) > 0 {
			call := resp.ToolCalls[0]
			question := provider.ToolArgument(call, "question")
			if question == "" {
				question = t.Description
			}
			out, err := d.Search.Search(ctx, question)
			if err != nil {
				return Patch{}, fmt.Errorf("%s: %w", SearchToolName, err)
			}
			found = ParseSearchResults(out)
			searched = true
			d.logger().Debug("task searched",
				zap.String("task_id", t.ID),
				zap.String("question", question),
				zap.Int("results", len(found)))

			follow := req
			follow.Tools = nil
			follow.Messages = append(append([]provider.Message(nil), req.Messages...),
				provider.Message{Role: provider.RoleAssistant, Content: resp.Content, ToolCalls: []provider.ToolCall{call}},
				provider.Message{Role: provider.RoleTool, Content: out, ToolCallID: call.ID, Name: call.Name},
			)
			resp, err = d.invoke(ctx, follow)
			if err != nil {
				return Patch{}, fmt.Errorf("handle task %s: %w", t.ID, err)
			}
		}

		result := strings.TrimSpace(resp.Content)
		u := StatusUpdate(t.ID, StatusProcessed).WithResult(result)
		if searched {
			u = u.WithSearchResult(found)
		}
		return Patch{
			Tasks:    []TaskUpdate{u},
			Messages: []Message{{Role: "assistant", Content: result}},
		}, nil
	}
}

// SearchAgent runs retrieval for the first task waiting on it.
func SearchAgent(d Deps) graph.Node[State, Patch] {
	return func(ctx context.Context, s State) (Patch, error) {
		var t Task
		found := false
		for _, candidate := range s.Tasks {
			if candidate.NeedsSearch() {
				t, found = candidate, true
				break
			}
		}
		if !found {
			return Patch{}, nil
		}
		if d.Search == nil {
			return Patch{}, ErrNoSearcher
		}
		resp, err := d.invoke(ctx, provider.Request{
			System:   searchAgentPrompt(),
			Messages: []provider.Message{{Role: provider.RoleUser, Content: t.Description}},
			Tools:    []provider.Tool{SearchTool},
		})
		if err != nil {
			return Patch{}, fmt.Errorf("search task %s: %w", t.ID, err)
		}
		question := t.Description
		if len(resp.ToolCalls) > 0 {
			if q := provider.ToolArgument(resp.ToolCalls[0], "question"); q != "" {
				question = q
			}
		}
		out, err := d.Search.Search(ctx, question)
		if err != nil {
			return Patch{}, fmt.Errorf("%s: %w", SearchToolName, err)
		}
		u := StatusUpdate(t.ID, StatusSearched).WithSearchResult(ParseSearchResults(out))
		return Patch{Tasks: []TaskUpdate{u}}, nil
	}
}

// ReportGenerator writes the final report once every task is processed.
func ReportGenerator(d Deps) graph.Node[State, Patch] {
	return func(ctx context.Context, s State) (Patch, error) {
		if !AllProcessed(s.Tasks) {
			return Patch{Summary: ptr("")}, nil
		}
		parts := make([]string, 0, len(s.Tasks))
		for _, t := range s.Tasks {
			if r := strings.TrimSpace(t.Result); r != "" {
				parts = append(parts, r)
			}
		}
		results := strings.Join(parts, "\n\n")
		resp, err := d.invoke(ctx, provider.Request{
			System:   reportPrompt(s.Input, s.ResearchTarget),
			Messages: []provider.Message{{Role: provider.RoleUser, Content: "汇总信息：" + results}},
		})
		if err != nil {
			return Patch{}, fmt.Errorf("report: %w", err)
		}
		summary := strings.TrimSpace(resp.Content)
		if summary == "" {
			d.logger().Warn("empty report reply, using task results")
			summary = results
		}
		if summary == "" {
			summary = "相关信息暂未获取。"
		}
		return Patch{Summary: ptr(summary)}, nil
	}
}
