package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fupingyezi/mini-DeepResearch/internal/agent"
	"github.com/fupingyezi/mini-DeepResearch/internal/graph"
	"github.com/fupingyezi/mini-DeepResearch/internal/research"
	"github.com/fupingyezi/mini-DeepResearch/internal/store"
	"github.com/fupingyezi/mini-DeepResearch/internal/streaming"
	"github.com/fupingyezi/mini-DeepResearch/models"
	"github.com/fupingyezi/mini-DeepResearch/provider"
)

// memRepo is an in-memory Repository.
type memRepo struct {
	mu       sync.Mutex
	sessions map[string]models.ChatSession
	messages map[string][]models.ChatMessage
	calls    map[string]int
	failAdd  error
}

func newMemRepo() *memRepo {
	return &memRepo{
		sessions: map[string]models.ChatSession{},
		messages: map[string][]models.ChatMessage{},
		calls:    map[string]int{},
	}
}

func (r *memRepo) count(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[name]
}

func (r *memRepo) CreateSession(ctx context.Context, cs models.ChatSession) (models.ChatSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls["CreateSession"]++
	if _, ok := r.sessions[cs.ID]; ok {
		return models.ChatSession{}, store.ErrSessionExists
	}
	r.sessions[cs.ID] = cs
	return cs, nil
}

func (r *memRepo) ListSessions(ctx context.Context) ([]models.ChatSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls["ListSessions"]++
	out := make([]models.ChatSession, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SeqID > out[j].SeqID })
	return out, nil
}

func (r *memRepo) UpdateSessionTitle(ctx context.Context, id, title string) (models.ChatSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return models.ChatSession{}, models.ErrSessionNotFound
	}
	s.Title = title
	r.sessions[id] = s
	return s, nil
}

func (r *memRepo) DeleteSession(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; !ok {
		return models.ErrSessionNotFound
	}
	delete(r.sessions, id)
	delete(r.messages, id)
	return nil
}

func (r *memRepo) AddMessages(ctx context.Context, msgs []models.ChatMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAdd != nil {
		return r.failAdd
	}
	for _, m := range msgs {
		r.messages[m.SessionID] = append(r.messages[m.SessionID], m)
	}
	return nil
}

func (r *memRepo) GetCurrentMessages(ctx context.Context, sessionID string) ([]models.ChatMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.ChatMessage{}, r.messages[sessionID]...), nil
}

func (r *memRepo) GetDeepResearchResult(ctx context.Context, sessionID string, messageID int64) (*models.DeepResearchResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls["GetDeepResearchResult"]++
	for _, m := range r.messages[sessionID] {
		if m.ID == messageID && m.DeepResearchResult != nil {
			res := *m.DeepResearchResult
			return &res, nil
		}
	}
	return nil, store.ErrResultNotFound
}

// researchLLM answers each workflow prompt the way a cooperative model would.
type researchLLM struct {
	mu      sync.Mutex
	failOn  string
	streams []provider.Request
}

func (l *researchLLM) Invoke(ctx context.Context, req provider.Request) (provider.Response, error) {
	if err := ctx.Err(); err != nil {
		return provider.Response{}, err
	}
	l.mu.Lock()
	failOn := l.failOn
	l.mu.Unlock()
	if failOn != "" && strings.Contains(req.System, failOn) {
		return provider.Response{}, context.DeadlineExceeded
	}
	switch {
	case strings.Contains(req.System, "需求分析师"):
		return provider.Response{Content: `{"researchTarget":"蜂鸟飞行速度","simpleAnalysis":"需要查找蜂鸟最高飞行速度。"}`}, nil
	case strings.Contains(req.System, "科研项目规划专家"):
		return provider.Response{Content: `{"task":[{"id":"step_1","description":"查找蜂鸟的最高飞行时速","needSearch":true}]}`}, nil
	case strings.Contains(req.System, "信息分析师") && len(req.Tools) > 0:
		return provider.Response{ToolCalls: []provider.ToolCall{{
			ID: "call_1", Name: research.SearchToolName, Arguments: []byte(`{"question":"蜂鸟最高时速"}`),
		}}}, nil
	case strings.Contains(req.System, "信息分析师"):
		return provider.Response{Content: "蜂鸟俯冲时最高时速约 90 公里。"}, nil
	case strings.Contains(req.System, "研究报告撰写专家"):
		return provider.Response{Content: "# 蜂鸟的最高时速\n\n约 90 公里/小时。"}, nil
	}
	return provider.Response{Content: "你好，我是助手。"}, nil
}

func (l *researchLLM) Stream(ctx context.Context, req provider.Request, fn func(provider.Chunk) error) error {
	l.mu.Lock()
	l.streams = append(l.streams, req)
	l.mu.Unlock()
	for _, part := range []string{"你好，", "我是助手。"} {
		if err := fn(provider.Chunk{Content: part}); err != nil {
			return err
		}
	}
	return nil
}

type stubSearcher struct{}

func (stubSearcher) Search(ctx context.Context, question string) (string, error) {
	return research.FormatSearchResults([]research.SearchResult{{
		Title: "Anna's hummingbird", SourceURL: "https://example.org/a", Content: "27 m/s", RelativeScore: 0.9,
	}}), nil
}

type fixture struct {
	srv  *Server
	repo *memRepo
	llm  *researchLLM
	cp   *graph.MemoryCheckpointer
}

func newFixture(t *testing.T, opts research.Options, deps ...func(*Deps)) *fixture {
	t.Helper()
	llm := &researchLLM{}
	g, err := research.NewGraph(research.Deps{LLM: llm, Search: stubSearcher{}}, opts)
	require.NoError(t, err)
	cp := graph.NewMemoryCheckpointer()
	eng, err := graph.NewEngine(g, graph.WithCheckpointer(cp))
	require.NoError(t, err)
	repo := newMemRepo()
	d := Deps{
		Repo:   repo,
		Engine: eng,
		Chat:   agent.NewChat(llm, nil, nil),
		Search: agent.NewSearch(llm, stubSearcher{}, nil, nil),
	}
	for _, fn := range deps {
		fn(&d)
	}
	return &fixture{srv: New(d), repo: repo, llm: llm, cp: cp}
}

func newJSONRequest(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func serve(f *fixture, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	return serve(f, newJSONRequest(t, method, path, body))
}

func jsonState(s research.State) ([]byte, error) { return json.Marshal(s) }

func events(t *testing.T, rec *httptest.ResponseRecorder) []streaming.Event {
	t.Helper()
	var out []streaming.Event
	for ev, err := range streaming.Events(strings.NewReader(rec.Body.String())) {
		require.NoError(t, err)
		out = append(out, ev)
	}
	return out
}

func types(evs []streaming.Event) []string {
	out := make([]string, len(evs))
	for i, ev := range evs {
		out[i] = ev.Type
	}
	return out
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t, research.Options{})
	rec := f.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", rec.Body.String())

	rec = f.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestUnknownRouteUsesErrorEnvelope(t *testing.T) {
	f := newFixture(t, research.Options{})
	rec := f.do(t, http.MethodGet, "/api/nope", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	body := decode[map[string]any](t, rec)
	require.Contains(t, body, "error")
}
