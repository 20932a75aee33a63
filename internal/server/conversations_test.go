package server

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fupingyezi/mini-DeepResearch/internal/cache"
	"github.com/fupingyezi/mini-DeepResearch/internal/research"
	"github.com/fupingyezi/mini-DeepResearch/models"
)

func withCache(t *testing.T) (func(*Deps), *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	c := cache.New(rdb, "test:", time.Minute)
	return func(d *Deps) { d.Cache = c }, mr
}

type envelope[T any] struct {
	Success bool   `json:"success"`
	Data    T      `json:"data"`
	Error   string `json:"error"`
}

func session(id string, seq int) map[string]any {
	return map[string]any{"chat_session": map[string]any{"id": id, "seq_id": seq, "title": "蜂鸟的最高时速"}}
}

func TestCreateSession(t *testing.T) {
	f := newFixture(t, research.Options{})

	rec := f.do(t, http.MethodPost, "/api/conversations/create_session", session("s1", 1))
	require.Equal(t, http.StatusCreated, rec.Code)
	body := decode[envelope[models.ChatSession]](t, rec)
	assert.True(t, body.Success)
	assert.Equal(t, "s1", body.Data.ID)

	rec = f.do(t, http.MethodPost, "/api/conversations/create_session", session("s1", 1))
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/conversations/create_session", map[string]any{
		"chat_session": map[string]any{"id": "s2", "title": "t"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode[envelope[any]](t, rec).Error, "seq_id")
}

func TestSessionsAreCachedAndInvalidated(t *testing.T) {
	opt, mr := withCache(t)
	f := newFixture(t, research.Options{}, opt)
	f.do(t, http.MethodPost, "/api/conversations/create_session", session("s1", 1))

	for range 2 {
		rec := f.do(t, http.MethodGet, "/api/conversations/sessions", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Len(t, decode[envelope[[]models.ChatSession]](t, rec).Data, 1)
	}
	assert.Equal(t, 1, f.repo.count("ListSessions"))
	assert.True(t, mr.Exists("test:sessions"))

	rec := f.do(t, http.MethodPost, "/api/conversations/update_session", map[string]string{"id": "s1", "title": "新标题"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "新标题", decode[envelope[models.ChatSession]](t, rec).Data.Title)
	assert.False(t, mr.Exists("test:sessions"))

	rec = f.do(t, http.MethodGet, "/api/conversations/sessions", nil)
	assert.Equal(t, "新标题", decode[envelope[[]models.ChatSession]](t, rec).Data[0].Title)
	assert.Equal(t, 2, f.repo.count("ListSessions"))
}

func TestUpdateAndDeleteMissingSession(t *testing.T) {
	f := newFixture(t, research.Options{})
	rec := f.do(t, http.MethodPost, "/api/conversations/update_session", map[string]string{"sessionId": "nope", "title": "x"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = f.do(t, http.MethodPost, "/api/conversations/update_session", map[string]string{"sessionId": "nope"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = f.do(t, http.MethodPost, "/api/conversations/delete_session", map[string]string{"sessionId": "nope"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = f.do(t, http.MethodPost, "/api/conversations/delete_session", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func researchMessages() []models.ChatMessage {
	return []models.ChatMessage{
		{ID: 1, SessionID: "s1", Role: models.RoleUser, Content: "蜂鸟的最高时速", Mode: models.ModeDeepResearch},
		{
			ID: 2, SessionID: "s1", Role: models.RoleAssistant, Content: "# 报告",
			Mode: models.ModeDeepResearch, ResearchStatus: models.ResearchStatusFinished,
			DeepResearchResult: &models.DeepResearchResult{
				SessionID: "s1", MessageID: 2, ResearchTarget: "蜂鸟飞行速度", Report: "# 报告",
				Tasks: []models.ResearchTask{{TaskID: "step_1", Description: "查找", NeedSearch: true, Result: "90"}},
			},
		},
	}
}

func TestAddMessagesAndReadBack(t *testing.T) {
	opt, mr := withCache(t)
	f := newFixture(t, research.Options{}, opt)
	f.do(t, http.MethodPost, "/api/conversations/create_session", session("s1", 1))

	rec := f.do(t, http.MethodPost, "/api/conversations/add_messages", map[string]any{"chat_messages": researchMessages()})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, decode[map[string]any](t, rec)["inserted_count"])

	rec = f.do(t, http.MethodPost, "/api/conversations/get_current_messages", map[string]string{"sessionId": "s1"})
	require.Equal(t, http.StatusOK, rec.Code)
	msgs := decode[envelope[[]models.ChatMessage]](t, rec).Data
	require.Len(t, msgs, 2)
	require.NotNil(t, msgs[1].DeepResearchResult)

	for range 2 {
		rec = f.do(t, http.MethodPost, "/api/conversations/get_deep_research_result", map[string]any{"sessionId": "s1", "messageId": 2})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "蜂鸟飞行速度", decode[envelope[models.DeepResearchResult]](t, rec).Data.ResearchTarget)
	}
	assert.Equal(t, 1, f.repo.count("GetDeepResearchResult"))
	assert.True(t, mr.Exists("test:result:s1:2"))

	// snake_case keys are accepted as well
	rec = f.do(t, http.MethodPost, "/api/conversations/get_deep_research_result", map[string]any{"session_id": "s1", "message_id": 2})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/conversations/delete_session", map[string]string{"sessionId": "s1"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, mr.Exists("test:result:s1:2"))

	rec = f.do(t, http.MethodPost, "/api/conversations/get_deep_research_result", map[string]any{"sessionId": "s1", "messageId": 2})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAddMessagesValidationAndFailure(t *testing.T) {
	f := newFixture(t, research.Options{})
	rec := f.do(t, http.MethodPost, "/api/conversations/add_messages", map[string]any{"chat_messages": []any{}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	f.repo.failAdd = errors.New("insert chat_message: boom")
	rec = f.do(t, http.MethodPost, "/api/conversations/add_messages", map[string]any{"chat_messages": researchMessages()})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decode[envelope[any]](t, rec)
	assert.Equal(t, "failed to save messages and research results", body.Error)
}

func TestGetMessagesRequiresSession(t *testing.T) {
	f := newFixture(t, research.Options{})
	rec := f.do(t, http.MethodPost, "/api/conversations/get_current_messages", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = f.do(t, http.MethodPost, "/api/conversations/get_deep_research_result", map[string]any{"sessionId": "s1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
