package client

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fupingyezi/mini-DeepResearch/internal/research"
	"github.com/fupingyezi/mini-DeepResearch/internal/streaming"
	"github.com/fupingyezi/mini-DeepResearch/models"
)

// fakeServer plays the conversation and chat endpoints.
type fakeServer struct {
	t *testing.T

	mu        sync.Mutex
	sessions  []models.ChatSession
	persisted [][]models.ChatMessage
	streamReq map[string]any
	// frames per stream path; hold keeps the stream open until the client leaves
	frames     map[string][]streaming.Event
	hold       bool
	status     int
	failAdd    bool
	failCreate bool
}

func newFakeServer(t *testing.T) (*fakeServer, *httptest.Server) {
	f := &fakeServer{t: t, frames: map[string][]streaming.Event{}}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch r.URL.Path {
	case "/api/conversations/create_session":
		var body struct {
			ChatSession models.ChatSession `json:"chat_session"`
		}
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&body))
		if f.failCreate {
			http.Error(w, `{"error":"db down"}`, http.StatusInternalServerError)
			return
		}
		f.sessions = append(f.sessions, body.ChatSession)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"success":true}`))
	case "/api/conversations/add_messages":
		var body struct {
			ChatMessages []models.ChatMessage `json:"chat_messages"`
		}
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&body))
		if f.failAdd {
			http.Error(w, `{"error":"failed to save messages and research results"}`, http.StatusInternalServerError)
			return
		}
		f.persisted = append(f.persisted, body.ChatMessages)
		_, _ = w.Write([]byte(`{"success":true}`))
	default:
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.streamReq = body
		if f.status != 0 {
			http.Error(w, "upstream down", f.status)
			return
		}
		frames, hold := f.frames[r.URL.Path], f.hold
		f.mu.Unlock()
		w.Header().Set("Content-Type", "text/event-stream")
		sw := streaming.NewWriter(w)
		for _, ev := range frames {
			_ = sw.Send(ev)
		}
		if hold {
			<-r.Context().Done()
		}
		// relock for the deferred unlock
		f.mu.Lock()
	}
}

func (f *fakeServer) lastPersisted() []models.ChatMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(f.t, f.persisted)
	return f.persisted[len(f.persisted)-1]
}

func hummingbirdFrames() []streaming.Event {
	pending := research.Task{ID: "step_1", Description: "查找蜂鸟的最高飞行时速", NeedSearch: true, Status: research.StatusPending}
	done := pending
	done.Status = research.StatusProcessed
	done.Result = "约 90 公里/小时"
	done.SearchResult = []research.SearchResult{{Title: "Anna's hummingbird", SourceURL: "https://example.org/a", RelativeScore: 0.9}}
	return []streaming.Event{
		streaming.Start(time.Now()),
		streaming.StartAnalyse("需要查找蜂鸟最高飞行速度。", "蜂鸟飞行速度"),
		streaming.TasksInitial([]research.Task{pending}),
		streaming.TaskUpdate(done),
		streaming.Summary("# 蜂鸟的最高时速"),
		streaming.Done(),
	}
}

func TestSendDeepResearchCompletes(t *testing.T) {
	fs, srv := newFakeServer(t)
	fs.frames["/api/chat/v1/deep_research"] = hummingbirdFrames()

	h := New(NewHTTPAPI(srv.URL, nil), nil)
	h.SetSessions([]models.ChatSession{{ID: "older", SeqID: 1}})
	out, err := h.Send(t.Context(), "蜂鸟的最高时速是多少，俯冲时又能达到多快", models.ModeDeepResearch)
	require.NoError(t, err)
	require.NoError(t, out.PersistErr)

	assert.Equal(t, PhaseCompleted, out.Phase)
	assert.Equal(t, PhaseCompleted, h.Phase())
	require.Len(t, fs.sessions, 1)
	assert.Equal(t, 2, fs.sessions[0].SeqID)
	assert.Equal(t, "蜂鸟的最高时速是多少，俯冲时又", fs.sessions[0].Title)
	assert.Equal(t, out.SessionID, fs.streamReq["sessionId"])

	assert.Equal(t, models.ResearchStatusFinished, out.Assistant.ResearchStatus)
	assert.Equal(t, "需要查找蜂鸟最高飞行速度。\n\n# 蜂鸟的最高时速", out.Assistant.Content)
	require.NotNil(t, out.Research)
	assert.Equal(t, research.StatusProcessed, out.Research.Tasks[0].Status)

	saved := fs.lastPersisted()
	require.Len(t, saved, 2)
	assert.Equal(t, int64(1), saved[0].ID)
	assert.Equal(t, int64(2), saved[1].ID)
	require.NotNil(t, saved[1].DeepResearchResult)
	bundle := saved[1].DeepResearchResult
	assert.Equal(t, "蜂鸟飞行速度", bundle.ResearchTarget)
	assert.Equal(t, int64(2), bundle.MessageID)
	require.Len(t, bundle.Tasks, 1)
	assert.Equal(t, "step_1", bundle.Tasks[0].TaskID)
	assert.Len(t, bundle.Tasks[0].SearchResult, 1)

	msgs := h.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, out.Assistant.Content, msgs[1].Content)
}

func TestSendChatAppendsContent(t *testing.T) {
	fs, srv := newFakeServer(t)
	fs.frames["/api/chat/basic_agents"] = []streaming.Event{
		streaming.Start(time.Now()),
		streaming.Content("0", "assistant", "你好，"),
		streaming.Content("1", "assistant", "我是助手。"),
		streaming.Done(),
	}
	h := New(NewHTTPAPI(srv.URL, nil), nil)
	var seen []string
	h.OnEvent = func(ev streaming.Event, m models.ChatMessage) { seen = append(seen, m.Content) }

	out, err := h.Send(t.Context(), "你好", models.ModeChat)
	require.NoError(t, err)
	assert.Equal(t, PhaseCompleted, out.Phase)
	assert.Equal(t, "你好，我是助手。", out.Assistant.Content)
	assert.Empty(t, out.Assistant.ResearchStatus)
	assert.Nil(t, out.Research)
	assert.Equal(t, []string{"", "你好，", "你好，我是助手。", "你好，我是助手。"}, seen)

	// the second exchange reuses the session and continues the ids
	out2, err := h.Send(t.Context(), "再见", models.ModeChat)
	require.NoError(t, err)
	assert.Equal(t, out.SessionID, out2.SessionID)
	assert.Equal(t, int64(3), out2.User.ID)
	assert.Len(t, fs.sessions, 1)
}

func TestAbortAfterTasksInitial(t *testing.T) {
	fs, srv := newFakeServer(t)
	frames := hummingbirdFrames()
	fs.frames["/api/chat/v1/deep_research"] = frames[:3]
	fs.hold = true

	h := New(NewHTTPAPI(srv.URL, nil), nil)
	h.OnEvent = func(ev streaming.Event, _ models.ChatMessage) {
		if ev.Type == streaming.TypeTasksInitial {
			h.Abort()
		}
	}
	out, err := h.Send(t.Context(), "蜂鸟的最高时速", models.ModeDeepResearch)
	require.NoError(t, err)

	assert.Equal(t, PhaseAborted, out.Phase)
	assert.True(t, strings.HasSuffix(out.Assistant.Content, StoppedSuffix))
	assert.Equal(t, "需要查找蜂鸟最高飞行速度。"+StoppedSuffix, out.Assistant.Content)

	saved := fs.lastPersisted()
	assert.True(t, strings.HasSuffix(saved[1].Content, StoppedSuffix))
	assert.NotEqual(t, models.ResearchStatusFinished, saved[1].ResearchStatus)
	assert.Nil(t, saved[1].DeepResearchResult)
}

func TestTransportFailure(t *testing.T) {
	fs, srv := newFakeServer(t)
	fs.status = http.StatusBadGateway

	h := New(NewHTTPAPI(srv.URL, nil), nil)
	out, err := h.Send(t.Context(), "q", models.ModeSearch)
	require.NoError(t, err)
	assert.Equal(t, PhaseErrored, out.Phase)
	var se *StatusError
	require.ErrorAs(t, out.StreamErr, &se)
	assert.Equal(t, http.StatusBadGateway, se.Code)
	assert.Equal(t, TransportFailure, out.Assistant.Content)
	assert.Equal(t, models.ResearchStatusFailed, fs.lastPersisted()[1].ResearchStatus)
}

func TestErrorFrame(t *testing.T) {
	fs, srv := newFakeServer(t)
	frames := hummingbirdFrames()
	fs.frames["/api/chat/v1/deep_research"] = append(frames[:3:3], streaming.Error())

	h := New(NewHTTPAPI(srv.URL, nil), nil)
	out, err := h.Send(t.Context(), "q", models.ModeDeepResearch)
	require.NoError(t, err)
	assert.Equal(t, PhaseErrored, out.Phase)
	assert.NoError(t, out.StreamErr)
	assert.Equal(t, models.ResearchStatusFailed, out.Assistant.ResearchStatus)
	assert.Nil(t, fs.lastPersisted()[1].DeepResearchResult)
}

func TestErrorFrameBeforeContent(t *testing.T) {
	fs, srv := newFakeServer(t)
	fs.frames["/api/chat/basic_agents"] = []streaming.Event{streaming.Start(time.Now()), streaming.Error()}

	h := New(NewHTTPAPI(srv.URL, nil), nil)
	out, err := h.Send(t.Context(), "q", models.ModeChat)
	require.NoError(t, err)
	assert.Equal(t, PhaseErrored, out.Phase)
	assert.Equal(t, TransportFailure, out.Assistant.Content)
	saved := fs.lastPersisted()
	assert.Equal(t, TransportFailure, saved[1].Content)
	assert.Equal(t, models.ResearchStatusFailed, saved[1].ResearchStatus)
}

func TestPersistFailureIsReported(t *testing.T) {
	fs, srv := newFakeServer(t)
	fs.frames["/api/chat/basic_agents"] = []streaming.Event{streaming.Content("0", "assistant", "hi"), streaming.Done()}
	fs.failAdd = true

	h := New(NewHTTPAPI(srv.URL, nil), nil)
	out, err := h.Send(t.Context(), "q", models.ModeChat)
	require.NoError(t, err)
	assert.Equal(t, PhaseCompleted, out.Phase)
	require.Error(t, out.PersistErr)
	assert.Contains(t, out.PersistErr.Error(), "500")
}

func TestSendRejections(t *testing.T) {
	fs, srv := newFakeServer(t)
	fs.failCreate = true
	h := New(NewHTTPAPI(srv.URL, nil), nil)

	_, err := h.Send(t.Context(), "   ", models.ModeChat)
	assert.ErrorIs(t, err, ErrEmptyInput)

	_, err = h.Send(t.Context(), "q", models.ModeChat)
	require.Error(t, err)
	assert.Equal(t, PhaseErrored, h.Phase())
	assert.Empty(t, h.SessionID())
}

func TestFirstRunes(t *testing.T) {
	assert.Equal(t, "abc", firstRunes("abc", 15))
	assert.Equal(t, "蜂鸟", firstRunes("蜂鸟的", 2))
}
