package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fupingyezi/mini-DeepResearch/models"
)

// API is the server surface the handler talks to.
type API interface {
	CreateSession(ctx context.Context, cs models.ChatSession) error
	AddMessages(ctx context.Context, msgs []models.ChatMessage) error
	// Stream opens the SSE stream answering input in mode.
	Stream(ctx context.Context, mode models.Mode, sessionID, input string) (io.ReadCloser, error)
}

// StatusError is a non-2xx reply.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP error! status: %d: %s", e.Code, e.Body)
}

// HTTPAPI implements API over net/http.
type HTTPAPI struct {
	BaseURL string
	Client  *http.Client
}

// NewHTTPAPI returns an API for the server at baseURL. A nil client gets
// a default one without an overall timeout, since streams are long lived.
func NewHTTPAPI(baseURL string, client *http.Client) *HTTPAPI {
	if client == nil {
		client = &http.Client{Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			ResponseHeaderTimeout: 30 * time.Second,
		}}
	}
	return &HTTPAPI{BaseURL: strings.TrimRight(baseURL, "/"), Client: client}
}

func streamPath(mode models.Mode) string {
	switch mode {
	case models.ModeDeepResearch:
		return "/api/chat/v1/deep_research"
	case models.ModeSearch:
		return "/api/chat/search_agent"
	default:
		return "/api/chat/basic_agents"
	}
}

func (a *HTTPAPI) CreateSession(ctx context.Context, cs models.ChatSession) error {
	resp, err := a.post(ctx, "/api/conversations/create_session", map[string]any{"chat_session": cs}, "application/json")
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func (a *HTTPAPI) AddMessages(ctx context.Context, msgs []models.ChatMessage) error {
	resp, err := a.post(ctx, "/api/conversations/add_messages", map[string]any{"chat_messages": msgs}, "application/json")
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func (a *HTTPAPI) Stream(ctx context.Context, mode models.Mode, sessionID, input string) (io.ReadCloser, error) {
	body := map[string]any{"input": input, "sessionId": sessionID, "stream": true}
	resp, err := a.post(ctx, streamPath(mode), body, "text/event-stream")
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (a *HTTPAPI) post(ctx context.Context, path string, body any, accept string) (*http.Response, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.BaseURL+path, bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", accept)
	resp, err := a.Client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	return resp, nil
}
