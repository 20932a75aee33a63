package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fupingyezi/mini-DeepResearch/internal/agent"
	"github.com/fupingyezi/mini-DeepResearch/internal/streaming"
	"github.com/fupingyezi/mini-DeepResearch/models"
	"github.com/fupingyezi/mini-DeepResearch/provider"
)

type roleMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Messages  []roleMessage `json:"messages"`
	Input     string        `json:"input"`
	SessionID string        `json:"sessionId"`
	Stream    *bool         `json:"stream"`
}

func (r chatRequest) streaming() bool { return r.Stream == nil || *r.Stream }

// conversation maps the request onto provider messages. A bare input is a
// one-turn conversation.
func (r chatRequest) conversation() ([]provider.Message, error) {
	var out []provider.Message
	for i, m := range r.Messages {
		var role provider.Role
		switch strings.ToLower(m.Role) {
		case "user", "human":
			role = provider.RoleUser
		case "assistant", "ai":
			role = provider.RoleAssistant
		case "system":
			continue
		default:
			return nil, fmt.Errorf("messages[%d]: unknown role %q", i, m.Role)
		}
		out = append(out, provider.Message{Role: role, Content: m.Content})
	}
	if input := strings.TrimSpace(r.Input); input != "" {
		out = append(out, provider.Message{Role: provider.RoleUser, Content: input})
	}
	if len(out) == 0 {
		return nil, errors.New("input is empty")
	}
	return out, nil
}

// historyLimit caps how many stored messages are replayed into a turn.
const historyLimit = 20

// history returns the earlier turns of the request's session. Callers that
// send their own messages get none.
func (s *Server) history(ctx context.Context, req chatRequest) ([]provider.Message, error) {
	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" || len(req.Messages) > 0 || s.repo == nil {
		return nil, nil
	}
	stored, err := s.repo.GetCurrentMessages(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session history: %w", err)
	}
	if len(stored) > historyLimit {
		stored = stored[len(stored)-historyLimit:]
	}
	out := make([]provider.Message, 0, len(stored))
	for _, m := range stored {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		switch m.Role {
		case models.RoleUser:
			out = append(out, provider.Message{Role: provider.RoleUser, Content: m.Content})
		case models.RoleAssistant:
			out = append(out, provider.Message{Role: provider.RoleAssistant, Content: m.Content})
		}
	}
	return out, nil
}

func (s *Server) registerChat(g *echo.Group) {
	g.POST("/v1/deep_research", s.deepResearch)
	g.POST("/basic_agents", s.agentHandler(func() *agent.Agent { return s.chat }))
	search := s.agentHandler(func() *agent.Agent { return s.search })
	g.POST("/search_agent", search)
	g.POST("/search_agents", search)
}

// agentHandler answers with the whole conversation as JSON, or streams the
// answer as content frames.
func (s *Server) agentHandler(pick func() *agent.Agent) echo.HandlerFunc {
	return func(c echo.Context) error {
		a := pick()
		if a == nil {
			return echo.NewHTTPError(http.StatusServiceUnavailable, "agent not configured")
		}
		var req chatRequest
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
		}
		msgs, err := req.conversation()
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		ctx := c.Request().Context()
		past, err := s.history(ctx, req)
		if err != nil {
			return err
		}
		msgs = append(past, msgs...)

		if !req.streaming() {
			out, err := a.Invoke(ctx, msgs)
			if err != nil {
				return fmt.Errorf("agent: %w", err)
			}
			resp := make([]roleMessage, 0, len(out))
			for _, m := range out {
				resp = append(resp, roleMessage{Role: string(m.Role), Content: m.Content})
			}
			return c.JSON(http.StatusOK, map[string]any{"messages": resp})
		}

		logger := s.logger.Named("chat")
		w := s.openStream(c)
		if err := w.Send(streaming.Start(s.now())); err != nil {
			return nil
		}
		i := 0
		err = a.Stream(ctx, msgs, func(ch provider.Chunk) error {
			ev := streaming.Content(strconv.Itoa(i), models.RoleAssistant, ch.Content)
			i++
			return w.Send(ev)
		})
		if err != nil {
			if ctx.Err() == nil {
				logger.Error("agent stream failed", zap.Error(err))
				_ = w.Send(streaming.Error())
			}
			return nil
		}
		_ = w.Send(streaming.Done())
		return nil
	}
}
