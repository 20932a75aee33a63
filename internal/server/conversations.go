package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fupingyezi/mini-DeepResearch/internal/cache"
	"github.com/fupingyezi/mini-DeepResearch/internal/store"
	"github.com/fupingyezi/mini-DeepResearch/models"
)

type createSessionRequest struct {
	ChatSession *models.ChatSession `json:"chat_session"`
}

type sessionRequest struct {
	ID        string `json:"id"`
	SessionID string `json:"sessionId"`
	Title     string `json:"title"`
}

func (r sessionRequest) sessionID() string {
	if r.SessionID != "" {
		return strings.TrimSpace(r.SessionID)
	}
	return strings.TrimSpace(r.ID)
}

type addMessagesRequest struct {
	ChatMessages []models.ChatMessage `json:"chat_messages"`
}

type resultRequest struct {
	SessionID    string `json:"sessionId"`
	MessageID    int64  `json:"messageId"`
	SessionIDAlt string `json:"session_id"`
	MessageIDAlt int64  `json:"message_id"`
}

func (r resultRequest) keys() (string, int64) {
	sid, mid := r.SessionID, r.MessageID
	if sid == "" {
		sid = r.SessionIDAlt
	}
	if mid == 0 {
		mid = r.MessageIDAlt
	}
	return strings.TrimSpace(sid), mid
}

func (s *Server) registerConversations(g *echo.Group) {
	g.POST("/create_session", s.createSession)
	g.GET("/sessions", s.listSessions)
	g.POST("/update_session", s.updateSession)
	g.POST("/delete_session", s.deleteSession)
	g.POST("/get_current_messages", s.getCurrentMessages)
	g.POST("/add_messages", s.addMessages)
	g.POST("/get_deep_research_result", s.getDeepResearchResult)
}

func (s *Server) createSession(c echo.Context) error {
	var req createSessionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	cs := req.ChatSession
	if cs == nil || strings.TrimSpace(cs.ID) == "" || cs.SeqID == 0 || strings.TrimSpace(cs.Title) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "missing required fields: id, seq_id, title")
	}
	created, err := s.repo.CreateSession(c.Request().Context(), *cs)
	if errors.Is(err, store.ErrSessionExists) {
		return echo.NewHTTPError(http.StatusConflict, "session already exists")
	}
	if err != nil {
		return err
	}
	s.invalidate(c.Request().Context(), cache.SessionsKey())
	return ok(c, http.StatusCreated, created)
}

func (s *Server) listSessions(c echo.Context) error {
	ctx := c.Request().Context()
	var sessions []models.ChatSession
	if hit, err := s.cache.GetJSON(ctx, cache.SessionsKey(), &sessions); err != nil {
		s.logger.Warn("session cache read failed", zap.Error(err))
	} else if hit {
		return ok(c, http.StatusOK, sessions)
	}
	sessions, err := s.repo.ListSessions(ctx)
	if err != nil {
		return err
	}
	if err := s.cache.SetJSON(ctx, cache.SessionsKey(), sessions); err != nil {
		s.logger.Warn("session cache write failed", zap.Error(err))
	}
	return ok(c, http.StatusOK, sessions)
}

func (s *Server) updateSession(c echo.Context) error {
	var req sessionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	id, title := req.sessionID(), strings.TrimSpace(req.Title)
	if id == "" || title == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id and title are required")
	}
	updated, err := s.repo.UpdateSessionTitle(c.Request().Context(), id, title)
	if errors.Is(err, models.ErrSessionNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	}
	if err != nil {
		return err
	}
	s.invalidate(c.Request().Context(), cache.SessionsKey())
	return ok(c, http.StatusOK, updated)
}

func (s *Server) deleteSession(c echo.Context) error {
	var req sessionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	id := req.sessionID()
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "missing required field: sessionId")
	}
	ctx := c.Request().Context()
	err := s.repo.DeleteSession(ctx, id)
	if errors.Is(err, models.ErrSessionNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	}
	if err != nil {
		return err
	}
	s.invalidate(ctx, cache.SessionsKey())
	s.invalidateResults(ctx, id)
	return ok(c, http.StatusOK, map[string]string{"id": id})
}

func (s *Server) getCurrentMessages(c echo.Context) error {
	var req sessionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	id := req.sessionID()
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session ID is required")
	}
	msgs, err := s.repo.GetCurrentMessages(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return ok(c, http.StatusOK, msgs)
}

func (s *Server) addMessages(c echo.Context) error {
	var req addMessagesRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if len(req.ChatMessages) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "chat_messages must be a non-empty array")
	}
	ctx := c.Request().Context()
	if err := s.repo.AddMessages(ctx, req.ChatMessages); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to save messages and research results").SetInternal(err)
	}
	s.invalidate(ctx, cache.SessionsKey())
	seen := map[string]bool{}
	for _, m := range req.ChatMessages {
		if !seen[m.SessionID] {
			seen[m.SessionID] = true
			s.invalidateResults(ctx, m.SessionID)
		}
	}
	return c.JSON(http.StatusOK, map[string]any{"success": true, "inserted_count": len(req.ChatMessages)})
}

func (s *Server) getDeepResearchResult(c echo.Context) error {
	var req resultRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	sessionID, messageID := req.keys()
	if sessionID == "" || messageID == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "sessionId and messageId are required")
	}
	ctx := c.Request().Context()
	key := cache.ResultKey(sessionID, messageID)

	var cached models.DeepResearchResult
	if hit, err := s.cache.GetJSON(ctx, key, &cached); err != nil {
		s.logger.Warn("result cache read failed", zap.Error(err))
	} else if hit {
		return ok(c, http.StatusOK, cached)
	}

	res, err := s.repo.GetDeepResearchResult(ctx, sessionID, messageID)
	if errors.Is(err, store.ErrResultNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "deep research result not found")
	}
	if err != nil {
		return err
	}
	if err := s.cache.SetJSON(ctx, key, res); err != nil {
		s.logger.Warn("result cache write failed", zap.Error(err))
	}
	return ok(c, http.StatusOK, res)
}

func (s *Server) invalidate(ctx context.Context, keys ...string) {
	if err := s.cache.Delete(ctx, keys...); err != nil {
		s.logger.Warn("cache invalidation failed", zap.Strings("keys", keys), zap.Error(err))
	}
}

func (s *Server) invalidateResults(ctx context.Context, sessionID string) {
	if err := s.cache.DeletePrefix(ctx, "result:"+sessionID+":"); err != nil {
		s.logger.Warn("cache invalidation failed", zap.String("session_id", sessionID), zap.Error(err))
	}
}
