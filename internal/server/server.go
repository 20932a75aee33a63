package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fupingyezi/mini-DeepResearch/internal/agent"
	"github.com/fupingyezi/mini-DeepResearch/internal/cache"
	"github.com/fupingyezi/mini-DeepResearch/internal/graph"
	"github.com/fupingyezi/mini-DeepResearch/internal/research"
	"github.com/fupingyezi/mini-DeepResearch/models"
)

// Repository is the conversation storage the handlers need.
type Repository interface {
	CreateSession(ctx context.Context, cs models.ChatSession) (models.ChatSession, error)
	ListSessions(ctx context.Context) ([]models.ChatSession, error)
	UpdateSessionTitle(ctx context.Context, id, title string) (models.ChatSession, error)
	DeleteSession(ctx context.Context, id string) error
	AddMessages(ctx context.Context, msgs []models.ChatMessage) error
	GetCurrentMessages(ctx context.Context, sessionID string) ([]models.ChatMessage, error)
	GetDeepResearchResult(ctx context.Context, sessionID string, messageID int64) (*models.DeepResearchResult, error)
}

// ResearchEngine is the graph engine running the research workflow.
type ResearchEngine = graph.Engine[research.State, research.Patch]

// Deps are the collaborators of the HTTP layer. Cache may be nil.
type Deps struct {
	Repo        Repository
	Cache       *cache.Cache
	Engine      *ResearchEngine
	Chat        *agent.Agent
	Search      *agent.Agent
	Logger      *zap.Logger
	CORSOrigins []string
	Heartbeat   time.Duration
}

// Server is the echo application.
type Server struct {
	Echo *echo.Echo

	repo      Repository
	cache     *cache.Cache
	engine    *ResearchEngine
	chat      *agent.Agent
	search    *agent.Agent
	logger    *zap.Logger
	heartbeat time.Duration
	now       func() time.Time
}

// New builds the echo instance and registers every route.
func New(d Deps) *Server {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		Echo:      echo.New(),
		repo:      d.Repo,
		cache:     d.Cache,
		engine:    d.Engine,
		chat:      d.Chat,
		search:    d.Search,
		logger:    logger,
		heartbeat: d.Heartbeat,
		now:       time.Now,
	}

	e := s.Echo
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	httpLogger := logger.Named("http")
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		fields := []zap.Field{
			zap.Int("status", code),
			zap.String("method", req.Method),
			zap.String("path", req.URL.Path),
			zap.String("remote", c.RealIP()),
			zap.Error(err),
		}
		if code >= http.StatusInternalServerError {
			httpLogger.Error("request failed", fields...)
		} else {
			httpLogger.Info("request rejected", fields...)
		}
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]any{"error": msg})
		}
	}
	origins := d.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: origins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderContentType, echo.HeaderAccept},
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group("/api")
	s.registerChat(api.Group("/chat"))
	s.registerResearch(api.Group("/research"))
	s.registerConversations(api.Group("/conversations"))
	return s
}

// ServeHTTP lets the server be mounted or tested as a plain handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Echo.ServeHTTP(w, r)
}

// Start listens on addr until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", zap.String("addr", addr))
		errCh <- s.Echo.Start(addr)
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.Echo.Shutdown(shutdownCtx)
	}
}

// ok writes the success envelope used by the conversation endpoints.
func ok(c echo.Context, code int, data any) error {
	return c.JSON(code, map[string]any{"success": true, "data": data})
}
