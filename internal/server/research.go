package server

import (
	"context"
	"errors"
	"iter"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fupingyezi/mini-DeepResearch/internal/graph"
	"github.com/fupingyezi/mini-DeepResearch/internal/metrics"
	"github.com/fupingyezi/mini-DeepResearch/internal/research"
	"github.com/fupingyezi/mini-DeepResearch/internal/streaming"
)

var tracer = otel.Tracer("deepresearch/internal/server")

type deepResearchRequest struct {
	Input     string `json:"input"`
	SessionID string `json:"sessionId"`
}

type researchRun = iter.Seq2[graph.Snapshot[research.State], error]

func (s *Server) registerResearch(g *echo.Group) {
	g.GET("/:thread_id/checkpoint", s.checkpoint)
	g.POST("/:thread_id/resume", s.resume)
}

// deepResearch starts a fresh run for the session and streams its deltas.
//
//	@Summary	Run deep research
//	@Accept		json
//	@Produce	text/event-stream
//	@Router		/chat/v1/deep_research [post]
func (s *Server) deepResearch(c echo.Context) error {
	var req deepResearchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	input := strings.TrimSpace(req.Input)
	if input == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "input is empty")
	}
	threadID := strings.TrimSpace(req.SessionID)
	if threadID == "" {
		threadID = uuid.NewString()
	}
	return s.streamResearch(c, threadID, func(ctx context.Context) researchRun {
		return s.engine.Run(ctx, research.NewState(input), threadID)
	})
}

// checkpoint returns the latest snapshot of a thread.
func (s *Server) checkpoint(c echo.Context) error {
	threadID := c.Param("thread_id")
	snap, found, err := s.engine.Latest(c.Request().Context(), threadID)
	if err != nil {
		return err
	}
	if !found {
		return echo.NewHTTPError(http.StatusNotFound, "no checkpoint for thread")
	}
	return c.JSON(http.StatusOK, snap)
}

// resume continues a thread from its latest checkpoint. The stream replays
// the checkpointed state first so a reconnecting client catches up.
func (s *Server) resume(c echo.Context) error {
	threadID := c.Param("thread_id")
	ctx := c.Request().Context()
	if _, found, err := s.engine.Latest(ctx, threadID); err != nil {
		return err
	} else if !found {
		return echo.NewHTTPError(http.StatusNotFound, "no checkpoint for thread")
	}
	return s.streamResearch(c, threadID, func(ctx context.Context) researchRun {
		return func(yield func(graph.Snapshot[research.State], error) bool) {
			snap, found, err := s.engine.Latest(ctx, threadID)
			if err != nil {
				yield(graph.Snapshot[research.State]{}, err)
				return
			}
			if found && !yield(snap, nil) {
				return
			}
			for snap, err := range s.engine.Resume(ctx, threadID) {
				if !yield(snap, err) {
					return
				}
			}
		}
	})
}

// streamResearch writes the SSE response of one run: start, the deltas of
// every transition, then done or error. The run uses the request context
// so a disconnecting client cancels it.
func (s *Server) streamResearch(c echo.Context, threadID string, run func(context.Context) researchRun) error {
	ctx, span := tracer.Start(c.Request().Context(), "research.stream",
		trace.WithAttributes(attribute.String("thread_id", threadID)))
	defer span.End()
	logger := s.logger.Named("research").With(zap.String("thread_id", threadID))

	w := s.openStream(c)
	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.Heartbeat(hbCtx, s.heartbeat)
	}()
	defer func() {
		stopHeartbeat()
		wg.Wait()
	}()

	if err := w.Send(streaming.Start(s.now())); err != nil {
		return nil
	}

	x := streaming.Extractor{OnMultipleTaskChanges: func(n int) {
		metrics.DeltaMultiTaskChanges.Inc()
		logger.Warn("several tasks changed status in one transition", zap.Int("tasks", n))
	}}
	var prev *research.State
	steps := 0
	for snap, err := range run(ctx) {
		if err != nil {
			if ctx.Err() != nil {
				metrics.Runs.WithLabelValues("canceled").Inc()
				logger.Info("run canceled", zap.Int("steps", steps), zap.Error(ctx.Err()))
				return nil
			}
			metrics.Runs.WithLabelValues("failed").Inc()
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			logger.Error("run failed", zap.Int("steps", steps), zap.Error(err))
			_ = w.Send(streaming.Error())
			return nil
		}
		steps++
		for _, ev := range x.Drain(prev, snap.State) {
			if err := w.Send(ev); err != nil {
				logger.Info("client went away", zap.Error(err))
				return nil
			}
		}
		st := snap.State
		prev = &st
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		metrics.Runs.WithLabelValues("canceled").Inc()
		return nil
	}
	metrics.Runs.WithLabelValues("completed").Inc()
	span.SetAttributes(attribute.Int("steps", steps))
	logger.Info("run completed", zap.Int("steps", steps))
	_ = w.Send(streaming.Done())
	return nil
}

// openStream commits the SSE response headers.
func (s *Server) openStream(c echo.Context) *streaming.Writer {
	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set("Cache-Control", "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.Header().Set("X-Accel-Buffering", "no")
	resp.WriteHeader(http.StatusOK)
	resp.Flush()

	w := streaming.NewWriter(resp)
	w.OnEvent = func(ev streaming.Event) {
		metrics.SSEEvents.WithLabelValues(ev.Type).Inc()
	}
	return w
}
