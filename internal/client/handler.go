// Package client drives one chat exchange against the server: it ensures a
// session, streams the answer, folds the frames into the visible messages
// and persists the exchange.
package client

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fupingyezi/mini-DeepResearch/internal/streaming"
	"github.com/fupingyezi/mini-DeepResearch/models"
)

// Phase is where the handler is in an exchange.
type Phase string

const (
	PhaseIdle           Phase = "idle"
	PhaseSessionEnsured Phase = "sessionEnsured"
	PhaseStreaming      Phase = "streaming"
	PhaseCompleted      Phase = "completed"
	PhaseAborted        Phase = "aborted"
	PhaseErrored        Phase = "errored"
)

const (
	// StoppedSuffix is appended to the partial answer of an aborted exchange.
	StoppedSuffix = "\n 消息已被停止。"
	// TransportFailure replaces the answer when the stream could not be read
	// or failed before any content arrived.
	TransportFailure = "出错了，哎嘿。"

	titleRunes     = 15
	persistTimeout = 10 * time.Second
)

var (
	ErrEmptyInput = errors.New("input is empty")
	ErrBusy       = errors.New("an exchange is already streaming")
)

// Outcome is the result of one Send.
type Outcome struct {
	Phase     Phase
	SessionID string
	User      models.ChatMessage
	Assistant models.ChatMessage
	// Research is the folded research view, deepResearch mode only.
	Research *Research
	// StreamErr is the transport failure, if any.
	StreamErr error
	// PersistErr is the add_messages failure. It never fails the send.
	PersistErr error
}

// Handler runs exchanges one at a time.
type Handler struct {
	API    API
	Logger *zap.Logger
	// OnEvent observes every frame after it has been applied.
	OnEvent func(ev streaming.Event, assistant models.ChatMessage)

	mu        sync.Mutex
	busy      bool
	phase     Phase
	sessions  []models.ChatSession
	sessionID string
	messages  []models.ChatMessage
	cancel    context.CancelFunc
	now       func() time.Time
}

func New(api API, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{API: api, Logger: logger, phase: PhaseIdle, now: time.Now}
}

func (h *Handler) Phase() Phase {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.phase
}

// SetSessions seeds the sessions already known to the caller.
func (h *Handler) SetSessions(sessions []models.ChatSession) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessions = append([]models.ChatSession(nil), sessions...)
}

func (h *Handler) Sessions() []models.ChatSession {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]models.ChatSession(nil), h.sessions...)
}

// SelectSession continues an existing session with its loaded messages.
func (h *Handler) SelectSession(id string, msgs []models.ChatMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessionID = id
	h.messages = append([]models.ChatMessage(nil), msgs...)
}

func (h *Handler) SessionID() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sessionID
}

// Messages returns the visible conversation.
func (h *Handler) Messages() []models.ChatMessage {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]models.ChatMessage(nil), h.messages...)
}

// Abort stops the exchange in flight, if any.
func (h *Handler) Abort() {
	h.mu.Lock()
	cancel := h.cancel
	h.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Send runs one exchange. It returns an error only when the exchange could
// not start; stream and persistence failures are reported in the Outcome.
func (h *Handler) Send(ctx context.Context, input string, mode models.Mode) (Outcome, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return Outcome{}, ErrEmptyInput
	}
	if !mode.Valid() {
		mode = models.ModeChat
	}

	h.mu.Lock()
	if h.busy {
		h.mu.Unlock()
		return Outcome{}, ErrBusy
	}
	h.busy = true
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		h.busy = false
		h.mu.Unlock()
	}()

	sessionID, err := h.ensureSession(ctx, input)
	if err != nil {
		h.setPhase(PhaseErrored)
		return Outcome{}, err
	}

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	h.mu.Lock()
	user := models.ChatMessage{
		ID:        int64(len(h.messages) + 1),
		SessionID: sessionID,
		Role:      models.RoleUser,
		Content:   input,
		Mode:      mode,
	}
	assistant := models.ChatMessage{
		ID:        user.ID + 1,
		SessionID: sessionID,
		Role:      models.RoleAssistant,
		Mode:      mode,
	}
	h.messages = append(h.messages, user, assistant)
	h.cancel = cancel
	h.phase = PhaseStreaming
	h.mu.Unlock()

	out := Outcome{SessionID: sessionID, User: user}
	r := newReducer(mode)
	out.Phase, out.StreamErr = h.stream(streamCtx, r, mode, sessionID, input, &assistant)

	switch out.Phase {
	case PhaseAborted:
		assistant.Content = r.content + StoppedSuffix
		assistant.ResearchStatus = models.ResearchStatusFailed
	case PhaseErrored:
		if out.StreamErr != nil || r.content == "" {
			assistant.Content = TransportFailure
		} else {
			assistant.Content = r.content
		}
		assistant.ResearchStatus = models.ResearchStatusFailed
	case PhaseCompleted:
		assistant.Content = r.content
		if mode == models.ModeDeepResearch {
			if res := r.result(sessionID, assistant.ID); res != nil {
				assistant.DeepResearchResult = res
				assistant.ResearchStatus = models.ResearchStatusFinished
			} else {
				assistant.ResearchStatus = models.ResearchStatusFailed
			}
		}
	}
	if mode == models.ModeDeepResearch {
		out.Research = r.research()
	}
	out.Assistant = assistant

	h.mu.Lock()
	h.replace(assistant)
	h.cancel = nil
	h.phase = out.Phase
	h.mu.Unlock()

	// persist even when the caller's context is already gone
	pctx, pcancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer pcancel()
	if err := h.API.AddMessages(pctx, []models.ChatMessage{user, assistant}); err != nil {
		h.Logger.Error("persist exchange failed",
			zap.String("session_id", sessionID), zap.Int64("message_id", assistant.ID), zap.Error(err))
		out.PersistErr = err
	}
	return out, nil
}

func (h *Handler) ensureSession(ctx context.Context, input string) (string, error) {
	h.mu.Lock()
	if h.sessionID != "" {
		id := h.sessionID
		h.phase = PhaseSessionEnsured
		h.mu.Unlock()
		return id, nil
	}
	now := h.now()
	cs := models.ChatSession{
		ID:        uuid.NewString(),
		SeqID:     len(h.sessions) + 1,
		Title:     firstRunes(input, titleRunes),
		CreatedAt: now,
		UpdatedAt: now,
	}
	h.phase = PhaseSessionEnsured
	h.mu.Unlock()

	if err := h.API.CreateSession(ctx, cs); err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessions = append(h.sessions, cs)
	h.sessionID = cs.ID
	h.messages = nil
	return cs.ID, nil
}

// stream reads frames until a terminal frame, the end of the body, or a
// failure, updating assistant as frames arrive.
func (h *Handler) stream(ctx context.Context, r *reducer, mode models.Mode, sessionID, input string, assistant *models.ChatMessage) (Phase, error) {
	body, err := h.API.Stream(ctx, mode, sessionID, input)
	if err != nil {
		if ctx.Err() != nil {
			return PhaseAborted, nil
		}
		h.Logger.Warn("stream request failed", zap.Error(err))
		return PhaseErrored, err
	}
	defer body.Close()

	for ev, err := range streaming.Events(body) {
		if errors.Is(err, streaming.ErrBadFrame) {
			h.Logger.Warn("skipping undecodable frame", zap.Error(err))
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return PhaseAborted, nil
			}
			h.Logger.Warn("stream read failed", zap.Error(err))
			return PhaseErrored, err
		}
		if err := r.apply(ev); err != nil {
			h.Logger.Warn("skipping frame with bad payload", zap.String("type", ev.Type), zap.Error(err))
			continue
		}
		assistant.Content = r.content
		h.mu.Lock()
		h.replace(*assistant)
		h.mu.Unlock()
		if h.OnEvent != nil {
			h.OnEvent(ev, *assistant)
		}
		switch ev.Type {
		case streaming.TypeDone:
			return PhaseCompleted, nil
		case streaming.TypeError:
			return PhaseErrored, nil
		}
	}
	if ctx.Err() != nil {
		return PhaseAborted, nil
	}
	return PhaseCompleted, nil
}

func (h *Handler) replace(m models.ChatMessage) {
	for i := range h.messages {
		if h.messages[i].ID == m.ID && h.messages[i].SessionID == m.SessionID {
			h.messages[i] = m
			return
		}
	}
}

func (h *Handler) setPhase(p Phase) {
	h.mu.Lock()
	h.phase = p
	h.mu.Unlock()
}

func firstRunes(s string, n int) string {
	r := []rune(s)
	if len(r) > n {
		r = r[:n]
	}
	return string(r)
}
