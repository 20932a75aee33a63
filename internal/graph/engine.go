package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var (
	// ErrStepLimit indicates a run that did not reach END within the step budget.
	ErrStepLimit = errors.New("step limit exceeded")
	// ErrNoCheckpoint indicates Resume was called for an unknown thread.
	ErrNoCheckpoint = errors.New("no checkpoint for thread")
)

const defaultMaxSteps = 50

var tracer = otel.Tracer("deepresearch/internal/graph")

// Snapshot is the state of a thread after one node execution.
type Snapshot[S any] struct {
	ThreadID string `json:"threadId"`
	RunID    string `json:"runId"`
	Step     int    `json:"step"`
	Node     string `json:"node"`
	Next     string `json:"next"`
	State    S      `json:"state"`
}

// Metrics aggregates optional telemetry callbacks.
type Metrics struct {
	NodeDuration func(ctx context.Context, node string, d time.Duration)
	NodeError    func(ctx context.Context, node string, err error)
}

type options struct {
	checkpointer Checkpointer
	maxSteps     int
	logger       *zap.Logger
	metrics      Metrics
	runID        func() string
}

// Option configures engine behaviour.
type Option func(*options)

// WithCheckpointer sets where transitions are persisted.
func WithCheckpointer(cp Checkpointer) Option {
	return func(o *options) {
		if cp != nil {
			o.checkpointer = cp
		}
	}
}

// WithMaxSteps bounds the number of node executions per thread.
func WithMaxSteps(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxSteps = n
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics sets engine metrics callbacks.
func WithMetrics(m Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithRunID overrides the run id generator.
func WithRunID(fn func() string) Option {
	return func(o *options) {
		if fn != nil {
			o.runID = fn
		}
	}
}

// Engine runs a validated graph.
type Engine[S, P any] struct {
	graph *Graph[S, P]
	opts  options
}

// NewEngine validates g and applies opts.
func NewEngine[S, P any](g *Graph[S, P], opts ...Option) (*Engine[S, P], error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	o := options{
		checkpointer: NewMemoryCheckpointer(),
		maxSteps:     defaultMaxSteps,
		logger:       zap.NewNop(),
		runID:        uuid.NewString,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Engine[S, P]{graph: g, opts: o}, nil
}

// Checkpointer returns the configured checkpointer.
func (e *Engine[S, P]) Checkpointer() Checkpointer { return e.opts.checkpointer }

// Run starts a fresh run of threadID from the entry node. The returned
// sequence yields one snapshot per node execution and stops after the first
// error.
func (e *Engine[S, P]) Run(ctx context.Context, initial S, threadID string) iter.Seq2[Snapshot[S], error] {
	return func(yield func(Snapshot[S], error) bool) {
		runID := e.opts.runID()
		entry := e.graph.entry
		if err := e.save(ctx, threadID, runID, 0, "", entry, initial); err != nil {
			yield(Snapshot[S]{}, err)
			return
		}
		e.opts.logger.Debug("run started", zap.String("thread_id", threadID), zap.String("run_id", runID))
		e.loop(ctx, threadID, runID, 0, entry, initial, yield)
	}
}

// Resume continues threadID from its latest checkpoint. A thread whose
// latest checkpoint points at END yields nothing.
func (e *Engine[S, P]) Resume(ctx context.Context, threadID string) iter.Seq2[Snapshot[S], error] {
	return func(yield func(Snapshot[S], error) bool) {
		cp, ok, err := e.opts.checkpointer.Latest(ctx, threadID)
		if err != nil {
			yield(Snapshot[S]{}, fmt.Errorf("load checkpoint: %w", err))
			return
		}
		if !ok {
			yield(Snapshot[S]{}, fmt.Errorf("%w: %s", ErrNoCheckpoint, threadID))
			return
		}
		if cp.Next == END {
			return
		}
		var state S
		if err := json.Unmarshal(cp.State, &state); err != nil {
			yield(Snapshot[S]{}, fmt.Errorf("decode checkpoint: %w", err))
			return
		}
		e.opts.logger.Info("resuming run",
			zap.String("thread_id", threadID),
			zap.String("run_id", cp.RunID),
			zap.Int("step", cp.Step),
			zap.String("next", cp.Next))
		e.loop(ctx, threadID, cp.RunID, cp.Step, cp.Next, state, yield)
	}
}

// Latest returns the most recent snapshot of threadID.
func (e *Engine[S, P]) Latest(ctx context.Context, threadID string) (Snapshot[S], bool, error) {
	cp, ok, err := e.opts.checkpointer.Latest(ctx, threadID)
	if err != nil || !ok {
		return Snapshot[S]{}, ok, err
	}
	var state S
	if err := json.Unmarshal(cp.State, &state); err != nil {
		return Snapshot[S]{}, false, fmt.Errorf("decode checkpoint: %w", err)
	}
	return Snapshot[S]{
		ThreadID: cp.ThreadID,
		RunID:    cp.RunID,
		Step:     cp.Step,
		Node:     cp.Node,
		Next:     cp.Next,
		State:    state,
	}, true, nil
}

func (e *Engine[S, P]) loop(ctx context.Context, threadID, runID string, step int, node string, state S, yield func(Snapshot[S], error) bool) {
	var zero Snapshot[S]
	for node != END {
		if err := ctx.Err(); err != nil {
			yield(zero, err)
			return
		}
		if step >= e.opts.maxSteps {
			yield(zero, fmt.Errorf("%w: %d", ErrStepLimit, e.opts.maxSteps))
			return
		}
		next, merged, err := e.execute(ctx, threadID, node, state)
		if err != nil {
			yield(zero, err)
			return
		}
		step++
		state = merged
		if err := e.save(ctx, threadID, runID, step, node, next, state); err != nil {
			yield(zero, err)
			return
		}
		snap := Snapshot[S]{ThreadID: threadID, RunID: runID, Step: step, Node: node, Next: next, State: state}
		if !yield(snap, nil) {
			return
		}
		node = next
	}
}

func (e *Engine[S, P]) execute(ctx context.Context, threadID, node string, state S) (string, S, error) {
	ctx, span := tracer.Start(ctx, "graph.node",
		trace.WithAttributes(
			attribute.String("graph.node", node),
			attribute.String("graph.thread_id", threadID),
		))
	defer span.End()

	start := time.Now()
	patch, err := e.graph.nodes[node](ctx, state)
	if e.opts.metrics.NodeDuration != nil {
		e.opts.metrics.NodeDuration(ctx, node, time.Since(start))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if e.opts.metrics.NodeError != nil {
			e.opts.metrics.NodeError(ctx, node, err)
		}
		e.opts.logger.Warn("node failed",
			zap.String("thread_id", threadID),
			zap.String("node", node),
			zap.Error(err))
		return "", state, fmt.Errorf("node %s: %w", node, err)
	}
	merged := e.graph.merge(state, patch)
	next, err := e.graph.next(ctx, node, merged)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", state, err
	}
	span.SetAttributes(attribute.String("graph.next", next))
	e.opts.logger.Debug("node done",
		zap.String("thread_id", threadID),
		zap.String("node", node),
		zap.String("next", next),
		zap.Duration("elapsed", time.Since(start)))
	return next, merged, nil
}

func (e *Engine[S, P]) save(ctx context.Context, threadID, runID string, step int, node, next string, state S) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	cp := Checkpoint{
		ThreadID:  threadID,
		RunID:     runID,
		Step:      step,
		Node:      node,
		Next:      next,
		State:     raw,
		CreatedAt: time.Now().UTC(),
	}
	if err := e.opts.checkpointer.Put(ctx, cp); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}
