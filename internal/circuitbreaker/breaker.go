// Package circuitbreaker guards calls to flaky upstreams (LLM gateways,
// search providers) so a run fails fast instead of waiting on every request.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State is the breaker position.
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

var (
	ErrCircuitBreakerOpen = errors.New("circuit breaker is open")
	ErrTooManyRequests    = errors.New("too many requests in half-open state")
)

// callerError is a failure on the caller's side of a guarded call.
type callerError struct{ err error }

func (e callerError) Error() string { return e.err.Error() }
func (e callerError) Unwrap() error { return e.err }

// CallerFault marks err as the caller's own failure, for example a write to
// a client that went away mid-stream. The breaker does not count it
// against the upstream.
func CallerFault(err error) error {
	if err == nil {
		return nil
	}
	return callerError{err: err}
}

// Config tunes a breaker.
type Config struct {
	// FailureThreshold consecutive failures open the breaker.
	FailureThreshold uint32
	// Timeout is how long the breaker stays open before probing.
	Timeout time.Duration
	// HalfOpenRequests caps probe calls while half-open.
	HalfOpenRequests uint32
	// SuccessThreshold probe successes close the breaker again.
	SuccessThreshold uint32
	OnStateChange    func(name string, from, to State)
}

func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		Timeout:          30 * time.Second,
		HalfOpenRequests: 1,
		SuccessThreshold: 1,
	}
}

func (c Config) normalize() Config {
	d := DefaultConfig()
	if c.FailureThreshold == 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.HalfOpenRequests == 0 {
		c.HalfOpenRequests = d.HalfOpenRequests
	}
	if c.SuccessThreshold == 0 {
		c.SuccessThreshold = d.SuccessThreshold
	}
	return c
}

// Breaker implements the closed/open/half-open state machine.
type Breaker struct {
	name   string
	cfg    Config
	logger *zap.Logger
	now    func() time.Time

	mu        sync.Mutex
	state     State
	failures  uint32
	successes uint32
	inflight  uint32
	openedAt  time.Time
}

// New creates a closed breaker. A nil logger is replaced by a no-op one.
func New(name string, cfg Config, logger *zap.Logger) *Breaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Breaker{name: name, cfg: cfg.normalize(), logger: logger, now: time.Now}
}

// Name returns the breaker name.
func (b *Breaker) Name() string { return b.name }

// State returns the current state, moving open to half-open once the
// timeout has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refresh()
	return b.state
}

// Execute runs fn unless the breaker rejects the call. Context
// cancellation is not counted as an upstream failure.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if b == nil {
		return fn(ctx)
	}
	if err := b.before(); err != nil {
		return err
	}
	err := fn(ctx)
	b.after(err)
	return err
}

// Do is Execute for calls that return a value.
func Do[T any](ctx context.Context, b *Breaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := b.Execute(ctx, func(ctx context.Context) error {
		var err error
		out, err = fn(ctx)
		return err
	})
	return out, err
}

func (b *Breaker) before() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refresh()
	switch b.state {
	case StateOpen:
		return ErrCircuitBreakerOpen
	case StateHalfOpen:
		if b.inflight >= b.cfg.HalfOpenRequests {
			return ErrTooManyRequests
		}
	}
	b.inflight++
	return nil
}

func (b *Breaker) after(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.inflight > 0 {
		b.inflight--
	}
	if err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return
	}
	var ce callerError
	if errors.As(err, &ce) {
		return
	}
	if err == nil {
		b.failures = 0
		if b.state == StateHalfOpen {
			b.successes++
			if b.successes >= b.cfg.SuccessThreshold {
				b.transition(StateClosed)
			}
		}
		return
	}
	switch b.state {
	case StateClosed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.transition(StateOpen)
		}
	case StateHalfOpen:
		b.transition(StateOpen)
	}
}

func (b *Breaker) refresh() {
	if b.state == StateOpen && !b.now().Before(b.openedAt.Add(b.cfg.Timeout)) {
		b.transition(StateHalfOpen)
	}
}

func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	b.failures = 0
	b.successes = 0
	b.inflight = 0
	if to == StateOpen {
		b.openedAt = b.now()
	}
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(b.name, from, to)
	}
	b.logger.Info("circuit breaker state changed",
		zap.String("name", b.name),
		zap.String("from", from.String()),
		zap.String("to", to.String()))
}
