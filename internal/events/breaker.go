package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrCircuitOpen is returned by BreakingPublisher while the broker is
// considered unavailable.
var ErrCircuitOpen = errors.New("events: publisher circuit is open")

// BreakerState is the state of a Breaker.
type BreakerState int

const (
	// BreakerClosed lets every publish through and counts failures.
	BreakerClosed BreakerState = iota
	// BreakerOpen rejects publishes until the cooldown elapses.
	BreakerOpen
	// BreakerHalfOpen lets probe publishes through.
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Breaker trips after consecutive publish failures and stays open for a
// cooldown before probing the broker again. It is safe for concurrent use.
type Breaker struct {
	mu               sync.Mutex
	state            BreakerState
	failures         int
	successes        int
	failureThreshold int
	successThreshold int
	cooldown         time.Duration
	openedAt         time.Time
	now              func() time.Time
}

// NewBreaker creates a Breaker. failureThreshold consecutive failures open
// it; successThreshold consecutive probe successes close it again.
func NewBreaker(failureThreshold, successThreshold int, cooldown time.Duration) *Breaker {
	if failureThreshold < 1 {
		failureThreshold = 5
	}
	if successThreshold < 1 {
		successThreshold = 2
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Breaker{
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		cooldown:         cooldown,
		now:              time.Now,
	}
}

// Allow returns ErrCircuitOpen while the breaker is open.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.advance() == BreakerOpen {
		return ErrCircuitOpen
	}
	return nil
}

// RecordSuccess records an acknowledged publish.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		b.failures = 0
	case BreakerHalfOpen:
		b.successes++
		if b.successes >= b.successThreshold {
			b.state = BreakerClosed
			b.failures = 0
			b.successes = 0
		}
	}
}

// RecordFailure records a failed publish.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		b.failures++
		if b.failures >= b.failureThreshold {
			b.trip()
		}
	case BreakerHalfOpen:
		// A failed probe reopens immediately.
		b.trip()
	}
}

// State returns the current state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.advance()
}

// advance moves an open breaker to half-open once the cooldown has passed.
// Must be called with the lock held.
func (b *Breaker) advance() BreakerState {
	if b.state == BreakerOpen && b.now().Sub(b.openedAt) >= b.cooldown {
		b.state = BreakerHalfOpen
		b.successes = 0
	}
	return b.state
}

func (b *Breaker) trip() {
	b.state = BreakerOpen
	b.openedAt = b.now()
	b.successes = 0
}

// BreakingPublisher guards a Publisher with a Breaker so a broker outage
// fails publishes fast instead of holding every submit for the produce
// timeout.
type BreakingPublisher struct {
	next    Publisher
	breaker *Breaker
	logger  *zap.Logger
}

// NewBreakingPublisher wraps next.
func NewBreakingPublisher(next Publisher, breaker *Breaker, logger *zap.Logger) *BreakingPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BreakingPublisher{next: next, breaker: breaker, logger: logger}
}

// Publish forwards the event unless the circuit is open.
func (p *BreakingPublisher) Publish(ctx context.Context, event SubmittedEvent) error {
	if err := p.breaker.Allow(); err != nil {
		return err
	}

	err := p.next.Publish(ctx, event)
	switch {
	case err == nil:
		p.breaker.RecordSuccess()
	case ctx.Err() != nil:
		// The caller gave up; that says nothing about the broker.
	default:
		p.breaker.RecordFailure()
		if p.breaker.State() == BreakerOpen {
			p.logger.Warn("event publisher circuit opened", zap.Error(err))
		}
	}
	return err
}

// HealthCheck reports the circuit state, then defers to the wrapped
// publisher when it can check itself.
func (p *BreakingPublisher) HealthCheck(ctx context.Context) error {
	if p.breaker.State() == BreakerOpen {
		return ErrCircuitOpen
	}
	if hc, ok := p.next.(interface{ HealthCheck(context.Context) error }); ok {
		return hc.HealthCheck(ctx)
	}
	return nil
}

// Close closes the wrapped publisher when it holds resources.
func (p *BreakingPublisher) Close() {
	if c, ok := p.next.(interface{ Close() }); ok {
		c.Close()
	}
}
