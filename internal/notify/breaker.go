package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned while the push pipeline is considered down
var ErrCircuitOpen = errors.New("push notifier circuit is open")

// State of a Breaker
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerSettings configures a Breaker
type BreakerSettings struct {
	// MaxFailures is the number of consecutive failures that opens the circuit.
	MaxFailures int
	// ResetTimeout is how long the circuit stays open before probing again.
	ResetTimeout time.Duration
	// HalfOpenSuccesses closes the circuit again after this many probes succeed.
	HalfOpenSuccesses int
}

// DefaultBreakerSettings returns the settings used by the server
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		MaxFailures:       5,
		ResetTimeout:      30 * time.Second,
		HalfOpenSuccesses: 2,
	}
}

// Breaker wraps a Notifier and stops calling it after repeated failures, so a
// dead push pipeline costs nothing per message.
type Breaker struct {
	next     Notifier
	settings BreakerSettings
	logger   *slog.Logger
	now      func() time.Time

	mu        sync.Mutex
	state     State
	failures  int
	successes int
	probing   bool
	changedAt time.Time
}

func NewBreaker(next Notifier, settings BreakerSettings, logger *slog.Logger) *Breaker {
	defaults := DefaultBreakerSettings()
	if settings.MaxFailures <= 0 {
		settings.MaxFailures = defaults.MaxFailures
	}
	if settings.ResetTimeout <= 0 {
		settings.ResetTimeout = defaults.ResetTimeout
	}
	if settings.HalfOpenSuccesses <= 0 {
		settings.HalfOpenSuccesses = defaults.HalfOpenSuccesses
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Breaker{
		next:      next,
		settings:  settings,
		logger:    logger.With("component", "notify"),
		now:       time.Now,
		changedAt: time.Now(),
	}
}

func (b *Breaker) NotifyNewMessage(ctx context.Context, msg NewMessage) error {
	ok, probe := b.allow()
	if !ok {
		return ErrCircuitOpen
	}

	if err := b.next.NotifyNewMessage(ctx, msg); err != nil {
		b.record(false, probe)
		return err
	}
	b.record(true, probe)
	return nil
}

// State returns the current state
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current()
}

// allow reports whether a call may go through. While half-open only one call
// at a time is let through, and probe is true for that call.
func (b *Breaker) allow() (ok, probe bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.current() {
	case StateOpen:
		return false, false
	case StateHalfOpen:
		if b.probing {
			return false, false
		}
		b.probing = true
		return true, true
	default:
		return true, false
	}
}

func (b *Breaker) record(ok, probe bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if probe {
		b.probing = false
	}

	switch b.current() {
	case StateClosed:
		if ok {
			b.failures = 0
			return
		}
		b.failures++
		if b.failures >= b.settings.MaxFailures {
			b.transition(StateOpen)
		}
	case StateHalfOpen:
		if !ok {
			b.transition(StateOpen)
			return
		}
		b.successes++
		if b.successes >= b.settings.HalfOpenSuccesses {
			b.transition(StateClosed)
		}
	}
}

// current must be called with b.mu held
func (b *Breaker) current() State {
	if b.state == StateOpen && b.now().Sub(b.changedAt) >= b.settings.ResetTimeout {
		b.transition(StateHalfOpen)
	}
	return b.state
}

// transition must be called with b.mu held
func (b *Breaker) transition(to State) {
	if b.state == to {
		return
	}
	b.logger.Warn("push notifier circuit changed state", "from", b.state.String(), "to", to.String())

	b.state = to
	b.failures = 0
	b.successes = 0
	b.changedAt = b.now()
}
