// Package resilience keeps a flaky model backend from stalling the game loop.
//
// [Breaker] is a three-state circuit breaker (closed, open, half-open). While
// it is open a turn fails fast instead of burning its whole request timeout
// against a backend that is known to be down. [ChatGroup] layers failover on
// top: each registered backend gets its own breaker, and a turn walks the
// backends in registration order until one answers.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrOpen is returned by [Breaker.Do] while the breaker is open and the cool
// down has not elapsed.
var ErrOpen = errors.New("resilience: circuit breaker is open")

// State is the operating mode of a [Breaker].
type State int

const (
	// Closed forwards every call.
	Closed State = iota

	// Open rejects every call with [ErrOpen] until the cool down elapses.
	Open

	// HalfOpen lets a bounded number of probe calls through. Enough
	// successes close the breaker, a single failure re-opens it.
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes a [Breaker]. Zero fields get defaults suited to an LLM
// backend: trip after 3 consecutive failures, cool down for 60 seconds, close
// again after 2 successful probes.
type BreakerConfig struct {
	// Name labels the breaker in log output.
	Name string

	// TripAfter is the number of consecutive failures that opens the
	// breaker.
	TripAfter int

	// CoolDown is how long the breaker stays open before probing again.
	CoolDown time.Duration

	// ProbeBudget is the number of probe calls permitted while half-open.
	ProbeBudget int
}

// Breaker is a three-state circuit breaker.
type Breaker struct {
	name        string
	tripAfter   int
	coolDown    time.Duration
	probeBudget int

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probes   int
	probeOK  int
}

// NewBreaker creates a closed [Breaker] from cfg.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.TripAfter <= 0 {
		cfg.TripAfter = 3
	}
	if cfg.CoolDown <= 0 {
		cfg.CoolDown = 60 * time.Second
	}
	if cfg.ProbeBudget <= 0 {
		cfg.ProbeBudget = 2
	}
	return &Breaker{
		name:        cfg.Name,
		tripAfter:   cfg.TripAfter,
		coolDown:    cfg.CoolDown,
		probeBudget: cfg.ProbeBudget,
	}
}

// Do runs fn if the breaker allows it, and feeds the outcome back into the
// breaker's failure accounting. While open it returns [ErrOpen] without
// calling fn.
func (b *Breaker) Do(fn func() error) error {
	probing, err := b.admit()
	if err != nil {
		return err
	}

	err = fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.onFailure(probing)
	} else {
		b.onSuccess(probing)
	}
	return err
}

// admit decides whether a call may proceed and reports whether it counts as a
// half-open probe.
func (b *Breaker) admit() (probing bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Open:
		if time.Since(b.openedAt) < b.coolDown {
			return false, ErrOpen
		}
		b.state = HalfOpen
		b.probes = 0
		b.probeOK = 0
		slog.Info("circuit breaker probing", "name", b.name)
	case HalfOpen:
		if b.probes >= b.probeBudget {
			return false, ErrOpen
		}
	}

	if b.state == HalfOpen {
		b.probes++
		return true, nil
	}
	return false, nil
}

// onFailure must be called with b.mu held.
func (b *Breaker) onFailure(probing bool) {
	if probing {
		b.state = Open
		b.openedAt = time.Now()
		b.failures = b.tripAfter
		slog.Warn("circuit breaker re-opened", "name", b.name)
		return
	}

	b.failures++
	if b.failures >= b.tripAfter {
		b.state = Open
		b.openedAt = time.Now()
		slog.Warn("circuit breaker opened",
			"name", b.name,
			"consecutive_failures", b.failures)
	}
}

// onSuccess must be called with b.mu held.
func (b *Breaker) onSuccess(probing bool) {
	if probing {
		b.probeOK++
		if b.probeOK >= b.probeBudget {
			b.state = Closed
			b.failures = 0
			slog.Info("circuit breaker closed", "name", b.name)
		}
		return
	}
	b.failures = 0
}

// State returns the breaker's current mode. An open breaker whose cool down
// has elapsed reports HalfOpen; the actual transition happens on the next Do.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Open && time.Since(b.openedAt) >= b.coolDown {
		return HalfOpen
	}
	return b.state
}

// Reset forces the breaker closed and clears all counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Closed
	b.failures = 0
	b.probes = 0
	b.probeOK = 0
	slog.Info("circuit breaker reset", "name", b.name)
}
