// Package circuitbreaker guards first-pass deliveries against endpoints
// that fail repeatedly. Retry queue replays bypass the breaker: they are
// already paced by the retry delay.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned by Allow while an endpoint's circuit is open.
var ErrOpen = errors.New("circuit breaker open")

type state int

const (
	stateClosed state = iota
	stateOpen
	stateHalfOpen
)

type endpointState struct {
	state               state
	consecutiveFailures int
	openedAt            time.Time
}

// Breaker tracks consecutive failures per endpoint URL. After threshold
// consecutive failures the circuit opens for the cooldown period, then a
// single half-open probe decides whether it closes again. A threshold of
// zero disables the breaker entirely.
type Breaker struct {
	mu        sync.Mutex
	states    map[string]*endpointState
	threshold int
	cooldown  time.Duration
	clock     func() time.Time
}

// New creates a breaker. threshold <= 0 means always allow.
func New(threshold int, cooldown time.Duration) *Breaker {
	return &Breaker{
		states:    make(map[string]*endpointState),
		threshold: threshold,
		cooldown:  cooldown,
		clock:     time.Now,
	}
}

// WithClock overrides the time source, for tests.
func (b *Breaker) WithClock(clock func() time.Time) *Breaker {
	b.clock = clock
	return b
}

// Allow reports whether a delivery to url may proceed. When the cooldown
// has elapsed one probe is let through in half-open state.
func (b *Breaker) Allow(url string) error {
	if b.threshold <= 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.states[url]
	if !ok {
		return nil
	}

	switch s.state {
	case stateOpen:
		if b.clock().Sub(s.openedAt) >= b.cooldown {
			s.state = stateHalfOpen
			return nil
		}
		return ErrOpen
	case stateHalfOpen:
		return ErrOpen
	default:
		return nil
	}
}

// RecordSuccess closes the circuit and clears the failure streak.
func (b *Breaker) RecordSuccess(url string) {
	if b.threshold <= 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if s, ok := b.states[url]; ok {
		s.state = stateClosed
		s.consecutiveFailures = 0
	}
}

// RecordFailure extends the failure streak and opens the circuit once the
// threshold is reached. A failed half-open probe re-opens immediately.
func (b *Breaker) RecordFailure(url string) {
	if b.threshold <= 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.states[url]
	if !ok {
		s = &endpointState{}
		b.states[url] = s
	}

	s.consecutiveFailures++
	if s.consecutiveFailures >= b.threshold {
		s.state = stateOpen
		s.openedAt = b.clock()
	}
}
