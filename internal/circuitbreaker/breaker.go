// Package circuitbreaker provides a per-key circuit breaker with
// closed → open → half-open state transitions.
//
// The billing provider is guarded per tenant so one misbehaving customer
// record cannot starve reconciliation for everyone else.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ErrOpen is returned by Execute when the circuit rejects the call.
var ErrOpen = errors.New("circuitbreaker: circuit open")

// State represents the circuit breaker state.
type State int

const (
	StateClosed   State = iota // Normal: requests flow through
	StateOpen                  // Tripped: requests are rejected
	StateHalfOpen              // Probing: one request allowed to test recovery
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

var cbStateTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "carehub",
	Subsystem: "circuitbreaker",
	Name:      "state_transitions_total",
	Help:      "Circuit breaker state transitions by breaker name, from-state, and to-state.",
}, []string{"breaker", "from_state", "to_state"})

func init() {
	prometheus.MustRegister(cbStateTransitions)
}

type entry struct {
	state       State
	failures    int
	lastFailure time.Time
}

// Breaker is a per-key circuit breaker. It tracks failure counts per key
// and trips open when failures reach the threshold. After openDuration,
// the circuit moves to half-open and allows one probe request.
type Breaker struct {
	name         string
	mu           sync.Mutex
	entries      map[string]*entry
	threshold    int
	openDuration time.Duration
	now          func() time.Time
	onTransition func(key string, from, to State)
}

// New creates a circuit breaker that opens after threshold consecutive
// failures and stays open for openDuration before probing. name labels
// the transition metric; keys are kept out of labels to bound cardinality.
func New(name string, threshold int, openDuration time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if openDuration <= 0 {
		openDuration = 30 * time.Second
	}
	return &Breaker{
		name:         name,
		entries:      make(map[string]*entry),
		threshold:    threshold,
		openDuration: openDuration,
		now:          time.Now,
	}
}

// OnTransition sets a callback invoked on state changes.
func (b *Breaker) OnTransition(fn func(key string, from, to State)) {
	b.mu.Lock()
	b.onTransition = fn
	b.mu.Unlock()
}

// Allow returns true if a request to key should be allowed.
// If the circuit is open and openDuration has elapsed, it transitions to half-open.
func (b *Breaker) Allow(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[key]
	if !ok {
		return true
	}

	switch e.state {
	case StateOpen:
		if b.now().Sub(e.lastFailure) >= b.openDuration {
			b.transition(e, key, StateHalfOpen)
			return true
		}
		return false
	case StateHalfOpen:
		return false
	default:
		return true
	}
}

// RecordSuccess resets the failure count and closes a half-open circuit.
func (b *Breaker) RecordSuccess(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[key]
	if !ok {
		return
	}
	if e.state == StateHalfOpen {
		b.transition(e, key, StateClosed)
	}
	e.failures = 0
}

// RecordFailure counts a failure and trips the circuit at the threshold.
// A failed half-open probe reopens immediately.
func (b *Breaker) RecordFailure(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[key]
	if !ok {
		e = &entry{state: StateClosed}
		b.entries[key] = e
	}

	e.failures++
	e.lastFailure = b.now()

	if e.state == StateHalfOpen {
		b.transition(e, key, StateOpen)
		return
	}
	if e.state == StateClosed && e.failures >= b.threshold {
		b.transition(e, key, StateOpen)
	}
}

// Execute runs fn if the circuit for key allows it and records the outcome.
// Errors for which countable returns false do not count as failures
// (e.g. a caller's own cancellation).
func (b *Breaker) Execute(key string, fn func() error, countable func(error) bool) error {
	if !b.Allow(key) {
		return ErrOpen
	}
	err := fn()
	switch {
	case err == nil:
		b.RecordSuccess(key)
	case countable == nil || countable(err):
		b.RecordFailure(key)
	default:
		// Uncounted failure still ends a half-open probe.
		b.mu.Lock()
		if e, ok := b.entries[key]; ok && e.state == StateHalfOpen {
			b.transition(e, key, StateOpen)
			e.lastFailure = b.now()
		}
		b.mu.Unlock()
	}
	return err
}

// State returns the current state for a key. Returns StateClosed for unknown keys.
func (b *Breaker) State(key string) State {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[key]
	if !ok {
		return StateClosed
	}
	return e.state
}

// Caller must hold b.mu.
func (b *Breaker) transition(e *entry, key string, to State) {
	from := e.state
	if from == to {
		return
	}
	e.state = to
	cbStateTransitions.WithLabelValues(b.name, from.String(), to.String()).Inc()
	if b.onTransition != nil {
		fn := b.onTransition
		go fn(key, from, to)
	}
}
