package circuitbreaker

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// State represents the state of the circuit breaker.
type State int

const (
	// Closed is the initial state where requests are allowed.
	Closed State = iota
	// Open state is when the circuit has tripped and requests are blocked.
	Open
	// HalfOpen lets a single trial request through to test recovery.
	HalfOpen
)

// String returns the string representation of the state.
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

// ErrCircuitOpen is returned when the circuit breaker rejects a call.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Settings configures a Breaker.
type Settings struct {
	Name string
	// FailureThreshold is the number of consecutive failures that trips the circuit.
	FailureThreshold uint32
	// SuccessThreshold is the number of consecutive half-open successes that closes it again.
	SuccessThreshold uint32
	// Timeout is how long the circuit stays open before allowing a trial call.
	Timeout time.Duration
	// OnStateChange is called outside the lock after every transition.
	OnStateChange func(name string, from, to State)
	// Now overrides the clock, mainly for tests.
	Now func() time.Time
}

// Breaker guards calls to an unreliable dependency.
type Breaker struct {
	settings Settings

	mu        sync.Mutex
	state     State
	failures  uint32
	successes uint32
	openedAt  time.Time
	probing   bool
}

// New creates a Breaker. Zero thresholds default to 1 and a zero timeout to 30s.
func New(s Settings) *Breaker {
	if s.FailureThreshold == 0 {
		s.FailureThreshold = 1
	}
	if s.SuccessThreshold == 0 {
		s.SuccessThreshold = 1
	}
	if s.Timeout <= 0 {
		s.Timeout = 30 * time.Second
	}
	if s.Now == nil {
		s.Now = time.Now
	}
	return &Breaker{settings: s, state: Closed}
}

// FromConfig builds a Breaker from the textual timeout used in configuration files.
func FromConfig(name string, failureThreshold, successThreshold uint32, timeout string) (*Breaker, error) {
	d := 30 * time.Second
	if timeout != "" {
		var err error
		if d, err = time.ParseDuration(timeout); err != nil {
			return nil, fmt.Errorf("invalid circuit breaker timeout duration: %w", err)
		}
	}
	return New(Settings{
		Name:             name,
		FailureThreshold: failureThreshold,
		SuccessThreshold: successThreshold,
		Timeout:          d,
	}), nil
}

// Name returns the breaker name.
func (b *Breaker) Name() string { return b.settings.Name }

// State returns the current state of the circuit breaker.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refresh()
	return b.state
}

// Execute runs fn unless the circuit is open. A nil Breaker always runs fn.
func (b *Breaker) Execute(fn func() error) error {
	if b == nil {
		return fn()
	}
	if err := b.before(); err != nil {
		return err
	}
	err := fn()
	b.after(err == nil)
	return err
}

// Do is Execute for functions returning a value.
func Do[T any](b *Breaker, fn func() (T, error)) (T, error) {
	var out T
	err := b.Execute(func() error {
		var err error
		out, err = fn()
		return err
	})
	return out, err
}

func (b *Breaker) before() error {
	b.mu.Lock()
	b.refresh()
	switch b.state {
	case Open:
		b.mu.Unlock()
		return ErrCircuitOpen
	case HalfOpen:
		if b.probing {
			b.mu.Unlock()
			return ErrCircuitOpen
		}
		b.probing = true
	}
	b.mu.Unlock()
	return nil
}

func (b *Breaker) after(ok bool) {
	b.mu.Lock()
	from := b.state
	switch b.state {
	case HalfOpen:
		b.probing = false
		if !ok {
			b.trip()
			break
		}
		b.successes++
		if b.successes >= b.settings.SuccessThreshold {
			b.state = Closed
			b.failures, b.successes = 0, 0
		}
	case Closed:
		if ok {
			b.failures = 0
			break
		}
		b.failures++
		if b.failures >= b.settings.FailureThreshold {
			b.trip()
		}
	}
	to := b.state
	b.mu.Unlock()
	b.notify(from, to)
}

// refresh moves an expired open circuit to half-open. Caller holds the lock.
func (b *Breaker) refresh() {
	if b.state == Open && b.settings.Now().Sub(b.openedAt) >= b.settings.Timeout {
		b.state = HalfOpen
		b.successes = 0
		b.probing = false
		if b.settings.OnStateChange != nil {
			go b.settings.OnStateChange(b.settings.Name, Open, HalfOpen)
		}
	}
}

func (b *Breaker) trip() {
	b.state = Open
	b.openedAt = b.settings.Now()
	b.failures, b.successes = 0, 0
}

func (b *Breaker) notify(from, to State) {
	if from != to && b.settings.OnStateChange != nil {
		b.settings.OnStateChange(b.settings.Name, from, to)
	}
}
