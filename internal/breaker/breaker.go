// Package breaker implements a per-backend circuit breaker.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrOpen is returned by Allow while the breaker rejects calls.
var ErrOpen = errors.New("circuit breaker is open")

// State is the breaker's position in its state machine.
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
		return "half_open"
	}
	return "unknown"
}

// MarshalText renders the state as its name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name produced by MarshalText.
func (s *State) UnmarshalText(text []byte) error {
	switch string(text) {
	case "closed":
		*s = StateClosed
	case "open":
		*s = StateOpen
	case "half_open":
		*s = StateHalfOpen
	default:
		return fmt.Errorf("unknown breaker state %q", text)
	}
	return nil
}

// Defaults used when Config fields are zero.
const (
	DefaultFailureThreshold = 5
	DefaultCooldown         = 30 * time.Second
)

// Config tunes a Breaker.
type Config struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	Cooldown         time.Duration `yaml:"cooldown"`
}

// Snapshot is a point-in-time view of a breaker.
type Snapshot struct {
	State               State     `json:"state"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	OpenedAt            time.Time `json:"opened_at,omitzero"`
}

// Breaker tracks consecutive failures of one backend.
//
//	closed    --N failures-->     open
//	open      --cooldown-->       half_open
//	half_open --probe succeeds--> closed
//	half_open --probe fails-->    open (cooldown restarts)
//
// Only one probe is admitted while half open.
type Breaker struct {
	name string
	cfg  Config
	now  func() time.Time

	mu       sync.Mutex
	state    State
	gen      uint64
	failures int
	openedAt time.Time
	probing  bool
}

// Ticket identifies one admitted call. Outcomes reported with a ticket
// from an earlier state generation are ignored.
type Ticket struct {
	gen uint64
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) {
		b.now = now
	}
}

// New creates a closed breaker.
func New(name string, cfg Config, opts ...Option) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultFailureThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	b := &Breaker{name: name, cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Allow reports whether a call may proceed. Every admitted call must be
// followed by exactly one of Success, Failure or Release with the returned
// ticket.
func (b *Breaker) Allow() (Ticket, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.advance()
	switch b.state {
	case StateOpen:
		return Ticket{}, ErrOpen
	case StateHalfOpen:
		if b.probing {
			return Ticket{}, ErrOpen
		}
		b.probing = true
	}
	return Ticket{gen: b.gen}, nil
}

// Success records a successful call.
func (b *Breaker) Success(t Ticket) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if t.gen != b.gen {
		return
	}
	switch b.state {
	case StateClosed:
		b.failures = 0
	case StateHalfOpen:
		b.probing = false
		b.failures = 0
		b.openedAt = time.Time{}
		b.transition(StateClosed)
	}
}

// Failure records a failed call.
func (b *Breaker) Failure(t Ticket) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if t.gen != b.gen {
		return
	}
	switch b.state {
	case StateClosed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.openedAt = b.now()
			b.transition(StateOpen)
		}
	case StateHalfOpen:
		b.probing = false
		b.failures++
		b.openedAt = b.now()
		b.transition(StateOpen)
	}
}

// Release gives back an admitted call without judging the backend, e.g.
// when the caller cancelled.
func (b *Breaker) Release(t Ticket) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if t.gen == b.gen && b.state == StateHalfOpen {
		b.probing = false
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	return b.Snapshot().State
}

// Snapshot returns the current state and counters.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.advance()
	return Snapshot{State: b.state, ConsecutiveFailures: b.failures, OpenedAt: b.openedAt}
}

// advance moves open to half_open once the cooldown has elapsed.
// Callers hold mu.
func (b *Breaker) advance() {
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cfg.Cooldown {
		b.probing = false
		b.transition(StateHalfOpen)
	}
}

func (b *Breaker) transition(to State) {
	if b.state == to {
		return
	}
	from := b.state
	b.state = to
	b.gen++
	level := slog.LevelInfo
	if to == StateOpen {
		level = slog.LevelWarn
	}
	slog.Log(context.Background(), level, "circuit breaker state change",
		"backend", b.name, "from", from.String(), "to", to.String(), "consecutive_failures", b.failures)
}
