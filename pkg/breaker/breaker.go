package breaker

import (
	"sync"
	"time"
)

// State of the breaker.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Breaker is a counting circuit breaker. Failures within the rolling window
// trip it open; after the reset timeout a single probe is allowed through.
type Breaker struct {
	mu sync.Mutex

	threshold    int
	window       time.Duration
	resetTimeout time.Duration
	now          func() time.Time

	state    State
	failures []time.Time
	openedAt time.Time
	probing  bool
}

// Options configures a Breaker. Zero values fall back to conservative
// defaults.
type Options struct {
	Threshold    int
	Window       time.Duration
	ResetTimeout time.Duration
}

func New(opts Options) *Breaker {
	if opts.Threshold <= 0 {
		opts.Threshold = 5
	}
	if opts.Window <= 0 {
		opts.Window = time.Minute
	}
	if opts.ResetTimeout <= 0 {
		opts.ResetTimeout = 30 * time.Second
	}
	return &Breaker{
		threshold:    opts.Threshold,
		window:       opts.Window,
		resetTimeout: opts.ResetTimeout,
		now:          time.Now,
		state:        StateClosed,
	}
}

// Allow reports whether a call may proceed. In the open state it flips to
// half-open once the reset timeout elapses, admitting one probe.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if b.now().Sub(b.openedAt) >= b.resetTimeout {
			b.state = StateHalfOpen
			b.probing = true
			return true
		}
		return false
	case StateHalfOpen:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	}
	return false
}

// RecordSuccess closes the breaker and clears the failure history.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = StateClosed
	b.failures = b.failures[:0]
	b.probing = false
}

// RecordFailure counts a failure. A half-open probe failure reopens the
// breaker immediately; in the closed state it trips once the windowed count
// reaches the threshold.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	if b.state == StateHalfOpen {
		b.open(now)
		return
	}

	b.failures = append(b.failures, now)
	b.prune(now)
	if len(b.failures) >= b.threshold {
		b.open(now)
	}
}

// State returns the current state without advancing it.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) open(now time.Time) {
	b.state = StateOpen
	b.openedAt = now
	b.failures = b.failures[:0]
	b.probing = false
}

func (b *Breaker) prune(now time.Time) {
	cutoff := now.Add(-b.window)
	kept := b.failures[:0]
	for _, ts := range b.failures {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	b.failures = kept
}
