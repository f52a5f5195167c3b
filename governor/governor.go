// Package governor owns time and hosts: per-host pacing, in-flight caps,
// and the circuit breaker. It knows nothing about URLs or crawl scope.
package governor

import (
	"sync"
	"time"
)

// Decision is the outcome of an admission attempt.
type Decision int

const (
	// Admit grants a fetch slot immediately. The caller must pair it
	// with exactly one Release.
	Admit Decision = iota

	// DelayUntil denies admission until the time carried in Admission.Until.
	DelayUntil

	// CircuitOpen denies admission because the host's breaker is open
	// until Admission.Until.
	CircuitOpen
)

// Admission is the full result of TryAcquire.
type Admission struct {
	Decision Decision
	Until    time.Time // meaningful for DelayUntil and CircuitOpen
}

// Outcome classifies a finished fetch for Release.
type Outcome int

const (
	// OutcomeOK closes a half-open circuit and resets the error streak.
	OutcomeOK Outcome = iota

	// OutcomeErr advances the breaker.
	OutcomeErr

	// OutcomeAbandoned frees the slot without touching the breaker.
	// Used when a fetch was cancelled rather than failed.
	OutcomeAbandoned
)

// breaker states, tagged explicitly so every transition is auditable.
type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

// hostState is the per-host admission bookkeeping.
type hostState struct {
	inFlight          int
	nextAvailableAt   time.Time
	consecutiveErrors int
	breaker           breakerState
	openUntil         time.Time
	cooldown          time.Duration
}

// Governor enforces per-host pacing, in-flight caps, and circuit breaking.
// It is safe for concurrent use.
type Governor struct {
	mu sync.Mutex

	hosts map[string]*hostState

	delay       time.Duration // minimum gap between attempts to one host
	maxInFlight int           // strict per-host in-flight cap
	threshold   int           // consecutive errors that open the circuit

	baseCooldown time.Duration
	maxCooldown  time.Duration

	now func() time.Time // injectable clock for tests
}

// Option tweaks Governor construction.
type Option func(*Governor)

// WithClock replaces the wall clock, for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(g *Governor) { g.now = now }
}

// WithCooldown overrides the breaker cooldown window (base, cap).
func WithCooldown(base, max time.Duration) Option {
	return func(g *Governor) {
		g.baseCooldown = base
		g.maxCooldown = max
	}
}

// New creates a Governor.
func New(delay time.Duration, maxInFlight, breakerThreshold int, opts ...Option) *Governor {
	g := &Governor{
		hosts:        make(map[string]*hostState),
		delay:        delay,
		maxInFlight:  maxInFlight,
		threshold:    breakerThreshold,
		baseCooldown: 30 * time.Second,
		maxCooldown:  10 * time.Minute,
		now:          time.Now,
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

func (g *Governor) state(host string) *hostState {
	hs, ok := g.hosts[host]
	if !ok {
		hs = &hostState{cooldown: g.baseCooldown}
		g.hosts[host] = hs
	}
	return hs
}

// TryAcquire requests a fetch slot for host. Admission requires the
// breaker to be closed or half-open, the pacing gap to have elapsed,
// and the in-flight count to be under the cap.
func (g *Governor) TryAcquire(host string) Admission {
	g.mu.Lock()
	defer g.mu.Unlock()

	hs := g.state(host)
	now := g.now()

	if hs.breaker == breakerOpen {
		if now.Before(hs.openUntil) {
			return Admission{Decision: CircuitOpen, Until: hs.openUntil}
		}
		// Cooldown elapsed: the next admission probes in half-open state.
		g.transition(hs, breakerHalfOpen, time.Time{})
	}

	if hs.inFlight >= g.maxInFlight {
		// Slot pressure, not pacing: retry shortly after a release.
		return Admission{Decision: DelayUntil, Until: now.Add(g.delay)}
	}
	if now.Before(hs.nextAvailableAt) {
		return Admission{Decision: DelayUntil, Until: hs.nextAvailableAt}
	}

	hs.inFlight++
	return Admission{Decision: Admit}
}

// Release returns a slot acquired via Admit and feeds the breaker.
// The pacing gap is measured from the end of the attempt.
func (g *Governor) Release(host string, outcome Outcome) {
	g.mu.Lock()
	defer g.mu.Unlock()

	hs := g.state(host)
	if hs.inFlight > 0 {
		hs.inFlight--
	}
	now := g.now()
	hs.nextAvailableAt = now.Add(g.delay)

	switch outcome {
	case OutcomeOK:
		hs.consecutiveErrors = 0
		if hs.breaker == breakerHalfOpen {
			g.transition(hs, breakerClosed, time.Time{})
			hs.cooldown = g.baseCooldown
		}
	case OutcomeErr:
		hs.consecutiveErrors++
		if hs.breaker == breakerHalfOpen {
			// The probe failed: reopen with doubled cooldown, capped.
			hs.cooldown *= 2
			if hs.cooldown > g.maxCooldown {
				hs.cooldown = g.maxCooldown
			}
			g.transition(hs, breakerOpen, now.Add(hs.cooldown))
		} else if hs.breaker == breakerClosed && hs.consecutiveErrors >= g.threshold {
			g.transition(hs, breakerOpen, now.Add(hs.cooldown))
		}
	case OutcomeAbandoned:
		// Cancelled fetches free the slot but never advance the breaker.
	}
}

// transition is the single mutator for breaker state changes.
func (g *Governor) transition(hs *hostState, to breakerState, until time.Time) {
	hs.breaker = to
	hs.openUntil = until
}

// Snapshot reports the host's breaker state as a string, for stats.
func (g *Governor) Snapshot(host string) (inFlight int, state string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	hs, ok := g.hosts[host]
	if !ok {
		return 0, "closed"
	}
	switch hs.breaker {
	case breakerOpen:
		return hs.inFlight, "open"
	case breakerHalfOpen:
		return hs.inFlight, "half-open"
	default:
		return hs.inFlight, "closed"
	}
}
