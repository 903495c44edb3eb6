package triage

import (
	"errors"
	"sync"
	"time"
)

// ErrBudgetExceeded is returned when the governor refuses a reservation.
var ErrBudgetExceeded = errors.New("token budget exceeded")

// GovernorState is the circuit-breaker state. The transition is one-way:
// once tripped, a governor stays tripped for the rest of the run.
type GovernorState string

const (
	GovernorArmed   GovernorState = "armed"
	GovernorTripped GovernorState = "tripped"
)

// Governor enforces the run-wide token ceiling. Check-and-reserve is atomic
// across workers; a reservation that would cross the ceiling trips the
// breaker instead of being granted.
type Governor struct {
	mu       sync.Mutex
	ceiling  int
	reserved int
	spent    int
	calls    int
	tripped  bool
	started  time.Time
	tripCh   chan struct{}
}

// BudgetUsage is a point-in-time snapshot of the governor's counters.
type BudgetUsage struct {
	Ceiling     int     `json:"ceiling"`
	TokensSpent int     `json:"tokens_spent"`
	Calls       int     `json:"calls"`
	Tripped     bool    `json:"tripped"`
	ElapsedSecs float64 `json:"elapsed_seconds"`
}

// NewGovernor creates an armed governor for one run. A ceiling of zero or
// less starts tripped: no classification is ever allowed.
func NewGovernor(ceiling int) *Governor {
	g := &Governor{
		ceiling: ceiling,
		started: time.Now(),
		tripCh:  make(chan struct{}),
	}
	if ceiling <= 0 {
		g.tripped = true
		close(g.tripCh)
	}
	return g
}

// CheckAndReserve reserves estimated tokens for one classification. It
// returns false, and trips the breaker, when granting the reservation would
// exceed the ceiling.
func (g *Governor) CheckAndReserve(tokens int) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.tripped {
		return false
	}
	if g.reserved+g.spent+tokens > g.ceiling {
		g.trip()
		return false
	}
	g.reserved += tokens
	return true
}

// Settle replaces a reservation with the tokens actually consumed and
// counts the call. Actual usage above the ceiling trips the breaker so no
// further work is dispatched.
func (g *Governor) Settle(reserved, actual int) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.reserved -= reserved
	if g.reserved < 0 {
		g.reserved = 0
	}
	g.spent += actual
	g.calls++
	if !g.tripped && g.spent >= g.ceiling {
		g.trip()
	}
}

// Tripped reports whether the breaker has fired.
func (g *Governor) Tripped() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.tripped
}

// Done returns a channel closed when the breaker trips.
func (g *Governor) Done() <-chan struct{} {
	return g.tripCh
}

// State returns the current circuit-breaker state.
func (g *Governor) State() GovernorState {
	if g.Tripped() {
		return GovernorTripped
	}
	return GovernorArmed
}

// Usage snapshots the counters for reporting.
func (g *Governor) Usage() BudgetUsage {
	g.mu.Lock()
	defer g.mu.Unlock()
	return BudgetUsage{
		Ceiling:     g.ceiling,
		TokensSpent: g.spent,
		Calls:       g.calls,
		Tripped:     g.tripped,
		ElapsedSecs: time.Since(g.started).Seconds(),
	}
}

// trip fires the breaker. Callers hold g.mu.
func (g *Governor) trip() {
	if g.tripped {
		return
	}
	g.tripped = true
	close(g.tripCh)
}
