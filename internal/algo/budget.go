package algo

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrTimeout means the wall-clock deadline passed or the context was
	// cancelled. The search state is kept and Search may be called again.
	ErrTimeout = errors.New("search timed out")
	// ErrBudgetExceeded means a node, cost or sub-deadline cap was hit. The
	// search state is kept and Search may be called again.
	ErrBudgetExceeded = errors.New("search budget exceeded")
	// ErrUnsolvable means the search space was exhausted.
	ErrUnsolvable = errors.New("instance unsolvable")
	// ErrNoPath is returned by low-level solvers that exhaust their open list.
	ErrNoPath = errors.New("no path")
	// ErrInvariantViolation signals a defect in the search. It is never
	// expected and stops the search.
	ErrInvariantViolation = errors.New("search invariant violated")
)

// Budget is the wall-clock allowance shared by every level of a search.
type Budget struct {
	start    time.Time
	deadline time.Time
	now      func() time.Time
}

// NewBudget starts a budget. A zero timeout means no deadline.
func NewBudget(timeout time.Duration) *Budget {
	return NewBudgetWithClock(timeout, time.Now)
}

// NewBudgetWithClock starts a budget on an injected clock.
func NewBudgetWithClock(timeout time.Duration, now func() time.Time) *Budget {
	b := &Budget{start: now(), now: now}
	if timeout > 0 {
		b.deadline = b.start.Add(timeout)
	}
	return b
}

// Elapsed returns the time since the budget started.
func (b *Budget) Elapsed() time.Duration { return b.now().Sub(b.start) }

// Now reads the budget clock.
func (b *Budget) Now() time.Time { return b.now() }

// Expired reports whether the deadline passed or ctx is done.
func (b *Budget) Expired(ctx context.Context) bool {
	if ctx != nil && ctx.Err() != nil {
		return true
	}
	if b == nil || b.deadline.IsZero() {
		return false
	}
	return !b.now().Before(b.deadline)
}

// SearchContext carries the state shared by nested searches: the constraint
// overlay, the conflict avoidance table, hard reservations and the budget.
type SearchContext struct {
	Constraints *ConstraintOverlay
	Avoidance   *AvoidanceOverlay
	Reserved    *ReservationTable
	Budget      *Budget
}

// NewSearchContext creates a context with empty overlays and no deadline.
func NewSearchContext() *SearchContext {
	return &SearchContext{
		Constraints: NewConstraintOverlay(),
		Avoidance:   NewAvoidanceOverlay(),
		Budget:      NewBudget(0),
	}
}

func (sc *SearchContext) ensure() {
	if sc.Constraints == nil {
		sc.Constraints = NewConstraintOverlay()
	}
	if sc.Avoidance == nil {
		sc.Avoidance = NewAvoidanceOverlay()
	}
	if sc.Budget == nil {
		sc.Budget = NewBudget(0)
	}
}
