package algo

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/elektrokombinacija/mapf-cbs-research/internal/core"
)

// ErrOverlayMismatch is returned when a batch is separated from an overlay
// it was never joined to.
var ErrOverlayMismatch = errors.New("overlay: batch not joined")

// ConstraintOverlay is a stack of constraint batches shared between nested
// searches. Join adds a batch and returns the function that removes it; the
// caller defers that function so a branch never leaks into its siblings.
type ConstraintOverlay struct {
	layers []ConstraintSet
}

// NewConstraintOverlay returns an empty overlay.
func NewConstraintOverlay() *ConstraintOverlay {
	return &ConstraintOverlay{}
}

// Join pushes a batch.
func (o *ConstraintOverlay) Join(batch ConstraintSet) (release func()) {
	o.layers = append(o.layers, batch)
	return func() {
		if err := o.Separate(batch); err != nil {
			panic(err)
		}
	}
}

// Separate removes a previously joined batch.
func (o *ConstraintOverlay) Separate(batch ConstraintSet) error {
	for i := len(o.layers) - 1; i >= 0; i-- {
		if sameSet(o.layers[i], batch) {
			o.layers = append(o.layers[:i], o.layers[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: %d constraints", ErrOverlayMismatch, len(batch))
}

// Contains reports whether any joined batch forbids the move for agentID.
func (o *ConstraintOverlay) Contains(agentID int, m core.TimedMove) bool {
	for _, l := range o.layers {
		if l.Contains(agentID, m) {
			return true
		}
	}
	return false
}

// MaxTime returns the latest constrained time for the given agents, or -1.
func (o *ConstraintOverlay) MaxTime(agentIDs map[int]bool) int {
	maxT := -1
	for _, l := range o.layers {
		maxT = max(maxT, l.MaxTime(agentIDs))
	}
	return maxT
}

// Len counts constraints across all batches.
func (o *ConstraintOverlay) Len() int {
	n := 0
	for _, l := range o.layers {
		n += len(l)
	}
	return n
}

// Depth is the number of joined batches.
func (o *ConstraintOverlay) Depth() int { return len(o.layers) }

// Maps are compared by identity: two equal batches may both be joined.
func sameSet(a, b ConstraintSet) bool {
	return reflect.ValueOf(a).Pointer() == reflect.ValueOf(b).Pointer()
}

type occupant struct {
	agentID int
	dir     core.Direction
}

type resting struct {
	agentID int
	from    int
}

// AvoidanceTable records where and when agents are, so a search can count
// the collisions a candidate move would cause. Agents that finished their
// plan are recorded as resting on their goal from their arrival onward.
type AvoidanceTable struct {
	occupied map[core.TimedMove][]occupant
	resting  map[core.Cell][]resting
	maxTime  int
}

// NewAvoidanceTable returns an empty table.
func NewAvoidanceTable() *AvoidanceTable {
	return &AvoidanceTable{
		occupied: make(map[core.TimedMove][]occupant),
		resting:  make(map[core.Cell][]resting),
		maxTime:  -1,
	}
}

func cellAt(c core.Cell, t int) core.TimedMove {
	return core.TimedMove{Move: core.Move{Cell: c, Dir: core.NoDirection}, Time: t}
}

// AddPlan records every move of the plan and the agent resting on its
// last cell afterwards.
func (t *AvoidanceTable) AddPlan(p core.SinglePlan) {
	if len(p.Moves) == 0 {
		return
	}
	for _, m := range p.Moves {
		key := cellAt(m.Cell, m.Time)
		t.occupied[key] = append(t.occupied[key], occupant{agentID: p.AgentID, dir: m.Dir})
		t.maxTime = max(t.maxTime, m.Time)
	}
	last := p.Moves[len(p.Moves)-1]
	t.resting[last.Cell] = append(t.resting[last.Cell], resting{agentID: p.AgentID, from: last.Time + 1})
}

// Colliding calls fn once for every recorded agent the move collides with.
func (t *AvoidanceTable) Colliding(m core.TimedMove, fn func(agentID int)) {
	for _, o := range t.occupied[cellAt(m.Cell, m.Time)] {
		fn(o.agentID)
	}
	for _, r := range t.resting[m.Cell] {
		if m.Time >= r.from {
			fn(r.agentID)
		}
	}
	if !m.Dir.IsMotion() {
		return
	}
	opp := m.OppositeMove()
	for _, o := range t.occupied[cellAt(opp.Cell, opp.Time)] {
		if o.dir == opp.Dir {
			fn(o.agentID)
		}
	}
}

// MaxTime is the latest recorded move time, or -1 when empty.
func (t *AvoidanceTable) MaxTime() int { return t.maxTime }

// Len counts recorded moves.
func (t *AvoidanceTable) Len() int {
	n := 0
	for _, os := range t.occupied {
		n += len(os)
	}
	return n
}

// AvoidanceOverlay is a stack of avoidance tables with the same join/release
// discipline as ConstraintOverlay.
type AvoidanceOverlay struct {
	layers []*AvoidanceTable
}

// NewAvoidanceOverlay returns an empty overlay.
func NewAvoidanceOverlay() *AvoidanceOverlay {
	return &AvoidanceOverlay{}
}

// Join pushes a table.
func (o *AvoidanceOverlay) Join(t *AvoidanceTable) (release func()) {
	o.layers = append(o.layers, t)
	return func() {
		if err := o.Separate(t); err != nil {
			panic(err)
		}
	}
}

// Separate removes a previously joined table.
func (o *AvoidanceOverlay) Separate(t *AvoidanceTable) error {
	for i := len(o.layers) - 1; i >= 0; i-- {
		if o.layers[i] == t {
			o.layers = append(o.layers[:i], o.layers[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: avoidance table", ErrOverlayMismatch)
}

// Colliding calls fn for every colliding agent across all tables.
func (o *AvoidanceOverlay) Colliding(m core.TimedMove, fn func(agentID int)) {
	for _, l := range o.layers {
		l.Colliding(m, fn)
	}
}

// MaxTime is the latest recorded time across all tables.
func (o *AvoidanceOverlay) MaxTime() int {
	maxT := -1
	for _, l := range o.layers {
		maxT = max(maxT, l.MaxTime())
	}
	return maxT
}

// Depth is the number of joined tables.
func (o *AvoidanceOverlay) Depth() int { return len(o.layers) }

// ReservationTable holds moves that are off limits to every agent being
// planned, including agents resting on their goals. Prioritized planning and
// outer searches use it to fix higher-priority paths.
type ReservationTable struct {
	table *AvoidanceTable
}

// NewReservationTable returns an empty table.
func NewReservationTable() *ReservationTable {
	return &ReservationTable{table: NewAvoidanceTable()}
}

// Reserve fixes a plan.
func (r *ReservationTable) Reserve(p core.SinglePlan) { r.table.AddPlan(p) }

// IsReserved reports whether the move collides with any reserved move.
func (r *ReservationTable) IsReserved(m core.TimedMove) bool {
	if r == nil {
		return false
	}
	hit := false
	r.table.Colliding(m, func(int) { hit = true })
	return hit
}

// MaxTime is the latest reserved move time, or -1.
func (r *ReservationTable) MaxTime() int {
	if r == nil {
		return -1
	}
	return r.table.MaxTime()
}
