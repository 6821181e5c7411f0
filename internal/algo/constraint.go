package algo

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/elektrokombinacija/mapf-cbs-research/internal/core"
)

// Constraint forbids an agent from making a move at a time. Vertex
// constraints store core.NoDirection and forbid the cell regardless of
// the direction used to enter it.
type Constraint struct {
	AgentID int
	Move    core.TimedMove
}

// NewVertexConstraint forbids agentID from occupying the move's cell at its time.
func NewVertexConstraint(agentID int, m core.TimedMove) Constraint {
	m.Dir = core.NoDirection
	return Constraint{AgentID: agentID, Move: m}
}

// NewEdgeConstraint forbids agentID from making exactly this move.
func NewEdgeConstraint(agentID int, m core.TimedMove) Constraint {
	return Constraint{AgentID: agentID, Move: m}
}

// IsVertex reports whether the constraint ignores direction.
func (c Constraint) IsVertex() bool { return c.Move.Dir == core.NoDirection }

// Time returns the constrained timestep.
func (c Constraint) Time() int { return c.Move.Time }

// Matches reports whether the constraint forbids the queried move. A stored
// vertex constraint matches any direction; a stored edge constraint matches
// only the same direction.
func (c Constraint) Matches(agentID int, m core.TimedMove) bool {
	if c.AgentID != agentID || c.Move.Time != m.Time || c.Move.Cell != m.Cell {
		return false
	}
	return c.IsVertex() || c.Move.Dir == m.Dir
}

func (c Constraint) String() string {
	kind := "edge"
	if c.IsVertex() {
		kind = "vertex"
	}
	return fmt.Sprintf("%s(agent=%d %v)", kind, c.AgentID, c.Move)
}

func compareConstraints(a, b Constraint) int {
	return cmp.Or(
		cmp.Compare(a.AgentID, b.AgentID),
		cmp.Compare(a.Move.Time, b.Move.Time),
		cmp.Compare(a.Move.X, b.Move.X),
		cmp.Compare(a.Move.Y, b.Move.Y),
		cmp.Compare(a.Move.Dir, b.Move.Dir),
	)
}

// ConstraintSet is an unordered set of constraints. Equality between two
// sets compares the stored direction exactly.
type ConstraintSet map[Constraint]struct{}

// NewConstraintSet builds a set from constraints.
func NewConstraintSet(cs ...Constraint) ConstraintSet {
	s := make(ConstraintSet, len(cs))
	for _, c := range cs {
		s[c] = struct{}{}
	}
	return s
}

// Add inserts a constraint.
func (s ConstraintSet) Add(c Constraint) { s[c] = struct{}{} }

// Contains reports whether any stored constraint forbids the move.
func (s ConstraintSet) Contains(agentID int, m core.TimedMove) bool {
	vertex := Constraint{AgentID: agentID, Move: m}
	vertex.Move.Dir = core.NoDirection
	if _, ok := s[vertex]; ok {
		return true
	}
	if m.Dir == core.NoDirection {
		return false
	}
	_, ok := s[Constraint{AgentID: agentID, Move: m}]
	return ok
}

// Equal compares two sets exactly.
func (s ConstraintSet) Equal(o ConstraintSet) bool {
	if len(s) != len(o) {
		return false
	}
	for c := range s {
		if _, ok := o[c]; !ok {
			return false
		}
	}
	return true
}

// Sorted returns the constraints in a canonical order.
func (s ConstraintSet) Sorted() []Constraint {
	out := make([]Constraint, 0, len(s))
	for c := range s {
		out = append(out, c)
	}
	slices.SortFunc(out, compareConstraints)
	return out
}

// MaxTime returns the latest constrained time for any of the agents, or -1.
func (s ConstraintSet) MaxTime(agentIDs map[int]bool) int {
	maxT := -1
	for c := range s {
		if agentIDs[c.AgentID] && c.Move.Time > maxT {
			maxT = c.Move.Time
		}
	}
	return maxT
}
