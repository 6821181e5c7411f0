// Package algo implements MAPF solving algorithms: Conflict-Based Search,
// its low-level A*, and a prioritized planning baseline.
package algo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/elektrokombinacija/mapf-cbs-research/internal/core"
)

// ErrInvalidPlan is returned by ValidatePlan.
var ErrInvalidPlan = errors.New("invalid plan")

// Solver is the interface for MAPF algorithms.
type Solver interface {
	// Solve attempts to find a solution for the instance. The error is one
	// of ErrTimeout, ErrBudgetExceeded, ErrUnsolvable or a wrapped defect.
	Solve(ctx context.Context, inst *core.Instance) (*Result, error)

	// Name returns the algorithm name.
	Name() string
}

// Result is the outcome of a run.
type Result struct {
	Solver      string
	Solved      bool
	Cost        int
	LowerBound  int
	Plan        *core.Plan
	SingleCosts []int
	Stats       Stats
	Elapsed     time.Duration
}

// Conflict is a collision between two agents, identified by index.
type Conflict struct {
	AgentA, AgentB int
	MoveA, MoveB   core.TimedMove
	Time           int
	Vertex         bool
}

// NewConflict builds a conflict. It is a vertex conflict when both moves
// end in the same cell, otherwise an edge (swap) conflict.
func NewConflict(a, b int, moveA, moveB core.TimedMove, t int) Conflict {
	return Conflict{
		AgentA: a,
		AgentB: b,
		MoveA:  moveA,
		MoveB:  moveB,
		Time:   t,
		Vertex: moveA.Cell == moveB.Cell,
	}
}

func (c Conflict) String() string {
	kind := "edge"
	if c.Vertex {
		kind = "vertex"
	}
	return fmt.Sprintf("%s conflict t=%d agents %d/%d at %v/%v", kind, c.Time, c.AgentA, c.AgentB, c.MoveA.Cell, c.MoveB.Cell)
}

func makespanOf(plans []core.SinglePlan) int {
	m := 0
	for _, p := range plans {
		m = max(m, p.Size())
	}
	return m
}

// FindFirstConflict returns the earliest conflict between any two plans.
// Ties go to the lowest pair of indices. Agents wait on their goal after
// their plan ends.
func FindFirstConflict(plans []core.SinglePlan) *Conflict {
	horizon := makespanOf(plans)
	for t := 0; t < horizon; t++ {
		for i := 0; i < len(plans); i++ {
			for j := i + 1; j < len(plans); j++ {
				a, b := plans[i].LocationAt(t), plans[j].LocationAt(t)
				if a.IsColliding(b) {
					c := NewConflict(i, j, a, b, t)
					return &c
				}
			}
		}
	}
	return nil
}

// FindAllConflicts returns every conflicting pair at every time.
func FindAllConflicts(plans []core.SinglePlan) []Conflict {
	var conflicts []Conflict
	horizon := makespanOf(plans)
	for t := 0; t < horizon; t++ {
		for i := 0; i < len(plans); i++ {
			for j := i + 1; j < len(plans); j++ {
				a, b := plans[i].LocationAt(t), plans[j].LocationAt(t)
				if a.IsColliding(b) {
					conflicts = append(conflicts, NewConflict(i, j, a, b, t))
				}
			}
		}
	}
	return conflicts
}

// ValidatePlan checks that every path starts on its agent's start, moves one
// legal step per timestep over free cells, ends on the goal, and that no two
// agents collide.
func ValidatePlan(inst *core.Instance, plan *core.Plan) error {
	if plan == nil || len(plan.Singles) != inst.NumAgents() {
		return fmt.Errorf("%w: expected %d paths", ErrInvalidPlan, inst.NumAgents())
	}
	for i, p := range plan.Singles {
		agent := inst.Agents[i]
		if p.AgentID != agent.ID {
			return fmt.Errorf("%w: path %d belongs to agent %d, want %d", ErrInvalidPlan, i, p.AgentID, agent.ID)
		}
		if len(p.Moves) == 0 {
			return fmt.Errorf("%w: agent %d has an empty path", ErrInvalidPlan, agent.ID)
		}
		if p.Moves[0].Cell != agent.Start || p.Moves[0].Time != 0 {
			return fmt.Errorf("%w: agent %d does not start at %v", ErrInvalidPlan, agent.ID, agent.Start)
		}
		if last := p.Moves[len(p.Moves)-1]; last.Cell != agent.Goal {
			return fmt.Errorf("%w: agent %d ends at %v, goal %v", ErrInvalidPlan, agent.ID, last.Cell, agent.Goal)
		}
		for t := 1; t < len(p.Moves); t++ {
			prev, cur := p.Moves[t-1], p.Moves[t]
			if cur.Time != t {
				return fmt.Errorf("%w: agent %d move %d has time %d", ErrInvalidPlan, agent.ID, t, cur.Time)
			}
			if !inst.IsValid(cur) {
				return fmt.Errorf("%w: agent %d enters blocked cell %v", ErrInvalidPlan, agent.ID, cur.Cell)
			}
			if prev.Cell.Step(cur.Dir) != cur.Cell || !legalDirection(inst.Grid, cur.Dir) {
				return fmt.Errorf("%w: agent %d jumps from %v to %v", ErrInvalidPlan, agent.ID, prev.Cell, cur.Cell)
			}
		}
	}
	if c := FindFirstConflict(plan.Singles); c != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPlan, c)
	}
	return nil
}

func legalDirection(g *core.Grid, d core.Direction) bool {
	for _, allowed := range g.Directions() {
		if allowed == d {
			return true
		}
	}
	return false
}
