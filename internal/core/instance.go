package core

import (
	"errors"
	"fmt"
)

// ErrInvalidInstance is returned by Validate.
var ErrInvalidInstance = errors.New("invalid instance")

// Agent is an immutable start/goal pair with a unique numeric ID.
type Agent struct {
	ID    int
	Start Cell
	Goal  Cell
}

// StartMove is the agent's location at time 0.
func (a Agent) StartMove() TimedMove {
	return NewTimedMove(a.Start.X, a.Start.Y, Wait, 0)
}

// Instance represents a MAPF problem: a grid and the agents moving on it.
// Sub-problems share the grid and heuristic with their parent.
type Instance struct {
	Name      string
	Grid      *Grid
	Agents    []Agent
	Heuristic Heuristic

	index map[int]int
}

// NewInstance creates an instance with the SIC distance table as heuristic.
func NewInstance(name string, g *Grid, agents []Agent) *Instance {
	inst := &Instance{
		Name:   name,
		Grid:   g,
		Agents: agents,
	}
	inst.Heuristic = NewDistanceTable(g, agents)
	inst.buildIndex()
	return inst
}

func (inst *Instance) buildIndex() {
	inst.index = make(map[int]int, len(inst.Agents))
	for i, a := range inst.Agents {
		inst.index[a.ID] = i
	}
}

// Validate checks instance consistency.
func (inst *Instance) Validate() error {
	if inst.Grid == nil {
		return fmt.Errorf("%w: no grid", ErrInvalidInstance)
	}
	if len(inst.Agents) == 0 {
		return fmt.Errorf("%w: no agents", ErrInvalidInstance)
	}
	ids := make(map[int]bool, len(inst.Agents))
	starts := make(map[Cell]int, len(inst.Agents))
	goals := make(map[Cell]int, len(inst.Agents))
	for _, a := range inst.Agents {
		if ids[a.ID] {
			return fmt.Errorf("%w: duplicate agent id %d", ErrInvalidInstance, a.ID)
		}
		ids[a.ID] = true
		if !inst.Grid.IsFree(a.Start.X, a.Start.Y) {
			return fmt.Errorf("%w: agent %d starts on blocked cell %v", ErrInvalidInstance, a.ID, a.Start)
		}
		if !inst.Grid.IsFree(a.Goal.X, a.Goal.Y) {
			return fmt.Errorf("%w: agent %d has blocked goal %v", ErrInvalidInstance, a.ID, a.Goal)
		}
		if other, ok := starts[a.Start]; ok {
			return fmt.Errorf("%w: agents %d and %d share start %v", ErrInvalidInstance, other, a.ID, a.Start)
		}
		starts[a.Start] = a.ID
		if other, ok := goals[a.Goal]; ok {
			return fmt.Errorf("%w: agents %d and %d share goal %v", ErrInvalidInstance, other, a.ID, a.Goal)
		}
		goals[a.Goal] = a.ID
	}
	return nil
}

// NumAgents returns the number of agents.
func (inst *Instance) NumAgents() int { return len(inst.Agents) }

// AgentIndex maps an agent ID to its position in Agents.
func (inst *Instance) AgentIndex(id int) (int, bool) {
	if inst.index == nil {
		inst.buildIndex()
	}
	i, ok := inst.index[id]
	return i, ok
}

// IsValid reports whether the move lands on a free cell.
func (inst *Instance) IsValid(m TimedMove) bool {
	return inst.Grid.IsFree(m.X, m.Y)
}

// Distance returns the heuristic distance for agent index i at cell c.
func (inst *Instance) Distance(i int, c Cell) int {
	return inst.Heuristic.Distance(inst.Agents[i].ID, c)
}

// Subproblem returns an instance restricted to the given agent indices.
func (inst *Instance) Subproblem(indices []int) *Instance {
	agents := make([]Agent, len(indices))
	for k, i := range indices {
		agents[k] = inst.Agents[i]
	}
	sub := &Instance{
		Name:      inst.Name,
		Grid:      inst.Grid,
		Agents:    agents,
		Heuristic: inst.Heuristic,
	}
	sub.buildIndex()
	return sub
}
