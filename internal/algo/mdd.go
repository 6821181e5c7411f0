package algo

import (
	"github.com/elektrokombinacija/mapf-cbs-research/internal/core"
)

// mdd holds, per timestep, the cells an agent can occupy on some path that
// reaches its goal at exactly the given cost under the current constraints.
type mdd struct {
	levels []map[core.Cell]bool
}

// buildMDD runs a forward reachability pass from the start and a backward
// pass from the goal. The final arrival is at cost, so the goal is excluded
// one step earlier.
func buildMDD(inst *core.Instance, sc *SearchContext, agent core.Agent, cost int) *mdd {
	valid := func(m core.TimedMove) bool {
		return inst.IsValid(m) && !sc.Reserved.IsReserved(m) && !sc.Constraints.Contains(agent.ID, m)
	}
	dirs := inst.Grid.Directions()

	forward := make([]map[core.Cell]bool, cost+1)
	forward[0] = map[core.Cell]bool{agent.Start: true}
	for t := 1; t <= cost; t++ {
		forward[t] = make(map[core.Cell]bool)
		for c := range forward[t-1] {
			for _, d := range dirs {
				m := core.TimedMove{Move: core.Move{Cell: c, Dir: core.Wait}, Time: t - 1}.Next(d)
				if valid(m) {
					forward[t][m.Cell] = true
				}
			}
		}
		if t == cost-1 {
			delete(forward[t], agent.Goal)
		}
	}

	levels := make([]map[core.Cell]bool, cost+1)
	levels[cost] = make(map[core.Cell]bool)
	if forward[cost][agent.Goal] {
		levels[cost][agent.Goal] = true
	}
	for t := cost - 1; t >= 0; t-- {
		levels[t] = make(map[core.Cell]bool)
		for c := range forward[t] {
			for _, d := range dirs {
				m := core.TimedMove{Move: core.Move{Cell: c, Dir: core.Wait}, Time: t}.Next(d)
				if levels[t+1][m.Cell] && valid(m) {
					levels[t][c] = true
					break
				}
			}
		}
	}
	return &mdd{levels: levels}
}

func (d *mdd) width(t int) int {
	if t < 0 || t >= len(d.levels) {
		return 0
	}
	return len(d.levels[t])
}

// isCardinalFor reports whether resolving the node's conflict for the given
// side must raise that agent's cost. Constraints are joined for the check.
func (n *Node) isCardinalFor(side int) bool {
	c := n.conflict
	agent, move := c.AgentA, c.MoveA
	if side == 1 {
		agent, move = c.AgentB, c.MoveB
	}
	cost := n.costs[agent]
	if c.Vertex && c.Time >= cost {
		return true
	}
	if c.Time > cost {
		return false
	}

	sc := n.cbs.sc
	defer sc.Constraints.Join(n.Constraints())()
	d := buildMDD(n.cbs.inst, sc, n.cbs.inst.Agents[agent], cost)
	if c.Vertex {
		return d.width(c.Time) == 1 && d.levels[c.Time][move.Cell]
	}
	return d.width(c.Time-1) == 1 && d.width(c.Time) == 1 && d.levels[c.Time][move.Cell]
}
