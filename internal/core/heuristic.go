package core

import "math"

// Unreachable is the distance reported for cells that cannot reach a goal.
const Unreachable = math.MaxInt32

// Heuristic estimates the remaining cost for an agent standing on a cell.
// Implementations must be admissible.
type Heuristic interface {
	Distance(agentID int, c Cell) int
}

// DistanceTable holds exact shortest-path distances to each agent's goal,
// ignoring other agents. Summed over a group it is the SIC heuristic.
type DistanceTable struct {
	grid  *Grid
	dists map[int][]int
}

// NewDistanceTable runs a breadth-first search from every agent goal.
func NewDistanceTable(g *Grid, agents []Agent) *DistanceTable {
	dt := &DistanceTable{grid: g, dists: make(map[int][]int, len(agents))}
	for _, a := range agents {
		dt.dists[a.ID] = bfsFrom(g, a.Goal)
	}
	return dt
}

// Distance implements Heuristic.
func (dt *DistanceTable) Distance(agentID int, c Cell) int {
	d, ok := dt.dists[agentID]
	if !ok || !dt.grid.InBounds(c.X, c.Y) {
		return Unreachable
	}
	return d[dt.grid.index(c)]
}

// Moves are reversible, so distances from the goal equal distances to it.
func bfsFrom(g *Grid, goal Cell) []int {
	dist := make([]int, g.Width*g.Height)
	for i := range dist {
		dist[i] = Unreachable
	}
	if !g.IsFree(goal.X, goal.Y) {
		return dist
	}
	dist[g.index(goal)] = 0
	queue := []Cell{goal}
	for len(queue) > 0 {
		c := queue[0]
		queue = queue[1:]
		next := dist[g.index(c)] + 1
		for _, n := range g.Neighbors(c) {
			if dist[g.index(n)] == Unreachable {
				dist[g.index(n)] = next
				queue = append(queue, n)
			}
		}
	}
	return dist
}
