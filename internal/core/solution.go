package core

// SinglePlan is one agent's timed path. Moves[t] is the location at time t;
// the last move is the final arrival at the goal.
type SinglePlan struct {
	AgentID int
	Moves   []TimedMove
}

// Size returns the number of timesteps in the plan.
func (p SinglePlan) Size() int { return len(p.Moves) }

// Cost is the arrival time at the goal.
func (p SinglePlan) Cost() int {
	if len(p.Moves) == 0 {
		return 0
	}
	return len(p.Moves) - 1
}

// LocationAt returns the move at time t. Past the end of the plan the agent
// waits on its last cell.
func (p SinglePlan) LocationAt(t int) TimedMove {
	if len(p.Moves) == 0 {
		return TimedMove{Move: Move{Dir: NoDirection}, Time: t}
	}
	if t < 0 {
		t = 0
	}
	if t < len(p.Moves) {
		return p.Moves[t]
	}
	last := p.Moves[len(p.Moves)-1]
	return TimedMove{Move: Move{Cell: last.Cell, Dir: Wait}, Time: t}
}

// Cells returns the sequence of visited cells.
func (p SinglePlan) Cells() []Cell {
	cells := make([]Cell, len(p.Moves))
	for i, m := range p.Moves {
		cells[i] = m.Cell
	}
	return cells
}

// Plan is a joint plan assembled from single-agent plans.
type Plan struct {
	Singles []SinglePlan
}

// NewPlan wraps single plans into a joint plan.
func NewPlan(singles []SinglePlan) *Plan {
	return &Plan{Singles: singles}
}

// Makespan is the time of the last arrival.
func (p *Plan) Makespan() int {
	m := 0
	for _, s := range p.Singles {
		if c := s.Cost(); c > m {
			m = c
		}
	}
	return m
}

// SumOfCosts is the sum of arrival times.
func (p *Plan) SumOfCosts() int {
	total := 0
	for _, s := range p.Singles {
		total += s.Cost()
	}
	return total
}

// LocationsAt returns every agent's move at time t.
func (p *Plan) LocationsAt(t int) []TimedMove {
	locs := make([]TimedMove, len(p.Singles))
	for i, s := range p.Singles {
		locs[i] = s.LocationAt(t)
	}
	return locs
}

// Positions returns Positions[t][i] for t in [0, makespan].
func (p *Plan) Positions() [][]Cell {
	makespan := p.Makespan()
	out := make([][]Cell, makespan+1)
	for t := 0; t <= makespan; t++ {
		row := make([]Cell, len(p.Singles))
		for i, s := range p.Singles {
			row[i] = s.LocationAt(t).Cell
		}
		out[t] = row
	}
	return out
}
