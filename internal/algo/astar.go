package algo

import (
	"cmp"
	"container/heap"
	"context"
	"encoding/binary"
	"maps"
	"slices"

	"github.com/elektrokombinacija/mapf-cbs-research/internal/core"
)

// worldState is a joint state of every agent in the group at one timestep.
type worldState struct {
	moves   []core.TimedMove
	arrived []int // final arrival time on the goal, -1 when off goal
	time    int
	g, h    int

	conflictCounts    []map[int]int
	conflictTimes     []map[int][]int
	totalConflicts    int
	conflictingAgents int

	parent      *worldState
	seq         uint64
	generatedAt int
	index       int // heap index, -1 when not in open
}

func (s *worldState) f() int { return s.g + s.h }

// compareStates orders open: lower f, fewer conflicting agents, fewer
// conflicts, deeper g. The generation sequence is not part of it.
func compareStates(a, b *worldState) int {
	return cmp.Or(
		cmp.Compare(a.f(), b.f()),
		cmp.Compare(a.conflictingAgents, b.conflictingAgents),
		cmp.Compare(a.totalConflicts, b.totalConflicts),
		cmp.Compare(b.g, a.g),
	)
}

// astarHeap implements heap.Interface.
type astarHeap []*worldState

func (h astarHeap) Len() int { return len(h) }
func (h astarHeap) Less(i, j int) bool {
	if c := compareStates(h[i], h[j]); c != 0 {
		return c < 0
	}
	return h[i].seq < h[j].seq
}
func (h astarHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *astarHeap) Push(x any) {
	n := x.(*worldState)
	n.index = len(*h)
	*h = append(*h, n)
}
func (h *astarHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	old[n-1] = nil
	x.index = -1
	*h = old[0 : n-1]
	return x
}

// AStar is a time-expanded A* over the joint state of an agent group. Within
// a timestep agents move one at a time, each checked against the moves
// already committed by the agents before it.
type AStar struct {
	// MaxCost prunes states whose f exceeds it. Zero disables the cap.
	MaxCost int

	inst     *core.Instance
	sc       *SearchContext
	minDepth int
	minCost  int
	agentIDs map[int]bool
	horizon  int

	open   astarHeap
	closed map[string]*worldState
	keyBuf []byte
	seq    uint64
	goal   *worldState
	stats  LowLevelStats

	plans          []core.SinglePlan
	conflictCounts []map[int]int
	conflictTimes  []map[int][]int
}

// NewAStar creates a low-level A* solver.
func NewAStar() *AStar {
	return &AStar{}
}

func (a *AStar) Name() string { return "A*" }

// Setup implements LowLevelSolver.
func (a *AStar) Setup(sub *core.Instance, sc *SearchContext, minDepth, minCost int) {
	sc.ensure()
	a.inst = sub
	a.sc = sc
	a.minCost = minCost
	a.agentIDs = make(map[int]bool, sub.NumAgents())
	for _, ag := range sub.Agents {
		a.agentIDs[ag.ID] = true
	}
	a.minDepth = max(minDepth, sc.Constraints.MaxTime(a.agentIDs), sc.Reserved.MaxTime())
	a.horizon = max(a.minDepth, sc.Avoidance.MaxTime())
	a.open = a.open[:0]
	a.closed = make(map[string]*worldState)
	a.goal = nil
	a.plans = nil
	a.conflictCounts = nil
	a.conflictTimes = nil

	n := sub.NumAgents()
	root := &worldState{
		moves:          make([]core.TimedMove, n),
		arrived:        make([]int, n),
		conflictCounts: make([]map[int]int, n),
		conflictTimes:  make([]map[int][]int, n),
		index:          -1,
	}
	for i, ag := range sub.Agents {
		root.moves[i] = ag.StartMove()
		root.arrived[i] = -1
		if ag.Start == ag.Goal {
			root.arrived[i] = 0
		}
		root.conflictCounts[i] = map[int]int{}
		root.conflictTimes[i] = map[int][]int{}
	}
	var ok bool
	root.h, ok = a.heuristic(root)
	if !ok {
		return
	}
	a.applyMinCost(root)
	a.insert(root)
}

// Solve implements LowLevelSolver.
func (a *AStar) Solve(ctx context.Context) error {
	for a.open.Len() > 0 {
		if a.sc.Budget.Expired(ctx) {
			return ErrTimeout
		}
		node := heap.Pop(&a.open).(*worldState)
		if a.isGoal(node) {
			a.finish(node)
			return nil
		}
		if err := a.expand(ctx, node); err != nil {
			return err
		}
	}
	return ErrNoPath
}

func (a *AStar) isGoal(s *worldState) bool {
	if s.time < a.minDepth || s.g < a.minCost {
		return false
	}
	for _, t := range s.arrived {
		if t < 0 {
			return false
		}
	}
	return true
}

// committed moves of earlier agents in the same timestep
type partial struct {
	moves []core.TimedMove
}

func (a *AStar) expand(ctx context.Context, node *worldState) error {
	a.stats.Expanded++
	a.stats.MaxExpansionDelay = max(a.stats.MaxExpansionDelay, a.stats.Expanded-node.generatedAt)

	dirs := a.inst.Grid.Directions()
	intermediate := []partial{{}}
	for i, ag := range a.inst.Agents {
		if a.sc.Budget.Expired(ctx) {
			return ErrTimeout
		}
		var next []partial
		for _, p := range intermediate {
			for _, d := range dirs {
				cand := node.moves[i].Next(d)
				if !a.isValidMove(ag.ID, cand, p.moves) {
					continue
				}
				moves := make([]core.TimedMove, len(p.moves)+1)
				copy(moves, p.moves)
				moves[len(p.moves)] = cand
				next = append(next, partial{moves: moves})
			}
		}
		intermediate = next
	}

	for _, p := range intermediate {
		if child := a.child(node, p.moves); child != nil {
			a.process(child)
		}
	}
	return nil
}

func (a *AStar) isValidMove(agentID int, m core.TimedMove, committed []core.TimedMove) bool {
	if a.sc.Reserved.IsReserved(m) {
		return false
	}
	if a.sc.Constraints.Contains(agentID, m) {
		return false
	}
	if !a.inst.IsValid(m) {
		return false
	}
	for _, c := range committed {
		if m.IsColliding(c) {
			return false
		}
	}
	return true
}

func (a *AStar) child(parent *worldState, moves []core.TimedMove) *worldState {
	n := len(moves)
	s := &worldState{
		moves:          moves,
		arrived:        make([]int, n),
		time:           parent.time + 1,
		conflictCounts: parent.conflictCounts,
		conflictTimes:  parent.conflictTimes,
		parent:         parent,
		index:          -1,
	}
	for i, m := range moves {
		goal := a.inst.Agents[i].Goal
		switch {
		case m.Cell != goal:
			s.arrived[i] = -1
		case parent.arrived[i] >= 0:
			s.arrived[i] = parent.arrived[i]
		default:
			s.arrived[i] = s.time
		}
		if s.arrived[i] >= 0 {
			s.g += s.arrived[i]
		} else {
			s.g += s.time
		}
	}
	var ok bool
	if s.h, ok = a.heuristic(s); !ok {
		return nil
	}
	a.applyMinCost(s)
	a.countConflicts(s)
	return s
}

func (a *AStar) heuristic(s *worldState) (int, bool) {
	h := 0
	for i, m := range s.moves {
		d := a.inst.Distance(i, m.Cell)
		if d == core.Unreachable {
			return 0, false
		}
		h += d
	}
	return h, true
}

func (a *AStar) applyMinCost(s *worldState) {
	if s.g >= a.minCost {
		return
	}
	if s.h == 0 {
		s.h = 2
	}
	s.h = max(s.h, a.minCost-s.g)
}

// countConflicts adds the collisions of the new moves with the avoidance
// table. Parent maps are shared until the first new collision.
func (a *AStar) countConflicts(s *worldState) {
	copied := false
	for i, m := range s.moves {
		a.sc.Avoidance.Colliding(m, func(other int) {
			if a.agentIDs[other] {
				return
			}
			if !copied {
				s.conflictCounts = make([]map[int]int, len(s.moves))
				s.conflictTimes = make([]map[int][]int, len(s.moves))
				for k := range s.moves {
					s.conflictCounts[k] = maps.Clone(s.parent.conflictCounts[k])
					s.conflictTimes[k] = maps.Clone(s.parent.conflictTimes[k])
				}
				copied = true
			}
			s.conflictCounts[i][other]++
			s.conflictTimes[i][other] = append(slices.Clip(s.conflictTimes[i][other]), m.Time)
		})
	}
	s.totalConflicts, s.conflictingAgents = summarizeConflicts(s.conflictCounts)
}

func summarizeConflicts(counts []map[int]int) (total, agents int) {
	seen := make(map[int]bool)
	for _, cc := range counts {
		for other, c := range cc {
			total += c
			seen[other] = true
		}
	}
	return total, len(seen)
}

// key encodes the collapsed time and every member's cell into a scratch
// buffer reused across calls. Lookups with string(key) do not allocate.
func (a *AStar) key(s *worldState) []byte {
	buf := binary.AppendUvarint(a.keyBuf[:0], uint64(min(s.time, a.horizon+1)))
	for _, m := range s.moves {
		buf = binary.AppendUvarint(buf, uint64(m.X))
		buf = binary.AppendUvarint(buf, uint64(m.Y))
	}
	a.keyBuf = buf
	return buf
}

func (a *AStar) insert(s *worldState) {
	a.seq++
	s.seq = a.seq
	s.generatedAt = a.stats.Expanded
	a.closed[string(a.key(s))] = s
	heap.Push(&a.open, s)
}

func (a *AStar) process(s *worldState) {
	if a.MaxCost > 0 && s.f() > a.MaxCost {
		return
	}
	a.stats.Generated++
	old, ok := a.closed[string(a.key(s))]
	if !ok {
		a.insert(s)
		return
	}
	a.stats.ClosedListHits++

	// Equal states share the larger heuristic, unless h depends on g.
	oldHRaised := false
	if a.minCost <= 0 {
		if old.h > s.h {
			s.h = old.h
		} else if s.h > old.h {
			old.h = s.h
			oldHRaised = true
		}
	}

	if compareStates(s, old) < 0 {
		if old.index >= 0 {
			heap.Remove(&a.open, old.index)
		} else {
			a.stats.Reopened++
			if oldHRaised {
				a.stats.ReopenedWithOldH++
			}
		}
		a.insert(s)
		return
	}
	if oldHRaised && old.index >= 0 {
		heap.Fix(&a.open, old.index)
		a.stats.NoReopenHUpdates++
	}
}

// finish extracts plans ending at each agent's final arrival. Conflicts
// recorded while waiting on the goal are dropped; the caller accounts for
// agents resting on their goals.
func (a *AStar) finish(goal *worldState) {
	a.goal = goal
	n := len(goal.moves)
	steps := make([]*worldState, 0, goal.time+1)
	for s := goal; s != nil; s = s.parent {
		steps = append(steps, s)
	}
	a.plans = make([]core.SinglePlan, n)
	a.conflictCounts = make([]map[int]int, n)
	a.conflictTimes = make([]map[int][]int, n)
	for i, ag := range a.inst.Agents {
		end := goal.arrived[i]
		moves := make([]core.TimedMove, end+1)
		for t := 0; t <= end; t++ {
			moves[t] = steps[len(steps)-1-t].moves[i]
		}
		a.plans[i] = core.SinglePlan{AgentID: ag.ID, Moves: moves}

		a.conflictCounts[i] = map[int]int{}
		a.conflictTimes[i] = map[int][]int{}
		for other, times := range goal.conflictTimes[i] {
			for _, t := range times {
				if t <= end {
					a.conflictCounts[i][other]++
					a.conflictTimes[i][other] = append(a.conflictTimes[i][other], t)
				}
			}
		}
	}
}

func (a *AStar) SinglePlans() []core.SinglePlan { return a.plans }

func (a *AStar) SingleCosts() []int {
	costs := make([]int, len(a.plans))
	for i, p := range a.plans {
		costs[i] = p.Cost()
	}
	return costs
}

func (a *AStar) Cost() int {
	if a.goal == nil {
		return -1
	}
	return a.goal.g
}

func (a *AStar) Plan() *core.Plan { return core.NewPlan(a.plans) }

func (a *AStar) ConflictCounts() []map[int]int { return a.conflictCounts }

func (a *AStar) ConflictTimes() []map[int][]int { return a.conflictTimes }

func (a *AStar) Stats() LowLevelStats { return a.stats }

func (a *AStar) ClearStatistics() { a.stats = LowLevelStats{} }
