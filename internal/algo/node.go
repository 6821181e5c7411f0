package algo

import (
	"cmp"
	"context"
	"encoding/binary"
	"fmt"
	"maps"
	"math"
	"slices"

	"lukechampine.com/blake3"

	"github.com/elektrokombinacija/mapf-cbs-research/internal/core"
)

// ExpansionState tracks one side of a node's conflict.
type ExpansionState uint8

const (
	NotExpanded ExpansionState = iota
	Deferred
	Expanded
)

func (e ExpansionState) String() string {
	switch e {
	case NotExpanded:
		return "not-expanded"
	case Deferred:
		return "deferred"
	case Expanded:
		return "expanded"
	default:
		return fmt.Sprintf("ExpansionState(%d)", uint8(e))
	}
}

// Node is a constraint tree node. It holds one plan per agent and the
// conflict bookkeeping derived from them. Conflict maps are keyed by the
// other agent's ID; slices are indexed by agent index.
type Node struct {
	TotalCost int
	H         int

	id     uint64
	depth  int
	parent *Node
	cbs    *CBS

	plans []core.SinglePlan
	costs []int

	conflictCounts      []map[int]int
	conflictTimes       []map[int][]int
	internalConflicting []int

	totalInternalAgentsThatConflict     int
	totalConflictsBetweenInternalAgents int
	totalExternalAgentsThatConflict     int
	totalConflictsWithExternalAgents    int
	minOpsToSolve                       int

	// groups maps agent index to its group representative, the lowest
	// index in the group.
	groups        []int
	constraint    *Constraint
	agentToReplan int
	conflict      *Conflict
	expansion     [2]ExpansionState
	isGoal        bool
	// reported is set once the chosen conflict reached merge counting
	reported bool

	constraints ConstraintSet
	fingerprint *[32]byte
	index       int
}

func newRootNode(c *CBS) *Node {
	n := c.inst.NumAgents()
	node := &Node{
		id:                  c.nextNodeID(),
		cbs:                 c,
		plans:               make([]core.SinglePlan, n),
		costs:               make([]int, n),
		conflictCounts:      make([]map[int]int, n),
		conflictTimes:       make([]map[int][]int, n),
		internalConflicting: make([]int, n),
		groups:              make([]int, n),
		index:               -1,
	}
	for i := range n {
		node.groups[i] = i
		node.conflictCounts[i] = map[int]int{}
		node.conflictTimes[i] = map[int][]int{}
	}
	return node
}

func (p *Node) derive() *Node {
	n := &Node{
		id:                  p.cbs.nextNodeID(),
		depth:               p.depth + 1,
		parent:              p,
		cbs:                 p.cbs,
		plans:               slices.Clone(p.plans),
		costs:               slices.Clone(p.costs),
		conflictCounts:      make([]map[int]int, len(p.conflictCounts)),
		conflictTimes:       make([]map[int][]int, len(p.conflictTimes)),
		internalConflicting: slices.Clone(p.internalConflicting),
		groups:              slices.Clone(p.groups),
		index:               -1,
	}
	for i := range p.conflictCounts {
		n.conflictCounts[i] = maps.Clone(p.conflictCounts[i])
		n.conflictTimes[i] = make(map[int][]int, len(p.conflictTimes[i]))
		for other, times := range p.conflictTimes[i] {
			n.conflictTimes[i][other] = slices.Clone(times)
		}
	}
	return n
}

// newChildNode branches on one side of the parent's conflict.
func newChildNode(parent *Node, c Constraint, agentToReplan int) *Node {
	n := parent.derive()
	n.constraint = &c
	n.agentToReplan = agentToReplan
	return n
}

// newMergeChildNode joins the groups of agents a and b. The merged group is
// represented by the lower representative.
func newMergeChildNode(parent *Node, a, b int) *Node {
	n := parent.derive()
	ga, gb := n.groups[a], n.groups[b]
	rep, other := min(ga, gb), max(ga, gb)
	for i, g := range n.groups {
		if g == other {
			n.groups[i] = rep
		}
	}
	n.agentToReplan = rep
	return n
}

// F is the node's cost plus its heuristic.
func (n *Node) F() int { return n.TotalCost + n.H }

func (n *Node) ID() uint64 { return n.id }

func (n *Node) Depth() int { return n.depth }

func (n *Node) IsGoal() bool { return n.isGoal }

func (n *Node) Conflict() *Conflict { return n.conflict }

func (n *Node) MinOpsToSolve() int { return n.minOpsToSolve }

func (n *Node) Expansion(side int) ExpansionState { return n.expansion[side] }

func (n *Node) SinglePlans() []core.SinglePlan { return n.plans }

func (n *Node) SingleCosts() []int { return n.costs }

// Plan assembles the joint plan.
func (n *Node) Plan() *core.Plan { return core.NewPlan(slices.Clone(n.plans)) }

// Groups returns the agent-to-representative assignment.
func (n *Node) Groups() []int { return n.groups }

// GroupMembers returns the indices of the agents grouped with agent i.
func (n *Node) GroupMembers(i int) []int {
	var members []int
	for k, g := range n.groups {
		if g == n.groups[i] {
			members = append(members, k)
		}
	}
	return members
}

// GroupSize returns the size of agent i's group.
func (n *Node) GroupSize(i int) int {
	size := 0
	for _, g := range n.groups {
		if g == n.groups[i] {
			size++
		}
	}
	return size
}

// GroupCost sums the costs of agent i's group.
func (n *Node) GroupCost(i int) int {
	total := 0
	for _, k := range n.GroupMembers(i) {
		total += n.costs[k]
	}
	return total
}

// Info summarizes the node for observers.
func (n *Node) Info() NodeInfo {
	info := NodeInfo{ID: n.id, Depth: n.depth, Cost: n.TotalCost, H: n.H, Goal: n.isGoal}
	if n.parent != nil {
		info.ParentID = n.parent.id
	}
	return info
}

func (n *Node) agentID(i int) int { return n.cbs.inst.Agents[i].ID }

func (n *Node) agentIndex(id int) (int, bool) { return n.cbs.inst.AgentIndex(id) }

// Constraints reconstructs the node's constraints from its ancestors,
// skipping those added for conflicts between agents this node has since
// merged.
func (n *Node) Constraints() ConstraintSet {
	if n.constraints != nil {
		return n.constraints
	}
	set := NewConstraintSet()
	for cur := n; cur.parent != nil; cur = cur.parent {
		if cur.constraint == nil || cur.parent.conflict == nil {
			continue
		}
		pc := cur.parent.conflict
		if n.groups[pc.AgentA] != n.groups[pc.AgentB] {
			set.Add(*cur.constraint)
		}
	}
	n.constraints = set
	return set
}

// Fingerprint hashes the group assignment and constraint set. Equal nodes
// have equal fingerprints.
func (n *Node) Fingerprint() [32]byte {
	if n.fingerprint != nil {
		return *n.fingerprint
	}
	buf := make([]byte, 0, 4*len(n.groups)+32)
	for _, g := range n.groups {
		buf = binary.AppendUvarint(buf, uint64(g))
	}
	buf = append(buf, 0xff)
	for _, c := range n.Constraints().Sorted() {
		buf = binary.AppendVarint(buf, int64(c.AgentID))
		buf = binary.AppendVarint(buf, int64(c.Move.Time))
		buf = binary.AppendVarint(buf, int64(c.Move.X))
		buf = binary.AppendVarint(buf, int64(c.Move.Y))
		buf = binary.AppendVarint(buf, int64(c.Move.Dir))
	}
	sum := blake3.Sum256(buf)
	n.fingerprint = &sum
	return sum
}

// Equal reports whether both nodes have the same groups and constraints.
func (n *Node) Equal(o *Node) bool {
	return slices.Equal(n.groups, o.groups) && n.Constraints().Equal(o.Constraints())
}

// Compare orders the open list: lower f first, then the larger total cost,
// fewer conflicts and agents outside this search, goal nodes, fewer
// operations left to solve, and finally creation order.
func (n *Node) Compare(o *Node) int {
	if c := cmp.Compare(n.F(), o.F()); c != 0 {
		return c
	}
	costOrder := cmp.Compare(o.TotalCost, n.TotalCost)
	if n.cbs != nil && n.cbs.cfg.PreferLowerCostOnTies {
		costOrder = -costOrder
	}
	return cmp.Or(
		costOrder,
		cmp.Compare(n.totalConflictsWithExternalAgents, o.totalConflictsWithExternalAgents),
		cmp.Compare(n.totalExternalAgentsThatConflict, o.totalExternalAgentsThatConflict),
		compareGoal(n.isGoal, o.isGoal),
		cmp.Compare(n.minOpsToSolve, o.minOpsToSolve),
		cmp.Compare(n.id, o.id),
	)
}

func compareGoal(a, b bool) int {
	switch {
	case a && !b:
		return -1
	case b && !a:
		return 1
	default:
		return 0
	}
}

// Solve plans every group from scratch. Groups are planned in index order,
// each seeing the plans of the groups before it in an internal avoidance
// table. Conflict bookkeeping is then mirrored so that it is symmetric.
func (n *Node) Solve(ctx context.Context, minDepth int) error {
	sc := n.cbs.sc
	internal := NewAvoidanceTable()
	defer sc.Constraints.Join(n.Constraints())()
	defer sc.Avoidance.Join(internal)()

	n.TotalCost = 0
	for i := range n.groups {
		if n.groups[i] != i {
			continue
		}
		members := n.GroupMembers(i)
		if err := n.replanGroup(ctx, members, minDepth, -1); err != nil {
			return err
		}
		for _, m := range members {
			n.updateAtGoalConflictCounts(m)
		}
		for _, m := range members {
			internal.AddPlan(n.plans[m])
		}
	}

	for i := len(n.conflictCounts) - 1; i >= 0; i-- {
		for other, count := range n.conflictCounts[i] {
			j, ok := n.agentIndex(other)
			if !ok || n.groups[j] >= n.groups[i] {
				continue
			}
			n.conflictCounts[j][n.agentID(i)] = count
			n.conflictTimes[j][n.agentID(i)] = slices.Clone(n.conflictTimes[i][other])
		}
	}

	n.countConflicts()
	n.calcMinOpsToSolve()
	for _, c := range n.costs {
		n.TotalCost += c
	}
	n.isGoal = n.totalInternalAgentsThatConflict == 0
	return nil
}

// Replan re-solves the group of agentIndex against the plans of every
// other agent, under the node's constraints.
func (n *Node) Replan(ctx context.Context, agentIndex, minDepth, minCost int) error {
	sc := n.cbs.sc
	members := n.GroupMembers(agentIndex)
	inGroup := make(map[int]bool, len(members))
	for _, m := range members {
		inGroup[m] = true
	}

	internal := NewAvoidanceTable()
	for k, p := range n.plans {
		if !inGroup[k] {
			internal.AddPlan(p)
		}
	}
	defer sc.Constraints.Join(n.Constraints())()
	defer sc.Avoidance.Join(internal)()

	if len(members) > 1 {
		minCost = -1
	}
	if err := n.replanGroup(ctx, members, minDepth, minCost); err != nil {
		return err
	}
	for _, m := range members {
		n.updateAtGoalConflictCounts(m)
	}

	for i := range n.conflictCounts {
		if inGroup[i] {
			continue
		}
		numI := n.agentID(i)
		for _, m := range members {
			numM := n.agentID(m)
			if c, ok := n.conflictCounts[m][numI]; ok {
				n.conflictCounts[i][numM] = c
				n.conflictTimes[i][numM] = slices.Clone(n.conflictTimes[m][numI])
			} else {
				delete(n.conflictCounts[i], numM)
				delete(n.conflictTimes[i], numM)
			}
		}
	}

	n.countConflicts()
	n.calcMinOpsToSolve()
	n.TotalCost = 0
	for _, c := range n.costs {
		n.TotalCost += c
	}
	n.isGoal = n.totalInternalAgentsThatConflict == 0
	return nil
}

func (n *Node) replanGroup(ctx context.Context, members []int, minDepth, minCost int) error {
	c := n.cbs
	solver := c.single
	if len(members) > 1 {
		solver = c.multi
	}
	solver.Setup(c.inst.Subproblem(members), c.sc, minDepth, minCost)
	err := solver.Solve(ctx)
	c.stats.LowLevel.Add(solver.Stats())
	solver.ClearStatistics()
	if err != nil {
		return err
	}
	plans := solver.SinglePlans()
	counts := solver.ConflictCounts()
	times := solver.ConflictTimes()
	for k, m := range members {
		n.plans[m] = plans[k]
		n.costs[m] = plans[k].Cost()
		n.conflictCounts[m] = counts[k]
		n.conflictTimes[m] = times[k]
	}
	return nil
}

// updateAtGoalConflictCounts counts collisions of agent i resting on its
// goal after its plan ends with the moves in the avoidance table.
func (n *Node) updateAtGoalConflictCounts(i int) {
	sc := n.cbs.sc
	goal := n.cbs.inst.Agents[i].Goal
	limit := sc.Avoidance.MaxTime()
	for t := n.plans[i].Size(); t <= limit; t++ {
		m := core.NewTimedMove(goal.X, goal.Y, core.Wait, t)
		sc.Avoidance.Colliding(m, func(other int) {
			if j, ok := n.agentIndex(other); ok && n.groups[j] == n.groups[i] {
				return
			}
			n.conflictCounts[i][other]++
			n.conflictTimes[i][other] = append(n.conflictTimes[i][other], t)
		})
	}
}

func (n *Node) countConflicts() {
	external := make(map[int]bool)
	n.totalInternalAgentsThatConflict = 0
	n.totalConflictsBetweenInternalAgents = 0
	n.totalConflictsWithExternalAgents = 0
	for i, counts := range n.conflictCounts {
		n.internalConflicting[i] = 0
		for other, c := range counts {
			if _, ok := n.agentIndex(other); ok {
				n.internalConflicting[i]++
				n.totalConflictsBetweenInternalAgents += c
				continue
			}
			external[other] = true
			n.totalConflictsWithExternalAgents += c
			delete(n.conflictTimes[i], other)
		}
	}
	n.totalExternalAgentsThatConflict = len(external)
	n.totalConflictsBetweenInternalAgents /= 2
	for _, c := range n.internalConflicting {
		if c > 0 {
			n.totalInternalAgentsThatConflict++
		}
	}
}

// calcMinOpsToSolve halves a 2-approximate vertex cover of the conflict
// graph, rounding up.
func (n *Node) calcMinOpsToSolve() {
	cover := make(map[int]bool)
	for i, counts := range n.conflictCounts {
		if cover[i] {
			continue
		}
		for _, other := range sortedKeys(counts) {
			j, ok := n.agentIndex(other)
			if !ok || cover[j] {
				continue
			}
			cover[i] = true
			cover[j] = true
			break
		}
	}
	n.minOpsToSolve = int(math.Ceil(float64(len(cover)) / 2))
}

func sortedKeys[V any](m map[int]V) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// ChooseConflict picks the earliest conflict between two internal agents.
// Ties go to the lower agent index, then the lower other-agent ID. With
// cardinal lookahead a conflict that must raise both agents' costs raises h.
func (n *Node) ChooseConflict() {
	if len(n.plans) == 1 || n.isGoal || n.conflict != nil {
		return
	}
	best := math.MaxInt
	a, b := -1, -1
	for i, times := range n.conflictTimes {
		for _, other := range sortedKeys(times) {
			j, ok := n.agentIndex(other)
			if !ok || n.groups[j] == n.groups[i] {
				continue
			}
			for _, t := range times[other] {
				if t < best {
					best, a, b = t, i, j
				}
			}
		}
	}
	if a < 0 {
		return
	}
	c := NewConflict(a, b, n.plans[a].LocationAt(best), n.plans[b].LocationAt(best), best)
	n.conflict = &c
	if n.cbs.cfg.CardinalLookahead && n.GroupSize(a) == 1 && n.GroupSize(b) == 1 {
		if n.isCardinalFor(0) && n.isCardinalFor(1) {
			n.H = max(n.H, 1)
		}
	}
}

// constraintFor builds the constraint that resolves the conflict for one side.
func (n *Node) constraintFor(side int) Constraint {
	c := n.conflict
	agent, move := c.AgentA, c.MoveA
	if side == 1 {
		agent, move = c.AgentB, c.MoveB
	}
	if c.Vertex {
		return NewVertexConstraint(n.agentID(agent), move)
	}
	return NewEdgeConstraint(n.agentID(agent), move)
}

// Clear drops the plans of a fully expanded node. The node stays usable as
// a closed-list entry.
func (n *Node) Clear() {
	n.plans = nil
	n.costs = nil
}
