package algo

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/elektrokombinacija/mapf-cbs-research/internal/core"
)

// Config bounds and tunes a CBS search. Zero caps are disabled.
type Config struct {
	MaxCost              int           `yaml:"max_cost"`
	TargetCost           int           `yaml:"target_cost"`
	LowLevelGeneratedCap int           `yaml:"low_level_generated_cap"`
	LowLevelMaxCost      int           `yaml:"low_level_max_cost"`
	Timeout              time.Duration `yaml:"timeout"`
	SubDeadline          time.Duration `yaml:"sub_deadline"`
	// MergeThreshold enables group merging when >= 0.
	MergeThreshold        int  `yaml:"merge_threshold"`
	CardinalLookahead     bool `yaml:"cardinal_lookahead"`
	DeferGoalConflicts    bool `yaml:"defer_goal_conflicts"`
	PreferLowerCostOnTies bool `yaml:"prefer_lower_cost_on_ties"`
}

// DefaultConfig returns plain CBS with goal-conflict deferral and cardinal
// lookahead, no merging and no caps.
func DefaultConfig() Config {
	return Config{
		MergeThreshold:     -1,
		CardinalLookahead:  true,
		DeferGoalConflicts: true,
	}
}

// ErrNotSetUp is returned by Search before a successful Setup.
var ErrNotSetUp = errors.New("search not set up")

// ErrInvalidConfig is returned by Config.Validate.
var ErrInvalidConfig = errors.New("invalid solver config")

// Validate checks the config for negative caps.
func (c Config) Validate() error {
	switch {
	case c.MaxCost < 0, c.TargetCost < 0, c.LowLevelGeneratedCap < 0, c.LowLevelMaxCost < 0:
		return fmt.Errorf("%w: negative cost or node cap", ErrInvalidConfig)
	case c.Timeout < 0, c.SubDeadline < 0:
		return fmt.Errorf("%w: negative duration", ErrInvalidConfig)
	}
	return nil
}

// CBS implements Conflict-Based Search. It can be nested inside another
// search by passing that search's SearchContext to Setup.
type CBS struct {
	solverOptions
	cfg Config

	inst     *core.Instance
	sc       *SearchContext
	minDepth int

	open         nodeHeap
	closed       *closedList
	nodeSeq      uint64
	goal         *Node
	stats        Stats
	maxExpandedF int
	lowerBound   int
	// conflicts between agent index pairs, used for merge decisions
	pairConflicts map[[2]int]int
}

// NewCBS creates a CBS solver.
func NewCBS(cfg Config, opts ...Option) *CBS {
	c := &CBS{cfg: cfg}
	c.apply(opts)
	if c.single == nil {
		a := NewAStar()
		a.MaxCost = cfg.LowLevelMaxCost
		c.single = a
	}
	if c.multi == nil {
		a := NewAStar()
		a.MaxCost = cfg.LowLevelMaxCost
		c.multi = a
	}
	if c.logger == nil {
		c.logger = defaultLogger("cbs")
	}
	return c
}

// Name reports "CBS", or "MA-CBS(threshold)" when merging is enabled.
func (c *CBS) Name() string {
	if c.cfg.MergeThreshold >= 0 {
		return fmt.Sprintf("MA-CBS(%d)", c.cfg.MergeThreshold)
	}
	return "CBS"
}

type nodeHeap []*Node

func (h nodeHeap) Len() int           { return len(h) }
func (h nodeHeap) Less(i, j int) bool { return h[i].Compare(h[j]) < 0 }
func (h nodeHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *nodeHeap) Push(x any) {
	n := x.(*Node)
	n.index = len(*h)
	*h = append(*h, n)
}
func (h *nodeHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	old[n-1] = nil
	x.index = -1
	*h = old[0 : n-1]
	return x
}

func (c *CBS) nextNodeID() uint64 {
	c.nodeSeq++
	return c.nodeSeq
}

// Setup prepares a search for inst. A nil sc makes this the top-most search
// with its own overlays and a budget from the config timeout.
func (c *CBS) Setup(ctx context.Context, inst *core.Instance, sc *SearchContext, minDepth int) error {
	if err := c.cfg.Validate(); err != nil {
		return err
	}
	if err := inst.Validate(); err != nil {
		return err
	}
	if sc == nil {
		sc = NewSearchContext()
		sc.Budget = NewBudget(c.cfg.Timeout)
	}
	sc.ensure()

	c.inst = inst
	c.sc = sc
	c.minDepth = minDepth
	c.open = c.open[:0]
	c.closed = newClosedList()
	c.nodeSeq = 0
	c.goal = nil
	c.stats = Stats{MaxGroupSize: 1}
	c.maxExpandedF = 0
	c.lowerBound = 0
	c.pairConflicts = make(map[[2]int]int)

	root := newRootNode(c)
	if err := root.Solve(ctx, minDepth); err != nil {
		if errors.Is(err, ErrNoPath) {
			c.logger.Debug("root has no plan", slog.String("instance", inst.Name))
			return nil
		}
		return err
	}
	c.lowerBound = root.F()
	if c.withinMaxCost(root) {
		heap.Push(&c.open, root)
		c.closed.Add(root)
		c.stats.HighLevelGenerated++
	}
	return nil
}

func (c *CBS) withinMaxCost(n *Node) bool {
	return c.cfg.MaxCost <= 0 || n.TotalCost <= c.cfg.MaxCost
}

func (c *CBS) bestOpenF() int {
	if c.open.Len() == 0 {
		return c.maxExpandedF
	}
	return max(c.maxExpandedF, c.open[0].F())
}

// Search runs the high-level loop. ErrTimeout and ErrBudgetExceeded keep
// the search state, and Search may be called again to resume.
func (c *CBS) Search(ctx context.Context) error {
	if c.sc == nil {
		return ErrNotSetUp
	}
	for c.open.Len() > 0 {
		if c.sc.Budget.Expired(ctx) {
			c.lowerBound = c.bestOpenF()
			return ErrTimeout
		}
		node := heap.Pop(&c.open).(*Node)
		node.ChooseConflict()

		if c.open.Len() > 0 && node.F() > c.open[0].F() {
			c.stats.PushBacks++
			c.logger.Debug("pushing back node",
				slog.Uint64("node", node.id),
				slog.Int("f", node.F()),
				slog.Int("best_f", c.open[0].F()))
			heap.Push(&c.open, node)
			continue
		}

		if node.conflict != nil && !node.reported {
			node.reported = true
			c.recordConflict(node)
			c.observer.OnConflictDetected(node.Info(), *node.conflict)
		}

		if node.isGoal {
			c.goal = node
			c.lowerBound = node.TotalCost
			c.observer.OnSolutionFound(c.Result())
			c.logger.Debug("solution found",
				slog.Int("cost", node.TotalCost),
				slog.Int("expanded", c.stats.HighLevelExpanded),
				slog.Int("generated", c.stats.HighLevelGenerated))
			return nil
		}
		if node.conflict == nil {
			return fmt.Errorf("%w: node %d has internal conflicts but none was chosen", ErrInvariantViolation, node.id)
		}

		if c.budgetReached(node) {
			heap.Push(&c.open, node)
			c.lowerBound = c.bestOpenF()
			return ErrBudgetExceeded
		}

		c.maxExpandedF = max(c.maxExpandedF, node.F())
		wasUnexpanded := node.expansion == [2]ExpansionState{}
		err := c.expand(ctx, node)
		// A timeout before either side progressed leaves the node unexpanded.
		if wasUnexpanded && node.expansion != [2]ExpansionState{} {
			c.stats.HighLevelExpanded++
			c.observer.OnNodeExpanded(node.Info())
		}
		if node.expansion == [2]ExpansionState{Expanded, Expanded} {
			node.Clear()
		}
		if err != nil {
			c.lowerBound = c.bestOpenF()
			return err
		}
	}
	c.lowerBound = c.maxExpandedF
	return ErrUnsolvable
}

func (c *CBS) budgetReached(n *Node) bool {
	switch {
	case c.cfg.TargetCost > 0 && n.TotalCost >= c.cfg.TargetCost:
		return true
	case c.cfg.LowLevelGeneratedCap > 0 && c.stats.LowLevel.Generated > c.cfg.LowLevelGeneratedCap:
		return true
	case c.cfg.SubDeadline > 0 && c.sc.Budget.Elapsed() > c.cfg.SubDeadline:
		return true
	}
	return false
}

func pairKey(a, b int) [2]int {
	if a > b {
		a, b = b, a
	}
	return [2]int{a, b}
}

func (c *CBS) recordConflict(n *Node) {
	if c.cfg.MergeThreshold < 0 {
		return
	}
	c.pairConflicts[pairKey(n.conflict.AgentA, n.conflict.AgentB)]++
}

// groupConflicts sums recorded conflicts between the groups of a and b.
func (c *CBS) groupConflicts(n *Node, a, b int) int {
	total := 0
	for _, i := range n.GroupMembers(a) {
		for _, j := range n.GroupMembers(b) {
			total += c.pairConflicts[pairKey(i, j)]
		}
	}
	return total
}

func (c *CBS) shouldMerge(n *Node) bool {
	if c.cfg.MergeThreshold < 0 || n.expansion != [2]ExpansionState{} {
		return false
	}
	return c.groupConflicts(n, n.conflict.AgentA, n.conflict.AgentB) > c.cfg.MergeThreshold
}

func (c *CBS) expand(ctx context.Context, node *Node) error {
	if c.shouldMerge(node) {
		return c.mergeExpand(ctx, node)
	}

	parentCost, parentH := node.TotalCost, node.H
	var children []*Node
	requeue := false
	var expandErr error
	for side := range 2 {
		if side == 1 && c.sc.Budget.Expired(ctx) {
			expandErr = ErrTimeout
			requeue = true
			break
		}
		child, deferred, err := c.constraintExpand(ctx, node, side)
		if err != nil {
			if !errors.Is(err, ErrTimeout) {
				return err
			}
			expandErr = err
			requeue = true
			break
		}
		if deferred {
			requeue = true
			continue
		}
		if child != nil {
			children = append(children, child)
		}
	}

	if requeue {
		heap.Push(&c.open, node)
	}
	for _, child := range children {
		if child.TotalCost == parentCost {
			child.H = parentH
		}
		c.closed.Add(child)
		if !c.withinMaxCost(child) {
			c.stats.PrunedByCost++
			continue
		}
		heap.Push(&c.open, child)
		c.stats.HighLevelGenerated++
	}
	return expandErr
}

// constraintExpand handles one side of the node's conflict. It returns the
// new child, or deferred when the side was postponed by raising h.
func (c *CBS) constraintExpand(ctx context.Context, node *Node, side int) (*Node, bool, error) {
	conflict := node.conflict
	agent := conflict.AgentA
	if side == 1 {
		agent = conflict.AgentB
	}
	state := &node.expansion[side]

	if c.cfg.DeferGoalConflicts && *state == NotExpanded && conflict.Vertex &&
		conflict.Time >= node.costs[agent] && node.GroupSize(agent) == 1 {
		delta := conflict.Time + 1 - node.costs[agent]
		if node.H < delta {
			if node.expansion[1-side] == Deferred {
				return nil, false, fmt.Errorf("%w: both sides of %v deferred", ErrInvariantViolation, conflict)
			}
			*state = Deferred
			node.H = delta
			c.stats.PartialExpansions++
			c.logger.Debug("deferring goal conflict",
				slog.Uint64("node", node.id),
				slog.Int("agent", node.agentID(agent)),
				slog.Int("h", node.H))
			return nil, true, nil
		}
	}
	if *state == Expanded {
		return nil, false, nil
	}

	prev := *state
	*state = Expanded
	constraint := node.constraintFor(side)
	child := newChildNode(node, constraint, agent)
	if c.closed.Get(child) != nil {
		c.stats.ClosedListHits++
		c.logger.Debug("closed list hit", slog.Uint64("parent", node.id), slog.String("constraint", constraint.String()))
		return nil, false, nil
	}

	if err := child.Replan(ctx, agent, c.minDepth, -1); err != nil {
		switch {
		case errors.Is(err, ErrNoPath):
			return nil, false, nil
		case errors.Is(err, ErrTimeout):
			*state = prev
			return nil, false, err
		default:
			return nil, false, err
		}
	}
	if child.TotalCost < node.TotalCost && node.GroupSize(agent) == 1 {
		return nil, false, fmt.Errorf("%w: child cost %d below parent cost %d", ErrInvariantViolation, child.TotalCost, node.TotalCost)
	}
	c.observer.OnConstraintAdded(child.Info(), constraint)
	return child, false, nil
}

// mergeExpand replaces both branches with one child whose conflicting groups
// are joined and planned together.
func (c *CBS) mergeExpand(ctx context.Context, node *Node) error {
	a, b := node.conflict.AgentA, node.conflict.AgentB
	prev := node.expansion
	node.expansion = [2]ExpansionState{Expanded, Expanded}

	child := newMergeChildNode(node, a, b)
	if c.closed.Get(child) != nil {
		c.stats.ClosedListHits++
		return nil
	}
	if err := child.Replan(ctx, child.agentToReplan, c.minDepth, -1); err != nil {
		switch {
		case errors.Is(err, ErrNoPath):
			return nil
		case errors.Is(err, ErrTimeout):
			node.expansion = prev
			heap.Push(&c.open, node)
			return err
		default:
			return err
		}
	}
	c.stats.Merges++
	size := child.GroupSize(child.agentToReplan)
	c.stats.MaxGroupSize = max(c.stats.MaxGroupSize, size)
	c.logger.Debug("merged groups",
		slog.Uint64("node", child.id),
		slog.Int("group_size", size),
		slog.Int("cost", child.TotalCost))

	c.closed.Add(child)
	if !c.withinMaxCost(child) {
		c.stats.PrunedByCost++
		return nil
	}
	heap.Push(&c.open, child)
	c.stats.HighLevelGenerated++
	return nil
}

// Solve implements Solver.
func (c *CBS) Solve(ctx context.Context, inst *core.Instance) (*Result, error) {
	start := time.Now()
	err := c.Setup(ctx, inst, nil, 0)
	if err == nil {
		err = c.Search(ctx)
	}
	res := c.Result()
	res.Elapsed = time.Since(start)
	if c.accumulator != nil {
		c.accumulator.Accumulate(c.Name(), c.stats)
	}
	return res, err
}

// Result summarizes the search so far.
func (c *CBS) Result() *Result {
	res := &Result{
		Solver:     c.Name(),
		LowerBound: c.lowerBound,
		Stats:      c.stats,
	}
	if c.goal != nil {
		res.Solved = true
		res.Cost = c.goal.TotalCost
		res.Plan = c.goal.Plan()
		res.SingleCosts = append([]int(nil), c.goal.costs...)
	}
	return res
}

// LowerBound is the best known lower bound on the optimal cost.
func (c *CBS) LowerBound() int { return c.lowerBound }

// Plan returns the solution, or nil.
func (c *CBS) Plan() *core.Plan {
	if c.goal == nil {
		return nil
	}
	return c.goal.Plan()
}

// TotalCost returns the solution cost, or -1.
func (c *CBS) TotalCost() int {
	if c.goal == nil {
		return -1
	}
	return c.goal.TotalCost
}

// SingleCosts returns the per-agent costs of the solution, or nil.
func (c *CBS) SingleCosts() []int {
	if c.goal == nil {
		return nil
	}
	return c.goal.costs
}

// SinglePlans returns the per-agent plans of the solution, or nil.
func (c *CBS) SinglePlans() []core.SinglePlan {
	if c.goal == nil {
		return nil
	}
	return c.goal.plans
}

// Stats returns the counters of the current search, including low-level work.
func (c *CBS) Stats() Stats { return c.stats }

// OpenLen is the number of nodes waiting in the open list.
func (c *CBS) OpenLen() int { return c.open.Len() }

// ClosedLen is the number of distinct nodes generated.
func (c *CBS) ClosedLen() int { return c.closed.Len() }
