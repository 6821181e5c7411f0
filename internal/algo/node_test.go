package algo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elektrokombinacija/mapf-cbs-research/internal/core"
)

func setupPocket(t *testing.T, cfg Config) (*CBS, *Node) {
	t.Helper()
	cbs := NewCBS(cfg)
	require.NoError(t, cbs.Setup(context.Background(), pocketInstance(t), nil, 0))
	root := cbs.open[0]
	root.ChooseConflict()
	require.NotNil(t, root.Conflict())
	return cbs, root
}

func TestNode_Compare(t *testing.T) {
	cbs := NewCBS(DefaultConfig())
	mk := func(id uint64, cost, h int) *Node {
		return &Node{id: id, cbs: cbs, TotalCost: cost, H: h}
	}

	t.Run("lower f first", func(t *testing.T) {
		assert.Negative(t, mk(1, 4, 0).Compare(mk(2, 4, 1)))
	})
	t.Run("larger cost first on equal f", func(t *testing.T) {
		assert.Negative(t, mk(2, 5, 0).Compare(mk(1, 4, 1)))
	})
	t.Run("fewer external conflicts", func(t *testing.T) {
		a, b := mk(2, 4, 0), mk(1, 4, 0)
		b.totalConflictsWithExternalAgents = 2
		assert.Negative(t, a.Compare(b))
	})
	t.Run("goal first", func(t *testing.T) {
		a, b := mk(2, 4, 0), mk(1, 4, 0)
		a.isGoal = true
		assert.Negative(t, a.Compare(b))
	})
	t.Run("fewer ops to solve", func(t *testing.T) {
		a, b := mk(2, 4, 0), mk(1, 4, 0)
		b.minOpsToSolve = 1
		assert.Negative(t, a.Compare(b))
	})
	t.Run("creation order", func(t *testing.T) {
		assert.Negative(t, mk(1, 4, 0).Compare(mk(2, 4, 0)))
	})

	cfg := DefaultConfig()
	cfg.PreferLowerCostOnTies = true
	lower := NewCBS(cfg)
	a := &Node{id: 2, cbs: lower, TotalCost: 4, H: 1}
	b := &Node{id: 1, cbs: lower, TotalCost: 5}
	assert.Negative(t, a.Compare(b), "inverted cost tie-break")
}

func TestNode_ChildrenAndClosedList(t *testing.T) {
	cbs, root := setupPocket(t, DefaultConfig())

	left := newChildNode(root, root.constraintFor(0), root.conflict.AgentA)
	same := newChildNode(root, root.constraintFor(0), root.conflict.AgentA)
	right := newChildNode(root, root.constraintFor(1), root.conflict.AgentB)

	assert.Equal(t, 1, left.Depth())
	assert.Len(t, left.Constraints(), 1)
	assert.True(t, left.Equal(same))
	assert.Equal(t, left.Fingerprint(), same.Fingerprint())
	assert.False(t, left.Equal(right))
	assert.NotEqual(t, left.Fingerprint(), right.Fingerprint())
	assert.Less(t, left.ID(), same.ID())

	cl := newClosedList()
	cl.Add(left)
	assert.Same(t, left, cl.Get(same))
	assert.Nil(t, cl.Get(right))
	assert.Equal(t, 1, cl.Len())

	assert.Same(t, root, cbs.closed.Get(root))
}

func TestNode_ConstraintKinds(t *testing.T) {
	_, root := setupPocket(t, DefaultConfig())
	// The first pocket conflict is a vertex conflict on (1,0) at t=1.
	c := root.constraintFor(0)
	assert.True(t, c.IsVertex())
	assert.Equal(t, 1, c.AgentID)
	assert.Equal(t, 1, c.Time())
	assert.Equal(t, 2, root.constraintFor(1).AgentID)
}

func TestNode_ReplanKeepsCountsSymmetric(t *testing.T) {
	cbs, root := setupPocket(t, DefaultConfig())
	child := newChildNode(root, root.constraintFor(0), 0)
	require.NoError(t, child.Replan(context.Background(), 0, 0, -1))

	// Agent 1 waits one step and then swaps with agent 2 at t=2.
	assert.Equal(t, 3, child.SingleCosts()[0])
	assert.Equal(t, 5, child.TotalCost)
	assert.Equal(t, child.conflictCounts[0][2], child.conflictCounts[1][1])
	assert.Equal(t, child.conflictTimes[0][2], child.conflictTimes[1][1])
	assert.False(t, child.IsGoal())
	assert.Zero(t, cbs.sc.Constraints.Depth())
	assert.Zero(t, cbs.sc.Avoidance.Depth())

	child.ChooseConflict()
	require.NotNil(t, child.Conflict())
	assert.False(t, child.Conflict().Vertex)
	assert.Equal(t, 2, child.Conflict().Time)
}

func TestNode_MergeChildDropsInternalConstraints(t *testing.T) {
	_, root := setupPocket(t, DefaultConfig())
	child := newChildNode(root, root.constraintFor(0), 0)
	require.NoError(t, child.Replan(context.Background(), 0, 0, -1))
	child.ChooseConflict()

	merged := newMergeChildNode(child, 0, 1)
	assert.Equal(t, []int{0, 0}, merged.Groups())
	assert.Equal(t, []int{0, 1}, merged.GroupMembers(1))
	assert.Equal(t, 2, merged.GroupSize(0))
	assert.Empty(t, merged.Constraints(), "both agents now share a group")

	require.NoError(t, merged.Replan(context.Background(), 0, 0, -1))
	assert.True(t, merged.IsGoal())
	assert.Equal(t, 7, merged.TotalCost)
	assert.Equal(t, 7, merged.GroupCost(1))
}

func TestNode_Clear(t *testing.T) {
	_, root := setupPocket(t, DefaultConfig())
	fp := root.Fingerprint()
	root.Clear()
	assert.Nil(t, root.SinglePlans())
	assert.Equal(t, fp, root.Fingerprint())
}

func TestMDD_Width(t *testing.T) {
	inst := newTestInstance(t, []string{
		"...",
		"...",
	}, agent(1, 0, 0, 2, 0))
	d := buildMDD(inst, NewSearchContext(), inst.Agents[0], 3)
	// Cost-3 paths wait once, before or after the first step.
	assert.Equal(t, 1, d.width(0))
	assert.Equal(t, 1, d.width(3))
	assert.Greater(t, d.width(1), 1)
	assert.False(t, d.levels[2][core.Cell{X: 2, Y: 0}], "goal excluded before final arrival")
}
