package algo

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elektrokombinacija/mapf-cbs-research/internal/core"
)

func solveLowLevel(t *testing.T, inst *core.Instance, sc *SearchContext, minDepth, minCost int) (*AStar, error) {
	t.Helper()
	a := NewAStar()
	a.Setup(inst, sc, minDepth, minCost)
	return a, a.Solve(context.Background())
}

func TestAStar_SingleAgent(t *testing.T) {
	inst := newTestInstance(t, []string{
		"...",
		"...",
		"...",
	}, agent(1, 0, 0, 2, 2))

	a, err := solveLowLevel(t, inst, NewSearchContext(), 0, -1)
	require.NoError(t, err)
	assert.Equal(t, 4, a.Cost())
	assert.Equal(t, []int{4}, a.SingleCosts())
	require.Len(t, a.SinglePlans(), 1)
	assert.Equal(t, cell(2, 2), a.SinglePlans()[0].Moves[4].Cell)
	assert.Positive(t, a.Stats().Expanded)
	assert.Empty(t, a.ConflictCounts()[0])
}

func TestAStar_VertexConstraintForcesWait(t *testing.T) {
	inst := newTestInstance(t, []string{"..."}, agent(1, 0, 0, 2, 0))
	sc := NewSearchContext()
	defer sc.Constraints.Join(NewConstraintSet(
		NewVertexConstraint(1, core.NewTimedMove(1, 0, core.East, 1)),
	))()

	a, err := solveLowLevel(t, inst, sc, 0, -1)
	require.NoError(t, err)
	assert.Equal(t, 3, a.Cost())
	assert.Equal(t, cell(0, 0), a.SinglePlans()[0].Moves[1].Cell)
}

func TestAStar_EdgeConstraintIsDirectional(t *testing.T) {
	inst := newTestInstance(t, []string{
		"..",
		"..",
	}, agent(1, 0, 0, 1, 0))
	sc := NewSearchContext()
	// Entering (1,0) from the west at t=1 is forbidden; arriving later or
	// from another side is not.
	defer sc.Constraints.Join(NewConstraintSet(
		NewEdgeConstraint(1, core.NewTimedMove(1, 0, core.East, 1)),
	))()

	a, err := solveLowLevel(t, inst, sc, 0, -1)
	require.NoError(t, err)
	assert.Equal(t, 2, a.Cost())
	for _, m := range a.SinglePlans()[0].Moves {
		assert.False(t, m.Time == 1 && m.Cell == cell(1, 0), "constraint violated by %v", m)
	}
}

func TestAStar_GoalConstraintForcesLateArrival(t *testing.T) {
	inst := newTestInstance(t, []string{"..."}, agent(1, 0, 0, 2, 0))
	sc := NewSearchContext()
	defer sc.Constraints.Join(NewConstraintSet(
		NewVertexConstraint(1, core.NewTimedMove(2, 0, core.Wait, 5)),
	))()

	a, err := solveLowLevel(t, inst, sc, 0, -1)
	require.NoError(t, err)
	// Off the goal at t=5, so the final arrival is at t=6.
	assert.Equal(t, 6, a.Cost())
	assert.NotEqual(t, cell(2, 0), a.SinglePlans()[0].Moves[5].Cell)
}

func TestAStar_MinDepth(t *testing.T) {
	inst := newTestInstance(t, []string{"..."}, agent(1, 0, 0, 2, 0))

	a, err := solveLowLevel(t, inst, NewSearchContext(), 4, -1)
	require.NoError(t, err)
	// Reaching the goal early and resting there is allowed.
	assert.Equal(t, 2, a.Cost())
}

func TestAStar_MinCost(t *testing.T) {
	inst := newTestInstance(t, []string{"..."}, agent(1, 0, 0, 2, 0))

	a, err := solveLowLevel(t, inst, NewSearchContext(), 0, 4)
	require.NoError(t, err)
	assert.Equal(t, 4, a.Cost())
}

func TestAStar_AvoidanceTableBreaksTies(t *testing.T) {
	inst := newTestInstance(t, []string{
		"..",
		"..",
	}, agent(1, 0, 0, 1, 1))
	cat := NewAvoidanceTable()
	cat.AddPlan(planOf(7, cell(1, 0)))
	sc := NewSearchContext()
	defer sc.Avoidance.Join(cat)()

	a, err := solveLowLevel(t, inst, sc, 0, -1)
	require.NoError(t, err)
	assert.Equal(t, 2, a.Cost())
	assert.Equal(t, cell(0, 1), a.SinglePlans()[0].Moves[1].Cell)
	assert.Empty(t, a.ConflictCounts()[0])
}

func TestAStar_AvoidanceTableCountsUnavoidableConflicts(t *testing.T) {
	inst := newTestInstance(t, []string{"..."}, agent(1, 0, 0, 2, 0))
	cat := NewAvoidanceTable()
	cat.AddPlan(planOf(7, cell(1, 0)))
	sc := NewSearchContext()
	defer sc.Avoidance.Join(cat)()

	a, err := solveLowLevel(t, inst, sc, 0, -1)
	require.NoError(t, err)
	assert.Equal(t, 2, a.Cost())
	assert.Equal(t, map[int]int{7: 1}, a.ConflictCounts()[0])
	assert.Equal(t, map[int][]int{7: {1}}, a.ConflictTimes()[0])
}

func TestAStar_ReservationBlocks(t *testing.T) {
	inst := newTestInstance(t, []string{"..."}, agent(1, 0, 0, 2, 0))
	sc := NewSearchContext()
	sc.Reserved = NewReservationTable()
	sc.Reserved.Reserve(planOf(9, cell(1, 0)))

	_, err := solveLowLevel(t, inst, sc, 0, -1)
	assert.ErrorIs(t, err, ErrNoPath)
}

func TestAStar_UnreachableGoal(t *testing.T) {
	inst := newTestInstance(t, []string{".@."}, agent(1, 0, 0, 2, 0))

	a, err := solveLowLevel(t, inst, NewSearchContext(), 0, -1)
	assert.ErrorIs(t, err, ErrNoPath)
	assert.Zero(t, a.Stats().Expanded)
}

func TestAStar_MaxCostPrunes(t *testing.T) {
	inst := newTestInstance(t, []string{"..."}, agent(1, 0, 0, 2, 0))
	a := NewAStar()
	a.MaxCost = 1
	a.Setup(inst, NewSearchContext(), 0, -1)
	assert.ErrorIs(t, a.Solve(context.Background()), ErrNoPath)
}

func TestAStar_Group(t *testing.T) {
	inst := pocketInstance(t)

	a, err := solveLowLevel(t, inst, NewSearchContext(), 0, -1)
	require.NoError(t, err)
	assert.Equal(t, 7, a.Cost())
	assert.NoError(t, ValidatePlan(inst, a.Plan()))
}

func TestAStar_Timeout(t *testing.T) {
	inst := pocketInstance(t)
	now := time.Unix(0, 0)
	sc := NewSearchContext()
	sc.Budget = NewBudgetWithClock(time.Second, func() time.Time { return now })
	a := NewAStar()
	a.Setup(inst, sc, 0, -1)
	now = now.Add(2 * time.Second)
	assert.ErrorIs(t, a.Solve(context.Background()), ErrTimeout)
}

func TestAStar_CancelledContext(t *testing.T) {
	inst := pocketInstance(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	a := NewAStar()
	a.Setup(inst, NewSearchContext(), 0, -1)
	assert.ErrorIs(t, a.Solve(ctx), ErrTimeout)
}

func TestAStar_StateKey(t *testing.T) {
	a := NewAStar()
	a.Setup(pocketInstance(t), NewSearchContext(), 0, -1)
	require.Zero(t, a.horizon)

	state := func(time int, cells ...core.Cell) *worldState {
		s := &worldState{time: time}
		for _, c := range cells {
			s.moves = append(s.moves, core.TimedMove{Move: core.Move{Cell: c, Dir: core.Wait}, Time: time})
		}
		return s
	}
	late := state(5, cell(0, 0), cell(2, 0))
	key := string(a.key(late))
	assert.Equal(t, key, string(a.key(state(9, cell(0, 0), cell(2, 0)))), "times past the horizon collapse")
	assert.NotEqual(t, key, string(a.key(state(0, cell(0, 0), cell(2, 0)))))
	assert.NotEqual(t, key, string(a.key(state(5, cell(2, 0), cell(0, 0)))))
	assert.NotEqual(t, key, string(a.key(state(5, cell(1, 0), cell(2, 0)))))

	a.closed[key] = late
	found := false
	allocs := testing.AllocsPerRun(100, func() {
		_, found = a.closed[string(a.key(late))]
	})
	assert.True(t, found)
	assert.Zero(t, allocs)
}
