package algo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elektrokombinacija/mapf-cbs-research/internal/core"
)

func TestConstraintSetContains(t *testing.T) {
	set := NewConstraintSet(
		NewVertexConstraint(1, core.NewTimedMove(1, 1, core.East, 3)),
		NewEdgeConstraint(2, core.NewTimedMove(2, 2, core.North, 4)),
	)

	tests := []struct {
		name  string
		agent int
		move  core.TimedMove
		want  bool
	}{
		{"vertex any direction", 1, core.NewTimedMove(1, 1, core.South, 3), true},
		{"vertex wait", 1, core.NewTimedMove(1, 1, core.Wait, 3), true},
		{"vertex query", 1, core.NewTimedMove(1, 1, core.NoDirection, 3), true},
		{"vertex other time", 1, core.NewTimedMove(1, 1, core.East, 4), false},
		{"vertex other agent", 2, core.NewTimedMove(1, 1, core.East, 3), false},
		{"edge same direction", 2, core.NewTimedMove(2, 2, core.North, 4), true},
		{"edge other direction", 2, core.NewTimedMove(2, 2, core.West, 4), false},
		{"edge vertex query", 2, core.NewTimedMove(2, 2, core.NoDirection, 4), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, set.Contains(tt.agent, tt.move))
		})
	}
}

func TestConstraintSetEqualAndMaxTime(t *testing.T) {
	a := NewConstraintSet(NewVertexConstraint(1, core.NewTimedMove(0, 0, core.Wait, 2)))
	b := NewConstraintSet(NewVertexConstraint(1, core.NewTimedMove(0, 0, core.North, 2)))
	c := NewConstraintSet(NewEdgeConstraint(1, core.NewTimedMove(0, 0, core.North, 2)))
	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))

	c.Add(NewVertexConstraint(3, core.NewTimedMove(4, 4, core.Wait, 9)))
	assert.Equal(t, 2, c.MaxTime(map[int]bool{1: true}))
	assert.Equal(t, 9, c.MaxTime(map[int]bool{1: true, 3: true}))
	assert.Equal(t, -1, c.MaxTime(map[int]bool{7: true}))

	sorted := c.Sorted()
	require.Len(t, sorted, 2)
	assert.Equal(t, 1, sorted[0].AgentID)
}

func TestConstraintOverlayJoinRelease(t *testing.T) {
	o := NewConstraintOverlay()
	outer := NewConstraintSet(NewVertexConstraint(1, core.NewTimedMove(0, 0, core.Wait, 1)))
	inner := NewConstraintSet(NewVertexConstraint(1, core.NewTimedMove(1, 0, core.Wait, 2)))
	blocked := core.NewTimedMove(1, 0, core.East, 2)

	releaseOuter := o.Join(outer)
	func() {
		defer o.Join(inner)()
		assert.Equal(t, 2, o.Depth())
		assert.Equal(t, 2, o.Len())
		assert.True(t, o.Contains(1, blocked))
		assert.Equal(t, 2, o.MaxTime(map[int]bool{1: true}))
	}()
	assert.Equal(t, 1, o.Depth())
	assert.False(t, o.Contains(1, blocked), "inner batch leaked")
	releaseOuter()
	assert.Zero(t, o.Depth())

	assert.ErrorIs(t, o.Separate(inner), ErrOverlayMismatch)
}

func TestConstraintOverlaySeparatesByIdentity(t *testing.T) {
	o := NewConstraintOverlay()
	a := NewConstraintSet(NewVertexConstraint(1, core.NewTimedMove(0, 0, core.Wait, 1)))
	b := NewConstraintSet(NewVertexConstraint(1, core.NewTimedMove(0, 0, core.Wait, 1)))
	o.Join(a)
	releaseB := o.Join(b)
	require.NoError(t, o.Separate(a))
	assert.Equal(t, 1, o.Depth())
	releaseB()
	assert.Zero(t, o.Depth())
}

func TestAvoidanceTableColliding(t *testing.T) {
	cat := NewAvoidanceTable()
	// Agent 7 moves (0,0) -> (1,0) -> (2,0) and rests there.
	cat.AddPlan(planOf(7, cell(0, 0), cell(1, 0), cell(2, 0)))
	assert.Equal(t, 2, cat.MaxTime())
	assert.Equal(t, 3, cat.Len())

	hits := func(m core.TimedMove) []int {
		var ids []int
		cat.Colliding(m, func(id int) { ids = append(ids, id) })
		return ids
	}

	assert.Equal(t, []int{7}, hits(core.NewTimedMove(1, 0, core.South, 1)), "vertex")
	assert.Equal(t, []int{7}, hits(core.NewTimedMove(0, 0, core.West, 1)), "swap")
	assert.Equal(t, []int{7}, hits(core.NewTimedMove(2, 0, core.Wait, 9)), "resting")
	assert.Empty(t, hits(core.NewTimedMove(2, 0, core.Wait, 1)), "before arrival")
	assert.Empty(t, hits(core.NewTimedMove(1, 0, core.East, 2)), "following")
}

func TestAvoidanceOverlay(t *testing.T) {
	o := NewAvoidanceOverlay()
	a, b := NewAvoidanceTable(), NewAvoidanceTable()
	a.AddPlan(planOf(1, cell(0, 0), cell(1, 0)))
	b.AddPlan(planOf(2, cell(1, 1), cell(1, 0)))

	releaseA := o.Join(a)
	releaseB := o.Join(b)
	var ids []int
	o.Colliding(core.NewTimedMove(1, 0, core.Wait, 1), func(id int) { ids = append(ids, id) })
	assert.Equal(t, []int{1, 2}, ids)
	assert.Equal(t, 1, o.MaxTime())

	releaseB()
	releaseA()
	assert.Zero(t, o.Depth())
	assert.Equal(t, -1, o.MaxTime())
	assert.ErrorIs(t, o.Separate(a), ErrOverlayMismatch)
}

func TestReservationTable(t *testing.T) {
	var none *ReservationTable
	assert.False(t, none.IsReserved(core.NewTimedMove(0, 0, core.Wait, 0)))
	assert.Equal(t, -1, none.MaxTime())

	r := NewReservationTable()
	r.Reserve(planOf(4, cell(0, 0), cell(1, 0)))
	assert.True(t, r.IsReserved(core.NewTimedMove(1, 0, core.Wait, 5)))
	assert.True(t, r.IsReserved(core.NewTimedMove(0, 0, core.West, 1)))
	assert.False(t, r.IsReserved(core.NewTimedMove(0, 0, core.Wait, 2)))
	assert.Equal(t, 1, r.MaxTime())
}
