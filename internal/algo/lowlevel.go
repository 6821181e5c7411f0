package algo

import (
	"context"

	"github.com/elektrokombinacija/mapf-cbs-research/internal/core"
)

// LowLevelSolver plans a group of agents under the constraints, avoidance
// table and reservations of a SearchContext.
type LowLevelSolver interface {
	// Setup prepares a search for every agent of sub. Plans must not reach
	// the goal before minDepth and must cost at least minCost; pass -1 to
	// disable either bound.
	Setup(sub *core.Instance, sc *SearchContext, minDepth, minCost int)

	// Solve runs the search. It returns nil, ErrNoPath or ErrTimeout.
	Solve(ctx context.Context) error

	SinglePlans() []core.SinglePlan
	SingleCosts() []int
	Cost() int
	Plan() *core.Plan

	// ConflictCounts returns, for each member of the group, how often its
	// plan collides with every agent recorded in the avoidance table.
	ConflictCounts() []map[int]int
	// ConflictTimes returns the collision times matching ConflictCounts.
	ConflictTimes() []map[int][]int

	Stats() LowLevelStats
	ClearStatistics()
	Name() string
}
