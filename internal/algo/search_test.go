package algo

import (
	"context"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elektrokombinacija/mapf-cbs-research/internal/core"
)

// scriptedSolver wraps A* and, when told to, fails or returns plans cut
// down to their start move.
type scriptedSolver struct {
	*AStar
	fail     error
	truncate bool
}

func newScriptedSolver() *scriptedSolver { return &scriptedSolver{AStar: NewAStar()} }

func (s *scriptedSolver) Solve(ctx context.Context) error {
	if s.fail != nil {
		return s.fail
	}
	return s.AStar.Solve(ctx)
}

func (s *scriptedSolver) SinglePlans() []core.SinglePlan {
	plans := s.AStar.SinglePlans()
	if !s.truncate {
		return plans
	}
	out := make([]core.SinglePlan, len(plans))
	for i, p := range plans {
		out[i] = core.SinglePlan{AgentID: p.AgentID, Moves: p.Moves[:1]}
	}
	return out
}

func assertContextClean(t *testing.T, sc *SearchContext) {
	t.Helper()
	assert.Zero(t, sc.Constraints.Depth(), "constraint layers leaked")
	assert.Zero(t, sc.Avoidance.Depth(), "avoidance layers leaked")
}

func assertOpenUnique(t *testing.T, c *CBS) {
	t.Helper()
	for i, a := range c.open {
		for _, b := range c.open[i+1:] {
			assert.False(t, a.Equal(b), "nodes %d and %d are duplicates", a.ID(), b.ID())
		}
	}
}

func TestCBS_SearchBeforeSetup(t *testing.T) {
	assert.ErrorIs(t, NewCBS(DefaultConfig()).Search(context.Background()), ErrNotSetUp)
}

func TestCBS_ClosedListDropsDuplicateChild(t *testing.T) {
	c, root := setupPocket(t, DefaultConfig())
	require.Equal(t, 1, c.OpenLen())
	c.open = c.open[:0]

	c.closed.Add(newChildNode(root, root.constraintFor(0), root.conflict.AgentA))
	require.NoError(t, c.expand(context.Background(), root))

	assert.Equal(t, 1, c.Stats().ClosedListHits)
	require.Equal(t, 1, c.OpenLen(), "only the other side is queued")
	assert.True(t, c.open[0].Equal(newChildNode(root, root.constraintFor(1), root.conflict.AgentB)))
	assert.Equal(t, Expanded, root.Expansion(0))
	assert.Equal(t, Expanded, root.Expansion(1))
}

func TestCBS_ClosedListDropsDuplicateMergeChild(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MergeThreshold = 0
	c, root := setupPocket(t, cfg)
	c.open = c.open[:0]

	a, b := root.conflict.AgentA, root.conflict.AgentB
	c.pairConflicts[pairKey(a, b)] = 1
	c.closed.Add(newMergeChildNode(root, a, b))
	require.NoError(t, c.expand(context.Background(), root))

	assert.Equal(t, 1, c.Stats().ClosedListHits)
	assert.Zero(t, c.Stats().Merges)
	assert.Zero(t, c.OpenLen())
}

func TestCBS_CappedSearchKeepsOpenUniqueAndContextClean(t *testing.T) {
	inst := newTestInstance(t, []string{
		"....",
		".@..",
		"....",
		"..@.",
	}, agent(1, 0, 0, 3, 3), agent(2, 3, 0, 0, 3), agent(3, 0, 2, 3, 2))

	want, err := NewCBS(DefaultConfig()).Solve(context.Background(), inst)
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.LowLevelGeneratedCap = 1
	c := NewCBS(cfg)
	sc := NewSearchContext()
	require.NoError(t, c.Setup(context.Background(), inst, sc, 0))

	stops := 0
	for ; stops < 1000; stops++ {
		err = c.Search(context.Background())
		assertContextClean(t, sc)
		assertOpenUnique(t, c)
		if err == nil {
			break
		}
		require.ErrorIs(t, err, ErrBudgetExceeded)
		assert.LessOrEqual(t, c.LowerBound(), want.Cost)
		c.cfg.LowLevelGeneratedCap += 20
	}
	assert.Positive(t, stops)
	assert.Equal(t, want.Cost, c.TotalCost())
	assert.NoError(t, ValidatePlan(inst, c.Plan()))
}

func TestCBS_LowLevelTimeoutLeavesNodeUnexpanded(t *testing.T) {
	solver := newScriptedSolver()
	obs := &recordingObserver{}
	c := NewCBS(DefaultConfig(), WithSolvers(solver, NewAStar()), WithObserver(obs))
	sc := NewSearchContext()
	require.NoError(t, c.Setup(context.Background(), pocketInstance(t), sc, 0))

	solver.fail = ErrTimeout
	require.ErrorIs(t, c.Search(context.Background()), ErrTimeout)
	assertContextClean(t, sc)
	assert.Zero(t, c.Stats().HighLevelExpanded)
	assert.Zero(t, obs.expanded)
	require.Equal(t, 1, c.OpenLen())
	assert.Equal(t, NotExpanded, c.open[0].Expansion(0))
	assert.Len(t, obs.conflicts, 1)

	solver.fail = nil
	require.NoError(t, c.Search(context.Background()))
	assert.Equal(t, 7, c.TotalCost())
	assert.Equal(t, c.Stats().HighLevelExpanded, obs.expanded)
	assert.Len(t, obs.conflicts, c.Stats().HighLevelExpanded, "each expanded node reports its conflict once")
	assertContextClean(t, sc)
}

func TestCBS_CheaperSingletonChildIsInvariantViolation(t *testing.T) {
	solver := newScriptedSolver()
	c := NewCBS(DefaultConfig(), WithSolvers(solver, NewAStar()))
	sc := NewSearchContext()
	require.NoError(t, c.Setup(context.Background(), pocketInstance(t), sc, 0))

	// Replanned children now claim cost 0 for the constrained agent.
	solver.truncate = true
	err := c.Search(context.Background())
	assert.ErrorIs(t, err, ErrInvariantViolation)
	assert.ErrorContains(t, err, "below parent cost 4")
	assertContextClean(t, sc)
}

func TestCBS_RootWithoutPathLeavesContextClean(t *testing.T) {
	inst := newTestInstance(t, []string{".@."}, agent(1, 0, 0, 2, 0))
	sc := NewSearchContext()
	c := NewCBS(DefaultConfig())
	require.NoError(t, c.Setup(context.Background(), inst, sc, 0))
	assertContextClean(t, sc)
	assert.ErrorIs(t, c.Search(context.Background()), ErrUnsolvable)
}

// randomInstance draws a small grid with scattered obstacles. It returns nil
// when some goal is unreachable.
func randomInstance(t *testing.T, rng *rand.Rand) *core.Instance {
	t.Helper()
	w, h := 4+rng.Intn(2), 4+rng.Intn(2)
	rows := make([]string, h)
	var free []core.Cell
	for y := range rows {
		row := make([]byte, w)
		for x := range row {
			if rng.Float64() < 0.15 {
				row[x] = '@'
				continue
			}
			row[x] = '.'
			free = append(free, cell(x, y))
		}
		rows[y] = string(row)
	}
	n := 2 + rng.Intn(2)
	if len(free) < n {
		return nil
	}
	starts, goals := rng.Perm(len(free)), rng.Perm(len(free))
	agents := make([]core.Agent, n)
	for i := range agents {
		s, g := free[starts[i]], free[goals[i]]
		agents[i] = agent(i+1, s.X, s.Y, g.X, g.Y)
	}
	inst := newTestInstance(t, rows, agents...)
	if independentOptimum(inst) >= core.Unreachable {
		return nil
	}
	return inst
}

func TestCBS_MatchesJointSearchOnRandomGrids(t *testing.T) {
	plain := DefaultConfig()
	plain.CardinalLookahead = false
	plain.DeferGoalConflicts = false
	merge0, merge1 := DefaultConfig(), DefaultConfig()
	merge0.MergeThreshold = 0
	merge1.MergeThreshold = 1
	configs := map[string]Config{
		"default": DefaultConfig(),
		"plain":   plain,
		"merge0":  merge0,
		"merge1":  merge1,
	}

	rng := rand.New(rand.NewSource(20240611))
	checked := 0
	for i := 0; i < 60; i++ {
		inst := randomInstance(t, rng)
		if inst == nil {
			continue
		}
		oracle, err := solveLowLevel(t, inst, NewSearchContext(), 0, -1)
		if err != nil {
			require.ErrorIs(t, err, ErrNoPath)
			continue
		}
		checked++
		for name, cfg := range configs {
			cfg.Timeout = 20 * time.Second
			t.Run(fmt.Sprintf("%d/%s", i, name), func(t *testing.T) {
				res, err := NewCBS(cfg).Solve(context.Background(), inst)
				require.NoError(t, err)
				require.NoError(t, ValidatePlan(inst, res.Plan))
				assert.Equal(t, oracle.Plan().SumOfCosts(), res.Cost)
				assert.Equal(t, res.Plan.SumOfCosts(), res.Cost)
				assert.GreaterOrEqual(t, res.Cost, independentOptimum(inst))
			})
		}
	}
	assert.Greater(t, checked, 10)
}
