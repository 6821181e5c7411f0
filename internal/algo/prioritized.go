package algo

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/elektrokombinacija/mapf-cbs-research/internal/core"
)

// Prioritized implements prioritized planning: agents are planned one at a
// time and every finished path is reserved for the agents after it.
// It is incomplete and not optimal.
type Prioritized struct {
	solverOptions
	MaxCost int
	Timeout time.Duration
}

// NewPrioritized creates a prioritized planning solver. A low-level solver
// given through WithSolvers replaces the default A*, and maxCost then does
// not apply.
func NewPrioritized(maxCost int, timeout time.Duration, opts ...Option) *Prioritized {
	p := &Prioritized{MaxCost: maxCost, Timeout: timeout}
	p.apply(opts)
	if p.logger == nil {
		p.logger = defaultLogger("prioritized")
	}
	return p
}

func (p *Prioritized) Name() string { return "Prioritized" }

// Solve implements Solver.
func (p *Prioritized) Solve(ctx context.Context, inst *core.Instance) (*Result, error) {
	start := time.Now()
	res := &Result{Solver: p.Name()}
	if err := inst.Validate(); err != nil {
		return res, err
	}

	sc := NewSearchContext()
	sc.Budget = NewBudget(p.Timeout)
	sc.Reserved = NewReservationTable()

	plans := make([]core.SinglePlan, inst.NumAgents())
	astar := p.single
	if astar == nil {
		a := NewAStar()
		a.MaxCost = p.MaxCost
		astar = a
	}
	for _, i := range p.priority(inst) {
		astar.Setup(inst.Subproblem([]int{i}), sc, 0, -1)
		err := astar.Solve(ctx)
		res.Stats.LowLevel.Add(astar.Stats())
		astar.ClearStatistics()
		if err != nil {
			res.Elapsed = time.Since(start)
			p.report(res)
			if errors.Is(err, ErrNoPath) {
				return res, fmt.Errorf("%w: agent %d has no path around higher priorities", ErrUnsolvable, inst.Agents[i].ID)
			}
			return res, err
		}
		plans[i] = astar.SinglePlans()[0]
		sc.Reserved.Reserve(plans[i])
		p.logger.Debug("agent planned", slog.Int("agent", inst.Agents[i].ID), slog.Int("cost", plans[i].Cost()))
	}

	res.Plan = core.NewPlan(plans)
	res.Solved = true
	res.Cost = res.Plan.SumOfCosts()
	for _, pl := range plans {
		res.SingleCosts = append(res.SingleCosts, pl.Cost())
	}
	res.Elapsed = time.Since(start)
	p.report(res)
	p.observer.OnSolutionFound(res)
	return res, nil
}

// priority orders agents by descending distance to goal, ties by ID.
func (p *Prioritized) priority(inst *core.Instance) []int {
	order := make([]int, inst.NumAgents())
	for i := range order {
		order[i] = i
	}
	slices.SortFunc(order, func(a, b int) int {
		da := inst.Distance(a, inst.Agents[a].Start)
		db := inst.Distance(b, inst.Agents[b].Start)
		return cmp.Or(cmp.Compare(db, da), cmp.Compare(inst.Agents[a].ID, inst.Agents[b].ID))
	})
	return order
}

func (p *Prioritized) report(res *Result) {
	if p.accumulator != nil {
		p.accumulator.Accumulate(p.Name(), res.Stats)
	}
}
