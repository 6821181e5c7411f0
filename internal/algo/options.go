package algo

import "log/slog"

// Option configures a solver. Options a solver has no use for are ignored.
type Option func(*solverOptions)

type solverOptions struct {
	single      LowLevelSolver
	multi       LowLevelSolver
	observer    Observer
	logger      *slog.Logger
	accumulator StatsAccumulator
}

func (o *solverOptions) apply(opts []Option) {
	o.observer = NopObserver{}
	for _, opt := range opts {
		opt(o)
	}
}

func defaultLogger(component string) *slog.Logger {
	return slog.Default().With(slog.String("component", component))
}

// WithObserver attaches search hooks.
func WithObserver(obs Observer) Option {
	return func(o *solverOptions) { o.observer = obs }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *solverOptions) { o.logger = l }
}

// WithAccumulator reports stats after each Solve.
func WithAccumulator(a StatsAccumulator) Option {
	return func(o *solverOptions) { o.accumulator = a }
}

// WithSolvers replaces the single-agent and group low-level solvers.
// Prioritized planning only uses single.
func WithSolvers(single, multi LowLevelSolver) Option {
	return func(o *solverOptions) {
		o.single = single
		o.multi = multi
	}
}
