package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/elektrokombinacija/mapf-cbs-research/internal/algo"
	"github.com/elektrokombinacija/mapf-cbs-research/internal/config"
	"github.com/elektrokombinacija/mapf-cbs-research/internal/core"
	"github.com/elektrokombinacija/mapf-cbs-research/internal/telemetry"
)

// loadConfig merges the config file, the environment and the flags.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if logFormat != "" {
		cfg.Logging.Format = logFormat
	}
	if cmd.Flags().Changed("timeout") {
		d, err := time.ParseDuration(timeoutFlag)
		if err != nil {
			return cfg, fmt.Errorf("--timeout: %w", err)
		}
		cfg.Solver.Timeout = d
	}
	if cmd.Flags().Changed("merge-threshold") {
		cfg.Solver.MergeThreshold = mergeFlag
	}
	if metricsFile != "" {
		cfg.Metrics.File = metricsFile
	}
	return cfg, cfg.Validate()
}

// outcome is the per-instance result kept for the final report.
type outcome struct {
	path   string
	runID  string
	result *algo.Result
	err    error
}

func newSolver(cfg config.Config, logger *slog.Logger, acc algo.StatsAccumulator) (algo.Solver, error) {
	switch algorithm {
	case "cbs":
		return algo.NewCBS(cfg.Solver,
			algo.WithLogger(logger.With(slog.String("component", "cbs"))),
			algo.WithObserver(telemetry.NewLogObserver(logger)),
			algo.WithAccumulator(acc),
		), nil
	case "prioritized":
		return algo.NewPrioritized(cfg.Solver.LowLevelMaxCost, cfg.Solver.Timeout,
			algo.WithLogger(logger.With(slog.String("component", "prioritized"))),
			algo.WithObserver(telemetry.NewLogObserver(logger)),
			algo.WithAccumulator(acc),
		), nil
	default:
		return nil, fmt.Errorf("unknown algorithm %q", algorithm)
	}
}

func runSolve(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := cfg.Logging.NewLogger(os.Stderr)
	if err != nil {
		return err
	}
	if parallel < 1 {
		return fmt.Errorf("--parallel must be at least 1, got %d", parallel)
	}

	reg := prometheus.NewRegistry()
	acc := telemetry.NewPrometheusAccumulator(reg)

	outcomes := make([]outcome, len(args))
	g, ctx := errgroup.WithContext(cmd.Context())
	g.SetLimit(parallel)
	for i, path := range args {
		g.Go(func() error {
			runID := uuid.NewString()[:8]
			runLogger := logger.With(slog.String("run_id", runID), slog.String("instance", path))
			res, err := solveFile(ctx, path, cfg, runLogger, acc)
			outcomes[i] = outcome{path: path, runID: runID, result: res, err: err}
			if isSearchOutcome(err) {
				return nil
			}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	failed := report(cmd.OutOrStdout(), outcomes, logger)

	if cfg.Metrics.File != "" {
		if err := prometheus.WriteToTextfile(cfg.Metrics.File, reg); err != nil {
			return fmt.Errorf("writing metrics: %w", err)
		}
		logger.Info("metrics written", slog.String("file", cfg.Metrics.File))
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d instances not solved", failed, len(args))
	}
	return nil
}

// isSearchOutcome reports whether err ends a single run without aborting
// the batch.
func isSearchOutcome(err error) bool {
	return err == nil ||
		errors.Is(err, algo.ErrTimeout) ||
		errors.Is(err, algo.ErrBudgetExceeded) ||
		errors.Is(err, algo.ErrUnsolvable)
}

func solveFile(ctx context.Context, path string, cfg config.Config, logger *slog.Logger, acc algo.StatsAccumulator) (*algo.Result, error) {
	inst, err := config.LoadInstance(path)
	if err != nil {
		return nil, err
	}
	solver, err := newSolver(cfg, logger, acc)
	if err != nil {
		return nil, err
	}

	logger.Info("solving",
		slog.String("solver", solver.Name()),
		slog.Int("agents", inst.NumAgents()),
		slog.Int("width", inst.Grid.Width),
		slog.Int("height", inst.Grid.Height))

	res, err := solver.Solve(ctx, inst)
	if err != nil {
		attrs := []any{slog.String("error", err.Error())}
		if res != nil {
			attrs = append(attrs, slog.Int("lower_bound", res.LowerBound), slog.Duration("elapsed", res.Elapsed))
		}
		logger.Warn("not solved", attrs...)
		return res, err
	}
	if err := algo.ValidatePlan(inst, res.Plan); err != nil {
		return res, fmt.Errorf("%s: solver returned an invalid plan: %w", path, err)
	}
	logger.Info("solved",
		slog.Int("cost", res.Cost),
		slog.Int("makespan", res.Plan.Makespan()),
		slog.Int("expanded", res.Stats.HighLevelExpanded),
		slog.Int("generated", res.Stats.HighLevelGenerated),
		slog.Duration("elapsed", res.Elapsed))
	return res, nil
}

type planDoc struct {
	Instance string      `yaml:"instance"`
	RunID    string      `yaml:"run_id"`
	Solver   string      `yaml:"solver"`
	Cost     int         `yaml:"cost"`
	Makespan int         `yaml:"makespan"`
	Paths    []agentPath `yaml:"paths"`
}

type agentPath struct {
	ID    int      `yaml:"id"`
	Cost  int      `yaml:"cost"`
	Cells [][2]int `yaml:"cells,flow"`
}

func newPlanDoc(o outcome) planDoc {
	doc := planDoc{
		Instance: o.path,
		RunID:    o.runID,
		Solver:   o.result.Solver,
		Cost:     o.result.Cost,
		Makespan: o.result.Plan.Makespan(),
	}
	for _, s := range o.result.Plan.Singles {
		p := agentPath{ID: s.AgentID, Cost: s.Cost()}
		for _, c := range s.Cells() {
			p.Cells = append(p.Cells, [2]int{c.X, c.Y})
		}
		doc.Paths = append(doc.Paths, p)
	}
	return doc
}

// report prints a summary line per instance and returns how many were not
// solved.
func report(w io.Writer, outcomes []outcome, logger *slog.Logger) int {
	failed := 0
	var docs []planDoc
	for _, o := range outcomes {
		if o.err != nil || o.result == nil || !o.result.Solved {
			failed++
			fmt.Fprintf(w, "%s\tunsolved\t%v\n", o.path, o.err)
			continue
		}
		fmt.Fprintf(w, "%s\t%s\tcost=%d\texpanded=%d\t%v\n",
			o.path, o.result.Solver, o.result.Cost, o.result.Stats.HighLevelExpanded, o.result.Elapsed.Round(time.Millisecond))
		if printPlan {
			docs = append(docs, newPlanDoc(o))
		}
	}
	if len(docs) > 0 {
		enc := yaml.NewEncoder(w)
		defer enc.Close()
		for _, d := range docs {
			if err := enc.Encode(d); err != nil {
				logger.Error("encoding plan", slog.String("error", err.Error()))
				return failed
			}
		}
	}
	return failed
}

func runValidate(cmd *cobra.Command, args []string) error {
	var errs []error
	for _, path := range args {
		inst, err := config.LoadInstance(path)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s\tok\tagents=%d\tgrid=%dx%d\tsic=%d\n",
			path, inst.NumAgents(), inst.Grid.Width, inst.Grid.Height, sic(inst))
	}
	return errors.Join(errs...)
}

// sic is the sum of individual shortest-path costs, the root lower bound.
// It is -1 when some goal is unreachable.
func sic(inst *core.Instance) int {
	total := 0
	for i, a := range inst.Agents {
		d := inst.Distance(i, a.Start)
		if d == core.Unreachable {
			return -1
		}
		total += d
	}
	return total
}
