// Command mapfcbs solves multi-agent path finding instances with
// Conflict-Based Search.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "mapfcbs",
	Short: "Optimal multi-agent path finding with Conflict-Based Search",
	Long: `mapfcbs plans collision-free paths for agents on a 4- or 8-connected
grid, minimising the sum of costs. Instances are YAML files.`,
	SilenceUsage: true,
}

var solveCmd = &cobra.Command{
	Use:   "solve <instance.yaml>...",
	Short: "Solve one or more instance files",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSolve,
}

var validateCmd = &cobra.Command{
	Use:   "validate <instance.yaml>...",
	Short: "Check instance files without solving them",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runValidate,
}

var (
	configPath  string
	algorithm   string
	timeoutFlag string
	parallel    int
	logLevel    string
	logFormat   string
	metricsFile string
	printPlan   bool
	mergeFlag   int
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format (text or json)")

	solveCmd.Flags().StringVar(&algorithm, "algorithm", "cbs", "Solver to run (cbs or prioritized)")
	solveCmd.Flags().StringVar(&timeoutFlag, "timeout", "", "Wall-clock limit per instance, e.g. 30s")
	solveCmd.Flags().IntVar(&parallel, "parallel", 1, "Instances solved concurrently")
	solveCmd.Flags().IntVar(&mergeFlag, "merge-threshold", -1, "Conflict count before two groups merge; -1 disables merging")
	solveCmd.Flags().StringVar(&metricsFile, "metrics-file", "", "Write Prometheus metrics to this file after the run")
	solveCmd.Flags().BoolVar(&printPlan, "plan", false, "Print the plan of every solved instance as YAML")

	rootCmd.AddCommand(solveCmd)
	rootCmd.AddCommand(validateCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
