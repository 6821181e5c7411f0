// Package telemetry exports search statistics and events: a Prometheus
// accumulator for run statistics and a slog observer for search events.
package telemetry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"

	"github.com/elektrokombinacija/mapf-cbs-research/internal/algo"
)

const (
	namespace = "mapf"
	subsystem = "cbs"
)

// PrometheusAccumulator adds the statistics of every finished run to
// counters labelled by solver name. It is safe for concurrent use, so one
// accumulator can serve solvers running in parallel.
type PrometheusAccumulator struct {
	mu sync.Mutex

	runs               *prometheus.CounterVec
	highLevelExpanded  *prometheus.CounterVec
	highLevelGenerated *prometheus.CounterVec
	closedListHits     *prometheus.CounterVec
	partialExpansions  *prometheus.CounterVec
	pushBacks          *prometheus.CounterVec
	merges             *prometheus.CounterVec
	prunedByCost       *prometheus.CounterVec
	lowLevelExpanded   *prometheus.CounterVec
	lowLevelGenerated  *prometheus.CounterVec
	lowLevelReopened   *prometheus.CounterVec
	maxGroupSize       *prometheus.GaugeVec
}

// NewPrometheusAccumulator registers the collectors on reg. A nil reg uses
// the default registerer.
func NewPrometheusAccumulator(reg prometheus.Registerer) *PrometheusAccumulator {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	counter := func(name, help string) *prometheus.CounterVec {
		return factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		}, []string{"solver"})
	}

	return &PrometheusAccumulator{
		runs:               counter("runs_total", "Finished solver runs"),
		highLevelExpanded:  counter("high_level_expanded_total", "Constraint tree nodes expanded"),
		highLevelGenerated: counter("high_level_generated_total", "Constraint tree nodes generated"),
		closedListHits:     counter("closed_list_hits_total", "Duplicate constraint tree nodes discarded"),
		partialExpansions:  counter("partial_expansions_total", "Goal conflicts deferred by raising h"),
		pushBacks:          counter("push_backs_total", "Nodes re-queued after their f grew"),
		merges:             counter("merges_total", "Agent groups merged"),
		prunedByCost:       counter("pruned_by_cost_total", "Children dropped above the cost cap"),
		lowLevelExpanded:   counter("low_level_expanded_total", "Low-level states expanded"),
		lowLevelGenerated:  counter("low_level_generated_total", "Low-level states generated"),
		lowLevelReopened:   counter("low_level_reopened_total", "Low-level states reopened"),
		maxGroupSize: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "max_group_size",
			Help:      "Largest merged agent group seen",
		}, []string{"solver"}),
	}
}

// Accumulate implements algo.StatsAccumulator.
func (p *PrometheusAccumulator) Accumulate(solver string, s algo.Stats) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.runs.WithLabelValues(solver).Inc()
	add := func(c *prometheus.CounterVec, v int) {
		c.WithLabelValues(solver).Add(float64(v))
	}
	add(p.highLevelExpanded, s.HighLevelExpanded)
	add(p.highLevelGenerated, s.HighLevelGenerated)
	add(p.closedListHits, s.ClosedListHits)
	add(p.partialExpansions, s.PartialExpansions)
	add(p.pushBacks, s.PushBacks)
	add(p.merges, s.Merges)
	add(p.prunedByCost, s.PrunedByCost)
	add(p.lowLevelExpanded, s.LowLevel.Expanded)
	add(p.lowLevelGenerated, s.LowLevel.Generated)
	add(p.lowLevelReopened, s.LowLevel.Reopened)

	g := p.maxGroupSize.WithLabelValues(solver)
	if cur := gaugeValue(g); float64(s.MaxGroupSize) > cur {
		g.Set(float64(s.MaxGroupSize))
	}
}

func gaugeValue(g prometheus.Gauge) float64 {
	var m dto.Metric
	if err := g.Write(&m); err != nil {
		return 0
	}
	return m.GetGauge().GetValue()
}

var _ algo.StatsAccumulator = (*PrometheusAccumulator)(nil)
