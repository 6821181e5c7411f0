package telemetry

import (
	"log/slog"

	"github.com/elektrokombinacija/mapf-cbs-research/internal/algo"
)

// LogObserver writes high-level search events to a slog logger. Node and
// conflict events are logged at debug level, solutions at info.
type LogObserver struct {
	logger *slog.Logger
}

// NewLogObserver creates an observer. A nil logger uses the default logger.
func NewLogObserver(logger *slog.Logger) *LogObserver {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogObserver{logger: logger.With(slog.String("component", "search"))}
}

func nodeAttrs(n algo.NodeInfo) slog.Attr {
	return slog.Group("node",
		slog.Uint64("id", n.ID),
		slog.Uint64("parent", n.ParentID),
		slog.Int("depth", n.Depth),
		slog.Int("cost", n.Cost),
		slog.Int("h", n.H),
	)
}

func (o *LogObserver) OnNodeExpanded(n algo.NodeInfo) {
	o.logger.Debug("node expanded", nodeAttrs(n))
}

func (o *LogObserver) OnConflictDetected(n algo.NodeInfo, c algo.Conflict) {
	o.logger.Debug("conflict chosen", nodeAttrs(n), slog.String("conflict", c.String()))
}

func (o *LogObserver) OnConstraintAdded(n algo.NodeInfo, c algo.Constraint) {
	o.logger.Debug("constraint added", nodeAttrs(n), slog.String("constraint", c.String()))
}

func (o *LogObserver) OnSolutionFound(r *algo.Result) {
	o.logger.Info("solution found",
		slog.String("solver", r.Solver),
		slog.Int("cost", r.Cost),
		slog.Int("expanded", r.Stats.HighLevelExpanded),
		slog.Int("generated", r.Stats.HighLevelGenerated))
}

var _ algo.Observer = (*LogObserver)(nil)
