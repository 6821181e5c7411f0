package algo

// LowLevelStats counts work done by a low-level solver.
type LowLevelStats struct {
	Expanded          int
	Generated         int
	Reopened          int
	ClosedListHits    int
	ReopenedWithOldH  int
	NoReopenHUpdates  int
	MaxExpansionDelay int
}

// Add accumulates o into s.
func (s *LowLevelStats) Add(o LowLevelStats) {
	s.Expanded += o.Expanded
	s.Generated += o.Generated
	s.Reopened += o.Reopened
	s.ClosedListHits += o.ClosedListHits
	s.ReopenedWithOldH += o.ReopenedWithOldH
	s.NoReopenHUpdates += o.NoReopenHUpdates
	s.MaxExpansionDelay = max(s.MaxExpansionDelay, o.MaxExpansionDelay)
}

// Stats counts work done by a high-level search, including the low-level
// work it triggered.
type Stats struct {
	HighLevelExpanded  int
	HighLevelGenerated int
	ClosedListHits     int
	PartialExpansions  int
	PushBacks          int
	Merges             int
	PrunedByCost       int
	MaxGroupSize       int
	LowLevel           LowLevelStats
}

// StatsAccumulator receives statistics at the end of a run.
type StatsAccumulator interface {
	Accumulate(solver string, s Stats)
}
