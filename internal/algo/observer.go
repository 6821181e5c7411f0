package algo

// NodeInfo is the observable summary of a constraint tree node.
type NodeInfo struct {
	ID       uint64
	ParentID uint64
	Depth    int
	Cost     int
	H        int
	Goal     bool
}

// Observer is the interface for observing high-level search execution.
type Observer interface {
	// OnNodeExpanded is called when a constraint tree node is expanded.
	OnNodeExpanded(node NodeInfo)

	// OnConflictDetected is called when a node's conflict is chosen.
	OnConflictDetected(node NodeInfo, conflict Conflict)

	// OnConstraintAdded is called when a child is created with a new constraint.
	OnConstraintAdded(child NodeInfo, constraint Constraint)

	// OnSolutionFound is called when a goal node is popped.
	OnSolutionFound(result *Result)
}

// NopObserver ignores every event.
type NopObserver struct{}

func (NopObserver) OnNodeExpanded(NodeInfo) {}
func (NopObserver) OnConflictDetected(NodeInfo, Conflict) {}
func (NopObserver) OnConstraintAdded(NodeInfo, Constraint) {}
func (NopObserver) OnSolutionFound(*Result) {}
