// Package core defines the grid MAPF domain model: cells, moves, agents,
// instances and plans.
package core

import "fmt"

// Direction is the action used to arrive at a cell.
type Direction int

const (
	Wait Direction = iota
	North
	East
	South
	West
	NorthEast
	SouthEast
	SouthWest
	NorthWest
	// NoDirection matches any direction in comparisons. Vertex constraints
	// and conflict lookups use it.
	NoDirection
)

var directionNames = [...]string{
	"Wait", "North", "East", "South", "West",
	"NorthEast", "SouthEast", "SouthWest", "NorthWest", "NoDirection",
}

func (d Direction) String() string {
	if d < Wait || d > NoDirection {
		return fmt.Sprintf("Direction(%d)", int(d))
	}
	return directionNames[d]
}

// Delta returns the (dx, dy) offset of the direction. North is -y.
func (d Direction) Delta() (dx, dy int) {
	switch d {
	case North:
		return 0, -1
	case East:
		return 1, 0
	case South:
		return 0, 1
	case West:
		return -1, 0
	case NorthEast:
		return 1, -1
	case SouthEast:
		return 1, 1
	case SouthWest:
		return -1, 1
	case NorthWest:
		return -1, -1
	default:
		return 0, 0
	}
}

// Opposite returns the reverse direction. Wait and NoDirection are their
// own opposites.
func (d Direction) Opposite() Direction {
	switch d {
	case North:
		return South
	case East:
		return West
	case South:
		return North
	case West:
		return East
	case NorthEast:
		return SouthWest
	case SouthEast:
		return NorthWest
	case SouthWest:
		return NorthEast
	case NorthWest:
		return SouthEast
	default:
		return d
	}
}

// IsMotion reports whether the direction changes the cell.
func (d Direction) IsMotion() bool {
	return d != Wait && d != NoDirection
}

var (
	cardinalDirections = []Direction{Wait, North, East, South, West}
	allDirections      = []Direction{Wait, North, East, South, West, NorthEast, SouthEast, SouthWest, NorthWest}
)

// Directions returns the actions available to an agent in expansion order.
func Directions(allowDiagonal bool) []Direction {
	if allowDiagonal {
		return allDirections
	}
	return cardinalDirections
}

// Cell is a grid coordinate.
type Cell struct {
	X, Y int
}

func (c Cell) String() string { return fmt.Sprintf("(%d,%d)", c.X, c.Y) }

// Step returns the neighbouring cell in direction d.
func (c Cell) Step(d Direction) Cell {
	dx, dy := d.Delta()
	return Cell{X: c.X + dx, Y: c.Y + dy}
}

// Move is a cell plus the direction used to enter it.
type Move struct {
	Cell
	Dir Direction
}

// TimedMove is a move at a specific timestep.
type TimedMove struct {
	Move
	Time int
}

// NewTimedMove builds a timed move.
func NewTimedMove(x, y int, dir Direction, t int) TimedMove {
	return TimedMove{Move: Move{Cell: Cell{X: x, Y: y}, Dir: dir}, Time: t}
}

// Equal reports whether both moves happen at the same time in the same cell.
// Directions are compared only when neither side is NoDirection.
func (m TimedMove) Equal(o TimedMove) bool {
	if m.Time != o.Time || m.Cell != o.Cell {
		return false
	}
	if m.Dir == NoDirection || o.Dir == NoDirection {
		return true
	}
	return m.Dir == o.Dir
}

// Next returns the move that results from taking direction d.
func (m TimedMove) Next(d Direction) TimedMove {
	return TimedMove{Move: Move{Cell: m.Cell.Step(d), Dir: d}, Time: m.Time + 1}
}

// Source returns the cell the move started from.
func (m TimedMove) Source() Cell {
	if !m.Dir.IsMotion() {
		return m.Cell
	}
	return m.Cell.Step(m.Dir.Opposite())
}

// OppositeMove returns the move traversing the same edge in the other
// direction at the same time. It is located at this move's source cell.
func (m TimedMove) OppositeMove() TimedMove {
	if !m.Dir.IsMotion() {
		return m
	}
	return TimedMove{Move: Move{Cell: m.Source(), Dir: m.Dir.Opposite()}, Time: m.Time}
}

// IsColliding reports a vertex collision (same cell, same time) or an edge
// collision (the other move swaps cells with this one).
func (m TimedMove) IsColliding(o TimedMove) bool {
	if m.Time != o.Time {
		return false
	}
	if m.Cell == o.Cell {
		return true
	}
	if !m.Dir.IsMotion() || !o.Dir.IsMotion() {
		return false
	}
	opp := m.OppositeMove()
	return o.Cell == opp.Cell && o.Dir == opp.Dir
}

func (m TimedMove) String() string {
	return fmt.Sprintf("%v@%d[%v]", m.Cell, m.Time, m.Dir)
}
