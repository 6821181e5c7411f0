package core

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidMap is returned when a map description cannot be parsed.
var ErrInvalidMap = errors.New("invalid map")

// Grid is a rectangular occupancy map.
type Grid struct {
	Width, Height int
	// AllowDiagonal enables the four diagonal moves.
	AllowDiagonal bool
	blocked       []bool
}

// NewGrid creates an obstacle-free grid.
func NewGrid(width, height int) *Grid {
	return &Grid{
		Width:   width,
		Height:  height,
		blocked: make([]bool, width*height),
	}
}

// ParseGrid builds a grid from text rows. '.' and 'G' are free cells,
// '@', 'T', 'O' and '#' are obstacles.
func ParseGrid(rows []string) (*Grid, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: no rows", ErrInvalidMap)
	}
	width := len(rows[0])
	g := NewGrid(width, len(rows))
	for y, row := range rows {
		if len(row) != width {
			return nil, fmt.Errorf("%w: row %d has width %d, want %d", ErrInvalidMap, y, len(row), width)
		}
		for x, ch := range row {
			switch ch {
			case '.', 'G':
			case '@', 'T', 'O', '#':
				g.Block(x, y)
			default:
				return nil, fmt.Errorf("%w: unexpected %q at (%d,%d)", ErrInvalidMap, ch, x, y)
			}
		}
	}
	return g, nil
}

// Block marks a cell as an obstacle.
func (g *Grid) Block(x, y int) {
	if g.InBounds(x, y) {
		g.blocked[y*g.Width+x] = true
	}
}

// InBounds reports whether (x, y) lies on the grid.
func (g *Grid) InBounds(x, y int) bool {
	return x >= 0 && y >= 0 && x < g.Width && y < g.Height
}

// IsFree reports whether (x, y) is on the grid and not an obstacle.
func (g *Grid) IsFree(x, y int) bool {
	return g.InBounds(x, y) && !g.blocked[y*g.Width+x]
}

// Directions returns the actions allowed on this grid.
func (g *Grid) Directions() []Direction {
	return Directions(g.AllowDiagonal)
}

// Neighbors returns the free cells reachable from c in one non-wait move.
func (g *Grid) Neighbors(c Cell) []Cell {
	var out []Cell
	for _, d := range g.Directions() {
		if d == Wait {
			continue
		}
		n := c.Step(d)
		if g.IsFree(n.X, n.Y) {
			out = append(out, n)
		}
	}
	return out
}

// FreeCells counts traversable cells.
func (g *Grid) FreeCells() int {
	n := 0
	for _, b := range g.blocked {
		if !b {
			n++
		}
	}
	return n
}

func (g *Grid) index(c Cell) int { return c.Y*g.Width + c.X }

func (g *Grid) String() string {
	var sb strings.Builder
	for y := 0; y < g.Height; y++ {
		for x := 0; x < g.Width; x++ {
			if g.IsFree(x, y) {
				sb.WriteByte('.')
			} else {
				sb.WriteByte('@')
			}
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}
