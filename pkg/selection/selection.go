// Package selection decides which squares of a recording are active and assigns their
// display labels.
package selection

import (
	"errors"
	"fmt"

	"glycopaint/internal/models"
)

// ErrUnknownNeighbourMode is returned for a neighbour mode other than Free, Strict or Relaxed
var ErrUnknownNeighbourMode = errors.New("unknown neighbour mode")

// NeighbourMode controls how selected squares without selected neighbours are pruned
type NeighbourMode int

const (
	// Free keeps every square that passes the thresholds
	Free NeighbourMode = iota
	// Strict requires a selected square above, below, left or right
	Strict
	// Relaxed also accepts a selected diagonal neighbour
	Relaxed
)

func (m NeighbourMode) String() string {
	switch m {
	case Free:
		return "Free"
	case Strict:
		return "Strict"
	case Relaxed:
		return "Relaxed"
	}
	return fmt.Sprintf("NeighbourMode(%d)", int(m))
}

// ParseNeighbourMode converts the configured name of a neighbour mode
func ParseNeighbourMode(s string) (NeighbourMode, error) {
	switch s {
	case "Free":
		return Free, nil
	case "Strict":
		return Strict, nil
	case "Relaxed":
		return Relaxed, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownNeighbourMode, s)
}

// MarshalText implements encoding.TextMarshaler
func (m NeighbourMode) MarshalText() ([]byte, error) {
	if m < Free || m > Relaxed {
		return nil, fmt.Errorf("%w: %d", ErrUnknownNeighbourMode, int(m))
	}
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (m *NeighbourMode) UnmarshalText(text []byte) error {
	mode, err := ParseNeighbourMode(string(text))
	if err != nil {
		return err
	}
	*m = mode
	return nil
}

// Criteria are the thresholds a square has to meet to be selected
type Criteria struct {
	MinDensityRatio  float64
	MaxVariability   float64
	MinTrackDuration float64
	MaxTrackDuration float64
	MinRSquared      float64
	NeighbourMode    NeighbourMode
}

// Passes reports whether sq meets the thresholds. With requireValidTau the square must
// also carry a positive Tau.
func (c Criteria) Passes(sq *models.Square, requireValidTau bool) bool {
	if sq.ManuallyExcluded {
		return false
	}
	ok := sq.DensityRatio >= c.MinDensityRatio &&
		sq.Variability <= c.MaxVariability &&
		sq.MaxTrackDuration >= c.MinTrackDuration &&
		sq.MaxTrackDuration <= c.MaxTrackDuration &&
		sq.RSquared >= c.MinRSquared
	if requireValidTau {
		ok = ok && sq.Tau > 0
	}
	return ok
}

// Evaluate returns the selection state of every square without modifying them. squares
// must hold the n² squares of one recording indexed by square number.
//
// Neighbour pruning is a single pass in row-major order that reads the selection as it is
// being updated, so a square cleared earlier in the pass no longer supports its neighbours.
func Evaluate(squares []*models.Square, c Criteria, n int, requireValidTau bool) ([]bool, error) {
	if len(squares) != n*n {
		return nil, fmt.Errorf("expected %d squares for a %dx%d grid, got %d", n*n, n, n, len(squares))
	}

	selected := make([]bool, len(squares))
	for i, sq := range squares {
		selected[i] = c.Passes(sq, requireValidTau)
	}

	var offsets [][2]int
	switch c.NeighbourMode {
	case Free:
		return selected, nil
	case Strict:
		// the only square of a 1×1 grid counts as its own strict neighbour
		if n == 1 {
			return selected, nil
		}
		offsets = strictOffsets
	case Relaxed:
		offsets = relaxedOffsets
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownNeighbourMode, int(c.NeighbourMode))
	}

	for row := 0; row < n; row++ {
		for col := 0; col < n; col++ {
			s := row*n + col
			if !selected[s] {
				continue
			}
			selected[s] = hasSelectedNeighbour(selected, n, row, col, offsets)
		}
	}
	return selected, nil
}

// Select evaluates the squares and stores the outcome in their Selected field
func Select(squares []*models.Square, c Criteria, n int, requireValidTau bool) error {
	selected, err := Evaluate(squares, c, n, requireValidTau)
	if err != nil {
		return err
	}
	for i, sq := range squares {
		sq.Selected = selected[i]
	}
	return nil
}

var strictOffsets = [][2]int{{-1, 0}, {1, 0}, {0, -1}, {0, 1}}

var relaxedOffsets = [][2]int{
	{-1, -1}, {-1, 0}, {-1, 1},
	{0, -1}, {0, 1},
	{1, -1}, {1, 0}, {1, 1},
}

func hasSelectedNeighbour(selected []bool, n, row, col int, offsets [][2]int) bool {
	for _, o := range offsets {
		r, c := row+o[0], col+o[1]
		if r < 0 || r >= n || c < 0 || c >= n {
			continue
		}
		if selected[r*n+c] {
			return true
		}
	}
	return false
}
