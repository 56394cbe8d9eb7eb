package grid

import (
	"math"

	"glycopaint/internal/models"
)

// AssignTracks sets SquareNr on every track to the square whose half-open box contains it.
// The right and bottom edges of the whole field of view are treated as closed so that a
// track lying exactly on them still belongs to the last column or row.
// Tracks outside every square keep NoSquare; their number is returned.
func AssignTracks(n int, tracks []*models.Track) (unassigned int) {
	for _, t := range tracks {
		t.SquareNr = locate(n, t.X, t.Y)
		if t.SquareNr == models.NoSquare {
			unassigned++
		}
	}
	return unassigned
}

// GroupBySquare returns, for every square, the tracks assigned to it
func GroupBySquare(n int, tracks []*models.Track) [][]*models.Track {
	groups := make([][]*models.Track, n*n)
	for _, t := range tracks {
		if t.SquareNr >= 0 && t.SquareNr < len(groups) {
			groups[t.SquareNr] = append(groups[t.SquareNr], t)
		}
	}
	return groups
}

func locate(n int, x, y float64) int {
	col, ok := axisIndex(n, x)
	if !ok {
		return models.NoSquare
	}
	row, ok := axisIndex(n, y)
	if !ok {
		return models.NoSquare
	}
	return row*n + col
}

// axisIndex finds the cell along one axis whose interval holds v. The candidate from
// division is checked against the same edges SquareBounds produces, and its neighbours are
// tried when floating point rounding puts v on the other side of a boundary.
func axisIndex(n int, v float64) (int, bool) {
	if math.IsNaN(v) || v < 0 || v > FOVSize {
		return 0, false
	}
	edge := FOVSize / float64(n)
	guess := int(v / edge)
	for _, i := range []int{guess, guess - 1, guess + 1} {
		if i < 0 || i >= n {
			continue
		}
		lo := float64(i) * edge
		hi := float64(i+1) * edge
		if v >= lo && v < hi {
			return i, true
		}
		if i == n-1 && v == hi {
			return i, true
		}
	}
	if v == FOVSize {
		return n - 1, true
	}
	return 0, false
}
