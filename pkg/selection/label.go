package selection

import (
	"sort"

	"glycopaint/internal/models"
)

// Label numbers the selected squares 1..k by descending track count, ties broken by square
// number, and clears the label of every other square. Tracks receive the label of the
// square they are assigned to. Labels are always derived from scratch.
func Label(squares []*models.Square, tracks []*models.Track) {
	order := make([]*models.Square, len(squares))
	copy(order, squares)
	sort.SliceStable(order, func(i, j int) bool {
		if order[i].NrTracks != order[j].NrTracks {
			return order[i].NrTracks > order[j].NrTracks
		}
		return order[i].SquareNr < order[j].SquareNr
	})

	labels := make(map[int]int, len(squares))
	next := 1
	for _, sq := range order {
		if !sq.Selected {
			sq.LabelNr = models.NoLabel
			continue
		}
		sq.LabelNr = next
		labels[sq.SquareNr] = next
		next++
	}

	for _, t := range tracks {
		t.LabelNr = labels[t.SquareNr]
	}
}
