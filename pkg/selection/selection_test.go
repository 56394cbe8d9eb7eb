package selection

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"glycopaint/internal/models"
)

var looseCriteria = Criteria{
	MinDensityRatio:  2,
	MaxVariability:   10,
	MinTrackDuration: 0,
	MaxTrackDuration: 1000000,
	MinRSquared:      0.9,
}

func passing() *models.Square {
	return &models.Square{DensityRatio: 5, Variability: 1, MaxTrackDuration: 3, RSquared: 0.95, Tau: 200}
}

// gridOf builds an n×n recording where the squares marked with 1 pass the criteria
func gridOf(n int, pattern []int) []*models.Square {
	squares := make([]*models.Square, n*n)
	for i := range squares {
		if pattern[i] == 1 {
			squares[i] = passing()
		} else {
			squares[i] = &models.Square{Tau: -1}
		}
		squares[i].SquareNr = i
		squares[i].Row, squares[i].Col = i/n, i%n
	}
	return squares
}

func TestPasses(t *testing.T) {
	tests := []struct {
		name   string
		modify func(sq *models.Square)
		strict bool
		want   bool
	}{
		{"all thresholds met", func(sq *models.Square) {}, true, true},
		{"density ratio on the limit", func(sq *models.Square) { sq.DensityRatio = 2 }, true, true},
		{"density ratio too low", func(sq *models.Square) { sq.DensityRatio = 1.9 }, true, false},
		{"variability too high", func(sq *models.Square) { sq.Variability = 10.1 }, true, false},
		{"track too long", func(sq *models.Square) { sq.MaxTrackDuration = 1000001 }, true, false},
		{"r squared too low", func(sq *models.Square) { sq.RSquared = 0.89 }, true, false},
		{"invalid tau in strict mode", func(sq *models.Square) { sq.Tau = -3 }, true, false},
		{"invalid tau in relaxed mode", func(sq *models.Square) { sq.Tau = -3 }, false, true},
		{"manually excluded", func(sq *models.Square) { sq.ManuallyExcluded = true }, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sq := passing()
			tt.modify(sq)
			assert.Equal(t, tt.want, looseCriteria.Passes(sq, tt.strict))
		})
	}
}

func TestEvaluateFree(t *testing.T) {
	squares := gridOf(3, []int{
		1, 0, 0,
		0, 0, 0,
		0, 0, 1,
	})
	got, err := Evaluate(squares, looseCriteria, 3, true)
	require.NoError(t, err)
	want := []bool{true, false, false, false, false, false, false, false, true}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("selection mismatch (-want +got):\n%s", diff)
	}
	for _, sq := range squares {
		assert.False(t, sq.Selected, "Evaluate must not modify squares")
	}
}

func TestSelectStrictPrunesIsolatedSquares(t *testing.T) {
	c := looseCriteria
	c.NeighbourMode = Strict
	squares := gridOf(4, []int{
		1, 1, 0, 0,
		0, 0, 0, 1,
		0, 0, 1, 0,
		1, 0, 0, 0,
	})
	require.NoError(t, Select(squares, c, 4, true))

	var got []int
	for _, sq := range squares {
		if sq.Selected {
			got = append(got, sq.SquareNr)
		}
	}
	// 7 and 10 only touch diagonally, 12 sits alone in the corner
	if diff := cmp.Diff([]int{0, 1}, got); diff != "" {
		t.Errorf("selected squares mismatch (-want +got):\n%s", diff)
	}
}

func TestSelectRelaxedKeepsDiagonals(t *testing.T) {
	c := looseCriteria
	c.NeighbourMode = Relaxed
	squares := gridOf(4, []int{
		1, 1, 0, 0,
		0, 0, 0, 1,
		0, 0, 1, 0,
		1, 0, 0, 0,
	})
	require.NoError(t, Select(squares, c, 4, true))

	var got []int
	for _, sq := range squares {
		if sq.Selected {
			got = append(got, sq.SquareNr)
		}
	}
	if diff := cmp.Diff([]int{0, 1, 7, 10}, got); diff != "" {
		t.Errorf("selected squares mismatch (-want +got):\n%s", diff)
	}
}

func TestPruningKeepsMutuallySupportingSquares(t *testing.T) {
	c := looseCriteria
	c.NeighbourMode = Strict
	squares := gridOf(3, []int{
		0, 1, 1,
		0, 0, 1,
		1, 0, 0,
	})
	got, err := Evaluate(squares, c, 3, true)
	require.NoError(t, err)
	assert.Equal(t, []bool{false, true, true, false, false, true, false, false, false}, got)

	// Squares failing the thresholds never support a neighbour
	squares = gridOf(3, []int{
		1, 0, 0,
		0, 0, 0,
		0, 0, 0,
	})
	squares[1].DensityRatio = 100
	got, err = Evaluate(squares, c, 3, true)
	require.NoError(t, err)
	assert.Equal(t, make([]bool, 9), got)
}

func TestSingleSquareGrid(t *testing.T) {
	for _, tt := range []struct {
		mode NeighbourMode
		want bool
	}{
		{Free, true},
		{Strict, true},
		{Relaxed, false},
	} {
		t.Run(tt.mode.String(), func(t *testing.T) {
			c := looseCriteria
			c.NeighbourMode = tt.mode
			got, err := Evaluate(gridOf(1, []int{1}), c, 1, true)
			require.NoError(t, err)
			assert.Equal(t, []bool{tt.want}, got)
		})
	}

	c := looseCriteria
	c.NeighbourMode = Strict
	got, err := Evaluate(gridOf(1, []int{0}), c, 1, true)
	require.NoError(t, err)
	assert.Equal(t, []bool{false}, got)
}

func TestEvaluateErrors(t *testing.T) {
	c := looseCriteria
	c.NeighbourMode = NeighbourMode(7)
	_, err := Evaluate(gridOf(2, []int{1, 1, 1, 1}), c, 2, true)
	assert.True(t, errors.Is(err, ErrUnknownNeighbourMode))

	_, err = Evaluate(gridOf(2, []int{1, 1, 1, 1}), looseCriteria, 3, true)
	assert.Error(t, err)
}

func TestParseNeighbourMode(t *testing.T) {
	for _, name := range []string{"Free", "Strict", "Relaxed"} {
		m, err := ParseNeighbourMode(name)
		require.NoError(t, err)
		assert.Equal(t, name, m.String())
	}

	_, err := ParseNeighbourMode("strict")
	assert.ErrorIs(t, err, ErrUnknownNeighbourMode)

	var m NeighbourMode
	require.NoError(t, m.UnmarshalText([]byte("Relaxed")))
	assert.Equal(t, Relaxed, m)
	text, err := m.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "Relaxed", string(text))
}
