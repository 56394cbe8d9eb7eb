// Package heatmap renders a square metric of one recording as a colour-coded image of
// its grid.
package heatmap

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"

	"gonum.org/v1/plot/palette/moreland"

	"glycopaint/internal/models"
)

// Levels is the number of colours a heatmap uses
const Levels = 20

// Mode selects the square metric shown in a heatmap
type Mode int

const (
	Tau Mode = iota + 1
	Density
	DiffusionCoefficient
	MaxTrackDuration
	TotalTrackDuration
)

var modeNames = map[Mode]string{
	Tau:                  "Tau",
	Density:              "Density",
	DiffusionCoefficient: "Diffusion Coefficient",
	MaxTrackDuration:     "Max Track Duration",
	TotalTrackDuration:   "Total Track Duration",
}

func (m Mode) String() string {
	if name, ok := modeNames[m]; ok {
		return name
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// ParseMode accepts the column name of a metric
func ParseMode(s string) (Mode, error) {
	for m, name := range modeNames {
		if name == s {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown heatmap mode %q", s)
}

func (m Mode) MarshalText() ([]byte, error) {
	if _, ok := modeNames[m]; !ok {
		return nil, fmt.Errorf("unknown heatmap mode %d", int(m))
	}
	return []byte(m.String()), nil
}

func (m *Mode) UnmarshalText(text []byte) error {
	parsed, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

func (m Mode) value(sq *models.Square) float64 {
	if sq.NrTracks == 0 {
		return math.NaN()
	}
	switch m {
	case Tau:
		if sq.Tau <= 0 {
			return math.NaN()
		}
		return sq.Tau
	case Density:
		return sq.Density
	case DiffusionCoefficient:
		return sq.DiffusionCoefficient
	case MaxTrackDuration:
		return sq.MaxTrackDuration
	case TotalTrackDuration:
		return sq.TotalTrackDuration
	}
	return math.NaN()
}

// Heatmap holds one metric value per square of an n×n grid. Squares without a usable
// value hold NaN.
type Heatmap struct {
	mode   Mode
	n      int
	values []float64

	min, max float64
}

// New builds the heatmap of squares, which must be the n² squares of one recording
func New(squares []*models.Square, n int, mode Mode) (*Heatmap, error) {
	if _, ok := modeNames[mode]; !ok {
		return nil, fmt.Errorf("unknown heatmap mode %d", int(mode))
	}
	if len(squares) != n*n {
		return nil, fmt.Errorf("expected %d squares, got %d", n*n, len(squares))
	}

	h := &Heatmap{mode: mode, n: n, values: make([]float64, n*n)}
	for _, sq := range squares {
		h.values[sq.Row*n+sq.Col] = mode.value(sq)
	}
	h.min, h.max = Range(h.values)
	return h, nil
}

// Range returns the smallest and largest non-NaN value, with the minimum clamped at zero
func Range(values []float64) (lo, hi float64) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, v := range values {
		if math.IsNaN(v) {
			continue
		}
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if math.IsInf(lo, 1) {
		return 0, 0
	}
	return math.Max(lo, 0), hi
}

// Range returns the value range the colours are scaled to
func (h *Heatmap) Range() (lo, hi float64) {
	return h.min, h.max
}

// Value returns the metric of the square at row, col
func (h *Heatmap) Value(row, col int) float64 {
	return h.values[row*h.n+col]
}

// ColorIndex maps value onto 0..levels-1 relative to [lo, hi]
func ColorIndex(value, lo, hi float64, levels int) int {
	if hi == lo {
		return 0
	}
	i := int((math.Max(value, 0) - lo) / (hi - lo) * float64(levels-1))
	return min(max(i, 0), levels-1)
}

// Render draws every square as a block of cellPixels×cellPixels. Squares without a value
// are drawn in light grey.
func (h *Heatmap) Render(cellPixels int) (image.Image, error) {
	if cellPixels <= 0 {
		return nil, fmt.Errorf("cell size must be positive, got %d", cellPixels)
	}

	cm := moreland.SmoothBlueRed()
	cm.SetMax(1)
	cm.SetMin(0)
	colors := cm.Palette(Levels).Colors()
	empty := color.RGBA{R: 230, G: 230, B: 230, A: 255}

	size := h.n * cellPixels
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	for row := 0; row < h.n; row++ {
		for col := 0; col < h.n; col++ {
			var c color.Color = empty
			if v := h.Value(row, col); !math.IsNaN(v) {
				c = colors[ColorIndex(v, h.min, h.max, len(colors))]
			}
			for y := row * cellPixels; y < (row+1)*cellPixels; y++ {
				for x := col * cellPixels; x < (col+1)*cellPixels; x++ {
					img.Set(x, y, c)
				}
			}
		}
	}
	return img, nil
}

// Encode renders the heatmap and writes it as PNG
func (h *Heatmap) Encode(w io.Writer, cellPixels int) error {
	img, err := h.Render(cellPixels)
	if err != nil {
		return err
	}
	return png.Encode(w, img)
}
