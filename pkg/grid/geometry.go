// Package grid maps the field of view of a recording onto an N×N grid of squares
// and assigns tracks to the square containing them.
package grid

import "glycopaint/internal/models"

// Calibration of the microscope image. These are shared, read-only values.
const (
	// FOVSize is the edge length of the field of view in microns
	FOVSize = 82.0864

	// MicronsPerPixel is the pixel size reported by Fiji
	MicronsPerPixel = 0.1602804

	// ImagePixels is the edge length of a recording in pixels
	ImagePixels = 512
)

// Bounds is the bounding box of a square in microns
type Bounds struct {
	X0, Y0, X1, Y1 float64
}

// Contains reports whether (x, y) lies in the half-open box [X0,X1) × [Y0,Y1)
func (b Bounds) Contains(x, y float64) bool {
	return x >= b.X0 && x < b.X1 && y >= b.Y0 && y < b.Y1
}

// RowCol returns the 0-based row and column of square s in a grid with n squares per row
func RowCol(s, n int) (row, col int) {
	return s / n, s % n
}

// SquareBounds returns the bounding box of square s in a grid with n squares per row
func SquareBounds(n, s int) Bounds {
	edge := FOVSize / float64(n)
	row, col := RowCol(s, n)
	// The far edge is computed as a multiple of edge so that neighbouring squares share it exactly.
	return Bounds{
		X0: float64(col) * edge,
		Y0: float64(row) * edge,
		X1: float64(col+1) * edge,
		Y1: float64(row+1) * edge,
	}
}

// SquareArea returns the area of one square in square microns
func SquareArea(n int) float64 {
	side := MicronsPerPixel * ImagePixels / float64(n)
	return side * side
}

// NewSquares creates the n² squares of a grid in row-major order with their geometry filled in
func NewSquares(n int) []*models.Square {
	squares := make([]*models.Square, n*n)
	for s := range squares {
		row, col := RowCol(s, n)
		b := SquareBounds(n, s)
		squares[s] = &models.Square{
			SquareNr: s,
			Row:      row,
			Col:      col,
			X0:       b.X0,
			Y0:       b.Y0,
			X1:       b.X1,
			Y1:       b.Y1,
			Tau:      -1,
		}
	}
	return squares
}
