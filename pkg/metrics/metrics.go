// Package metrics computes the per-square summaries of a recording: track counts and
// durations, a density figure normalised for concentration, a spatial variability score and
// the density ratio of every square against the background of its recording.
package metrics

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"glycopaint/internal/models"
	"glycopaint/pkg/grid"
)

// Density normalisation. A recording is assumed to last 2000 frames (100 s), and the result
// is scaled by 1000 to get readable numbers.
const (
	ExposureTime  = 100.0
	Magnification = 1000.0
)

// NoBackgroundRatio is the density ratio given to every square of a recording without any
// non-empty square to estimate the background from.
const NoBackgroundRatio = 999.9

// Options controls the computation of square metrics
type Options struct {
	// LongTrackFraction is the fraction of longest tracks averaged into the
	// Average Long Track Duration
	LongTrackFraction float64

	// Granularity is the number of sub-grid cells per side used for Variability
	Granularity int
}

// DefaultOptions returns the options used when nothing is configured
func DefaultOptions() Options {
	return Options{LongTrackFraction: 0.1, Granularity: 10}
}

// ComputeSquare fills the track based metrics of sq from the tracks assigned to it.
// Tau and R Squared are left to the caller. Empty squares get zero metrics.
func ComputeSquare(sq *models.Square, tracks []*models.Track, n int, concentration float64, opt Options) {
	sq.NrTracks = len(tracks)
	if len(tracks) == 0 {
		sq.TotalTrackDuration = 0
		sq.MaxTrackDuration = 0
		sq.AverageLongTrackDuration = 0
		sq.DiffusionCoefficient = 0
		sq.Density = 0
		sq.Variability = 0
		sq.Tau = -1
		sq.RSquared = 0
		return
	}

	durations := Durations(tracks)
	dcs := make([]float64, len(tracks))
	for i, t := range tracks {
		dcs[i] = t.DiffusionCoefficient
	}

	sq.TotalTrackDuration = Round(floats.Sum(durations), 1)
	sq.MaxTrackDuration = Round(floats.Max(durations), 1)
	sq.AverageLongTrackDuration = Round(AverageLongTrack(durations, opt.LongTrackFraction), 1)
	sq.DiffusionCoefficient = Round(stat.Mean(dcs, nil), 0)
	sq.Density = Density(len(tracks), grid.SquareArea(n), concentration)
	sq.Variability = Round(Variability(tracks, grid.Bounds{X0: sq.X0, Y0: sq.Y0, X1: sq.X1, Y1: sq.Y1}, opt.Granularity), 2)
}

// Durations returns the track durations in the order of tracks
func Durations(tracks []*models.Track) []float64 {
	d := make([]float64, len(tracks))
	for i, t := range tracks {
		d[i] = t.Duration
	}
	return d
}

// AverageLongTrack returns the mean of the longest max(round(fraction*n), 1) durations
func AverageLongTrack(durations []float64, fraction float64) float64 {
	if len(durations) == 0 {
		return 0
	}
	sorted := append([]float64(nil), durations...)
	sort.Float64s(sorted)

	k := int(math.RoundToEven(fraction * float64(len(sorted))))
	k = max(k, 1)
	k = min(k, len(sorted))
	return stat.Mean(sorted[len(sorted)-k:], nil)
}

// Density returns nrTracks / area / ExposureTime / concentration * Magnification rounded to
// one decimal. A zero concentration yields 0.
func Density(nrTracks int, area, concentration float64) float64 {
	if area == 0 || concentration == 0 {
		return 0
	}
	d := float64(nrTracks) / area
	d /= ExposureTime
	d /= concentration
	d *= Magnification
	return Round(d, 1)
}

// RecordingDensity is the density of a pool of tracks from one recording. Like the square
// density it is normalised by the area of a single square.
func RecordingDensity(nrTracks, n int, concentration float64) float64 {
	return Density(nrTracks, grid.SquareArea(n), concentration)
}

// Variability overlays a granularity×granularity grid on the square bounded by b, counts the
// tracks in every cell and returns the coefficient of variation of the counts.
func Variability(tracks []*models.Track, b grid.Bounds, granularity int) float64 {
	if granularity <= 0 || len(tracks) == 0 {
		return 0
	}
	width := b.X1 - b.X0
	height := b.Y1 - b.Y0
	counts := make([]float64, granularity*granularity)
	for _, t := range tracks {
		xi := subIndex((t.X-b.X0)/width, granularity)
		yi := subIndex((t.Y-b.Y0)/height, granularity)
		counts[yi*granularity+xi]++
	}

	mean, std := stat.PopMeanStdDev(counts, nil)
	if mean == 0 {
		return 0
	}
	return std / mean
}

func subIndex(frac float64, granularity int) int {
	i := int(frac * float64(granularity))
	return min(max(i, 0), granularity-1)
}

// ApplyDensityRatios sets DensityRatio on every square. The background is the average track
// count of the int(fraction*n²) least populated non-empty squares, at least one square.
func ApplyDensityRatios(squares []*models.Square, fraction float64, n int) {
	background := BackgroundTracks(squares, int(fraction*float64(n*n)))
	for _, sq := range squares {
		if background == 0 {
			sq.DensityRatio = NoBackgroundRatio
		} else {
			sq.DensityRatio = Round(float64(sq.NrTracks)/background, 1)
		}
	}
}

// BackgroundTracks returns the average track count of the count lowest non-empty squares
func BackgroundTracks(squares []*models.Square, count int) float64 {
	var counts []float64
	for _, sq := range squares {
		if sq.NrTracks > 0 {
			counts = append(counts, float64(sq.NrTracks))
		}
	}
	if len(counts) == 0 {
		return 0
	}
	sort.Float64s(counts)
	count = min(max(count, 1), len(counts))
	return stat.Mean(counts[:count], nil)
}

// Round rounds x to the given number of decimal places
func Round(x float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(x*p) / p
}
