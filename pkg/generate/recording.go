package generate

import (
	"context"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"glycopaint/internal/models"
	"glycopaint/pkg/curvefit"
	"glycopaint/pkg/grid"
	"glycopaint/pkg/heatmap"
	"glycopaint/pkg/metrics"
	"glycopaint/pkg/selection"
	"glycopaint/pkg/tables"
)

// processRecording generates the squares of one recording from its tracks. The recording and
// its tracks are updated in place; nothing is shared with other recordings. annotations is
// only read.
func (g *Generator) processRecording(ctx context.Context, dir string, rec *models.Recording, tracks []*models.Track, annotations map[string]tables.Annotation) (*models.RecordingResult, error) {
	n := g.params.NrOfSquaresInRow
	log := g.logger.With(zap.String("recording", rec.ExtName))

	if unassigned := grid.AssignTracks(n, tracks); unassigned > 0 {
		log.Warn("Tracks outside the field of view", zap.Int("unassigned", unassigned), zap.Int("tracks", len(tracks)))
	}
	groups := grid.GroupBySquare(n, tracks)

	squares := grid.NewSquares(n)
	for _, sq := range squares {
		a, ok := annotations[tables.SquareKey(rec.ExtName, sq.SquareNr)]
		if !ok {
			continue
		}
		if !a.Matches(sq) {
			log.Warn("Grid changed, manual annotation dropped", zap.Int("square", sq.SquareNr))
			continue
		}
		sq.ManuallyExcluded = a.ManuallyExcluded
		sq.CellID = a.CellID
	}
	for i, sq := range squares {
		metrics.ComputeSquare(sq, groups[i], n, rec.Concentration, g.params.Squares)
		if len(groups[i]) == 0 {
			continue
		}
		res := g.fit(ctx, groups[i])
		sq.Tau = metrics.Round(res.TauValue(), 0)
		sq.RSquared = metrics.Round(res.RSquared, 2)
	}
	// a cancelled context turns every remaining fit into a failure; do not report those
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	metrics.ApplyDensityRatios(squares, g.params.BackgroundFraction, n)
	if err := selection.Select(squares, g.params.Criteria, n, true); err != nil {
		return nil, fmt.Errorf("select squares: %w", err)
	}
	selection.Label(squares, tracks)

	res := &models.RecordingResult{Recording: rec, Squares: squares, Tracks: tracks}
	if err := g.aggregateRecording(ctx, dir, res, groups); err != nil {
		return nil, err
	}

	if g.params.SaveHeatmaps {
		if err := g.writeHeatmap(dir, res); err != nil {
			log.Warn("Failed to write heatmap", zap.Error(err))
		}
	}

	rec.Processed = true
	log.Info("Recording processed",
		zap.Int("tracks", len(tracks)),
		zap.Int("selected", res.NrSelected()),
		zap.Float64("tau", rec.Tau),
		zap.Float64("density", rec.Density),
		zap.Float64("rSquared", rec.RSquared))
	return res, nil
}

// aggregateRecording fits one Tau for the whole recording. The tracks of every square that
// passes the thresholds, valid square Tau or not, are pooled. The Selected flags of the
// squares are not changed.
func (g *Generator) aggregateRecording(ctx context.Context, dir string, res *models.RecordingResult, groups [][]*models.Track) error {
	rec := res.Recording
	n := g.params.NrOfSquaresInRow

	eligible, err := selection.Evaluate(res.Squares, g.params.Criteria, n, false)
	if err != nil {
		return fmt.Errorf("select squares for recording tau: %w", err)
	}
	var pooled []*models.Track
	for i, ok := range eligible {
		if ok {
			pooled = append(pooled, groups[i]...)
		}
	}

	durations := g.fitDurations(pooled)
	fr := g.params.Fitter.Fit(ctx, durations, g.params.MinTracksForTau, g.params.Criteria.MinRSquared)
	if err := ctx.Err(); err != nil {
		return err
	}
	rec.Tau = metrics.Round(fr.TauValue(), 0)
	rec.RSquared = metrics.Round(fr.RSquared, 3)
	rec.Density = metrics.RecordingDensity(len(pooled), n, rec.Concentration)

	if fr.Status != curvefit.OK {
		fields := []zap.Field{
			zap.String("recording", rec.ExtName),
			zap.Stringer("status", fr.Status),
			zap.Int("pooledTracks", len(durations)),
		}
		if fr.Err != nil {
			fields = append(fields, zap.Error(fr.Err))
		}
		g.logger.Warn("No usable recording tau", fields...)
	}

	if g.params.PlotToFile && len(durations) > 0 {
		if err := g.writePlot(dir, rec.ExtName, durations, fr); err != nil {
			g.logger.Warn("Failed to write duration plot", zap.String("recording", rec.ExtName), zap.Error(err))
		}
	}
	return nil
}

func (g *Generator) fit(ctx context.Context, tracks []*models.Track) curvefit.Result {
	return g.params.Fitter.Fit(ctx, g.fitDurations(tracks), g.params.MinTracksForTau, g.params.Criteria.MinRSquared)
}

// fitDurations returns the durations the Tau fits use. With ExcludeZeroDCTracks only tracks
// with a positive diffusion coefficient count.
func (g *Generator) fitDurations(tracks []*models.Track) []float64 {
	if !g.params.ExcludeZeroDCTracks {
		return metrics.Durations(tracks)
	}
	d := make([]float64, 0, len(tracks))
	for _, t := range tracks {
		if t.DiffusionCoefficient > 0 {
			d = append(d, t.Duration)
		}
	}
	return d
}

func (g *Generator) writePlot(dir, recording string, durations []float64, fr curvefit.Result) error {
	plotDir := filepath.Join(dir, "Plot")
	if err := g.fsys.MkdirAll(plotDir, 0755); err != nil {
		return fmt.Errorf("create plot directory: %w", err)
	}
	w, err := g.fsys.Create(filepath.Join(plotDir, recording+".png"))
	if err != nil {
		return err
	}
	if err := curvefit.WritePlot(w, durations, fr, recording, g.params.PlotMax); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

func (g *Generator) writeHeatmap(dir string, res *models.RecordingResult) error {
	n := g.params.NrOfSquaresInRow
	h, err := heatmap.New(res.Squares, n, g.params.HeatmapMode)
	if err != nil {
		return err
	}

	heatmapDir := filepath.Join(dir, "Heatmaps")
	if err := g.fsys.MkdirAll(heatmapDir, 0755); err != nil {
		return fmt.Errorf("create heatmap directory: %w", err)
	}
	name := fmt.Sprintf("%s - %s.png", res.Recording.ExtName, g.params.HeatmapMode)
	w, err := g.fsys.Create(filepath.Join(heatmapDir, name))
	if err != nil {
		return err
	}
	if err := h.Encode(w, max(grid.ImagePixels/n, 1)); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}
