// Package generate runs square generation over experiments and projects.
//
// An experiment is a directory holding "All Recordings.csv" and "All Tracks.csv". For every
// recording marked for processing the generator:
//  1. lays the N×N grid over the field of view and assigns the tracks to squares
//  2. computes the square metrics and fits a Tau per square
//  3. derives density ratios against the background squares
//  4. selects squares by threshold and neighbour rules and labels them
//  5. fits one Tau for the whole recording from the tracks of the eligible squares
//
// and then writes "All Tracks.csv", "All Recordings.csv" and "All Squares.csv" back into the
// experiment directory. A project is a directory of experiments.
package generate

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"glycopaint/internal/fsutil"
	"glycopaint/internal/models"
	"glycopaint/pkg/config"
	"glycopaint/pkg/curvefit"
	"glycopaint/pkg/heatmap"
	"glycopaint/pkg/metrics"
	"glycopaint/pkg/selection"
	"glycopaint/pkg/tables"
)

// Names of the tables read and written in every experiment directory
const (
	RecordingsFile = "All Recordings.csv"
	TracksFile     = "All Tracks.csv"
	SquaresFile    = "All Squares.csv"
)

// Params holds the square generation parameters
type Params struct {
	// NrOfSquaresInRow is the grid resolution N
	NrOfSquaresInRow int `yaml:"nrOfSquaresInRow"`

	// MinTracksForTau is the number of tracks below which no Tau is fitted
	MinTracksForTau int `yaml:"minTracksForTau"`

	// Criteria are the selection thresholds and the neighbour mode
	Criteria selection.Criteria `yaml:"criteria"`

	// Squares configures the square metrics
	Squares metrics.Options `yaml:"squares"`

	// BackgroundFraction is the fraction of squares that estimate the background
	BackgroundFraction float64 `yaml:"backgroundFraction"`

	// ExcludeZeroDCTracks leaves tracks without diffusion out of every fit
	ExcludeZeroDCTracks bool `yaml:"excludeZeroDCTracks"`

	Fitter curvefit.Fitter `yaml:"fitter"`

	// PlotToFile writes the recording fit to <experiment>/Plot/<recording>.png
	PlotToFile bool    `yaml:"plotToFile"`
	PlotMax    float64 `yaml:"plotMax"`

	// SaveHeatmaps writes <experiment>/Heatmaps/<recording> - <mode>.png
	SaveHeatmaps bool         `yaml:"saveHeatmaps"`
	HeatmapMode  heatmap.Mode `yaml:"heatmapMode"`

	// Workers is the number of recordings processed in parallel
	Workers int `yaml:"workers"`

	// Force reprocesses experiments whose outputs are up to date
	Force bool `yaml:"force"`
}

// ParamsFromConfig converts a validated configuration
func ParamsFromConfig(cfg *config.Config) (Params, error) {
	criteria, err := cfg.Criteria()
	if err != nil {
		return Params{}, err
	}
	mode, err := heatmap.ParseMode(cfg.Output.HeatmapMode)
	if err != nil {
		return Params{}, err
	}
	gs := cfg.GenerateSquares
	return Params{
		NrOfSquaresInRow:    gs.NrOfSquaresInRow,
		MinTracksForTau:     gs.MinTracksForTau,
		Criteria:            criteria,
		Squares:             cfg.SquareOptions(),
		BackgroundFraction:  gs.BackgroundFraction,
		ExcludeZeroDCTracks: gs.ExcludeZeroDCTracks,
		Fitter:              cfg.Fitter(),
		PlotToFile:          gs.PlotToFile,
		PlotMax:             gs.PlotMax,
		SaveHeatmaps:        cfg.Output.SaveHeatmaps,
		HeatmapMode:         mode,
		Workers:             cfg.Processing.Workers,
		Force:               cfg.Processing.Force,
	}, nil
}

// analysis returns the parameters written next to every processed recording
func (p Params) analysis() tables.Analysis {
	return tables.Analysis{
		MinTracksForTau:  p.MinTracksForTau,
		MinRSquared:      p.Criteria.MinRSquared,
		NrOfSquaresInRow: p.NrOfSquaresInRow,
		MaxVariability:   p.Criteria.MaxVariability,
		MinDensityRatio:  p.Criteria.MinDensityRatio,
		NeighbourMode:    p.Criteria.NeighbourMode.String(),
	}
}

// Recorder receives the outcome of every run, typically a *store.Store
type Recorder interface {
	BeginRun(ctx context.Context, root, params string) (string, error)
	RecordRecording(ctx context.Context, runID, experiment string, res *models.RecordingResult) error
	FinishRun(ctx context.Context, runID string, processed int, runErr error) error
}

// Summary reports the outcome of a run
type Summary struct {
	Experiments []ExperimentSummary

	Processed  int
	Skipped    int
	Failed     int
	Recordings int
	Elapsed    time.Duration
}

func (s *Summary) add(es ExperimentSummary, err error) {
	s.Experiments = append(s.Experiments, es)
	switch {
	case err != nil:
		s.Failed++
	case es.Skipped:
		s.Skipped++
	default:
		s.Processed++
	}
	s.Recordings += es.Processed
}

// ExperimentSummary reports the outcome of one experiment
type ExperimentSummary struct {
	Name    string
	Skipped bool

	// Recordings is the number of recordings in the recordings table
	Recordings int

	// Processed and Failed count the recordings marked for processing
	Processed int
	Failed    int

	Elapsed time.Duration
}

// Generator processes experiments with a fixed set of parameters
type Generator struct {
	params   Params
	logger   *zap.Logger
	fsys     fsutil.FileSystem
	recorder Recorder
}

// Option configures a Generator
type Option func(*Generator)

// WithFileSystem replaces the operating system file system
func WithFileSystem(fsys fsutil.FileSystem) Option {
	return func(g *Generator) { g.fsys = fsys }
}

// WithRecorder records every run, for instance in the run ledger
func WithRecorder(r Recorder) Option {
	return func(g *Generator) { g.recorder = r }
}

// New creates a generator
func New(params Params, logger *zap.Logger, opts ...Option) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if params.Workers < 1 {
		params.Workers = 1
	}
	g := &Generator{
		params: params,
		logger: logger,
		fsys:   fsutil.OSFileSystem{},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// ProcessProject processes every experiment directory of a project in name order. Entries
// whose name starts with "-" or "." and the Output directory are skipped. A failing
// experiment does not stop the others; all failures are returned joined.
func (g *Generator) ProcessProject(ctx context.Context, dir string) (Summary, error) {
	start := time.Now()
	var summary Summary

	entries, err := g.fsys.ReadDir(dir)
	if err != nil {
		return summary, fmt.Errorf("read project directory: %w", err)
	}

	runID := g.beginRun(ctx, dir)
	g.logger.Info("Processing project", zap.String("project", dir), zap.Int("entries", len(entries)))

	var errs []error
	for _, e := range entries {
		if !e.IsDir() || Excluded(e.Name()) {
			continue
		}
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		es, err := g.processExperiment(ctx, runID, filepath.Join(dir, e.Name()))
		summary.add(es, err)
		if err != nil {
			g.logger.Error("Experiment aborted", zap.String("experiment", e.Name()), zap.Error(err))
			errs = append(errs, err)
		}
	}

	summary.Elapsed = time.Since(start)
	err = errors.Join(errs...)
	g.finishRun(ctx, runID, summary.Processed, err)

	g.logger.Info("Project done",
		zap.Int("processed", summary.Processed),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", summary.Failed),
		zap.Int("recordings", summary.Recordings),
		zap.Duration("elapsed", summary.Elapsed))
	return summary, err
}

// ProcessExperiment processes a single experiment directory
func (g *Generator) ProcessExperiment(ctx context.Context, dir string) (ExperimentSummary, error) {
	runID := g.beginRun(ctx, dir)
	es, err := g.processExperiment(ctx, runID, dir)
	processed := 0
	if err == nil && !es.Skipped {
		processed = 1
	}
	g.finishRun(ctx, runID, processed, err)
	return es, err
}

// Excluded reports whether a project entry is left out of processing
func Excluded(name string) bool {
	return strings.HasPrefix(name, "-") || strings.HasPrefix(name, ".") || name == "Output"
}

func (g *Generator) processExperiment(ctx context.Context, runID, dir string) (ExperimentSummary, error) {
	start := time.Now()
	name := filepath.Base(dir)
	es := ExperimentSummary{Name: name}
	log := g.logger.With(zap.String("experiment", name))

	recPath := filepath.Join(dir, RecordingsFile)
	trackPath := filepath.Join(dir, TracksFile)
	squaresPath := filepath.Join(dir, SquaresFile)

	if !g.params.Force && g.upToDate(squaresPath, recPath, trackPath) {
		log.Info("Squares up to date, skipping experiment")
		es.Skipped = true
		return es, nil
	}

	recTable, err := tables.Read(g.fsys, recPath)
	if err != nil {
		return es, fmt.Errorf("experiment %s: %w", name, err)
	}
	recs, err := tables.DecodeRecordings(recTable)
	if err != nil {
		return es, fmt.Errorf("experiment %s: %w", name, err)
	}
	trackTable, err := tables.Read(g.fsys, trackPath)
	if err != nil {
		return es, fmt.Errorf("experiment %s: %w", name, err)
	}
	tracks, err := tables.DecodeTracks(trackTable)
	if err != nil {
		return es, fmt.Errorf("experiment %s: %w", name, err)
	}
	es.Recordings = len(recs)
	annotations := g.readAnnotations(log, squaresPath)

	byRecording := make(map[string][]*models.Track)
	for _, t := range tracks {
		byRecording[t.RecordingName] = append(byRecording[t.RecordingName], t)
	}

	results := make([]*models.RecordingResult, len(recs))
	var failed atomic.Int64

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(g.params.Workers)
	for i, rec := range recs {
		if !rec.ShouldProcess() {
			log.Debug("Recording not marked for processing", zap.String("recording", rec.ExtName))
			continue
		}
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}
			res, err := g.processRecording(egCtx, dir, rec, byRecording[rec.ExtName], annotations)
			if err != nil {
				if egCtx.Err() != nil {
					return err
				}
				log.Error("Recording aborted", zap.String("recording", rec.ExtName), zap.Error(err))
				failed.Add(1)
				return nil
			}
			results[i] = res
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return es, fmt.Errorf("experiment %s: %w", name, err)
	}

	var processed []*models.RecordingResult
	for _, res := range results {
		if res != nil {
			processed = append(processed, res)
		}
	}
	es.Processed = len(processed)
	es.Failed = int(failed.Load())

	if err := tables.Write(g.fsys, trackPath, tables.EncodeTracks(trackTable.Header, tracks)); err != nil {
		return es, fmt.Errorf("experiment %s: %w", name, err)
	}
	if err := tables.Write(g.fsys, recPath, tables.EncodeRecordings(recTable.Header, recs, g.params.analysis())); err != nil {
		return es, fmt.Errorf("experiment %s: %w", name, err)
	}
	// written last so that its modification time marks the experiment as up to date
	if err := tables.Write(g.fsys, squaresPath, tables.EncodeSquares(processed)); err != nil {
		return es, fmt.Errorf("experiment %s: %w", name, err)
	}

	if g.recorder != nil && runID != "" {
		for _, res := range processed {
			if err := g.recorder.RecordRecording(ctx, runID, name, res); err != nil {
				log.Warn("Failed to record recording in ledger", zap.String("recording", res.Recording.ExtName), zap.Error(err))
			}
		}
	}

	es.Elapsed = time.Since(start)
	log.Info("Experiment done",
		zap.Int("recordings", es.Recordings),
		zap.Int("processed", es.Processed),
		zap.Int("failed", es.Failed),
		zap.Duration("elapsed", es.Elapsed))
	return es, nil
}

// readAnnotations loads the manual annotations of the squares table an earlier run wrote.
// They are lost, with a warning, when that table cannot be read.
func (g *Generator) readAnnotations(log *zap.Logger, path string) map[string]tables.Annotation {
	if !g.fsys.Exists(path) {
		return nil
	}
	t, err := tables.Read(g.fsys, path)
	if err == nil {
		var annotations map[string]tables.Annotation
		if annotations, err = tables.DecodeAnnotations(t); err == nil {
			log.Debug("Manual annotations loaded", zap.Int("squares", len(annotations)))
			return annotations
		}
	}
	log.Warn("Existing squares unreadable, manual annotations dropped", zap.Error(err))
	return nil
}

// upToDate reports whether output exists and is not older than any of inputs
func (g *Generator) upToDate(output string, inputs ...string) bool {
	out, err := g.fsys.Stat(output)
	if err != nil {
		return false
	}
	for _, in := range inputs {
		info, err := g.fsys.Stat(in)
		if err != nil {
			return false
		}
		if out.ModTime().Before(info.ModTime()) {
			return false
		}
	}
	return true
}

func (g *Generator) beginRun(ctx context.Context, root string) string {
	if g.recorder == nil {
		return ""
	}
	params, err := yaml.Marshal(g.params)
	if err != nil {
		g.logger.Warn("Failed to encode run parameters", zap.Error(err))
	}
	id, err := g.recorder.BeginRun(ctx, root, string(params))
	if err != nil {
		g.logger.Warn("Failed to register run in ledger", zap.Error(err))
		return ""
	}
	g.logger.Debug("Run registered", zap.String("run", id))
	return id
}

func (g *Generator) finishRun(ctx context.Context, runID string, processed int, runErr error) {
	if g.recorder == nil || runID == "" {
		return
	}
	// the run is closed even when ctx was cancelled
	if err := g.recorder.FinishRun(context.WithoutCancel(ctx), runID, processed, runErr); err != nil {
		g.logger.Warn("Failed to finish run in ledger", zap.String("run", runID), zap.Error(err))
	}
}
