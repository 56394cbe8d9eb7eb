// Package compile concatenates the square generation outputs of every experiment of a
// project into project level tables.
package compile

import (
	"errors"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"glycopaint/internal/fsutil"
	"glycopaint/pkg/generate"
	"glycopaint/pkg/tables"
)

// ErrDuplicateRecording is returned when two experiments hold a recording with the same
// Ext Recording Name
var ErrDuplicateRecording = errors.New("duplicate recording")

// ManuallyExcludedColumn is added to compiled squares tables written before the column existed
const ManuallyExcludedColumn = tables.ManuallyExcludedColumn

// DefaultOutputDir is the directory, relative to the project, the tables are written to
const DefaultOutputDir = "Output"

// Result describes a compiled project
type Result struct {
	Experiments []string
	Skipped     []string

	Recordings int
	Squares    int
	Tracks     int
}

// Project compiles every processed experiment of projectDir into outputDir. An empty
// outputDir means <projectDir>/Output. Experiments without a squares table are skipped.
func Project(fsys fsutil.FileSystem, projectDir, outputDir string, logger *zap.Logger) (Result, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if outputDir == "" {
		outputDir = filepath.Join(projectDir, DefaultOutputDir)
	}

	var res Result
	entries, err := fsys.ReadDir(projectDir)
	if err != nil {
		return res, fmt.Errorf("read project directory: %w", err)
	}

	recordings := &tables.Table{}
	squares := &tables.Table{}
	tracks := &tables.Table{}
	seen := make(map[string]string)

	for _, e := range entries {
		if !e.IsDir() || generate.Excluded(e.Name()) {
			continue
		}
		dir := filepath.Join(projectDir, e.Name())
		if !fsys.Exists(filepath.Join(dir, generate.SquaresFile)) {
			logger.Warn("Experiment has no squares, not compiled", zap.String("experiment", e.Name()))
			res.Skipped = append(res.Skipped, e.Name())
			continue
		}

		recs, err := tables.Read(fsys, filepath.Join(dir, generate.RecordingsFile))
		if err != nil {
			return res, fmt.Errorf("experiment %s: %w", e.Name(), err)
		}
		if err := recs.Require("recordings", "Ext Recording Name"); err != nil {
			return res, fmt.Errorf("experiment %s: %w", e.Name(), err)
		}
		for _, row := range recs.Rows {
			name := row["Ext Recording Name"]
			if prev, ok := seen[name]; ok {
				return res, fmt.Errorf("%w: %q in experiments %s and %s", ErrDuplicateRecording, name, prev, e.Name())
			}
			seen[name] = e.Name()
		}

		sqs, err := tables.Read(fsys, filepath.Join(dir, generate.SquaresFile))
		if err != nil {
			return res, fmt.Errorf("experiment %s: %w", e.Name(), err)
		}
		trs, err := tables.Read(fsys, filepath.Join(dir, generate.TracksFile))
		if err != nil {
			return res, fmt.Errorf("experiment %s: %w", e.Name(), err)
		}

		appendTable(recordings, recs)
		appendTable(squares, sqs)
		appendTable(tracks, trs)
		res.Experiments = append(res.Experiments, e.Name())
		logger.Debug("Experiment compiled",
			zap.String("experiment", e.Name()),
			zap.Int("recordings", len(recs.Rows)),
			zap.Int("squares", len(sqs.Rows)))
	}

	squares.EnsureColumns(ManuallyExcludedColumn)
	for _, row := range squares.Rows {
		if row[ManuallyExcludedColumn] == "" {
			row[ManuallyExcludedColumn] = "False"
		}
	}

	if err := fsys.MkdirAll(outputDir, 0755); err != nil {
		return res, fmt.Errorf("create output directory: %w", err)
	}
	for _, out := range []struct {
		name string
		t    *tables.Table
	}{
		{generate.RecordingsFile, recordings},
		{generate.SquaresFile, squares},
		{generate.TracksFile, tracks},
	} {
		if err := tables.Write(fsys, filepath.Join(outputDir, out.name), out.t); err != nil {
			return res, err
		}
	}

	res.Recordings = len(recordings.Rows)
	res.Squares = len(squares.Rows)
	res.Tracks = len(tracks.Rows)
	logger.Info("Project compiled",
		zap.String("output", outputDir),
		zap.Int("experiments", len(res.Experiments)),
		zap.Int("recordings", res.Recordings),
		zap.Int("squares", res.Squares),
		zap.Int("tracks", res.Tracks))
	return res, nil
}

// appendTable adds the rows of src to dst, extending the header of dst with the columns it
// has not seen yet
func appendTable(dst, src *tables.Table) {
	dst.EnsureColumns(src.Header...)
	dst.Rows = append(dst.Rows, src.Rows...)
}
