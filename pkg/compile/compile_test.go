package compile

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"glycopaint/internal/fsutil"
	"glycopaint/pkg/generate"
	"glycopaint/pkg/tables"
)

func put(t *testing.T, fsys *fsutil.MemoryFileSystem, path string, header []string, rows ...tables.Row) {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, tables.Encode(&buf, &tables.Table{Header: header, Rows: rows}))
	require.NoError(t, fsys.WriteFile(path, buf.Bytes(), 0644))
}

func experiment(t *testing.T, fsys *fsutil.MemoryFileSystem, dir, recording string, extra ...string) {
	t.Helper()
	put(t, fsys, filepath.Join(dir, generate.RecordingsFile),
		append([]string{"Ext Recording Name", "Tau"}, extra...),
		tables.Row{"Ext Recording Name": recording, "Tau": "250"})
	put(t, fsys, filepath.Join(dir, generate.SquaresFile),
		[]string{"Unique Key", "Ext Recording Name", "Selected"},
		tables.Row{"Unique Key": recording + " - 0", "Ext Recording Name": recording, "Selected": "True"},
		tables.Row{"Unique Key": recording + " - 1", "Ext Recording Name": recording, "Selected": "False"})
	put(t, fsys, filepath.Join(dir, generate.TracksFile),
		[]string{"Unique Key", "Ext Recording Name"},
		tables.Row{"Unique Key": recording + " - 0", "Ext Recording Name": recording})
}

func TestProject(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	experiment(t, fsys, "/p/240116", "A1")
	experiment(t, fsys, "/p/240117", "B1", "Cell Type")
	experiment(t, fsys, "/p/-240118", "C1")
	put(t, fsys, "/p/240119/"+generate.RecordingsFile, []string{"Ext Recording Name"})

	core, logs := observer.New(zapcore.WarnLevel)
	res, err := Project(fsys, "/p", "", zap.New(core))
	require.NoError(t, err)

	assert.Equal(t, []string{"240116", "240117"}, res.Experiments)
	assert.Equal(t, []string{"240119"}, res.Skipped)
	assert.Equal(t, 1, logs.FilterMessage("Experiment has no squares, not compiled").Len())
	assert.Equal(t, 2, res.Recordings)
	assert.Equal(t, 4, res.Squares)
	assert.Equal(t, 2, res.Tracks)

	recs, err := tables.Read(fsys, "/p/Output/"+generate.RecordingsFile)
	require.NoError(t, err)
	if diff := cmp.Diff([]string{"Ext Recording Name", "Tau", "Cell Type"}, recs.Header); diff != "" {
		t.Errorf("header mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, "", recs.Rows[0]["Cell Type"])

	squares, err := tables.Read(fsys, "/p/Output/"+generate.SquaresFile)
	require.NoError(t, err)
	assert.Equal(t, ManuallyExcludedColumn, squares.Header[len(squares.Header)-1])
	for _, row := range squares.Rows {
		assert.Equal(t, "False", row[ManuallyExcludedColumn])
	}
}

func TestProjectOutputDir(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	experiment(t, fsys, "/p/240116", "A1")

	_, err := Project(fsys, "/p", "/elsewhere", nil)
	require.NoError(t, err)
	assert.True(t, fsys.Exists("/elsewhere/"+generate.TracksFile))
	assert.False(t, fsys.Exists("/p/Output"))
}

func TestDuplicateRecording(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	experiment(t, fsys, "/p/240116", "A1")
	experiment(t, fsys, "/p/240117", "A1")

	_, err := Project(fsys, "/p", "", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDuplicateRecording))
	assert.Contains(t, err.Error(), "240116")
	assert.False(t, fsys.Exists("/p/Output/"+generate.SquaresFile))
}
