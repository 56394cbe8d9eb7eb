package tables

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"glycopaint/internal/fsutil"
	"glycopaint/internal/models"
)

const recordingsCSV = "Recording Sequence Nr,Recording Name,Experiment Date,Experiment Name,Condition Nr,Replicate Nr," +
	"Probe,Probe Type,Cell Type,Adjuvant,Concentration,Threshold,Process,Ext Recording Name,Nr Spots," +
	"Recording Size,Run Time,Time Stamp\n" +
	"1,240116-Exp-1-A1,240116,240116,1,1,6 Mono,Simple,BMDC,CytD,10,5,Yes,240116-Exp-1-A1-1,4000,1000,12.5,2024-01-16\n" +
	"2,240116-Exp-1-A2,240116,240116,1,2,6 Mono,Simple,BMDC,CytD,,5,No,240116-Exp-1-A2-1,3000,1000,11.2,2024-01-16\n"

const tracksCSV = "Ext Recording Name,Track Label,Nr Spots,Track Duration,Track X Location,Track Y Location,Diffusion Coefficient\n" +
	"240116-Exp-1-A1-1,Track_0,5,0.25,10.5,20.25,1200\n" +
	"240116-Exp-1-A1-1,Track_1,7,0.35,60,70,900\n"

func TestDecodeEncodeRoundTrip(t *testing.T) {
	tbl, err := Decode(strings.NewReader("\ufeffa,b,c\n1,2,3\n4,5\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, tbl.Header)
	require.Len(t, tbl.Rows, 2)
	assert.Equal(t, "", tbl.Rows[1]["c"])

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, tbl))
	assert.Equal(t, "a,b,c\n1,2,3\n4,5,\n", buf.String())

	_, err = Decode(strings.NewReader(""))
	assert.Error(t, err)
}

func TestRequire(t *testing.T) {
	tbl := &Table{Header: []string{"a", "b"}}
	assert.NoError(t, tbl.Require("x", "a", "b"))

	err := tbl.Require("tracks", "a", "c", "d")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSchemaMismatch))

	var schemaErr *SchemaError
	require.True(t, errors.As(err, &schemaErr))
	assert.Equal(t, "tracks", schemaErr.Table)
	assert.Equal(t, []string{"c", "d"}, schemaErr.Missing)
	assert.Contains(t, err.Error(), "c, d")
}

func TestDecodeRecordings(t *testing.T) {
	tbl, err := Decode(strings.NewReader(recordingsCSV))
	require.NoError(t, err)

	recs, err := DecodeRecordings(tbl)
	require.NoError(t, err)
	require.Len(t, recs, 2)

	assert.Equal(t, "240116-Exp-1-A1-1", recs[0].ExtName)
	assert.Equal(t, 10.0, recs[0].Concentration)
	assert.True(t, recs[0].ShouldProcess())
	assert.False(t, recs[1].ShouldProcess())
	assert.Equal(t, 0.0, recs[1].Concentration)

	tbl.Header = tbl.Header[1:]
	_, err = DecodeRecordings(tbl)
	assert.ErrorIs(t, err, ErrSchemaMismatch)
}

func TestDecodeRecordingsRejectsDuplicateNames(t *testing.T) {
	tbl, err := Decode(strings.NewReader(recordingsCSV))
	require.NoError(t, err)
	tbl.Rows[1]["Ext Recording Name"] = tbl.Rows[0]["Ext Recording Name"]

	_, err = DecodeRecordings(tbl)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDuplicateRecording))
	assert.Contains(t, err.Error(), "rows 2 and 3")
}

func TestEncodeRecordings(t *testing.T) {
	tbl, err := Decode(strings.NewReader(recordingsCSV))
	require.NoError(t, err)
	recs, err := DecodeRecordings(tbl)
	require.NoError(t, err)

	recs[0].Processed = true
	recs[0].Tau = 187
	recs[0].Density = 12.3
	recs[0].RSquared = 0.973

	out := EncodeRecordings(tbl.Header, recs, Analysis{
		MinTracksForTau: 20, MinRSquared: 0.9, NrOfSquaresInRow: 20,
		MaxVariability: 10, MinDensityRatio: 2, NeighbourMode: "Free",
	})

	if diff := cmp.Diff(RecordingAnalysisColumns, out.Header[len(out.Header)-len(RecordingAnalysisColumns):]); diff != "" {
		t.Errorf("analysis columns mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, "187", out.Rows[0]["Tau"])
	assert.Equal(t, "0.973", out.Rows[0]["R Squared"])
	assert.Equal(t, "False", out.Rows[0]["Exclude"])
	assert.Equal(t, "Free", out.Rows[0]["Neighbour Mode"])
	assert.Equal(t, "", out.Rows[1]["Tau"], "unprocessed recordings keep blank analysis columns")

	// the input rows are not modified
	_, ok := tbl.Rows[0]["Tau"]
	assert.False(t, ok)
}

func TestDecodeTracks(t *testing.T) {
	tbl, err := Decode(strings.NewReader(tracksCSV))
	require.NoError(t, err)

	tracks, err := DecodeTracks(tbl)
	require.NoError(t, err)
	require.Len(t, tracks, 2)

	tr := tracks[0]
	assert.Equal(t, "240116-Exp-1-A1-1 - 0", tr.UniqueKey)
	assert.Equal(t, 0.25, tr.Duration)
	assert.Equal(t, 10.5, tr.X)
	assert.Equal(t, 20.25, tr.Y)
	assert.Equal(t, 1200.0, tr.DiffusionCoefficient)
	assert.Equal(t, models.NoSquare, tr.SquareNr)
	assert.Equal(t, models.NoLabel, tr.LabelNr)

	tbl.Rows[0]["Square Nr"] = "17.0"
	tbl.Rows[0]["Label Nr"] = "2"
	tracks, err = DecodeTracks(tbl)
	require.NoError(t, err)
	assert.Equal(t, 17, tracks[0].SquareNr)
	assert.Equal(t, 2, tracks[0].LabelNr)

	tbl.Rows[1]["Track Duration"] = "long"
	_, err = DecodeTracks(tbl)
	assert.ErrorContains(t, err, "row 3")
}

func TestEncodeTracks(t *testing.T) {
	tbl, err := Decode(strings.NewReader(tracksCSV))
	require.NoError(t, err)
	tracks, err := DecodeTracks(tbl)
	require.NoError(t, err)

	tracks[0].SquareNr = 42
	tracks[0].LabelNr = 3

	out := EncodeTracks(tbl.Header, tracks)
	assert.Equal(t, "Unique Key", out.Header[0])
	assert.Equal(t, []string{"Square Nr", "Label Nr"}, out.Header[len(out.Header)-2:])
	assert.Equal(t, "42", out.Rows[0]["Square Nr"])
	assert.Equal(t, "3", out.Rows[0]["Label Nr"])
	assert.Equal(t, "", out.Rows[1]["Square Nr"])
	assert.Equal(t, "", out.Rows[1]["Label Nr"])
	assert.Equal(t, "240116-Exp-1-A1-1 - 1", out.Rows[1]["Unique Key"])
}

func TestTrackKey(t *testing.T) {
	assert.Equal(t, "rec - 12", TrackKey("rec", "Track_12"))
	assert.Equal(t, "rec - 12", TrackKey("rec", "Track_12_b"))
	assert.Equal(t, "rec - plain", TrackKey("rec", "plain"))
}

func TestEncodeSquares(t *testing.T) {
	rec := &models.Recording{
		ExtName: "R-1",
		Attrs:   map[string]string{"Probe": "6 Mono", "Nr Spots": "4000", "Recording Sequence Nr": "7"},
	}
	res := &models.RecordingResult{
		Recording: rec,
		Squares: []*models.Square{
			{SquareNr: 0, Row: 0, Col: 0, X1: 41.0432, Y1: 41.0432, Tau: -1},
			{SquareNr: 3, Row: 1, Col: 1, X0: 41.0432, Y0: 41.0432, X1: 82.0864, Y1: 82.0864,
				Selected: true, LabelNr: 1, NrTracks: 30, Tau: 250, RSquared: 0.97, CellID: 4},
		},
	}

	out := EncodeSquares([]*models.RecordingResult{res})
	assert.Equal(t, SquareColumns, out.Header)
	require.Len(t, out.Rows, 2)

	first, second := out.Rows[0], out.Rows[1]
	assert.Equal(t, "R-1 - 0", first["Unique Key"])
	assert.Equal(t, "", first["Label Nr"])
	assert.Equal(t, "False", first["Selected"])
	assert.Equal(t, "-1", first["Tau"])
	assert.Equal(t, "41.04", first["X1"])
	assert.Equal(t, "0", first["Cell Id"])
	assert.Equal(t, "False", first[ManuallyExcludedColumn])

	assert.Equal(t, "R-1 - 3", second["Unique Key"])
	assert.Equal(t, "2", second["Row Nr"])
	assert.Equal(t, "2", second["Col Nr"])
	assert.Equal(t, "1", second["Label Nr"])
	assert.Equal(t, "True", second["Selected"])
	assert.Equal(t, "6 Mono", second["Probe"])
	assert.Equal(t, "7", second["Recording Sequence Nr"])
	assert.Equal(t, "82.09", second["X1"])
	assert.Equal(t, "4", second["Cell Id"])

	res.Squares[0].ManuallyExcluded = true
	annotations, err := DecodeAnnotations(EncodeSquares([]*models.RecordingResult{res}))
	require.NoError(t, err)
	if diff := cmp.Diff(map[string]Annotation{
		"R-1 - 0": {ManuallyExcluded: true, X1: 41.04, Y1: 41.04},
		"R-1 - 3": {CellID: 4, X1: 82.09, Y1: 82.09},
	}, annotations); diff != "" {
		t.Errorf("annotations mismatch (-want +got):\n%s", diff)
	}
	assert.True(t, annotations["R-1 - 0"].Matches(res.Squares[0]))
	assert.False(t, annotations["R-1 - 0"].Matches(res.Squares[1]))
}

func TestDecodeAnnotations(t *testing.T) {
	tbl, err := Decode(strings.NewReader("Unique Key,X1,Y1,Cell Id,Square Manually Excluded\n" +
		"A - 0,20.52,20.52,,False\n" +
		"A - 1,41.04,20.52,2.0,\n" +
		"A - 2,61.56,20.52,,TRUE\n"))
	require.NoError(t, err)
	annotations, err := DecodeAnnotations(tbl)
	require.NoError(t, err)
	assert.Len(t, annotations, 2)
	assert.Equal(t, Annotation{CellID: 2, X1: 41.04, Y1: 20.52}, annotations["A - 1"])
	assert.True(t, annotations["A - 2"].ManuallyExcluded)

	// tables written before the annotation columns existed carry none
	tbl, err = Decode(strings.NewReader("Unique Key,X1,Y1\nA - 0,20.52,20.52\n"))
	require.NoError(t, err)
	annotations, err = DecodeAnnotations(tbl)
	require.NoError(t, err)
	assert.Empty(t, annotations)

	_, err = DecodeAnnotations(&Table{Header: []string{"Square Nr"}})
	assert.ErrorIs(t, err, ErrSchemaMismatch)
}

func TestReadWriteFileSystem(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	tbl := &Table{Header: []string{"x", "y"}, Rows: []Row{{"x": "1", "y": "a,b"}}}
	require.NoError(t, Write(fsys, "/e/t.csv", tbl))

	got, err := Read(fsys, "/e/t.csv")
	require.NoError(t, err)
	if diff := cmp.Diff(tbl, got); diff != "" {
		t.Errorf("table mismatch (-want +got):\n%s", diff)
	}

	_, err = Read(fsys, "/e/missing.csv")
	assert.Error(t, err)
}
