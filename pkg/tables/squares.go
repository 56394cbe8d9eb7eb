package tables

import (
	"fmt"
	"strconv"

	"glycopaint/internal/models"
	"glycopaint/pkg/metrics"
)

// ManuallyExcludedColumn holds the manual exclusion of a square
const ManuallyExcludedColumn = "Square Manually Excluded"

// SquareColumns is the layout of the squares table
var SquareColumns = []string{
	"Unique Key",
	"Recording Sequence Nr",
	"Ext Recording Name",
	"Experiment Name",
	"Experiment Date",
	"Condition Nr",
	"Replicate Nr",
	"Square Nr",
	"Probe",
	"Probe Type",
	"Cell Type",
	"Adjuvant",
	"Concentration",
	"Threshold",
	"Row Nr",
	"Col Nr",
	"Label Nr",
	"Cell Id",
	"Nr Spots",
	"Nr Tracks",
	"X0",
	"Y0",
	"X1",
	"Y1",
	"Selected",
	"Variability",
	"Density",
	"Density Ratio",
	"Tau",
	"R Squared",
	"Diffusion Coefficient",
	"Average Long Track Duration",
	"Max Track Duration",
	"Total Track Duration",
	ManuallyExcludedColumn,
}

// columns copied from the recording into each of its squares
var squareRecordingColumns = []string{
	"Recording Sequence Nr",
	"Ext Recording Name",
	"Experiment Name",
	"Experiment Date",
	"Condition Nr",
	"Replicate Nr",
	"Probe",
	"Probe Type",
	"Cell Type",
	"Adjuvant",
	"Concentration",
	"Threshold",
	"Nr Spots",
}

// SquareKey returns the unique key of a square
func SquareKey(recording string, squareNr int) string {
	return fmt.Sprintf("%s - %d", recording, squareNr)
}

// EncodeSquares builds the squares table of the processed recordings in results
func EncodeSquares(results []*models.RecordingResult) *Table {
	t := &Table{Header: SquareColumns}
	for _, res := range results {
		rec := res.Recording
		for _, sq := range res.Squares {
			row := make(Row, len(SquareColumns))
			for _, c := range squareRecordingColumns {
				row[c] = rec.Attrs[c]
			}
			row["Ext Recording Name"] = rec.ExtName
			row["Unique Key"] = SquareKey(rec.ExtName, sq.SquareNr)
			row["Square Nr"] = strconv.Itoa(sq.SquareNr)
			row["Row Nr"] = strconv.Itoa(sq.Row + 1)
			row["Col Nr"] = strconv.Itoa(sq.Col + 1)
			row["Label Nr"] = formatOptionalInt(sq.LabelNr, models.NoLabel)
			row["Cell Id"] = strconv.Itoa(sq.CellID)
			row["Nr Tracks"] = strconv.Itoa(sq.NrTracks)
			row["X0"] = formatFloat(metrics.Round(sq.X0, 2))
			row["Y0"] = formatFloat(metrics.Round(sq.Y0, 2))
			row["X1"] = formatFloat(metrics.Round(sq.X1, 2))
			row["Y1"] = formatFloat(metrics.Round(sq.Y1, 2))
			row["Selected"] = formatBool(sq.Selected)
			row["Variability"] = formatFloat(sq.Variability)
			row["Density"] = formatFloat(sq.Density)
			row["Density Ratio"] = formatFloat(sq.DensityRatio)
			row["Tau"] = formatFloat(sq.Tau)
			row["R Squared"] = formatFloat(sq.RSquared)
			row["Diffusion Coefficient"] = formatFloat(sq.DiffusionCoefficient)
			row["Average Long Track Duration"] = formatFloat(sq.AverageLongTrackDuration)
			row["Max Track Duration"] = formatFloat(sq.MaxTrackDuration)
			row["Total Track Duration"] = formatFloat(sq.TotalTrackDuration)
			row[ManuallyExcludedColumn] = formatBool(sq.ManuallyExcluded)
			t.Rows = append(t.Rows, row)
		}
	}
	return t
}

// Annotation is the manual input kept on a square between runs. X1 and Y1 are the far
// edges the square had when it was annotated.
type Annotation struct {
	ManuallyExcluded bool
	CellID           int
	X1, Y1           float64
}

// Matches reports whether sq covers the area that was annotated, which no longer holds
// once the grid resolution changes
func (a Annotation) Matches(sq *models.Square) bool {
	return a.X1 == metrics.Round(sq.X1, 2) && a.Y1 == metrics.Round(sq.Y1, 2)
}

// DecodeAnnotations reads the manual annotations of a squares table keyed by Unique Key.
// Missing annotation columns read as not excluded and cell 0.
func DecodeAnnotations(t *Table) (map[string]Annotation, error) {
	if err := t.Require("squares", "Unique Key", "X1", "Y1"); err != nil {
		return nil, err
	}
	out := make(map[string]Annotation, len(t.Rows))
	for i, row := range t.Rows {
		cell, err := parseOptionalInt(row, "Cell Id", 0, i+2)
		if err != nil {
			return nil, err
		}
		excluded := parseBool(row[ManuallyExcludedColumn])
		if !excluded && cell == 0 {
			continue
		}
		x1, err := parseFloat(row, "X1", i+2)
		if err != nil {
			return nil, err
		}
		y1, err := parseFloat(row, "Y1", i+2)
		if err != nil {
			return nil, err
		}
		out[row["Unique Key"]] = Annotation{ManuallyExcluded: excluded, CellID: cell, X1: x1, Y1: y1}
	}
	return out, nil
}
