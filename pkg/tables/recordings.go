package tables

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"

	"glycopaint/internal/models"
)

// RecordingColumns must be present in every recordings table
var RecordingColumns = []string{
	"Recording Sequence Nr",
	"Recording Name",
	"Experiment Date",
	"Experiment Name",
	"Condition Nr",
	"Replicate Nr",
	"Probe",
	"Probe Type",
	"Cell Type",
	"Adjuvant",
	"Concentration",
	"Threshold",
	"Process",
	"Ext Recording Name",
	"Nr Spots",
	"Recording Size",
	"Run Time",
	"Time Stamp",
}

// RecordingAnalysisColumns are added to the recordings table by square generation
var RecordingAnalysisColumns = []string{
	"Min Tracks for Tau",
	"Min Allowable R Squared",
	"Nr of Squares in Row",
	"Max Allowable Variability",
	"Min Required Density Ratio",
	"Exclude",
	"Neighbour Mode",
	"Tau",
	"Density",
	"R Squared",
}

// ErrDuplicateRecording is returned when two rows of a recordings table share an Ext Recording Name
var ErrDuplicateRecording = errors.New("duplicate recording")

// Analysis are the parameters recorded next to every processed recording
type Analysis struct {
	MinTracksForTau  int
	MinRSquared      float64
	NrOfSquaresInRow int
	MaxVariability   float64
	MinDensityRatio  float64
	NeighbourMode    string
}

// DecodeRecordings converts the rows of a recordings table
func DecodeRecordings(t *Table) ([]*models.Recording, error) {
	if err := t.Require("recordings", RecordingColumns...); err != nil {
		return nil, err
	}
	recs := make([]*models.Recording, 0, len(t.Rows))
	seen := make(map[string]int, len(t.Rows))
	for i, row := range t.Rows {
		name := row["Ext Recording Name"]
		if prev, ok := seen[name]; ok {
			return nil, fmt.Errorf("%w: %q on rows %d and %d", ErrDuplicateRecording, name, prev, i+2)
		}
		seen[name] = i + 2
		conc, err := parseFloat(row, "Concentration", i+2)
		if err != nil {
			return nil, err
		}
		recs = append(recs, &models.Recording{
			ExtName:       name,
			Concentration: conc,
			Process:       row["Process"],
			Attrs:         row,
		})
	}
	return recs, nil
}

// EncodeRecordings builds the recordings table written after square generation. header is
// the header of the table the recordings were read from.
func EncodeRecordings(header []string, recs []*models.Recording, a Analysis) *Table {
	t := &Table{Header: slices.Clone(header)}
	t.EnsureColumns(RecordingColumns...)
	t.EnsureColumns(RecordingAnalysisColumns...)

	for _, r := range recs {
		row := maps.Clone(Row(r.Attrs))
		if row == nil {
			row = Row{}
		}
		if r.Processed {
			row["Min Tracks for Tau"] = strconv.Itoa(a.MinTracksForTau)
			row["Min Allowable R Squared"] = formatFloat(a.MinRSquared)
			row["Nr of Squares in Row"] = strconv.Itoa(a.NrOfSquaresInRow)
			row["Max Allowable Variability"] = formatFloat(a.MaxVariability)
			row["Min Required Density Ratio"] = formatFloat(a.MinDensityRatio)
			row["Exclude"] = formatBool(false)
			row["Neighbour Mode"] = a.NeighbourMode
			row["Tau"] = formatFloat(r.Tau)
			row["Density"] = formatFloat(r.Density)
			row["R Squared"] = formatFloat(r.RSquared)
		}
		t.Rows = append(t.Rows, row)
	}
	return t
}
