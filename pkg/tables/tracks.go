package tables

import (
	"maps"
	"strings"

	"glycopaint/internal/models"
)

// TrackColumns must be present in every tracks table
var TrackColumns = []string{
	"Ext Recording Name",
	"Track Label",
	"Track Duration",
	"Track X Location",
	"Track Y Location",
	"Diffusion Coefficient",
}

// TrackKey returns the unique key of a track: "<Ext Recording Name> - <n>" where n is the
// part of the track label after the first underscore.
func TrackKey(recording, label string) string {
	parts := strings.Split(label, "_")
	suffix := label
	if len(parts) > 1 {
		suffix = parts[1]
	}
	return recording + " - " + suffix
}

// DecodeTracks converts the rows of a tracks table. Square and label assignments found in
// the table are kept so that tracks of recordings that are not processed are written back
// as they were read.
func DecodeTracks(t *Table) ([]*models.Track, error) {
	if err := t.Require("tracks", TrackColumns...); err != nil {
		return nil, err
	}
	tracks := make([]*models.Track, 0, len(t.Rows))
	for i, row := range t.Rows {
		line := i + 2
		tr := &models.Track{
			UniqueKey:     row["Unique Key"],
			RecordingName: row["Ext Recording Name"],
			SquareNr:      models.NoSquare,
			LabelNr:       models.NoLabel,
			Attrs:         row,
		}
		if tr.UniqueKey == "" {
			tr.UniqueKey = TrackKey(tr.RecordingName, row["Track Label"])
		}

		var err error
		if tr.Duration, err = parseFloat(row, "Track Duration", line); err != nil {
			return nil, err
		}
		if tr.X, err = parseFloat(row, "Track X Location", line); err != nil {
			return nil, err
		}
		if tr.Y, err = parseFloat(row, "Track Y Location", line); err != nil {
			return nil, err
		}
		if tr.DiffusionCoefficient, err = parseFloat(row, "Diffusion Coefficient", line); err != nil {
			return nil, err
		}
		if tr.SquareNr, err = parseOptionalInt(row, "Square Nr", models.NoSquare, line); err != nil {
			return nil, err
		}
		if tr.LabelNr, err = parseOptionalInt(row, "Label Nr", models.NoLabel, line); err != nil {
			return nil, err
		}
		tracks = append(tracks, tr)
	}
	return tracks, nil
}

// EncodeTracks builds the tracks table with Unique Key as first column and the square and
// label assignments appended.
func EncodeTracks(header []string, tracks []*models.Track) *Table {
	h := []string{"Unique Key"}
	for _, c := range header {
		if c != "Unique Key" {
			h = append(h, c)
		}
	}
	t := &Table{Header: h}
	t.EnsureColumns("Square Nr", "Label Nr")

	for _, tr := range tracks {
		row := maps.Clone(Row(tr.Attrs))
		if row == nil {
			row = Row{}
		}
		row["Unique Key"] = tr.UniqueKey
		row["Square Nr"] = formatOptionalInt(tr.SquareNr, models.NoSquare)
		row["Label Nr"] = formatOptionalInt(tr.LabelNr, models.NoLabel)
		t.Rows = append(t.Rows, row)
	}
	return t
}
