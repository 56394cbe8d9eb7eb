package models

// NoSquare marks a track that lies outside every square of the grid.
const NoSquare = -1

// NoLabel marks a square or track without a display label. Labels start at 1.
const NoLabel = 0

// Recording represents one physical recording as listed in the recordings table
type Recording struct {
	// ExtName is the extended recording name, the key joining recordings to tracks
	ExtName string

	// Concentration is the probe concentration used for density normalisation
	Concentration float64

	// Process is the raw value of the Process column
	Process string

	// Attrs holds every column of the recordings row as read from disk
	Attrs map[string]string

	// Processed is set once the squares of the recording have been generated
	Processed bool

	// Tau is the recording-level Tau in ms, or one of the negative fit codes
	Tau float64

	// Density is the recording-level density computed from the pooled tracks
	Density float64

	// RSquared is the goodness of fit of the recording-level Tau
	RSquared float64
}

// ShouldProcess reports whether the Process flag holds an affirmative value
func (r *Recording) ShouldProcess() bool {
	switch r.Process {
	case "Yes", "yes", "Y", "y":
		return true
	}
	return false
}

// Track represents a single trajectory produced by the tracking engine
type Track struct {
	// UniqueKey identifies the track across an experiment
	UniqueKey string

	// RecordingName is the Ext Recording Name the track belongs to
	RecordingName string

	// Duration is the track duration in seconds
	Duration float64

	// X and Y are the track location in microns
	X, Y float64

	// DiffusionCoefficient as reported by the tracking engine
	DiffusionCoefficient float64

	// SquareNr is the 0-based square containing the track, or NoSquare
	SquareNr int

	// LabelNr is the label of the containing square, or NoLabel
	LabelNr int

	// Attrs holds every column of the tracks row as read from disk
	Attrs map[string]string
}

// Square represents one cell of the N×N grid laid over a recording
type Square struct {
	// SquareNr is the 0-based row-major sequence number
	SquareNr int

	// Row and Col are 0-based; the tables store them 1-based
	Row, Col int

	// Bounding box in microns
	X0, Y0, X1, Y1 float64

	NrTracks                 int
	TotalTrackDuration       float64
	MaxTrackDuration         float64
	AverageLongTrackDuration float64
	DiffusionCoefficient     float64
	Density                  float64
	DensityRatio             float64
	Variability              float64

	// Tau is in ms, or one of the negative fit codes
	Tau      float64
	RSquared float64

	// Selected is the result of the strict selection
	Selected bool

	// ManuallyExcluded squares are never selected. The flag is kept from the squares table
	// of the previous run.
	ManuallyExcluded bool

	// LabelNr is the display label, or NoLabel when not selected
	LabelNr int

	// CellID is a manual annotation kept from the squares table of the previous run
	CellID int
}

// RecordingResult bundles the output of processing a single recording
type RecordingResult struct {
	Recording *Recording
	Squares   []*Square
	Tracks    []*Track
}

// NrSelected returns the number of selected squares
func (r *RecordingResult) NrSelected() int {
	n := 0
	for _, sq := range r.Squares {
		if sq.Selected {
			n++
		}
	}
	return n
}
