package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"glycopaint/internal/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRunLifecycle(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	id, err := s.BeginRun(ctx, "/data/project", "nrOfSquaresInRow: 20\n")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	run, err := s.GetRun(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "/data/project", run.Root)
	assert.True(t, run.FinishedAt.IsZero())

	require.NoError(t, s.FinishRun(ctx, id, 3, errors.New("experiment x: schema mismatch")))

	run, err = s.GetRun(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 3, run.Processed)
	assert.Equal(t, "experiment x: schema mismatch", run.Error)
	assert.False(t, run.FinishedAt.IsZero())

	assert.Error(t, s.FinishRun(ctx, "no-such-run", 0, nil))
	_, err = s.GetRun(ctx, "no-such-run")
	assert.Error(t, err)
}

func TestListRuns(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	for i := 0; i < 3; i++ {
		_, err := s.BeginRun(ctx, "/p", "")
		require.NoError(t, err)
	}

	runs, err := s.ListRuns(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, runs, 2)

	runs, err = s.ListRuns(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, runs, 3)
	assert.False(t, runs[0].StartedAt.Before(runs[1].StartedAt))
}

func TestRecordingHistory(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	res := &models.RecordingResult{
		Recording: &models.Recording{ExtName: "240116-Exp-1-A1-1", Tau: 187, RSquared: 0.95, Density: 4.2},
		Squares:   []*models.Square{{Selected: true}, {Selected: false}, {Selected: true}},
		Tracks:    make([]*models.Track, 12),
	}

	for i := 0; i < 2; i++ {
		id, err := s.BeginRun(ctx, "/p", "")
		require.NoError(t, err)
		require.NoError(t, s.RecordRecording(ctx, id, "240116", res))
		// recording the same recording twice in a run keeps the latest result
		require.NoError(t, s.RecordRecording(ctx, id, "240116", res))
	}

	history, err := s.RecordingHistory(ctx, "240116-Exp-1-A1-1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	r := history[0]
	assert.Equal(t, "240116", r.Experiment)
	assert.Equal(t, 187.0, r.Tau)
	assert.Equal(t, 12, r.NrTracks)
	assert.Equal(t, 2, r.NrSquaresSelected)

	// the same recording name in another experiment of the run is a separate result
	id, err := s.BeginRun(ctx, "/p", "")
	require.NoError(t, err)
	require.NoError(t, s.RecordRecording(ctx, id, "240116", res))
	require.NoError(t, s.RecordRecording(ctx, id, "240117", res))
	history, err = s.RecordingHistory(ctx, "240116-Exp-1-A1-1")
	require.NoError(t, err)
	require.Len(t, history, 4)
	var experiments []string
	for _, h := range history {
		if h.RunID == id {
			experiments = append(experiments, h.Experiment)
		}
	}
	assert.ElementsMatch(t, []string{"240116", "240117"}, experiments)

	none, err := s.RecordingHistory(ctx, "unknown")
	require.NoError(t, err)
	assert.Empty(t, none)
}
