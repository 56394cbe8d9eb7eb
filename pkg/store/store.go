// Package store keeps a ledger of square generation runs in SQLite: the parameters of
// every run and the recording level results it produced.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"glycopaint/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id      TEXT PRIMARY KEY,
	root        TEXT NOT NULL,
	params      TEXT,
	started_at  INTEGER NOT NULL,
	finished_at INTEGER,
	processed   INTEGER NOT NULL DEFAULT 0,
	error       TEXT
);

CREATE TABLE IF NOT EXISTS recording_results (
	run_id              TEXT NOT NULL REFERENCES runs(run_id) ON DELETE CASCADE,
	experiment          TEXT NOT NULL,
	recording           TEXT NOT NULL,
	tau                 REAL NOT NULL,
	r_squared           REAL NOT NULL,
	density             REAL NOT NULL,
	nr_tracks           INTEGER NOT NULL,
	nr_squares_selected INTEGER NOT NULL,
	created_at          INTEGER NOT NULL,
	PRIMARY KEY (run_id, experiment, recording)
);

CREATE INDEX IF NOT EXISTS idx_recording_results_recording ON recording_results(recording);
`

// Run is one invocation of square generation
type Run struct {
	RunID      string
	Root       string
	Params     string
	StartedAt  time.Time
	FinishedAt time.Time
	Processed  int
	Error      string
}

// RecordingResult is the recording level outcome stored for a run
type RecordingResult struct {
	RunID             string
	Experiment        string
	Recording         string
	Tau               float64
	RSquared          float64
	Density           float64
	NrTracks          int
	NrSquaresSelected int
	CreatedAt         time.Time
}

// Store is the run ledger
type Store struct {
	db *sql.DB
}

// Open opens or creates the ledger at path
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("configure ledger: %w", err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create ledger schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// BeginRun registers a new run and returns its id
func (s *Store) BeginRun(ctx context.Context, root, params string) (string, error) {
	id := uuid.New().String()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, root, params, started_at) VALUES (?, ?, ?, ?)`,
		id, root, params, time.Now().UnixNano())
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}
	return id, nil
}

// RecordRecording stores the recording level result of a processed recording
func (s *Store) RecordRecording(ctx context.Context, runID, experiment string, res *models.RecordingResult) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO recording_results (
			run_id, experiment, recording, tau, r_squared, density,
			nr_tracks, nr_squares_selected, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, experiment, res.Recording.ExtName,
		res.Recording.Tau, res.Recording.RSquared, res.Recording.Density,
		len(res.Tracks), res.NrSelected(), time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("insert recording result: %w", err)
	}
	return nil
}

// FinishRun closes a run with the number of processed experiments and its error, if any
func (s *Store) FinishRun(ctx context.Context, runID string, processed int, runErr error) error {
	var errText any
	if runErr != nil {
		errText = runErr.Error()
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET finished_at = ?, processed = ?, error = ? WHERE run_id = ?`,
		time.Now().UnixNano(), processed, errText, runID)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s not found", runID)
	}
	return nil
}

// GetRun returns a single run
func (s *Store) GetRun(ctx context.Context, runID string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT run_id, root, params, started_at, finished_at, processed, error
		FROM runs WHERE run_id = ?`, runID)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s not found", runID)
	}
	return r, err
}

// ListRuns returns the most recent runs first
func (s *Store) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, root, params, started_at, finished_at, processed, error
		FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// RecordingHistory returns the results stored for a recording across runs, newest first
func (s *Store) RecordingHistory(ctx context.Context, recording string) ([]*RecordingResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, experiment, recording, tau, r_squared, density,
		       nr_tracks, nr_squares_selected, created_at
		FROM recording_results
		WHERE recording = ?
		ORDER BY created_at DESC`, recording)
	if err != nil {
		return nil, fmt.Errorf("query recording results: %w", err)
	}
	defer rows.Close()

	var results []*RecordingResult
	for rows.Next() {
		var r RecordingResult
		var created int64
		if err := rows.Scan(&r.RunID, &r.Experiment, &r.Recording, &r.Tau, &r.RSquared, &r.Density,
			&r.NrTracks, &r.NrSquaresSelected, &created); err != nil {
			return nil, fmt.Errorf("scan recording result: %w", err)
		}
		r.CreatedAt = time.Unix(0, created)
		results = append(results, &r)
	}
	return results, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	var r Run
	var params, errText sql.NullString
	var started int64
	var finished sql.NullInt64
	if err := row.Scan(&r.RunID, &r.Root, &params, &started, &finished, &r.Processed, &errText); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan run: %w", err)
	}
	r.Params = params.String
	r.Error = errText.String
	r.StartedAt = time.Unix(0, started)
	if finished.Valid {
		r.FinishedAt = time.Unix(0, finished.Int64)
	}
	return &r, nil
}
