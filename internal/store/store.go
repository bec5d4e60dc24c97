// Package store keeps the SQLite index of runs and events.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/verte-zerg/blockcap/internal/model"

	_ "modernc.org/sqlite" // SQLite driver.
)

// timeLayout sorts lexically in UTC.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store wraps SQLite access for run and event data.
type Store struct {
	db *sql.DB
}

// Open opens or creates the SQLite database and applies migrations.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		if cerr := db.Close(); cerr != nil {
			// Best-effort close on migration failure.
			_ = cerr
		}
		return nil, err
	}
	return store, nil
}

// New wraps an already migrated database.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id INTEGER PRIMARY KEY,
			started_at TEXT NOT NULL,
			device TEXT NOT NULL,
			timebase INTEGER NOT NULL,
			interval_ns REAL NOT NULL,
			pre_samples INTEGER NOT NULL,
			post_samples INTEGER NOT NULL,
			output_dir TEXT NOT NULL,
			trigger_mv REAL NOT NULL,
			config TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY,
			run_id INTEGER NOT NULL,
			armed_at TEXT NOT NULL,
			outcome TEXT NOT NULL,
			error_code TEXT NOT NULL,
			error_message TEXT NOT NULL,
			artifact_path TEXT NOT NULL,
			samples INTEGER NOT NULL,
			overflow_a INTEGER NOT NULL,
			overflow_b INTEGER NOT NULL,
			trigger_wait_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_events_armed_at ON events(armed_at);`,
		`CREATE INDEX IF NOT EXISTS idx_events_run_id ON events(run_id);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// InsertRun stores the resolved parameters of a run and returns its id.
func (s *Store) InsertRun(ctx context.Context, run model.RunInfo) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (started_at, device, timebase, interval_ns, pre_samples, post_samples, output_dir, trigger_mv, config)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.StartedAt.UTC().Format(timeLayout),
		run.Device,
		run.Timing.Timebase,
		run.Timing.IntervalNs,
		run.Timing.PreSamples,
		run.Timing.PostSamples,
		run.OutputDir,
		run.TriggerMV,
		run.ConfigDesc,
	)
	if err != nil {
		return 0, fmt.Errorf("insert run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert run: %w", err)
	}
	return id, nil
}

// RecordEvent stores one event outcome for runID.
func (s *Store) RecordEvent(ctx context.Context, runID int64, out model.EventOutcome) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (run_id, armed_at, outcome, error_code, error_message, artifact_path, samples, overflow_a, overflow_b, trigger_wait_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID,
		out.ArmedAt.UTC().Format(timeLayout),
		string(out.Outcome),
		out.ErrorCode,
		out.ErrorMessage,
		out.ArtifactPath,
		out.Samples,
		boolInt(out.OverflowA),
		boolInt(out.OverflowB),
		out.TriggerWait.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("record event: %w", err)
	}
	return nil
}

// RunRecorder binds event recording to one run.
type RunRecorder struct {
	store *Store
	runID int64
}

// Recorder returns a recorder for runID.
func (s *Store) Recorder(runID int64) *RunRecorder {
	return &RunRecorder{store: s, runID: runID}
}

// RecordEvent stores out under the bound run.
func (r *RunRecorder) RecordEvent(ctx context.Context, out model.EventOutcome) error {
	return r.store.RecordEvent(ctx, r.runID, out)
}

// ListEvents returns events matching filter, oldest first. Last keeps only
// the most recent N matches.
func (s *Store) ListEvents(ctx context.Context, filter model.EventFilter) ([]model.EventEntry, error) {
	clauses := []string{"1=1"}
	args := []any{}
	if filter.Since != nil {
		clauses = append(clauses, "armed_at >= ?")
		args = append(args, filter.Since.UTC().Format(timeLayout))
	}
	if filter.Outcome != "" {
		clauses = append(clauses, "outcome = ?")
		args = append(args, string(filter.Outcome))
	}
	query := fmt.Sprintf(`SELECT id, run_id, armed_at, outcome, error_code, error_message, artifact_path, samples, overflow_a, overflow_b, trigger_wait_ms
		FROM events
		WHERE %s
		ORDER BY armed_at DESC, id DESC`, strings.Join(clauses, " AND "))
	if filter.Last > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Last)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			// Best-effort rows close.
			_ = cerr
		}
	}()

	var events []model.EventEntry
	for rows.Next() {
		var e model.EventEntry
		var armedAt, outcome string
		var overA, overB int
		var waitMs int64
		if err := rows.Scan(&e.ID, &e.RunID, &armedAt, &outcome, &e.ErrorCode, &e.ErrorMessage, &e.ArtifactPath, &e.Samples, &overA, &overB, &waitMs); err != nil {
			return nil, err
		}
		parsed, err := time.Parse(timeLayout, armedAt)
		if err != nil {
			return nil, err
		}
		e.ArmedAt = parsed
		e.Outcome = model.Outcome(outcome)
		e.OverflowA = overA != 0
		e.OverflowB = overB != 0
		e.TriggerWait = time.Duration(waitMs) * time.Millisecond
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	return events, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
