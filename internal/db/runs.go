package db

import (
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Run statuses.
const (
	StatusRunning = "running"
	StatusDone    = "done"
	StatusFailed  = "failed"
)

// ErrRunNotFound is returned by GetRun for an unknown id.
var ErrRunNotFound = errors.New("run not found")

// Run is one catalogued pipeline run.
type Run struct {
	ID         string
	Root       string
	Status     string
	Started    time.Time
	Finished   *time.Time
	Frames     int
	Neurons    int
	Edges      int
	FirstStep  *int64
	LastStep   *int64
	Warnings   int
	Error      string
	WarningsBy map[string]int
}

// RunResult is what FinishRun records.
type RunResult struct {
	Frames     int
	Neurons    int
	Edges      int
	FirstStep  int64
	LastStep   int64
	WarningsBy map[string]int
	Err        error
}

// InsertRun records the start of a run and returns its id.
func (db *DB) InsertRun(root string, started time.Time) (string, error) {
	id := uuid.NewString()
	_, err := db.Exec(
		`INSERT INTO runs (run_id, root, status, started_unix) VALUES (?, ?, ?, ?)`,
		id, root, StatusRunning, started.UnixNano(),
	)
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}
	return id, nil
}

// FinishRun records the outcome of run id.
func (db *DB) FinishRun(id string, finished time.Time, res RunResult) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	status, errText := StatusDone, sql.NullString{}
	if res.Err != nil {
		status = StatusFailed
		errText = sql.NullString{String: res.Err.Error(), Valid: true}
	}
	total := 0
	for _, n := range res.WarningsBy {
		total += n
	}

	var first, last sql.NullInt64
	if res.Frames > 0 {
		first = sql.NullInt64{Int64: res.FirstStep, Valid: true}
		last = sql.NullInt64{Int64: res.LastStep, Valid: true}
	}

	r, err := tx.Exec(`
		UPDATE runs SET status = ?, finished_unix = ?, frames = ?, neurons = ?, edges = ?,
			first_step = ?, last_step = ?, warnings = ?, error = ?
		WHERE run_id = ?`,
		status, finished.UnixNano(), res.Frames, res.Neurons, res.Edges,
		first, last, total, errText, id,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if n, _ := r.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}

	kinds := make([]string, 0, len(res.WarningsBy))
	for k := range res.WarningsBy {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		if _, err := tx.Exec(
			`INSERT OR REPLACE INTO run_warnings (run_id, kind, count) VALUES (?, ?, ?)`,
			id, k, res.WarningsBy[k],
		); err != nil {
			return fmt.Errorf("insert warning count: %w", err)
		}
	}
	return tx.Commit()
}

const runColumns = `run_id, root, status, started_unix, finished_unix, frames, neurons, edges,
	first_step, last_step, warnings, error`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(s rowScanner) (*Run, error) {
	var (
		r        Run
		started  int64
		finished sql.NullInt64
		first    sql.NullInt64
		last     sql.NullInt64
		errText  sql.NullString
	)
	if err := s.Scan(&r.ID, &r.Root, &r.Status, &started, &finished, &r.Frames, &r.Neurons, &r.Edges,
		&first, &last, &r.Warnings, &errText); err != nil {
		return nil, err
	}
	r.Started = time.Unix(0, started).UTC()
	if finished.Valid {
		t := time.Unix(0, finished.Int64).UTC()
		r.Finished = &t
	}
	if first.Valid {
		r.FirstStep = &first.Int64
	}
	if last.Valid {
		r.LastStep = &last.Int64
	}
	r.Error = errText.String
	return &r, nil
}

// GetRun returns run id with its warning counts.
func (db *DB) GetRun(id string) (*Run, error) {
	r, err := scanRun(db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE run_id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}

	rows, err := db.Query(`SELECT kind, count FROM run_warnings WHERE run_id = ? ORDER BY kind`, id)
	if err != nil {
		return nil, fmt.Errorf("get run warnings: %w", err)
	}
	defer rows.Close()
	r.WarningsBy = make(map[string]int)
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, err
		}
		r.WarningsBy[kind] = n
	}
	return r, rows.Err()
}

// ListRuns returns the most recent runs first. limit <= 0 returns all.
func (db *DB) ListRuns(limit int) ([]*Run, error) {
	q := `SELECT ` + runColumns + ` FROM runs ORDER BY started_unix DESC, run_id`
	args := []any{}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
