package store

import (
	"database/sql"
	"fmt"
	"time"
)

// RunRecord is one persisted pipeline run.
type RunRecord struct {
	ID          string     `json:"id"`
	Mode        string     `json:"mode"`
	Query       string     `json:"query"`
	Status      string     `json:"status"`
	Answer      string     `json:"answer,omitempty"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// RunStarted inserts the run row when the pipeline kicks off.
func (s *Store) RunStarted(runID, mode, query string, startedAt time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO pipeline_runs (id, mode, query, status, started_at)
		VALUES (?, ?, ?, 'running', ?)`,
		runID, mode, query, startedAt)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// RunFinished records the terminal status of a run.
func (s *Store) RunFinished(runID, status, answer, errMsg string, finishedAt time.Time) error {
	_, err := s.db.Exec(`
		UPDATE pipeline_runs
		SET status = ?, answer = ?, error = ?, completed_at = ?
		WHERE id = ?`,
		status, answer, errMsg, finishedAt, runID)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

func (s *Store) GetRun(id string) (*RunRecord, error) {
	row := s.db.QueryRow(`
		SELECT id, mode, query, status, answer, error, started_at, completed_at
		FROM pipeline_runs WHERE id = ?`, id)
	rec, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return rec, nil
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT id, mode, query, status, answer, error, started_at, completed_at
		FROM pipeline_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *rec)
	}
	return runs, rows.Err()
}

func scanRun(sc scanner) (*RunRecord, error) {
	rec := &RunRecord{}
	var answer, errMsg sql.NullString
	var completed sql.NullTime
	if err := sc.Scan(&rec.ID, &rec.Mode, &rec.Query, &rec.Status,
		&answer, &errMsg, &rec.StartedAt, &completed); err != nil {
		return nil, err
	}
	rec.Answer = answer.String
	rec.Error = errMsg.String
	if completed.Valid {
		t := completed.Time
		rec.CompletedAt = &t
	}
	return rec, nil
}
