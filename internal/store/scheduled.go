package store

import (
	"database/sql"
	"fmt"
	"time"
)

// ScheduledQuery is a recurring pipeline run definition.
type ScheduledQuery struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Query      string     `json:"query"`
	Mode       string     `json:"mode"`
	Schedule   string     `json:"schedule"`
	Status     string     `json:"status"`
	NextRunAt  *time.Time `json:"next_run_at,omitempty"`
	LastRunAt  *time.Time `json:"last_run_at,omitempty"`
	LastStatus string     `json:"last_status,omitempty"`
	LastError  string     `json:"last_error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

func (s *Store) CreateScheduledQuery(q *ScheduledQuery) error {
	_, err := s.db.Exec(`
		INSERT INTO scheduled_queries (id, name, query, mode, schedule, status, next_run_at)
		VALUES (?, ?, ?, ?, ?, 'active', ?)`,
		q.ID, q.Name, q.Query, q.Mode, q.Schedule, q.NextRunAt)
	if err != nil {
		return fmt.Errorf("create scheduled query: %w", err)
	}
	return nil
}

// GetDueQueries returns active queries whose next run time has passed.
func (s *Store) GetDueQueries(now time.Time) ([]ScheduledQuery, error) {
	rows, err := s.db.Query(`
		SELECT id, name, query, mode, schedule, status, next_run_at, last_run_at, last_status, last_error, created_at
		FROM scheduled_queries
		WHERE status = 'active' AND next_run_at IS NOT NULL AND next_run_at <= ?
		ORDER BY next_run_at`, now)
	if err != nil {
		return nil, fmt.Errorf("get due queries: %w", err)
	}
	defer rows.Close()
	return collectQueries(rows)
}

func (s *Store) ListScheduledQueries() ([]ScheduledQuery, error) {
	rows, err := s.db.Query(`
		SELECT id, name, query, mode, schedule, status, next_run_at, last_run_at, last_status, last_error, created_at
		FROM scheduled_queries ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list scheduled queries: %w", err)
	}
	defer rows.Close()
	return collectQueries(rows)
}

func (s *Store) GetScheduledQuery(id string) (*ScheduledQuery, error) {
	row := s.db.QueryRow(`
		SELECT id, name, query, mode, schedule, status, next_run_at, last_run_at, last_status, last_error, created_at
		FROM scheduled_queries WHERE id = ?`, id)
	q, err := scanQuery(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get scheduled query: %w", err)
	}
	return q, nil
}

// RecordQueryRun stores the outcome of one execution and the next due time.
// A nil nextRun deactivates the query (one-shot schedules).
func (s *Store) RecordQueryRun(id, lastStatus, lastError string, nextRun *time.Time) error {
	status := "active"
	if nextRun == nil {
		status = "completed"
	}
	_, err := s.db.Exec(`
		UPDATE scheduled_queries
		SET last_run_at = CURRENT_TIMESTAMP, last_status = ?, last_error = ?,
		    next_run_at = ?, status = ?
		WHERE id = ?`,
		lastStatus, lastError, nextRun, status, id)
	if err != nil {
		return fmt.Errorf("record query run: %w", err)
	}
	return nil
}

func (s *Store) SetQueryStatus(id, status string) error {
	_, err := s.db.Exec(`UPDATE scheduled_queries SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("set query status: %w", err)
	}
	return nil
}

func (s *Store) DeleteScheduledQuery(id string) error {
	_, err := s.db.Exec(`DELETE FROM scheduled_queries WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete scheduled query: %w", err)
	}
	return nil
}

func collectQueries(rows *sql.Rows) ([]ScheduledQuery, error) {
	var queries []ScheduledQuery
	for rows.Next() {
		q, err := scanQuery(rows)
		if err != nil {
			return nil, fmt.Errorf("scan scheduled query: %w", err)
		}
		queries = append(queries, *q)
	}
	return queries, rows.Err()
}

func scanQuery(sc scanner) (*ScheduledQuery, error) {
	q := &ScheduledQuery{}
	var nextRun, lastRun sql.NullTime
	var lastStatus, lastError sql.NullString
	if err := sc.Scan(&q.ID, &q.Name, &q.Query, &q.Mode, &q.Schedule, &q.Status,
		&nextRun, &lastRun, &lastStatus, &lastError, &q.CreatedAt); err != nil {
		return nil, err
	}
	if nextRun.Valid {
		t := nextRun.Time
		q.NextRunAt = &t
	}
	if lastRun.Valid {
		t := lastRun.Time
		q.LastRunAt = &t
	}
	q.LastStatus = lastStatus.String
	q.LastError = lastError.String
	return q, nil
}
