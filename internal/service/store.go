package service

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// RunStatus tracks a query run through its lifecycle.
type RunStatus string

const (
	StatusPending   RunStatus = "PENDING"
	StatusRunning   RunStatus = "RUNNING"
	StatusCompleted RunStatus = "COMPLETED"
	StatusFailed    RunStatus = "FAILED"
	StatusCancelled RunStatus = "CANCELLED"
)

// ErrRunNotFound is returned when a run id is unknown.
var ErrRunNotFound = errors.New("run not found")

// Run is one submitted query and, once finished, its result payload.
type Run struct {
	ID            string          `json:"id"`
	Query         string          `json:"query"`
	UserEmail     string          `json:"user_email,omitempty"`
	Status        RunStatus       `json:"status"`
	Error         string          `json:"error,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	AthenaQueryID string          `json:"athena_query_id,omitempty"`
	SubmittedAt   time.Time       `json:"submitted_at"`
	FinishedAt    *time.Time      `json:"finished_at,omitempty"`
}

// Store persists query runs so results survive worker restarts and can be
// downloaded later in other formats.
type Store struct {
	db *sql.DB
}

func NewStore(dsn string) (*Store, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	return &Store{db: db}, nil
}

// NewStoreWithDB wraps an existing connection. Used by tests.
func NewStoreWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) InitSchema() error {
	query := `CREATE TABLE IF NOT EXISTS query_runs (
		id VARCHAR(36) PRIMARY KEY,
		query TEXT NOT NULL,
		user_email VARCHAR(255) NOT NULL DEFAULT '',
		status VARCHAR(16) NOT NULL,
		error TEXT,
		payload LONGTEXT,
		athena_query_id VARCHAR(64) NOT NULL DEFAULT '',
		submitted_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		finished_at TIMESTAMP NULL
	);`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

func (s *Store) CreateRun(run *Run) error {
	_, err := s.db.Exec(
		`INSERT INTO query_runs (id, query, user_email, status, submitted_at) VALUES (?, ?, ?, ?, ?)`,
		run.ID, run.Query, run.UserEmail, StatusPending, run.SubmittedAt,
	)
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

func (s *Store) MarkRunning(id string) error {
	return s.updateStatus(id, StatusRunning)
}

func (s *Store) MarkCompleted(id string, payload []byte, athenaQueryID string) error {
	res, err := s.db.Exec(
		`UPDATE query_runs SET status = ?, payload = ?, athena_query_id = ?, finished_at = ? WHERE id = ?`,
		StatusCompleted, payload, athenaQueryID, time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	return requireRow(res)
}

func (s *Store) MarkFailed(id, message string, status RunStatus) error {
	res, err := s.db.Exec(
		`UPDATE query_runs SET status = ?, error = ?, finished_at = ? WHERE id = ?`,
		status, message, time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("fail run: %w", err)
	}
	return requireRow(res)
}

func (s *Store) updateStatus(id string, status RunStatus) error {
	res, err := s.db.Exec(`UPDATE query_runs SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("update run status: %w", err)
	}
	return requireRow(res)
}

func (s *Store) GetRun(id string) (*Run, error) {
	row := s.db.QueryRow(
		`SELECT id, query, user_email, status, COALESCE(error, ''), COALESCE(payload, ''), athena_query_id, submitted_at, finished_at
		 FROM query_runs WHERE id = ?`, id,
	)

	var run Run
	var payload []byte
	var finished sql.NullTime
	err := row.Scan(&run.ID, &run.Query, &run.UserEmail, &run.Status, &run.Error, &payload, &run.AthenaQueryID, &run.SubmittedAt, &finished)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	if len(payload) > 0 {
		run.Payload = payload
	}
	if finished.Valid {
		run.FinishedAt = &finished.Time
	}
	return &run, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrRunNotFound
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
