// Package sqlite is an execstore.Store backed by SQLite, for single-node
// deployments that want task and workflow history to survive a restart.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/wishub/skillhub/execstore"
)

// Store is a SQLite-backed execstore.Store.
type Store struct {
	db *sql.DB
}

// Config configures the SQLite connection.
type Config struct {
	// Path is the database file path, or ":memory:" for a transient store.
	Path string
	// WAL enables Write-Ahead Logging for concurrent readers.
	WAL bool
}

// New opens (and migrates) a SQLite-backed Store.
func New(cfg Config) (*Store, error) {
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// SQLite serializes writes; a single connection avoids SQLITE_BUSY
	// storms under concurrent hybrid-mode step completions.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	s := &Store{db: db}
	if err := s.configurePragmas(ctx, cfg.WAL); err != nil {
		db.Close()
		return nil, fmt.Errorf("configuring pragmas: %w", err)
	}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) configurePragmas(ctx context.Context, wal bool) error {
	pragmas := []string{
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	if wal {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL")
	}
	for _, p := range pragmas {
		if _, err := s.db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("executing %s: %w", p, err)
		}
	}
	return nil
}

func (s *Store) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS tasks (
			task_id TEXT PRIMARY KEY,
			skill_id TEXT NOT NULL,
			status TEXT NOT NULL,
			inputs TEXT,
			outputs TEXT,
			error_message TEXT,
			execution_time_seconds REAL DEFAULT 0,
			container_id TEXT,
			created_at TEXT NOT NULL,
			started_at TEXT,
			completed_at TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status)`,
		`CREATE TABLE IF NOT EXISTS workflow_executions (
			execution_id TEXT PRIMARY KEY,
			workflow_id TEXT NOT NULL,
			status TEXT NOT NULL,
			results TEXT,
			error_message TEXT,
			execution_time_seconds REAL DEFAULT 0,
			created_at TEXT NOT NULL,
			completed_at TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_workflow_executions_status ON workflow_executions(status)`,
	}
	for _, m := range migrations {
		if _, err := s.db.ExecContext(ctx, m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// CreateTask implements execstore.Store.
func (s *Store) CreateTask(ctx context.Context, row *execstore.TaskRow) error {
	inputsJSON, err := json.Marshal(row.Inputs)
	if err != nil {
		return fmt.Errorf("marshaling inputs: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tasks (task_id, skill_id, status, inputs, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		row.TaskID, row.SkillID, string(row.Status), string(inputsJSON),
		row.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("creating task: %w", err)
	}
	return nil
}

// UpdateTask implements execstore.Store.
func (s *Store) UpdateTask(ctx context.Context, taskID string, patch execstore.TaskPatch) error {
	outputsJSON, err := json.Marshal(patch.Outputs)
	if err != nil {
		return fmt.Errorf("marshaling outputs: %w", err)
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET
			status = ?,
			outputs = COALESCE(?, outputs),
			error_message = CASE WHEN ? != '' THEN ? ELSE error_message END,
			execution_time_seconds = CASE WHEN ? != 0 THEN ? ELSE execution_time_seconds END,
			container_id = CASE WHEN ? != '' THEN ? ELSE container_id END,
			started_at = COALESCE(?, started_at),
			completed_at = COALESCE(?, completed_at)
		WHERE task_id = ?`,
		string(patch.Status),
		nullIfEmptyJSON(patch.Outputs, outputsJSON),
		patch.ErrorMessage, patch.ErrorMessage,
		patch.ExecutionTimeSeconds, patch.ExecutionTimeSeconds,
		patch.ContainerID, patch.ContainerID,
		formatTimePtr(patch.StartedAt),
		formatTimePtr(patch.CompletedAt),
		taskID,
	)
	if err != nil {
		return fmt.Errorf("updating task: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &execstore.NotFoundError{Kind: "task", ID: taskID}
	}
	return nil
}

// GetTask implements execstore.Store.
func (s *Store) GetTask(ctx context.Context, taskID string) (*execstore.TaskRow, error) {
	var row execstore.TaskRow
	var status string
	var inputsJSON, outputsJSON sql.NullString
	var errorMessage, containerID sql.NullString
	var createdAt string
	var startedAt, completedAt sql.NullString

	err := s.db.QueryRowContext(ctx, `
		SELECT task_id, skill_id, status, inputs, outputs, error_message,
			execution_time_seconds, container_id, created_at, started_at, completed_at
		FROM tasks WHERE task_id = ?`, taskID).Scan(
		&row.TaskID, &row.SkillID, &status, &inputsJSON, &outputsJSON, &errorMessage,
		&row.ExecutionTimeSeconds, &containerID, &createdAt, &startedAt, &completedAt,
	)
	if err == sql.ErrNoRows {
		return nil, &execstore.NotFoundError{Kind: "task", ID: taskID}
	}
	if err != nil {
		return nil, fmt.Errorf("getting task: %w", err)
	}

	row.Status = execstore.TaskStatus(status)
	row.ErrorMessage = errorMessage.String
	row.ContainerID = containerID.String
	if inputsJSON.Valid && inputsJSON.String != "" {
		if err := json.Unmarshal([]byte(inputsJSON.String), &row.Inputs); err != nil {
			return nil, fmt.Errorf("unmarshaling inputs: %w", err)
		}
	}
	if outputsJSON.Valid && outputsJSON.String != "" && outputsJSON.String != "null" {
		if err := json.Unmarshal([]byte(outputsJSON.String), &row.Outputs); err != nil {
			return nil, fmt.Errorf("unmarshaling outputs: %w", err)
		}
	}
	row.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	if startedAt.Valid {
		t, _ := time.Parse(time.RFC3339Nano, startedAt.String)
		row.StartedAt = &t
	}
	if completedAt.Valid {
		t, _ := time.Parse(time.RFC3339Nano, completedAt.String)
		row.CompletedAt = &t
	}
	return &row, nil
}

// CreateWorkflowExecution implements execstore.Store.
func (s *Store) CreateWorkflowExecution(ctx context.Context, row *execstore.WorkflowExecutionRow) error {
	results := row.Results
	if results == nil {
		results = make(map[string]execstore.StepOutcome)
	}
	resultsJSON, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("marshaling results: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO workflow_executions (execution_id, workflow_id, status, results, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		row.ExecutionID, row.WorkflowID, string(row.Status), string(resultsJSON),
		row.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("creating workflow execution: %w", err)
	}
	return nil
}

// UpdateWorkflowExecution implements execstore.Store. Results are merged
// key-by-key at the application level (read-modify-write under the
// single-connection serialization SQLite already gives us) so concurrent
// step completions in a hybrid-mode layer don't clobber each other.
func (s *Store) UpdateWorkflowExecution(ctx context.Context, executionID string, patch execstore.WorkflowPatch) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var status, resultsJSON string
	err = tx.QueryRowContext(ctx,
		`SELECT status, results FROM workflow_executions WHERE execution_id = ?`,
		executionID).Scan(&status, &resultsJSON)
	if err == sql.ErrNoRows {
		return &execstore.NotFoundError{Kind: "workflow_execution", ID: executionID}
	}
	if err != nil {
		return fmt.Errorf("reading workflow execution: %w", err)
	}

	results := make(map[string]execstore.StepOutcome)
	if resultsJSON != "" {
		if err := json.Unmarshal([]byte(resultsJSON), &results); err != nil {
			return fmt.Errorf("unmarshaling results: %w", err)
		}
	}
	for stepID, outcome := range patch.Results {
		results[stepID] = outcome
	}
	mergedJSON, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("marshaling merged results: %w", err)
	}

	if patch.Status != "" {
		status = string(patch.Status)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE workflow_executions SET
			status = ?,
			results = ?,
			error_message = CASE WHEN ? != '' THEN ? ELSE error_message END,
			execution_time_seconds = CASE WHEN ? != 0 THEN ? ELSE execution_time_seconds END,
			completed_at = COALESCE(?, completed_at)
		WHERE execution_id = ?`,
		status, string(mergedJSON),
		patch.ErrorMessage, patch.ErrorMessage,
		patch.ExecutionTimeSeconds, patch.ExecutionTimeSeconds,
		formatTimePtr(patch.CompletedAt),
		executionID,
	)
	if err != nil {
		return fmt.Errorf("updating workflow execution: %w", err)
	}
	return tx.Commit()
}

// GetWorkflowExecution implements execstore.Store.
func (s *Store) GetWorkflowExecution(ctx context.Context, executionID string) (*execstore.WorkflowExecutionRow, error) {
	var row execstore.WorkflowExecutionRow
	var status, resultsJSON, createdAt string
	var errorMessage sql.NullString
	var completedAt sql.NullString

	err := s.db.QueryRowContext(ctx, `
		SELECT execution_id, workflow_id, status, results, error_message,
			execution_time_seconds, created_at, completed_at
		FROM workflow_executions WHERE execution_id = ?`, executionID).Scan(
		&row.ExecutionID, &row.WorkflowID, &status, &resultsJSON, &errorMessage,
		&row.ExecutionTimeSeconds, &createdAt, &completedAt,
	)
	if err == sql.ErrNoRows {
		return nil, &execstore.NotFoundError{Kind: "workflow_execution", ID: executionID}
	}
	if err != nil {
		return nil, fmt.Errorf("getting workflow execution: %w", err)
	}

	row.Status = execstore.WorkflowStatus(status)
	row.ErrorMessage = errorMessage.String
	row.Results = make(map[string]execstore.StepOutcome)
	if resultsJSON != "" {
		if err := json.Unmarshal([]byte(resultsJSON), &row.Results); err != nil {
			return nil, fmt.Errorf("unmarshaling results: %w", err)
		}
	}
	row.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	if completedAt.Valid {
		t, _ := time.Parse(time.RFC3339Nano, completedAt.String)
		row.CompletedAt = &t
	}
	return &row, nil
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339Nano)
}

func nullIfEmptyJSON(m map[string]any, marshaled []byte) any {
	if m == nil {
		return nil
	}
	return string(marshaled)
}
