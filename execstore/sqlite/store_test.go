package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wishub/skillhub/execstore"
)

// newTestStore opens a SQLite-backed Store against a file in a fresh
// temporary directory, following the pack's own sqlite backend test idiom
// of a real on-disk file per test rather than a shared ":memory:" handle.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := New(Config{Path: dbPath, WAL: true})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateTaskThenGetTaskRoundTrips(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	row := &execstore.TaskRow{
		TaskID:    "task-1",
		SkillID:   "skill-1",
		Status:    execstore.TaskPending,
		Inputs:    map[string]any{"x": float64(1)},
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, s.CreateTask(ctx, row))

	got, err := s.GetTask(ctx, "task-1")
	require.NoError(t, err)
	require.Equal(t, "task-1", got.TaskID)
	require.Equal(t, "skill-1", got.SkillID)
	require.Equal(t, execstore.TaskPending, got.Status)
	require.Equal(t, float64(1), got.Inputs["x"])
	require.True(t, got.CreatedAt.Equal(row.CreatedAt))
	require.Nil(t, got.StartedAt)
	require.Nil(t, got.CompletedAt)
}

func TestGetTaskMissingReturnsNotFoundError(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetTask(context.Background(), "never-created")
	var notFound *execstore.NotFoundError
	require.True(t, errors.As(err, &notFound))
	require.Equal(t, "task", notFound.Kind)
}

func TestUpdateTaskAppliesPartialPatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateTask(ctx, &execstore.TaskRow{
		TaskID: "task-2", SkillID: "skill-2", Status: execstore.TaskPending,
		CreatedAt: time.Now().UTC(),
	}))

	startedAt := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, s.UpdateTask(ctx, "task-2", execstore.TaskPatch{
		Status:    execstore.TaskRunning,
		StartedAt: &startedAt,
	}))

	row, err := s.GetTask(ctx, "task-2")
	require.NoError(t, err)
	require.Equal(t, execstore.TaskRunning, row.Status)
	require.NotNil(t, row.StartedAt)
	require.True(t, row.StartedAt.Equal(startedAt))

	completedAt := startedAt.Add(time.Second)
	require.NoError(t, s.UpdateTask(ctx, "task-2", execstore.TaskPatch{
		Status:               execstore.TaskSuccess,
		Outputs:              map[string]any{"doubled": float64(2)},
		ExecutionTimeSeconds: 1.5,
		ContainerID:          "c-123",
		CompletedAt:          &completedAt,
	}))

	row, err = s.GetTask(ctx, "task-2")
	require.NoError(t, err)
	require.Equal(t, execstore.TaskSuccess, row.Status)
	require.Equal(t, float64(2), row.Outputs["doubled"])
	require.Equal(t, 1.5, row.ExecutionTimeSeconds)
	require.Equal(t, "c-123", row.ContainerID)
	require.NotNil(t, row.CompletedAt)
	// StartedAt must survive an update patch that doesn't touch it.
	require.NotNil(t, row.StartedAt)
	require.True(t, row.StartedAt.Equal(startedAt))
}

func TestUpdateTaskMissingReturnsNotFoundError(t *testing.T) {
	s := newTestStore(t)
	err := s.UpdateTask(context.Background(), "never-created", execstore.TaskPatch{Status: execstore.TaskError})
	var notFound *execstore.NotFoundError
	require.True(t, errors.As(err, &notFound))
}

func TestCreateWorkflowExecutionThenGetRoundTrips(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	row := &execstore.WorkflowExecutionRow{
		ExecutionID: "exec-1",
		WorkflowID:  "wf-1",
		Status:      execstore.WorkflowRunning,
		CreatedAt:   time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, s.CreateWorkflowExecution(ctx, row))

	got, err := s.GetWorkflowExecution(ctx, "exec-1")
	require.NoError(t, err)
	require.Equal(t, execstore.WorkflowRunning, got.Status)
	require.Empty(t, got.Results)
}

func TestUpdateWorkflowExecutionMergesResultsKeyByKey(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateWorkflowExecution(ctx, &execstore.WorkflowExecutionRow{
		ExecutionID: "exec-2", WorkflowID: "wf-2", Status: execstore.WorkflowRunning,
		CreatedAt: time.Now().UTC(),
	}))

	require.NoError(t, s.UpdateWorkflowExecution(ctx, "exec-2", execstore.WorkflowPatch{
		Results: map[string]execstore.StepOutcome{
			"step-a": {Status: execstore.StepSuccess, Outputs: map[string]any{"n": float64(1)}},
		},
	}))
	require.NoError(t, s.UpdateWorkflowExecution(ctx, "exec-2", execstore.WorkflowPatch{
		Results: map[string]execstore.StepOutcome{
			"step-b": {Status: execstore.StepError, Error: "boom"},
		},
	}))

	completedAt := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, s.UpdateWorkflowExecution(ctx, "exec-2", execstore.WorkflowPatch{
		Status:      execstore.WorkflowSuccess,
		CompletedAt: &completedAt,
	}))

	got, err := s.GetWorkflowExecution(ctx, "exec-2")
	require.NoError(t, err)
	require.Equal(t, execstore.WorkflowSuccess, got.Status)
	require.Len(t, got.Results, 2)
	require.Equal(t, execstore.StepSuccess, got.Results["step-a"].Status)
	require.Equal(t, float64(1), got.Results["step-a"].Outputs["n"])
	require.Equal(t, execstore.StepError, got.Results["step-b"].Status)
	require.Equal(t, "boom", got.Results["step-b"].Error)
	require.NotNil(t, got.CompletedAt)
}

func TestUpdateWorkflowExecutionMissingReturnsNotFoundError(t *testing.T) {
	s := newTestStore(t)
	err := s.UpdateWorkflowExecution(context.Background(), "never-created", execstore.WorkflowPatch{Status: execstore.WorkflowError})
	var notFound *execstore.NotFoundError
	require.True(t, errors.As(err, &notFound))
	require.Equal(t, "workflow_execution", notFound.Kind)
}

// TestNewAppliesBusyTimeoutPragmaEvenWithoutWAL guards against a config
// regression where a non-WAL store is opened without the busy_timeout
// pragma that protects concurrent writers from immediate SQLITE_BUSY.
func TestNewAppliesBusyTimeoutPragmaEvenWithoutWAL(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nowal.db")
	s, err := New(Config{Path: dbPath, WAL: false})
	require.NoError(t, err)
	defer s.Close()

	var busyTimeout int
	require.NoError(t, s.db.QueryRowContext(context.Background(), "PRAGMA busy_timeout").Scan(&busyTimeout))
	require.Equal(t, 5000, busyTimeout)

	require.NoError(t, s.CreateTask(context.Background(), &execstore.TaskRow{
		TaskID: "t", SkillID: "s", Status: execstore.TaskPending, CreatedAt: time.Now().UTC(),
	}))
}
