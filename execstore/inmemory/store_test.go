package inmemory

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wishub/skillhub/execstore"
)

func TestTaskLifecycle(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.CreateTask(ctx, &execstore.TaskRow{TaskID: "t1", Status: execstore.TaskPending}))

	require.NoError(t, s.UpdateTask(ctx, "t1", execstore.TaskPatch{
		Status:  execstore.TaskSuccess,
		Outputs: map[string]any{"x": 1},
	}))

	row, err := s.GetTask(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, execstore.TaskSuccess, row.Status)
	require.Equal(t, 1, row.Outputs["x"])
}

func TestUpdateTaskUnknownIDReturnsNotFound(t *testing.T) {
	s := New()
	err := s.UpdateTask(context.Background(), "ghost", execstore.TaskPatch{Status: execstore.TaskError})
	require.Error(t, err)
	var nf *execstore.NotFoundError
	require.ErrorAs(t, err, &nf)
}

func TestGetTaskReturnsACopyNotAnAlias(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.CreateTask(ctx, &execstore.TaskRow{TaskID: "t1", Status: execstore.TaskPending}))

	row, err := s.GetTask(ctx, "t1")
	require.NoError(t, err)
	row.Status = execstore.TaskError

	fresh, err := s.GetTask(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, execstore.TaskPending, fresh.Status, "mutating a returned row must not affect the store")
}

func TestUpdateWorkflowExecutionMergesResultsKeyByKey(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.CreateWorkflowExecution(ctx, &execstore.WorkflowExecutionRow{
		ExecutionID: "e1", Status: execstore.WorkflowRunning,
	}))

	require.NoError(t, s.UpdateWorkflowExecution(ctx, "e1", execstore.WorkflowPatch{
		Results: map[string]execstore.StepOutcome{"s1": {Status: execstore.StepSuccess}},
	}))
	require.NoError(t, s.UpdateWorkflowExecution(ctx, "e1", execstore.WorkflowPatch{
		Results: map[string]execstore.StepOutcome{"s2": {Status: execstore.StepError}},
	}))

	row, err := s.GetWorkflowExecution(ctx, "e1")
	require.NoError(t, err)
	require.Len(t, row.Results, 2, "results from separate patches must accumulate, not overwrite each other")
	require.Equal(t, execstore.StepSuccess, row.Results["s1"].Status)
	require.Equal(t, execstore.StepError, row.Results["s2"].Status)
}

func TestConcurrentWorkflowResultUpdatesAreSafe(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.CreateWorkflowExecution(ctx, &execstore.WorkflowExecutionRow{
		ExecutionID: "e2", Status: execstore.WorkflowRunning,
	}))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			stepID := string(rune('a' + i))
			_ = s.UpdateWorkflowExecution(ctx, "e2", execstore.WorkflowPatch{
				Results: map[string]execstore.StepOutcome{stepID: {Status: execstore.StepSuccess}},
			})
		}()
	}
	wg.Wait()

	row, err := s.GetWorkflowExecution(ctx, "e2")
	require.NoError(t, err)
	require.Len(t, row.Results, 20)
}
