// Package inmemory is an execstore.Store backed by process memory, suitable
// for tests and single-node deployments without durable restart semantics.
package inmemory

import (
	"context"
	"sync"

	"github.com/wishub/skillhub/execstore"
)

// Store keeps task and workflow execution rows in memory.
type Store struct {
	mu        sync.Mutex
	tasks     map[string]*execstore.TaskRow
	workflows map[string]*execstore.WorkflowExecutionRow
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		tasks:     make(map[string]*execstore.TaskRow),
		workflows: make(map[string]*execstore.WorkflowExecutionRow),
	}
}

// CreateTask implements execstore.Store.
func (s *Store) CreateTask(_ context.Context, row *execstore.TaskRow) error {
	cp := *row
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[row.TaskID] = &cp
	return nil
}

// UpdateTask implements execstore.Store.
func (s *Store) UpdateTask(_ context.Context, taskID string, patch execstore.TaskPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.tasks[taskID]
	if !ok {
		return &execstore.NotFoundError{Kind: "task", ID: taskID}
	}
	applyTaskPatch(row, patch)
	return nil
}

func applyTaskPatch(row *execstore.TaskRow, patch execstore.TaskPatch) {
	row.Status = patch.Status
	if patch.Outputs != nil {
		row.Outputs = patch.Outputs
	}
	if patch.ErrorMessage != "" {
		row.ErrorMessage = patch.ErrorMessage
	}
	if patch.ExecutionTimeSeconds != 0 {
		row.ExecutionTimeSeconds = patch.ExecutionTimeSeconds
	}
	if patch.ContainerID != "" {
		row.ContainerID = patch.ContainerID
	}
	if patch.StartedAt != nil {
		row.StartedAt = patch.StartedAt
	}
	if patch.CompletedAt != nil {
		row.CompletedAt = patch.CompletedAt
	}
}

// GetTask implements execstore.Store.
func (s *Store) GetTask(_ context.Context, taskID string) (*execstore.TaskRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.tasks[taskID]
	if !ok {
		return nil, &execstore.NotFoundError{Kind: "task", ID: taskID}
	}
	cp := *row
	return &cp, nil
}

// CreateWorkflowExecution implements execstore.Store.
func (s *Store) CreateWorkflowExecution(_ context.Context, row *execstore.WorkflowExecutionRow) error {
	cp := *row
	if cp.Results == nil {
		cp.Results = make(map[string]execstore.StepOutcome)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workflows[row.ExecutionID] = &cp
	return nil
}

// UpdateWorkflowExecution implements execstore.Store. Results are merged
// key-by-key so concurrent step completions in the same hybrid-mode layer
// don't clobber each other.
func (s *Store) UpdateWorkflowExecution(_ context.Context, executionID string, patch execstore.WorkflowPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.workflows[executionID]
	if !ok {
		return &execstore.NotFoundError{Kind: "workflow_execution", ID: executionID}
	}
	if patch.Status != "" {
		row.Status = patch.Status
	}
	for stepID, outcome := range patch.Results {
		row.Results[stepID] = outcome
	}
	if patch.ErrorMessage != "" {
		row.ErrorMessage = patch.ErrorMessage
	}
	if patch.ExecutionTimeSeconds != 0 {
		row.ExecutionTimeSeconds = patch.ExecutionTimeSeconds
	}
	if patch.CompletedAt != nil {
		row.CompletedAt = patch.CompletedAt
	}
	return nil
}

// GetWorkflowExecution implements execstore.Store.
func (s *Store) GetWorkflowExecution(_ context.Context, executionID string) (*execstore.WorkflowExecutionRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.workflows[executionID]
	if !ok {
		return nil, &execstore.NotFoundError{Kind: "workflow_execution", ID: executionID}
	}
	cp := *row
	results := make(map[string]execstore.StepOutcome, len(row.Results))
	for k, v := range row.Results {
		results[k] = v
	}
	cp.Results = results
	return &cp, nil
}
