// Package invocation drives a single skill call end to end: resolve the
// skill, persist lifecycle state, run it in the sandbox, and report the
// result synchronously or via task-id polling.
package invocation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/codes"

	"github.com/wishub/skillhub/artifact"
	"github.com/wishub/skillhub/errcode"
	"github.com/wishub/skillhub/execstore"
	"github.com/wishub/skillhub/internal/telemetry"
	"github.com/wishub/skillhub/internal/util"
	"github.com/wishub/skillhub/sandbox"
	"github.com/wishub/skillhub/skill"
)

// Result is what Invoke returns: either a terminal outcome (sync path) or
// an immediate pending marker carrying the task_id to poll (async path).
type Result struct {
	Status        execstore.TaskStatus
	TaskID        string
	Outputs       map[string]any
	ErrorMessage  string
	ExecutionTime time.Duration
}

// Service is the InvocationService.
type Service struct {
	catalog skill.Catalog
	store   artifact.Store
	runner  sandbox.Runner
	execs   execstore.Store
}

// New wires a Service from its four collaborators.
func New(catalog skill.Catalog, store artifact.Store, runner sandbox.Runner, execs execstore.Store) *Service {
	return &Service{catalog: catalog, store: store, runner: runner, execs: execs}
}

// Invoke implements the InvocationService contract. When async is true it
// returns immediately with a pending Result and continues execution on a
// detached goroutine; the caller polls GetTask for the eventual outcome.
func (s *Service) Invoke(
	ctx context.Context,
	skillID string,
	skillVersion string,
	inputs map[string]any,
	timeout time.Duration,
	async bool,
) (Result, error) {
	ctx, span := telemetry.Tracer.Start(ctx, telemetry.SpanInvocationInvoke)
	span.SetAttributes(telemetry.KeySkillID.String(skillID))
	defer span.End()

	var sk *skill.Skill
	var err error
	if skillVersion != "" {
		sk, err = s.catalog.GetVersion(ctx, skillID, skillVersion)
	} else {
		sk, err = s.catalog.Get(ctx, skillID)
	}
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}

	taskID := util.NewUUIDString()
	row := &execstore.TaskRow{
		TaskID:    taskID,
		SkillID:   skillID,
		Status:    execstore.TaskPending,
		Inputs:    inputs,
		CreatedAt: time.Now(),
	}
	if err := s.execs.CreateTask(ctx, row); err != nil {
		return Result{}, fmt.Errorf("creating task row: %w", err)
	}

	effectiveTimeout := time.Duration(sk.EffectiveTimeout(int(timeout.Seconds()))) * time.Second

	if async {
		go func() {
			// Detached from the caller's context/span: the caller has
			// already moved on by the time this runs.
			bgCtx := context.Background()
			s.run(bgCtx, taskID, sk, inputs, effectiveTimeout)
		}()
		return Result{Status: execstore.TaskPending, TaskID: taskID}, nil
	}

	outcome := s.run(ctx, taskID, sk, inputs, effectiveTimeout)
	return Result{
		Status:        outcome.Status,
		TaskID:        taskID,
		Outputs:       outcome.Outputs,
		ErrorMessage:  outcome.ErrorMessage,
		ExecutionTime: outcome.ExecutionTime,
	}, nil
}

// run performs steps (4b) of the algorithm: transition to running, execute
// in the sandbox, map the RunResult into the terminal task state.
func (s *Service) run(ctx context.Context, taskID string, sk *skill.Skill, inputs map[string]any, timeout time.Duration) Result {
	startedAt := time.Now()
	if err := s.execs.UpdateTask(ctx, taskID, execstore.TaskPatch{
		Status:    execstore.TaskRunning,
		StartedAt: &startedAt,
	}); err != nil {
		return s.finishError(ctx, taskID, startedAt, fmt.Sprintf("persisting running state: %v", err))
	}

	code, err := s.store.Fetch(ctx, sk.CodePointer)
	if err != nil {
		return s.finishError(ctx, taskID, startedAt, fmt.Sprintf("fetching code blob: %v", err))
	}

	result, err := s.runner.Execute(ctx, sk.SkillID, sk.Language, code, inputs, timeout)
	if err != nil {
		return s.finishError(ctx, taskID, startedAt, err.Error())
	}

	completedAt := time.Now()
	elapsed := completedAt.Sub(startedAt)

	var status execstore.TaskStatus
	switch result.Status {
	case sandbox.RunSuccess:
		status = execstore.TaskSuccess
	case sandbox.RunTimeout:
		status = execstore.TaskTimeout
	default:
		status = execstore.TaskError
	}

	patch := execstore.TaskPatch{
		Status:               status,
		Outputs:              result.Outputs,
		ErrorMessage:         result.ErrorMessage,
		ExecutionTimeSeconds: elapsed.Seconds(),
		ContainerID:          result.ContainerID,
		CompletedAt:          &completedAt,
	}
	if updErr := s.execs.UpdateTask(ctx, taskID, patch); updErr != nil {
		return Result{Status: execstore.TaskError, ErrorMessage: fmt.Sprintf("persisting terminal state: %v", updErr)}
	}
	return Result{
		Status:        status,
		Outputs:       result.Outputs,
		ErrorMessage:  result.ErrorMessage,
		ExecutionTime: elapsed,
	}
}

func (s *Service) finishError(ctx context.Context, taskID string, startedAt time.Time, message string) Result {
	completedAt := time.Now()
	_ = s.execs.UpdateTask(ctx, taskID, execstore.TaskPatch{
		Status:               execstore.TaskError,
		ErrorMessage:         message,
		ExecutionTimeSeconds: completedAt.Sub(startedAt).Seconds(),
		CompletedAt:          &completedAt,
	})
	return Result{Status: execstore.TaskError, ErrorMessage: message, ExecutionTime: completedAt.Sub(startedAt)}
}

// GetTask implements the async task status query: it returns the current
// row verbatim, with no implicit cancellation of in-flight async tasks.
func (s *Service) GetTask(ctx context.Context, taskID string) (*execstore.TaskRow, error) {
	row, err := s.execs.GetTask(ctx, taskID)
	if err != nil {
		var notFound *execstore.NotFoundError
		if errors.As(err, &notFound) {
			return nil, errcode.New(errcode.SkillNotFound, fmt.Sprintf("task %q", taskID))
		}
		return nil, errcode.Wrap(errcode.SkillExecutionError, fmt.Sprintf("task %q", taskID), err)
	}
	return row, nil
}
