// Package workflow implements DAG validation, reference resolution, and
// multi-mode orchestration of a workflow's steps, each a skill invocation.
package workflow

import (
	"context"
	"fmt"
	"sync"
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

// Orchestrator runs a workflow's steps according to its execution mode and
// persists the resulting WorkflowExecution row.
type Orchestrator struct {
	catalog   skill.Catalog
	store     artifact.Store
	runner    sandbox.Runner
	execs     execstore.Store
	validator *GraphValidator
	resolver  *ReferenceResolver
}

// New wires an Orchestrator from its collaborators.
func New(catalog skill.Catalog, store artifact.Store, runner sandbox.Runner, execs execstore.Store) *Orchestrator {
	return &Orchestrator{
		catalog:   catalog,
		store:     store,
		runner:    runner,
		execs:     execs,
		validator: NewGraphValidator(),
		resolver:  NewReferenceResolver(),
	}
}

// resultSet is a mutex-guarded results map safe for concurrent step
// completions, per the single-writer recommendation in the design notes.
type resultSet struct {
	mu      sync.Mutex
	results map[string]execstore.StepOutcome
}

func newResultSet() *resultSet {
	return &resultSet{results: make(map[string]execstore.StepOutcome)}
}

func (r *resultSet) set(stepID string, outcome execstore.StepOutcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results[stepID] = outcome
}

// snapshot returns a shallow copy safe to hand to the ReferenceResolver
// without holding the lock while resolution runs.
func (r *resultSet) snapshot() map[string]execstore.StepOutcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := make(map[string]execstore.StepOutcome, len(r.results))
	for k, v := range r.results {
		cp[k] = v
	}
	return cp
}

// Run implements the Orchestrator contract.
func (o *Orchestrator) Run(ctx context.Context, workflowID string, def *Definition, mode Mode, overallTimeout time.Duration) (*execstore.WorkflowExecutionRow, error) {
	ctx, span := telemetry.Tracer.Start(ctx, telemetry.SpanOrchestratorRun)
	span.SetAttributes(
		telemetry.KeyWorkflowID.String(workflowID),
		telemetry.KeyMode.String(string(mode)),
	)
	defer span.End()

	executionID := util.NewUUIDString()
	start := time.Now()

	// Precondition (1): steps non-empty.
	if err := def.Validate(); err != nil {
		return o.persistPrecheckFailure(ctx, executionID, workflowID, start,
			errcode.New(errcode.WorkflowOrchestration, err.Error()))
	}

	// Precondition (2): GraphValidator succeeds.
	validation := o.validator.Validate(def)
	if !validation.Valid {
		code := errcode.WorkflowOrchestration
		if validation.Reason == "cyclic dependency" {
			code = errcode.WorkflowCyclicDeps
		}
		span.SetStatus(codes.Error, validation.Reason)
		return o.persistPrecheckFailure(ctx, executionID, workflowID, start,
			errcode.New(code, validation.Reason))
	}

	if !mode.Valid() {
		return o.persistPrecheckFailure(ctx, executionID, workflowID, start,
			errcode.New(errcode.WorkflowOrchestration, fmt.Sprintf("unsupported execution mode %q", mode)))
	}

	// Precondition (3): execution row created in running.
	row := &execstore.WorkflowExecutionRow{
		ExecutionID: executionID,
		WorkflowID:  workflowID,
		Status:      execstore.WorkflowRunning,
		Results:     map[string]execstore.StepOutcome{},
		CreatedAt:   start,
	}
	if err := o.execs.CreateWorkflowExecution(ctx, row); err != nil {
		return nil, fmt.Errorf("persisting workflow execution row: %w", err)
	}

	rs := newResultSet()
	deadline := start.Add(overallTimeout)

	var timedOut bool
	switch mode {
	case ModeSequential:
		timedOut = o.runSequential(ctx, def, rs, deadline)
	case ModeParallel:
		timedOut = o.runParallel(ctx, def, rs, deadline)
	case ModeHybrid:
		timedOut = o.runHybrid(ctx, def, validation.Layers, rs, deadline)
	}

	completedAt := time.Now()
	finalResults := rs.snapshot()

	// A workflow reaches WorkflowSuccess as long as every step reached some
	// terminal status, success or handled error alike: step failures are
	// captured data, not escalated to the workflow outcome. Only a timeout
	// or a step never reaching a terminal status marks the workflow itself
	// as an error.
	status := execstore.WorkflowSuccess
	if timedOut {
		status = execstore.WorkflowTimeout
	} else {
		for _, step := range def.Steps {
			if _, ok := finalResults[step.StepID]; !ok {
				status = execstore.WorkflowError
				break
			}
		}
	}

	patch := execstore.WorkflowPatch{
		Status:               status,
		Results:              finalResults,
		ExecutionTimeSeconds: completedAt.Sub(start).Seconds(),
		CompletedAt:          &completedAt,
	}
	if status == execstore.WorkflowError {
		patch.ErrorMessage = "one or more steps never reached a terminal status"
	}
	if err := o.execs.UpdateWorkflowExecution(ctx, executionID, patch); err != nil {
		return nil, fmt.Errorf("persisting workflow execution result: %w", err)
	}

	row.Status = status
	row.Results = finalResults
	row.ExecutionTimeSeconds = patch.ExecutionTimeSeconds
	row.CompletedAt = &completedAt
	row.ErrorMessage = patch.ErrorMessage
	return row, nil
}

// GetExecution returns the current workflow execution row verbatim, for
// the GET /workflow/{execution_id} polling endpoint.
func (o *Orchestrator) GetExecution(ctx context.Context, executionID string) (*execstore.WorkflowExecutionRow, error) {
	return o.execs.GetWorkflowExecution(ctx, executionID)
}

// persistPrecheckFailure persists a terminal error row for a workflow that
// never ran a single step, per "failing any precondition yields a terminal
// error status... and no step is executed."
func (o *Orchestrator) persistPrecheckFailure(ctx context.Context, executionID, workflowID string, start time.Time, precheckErr *errcode.Error) (*execstore.WorkflowExecutionRow, error) {
	completedAt := time.Now()
	row := &execstore.WorkflowExecutionRow{
		ExecutionID:          executionID,
		WorkflowID:           workflowID,
		Status:               execstore.WorkflowError,
		Results:              map[string]execstore.StepOutcome{},
		ErrorMessage:         precheckErr.Error(),
		ExecutionTimeSeconds: completedAt.Sub(start).Seconds(),
		CreatedAt:            start,
		CompletedAt:          &completedAt,
	}
	if err := o.execs.CreateWorkflowExecution(ctx, row); err != nil {
		return nil, fmt.Errorf("persisting precheck failure: %w", err)
	}
	return row, precheckErr
}

// runSequential runs steps strictly in declaration order. A step failure
// does not abort subsequent steps; it is recorded and execution continues.
func (o *Orchestrator) runSequential(ctx context.Context, def *Definition, rs *resultSet, deadline time.Time) (timedOut bool) {
	for _, step := range def.Steps {
		if time.Now().After(deadline) {
			return true
		}
		outcome := o.runStep(ctx, step, rs.snapshot())
		rs.set(step.StepID, outcome)
	}
	return false
}

// runParallel launches every dependency-free step concurrently, then runs
// any step that declares dependencies serially as a fallback, per the
// contract's "assumes the caller knows the workflow is embarrassingly
// parallel."
func (o *Orchestrator) runParallel(ctx context.Context, def *Definition, rs *resultSet, deadline time.Time) (timedOut bool) {
	var independent, dependent []Step
	for _, step := range def.Steps {
		if len(step.DependsOn) == 0 {
			independent = append(independent, step)
		} else {
			dependent = append(dependent, step)
		}
	}

	if time.Now().After(deadline) {
		return true
	}
	var wg sync.WaitGroup
	for _, step := range independent {
		step := step
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome := o.runStep(ctx, step, rs.snapshot())
			rs.set(step.StepID, outcome)
		}()
	}
	wg.Wait()

	for _, step := range dependent {
		if time.Now().After(deadline) {
			return true
		}
		outcome := o.runStep(ctx, step, rs.snapshot())
		rs.set(step.StepID, outcome)
	}
	return false
}

// runHybrid schedules layer by layer: every node in a layer is launched
// concurrently and awaited before the next layer starts. A node becomes
// eligible once every dependency has reached a terminal state, including a
// failed one — descendants still run, with a StepOutcome{status: error}
// visible to them via reference resolution.
func (o *Orchestrator) runHybrid(ctx context.Context, def *Definition, layers [][]string, rs *resultSet, deadline time.Time) (timedOut bool) {
	byID := make(map[string]Step, len(def.Steps))
	for _, step := range def.Steps {
		byID[step.StepID] = step
	}

	for _, layer := range layers {
		if time.Now().After(deadline) {
			return true
		}
		var wg sync.WaitGroup
		for _, stepID := range layer {
			step := byID[stepID]
			wg.Add(1)
			go func() {
				defer wg.Done()
				outcome := o.runStep(ctx, step, rs.snapshot())
				rs.set(step.StepID, outcome)
			}()
		}
		wg.Wait()
	}
	return false
}

// runStep resolves skill + references and executes one step, per the
// contract's per-step algorithm. It never returns an error: failures are
// captured as a StepOutcome, matching the propagation policy that sandbox
// and validation failures stay structured data, never exceptions.
func (o *Orchestrator) runStep(ctx context.Context, step Step, results map[string]execstore.StepOutcome) execstore.StepOutcome {
	ctx, span := telemetry.Tracer.Start(ctx, telemetry.SpanOrchestratorStep)
	span.SetAttributes(telemetry.KeyStepID.String(step.StepID), telemetry.KeySkillID.String(step.SkillID))
	defer span.End()

	sk, err := o.catalog.Get(ctx, step.SkillID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return execstore.StepOutcome{Status: execstore.StepError, Error: err.Error()}
	}

	resolved, _ := o.resolver.Resolve(map[string]any(step.Inputs), results).(map[string]any)

	code, err := o.store.Fetch(ctx, sk.CodePointer)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return execstore.StepOutcome{Status: execstore.StepError, Error: fmt.Sprintf("fetching code blob: %v", err)}
	}

	timeout := time.Duration(sk.DefaultTimeoutSeconds) * time.Second
	result, err := o.runner.Execute(ctx, step.SkillID, sk.Language, code, resolved, timeout)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return execstore.StepOutcome{Status: execstore.StepError, Error: err.Error()}
	}

	switch result.Status {
	case sandbox.RunSuccess:
		return execstore.StepOutcome{Status: execstore.StepSuccess, Outputs: result.Outputs}
	case sandbox.RunTimeout:
		return execstore.StepOutcome{Status: execstore.StepTimeout}
	default:
		return execstore.StepOutcome{Status: execstore.StepError, Error: result.ErrorMessage}
	}
}
