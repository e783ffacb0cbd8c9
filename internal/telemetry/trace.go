// Package telemetry provides the tracing conventions shared by the sandbox
// runner and the workflow orchestrator.
package telemetry

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Service identity reported on the trace resource.
const (
	ServiceName    = "skillhub"
	InstrumentName = "github.com/wishub/skillhub"
)

// Span names for the operations that matter to an operator reading traces:
// one sandbox execution, one workflow run, one step within that run.
const (
	SpanSandboxExecute    = "sandbox.execute"
	SpanInvocationInvoke  = "invocation.invoke"
	SpanOrchestratorRun   = "orchestrator.run"
	SpanOrchestratorStep  = "orchestrator.step"
	SpanReferenceResolve  = "reference.resolve"
)

// Attribute keys attached to the spans above.
var (
	KeySkillID      = attribute.Key("skill.id")
	KeySkillVersion = attribute.Key("skill.version")
	KeyLanguage     = attribute.Key("skill.language")
	KeyTaskID       = attribute.Key("task.id")
	KeyContainerID  = attribute.Key("container.id")
	KeyStepID       = attribute.Key("step.id")
	KeyWorkflowID   = attribute.Key("workflow.id")
	KeyExecutionID  = attribute.Key("execution.id")
	KeyMode         = attribute.Key("execution.mode")
	KeyStatus       = attribute.Key("status")
	KeyErrorMessage = attribute.Key("error.message")
)

// Tracer is the package-level tracer used by every span start in skillhub.
var Tracer trace.Tracer = otel.Tracer(InstrumentName)
