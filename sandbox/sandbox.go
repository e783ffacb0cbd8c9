// Package sandbox runs one skill invocation inside a hermetic, ephemeral
// container and reports back a RunResult. Sandbox errors are captured here
// and returned as data — they never propagate as exceptions to the caller.
package sandbox

import (
	"context"
	"time"

	"github.com/wishub/skillhub/skill"
)

// RunStatus is the terminal outcome of one sandboxed execution.
type RunStatus string

// The three outcomes execute can report, matching the task row's terminal
// statuses minus "pending"/"running" (those belong to the invocation
// service, not the sandbox).
const (
	RunSuccess RunStatus = "success"
	RunTimeout RunStatus = "timeout"
	RunError   RunStatus = "error"
)

// RunResult is the outcome of one SandboxRunner.Execute call.
type RunResult struct {
	Status       RunStatus
	Outputs      map[string]any
	ErrorMessage string
	ContainerID  string
}

// Runner is the contract the invocation service depends on. Execute never
// retries; retry policy belongs to the caller. skillID is used only to
// derive the container name (skill_<skill_id>_<short_uuid>) and trace
// attributes; it is not part of the sandboxed execution itself.
type Runner interface {
	Execute(ctx context.Context, skillID string, language skill.Language, codeBlob []byte,
		inputs map[string]any, timeout time.Duration) (RunResult, error)
}

// resource limits applied to every container, per the isolation policy.
const (
	memoryLimitBytes = 512 * 1024 * 1024 // 512 MiB
	cpuShareWeight   = 512               // relative weight, default half of 1024
	sandboxEnvVar    = "WISHUB_SKILL=true"
)
