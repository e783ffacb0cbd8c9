// Package errcode defines the stable error taxonomy surfaced to callers of
// the skill runtime and workflow orchestrator.
package errcode

import "fmt"

// Code is a stable, machine-readable error identifier.
type Code string

// Error codes are part of the public contract: callers match on Code, not
// on Error.Error() text.
const (
	SkillNotFound           Code = "SKILL_001"
	SkillExecutionError     Code = "SKILL_002"
	SkillAlreadyExists      Code = "SKILL_REG_001"
	SkillInvalidEncoding    Code = "SKILL_REG_003"
	SkillRegistrationFailed Code = "SKILL_REG_999"
	WorkflowCyclicDeps      Code = "WORKFLOW_002"
	WorkflowExecutionFailed Code = "WORKFLOW_003"
	WorkflowOrchestration   Code = "WORKFLOW_999"
	SkillDiscoveryFailed    Code = "SKILL_DISC_999"
)

// Error is the structured, user-visible error shape. Details is sanitized
// free text: it must never contain a stack trace or an internal path.
type Error struct {
	Code    Code
	Details string
	cause   error
}

// New creates an Error with the given code and detail message.
func New(code Code, details string) *Error {
	return &Error{Code: code, Details: details}
}

// Wrap creates an Error with the given code, recording err as the cause
// without leaking its text into Details unless the caller opts in via msg.
func Wrap(code Code, msg string, err error) *Error {
	return &Error{Code: code, Details: msg, cause: err}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Details)
}

// Unwrap exposes the wrapped cause for errors.Is/As, while Error() itself
// stays sanitized for display to callers.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is reports whether target is an *Error with the same Code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}
