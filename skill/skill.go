// Package skill defines skill metadata, the registered-skill catalog, and
// the (skill_id, version) registration flow that the sandbox runner and the
// workflow orchestrator both depend on.
package skill

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// Language is a supported skill runtime language. The sandbox runner has a
// fixed, language-pinned base image and entrypoint for each of these.
type Language string

// Supported languages, matching the sandbox's base-image table.
const (
	LanguagePython     Language = "python"
	LanguageTypeScript Language = "typescript"
	LanguageGo         Language = "go"
	LanguageJava       Language = "java"
	LanguageRust       Language = "rust"
)

// Valid reports whether l is one of the languages the sandbox can run.
func (l Language) Valid() bool {
	switch l {
	case LanguagePython, LanguageTypeScript, LanguageGo, LanguageJava, LanguageRust:
		return true
	default:
		return false
	}
}

// Default and bound timeouts, in seconds, for a skill's declared
// DefaultTimeoutSeconds.
const (
	MinTimeoutSeconds = 1
	MaxTimeoutSeconds = 300
)

// Metadata is free-form descriptive information about a skill. None of it
// is interpreted by the runtime.
type Metadata struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Author      string `json:"author"`
	License     string `json:"license"`
	Category    string `json:"category"`
}

// Skill is the registered metadata for one (skill_id, "latest") pointer.
// CodePointer is resolved by an artifact.Store and is opaque to this
// package: skillhub never interprets its contents.
type Skill struct {
	SkillID               string          `json:"skill_id"`
	Version               string          `json:"version"`
	Language              Language        `json:"language"`
	CodePointer           string          `json:"code_pointer"`
	Dependencies          []string        `json:"dependencies,omitempty"`
	InputSchema           json.RawMessage `json:"input_schema,omitempty"`
	OutputSchema          json.RawMessage `json:"output_schema,omitempty"`
	DefaultTimeoutSeconds int             `json:"default_timeout_seconds"`
	Metadata              Metadata        `json:"metadata"`
}

// Validate checks the invariants a Skill row must satisfy before it is
// admitted to the catalog. Schema validation is intentionally out of
// scope (see the registration Non-goal) — InputSchema/OutputSchema are
// stored verbatim and never interpreted here.
func (s *Skill) Validate() error {
	if s.SkillID == "" {
		return fmt.Errorf("skill_id is required")
	}
	if !s.Language.Valid() {
		return fmt.Errorf("unsupported language %q", s.Language)
	}
	if _, err := semver.NewVersion(s.Version); err != nil {
		return fmt.Errorf("invalid semver version %q: %w", s.Version, err)
	}
	if s.DefaultTimeoutSeconds < MinTimeoutSeconds || s.DefaultTimeoutSeconds > MaxTimeoutSeconds {
		return fmt.Errorf("default_timeout_seconds must be in [%d,%d], got %d",
			MinTimeoutSeconds, MaxTimeoutSeconds, s.DefaultTimeoutSeconds)
	}
	return nil
}

// EffectiveTimeout returns the smaller of the caller-requested timeout and
// the skill's own default, clamped to the valid range. A requested timeout
// of 0 means "use the skill default".
func (s *Skill) EffectiveTimeout(requested int) int {
	t := s.DefaultTimeoutSeconds
	if requested > 0 && requested < t {
		t = requested
	}
	if t < MinTimeoutSeconds {
		t = MinTimeoutSeconds
	}
	if t > MaxTimeoutSeconds {
		t = MaxTimeoutSeconds
	}
	return t
}

// NewerThan reports whether s's version outranks other's under semver
// precedence, used when resolving a skill's "latest" pointer.
func (s *Skill) NewerThan(other *Skill) (bool, error) {
	sv, err := semver.NewVersion(s.Version)
	if err != nil {
		return false, err
	}
	ov, err := semver.NewVersion(other.Version)
	if err != nil {
		return false, err
	}
	return sv.GreaterThan(ov), nil
}

// DecodeCode decodes a base64-encoded code blob submitted at registration
// time. Registration rejects anything that doesn't decode cleanly with
// errcode.SkillInvalidEncoding (see Register in registry.go).
func DecodeCode(encoded string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(encoded)
}
