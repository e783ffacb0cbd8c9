package workflow

import (
	"fmt"
	"regexp"

	"github.com/wishub/skillhub/execstore"
)

// placeholderPattern matches {{IDENT.IDENT}} tokens with word characters
// on both sides of the dot, per the ReferenceResolver contract.
var placeholderPattern = regexp.MustCompile(`\{\{(\w+)\.(\w+)\}\}`)

// ReferenceResolver substitutes {{step_id.field}} tokens in step inputs
// with values from prior steps' outputs.
type ReferenceResolver struct{}

// NewReferenceResolver returns a ReferenceResolver. It is stateless.
func NewReferenceResolver() *ReferenceResolver { return &ReferenceResolver{} }

// Resolve walks inputs (a JSON-like value: scalar, []any, or map[string]any)
// and returns a copy with every placeholder replaced by the referenced
// step's output value, stringified. A reference into a step that hasn't
// succeeded (or doesn't exist in results) is left as the literal token,
// per the reference implementation's documented choice in the spec's Open
// Questions. Resolve returns only the resolved value; it does not report
// which references were left unresolved.
func (r *ReferenceResolver) Resolve(inputs any, results map[string]execstore.StepOutcome) any {
	switch v := inputs.(type) {
	case string:
		return r.resolveString(v, results)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			out[k] = r.Resolve(val, results)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, val := range v {
			out[i] = r.Resolve(val, results)
		}
		return out
	default:
		return v
	}
}

// resolveString replaces every placeholder in s in a single pass; the
// substituted text is never re-scanned for further placeholders.
func (r *ReferenceResolver) resolveString(s string, results map[string]execstore.StepOutcome) string {
	return placeholderPattern.ReplaceAllStringFunc(s, func(token string) string {
		m := placeholderPattern.FindStringSubmatch(token)
		stepID, field := m[1], m[2]

		outcome, ok := results[stepID]
		if !ok || outcome.Status != execstore.StepSuccess {
			return token
		}
		value, ok := outcome.Outputs[field]
		if !ok {
			return token
		}
		return fmt.Sprintf("%v", value)
	})
}
