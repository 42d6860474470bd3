package boundary

import (
	"fmt"
	"strings"

	"github.com/macforge/pluginkit"
)

// sizeScan enforces the resource bounds: script length, parameter
// count, and nesting depth of structured parameter defaults. All three
// are mandatory at every security level.
func (v *Validator) sizeScan(content pluginkit.ScriptContent, meta pluginkit.Metadata) (*Result, []Finding) {
	if n := len(content.Source()); n > v.cfg.MaxScriptBytes {
		return &Result{
			Valid:  false,
			RuleID: RuleScriptSize,
			Reason: fmt.Sprintf("script is %d bytes, limit is %d", n, v.cfg.MaxScriptBytes),
		}, nil
	}

	if n := len(meta.Parameters); n > v.cfg.MaxParameters {
		return &Result{
			Valid:  false,
			RuleID: RuleParamCount,
			Reason: fmt.Sprintf("%d parameters declared, limit is %d", n, v.cfg.MaxParameters),
		}, nil
	}

	for _, p := range meta.Parameters {
		if p.Default == nil {
			continue
		}
		if depth := valueDepth(p.Default); depth > v.cfg.MaxDepth {
			return &Result{
				Valid:  false,
				RuleID: RuleNestingDepth,
				Reason: fmt.Sprintf("parameter %q default nests %d levels deep, limit is %d", p.Name, depth, v.cfg.MaxDepth),
			}, nil
		}
	}

	return nil, nil
}

// valueDepth measures nesting of a structured value: scalars are depth
// one, each containing map or slice adds a level.
func valueDepth(v any) int {
	switch val := v.(type) {
	case map[string]any:
		max := 0
		for _, child := range val {
			if d := valueDepth(child); d > max {
				max = d
			}
		}
		return max + 1
	case []any:
		max := 0
		for _, child := range val {
			if d := valueDepth(child); d > max {
				max = d
			}
		}
		return max + 1
	default:
		return 1
	}
}

// namingScan re-checks the identity charset at the boundary and keeps
// reserved and system-colliding names out of the install tree. The
// charset re-check is deliberate: the type layer enforces it too, but
// the boundary must hold even if a future caller constructs values
// another way.
func (v *Validator) namingScan(_ pluginkit.ScriptContent, meta pluginkit.Metadata) (*Result, []Finding) {
	id := meta.Identity

	for _, part := range []string{id.Name, id.Namespace} {
		if !nameCharsetOK(part) {
			return &Result{
				Valid:  false,
				RuleID: RuleNameCharset,
				Reason: fmt.Sprintf("%q contains characters outside the allowed charset", part),
			}, nil
		}
	}

	if _, ok := v.reserved[id.Name]; ok {
		return &Result{
			Valid:  false,
			RuleID: RuleNameReserved,
			Reason: fmt.Sprintf("plugin name %q is reserved", id.Name),
		}, nil
	}
	if _, ok := v.reserved[id.Namespace]; ok {
		return &Result{
			Valid:  false,
			RuleID: RuleNameReserved,
			Reason: fmt.Sprintf("namespace %q is reserved", id.Namespace),
		}, nil
	}
	if strings.HasPrefix(id.Namespace, "com-apple") {
		return &Result{
			Valid:  false,
			RuleID: RuleNameReserved,
			Reason: fmt.Sprintf("namespace %q collides with a system namespace", id.Namespace),
		}, nil
	}

	return nil, nil
}

// nameCharsetOK mirrors the identity charset without depending on the
// type layer's internals.
func nameCharsetOK(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
		case r == '-' && i > 0:
		default:
			return false
		}
	}
	return true
}
