// Package bundle holds the pure transformation functions of the plugin
// pipeline: normalizing raw submissions into metadata, compiling
// metadata and script content into an installable bundle, and computing
// install and removal plans as data. Nothing in this package performs
// I/O; the install package executes the plans it produces.
package bundle

import (
	"fmt"

	"github.com/macforge/pluginkit"
)

// Submission is the raw, untrusted shape a caller hands to the
// pipeline. Fields are normalized and validated by BuildMetadata
// before anything else sees them.
type Submission struct {
	Name        string                  `json:"name" yaml:"name"`
	Namespace   string                  `json:"namespace,omitempty" yaml:"namespace,omitempty"`
	Description string                  `json:"description,omitempty" yaml:"description,omitempty"`
	Kind        pluginkit.ScriptKind    `json:"kind" yaml:"kind"`
	Script      string                  `json:"script" yaml:"script"`
	Parameters  []pluginkit.Parameter   `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	Output      pluginkit.OutputMode    `json:"output,omitempty" yaml:"output,omitempty"`
	Security    pluginkit.SecurityLevel `json:"security,omitempty" yaml:"security,omitempty"`
}

// BuildMetadata normalizes and validates the structural shape of a raw
// submission: identity charset, parameter uniqueness, declared types.
// It is independent of the security scanning done by the boundary
// package. Structural failures come back as RejectionError values with
// stable rule identifiers.
func BuildMetadata(sub Submission) (pluginkit.Metadata, error) {
	identity, err := pluginkit.NewIdentity(sub.Name, sub.Namespace)
	if err != nil {
		return pluginkit.Metadata{}, err
	}

	output := sub.Output
	if output == "" {
		output = pluginkit.OutputText
	}
	if !output.Valid() {
		return pluginkit.Metadata{}, &pluginkit.RejectionError{
			Identity: identity,
			RuleID:   RuleOutputMode,
			Reason:   fmt.Sprintf("unsupported output mode %q", sub.Output),
		}
	}

	security := sub.Security
	if security == "" {
		security = pluginkit.SecurityMedium
	}
	if !security.Valid() {
		return pluginkit.Metadata{}, &pluginkit.RejectionError{
			Identity: identity,
			RuleID:   RuleSecurityLevel,
			Reason:   fmt.Sprintf("unsupported security level %q", sub.Security),
		}
	}

	if len(sub.Parameters) > pluginkit.MaxParameters {
		return pluginkit.Metadata{}, &pluginkit.RejectionError{
			Identity: identity,
			RuleID:   RuleParamCount,
			Reason:   fmt.Sprintf("%d parameters exceeds the limit of %d", len(sub.Parameters), pluginkit.MaxParameters),
		}
	}

	seen := make(map[string]struct{}, len(sub.Parameters))
	params := make([]pluginkit.Parameter, 0, len(sub.Parameters))
	for _, p := range sub.Parameters {
		if p.Name == "" {
			return pluginkit.Metadata{}, &pluginkit.RejectionError{
				Identity: identity,
				RuleID:   RuleParamName,
				Reason:   "parameter name is empty",
			}
		}
		if _, dup := seen[p.Name]; dup {
			return pluginkit.Metadata{}, &pluginkit.RejectionError{
				Identity: identity,
				RuleID:   RuleParamName,
				Reason:   fmt.Sprintf("duplicate parameter name %q", p.Name),
			}
		}
		seen[p.Name] = struct{}{}

		if !p.Type.Valid() {
			return pluginkit.Metadata{}, &pluginkit.RejectionError{
				Identity: identity,
				RuleID:   RuleParamType,
				Reason:   fmt.Sprintf("parameter %q has unsupported type %q", p.Name, p.Type),
			}
		}
		if p.Default != nil {
			if p.Required {
				return pluginkit.Metadata{}, &pluginkit.RejectionError{
					Identity: identity,
					RuleID:   RuleParamDefault,
					Reason:   fmt.Sprintf("required parameter %q must not declare a default", p.Name),
				}
			}
			if err := checkDefaultType(p); err != nil {
				return pluginkit.Metadata{}, &pluginkit.RejectionError{
					Identity: identity,
					RuleID:   RuleParamDefault,
					Reason:   err.Error(),
				}
			}
		}
		params = append(params, p)
	}

	return pluginkit.Metadata{
		Identity:    identity,
		Description: sub.Description,
		Parameters:  params,
		Output:      output,
		Security:    security,
	}, nil
}

// checkDefaultType verifies a parameter default matches its declared
// type. JSON-typed parameters accept any value; the boundary validator
// separately bounds their nesting depth.
func checkDefaultType(p pluginkit.Parameter) error {
	switch p.Type {
	case pluginkit.ParamString:
		if _, ok := p.Default.(string); !ok {
			return fmt.Errorf("parameter %q default is not a string", p.Name)
		}
	case pluginkit.ParamNumber:
		switch p.Default.(type) {
		case int, int64, float64:
		default:
			return fmt.Errorf("parameter %q default is not a number", p.Name)
		}
	case pluginkit.ParamBoolean:
		if _, ok := p.Default.(bool); !ok {
			return fmt.Errorf("parameter %q default is not a boolean", p.Name)
		}
	case pluginkit.ParamJSON:
		// any value allowed
	}
	return nil
}

// Build compiles validated metadata and script content into an
// installable bundle. Deterministic: the same (metadata, content) pair
// always yields byte-identical descriptor content and therefore the
// same bundle hash, which is what makes resubmission idempotence
// detectable by hash equality.
func Build(meta pluginkit.Metadata, content pluginkit.ScriptContent) (pluginkit.Bundle, error) {
	if meta.Identity.IsZero() {
		return pluginkit.Bundle{}, &pluginkit.ContractError{
			Op:     "bundle.Build",
			Detail: "metadata has a zero identity",
		}
	}
	desc, err := Descriptor(meta, content)
	if err != nil {
		return pluginkit.Bundle{}, err
	}
	return pluginkit.Bundle{
		Metadata:   meta,
		Descriptor: desc,
		Hash:       pluginkit.HashBytes(desc),
	}, nil
}
