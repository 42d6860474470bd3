package bundle

import (
	"fmt"

	"github.com/ohler55/ojg/oj"

	"github.com/macforge/pluginkit"
)

// Structural rule identifiers reported by BuildMetadata. The boundary
// package owns the security rule identifiers; together they form the
// stable vocabulary callers and the audit log see.
const (
	RuleOutputMode    = "structural.output-mode"
	RuleSecurityLevel = "structural.security-level"
	RuleParamCount    = "structural.param-count"
	RuleParamName     = "structural.param-name"
	RuleParamType     = "structural.param-type"
	RuleParamDefault  = "structural.param-default"
)

// DescriptorVersion is the format version stamped into every generated
// descriptor. The boundary validator's schema is pinned to it.
const DescriptorVersion = "1"

// Descriptor generates the canonical installable descriptor for a
// plugin: a JSON document with sorted keys, so that equal inputs
// always produce byte-identical output. The bundle hash is computed
// over exactly these bytes.
func Descriptor(meta pluginkit.Metadata, content pluginkit.ScriptContent) ([]byte, error) {
	if content.Hash() == "" {
		return nil, &pluginkit.ContractError{
			Op:     "bundle.Descriptor",
			Detail: "script content was not built through NewScriptContent",
		}
	}

	params := make([]any, 0, len(meta.Parameters))
	for _, p := range meta.Parameters {
		entry := map[string]any{
			"name":     p.Name,
			"type":     string(p.Type),
			"required": p.Required,
		}
		if p.Default != nil {
			entry["default"] = p.Default
		}
		params = append(params, entry)
	}

	doc := map[string]any{
		"version":    DescriptorVersion,
		"name":       meta.Identity.Name,
		"namespace":  meta.Identity.Namespace,
		"kind":       string(content.Kind()),
		"script":     content.Source(),
		"sha256":     content.Hash(),
		"output":     string(meta.Output),
		"security":   string(meta.Security),
		"parameters": params,
	}
	if meta.Description != "" {
		doc["description"] = meta.Description
	}

	out := oj.JSON(doc, &oj.Options{Sort: true})
	if out == "" {
		return nil, fmt.Errorf("failed to encode descriptor for %s", meta.Identity)
	}
	return []byte(out), nil
}

// ParseDescriptor decodes descriptor bytes back into a generic
// document. Used by the structural boundary scan and by the local
// engine's loadability probe.
func ParseDescriptor(data []byte) (map[string]any, error) {
	v, err := oj.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("descriptor is not valid JSON: %w", err)
	}
	doc, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("descriptor root is %T, expected an object", v)
	}
	return doc, nil
}
