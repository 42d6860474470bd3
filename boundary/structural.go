package boundary

import (
	"fmt"
	"strings"

	lua "github.com/Shopify/go-lua"
	"github.com/xeipuuv/gojsonschema"

	"github.com/macforge/pluginkit"
	"github.com/macforge/pluginkit/bundle"
)

// descriptorSchema is the installable-format contract. Top-level keys
// outside the allow-list are rejected (additionalProperties: false),
// so descriptors carrying unknown constructs fail closed.
const descriptorSchema = `{
	"type": "object",
	"required": ["version", "name", "namespace", "kind", "script", "sha256", "output", "security", "parameters"],
	"additionalProperties": false,
	"properties": {
		"version":     {"type": "string", "enum": ["1"]},
		"name":        {"type": "string", "pattern": "^[a-z0-9][a-z0-9-]*$"},
		"namespace":   {"type": "string", "pattern": "^[a-z0-9][a-z0-9-]*$"},
		"kind":        {"type": "string", "enum": ["shell", "applescript", "jxa", "lua"]},
		"script":      {"type": "string", "minLength": 1},
		"sha256":      {"type": "string", "pattern": "^[0-9a-f]{64}$"},
		"output":      {"type": "string", "enum": ["ignore", "capture-text", "capture-structured"]},
		"security":    {"type": "string", "enum": ["low", "medium", "high"]},
		"description": {"type": "string"},
		"parameters": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["name", "type", "required"],
				"additionalProperties": false,
				"properties": {
					"name":     {"type": "string"},
					"type":     {"type": "string", "enum": ["string", "number", "boolean", "json"]},
					"required": {"type": "boolean"},
					"default":  {}
				}
			}
		}
	}
}`

var schemaLoader = gojsonschema.NewStringLoader(descriptorSchema)

// structuralScan generates the descriptor the bundle would carry and
// validates it against the installable-format schema. Lua scripts
// additionally get a compile-only syntax check, since a descriptor the
// engine cannot even parse should never reach the filesystem.
func (v *Validator) structuralScan(content pluginkit.ScriptContent, meta pluginkit.Metadata) (*Result, []Finding) {
	desc, err := bundle.Descriptor(meta, content)
	if err != nil {
		return &Result{
			Valid:  false,
			RuleID: RuleDescriptor,
			Reason: fmt.Sprintf("descriptor generation failed: %v", err),
		}, nil
	}

	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewBytesLoader(desc))
	if err != nil {
		return &Result{
			Valid:  false,
			RuleID: RuleDescriptor,
			Reason: fmt.Sprintf("descriptor validation error: %v", err),
		}, nil
	}
	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			details = append(details, e.String())
		}
		return &Result{
			Valid:  false,
			RuleID: RuleDescriptor,
			Reason: "descriptor does not conform to the installable format: " + strings.Join(details, "; "),
		}, nil
	}

	if content.Kind() == pluginkit.KindLua {
		if err := checkLuaSyntax(content.Source()); err != nil {
			return &Result{
				Valid:  false,
				RuleID: RuleScriptSyntax,
				Reason: fmt.Sprintf("lua script does not compile: %v", err),
			}, nil
		}
	}

	return nil, nil
}

// checkLuaSyntax compiles the script without running it.
func checkLuaSyntax(src string) error {
	l := lua.NewState()
	return lua.LoadString(l, src)
}
