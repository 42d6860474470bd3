// Package engine is the boundary to the external automation engine
// that executes installed plugins. The pipeline only needs one thing
// from it: a feasibility check that an installed descriptor is
// loadable. Execution semantics stay on the other side of this
// interface.
package engine

import (
	"context"
	"fmt"
	"os"

	"github.com/macforge/pluginkit"
	"github.com/macforge/pluginkit/bundle"
)

// Engine is the automation engine's loadability contract.
type Engine interface {
	// Load checks that the descriptor at path can be loaded for
	// execution. It must not execute the plugin.
	Load(ctx context.Context, path string) error
}

// Local is a dry-run engine: it parses the installed descriptor and
// checks the fields the real engine would need. It stands in wherever
// the automation product is not reachable, and is the default engine
// for activation checks.
type Local struct{}

// Load parses and structurally checks the descriptor at path.
func (Local) Load(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := os.ReadFile(path) // nolint:gosec // Path comes from the registry
	if err != nil {
		return fmt.Errorf("failed to read descriptor: %w", err)
	}

	doc, err := bundle.ParseDescriptor(data)
	if err != nil {
		return err
	}

	kind, _ := doc["kind"].(string)
	if !pluginkit.ScriptKind(kind).Valid() {
		return fmt.Errorf("descriptor declares unsupported script kind %q", kind)
	}
	script, _ := doc["script"].(string)
	if script == "" {
		return fmt.Errorf("descriptor carries no script")
	}
	if sum, _ := doc["sha256"].(string); sum != pluginkit.HashBytes([]byte(script)) {
		return fmt.Errorf("descriptor script hash does not match its content")
	}
	return nil
}

// Func adapts a function to the Engine interface.
type Func func(ctx context.Context, path string) error

// Load calls f.
func (f Func) Load(ctx context.Context, path string) error {
	return f(ctx, path)
}
