/*
Package pluginkit provides the plugin management core for a macOS
automation server: a pipeline that accepts untrusted plugin definitions
(script content plus metadata), validates them against independent
security boundaries, compiles them into an installable bundle, installs
them atomically with rollback, and tracks their lifecycle state.

Key features:
  - Immutable value types for plugin identity, scripts, and bundles
  - Default-deny boundary validation with stable rule identifiers
  - Pure plan/execute split for installation and removal
  - Atomic installs with reverse-order rollback on any step failure
  - Per-identity serialization; parallel operation across identities

The root package holds the value types, the lifecycle state machine,
and the error taxonomy. Validation lives in boundary, pure bundle and
plan construction in bundle, side-effecting execution in install, and
the installed-plugin table in registry. The manager package ties the
pipeline together behind the public submit/install/activate/remove
operations.

Basic usage:

	m, err := manager.New(manager.Options{
		InstallDir: "/Library/Application Support/macforge/plugins",
	})
	if err != nil {
		return err
	}

	res, err := m.Submit(ctx, bundle.Submission{
		Name:   "echo-tool",
		Kind:   pluginkit.KindShell,
		Script: `echo "hello"`,
	})
	if err == nil && res.Status == pluginkit.StateValidated {
		_, err = m.Install(ctx, res.Identity)
	}
*/
package pluginkit
