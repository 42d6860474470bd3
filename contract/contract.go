// Package contract holds the precondition and postcondition checks
// that wrap every public pipeline operation. A failed check is a
// ContractError: it means the caller or the pipeline itself is broken,
// and it is always surfaced, never retried.
package contract

import (
	"fmt"

	"github.com/macforge/pluginkit"
)

// ReadFile abstracts artifact reads for postcondition checks, so they
// can run against a fake filesystem in tests. The manager passes the
// orchestrator's executor read, which is os.ReadFile in production.
type ReadFile func(path string) ([]byte, error)

// RequireIdentity checks the syntactic validity of a caller-supplied
// identity before any side effect.
func RequireIdentity(op string, id pluginkit.Identity) error {
	if _, err := pluginkit.NewIdentity(id.Name, id.Namespace); err != nil {
		return &pluginkit.ContractError{
			Op:     op,
			Detail: fmt.Sprintf("identity %q is not syntactically valid: %v", id, err),
		}
	}
	return nil
}

// RequireState checks that a record is in one of the states the
// operation declares it accepts.
func RequireState(op string, rec pluginkit.Record, allowed ...pluginkit.State) error {
	for _, s := range allowed {
		if rec.State == s {
			return nil
		}
	}
	return &pluginkit.ContractError{
		Op:     op,
		Detail: fmt.Sprintf("plugin %s is in state %q, operation requires one of %v", rec.Identity, rec.State, allowed),
	}
}

// EnsureInstalled checks the install postcondition: the record points
// at an artifact whose content hashes to the installed bundle hash.
func EnsureInstalled(op string, rec pluginkit.Record, read ReadFile) error {
	if rec.Path == "" || rec.BundleHash == "" {
		return &pluginkit.ContractError{
			Op:     op,
			Detail: fmt.Sprintf("record for %s has no artifact path or bundle hash", rec.Identity),
		}
	}
	data, err := read(rec.Path)
	if err != nil {
		return &pluginkit.ContractError{
			Op:     op,
			Detail: fmt.Sprintf("installed artifact for %s is unreadable: %v", rec.Identity, err),
		}
	}
	if got := pluginkit.HashBytes(data); got != rec.BundleHash {
		return &pluginkit.ContractError{
			Op:     op,
			Detail: fmt.Sprintf("artifact hash %s does not match recorded bundle hash %s", got, rec.BundleHash),
		}
	}
	return nil
}

// EnsureAbsent checks the failure and removal postcondition: no
// artifact (and no partial artifact) remains at any of the paths.
func EnsureAbsent(op string, read ReadFile, paths ...string) error {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if _, err := read(p); err == nil {
			return &pluginkit.ContractError{
				Op:     op,
				Detail: fmt.Sprintf("artifact unexpectedly present at %s", p),
			}
		}
	}
	return nil
}

// EnsureTransition checks that the registry recorded the state the
// operation's declared effect requires.
func EnsureTransition(op string, rec pluginkit.Record, want pluginkit.State) error {
	if rec.State != want {
		return &pluginkit.ContractError{
			Op:     op,
			Detail: fmt.Sprintf("plugin %s is in state %q after %s, expected %q", rec.Identity, rec.State, op, want),
		}
	}
	return nil
}
