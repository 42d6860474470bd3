package pluginkit

import (
	"errors"
	"fmt"
)

// Sentinel errors for type-layer construction failures. Construction
// rejects malformed input before it can reach the boundary validator.
var (
	// ErrInvalidIdentity is returned when a name or namespace violates
	// the identity charset or length constraints.
	ErrInvalidIdentity = errors.New("pluginkit: invalid identity")

	// ErrInvalidScript is returned when script content is empty,
	// oversized, or of an unsupported kind.
	ErrInvalidScript = errors.New("pluginkit: invalid script")

	// ErrNotFound is returned when no record exists for an identity.
	ErrNotFound = errors.New("pluginkit: plugin not found")
)

// RejectionError is a domain rejection from the boundary validator:
// the submission failed a security or structural check. Recoverable by
// the caller resubmitting corrected input; never retried automatically.
type RejectionError struct {
	Identity Identity
	RuleID   string
	Reason   string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("pluginkit: submission %s rejected by rule %s: %s", e.Identity, e.RuleID, e.Reason)
}

// ContractError reports a broken precondition, postcondition, or
// invariant. It indicates a defect in the caller or in the pipeline
// itself, is always surfaced, and is never retried.
type ContractError struct {
	Op     string // operation whose contract failed
	Detail string
}

func (e *ContractError) Error() string {
	return fmt.Sprintf("pluginkit: contract violated in %s: %s", e.Op, e.Detail)
}

// InstallError reports an I/O or environment failure during install or
// removal. Rollback has already been attempted by the time the caller
// sees it; RolledBack says whether the rollback fully restored the
// prior state. Retryable by the caller.
type InstallError struct {
	Identity   Identity
	Step       string
	RolledBack bool
	Err        error
}

func (e *InstallError) Error() string {
	outcome := "rollback applied"
	if !e.RolledBack {
		outcome = "rollback incomplete"
	}
	return fmt.Sprintf("pluginkit: install step %s failed for %s (%s): %v", e.Step, e.Identity, outcome, e.Err)
}

func (e *InstallError) Unwrap() error { return e.Err }

// ConflictError signals that another mutating operation on the same
// identity is in flight. The request is rejected immediately, never
// queued.
type ConflictError struct {
	Identity Identity
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("pluginkit: plugin %s is busy with another operation", e.Identity)
}

// IsRejection reports whether err is a domain rejection.
func IsRejection(err error) bool {
	var re *RejectionError
	return errors.As(err, &re)
}

// IsRetryable reports whether the caller may safely retry the
// operation. Only installation failures with a completed rollback
// qualify.
func IsRetryable(err error) bool {
	var ie *InstallError
	return errors.As(err, &ie) && ie.RolledBack
}
