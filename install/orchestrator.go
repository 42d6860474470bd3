// Package install executes the plans computed by the bundle package:
// it is the only component in the pipeline with side effects. Every
// mutating operation runs under an exclusive per-identity lock, every
// step failure triggers reverse-order rollback of the steps already
// applied, and every lifecycle transition it records goes through the
// state machine table.
package install

import (
	"context"
	"fmt"
	"time"

	"github.com/macforge/pluginkit"
	"github.com/macforge/pluginkit/audit"
	"github.com/macforge/pluginkit/bundle"
	"github.com/macforge/pluginkit/engine"
	"github.com/macforge/pluginkit/registry"
)

// DefaultStepTimeout bounds each plan step. A step that exceeds it is
// treated as failed and rolled back.
const DefaultStepTimeout = 10 * time.Second

// Options configures an Orchestrator.
type Options struct {
	// Registry is the lifecycle table. Required.
	Registry *registry.Registry

	// InstallDir is the root under which descriptors are installed.
	// Required.
	InstallDir string

	// Executor performs filesystem operations. Defaults to OS.
	Executor Executor

	// Audit receives lifecycle audit entries. Optional.
	Audit audit.Sink

	// Logger receives structured logs. Optional.
	Logger pluginkit.Logger

	// StepTimeout bounds each plan step. Defaults to
	// DefaultStepTimeout.
	StepTimeout time.Duration
}

// Orchestrator executes install and removal plans and is the sole
// writer of the lifecycle registry.
type Orchestrator struct {
	reg         *registry.Registry
	exec        Executor
	sink        audit.Sink
	logger      pluginkit.Logger
	locks       *identityLocks
	root        string
	stepTimeout time.Duration
}

// New creates an orchestrator.
func New(opts Options) (*Orchestrator, error) {
	if opts.Registry == nil {
		return nil, fmt.Errorf("install: a registry is required")
	}
	if opts.InstallDir == "" {
		return nil, fmt.Errorf("install: an install directory is required")
	}
	if opts.Executor == nil {
		opts.Executor = OS{}
	}
	if opts.Logger == nil {
		opts.Logger = pluginkit.NopLogger{}
	}
	if opts.StepTimeout <= 0 {
		opts.StepTimeout = DefaultStepTimeout
	}
	return &Orchestrator{
		reg:         opts.Registry,
		exec:        opts.Executor,
		sink:        opts.Audit,
		logger:      opts.Logger,
		locks:       newIdentityLocks(),
		root:        opts.InstallDir,
		stepTimeout: opts.StepTimeout,
	}, nil
}

// Reader exposes the configured executor's read primitive, used by the
// contract layer's postcondition checks.
func (o *Orchestrator) Reader() func(string) ([]byte, error) {
	return o.exec.Read
}

// InstallDir returns the configured install root.
func (o *Orchestrator) InstallDir() string {
	return o.root
}

// RecordValidated records a submission that cleared the boundary. For
// a known identity the record is driven through resubmission first;
// for an identity whose bundle hash is already installed the record is
// returned untouched, making identical resubmission a no-op.
//
// The record's BundleHash and Path are not touched here: they keep
// naming whatever is actually installed until Install replaces the
// artifact and verifies it.
func (o *Orchestrator) RecordValidated(id pluginkit.Identity, bundleHash string) (pluginkit.Record, error) {
	release, ok := o.locks.tryAcquire(id.String())
	if !ok {
		return pluginkit.Record{}, &pluginkit.ConflictError{Identity: id}
	}
	defer release()

	now := time.Now().UTC()
	rec, exists := o.reg.Get(id)
	if exists {
		if (rec.State == pluginkit.StateInstalled || rec.State == pluginkit.StateActive) && rec.BundleHash == bundleHash {
			return rec, nil
		}
		if !rec.State.Terminal() && rec.State != pluginkit.StateSubmitted {
			next, err := pluginkit.Transition(rec.State, pluginkit.EventResubmit)
			if err != nil {
				return pluginkit.Record{}, err
			}
			rec.State = next
		}
		if rec.State.Terminal() {
			// A removed plugin starts a fresh lifecycle.
			rec = pluginkit.Record{Identity: id, State: pluginkit.StateSubmitted}
		}
	} else {
		rec = pluginkit.Record{Identity: id, State: pluginkit.StateSubmitted}
	}

	next, err := pluginkit.Transition(rec.State, pluginkit.EventValidated)
	if err != nil {
		return pluginkit.Record{}, err
	}
	rec.State = next
	rec.LastRuleID = ""
	rec.UpdatedAt = now

	if err := o.reg.Put(rec); err != nil {
		return pluginkit.Record{}, err
	}
	return rec, nil
}

// RecordRejected records a submission the boundary refused. The record
// stays out of Validated, so the rejected content can never be
// installed.
func (o *Orchestrator) RecordRejected(id pluginkit.Identity, ruleID string) (pluginkit.Record, error) {
	release, ok := o.locks.tryAcquire(id.String())
	if !ok {
		return pluginkit.Record{}, &pluginkit.ConflictError{Identity: id}
	}
	defer release()

	rec, exists := o.reg.Get(id)
	switch {
	case !exists, rec.State.Terminal():
		rec = pluginkit.Record{Identity: id, State: pluginkit.StateSubmitted}
	case rec.State == pluginkit.StateInstalled, rec.State == pluginkit.StateActive:
		// A rejected update leaves the installed version untouched.
		rec.LastRuleID = ruleID
		rec.UpdatedAt = time.Now().UTC()
		if err := o.reg.Put(rec); err != nil {
			return pluginkit.Record{}, err
		}
		return rec, nil
	case rec.State != pluginkit.StateSubmitted:
		next, err := pluginkit.Transition(rec.State, pluginkit.EventResubmit)
		if err != nil {
			return pluginkit.Record{}, err
		}
		rec.State = next
	}

	next, err := pluginkit.Transition(rec.State, pluginkit.EventRejected)
	if err != nil {
		return pluginkit.Record{}, err
	}
	rec.State = next
	rec.LastRuleID = ruleID
	rec.UpdatedAt = time.Now().UTC()

	if err := o.reg.Put(rec); err != nil {
		return pluginkit.Record{}, err
	}
	return rec, nil
}

// Install executes the install plan for b. The identity must be in
// Validated state, except when the exact bundle is already installed,
// which is a no-op. On any step failure the applied steps are undone
// in reverse order before the error is surfaced; a partial install is
// never visible in the registry.
func (o *Orchestrator) Install(ctx context.Context, b pluginkit.Bundle) (pluginkit.Record, error) {
	id := b.Metadata.Identity
	release, ok := o.locks.tryAcquire(id.String())
	if !ok {
		return pluginkit.Record{}, &pluginkit.ConflictError{Identity: id}
	}
	defer release()

	rec, exists := o.reg.Get(id)
	if !exists {
		return pluginkit.Record{}, fmt.Errorf("%w: %s", pluginkit.ErrNotFound, id)
	}
	if (rec.State == pluginkit.StateInstalled || rec.State == pluginkit.StateActive) && rec.BundleHash == b.Hash {
		return rec, nil
	}
	if rec.State != pluginkit.StateValidated {
		return pluginkit.Record{}, &pluginkit.ContractError{
			Op:     "install",
			Detail: fmt.Sprintf("plugin %s is in state %q, install requires %q", id, rec.State, pluginkit.StateValidated),
		}
	}

	var existing *pluginkit.Record
	if rec.Path != "" {
		snapshot := rec
		existing = &snapshot
	}
	plan := bundle.PlanInstall(b, existing, o.root)

	o.logger.Debug(ctx, "executing install plan",
		"identity", id.String(), "bundle", b.Hash, "steps", len(plan.Steps))

	if err := o.execute(ctx, id, plan.Steps); err != nil {
		next, terr := pluginkit.Transition(rec.State, pluginkit.EventInstallFail)
		if terr != nil {
			return pluginkit.Record{}, terr
		}
		// BundleHash and Path keep their pre-operation values: rollback
		// restored that artifact, and the record must keep naming it.
		rec.State = next
		rec.UpdatedAt = time.Now().UTC()
		if perr := o.reg.Put(rec); perr != nil {
			return pluginkit.Record{}, perr
		}
		o.record(id, "", audit.OutcomeRolledBack, err.Error())
		return rec, err
	}

	next, err := pluginkit.Transition(rec.State, pluginkit.EventInstalled)
	if err != nil {
		return pluginkit.Record{}, err
	}
	now := time.Now().UTC()
	rec.State = next
	rec.BundleHash = b.Hash
	rec.Path = plan.TargetPath
	rec.InstalledAt = now
	rec.UpdatedAt = now

	if err := o.reg.Put(rec); err != nil {
		return pluginkit.Record{}, err
	}
	o.record(id, "", audit.OutcomeApplied, "installed "+b.Hash)
	return rec, nil
}

// Activate asks the external automation engine to load the installed
// descriptor and records the Active state on success. Activating an
// already active plugin is a no-op.
func (o *Orchestrator) Activate(ctx context.Context, id pluginkit.Identity, eng engine.Engine) (pluginkit.Record, error) {
	release, ok := o.locks.tryAcquire(id.String())
	if !ok {
		return pluginkit.Record{}, &pluginkit.ConflictError{Identity: id}
	}
	defer release()

	rec, exists := o.reg.Get(id)
	if !exists {
		return pluginkit.Record{}, fmt.Errorf("%w: %s", pluginkit.ErrNotFound, id)
	}
	if rec.State == pluginkit.StateActive {
		return rec, nil
	}
	if rec.State != pluginkit.StateInstalled {
		return pluginkit.Record{}, &pluginkit.ContractError{
			Op:     "activate",
			Detail: fmt.Sprintf("plugin %s is in state %q, activate requires %q", id, rec.State, pluginkit.StateInstalled),
		}
	}

	if err := eng.Load(ctx, rec.Path); err != nil {
		// The engine refusing the descriptor leaves the plugin
		// Installed; the caller may retry after fixing the engine.
		return rec, fmt.Errorf("automation engine rejected descriptor for %s: %w", id, err)
	}

	next, err := pluginkit.Transition(rec.State, pluginkit.EventActivated)
	if err != nil {
		return pluginkit.Record{}, err
	}
	rec.State = next
	rec.UpdatedAt = time.Now().UTC()

	if err := o.reg.Put(rec); err != nil {
		return pluginkit.Record{}, err
	}
	o.record(id, "", audit.OutcomeApplied, "activated")
	return rec, nil
}

// Remove executes the removal plan for id. The plugin must be
// Installed or Active; the artifact is moved aside before deletion so
// a failed removal restores it.
func (o *Orchestrator) Remove(ctx context.Context, id pluginkit.Identity) (pluginkit.Record, error) {
	release, ok := o.locks.tryAcquire(id.String())
	if !ok {
		return pluginkit.Record{}, &pluginkit.ConflictError{Identity: id}
	}
	defer release()

	rec, exists := o.reg.Get(id)
	if !exists {
		return pluginkit.Record{}, fmt.Errorf("%w: %s", pluginkit.ErrNotFound, id)
	}
	if rec.State != pluginkit.StateInstalled && rec.State != pluginkit.StateActive {
		return pluginkit.Record{}, &pluginkit.ContractError{
			Op:     "remove",
			Detail: fmt.Sprintf("plugin %s is in state %q, remove requires %q or %q", id, rec.State, pluginkit.StateInstalled, pluginkit.StateActive),
		}
	}

	plan := bundle.PlanRemoval(rec, o.root)
	if err := o.execute(ctx, id, plan.Steps); err != nil {
		o.record(id, "", audit.OutcomeRolledBack, err.Error())
		return rec, err
	}

	next, err := pluginkit.Transition(rec.State, pluginkit.EventRemoved)
	if err != nil {
		return pluginkit.Record{}, err
	}
	rec.State = next
	rec.Path = ""
	rec.UpdatedAt = time.Now().UTC()

	if err := o.reg.Put(rec); err != nil {
		return pluginkit.Record{}, err
	}
	o.record(id, "", audit.OutcomeApplied, "removed")
	return rec, nil
}

// Prune drops the registry record for id. Only terminal records can be
// pruned; live lifecycle state is never discarded.
func (o *Orchestrator) Prune(ctx context.Context, id pluginkit.Identity) error {
	release, ok := o.locks.tryAcquire(id.String())
	if !ok {
		return &pluginkit.ConflictError{Identity: id}
	}
	defer release()

	rec, exists := o.reg.Get(id)
	if !exists {
		return fmt.Errorf("%w: %s", pluginkit.ErrNotFound, id)
	}
	if !rec.State.Terminal() {
		return &pluginkit.ContractError{
			Op:     "prune",
			Detail: fmt.Sprintf("plugin %s is in state %q, prune requires a terminal state", id, rec.State),
		}
	}

	if err := o.reg.Delete(id); err != nil {
		return err
	}
	o.logger.Debug(ctx, "record pruned", "identity", id.String())
	o.record(id, "", audit.OutcomeApplied, "pruned")
	return nil
}

// execute applies plan steps in order. Cancellation is honored between
// steps only: once a step (in particular the atomic promote) starts,
// it runs to completion or failure. On failure every already-applied
// step is undone in reverse order before the error is returned.
func (o *Orchestrator) execute(ctx context.Context, id pluginkit.Identity, steps []bundle.Step) error {
	var applied []bundle.Step
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			rolledBack := o.rollback(ctx, applied)
			return &pluginkit.InstallError{Identity: id, Step: "canceled", RolledBack: rolledBack, Err: err}
		}
		if err := o.runStep(step); err != nil {
			o.logger.Error(ctx, "plan step failed",
				"identity", id.String(), "op", string(step.Op), "error", err)
			rolledBack := o.rollback(ctx, applied)
			return &pluginkit.InstallError{Identity: id, Step: string(step.Op), RolledBack: rolledBack, Err: err}
		}
		applied = append(applied, step)
	}
	return nil
}

// runStep applies one step under the step timeout. A timed-out step
// counts as failed, but its goroutine keeps running; a waiter undoes
// the step if it completes after the fact, so a straggling stage
// cannot leave an artifact behind once rollback has run.
func (o *Orchestrator) runStep(step bundle.Step) error {
	done := make(chan error, 1)
	go func() {
		done <- applyStep(o.exec, step)
	}()
	select {
	case err := <-done:
		return err
	case <-time.After(o.stepTimeout):
		go func() {
			if err := <-done; err != nil {
				return
			}
			for _, undo := range step.Undo {
				if err := applyStep(o.exec, undo); err != nil {
					o.logger.Error(context.Background(), "undo of timed-out step failed",
						"op", string(undo.Op), "path", undo.Path, "error", err)
				}
			}
		}()
		return fmt.Errorf("step %s on %s timed out after %s", step.Op, step.Path, o.stepTimeout)
	}
}

// rollback undoes applied steps in reverse order and reports whether
// every undo succeeded.
func (o *Orchestrator) rollback(ctx context.Context, applied []bundle.Step) bool {
	complete := true
	for i := len(applied) - 1; i >= 0; i-- {
		for _, undo := range applied[i].Undo {
			if err := applyStep(o.exec, undo); err != nil {
				o.logger.Error(ctx, "rollback step failed",
					"op", string(undo.Op), "path", undo.Path, "error", err)
				complete = false
			}
		}
	}
	return complete
}

// record emits an audit entry if a sink is configured.
func (o *Orchestrator) record(id pluginkit.Identity, ruleID string, outcome audit.Outcome, detail string) {
	if o.sink != nil {
		o.sink.Record(audit.NewEntry(id, ruleID, outcome, detail))
	}
}
