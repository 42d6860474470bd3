// Package manager exposes the plugin pipeline's public operations:
// submit, install, activate, remove, query, and list. It wires the
// boundary validator, the pure bundle builders, the installation
// orchestrator, and the lifecycle registry together, and wraps every
// operation in its contract-layer pre- and postconditions.
package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/macforge/pluginkit"
	"github.com/macforge/pluginkit/audit"
	"github.com/macforge/pluginkit/boundary"
	"github.com/macforge/pluginkit/bundle"
	"github.com/macforge/pluginkit/contract"
	"github.com/macforge/pluginkit/engine"
	"github.com/macforge/pluginkit/install"
	"github.com/macforge/pluginkit/registry"
)

// Rule identifiers for type-layer construction failures surfaced
// through Submit. They complement the bundle and boundary rule sets.
const (
	RuleIdentity = "structural.identity"
	RuleScript   = "structural.script"
)

// SubmitResult is the outcome of a submission.
type SubmitResult struct {
	Identity   pluginkit.Identity
	Status     pluginkit.State // Validated or Rejected
	BundleHash string
	RuleID     string
	Reason     string
	Advisories []boundary.Finding
}

// InstallResult is the outcome of an install.
type InstallResult struct {
	Identity   pluginkit.Identity
	Status     pluginkit.State // Installed or RolledBack
	BundleHash string
	Path       string
}

// Options configures a Manager.
type Options struct {
	// InstallDir is the root for installed descriptors. Required.
	InstallDir string

	// Registry overrides the default in-memory registry.
	Registry *registry.Registry

	// Audit receives audit entries. Defaults to an in-memory sink.
	Audit audit.Sink

	// Engine performs the activation feasibility check. Defaults to
	// the local dry-run engine.
	Engine engine.Engine

	// Logger receives structured logs. Optional.
	Logger pluginkit.Logger

	// Boundary tunes the validator's limits and allow-lists.
	Boundary boundary.Config

	// Orchestrator tunes plan execution; Registry, InstallDir, Audit,
	// and Logger fields here are overwritten from the options above.
	Orchestrator install.Options
}

// Manager runs the pipeline. Safe for concurrent use: validation and
// planning are pure, and the orchestrator serializes mutations per
// identity.
type Manager struct {
	validator *boundary.Validator
	orch      *install.Orchestrator
	reg       *registry.Registry
	eng       engine.Engine
	sink      audit.Sink
	logger    pluginkit.Logger

	mu      sync.Mutex
	pending map[string]pluginkit.Bundle // validated bundles awaiting install
}

// New creates a manager.
func New(opts Options) (*Manager, error) {
	if opts.InstallDir == "" {
		return nil, fmt.Errorf("manager: an install directory is required")
	}
	if opts.Registry == nil {
		opts.Registry = registry.New()
	}
	if opts.Audit == nil {
		opts.Audit = audit.NewMemory()
	}
	if opts.Engine == nil {
		opts.Engine = engine.Local{}
	}
	if opts.Logger == nil {
		opts.Logger = pluginkit.NopLogger{}
	}

	orchOpts := opts.Orchestrator
	orchOpts.Registry = opts.Registry
	orchOpts.InstallDir = opts.InstallDir
	orchOpts.Audit = opts.Audit
	orchOpts.Logger = opts.Logger
	orch, err := install.New(orchOpts)
	if err != nil {
		return nil, err
	}

	return &Manager{
		validator: boundary.New(opts.Boundary, opts.Audit, opts.Logger),
		orch:      orch,
		reg:       opts.Registry,
		eng:       opts.Engine,
		sink:      opts.Audit,
		logger:    opts.Logger,
		pending:   make(map[string]pluginkit.Bundle),
	}, nil
}

// Submit runs a raw submission through the type layer, the boundary
// validator, and the bundle builder. Domain rejections come back in
// the result, not as errors; the returned error is reserved for
// contract violations, conflicts, and registry failures.
func (m *Manager) Submit(ctx context.Context, sub bundle.Submission) (SubmitResult, error) {
	meta, err := bundle.BuildMetadata(sub)
	if err != nil {
		return m.rejected(err)
	}

	content, err := pluginkit.NewScriptContent(sub.Kind, sub.Script)
	if err != nil {
		return SubmitResult{
			Identity: meta.Identity,
			Status:   pluginkit.StateRejected,
			RuleID:   RuleScript,
			Reason:   err.Error(),
		}, m.auditReject(meta.Identity, RuleScript, err.Error())
	}

	res := m.validator.Validate(content, meta)
	if !res.Valid {
		if _, rerr := m.orch.RecordRejected(meta.Identity, res.RuleID); rerr != nil {
			return SubmitResult{}, rerr
		}
		return SubmitResult{
			Identity:   meta.Identity,
			Status:     pluginkit.StateRejected,
			RuleID:     res.RuleID,
			Reason:     res.Reason,
			Advisories: res.Advisories,
		}, nil
	}

	b, err := bundle.Build(meta, content)
	if err != nil {
		return SubmitResult{}, err
	}

	rec, err := m.orch.RecordValidated(meta.Identity, b.Hash)
	if err != nil {
		return SubmitResult{}, err
	}

	m.mu.Lock()
	m.pending[meta.Identity.String()] = b
	m.mu.Unlock()

	m.logger.Debug(ctx, "submission validated",
		"identity", meta.Identity.String(), "bundle", b.Hash, "state", string(rec.State))

	return SubmitResult{
		Identity:   meta.Identity,
		Status:     pluginkit.StateValidated,
		BundleHash: b.Hash,
		Advisories: res.Advisories,
	}, nil
}

// rejected maps a type-layer construction failure onto a rejection
// result. Identity failures never reach the registry: there is no
// valid identity to record against.
func (m *Manager) rejected(err error) (SubmitResult, error) {
	var re *pluginkit.RejectionError
	if errors.As(err, &re) {
		if _, rerr := m.orch.RecordRejected(re.Identity, re.RuleID); rerr != nil {
			return SubmitResult{}, rerr
		}
		return SubmitResult{
			Identity: re.Identity,
			Status:   pluginkit.StateRejected,
			RuleID:   re.RuleID,
			Reason:   re.Reason,
		}, nil
	}
	if errors.Is(err, pluginkit.ErrInvalidIdentity) {
		return SubmitResult{
			Status: pluginkit.StateRejected,
			RuleID: RuleIdentity,
			Reason: err.Error(),
		}, nil
	}
	return SubmitResult{}, err
}

// auditReject records a type-layer script rejection against a known
// identity.
func (m *Manager) auditReject(id pluginkit.Identity, ruleID, reason string) error {
	if m.sink != nil {
		m.sink.Record(audit.NewEntry(id, ruleID, audit.OutcomeReject, reason))
	}
	_, err := m.orch.RecordRejected(id, ruleID)
	return err
}

// SubmitBatch validates submissions in parallel. Validation and
// planning are pure, so the fan-out is safe; results keep submission
// order. The first non-rejection error cancels the batch.
func (m *Manager) SubmitBatch(ctx context.Context, subs []bundle.Submission) ([]SubmitResult, error) {
	results := make([]SubmitResult, len(subs))
	g, ctx := errgroup.WithContext(ctx)
	for i, sub := range subs {
		i, sub := i, sub
		g.Go(func() error {
			res, err := m.Submit(ctx, sub)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Install executes the install plan for the identity's pending
// validated bundle. Success means the artifact is on disk with the
// recorded hash; failure means rollback already ran and nothing
// partial remains.
func (m *Manager) Install(ctx context.Context, id pluginkit.Identity) (InstallResult, error) {
	if err := contract.RequireIdentity("install", id); err != nil {
		return InstallResult{}, err
	}

	m.mu.Lock()
	b, ok := m.pending[id.String()]
	m.mu.Unlock()
	if !ok {
		if rec, exists := m.reg.Get(id); exists &&
			(rec.State == pluginkit.StateInstalled || rec.State == pluginkit.StateActive) {
			// Nothing pending and the plugin is installed: no-op.
			return InstallResult{Identity: id, Status: rec.State, BundleHash: rec.BundleHash, Path: rec.Path}, nil
		}
		return InstallResult{}, fmt.Errorf("%w: no validated submission pending for %s", pluginkit.ErrNotFound, id)
	}

	rec, err := m.orch.Install(ctx, b)
	if err != nil {
		var ie *pluginkit.InstallError
		if errors.As(err, &ie) {
			// Failure postcondition: rollback left no partial artifact.
			staging := bundle.ArtifactPath(m.orch.InstallDir(), id) + ".staging"
			if cerr := contract.EnsureAbsent("install", m.orch.Reader(), staging); cerr != nil {
				return InstallResult{}, cerr
			}
			return InstallResult{Identity: id, Status: pluginkit.StateRolledBack, BundleHash: b.Hash}, err
		}
		return InstallResult{}, err
	}

	// Postcondition: the registry reflects the declared effect. An
	// idempotent reinstall may legitimately find the plugin Active.
	if err := contract.RequireState("install postcondition", rec,
		pluginkit.StateInstalled, pluginkit.StateActive); err != nil {
		return InstallResult{}, err
	}
	if err := contract.EnsureInstalled("install", rec, m.orch.Reader()); err != nil {
		return InstallResult{}, err
	}

	m.mu.Lock()
	delete(m.pending, id.String())
	m.mu.Unlock()

	return InstallResult{Identity: id, Status: rec.State, BundleHash: rec.BundleHash, Path: rec.Path}, nil
}

// Activate asks the automation engine to load the installed
// descriptor. An engine refusal leaves the plugin Installed and is
// reported alongside that status.
func (m *Manager) Activate(ctx context.Context, id pluginkit.Identity) (pluginkit.Record, error) {
	if err := contract.RequireIdentity("activate", id); err != nil {
		return pluginkit.Record{}, err
	}
	return m.orch.Activate(ctx, id, m.eng)
}

// Remove executes the removal plan for id.
func (m *Manager) Remove(ctx context.Context, id pluginkit.Identity) (pluginkit.Record, error) {
	if err := contract.RequireIdentity("remove", id); err != nil {
		return pluginkit.Record{}, err
	}

	rec, err := m.orch.Remove(ctx, id)
	if err != nil {
		return rec, err
	}

	if err := contract.EnsureTransition("remove", rec, pluginkit.StateRemoved); err != nil {
		return pluginkit.Record{}, err
	}
	target := bundle.ArtifactPath(m.orch.InstallDir(), id)
	if err := contract.EnsureAbsent("remove", m.orch.Reader(), target); err != nil {
		return pluginkit.Record{}, err
	}

	m.mu.Lock()
	delete(m.pending, id.String())
	m.mu.Unlock()

	return rec, nil
}

// Prune drops the registry record for a removed plugin, so the
// identity stops appearing in listings. Records in a live state are
// refused.
func (m *Manager) Prune(ctx context.Context, id pluginkit.Identity) error {
	if err := contract.RequireIdentity("prune", id); err != nil {
		return err
	}
	return m.orch.Prune(ctx, id)
}

// Query returns a snapshot of the record for id.
func (m *Manager) Query(id pluginkit.Identity) (pluginkit.Record, error) {
	if err := contract.RequireIdentity("query", id); err != nil {
		return pluginkit.Record{}, err
	}
	rec, ok := m.reg.Get(id)
	if !ok {
		return pluginkit.Record{}, fmt.Errorf("%w: %s", pluginkit.ErrNotFound, id)
	}
	return rec, nil
}

// List returns snapshots of all records in stable order by identity.
func (m *Manager) List() []pluginkit.Record {
	return m.reg.List()
}
