package bundle

import (
	"path/filepath"

	"github.com/macforge/pluginkit"
)

// StepOp names one primitive filesystem operation in a plan. The
// install package maps each op onto its executor; this package only
// describes the work.
type StepOp string

// Plan step operations.
const (
	// OpStage writes Content to Path (creating parent directories).
	OpStage StepOp = "stage"
	// OpVerify re-reads Path and checks its hash against WantHash.
	OpVerify StepOp = "verify"
	// OpBackup moves Path aside to Dest.
	OpBackup StepOp = "backup"
	// OpPromote atomically renames Path over Dest.
	OpPromote StepOp = "promote"
	// OpRestore moves Path back to Dest during rollback.
	OpRestore StepOp = "restore"
	// OpCleanup removes Path, tolerating its absence.
	OpCleanup StepOp = "cleanup"
)

// Step is one operation of a plan, together with the undo sequence
// that reverts it. Undo steps of applied steps are run in reverse
// application order when a later step fails.
type Step struct {
	Op       StepOp
	Path     string
	Dest     string
	Content  []byte
	WantHash string
	Undo     []Step
}

// InstallPlan is a data-only description of the filesystem work needed
// to install a bundle, including the rollback counterpart of every
// step. Computing it is pure, so rollback correctness is testable
// without a real filesystem.
type InstallPlan struct {
	Identity    pluginkit.Identity
	BundleHash  string
	TargetPath  string
	StagingPath string
	BackupPath  string
	Replaces    string // bundle hash being replaced, if any
	Steps       []Step
}

// RemovalPlan is the symmetric description for removing an installed
// plugin.
type RemovalPlan struct {
	Identity   pluginkit.Identity
	TargetPath string
	BackupPath string
	Steps      []Step
}

// ArtifactPath returns the descriptor's install path for an identity
// under the given install root. One file per plugin, namespaced by
// directory.
func ArtifactPath(root string, id pluginkit.Identity) string {
	return filepath.Join(root, id.Namespace, id.Name+".plugin.json")
}

// PlanInstall computes the ordered step sequence that installs b under
// root: write to a staging path, verify the staged bytes, move any
// previously installed artifact aside, atomically promote the staged
// file, then drop the backup. existing is the record currently
// installed for the identity, or nil for a first install.
func PlanInstall(b pluginkit.Bundle, existing *pluginkit.Record, root string) InstallPlan {
	target := ArtifactPath(root, b.Metadata.Identity)
	staging := target + ".staging"
	backup := target + ".bak"

	plan := InstallPlan{
		Identity:    b.Metadata.Identity,
		BundleHash:  b.Hash,
		TargetPath:  target,
		StagingPath: staging,
		BackupPath:  backup,
	}

	plan.Steps = append(plan.Steps, Step{
		Op:      OpStage,
		Path:    staging,
		Content: b.Descriptor,
		Undo:    []Step{{Op: OpCleanup, Path: staging}},
	})
	plan.Steps = append(plan.Steps, Step{
		Op:       OpVerify,
		Path:     staging,
		WantHash: b.Hash,
	})

	replacing := existing != nil && existing.Path != ""
	if replacing {
		plan.Replaces = existing.BundleHash
		plan.Steps = append(plan.Steps, Step{
			Op:   OpBackup,
			Path: target,
			Dest: backup,
			Undo: []Step{{Op: OpRestore, Path: backup, Dest: target}},
		})
	}

	plan.Steps = append(plan.Steps, Step{
		Op:   OpPromote,
		Path: staging,
		Dest: target,
		// Removing the promoted file is enough: if an old artifact was
		// backed up, the backup step's own undo restores it afterwards.
		Undo: []Step{{Op: OpCleanup, Path: target}},
	})

	if replacing {
		plan.Steps = append(plan.Steps, Step{
			Op:   OpCleanup,
			Path: backup,
		})
	}

	return plan
}

// PlanRemoval computes the step sequence that removes the installed
// artifact named by record. The artifact is moved aside before it is
// dropped, so a failure at any point restores it intact.
func PlanRemoval(record pluginkit.Record, root string) RemovalPlan {
	target := record.Path
	if target == "" {
		target = ArtifactPath(root, record.Identity)
	}
	backup := target + ".removing"

	return RemovalPlan{
		Identity:   record.Identity,
		TargetPath: target,
		BackupPath: backup,
		Steps: []Step{
			{
				Op:   OpBackup,
				Path: target,
				Dest: backup,
				Undo: []Step{{Op: OpRestore, Path: backup, Dest: target}},
			},
			{
				Op:   OpCleanup,
				Path: backup,
			},
		},
	}
}
