package install

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/macforge/pluginkit"
	"github.com/macforge/pluginkit/bundle"
)

// Executor performs the primitive filesystem operations a plan step
// names. Plans are data; an Executor is the only thing in the pipeline
// that touches the filesystem, which is what lets rollback be tested
// against a fake.
type Executor interface {
	// Stage writes content to path, creating parent directories.
	Stage(path string, content []byte) error

	// Verify re-reads path and checks its SHA-256 against wantHash.
	Verify(path, wantHash string) error

	// Move renames src to dst. Within one directory this is the atomic
	// swap primitive.
	Move(src, dst string) error

	// Remove deletes path, tolerating its absence.
	Remove(path string) error

	// Read returns the content at path. Postcondition checks use it.
	Read(path string) ([]byte, error)
}

// OS is the production executor.
type OS struct{}

// Stage writes content to path, creating parent directories.
func (OS) Stage(path string, content []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("failed to create plugin directory: %w", err)
	}
	if err := os.WriteFile(path, content, 0o640); err != nil {
		return fmt.Errorf("failed to stage artifact: %w", err)
	}
	return nil
}

// Verify re-reads path and checks its hash.
func (OS) Verify(path, wantHash string) error {
	data, err := os.ReadFile(path) // nolint:gosec // Path comes from a computed plan
	if err != nil {
		return fmt.Errorf("failed to read staged artifact: %w", err)
	}
	if got := pluginkit.HashBytes(data); got != wantHash {
		return fmt.Errorf("staged artifact hash %s does not match bundle hash %s", got, wantHash)
	}
	return nil
}

// Move renames src to dst.
func (OS) Move(src, dst string) error {
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("failed to move artifact: %w", err)
	}
	return nil
}

// Remove deletes path, tolerating its absence.
func (OS) Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove artifact: %w", err)
	}
	return nil
}

// Read returns the content at path.
func (OS) Read(path string) ([]byte, error) {
	return os.ReadFile(path) // nolint:gosec // Path comes from the registry
}

// applyStep dispatches one plan step onto the executor.
func applyStep(exec Executor, step bundle.Step) error {
	switch step.Op {
	case bundle.OpStage:
		return exec.Stage(step.Path, step.Content)
	case bundle.OpVerify:
		return exec.Verify(step.Path, step.WantHash)
	case bundle.OpBackup, bundle.OpPromote, bundle.OpRestore:
		return exec.Move(step.Path, step.Dest)
	case bundle.OpCleanup:
		return exec.Remove(step.Path)
	default:
		return &pluginkit.ContractError{
			Op:     "install.applyStep",
			Detail: fmt.Sprintf("unknown plan op %q", step.Op),
		}
	}
}
