// Package registry holds the process-wide table of plugins and their
// lifecycle records. Reads hand out copies; every write goes through
// the install package's transition function, which is the only writer.
package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/goccy/go-yaml"
	"github.com/google/renameio/v2"

	"github.com/macforge/pluginkit"
)

// Registry is a thread-safe identity-to-record table with optional
// file persistence. One record per identity at any time;
// re-installation replaces the record, never duplicates it.
type Registry struct {
	mu      sync.RWMutex
	records map[string]pluginkit.Record
	path    string // empty means in-memory only
}

// New creates an empty in-memory registry.
func New() *Registry {
	return &Registry{records: make(map[string]pluginkit.Record)}
}

// Open creates a registry persisted at path, loading any existing
// snapshot.
func Open(path string) (*Registry, error) {
	r := New()
	r.path = path

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create registry directory: %w", err)
	}

	data, err := os.ReadFile(path) // nolint:gosec // Path is operator-configured
	if os.IsNotExist(err) {
		return r, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read registry file: %w", err)
	}

	var records []pluginkit.Record
	if err := yaml.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to parse registry file: %w", err)
	}
	for _, rec := range records {
		if rec.Identity.IsZero() || !rec.State.Valid() {
			return nil, fmt.Errorf("registry file contains a malformed record for %q", rec.Identity)
		}
		r.records[rec.Identity.String()] = rec
	}
	return r, nil
}

// Get returns a copy of the record for id.
func (r *Registry) Get(id pluginkit.Identity) (pluginkit.Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[id.String()]
	return rec, ok
}

// List returns copies of all records in stable order by identity.
func (r *Registry) List() []pluginkit.Record {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]pluginkit.Record, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Identity.String() < out[j].Identity.String()
	})
	return out
}

// Put stores the record for its identity, replacing any existing one,
// and persists the table if a path is configured. Only the install
// package may call it.
func (r *Registry) Put(rec pluginkit.Record) error {
	if rec.Identity.IsZero() {
		return &pluginkit.ContractError{Op: "registry.Put", Detail: "record has a zero identity"}
	}
	if !rec.State.Valid() {
		return &pluginkit.ContractError{Op: "registry.Put", Detail: fmt.Sprintf("unknown state %q", rec.State)}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[rec.Identity.String()] = rec
	return r.saveLocked()
}

// Delete drops the record for id, if present. Only the install package
// may call it.
func (r *Registry) Delete(id pluginkit.Identity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.records, id.String())
	return r.saveLocked()
}

// saveLocked writes the snapshot atomically. Callers hold the write
// lock.
func (r *Registry) saveLocked() error {
	if r.path == "" {
		return nil
	}

	records := make([]pluginkit.Record, 0, len(r.records))
	for _, rec := range r.records {
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].Identity.String() < records[j].Identity.String()
	})

	data, err := yaml.Marshal(records)
	if err != nil {
		return fmt.Errorf("failed to encode registry: %w", err)
	}
	if err := renameio.WriteFile(r.path, data, 0o640); err != nil {
		return fmt.Errorf("failed to write registry file: %w", err)
	}
	return nil
}
