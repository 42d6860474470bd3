// Package audit records boundary-check and lifecycle outcomes as an
// append-only sequence of entries.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/macforge/pluginkit"
)

// Outcome of an audited event.
type Outcome string

// Audit outcomes.
const (
	OutcomePass       Outcome = "pass"
	OutcomeReject     Outcome = "reject"
	OutcomeAdvisory   Outcome = "advisory"
	OutcomeApplied    Outcome = "applied"
	OutcomeRolledBack Outcome = "rolledback"
)

// Entry is one audit record. Entries are immutable once written.
type Entry struct {
	ID       string             `json:"id"`
	Time     time.Time          `json:"time"`
	Identity pluginkit.Identity `json:"identity"`
	RuleID   string             `json:"ruleId,omitempty"`
	Outcome  Outcome            `json:"outcome"`
	Detail   string             `json:"detail,omitempty"`
}

// Sink receives audit entries. Implementations must be safe for
// concurrent use.
type Sink interface {
	Record(entry Entry)
}

// NewEntry stamps an entry with an ID and the current time.
func NewEntry(id pluginkit.Identity, ruleID string, outcome Outcome, detail string) Entry {
	return Entry{
		ID:       uuid.NewString(),
		Time:     time.Now().UTC(),
		Identity: id,
		RuleID:   ruleID,
		Outcome:  outcome,
		Detail:   detail,
	}
}

// Memory is an in-memory sink, used by tests and as the default when
// no file sink is configured.
type Memory struct {
	mu      sync.Mutex
	entries []Entry
}

// NewMemory creates an empty in-memory sink.
func NewMemory() *Memory {
	return &Memory{}
}

// Record appends the entry.
func (m *Memory) Record(entry Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
}

// Entries returns a copy of all recorded entries in order.
func (m *Memory) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out
}

// File appends entries to a JSON-lines file. Writes are serialized; a
// write failure is reported to the logger but never fails the audited
// operation.
type File struct {
	mu     sync.Mutex
	path   string
	logger pluginkit.Logger
}

// NewFile creates a file sink at path, creating parent directories as
// needed.
func NewFile(path string, logger pluginkit.Logger) (*File, error) {
	if logger == nil {
		logger = pluginkit.NopLogger{}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}
	return &File{path: path, logger: logger}, nil
}

// Record appends the entry as one JSON line.
func (f *File) Record(entry Entry) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := json.Marshal(entry)
	if err != nil {
		f.logger.Error(context.Background(), "audit entry marshal failed", "error", err)
		return
	}

	file, err := os.OpenFile(f.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
	if err != nil {
		f.logger.Error(context.Background(), "audit sink open failed", "path", f.path, "error", err)
		return
	}
	defer file.Close()

	if _, err := file.Write(append(data, '\n')); err != nil {
		f.logger.Error(context.Background(), "audit sink write failed", "path", f.path, "error", err)
	}
}
