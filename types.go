package pluginkit

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"time"
)

// Limits applied at construction time. The boundary validator applies
// its own (configurable) limits on top of these structural ones.
const (
	MaxNameLength      = 64
	MaxNamespaceLength = 32
	MaxScriptBytes     = 1 << 20 // 1 MiB
	MaxParameters      = 32
)

// DefaultNamespace is used when a submission does not name one.
const DefaultNamespace = "user"

var nameRe = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)

// Identity uniquely names a plugin across its whole lifecycle.
// Immutable; created at submission time and never changed.
type Identity struct {
	Name      string `json:"name" yaml:"name"`
	Namespace string `json:"namespace" yaml:"namespace"`
}

// NewIdentity validates the charset and length constraints and returns
// the identity. The reserved-name check is a boundary concern and is
// not applied here.
func NewIdentity(name, namespace string) (Identity, error) {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if name == "" || len(name) > MaxNameLength || !nameRe.MatchString(name) {
		return Identity{}, fmt.Errorf("%w: plugin name %q must match %s and be at most %d bytes",
			ErrInvalidIdentity, name, nameRe.String(), MaxNameLength)
	}
	if len(namespace) > MaxNamespaceLength || !nameRe.MatchString(namespace) {
		return Identity{}, fmt.Errorf("%w: namespace %q must match %s and be at most %d bytes",
			ErrInvalidIdentity, namespace, nameRe.String(), MaxNamespaceLength)
	}
	return Identity{Name: name, Namespace: namespace}, nil
}

// String returns the qualified form "namespace/name".
func (id Identity) String() string {
	return id.Namespace + "/" + id.Name
}

// IsZero reports whether the identity is the zero value.
func (id Identity) IsZero() bool {
	return id.Name == "" && id.Namespace == ""
}

// ScriptKind is the declared type of an automation script.
type ScriptKind string

// Supported script kinds.
const (
	KindShell       ScriptKind = "shell"
	KindAppleScript ScriptKind = "applescript"
	KindJXA         ScriptKind = "jxa"
	KindLua         ScriptKind = "lua"
)

// Valid reports whether the kind is one of the supported kinds.
func (k ScriptKind) Valid() bool {
	switch k {
	case KindShell, KindAppleScript, KindJXA, KindLua:
		return true
	}
	return false
}

// ScriptContent is the raw automation script text plus its declared
// kind. Immutable; the content hash is computed once at construction
// and used for idempotence and change detection.
type ScriptContent struct {
	kind   ScriptKind
	source string
	hash   string
}

// NewScriptContent validates the kind and size constraints and computes
// the content hash.
func NewScriptContent(kind ScriptKind, source string) (ScriptContent, error) {
	if !kind.Valid() {
		return ScriptContent{}, fmt.Errorf("%w: unsupported script kind %q", ErrInvalidScript, kind)
	}
	if source == "" {
		return ScriptContent{}, fmt.Errorf("%w: script content is empty", ErrInvalidScript)
	}
	if len(source) > MaxScriptBytes {
		return ScriptContent{}, fmt.Errorf("%w: script content exceeds %d bytes", ErrInvalidScript, MaxScriptBytes)
	}
	sum := sha256.Sum256([]byte(source))
	return ScriptContent{kind: kind, source: source, hash: hex.EncodeToString(sum[:])}, nil
}

// Kind returns the declared script kind.
func (s ScriptContent) Kind() ScriptKind { return s.kind }

// Source returns the raw script text.
func (s ScriptContent) Source() string { return s.source }

// Hash returns the hex-encoded SHA-256 of the script text.
func (s ScriptContent) Hash() string { return s.hash }

// ParamType is the declared type of a plugin parameter.
type ParamType string

// Supported parameter types.
const (
	ParamString  ParamType = "string"
	ParamNumber  ParamType = "number"
	ParamBoolean ParamType = "boolean"
	ParamJSON    ParamType = "json"
)

// Valid reports whether the type is one of the supported types.
func (p ParamType) Valid() bool {
	switch p {
	case ParamString, ParamNumber, ParamBoolean, ParamJSON:
		return true
	}
	return false
}

// Parameter declares one invocation parameter. Declaration order is
// significant: it determines the generated invocation signature.
type Parameter struct {
	Name     string    `json:"name" yaml:"name"`
	Type     ParamType `json:"type" yaml:"type"`
	Default  any       `json:"default,omitempty" yaml:"default,omitempty"`
	Required bool      `json:"required" yaml:"required"`
}

// OutputMode says what the automation engine should do with a plugin's
// output when it runs.
type OutputMode string

// Supported output modes.
const (
	OutputIgnore     OutputMode = "ignore"
	OutputText       OutputMode = "capture-text"
	OutputStructured OutputMode = "capture-structured"
)

// Valid reports whether the mode is one of the supported modes.
func (o OutputMode) Valid() bool {
	switch o {
	case OutputIgnore, OutputText, OutputStructured:
		return true
	}
	return false
}

// SecurityLevel determines which boundary checks are mandatory for a
// submission and which are advisory.
type SecurityLevel string

// Supported security levels.
const (
	SecurityLow    SecurityLevel = "low"
	SecurityMedium SecurityLevel = "medium"
	SecurityHigh   SecurityLevel = "high"
)

// Valid reports whether the level is one of the supported levels.
func (s SecurityLevel) Valid() bool {
	switch s {
	case SecurityLow, SecurityMedium, SecurityHigh:
		return true
	}
	return false
}

// Metadata is the validated description of one plugin submission.
// Immutable; one instance is produced per validated submission.
type Metadata struct {
	Identity    Identity      `json:"identity" yaml:"identity"`
	Description string        `json:"description,omitempty" yaml:"description,omitempty"`
	Parameters  []Parameter   `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	Output      OutputMode    `json:"output" yaml:"output"`
	Security    SecurityLevel `json:"security" yaml:"security"`
}

// Bundle is the immutable installable artifact: metadata plus the
// generated descriptor and a hash over the descriptor bytes. A change
// to any input produces a new bundle with a new hash; bundles are never
// mutated in place.
type Bundle struct {
	Metadata   Metadata
	Descriptor []byte
	Hash       string
}

// HashBytes returns the hex-encoded SHA-256 of b. Bundle hashes and
// script content hashes both use this form.
func HashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Record is the lifecycle registry's view of one plugin identity:
// current state, the installed bundle hash, and where the artifact
// lives on disk. The registry hands out copies; the install package is
// the only writer.
type Record struct {
	Identity    Identity   `json:"identity" yaml:"identity"`
	State       State      `json:"state" yaml:"state"`
	BundleHash  string     `json:"bundleHash,omitempty" yaml:"bundleHash,omitempty"`
	Path        string     `json:"path,omitempty" yaml:"path,omitempty"`
	InstalledAt time.Time  `json:"installedAt,omitempty" yaml:"installedAt,omitempty"`
	UpdatedAt   time.Time  `json:"updatedAt" yaml:"updatedAt"`
	LastRuleID  string     `json:"lastRuleId,omitempty" yaml:"lastRuleId,omitempty"`
}
