// Package boundary implements the security boundary validator: the
// independent checks every submission must clear before the pipeline
// will build a bundle for it. Checks run in a fixed order (pattern,
// structural, size, naming) and any mandatory failure rejects the
// whole submission. The checks are default-deny: scripts may only use
// allow-listed commands and absolute path prefixes, so constructs the
// validator does not recognize fail closed.
package boundary

import (
	"context"

	"github.com/macforge/pluginkit"
	"github.com/macforge/pluginkit/audit"
)

// Rule identifiers for boundary rejections. These are stable: they
// appear in audit records and in caller-facing rejection reasons.
const (
	RulePathTraversal  = "pattern.path-traversal"
	RuleAbsolutePath   = "pattern.absolute-path"
	RuleCommand        = "pattern.command-not-allowed"
	RuleShellEscape    = "pattern.shell-escape"
	RuleCredential     = "pattern.credential"
	RuleDescriptor     = "structural.descriptor"
	RuleScriptSyntax   = "structural.script-syntax"
	RuleScriptSize     = "size.script"
	RuleParamCount     = "size.param-count"
	RuleNestingDepth   = "size.nesting-depth"
	RuleNameCharset    = "naming.charset"
	RuleNameReserved   = "naming.reserved"
)

// Finding is one advisory observation: a check that matched but is not
// mandatory at the submission's security level. Advisories are audited
// but do not reject.
type Finding struct {
	RuleID string
	Detail string
}

// Result is the outcome of a full boundary validation. There is no
// partial validity: Valid is false as soon as one mandatory check
// fails, and RuleID/Reason then name the failing rule.
type Result struct {
	Valid      bool
	RuleID     string
	Reason     string
	Advisories []Finding
}

// Reject converts a failed result into the caller-facing rejection
// error. Calling it on a valid result is a bug.
func (r Result) Reject(id pluginkit.Identity) error {
	if r.Valid {
		return &pluginkit.ContractError{Op: "boundary.Reject", Detail: "result is valid"}
	}
	return &pluginkit.RejectionError{Identity: id, RuleID: r.RuleID, Reason: r.Reason}
}

// Config bounds the validator. Zero fields take defaults.
type Config struct {
	// MaxScriptBytes caps script length. Default 1 MiB.
	MaxScriptBytes int
	// MaxParameters caps the declared parameter count. Default 32.
	MaxParameters int
	// MaxDepth caps nesting of structured parameter defaults. Default 8.
	MaxDepth int
	// AllowedPathPrefixes is the absolute-path allow-list. Defaults to
	// the usual macOS user-writable and tool locations.
	AllowedPathPrefixes []string
	// AllowedCommands is the shell command allow-list. Defaults to a
	// small set of benign utilities.
	AllowedCommands []string
	// ReservedNames may not be used as a plugin name or namespace.
	ReservedNames []string
}

// Validator applies the boundary checks. Validation is pure apart from
// audit emission, so a single validator is safe for concurrent use.
type Validator struct {
	cfg      Config
	sink     audit.Sink
	logger   pluginkit.Logger
	commands map[string]struct{}
	reserved map[string]struct{}
}

// defaults for Config zero fields.
var (
	defaultPathPrefixes = []string{
		"/tmp/",
		"/private/tmp/",
		"/Users/",
		"/Library/Application Support/",
		"/usr/bin/",
		"/bin/",
		"/opt/homebrew/bin/",
	}
	defaultCommands = []string{
		"echo", "printf", "date", "cat", "ls", "head", "tail", "wc",
		"open", "osascript", "say", "pbcopy", "pbpaste", "sleep",
		"basename", "dirname", "mkdir", "touch", "grep", "sort", "uniq",
	}
	defaultReserved = []string{
		"system", "apple", "admin", "root", "default", "all", "plugin",
	}
)

// New creates a validator. A nil sink disables audit emission; a nil
// logger discards log output.
func New(cfg Config, sink audit.Sink, logger pluginkit.Logger) *Validator {
	if cfg.MaxScriptBytes <= 0 {
		cfg.MaxScriptBytes = pluginkit.MaxScriptBytes
	}
	if cfg.MaxParameters <= 0 {
		cfg.MaxParameters = pluginkit.MaxParameters
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = 8
	}
	if len(cfg.AllowedPathPrefixes) == 0 {
		cfg.AllowedPathPrefixes = defaultPathPrefixes
	}
	if len(cfg.AllowedCommands) == 0 {
		cfg.AllowedCommands = defaultCommands
	}
	if len(cfg.ReservedNames) == 0 {
		cfg.ReservedNames = defaultReserved
	}
	if logger == nil {
		logger = pluginkit.NopLogger{}
	}

	v := &Validator{
		cfg:      cfg,
		sink:     sink,
		logger:   logger,
		commands: make(map[string]struct{}, len(cfg.AllowedCommands)),
		reserved: make(map[string]struct{}, len(cfg.ReservedNames)),
	}
	for _, c := range cfg.AllowedCommands {
		v.commands[c] = struct{}{}
	}
	for _, r := range cfg.ReservedNames {
		v.reserved[r] = struct{}{}
	}
	return v
}

// Validate runs every boundary check against the submission in order:
// pattern, structural, size, naming. The first mandatory failure
// rejects; advisory findings accumulate and are audited either way.
// Both arguments must have been constructed through the type layer.
func (v *Validator) Validate(content pluginkit.ScriptContent, meta pluginkit.Metadata) Result {
	if content.Hash() == "" || meta.Identity.IsZero() {
		// Malformed values cannot get here through the type layer.
		return v.finish(meta.Identity, Result{
			Valid:  false,
			RuleID: RuleDescriptor,
			Reason: "submission bypassed type-layer construction",
		})
	}

	var advisories []Finding
	checks := []func(pluginkit.ScriptContent, pluginkit.Metadata) (*Result, []Finding){
		v.patternScan,
		v.structuralScan,
		v.sizeScan,
		v.namingScan,
	}
	for _, check := range checks {
		fail, found := check(content, meta)
		advisories = append(advisories, found...)
		if fail != nil {
			fail.Advisories = advisories
			return v.finish(meta.Identity, *fail)
		}
	}

	return v.finish(meta.Identity, Result{Valid: true, Advisories: advisories})
}

// finish emits audit records for the result and returns it unchanged.
func (v *Validator) finish(id pluginkit.Identity, r Result) Result {
	if v.sink != nil {
		for _, f := range r.Advisories {
			v.sink.Record(audit.NewEntry(id, f.RuleID, audit.OutcomeAdvisory, f.Detail))
		}
		if r.Valid {
			v.sink.Record(audit.NewEntry(id, "", audit.OutcomePass, ""))
		} else {
			v.sink.Record(audit.NewEntry(id, r.RuleID, audit.OutcomeReject, r.Reason))
		}
	}
	if !r.Valid {
		v.logger.Info(context.Background(), "submission rejected",
			"identity", id.String(), "rule", r.RuleID, "reason", r.Reason)
	}
	return r
}

// mandatory reports whether a rule rejects at the given security
// level. Path traversal and the structural checks always reject; the
// credential and absolute-path scans are advisory for low-security
// submissions.
func mandatory(rule string, level pluginkit.SecurityLevel) bool {
	if level != pluginkit.SecurityLow {
		return true
	}
	switch rule {
	case RuleCredential, RuleAbsolutePath:
		return false
	}
	return true
}

// failOrAdvise builds a rejection result for rule, or records it as an
// advisory when the rule is not mandatory at the submission's level.
func failOrAdvise(rule, reason string, level pluginkit.SecurityLevel, advisories *[]Finding) *Result {
	if mandatory(rule, level) {
		return &Result{Valid: false, RuleID: rule, Reason: reason}
	}
	*advisories = append(*advisories, Finding{RuleID: rule, Detail: reason})
	return nil
}
