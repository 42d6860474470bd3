package boundary

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/macforge/pluginkit"
)

var (
	// absPathRe picks up absolute path tokens inside script text.
	absPathRe = regexp.MustCompile(`(?:^|[\s"'=(])(/[A-Za-z0-9._/ -]*[A-Za-z0-9._-])`)

	// credentialRe matches credential-shaped material: key assignments,
	// AWS access key IDs, and PEM private key headers.
	credentialRe = regexp.MustCompile(`(?i)(?:password|passwd|secret|token|api[_-]?key)\s*[:=]\s*\S+` +
		`|AKIA[0-9A-Z]{16}` +
		`|-----BEGIN [A-Z ]*PRIVATE KEY-----`)

	// shellEscapeRe matches shell-out constructs inside non-shell
	// scripts: command substitution, backticks, and direct interpreter
	// invocations.
	shellEscapeRe = regexp.MustCompile("\\$\\(|`|/bin/(?:ba|z)?sh\\b|\\bsh -c\\b")

	// segmentSplitRe splits shell text into command segments at
	// separators, pipes, and substitution openers.
	segmentSplitRe = regexp.MustCompile(`[\n;|&]+|\$\(`)
)

// patternScan rejects content containing known dangerous constructs.
// Shell scripts may only invoke allow-listed commands; non-shell
// scripts may not escape to a shell at all. Path traversal always
// rejects; absolute paths outside the allow-list and credential-shaped
// strings reject at medium and high security.
func (v *Validator) patternScan(content pluginkit.ScriptContent, meta pluginkit.Metadata) (*Result, []Finding) {
	var advisories []Finding
	src := content.Source()
	level := meta.Security

	if strings.Contains(src, "../") || strings.Contains(src, `..\`) {
		return &Result{
			Valid:  false,
			RuleID: RulePathTraversal,
			Reason: "script contains a path traversal sequence",
		}, advisories
	}

	for _, m := range absPathRe.FindAllStringSubmatch(src, -1) {
		path := m[1]
		if !v.pathAllowed(path) {
			if fail := failOrAdvise(RuleAbsolutePath,
				fmt.Sprintf("absolute path %q is outside the allow-list", path),
				level, &advisories); fail != nil {
				return fail, advisories
			}
		}
	}

	if loc := credentialRe.FindString(src); loc != "" {
		if fail := failOrAdvise(RuleCredential,
			"script contains credential-like material",
			level, &advisories); fail != nil {
			return fail, advisories
		}
	}

	if content.Kind() == pluginkit.KindShell {
		if fail := v.commandScan(src); fail != nil {
			return fail, advisories
		}
	} else if m := shellEscapeRe.FindString(src); m != "" || containsShellEscape(content) {
		reason := fmt.Sprintf("%s script attempts to shell out", content.Kind())
		return &Result{Valid: false, RuleID: RuleShellEscape, Reason: reason}, advisories
	}

	return nil, advisories
}

// containsShellEscape covers the AppleScript and JXA specific escape
// hatches that the generic regexp does not.
func containsShellEscape(content pluginkit.ScriptContent) bool {
	src := strings.ToLower(content.Source())
	switch content.Kind() {
	case pluginkit.KindAppleScript:
		return strings.Contains(src, "do shell script")
	case pluginkit.KindJXA:
		return strings.Contains(src, "doshellscript") ||
			strings.Contains(src, "do shell script") ||
			strings.Contains(src, "app.doshellscript")
	case pluginkit.KindLua:
		return strings.Contains(src, "os.execute") || strings.Contains(src, "io.popen")
	}
	return false
}

// commandScan enforces the command allow-list over every command
// segment of a shell script. Unknown commands fail closed.
func (v *Validator) commandScan(src string) *Result {
	for _, segment := range segmentSplitRe.Split(src, -1) {
		segment = strings.TrimSpace(segment)
		if segment == "" || strings.HasPrefix(segment, "#") {
			continue
		}
		fields := strings.Fields(segment)
		if len(fields) == 0 {
			continue
		}
		cmd := fields[0]
		// Variable assignments prefix the actual command.
		for strings.Contains(cmd, "=") && len(fields) > 1 {
			fields = fields[1:]
			cmd = fields[0]
		}
		if strings.Contains(cmd, "=") {
			continue // bare assignment, no command
		}
		name := cmd[strings.LastIndex(cmd, "/")+1:]
		if _, ok := v.commands[name]; !ok {
			return &Result{
				Valid:  false,
				RuleID: RuleCommand,
				Reason: fmt.Sprintf("command %q is not on the allow-list", cmd),
			}
		}
	}
	return nil
}

// pathAllowed reports whether an absolute path falls under one of the
// configured prefixes.
func (v *Validator) pathAllowed(path string) bool {
	for _, prefix := range v.cfg.AllowedPathPrefixes {
		if strings.HasPrefix(path, prefix) || path+"/" == prefix {
			return true
		}
	}
	return false
}
