package pluginkit

import (
	"strings"
	"testing"
)

func TestNewIdentity(t *testing.T) {
	tests := []struct {
		name      string
		plugin    string
		namespace string
		wantErr   bool
	}{
		{"simple name", "echo-tool", "", false},
		{"explicit namespace", "echo-tool", "team", false},
		{"digits allowed", "tool2", "ns1", false},
		{"empty name", "", "", true},
		{"uppercase rejected", "Echo", "", true},
		{"leading dash rejected", "-echo", "", true},
		{"underscore rejected", "echo_tool", "", true},
		{"path separator rejected", "echo/tool", "", true},
		{"overlong name", strings.Repeat("a", MaxNameLength+1), "", true},
		{"overlong namespace", "echo", strings.Repeat("b", MaxNamespaceLength+1), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := NewIdentity(tt.plugin, tt.namespace)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q/%q", tt.namespace, tt.plugin)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if id.Name != tt.plugin {
				t.Errorf("name = %q, want %q", id.Name, tt.plugin)
			}
		})
	}

	t.Run("default namespace", func(t *testing.T) {
		id, err := NewIdentity("echo", "")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if id.Namespace != DefaultNamespace {
			t.Errorf("namespace = %q, want %q", id.Namespace, DefaultNamespace)
		}
		if got := id.String(); got != DefaultNamespace+"/echo" {
			t.Errorf("String() = %q", got)
		}
	})
}

func TestNewScriptContent(t *testing.T) {
	t.Run("computes a stable hash", func(t *testing.T) {
		a, err := NewScriptContent(KindShell, `echo "hello"`)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		b, err := NewScriptContent(KindShell, `echo "hello"`)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if a.Hash() == "" || a.Hash() != b.Hash() {
			t.Errorf("hashes differ: %q vs %q", a.Hash(), b.Hash())
		}
	})

	t.Run("different content different hash", func(t *testing.T) {
		a, _ := NewScriptContent(KindShell, "echo one")
		b, _ := NewScriptContent(KindShell, "echo two")
		if a.Hash() == b.Hash() {
			t.Error("distinct scripts must not share a hash")
		}
	})

	t.Run("rejects empty content", func(t *testing.T) {
		if _, err := NewScriptContent(KindShell, ""); err == nil {
			t.Error("expected error for empty script")
		}
	})

	t.Run("rejects unknown kind", func(t *testing.T) {
		if _, err := NewScriptContent(ScriptKind("python"), "print(1)"); err == nil {
			t.Error("expected error for unsupported kind")
		}
	})

	t.Run("rejects oversized content", func(t *testing.T) {
		big := strings.Repeat("a", MaxScriptBytes+1)
		if _, err := NewScriptContent(KindShell, big); err == nil {
			t.Error("expected error for oversized script")
		}
	})
}

func TestEnumValidity(t *testing.T) {
	for _, k := range []ScriptKind{KindShell, KindAppleScript, KindJXA, KindLua} {
		if !k.Valid() {
			t.Errorf("kind %q should be valid", k)
		}
	}
	if ScriptKind("ruby").Valid() {
		t.Error("unknown kind should be invalid")
	}

	for _, o := range []OutputMode{OutputIgnore, OutputText, OutputStructured} {
		if !o.Valid() {
			t.Errorf("output mode %q should be valid", o)
		}
	}
	if OutputMode("stream").Valid() {
		t.Error("unknown output mode should be invalid")
	}

	for _, s := range []SecurityLevel{SecurityLow, SecurityMedium, SecurityHigh} {
		if !s.Valid() {
			t.Errorf("security level %q should be valid", s)
		}
	}
	if SecurityLevel("paranoid").Valid() {
		t.Error("unknown security level should be invalid")
	}
}
