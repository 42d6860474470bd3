package contract

import (
	"errors"
	"fmt"
	"testing"

	"github.com/macforge/pluginkit"
)

func fakeRead(files map[string][]byte) ReadFile {
	return func(path string) ([]byte, error) {
		data, ok := files[path]
		if !ok {
			return nil, fmt.Errorf("no file at %s", path)
		}
		return data, nil
	}
}

func asContract(t *testing.T, err error) *pluginkit.ContractError {
	t.Helper()
	var ce *pluginkit.ContractError
	if !errors.As(err, &ce) {
		t.Fatalf("err = %v, want *ContractError", err)
	}
	return ce
}

func TestRequireIdentity(t *testing.T) {
	good := pluginkit.Identity{Name: "echo-tool", Namespace: "user"}
	if err := RequireIdentity("install", good); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	bad := pluginkit.Identity{Name: "Echo Tool", Namespace: "user"}
	asContract(t, RequireIdentity("install", bad))
}

func TestRequireState(t *testing.T) {
	rec := pluginkit.Record{
		Identity: pluginkit.Identity{Name: "echo-tool", Namespace: "user"},
		State:    pluginkit.StateValidated,
	}

	if err := RequireState("install", rec, pluginkit.StateValidated); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := RequireState("remove", rec, pluginkit.StateInstalled, pluginkit.StateActive); err == nil {
		t.Error("expected a contract error for a disallowed state")
	}
}

func TestEnsureInstalled(t *testing.T) {
	content := []byte(`{"name":"echo-tool"}`)
	rec := pluginkit.Record{
		Identity:   pluginkit.Identity{Name: "echo-tool", Namespace: "user"},
		State:      pluginkit.StateInstalled,
		Path:       "/plugins/user/echo-tool.plugin.json",
		BundleHash: pluginkit.HashBytes(content),
	}

	t.Run("artifact matches", func(t *testing.T) {
		read := fakeRead(map[string][]byte{rec.Path: content})
		if err := EnsureInstalled("install", rec, read); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("artifact missing", func(t *testing.T) {
		read := fakeRead(map[string][]byte{})
		asContract(t, EnsureInstalled("install", rec, read))
	})

	t.Run("artifact hash mismatch", func(t *testing.T) {
		read := fakeRead(map[string][]byte{rec.Path: []byte("tampered")})
		asContract(t, EnsureInstalled("install", rec, read))
	})

	t.Run("record without path", func(t *testing.T) {
		broken := rec
		broken.Path = ""
		asContract(t, EnsureInstalled("install", broken, fakeRead(nil)))
	})
}

func TestEnsureAbsent(t *testing.T) {
	read := fakeRead(map[string][]byte{"/plugins/leftover.staging": []byte("partial")})

	if err := EnsureAbsent("install", read, "/plugins/clean.staging", ""); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	asContract(t, EnsureAbsent("install", read, "/plugins/leftover.staging"))
}

func TestEnsureTransition(t *testing.T) {
	rec := pluginkit.Record{
		Identity: pluginkit.Identity{Name: "echo-tool", Namespace: "user"},
		State:    pluginkit.StateInstalled,
	}
	if err := EnsureTransition("install", rec, pluginkit.StateInstalled); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	asContract(t, EnsureTransition("install", rec, pluginkit.StateRemoved))
}
