package registry

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/macforge/pluginkit"
)

func record(name string, state pluginkit.State) pluginkit.Record {
	return pluginkit.Record{
		Identity:  pluginkit.Identity{Name: name, Namespace: "user"},
		State:     state,
		UpdatedAt: time.Now().UTC(),
	}
}

func TestRegistryPutGet(t *testing.T) {
	reg := New()

	rec := record("echo-tool", pluginkit.StateValidated)
	if err := reg.Put(rec); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, ok := reg.Get(rec.Identity)
	if !ok {
		t.Fatal("record not found")
	}
	if got.State != pluginkit.StateValidated {
		t.Errorf("state = %s", got.State)
	}

	// Replacement, not duplication.
	rec.State = pluginkit.StateInstalled
	if err := reg.Put(rec); err != nil {
		t.Fatalf("put: %v", err)
	}
	if got, _ := reg.Get(rec.Identity); got.State != pluginkit.StateInstalled {
		t.Errorf("state after replace = %s", got.State)
	}
	if n := len(reg.List()); n != 1 {
		t.Errorf("record count = %d, want 1", n)
	}
}

func TestRegistryRejectsMalformedRecords(t *testing.T) {
	reg := New()

	err := reg.Put(pluginkit.Record{State: pluginkit.StateValidated})
	var ce *pluginkit.ContractError
	if !errors.As(err, &ce) {
		t.Errorf("zero identity: err = %v, want *ContractError", err)
	}

	err = reg.Put(pluginkit.Record{
		Identity: pluginkit.Identity{Name: "x", Namespace: "user"},
		State:    "limbo",
	})
	if !errors.As(err, &ce) {
		t.Errorf("unknown state: err = %v, want *ContractError", err)
	}
}

func TestRegistryListStableOrder(t *testing.T) {
	reg := New()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		if err := reg.Put(record(name, pluginkit.StateInstalled)); err != nil {
			t.Fatalf("put: %v", err)
		}
	}

	list := reg.List()
	want := []string{"user/alpha", "user/mid", "user/zeta"}
	if len(list) != len(want) {
		t.Fatalf("count = %d, want %d", len(list), len(want))
	}
	for i, rec := range list {
		if rec.Identity.String() != want[i] {
			t.Errorf("list[%d] = %s, want %s", i, rec.Identity, want[i])
		}
	}
}

func TestRegistrySnapshotIsolation(t *testing.T) {
	reg := New()
	rec := record("echo-tool", pluginkit.StateInstalled)
	if err := reg.Put(rec); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, _ := reg.Get(rec.Identity)
	got.State = pluginkit.StateRemoved

	again, _ := reg.Get(rec.Identity)
	if again.State != pluginkit.StateInstalled {
		t.Error("mutating a snapshot must not affect the registry")
	}
}

func TestRegistryPersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "registry.yaml")

	reg, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	recs := []pluginkit.Record{
		record("echo-tool", pluginkit.StateInstalled),
		record("other-tool", pluginkit.StateActive),
	}
	for _, rec := range recs {
		if err := reg.Put(rec); err != nil {
			t.Fatalf("put: %v", err)
		}
	}

	reloaded, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if n := len(reloaded.List()); n != 2 {
		t.Fatalf("reloaded count = %d, want 2", n)
	}
	got, ok := reloaded.Get(recs[0].Identity)
	if !ok || got.State != pluginkit.StateInstalled {
		t.Errorf("reloaded record = %+v", got)
	}

	// Delete persists too.
	if err := reloaded.Delete(recs[0].Identity); err != nil {
		t.Fatalf("delete: %v", err)
	}
	final, err := Open(path)
	if err != nil {
		t.Fatalf("reopen after delete: %v", err)
	}
	if _, ok := final.Get(recs[0].Identity); ok {
		t.Error("deleted record survived a reload")
	}
}
