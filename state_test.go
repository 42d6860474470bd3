package pluginkit

import (
	"errors"
	"testing"
)

func TestTransition(t *testing.T) {
	tests := []struct {
		name  string
		from  State
		event Event
		want  State
	}{
		{"submission validated", StateSubmitted, EventValidated, StateValidated},
		{"submission rejected", StateSubmitted, EventRejected, StateRejected},
		{"install succeeds", StateValidated, EventInstalled, StateInstalled},
		{"install fails", StateValidated, EventInstallFail, StateRolledBack},
		{"activation", StateInstalled, EventActivated, StateActive},
		{"remove installed", StateInstalled, EventRemoved, StateRemoved},
		{"remove active", StateActive, EventRemoved, StateRemoved},
		{"resubmit validated", StateValidated, EventResubmit, StateSubmitted},
		{"resubmit rejected", StateRejected, EventResubmit, StateSubmitted},
		{"resubmit rolled back", StateRolledBack, EventResubmit, StateSubmitted},
		{"update over installed fails", StateInstalled, EventInstallFail, StateRolledBack},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Transition(tt.from, tt.event)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Transition(%q, %q) = %q, want %q", tt.from, tt.event, got, tt.want)
			}
		})
	}
}

func TestTransitionDisallowed(t *testing.T) {
	tests := []struct {
		name  string
		from  State
		event Event
	}{
		{"install before validation", StateSubmitted, EventInstalled},
		{"activate before install", StateValidated, EventActivated},
		{"remove before install", StateValidated, EventRemoved},
		{"validate twice", StateValidated, EventValidated},
		{"removed is terminal", StateRemoved, EventValidated},
		{"removed cannot resubmit in place", StateRemoved, EventResubmit},
		{"rejected cannot install", StateRejected, EventInstalled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Transition(tt.from, tt.event)
			if err == nil {
				t.Fatalf("Transition(%q, %q) = %q, expected a contract error", tt.from, tt.event, got)
			}
			var ce *ContractError
			if !errors.As(err, &ce) {
				t.Errorf("error type = %T, want *ContractError", err)
			}
			if got != tt.from {
				t.Errorf("state changed to %q on a disallowed event", got)
			}
		})
	}
}

func TestStatePredicates(t *testing.T) {
	if !StateRemoved.Terminal() {
		t.Error("removed should be terminal")
	}
	if StateActive.Terminal() {
		t.Error("active accepts remove and resubmit, it is not terminal")
	}
	if State("limbo").Valid() {
		t.Error("unknown state should be invalid")
	}
}

func TestErrorTaxonomy(t *testing.T) {
	id := Identity{Name: "echo", Namespace: "user"}

	rej := &RejectionError{Identity: id, RuleID: "pattern.path-traversal", Reason: "nope"}
	if !IsRejection(rej) {
		t.Error("RejectionError should be a rejection")
	}
	if IsRejection(errors.New("other")) {
		t.Error("plain errors are not rejections")
	}

	ok := &InstallError{Identity: id, Step: "promote", RolledBack: true, Err: errors.New("disk full")}
	if !IsRetryable(ok) {
		t.Error("a rolled-back install failure should be retryable")
	}
	bad := &InstallError{Identity: id, Step: "promote", RolledBack: false, Err: errors.New("disk full")}
	if IsRetryable(bad) {
		t.Error("an incomplete rollback must not be retryable")
	}
	if !errors.Is(ok, ok.Err) {
		t.Error("InstallError should unwrap to its cause")
	}
}
