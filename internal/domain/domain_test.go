package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestParseStopMode(t *testing.T) {
	cases := map[string]StopMode{"": StopSoft, "soft": StopSoft, "HARD": StopHard, " Soft ": StopSoft}
	for in, want := range cases {
		got, err := ParseStopMode(in)
		if err != nil {
			t.Fatalf("parse %q: %v", in, err)
		}
		if got != want {
			t.Fatalf("parse %q got %q want %q", in, got, want)
		}
	}
	if _, err := ParseStopMode("suspend"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestOpError_IsAndRetryable(t *testing.T) {
	base := &OpError{Kind: ErrTimeout, Target: "rin@h:22", Class: "start", Err: errors.New("deadline")}
	wrapped := fmt.Errorf("attempt 2: %w", base)
	if !errors.Is(wrapped, ErrTimeout) {
		t.Fatalf("expected ErrTimeout match")
	}
	if errors.Is(wrapped, ErrConnection) {
		t.Fatalf("unexpected ErrConnection match")
	}
	if !Retryable(wrapped) {
		t.Fatalf("timeout should be retryable")
	}
	if Retryable(&OpError{Kind: ErrReconciliation}) || Retryable(Validation("x")) {
		t.Fatalf("reconciliation/validation must not be retryable")
	}
	if got := base.Error(); got != "timeout: start on rin@h:22: deadline" {
		t.Fatalf("unexpected message %q", got)
	}
}

func TestRemoteTarget(t *testing.T) {
	tg := RemoteTarget{Host: "192.168.5.100", User: "rin"}
	if tg.Addr() != "192.168.5.100:22" {
		t.Fatalf("addr %s", tg.Addr())
	}
	if err := tg.Validate(); err != nil {
		t.Fatal(err)
	}
	if err := (RemoteTarget{Host: "h"}).Validate(); !errors.Is(err, ErrValidation) {
		t.Fatalf("missing user should fail validation")
	}
}

func TestManagedMachine_DisplayName(t *testing.T) {
	m := ManagedMachine{DefinitionPath: `C:\VMs\Test\Test.vmx`}
	if m.DisplayName() != "Test" {
		t.Fatalf("got %q", m.DisplayName())
	}
	m.DisplayNameOverride = "build box"
	if m.DisplayName() != "build box" {
		t.Fatalf("override ignored")
	}
}
