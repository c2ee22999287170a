package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestError(t *testing.T) {
	err := New(KindValidation, "duplicate dnat public address")
	if err.Error() != "duplicate dnat public address" {
		t.Errorf("unexpected message %q", err.Error())
	}

	wrapped := Wrap(errors.New("exit status 1"), KindValidateFailed, "nft --check")
	if wrapped.Error() != "nft --check: exit status 1" {
		t.Errorf("unexpected message %q", wrapped.Error())
	}
}

func TestGetKind(t *testing.T) {
	err := New(KindActivateFailed, "netplan apply")
	if GetKind(err) != KindActivateFailed {
		t.Errorf("expected KindActivateFailed, got %v", GetKind(err))
	}

	// fmt wrapping keeps the kind visible
	outer := fmt.Errorf("build: %w", err)
	if !IsKind(outer, KindActivateFailed) {
		t.Errorf("expected kind to survive %%w wrapping")
	}

	if GetKind(errors.New("std error")) != KindUnknown {
		t.Errorf("expected KindUnknown")
	}
	if IsKind(nil, KindUnknown) {
		t.Errorf("nil error must not match any kind")
	}
}

func TestAttributes(t *testing.T) {
	err := New(KindValidation, "bad rule")
	err = Attr(err, "rule", 3)
	err = Attr(err, "field", "action")

	attrs := GetAttributes(err)
	if attrs["rule"] != 3 {
		t.Errorf("expected 3, got %v", attrs["rule"])
	}
	if attrs["field"] != "action" {
		t.Errorf("expected action, got %v", attrs["field"])
	}

	plain := Attr(errors.New("boom"), "path", "/tmp/x")
	if GetKind(plain) != KindInternal {
		t.Errorf("plain errors should be wrapped as internal")
	}
}

func TestSeverityOrdering(t *testing.T) {
	if KindRollbackFailed.Severity() <= KindActivateFailed.Severity() {
		t.Errorf("rollback failure must outrank activation failure")
	}
	if KindAlreadyInState.Severity() != 0 {
		t.Errorf("already-in-state is not a failure")
	}
	if KindWriteFailed.Severity() >= KindValidateFailed.Severity() {
		t.Errorf("write failure changes nothing and must rank below validate failure")
	}
}

func TestKindString(t *testing.T) {
	cases := map[Kind]string{
		KindValidation:     "validation",
		KindConfig:         "config",
		KindRollbackFailed: "rollback_failed",
		KindAlreadyInState: "already_in_state",
		Kind(99):           "unknown",
	}
	for k, want := range cases {
		if k.String() != want {
			t.Errorf("%d: expected %s, got %s", int(k), want, k.String())
		}
	}
}
