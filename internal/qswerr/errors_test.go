package qswerr

import (
	"errors"
	"fmt"
	"syscall"
	"testing"
)

func TestTranslate_MapsKnownErrno(t *testing.T) {
	err := Translate("prgsignal", syscall.ESRCH,
		Rule{Errno: syscall.EINVAL, Kind: ErrSignal, Reason: ReasonInvalidID},
		Rule{Errno: syscall.ESRCH, Kind: ErrSignal, Reason: ReasonNoGroup},
	)
	if !errors.Is(err, ErrSignal) {
		t.Fatalf("expected ErrSignal, got %v", err)
	}
	if got := ReasonOf(err); got != ReasonNoGroup {
		t.Fatalf("reason=%v, want %v", got, ReasonNoGroup)
	}
	if got := ErrnoOf(err); got != syscall.ESRCH {
		t.Fatalf("errno=%v, want ESRCH", got)
	}
}

func TestTranslate_UnknownErrnoPassesThroughAsDriverError(t *testing.T) {
	err := Translate("setcap", fmt.Errorf("wrapped: %w", syscall.ENOMEM),
		Rule{Errno: syscall.EINVAL, Kind: ErrBind, Reason: ReasonInvalidID},
	)
	if !errors.Is(err, ErrDriver) {
		t.Fatalf("expected ErrDriver, got %v", err)
	}
	if got := ErrnoOf(err); got != syscall.ENOMEM {
		t.Fatalf("errno=%v, want ENOMEM", got)
	}
}

func TestTranslate_NonErrno(t *testing.T) {
	err := Translate("open", errors.New("no device"))
	if !errors.Is(err, ErrDriver) {
		t.Fatalf("expected ErrDriver, got %v", err)
	}
	if ErrnoOf(err) != 0 {
		t.Fatalf("expected no errno")
	}
}

func TestTranslate_Nil(t *testing.T) {
	if err := Translate("open", nil); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestInvalidf(t *testing.T) {
	err := Invalidf("task count %d", 0)
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}
