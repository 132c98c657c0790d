// Package qswerr defines the error kinds returned by the switch core.
//
// Every failure returned to a caller either is, or wraps, one of the sentinel
// kinds below, so callers can branch with errors.Is. Driver-facing failures are
// returned as *OpError, which additionally carries the raw errno reported by
// the control layer.
package qswerr

import (
	"fmt"
	"syscall"

	"github.com/cockroachdb/errors"
)

var (
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrCorruptData        = errors.New("corrupt data")
	ErrAlreadyInitialized = errors.New("allocator already initialized")
	ErrNotInitialized     = errors.New("allocator not initialized")
	ErrDriver             = errors.New("interconnect driver error")
	ErrBind               = errors.New("bind error")
	ErrPublish            = errors.New("publish error")
	ErrDestroy            = errors.New("program destroy refused: caller is a member")
	ErrStillExists        = errors.New("program destroy refused: members still running")
	ErrSignal             = errors.New("signal error")
	ErrNotFound           = errors.New("not found")
	ErrConfig             = errors.New("configuration error")
)

// Reason refines a kind with the underlying condition.
type Reason int

const (
	ReasonUnknown Reason = iota
	ReasonInvalidID
	ReasonPermission
	ReasonAlreadyBound
	ReasonNoGroup
	ReasonFault
)

func (r Reason) String() string {
	switch r {
	case ReasonInvalidID:
		return "invalid id"
	case ReasonPermission:
		return "permission denied"
	case ReasonAlreadyBound:
		return "already bound"
	case ReasonNoGroup:
		return "no such program"
	case ReasonFault:
		return "bad capability"
	default:
		return "unknown"
	}
}

// OpError describes a failed driver operation.
type OpError struct {
	Op     string
	Kind   error
	Reason Reason
	Errno  syscall.Errno
}

func (e *OpError) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Op, e.Kind)
	if e.Reason != ReasonUnknown {
		msg += " (" + e.Reason.String() + ")"
	}
	if e.Errno != 0 {
		msg += ": " + e.Errno.Error()
	}
	return msg
}

func (e *OpError) Unwrap() error {
	return e.Kind
}

// Rule maps one errno to a kind and reason for a given operation.
type Rule struct {
	Errno  syscall.Errno
	Kind   error
	Reason Reason
}

// Translate converts a raw driver failure into an *OpError using rules.
// Errors that are not errnos, or errnos without a rule, become ErrDriver and
// keep the original code.
func Translate(op string, err error, rules ...Rule) error {
	if err == nil {
		return nil
	}
	var errno syscall.Errno
	if !errors.As(err, &errno) {
		return &OpError{Op: op, Kind: ErrDriver}
	}
	for _, r := range rules {
		if r.Errno == errno {
			return &OpError{Op: op, Kind: r.Kind, Reason: r.Reason, Errno: errno}
		}
	}
	return &OpError{Op: op, Kind: ErrDriver, Errno: errno}
}

// ReasonOf returns the reason carried by err, or ReasonUnknown.
func ReasonOf(err error) Reason {
	var op *OpError
	if errors.As(err, &op) {
		return op.Reason
	}
	return ReasonUnknown
}

// ErrnoOf returns the raw errno carried by err, or 0.
func ErrnoOf(err error) syscall.Errno {
	var op *OpError
	if errors.As(err, &op) {
		return op.Errno
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno
	}
	return 0
}

// Invalidf wraps ErrInvalidArgument with a formatted detail.
func Invalidf(format string, args ...interface{}) error {
	return errors.Wrapf(ErrInvalidArgument, format, args...)
}

// Corruptf wraps ErrCorruptData with a formatted detail.
func Corruptf(format string, args ...interface{}) error {
	return errors.Wrapf(ErrCorruptData, format, args...)
}
