// Package driver declares the interconnect control interface the lifecycle
// code drives. Implementations report failures as syscall.Errno values; the
// lifecycle layer translates them into qswerr kinds.
package driver

import (
	"syscall"

	"qsnet-switch/internal/capability"
)

// Driver is one process's view of the interconnect control layer. Program
// membership is a property of the calling process and is inherited by its
// children.
type Driver interface {
	// Open returns a control handle for rail.
	Open(rail int) (Handle, error)

	// CreateProgram creates program prog owned by uid and makes the caller
	// its first member.
	CreateProgram(prog uint32, uid uint32) error

	// AddCapability attaches c to program prog so that members can find it.
	// The capability must already be known to the control layer.
	AddCapability(prog uint32, c *capability.Capability) error

	// SetCapability binds the caller to hardware context index ctx of the
	// capIndex-th capability of its program.
	SetCapability(capIndex int, ctx int) error

	// DestroyProgram removes prog. The caller must not be a member and no
	// member may still be running.
	DestroyProgram(prog uint32) error

	// SignalProgram delivers sig to every member of prog.
	SignalProgram(prog uint32, sig syscall.Signal) error
}

// Handle is an open control device for one rail.
type Handle interface {
	// CreateCapability pushes c into the device. The capability stays
	// known until the handle is closed.
	CreateCapability(c *capability.Capability) error
	Position() (Position, error)
	Close() error
}

// Position is an adapter's place in the switch network.
type Position struct {
	NodeID uint32
	Nodes  uint32
}
