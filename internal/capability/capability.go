// Package capability describes the interconnect resources granted to one job:
// the hardware context range every task draws from, the node range the job
// spans, and a bitmap mapping task slots to nodes.
package capability

import (
	"fmt"
	"math/bits"

	"qsnet-switch/internal/bitmap"
	"qsnet-switch/internal/qswerr"
)

const (
	// MaxVPs is the largest number of task slots a capability can describe.
	MaxVPs = 16384
	// BitmapWords is the fixed number of 32-bit words in a capability bitmap.
	BitmapWords = MaxVPs / 32
	KeyWords    = 4

	CapVersion uint32 = 0x00010002

	// ElanTypeUninitialised marks the adapter generation field as unused.
	ElanTypeUninitialised uint16 = 0xffff
	// MyContextUnset is the attach-time context before a task binds.
	MyContextUnset uint32 = 0xffffffff
)

// Type packs the layout in the low bits and capability flags above it.
type Type uint16

const (
	TypeBlock  Type = 1
	TypeCyclic Type = 2
	TypeMask   Type = 0x0fff

	TypeBroadcastable Type = 1 << 12
	TypeNoBitmap      Type = 1 << 13
	TypeMultiRail     Type = 1 << 14
)

func (t Type) Cyclic() bool {
	return t&TypeMask == TypeCyclic
}

func (t Type) String() string {
	s := "block"
	switch t & TypeMask {
	case TypeCyclic:
		s = "cyclic"
	case TypeBlock:
	default:
		s = fmt.Sprintf("type(%d)", t&TypeMask)
	}
	if t&TypeMultiRail != 0 {
		s += "|multi-rail"
	}
	if t&TypeBroadcastable != 0 {
		s += "|broadcastable"
	}
	if t&TypeNoBitmap != 0 {
		s += "|no-bitmap"
	}
	return s
}

// Capability is the canonical capability record. Fields used by only some
// adapter generations (ElanType, Version, Entries) are always present.
type Capability struct {
	UserKey     [KeyWords]uint32
	Type        Type
	ElanType    uint16
	Version     uint32
	LowContext  uint32
	HighContext uint32
	MyContext   uint32
	LowNode     uint32
	HighNode    uint32
	Entries     uint32
	RailMask    uint32
	Bitmap      *bitmap.Bitmap
}

// Null returns an empty capability with every field at its unset value.
func Null() Capability {
	return Capability{
		ElanType:  ElanTypeUninitialised,
		Version:   CapVersion,
		MyContext: MyContextUnset,
		Bitmap:    bitmap.New(MaxVPs),
	}
}

// Width is the number of hardware contexts in the capability.
func (c *Capability) Width() uint32 {
	return c.HighContext - c.LowContext + 1
}

// NodeRange is the number of node ids between LowNode and HighNode inclusive.
func (c *Capability) NodeRange() uint32 {
	return c.HighNode - c.LowNode + 1
}

func (c *Capability) Rails() int {
	return bits.OnesCount32(c.RailMask)
}

// SlotBit returns the bitmap index for task slot j on node id.
func (c *Capability) SlotBit(node, slot uint32) int {
	if c.Type.Cyclic() {
		return int(node-c.LowNode) + int(slot)*int(c.NodeRange())
	}
	return int(node-c.LowNode)*int(c.Width()) + int(slot)
}

// LocalTasks returns how many task slots the capability assigns to node.
func (c *Capability) LocalTasks(node uint32) int {
	if node < c.LowNode || node > c.HighNode || c.Bitmap == nil {
		return 0
	}
	n := 0
	for j := uint32(0); j < c.Width(); j++ {
		if c.Bitmap.Test(c.SlotBit(node, j)) {
			n++
		}
	}
	return n
}

// Validate checks the structural invariants a usable capability must hold.
func (c *Capability) Validate() error {
	if c.LowContext > c.HighContext {
		return qswerr.Invalidf("context range [%#x, %#x] is inverted", c.LowContext, c.HighContext)
	}
	if c.LowNode > c.HighNode {
		return qswerr.Invalidf("node range [%d, %d] is inverted", c.LowNode, c.HighNode)
	}
	if c.NodeRange() > MaxVPs {
		return qswerr.Invalidf("node range %d exceeds bitmap capacity %d", c.NodeRange(), MaxVPs)
	}
	if c.RailMask == 0 {
		return qswerr.Invalidf("rail mask is empty")
	}
	if c.Bitmap == nil || c.Bitmap.Len() != MaxVPs {
		return qswerr.Invalidf("bitmap missing or wrong capacity")
	}
	if n := c.Bitmap.Count(); uint32(n) != c.Entries {
		return qswerr.Invalidf("bitmap has %d slots set, capability has %d entries", n, c.Entries)
	}
	return nil
}

// Clone returns a deep copy.
func (c Capability) Clone() Capability {
	if c.Bitmap != nil {
		c.Bitmap = c.Bitmap.Clone()
	}
	return c
}

// Equal compares every field, including the bitmap contents.
func (c *Capability) Equal(o *Capability) bool {
	a, b := *c, *o
	a.Bitmap, b.Bitmap = nil, nil
	return a == b && c.Bitmap.Equal(o.Bitmap)
}

func (c *Capability) String() string {
	bm := ""
	if c.Bitmap != nil {
		bm = c.Bitmap.String(64)
	}
	return fmt.Sprintf("ctx=%x.%x nodes=%d.%d entries=%d type=%s bitmap=%s",
		c.LowContext, c.HighContext, c.LowNode, c.HighNode, c.Entries, c.Type, bm)
}

// JobInfo pairs a program description number with the job's capability.
type JobInfo struct {
	ProgramID  uint32
	Capability Capability
}

func (j JobInfo) Clone() JobInfo {
	j.Capability = j.Capability.Clone()
	return j
}

func (j *JobInfo) Equal(o *JobInfo) bool {
	return j.ProgramID == o.ProgramID && j.Capability.Equal(&o.Capability)
}

func (j *JobInfo) String() string {
	c := &j.Capability
	return fmt.Sprintf("prg=%d ctx=%x.%x nodes=%d.%d entries=%d",
		j.ProgramID, c.LowContext, c.HighContext, c.LowNode, c.HighNode, c.Entries)
}
