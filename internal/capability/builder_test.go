package capability

import (
	"bytes"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"

	"qsnet-switch/internal/allocator"
	"qsnet-switch/internal/bitmap"
	"qsnet-switch/internal/qswerr"
)

func keyBytes() *bytes.Reader {
	raw := make([]byte, 16)
	for i := range raw {
		raw[i] = byte(i)
	}
	return bytes.NewReader(raw)
}

func newTestBuilder(t *testing.T) *Builder {
	t.Helper()
	a := allocator.New(nil)
	if err := a.Init(nil); err != nil {
		t.Fatalf("init allocator: %v", err)
	}
	return NewBuilder(a, keyBytes(), nil)
}

func nodeSet(t *testing.T, ids ...int) *bitmap.Bitmap {
	t.Helper()
	b, err := bitmap.FromIndices(MaxVPs, ids...)
	if err != nil {
		t.Fatalf("node set: %v", err)
	}
	return b
}

func TestBuild_BitmapLayouts(t *testing.T) {
	tests := []struct {
		name   string
		tasks  uint32
		nodes  []int
		cyclic bool
		want   []int
	}{
		{name: "block contiguous", tasks: 4, nodes: []int{4, 5}, want: []int{0, 1, 2, 3}},
		{name: "block with hole", tasks: 4, nodes: []int{4, 6}, want: []int{0, 1, 4, 5}},
		{name: "cyclic with hole", tasks: 4, nodes: []int{4, 6}, cyclic: true, want: []int{0, 2, 3, 5}},
		{name: "block uneven", tasks: 5, nodes: []int{0, 1}, want: []int{0, 1, 2, 3, 4}},
		{name: "cyclic uneven", tasks: 5, nodes: []int{0, 1}, cyclic: true, want: []int{0, 1, 2, 3, 4}},
		{name: "block uneven three nodes", tasks: 7, nodes: []int{2, 3, 5}, want: []int{0, 1, 2, 3, 4, 9, 10}},
		{name: "fewer tasks than nodes", tasks: 2, nodes: []int{0, 1, 2}, want: []int{0, 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newTestBuilder(t)
			c, err := b.Build(tt.tasks, nodeSet(t, tt.nodes...), tt.cyclic)
			if err != nil {
				t.Fatalf("build: %v", err)
			}
			got := c.Bitmap.Indices()
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("bits=%v, want %v", got, tt.want)
			}
			if err := c.Validate(); err != nil {
				t.Fatalf("validate: %v", err)
			}
		})
	}
}

func TestBuild_UnevenDistributionFavoursLowNodes(t *testing.T) {
	for _, cyclic := range []bool{false, true} {
		b := newTestBuilder(t)
		c, err := b.Build(5, nodeSet(t, 0, 1), cyclic)
		if err != nil {
			t.Fatalf("build: %v", err)
		}
		if n := c.LocalTasks(0); n != 3 {
			t.Fatalf("cyclic=%v: node 0 has %d tasks, want 3", cyclic, n)
		}
		if n := c.LocalTasks(1); n != 2 {
			t.Fatalf("cyclic=%v: node 1 has %d tasks, want 2", cyclic, n)
		}
		if c.Bitmap.Count() != 5 || c.Entries != 5 {
			t.Fatalf("cyclic=%v: count=%d entries=%d", cyclic, c.Bitmap.Count(), c.Entries)
		}
	}
}

func TestBuild_FillsCapabilityFields(t *testing.T) {
	b := newTestBuilder(t)
	c, err := b.Build(4, nodeSet(t, 4, 6), true)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if c.LowContext != allocator.DefaultContextMin || c.HighContext != allocator.DefaultContextMin+1 {
		t.Fatalf("context range %#x-%#x", c.LowContext, c.HighContext)
	}
	if c.LowNode != 4 || c.HighNode != 6 || c.NodeRange() != 3 {
		t.Fatalf("node range %d-%d", c.LowNode, c.HighNode)
	}
	wantType := TypeCyclic | TypeMultiRail | TypeBroadcastable
	if c.Type != wantType {
		t.Fatalf("type=%s, want %s", c.Type, wantType)
	}
	if c.RailMask != 1 || c.Rails() != 1 {
		t.Fatalf("rail mask=%#x", c.RailMask)
	}
	if c.UserKey != [KeyWords]uint32{0x00010203, 0x04050607, 0x08090a0b, 0x0c0d0e0f} {
		t.Fatalf("user key=%x", c.UserKey)
	}
	if c.MyContext != MyContextUnset || c.ElanType != ElanTypeUninitialised || c.Version != CapVersion {
		t.Fatalf("unset fields not at defaults: %+v", c)
	}
}

func TestBuild_ConsecutiveJobsGetDisjointContexts(t *testing.T) {
	a := allocator.New(nil)
	_ = a.Init(nil)
	b := NewBuilder(a, nil, nil)

	first, err := b.Build(6, nodeSet(t, 0, 1), false)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	second, err := b.Build(2, nodeSet(t, 0, 1), false)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if second.LowContext != first.HighContext+1 {
		t.Fatalf("second range starts at %#x, first ends at %#x", second.LowContext, first.HighContext)
	}
	if first.UserKey == second.UserKey {
		t.Fatalf("jobs share a user key")
	}
}

func TestBuild_RejectsBadArguments(t *testing.T) {
	tests := []struct {
		name  string
		tasks uint32
		nodes *bitmap.Bitmap
	}{
		{name: "zero tasks", tasks: 0, nodes: bitmap.New(MaxVPs)},
		{name: "too many tasks", tasks: MaxVPs + 1, nodes: bitmap.New(MaxVPs)},
		{name: "nil nodes", tasks: 4, nodes: nil},
		{name: "empty nodes", tasks: 4, nodes: bitmap.New(MaxVPs)},
		{name: "node range too wide", tasks: 4, nodes: nil},
	}
	tests[0].nodes.Set(0)
	tests[1].nodes.Set(0)
	tests[4].nodes = nodeSet(t, 0, 9000)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := allocator.New(nil)
			_ = a.Init(nil)
			b := NewBuilder(a, keyBytes(), nil)
			if _, err := b.Build(tt.tasks, tt.nodes, false); !errors.Is(err, qswerr.ErrInvalidArgument) {
				t.Fatalf("expected ErrInvalidArgument, got %v", err)
			}
			snap, _ := a.Snapshot()
			if snap.NextContextBase != allocator.DefaultContextMin {
				t.Fatalf("rejected build consumed contexts: base=%#x", snap.NextContextBase)
			}
		})
	}
}

func TestBuild_ShortRandomSource(t *testing.T) {
	a := allocator.New(nil)
	_ = a.Init(nil)
	b := NewBuilder(a, bytes.NewReader([]byte{1, 2, 3}), nil)
	if _, err := b.Build(1, nodeSet(t, 0), false); err == nil {
		t.Fatalf("expected error from short key read")
	}
}

func TestSetup_AssignsProgramID(t *testing.T) {
	b := newTestBuilder(t)
	j, err := b.Setup(4, nodeSet(t, 4, 6), false)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if j.ProgramID != allocator.DefaultProgramMin {
		t.Fatalf("program id=%d", j.ProgramID)
	}
	want := "prg=1 ctx=400.401 nodes=4.6 entries=4"
	if got := j.String(); got != want {
		t.Fatalf("String()=%q, want %q", got, want)
	}
	if !strings.HasSuffix(j.Capability.String(), "bitmap="+strings.Repeat("0", 58)+"110011") {
		t.Fatalf("capability string %q", j.Capability.String())
	}
}

func TestJobInfo_CloneIsIndependent(t *testing.T) {
	b := newTestBuilder(t)
	j, err := b.Setup(2, nodeSet(t, 1), false)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	c := j.Clone()
	if !c.Equal(&j) {
		t.Fatalf("clone differs from original")
	}
	c.Capability.Bitmap.Set(100)
	c.Capability.MyContext = 0x400
	if j.Capability.Bitmap.Test(100) || j.Capability.MyContext != MyContextUnset {
		t.Fatalf("mutating clone changed original")
	}
	if c.Equal(&j) {
		t.Fatalf("modified clone still equal")
	}
}

func TestValidate_DetectsInconsistency(t *testing.T) {
	b := newTestBuilder(t)
	c, err := b.Build(3, nodeSet(t, 0, 2), false)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	bad := c.Clone()
	bad.Entries = 4
	if err := bad.Validate(); !errors.Is(err, qswerr.ErrInvalidArgument) {
		t.Fatalf("entries mismatch: got %v", err)
	}
	bad = c.Clone()
	bad.LowNode, bad.HighNode = 5, 1
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected inverted node range to fail")
	}
	bad = c.Clone()
	bad.RailMask = 0
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected empty rail mask to fail")
	}
}

func TestMarshalJSON(t *testing.T) {
	b := newTestBuilder(t)
	j, err := b.Setup(4, nodeSet(t, 4, 6), true)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	raw, err := j.MarshalJSON()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got struct {
		ProgramID int      `json:"program_id"`
		Type      string   `json:"type"`
		UserKey   []string `json:"user_key"`
		NodeLow   int      `json:"node_low"`
		NodeHigh  int      `json:"node_high"`
		Slots     []int    `json:"slots"`
		MyContext *int     `json:"my_context"`
	}
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("unmarshal %s: %v", raw, err)
	}
	if got.ProgramID != 1 || got.NodeLow != 4 || got.NodeHigh != 6 {
		t.Fatalf("decoded %+v", got)
	}
	if got.Type != "cyclic|multi-rail|broadcastable" {
		t.Fatalf("type=%q", got.Type)
	}
	if !reflect.DeepEqual(got.Slots, []int{0, 2, 3, 5}) {
		t.Fatalf("slots=%v", got.Slots)
	}
	if len(got.UserKey) != KeyWords || got.UserKey[0] != "00010203" {
		t.Fatalf("user key=%v", got.UserKey)
	}
	if got.MyContext != nil {
		t.Fatalf("unset my_context should be omitted")
	}
}
