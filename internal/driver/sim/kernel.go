// Package sim is an in-memory model of the interconnect control layer on one
// node. It tracks processes, program membership (inherited across Fork),
// capabilities pushed through open handles, and hardware context claims.
package sim

import (
	"fmt"
	"sort"
	"sync"
	"syscall"

	"qsnet-switch/internal/capability"
	"qsnet-switch/internal/driver"
	"qsnet-switch/internal/logging"

	"github.com/sirupsen/logrus"
)

// Operation names accepted by FailNext.
const (
	OpOpen       = "open"
	OpCreateCap  = "create_cap"
	OpPosition   = "position"
	OpPrgCreate  = "prgcreate"
	OpPrgAddCap  = "prgaddcap"
	OpSetCap     = "setcap"
	OpPrgDestroy = "prgdestroy"
	OpPrgSignal  = "prgsignal"
)

type Options struct {
	NodeID uint32
	Nodes  uint32
	Rails  int
	Logger logrus.FieldLogger
}

type process struct {
	pid    int
	parent int
	uid    uint32
	prog   uint32
	alive  bool
}

type program struct {
	id      uint32
	uid     uint32
	caps    []capability.Capability
	members map[int]struct{}
	claims  map[int]int // context index -> pid
}

// capKey identifies a capability pushed into the device.
type capKey struct {
	rail int
	key  [capability.KeyWords]uint32
	low  uint32
	high uint32
}

// Kernel is safe for concurrent use.
type Kernel struct {
	opts   Options
	logger logrus.FieldLogger

	mu       sync.Mutex
	nextPID  int
	procs    map[int]*process
	programs map[uint32]*program
	known    map[capKey]int // open handles holding the capability
	handles  int
	signals  map[int][]syscall.Signal
	failures map[string]syscall.Errno
	calls    []string
}

func New(opts Options) *Kernel {
	if opts.Rails <= 0 {
		opts.Rails = 1
	}
	if opts.Nodes == 0 {
		opts.Nodes = opts.NodeID + 1
	}
	return &Kernel{
		opts:     opts,
		logger:   logging.OrDefault(opts.Logger),
		nextPID:  100,
		procs:    make(map[int]*process),
		programs: make(map[uint32]*program),
		known:    make(map[capKey]int),
		signals:  make(map[int][]syscall.Signal),
		failures: make(map[string]syscall.Errno),
	}
}

// Spawn starts a process outside any program.
func (k *Kernel) Spawn(uid uint32) int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.spawnLocked(0, uid, 0)
}

// Fork starts a child of parent. The child inherits program membership.
func (k *Kernel) Fork(parent int) (int, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	p, ok := k.procs[parent]
	if !ok || !p.alive {
		return 0, syscall.ESRCH
	}
	return k.spawnLocked(parent, p.uid, p.prog), nil
}

func (k *Kernel) spawnLocked(parent int, uid uint32, prog uint32) int {
	pid := k.nextPID
	k.nextPID++
	k.procs[pid] = &process{pid: pid, parent: parent, uid: uid, prog: prog, alive: true}
	if prog != 0 {
		if g, ok := k.programs[prog]; ok {
			g.members[pid] = struct{}{}
		}
	}
	return pid
}

// Exit ends pid, dropping its program membership and context claims.
func (k *Kernel) Exit(pid int) {
	k.mu.Lock()
	defer k.mu.Unlock()
	p, ok := k.procs[pid]
	if !ok || !p.alive {
		return
	}
	p.alive = false
	if g, ok := k.programs[p.prog]; ok {
		delete(g.members, pid)
		for ctx, owner := range g.claims {
			if owner == pid {
				delete(g.claims, ctx)
			}
		}
	}
}

// Process returns the driver as seen by pid.
func (k *Kernel) Process(pid int) driver.Driver {
	return &procDriver{k: k, pid: pid}
}

// FailNext makes the next call of op fail with errno.
func (k *Kernel) FailNext(op string, errno syscall.Errno) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.failures[op] = errno
}

// Calls returns the operations issued so far, in order.
func (k *Kernel) Calls() []string {
	k.mu.Lock()
	defer k.mu.Unlock()
	return append([]string(nil), k.calls...)
}

// OpenHandles returns how many control handles are open.
func (k *Kernel) OpenHandles() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.handles
}

// ProgramInfo is a snapshot of one program.
type ProgramInfo struct {
	ID      uint32
	UID     uint32
	Caps    int
	Members []int
	Claims  map[int]int
}

func (k *Kernel) Program(prog uint32) (ProgramInfo, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	g, ok := k.programs[prog]
	if !ok {
		return ProgramInfo{}, false
	}
	info := ProgramInfo{ID: g.id, UID: g.uid, Caps: len(g.caps), Claims: make(map[int]int, len(g.claims))}
	for pid := range g.members {
		info.Members = append(info.Members, pid)
	}
	sort.Ints(info.Members)
	for ctx, pid := range g.claims {
		info.Claims[ctx] = pid
	}
	return info, true
}

// Signals returns the signals delivered to pid.
func (k *Kernel) Signals(pid int) []syscall.Signal {
	k.mu.Lock()
	defer k.mu.Unlock()
	return append([]syscall.Signal(nil), k.signals[pid]...)
}

// enterLocked logs op and returns an injected failure, if any.
func (k *Kernel) enterLocked(pid int, op string) error {
	k.calls = append(k.calls, fmt.Sprintf("%d:%s", pid, op))
	if errno, ok := k.failures[op]; ok {
		delete(k.failures, op)
		return errno
	}
	return nil
}

func (k *Kernel) callerLocked(pid int) (*process, error) {
	p, ok := k.procs[pid]
	if !ok || !p.alive {
		return nil, syscall.ESRCH
	}
	return p, nil
}

func keyOf(rail int, c *capability.Capability) capKey {
	return capKey{rail: rail, key: c.UserKey, low: c.LowContext, high: c.HighContext}
}
