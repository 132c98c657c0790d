package sim

import (
	"syscall"

	"qsnet-switch/internal/capability"
	"qsnet-switch/internal/driver"

	"github.com/sirupsen/logrus"
)

type procDriver struct {
	k   *Kernel
	pid int
}

func (d *procDriver) Open(rail int) (driver.Handle, error) {
	k := d.k
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := k.enterLocked(d.pid, OpOpen); err != nil {
		return nil, err
	}
	if rail < 0 || rail >= k.opts.Rails {
		return nil, syscall.ENODEV
	}
	k.handles++
	return &handle{k: k, pid: d.pid, rail: rail}, nil
}

func (d *procDriver) CreateProgram(prog uint32, uid uint32) error {
	k := d.k
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := k.enterLocked(d.pid, OpPrgCreate); err != nil {
		return err
	}
	p, err := k.callerLocked(d.pid)
	if err != nil {
		return err
	}
	if prog == 0 {
		return syscall.EINVAL
	}
	if _, exists := k.programs[prog]; exists {
		return syscall.EINVAL
	}
	if p.uid != 0 && p.uid != uid {
		return syscall.EPERM
	}
	if p.prog != 0 {
		return syscall.EEXIST
	}
	k.programs[prog] = &program{
		id:      prog,
		uid:     uid,
		members: map[int]struct{}{d.pid: {}},
		claims:  make(map[int]int),
	}
	p.prog = prog
	k.logger.WithFields(logrus.Fields{"pid": d.pid, "program_id": prog}).Debug("sim: program created")
	return nil
}

func (d *procDriver) AddCapability(prog uint32, c *capability.Capability) error {
	k := d.k
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := k.enterLocked(d.pid, OpPrgAddCap); err != nil {
		return err
	}
	g, ok := k.programs[prog]
	if !ok {
		return syscall.ESRCH
	}
	if c == nil || c.Validate() != nil || k.known[keyOf(0, c)] == 0 {
		return syscall.EFAULT
	}
	g.caps = append(g.caps, c.Clone())
	return nil
}

func (d *procDriver) SetCapability(capIndex int, ctx int) error {
	k := d.k
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := k.enterLocked(d.pid, OpSetCap); err != nil {
		return err
	}
	p, err := k.callerLocked(d.pid)
	if err != nil {
		return err
	}
	g, ok := k.programs[p.prog]
	if !ok {
		return syscall.EPERM
	}
	if capIndex < 0 || capIndex >= len(g.caps) {
		return syscall.EINVAL
	}
	c := &g.caps[capIndex]
	if ctx < 0 || uint32(ctx) >= c.Width() {
		return syscall.EINVAL
	}
	if _, taken := g.claims[ctx]; taken {
		return syscall.EBUSY
	}
	g.claims[ctx] = d.pid
	return nil
}

func (d *procDriver) DestroyProgram(prog uint32) error {
	k := d.k
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := k.enterLocked(d.pid, OpPrgDestroy); err != nil {
		return err
	}
	g, ok := k.programs[prog]
	if !ok {
		return syscall.ESRCH
	}
	if _, member := g.members[d.pid]; member {
		return syscall.ECHILD
	}
	if len(g.members) > 0 {
		return syscall.EEXIST
	}
	delete(k.programs, prog)
	k.logger.WithFields(logrus.Fields{"pid": d.pid, "program_id": prog}).Debug("sim: program destroyed")
	return nil
}

func (d *procDriver) SignalProgram(prog uint32, sig syscall.Signal) error {
	k := d.k
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := k.enterLocked(d.pid, OpPrgSignal); err != nil {
		return err
	}
	if prog == 0 {
		return syscall.EINVAL
	}
	g, ok := k.programs[prog]
	if !ok {
		return syscall.ESRCH
	}
	for pid := range g.members {
		k.signals[pid] = append(k.signals[pid], sig)
	}
	return nil
}

type handle struct {
	k      *Kernel
	pid    int
	rail   int
	closed bool
	held   []capKey
}

func (h *handle) CreateCapability(c *capability.Capability) error {
	k := h.k
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := k.enterLocked(h.pid, OpCreateCap); err != nil {
		return err
	}
	if h.closed {
		return syscall.EBADF
	}
	if c == nil || c.Validate() != nil {
		return syscall.EINVAL
	}
	key := keyOf(h.rail, c)
	k.known[key]++
	h.held = append(h.held, key)
	return nil
}

func (h *handle) Position() (driver.Position, error) {
	k := h.k
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := k.enterLocked(h.pid, OpPosition); err != nil {
		return driver.Position{}, err
	}
	if h.closed {
		return driver.Position{}, syscall.EBADF
	}
	return driver.Position{NodeID: k.opts.NodeID, Nodes: k.opts.Nodes}, nil
}

// Close releases the handle and every capability pushed through it.
func (h *handle) Close() error {
	k := h.k
	k.mu.Lock()
	defer k.mu.Unlock()
	if h.closed {
		return syscall.EBADF
	}
	h.closed = true
	k.handles--
	for _, key := range h.held {
		if k.known[key]--; k.known[key] <= 0 {
			delete(k.known, key)
		}
	}
	h.held = nil
	return nil
}
