// Package lifecycle turns a job capability into a live program on a node.
//
// Three roles cooperate around one job. The coordinator creates the program
// and publishes the capability (CreateGroup). Each task process claims one
// hardware context (AttachSelf). A process outside the program destroys it
// once every member has exited (Destroy).
package lifecycle

import (
	"fmt"
	"sync"
	"syscall"

	"qsnet-switch/internal/capability"
	"qsnet-switch/internal/driver"
	"qsnet-switch/internal/logging"
	"qsnet-switch/internal/qswerr"

	"github.com/sirupsen/logrus"
)

type State int

const (
	Unattached State = iota
	GroupCreated
	GroupBound
	CapabilityPublished
	TaskAttached
	Destroyed
)

func (s State) String() string {
	switch s {
	case Unattached:
		return "unattached"
	case GroupCreated:
		return "group-created"
	case GroupBound:
		return "group-bound"
	case CapabilityPublished:
		return "capability-published"
	case TaskAttached:
		return "task-attached"
	case Destroyed:
		return "destroyed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var (
	prgCreateRules = []qswerr.Rule{
		{Errno: syscall.EINVAL, Kind: qswerr.ErrBind, Reason: qswerr.ReasonInvalidID},
		{Errno: syscall.EPERM, Kind: qswerr.ErrBind, Reason: qswerr.ReasonPermission},
		{Errno: syscall.EEXIST, Kind: qswerr.ErrBind, Reason: qswerr.ReasonAlreadyBound},
	}
	prgAddCapRules = []qswerr.Rule{
		{Errno: syscall.ESRCH, Kind: qswerr.ErrPublish, Reason: qswerr.ReasonNoGroup},
		{Errno: syscall.EFAULT, Kind: qswerr.ErrPublish, Reason: qswerr.ReasonFault},
	}
	setCapRules = []qswerr.Rule{
		{Errno: syscall.EINVAL, Kind: qswerr.ErrBind, Reason: qswerr.ReasonInvalidID},
		{Errno: syscall.EFAULT, Kind: qswerr.ErrBind, Reason: qswerr.ReasonFault},
		{Errno: syscall.EBUSY, Kind: qswerr.ErrBind, Reason: qswerr.ReasonAlreadyBound},
		{Errno: syscall.EPERM, Kind: qswerr.ErrBind, Reason: qswerr.ReasonPermission},
	}
	prgDestroyRules = []qswerr.Rule{
		{Errno: syscall.ECHILD, Kind: qswerr.ErrDestroy},
		{Errno: syscall.EEXIST, Kind: qswerr.ErrStillExists},
	}
	prgSignalRules = []qswerr.Rule{
		{Errno: syscall.EINVAL, Kind: qswerr.ErrSignal, Reason: qswerr.ReasonInvalidID},
		{Errno: syscall.ESRCH, Kind: qswerr.ErrSignal, Reason: qswerr.ReasonNoGroup},
	}
)

// Job tracks one job's program on this node. All methods are safe for
// concurrent use.
type Job struct {
	info   capability.JobInfo
	logger logrus.FieldLogger

	mu       sync.Mutex
	state    State
	handles  []driver.Handle
	attached map[int]uint32 // task index -> hardware context
}

// NewJob validates info and returns a job in the Unattached state. The job
// keeps its own copy of info.
func NewJob(info capability.JobInfo, logger logrus.FieldLogger) (*Job, error) {
	if info.ProgramID == 0 {
		return nil, qswerr.Invalidf("program id 0 is reserved")
	}
	if err := info.Capability.Validate(); err != nil {
		return nil, err
	}
	info = info.Clone()
	return &Job{
		info:     info,
		logger:   logging.OrDefault(logger).WithField("program_id", info.ProgramID),
		attached: make(map[int]uint32),
	}, nil
}

func (j *Job) Info() capability.JobInfo {
	return j.info.Clone()
}

func (j *Job) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// Attached returns the hardware contexts claimed through this job, keyed by
// task index.
func (j *Job) Attached() map[int]uint32 {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make(map[int]uint32, len(j.attached))
	for k, v := range j.attached {
		out[k] = v
	}
	return out
}

// CreateGroup is the coordinator step. It pushes the capability into every
// rail, creates the program owned by uid with the caller as member, and
// publishes the capability to the program. On failure every handle opened so
// far is closed before the error is returned, and the job falls back to
// Unattached, or to GroupBound if the program was already created.
func (j *Job) CreateGroup(drv driver.Driver, uid uint32) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state != Unattached {
		return qswerr.Invalidf("create group: job is %s", j.state)
	}

	c := &j.info.Capability
	for rail := 0; rail < c.Rails(); rail++ {
		h, err := drv.Open(rail)
		if err != nil {
			j.abortLocked(Unattached)
			return qswerr.Translate("open control device", err)
		}
		j.handles = append(j.handles, h)
		if err := h.CreateCapability(c); err != nil {
			j.abortLocked(Unattached)
			return qswerr.Translate("create capability", err)
		}
	}
	j.state = GroupCreated

	if err := drv.CreateProgram(j.info.ProgramID, uid); err != nil {
		j.abortLocked(Unattached)
		return qswerr.Translate("create program", err, prgCreateRules...)
	}
	j.state = GroupBound

	if err := drv.AddCapability(j.info.ProgramID, c); err != nil {
		// The program exists now and has to be destroyed by the caller.
		j.abortLocked(GroupBound)
		return qswerr.Translate("publish capability", err, prgAddCapRules...)
	}
	j.state = CapabilityPublished

	j.logger.WithFields(logrus.Fields{
		"uid":          uid,
		"rails":        len(j.handles),
		"context_low":  c.LowContext,
		"context_high": c.HighContext,
	}).Info("Program created and capability published")
	return nil
}

// AttachSelf is the task step: the calling process claims hardware context
// LowContext+taskIndex. A task may claim several distinct indices, but an
// index can be claimed only once.
func (j *Job) AttachSelf(drv driver.Driver, taskIndex int) (uint32, error) {
	c := &j.info.Capability
	if taskIndex < 0 || uint32(taskIndex) >= c.Width() {
		return 0, qswerr.Invalidf("task index %d outside [0, %d)", taskIndex, c.Width())
	}
	if err := drv.SetCapability(0, taskIndex); err != nil {
		return 0, qswerr.Translate("set capability", err, setCapRules...)
	}
	ctx := c.LowContext + uint32(taskIndex)

	j.mu.Lock()
	j.attached[taskIndex] = ctx
	if j.state == CapabilityPublished || j.state == Unattached {
		j.state = TaskAttached
	}
	j.mu.Unlock()

	j.logger.WithFields(logrus.Fields{
		"task_index": taskIndex,
		"context":    ctx,
	}).Info("Task attached")
	return ctx, nil
}

// Signal delivers sig to every member of the job's program.
func (j *Job) Signal(drv driver.Driver, sig syscall.Signal) error {
	if err := drv.SignalProgram(j.info.ProgramID, sig); err != nil {
		return qswerr.Translate("signal program", err, prgSignalRules...)
	}
	j.logger.WithField("signal", sig.String()).Debug("Program signalled")
	return nil
}

// Destroy removes the program. drv must belong to a process outside the
// program, called after every member has exited. A refused destroy leaves
// the program and the job state untouched.
func (j *Job) Destroy(drv driver.Driver) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state == Destroyed {
		return qswerr.Invalidf("destroy: program already destroyed")
	}
	if err := drv.DestroyProgram(j.info.ProgramID); err != nil {
		return qswerr.Translate("destroy program", err, prgDestroyRules...)
	}
	j.state = Destroyed
	j.logger.Info("Program destroyed")
	return nil
}

// Release closes the control handles held by the coordinator, which drops
// the capability from the device.
func (j *Job) Release() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.teardownLocked()
}

func (j *Job) abortLocked(to State) {
	j.teardownLocked()
	j.state = to
	j.logger.WithField("state", to.String()).Warn("Program setup failed, control handles released")
}

func (j *Job) teardownLocked() {
	for i := len(j.handles) - 1; i >= 0; i-- {
		if err := j.handles[i].Close(); err != nil {
			j.logger.WithError(err).WithField("rail", i).Warn("Failed to close control handle")
		}
	}
	j.handles = nil
}

// LocalNodeID returns the node id of this host's rail 0 adapter.
func LocalNodeID(drv driver.Driver) (uint32, error) {
	h, err := drv.Open(0)
	if err != nil {
		return 0, qswerr.Translate("open control device", err)
	}
	defer h.Close()
	pos, err := h.Position()
	if err != nil {
		return 0, qswerr.Translate("query position", err)
	}
	return pos.NodeID, nil
}
