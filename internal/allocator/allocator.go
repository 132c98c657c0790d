// Package allocator hands out program description numbers and hardware
// context ranges for jobs launched on a node.
//
// Program descriptions must not be used twice at the same time on a node, and
// hardware contexts are an adapter resource that every communicating process
// needs exactly one of. An initialized Allocator hands both out consecutively
// and wraps at the top of its range. A process that never calls Init (a
// transient launcher) gets random ids instead.
package allocator

import (
	"math"
	"math/rand"
	"os"
	"sync"

	"qsnet-switch/internal/logging"
	"qsnet-switch/internal/qswerr"

	"github.com/sirupsen/logrus"
)

const (
	// Program id 0 is reserved: the driver shifts it to derive shared memory keys.
	DefaultProgramMin uint32 = 1
	DefaultProgramMax uint32 = math.MaxInt32

	// The user context range is restricted to the RMS segment. The top context
	// is excluded because the driver refuses to validate capabilities using it.
	DefaultContextMin uint32 = 0x400
	DefaultContextMax uint32 = 0x7ff - 1
)

// Ranges bounds the ids an Allocator hands out. Both ranges are inclusive.
type Ranges struct {
	ProgramMin uint32
	ProgramMax uint32
	ContextMin uint32
	ContextMax uint32
}

func DefaultRanges() Ranges {
	return Ranges{
		ProgramMin: DefaultProgramMin,
		ProgramMax: DefaultProgramMax,
		ContextMin: DefaultContextMin,
		ContextMax: DefaultContextMax,
	}
}

func (r Ranges) Validate() error {
	if r.ProgramMin == 0 {
		return qswerr.Invalidf("program id 0 is reserved")
	}
	if r.ProgramMin > r.ProgramMax {
		return qswerr.Invalidf("program range [%d, %d] is inverted", r.ProgramMin, r.ProgramMax)
	}
	if r.ContextMin > r.ContextMax {
		return qswerr.Invalidf("context range [%#x, %#x] is inverted", r.ContextMin, r.ContextMax)
	}
	return nil
}

// State is the persistent part of an Allocator.
type State struct {
	NextProgramID   uint32
	NextContextBase uint32
}

type Allocator struct {
	ranges Ranges
	logger logrus.FieldLogger

	mu    sync.Mutex
	state *State
}

// New returns an uninitialized allocator over the default ranges.
func New(logger logrus.FieldLogger) *Allocator {
	a, _ := NewWithRanges(DefaultRanges(), logger)
	return a
}

func NewWithRanges(ranges Ranges, logger logrus.FieldLogger) (*Allocator, error) {
	if err := ranges.Validate(); err != nil {
		return nil, err
	}
	return &Allocator{
		ranges: ranges,
		logger: logging.OrDefault(logger),
	}, nil
}

func (a *Allocator) Ranges() Ranges {
	return a.ranges
}

// Init installs allocator state. saved, when non-nil, is restored verbatim
// after checking that both counters lie inside the configured ranges.
func (a *Allocator) Init(saved *State) error {
	var next State
	if saved != nil {
		if saved.NextProgramID < a.ranges.ProgramMin || saved.NextProgramID > a.ranges.ProgramMax {
			return qswerr.Corruptf("saved program id %d outside [%d, %d]",
				saved.NextProgramID, a.ranges.ProgramMin, a.ranges.ProgramMax)
		}
		// A base one past the top is legal: the next allocation wraps it.
		if saved.NextContextBase < a.ranges.ContextMin || uint64(saved.NextContextBase) > uint64(a.ranges.ContextMax)+1 {
			return qswerr.Corruptf("saved context base %#x outside [%#x, %#x]",
				saved.NextContextBase, a.ranges.ContextMin, a.ranges.ContextMax)
		}
		next = *saved
	} else {
		next = State{NextProgramID: a.ranges.ProgramMin, NextContextBase: a.ranges.ContextMin}
	}

	a.mu.Lock()
	if a.state != nil {
		a.mu.Unlock()
		return qswerr.ErrAlreadyInitialized
	}
	a.state = &next
	a.mu.Unlock()

	a.logger.WithFields(logrus.Fields{
		"next_program_id":   next.NextProgramID,
		"next_context_base": next.NextContextBase,
		"restored":          saved != nil,
	}).Debug("Allocator initialized")
	return nil
}

// Finalize clears the allocator and returns its final state.
func (a *Allocator) Finalize() (State, error) {
	a.mu.Lock()
	if a.state == nil {
		a.mu.Unlock()
		return State{}, qswerr.ErrNotInitialized
	}
	out := *a.state
	a.state = nil
	a.mu.Unlock()

	a.logger.WithFields(logrus.Fields{
		"next_program_id":   out.NextProgramID,
		"next_context_base": out.NextContextBase,
	}).Debug("Allocator finalized")
	return out, nil
}

func (a *Allocator) Initialized() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state != nil
}

// ProgramID returns a program description number.
func (a *Allocator) ProgramID() uint32 {
	a.mu.Lock()
	if a.state == nil {
		a.mu.Unlock()
		return transientUint32(a.ranges.ProgramMin, a.ranges.ProgramMax)
	}
	id := a.state.NextProgramID
	if id >= a.ranges.ProgramMax {
		a.state.NextProgramID = a.ranges.ProgramMin
	} else {
		a.state.NextProgramID++
	}
	a.mu.Unlock()
	return id
}

// ContextRange returns the low bound of width consecutive hardware contexts.
// When the range would run past the top, the base wraps to the bottom and the
// tail is abandoned.
func (a *Allocator) ContextRange(width uint32) (uint32, error) {
	span := uint64(a.ranges.ContextMax) - uint64(a.ranges.ContextMin) + 1
	if width == 0 || uint64(width) > span {
		return 0, qswerr.Invalidf("context width %d outside [1, %d]", width, span)
	}

	a.mu.Lock()
	if a.state == nil {
		a.mu.Unlock()
		return transientUint32(a.ranges.ContextMin, a.ranges.ContextMax-(width-1)), nil
	}
	if uint64(a.state.NextContextBase)+uint64(width)-1 > uint64(a.ranges.ContextMax) {
		a.state.NextContextBase = a.ranges.ContextMin
	}
	base := a.state.NextContextBase
	a.state.NextContextBase += width
	a.mu.Unlock()
	return base, nil
}

// Snapshot returns the current state without finalizing.
func (a *Allocator) Snapshot() (State, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state == nil {
		return State{}, qswerr.ErrNotInitialized
	}
	return *a.state, nil
}

var transient struct {
	once sync.Once
	mu   sync.Mutex
	rng  *rand.Rand
}

// transientUint32 draws uniformly from [lo, hi]. The generator is seeded once
// per process from the pid.
func transientUint32(lo, hi uint32) uint32 {
	transient.once.Do(func() {
		transient.rng = rand.New(rand.NewSource(int64(os.Getpid())))
	})
	transient.mu.Lock()
	n := transient.rng.Int63n(int64(hi) - int64(lo) + 1)
	transient.mu.Unlock()
	return lo + uint32(n)
}
