package capability

import (
	"crypto/rand"
	"encoding/binary"
	"io"

	"qsnet-switch/internal/allocator"
	"qsnet-switch/internal/bitmap"
	"qsnet-switch/internal/logging"
	"qsnet-switch/internal/qswerr"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"
)

// Builder computes capabilities, drawing context ranges and program ids from
// an Allocator and user keys from a random source.
type Builder struct {
	alloc  *allocator.Allocator
	rand   io.Reader
	logger logrus.FieldLogger
}

// NewBuilder returns a builder. A nil random source uses crypto/rand.
func NewBuilder(alloc *allocator.Allocator, random io.Reader, logger logrus.FieldLogger) *Builder {
	if random == nil {
		random = rand.Reader
	}
	return &Builder{
		alloc:  alloc,
		rand:   random,
		logger: logging.OrDefault(logger),
	}
}

// Setup allocates a program id and builds the capability for a job; this is
// what a launcher calls before shipping the job to the nodes.
func (b *Builder) Setup(tasks uint32, nodes *bitmap.Bitmap, cyclic bool) (JobInfo, error) {
	if err := checkArgs(tasks, nodes); err != nil {
		return JobInfo{}, err
	}
	prog := b.alloc.ProgramID()
	capab, err := b.Build(tasks, nodes, cyclic)
	if err != nil {
		return JobInfo{}, err
	}
	j := JobInfo{ProgramID: prog, Capability: capab}
	b.logger.WithFields(logrus.Fields{
		"program_id":   j.ProgramID,
		"context_low":  capab.LowContext,
		"context_high": capab.HighContext,
		"node_low":     capab.LowNode,
		"node_high":    capab.HighNode,
		"tasks":        tasks,
		"layout":       capab.Type.String(),
	}).Debug("Job capability set up")
	return j, nil
}

// Build computes the capability for tasks spread over the nodes set in nodes.
//
// The first tasks%len(nodes) nodes (ascending id) get one task more than the
// rest. In block layout each node's tasks occupy a contiguous run of
// Width() bits; in cyclic layout task j of every node sits in the j-th stride
// of NodeRange() bits.
func (b *Builder) Build(tasks uint32, nodes *bitmap.Bitmap, cyclic bool) (Capability, error) {
	if err := checkArgs(tasks, nodes); err != nil {
		return Capability{}, err
	}

	nnodes := uint32(nodes.Count())
	fullNodes := tasks % nnodes
	minPerNode := tasks / nnodes
	maxPerNode := (tasks + nnodes - 1) / nnodes

	c := Null()
	c.Type = TypeBlock
	if cyclic {
		c.Type = TypeCyclic
	}
	c.Type |= TypeMultiRail | TypeBroadcastable
	c.RailMask = 1
	c.LowNode = uint32(nodes.First())
	c.HighNode = uint32(nodes.Last())
	c.Entries = tasks

	if uint64(c.NodeRange())*uint64(maxPerNode) > MaxVPs {
		return Capability{}, qswerr.Invalidf("%d tasks over node range %d-%d need %d slots, capacity is %d",
			tasks, c.LowNode, c.HighNode, uint64(c.NodeRange())*uint64(maxPerNode), MaxVPs)
	}

	key, err := b.userKey()
	if err != nil {
		return Capability{}, err
	}
	c.UserKey = key

	low, err := b.alloc.ContextRange(maxPerNode)
	if err != nil {
		return Capability{}, err
	}
	c.LowContext = low
	c.HighContext = low + maxPerNode - 1

	rank := uint32(0)
	for id := c.LowNode; id <= c.HighNode; id++ {
		if !nodes.Test(int(id)) {
			continue
		}
		count := minPerNode
		if rank < fullNodes {
			count = maxPerNode
		}
		rank++
		for j := uint32(0); j < count; j++ {
			c.Bitmap.Set(c.SlotBit(id, j))
		}
	}
	return c, nil
}

func (b *Builder) userKey() ([KeyWords]uint32, error) {
	var raw [KeyWords * 4]byte
	var key [KeyWords]uint32
	if _, err := io.ReadFull(b.rand, raw[:]); err != nil {
		return key, errors.Wrap(err, "read user key")
	}
	for i := range key {
		key[i] = binary.BigEndian.Uint32(raw[i*4:])
	}
	return key, nil
}

func checkArgs(tasks uint32, nodes *bitmap.Bitmap) error {
	if tasks == 0 || tasks > MaxVPs {
		return qswerr.Invalidf("task count %d outside [1, %d]", tasks, MaxVPs)
	}
	if nodes == nil || nodes.Count() == 0 {
		return qswerr.Invalidf("node set is empty")
	}
	return nil
}
