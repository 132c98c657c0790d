package cmd

import (
	"context"
	"fmt"
	"io"
	"syscall"

	"qsnet-switch/internal/allocator"
	"qsnet-switch/internal/capability"
	"qsnet-switch/internal/driver/sim"
	"qsnet-switch/internal/lifecycle"
	"qsnet-switch/internal/qswerr"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
)

type simulateOptions struct {
	tasks  uint32
	nodes  string
	cyclic bool
	rails  int
	uid    uint32
}

func newSimulateCmd(a *app) *cobra.Command {
	var opts simulateOptions
	c := &cobra.Command{
		Use:   "simulate",
		Short: "Run the job lifecycle against an in-memory node",
		Long: "Allocates a job, then runs the coordinator, task and cleanup steps on the first node\n" +
			"of the job against a simulated interconnect driver, printing each step.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("cyclic") {
				opts.cyclic = a.cfg.Cyclic()
			}
			return a.simulate(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}
	c.Flags().Uint32Var(&opts.tasks, "tasks", 0, "Number of tasks in the job")
	c.Flags().StringVar(&opts.nodes, "nodes", "", "Node ids, e.g. 0-3,8")
	c.Flags().BoolVar(&opts.cyclic, "cyclic", false, "Cyclic task layout (default from config)")
	c.Flags().IntVar(&opts.rails, "rails", 1, "Number of rails on the simulated node")
	c.Flags().Uint32Var(&opts.uid, "uid", 1000, "Owner of the program")
	c.MarkFlagRequired("tasks")
	c.MarkFlagRequired("nodes")
	return c
}

func (a *app) simulate(ctx context.Context, out io.Writer, opts simulateOptions) error {
	logger := a.switchLogger()

	nodes, err := a.resolveNodes(ctx, allocateOptions{nodes: opts.nodes})
	if err != nil {
		return err
	}
	alloc, err := allocator.NewWithRanges(a.cfg.Ranges(), logger)
	if err != nil {
		return err
	}
	if err := alloc.Init(nil); err != nil {
		return err
	}
	info, err := capability.NewBuilder(alloc, nil, logger).Setup(opts.tasks, nodes, opts.cyclic)
	if err != nil {
		return err
	}
	if opts.rails > 1 {
		info.Capability.RailMask = 1<<uint(opts.rails) - 1
	}
	fmt.Fprintf(out, "setup:    %s\n", info.String())

	k := sim.New(sim.Options{
		NodeID: uint32(nodes.First()),
		Nodes:  uint32(nodes.Last() + 1),
		Rails:  opts.rails,
		Logger: logger,
	})
	launcher := k.Spawn(0)

	nodeID, err := lifecycle.LocalNodeID(k.Process(launcher))
	if err != nil {
		return err
	}
	local := info.Capability.LocalTasks(nodeID)
	fmt.Fprintf(out, "node:     id=%d local_tasks=%d\n", nodeID, local)

	job, err := lifecycle.NewJob(info, logger)
	if err != nil {
		return err
	}
	defer job.Release()

	coord, err := k.Fork(launcher)
	if err != nil {
		return err
	}
	if err := job.CreateGroup(k.Process(coord), opts.uid); err != nil {
		return err
	}
	fmt.Fprintf(out, "create:   pid=%d state=%s\n", coord, job.State())

	var tasks []int
	for i := 0; i < local; i++ {
		pid, err := k.Fork(coord)
		if err != nil {
			return err
		}
		hwctx, err := job.AttachSelf(k.Process(pid), i)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "attach:   pid=%d task=%d context=%#x\n", pid, i, hwctx)
		tasks = append(tasks, pid)
	}

	if err := job.Signal(k.Process(launcher), syscall.SIGCONT); err != nil {
		return err
	}
	fmt.Fprintf(out, "signal:   %s delivered to %d members\n", syscall.SIGCONT, len(tasks)+1)

	err = job.Destroy(k.Process(launcher))
	if !errors.Is(err, qswerr.ErrStillExists) {
		return errors.Newf("destroy with live members: got %v, want refusal", err)
	}
	fmt.Fprintf(out, "destroy:  refused while members run (%v)\n", err)

	for _, pid := range tasks {
		k.Exit(pid)
	}
	k.Exit(coord)
	if err := job.Destroy(k.Process(launcher)); err != nil {
		return err
	}
	fmt.Fprintf(out, "destroy:  state=%s\n", job.State())
	return nil
}
