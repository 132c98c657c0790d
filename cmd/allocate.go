package cmd

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"qsnet-switch/internal/allocator"
	"qsnet-switch/internal/bitmap"
	"qsnet-switch/internal/capability"
	"qsnet-switch/internal/codec"
	"qsnet-switch/internal/config"
	"qsnet-switch/internal/database"
	"qsnet-switch/internal/qswerr"
	"qsnet-switch/internal/statefile"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/viant/afs/file"
)

type allocateOptions struct {
	tasks  uint32
	nodes  string
	hosts  []string
	cyclic bool
	out    string
}

func newAllocateCmd(a *app) *cobra.Command {
	var opts allocateOptions
	c := &cobra.Command{
		Use:   "allocate",
		Short: "Allocate a program id and context range and build a job capability",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("cyclic") {
				opts.cyclic = a.cfg.Cyclic()
			}
			return a.allocate(cmd.Context(), cmd, opts)
		},
	}
	c.Flags().Uint32Var(&opts.tasks, "tasks", 0, "Number of tasks in the job")
	c.Flags().StringVar(&opts.nodes, "nodes", "", "Node ids, e.g. 0-3,8")
	c.Flags().StringSliceVar(&opts.hosts, "hosts", nil, "Comma-separated host names resolved through the node directory")
	c.Flags().BoolVar(&opts.cyclic, "cyclic", false, "Cyclic task layout (default from config)")
	c.Flags().StringVar(&opts.out, "out", "", "URL to write the encoded job info to")
	c.MarkFlagRequired("tasks")
	c.MarkFlagsMutuallyExclusive("nodes", "hosts")
	c.MarkFlagsOneRequired("nodes", "hosts")
	return c
}

func (a *app) allocate(ctx context.Context, cmd *cobra.Command, opts allocateOptions) error {
	logger := a.switchLogger()

	nodes, err := a.resolveNodes(ctx, opts)
	if err != nil {
		return err
	}

	alloc, err := allocator.NewWithRanges(a.cfg.Ranges(), logger)
	if err != nil {
		return err
	}
	statePath := a.cfg.QSwitch.Allocator.StateFile
	if statePath == "" {
		statePath = statefile.DefaultPath()
	}
	if err := statefile.Restore(alloc, statePath); err != nil {
		return err
	}

	job, err := capability.NewBuilder(alloc, nil, logger).Setup(opts.tasks, nodes, opts.cyclic)
	if err != nil {
		// Setup may already have consumed a program id.
		if perr := statefile.Persist(alloc, statePath); perr != nil {
			logger.WithError(perr).Warn("Unable to save allocator state")
		}
		return err
	}
	if err := statefile.Persist(alloc, statePath); err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), job.String())

	if opts.out != "" {
		if err := a.fs.Upload(ctx, opts.out, file.DefaultFileOsMode, bytes.NewReader(codec.EncodeJobInfo(&job))); err != nil {
			return errors.Wrapf(err, "write job info to %s", opts.out)
		}
		logger.WithField("out", opts.out).Debug("Job info written")
	}

	a.record(ctx, opts, &job)
	return nil
}

func (a *app) resolveNodes(ctx context.Context, opts allocateOptions) (*bitmap.Bitmap, error) {
	if len(opts.hosts) > 0 {
		return a.directory().NodeSet(ctx, opts.hosts)
	}
	ids, err := config.ParseNodeSpec(opts.nodes)
	if err != nil {
		return nil, errors.Mark(err, qswerr.ErrInvalidArgument)
	}
	set, err := bitmap.FromIndices(capability.MaxVPs, ids...)
	if err != nil {
		return nil, errors.Mark(err, qswerr.ErrInvalidArgument)
	}
	return set, nil
}

// record sends the allocation to the audit sink. Failures are logged only,
// the allocation itself has already been made.
func (a *app) record(ctx context.Context, opts allocateOptions, job *capability.JobInfo) {
	logger := a.switchLogger().WithField("program_id", job.ProgramID)

	rec, err := a.newRecorder(ctx, a.cfg)
	if err != nil {
		logger.WithError(err).Warn("Allocation not recorded")
		return
	}
	defer rec.Close()

	checksum, err := config.Checksum(a.cfg)
	if err != nil {
		logger.WithError(err).Warn("Unable to compute config checksum")
	}
	layout := config.LayoutBlock
	if opts.cyclic {
		layout = config.LayoutCyclic
	}
	err = rec.RecordAllocation(ctx, &database.AllocationRecord{
		LaunchID:       a.launchID,
		ConfigChecksum: checksum,
		Layout:         layout,
		Hosts:          opts.hosts,
		Job:            job,
		CreatedAt:      time.Now(),
	})
	if err != nil {
		logger.WithError(err).Warn("Allocation not recorded")
		return
	}
	logger.WithFields(logrus.Fields{
		"launch_id": a.launchID,
		"layout":    layout,
	}).Debug("Allocation recorded")
}
