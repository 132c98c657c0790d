package cmd

import (
	"fmt"
	"strconv"

	"qsnet-switch/internal/qswerr"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
)

func newNodesCmd(a *app) *cobra.Command {
	nodesCmd := &cobra.Command{
		Use:   "nodes",
		Short: "Query the node directory",
	}

	nodesCmd.AddCommand(&cobra.Command{
		Use:   "id HOST",
		Short: "Print the node id of a host",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := a.directory().IDForHost(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	})

	nodesCmd.AddCommand(&cobra.Command{
		Use:   "host ID",
		Short: "Print the host name of a node id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseUint(args[0], 10, 32)
			if err != nil {
				return errors.Mark(errors.Wrapf(err, "node id %q", args[0]), qswerr.ErrInvalidArgument)
			}
			host, err := a.directory().HostForID(cmd.Context(), uint32(id))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), host)
			return nil
		},
	})

	nodesCmd.AddCommand(&cobra.Command{
		Use:   "max",
		Short: "Print the highest node id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := a.directory().MaxNodeID(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	})

	nodesCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Print every known host name",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			hosts, err := a.directory().Hosts(cmd.Context())
			if err != nil {
				return err
			}
			for _, h := range hosts {
				fmt.Fprintln(cmd.OutOrStdout(), h)
			}
			return nil
		},
	})

	return nodesCmd
}
