package cmd

import (
	"fmt"

	"qsnet-switch/internal/capability"
	"qsnet-switch/internal/codec"
	"qsnet-switch/internal/qswerr"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/spf13/cobra"
)

func newShowCmd(a *app) *cobra.Command {
	var in string
	var asJSON bool
	c := &cobra.Command{
		Use:   "show",
		Short: "Decode and print an encoded job info",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := a.fs.DownloadWithURL(cmd.Context(), in)
			if err != nil {
				return errors.Wrapf(err, "read %s", in)
			}
			job, rest, err := codec.DecodeJobInfo(data)
			if err != nil {
				return err
			}
			if len(rest) != 0 {
				return qswerr.Corruptf("%d trailing bytes after job info in %s", len(rest), in)
			}

			out := cmd.OutOrStdout()
			if !asJSON {
				fmt.Fprintln(out, job.String())
				fmt.Fprintln(out, job.Capability.String())
				return nil
			}
			w := jwriter.NewWriter()
			capability.WriteJSON(&w, &job)
			if err := w.Error(); err != nil {
				return err
			}
			fmt.Fprintln(out, string(w.Bytes()))
			return nil
		},
	}
	c.Flags().StringVar(&in, "in", "", "URL of the encoded job info")
	c.Flags().BoolVar(&asJSON, "json", false, "Print as JSON")
	c.MarkFlagRequired("in")
	return c
}
