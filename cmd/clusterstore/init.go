package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newInitCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the database if allowed and seed the table version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			p, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer p.Close()

			if err := p.Initialize(ctx); err != nil {
				return err
			}
			data, err := p.Directory.ReadAll(ctx)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "database %q ready (%s backend), table version %d, %d silos\n",
				p.Docs.Database(), p.Docs.Name(), data.Version.Version, len(data.Entries))
			return nil
		},
	}
}
