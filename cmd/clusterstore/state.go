package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dd0wney/cluso-clusterstore/pkg/grainstate"
	"github.com/dd0wney/cluso-clusterstore/pkg/validation"
)

func newStateCmd(opts *cliOptions) *cobra.Command {
	state := &cobra.Command{
		Use:   "state",
		Short: "Read and write grain state",
	}
	state.AddCommand(
		newStateGetCmd(opts),
		newStatePutCmd(opts),
		newStateClearCmd(opts),
	)
	return state
}

func grainArgs(args []string) (string, string, error) {
	req := validation.GrainRequest{GrainType: args[0], GrainID: args[1]}
	if err := validation.ValidateGrainRequest(&req); err != nil {
		return "", "", err
	}
	return req.GrainType, req.GrainID, nil
}

func newStateGetCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <grain-type> <grain-id>",
		Short: "Print a grain's state; the etag goes to stderr",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			grainType, grainID, err := grainArgs(args)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			p, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer p.Close()

			state := grainstate.NewGrainState[json.RawMessage](nil)
			if err := p.Grains.ReadState(ctx, grainType, grainID, state); err != nil {
				return err
			}
			if !state.Exists {
				return fmt.Errorf("no state stored for %s", p.Grains.Key(grainType, grainID))
			}

			var pretty bytes.Buffer
			if err := json.Indent(&pretty, state.State, "", "  "); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), pretty.String())
			fmt.Fprintf(cmd.ErrOrStderr(), "etag: %s\n", state.Etag)
			return nil
		},
	}
}

func newStatePutCmd(opts *cliOptions) *cobra.Command {
	var (
		etag  string
		force bool
	)

	cmd := &cobra.Command{
		Use:   "put <grain-type> <grain-id> <json | @file | ->",
		Short: "Write a grain's state",
		Long: `Write a grain's state.

Without --etag the grain must have no stored state. With --etag the stored
etag must match. --force overwrites whatever is stored.

Examples:
  clusterstore state put Counter 42 '{"count": 1}'
  clusterstore state put Counter 42 @state.json --etag 6f1c...
  cat state.json | clusterstore state put Counter 42 - --force`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			grainType, grainID, err := grainArgs(args)
			if err != nil {
				return err
			}
			body, err := readStateArg(args[2], cmd.InOrStdin())
			if err != nil {
				return err
			}
			if err := validation.ValidateStateBody(body); err != nil {
				return err
			}

			ctx := cmd.Context()
			p, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer p.Close()

			state := grainstate.NewGrainState(json.RawMessage(body))
			state.Etag = etag
			if force {
				current := grainstate.NewGrainState[json.RawMessage](nil)
				if err := p.Grains.ReadState(ctx, grainType, grainID, current); err != nil {
					return err
				}
				state.Etag = current.Etag
			}

			if err := p.Grains.WriteState(ctx, grainType, grainID, state); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "etag: %s\n", state.Etag)
			return nil
		},
	}
	cmd.Flags().StringVar(&etag, "etag", "", "Etag the stored state must have")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite regardless of the stored etag")
	cmd.MarkFlagsMutuallyExclusive("etag", "force")
	return cmd
}

// readStateArg resolves a literal JSON argument, @file or - for stdin
func readStateArg(arg string, stdin io.Reader) ([]byte, error) {
	switch {
	case arg == "-":
		return io.ReadAll(io.LimitReader(stdin, int64(validation.MaxStateBytes+1)))
	case strings.HasPrefix(arg, "@"):
		return os.ReadFile(strings.TrimPrefix(arg, "@"))
	default:
		return []byte(arg), nil
	}
}

func newStateClearCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clear <grain-type> <grain-id>",
		Short: "Delete a grain's state",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			grainType, grainID, err := grainArgs(args)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			p, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer p.Close()

			state := grainstate.NewGrainState[json.RawMessage](nil)
			if err := p.Grains.ClearState(ctx, grainType, grainID, state); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cleared %s\n", p.Grains.Key(grainType, grainID))
			return nil
		},
	}
}
