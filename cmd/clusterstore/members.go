package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/dd0wney/cluso-clusterstore/pkg/membership"
	"github.com/dd0wney/cluso-clusterstore/pkg/validation"
)

func newMembersCmd(opts *cliOptions) *cobra.Command {
	members := &cobra.Command{
		Use:   "members",
		Short: "Inspect and maintain the membership table",
	}
	members.AddCommand(
		newMembersListCmd(opts),
		newMembersGetCmd(opts),
		newMembersCleanupCmd(opts),
		newMembersPurgeCmd(opts),
	)
	return members
}

func newMembersListCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every silo in this service and deployment",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			p, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer p.Close()

			data, err := p.Directory.ReadAll(ctx)
			if err != nil {
				return err
			}
			renderMembers(cmd.OutOrStdout(), data, time.Now())
			return nil
		},
	}
}

func newMembersGetCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <host:port@generation>",
		Short: "Show one silo's row as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := membership.ParseSiloAddress(args[0])
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			p, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer p.Close()

			data, err := p.Directory.ReadRow(ctx, addr)
			if err != nil {
				return err
			}
			row, ok := data.Find(addr)
			if !ok {
				return fmt.Errorf("silo %s not found (table version %d)", addr, data.Version.Version)
			}

			out, err := json.MarshalIndent(struct {
				Etag         string                     `json:"etag"`
				TableVersion int64                      `json:"tableVersion"`
				Entry        membership.MembershipEntry `json:"entry"`
			}{row.ETag, data.Version.Version, row.Entry}, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
}

func newMembersCleanupCmd(opts *cliOptions) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove silos that have not reported for --older-than",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := validation.ValidateCleanupRequest(&validation.CleanupRequest{OlderThan: olderThan}); err != nil {
				return err
			}

			ctx := cmd.Context()
			p, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer p.Close()

			cutoff := time.Now().Add(-olderThan)
			if err := p.Directory.CleanupDefunctSiloEntries(ctx, cutoff); err != nil {
				return err
			}
			data, err := p.Directory.ReadAll(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed silos idle since %s; %d remain, table version %d\n",
				cutoff.UTC().Format(time.RFC3339), len(data.Entries), data.Version.Version)
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 7*24*time.Hour, "Remove silos whose last liveness report is older than this")
	return cmd
}

func newMembersPurgeCmd(opts *cliOptions) *cobra.Command {
	var (
		serviceID string
		yes       bool
	)

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete every row of a service in this deployment",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return errors.New("purge deletes membership rows; pass --yes to confirm")
			}

			ctx := cmd.Context()
			p, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer p.Close()

			if serviceID == "" {
				serviceID = p.Directory.ServiceID()
			}
			if err := p.Directory.DeleteMembershipTableEntries(ctx, serviceID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "purged service %q from deployment %q\n", serviceID, p.Directory.DeploymentID())
			return nil
		},
	}
	cmd.Flags().StringVar(&serviceID, "service-id", "", "Service to purge (default: the configured service)")
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm the purge")
	return cmd
}

var statusColors = map[membership.SiloStatus]lipgloss.Color{
	membership.StatusActive:       lipgloss.Color("#00FF00"),
	membership.StatusJoining:      lipgloss.Color("#00FFFF"),
	membership.StatusShuttingDown: lipgloss.Color("#FFFF00"),
	membership.StatusStopping:     lipgloss.Color("#FFFF00"),
	membership.StatusDead:         lipgloss.Color("#FF0000"),
}

// memberRows flattens the table into display rows, one per silo
func memberRows(data *membership.TableData, now time.Time) [][]string {
	rows := make([][]string, 0, len(data.Entries))
	for _, e := range data.Entries {
		rows = append(rows, []string{
			e.Entry.SiloAddress.ToParsableString(),
			e.Entry.Status.String(),
			e.Entry.SiloName,
			e.Entry.HostName,
			strconv.Itoa(e.Entry.ProxyPort),
			now.Sub(e.Entry.IAmAliveTime).Truncate(time.Second).String(),
			strconv.Itoa(len(e.Entry.SuspectTimes)),
		})
	}
	return rows
}

var memberHeaders = []string{"ADDRESS", "STATUS", "SILO", "HOST", "PROXY", "LAST ALIVE", "SUSPECTS"}

func renderMembers(w io.Writer, data *membership.TableData, now time.Time) {
	entries := data.Entries
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("#00FFFF"))).
		Headers(memberHeaders...).
		Rows(memberRows(data, now)...).
		StyleFunc(func(row, col int) lipgloss.Style {
			style := lipgloss.NewStyle().Padding(0, 1)
			if row == table.HeaderRow {
				return style.Bold(true)
			}
			if col == 1 && row >= 0 && row < len(entries) {
				if c, ok := statusColors[entries[row].Entry.Status]; ok {
					return style.Foreground(c)
				}
			}
			return style
		})

	fmt.Fprintln(w, t.Render())
	fmt.Fprintf(w, "table version %d (%s), %d silos\n", data.Version.Version, data.Version.VersionEtag, len(entries))
}
