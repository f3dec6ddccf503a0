package commands

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/hostwire/hostwire/pkg/errdefs"
	"github.com/hostwire/hostwire/pkg/stores"
)

func newHistoryCommand(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded runs and telemetry",
		Long: `Show what hostwire did, as recorded in the --store SQLite file.

Every exec, package and service change run with --store set is recorded
with its host, provider, outcome and exit code. telemetry run with --store
saves a snapshot per host.`,
	}

	cmd.AddCommand(newHistoryListCommand(opts))
	cmd.AddCommand(newHistoryShowCommand(opts))
	cmd.AddCommand(newHistoryTelemetryCommand(opts))
	cmd.AddCommand(newHistoryPruneCommand(opts))

	return cmd
}

func newHistoryListCommand(opts *globalOptions) *cobra.Command {
	var filter stores.RunFilter
	var status string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := validate.Var(status, "omitempty,oneof=running succeeded failed skipped"); err != nil {
				return errdefs.Configuration("invalid --status", err)
			}
			filter.Status = stores.RunStatus(status)

			store, err := opts.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.ListRuns(ctx, filter)
			if err != nil {
				return err
			}

			return opts.printer(cmd.OutOrStdout()).print(runs, func(w io.Writer) error {
				return writeRuns(w, runs)
			})
		},
	}

	cmd.Flags().StringVar(&filter.Host, "host-name", "", "only runs on this host")
	cmd.Flags().StringVar(&status, "status", "", "only runs with this status")
	cmd.Flags().IntVar(&filter.Limit, "limit", stores.DefaultListLimit, "maximum runs shown")
	cmd.Flags().IntVar(&filter.Offset, "offset", 0, "runs skipped")

	return cmd
}

func writeRuns(w io.Writer, runs []*stores.Run) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTARTED\tHOST\tOPERATION\tTARGET\tSTATUS\tDURATION")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s.%s.%s\t%s\t%s\t%s\n",
			shortID(r.ID),
			humanize.Time(r.StartedAt),
			r.Host,
			r.Endpoint, r.Provider, r.Op,
			r.Target,
			runStatusText(r),
			r.Duration().Round(time.Millisecond),
		)
	}
	return tw.Flush()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func runStatusText(r *stores.Run) string {
	switch r.Status {
	case stores.RunStatusSucceeded:
		return okStyle.Render(string(r.Status))
	case stores.RunStatusFailed:
		if r.ExitCode != nil {
			return failStyle.Render(fmt.Sprintf("failed (%d)", *r.ExitCode))
		}
		return failStyle.Render(string(r.Status))
	default:
		return dimStyle.Render(string(r.Status))
	}
}

func newHistoryShowCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show one recorded run; ID may be a unique prefix",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			store, err := opts.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			run, err := store.FindRun(ctx, args[0])
			if err != nil {
				return err
			}

			return opts.printer(cmd.OutOrStdout()).print(run, func(w io.Writer) error {
				fmt.Fprintf(w, "%s\n", headerStyle.Render(run.ID))
				fmt.Fprintf(w, "  Host:      %s\n", run.Host)
				fmt.Fprintf(w, "  Operation: %s.%s.%s\n", run.Endpoint, run.Provider, run.Op)
				fmt.Fprintf(w, "  Target:    %s\n", run.Target)
				fmt.Fprintf(w, "  Status:    %s\n", runStatusText(run))
				fmt.Fprintf(w, "  Started:   %s (%s)\n", run.StartedAt.Format(time.RFC3339), humanize.Time(run.StartedAt))
				if run.CompletedAt != nil {
					fmt.Fprintf(w, "  Duration:  %s\n", run.Duration().Round(time.Millisecond))
				}
				if run.Error != nil {
					fmt.Fprintf(w, "  Error:     %s\n", failStyle.Render(*run.Error))
				}
				return nil
			})
		},
	}
}

func newHistoryTelemetryCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "telemetry HOST",
		Short: "Show the latest telemetry snapshot of a host",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			store, err := opts.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			snap, err := store.LatestTelemetry(ctx, args[0])
			if err != nil {
				return err
			}

			return opts.printer(cmd.OutOrStdout()).print(snap, func(w io.Writer) error {
				fmt.Fprintln(w, dimStyle.Render("captured "+humanize.Time(snap.CapturedAt)))
				return writeTelemetry(w, snap.Host, snap.Telemetry)
			})
		},
	}
}

func newHistoryPruneCommand(opts *globalOptions) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete finished runs older than --older-than",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if olderThan <= 0 {
				return errdefs.Configuration("--older-than must be positive", nil)
			}

			store, err := opts.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			n, err := store.DeleteRunsBefore(ctx, time.Now().Add(-olderThan))
			if err != nil {
				return err
			}

			result := map[string]int64{"deleted": n}
			return opts.printer(cmd.OutOrStdout()).print(result, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "deleted %s runs\n", humanize.Comma(n))
				return err
			})
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "age of the runs to delete")

	return cmd
}
