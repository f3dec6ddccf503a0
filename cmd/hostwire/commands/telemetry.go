package commands

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/hostwire/hostwire/pkg/host"
	"github.com/hostwire/hostwire/pkg/runnable"
	"github.com/hostwire/hostwire/pkg/telemetry"
)

func newTelemetryCommand(opts *globalOptions) *cobra.Command {
	var provider string

	cmd := &cobra.Command{
		Use:   "telemetry",
		Short: "Show host telemetry",
		Long: `Show the host's CPU, memory, filesystems, network interfaces and
operating system.

Telemetry is loaded when the host connects, by racing every telemetry
provider and keeping the first that recognizes the platform. Pass
--provider to load with one specific provider instead. With --store,
the snapshot is also saved to the history store.`,
		Example: `  hostwire telemetry
  hostwire --host 10.0.0.5:7070 telemetry -o yaml
  hostwire telemetry --provider Fedora`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			h, err := opts.openHost(ctx)
			if err != nil {
				return err
			}
			defer h.Close()

			t := h.Telemetry()
			if provider != "" {
				loaded, err := host.Run[*telemetry.Telemetry](ctx, h, runnable.TelemetryLoad(provider))
				if err != nil {
					return err
				}
				t = loaded
			}

			if opts.Store != "" {
				store, err := opts.openStore(ctx)
				if err != nil {
					return err
				}
				defer store.Close()
				if _, err := store.SaveTelemetry(ctx, h.Name(), t); err != nil {
					log.Warn().Err(err).Str("host", h.Name()).Msg("failed to save telemetry")
				}
			}

			return opts.printer(cmd.OutOrStdout()).print(t, func(w io.Writer) error {
				return writeTelemetry(w, h.Name(), t)
			})
		},
	}

	cmd.Flags().StringVar(&provider, "provider", "", "load telemetry with this provider")

	return cmd
}

func writeTelemetry(w io.Writer, name string, t *telemetry.Telemetry) error {
	fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("%s (%s)", t.Hostname, name)))
	fmt.Fprintf(w, "  OS:      %s %s (%s, %s)\n", t.OS.Platform, t.OS.VersionStr, t.OS.Family, t.OS.Arch)
	fmt.Fprintf(w, "  CPU:     %s, %d cores\n", t.CPU.BrandString, t.CPU.Cores)
	fmt.Fprintf(w, "  Memory:  %s\n", humanize.IBytes(t.Memory))

	if len(t.FS) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, headerStyle.Render("Filesystems"))
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "  MOUNT\tFILESYSTEM\tSIZE\tUSED\tAVAIL\tUSE%")
		for _, fs := range t.FS {
			fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\t%s\t%.0f%%\n",
				fs.Mountpoint, fs.Filesystem,
				humanize.IBytes(fs.Size), humanize.IBytes(fs.Used), humanize.IBytes(fs.Available),
				fs.Capacity)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}

	if len(t.Net) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, headerStyle.Render("Network"))
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "  NAME\tSTATUS\tMAC\tADDRESSES")
		for _, n := range t.Net {
			addrs := append(append([]string{}, n.Inet...), n.Inet6...)
			fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\n", n.Name, n.Status, n.MAC, strings.Join(addrs, ", "))
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}
	return nil
}
