package commands

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/hostwire/hostwire/pkg/providers/svcmgr"
	"github.com/hostwire/hostwire/pkg/runnable"
	"github.com/hostwire/hostwire/pkg/services"
	"github.com/hostwire/hostwire/pkg/stores"
	"github.com/hostwire/hostwire/pkg/stream"
)

func newServiceCommand(opts *globalOptions) *cobra.Command {
	var provider string

	cmd := &cobra.Command{
		Use:     "service",
		Aliases: []string{"svc"},
		Short:   "Query and control services",
		Long: `Query and control services with the host's service manager.

The manager is the first available of systemd, debian init scripts,
launchctl, homebrew services and redhat init scripts unless --provider
names one. start and stop do nothing when the service is already in the
requested state; enable and disable report whether they changed anything.`,
		Example: `  hostwire service status nginx
  hostwire --host 10.0.0.5:7070 service restart nginx
  hostwire service action nginx reload`,
	}

	cmd.PersistentFlags().StringVar(&provider, "provider", "", "service provider (Systemd, Debian, Launchctl, Homebrew, Redhat)")

	cmd.AddCommand(newServiceStatusCommand(opts, &provider))
	for _, action := range []string{svcmgr.ActionStart, svcmgr.ActionStop, "restart", "reload"} {
		cmd.AddCommand(newServiceActionCommand(opts, &provider, action))
	}
	cmd.AddCommand(newServiceActionCommand(opts, &provider, ""))
	cmd.AddCommand(newServiceEnableCommand(opts, &provider, true))
	cmd.AddCommand(newServiceEnableCommand(opts, &provider, false))

	return cmd
}

type serviceStatus struct {
	Host     string `json:"host" yaml:"host"`
	Name     string `json:"name" yaml:"name"`
	Provider string `json:"provider" yaml:"provider"`
	Running  bool   `json:"running" yaml:"running"`
	Enabled  bool   `json:"enabled" yaml:"enabled"`
}

func newServiceStatusCommand(opts *globalOptions, provider *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status NAME",
		Short: "Show whether a service is running and enabled",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			h, err := opts.openHost(ctx)
			if err != nil {
				return err
			}
			defer h.Close()

			svc := services.New(h, args[0], *provider)
			st := serviceStatus{Host: h.Name(), Name: svc.Name()}
			if st.Provider, err = svc.Provider(ctx); err != nil {
				return err
			}
			if st.Running, err = svc.Running(ctx); err != nil {
				return err
			}
			if st.Enabled, err = svc.Enabled(ctx); err != nil {
				return err
			}

			return opts.printer(cmd.OutOrStdout()).print(st, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "%s %s, %s (%s)\n", st.Name,
					statusText(st.Running, "running", "stopped"),
					statusText(st.Enabled, "enabled", "disabled"),
					dimStyle.Render(st.Provider))
				return err
			})
		},
	}
}

// newServiceActionCommand builds "start NAME" style commands, or the
// generic "action NAME ACTION" when action is empty.
func newServiceActionCommand(opts *globalOptions, provider *string, action string) *cobra.Command {
	use, short, nargs := action+" NAME", "Run "+action+" on a service", 1
	if action == "" {
		use, short, nargs = "action NAME ACTION", "Run a provider-specific action on a service", 2
	}

	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(nargs),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			act := action
			if act == "" {
				act = args[1]
			}

			h, err := opts.openHost(ctx)
			if err != nil {
				return err
			}
			defer h.Close()

			rec, closeStore, err := opts.recorder(ctx)
			if err != nil {
				return err
			}
			defer closeStore()

			svc := services.New(h, args[0], *provider)
			p, err := svc.Provider(ctx)
			if err != nil {
				return err
			}

			return applyChange(cmd, opts, h, rec, stores.NewRun(h.Name(), svcmgr.Endpoint, p, act, svc.Name()),
				func() (*stream.Stream, error) {
					return svc.Action(ctx, act)
				})
		},
	}
}

type enableOutcome struct {
	Host    string `json:"host" yaml:"host"`
	Name    string `json:"name" yaml:"name"`
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Changed bool   `json:"changed" yaml:"changed"`
}

func newServiceEnableCommand(opts *globalOptions, provider *string, enable bool) *cobra.Command {
	use, short, op := "enable NAME", "Start a service at boot", runnable.OpEnable
	if !enable {
		use, short, op = "disable NAME", "Stop a service starting at boot", runnable.OpDisable
	}

	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			h, err := opts.openHost(ctx)
			if err != nil {
				return err
			}
			defer h.Close()

			rec, closeStore, err := opts.recorder(ctx)
			if err != nil {
				return err
			}
			defer closeStore()

			svc := services.New(h, args[0], *provider)
			p, err := svc.Provider(ctx)
			if err != nil {
				return err
			}

			run := stores.NewRun(h.Name(), svcmgr.Endpoint, p, op, svc.Name())
			rec.Start(ctx, run)

			var changed bool
			if enable {
				changed, err = svc.Enable(ctx)
			} else {
				changed, err = svc.Disable(ctx)
			}
			rec.Finish(ctx, run, !changed && err == nil, nil, err)
			if err != nil {
				return err
			}

			out := enableOutcome{Host: h.Name(), Name: svc.Name(), Enabled: enable, Changed: changed}
			return opts.printer(cmd.OutOrStdout()).print(out, func(w io.Writer) error {
				state := statusText(enable, "enabled", "disabled")
				if !changed {
					state += " " + dimStyle.Render("(unchanged)")
				}
				_, err := fmt.Fprintf(w, "%s: %s\n", out.Name, state)
				return err
			})
		},
	}
}
