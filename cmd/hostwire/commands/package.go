package commands

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/hostwire/hostwire/pkg/host"
	"github.com/hostwire/hostwire/pkg/packages"
	"github.com/hostwire/hostwire/pkg/providers/pkgmgr"
	"github.com/hostwire/hostwire/pkg/runnable"
	"github.com/hostwire/hostwire/pkg/stores"
	"github.com/hostwire/hostwire/pkg/stream"
)

func newPackageCommand(opts *globalOptions) *cobra.Command {
	var provider string

	cmd := &cobra.Command{
		Use:     "package",
		Aliases: []string{"pkg"},
		Short:   "Query, install and remove packages",
		Long: `Query, install and remove packages with the host's package manager.

The manager is the first available of apt, dnf, homebrew, nix, pkg and
yum unless --provider names one. install and uninstall do nothing when
the package is already in the requested state.`,
	}

	cmd.PersistentFlags().StringVar(&provider, "provider", "", "package provider (Apt, Dnf, Homebrew, Nix, Pkg, Yum)")

	cmd.AddCommand(newPackageStatusCommand(opts, &provider))
	cmd.AddCommand(newPackageChangeCommand(opts, &provider, runnable.OpInstall))
	cmd.AddCommand(newPackageChangeCommand(opts, &provider, runnable.OpUninstall))

	return cmd
}

type packageStatus struct {
	Host      string `json:"host" yaml:"host"`
	Name      string `json:"name" yaml:"name"`
	Provider  string `json:"provider" yaml:"provider"`
	Installed bool   `json:"installed" yaml:"installed"`
}

func newPackageStatusCommand(opts *globalOptions, provider *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status NAME",
		Short: "Show whether a package is installed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			h, err := opts.openHost(ctx)
			if err != nil {
				return err
			}
			defer h.Close()

			p, err := packages.New(ctx, h, args[0], *provider)
			if err != nil {
				return err
			}

			st := packageStatus{Host: h.Name(), Name: p.Name(), Provider: p.Provider(), Installed: p.Installed()}
			return opts.printer(cmd.OutOrStdout()).print(st, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "%s %s (%s)\n", st.Name,
					statusText(st.Installed, "installed", "not installed"), dimStyle.Render(st.Provider))
				return err
			})
		},
	}
}

func newPackageChangeCommand(opts *globalOptions, provider *string, op string) *cobra.Command {
	use, short := "install NAME", "Install a package"
	if op == runnable.OpUninstall {
		use, short = "uninstall NAME", "Remove a package"
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

			p, err := packages.New(ctx, h, args[0], *provider)
			if err != nil {
				return err
			}

			return applyChange(cmd, opts, h, rec, stores.NewRun(h.Name(), pkgmgr.Endpoint, p.Provider(), op, p.Name()),
				func() (*stream.Stream, error) {
					if op == runnable.OpInstall {
						return p.Install(ctx)
					}
					return p.Uninstall(ctx)
				})
		},
	}
}

// applyChange runs an idempotent change, records it and prints the
// outcome. start returns a nil stream when nothing needed doing.
func applyChange(cmd *cobra.Command, opts *globalOptions, h host.Host, rec *stores.Recorder, run *stores.Run, start func() (*stream.Stream, error)) error {
	ctx := cmd.Context()
	rec.Start(ctx, run)

	s, err := start()
	if err != nil {
		rec.Finish(ctx, run, false, nil, err)
		return err
	}

	pr := opts.printer(cmd.OutOrStdout())
	outcome := &runOutcome{Host: h.Name(), Target: run.Target, Action: run.Op}
	code, err := pr.drain(ctx, s, outcome, cmd.ErrOrStderr())
	rec.Finish(ctx, run, s == nil, code, err)
	if err != nil {
		return err
	}

	if err := pr.print(outcome, func(w io.Writer) error {
		switch {
		case !outcome.Changed:
			fmt.Fprintf(w, "%s: %s %s\n", run.Target, dimStyle.Render("unchanged"), dimStyle.Render("("+run.Op+")"))
		case outcome.Result.Success:
			fmt.Fprintf(w, "%s: %s\n", run.Target, okStyle.Render(run.Op+" succeeded"))
		default:
			fmt.Fprintf(w, "%s: %s\n", run.Target, failStyle.Render(fmt.Sprintf("%s failed (exit %d)", run.Op, outcome.Result.Code())))
		}
		return nil
	}); err != nil {
		return err
	}
	return exitErr(outcome.Result)
}
