package commands

import (
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hostwire/hostwire/pkg/command"
	cmdprov "github.com/hostwire/hostwire/pkg/providers/command"
	"github.com/hostwire/hostwire/pkg/runnable"
	"github.com/hostwire/hostwire/pkg/stores"
)

func newExecCommand(opts *globalOptions) *cobra.Command {
	var (
		shell    string
		provider string
	)

	cmd := &cobra.Command{
		Use:   "exec -- COMMAND [ARGS...]",
		Short: "Run a command on the host",
		Long: `Run a command on the host and stream its output.

With text output, stdout and stderr are copied live and hostwire exits
with the command's exit code. With json or yaml output, the output is
collected and printed once the command finishes.`,
		Example: `  # Run locally
  hostwire exec -- uname -a

  # Run through an agent
  hostwire --host 10.0.0.5:7070 exec -- systemctl --failed

  # Bootstrap the agent over SSH
  hostwire --ssh deploy@web1 exec -- df -h`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			line := strings.Join(args, " ")

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

			var copts []command.Option
			if shell != "" {
				copts = append(copts, command.WithShell(shell))
			}
			if provider != "" {
				copts = append(copts, command.WithProvider(provider))
			}
			c := command.New(h, line, copts...)

			p, err := c.Provider()
			if err != nil {
				return err
			}
			run := stores.NewRun(h.Name(), cmdprov.Endpoint, p, runnable.OpExec, line)
			rec.Start(ctx, run)

			s, err := c.Stream(ctx)
			if err != nil {
				rec.Finish(ctx, run, false, nil, err)
				return err
			}

			pr := opts.printer(cmd.OutOrStdout())
			outcome := &runOutcome{Host: h.Name(), Target: line, Action: runnable.OpExec}
			code, err := pr.drain(ctx, s, outcome, cmd.ErrOrStderr())
			rec.Finish(ctx, run, false, code, err)
			if err != nil {
				return err
			}

			if pr.structured() {
				if err := pr.print(outcome, func(io.Writer) error { return nil }); err != nil {
					return err
				}
			}
			return exitErr(outcome.Result)
		},
	}

	cmd.Flags().StringVar(&shell, "shell", "", "shell the command runs under (default: /bin/sh)")
	cmd.Flags().StringVar(&provider, "provider", "", "force a command provider (Nix or Generic)")

	return cmd
}
