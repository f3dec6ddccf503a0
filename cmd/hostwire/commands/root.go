package commands

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hostwire/hostwire/pkg/errdefs"
	"github.com/hostwire/hostwire/pkg/observability"
)

// ExitError carries the exit code of a command that ran but failed.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

// globalOptions holds the persistent flags shared by every command.
type globalOptions struct {
	Host      string `validate:"omitempty,hostname_port"`
	SSH       string
	AgentPath string
	Upload    string `validate:"omitempty,file"`
	Identity  string `validate:"omitempty,file"`
	Password  bool
	Insecure  bool
	Inventory string `validate:"omitempty,file"`
	Output    string `validate:"oneof=text json yaml"`
	Store     string
	LogLevel  string `validate:"oneof=trace debug info warn error"`

	password func() (string, error)
}

var validate = validator.New()

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	opts := &globalOptions{password: sync.OnceValues(promptPassword)}

	rootCmd := &cobra.Command{
		Use:   "hostwire",
		Short: "hostwire - uniform command, package and service management for hosts",
		Long: `hostwire runs commands, manages packages and services, and reports
telemetry on the local machine or on remote machines running hostwire-agent.

Remote machines are reached either directly over TCP (--host) or by
starting the agent through SSH (--ssh). The same operations behave the
same way everywhere: provider selection (apt, dnf, systemd, launchctl...)
happens on the target.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := validate.Struct(opts); err != nil {
				return errdefs.Configuration("invalid flags", err)
			}
			if opts.Host != "" && opts.SSH != "" {
				return errdefs.Configuration("--host and --ssh are mutually exclusive", nil)
			}
			zerolog.SetGlobalLevel(observability.ParseLevel(opts.LogLevel))
			return nil
		},
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.Host, "host", "", "agent address (host:port); default is the local machine")
	flags.StringVar(&opts.SSH, "ssh", "", "start the agent over SSH on [user@]host[:port]")
	flags.StringVar(&opts.AgentPath, "agent-path", "", "agent binary path on the remote machine (default: hostwire-agent)")
	flags.StringVar(&opts.Upload, "upload", "", "local agent binary to upload to --agent-path before starting it")
	flags.StringVarP(&opts.Identity, "identity", "i", "", "SSH private key")
	flags.BoolVar(&opts.Password, "password", false, "prompt for an SSH password")
	flags.BoolVar(&opts.Insecure, "insecure", false, "accept unknown SSH host keys")
	flags.StringVar(&opts.Inventory, "inventory", os.Getenv("HOSTWIRE_INVENTORY"), "inventory file for group commands")
	flags.StringVarP(&opts.Output, "output", "o", "text", "output format: text, json or yaml")
	flags.StringVar(&opts.Store, "store", os.Getenv("HOSTWIRE_STORE"), "SQLite file recording run history")
	flags.StringVar(&opts.LogLevel, "log-level", logLevel, "log level: trace, debug, info, warn or error")

	rootCmd.AddCommand(newExecCommand(opts))
	rootCmd.AddCommand(newTelemetryCommand(opts))
	rootCmd.AddCommand(newPackageCommand(opts))
	rootCmd.AddCommand(newServiceCommand(opts))
	rootCmd.AddCommand(newGroupCommand(opts))
	rootCmd.AddCommand(newHistoryCommand(opts))

	return rootCmd
}
