package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/hostwire/hostwire/pkg/agent"
	"github.com/hostwire/hostwire/pkg/errdefs"
	"github.com/hostwire/hostwire/pkg/observability"
	"github.com/hostwire/hostwire/pkg/runnable"
	"github.com/hostwire/hostwire/pkg/system"
)

const defaultAddress = "0.0.0.0:7070"

type options struct {
	configPath     string
	address        string
	stdio          bool
	metricsAddress string
	logLevel       string
	logFormat      string
	traceExporter  string
	otlpEndpoint   string
}

func newRootCommand() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "hostwire-agent",
		Short: "Serve hostwire requests on this machine",
		Long: `hostwire-agent executes commands, package and service operations and
telemetry probes on behalf of hostwire clients.

By default it listens on TCP. With --stdio it serves one client on its
standard input and output and exits when the client disconnects; this is
how hostwire --ssh starts it.

--config and --address are mutually exclusive. Other flags override
values from the config file:

  address = "0.0.0.0:7070"

  [metrics]
  address = "127.0.0.1:9100"

  [logging]
  level = "info"
  format = "console"`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate),
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.config(cmd)
			if err != nil {
				return err
			}

			ins, err := observability.New(cfg)
			if err != nil {
				return err
			}
			ins.Logger.SetGlobal()
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := ins.Shutdown(shutdownCtx); err != nil {
					log.Warn().Err(err).Msg("failed to flush traces")
				}
			}()

			srv := agent.NewServer(runnable.NewExecutor(system.NewLocal()), ins)
			if opts.stdio {
				return serveStdio(cmd.Context(), srv, ins)
			}
			return serveTCP(cmd.Context(), srv, ins, opts.address)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "TOML config file")
	flags.StringVar(&opts.address, "address", defaultAddress, "TCP listen address")
	flags.BoolVar(&opts.stdio, "stdio", false, "serve one client on stdin and stdout")
	flags.StringVar(&opts.metricsAddress, "metrics-address", "", "Prometheus metrics listen address; empty disables")
	flags.StringVar(&opts.logLevel, "log-level", "info", "log level: trace, debug, info, warn or error")
	flags.StringVar(&opts.logFormat, "log-format", "console", "log format: console or json")
	flags.StringVar(&opts.traceExporter, "trace-exporter", "none", "trace exporter: none, stdout or otlp")
	flags.StringVar(&opts.otlpEndpoint, "otlp-endpoint", "", "OTLP collector address for --trace-exporter otlp")
	cmd.MarkFlagsMutuallyExclusive("config", "address")

	return cmd
}

// config merges the config file with the flags the user set and returns
// the observability configuration.
func (o *options) config(cmd *cobra.Command) (*observability.Config, error) {
	if o.configPath != "" {
		file, err := agent.LoadConfig(o.configPath)
		if err != nil {
			return nil, err
		}
		flags := cmd.Flags()
		o.address = file.Address
		if !flags.Changed("metrics-address") {
			o.metricsAddress = file.Metrics.Address
		}
		if !flags.Changed("log-level") && file.Logging.Level != "" {
			o.logLevel = file.Logging.Level
		}
		if !flags.Changed("log-format") && file.Logging.Format != "" {
			o.logFormat = file.Logging.Format
		}
	}

	cfg := observability.DefaultConfig("hostwire-agent")
	cfg.ServiceVersion = Version
	cfg.Logging.Level = o.logLevel
	cfg.Logging.Format = o.logFormat
	cfg.Logging.Output = "stderr"
	cfg.Metrics.Address = o.metricsAddress
	cfg.Tracing.Enabled = o.traceExporter != "none"
	cfg.Tracing.Exporter = o.traceExporter
	cfg.Tracing.Endpoint = o.otlpEndpoint

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func serveTCP(ctx context.Context, srv *agent.Server, ins *observability.Instruments, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return errdefs.Transport("failed to listen on "+addr, err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Serve(ctx, l)
	})
	g.Go(func() error {
		return ins.Metrics.Serve(ctx, ins.Config.Metrics.Address)
	})

	err = g.Wait()
	log.Info().Msg("agent stopped")
	return err
}

func serveStdio(ctx context.Context, srv *agent.Server, ins *observability.Instruments) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		if err := ins.Metrics.Serve(ctx, ins.Config.Metrics.Address); err != nil {
			log.Warn().Err(err).Msg("metrics endpoint stopped")
		}
	}()

	return srv.ServeConn(ctx, stdio{Reader: os.Stdin, Writer: os.Stdout})
}

// stdio joins the process's standard streams into one connection.
type stdio struct {
	io.Reader
	io.Writer
}

func (stdio) Close() error {
	return os.Stdin.Close()
}
