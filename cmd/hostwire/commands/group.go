package commands

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/hostwire/hostwire/pkg/command"
	"github.com/hostwire/hostwire/pkg/inventory"
	cmdprov "github.com/hostwire/hostwire/pkg/providers/command"
	"github.com/hostwire/hostwire/pkg/runnable"
	"github.com/hostwire/hostwire/pkg/stores"
	"github.com/hostwire/hostwire/pkg/stream"
)

const defaultConcurrency = 10

func newGroupCommand(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "group",
		Short: "Work with inventory groups",
		Long: `Work with groups of hosts from an INI inventory file.

Each section of the inventory is a group; each key a host whose value is
an agent address or an ssh:// target:

  [web]
  web1 = 10.0.0.11:7070
  web2 = ssh://deploy@10.0.0.12

The group "all" holds every host.`,
	}

	cmd.AddCommand(newGroupListCommand(opts))
	cmd.AddCommand(newGroupExecCommand(opts))

	return cmd
}

type groupListing struct {
	Group string            `json:"group" yaml:"group"`
	Hosts []inventory.Entry `json:"hosts" yaml:"hosts"`
}

func newGroupListCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list [GROUP]",
		Short: "List groups, or the hosts of one group",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			inv, err := opts.loadInventory()
			if err != nil {
				return err
			}

			names := inv.Groups()
			if len(args) == 1 {
				names = args
			}

			listing := make([]groupListing, 0, len(names))
			for _, name := range names {
				hosts, err := inv.Group(name)
				if err != nil {
					return err
				}
				listing = append(listing, groupListing{Group: name, Hosts: hosts})
			}

			return opts.printer(cmd.OutOrStdout()).print(listing, func(w io.Writer) error {
				for _, g := range listing {
					fmt.Fprintln(w, headerStyle.Render("["+g.Group+"]"))
					for _, e := range g.Hosts {
						fmt.Fprintf(w, "  %s %s\n", e.Name, dimStyle.Render(e.Target))
					}
				}
				return nil
			})
		},
	}
}

// hostResult is the outcome of a group command on one host.
type hostResult struct {
	Host   string         `json:"host" yaml:"host"`
	Result *stream.Result `json:"result,omitempty" yaml:"result,omitempty"`
	Error  string         `json:"error,omitempty" yaml:"error,omitempty"`
}

func newGroupExecCommand(opts *globalOptions) *cobra.Command {
	var concurrency int

	cmd := &cobra.Command{
		Use:   "exec GROUP -- COMMAND [ARGS...]",
		Short: "Run a command on every host of a group",
		Long: `Run a command on every host of a group, at most --concurrency at a
time. Every host runs even when others fail. Output is printed per host
as each finishes, prefixed with the host name.`,
		Example: `  hostwire --inventory hosts.ini group exec web -- uptime
  hostwire --inventory hosts.ini group exec all --concurrency 50 -- apt-get update`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			line := strings.Join(args[1:], " ")

			inv, err := opts.loadInventory()
			if err != nil {
				return err
			}
			entries, err := inv.Group(args[0])
			if err != nil {
				return err
			}

			rec, closeStore, err := opts.recorder(ctx)
			if err != nil {
				return err
			}
			defer closeStore()

			pr := opts.printer(cmd.OutOrStdout())
			var (
				mu      sync.Mutex
				results []hostResult
			)
			report := func(r hostResult) {
				mu.Lock()
				defer mu.Unlock()
				results = append(results, r)
				if !pr.structured() {
					writeHostResult(pr.out, r)
				}
			}

			runErr := inventory.ForEach(ctx, entries, concurrency, func(ctx context.Context, e inventory.Entry) error {
				res, err := opts.execOn(ctx, e, line, rec)
				r := hostResult{Host: e.Name, Result: res}
				if err != nil {
					r.Error = err.Error()
				}
				report(r)
				if err != nil {
					return err
				}
				return exitErr(res)
			})

			if pr.structured() {
				byHost := lo.KeyBy(results, func(r hostResult) string { return r.Host })
				ordered := lo.FilterMap(entries, func(e inventory.Entry, _ int) (hostResult, bool) {
					r, ok := byHost[e.Name]
					return r, ok
				})
				if err := pr.print(ordered, nil); err != nil {
					return err
				}
			}
			return runErr
		},
	}

	cmd.Flags().IntVar(&concurrency, "concurrency", defaultConcurrency, "hosts worked on at once")

	return cmd
}

// execOn runs line on one inventory host and collects the result.
func (o *globalOptions) execOn(ctx context.Context, e inventory.Entry, line string, rec *stores.Recorder) (*stream.Result, error) {
	h, err := o.openEntry(ctx, e)
	if err != nil {
		return nil, err
	}
	defer h.Close()

	c := command.New(h, line)
	provider, err := c.Provider()
	if err != nil {
		return nil, err
	}

	run := stores.NewRun(e.Name, cmdprov.Endpoint, provider, runnable.OpExec, line)
	rec.Start(ctx, run)
	res, err := c.Exec(ctx)
	var code *int
	if res != nil {
		code = res.ExitCode
	}
	rec.Finish(ctx, run, false, code, err)
	return res, err
}

func writeHostResult(w io.Writer, r hostResult) {
	prefix := hostStyle.Render(r.Host)
	switch {
	case r.Error != "":
		fmt.Fprintf(w, "%s %s\n", prefix, failStyle.Render("error: "+r.Error))
		return
	case r.Result.Success:
		fmt.Fprintf(w, "%s %s\n", prefix, okStyle.Render("ok"))
	default:
		fmt.Fprintf(w, "%s %s\n", prefix, failStyle.Render(fmt.Sprintf("exit %d", r.Result.Code())))
	}
	writePrefixed(w, prefix, r.Result.Stdout)
	writePrefixed(w, prefix+" "+dimStyle.Render("stderr"), r.Result.Stderr)
}

func writePrefixed(w io.Writer, prefix, text string) {
	sc := bufio.NewScanner(strings.NewReader(text))
	for sc.Scan() {
		fmt.Fprintf(w, "%s | %s\n", prefix, sc.Text())
	}
}
