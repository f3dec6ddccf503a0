// Package command runs shell commands on a host.
package command

import (
	"context"

	"github.com/hostwire/hostwire/pkg/host"
	cmdprov "github.com/hostwire/hostwire/pkg/providers/command"
	"github.com/hostwire/hostwire/pkg/runnable"
	"github.com/hostwire/hostwire/pkg/stream"
)

// Command is a command line bound to a host. It is not idempotent: every
// Exec or Stream runs it again.
type Command struct {
	host     host.Host
	cmd      string
	shell    string
	provider string
}

// Option configures a Command.
type Option func(*Command)

// WithShell sets the shell the command runs under. The default is /bin/sh.
func WithShell(shell string) Option {
	return func(c *Command) {
		c.shell = shell
	}
}

// WithProvider forces a command provider instead of picking one from the
// host telemetry.
func WithProvider(name string) Option {
	return func(c *Command) {
		c.provider = name
	}
}

// String returns the command line.
func (c *Command) String() string {
	return c.cmd
}

// New binds cmd to h.
func New(h host.Host, cmd string, opts ...Option) *Command {
	c := &Command{
		host:  h,
		cmd:   cmd,
		shell: cmdprov.DefaultShell,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Exec runs the command and collects its output. A non-zero exit is
// reported in the Result, not as an error.
func (c *Command) Exec(ctx context.Context) (*stream.Result, error) {
	s, err := c.Stream(ctx)
	if err != nil {
		return nil, err
	}
	defer s.Close()
	return s.Collect(ctx)
}

// Stream runs the command and returns its live output.
func (c *Command) Stream(ctx context.Context) (*stream.Stream, error) {
	provider, err := c.Provider()
	if err != nil {
		return nil, err
	}
	return c.host.Stream(ctx, runnable.CommandExec(provider, c.shell, c.cmd))
}

// Provider returns the command provider, picking it from telemetry when
// none was forced: a shell on Unix families, plain argv splitting
// otherwise.
func (c *Command) Provider() (string, error) {
	if c.provider != "" {
		return c.provider, nil
	}
	p, err := cmdprov.Factory(c.host.Telemetry())
	if err != nil {
		return "", err
	}
	c.provider = p.Name()
	return c.provider, nil
}
