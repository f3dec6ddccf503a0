// Package command holds the providers that execute shell commands.
package command

import (
	"context"
	"fmt"
	"strings"

	"github.com/hostwire/hostwire/pkg/errdefs"
	"github.com/hostwire/hostwire/pkg/stream"
	"github.com/hostwire/hostwire/pkg/system"
	"github.com/hostwire/hostwire/pkg/telemetry"
)

// Endpoint is the endpoint name used in errors and runnables.
const Endpoint = "Command"

// DefaultShell runs commands for the Nix provider.
const DefaultShell = "/bin/sh"

// ExecArgs are the arguments of the Exec operation.
type ExecArgs struct {
	Shell string `json:"shell,omitempty"`
	Cmd   string `json:"cmd"`
}

// Validate checks the arguments.
func (a *ExecArgs) Validate() error {
	if strings.TrimSpace(a.Cmd) == "" {
		return fmt.Errorf("cmd is required")
	}
	return nil
}

// Provider executes a command line.
type Provider interface {
	Name() string
	Available(t *telemetry.Telemetry) bool
	Exec(ctx context.Context, env system.Env, args ExecArgs) (*stream.Stream, error)
}

// Nix runs the command through a POSIX shell.
type Nix struct{}

// Name implements Provider.
func (Nix) Name() string { return "Nix" }

// Available implements Provider.
func (Nix) Available(t *telemetry.Telemetry) bool {
	return t != nil && t.OS.IsUnix()
}

// Exec implements Provider.
func (Nix) Exec(ctx context.Context, env system.Env, args ExecArgs) (*stream.Stream, error) {
	if err := args.Validate(); err != nil {
		return nil, errdefs.Configuration("invalid exec arguments", err)
	}
	shell := args.Shell
	if shell == "" {
		shell = DefaultShell
	}
	return env.Start(ctx, shell, "-c", args.Cmd)
}

// Generic splits the command on whitespace and runs it without a shell.
type Generic struct{}

// Name implements Provider.
func (Generic) Name() string { return "Generic" }

// Available implements Provider.
func (Generic) Available(*telemetry.Telemetry) bool { return true }

// Exec implements Provider. The shell argument is ignored.
func (Generic) Exec(ctx context.Context, env system.Env, args ExecArgs) (*stream.Stream, error) {
	if err := args.Validate(); err != nil {
		return nil, errdefs.Configuration("invalid exec arguments", err)
	}
	fields := strings.Fields(args.Cmd)
	return env.Start(ctx, fields[0], fields[1:]...)
}

// Providers returns the command providers in priority order.
func Providers() []Provider {
	return []Provider{Nix{}, Generic{}}
}

// Factory returns the first provider available for t.
func Factory(t *telemetry.Telemetry) (Provider, error) {
	for _, p := range Providers() {
		if p.Available(t) {
			return p, nil
		}
	}
	return nil, errdefs.ProviderUnavailable(Endpoint)
}

// ByName returns the provider called name.
func ByName(name string) (Provider, error) {
	for _, p := range Providers() {
		if p.Name() == name {
			return p, nil
		}
	}
	return nil, errdefs.Configuration(fmt.Sprintf("unknown command provider %q", name), nil).
		WithEndpoint(Endpoint)
}
