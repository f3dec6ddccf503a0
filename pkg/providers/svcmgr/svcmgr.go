// Package svcmgr holds the service providers: drivers for the init
// systems and service supervisors hostwire can manage.
package svcmgr

import (
	"context"
	"fmt"
	"strings"

	"github.com/samber/lo"

	"github.com/hostwire/hostwire/pkg/errdefs"
	"github.com/hostwire/hostwire/pkg/stream"
	"github.com/hostwire/hostwire/pkg/system"
)

// Endpoint is the endpoint name used in errors and runnables.
const Endpoint = "Service"

// Well-known actions that are checked against the running state.
const (
	ActionStart = "start"
	ActionStop  = "stop"
)

// Provider drives one service manager.
type Provider interface {
	Name() string
	Available(ctx context.Context, env system.Env) (bool, error)
	Running(ctx context.Context, env system.Env, name string) (bool, error)
	Enabled(ctx context.Context, env system.Env, name string) (bool, error)
	// Action runs a provider-specific action such as start, stop or reload.
	Action(ctx context.Context, env system.Env, name, action string) (*stream.Stream, error)
	Enable(ctx context.Context, env system.Env, name string) error
	Disable(ctx context.Context, env system.Env, name string) error
}

// Providers returns the service providers in priority order.
func Providers() []Provider {
	return []Provider{Systemd{}, Debian{}, Launchctl{}, Homebrew{}, Redhat{}}
}

// ByName returns the provider called name.
func ByName(name string) (Provider, error) {
	for _, p := range Providers() {
		if p.Name() == name {
			return p, nil
		}
	}
	return nil, errdefs.Configuration(fmt.Sprintf("unknown service provider %q", name), nil).
		WithEndpoint(Endpoint)
}

// Names returns the provider names in priority order.
func Names() []string {
	return lo.Map(Providers(), func(p Provider, _ int) string { return p.Name() })
}

func validate(name string) error {
	if name == "" || strings.HasPrefix(name, "-") || strings.ContainsAny(name, " \t\n/") {
		return errdefs.Configuration(fmt.Sprintf("invalid service name %q", name), nil).WithEndpoint(Endpoint)
	}
	return nil
}

func validateAction(action string) error {
	if action == "" || strings.HasPrefix(action, "-") || strings.ContainsAny(action, " \t\n") {
		return errdefs.Configuration(fmt.Sprintf("invalid service action %q", action), nil).WithEndpoint(Endpoint)
	}
	return nil
}

// succeeds runs a query command and reports whether it exited zero.
func succeeds(ctx context.Context, env system.Env, name string, args ...string) (bool, error) {
	out, err := env.Run(ctx, name, args...)
	if err != nil {
		return false, err
	}
	return out.Success(), nil
}

// mustSucceed runs a state-changing command, failing on non-zero exit.
func mustSucceed(ctx context.Context, env system.Env, name string, args ...string) error {
	out, err := env.Run(ctx, name, args...)
	if err != nil {
		return err
	}
	if !out.Success() {
		return errdefs.Execution(
			fmt.Sprintf("%s %s exited %d", name, strings.Join(args, " "), out.ExitCode),
			fmt.Errorf("%s", strings.TrimSpace(out.Stderr)),
		).WithEndpoint(Endpoint)
	}
	return nil
}

// Systemd drives systemctl.
type Systemd struct{}

// Name implements Provider.
func (Systemd) Name() string { return "Systemd" }

// Available implements Provider. systemctl can be installed on hosts that
// did not boot with systemd, so the runtime directory is checked too.
func (Systemd) Available(_ context.Context, env system.Env) (bool, error) {
	return system.Has(env, "systemctl") && env.Exists("/run/systemd/system"), nil
}

// Running implements Provider.
func (Systemd) Running(ctx context.Context, env system.Env, name string) (bool, error) {
	if err := validate(name); err != nil {
		return false, err
	}
	return succeeds(ctx, env, "systemctl", "is-active", "--quiet", name)
}

// Enabled implements Provider.
func (Systemd) Enabled(ctx context.Context, env system.Env, name string) (bool, error) {
	if err := validate(name); err != nil {
		return false, err
	}
	return succeeds(ctx, env, "systemctl", "is-enabled", "--quiet", name)
}

// Action implements Provider.
func (Systemd) Action(ctx context.Context, env system.Env, name, action string) (*stream.Stream, error) {
	if err := validate(name); err != nil {
		return nil, err
	}
	if err := validateAction(action); err != nil {
		return nil, err
	}
	return env.Start(ctx, "systemctl", action, name)
}

// Enable implements Provider.
func (Systemd) Enable(ctx context.Context, env system.Env, name string) error {
	if err := validate(name); err != nil {
		return err
	}
	return mustSucceed(ctx, env, "systemctl", "enable", name)
}

// Disable implements Provider.
func (Systemd) Disable(ctx context.Context, env system.Env, name string) error {
	if err := validate(name); err != nil {
		return err
	}
	return mustSucceed(ctx, env, "systemctl", "disable", name)
}

// Debian drives sysvinit scripts through service and update-rc.d.
type Debian struct{}

// Name implements Provider.
func (Debian) Name() string { return "Debian" }

// Available implements Provider.
func (Debian) Available(_ context.Context, env system.Env) (bool, error) {
	return env.GOOS() == "linux" && system.Has(env, "service") && system.Has(env, "update-rc.d"), nil
}

// Running implements Provider.
func (Debian) Running(ctx context.Context, env system.Env, name string) (bool, error) {
	if err := validate(name); err != nil {
		return false, err
	}
	return succeeds(ctx, env, "service", name, "status")
}

// Enabled implements Provider. A service is enabled when it has a start
// link in any multi-user runlevel.
func (Debian) Enabled(ctx context.Context, env system.Env, name string) (bool, error) {
	if err := validate(name); err != nil {
		return false, err
	}
	out, err := env.Run(ctx, "find", "/etc/rc2.d", "/etc/rc3.d", "/etc/rc4.d", "/etc/rc5.d", "-name", "S??"+name)
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out.Stdout) != "", nil
}

// Action implements Provider.
func (Debian) Action(ctx context.Context, env system.Env, name, action string) (*stream.Stream, error) {
	if err := validate(name); err != nil {
		return nil, err
	}
	if err := validateAction(action); err != nil {
		return nil, err
	}
	return env.Start(ctx, "service", name, action)
}

// Enable implements Provider.
func (Debian) Enable(ctx context.Context, env system.Env, name string) error {
	if err := validate(name); err != nil {
		return err
	}
	return mustSucceed(ctx, env, "update-rc.d", name, "enable")
}

// Disable implements Provider.
func (Debian) Disable(ctx context.Context, env system.Env, name string) error {
	if err := validate(name); err != nil {
		return err
	}
	return mustSucceed(ctx, env, "update-rc.d", name, "disable")
}

// Launchctl drives launchd system daemons, addressed by label.
type Launchctl struct{}

// Name implements Provider.
func (Launchctl) Name() string { return "Launchctl" }

// Available implements Provider.
func (Launchctl) Available(_ context.Context, env system.Env) (bool, error) {
	return env.GOOS() == "darwin" && system.Has(env, "launchctl"), nil
}

func target(name string) string { return "system/" + name }

// Running implements Provider.
func (Launchctl) Running(ctx context.Context, env system.Env, name string) (bool, error) {
	if err := validate(name); err != nil {
		return false, err
	}
	out, err := env.Run(ctx, "launchctl", "print", target(name))
	if err != nil {
		return false, err
	}
	return out.Success() && strings.Contains(out.Stdout, "state = running"), nil
}

// Enabled implements Provider.
func (Launchctl) Enabled(ctx context.Context, env system.Env, name string) (bool, error) {
	if err := validate(name); err != nil {
		return false, err
	}
	out, err := env.Run(ctx, "launchctl", "print-disabled", "system")
	if err != nil {
		return false, err
	}
	if !out.Success() {
		return false, nil
	}
	for _, line := range strings.Split(out.Stdout, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, `"`+name+`"`) {
			return strings.HasSuffix(line, "enabled") || strings.HasSuffix(line, "false"), nil
		}
	}
	// Not listed: launchd treats the service as enabled if it is loaded.
	return succeeds(ctx, env, "launchctl", "print", target(name))
}

// Action implements Provider.
func (Launchctl) Action(ctx context.Context, env system.Env, name, action string) (*stream.Stream, error) {
	if err := validate(name); err != nil {
		return nil, err
	}
	if err := validateAction(action); err != nil {
		return nil, err
	}
	switch action {
	case ActionStart:
		return env.Start(ctx, "launchctl", "kickstart", target(name))
	case ActionStop:
		return env.Start(ctx, "launchctl", "kill", "SIGTERM", target(name))
	case "restart":
		return env.Start(ctx, "launchctl", "kickstart", "-k", target(name))
	default:
		return env.Start(ctx, "launchctl", action, target(name))
	}
}

// Enable implements Provider.
func (Launchctl) Enable(ctx context.Context, env system.Env, name string) error {
	if err := validate(name); err != nil {
		return err
	}
	return mustSucceed(ctx, env, "launchctl", "enable", target(name))
}

// Disable implements Provider.
func (Launchctl) Disable(ctx context.Context, env system.Env, name string) error {
	if err := validate(name); err != nil {
		return err
	}
	return mustSucceed(ctx, env, "launchctl", "disable", target(name))
}

// Homebrew drives `brew services`, which wraps launchctl for formulae.
type Homebrew struct{}

// Name implements Provider.
func (Homebrew) Name() string { return "Homebrew" }

// Available implements Provider.
func (Homebrew) Available(_ context.Context, env system.Env) (bool, error) {
	return env.GOOS() == "darwin" && system.Has(env, "brew"), nil
}

// status returns the `brew services list` status column for name.
func (Homebrew) status(ctx context.Context, env system.Env, name string) (string, error) {
	out, err := env.Run(ctx, "brew", "services", "list")
	if err != nil {
		return "", err
	}
	if !out.Success() {
		return "", errdefs.Execution("brew services list failed", fmt.Errorf("%s", strings.TrimSpace(out.Stderr)))
	}
	for _, line := range strings.Split(out.Stdout, "\n") {
		fields := strings.Fields(line)
		if len(fields) >= 2 && fields[0] == name {
			return fields[1], nil
		}
	}
	return "", nil
}

// Running implements Provider.
func (h Homebrew) Running(ctx context.Context, env system.Env, name string) (bool, error) {
	if err := validate(name); err != nil {
		return false, err
	}
	st, err := h.status(ctx, env, name)
	return st == "started", err
}

// Enabled implements Provider. brew services registers a formula to start
// at login when it is started, so started and scheduled both count.
func (h Homebrew) Enabled(ctx context.Context, env system.Env, name string) (bool, error) {
	if err := validate(name); err != nil {
		return false, err
	}
	st, err := h.status(ctx, env, name)
	return st == "started" || st == "scheduled", err
}

// Action implements Provider.
func (Homebrew) Action(ctx context.Context, env system.Env, name, action string) (*stream.Stream, error) {
	if err := validate(name); err != nil {
		return nil, err
	}
	if err := validateAction(action); err != nil {
		return nil, err
	}
	return env.Start(ctx, "brew", "services", action, name)
}

// Enable implements Provider.
func (Homebrew) Enable(ctx context.Context, env system.Env, name string) error {
	if err := validate(name); err != nil {
		return err
	}
	return mustSucceed(ctx, env, "brew", "services", "start", name)
}

// Disable implements Provider.
func (Homebrew) Disable(ctx context.Context, env system.Env, name string) error {
	if err := validate(name); err != nil {
		return err
	}
	return mustSucceed(ctx, env, "brew", "services", "stop", name)
}

// Redhat drives sysvinit scripts through service and chkconfig.
type Redhat struct{}

// Name implements Provider.
func (Redhat) Name() string { return "Redhat" }

// Available implements Provider.
func (Redhat) Available(_ context.Context, env system.Env) (bool, error) {
	return env.GOOS() == "linux" && system.Has(env, "service") && system.Has(env, "chkconfig"), nil
}

// Running implements Provider.
func (Redhat) Running(ctx context.Context, env system.Env, name string) (bool, error) {
	if err := validate(name); err != nil {
		return false, err
	}
	return succeeds(ctx, env, "service", name, "status")
}

// Enabled implements Provider.
func (Redhat) Enabled(ctx context.Context, env system.Env, name string) (bool, error) {
	if err := validate(name); err != nil {
		return false, err
	}
	return succeeds(ctx, env, "chkconfig", name)
}

// Action implements Provider.
func (Redhat) Action(ctx context.Context, env system.Env, name, action string) (*stream.Stream, error) {
	if err := validate(name); err != nil {
		return nil, err
	}
	if err := validateAction(action); err != nil {
		return nil, err
	}
	return env.Start(ctx, "service", name, action)
}

// Enable implements Provider.
func (Redhat) Enable(ctx context.Context, env system.Env, name string) error {
	if err := validate(name); err != nil {
		return err
	}
	return mustSucceed(ctx, env, "chkconfig", name, "on")
}

// Disable implements Provider.
func (Redhat) Disable(ctx context.Context, env system.Env, name string) error {
	if err := validate(name); err != nil {
		return err
	}
	return mustSucceed(ctx, env, "chkconfig", name, "off")
}
