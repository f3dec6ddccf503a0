// Package pkgmgr holds the package providers: thin drivers for the
// system package managers.
package pkgmgr

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"github.com/hostwire/hostwire/pkg/errdefs"
	"github.com/hostwire/hostwire/pkg/stream"
	"github.com/hostwire/hostwire/pkg/system"
)

// Endpoint is the endpoint name used in errors and runnables.
const Endpoint = "Package"

// Provider drives one package manager.
type Provider interface {
	Name() string
	Available(ctx context.Context, env system.Env) (bool, error)
	Installed(ctx context.Context, env system.Env, name string) (bool, error)
	Install(ctx context.Context, env system.Env, name string) (*stream.Stream, error)
	Uninstall(ctx context.Context, env system.Env, name string) (*stream.Stream, error)
}

// installedFunc reports whether a package is installed.
type installedFunc func(ctx context.Context, env system.Env, name string) (bool, error)

// manager is a Provider described by its command lines.
type manager struct {
	name string
	// bin must be on PATH for the manager to be available.
	bin string
	// goos restricts availability to one OS when set.
	goos      string
	installed installedFunc
	install   []string
	uninstall []string
}

func (m *manager) Name() string { return m.name }

func (m *manager) Available(_ context.Context, env system.Env) (bool, error) {
	if m.goos != "" && env.GOOS() != m.goos {
		return false, nil
	}
	return system.Has(env, m.bin), nil
}

func (m *manager) Installed(ctx context.Context, env system.Env, name string) (bool, error) {
	if err := validateName(name); err != nil {
		return false, err
	}
	ok, err := m.installed(ctx, env, name)
	if err != nil {
		return false, fmt.Errorf("%s: failed to query %s: %w", m.name, name, err)
	}
	log.Debug().Str("provider", m.name).Str("package", name).Bool("installed", ok).Msg("package state")
	return ok, nil
}

func (m *manager) Install(ctx context.Context, env system.Env, name string) (*stream.Stream, error) {
	return m.start(ctx, env, m.install, name)
}

func (m *manager) Uninstall(ctx context.Context, env system.Env, name string) (*stream.Stream, error) {
	return m.start(ctx, env, m.uninstall, name)
}

func (m *manager) start(ctx context.Context, env system.Env, verb []string, name string) (*stream.Stream, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	args := append(append([]string{}, verb...), name)
	log.Info().Str("provider", m.name).Str("package", name).Strs("args", args).Msg("running package manager")
	return env.Start(ctx, m.bin, args...)
}

func validateName(name string) error {
	if name == "" || strings.HasPrefix(name, "-") || strings.ContainsAny(name, " \t\n") {
		return errdefs.Configuration(fmt.Sprintf("invalid package name %q", name), nil).WithEndpoint(Endpoint)
	}
	return nil
}

// exitZero is an installedFunc that checks a query command's exit code.
func exitZero(bin string, args ...string) installedFunc {
	return func(ctx context.Context, env system.Env, name string) (bool, error) {
		out, err := env.Run(ctx, bin, append(append([]string{}, args...), name)...)
		if err != nil {
			return false, err
		}
		return out.Success(), nil
	}
}

func dpkgInstalled(ctx context.Context, env system.Env, name string) (bool, error) {
	out, err := env.Run(ctx, "dpkg-query", "-W", "-f=${Status}", name)
	if err != nil {
		return false, err
	}
	// Removed-but-configured packages are still listed by dpkg.
	return out.Success() && strings.Contains(out.Stdout, "install ok installed"), nil
}

func nonEmptyOutput(bin string, args ...string) installedFunc {
	return func(ctx context.Context, env system.Env, name string) (bool, error) {
		out, err := env.Run(ctx, bin, append(append([]string{}, args...), name)...)
		if err != nil {
			return false, err
		}
		return out.Success() && strings.TrimSpace(out.Stdout) != "", nil
	}
}

var (
	// Apt drives Debian's apt-get.
	Apt Provider = &manager{
		name:      "Apt",
		bin:       "apt-get",
		installed: dpkgInstalled,
		install:   []string{"-y", "install"},
		uninstall: []string{"-y", "remove"},
	}

	// Dnf drives Fedora's dnf.
	Dnf Provider = &manager{
		name:      "Dnf",
		bin:       "dnf",
		installed: exitZero("rpm", "-q"),
		install:   []string{"-y", "install"},
		uninstall: []string{"-y", "remove"},
	}

	// Homebrew drives brew on macOS.
	Homebrew Provider = &manager{
		name:      "Homebrew",
		bin:       "brew",
		goos:      "darwin",
		installed: nonEmptyOutput("brew", "list", "--versions"),
		install:   []string{"install"},
		uninstall: []string{"uninstall"},
	}

	// Nix drives nix-env.
	Nix Provider = &manager{
		name:      "Nix",
		bin:       "nix-env",
		installed: nonEmptyOutput("nix-env", "--query", "--installed"),
		install:   []string{"--install"},
		uninstall: []string{"--uninstall"},
	}

	// Pkg drives FreeBSD's pkg.
	Pkg Provider = &manager{
		name:      "Pkg",
		bin:       "pkg",
		goos:      "freebsd",
		installed: exitZero("pkg", "info", "-e"),
		install:   []string{"install", "-y"},
		uninstall: []string{"delete", "-y"},
	}

	// Yum drives yum on older Red Hat systems.
	Yum Provider = &manager{
		name:      "Yum",
		bin:       "yum",
		installed: exitZero("rpm", "-q"),
		install:   []string{"-y", "install"},
		uninstall: []string{"-y", "remove"},
	}
)

// Providers returns the package providers in priority order.
func Providers() []Provider {
	return []Provider{Apt, Dnf, Homebrew, Nix, Pkg, Yum}
}

// ByName returns the provider called name.
func ByName(name string) (Provider, error) {
	for _, p := range Providers() {
		if p.Name() == name {
			return p, nil
		}
	}
	return nil, errdefs.Configuration(fmt.Sprintf("unknown package provider %q", name), nil).
		WithEndpoint(Endpoint)
}

// Names returns the provider names in priority order.
func Names() []string {
	return lo.Map(Providers(), func(p Provider, _ int) string { return p.Name() })
}
