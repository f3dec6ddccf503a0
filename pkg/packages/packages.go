// Package packages manages one package on a host through whichever
// package manager the host has.
package packages

import (
	"context"
	"fmt"

	"github.com/hostwire/hostwire/pkg/host"
	"github.com/hostwire/hostwire/pkg/providers/pkgmgr"
	"github.com/hostwire/hostwire/pkg/runnable"
	"github.com/hostwire/hostwire/pkg/stream"
)

// Package is a named package bound to a host and provider. It caches the
// installed state observed at creation and after each successful change,
// and is not safe for concurrent use.
type Package struct {
	host      host.Host
	name      string
	provider  string
	installed bool
}

// New resolves the provider and the current installed state of name on h.
// An empty provider picks the first available one in priority order.
func New(ctx context.Context, h host.Host, name, provider string) (*Package, error) {
	if provider == "" {
		var err error
		provider, err = host.Resolve(ctx, h, pkgmgr.Endpoint, pkgmgr.Names(), runnable.PackageAvailable)
		if err != nil {
			return nil, err
		}
	} else if _, err := pkgmgr.ByName(provider); err != nil {
		return nil, err
	}

	p := &Package{host: h, name: name, provider: provider}
	installed, err := host.Run[bool](ctx, h, runnable.PackageInstalled(provider, name))
	if err != nil {
		return nil, fmt.Errorf("failed to query package %s: %w", name, err)
	}
	p.installed = installed
	return p, nil
}

// Name returns the package name.
func (p *Package) Name() string {
	return p.name
}

// Provider returns the resolved provider name.
func (p *Package) Provider() string {
	return p.provider
}

// Installed returns the cached installed state.
func (p *Package) Installed() bool {
	return p.installed
}

// Install installs the package. It returns a nil stream when the package
// is already installed.
func (p *Package) Install(ctx context.Context) (*stream.Stream, error) {
	if p.installed {
		return nil, nil
	}
	return p.change(ctx, runnable.PackageInstall(p.provider, p.name), true)
}

// Uninstall removes the package. It returns a nil stream when the package
// is not installed.
func (p *Package) Uninstall(ctx context.Context) (*stream.Stream, error) {
	if !p.installed {
		return nil, nil
	}
	return p.change(ctx, runnable.PackageUninstall(p.provider, p.name), false)
}

// change starts r; the cached state flips to want once the consumer reads
// a successful exit status.
func (p *Package) change(ctx context.Context, r runnable.Runnable, want bool) (*stream.Stream, error) {
	s, err := p.host.Stream(ctx, r)
	if err != nil {
		return nil, err
	}
	s.OnExit(func(status stream.ExitStatus) {
		if status.Success {
			p.installed = want
		}
	})
	return s, nil
}
