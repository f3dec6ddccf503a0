// Package telemetry gathers an immutable snapshot of host facts: CPU,
// memory, filesystems, network interfaces and operating system.
//
// A snapshot is produced by exactly one platform provider. Providers are
// raced; the first whose availability check and load both succeed wins.
package telemetry

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog/log"

	"github.com/hostwire/hostwire/pkg/errdefs"
	"github.com/hostwire/hostwire/pkg/system"
)

// Endpoint is the endpoint name used in errors and runnables.
const Endpoint = "Telemetry"

// Telemetry is a snapshot of host facts. It is never partially populated.
type Telemetry struct {
	CPU      CPU       `json:"cpu" yaml:"cpu"`
	FS       []FsMount `json:"fs" yaml:"fs"`
	Hostname string    `json:"hostname" yaml:"hostname"`
	Memory   uint64    `json:"memory" yaml:"memory"`
	Net      []NetIf   `json:"net" yaml:"net"`
	OS       OS        `json:"os" yaml:"os"`
}

// CPU describes the processor.
type CPU struct {
	Vendor      string `json:"vendor" yaml:"vendor"`
	BrandString string `json:"brand_string" yaml:"brand_string"`
	Cores       uint32 `json:"cores" yaml:"cores"`
}

// FsMount describes one mounted filesystem. Sizes are in bytes.
type FsMount struct {
	Filesystem string  `json:"filesystem" yaml:"filesystem"`
	Mountpoint string  `json:"mountpoint" yaml:"mountpoint"`
	Size       uint64  `json:"size" yaml:"size"`
	Used       uint64  `json:"used" yaml:"used"`
	Available  uint64  `json:"available" yaml:"available"`
	Capacity   float32 `json:"capacity" yaml:"capacity"` // percent used
}

// NetIf describes a network interface.
type NetIf struct {
	Name   string   `json:"name" yaml:"name"`
	MAC    string   `json:"mac,omitempty" yaml:"mac,omitempty"`
	Inet   []string `json:"inet,omitempty" yaml:"inet,omitempty"`
	Inet6  []string `json:"inet6,omitempty" yaml:"inet6,omitempty"`
	Status string   `json:"status" yaml:"status"`
}

// OS describes the operating system.
type OS struct {
	Arch         string `json:"arch" yaml:"arch"`
	Family       string `json:"family" yaml:"family"`
	Platform     string `json:"platform" yaml:"platform"`
	VersionStr   string `json:"version_str" yaml:"version_str"`
	VersionMaj   uint32 `json:"version_maj" yaml:"version_maj"`
	VersionMin   uint32 `json:"version_min" yaml:"version_min"`
	VersionPatch uint32 `json:"version_patch" yaml:"version_patch"`
}

// OS families.
const (
	FamilyLinux  = "linux"
	FamilyDarwin = "darwin"
	FamilyBSD    = "bsd"
)

// IsUnix reports whether the OS family is Unix-like.
func (o OS) IsUnix() bool {
	switch o.Family {
	case FamilyLinux, FamilyDarwin, FamilyBSD:
		return true
	}
	return false
}

// Provider loads telemetry on one platform.
type Provider interface {
	// Name returns the provider name as it appears on the wire.
	Name() string

	// Available reports whether this provider matches the platform.
	Available(ctx context.Context, env system.Env) (bool, error)

	// Load gathers a snapshot. It fails if any fact cannot be parsed.
	Load(ctx context.Context, env system.Env) (*Telemetry, error)
}

// Providers returns every telemetry provider.
func Providers() []Provider {
	return []Provider{
		Centos{},
		Debian{},
		Fedora{},
		Freebsd{},
		Macos{},
		Nixos{},
		Ubuntu{},
	}
}

// ByName returns the provider called name.
func ByName(name string) (Provider, error) {
	for _, p := range Providers() {
		if p.Name() == name {
			return p, nil
		}
	}
	return nil, errdefs.Configuration(fmt.Sprintf("unknown telemetry provider %q", name), nil).
		WithEndpoint(Endpoint)
}

type outcome struct {
	provider  string
	available bool
	telemetry *Telemetry
	err       error
}

// Load races every provider and returns the first successful snapshot.
//
// It fails with ProviderUnavailable when no provider is available, and
// with the combined load errors when every available provider failed.
func Load(ctx context.Context, env system.Env) (*Telemetry, error) {
	return race(ctx, env, Providers())
}

func race(ctx context.Context, env system.Env, providers []Provider) (*Telemetry, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan outcome, len(providers))
	for _, p := range providers {
		go func(p Provider) {
			ok, err := p.Available(ctx, env)
			if err != nil || !ok {
				results <- outcome{provider: p.Name(), err: err}
				return
			}
			t, err := p.Load(ctx, env)
			results <- outcome{provider: p.Name(), available: true, telemetry: t, err: err}
		}(p)
	}

	var loadErrs *multierror.Error
	for range providers {
		o := <-results
		switch {
		case o.available && o.err == nil:
			log.Debug().Str("provider", o.provider).Msg("telemetry loaded")
			return o.telemetry, nil
		case o.available:
			loadErrs = multierror.Append(loadErrs, fmt.Errorf("%s: %w", o.provider, o.err))
		case o.err != nil:
			log.Debug().Err(o.err).Str("provider", o.provider).Msg("telemetry availability check failed")
		}
	}

	if loadErrs == nil {
		return nil, errdefs.ProviderUnavailable(Endpoint)
	}
	return nil, errdefs.Execution("failed to load telemetry", loadErrs.ErrorOrNil()).
		WithEndpoint(Endpoint).WithOp("Load")
}

// LoadWith loads telemetry with the named provider only.
func LoadWith(ctx context.Context, env system.Env, name string) (*Telemetry, error) {
	p, err := ByName(name)
	if err != nil {
		return nil, err
	}
	ok, err := p.Available(ctx, env)
	if err != nil {
		return nil, fmt.Errorf("failed to check %s availability: %w", name, err)
	}
	if !ok {
		return nil, errdefs.ProviderUnavailable(Endpoint)
	}
	return p.Load(ctx, env)
}
