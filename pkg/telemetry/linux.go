package telemetry

import (
	"context"
	"fmt"
	"strings"

	"github.com/hostwire/hostwire/pkg/system"
)

// loadLinux gathers the facts common to every Linux distribution.
func loadLinux(ctx context.Context, env system.Env, platform, version string) (*Telemetry, error) {
	maj, min, patch, err := parseVersion(version)
	if err != nil {
		return nil, err
	}

	cpuinfo, err := readFile(env, "/proc/cpuinfo")
	if err != nil {
		return nil, err
	}
	cpu, err := parseCPUInfo(cpuinfo)
	if err != nil {
		return nil, err
	}

	meminfo, err := readFile(env, "/proc/meminfo")
	if err != nil {
		return nil, err
	}
	memory, err := parseMemInfo(meminfo)
	if err != nil {
		return nil, err
	}

	fs, err := loadFS(ctx, env)
	if err != nil {
		return nil, err
	}

	netifs, err := loadNet(env)
	if err != nil {
		return nil, err
	}

	hostname, err := env.Hostname()
	if err != nil {
		return nil, fmt.Errorf("failed to get hostname: %w", err)
	}

	arch, err := command(ctx, env, "uname", "-m")
	if err != nil {
		return nil, err
	}

	return &Telemetry{
		CPU:      cpu,
		FS:       fs,
		Hostname: hostname,
		Memory:   memory,
		Net:      netifs,
		OS: OS{
			Arch:         arch,
			Family:       FamilyLinux,
			Platform:     platform,
			VersionStr:   strings.TrimSpace(version),
			VersionMaj:   maj,
			VersionMin:   min,
			VersionPatch: patch,
		},
	}, nil
}

// osReleaseVersion returns VERSION_ID from /etc/os-release.
func osReleaseVersion(env system.Env) (string, error) {
	data, err := readFile(env, "/etc/os-release")
	if err != nil {
		return "", err
	}
	v, ok := parseOSRelease(data)["VERSION_ID"]
	if !ok || v == "" {
		return "", fmt.Errorf("VERSION_ID not found in /etc/os-release")
	}
	return v, nil
}

// Centos loads telemetry on CentOS.
type Centos struct{}

// Name implements Provider.
func (Centos) Name() string { return "Centos" }

// Available implements Provider.
func (Centos) Available(_ context.Context, env system.Env) (bool, error) {
	if env.GOOS() != "linux" {
		return false, nil
	}
	if id := osReleaseID(env); id != "" {
		return id == "centos", nil
	}
	data, err := env.ReadFile("/etc/redhat-release")
	if err != nil {
		return false, nil
	}
	return strings.HasPrefix(string(data), "CentOS"), nil
}

// Load implements Provider.
func (Centos) Load(ctx context.Context, env system.Env) (*Telemetry, error) {
	release, err := readFile(env, "/etc/redhat-release")
	if err != nil {
		return nil, err
	}
	m := redhatRelRe.FindStringSubmatch(release)
	if m == nil {
		return nil, fmt.Errorf("malformed /etc/redhat-release %q", strings.TrimSpace(release))
	}
	return loadLinux(ctx, env, "centos", m[1])
}

// Debian loads telemetry on Debian.
type Debian struct{}

// Name implements Provider.
func (Debian) Name() string { return "Debian" }

// Available implements Provider.
func (Debian) Available(_ context.Context, env system.Env) (bool, error) {
	return env.GOOS() == "linux" && osReleaseID(env) == "debian", nil
}

// Load implements Provider.
func (Debian) Load(ctx context.Context, env system.Env) (*Telemetry, error) {
	version, err := readFile(env, "/etc/debian_version")
	if err != nil {
		return nil, err
	}
	return loadLinux(ctx, env, "debian", version)
}

// Fedora loads telemetry on Fedora.
type Fedora struct{}

// Name implements Provider.
func (Fedora) Name() string { return "Fedora" }

// Available implements Provider.
func (Fedora) Available(_ context.Context, env system.Env) (bool, error) {
	return env.GOOS() == "linux" && osReleaseID(env) == "fedora", nil
}

// Load implements Provider.
func (Fedora) Load(ctx context.Context, env system.Env) (*Telemetry, error) {
	version, err := osReleaseVersion(env)
	if err != nil {
		return nil, err
	}
	return loadLinux(ctx, env, "fedora", version)
}

// Nixos loads telemetry on NixOS.
type Nixos struct{}

// Name implements Provider.
func (Nixos) Name() string { return "Nixos" }

// Available implements Provider.
func (Nixos) Available(_ context.Context, env system.Env) (bool, error) {
	return env.GOOS() == "linux" && osReleaseID(env) == "nixos", nil
}

// Load implements Provider.
func (Nixos) Load(ctx context.Context, env system.Env) (*Telemetry, error) {
	version, err := osReleaseVersion(env)
	if err != nil {
		return nil, err
	}
	return loadLinux(ctx, env, "nixos", version)
}

// Ubuntu loads telemetry on Ubuntu.
type Ubuntu struct{}

// Name implements Provider.
func (Ubuntu) Name() string { return "Ubuntu" }

// Available implements Provider.
func (Ubuntu) Available(_ context.Context, env system.Env) (bool, error) {
	return env.GOOS() == "linux" && osReleaseID(env) == "ubuntu", nil
}

// Load implements Provider. lsb_release is preferred since it reports the
// point release; os-release only carries the series.
func (Ubuntu) Load(ctx context.Context, env system.Env) (*Telemetry, error) {
	var version string
	if system.Has(env, "lsb_release") {
		v, err := command(ctx, env, "lsb_release", "-sr")
		if err != nil {
			return nil, err
		}
		version = v
	} else {
		v, err := osReleaseVersion(env)
		if err != nil {
			return nil, err
		}
		version = v
	}
	return loadLinux(ctx, env, "ubuntu", version)
}
