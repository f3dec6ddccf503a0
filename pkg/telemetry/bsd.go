package telemetry

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/hostwire/hostwire/pkg/system"
)

var (
	intelRe = regexp.MustCompile(`(?i)\bintel\b`)
	amdRe   = regexp.MustCompile(`(?i)\bamd\b`)
)

// vendorFromBrand guesses the CPU vendor id from a brand string, for
// systems whose sysctl tree does not expose it.
func vendorFromBrand(brand string) string {
	switch {
	case intelRe.MatchString(brand):
		return "GenuineIntel"
	case amdRe.MatchString(brand):
		return "AuthenticAMD"
	}
	if fields := strings.Fields(brand); len(fields) > 0 {
		return fields[0]
	}
	return ""
}

// loadSysctl gathers the facts shared by the sysctl-based platforms.
func loadSysctl(ctx context.Context, env system.Env, cpu CPU, memKey string) (*Telemetry, error) {
	memory, err := sysctlUint(ctx, env, memKey)
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
		OS:       OS{Arch: arch},
	}, nil
}

// Freebsd loads telemetry on FreeBSD.
type Freebsd struct{}

// Name implements Provider.
func (Freebsd) Name() string { return "Freebsd" }

// Available implements Provider.
func (Freebsd) Available(_ context.Context, env system.Env) (bool, error) {
	return env.GOOS() == "freebsd", nil
}

// Load implements Provider.
func (Freebsd) Load(ctx context.Context, env system.Env) (*Telemetry, error) {
	brand, err := command(ctx, env, "sysctl", "-n", "hw.model")
	if err != nil {
		return nil, err
	}
	cores, err := sysctlUint(ctx, env, "hw.ncpu")
	if err != nil {
		return nil, err
	}

	t, err := loadSysctl(ctx, env, CPU{
		Vendor:      vendorFromBrand(brand),
		BrandString: brand,
		Cores:       uint32(cores),
	}, "hw.physmem")
	if err != nil {
		return nil, err
	}

	// e.g. 14.1-RELEASE-p3
	release, err := command(ctx, env, "uname", "-r")
	if err != nil {
		return nil, err
	}
	maj, min, patch, err := parseVersion(release)
	if err != nil {
		return nil, err
	}

	t.OS.Family = FamilyBSD
	t.OS.Platform = "freebsd"
	t.OS.VersionStr = release
	t.OS.VersionMaj, t.OS.VersionMin, t.OS.VersionPatch = maj, min, patch
	return t, nil
}

// Macos loads telemetry on macOS.
type Macos struct{}

// Name implements Provider.
func (Macos) Name() string { return "Macos" }

// Available implements Provider.
func (Macos) Available(_ context.Context, env system.Env) (bool, error) {
	return env.GOOS() == "darwin", nil
}

// Load implements Provider.
func (Macos) Load(ctx context.Context, env system.Env) (*Telemetry, error) {
	brand, err := command(ctx, env, "sysctl", "-n", "machdep.cpu.brand_string")
	if err != nil {
		return nil, err
	}
	// Apple silicon has no machdep.cpu.vendor.
	vendor, err := command(ctx, env, "sysctl", "-n", "machdep.cpu.vendor")
	if err != nil || vendor == "" {
		vendor = vendorFromBrand(brand)
	}
	cores, err := sysctlUint(ctx, env, "hw.ncpu")
	if err != nil {
		return nil, err
	}

	t, err := loadSysctl(ctx, env, CPU{
		Vendor:      vendor,
		BrandString: brand,
		Cores:       uint32(cores),
	}, "hw.memsize")
	if err != nil {
		return nil, err
	}

	version, err := command(ctx, env, "sw_vers", "-productVersion")
	if err != nil {
		return nil, err
	}
	maj, min, patch, err := parseVersion(version)
	if err != nil {
		return nil, err
	}

	t.OS.Family = FamilyDarwin
	t.OS.Platform = "macos"
	t.OS.VersionStr = version
	t.OS.VersionMaj, t.OS.VersionMin, t.OS.VersionPatch = maj, min, patch
	return t, nil
}
