package telemetry

import (
	"context"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"

	"github.com/samber/lo"

	"github.com/hostwire/hostwire/pkg/system"
)

var (
	versionRe     = regexp.MustCompile(`^(\d+)(?:\.(\d+))?(?:\.(\d+))?`)
	cpuVendorRe   = regexp.MustCompile(`(?m)^(?:vendor_id|CPU implementer)\s*:\s*(.+)$`)
	cpuBrandRe    = regexp.MustCompile(`(?m)^(?:model name|Model|Hardware)\s*:\s*(.+)$`)
	cpuProcRe     = regexp.MustCompile(`(?m)^processor\s*:`)
	memTotalRe    = regexp.MustCompile(`(?m)^MemTotal:\s+(\d+)\s*kB`)
	osReleaseRe   = regexp.MustCompile(`(?m)^([A-Z_]+)=(.*)$`)
	redhatRelRe   = regexp.MustCompile(`release\s+(\d+(?:\.\d+)*)`)
	capacityRe    = regexp.MustCompile(`^(\d+)%$`)
	whitespaceRun = regexp.MustCompile(`\s+`)
)

// parseVersion splits a dotted version string. Missing minor and patch
// components are zero; a string without a leading number is an error.
func parseVersion(s string) (maj, min, patch uint32, err error) {
	m := versionRe.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, 0, 0, fmt.Errorf("malformed version string %q", s)
	}
	parts := [3]uint32{}
	for i := 0; i < 3; i++ {
		if m[i+1] == "" {
			continue
		}
		n, err := strconv.ParseUint(m[i+1], 10, 32)
		if err != nil {
			return 0, 0, 0, fmt.Errorf("malformed version string %q: %w", s, err)
		}
		parts[i] = uint32(n)
	}
	return parts[0], parts[1], parts[2], nil
}

// parseOSRelease parses /etc/os-release style KEY=value files.
func parseOSRelease(data string) map[string]string {
	values := make(map[string]string)
	for _, m := range osReleaseRe.FindAllStringSubmatch(data, -1) {
		values[m[1]] = strings.Trim(strings.TrimSpace(m[2]), `"'`)
	}
	return values
}

// osReleaseID returns the ID field of /etc/os-release, or "".
func osReleaseID(env system.Env) string {
	data, err := env.ReadFile("/etc/os-release")
	if err != nil {
		return ""
	}
	return parseOSRelease(string(data))["ID"]
}

// parseCPUInfo parses /proc/cpuinfo.
func parseCPUInfo(data string) (CPU, error) {
	vendor := cpuVendorRe.FindStringSubmatch(data)
	if vendor == nil {
		return CPU{}, fmt.Errorf("cpu vendor not found in cpuinfo")
	}
	brand := cpuBrandRe.FindStringSubmatch(data)
	if brand == nil {
		return CPU{}, fmt.Errorf("cpu brand not found in cpuinfo")
	}
	cores := len(cpuProcRe.FindAllStringIndex(data, -1))
	if cores == 0 {
		return CPU{}, fmt.Errorf("no processors listed in cpuinfo")
	}
	return CPU{
		Vendor:      strings.TrimSpace(vendor[1]),
		BrandString: strings.TrimSpace(brand[1]),
		Cores:       uint32(cores),
	}, nil
}

// parseMemInfo returns MemTotal from /proc/meminfo in bytes.
func parseMemInfo(data string) (uint64, error) {
	m := memTotalRe.FindStringSubmatch(data)
	if m == nil {
		return 0, fmt.Errorf("MemTotal not found in meminfo")
	}
	kb, err := strconv.ParseUint(m[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid MemTotal: %w", err)
	}
	return kb * 1024, nil
}

// parseDf parses POSIX `df -Pk` output.
func parseDf(out string) ([]FsMount, error) {
	lines := lo.Filter(strings.Split(out, "\n"), func(l string, _ int) bool {
		return strings.TrimSpace(l) != ""
	})
	if len(lines) == 0 {
		return nil, fmt.Errorf("empty df output")
	}

	mounts := make([]FsMount, 0, len(lines)-1)
	for _, line := range lines[1:] {
		fields := whitespaceRun.Split(strings.TrimSpace(line), -1)
		if len(fields) < 6 {
			return nil, fmt.Errorf("malformed df line %q", line)
		}

		var sizes [3]uint64
		for i := range sizes {
			n, err := strconv.ParseUint(fields[i+1], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("malformed df line %q: %w", line, err)
			}
			sizes[i] = n * 1024
		}

		pctMatch := capacityRe.FindStringSubmatch(fields[4])
		if pctMatch == nil {
			return nil, fmt.Errorf("malformed capacity %q", fields[4])
		}
		pct, _ := strconv.ParseFloat(pctMatch[1], 32)

		mounts = append(mounts, FsMount{
			Filesystem: fields[0],
			Size:       sizes[0],
			Used:       sizes[1],
			Available:  sizes[2],
			Capacity:   float32(pct),
			Mountpoint: strings.Join(fields[5:], " "),
		})
	}
	return mounts, nil
}

func loadFS(ctx context.Context, env system.Env) ([]FsMount, error) {
	out, err := env.Run(ctx, "df", "-Pk")
	if err != nil {
		return nil, err
	}
	// df exits non-zero when one mount is unreadable but still prints the rest.
	if out.Stdout == "" {
		return nil, fmt.Errorf("df failed: %s", strings.TrimSpace(out.Stderr))
	}
	return parseDf(out.Stdout)
}

func loadNet(env system.Env) ([]NetIf, error) {
	ifaces, err := env.Interfaces()
	if err != nil {
		return nil, err
	}
	return lo.Map(ifaces, func(iface system.Interface, _ int) NetIf {
		n := NetIf{Name: iface.Name, MAC: iface.MAC, Status: "down"}
		if iface.Up {
			n.Status = "up"
		}
		for _, addr := range iface.Addrs {
			ip, _, err := net.ParseCIDR(addr)
			if err != nil {
				continue
			}
			if ip.To4() != nil {
				n.Inet = append(n.Inet, addr)
			} else {
				n.Inet6 = append(n.Inet6, addr)
			}
		}
		return n
	}), nil
}

// command runs name and returns its trimmed stdout, failing on non-zero exit.
func command(ctx context.Context, env system.Env, name string, args ...string) (string, error) {
	out, err := env.Run(ctx, name, args...)
	if err != nil {
		return "", err
	}
	if !out.Success() {
		return "", fmt.Errorf("%s %s exited %d: %s", name, strings.Join(args, " "), out.ExitCode, strings.TrimSpace(out.Stderr))
	}
	return strings.TrimSpace(out.Stdout), nil
}

func sysctlUint(ctx context.Context, env system.Env, key string) (uint64, error) {
	s, err := command(ctx, env, "sysctl", "-n", key)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, s, err)
	}
	return n, nil
}

func readFile(env system.Env, path string) (string, error) {
	data, err := env.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return string(data), nil
}
