package telemetry

import (
	"context"
	"strings"
	"testing"

	"github.com/hostwire/hostwire/pkg/errdefs"
	"github.com/hostwire/hostwire/pkg/system"
	"github.com/hostwire/hostwire/pkg/system/systemtest"
)

const (
	testCPUInfo = `processor	: 0
vendor_id	: GenuineIntel
model name	: Intel(R) Xeon(R) CPU E5-2680 v4 @ 2.40GHz

processor	: 1
vendor_id	: GenuineIntel
model name	: Intel(R) Xeon(R) CPU E5-2680 v4 @ 2.40GHz
`
	testMemInfo = "MemTotal:        8167848 kB\nMemFree:         1234 kB\n"
	testDf      = `Filesystem     1024-blocks     Used Available Capacity Mounted on
/dev/sda1         41152736 12345678  26693248      32% /
tmpfs              4083924        0   4083924       0% /dev/shm
/dev/sdb1         10000000  5000000   5000000      50% /mnt/my data
`
)

// linuxEnv returns a fake Linux host identified as id.
func linuxEnv(id, versionID string) *systemtest.Env {
	env := systemtest.New("linux")
	env.Ifaces = []system.Interface{
		{Name: "lo", Up: true, Addrs: []string{"127.0.0.1/8", "::1/128"}},
		{Name: "eth0", MAC: "52:54:00:12:34:56", Up: true, Addrs: []string{"10.0.0.5/24"}},
	}
	env.SetFile("/etc/os-release", "NAME=\"Test\"\nID="+id+"\nVERSION_ID=\""+versionID+"\"\n").
		SetFile("/proc/cpuinfo", testCPUInfo).
		SetFile("/proc/meminfo", testMemInfo).
		SetOutput("df -Pk", testDf, 0).
		SetOutput("uname -m", "x86_64\n", 0)
	return env
}

func TestLoadDebian(t *testing.T) {
	env := linuxEnv("debian", "12").SetFile("/etc/debian_version", "12.5\n")

	tel, err := Load(context.Background(), env)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if tel.OS.Platform != "debian" || tel.OS.Family != FamilyLinux {
		t.Errorf("unexpected os: %+v", tel.OS)
	}
	if tel.OS.VersionStr != "12.5" || tel.OS.VersionMaj != 12 || tel.OS.VersionMin != 5 || tel.OS.VersionPatch != 0 {
		t.Errorf("unexpected version: %+v", tel.OS)
	}
	if tel.OS.Arch != "x86_64" {
		t.Errorf("arch = %q", tel.OS.Arch)
	}
	if tel.CPU.Vendor != "GenuineIntel" || tel.CPU.Cores != 2 || !strings.Contains(tel.CPU.BrandString, "E5-2680") {
		t.Errorf("unexpected cpu: %+v", tel.CPU)
	}
	if tel.Memory != 8167848*1024 {
		t.Errorf("memory = %d", tel.Memory)
	}
	if len(tel.FS) != 3 || tel.FS[2].Mountpoint != "/mnt/my data" || tel.FS[0].Capacity != 32 {
		t.Errorf("unexpected fs: %+v", tel.FS)
	}
	if tel.Hostname != "testhost" {
		t.Errorf("hostname = %q", tel.Hostname)
	}
	if len(tel.Net) != 2 || len(tel.Net[0].Inet6) != 1 || tel.Net[1].Inet[0] != "10.0.0.5/24" {
		t.Errorf("unexpected net: %+v", tel.Net)
	}
}

func TestLoadPicksMatchingDistribution(t *testing.T) {
	tests := []struct {
		name     string
		env      *systemtest.Env
		platform string
		version  string
	}{
		{
			name:     "ubuntu via lsb_release",
			env:      linuxEnv("ubuntu", "22.04").SetBinary("lsb_release").SetOutput("lsb_release -sr", "22.04.3\n", 0),
			platform: "ubuntu",
			version:  "22.04.3",
		},
		{
			name:     "ubuntu via os-release",
			env:      linuxEnv("ubuntu", "24.04"),
			platform: "ubuntu",
			version:  "24.04",
		},
		{
			name:     "fedora",
			env:      linuxEnv("fedora", "39"),
			platform: "fedora",
			version:  "39",
		},
		{
			name:     "nixos",
			env:      linuxEnv("nixos", "23.11"),
			platform: "nixos",
			version:  "23.11",
		},
		{
			name:     "centos",
			env:      linuxEnv("centos", "7").SetFile("/etc/redhat-release", "CentOS Linux release 7.9.2009 (Core)\n"),
			platform: "centos",
			version:  "7.9.2009",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tel, err := Load(context.Background(), tt.env)
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if tel.OS.Platform != tt.platform {
				t.Errorf("platform = %q, want %q", tel.OS.Platform, tt.platform)
			}
			if tel.OS.VersionStr != tt.version {
				t.Errorf("version = %q, want %q", tel.OS.VersionStr, tt.version)
			}
		})
	}
}

func TestLoadMacos(t *testing.T) {
	env := systemtest.New("darwin").
		SetOutput("sysctl -n machdep.cpu.brand_string", "Apple M2\n", 0).
		SetOutput("sysctl -n hw.ncpu", "8\n", 0).
		SetOutput("sysctl -n hw.memsize", "17179869184\n", 0).
		SetOutput("df -Pk", testDf, 0).
		SetOutput("uname -m", "arm64\n", 0).
		SetOutput("sw_vers -productVersion", "14.2.1\n", 0)

	tel, err := Load(context.Background(), env)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if tel.OS.Platform != "macos" || tel.OS.Family != FamilyDarwin {
		t.Errorf("unexpected os: %+v", tel.OS)
	}
	if tel.OS.VersionMaj != 14 || tel.OS.VersionMin != 2 || tel.OS.VersionPatch != 1 {
		t.Errorf("unexpected version: %+v", tel.OS)
	}
	if tel.CPU.Vendor != "Apple" || tel.CPU.Cores != 8 || tel.Memory != 17179869184 {
		t.Errorf("unexpected hardware: %+v %d", tel.CPU, tel.Memory)
	}
}

func TestLoadFreebsd(t *testing.T) {
	env := systemtest.New("freebsd").
		SetOutput("sysctl -n hw.model", "AMD EPYC 7543 32-Core Processor\n", 0).
		SetOutput("sysctl -n hw.ncpu", "4\n", 0).
		SetOutput("sysctl -n hw.physmem", "4294967296\n", 0).
		SetOutput("df -Pk", testDf, 0).
		SetOutput("uname -m", "amd64\n", 0).
		SetOutput("uname -r", "14.1-RELEASE-p3\n", 0)

	tel, err := LoadWith(context.Background(), env, "Freebsd")
	if err != nil {
		t.Fatalf("LoadWith() error = %v", err)
	}
	if tel.OS.Family != FamilyBSD || tel.OS.VersionMaj != 14 || tel.OS.VersionMin != 1 {
		t.Errorf("unexpected os: %+v", tel.OS)
	}
	if tel.CPU.Vendor != "AuthenticAMD" {
		t.Errorf("vendor = %q", tel.CPU.Vendor)
	}
}

func TestLoadNoProvider(t *testing.T) {
	_, err := Load(context.Background(), systemtest.New("plan9"))
	if !errdefs.IsProviderUnavailable(err) {
		t.Fatalf("expected provider unavailable, got %v", err)
	}
}

func TestLoadFailsWhenAvailableProviderFails(t *testing.T) {
	// Debian is detected but its version file is missing.
	env := linuxEnv("debian", "12")

	_, err := Load(context.Background(), env)
	if err == nil {
		t.Fatal("expected error")
	}
	if errdefs.IsProviderUnavailable(err) {
		t.Fatalf("load failure must not be reported as unavailable: %v", err)
	}
	if !strings.Contains(err.Error(), "Debian") || !strings.Contains(err.Error(), "debian_version") {
		t.Errorf("expected aggregated provider error, got %v", err)
	}
}

func TestLoadWithUnknownProvider(t *testing.T) {
	_, err := LoadWith(context.Background(), systemtest.New("linux"), "Solaris")
	if !errdefs.IsConfiguration(err) {
		t.Errorf("expected configuration error, got %v", err)
	}
}

func TestParseVersion(t *testing.T) {
	tests := []struct {
		input   string
		want    [3]uint32
		wantErr bool
	}{
		{input: "12", want: [3]uint32{12, 0, 0}},
		{input: "22.04", want: [3]uint32{22, 4, 0}},
		{input: "7.9.2009", want: [3]uint32{7, 9, 2009}},
		{input: "14.1-RELEASE-p3", want: [3]uint32{14, 1, 0}},
		{input: " 3.2.1\n", want: [3]uint32{3, 2, 1}},
		{input: "bookworm/sid", wantErr: true},
		{input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			maj, min, patch, err := parseVersion(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseVersion() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && [3]uint32{maj, min, patch} != tt.want {
				t.Errorf("parseVersion() = %v, want %v", [3]uint32{maj, min, patch}, tt.want)
			}
		})
	}
}

func TestParseDfMalformed(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "empty", input: ""},
		{name: "short line", input: "Filesystem 1024-blocks\n/dev/sda1 100\n"},
		{name: "bad size", input: "h\n/dev/sda1 x 1 1 1% /\n"},
		{name: "bad capacity", input: "h\n/dev/sda1 1 1 1 full /\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := parseDf(tt.input); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestParseCPUInfoMissingKeys(t *testing.T) {
	if _, err := parseCPUInfo("processor : 0\n"); err == nil {
		t.Error("expected error for cpuinfo without vendor")
	}
	if _, err := parseMemInfo("MemFree: 10 kB\n"); err == nil {
		t.Error("expected error for meminfo without MemTotal")
	}
}
