// Package system is the boundary between providers and the operating
// system they run on. Providers never touch os/exec directly; they go
// through an Env so probes can be faked in tests.
package system

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"runtime"

	"github.com/hostwire/hostwire/pkg/errdefs"
	"github.com/hostwire/hostwire/pkg/stream"
)

// Output is the captured result of a command run to completion.
type Output struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Success reports whether the command exited zero.
func (o *Output) Success() bool {
	return o.ExitCode == 0
}

// Interface describes a network interface.
type Interface struct {
	Name  string
	MAC   string
	Up    bool
	Addrs []string // CIDR notation
}

// Env is the set of OS probes and process operations providers rely on.
type Env interface {
	// GOOS reports the operating system, using runtime.GOOS values.
	GOOS() string

	// ReadFile returns the contents of path.
	ReadFile(path string) ([]byte, error)

	// Exists reports whether path exists.
	Exists(path string) bool

	// LookPath resolves an executable in PATH. Results are cached.
	LookPath(file string) (string, error)

	// Run executes a command to completion. A non-zero exit is not an
	// error; only failing to start the command is.
	Run(ctx context.Context, name string, args ...string) (*Output, error)

	// Start spawns a command and streams its output.
	Start(ctx context.Context, name string, args ...string) (*stream.Stream, error)

	// Hostname returns the host name.
	Hostname() (string, error)

	// Interfaces lists the network interfaces.
	Interfaces() ([]Interface, error)
}

// Has reports whether file resolves in env's PATH.
func Has(env Env, file string) bool {
	_, err := env.LookPath(file)
	return err == nil
}

// Local is the Env of the machine the process is running on.
type Local struct {
	paths *PathCache
}

// NewLocal creates a Local env with its own path cache.
func NewLocal() *Local {
	return &Local{paths: NewPathCache()}
}

// Paths returns the env's binary path cache.
func (l *Local) Paths() *PathCache {
	return l.paths
}

// GOOS implements Env.
func (l *Local) GOOS() string {
	return runtime.GOOS
}

// ReadFile implements Env.
func (l *Local) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// Exists implements Env.
func (l *Local) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// LookPath implements Env.
func (l *Local) LookPath(file string) (string, error) {
	return l.paths.Lookup(file, exec.LookPath)
}

// Run implements Env.
func (l *Local) Run(ctx context.Context, name string, args ...string) (*Output, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	out := &Output{Stdout: stdout.String(), Stderr: stderr.String()}
	if err == nil {
		return out, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		out.ExitCode = exitErr.ExitCode()
		return out, nil
	}
	return nil, errdefs.Execution(fmt.Sprintf("failed to run %s", name), err)
}

// Start implements Env.
func (l *Local) Start(ctx context.Context, name string, args ...string) (*stream.Stream, error) {
	return stream.Start(ctx, name, args...)
}

// Hostname implements Env.
func (l *Local) Hostname() (string, error) {
	return os.Hostname()
}

// Interfaces implements Env.
func (l *Local) Interfaces() ([]Interface, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("failed to list interfaces: %w", err)
	}

	result := make([]Interface, 0, len(ifaces))
	for _, iface := range ifaces {
		addrs, err := iface.Addrs()
		if err != nil {
			return nil, fmt.Errorf("failed to list addresses of %s: %w", iface.Name, err)
		}
		item := Interface{
			Name: iface.Name,
			MAC:  iface.HardwareAddr.String(),
			Up:   iface.Flags&net.FlagUp != 0,
		}
		for _, addr := range addrs {
			item.Addrs = append(item.Addrs, addr.String())
		}
		result = append(result, item)
	}
	return result, nil
}
