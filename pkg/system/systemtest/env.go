// Package systemtest provides a scriptable system.Env for tests.
package systemtest

import (
	"context"
	"fmt"
	"io/fs"
	"os/exec"
	"strings"
	"sync"

	"github.com/hostwire/hostwire/pkg/stream"
	"github.com/hostwire/hostwire/pkg/system"
)

// Handler produces the output of a scripted command.
type Handler func() *system.Output

// Env is a fake system.Env. Commands are matched on their full command
// line, name and arguments joined by single spaces. Unscripted commands
// exit 127 unless Passthrough is set, in which case Start runs them for
// real.
type Env struct {
	OS          string
	Host        string
	Ifaces      []system.Interface
	Passthrough bool

	mu       sync.Mutex
	files    map[string]string
	paths    map[string]string
	handlers map[string]Handler
	calls    []string
}

// New creates an empty fake for goos.
func New(goos string) *Env {
	return &Env{
		OS:       goos,
		Host:     "testhost",
		files:    make(map[string]string),
		paths:    make(map[string]string),
		handlers: make(map[string]Handler),
	}
}

// Fedora returns a linux fake with just enough probes scripted for
// telemetry to load as Fedora 40.
func Fedora() *Env {
	return New("linux").
		SetFile("/etc/os-release", "ID=fedora\nVERSION_ID=40\n").
		SetFile("/proc/cpuinfo", "processor\t: 0\nvendor_id\t: AuthenticAMD\nmodel name\t: AMD EPYC\n").
		SetFile("/proc/meminfo", "MemTotal: 1024 kB\n").
		SetOutput("df -Pk", "Filesystem 1024-blocks Used Available Capacity Mounted on\n", 0).
		SetOutput("uname -m", "aarch64\n", 0)
}

// SetFile scripts the contents of path.
func (e *Env) SetFile(path, contents string) *Env {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.files[path] = contents
	return e
}

// RemoveFile deletes a scripted file.
func (e *Env) RemoveFile(path string) *Env {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.files, path)
	return e
}

// SetBinary puts file on the fake PATH at /usr/bin/<file>.
func (e *Env) SetBinary(files ...string) *Env {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, f := range files {
		e.paths[f] = "/usr/bin/" + f
	}
	return e
}

// SetOutput scripts a fixed output for cmdline.
func (e *Env) SetOutput(cmdline, stdout string, exitCode int) *Env {
	return e.Handle(cmdline, func() *system.Output {
		return &system.Output{Stdout: stdout, ExitCode: exitCode}
	})
}

// Handle scripts cmdline with a handler, so its output can depend on state
// changed by earlier commands.
func (e *Env) Handle(cmdline string, h Handler) *Env {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[cmdline] = h
	return e
}

// Calls returns every command line run or started so far.
func (e *Env) Calls() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.calls...)
}

// Called reports whether cmdline was run or started.
func (e *Env) Called(cmdline string) bool {
	for _, c := range e.Calls() {
		if c == cmdline {
			return true
		}
	}
	return false
}

// GOOS implements system.Env.
func (e *Env) GOOS() string { return e.OS }

// ReadFile implements system.Env.
func (e *Env) ReadFile(path string) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.files[path]
	if !ok {
		return nil, &fs.PathError{Op: "open", Path: path, Err: fs.ErrNotExist}
	}
	return []byte(c), nil
}

// Exists implements system.Env.
func (e *Env) Exists(path string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.files[path]
	return ok
}

// LookPath implements system.Env.
func (e *Env) LookPath(file string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.paths[file]
	if !ok {
		return "", &exec.Error{Name: file, Err: exec.ErrNotFound}
	}
	return p, nil
}

func (e *Env) dispatch(name string, args []string) (*system.Output, bool) {
	cmdline := strings.Join(append([]string{name}, args...), " ")

	e.mu.Lock()
	e.calls = append(e.calls, cmdline)
	h, ok := e.handlers[cmdline]
	e.mu.Unlock()

	if !ok {
		return &system.Output{
			Stderr:   fmt.Sprintf("%s: command not found\n", name),
			ExitCode: 127,
		}, false
	}
	return h(), true
}

// Run implements system.Env.
func (e *Env) Run(_ context.Context, name string, args ...string) (*system.Output, error) {
	out, _ := e.dispatch(name, args)
	return out, nil
}

// Start implements system.Env.
func (e *Env) Start(ctx context.Context, name string, args ...string) (*stream.Stream, error) {
	out, ok := e.dispatch(name, args)
	if !ok && e.Passthrough {
		return stream.Start(ctx, name, args...)
	}

	s, w := stream.NewPipe(nil)
	go func() {
		for _, line := range splitLines(out.Stdout) {
			w.Send(stream.Frame{Kind: stream.FrameStdout, Data: line})
		}
		for _, line := range splitLines(out.Stderr) {
			w.Send(stream.Frame{Kind: stream.FrameStderr, Data: line})
		}
		code := out.ExitCode
		w.Send(stream.Frame{
			Kind:   stream.FrameStatus,
			Status: &stream.ExitStatus{Success: code == 0, Code: &code},
		})
		w.Finish(nil)
	}()
	return s, nil
}

// Hostname implements system.Env.
func (e *Env) Hostname() (string, error) { return e.Host, nil }

// Interfaces implements system.Env.
func (e *Env) Interfaces() ([]system.Interface, error) { return e.Ifaces, nil }

func splitLines(s string) []string {
	parts := strings.SplitAfter(s, "\n")
	if parts[len(parts)-1] == "" {
		parts = parts[:len(parts)-1]
	}
	return parts
}

var _ system.Env = (*Env)(nil)
