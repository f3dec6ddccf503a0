// Package runnable defines the unit of work hostwire dispatches to a host
// and the executor that runs it against the local system.
//
// A Runnable is plain data. It holds no handles, so it can be executed
// in-process or encoded and sent to an agent, which re-resolves the
// provider and runs it there.
package runnable

import (
	"bytes"
	"encoding/json"
	"fmt"

	cmdprov "github.com/hostwire/hostwire/pkg/providers/command"
	"github.com/hostwire/hostwire/pkg/providers/pkgmgr"
	"github.com/hostwire/hostwire/pkg/providers/svcmgr"
	"github.com/hostwire/hostwire/pkg/telemetry"
)

// Endpoint names a family of operations.
type Endpoint string

const (
	EndpointCommand   Endpoint = cmdprov.Endpoint
	EndpointPackage   Endpoint = pkgmgr.Endpoint
	EndpointService   Endpoint = svcmgr.Endpoint
	EndpointTelemetry Endpoint = telemetry.Endpoint
)

// Operation names.
const (
	OpExec      = "Exec"
	OpLoad      = "Load"
	OpAvailable = "Available"
	OpInstalled = "Installed"
	OpInstall   = "Install"
	OpUninstall = "Uninstall"
	OpRunning   = "Running"
	OpEnabled   = "Enabled"
	OpAction    = "Action"
	OpEnable    = "Enable"
	OpDisable   = "Disable"
)

// AutoProvider asks the executing side to pick the telemetry provider.
const AutoProvider = "Auto"

// operations lists the valid ops per endpoint and whether each streams.
var operations = map[Endpoint]map[string]bool{
	EndpointCommand:   {OpExec: true},
	EndpointTelemetry: {OpLoad: false},
	EndpointPackage: {
		OpAvailable: false,
		OpInstalled: false,
		OpInstall:   true,
		OpUninstall: true,
	},
	EndpointService: {
		OpAvailable: false,
		OpRunning:   false,
		OpEnabled:   false,
		OpAction:    true,
		OpEnable:    false,
		OpDisable:   false,
	},
}

// Runnable is a tagged union over endpoint, provider and operation. It is
// encoded as {"<Endpoint>": {"<Provider>": {"<Op>": <args>}}}.
type Runnable struct {
	Endpoint Endpoint
	Provider string
	Op       string
	Args     json.RawMessage
}

// NameArgs are the arguments of operations on a named package or service.
type NameArgs struct {
	Name string `json:"name"`
}

// ActionArgs are the arguments of a service action.
type ActionArgs struct {
	Name   string `json:"name"`
	Action string `json:"action"`
}

// String returns the dotted form, e.g. Command.Nix.Exec.
func (r Runnable) String() string {
	return fmt.Sprintf("%s.%s.%s", r.Endpoint, r.Provider, r.Op)
}

// Validate checks that the endpoint and operation exist.
func (r Runnable) Validate() error {
	ops, ok := operations[r.Endpoint]
	if !ok {
		return fmt.Errorf("unknown endpoint %q", r.Endpoint)
	}
	if r.Provider == "" {
		return fmt.Errorf("%s: provider is required", r.Endpoint)
	}
	if _, ok := ops[r.Op]; !ok {
		return fmt.Errorf("%s: unknown operation %q", r.Endpoint, r.Op)
	}
	return nil
}

// Streams reports whether the operation answers with a streamed body.
func (r Runnable) Streams() bool {
	return operations[r.Endpoint][r.Op]
}

// MarshalJSON implements json.Marshaler.
func (r Runnable) MarshalJSON() ([]byte, error) {
	args := r.Args
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	return json.Marshal(map[Endpoint]map[string]map[string]json.RawMessage{
		r.Endpoint: {r.Provider: {r.Op: args}},
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *Runnable) UnmarshalJSON(data []byte) error {
	endpoint, inner, err := singleKey(data)
	if err != nil {
		return fmt.Errorf("runnable: %w", err)
	}
	provider, inner, err := singleKey(inner)
	if err != nil {
		return fmt.Errorf("runnable %s: %w", endpoint, err)
	}
	op, args, err := singleKey(inner)
	if err != nil {
		return fmt.Errorf("runnable %s.%s: %w", endpoint, provider, err)
	}

	*r = Runnable{
		Endpoint: Endpoint(endpoint),
		Provider: provider,
		Op:       op,
		Args:     args,
	}
	return nil
}

// singleKey decodes a one-member JSON object.
func singleKey(data []byte) (string, json.RawMessage, error) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return "", nil, err
	}
	if len(m) != 1 {
		return "", nil, fmt.Errorf("expected exactly one variant, got %d", len(m))
	}
	for k, v := range m {
		return k, v, nil
	}
	return "", nil, nil
}

// ParseArgs decodes the operation arguments into target.
func (r Runnable) ParseArgs(target any) error {
	args := r.Args
	if len(bytes.TrimSpace(args)) == 0 {
		args = json.RawMessage("{}")
	}
	if err := json.Unmarshal(args, target); err != nil {
		return fmt.Errorf("%s: invalid arguments: %w", r, err)
	}
	return nil
}

func newRunnable(endpoint Endpoint, provider, op string, args any) Runnable {
	r := Runnable{Endpoint: endpoint, Provider: provider, Op: op}
	if args != nil {
		// Argument types are plain string structs; encoding cannot fail.
		r.Args, _ = json.Marshal(args)
	}
	return r
}

// CommandExec runs cmd through a command provider.
func CommandExec(provider, shell, cmd string) Runnable {
	return newRunnable(EndpointCommand, provider, OpExec, &cmdprov.ExecArgs{Shell: shell, Cmd: cmd})
}

// TelemetryLoad loads telemetry. An empty provider means AutoProvider.
func TelemetryLoad(provider string) Runnable {
	if provider == "" {
		provider = AutoProvider
	}
	return newRunnable(EndpointTelemetry, provider, OpLoad, nil)
}

// PackageAvailable asks whether a package provider is available.
func PackageAvailable(provider string) Runnable {
	return newRunnable(EndpointPackage, provider, OpAvailable, nil)
}

// PackageInstalled asks whether a package is installed.
func PackageInstalled(provider, name string) Runnable {
	return newRunnable(EndpointPackage, provider, OpInstalled, &NameArgs{Name: name})
}

// PackageInstall installs a package.
func PackageInstall(provider, name string) Runnable {
	return newRunnable(EndpointPackage, provider, OpInstall, &NameArgs{Name: name})
}

// PackageUninstall removes a package.
func PackageUninstall(provider, name string) Runnable {
	return newRunnable(EndpointPackage, provider, OpUninstall, &NameArgs{Name: name})
}

// ServiceAvailable asks whether a service provider is available.
func ServiceAvailable(provider string) Runnable {
	return newRunnable(EndpointService, provider, OpAvailable, nil)
}

// ServiceRunning asks whether a service is running.
func ServiceRunning(provider, name string) Runnable {
	return newRunnable(EndpointService, provider, OpRunning, &NameArgs{Name: name})
}

// ServiceEnabled asks whether a service starts at boot.
func ServiceEnabled(provider, name string) Runnable {
	return newRunnable(EndpointService, provider, OpEnabled, &NameArgs{Name: name})
}

// ServiceAction runs a service action such as start or reload.
func ServiceAction(provider, name, action string) Runnable {
	return newRunnable(EndpointService, provider, OpAction, &ActionArgs{Name: name, Action: action})
}

// ServiceEnable enables a service at boot.
func ServiceEnable(provider, name string) Runnable {
	return newRunnable(EndpointService, provider, OpEnable, &NameArgs{Name: name})
}

// ServiceDisable disables a service at boot.
func ServiceDisable(provider, name string) Runnable {
	return newRunnable(EndpointService, provider, OpDisable, &NameArgs{Name: name})
}
