package runnable

import (
	"context"
	"fmt"

	"github.com/hostwire/hostwire/pkg/errdefs"
	"github.com/hostwire/hostwire/pkg/observability"
	cmdprov "github.com/hostwire/hostwire/pkg/providers/command"
	"github.com/hostwire/hostwire/pkg/providers/pkgmgr"
	"github.com/hostwire/hostwire/pkg/providers/svcmgr"
	"github.com/hostwire/hostwire/pkg/stream"
	"github.com/hostwire/hostwire/pkg/system"
	"github.com/hostwire/hostwire/pkg/telemetry"
)

// Output is the result of executing a Runnable: either a value to encode
// or a streamed body, never both.
type Output struct {
	Value  any
	Stream *stream.Stream
}

// Executor runs runnables against a system.Env.
type Executor struct {
	env system.Env
}

// NewExecutor creates an executor over env.
func NewExecutor(env system.Env) *Executor {
	return &Executor{env: env}
}

// Env returns the executor's environment.
func (e *Executor) Env() system.Env {
	return e.env
}

// Execute dispatches r to its endpoint's provider.
func (e *Executor) Execute(ctx context.Context, r Runnable) (*Output, error) {
	if err := r.Validate(); err != nil {
		return nil, errdefs.Configuration("invalid runnable", err)
	}

	observability.FromContext(ctx).Debug("executing runnable")

	var (
		out *Output
		err error
	)
	switch r.Endpoint {
	case EndpointCommand:
		out, err = e.command(ctx, r)
	case EndpointTelemetry:
		out, err = e.telemetry(ctx, r)
	case EndpointPackage:
		out, err = e.pkg(ctx, r)
	case EndpointService:
		out, err = e.service(ctx, r)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", r, err)
	}
	return out, nil
}

func (e *Executor) command(ctx context.Context, r Runnable) (*Output, error) {
	p, err := cmdprov.ByName(r.Provider)
	if err != nil {
		return nil, err
	}
	var args cmdprov.ExecArgs
	if err := r.ParseArgs(&args); err != nil {
		return nil, errdefs.Serialization("invalid exec arguments", err)
	}
	s, err := p.Exec(ctx, e.env, args)
	if err != nil {
		return nil, err
	}
	return &Output{Stream: s}, nil
}

func (e *Executor) telemetry(ctx context.Context, r Runnable) (*Output, error) {
	var (
		t   *telemetry.Telemetry
		err error
	)
	if r.Provider == AutoProvider {
		t, err = telemetry.Load(ctx, e.env)
	} else {
		t, err = telemetry.LoadWith(ctx, e.env, r.Provider)
	}
	if err != nil {
		return nil, err
	}
	return &Output{Value: t}, nil
}

func (e *Executor) pkg(ctx context.Context, r Runnable) (*Output, error) {
	p, err := pkgmgr.ByName(r.Provider)
	if err != nil {
		return nil, err
	}

	if r.Op == OpAvailable {
		ok, err := p.Available(ctx, e.env)
		if err != nil {
			return nil, err
		}
		return &Output{Value: ok}, nil
	}

	var args NameArgs
	if err := r.ParseArgs(&args); err != nil {
		return nil, errdefs.Serialization("invalid package arguments", err)
	}

	switch r.Op {
	case OpInstalled:
		ok, err := p.Installed(ctx, e.env, args.Name)
		if err != nil {
			return nil, err
		}
		return &Output{Value: ok}, nil
	case OpInstall:
		return streamOutput(p.Install(ctx, e.env, args.Name))
	default:
		return streamOutput(p.Uninstall(ctx, e.env, args.Name))
	}
}

func (e *Executor) service(ctx context.Context, r Runnable) (*Output, error) {
	p, err := svcmgr.ByName(r.Provider)
	if err != nil {
		return nil, err
	}

	switch r.Op {
	case OpAvailable:
		ok, err := p.Available(ctx, e.env)
		if err != nil {
			return nil, err
		}
		return &Output{Value: ok}, nil
	case OpAction:
		var args ActionArgs
		if err := r.ParseArgs(&args); err != nil {
			return nil, errdefs.Serialization("invalid action arguments", err)
		}
		return streamOutput(p.Action(ctx, e.env, args.Name, args.Action))
	}

	var args NameArgs
	if err := r.ParseArgs(&args); err != nil {
		return nil, errdefs.Serialization("invalid service arguments", err)
	}

	var ok bool
	switch r.Op {
	case OpRunning:
		ok, err = p.Running(ctx, e.env, args.Name)
	case OpEnabled:
		ok, err = p.Enabled(ctx, e.env, args.Name)
	case OpEnable:
		return &Output{}, p.Enable(ctx, e.env, args.Name)
	case OpDisable:
		return &Output{}, p.Disable(ctx, e.env, args.Name)
	}
	if err != nil {
		return nil, err
	}
	return &Output{Value: ok}, nil
}

func streamOutput(s *stream.Stream, err error) (*Output, error) {
	if err != nil {
		return nil, err
	}
	return &Output{Stream: s}, nil
}
