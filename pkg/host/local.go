package host

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hostwire/hostwire/pkg/errdefs"
	"github.com/hostwire/hostwire/pkg/observability"
	"github.com/hostwire/hostwire/pkg/runnable"
	"github.com/hostwire/hostwire/pkg/stream"
	"github.com/hostwire/hostwire/pkg/telemetry"
)

// Local runs runnables in the current process.
type Local struct {
	executor  *runnable.Executor
	telemetry *telemetry.Telemetry
	ins       *observability.Instruments
}

var _ Host = (*Local)(nil)

// NewLocal creates a Local host and loads its telemetry.
func NewLocal(ctx context.Context, opts ...Option) (*Local, error) {
	o := applyOptions(opts)
	l := &Local{
		executor: runnable.NewExecutor(o.env),
		ins:      o.instruments,
	}

	data, err := l.Call(ctx, runnable.TelemetryLoad(""))
	if err != nil {
		return nil, fmt.Errorf("failed to load local telemetry: %w", err)
	}
	if l.telemetry, err = decodeTelemetry(data); err != nil {
		return nil, err
	}
	return l, nil
}

// Name implements Host.
func (l *Local) Name() string {
	return "localhost"
}

// Telemetry implements Host.
func (l *Local) Telemetry() *telemetry.Telemetry {
	return l.telemetry
}

// Call implements Host. The value goes through the same JSON encoding a
// Remote host would receive it in.
func (l *Local) Call(ctx context.Context, r runnable.Runnable) (json.RawMessage, error) {
	if err := checkValue(r); err != nil {
		return nil, err
	}

	call := l.ins.StartCall(ctx, observability.SideLocal, l.Name(), string(r.Endpoint), r.Provider, r.Op)
	data, err := l.call(call.Ctx, r)
	call.End(err)
	return data, err
}

func (l *Local) call(ctx context.Context, r runnable.Runnable) (json.RawMessage, error) {
	out, err := l.executor.Execute(ctx, r)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(out.Value)
	if err != nil {
		return nil, errdefs.Serialization("failed to encode "+r.String()+" result", err)
	}
	return data, nil
}

// Stream implements Host.
func (l *Local) Stream(ctx context.Context, r runnable.Runnable) (*stream.Stream, error) {
	if err := checkStream(r); err != nil {
		return nil, err
	}

	call := l.ins.StartCall(ctx, observability.SideLocal, l.Name(), string(r.Endpoint), r.Provider, r.Op)
	out, err := l.executor.Execute(call.Ctx, r)
	call.End(err)
	if err != nil {
		return nil, err
	}
	return out.Stream, nil
}

// Close implements Host. A Local host holds no resources.
func (l *Local) Close() error {
	return nil
}
