// Package host is the entry point for talking to a managed machine.
//
// A Host is either Local, which runs runnables in-process, or Remote,
// which sends them to a hostwire agent over a byte stream (TCP or an SSH
// session). Both carry the machine's telemetry, loaded once when the host
// is created, and both answer the same runnables with the same encoding,
// so callers never care which one they hold.
package host

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hostwire/hostwire/pkg/errdefs"
	"github.com/hostwire/hostwire/pkg/observability"
	"github.com/hostwire/hostwire/pkg/runnable"
	"github.com/hostwire/hostwire/pkg/stream"
	"github.com/hostwire/hostwire/pkg/system"
	"github.com/hostwire/hostwire/pkg/telemetry"
)

// Host is a machine runnables can be dispatched to. It is safe for
// concurrent use.
type Host interface {
	// Name identifies the host in logs, e.g. its address.
	Name() string

	// Telemetry returns the snapshot loaded when the host was created.
	Telemetry() *telemetry.Telemetry

	// Call runs a runnable that answers with a value and returns the
	// value's JSON encoding.
	Call(ctx context.Context, r runnable.Runnable) (json.RawMessage, error)

	// Stream runs a runnable that answers with a streamed body. The
	// stream lives until its status frame is read, it is closed, or ctx
	// is done.
	Stream(ctx context.Context, r runnable.Runnable) (*stream.Stream, error)

	// Close releases the host's resources.
	Close() error
}

// Run calls r on h and decodes the answer into T.
func Run[T any](ctx context.Context, h Host, r runnable.Runnable) (T, error) {
	var out T
	data, err := h.Call(ctx, r)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, errdefs.Serialization("failed to decode "+r.String()+" result", err).
			WithEndpoint(string(r.Endpoint)).WithOp(r.Op)
	}
	return out, nil
}

type options struct {
	env         system.Env
	instruments *observability.Instruments
	dialTimeout time.Duration
}

// Option configures a host.
type Option func(*options)

// WithEnv sets the environment a Local host executes against. It has no
// effect on Remote hosts.
func WithEnv(env system.Env) Option {
	return func(o *options) {
		o.env = env
	}
}

// WithInstruments sets the logger, tracer and metrics used for calls.
func WithInstruments(ins *observability.Instruments) Option {
	return func(o *options) {
		o.instruments = ins
	}
}

// WithDialTimeout bounds the TCP connect of Connect.
func WithDialTimeout(d time.Duration) Option {
	return func(o *options) {
		o.dialTimeout = d
	}
}

func applyOptions(opts []Option) *options {
	o := &options{
		dialTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.env == nil {
		o.env = system.NewLocal()
	}
	if o.instruments == nil {
		o.instruments = observability.Noop()
	}
	return o
}

func decodeTelemetry(data json.RawMessage) (*telemetry.Telemetry, error) {
	var t telemetry.Telemetry
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, errdefs.Serialization("failed to decode telemetry", err).
			WithEndpoint(telemetry.Endpoint)
	}
	return &t, nil
}

func checkValue(r runnable.Runnable) error {
	if err := r.Validate(); err != nil {
		return errdefs.Configuration("invalid runnable", err)
	}
	if r.Streams() {
		return errdefs.Configuration(r.String()+" answers with a stream; use Stream", nil).
			WithEndpoint(string(r.Endpoint)).WithOp(r.Op)
	}
	return nil
}

func checkStream(r runnable.Runnable) error {
	if err := r.Validate(); err != nil {
		return errdefs.Configuration("invalid runnable", err)
	}
	if !r.Streams() {
		return errdefs.Configuration(r.String()+" answers with a value; use Call", nil).
			WithEndpoint(string(r.Endpoint)).WithOp(r.Op)
	}
	return nil
}
