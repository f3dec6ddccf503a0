package host

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/hostwire/hostwire/pkg/errdefs"
	"github.com/hostwire/hostwire/pkg/observability"
	"github.com/hostwire/hostwire/pkg/runnable"
	"github.com/hostwire/hostwire/pkg/stream"
	"github.com/hostwire/hostwire/pkg/telemetry"
	"github.com/hostwire/hostwire/pkg/wire"
)

// errClosed marks a Remote closed by its owner.
var errClosed = errors.New("remote host is closed")

// Remote sends runnables to a hostwire agent.
//
// The connection carries one logical call at a time. A streamed call owns
// the connection until its status frame arrives. Cancelling the context of
// an in-flight call closes the connection, after which every call fails
// with a Transport error.
type Remote struct {
	name string
	conn io.ReadWriteCloser
	enc  *wire.Encoder
	dec  *wire.Decoder
	ins  *observability.Instruments

	// sem holds one token while a call owns the connection.
	sem chan struct{}

	mu     sync.Mutex
	broken error

	telemetry *telemetry.Telemetry
}

var _ Host = (*Remote)(nil)

// Connect dials a hostwire agent at addr ("host:port") and loads the
// remote telemetry.
func Connect(ctx context.Context, addr string, opts ...Option) (*Remote, error) {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return nil, errdefs.Configuration(fmt.Sprintf("invalid agent address %q", addr), err)
	}

	o := applyOptions(opts)
	dialer := net.Dialer{Timeout: o.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errdefs.Transport("failed to connect to "+addr, err)
	}

	log.Debug().Str("address", addr).Msg("connected to agent")
	return NewRemote(ctx, conn, addr, opts...)
}

// NewRemote speaks the agent protocol over conn, which the Remote then
// owns. name identifies the host in logs and errors.
func NewRemote(ctx context.Context, conn io.ReadWriteCloser, name string, opts ...Option) (*Remote, error) {
	o := applyOptions(opts)
	r := &Remote{
		name: name,
		conn: conn,
		enc:  wire.NewEncoder(conn),
		dec:  wire.NewDecoder(conn),
		ins:  o.instruments,
		sem:  make(chan struct{}, 1),
	}

	data, err := r.Call(ctx, runnable.TelemetryLoad(""))
	if err != nil {
		_ = r.Close()
		return nil, fmt.Errorf("failed to load telemetry from %s: %w", name, err)
	}
	if r.telemetry, err = decodeTelemetry(data); err != nil {
		_ = r.Close()
		return nil, err
	}
	return r, nil
}

// Name implements Host.
func (r *Remote) Name() string {
	return r.name
}

// Telemetry implements Host.
func (r *Remote) Telemetry() *telemetry.Telemetry {
	return r.telemetry
}

// Close implements Host.
func (r *Remote) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.broken != nil {
		return nil
	}
	r.broken = errClosed
	return r.conn.Close()
}

// Call implements Host.
func (r *Remote) Call(ctx context.Context, rn runnable.Runnable) (json.RawMessage, error) {
	if err := checkValue(rn); err != nil {
		return nil, err
	}

	call := r.ins.StartCall(ctx, observability.SideRemote, r.name, string(rn.Endpoint), rn.Provider, rn.Op)
	data, err := r.call(call.Ctx, rn)
	call.End(err)
	return data, err
}

func (r *Remote) call(ctx context.Context, rn runnable.Runnable) (json.RawMessage, error) {
	if err := r.acquire(ctx); err != nil {
		return nil, err
	}
	defer r.release()

	stop := context.AfterFunc(ctx, func() { r.fail(ctx.Err()) })
	defer stop()

	msg, err := r.roundTrip(ctx, uuid.NewString(), rn)
	if err != nil {
		return nil, err
	}
	if msg.Body {
		// Frames for a body nobody reads would desynchronise the connection.
		return nil, r.fail(errdefs.Serialization(rn.String()+": unexpected streamed body", nil))
	}
	if len(msg.Data) == 0 {
		return json.RawMessage("null"), nil
	}
	return msg.Data, nil
}

// Stream implements Host.
func (r *Remote) Stream(ctx context.Context, rn runnable.Runnable) (*stream.Stream, error) {
	if err := checkStream(rn); err != nil {
		return nil, err
	}

	call := r.ins.StartCall(ctx, observability.SideRemote, r.name, string(rn.Endpoint), rn.Provider, rn.Op)
	if err := r.acquire(call.Ctx); err != nil {
		call.End(err)
		return nil, err
	}

	id := uuid.NewString()
	var ended atomic.Bool
	var s *stream.Stream
	s, w := stream.NewPipe(func() {
		// A body whose status frame has been read needs no CANCEL.
		if !ended.Load() && s.Status() == nil {
			r.cancel(id)
		}
	})
	stop := context.AfterFunc(ctx, func() {
		r.fail(ctx.Err())
		_ = s.Close()
	})

	msg, err := r.roundTrip(call.Ctx, id, rn)
	if err == nil && !msg.Body {
		err = r.fail(errdefs.Serialization(rn.String()+": expected a streamed body", nil))
	}
	if err != nil {
		call.End(err)
		stop()
		r.release()
		return nil, err
	}

	r.ins.Metrics.StreamOpened(observability.SideRemote)
	go func() {
		err := r.pump(call, rn, id, w, &ended)
		stop()
		r.release()
		r.ins.Metrics.StreamClosed(observability.SideRemote)
		call.End(err)
	}()
	return s, nil
}

// pump moves the FRAME messages of request id into w until the status
// frame. It returns the error the stream ended with, if any.
func (r *Remote) pump(call *observability.Call, rn runnable.Runnable, id string, w *stream.Writer, ended *atomic.Bool) (err error) {
	// After a failure the rest of the body is drained and dropped so the
	// connection stays usable.
	defer ended.Store(true)
	finished := false
	finish := func(cause error) {
		if !finished {
			finished = true
			err = cause
			w.Finish(cause)
		}
	}

	for {
		msg, derr := r.dec.DecodeMessage()
		if derr != nil {
			// An undecodable line may have been the status frame, so the end
			// of the body can no longer be found.
			finish(r.fail(derr))
			return err
		}
		if msg.ID != id {
			log.Debug().Str("id", msg.ID).Str("type", string(msg.Type)).Msg("dropping stale message")
			continue
		}

		switch msg.Type {
		case wire.MessageTypeFrame:
			var f stream.Frame
			if perr := msg.ParseData(&f); perr != nil {
				ferr := errdefs.Serialization("malformed frame", perr)
				switch frameKind(msg) {
				case stream.FrameStdout, stream.FrameStderr:
					finish(ferr)
					continue
				case stream.FrameStatus:
					finish(ferr)
				default:
					finish(r.fail(ferr))
				}
				return err
			}
			r.ins.Metrics.RecordFrame(observability.SideRemote, string(f.Kind))
			if f.Kind == stream.FrameStatus {
				ended.Store(true)
				call.SetExitCode(f.Status.Code)
			}
			if !finished {
				w.Send(f)
			}
			if f.Kind == stream.FrameStatus {
				finish(nil)
				return err
			}
		case wire.MessageTypeError:
			finish(remoteError(msg, rn))
			return err
		default:
			log.Debug().Str("type", string(msg.Type)).Msg("unexpected message in stream")
		}
	}
}

// frameKind reads the kind of a FRAME whose data failed validation, or ""
// if not even that can be read.
func frameKind(msg *wire.Message) stream.FrameKind {
	var raw struct {
		Kind stream.FrameKind `json:"kind"`
	}
	if err := json.Unmarshal(msg.Data, &raw); err != nil {
		return ""
	}
	return raw.Kind
}

// cancel asks the agent to kill the process behind request id.
func (r *Remote) cancel(id string) {
	if r.err() != nil {
		return
	}
	if err := r.enc.EncodeMessage(wire.MessageTypeCancel, id, false, nil); err != nil {
		log.Debug().Err(err).Str("host", r.name).Msg("failed to send cancel")
	}
}

// roundTrip sends rn as request id and waits for its RESPONSE.
func (r *Remote) roundTrip(ctx context.Context, id string, rn runnable.Runnable) (*wire.Message, error) {
	if err := r.enc.EncodeMessage(wire.MessageTypeRequest, id, false, rn); err != nil {
		if errdefs.IsTransport(err) {
			return nil, r.fail(contextOr(ctx, err))
		}
		return nil, err
	}

	for {
		msg, err := r.dec.DecodeMessage()
		if err != nil {
			if errdefs.IsSerialization(err) {
				return nil, err
			}
			return nil, r.fail(contextOr(ctx, err))
		}
		if msg.ID != id {
			log.Debug().Str("id", msg.ID).Str("type", string(msg.Type)).Msg("dropping stale message")
			continue
		}

		switch msg.Type {
		case wire.MessageTypeResponse:
			return msg, nil
		case wire.MessageTypeError:
			return nil, remoteError(msg, rn)
		default:
			log.Debug().Str("type", string(msg.Type)).Msg("unexpected message before response")
		}
	}
}

func (r *Remote) acquire(ctx context.Context) error {
	select {
	case r.sem <- struct{}{}:
	case <-ctx.Done():
		return errdefs.Transport("waiting for connection to "+r.name, ctx.Err())
	}
	if err := r.err(); err != nil {
		<-r.sem
		return err
	}
	return nil
}

func (r *Remote) release() {
	<-r.sem
}

func (r *Remote) err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.broken == nil {
		return nil
	}
	return errdefs.Transport("connection to "+r.name+" is unusable", r.broken)
}

// fail marks the connection unusable, closes it, and returns cause as a
// typed error.
func (r *Remote) fail(cause error) error {
	err := cause
	switch {
	case errors.Is(cause, io.EOF), errors.Is(cause, io.ErrUnexpectedEOF):
		err = errdefs.Transport("agent closed the connection", cause)
	case errdefs.KindOf(cause) == "":
		err = errdefs.Transport("connection to "+r.name+" failed", cause)
	}

	r.mu.Lock()
	if r.broken == nil {
		r.broken = err
		_ = r.conn.Close()
		log.Debug().Err(err).Str("host", r.name).Msg("connection closed")
	}
	r.mu.Unlock()
	return err
}

// contextOr prefers the context's error: a read failing because the
// connection was closed on cancellation is reported as the cancellation.
func contextOr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return errdefs.Transport("call cancelled", ctxErr)
	}
	return err
}

// remoteError rebuilds an agent ERROR as a Remote error whose cause has the
// kind the agent reported, so callers can match it like a local failure.
func remoteError(msg *wire.Message, rn runnable.Runnable) *errdefs.Error {
	var data wire.ErrorData
	if err := msg.ParseData(&data); err != nil {
		return errdefs.Remote("agent sent an unreadable error", errdefs.Serialization("malformed error data", err)).
			WithEndpoint(string(rn.Endpoint)).WithOp(rn.Op)
	}
	cause := errdefs.New(errdefs.Kind(data.Kind), data.Message, nil).WithEndpoint(string(rn.Endpoint))
	return errdefs.Remote("agent reported an error", cause).WithEndpoint(string(rn.Endpoint)).WithOp(rn.Op)
}
