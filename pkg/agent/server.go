// Package agent serves the hostwire wire protocol. It decodes runnables
// sent by a Remote host, executes them against the local system and
// writes back values, streamed frames or errors.
package agent

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/hostwire/hostwire/pkg/errdefs"
	"github.com/hostwire/hostwire/pkg/observability"
	"github.com/hostwire/hostwire/pkg/runnable"
	"github.com/hostwire/hostwire/pkg/stream"
	"github.com/hostwire/hostwire/pkg/wire"
)

// requestQueue bounds how many requests a connection reads ahead.
const requestQueue = 16

// Server answers wire requests with a runnable.Executor.
type Server struct {
	executor *runnable.Executor
	ins      *observability.Instruments
	hostname string
}

// NewServer creates a server. A nil ins disables instrumentation.
func NewServer(executor *runnable.Executor, ins *observability.Instruments) *Server {
	if ins == nil {
		ins = observability.Noop()
	}
	hostname, err := executor.Env().Hostname()
	if err != nil {
		hostname = "agent"
	}
	return &Server{
		executor: executor,
		ins:      ins,
		hostname: hostname,
	}
}

// Serve accepts connections on l until ctx is done, serving each in its
// own goroutine. It closes l and waits for open connections on return.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	g, ctx := errgroup.WithContext(ctx)

	stop := context.AfterFunc(ctx, func() { _ = l.Close() })
	defer stop()

	log.Info().Str("address", l.Addr().String()).Msg("agent listening")

	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			_ = l.Close()
			_ = g.Wait()
			return errdefs.Transport("failed to accept connection", err)
		}

		g.Go(func() error {
			if err := s.ServeConn(ctx, conn); err != nil {
				log.Warn().Err(err).Str("peer", conn.RemoteAddr().String()).Msg("connection ended with error")
			}
			return nil
		})
	}

	return g.Wait()
}

// ServeConn serves one client until it disconnects or ctx is done. rwc is
// closed on return. A clean disconnect returns nil.
func (s *Server) ServeConn(ctx context.Context, rwc io.ReadWriteCloser) error {
	s.ins.Metrics.ConnectionOpened()
	defer s.ins.Metrics.ConnectionClosed()
	defer rwc.Close()

	c := &conn{
		srv: s,
		enc: wire.NewEncoder(rwc),
		dec: wire.NewDecoder(rwc),
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)
	stop := context.AfterFunc(ctx, func() { _ = rwc.Close() })
	defer stop()

	requests := make(chan *wire.Message, requestQueue)
	g.Go(func() error {
		// Once the client is gone, work still queued or running is abandoned.
		defer cancel()
		defer close(requests)
		return c.read(ctx, requests)
	})
	g.Go(func() error {
		for msg := range requests {
			if err := c.handle(ctx, msg); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
		}
		return nil
	})

	log.Debug().Msg("client connected")
	err := g.Wait()
	log.Debug().Err(err).Msg("client disconnected")
	return err
}

// conn is the state of one client connection. Requests are handled one at
// a time; only CANCEL is processed while a stream is in flight.
type conn struct {
	srv *Server
	enc *wire.Encoder
	dec *wire.Decoder

	mu       sync.Mutex
	activeID string
	active   *stream.Stream
}

func (c *conn) read(ctx context.Context, requests chan<- *wire.Message) error {
	for {
		var msg wire.Message
		err := c.dec.Decode(&msg)
		if err == nil {
			if verr := msg.Validate(); verr != nil {
				err = errdefs.Serialization("invalid message", verr)
			}
		}
		if err != nil {
			switch {
			case errdefs.IsSerialization(err):
				log.Debug().Err(err).Msg("malformed message")
				if err := c.sendError(msg.ID, err); err != nil {
					return err
				}
				continue
			case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF), ctx.Err() != nil:
				return nil
			default:
				return err
			}
		}

		switch msg.Type {
		case wire.MessageTypeCancel:
			c.cancel(msg.ID)
		case wire.MessageTypeRequest:
			select {
			case requests <- &msg:
			case <-ctx.Done():
				return nil
			}
		default:
			log.Debug().Str("type", string(msg.Type)).Str("id", msg.ID).Msg("ignoring unexpected message")
		}
	}
}

// handle runs one request. Only errors writing to the connection are
// returned; everything else is reported to the client.
func (c *conn) handle(ctx context.Context, msg *wire.Message) error {
	var r runnable.Runnable
	if err := msg.ParseData(&r); err != nil {
		return c.sendError(msg.ID, errdefs.Serialization("malformed runnable", err))
	}

	call := c.srv.ins.StartCall(ctx, observability.SideAgent, c.srv.hostname, string(r.Endpoint), r.Provider, r.Op)
	call.Logger.WithField("id", msg.ID).Debug("handling request")
	out, err := c.srv.executor.Execute(call.Ctx, r)
	if err != nil {
		call.End(err)
		return c.sendError(msg.ID, err)
	}

	if out.Stream == nil {
		call.End(nil)
		return c.enc.EncodeMessage(wire.MessageTypeResponse, msg.ID, false, out.Value)
	}

	err = c.pump(call, msg.ID, out.Stream)
	call.End(err)
	return err
}

// pump announces a streamed body and forwards its frames.
func (c *conn) pump(call *observability.Call, id string, s *stream.Stream) error {
	ctx := call.Ctx
	metrics := c.srv.ins.Metrics
	metrics.StreamOpened(observability.SideAgent)
	defer metrics.StreamClosed(observability.SideAgent)

	// Registered before the RESPONSE so a CANCEL sent right after it finds
	// the stream.
	c.setActive(id, s)
	defer c.setActive("", nil)
	defer s.Close()

	if err := c.enc.EncodeMessage(wire.MessageTypeResponse, id, true, nil); err != nil {
		return err
	}

	for {
		f, err := s.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return c.sendError(id, errdefs.Execution("stream ended abnormally", err))
		}
		metrics.RecordFrame(observability.SideAgent, string(f.Kind))
		if err := c.enc.EncodeMessage(wire.MessageTypeFrame, id, false, f); err != nil {
			return err
		}
		if f.Kind == stream.FrameStatus {
			call.SetExitCode(f.Status.Code)
			call.Logger.WithField("success", f.Status.Success).Debug("stream finished")
			return nil
		}
	}
}

func (c *conn) setActive(id string, s *stream.Stream) {
	c.mu.Lock()
	c.activeID, c.active = id, s
	c.mu.Unlock()
}

// cancel closes the in-flight stream if it belongs to request id.
func (c *conn) cancel(id string) {
	c.mu.Lock()
	s := c.active
	if c.activeID != id {
		s = nil
	}
	c.mu.Unlock()

	if s == nil {
		log.Debug().Str("id", id).Msg("cancel for unknown stream")
		return
	}
	log.Debug().Str("id", id).Msg("cancelling stream")
	_ = s.Close()
}

// sendError reports err to the client as an ERROR for request id.
func (c *conn) sendError(id string, err error) error {
	kind := errdefs.KindOf(err)
	if kind == "" {
		kind = errdefs.KindExecution
	}
	return c.enc.EncodeError(id, kind, err.Error())
}
