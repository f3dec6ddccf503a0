package stream

import (
	"context"
	"errors"
	"io"
	"sync"
)

// bufferSize bounds how far a producer may run ahead of its consumer.
const bufferSize = 64

// ErrIncomplete is returned when a stream ends without a status frame.
var ErrIncomplete = errors.New("stream ended before exit status")

// Stream is the consumer side of a streamed command body. Frames arrive in
// production order and the status frame is always last.
//
// A Stream is meant to be drained by a single goroutine.
type Stream struct {
	frames chan Frame
	done   chan struct{}

	closeOnce sync.Once
	onClose   func()

	// err is written by the producer before frames is closed.
	err error

	mu     sync.Mutex
	status *ExitStatus
	hooks  []func(ExitStatus)
}

func newStream(onClose func()) *Stream {
	return &Stream{
		frames:  make(chan Frame, bufferSize),
		done:    make(chan struct{}),
		onClose: onClose,
	}
}

// NewPipe returns a Stream fed by the returned Writer. onClose, if not nil,
// runs once when the consumer closes the stream.
func NewPipe(onClose func()) (*Stream, *Writer) {
	s := newStream(onClose)
	return s, &Writer{s: s}
}

// Next returns the next frame. After the status frame has been returned,
// Next returns io.EOF.
func (s *Stream) Next(ctx context.Context) (Frame, error) {
	if s.Status() != nil {
		return Frame{}, io.EOF
	}

	select {
	case f, ok := <-s.frames:
		if !ok {
			if s.err != nil {
				return Frame{}, s.err
			}
			return Frame{}, ErrIncomplete
		}
		if f.Kind == FrameStatus {
			s.observe(*f.Status)
		}
		return f, nil
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
}

func (s *Stream) observe(status ExitStatus) {
	s.mu.Lock()
	s.status = &status
	hooks := s.hooks
	s.hooks = nil
	s.mu.Unlock()

	for _, fn := range hooks {
		fn(status)
	}
}

// OnExit registers fn to run when the consumer reads the status frame.
// If the status has already been read, fn runs immediately.
func (s *Stream) OnExit(fn func(ExitStatus)) {
	s.mu.Lock()
	if s.status == nil {
		s.hooks = append(s.hooks, fn)
		s.mu.Unlock()
		return
	}
	status := *s.status
	s.mu.Unlock()
	fn(status)
}

// Status returns the exit status once it has been read, or nil.
func (s *Stream) Status() *ExitStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Wait discards the remaining output and returns the exit status.
func (s *Stream) Wait(ctx context.Context) (ExitStatus, error) {
	for {
		f, err := s.Next(ctx)
		if errors.Is(err, io.EOF) {
			return *s.Status(), nil
		}
		if err != nil {
			return ExitStatus{}, err
		}
		if f.Kind == FrameStatus {
			return *f.Status, nil
		}
	}
}

// Collect drains the stream into a Result.
func (s *Stream) Collect(ctx context.Context) (*Result, error) {
	var c collector
	for {
		f, err := s.Next(ctx)
		if err != nil {
			return nil, err
		}
		if f.Kind == FrameStatus {
			return c.result(*f.Status), nil
		}
		c.add(f)
	}
}

// Close tells the producer the consumer is gone. A local child process is
// killed; a remote stream is cancelled on the agent. Frames already queued,
// including the status frame, can still be read.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		if s.onClose != nil {
			s.onClose()
		}
	})
	return nil
}

// Writer is the producer side of a Stream.
type Writer struct {
	s    *Stream
	once sync.Once
}

// Send queues f, blocking while the buffer is full. It reports false when
// the consumer has closed the stream and the frame was dropped. The status
// frame is still queued after close if there is room for it.
func (w *Writer) Send(f Frame) bool {
	if f.Kind != FrameStatus {
		select {
		case <-w.s.done:
			return false
		default:
		}
	}

	select {
	case w.s.frames <- f:
		return true
	case <-w.s.done:
		if f.Kind != FrameStatus {
			return false
		}
		select {
		case w.s.frames <- f:
			return true
		default:
			return false
		}
	}
}

// Closed returns a channel closed once the consumer has closed the stream.
func (w *Writer) Closed() <-chan struct{} {
	return w.s.done
}

// Finish ends the stream. err, if not nil, is returned to the consumer in
// place of further frames. Finish must be called exactly once, after the
// last Send.
func (w *Writer) Finish(err error) {
	w.once.Do(func() {
		w.s.err = err
		close(w.s.frames)
	})
}
