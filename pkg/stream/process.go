package stream

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/hostwire/hostwire/pkg/errdefs"
)

// drainTimeout is how long output readers may outlive the child. A
// backgrounded grandchild can hold the pipes open indefinitely.
const drainTimeout = 2 * time.Second

// Start spawns name with args and streams its merged stdout and stderr.
//
// The child is killed when ctx is cancelled or the returned Stream is
// closed. Start does not wait for the child; a non-zero exit is reported
// through the status frame, not as an error.
func Start(ctx context.Context, name string, args ...string) (*Stream, error) {
	ctx, cancel := context.WithCancel(ctx)

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		cancel()
		return nil, errdefs.Execution("failed to create stdout pipe", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		cancel()
		closeAll(stdoutR, stdoutW)
		return nil, errdefs.Execution("failed to create stderr pipe", err)
	}

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	if err := cmd.Start(); err != nil {
		cancel()
		closeAll(stdoutR, stdoutW, stderrR, stderrW)
		return nil, errdefs.Execution(fmt.Sprintf("failed to start %s", name), err)
	}

	// The child holds its own copies of the write ends.
	closeAll(stdoutW, stderrW)

	s, w := NewPipe(cancel)

	log.Debug().
		Str("command", name).
		Int("pid", cmd.Process.Pid).
		Msg("process started")

	go func() {
		defer cancel()
		defer closeAll(stdoutR, stderrR)

		var g errgroup.Group
		g.Go(func() error { return forward(stdoutR, FrameStdout, w) })
		g.Go(func() error { return forward(stderrR, FrameStderr, w) })

		readers := make(chan error, 1)
		go func() { readers <- g.Wait() }()

		waitErr := cmd.Wait()

		var readErr error
		select {
		case readErr = <-readers:
		case <-time.After(drainTimeout):
			closeAll(stdoutR, stderrR)
			readErr = <-readers
		}
		if readErr != nil {
			log.Debug().Err(readErr).Str("command", name).Msg("output forwarding stopped early")
		}

		status, err := exitStatus(waitErr)
		if err != nil {
			w.Finish(errdefs.Execution(fmt.Sprintf("failed to wait for %s", name), err))
			return
		}

		log.Debug().
			Str("command", name).
			Bool("success", status.Success).
			Msg("process exited")

		if !w.Send(Frame{Kind: FrameStatus, Status: &status}) {
			log.Debug().Str("command", name).Msg("consumer gone before exit status")
		}
		w.Finish(nil)
	}()

	return s, nil
}

// forward copies r line by line into w. Once the consumer is gone the rest
// of r is drained and discarded so the child never blocks on a full pipe.
func forward(r io.Reader, kind FrameKind, w *Writer) error {
	br := bufio.NewReader(r)
	dropped := false
	for {
		line, err := br.ReadString('\n')
		if line != "" && !dropped {
			if !w.Send(Frame{Kind: kind, Data: line}) {
				dropped = true
				log.Debug().Str("stream", string(kind)).Msg("consumer closed stream, discarding output")
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read %s: %w", kind, err)
		}
	}
}

// exitStatus converts the result of cmd.Wait.
func exitStatus(waitErr error) (ExitStatus, error) {
	if waitErr == nil {
		code := 0
		return ExitStatus{Success: true, Code: &code}, nil
	}

	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		code := exitErr.ExitCode()
		if code < 0 {
			return ExitStatus{Success: false}, nil
		}
		return ExitStatus{Success: false, Code: &code}, nil
	}
	// Cancelled after the child had already exited cleanly.
	if errors.Is(waitErr, context.Canceled) || errors.Is(waitErr, context.DeadlineExceeded) {
		return ExitStatus{Success: false}, nil
	}
	return ExitStatus{}, waitErr
}

func closeAll(files ...*os.File) {
	for _, f := range files {
		_ = f.Close()
	}
}
