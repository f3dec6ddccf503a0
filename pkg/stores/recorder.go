package stores

import (
	"context"

	"github.com/rs/zerolog/log"
)

// Recorder writes run history without letting store failures fail the
// operation being recorded. A Recorder with a nil Store records nothing.
type Recorder struct {
	store Store
}

// NewRecorder wraps s.
func NewRecorder(s Store) *Recorder {
	return &Recorder{store: s}
}

// Start records run as running.
func (r *Recorder) Start(ctx context.Context, run *Run) {
	if r == nil || r.store == nil {
		return
	}
	if err := r.store.CreateRun(ctx, run); err != nil {
		log.Warn().Err(err).Str("run", run.ID).Msg("failed to record run")
	}
}

// Finish records the outcome of run. A non-nil err marks it failed, as
// does a non-zero exit code.
func (r *Recorder) Finish(ctx context.Context, run *Run, skipped bool, exitCode *int, err error) {
	status := RunStatusSucceeded
	switch {
	case err != nil:
		status = RunStatusFailed
		msg := err.Error()
		run.Error = &msg
	case exitCode != nil && *exitCode != 0:
		status = RunStatusFailed
	case skipped:
		status = RunStatusSkipped
	}
	run.Status = status
	run.ExitCode = exitCode

	if r == nil || r.store == nil {
		return
	}
	// The operation's context may already be cancelled.
	if err := r.store.CompleteRun(context.WithoutCancel(ctx), run.ID, status, exitCode, run.Error); err != nil {
		log.Warn().Err(err).Str("run", run.ID).Msg("failed to record run outcome")
	}
}
