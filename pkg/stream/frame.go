// Package stream carries the live output of a command as an ordered
// sequence of frames, ending in exactly one status frame.
package stream

import (
	"encoding/json"
	"fmt"
	"strings"
)

// FrameKind tags a Frame.
type FrameKind string

const (
	// FrameStdout carries one line read from the child's stdout
	FrameStdout FrameKind = "stdout"
	// FrameStderr carries one line read from the child's stderr
	FrameStderr FrameKind = "stderr"
	// FrameStatus is the terminal frame holding the exit status
	FrameStatus FrameKind = "status"
)

// ExitStatus is the final state of a command.
type ExitStatus struct {
	Success bool `json:"success"`
	// Code is nil when the process was terminated by a signal.
	Code *int `json:"code"`
}

// Frame is one element of a streamed body. Data frames keep their trailing
// newline so output can be reassembled byte for byte.
type Frame struct {
	Kind   FrameKind   `json:"kind"`
	Data   string      `json:"data,omitempty"`
	Status *ExitStatus `json:"status,omitempty"`
}

// Validate checks that the frame is well-formed.
func (f Frame) Validate() error {
	switch f.Kind {
	case FrameStdout, FrameStderr:
		if f.Status != nil {
			return fmt.Errorf("%s frame must not carry a status", f.Kind)
		}
	case FrameStatus:
		if f.Status == nil {
			return fmt.Errorf("status frame is missing its status")
		}
	default:
		return fmt.Errorf("invalid frame kind: %q", f.Kind)
	}
	return nil
}

// UnmarshalJSON decodes and validates a frame.
func (f *Frame) UnmarshalJSON(data []byte) error {
	type plain Frame
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	if err := Frame(p).Validate(); err != nil {
		return err
	}
	*f = Frame(p)
	return nil
}

// Result is the collected outcome of a command run.
type Result struct {
	Success  bool   `json:"success" yaml:"success"`
	ExitCode *int   `json:"exit_code" yaml:"exit_code"`
	Stdout   string `json:"stdout" yaml:"stdout"`
	Stderr   string `json:"stderr" yaml:"stderr"`
}

// Code returns the exit code, or -1 when the process died by signal.
func (r *Result) Code() int {
	if r.ExitCode == nil {
		return -1
	}
	return *r.ExitCode
}

// collector accumulates data frames into a Result.
type collector struct {
	stdout strings.Builder
	stderr strings.Builder
}

func (c *collector) add(f Frame) {
	switch f.Kind {
	case FrameStdout:
		c.stdout.WriteString(f.Data)
	case FrameStderr:
		c.stderr.WriteString(f.Data)
	}
}

func (c *collector) result(status ExitStatus) *Result {
	return &Result{
		Success:  status.Success,
		ExitCode: status.Code,
		Stdout:   c.stdout.String(),
		Stderr:   c.stderr.String(),
	}
}
