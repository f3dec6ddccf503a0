package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"gopkg.in/yaml.v3"

	"github.com/hostwire/hostwire/pkg/stream"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true)
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	hostStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))
)

// printer renders results in the --output format.
type printer struct {
	format string
	out    io.Writer
}

func (o *globalOptions) printer(out io.Writer) printer {
	return printer{format: o.Output, out: out}
}

// structured reports whether output is json or yaml.
func (p printer) structured() bool {
	return p.format == "json" || p.format == "yaml"
}

// print writes v as json or yaml, or calls text for the text format.
func (p printer) print(v any, text func(w io.Writer) error) error {
	switch p.format {
	case "json":
		enc := json.NewEncoder(p.out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(p.out)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return text(p.out)
	}
}

func statusText(ok bool, yes, no string) string {
	if ok {
		return okStyle.Render(yes)
	}
	return failStyle.Render(no)
}

// pipe copies stream frames to stdout and stderr as they arrive and
// returns the exit status.
func pipe(ctx context.Context, s *stream.Stream, stdout, stderr io.Writer) (stream.ExitStatus, error) {
	defer s.Close()
	for {
		f, err := s.Next(ctx)
		if err != nil {
			return stream.ExitStatus{}, err
		}
		switch f.Kind {
		case stream.FrameStdout:
			fmt.Fprint(stdout, f.Data)
		case stream.FrameStderr:
			fmt.Fprint(stderr, f.Data)
		case stream.FrameStatus:
			return *f.Status, nil
		}
	}
}

// runOutcome is the printable result of a streamed change.
type runOutcome struct {
	Host    string         `json:"host" yaml:"host"`
	Target  string         `json:"target" yaml:"target"`
	Action  string         `json:"action" yaml:"action"`
	Changed bool           `json:"changed" yaml:"changed"`
	Result  *stream.Result `json:"result,omitempty" yaml:"result,omitempty"`
}

// drain consumes a change stream. In text mode output is piped live;
// otherwise it is collected into the outcome. A nil stream means nothing
// needed doing.
func (p printer) drain(ctx context.Context, s *stream.Stream, outcome *runOutcome, stderr io.Writer) (*int, error) {
	if s == nil {
		return nil, nil
	}
	outcome.Changed = true

	if p.structured() {
		defer s.Close()
		res, err := s.Collect(ctx)
		if err != nil {
			return nil, err
		}
		outcome.Result = res
		return res.ExitCode, nil
	}

	status, err := pipe(ctx, s, p.out, stderr)
	if err != nil {
		return nil, err
	}
	outcome.Result = &stream.Result{Success: status.Success, ExitCode: status.Code}
	return status.Code, nil
}

// exitErr turns a failed result into an ExitError.
func exitErr(res *stream.Result) error {
	if res == nil || res.Success {
		return nil
	}
	return &ExitError{Code: max(res.Code(), 1)}
}
