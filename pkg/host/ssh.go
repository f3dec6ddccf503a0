package host

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/hostwire/hostwire/pkg/errdefs"
	"github.com/hostwire/hostwire/pkg/transports/ssh"
)

// DefaultAgentPath is the agent binary started when AgentOptions.Path is empty.
const DefaultAgentPath = "hostwire-agent"

// AgentOptions says how to start the agent over SSH.
type AgentOptions struct {
	// Path is the agent binary on the remote machine.
	Path string
	// Upload, if set, is a local agent binary copied to Path before start.
	Upload string
}

// ConnectSSH starts a hostwire agent in stdio mode over t and speaks the
// agent protocol through the session. The Remote owns t: closing it ends
// the session and the SSH connection.
func ConnectSSH(ctx context.Context, name string, t ssh.Transport, agent AgentOptions, opts ...Option) (*Remote, error) {
	if agent.Path == "" {
		agent.Path = DefaultAgentPath
	}

	if err := t.Connect(ctx); err != nil {
		return nil, err
	}

	if agent.Upload != "" {
		if err := t.Upload(ctx, agent.Upload, agent.Path, 0o755); err != nil {
			_ = t.Disconnect()
			return nil, fmt.Errorf("failed to upload agent to %s: %w", name, err)
		}
	}

	res, err := t.Run(ctx, agent.Path+" --version")
	if err != nil {
		_ = t.Disconnect()
		return nil, errdefs.Transport("failed to check agent on "+name, err)
	}
	if res.ExitCode != 0 {
		_ = t.Disconnect()
		return nil, errdefs.Configuration(fmt.Sprintf("agent %s cannot run on %s (exit %d): %s",
			agent.Path, name, res.ExitCode, strings.TrimSpace(res.Stderr)), nil)
	}

	session, err := t.StartSession(ctx, agent.Path+" --stdio")
	if err != nil {
		_ = t.Disconnect()
		return nil, errdefs.Transport("failed to start agent on "+name, err)
	}

	log.Debug().Str("host", name).Str("agent", agent.Path).Str("version", strings.TrimSpace(res.Stdout)).Msg("agent session started")
	return NewRemote(ctx, &sshConn{ReadWriteCloser: session, t: t}, name, opts...)
}

// sshConn closes the SSH connection along with the agent session.
type sshConn struct {
	io.ReadWriteCloser
	t ssh.Transport
}

func (c *sshConn) Close() error {
	err := c.ReadWriteCloser.Close()
	if derr := c.t.Disconnect(); err == nil {
		err = derr
	}
	return err
}
