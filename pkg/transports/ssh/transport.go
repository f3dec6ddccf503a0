// Package ssh provides the SSH transport used to bootstrap hostwire agents
// on machines that only expose sshd.
package ssh

import (
	"context"
	"io"
	"time"
)

// Transport is what agent bootstrap needs from an SSH connection.
type Transport interface {
	// Connect establishes the SSH connection.
	Connect(ctx context.Context) error

	// Disconnect closes the connection and every session on it.
	Disconnect() error

	// Run executes cmd and waits for it.
	Run(ctx context.Context, cmd string) (*ExecResult, error)

	// StartSession starts cmd and returns its stdin and stdout joined
	// into one stream. Closing the stream ends the session.
	StartSession(ctx context.Context, cmd string) (io.ReadWriteCloser, error)

	// Upload copies a local file to remotePath via SFTP.
	Upload(ctx context.Context, localPath, remotePath string, mode uint32) error
}

// ExecResult is the outcome of Run.
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}
