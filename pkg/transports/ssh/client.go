package ssh

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"

	"github.com/hostwire/hostwire/pkg/errdefs"
)

// SSHClient implements Transport over golang.org/x/crypto/ssh.
type SSHClient struct {
	config *Config

	connMu      sync.RWMutex
	client      *ssh.Client
	connectedAt time.Time
}

var _ Transport = (*SSHClient)(nil)

// NewSSHClient creates a new SSH transport client.
func NewSSHClient(config *Config) (*SSHClient, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &SSHClient{config: config}, nil
}

// Connect establishes an SSH connection to the remote host.
func (c *SSHClient) Connect(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.client != nil {
		return nil
	}

	clientConfig, err := c.config.BuildSSHClientConfig()
	if err != nil {
		return errdefs.Configuration("failed to build ssh client config", err)
	}

	address := c.config.Address()
	log.Debug().Str("address", address).Msg("establishing SSH connection")

	dialer := net.Dialer{Timeout: c.config.ConnectionTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return errdefs.Transport("failed to connect to "+address, err)
	}

	// The handshake has no context; bound it with the connection deadline.
	_ = conn.SetDeadline(time.Now().Add(c.config.ConnectionTimeout))
	ncc, chans, reqs, err := ssh.NewClientConn(conn, address, clientConfig)
	if err != nil {
		_ = conn.Close()
		return errdefs.Transport("ssh handshake with "+address+" failed", err)
	}
	_ = conn.SetDeadline(time.Time{})

	c.client = ssh.NewClient(ncc, chans, reqs)
	c.connectedAt = time.Now()

	if c.config.KeepAliveInterval > 0 {
		go c.keepAlive(c.client)
	}

	log.Info().Str("address", address).Msg("SSH connection established")
	return nil
}

// Disconnect closes the SSH connection and releases all resources.
func (c *SSHClient) Disconnect() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.client == nil {
		return nil
	}

	log.Debug().Str("host", c.config.Host).Msg("closing SSH connection")
	err := c.client.Close()
	c.client = nil
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return errdefs.Transport("failed to close ssh connection", err)
	}
	return nil
}

// IsConnected returns true if the transport has an active connection.
func (c *SSHClient) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.client != nil
}

// Run executes cmd and waits for it. A non-zero exit is reported in the
// result, not as an error.
func (c *SSHClient) Run(ctx context.Context, cmd string) (*ExecResult, error) {
	session, err := c.newSession()
	if err != nil {
		return nil, err
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	start := time.Now()
	done := make(chan error, 1)
	go func() {
		done <- session.Run(cmd)
	}()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		_ = session.Close()
		return nil, errdefs.Transport("remote command cancelled", ctx.Err())
	case err = <-done:
	}

	result := &ExecResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	var exitErr *ssh.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		result.ExitCode = exitErr.ExitStatus()
	default:
		return nil, errdefs.Transport("remote command failed", err)
	}

	log.Debug().Str("cmd", cmd).Int("exit_code", result.ExitCode).Dur("duration", result.Duration).Msg("remote command finished")
	return result, nil
}

// StartSession starts cmd with its stdin and stdout wired to the returned
// stream. Stderr lines are logged at debug level.
func (c *SSHClient) StartSession(ctx context.Context, cmd string) (io.ReadWriteCloser, error) {
	session, err := c.newSession()
	if err != nil {
		return nil, err
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		return nil, errdefs.Transport("failed to create stdin pipe", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		return nil, errdefs.Transport("failed to create stdout pipe", err)
	}
	stderr, err := session.StderrPipe()
	if err != nil {
		session.Close()
		return nil, errdefs.Transport("failed to create stderr pipe", err)
	}

	if err := session.Start(cmd); err != nil {
		session.Close()
		return nil, errdefs.Transport("failed to start "+cmd, err)
	}

	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			log.Debug().Str("host", c.config.Host).Str("stderr", scanner.Text()).Msg("remote session output")
		}
	}()

	log.Debug().Str("host", c.config.Host).Str("cmd", cmd).Msg("session started")
	return &sessionConn{session: session, stdin: stdin, stdout: stdout}, nil
}

func (c *SSHClient) newSession() (*ssh.Session, error) {
	c.connMu.RLock()
	client := c.client
	c.connMu.RUnlock()

	if client == nil {
		return nil, errdefs.Transport("ssh client is not connected", nil)
	}
	session, err := client.NewSession()
	if err != nil {
		return nil, errdefs.Transport("failed to create session", err)
	}
	return session, nil
}

// keepAlive sends periodic keep-alive requests until one fails too often
// or the client is closed.
func (c *SSHClient) keepAlive(client *ssh.Client) {
	ticker := time.NewTicker(c.config.KeepAliveInterval)
	defer ticker.Stop()

	retries := 0
	for range ticker.C {
		c.connMu.RLock()
		current := c.client
		c.connMu.RUnlock()
		if current != client {
			return
		}

		if _, _, err := client.SendRequest("keepalive@openssh.com", true, nil); err != nil {
			retries++
			log.Warn().Err(err).Int("retries", retries).Msg("keep-alive failed")
			if retries >= c.config.MaxKeepAliveRetries {
				log.Error().Msg("keep-alive failed too many times, connection may be dead")
				return
			}
		} else {
			retries = 0
		}
	}
}

// sessionConn joins a session's stdin and stdout.
type sessionConn struct {
	session *ssh.Session
	stdin   io.WriteCloser
	stdout  io.Reader
	once    sync.Once
}

func (s *sessionConn) Read(p []byte) (int, error) {
	return s.stdout.Read(p)
}

func (s *sessionConn) Write(p []byte) (int, error) {
	return s.stdin.Write(p)
}

// Close closes stdin, which ends an agent in --stdio mode, and the session.
func (s *sessionConn) Close() error {
	var err error
	s.once.Do(func() {
		_ = s.stdin.Close()
		err = s.session.Close()
		if errors.Is(err, io.EOF) {
			err = nil
		}
	})
	if err != nil {
		return fmt.Errorf("failed to close session: %w", err)
	}
	return nil
}
