package ssh

import (
	"bufio"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/hostwire/hostwire/pkg/errdefs"
)

// testSSHServer provides a minimal SSH server for testing.
type testSSHServer struct {
	listener net.Listener
	config   *ssh.ServerConfig
	addr     string
	done     chan struct{}
}

// newTestSSHServer creates a new test SSH server.
func newTestSSHServer(t *testing.T) *testSSHServer {
	t.Helper()

	_, privateKey, err := generateTestKey()
	if err != nil {
		t.Fatalf("failed to generate test key: %v", err)
	}

	config := &ssh.ServerConfig{
		PasswordCallback: func(c ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if c.User() == "testuser" && string(pass) == "testpass" {
				return nil, nil
			}
			return nil, fmt.Errorf("invalid credentials")
		},
		PublicKeyCallback: func(c ssh.ConnMetadata, pubKey ssh.PublicKey) (*ssh.Permissions, error) {
			return nil, nil
		},
	}
	config.AddHostKey(privateKey)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}

	server := &testSSHServer{
		listener: listener,
		config:   config,
		addr:     listener.Addr().String(),
		done:     make(chan struct{}),
	}
	go server.serve()
	t.Cleanup(server.close)

	return server
}

func (s *testSSHServer) serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				continue
			}
		}
		go s.handleConnection(conn)
	}
}

func (s *testSSHServer) handleConnection(netConn net.Conn) {
	defer netConn.Close()

	sshConn, chans, reqs, err := ssh.NewServerConn(netConn, s.config)
	if err != nil {
		return
	}
	defer sshConn.Close()

	go ssh.DiscardRequests(reqs)

	for newChannel := range chans {
		if newChannel.ChannelType() != "session" {
			newChannel.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}

		channel, requests, err := newChannel.Accept()
		if err != nil {
			continue
		}
		go s.handleChannel(channel, requests)
	}
}

func exitStatus(channel ssh.Channel, code byte) {
	channel.SendRequest("exit-status", false, []byte{0, 0, 0, code})
}

func (s *testSSHServer) handleChannel(channel ssh.Channel, requests <-chan *ssh.Request) {
	defer channel.Close()

	for req := range requests {
		switch req.Type {
		case "exec":
			command := string(req.Payload[4:])
			if req.WantReply {
				req.Reply(true, nil)
			}

			switch command {
			case "true":
				exitStatus(channel, 0)
			case "echo test":
				channel.Write([]byte("test\n"))
				exitStatus(channel, 0)
			case "echo error >&2":
				channel.Stderr().Write([]byte("error\n"))
				exitStatus(channel, 0)
			case "exit 1":
				exitStatus(channel, 1)
			case "cat":
				// Echo stdin until the client closes it.
				io.Copy(channel, channel)
				exitStatus(channel, 0)
			case "hang":
				io.Copy(io.Discard, channel)
			default:
				channel.Write([]byte("command: " + command + "\n"))
				exitStatus(channel, 0)
			}
			return

		case "subsystem":
			if string(req.Payload[4:]) != "sftp" {
				req.Reply(false, nil)
				continue
			}
			req.Reply(true, nil)
			server, err := sftp.NewServer(channel)
			if err != nil {
				return
			}
			server.Serve()
			return

		default:
			if req.WantReply {
				req.Reply(false, nil)
			}
		}
	}
}

func (s *testSSHServer) close() {
	close(s.done)
	s.listener.Close()
}

// generateTestKey generates a test SSH key pair.
func generateTestKey() (ssh.PublicKey, ssh.Signer, error) {
	pubKey, privKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, err
	}

	signer, err := ssh.NewSignerFromKey(privKey)
	if err != nil {
		return nil, nil, err
	}

	publicKey, err := ssh.NewPublicKey(pubKey)
	if err != nil {
		return nil, nil, err
	}

	return publicKey, signer, nil
}

// connectedClient returns a client logged in to server with a password.
func connectedClient(t *testing.T, server *testSSHServer) *SSHClient {
	t.Helper()

	host, port := parseAddress(server.addr)
	config := DefaultConfig(host, "testuser")
	config.Port = port
	config.AuthMethod = AuthMethodPassword
	config.Password = "testpass"
	config.StrictHostKeyChecking = false
	config.ConnectionTimeout = 5 * time.Second

	client, err := NewSSHClient(config)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	t.Cleanup(func() { client.Disconnect() })
	return client
}

func TestSSHClientConnect(t *testing.T) {
	server := newTestSSHServer(t)
	client := connectedClient(t, server)

	if !client.IsConnected() {
		t.Error("expected client to be connected")
	}

	// A second Connect is a no-op.
	if err := client.Connect(context.Background()); err != nil {
		t.Errorf("reconnect failed: %v", err)
	}
}

func TestSSHClientConnectFailures(t *testing.T) {
	server := newTestSSHServer(t)
	host, port := parseAddress(server.addr)

	t.Run("wrong password", func(t *testing.T) {
		config := DefaultConfig(host, "testuser")
		config.Port = port
		config.AuthMethod = AuthMethodPassword
		config.Password = "wrong"
		config.StrictHostKeyChecking = false

		client, err := NewSSHClient(config)
		if err != nil {
			t.Fatalf("failed to create client: %v", err)
		}
		err = client.Connect(context.Background())
		if !errdefs.IsTransport(err) {
			t.Errorf("expected transport error, got %v", err)
		}
		if client.IsConnected() {
			t.Error("expected client to stay disconnected")
		}
	})

	t.Run("nothing listening", func(t *testing.T) {
		l, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			t.Fatalf("failed to listen: %v", err)
		}
		_, closedPort := parseAddress(l.Addr().String())
		l.Close()

		config := DefaultConfig("127.0.0.1", "testuser")
		config.Port = closedPort
		config.AuthMethod = AuthMethodPassword
		config.Password = "testpass"
		config.StrictHostKeyChecking = false

		client, err := NewSSHClient(config)
		if err != nil {
			t.Fatalf("failed to create client: %v", err)
		}
		if err := client.Connect(context.Background()); !errdefs.IsTransport(err) {
			t.Errorf("expected transport error, got %v", err)
		}
	})
}

func TestSSHClientDisconnect(t *testing.T) {
	server := newTestSSHServer(t)
	client := connectedClient(t, server)

	if err := client.Disconnect(); err != nil {
		t.Errorf("disconnect failed: %v", err)
	}
	if client.IsConnected() {
		t.Error("expected client to be disconnected")
	}

	_, err := client.Run(context.Background(), "true")
	if !errdefs.IsTransport(err) {
		t.Errorf("expected transport error after disconnect, got %v", err)
	}
}

func TestSSHClientRun(t *testing.T) {
	server := newTestSSHServer(t)
	client := connectedClient(t, server)
	ctx := context.Background()

	tests := []struct {
		name     string
		cmd      string
		stdout   string
		stderr   string
		exitCode int
	}{
		{name: "successful command", cmd: "echo test", stdout: "test\n"},
		{name: "command with stderr", cmd: "echo error >&2", stderr: "error\n"},
		{name: "non-zero exit", cmd: "exit 1", exitCode: 1},
		{name: "no output", cmd: "true"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := client.Run(ctx, tt.cmd)
			if err != nil {
				t.Fatalf("command failed: %v", err)
			}
			if result.Stdout != tt.stdout {
				t.Errorf("expected stdout %q, got %q", tt.stdout, result.Stdout)
			}
			if result.Stderr != tt.stderr {
				t.Errorf("expected stderr %q, got %q", tt.stderr, result.Stderr)
			}
			if result.ExitCode != tt.exitCode {
				t.Errorf("expected exit code %d, got %d", tt.exitCode, result.ExitCode)
			}
		})
	}
}

func TestSSHClientRunCancelled(t *testing.T) {
	server := newTestSSHServer(t)
	client := connectedClient(t, server)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.Run(ctx, "hang")
	if !errdefs.IsTransport(err) {
		t.Errorf("expected transport error, got %v", err)
	}
}

func TestSSHClientStartSession(t *testing.T) {
	server := newTestSSHServer(t)
	client := connectedClient(t, server)

	conn, err := client.StartSession(context.Background(), "cat")
	if err != nil {
		t.Fatalf("failed to start session: %v", err)
	}

	if _, err := conn.Write([]byte("hello\n")); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if line != "hello\n" {
		t.Errorf("expected echo %q, got %q", "hello\n", line)
	}

	if err := conn.Close(); err != nil {
		t.Errorf("close failed: %v", err)
	}
	// Closing twice is harmless.
	if err := conn.Close(); err != nil {
		t.Errorf("second close failed: %v", err)
	}
}

func TestSSHClientUpload(t *testing.T) {
	server := newTestSSHServer(t)
	client := connectedClient(t, server)

	tmpDir := t.TempDir()
	localPath := filepath.Join(tmpDir, "agent")
	if err := os.WriteFile(localPath, []byte("#!/bin/sh\necho agent\n"), 0600); err != nil {
		t.Fatalf("failed to write local file: %v", err)
	}

	remotePath := filepath.Join(tmpDir, "remote", "bin", "hostwire-agent")
	if err := client.Upload(context.Background(), localPath, remotePath, 0755); err != nil {
		t.Fatalf("upload failed: %v", err)
	}

	data, err := os.ReadFile(remotePath)
	if err != nil {
		t.Fatalf("uploaded file missing: %v", err)
	}
	if string(data) != "#!/bin/sh\necho agent\n" {
		t.Errorf("unexpected content %q", data)
	}

	info, err := os.Stat(remotePath)
	if err != nil {
		t.Fatalf("stat failed: %v", err)
	}
	if info.Mode().Perm() != 0755 {
		t.Errorf("expected mode 0755, got %v", info.Mode().Perm())
	}
	if _, err := os.Stat(remotePath + ".upload"); !os.IsNotExist(err) {
		t.Errorf("expected temporary file to be gone, got %v", err)
	}

	t.Run("missing local file", func(t *testing.T) {
		err := client.Upload(context.Background(), filepath.Join(tmpDir, "nope"), remotePath, 0755)
		if !errdefs.IsConfiguration(err) {
			t.Errorf("expected configuration error, got %v", err)
		}
	})
}

func TestSSHClientKeyBasedAuth(t *testing.T) {
	server := newTestSSHServer(t)
	host, port := parseAddress(server.addr)

	tmpDir := t.TempDir()
	keyPath := filepath.Join(tmpDir, "test_key")

	_, privKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	pemBlock, err := ssh.MarshalPrivateKey(privKey, "")
	if err != nil {
		t.Fatalf("failed to marshal key: %v", err)
	}
	if err := os.WriteFile(keyPath, pem.EncodeToMemory(pemBlock), 0600); err != nil {
		t.Fatalf("failed to write key: %v", err)
	}

	config := DefaultConfig(host, "testuser")
	config.Port = port
	config.AuthMethod = AuthMethodKey
	config.PrivateKeyPath = keyPath
	config.StrictHostKeyChecking = false

	client, err := NewSSHClient(config)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("failed to connect with key auth: %v", err)
	}
	defer client.Disconnect()

	if !client.IsConnected() {
		t.Error("expected client to be connected")
	}
}

// parseAddress splits an address into host and port.
func parseAddress(addr string) (string, int) {
	host, portStr, _ := net.SplitHostPort(addr)
	port := 0
	fmt.Sscanf(portStr, "%d", &port)
	return host, port
}
