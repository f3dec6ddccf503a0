package command_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hostwire/hostwire/pkg/command"
	"github.com/hostwire/hostwire/pkg/host"
	"github.com/hostwire/hostwire/pkg/stream"
	"github.com/hostwire/hostwire/pkg/system/systemtest"
)

func TestExec(t *testing.T) {
	env := systemtest.Fedora().
		SetOutput("/bin/sh -c whoami", "root\n", 0).
		SetOutput("/bin/bash -c false", "", 1)
	h, err := host.NewLocal(context.Background(), host.WithEnv(env))
	require.NoError(t, err)
	ctx := context.Background()

	res, err := command.New(h, "whoami").Exec(ctx)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "root\n", res.Stdout)

	res, err = command.New(h, "false", command.WithShell("/bin/bash")).Exec(ctx)
	require.NoError(t, err, "a non-zero exit is not an error")
	assert.False(t, res.Success)
	assert.Equal(t, 1, res.Code())
}

func TestExecIsNotIdempotent(t *testing.T) {
	env := systemtest.Fedora().SetOutput("/bin/sh -c date", "today\n", 0)
	h, err := host.NewLocal(context.Background(), host.WithEnv(env))
	require.NoError(t, err)

	cmd := command.New(h, "date")
	for i := 0; i < 2; i++ {
		_, err := cmd.Exec(context.Background())
		require.NoError(t, err)
	}

	n := 0
	for _, c := range env.Calls() {
		if c == "/bin/sh -c date" {
			n++
		}
	}
	assert.Equal(t, 2, n)
}

func TestStream(t *testing.T) {
	env := systemtest.Fedora().SetOutput("/bin/sh -c ls", "a\nb\n", 0)
	h, err := host.NewLocal(context.Background(), host.WithEnv(env))
	require.NoError(t, err)
	ctx := context.Background()

	s, err := command.New(h, "ls").Stream(ctx)
	require.NoError(t, err)

	var kinds []stream.FrameKind
	for {
		f, err := s.Next(ctx)
		require.NoError(t, err)
		kinds = append(kinds, f.Kind)
		if f.Kind == stream.FrameStatus {
			break
		}
	}
	assert.Equal(t, []stream.FrameKind{stream.FrameStdout, stream.FrameStdout, stream.FrameStatus}, kinds)
}

func TestWithProvider(t *testing.T) {
	env := systemtest.Fedora().SetOutput("uptime", "up 3 days\n", 0)
	h, err := host.NewLocal(context.Background(), host.WithEnv(env))
	require.NoError(t, err)

	res, err := command.New(h, "uptime", command.WithProvider("Generic")).Exec(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "up 3 days\n", res.Stdout)
}
