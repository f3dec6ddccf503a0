package packages_test

import (
	"context"
	"net"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hostwire/hostwire/pkg/agent"
	"github.com/hostwire/hostwire/pkg/errdefs"
	"github.com/hostwire/hostwire/pkg/host"
	"github.com/hostwire/hostwire/pkg/packages"
	"github.com/hostwire/hostwire/pkg/runnable"
	"github.com/hostwire/hostwire/pkg/system"
	"github.com/hostwire/hostwire/pkg/system/systemtest"
)

// aptEnv scripts apt-get and dpkg-query around a flag holding whether
// nginx is installed.
func aptEnv(installed *atomic.Bool) *systemtest.Env {
	return systemtest.Fedora().
		SetBinary("apt-get").
		Handle("dpkg-query -W -f=${Status} nginx", func() *system.Output {
			if installed.Load() {
				return &system.Output{Stdout: "install ok installed"}
			}
			return &system.Output{ExitCode: 1}
		}).
		Handle("apt-get -y install nginx", func() *system.Output {
			installed.Store(true)
			return &system.Output{Stdout: "Setting up nginx\n"}
		}).
		Handle("apt-get -y remove nginx", func() *system.Output {
			installed.Store(false)
			return &system.Output{Stdout: "Removing nginx\n"}
		})
}

func hosts(t *testing.T, env *systemtest.Env) map[string]host.Host {
	t.Helper()

	local, err := host.NewLocal(context.Background(), host.WithEnv(env))
	require.NoError(t, err)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	go agent.NewServer(runnable.NewExecutor(env), nil).Serve(ctx, l)
	t.Cleanup(cancel)

	remote, err := host.Connect(context.Background(), l.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { remote.Close() })

	return map[string]host.Host{"local": local, "remote": remote}
}

func TestInstallIdempotence(t *testing.T) {
	var installed atomic.Bool
	env := aptEnv(&installed)

	for name, h := range hosts(t, env) {
		t.Run(name, func(t *testing.T) {
			installed.Store(false)
			ctx := context.Background()

			p, err := packages.New(ctx, h, "nginx", "")
			require.NoError(t, err)
			assert.Equal(t, "Apt", p.Provider())
			assert.False(t, p.Installed())

			s, err := p.Install(ctx)
			require.NoError(t, err)
			require.NotNil(t, s)
			res, err := s.Collect(ctx)
			require.NoError(t, err)
			assert.True(t, res.Success)
			assert.Equal(t, "Setting up nginx\n", res.Stdout)
			assert.True(t, p.Installed())

			s, err = p.Install(ctx)
			require.NoError(t, err)
			assert.Nil(t, s)

			s, err = p.Uninstall(ctx)
			require.NoError(t, err)
			require.NotNil(t, s)
			_, err = s.Wait(ctx)
			require.NoError(t, err)
			assert.False(t, p.Installed())

			s, err = p.Uninstall(ctx)
			require.NoError(t, err)
			assert.Nil(t, s)
		})
	}
}

func TestFailedInstallKeepsState(t *testing.T) {
	env := systemtest.Fedora().
		SetBinary("apt-get").
		SetOutput("dpkg-query -W -f=${Status} nginx", "", 1).
		SetOutput("apt-get -y install nginx", "E: Unable to locate package\n", 100)

	h, err := host.NewLocal(context.Background(), host.WithEnv(env))
	require.NoError(t, err)

	p, err := packages.New(context.Background(), h, "nginx", "Apt")
	require.NoError(t, err)

	s, err := p.Install(context.Background())
	require.NoError(t, err)
	res, err := s.Collect(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, 100, res.Code())
	assert.False(t, p.Installed())
}

func TestNewErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("no provider available", func(t *testing.T) {
		h, err := host.NewLocal(ctx, host.WithEnv(systemtest.Fedora()))
		require.NoError(t, err)

		_, err = packages.New(ctx, h, "nginx", "")
		assert.True(t, errdefs.IsProviderUnavailable(err), "got %v", err)
	})

	t.Run("unknown provider", func(t *testing.T) {
		h, err := host.NewLocal(ctx, host.WithEnv(systemtest.Fedora()))
		require.NoError(t, err)

		_, err = packages.New(ctx, h, "nginx", "Zypper")
		assert.True(t, errdefs.IsConfiguration(err), "got %v", err)
	})

	t.Run("priority order", func(t *testing.T) {
		env := systemtest.Fedora().
			SetBinary("dnf", "yum").
			SetOutput("rpm -q nginx", "nginx-1.24\n", 0)
		h, err := host.NewLocal(ctx, host.WithEnv(env))
		require.NoError(t, err)

		p, err := packages.New(ctx, h, "nginx", "")
		require.NoError(t, err)
		assert.Equal(t, "Dnf", p.Provider())
		assert.True(t, p.Installed())
	})
}
