// Package services manages one service on a host.
package services

import (
	"context"
	"fmt"

	"github.com/hostwire/hostwire/pkg/host"
	"github.com/hostwire/hostwire/pkg/providers/svcmgr"
	"github.com/hostwire/hostwire/pkg/runnable"
	"github.com/hostwire/hostwire/pkg/stream"
)

// Service is a named service bound to a host. The provider is resolved on
// first use. A Service is not safe for concurrent use.
type Service struct {
	host     host.Host
	name     string
	provider string
}

// New binds name to h. An empty provider picks the first available one on
// first use.
func New(h host.Host, name, provider string) *Service {
	return &Service{host: h, name: name, provider: provider}
}

// Name returns the service name.
func (s *Service) Name() string {
	return s.name
}

// Provider resolves and returns the provider name.
func (s *Service) Provider(ctx context.Context) (string, error) {
	if s.provider != "" {
		if _, err := svcmgr.ByName(s.provider); err != nil {
			return "", err
		}
		return s.provider, nil
	}

	provider, err := host.Resolve(ctx, s.host, svcmgr.Endpoint, svcmgr.Names(), runnable.ServiceAvailable)
	if err != nil {
		return "", err
	}
	s.provider = provider
	return provider, nil
}

// Running reports whether the service is running.
func (s *Service) Running(ctx context.Context) (bool, error) {
	return s.query(ctx, runnable.ServiceRunning)
}

// Enabled reports whether the service starts at boot.
func (s *Service) Enabled(ctx context.Context) (bool, error) {
	return s.query(ctx, runnable.ServiceEnabled)
}

func (s *Service) query(ctx context.Context, build func(provider, name string) runnable.Runnable) (bool, error) {
	provider, err := s.Provider(ctx)
	if err != nil {
		return false, err
	}
	return host.Run[bool](ctx, s.host, build(provider, s.name))
}

// Action runs action on the service. start and stop return a nil stream
// when the service is already in the target state; other actions always
// run.
func (s *Service) Action(ctx context.Context, action string) (*stream.Stream, error) {
	provider, err := s.Provider(ctx)
	if err != nil {
		return nil, err
	}

	if action == svcmgr.ActionStart || action == svcmgr.ActionStop {
		running, err := s.Running(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to check %s state: %w", s.name, err)
		}
		if running == (action == svcmgr.ActionStart) {
			return nil, nil
		}
	}

	return s.host.Stream(ctx, runnable.ServiceAction(provider, s.name, action))
}

// Start is Action(ctx, "start").
func (s *Service) Start(ctx context.Context) (*stream.Stream, error) {
	return s.Action(ctx, svcmgr.ActionStart)
}

// Stop is Action(ctx, "stop").
func (s *Service) Stop(ctx context.Context) (*stream.Stream, error) {
	return s.Action(ctx, svcmgr.ActionStop)
}

// Enable makes the service start at boot. It reports whether anything
// changed.
func (s *Service) Enable(ctx context.Context) (bool, error) {
	return s.setEnabled(ctx, true, runnable.ServiceEnable)
}

// Disable stops the service starting at boot. It reports whether anything
// changed.
func (s *Service) Disable(ctx context.Context) (bool, error) {
	return s.setEnabled(ctx, false, runnable.ServiceDisable)
}

func (s *Service) setEnabled(ctx context.Context, want bool, build func(provider, name string) runnable.Runnable) (bool, error) {
	enabled, err := s.Enabled(ctx)
	if err != nil {
		return false, err
	}
	if enabled == want {
		return false, nil
	}
	if _, err := s.host.Call(ctx, build(s.provider, s.name)); err != nil {
		return false, err
	}
	return true, nil
}
