package host

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/hostwire/hostwire/pkg/errdefs"
	"github.com/hostwire/hostwire/pkg/runnable"
)

// Resolve walks names in priority order and returns the first provider
// whose availability probe answers true on h. Availability is checked
// where the runnables will execute, so a Remote host is probed over the
// wire.
func Resolve(ctx context.Context, h Host, endpoint string, names []string, probe func(provider string) runnable.Runnable) (string, error) {
	for _, name := range names {
		ok, err := Run[bool](ctx, h, probe(name))
		if err != nil {
			return "", fmt.Errorf("failed to check %s availability on %s: %w", name, h.Name(), err)
		}
		if ok {
			log.Debug().Str("host", h.Name()).Str("endpoint", endpoint).Str("provider", name).Msg("provider resolved")
			return name, nil
		}
	}
	return "", errdefs.ProviderUnavailable(endpoint)
}
