package activities

import (
	"context"

	"github.com/troupehq/troupe/internal/config"
)

// GetRunTunables returns the operator defaults applied to run inputs that
// leave a knob unset. Workflows resolve this once at run start, so a config
// reload changes new runs only.
func (a *Activities) GetRunTunables(ctx context.Context) (config.Tunables, error) { // nolint:revive
	if a.tunables == nil {
		return config.Tunables{}, nil
	}
	return a.tunables(), nil
}
