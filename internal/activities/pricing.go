package activities

import (
	"context"

	"github.com/troupehq/troupe/internal/pricing"
)

// GetPricingSnapshot captures the current backend price catalog. Workflows
// call this once at start so replays reuse the prices the run began with
// even if the catalog is edited mid-run.
func (a *Activities) GetPricingSnapshot(ctx context.Context) (pricing.Snapshot, error) { // nolint:revive
	return a.pricing.Snapshot(), nil
}
