// Package backends maps logical backend identifiers to fallback chains and
// runs calls through those chains when backends go down.
//
// Chains are derived from pricing at construction time: a backend's
// fallbacks are the other backends nearest to it in output-token price,
// on the theory that similar price means similar capability tier. The
// chains never change after construction; mid-run pricing updates cannot
// reshuffle who falls back to whom.
package backends

import (
	"math"
	"sort"

	"github.com/troupehq/troupe/internal/pricing"
)

// DefaultChainLength is how many fallbacks each backend gets when the
// caller does not say otherwise.
const DefaultChainLength = 5

// Resolver holds the precomputed fallback chain for every known backend.
type Resolver struct {
	chains map[string][]string
}

// NewResolver builds fallback chains from the pricing table. For each
// backend the other backends are ranked by absolute difference in output
// price, ties broken by identifier, and the nearest k become its chain.
// k <= 0 selects DefaultChainLength.
func NewResolver(table *pricing.Table, k int) *Resolver {
	if k <= 0 {
		k = DefaultChainLength
	}
	ids := table.Backends()
	chains := make(map[string][]string, len(ids))
	for _, id := range ids {
		own := table.PriceFor(id).Output
		others := make([]string, 0, len(ids)-1)
		for _, other := range ids {
			if other != id {
				others = append(others, other)
			}
		}
		sort.Slice(others, func(i, j int) bool {
			di := math.Abs(table.PriceFor(others[i]).Output - own)
			dj := math.Abs(table.PriceFor(others[j]).Output - own)
			if di != dj {
				return di < dj
			}
			return others[i] < others[j]
		})
		if len(others) > k {
			others = others[:k]
		}
		chain := make([]string, 0, len(others)+1)
		chain = append(chain, id)
		chain = append(chain, others...)
		chains[id] = chain
	}
	return &Resolver{chains: chains}
}

// Resolve returns the full try-order for a primary backend: the primary
// itself followed by its fallbacks. An unknown primary gets a chain of
// just itself; the caller still attempts it and surfaces the backend's
// own error rather than guessing at substitutes.
func (r *Resolver) Resolve(primary string) []string {
	chain, ok := r.chains[primary]
	if !ok {
		return []string{primary}
	}
	out := make([]string, len(chain))
	copy(out, chain)
	return out
}

// Known reports whether the resolver has a chain for the backend.
func (r *Resolver) Known(backend string) bool {
	_, ok := r.chains[backend]
	return ok
}
