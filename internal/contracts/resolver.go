// Package contracts resolves canonical roots to concrete, currently
// tradable futures contracts and owns the rollover decision.
package contracts

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/botelyes/futroll/internal/broker"
	"github.com/botelyes/futroll/internal/catalog"
)

// ErrContractNotFound is returned when no tradable futures contract is
// listed for a root. Callers must not attempt any order action.
var ErrContractNotFound = errors.New("no tradable contract found")

// Selection is the outcome of contract resolution for one root at one
// point in time. It is derived fresh on each decision cycle and never
// cached.
type Selection struct {
	// Current is the front contract (earliest acceptable expiry).
	Current broker.Instrument
	// Next is the contract after Current, if listed.
	Next *broker.Instrument
	// Entry is the contract new entries should target per policy.
	Entry broker.Instrument
	// DaysToExpiry counts days from asOf to Current's expiry.
	DaysToExpiry int
	// RollDue reports that an open position in Current must be rolled.
	RollDue bool
}

// Resolver selects active contracts from the instrument catalog.
// It is stateless except for the lot-size cache the catalog owns.
type Resolver struct {
	catalog *catalog.Catalog
	policy  RolloverPolicy
}

// NewResolver creates a contract resolver with the given rollover policy.
func NewResolver(cat *catalog.Catalog, policy RolloverPolicy) *Resolver {
	return &Resolver{catalog: cat, policy: policy}
}

// Policy returns the configured rollover policy.
func (r *Resolver) Policy() RolloverPolicy { return r.policy }

// ActiveContract resolves the tradable contract chain for a root as of
// the given date. Listing, sorting, and policy application are pure with
// respect to the catalog contents and asOf.
func (r *Resolver) ActiveContract(ctx context.Context, market broker.Market, root string, asOf time.Time) (*Selection, error) {
	instruments, err := r.catalog.Instruments(ctx, market)
	if err != nil {
		return nil, fmt.Errorf("listing %s instruments: %w", market, err)
	}

	chain := futuresChain(instruments, root)
	if len(chain) == 0 {
		return nil, fmt.Errorf("%w: root %s on %s", ErrContractNotFound, root, market)
	}

	// Drop already-expired contracts, but fall back to the full chain if
	// that empties the set (catalog containing only expired entries).
	cutoff := asOf.UTC().Truncate(24 * time.Hour)
	live := make([]broker.Instrument, 0, len(chain))
	for _, inst := range chain {
		if !inst.Expiry.UTC().Truncate(24 * time.Hour).Before(cutoff) {
			live = append(live, inst)
		}
	}
	if len(live) == 0 {
		live = chain
	}

	sel := &Selection{
		Current:      live[0],
		Entry:        r.policy.EntryContract(live, asOf),
		DaysToExpiry: DaysToExpiry(live[0], asOf),
	}
	if len(live) > 1 {
		next := live[1]
		sel.Next = &next
	}
	sel.RollDue = r.policy.RollDue(sel.Current, sel.Next, asOf)
	return sel, nil
}

// futuresChain filters the listing down to parseable futures for the
// root and sorts it ascending by expiry.
func futuresChain(instruments []broker.Instrument, root string) []broker.Instrument {
	var chain []broker.Instrument
	for _, inst := range instruments {
		if !strings.HasPrefix(inst.Symbol, root) {
			continue
		}
		if !inst.IsFuture() || inst.Expiry.IsZero() {
			continue
		}
		chain = append(chain, inst)
	}
	sort.Slice(chain, func(i, j int) bool {
		return chain[i].Expiry.Before(chain[j].Expiry)
	})
	return chain
}
