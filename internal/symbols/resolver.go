// Package symbols normalizes raw webhook symbol aliases into canonical
// instrument roots and classifies their market segment.
package symbols

import (
	"errors"
	"fmt"
	"strings"

	"github.com/botelyes/futroll/internal/broker"
)

// ErrUnknownSymbol is returned for aliases that cannot be mapped to a
// supported root in commodity-only deployments, or that are empty after
// cleaning.
var ErrUnknownSymbol = errors.New("unknown symbol alias")

// aliases maps raw alias spellings to canonical roots. Many-to-one:
// charting platforms emit several spellings for the same underlying.
var aliases = map[string]string{
	"NATGAS":       "NATGASMINI",
	"NATURALGAS":   "NATGASMINI",
	"NATGASMINI":   "NATGASMINI",
	"CRUDE":        "CRUDEOILM",
	"CRUDEOIL":     "CRUDEOILM",
	"CRUDEOILM":    "CRUDEOILM",
	"GOLD":         "GOLDM",
	"GOLDM":        "GOLDM",
	"GOLDMINI":     "GOLDM",
	"SILVER":       "SILVERM",
	"SILVERM":      "SILVERM",
	"SILVERMINI":   "SILVERM",
	"COPPER":       "COPPER",
	"ZINC":         "ZINC",
	"ALUMINIUM":    "ALUMINIUM",
	"ALUMINUM":     "ALUMINIUM",
	"NICKEL":       "NICKEL",
	"MENTHAOIL":    "MENTHAOIL",
	"COTTONCANDY":  "COTTONCNDY",
	"COTTONCNDY":   "COTTONCNDY",
}

// commodityRoots is the fixed set of canonical roots that trade on the
// commodity segment. Everything else defaults to equity derivatives.
var commodityRoots = map[string]bool{
	"NATGASMINI": true,
	"CRUDEOILM":  true,
	"GOLDM":      true,
	"SILVERM":    true,
	"COPPER":     true,
	"ZINC":       true,
	"ALUMINIUM":  true,
	"NICKEL":     true,
	"MENTHAOIL":  true,
	"COTTONCNDY": true,
}

// Resolver maps raw aliases to canonical roots. It performs no I/O.
type Resolver struct {
	commodityOnly bool
}

// NewResolver creates a Resolver. With commodityOnly set, aliases that do
// not resolve to a commodity root are rejected instead of passed through
// as equity-derivative roots.
func NewResolver(commodityOnly bool) *Resolver {
	return &Resolver{commodityOnly: commodityOnly}
}

// Resolve normalizes a raw alias into a canonical root and its market.
func (r *Resolver) Resolve(raw string) (string, broker.Market, error) {
	cleaned := Clean(raw)
	if cleaned == "" {
		return "", "", fmt.Errorf("%w: %q", ErrUnknownSymbol, raw)
	}

	root, ok := aliases[cleaned]
	if !ok {
		root = cleaned
	}

	if commodityRoots[root] {
		return root, broker.MarketMCX, nil
	}
	if r.commodityOnly {
		return "", "", fmt.Errorf("%w: %q not a supported commodity", ErrUnknownSymbol, raw)
	}
	// Unknown aliases pass through unchanged as equity-derivative roots.
	return root, broker.MarketNFO, nil
}

// Clean strips an optional "EXCHANGE:" prefix, continuation-contract
// suffixes, and every non-letter character, and uppercases the result.
func Clean(raw string) string {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if idx := strings.Index(s, ":"); idx >= 0 {
		s = s[idx+1:]
	}

	var b strings.Builder
	b.Grow(len(s))
	for _, c := range s {
		if c >= 'A' && c <= 'Z' {
			b.WriteRune(c)
		}
	}
	return b.String()
}
