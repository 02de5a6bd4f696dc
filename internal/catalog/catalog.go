// Package catalog wraps the broker instrument master with retry and a
// lazily populated lot-size cache.
package catalog

import (
	"context"
	"log"
	"os"
	"sync"
	"time"

	"github.com/botelyes/futroll/internal/broker"
)

// Config contains retry settings for catalog fetches.
type Config struct {
	Attempts int
	Backoff  time.Duration
}

// DefaultConfig retries a failed or empty fetch twice more with a fixed
// pause, then degrades to an empty listing.
var DefaultConfig = Config{
	Attempts: 3,
	Backoff:  700 * time.Millisecond,
}

type lotKey struct {
	market broker.Market
	symbol string
}

// Catalog adapts the broker instrument listing. Lot sizes are cached per
// (market, symbol) and never invalidated: a listed contract's lot size
// does not change during its life.
type Catalog struct {
	broker broker.Broker
	logger *log.Logger
	config Config

	mu       sync.RWMutex
	lotSizes map[lotKey]int
}

// New creates a catalog adapter with default retry settings.
func New(b broker.Broker, logger *log.Logger, config ...Config) *Catalog {
	cfg := DefaultConfig
	if len(config) > 0 {
		cfg = config[0]
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = DefaultConfig.Attempts
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultConfig.Backoff
	}
	if logger == nil {
		logger = log.New(os.Stderr, "catalog: ", log.LstdFlags)
	}
	return &Catalog{
		broker:   b,
		logger:   logger,
		config:   cfg,
		lotSizes: make(map[lotKey]int),
	}
}

// Instruments lists the instrument master for a market, retrying transport
// failures and empty results. After the retry budget is exhausted it
// returns an empty slice and a nil error; the caller decides how to
// degrade. Expiry and listing membership are always re-fetched — only lot
// sizes are cached.
func (c *Catalog) Instruments(ctx context.Context, market broker.Market) ([]broker.Instrument, error) {
	var lastErr error

	for attempt := 1; attempt <= c.config.Attempts; attempt++ {
		instruments, err := c.broker.ListInstruments(ctx, market)
		if err == nil && len(instruments) > 0 {
			c.primeLotSizes(instruments)
			return instruments, nil
		}

		if err != nil {
			lastErr = err
			c.logger.Printf("instrument fetch %s attempt %d/%d failed: %v",
				market, attempt, c.config.Attempts, err)
		} else {
			c.logger.Printf("instrument fetch %s attempt %d/%d returned empty listing",
				market, attempt, c.config.Attempts)
		}

		if attempt < c.config.Attempts {
			select {
			case <-time.After(c.config.Backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	c.logger.Printf("instrument fetch %s exhausted %d attempts (last error: %v), degrading to empty listing",
		market, c.config.Attempts, lastErr)
	return nil, nil
}

// LotSize returns the lot size for a contract symbol, consulting the
// cache first. A symbol absent from the catalog yields a conservative
// default of 1 so a missing lot size never blocks order flow.
func (c *Catalog) LotSize(ctx context.Context, market broker.Market, symbol string) int {
	key := lotKey{market: market, symbol: symbol}

	c.mu.RLock()
	size, ok := c.lotSizes[key]
	c.mu.RUnlock()
	if ok {
		return size
	}

	instruments, err := c.broker.ListInstruments(ctx, market)
	if err != nil {
		c.logger.Printf("lot size lookup for %s:%s failed (%v), defaulting to 1", market, symbol, err)
		return 1
	}
	c.primeLotSizes(instruments)

	c.mu.RLock()
	size, ok = c.lotSizes[key]
	c.mu.RUnlock()
	if ok {
		return size
	}

	c.logger.Printf("lot size for %s:%s not in catalog, defaulting to 1", market, symbol)
	return 1
}

// primeLotSizes records lot sizes from a fetched listing. Only positive
// values are cached so a later successful fetch can still fill gaps.
func (c *Catalog) primeLotSizes(instruments []broker.Instrument) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, inst := range instruments {
		if inst.LotSize > 0 {
			c.lotSizes[lotKey{market: inst.Market, symbol: inst.Symbol}] = inst.LotSize
		}
	}
}
