// Package hedge opens and closes a paired short-option leg against a
// futures position: a sold call caps a long future, a sold put caps a
// short one. Fills are confirmed by bounded status polling; an unfilled
// hedge order is cancelled and the futures position simply runs unhedged.
package hedge

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"os"
	"sort"
	"time"

	"github.com/botelyes/futroll/internal/broker"
	"github.com/botelyes/futroll/internal/catalog"
	"github.com/botelyes/futroll/internal/util"
)

// ErrHedgeUnfilled is returned when the hedge order did not fill within
// the poll budget and was cancelled.
var ErrHedgeUnfilled = errors.New("hedge order not filled within poll budget")

// defaultTickSize is used when the catalog carries no tick for the
// option contract.
const defaultTickSize = 0.05

// Config controls strike targeting and order confirmation.
type Config struct {
	OffsetPct     float64       // strike distance from the futures price
	PollInterval  time.Duration // pause between order status polls
	PollAttempts  int           // status polls before cancelling
	RetryAttempts int           // place-and-poll cycles on request errors
	RetryPause    time.Duration // pause between retry cycles
}

// DefaultConfig matches the production confirmation budget: poll every
// 5s up to 6 times (30s), retry the whole cycle up to 3 times.
var DefaultConfig = Config{
	OffsetPct:     0.03,
	PollInterval:  5 * time.Second,
	PollAttempts:  6,
	RetryAttempts: 3,
	RetryPause:    5 * time.Second,
}

// Ref identifies an open hedge leg held against a futures position.
type Ref struct {
	Symbol   string        `json:"symbol"`
	Market   broker.Market `json:"market"`
	Quantity int           `json:"quantity"`
	OrderID  string        `json:"order_id"`
}

// Coordinator selects and executes hedge option legs.
type Coordinator struct {
	broker  broker.Broker
	catalog *catalog.Catalog
	logger  *log.Logger
	config  Config
}

// NewCoordinator creates a hedge coordinator.
func NewCoordinator(b broker.Broker, cat *catalog.Catalog, logger *log.Logger, config ...Config) *Coordinator {
	cfg := DefaultConfig
	if len(config) > 0 {
		cfg = config[0]
	}
	if cfg.OffsetPct <= 0 {
		cfg.OffsetPct = DefaultConfig.OffsetPct
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig.PollInterval
	}
	if cfg.PollAttempts <= 0 {
		cfg.PollAttempts = DefaultConfig.PollAttempts
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = DefaultConfig.RetryAttempts
	}
	if cfg.RetryPause <= 0 {
		cfg.RetryPause = DefaultConfig.RetryPause
	}
	if logger == nil {
		logger = log.New(os.Stderr, "hedge: ", log.LstdFlags)
	}
	return &Coordinator{broker: b, catalog: cat, logger: logger, config: cfg}
}

// Open sells a hedge option against a freshly entered futures position.
// optType is OptionCall for a long future, OptionPut for a short one.
// Returns (nil, nil) when no candidate option is listed: the futures
// entry proceeds unhedged and nothing is recorded.
func (c *Coordinator) Open(ctx context.Context, market broker.Market, root string,
	optType broker.OptionType, futPrice float64) (*Ref, error) {
	target := futPrice * (1 + c.config.OffsetPct)
	if optType == broker.OptionPut {
		target = futPrice * (1 - c.config.OffsetPct)
	}

	pick, err := c.selectOption(ctx, market, root, optType, target)
	if err != nil {
		return nil, err
	}
	if pick == nil {
		c.logger.Printf("no %s candidates for %s near strike %.2f, entering unhedged", optType, root, target)
		return nil, nil
	}

	c.logger.Printf("hedge pick for %s: %s strike %.2f (target %.2f)",
		root, pick.Symbol, pick.Strike, target)

	quantity := pick.LotSize
	if quantity <= 0 {
		quantity = c.catalog.LotSize(ctx, market, pick.Symbol)
	}

	orderID, err := c.executeLimitOrder(ctx, *pick, broker.SideSell, quantity)
	if err != nil {
		return nil, err
	}
	return &Ref{Symbol: pick.Symbol, Market: market, Quantity: quantity, OrderID: orderID}, nil
}

// Close buys back a previously sold hedge leg. The caller clears its
// stored reference regardless of the outcome to avoid a stuck phantom
// hedge record.
func (c *Coordinator) Close(ctx context.Context, ref *Ref) error {
	if ref == nil {
		return nil
	}
	inst := broker.Instrument{Symbol: ref.Symbol, Market: ref.Market}
	_, err := c.executeLimitOrder(ctx, inst, broker.SideBuy, ref.Quantity)
	if err != nil {
		return fmt.Errorf("closing hedge %s: %w", ref.Symbol, err)
	}
	return nil
}

// selectOption picks the option of the given type sharing the futures'
// underlying root, nearest expiry first, then minimal strike distance to
// the target.
func (c *Coordinator) selectOption(ctx context.Context, market broker.Market, root string,
	optType broker.OptionType, target float64) (*broker.Instrument, error) {
	instruments, err := c.catalog.Instruments(ctx, market)
	if err != nil {
		return nil, err
	}

	var candidates []broker.Instrument
	for _, inst := range instruments {
		if inst.InstrumentType != string(optType) {
			continue
		}
		if !matchesRoot(inst, root) || inst.Expiry.IsZero() || inst.Strike <= 0 {
			continue
		}
		candidates = append(candidates, inst)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].Expiry.Equal(candidates[j].Expiry) {
			return candidates[i].Expiry.Before(candidates[j].Expiry)
		}
		return math.Abs(candidates[i].Strike-target) < math.Abs(candidates[j].Strike-target)
	})

	nearestExpiry := candidates[0].Expiry
	best := candidates[0]
	for _, cand := range candidates[1:] {
		if !cand.Expiry.Equal(nearestExpiry) {
			break
		}
		if math.Abs(cand.Strike-target) < math.Abs(best.Strike-target) {
			best = cand
		}
	}
	return &best, nil
}

func matchesRoot(inst broker.Instrument, root string) bool {
	if inst.UnderlyingName == root {
		return true
	}
	return len(inst.Symbol) >= len(root) && inst.Symbol[:len(root)] == root
}

// executeLimitOrder places a limit order at the best opposite-side quote
// and confirms it by polling. The whole place-and-poll cycle is retried
// on request-level errors and rejections; an order that stays unfilled
// past the poll budget is cancelled and reported, not retried.
func (c *Coordinator) executeLimitOrder(ctx context.Context, inst broker.Instrument,
	side broker.OrderSide, quantity int) (string, error) {
	var lastErr error

	for attempt := 1; attempt <= c.config.RetryAttempts; attempt++ {
		orderID, err := c.placeAndConfirm(ctx, inst, side, quantity)
		if err == nil {
			return orderID, nil
		}
		if errors.Is(err, ErrHedgeUnfilled) || ctx.Err() != nil {
			return "", err
		}

		lastErr = err
		c.logger.Printf("hedge %s %s attempt %d/%d failed: %v",
			side, inst.Symbol, attempt, c.config.RetryAttempts, err)

		if attempt < c.config.RetryAttempts {
			select {
			case <-time.After(c.config.RetryPause):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
	}
	return "", fmt.Errorf("hedge %s %s failed after %d attempts: %w",
		side, inst.Symbol, c.config.RetryAttempts, lastErr)
}

func (c *Coordinator) placeAndConfirm(ctx context.Context, inst broker.Instrument,
	side broker.OrderSide, quantity int) (string, error) {
	quote, err := c.broker.Quote(ctx, inst.Market, inst.Symbol)
	if err != nil {
		return "", fmt.Errorf("quoting %s: %w", inst.Symbol, err)
	}

	// Sell at the best bid, buy back at the best ask.
	price := quote.BestBid
	if side == broker.SideBuy {
		price = quote.BestAsk
	}
	if price <= 0 {
		price = quote.Last
	}
	tick := inst.TickSize
	if tick <= 0 {
		tick = defaultTickSize
	}
	price = util.RoundToTick(price, tick)

	orderID, err := c.broker.PlaceOrder(ctx, broker.OrderParams{
		Market:   inst.Market,
		Symbol:   inst.Symbol,
		Side:     side,
		Type:     broker.OrderLimit,
		Quantity: quantity,
		Price:    price,
		Tag:      "hedge",
	})
	if err != nil {
		return "", fmt.Errorf("placing hedge order: %w", err)
	}

	for poll := 1; poll <= c.config.PollAttempts; poll++ {
		select {
		case <-time.After(c.config.PollInterval):
		case <-ctx.Done():
			return "", ctx.Err()
		}

		state, err := c.broker.OrderStatus(ctx, orderID)
		if err != nil {
			return "", fmt.Errorf("polling hedge order %s: %w", orderID, err)
		}
		if state.IsFilled() {
			c.logger.Printf("hedge order %s filled at %.2f after %d polls", orderID, state.AveragePrice, poll)
			return orderID, nil
		}
		if state.IsTerminal() {
			return "", fmt.Errorf("hedge order %s terminal without fill: %s", orderID, state.Status)
		}
	}

	c.logger.Printf("hedge order %s unfilled after %d polls, cancelling", orderID, c.config.PollAttempts)
	if err := c.broker.CancelOrder(ctx, orderID); err != nil {
		c.logger.Printf("cancel of hedge order %s failed: %v", orderID, err)
	}
	return "", ErrHedgeUnfilled
}
