package broker

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/sony/gobreaker"
)

// Market identifies the exchange segment an instrument trades on.
type Market string

const (
	// MarketNFO is the NSE futures & options segment.
	MarketNFO Market = "NFO"
	// MarketMCX is the commodity derivatives segment.
	MarketMCX Market = "MCX"
)

// OrderSide is the transaction direction of an order.
type OrderSide string

const (
	// SideBuy buys the instrument.
	SideBuy OrderSide = "BUY"
	// SideSell sells the instrument.
	SideSell OrderSide = "SELL"
)

// OrderType selects market or limit execution.
type OrderType string

const (
	// OrderMarket executes at the prevailing market price.
	OrderMarket OrderType = "MARKET"
	// OrderLimit executes at the given price or better.
	OrderLimit OrderType = "LIMIT"
)

// OptionType is the exchange instrument type for option contracts.
type OptionType string

const (
	// OptionCall is a call option (CE in exchange nomenclature).
	OptionCall OptionType = "CE"
	// OptionPut is a put option (PE in exchange nomenclature).
	OptionPut OptionType = "PE"
)

// Instrument is a single entry from the exchange instrument master.
type Instrument struct {
	Symbol         string
	Market         Market
	InstrumentType string // FUT, CE, PE, EQ
	UnderlyingName string
	Expiry         time.Time // zero for non-derivatives
	Strike         float64
	TickSize       float64
	LotSize        int
}

// IsFuture reports whether the instrument is a futures contract.
func (i Instrument) IsFuture() bool {
	return i.InstrumentType == "FUT" || strings.HasSuffix(i.Symbol, "FUT")
}

// PositionItem is a net position as reported by the broker.
// Quantity is signed: positive long, negative short.
type PositionItem struct {
	Market   Market
	Symbol   string
	Quantity int
}

// QuoteItem holds top-of-book market data for an instrument.
type QuoteItem struct {
	Symbol  string
	Last    float64
	BestBid float64
	BestAsk float64
}

// OrderParams describes an order to be placed.
type OrderParams struct {
	Market   Market
	Symbol   string
	Side     OrderSide
	Type     OrderType
	Quantity int
	Price    float64 // limit orders only
	Tag      string
}

// OrderState is a snapshot of an order's lifecycle at the broker.
type OrderState struct {
	OrderID         string
	Status          string
	FilledQuantity  int
	PendingQuantity int
	AveragePrice    float64
}

// Terminal order statuses as reported by the Kite order API.
const (
	StatusComplete  = "COMPLETE"
	StatusRejected  = "REJECTED"
	StatusCancelled = "CANCELLED"
)

// IsFilled reports whether the order executed in full.
func (s *OrderState) IsFilled() bool {
	return s.Status == StatusComplete && s.PendingQuantity == 0
}

// IsTerminal reports whether the order can no longer fill.
func (s *OrderState) IsTerminal() bool {
	switch s.Status {
	case StatusComplete, StatusRejected, StatusCancelled:
		return true
	default:
		return false
	}
}

// Broker defines the capability surface consumed by the decision engine.
// All calls block on the network; every method accepts a context for
// timeout and cancellation.
type Broker interface {
	// Instrument master
	ListInstruments(ctx context.Context, market Market) ([]Instrument, error)

	// Account state
	NetPositions(ctx context.Context) ([]PositionItem, error)

	// Market data
	LastTradedPrice(ctx context.Context, market Market, symbol string) (float64, error)
	Quote(ctx context.Context, market Market, symbol string) (*QuoteItem, error)

	// Orders
	PlaceOrder(ctx context.Context, params OrderParams) (string, error)
	OrderStatus(ctx context.Context, orderID string) (*OrderState, error)
	CancelOrder(ctx context.Context, orderID string) error
}

// Ensure KiteAPI implements Broker at compile time.
var _ Broker = (*KiteAPI)(nil)

// CircuitBreakerBroker wraps a Broker with circuit breaker functionality.
type CircuitBreakerBroker struct {
	broker  Broker
	breaker *gobreaker.CircuitBreaker
}

var _ Broker = (*CircuitBreakerBroker)(nil)

// execCircuitBreaker is a generic helper for circuit breaker wrapper methods.
func execCircuitBreaker[T any](
	breaker *gobreaker.CircuitBreaker,
	broker Broker,
	fn func(Broker) (T, error),
) (T, error) {
	var zero T
	res, err := breaker.Execute(func() (interface{}, error) { return fn(broker) })
	if err != nil {
		return zero, err
	}
	if res == nil {
		return zero, nil
	}
	v, ok := res.(T)
	if !ok {
		return zero, errors.New("circuit breaker: type assertion failed")
	}
	return v, nil
}

// CircuitBreakerSettings configures circuit breaker behavior.
type CircuitBreakerSettings struct {
	MaxRequests  uint32        // Max requests when half-open
	Interval     time.Duration // Reset counts interval
	Timeout      time.Duration // Open circuit duration
	MinRequests  uint32        // Min requests before tripping
	FailureRatio float64       // Failure ratio threshold
}

// NewCircuitBreakerBroker creates a new CircuitBreakerBroker with sensible defaults.
func NewCircuitBreakerBroker(broker Broker) *CircuitBreakerBroker {
	return NewCircuitBreakerBrokerWithSettings(broker, CircuitBreakerSettings{
		MaxRequests:  3,                // Allow 3 requests when half-open
		Interval:     60 * time.Second, // Reset counts every minute
		Timeout:      30 * time.Second, // Open circuit for 30 seconds
		MinRequests:  5,                // Minimum requests before tripping
		FailureRatio: 0.6,              // Trip if 60% failure rate
	})
}

// NewCircuitBreakerBrokerWithSettings creates a CircuitBreakerBroker with custom settings.
func NewCircuitBreakerBrokerWithSettings(broker Broker, settings CircuitBreakerSettings) *CircuitBreakerBroker {
	gbSettings := gobreaker.Settings{
		Name:        "BrokerCircuitBreaker",
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests == 0 || counts.Requests < settings.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= settings.FailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Printf("Circuit breaker %s state changed from %s to %s", name, from, to)
		},
	}

	return &CircuitBreakerBroker{
		broker:  broker,
		breaker: gobreaker.NewCircuitBreaker(gbSettings),
	}
}

// ListInstruments wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) ListInstruments(ctx context.Context, market Market) ([]Instrument, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) ([]Instrument, error) {
		return b.ListInstruments(ctx, market)
	})
}

// NetPositions wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) NetPositions(ctx context.Context) ([]PositionItem, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) ([]PositionItem, error) {
		return b.NetPositions(ctx)
	})
}

// LastTradedPrice wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) LastTradedPrice(ctx context.Context, market Market, symbol string) (float64, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (float64, error) {
		return b.LastTradedPrice(ctx, market, symbol)
	})
}

// Quote wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) Quote(ctx context.Context, market Market, symbol string) (*QuoteItem, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (*QuoteItem, error) {
		return b.Quote(ctx, market, symbol)
	})
}

// PlaceOrder wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) PlaceOrder(ctx context.Context, params OrderParams) (string, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (string, error) {
		return b.PlaceOrder(ctx, params)
	})
}

// OrderStatus wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) OrderStatus(ctx context.Context, orderID string) (*OrderState, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (*OrderState, error) {
		return b.OrderStatus(ctx, orderID)
	})
}

// CancelOrder wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) CancelOrder(ctx context.Context, orderID string) error {
	_, err := execCircuitBreaker(c.breaker, c.broker, func(b Broker) (struct{}, error) {
		return struct{}{}, b.CancelOrder(ctx, orderID)
	})
	return err
}
