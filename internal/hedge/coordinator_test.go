package hedge

import (
	"context"
	"errors"
	"io"
	"log"
	"math"
	"testing"
	"time"

	"github.com/botelyes/futroll/internal/broker"
	"github.com/botelyes/futroll/internal/catalog"
)

// fakeBroker scripts quote, order, and status behavior.
type fakeBroker struct {
	broker.Broker
	instruments []broker.Instrument
	quote       broker.QuoteItem
	quoteErr    error
	placeErrs   []error
	statuses    []broker.OrderState
	placed      []broker.OrderParams
	cancelled   []string
	placeCalls  int
	statusCalls int
}

func (f *fakeBroker) ListInstruments(_ context.Context, _ broker.Market) ([]broker.Instrument, error) {
	return f.instruments, nil
}

func (f *fakeBroker) Quote(_ context.Context, _ broker.Market, symbol string) (*broker.QuoteItem, error) {
	if f.quoteErr != nil {
		return nil, f.quoteErr
	}
	q := f.quote
	q.Symbol = symbol
	return &q, nil
}

func (f *fakeBroker) PlaceOrder(_ context.Context, p broker.OrderParams) (string, error) {
	i := f.placeCalls
	f.placeCalls++
	if i < len(f.placeErrs) && f.placeErrs[i] != nil {
		return "", f.placeErrs[i]
	}
	f.placed = append(f.placed, p)
	return "hedge-oid", nil
}

func (f *fakeBroker) OrderStatus(_ context.Context, id string) (*broker.OrderState, error) {
	i := f.statusCalls
	f.statusCalls++
	if i >= len(f.statuses) {
		return &broker.OrderState{OrderID: id, Status: "OPEN", PendingQuantity: 1}, nil
	}
	s := f.statuses[i]
	s.OrderID = id
	return &s, nil
}

func (f *fakeBroker) CancelOrder(_ context.Context, id string) error {
	f.cancelled = append(f.cancelled, id)
	return nil
}

func fastConfig() Config {
	return Config{
		OffsetPct:     0.03,
		PollInterval:  time.Millisecond,
		PollAttempts:  6,
		RetryAttempts: 3,
		RetryPause:    time.Millisecond,
	}
}

func opt(symbol string, optType broker.OptionType, strike float64, expiry time.Time) broker.Instrument {
	return broker.Instrument{
		Symbol:         symbol,
		Market:         broker.MarketMCX,
		InstrumentType: string(optType),
		UnderlyingName: "NATGASMINI",
		Strike:         strike,
		TickSize:       0.05,
		LotSize:        250,
		Expiry:         expiry,
	}
}

func newCoordinator(fake *fakeBroker) *Coordinator {
	logger := log.New(io.Discard, "", 0)
	cat := catalog.New(fake, logger, catalog.Config{Attempts: 1, Backoff: time.Millisecond})
	return NewCoordinator(fake, cat, logger, fastConfig())
}

func TestOpen_PicksCallStrikeNearestTarget(t *testing.T) {
	near := time.Date(2025, 11, 25, 0, 0, 0, 0, time.UTC)
	far := time.Date(2025, 12, 23, 0, 0, 0, 0, time.UTC)
	fake := &fakeBroker{
		instruments: []broker.Instrument{
			opt("NATGASMINI25NOV100CE", broker.OptionCall, 100, near),
			opt("NATGASMINI25NOV102.5CE", broker.OptionCall, 102.5, near),
			opt("NATGASMINI25NOV105CE", broker.OptionCall, 105, near),
			opt("NATGASMINI25NOV103CE", broker.OptionCall, 103, far), // exact strike but later expiry
			opt("NATGASMINI25NOV103PE", broker.OptionPut, 103, near), // wrong type
		},
		quote:    broker.QuoteItem{BestBid: 4.12, BestAsk: 4.20, Last: 4.15},
		statuses: []broker.OrderState{{Status: broker.StatusComplete}},
	}
	c := newCoordinator(fake)

	// Futures LTP 100 and a long entry target a call near 103.
	ref, err := c.Open(context.Background(), broker.MarketMCX, "NATGASMINI", broker.OptionCall, 100)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if ref == nil || ref.Symbol != "NATGASMINI25NOV102.5CE" {
		t.Fatalf("ref = %+v, want the 102.5 call at nearest expiry", ref)
	}
	if ref.Quantity != 250 {
		t.Errorf("quantity = %d, want lot size 250", ref.Quantity)
	}

	if len(fake.placed) != 1 {
		t.Fatalf("placed %d orders, want 1", len(fake.placed))
	}
	order := fake.placed[0]
	if order.Side != broker.SideSell || order.Type != broker.OrderLimit {
		t.Errorf("order = %+v, want SELL LIMIT", order)
	}
	// Sell at best bid, rounded to tick.
	if math.Abs(order.Price-4.10) > 1e-9 {
		t.Errorf("price = %v, want 4.10", order.Price)
	}
}

func TestOpen_PutTargetBelowPrice(t *testing.T) {
	near := time.Date(2025, 11, 25, 0, 0, 0, 0, time.UTC)
	fake := &fakeBroker{
		instruments: []broker.Instrument{
			opt("NATGASMINI25NOV97PE", broker.OptionPut, 97, near),
			opt("NATGASMINI25NOV100PE", broker.OptionPut, 100, near),
		},
		quote:    broker.QuoteItem{BestBid: 3.0, BestAsk: 3.1},
		statuses: []broker.OrderState{{Status: broker.StatusComplete}},
	}
	c := newCoordinator(fake)

	ref, err := c.Open(context.Background(), broker.MarketMCX, "NATGASMINI", broker.OptionPut, 100)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if ref == nil || ref.Symbol != "NATGASMINI25NOV97PE" {
		t.Fatalf("ref = %+v, want the 97 put", ref)
	}
}

func TestOpen_NoCandidatesProceedsUnhedged(t *testing.T) {
	fake := &fakeBroker{
		instruments: []broker.Instrument{
			opt("GOLDM25NOV103CE", broker.OptionCall, 103, time.Date(2025, 11, 25, 0, 0, 0, 0, time.UTC)),
		},
	}
	// GOLDM options do not match the NATGASMINI root.
	fake.instruments[0].UnderlyingName = "GOLDM"
	c := newCoordinator(fake)

	ref, err := c.Open(context.Background(), broker.MarketMCX, "NATGASMINI", broker.OptionCall, 100)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if ref != nil {
		t.Fatalf("expected nil ref, got %+v", ref)
	}
	if fake.placeCalls != 0 {
		t.Error("no order should be placed without candidates")
	}
}

func TestOpen_UnfilledCancelsAndFails(t *testing.T) {
	near := time.Date(2025, 11, 25, 0, 0, 0, 0, time.UTC)
	fake := &fakeBroker{
		instruments: []broker.Instrument{opt("NATGASMINI25NOV103CE", broker.OptionCall, 103, near)},
		quote:       broker.QuoteItem{BestBid: 4.0, BestAsk: 4.1},
		// Never fills: every poll sees an open order.
	}
	c := newCoordinator(fake)

	_, err := c.Open(context.Background(), broker.MarketMCX, "NATGASMINI", broker.OptionCall, 100)
	if !errors.Is(err, ErrHedgeUnfilled) {
		t.Fatalf("expected ErrHedgeUnfilled, got %v", err)
	}
	if fake.statusCalls != 6 {
		t.Errorf("status polls = %d, want 6", fake.statusCalls)
	}
	if len(fake.cancelled) != 1 {
		t.Errorf("cancelled = %v, want one cancel", fake.cancelled)
	}
	if fake.placeCalls != 1 {
		t.Errorf("place calls = %d, unfilled orders must not be retried", fake.placeCalls)
	}
}

func TestOpen_RetriesOnRequestError(t *testing.T) {
	near := time.Date(2025, 11, 25, 0, 0, 0, 0, time.UTC)
	fake := &fakeBroker{
		instruments: []broker.Instrument{opt("NATGASMINI25NOV103CE", broker.OptionCall, 103, near)},
		quote:       broker.QuoteItem{BestBid: 4.0, BestAsk: 4.1},
		placeErrs:   []error{errors.New("gateway timeout"), nil},
		statuses:    []broker.OrderState{{Status: broker.StatusComplete}},
	}
	c := newCoordinator(fake)

	ref, err := c.Open(context.Background(), broker.MarketMCX, "NATGASMINI", broker.OptionCall, 100)
	if err != nil {
		t.Fatalf("Open after retry: %v", err)
	}
	if ref == nil {
		t.Fatal("expected ref after successful retry")
	}
	if fake.placeCalls != 2 {
		t.Errorf("place calls = %d, want 2", fake.placeCalls)
	}
}

func TestOpen_RetryBudgetExhausted(t *testing.T) {
	near := time.Date(2025, 11, 25, 0, 0, 0, 0, time.UTC)
	fake := &fakeBroker{
		instruments: []broker.Instrument{opt("NATGASMINI25NOV103CE", broker.OptionCall, 103, near)},
		quote:       broker.QuoteItem{BestBid: 4.0, BestAsk: 4.1},
		placeErrs:   []error{errors.New("x"), errors.New("x"), errors.New("x")},
	}
	c := newCoordinator(fake)

	_, err := c.Open(context.Background(), broker.MarketMCX, "NATGASMINI", broker.OptionCall, 100)
	if err == nil {
		t.Fatal("expected failure after retry budget")
	}
	if fake.placeCalls != 3 {
		t.Errorf("place calls = %d, want 3", fake.placeCalls)
	}
}

func TestClose_BuysBackAtAsk(t *testing.T) {
	fake := &fakeBroker{
		quote:    broker.QuoteItem{BestBid: 3.9, BestAsk: 4.07},
		statuses: []broker.OrderState{{Status: broker.StatusComplete}},
	}
	c := newCoordinator(fake)

	ref := &Ref{Symbol: "NATGASMINI25NOV103CE", Market: broker.MarketMCX, Quantity: 250}
	if err := c.Close(context.Background(), ref); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if len(fake.placed) != 1 {
		t.Fatalf("placed %d orders", len(fake.placed))
	}
	order := fake.placed[0]
	if order.Side != broker.SideBuy || order.Quantity != 250 {
		t.Errorf("order = %+v, want BUY 250", order)
	}
	// Buy back at best ask, rounded to the default tick.
	if math.Abs(order.Price-4.05) > 1e-9 {
		t.Errorf("price = %v, want 4.05", order.Price)
	}
}

func TestClose_NilRefIsNoOp(t *testing.T) {
	fake := &fakeBroker{}
	c := newCoordinator(fake)
	if err := c.Close(context.Background(), nil); err != nil {
		t.Fatalf("Close(nil): %v", err)
	}
	if fake.placeCalls != 0 {
		t.Error("no order expected for nil ref")
	}
}
