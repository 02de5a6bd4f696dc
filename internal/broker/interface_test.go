package broker

import (
	"context"
	"errors"
	"testing"
	"time"
)

// stubBroker is a minimal Broker for wrapper tests.
type stubBroker struct {
	instruments []Instrument
	positions   []PositionItem
	err         error
	placed      []OrderParams
	cancelled   []string
}

func (s *stubBroker) ListInstruments(_ context.Context, _ Market) ([]Instrument, error) {
	return s.instruments, s.err
}
func (s *stubBroker) NetPositions(_ context.Context) ([]PositionItem, error) {
	return s.positions, s.err
}
func (s *stubBroker) LastTradedPrice(_ context.Context, _ Market, _ string) (float64, error) {
	return 100, s.err
}
func (s *stubBroker) Quote(_ context.Context, _ Market, _ string) (*QuoteItem, error) {
	return &QuoteItem{Last: 100}, s.err
}
func (s *stubBroker) PlaceOrder(_ context.Context, p OrderParams) (string, error) {
	s.placed = append(s.placed, p)
	return "oid-1", s.err
}
func (s *stubBroker) OrderStatus(_ context.Context, id string) (*OrderState, error) {
	return &OrderState{OrderID: id, Status: StatusComplete}, s.err
}
func (s *stubBroker) CancelOrder(_ context.Context, id string) error {
	s.cancelled = append(s.cancelled, id)
	return s.err
}

func TestCircuitBreakerBroker_PassThrough(t *testing.T) {
	stub := &stubBroker{
		positions: []PositionItem{{Market: MarketMCX, Symbol: "X", Quantity: 250}},
	}
	cb := NewCircuitBreakerBroker(stub)

	positions, err := cb.NetPositions(context.Background())
	if err != nil {
		t.Fatalf("NetPositions: %v", err)
	}
	if len(positions) != 1 || positions[0].Quantity != 250 {
		t.Errorf("unexpected positions: %+v", positions)
	}

	orderID, err := cb.PlaceOrder(context.Background(), OrderParams{Symbol: "X", Quantity: 1})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if orderID != "oid-1" {
		t.Errorf("orderID = %q", orderID)
	}

	if err := cb.CancelOrder(context.Background(), "oid-1"); err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
	if len(stub.cancelled) != 1 {
		t.Errorf("cancel not forwarded")
	}
}

func TestCircuitBreakerBroker_OpensAfterFailures(t *testing.T) {
	stub := &stubBroker{err: errors.New("boom")}
	cb := NewCircuitBreakerBrokerWithSettings(stub, CircuitBreakerSettings{
		MaxRequests:  1,
		Interval:     time.Minute,
		Timeout:      time.Minute,
		MinRequests:  2,
		FailureRatio: 0.5,
	})

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := cb.NetPositions(ctx); err == nil {
			t.Fatal("expected failure")
		}
	}

	// Breaker should now be open and fail fast without hitting the stub.
	stub.err = nil
	if _, err := cb.NetPositions(ctx); err == nil {
		t.Fatal("expected circuit open error")
	}
}

func TestCircuitBreakerBroker_ImplementsBroker(t *testing.T) {
	var _ Broker = NewCircuitBreakerBroker(&stubBroker{})
}
