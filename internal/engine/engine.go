// Package engine reconciles incoming trading signals against actual
// broker positions. Every decision cycle resolves the tradable contract
// fresh, reads net positions from the broker, rolls expiring legs, and
// converges the position toward the signaled direction. The broker is
// the only source of truth for position state; in-memory memos record
// what was seen, never what is held.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/botelyes/futroll/internal/broker"
	"github.com/botelyes/futroll/internal/catalog"
	"github.com/botelyes/futroll/internal/contracts"
	"github.com/botelyes/futroll/internal/hedge"
	"github.com/botelyes/futroll/internal/journal"
	"github.com/botelyes/futroll/internal/symbols"
)

// Direction is the side a signal asks for.
type Direction string

const (
	DirectionLong  Direction = "LONG"
	DirectionShort Direction = "SHORT"
)

// ParseDirection maps raw webhook signal values onto a direction.
// BUY and LONG are long; SELL and SHORT are short.
func ParseDirection(raw string) (Direction, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "BUY", "LONG":
		return DirectionLong, nil
	case "SELL", "SHORT":
		return DirectionShort, nil
	default:
		return "", fmt.Errorf("unsupported signal %q", raw)
	}
}

// Action is the last position-changing move recorded for a root.
type Action string

const (
	ActionNone  Action = "NONE"
	ActionLong  Action = "LONG"
	ActionShort Action = "SHORT"
)

// Status classifies the outcome of one decision cycle.
type Status string

const (
	// StatusProcessed means the cycle completed and may have placed orders.
	StatusProcessed Status = "processed"
	// StatusNoAction means the cycle completed without a tradable contract.
	StatusNoAction Status = "no_action"
	// StatusIgnoredSymbol means the alias could not be resolved.
	StatusIgnoredSymbol Status = "ignored_symbol"
	// StatusIgnoredSignal means the signal direction is unsupported.
	StatusIgnoredSignal Status = "ignored_signal"
	// StatusIgnoredTimeframe means the timeframe is outside the allow-list.
	StatusIgnoredTimeframe Status = "ignored_timeframe"
	// StatusError means a broker interaction failed mid-cycle.
	StatusError Status = "error"
)

// Signal is one normalized trading signal.
type Signal struct {
	RawSymbol string
	Direction Direction
	Timeframe string
}

// PlacedOrder describes one order the cycle fired.
type PlacedOrder struct {
	Kind     journal.Kind
	Symbol   string
	Side     broker.OrderSide
	Quantity int
	OrderID  string
}

// Result reports what a decision cycle did.
type Result struct {
	Status   Status
	Detail   string
	Root     string
	Contract string
	Orders   []PlacedOrder
}

// Hedger opens and closes option legs paired with futures positions.
// Implemented by hedge.Coordinator; nil disables hedging.
type Hedger interface {
	Open(ctx context.Context, market broker.Market, root string, optType broker.OptionType, futPrice float64) (*hedge.Ref, error)
	Close(ctx context.Context, ref *hedge.Ref) error
}

// Options carries the optional engine collaborators.
type Options struct {
	Hedger     Hedger           // nil disables the hedge leg
	Journal    journal.Recorder // nil disables trade journaling
	Timeframes []string         // normalized allow-list; empty allows all
	Now        func() time.Time // defaults to time.Now
	Logger     *log.Logger
}

// Engine is the signal reconciler. One instance serves all roots;
// same-root cycles serialize on per-root cells, cross-root cycles run
// concurrently.
type Engine struct {
	broker     broker.Broker
	catalog    *catalog.Catalog
	contracts  *contracts.Resolver
	symbols    *symbols.Resolver
	hedger     Hedger
	journal    journal.Recorder
	store      *Store
	timeframes map[string]bool
	now        func() time.Time
	logger     *log.Logger
}

// New creates an Engine.
func New(b broker.Broker, cat *catalog.Catalog, res *contracts.Resolver, sym *symbols.Resolver, opts Options) *Engine {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "engine: ", log.LstdFlags)
	}
	allow := make(map[string]bool, len(opts.Timeframes))
	for _, tf := range opts.Timeframes {
		allow[NormalizeTimeframe(tf)] = true
	}
	return &Engine{
		broker:     b,
		catalog:    cat,
		contracts:  res,
		symbols:    sym,
		hedger:     opts.Hedger,
		journal:    opts.Journal,
		store:      NewStore(),
		timeframes: allow,
		now:        now,
		logger:     logger,
	}
}

// Store exposes the signal memo store, for status surfaces.
func (e *Engine) Store() *Store { return e.store }

// NormalizeTimeframe canonicalizes timeframe spellings: lowercase,
// "minutes"/"min" collapse to "m", and a bare number gains an "m"
// suffix, so "5", "5m", "5min" and "5 minutes" all compare equal.
func NormalizeTimeframe(raw string) string {
	tf := strings.ToLower(strings.TrimSpace(raw))
	tf = strings.ReplaceAll(tf, " ", "")
	tf = strings.ReplaceAll(tf, "minutes", "m")
	tf = strings.ReplaceAll(tf, "minute", "m")
	tf = strings.ReplaceAll(tf, "mins", "m")
	tf = strings.ReplaceAll(tf, "min", "m")
	if tf != "" && !strings.HasSuffix(tf, "m") {
		tf += "m"
	}
	return tf
}

// HandleSignal runs one full decision cycle for a signal. It returns a
// non-nil Result for every outcome; the error is non-nil only when a
// broker interaction failed and the cycle aborted.
func (e *Engine) HandleSignal(ctx context.Context, sig Signal) (*Result, error) {
	if sig.Direction != DirectionLong && sig.Direction != DirectionShort {
		return &Result{Status: StatusIgnoredSignal, Detail: fmt.Sprintf("unsupported direction %q", sig.Direction)}, nil
	}

	root, market, err := e.symbols.Resolve(sig.RawSymbol)
	if err != nil {
		e.logger.Printf("ignoring signal for %q: %v", sig.RawSymbol, err)
		return &Result{Status: StatusIgnoredSymbol, Detail: err.Error()}, nil
	}

	cell := e.store.Cell(root)
	cell.Lock()
	defer cell.Unlock()

	tf := NormalizeTimeframe(sig.Timeframe)
	cell.Memo.Timeframes[tf] = sig.Direction

	if len(e.timeframes) > 0 && !e.timeframes[tf] {
		e.logger.Printf("%s: timeframe %s not in allow-list, recorded only", root, tf)
		return &Result{Status: StatusIgnoredTimeframe, Root: root, Detail: tf}, nil
	}

	asOf := e.now()
	sel, err := e.contracts.ActiveContract(ctx, market, root, asOf)
	if err != nil {
		if errors.Is(err, contracts.ErrContractNotFound) {
			e.logger.Printf("%s: %v, no action", root, err)
			return &Result{Status: StatusNoAction, Root: root, Detail: err.Error()}, nil
		}
		return &Result{Status: StatusError, Root: root, Detail: err.Error()}, err
	}

	res := &Result{Status: StatusProcessed, Root: root, Contract: sel.Entry.Symbol}

	positions, err := e.broker.NetPositions(ctx)
	if err != nil {
		res.Status = StatusError
		res.Detail = err.Error()
		return res, fmt.Errorf("reading net positions: %w", err)
	}

	// Roll an open position out of the expiring contract first, then
	// reconcile against the entry contract.
	currentQty := netQuantity(positions, market, sel.Current.Symbol)
	if sel.RollDue && currentQty != 0 && sel.Entry.Symbol != sel.Current.Symbol {
		if err := e.roll(ctx, cell, res, root, market, sel, currentQty); err != nil {
			res.Status = StatusError
			res.Detail = err.Error()
			return res, err
		}
		positions, err = e.broker.NetPositions(ctx)
		if err != nil {
			res.Status = StatusError
			res.Detail = err.Error()
			return res, fmt.Errorf("re-reading net positions after roll: %w", err)
		}
	}

	actualQty := netQuantity(positions, market, sel.Entry.Symbol)
	if err := e.reconcile(ctx, cell, res, root, market, sel.Entry, sig.Direction, actualQty); err != nil {
		res.Status = StatusError
		res.Detail = err.Error()
		return res, err
	}
	return res, nil
}

// roll closes the full position in the expiring contract and reopens
// one lot on the same side in the policy's entry contract. The hedge
// leg, if open, is closed before the futures exit and reopened against
// the new contract.
func (e *Engine) roll(ctx context.Context, cell *Cell, res *Result, root string,
	market broker.Market, sel *contracts.Selection, currentQty int) error {
	side := broker.SideSell
	reentry := broker.SideBuy
	if currentQty < 0 {
		side = broker.SideBuy
		reentry = broker.SideSell
	}
	qty := currentQty
	if qty < 0 {
		qty = -qty
	}

	e.logger.Printf("%s: rolling %d from %s to %s (%d days to expiry)",
		root, currentQty, sel.Current.Symbol, sel.Entry.Symbol, sel.DaysToExpiry)

	e.closeHedge(ctx, cell, res, root, market)

	if err := e.placeOrder(ctx, res, root, market, sel.Current.Symbol, side, qty, journal.KindRollExit); err != nil {
		return fmt.Errorf("roll exit %s: %w", sel.Current.Symbol, err)
	}

	lot := sel.Entry.LotSize
	if lot <= 0 {
		lot = e.catalog.LotSize(ctx, market, sel.Entry.Symbol)
	}
	if err := e.placeOrder(ctx, res, root, market, sel.Entry.Symbol, reentry, lot, journal.KindRollEntry); err != nil {
		return fmt.Errorf("roll entry %s: %w", sel.Entry.Symbol, err)
	}

	optType := broker.OptionCall
	if reentry == broker.SideSell {
		optType = broker.OptionPut
	}
	e.openHedge(ctx, cell, res, root, market, sel.Entry.Symbol, optType)
	return nil
}

// reconcile converges the actual broker position in the entry contract
// toward the signaled direction. Same direction is a no-op; flat gets a
// single entry; opposite gets an explicit exit followed by a fresh
// entry, never a netted double-size order.
func (e *Engine) reconcile(ctx context.Context, cell *Cell, res *Result, root string,
	market broker.Market, entry broker.Instrument, want Direction, actualQty int) error {
	actual := directionOf(actualQty)

	if actual == want {
		e.logger.Printf("%s: already %s %s, no order", root, want, entry.Symbol)
		cell.Memo.LastAction = Action(want)
		res.Detail = "position already aligned"
		return nil
	}

	if actual != "" {
		exitSide := broker.SideSell
		if actualQty < 0 {
			exitSide = broker.SideBuy
		}
		qty := actualQty
		if qty < 0 {
			qty = -qty
		}
		e.closeHedge(ctx, cell, res, root, market)
		if err := e.placeOrder(ctx, res, root, market, entry.Symbol, exitSide, qty, journal.KindExit); err != nil {
			return fmt.Errorf("exit %s: %w", entry.Symbol, err)
		}
	}

	entrySide := broker.SideBuy
	optType := broker.OptionCall
	if want == DirectionShort {
		entrySide = broker.SideSell
		optType = broker.OptionPut
	}
	lot := entry.LotSize
	if lot <= 0 {
		lot = e.catalog.LotSize(ctx, market, entry.Symbol)
	}
	if err := e.placeOrder(ctx, res, root, market, entry.Symbol, entrySide, lot, journal.KindEntry); err != nil {
		return fmt.Errorf("entry %s: %w", entry.Symbol, err)
	}

	cell.Memo.LastAction = Action(want)
	e.openHedge(ctx, cell, res, root, market, entry.Symbol, optType)
	return nil
}

// placeOrder fires a MARKET order, journals it, and records it on the
// result. Futures orders are fire-and-forget; the next cycle's position
// read is the confirmation.
func (e *Engine) placeOrder(ctx context.Context, res *Result, root string,
	market broker.Market, symbol string, side broker.OrderSide, quantity int, kind journal.Kind) error {
	orderID, err := e.broker.PlaceOrder(ctx, broker.OrderParams{
		Market:   market,
		Symbol:   symbol,
		Side:     side,
		Type:     broker.OrderMarket,
		Quantity: quantity,
		Tag:      string(kind),
	})
	if err != nil {
		return err
	}

	e.logger.Printf("%s: placed %s %s %d x %s (order %s)", root, kind, side, quantity, symbol, orderID)
	res.Orders = append(res.Orders, PlacedOrder{
		Kind: kind, Symbol: symbol, Side: side, Quantity: quantity, OrderID: orderID,
	})
	e.record(journal.TradeRecord{
		Root: root, Market: market, Symbol: symbol,
		Side: side, Quantity: quantity, Kind: kind, OrderID: orderID,
	})
	return nil
}

// openHedge sells an option leg against a freshly entered futures
// position. Hedge failures are logged, never fatal: the futures entry
// stands either way.
func (e *Engine) openHedge(ctx context.Context, cell *Cell, res *Result, root string,
	market broker.Market, futSymbol string, optType broker.OptionType) {
	if e.hedger == nil {
		return
	}

	price, err := e.broker.LastTradedPrice(ctx, market, futSymbol)
	if err != nil {
		e.logger.Printf("%s: hedge skipped, LTP for %s failed: %v", root, futSymbol, err)
		return
	}

	ref, err := e.hedger.Open(ctx, market, root, optType, price)
	if err != nil {
		e.logger.Printf("%s: hedge open failed, position runs unhedged: %v", root, err)
		return
	}
	if ref == nil {
		return
	}

	cell.Memo.Hedge = ref
	res.Orders = append(res.Orders, PlacedOrder{
		Kind: journal.KindHedgeOpen, Symbol: ref.Symbol,
		Side: broker.SideSell, Quantity: ref.Quantity, OrderID: ref.OrderID,
	})
	e.record(journal.TradeRecord{
		Root: root, Market: market, Symbol: ref.Symbol,
		Side: broker.SideSell, Quantity: ref.Quantity,
		Kind: journal.KindHedgeOpen, OrderID: ref.OrderID,
	})
}

// closeHedge buys back the remembered hedge leg, if any. The stored
// reference is cleared regardless of the outcome so a failed buy-back
// cannot wedge future cycles.
func (e *Engine) closeHedge(ctx context.Context, cell *Cell, res *Result, root string, market broker.Market) {
	ref := cell.Memo.Hedge
	if ref == nil || e.hedger == nil {
		cell.Memo.Hedge = nil
		return
	}
	cell.Memo.Hedge = nil

	if err := e.hedger.Close(ctx, ref); err != nil {
		e.logger.Printf("%s: hedge close failed: %v", root, err)
		return
	}
	res.Orders = append(res.Orders, PlacedOrder{
		Kind: journal.KindHedgeClose, Symbol: ref.Symbol,
		Side: broker.SideBuy, Quantity: ref.Quantity,
	})
	e.record(journal.TradeRecord{
		Root: root, Market: market, Symbol: ref.Symbol,
		Side: broker.SideBuy, Quantity: ref.Quantity, Kind: journal.KindHedgeClose,
	})
}

func (e *Engine) record(rec journal.TradeRecord) {
	if e.journal == nil {
		return
	}
	if err := e.journal.Record(rec); err != nil {
		e.logger.Printf("journal write failed: %v", err)
	}
}

// netQuantity sums the signed net quantity across position rows for a
// symbol on a market.
func netQuantity(positions []broker.PositionItem, market broker.Market, symbol string) int {
	total := 0
	for _, p := range positions {
		if p.Market == market && p.Symbol == symbol {
			total += p.Quantity
		}
	}
	return total
}

func directionOf(qty int) Direction {
	switch {
	case qty > 0:
		return DirectionLong
	case qty < 0:
		return DirectionShort
	default:
		return ""
	}
}
