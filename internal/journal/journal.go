// Package journal provides an append-oriented trade audit journal.
// Every order the engine places is recorded so a session can be audited
// after the fact; the journal is never consulted for trading decisions.
package journal

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/botelyes/futroll/internal/broker"
)

// Kind classifies a journal entry.
type Kind string

const (
	// KindEntry is a fresh directional entry.
	KindEntry Kind = "entry"
	// KindExit closes an existing position.
	KindExit Kind = "exit"
	// KindRollExit closes the expiring leg of a rollover.
	KindRollExit Kind = "roll_exit"
	// KindRollEntry reopens the rolled position in the next contract.
	KindRollEntry Kind = "roll_entry"
	// KindHedgeOpen records a sold hedge option leg.
	KindHedgeOpen Kind = "hedge_open"
	// KindHedgeClose records a bought-back hedge option leg.
	KindHedgeClose Kind = "hedge_close"
)

// TradeRecord is one journaled order.
type TradeRecord struct {
	ID       string           `json:"id"`
	Time     time.Time        `json:"time"`
	Root     string           `json:"root"`
	Market   broker.Market    `json:"market"`
	Symbol   string           `json:"symbol"`
	Side     broker.OrderSide `json:"side"`
	Quantity int              `json:"quantity"`
	Kind     Kind             `json:"kind"`
	OrderID  string           `json:"order_id,omitempty"`
}

// Stats summarizes journaled activity.
type Stats struct {
	TotalTrades  int            `json:"total_trades"`
	Entries      int            `json:"entries"`
	Exits        int            `json:"exits"`
	Rolls        int            `json:"rolls"`
	HedgeLegs    int            `json:"hedge_legs"`
	TradesByRoot map[string]int `json:"trades_by_root"`
}

// Recorder is the write surface the engine depends on.
type Recorder interface {
	Record(rec TradeRecord) error
}

// Journal persists trade records to a JSON file with atomic writes.
// Safe for concurrent use.
type Journal struct {
	mu   sync.RWMutex
	path string
	data *journalData
}

type journalData struct {
	Trades      []TradeRecord `json:"trades"`
	LastUpdated time.Time     `json:"last_updated"`
}

var _ Recorder = (*Journal)(nil)

// New opens (or creates) a journal at path.
func New(path string) (*Journal, error) {
	j := &Journal{
		path: path,
		data: &journalData{},
	}

	if _, err := os.Stat(path); err == nil {
		if err := j.load(); err != nil {
			return nil, fmt.Errorf("loading journal: %w", err)
		}
	}
	return j, nil
}

func (j *Journal) load() error {
	data, err := os.ReadFile(j.path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, j.data)
}

// Record appends a trade record and persists the journal. A missing ID
// or timestamp is filled in.
func (j *Journal) Record(rec TradeRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Time.IsZero() {
		rec.Time = time.Now().UTC()
	}
	j.data.Trades = append(j.data.Trades, rec)
	return j.save()
}

// save writes the journal via a temp file and atomic rename. Caller must
// hold the write lock.
func (j *Journal) save() error {
	j.data.LastUpdated = time.Now().UTC()

	data, err := json.MarshalIndent(j.data, "", "  ")
	if err != nil {
		return err
	}

	tmpFile := j.path + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpFile, j.path)
}

// History returns a copy of all journaled trades in record order.
func (j *Journal) History() []TradeRecord {
	j.mu.RLock()
	defer j.mu.RUnlock()

	out := make([]TradeRecord, len(j.data.Trades))
	copy(out, j.data.Trades)
	return out
}

// Stats computes summary statistics over the journal.
func (j *Journal) Stats() Stats {
	j.mu.RLock()
	defer j.mu.RUnlock()

	stats := Stats{TradesByRoot: make(map[string]int)}
	for _, rec := range j.data.Trades {
		stats.TotalTrades++
		stats.TradesByRoot[rec.Root]++
		switch rec.Kind {
		case KindEntry:
			stats.Entries++
		case KindExit:
			stats.Exits++
		case KindRollExit, KindRollEntry:
			stats.Rolls++
		case KindHedgeOpen, KindHedgeClose:
			stats.HedgeLegs++
		}
	}
	return stats
}
