package engine

import (
	"sync"

	"github.com/botelyes/futroll/internal/hedge"
)

// SignalMemo is the per-root in-memory record of observed signals and
// the last action taken. It lives for the process lifetime; the broker
// remains the source of truth for actual positions.
type SignalMemo struct {
	Timeframes map[string]Direction
	LastAction Action
	Hedge      *hedge.Ref
}

// Cell couples a root's memo with the mutex that serializes its decision
// cycles. Callers must hold the lock for the full reconcile-and-act
// sequence.
type Cell struct {
	mu   sync.Mutex
	Memo SignalMemo
}

// Lock acquires the cell for a decision cycle.
func (c *Cell) Lock() { c.mu.Lock() }

// Unlock releases the cell.
func (c *Cell) Unlock() { c.mu.Unlock() }

// Store owns all signal memos, keyed by canonical root. Cells are
// created on first use and never destroyed. Cross-root cycles proceed in
// parallel; only same-root cycles serialize on the cell lock.
type Store struct {
	mu    sync.Mutex
	cells map[string]*Cell
}

// NewStore creates an empty memo store.
func NewStore() *Store {
	return &Store{cells: make(map[string]*Cell)}
}

// Cell returns the cell for a root, creating it on first use.
func (s *Store) Cell(root string) *Cell {
	s.mu.Lock()
	defer s.mu.Unlock()

	cell, ok := s.cells[root]
	if !ok {
		cell = &Cell{Memo: SignalMemo{
			Timeframes: make(map[string]Direction),
			LastAction: ActionNone,
		}}
		s.cells[root] = cell
	}
	return cell
}

// Roots returns the roots that have received at least one signal.
func (s *Store) Roots() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	roots := make([]string, 0, len(s.cells))
	for root := range s.cells {
		roots = append(roots, root)
	}
	return roots
}
