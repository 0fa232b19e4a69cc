// Package evidence implements the append-only evidence ledger shared by the
// diagnosis roles. Items are recorded in discovery order; timestamps are
// carried separately and only matter for timeline rendering.
package evidence

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Kind categorizes where an evidence item came from.
type Kind string

const (
	KindLog       Kind = "log"
	KindTrace     Kind = "trace"
	KindCode      Kind = "code"
	KindKnowledge Kind = "knowledge"
)

// ErrTurnRegression is returned when an append carries a turn index lower
// than an already-recorded item. Append order must reflect discovery order.
var ErrTurnRegression = errors.New("evidence: turn index lower than last appended item")

// Item is a single piece of evidence gathered during a run.
type Item struct {
	// ID is assigned by the ledger on append ("E1", "E2", ...).
	ID string `json:"id"`

	// Kind is the evidence source kind.
	Kind Kind `json:"kind"`

	// Content is the raw evidence text (log lines, code excerpt, ...).
	Content string `json:"content"`

	// Source names the tool or role that produced this item.
	Source string `json:"source"`

	// Turn is the investigator/inspector turn that discovered the item.
	Turn int `json:"turn"`

	// Timestamp is the event time if one could be determined. It does not
	// influence ledger ordering.
	Timestamp *time.Time `json:"timestamp,omitempty"`

	// Locator optionally points at a file/line ("app/server.go:142").
	Locator string `json:"locator,omitempty"`
}

// Ledger is an append-only, run-scoped collection of evidence items.
// Reads are shared across roles; writes go through the tool gateway and
// the inspector only.
type Ledger struct {
	mu       sync.RWMutex
	items    []Item
	byID     map[string]int
	lastTurn int
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		byID: make(map[string]int),
	}
}

// Append records an item and assigns its ID. The item's turn index must be
// >= the turn of the previously appended item.
func (l *Ledger) Append(item Item) (Item, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if item.Turn < l.lastTurn {
		return Item{}, fmt.Errorf("%w: got %d, last %d", ErrTurnRegression, item.Turn, l.lastTurn)
	}
	l.lastTurn = item.Turn

	item.ID = fmt.Sprintf("E%d", len(l.items)+1)
	l.byID[item.ID] = len(l.items)
	l.items = append(l.items, item)
	return item, nil
}

// Resolve looks up an item by ID.
func (l *Ledger) Resolve(id string) (Item, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	idx, ok := l.byID[id]
	if !ok {
		return Item{}, false
	}
	return l.items[idx], true
}

// Snapshot returns a copy of all items in append order.
func (l *Ledger) Snapshot() []Item {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Item, len(l.items))
	copy(out, l.items)
	return out
}

// Len returns the number of recorded items.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.items)
}

// ByKind returns all items of the given kind, in append order.
func (l *Ledger) ByKind(kind Kind) []Item {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []Item
	for _, item := range l.items {
		if item.Kind == kind {
			out = append(out, item)
		}
	}
	return out
}
